package repository

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// fakeRow scans fixed values into destinations of matching type.
type fakeRow struct {
	values []any
	err    error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) != len(r.values) {
		return fmt.Errorf("scan: got %d destinations, have %d values", len(dest), len(r.values))
	}
	for i, d := range dest {
		reflect.ValueOf(d).Elem().Set(reflect.ValueOf(r.values[i]))
	}
	return nil
}

// fakeDB records statements and answers them from canned results.
type fakeDB struct {
	mu sync.Mutex

	row     fakeRow
	tag     pgconn.CommandTag
	execErr error
	pingErr error

	// execErrs is consumed in order by transactional Exec calls.
	execErrs []error

	queries []string
	args    [][]any
	begins  int
	commits int
}

func (f *fakeDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, sql)
	f.args = append(f.args, args)
	return f.tag, f.execErr
}

func (f *fakeDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, sql)
	f.args = append(f.args, args)
	return f.row
}

func (f *fakeDB) Begin(ctx context.Context) (pgx.Tx, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.begins++
	return &fakeTx{db: f}, nil
}

func (f *fakeDB) Ping(ctx context.Context) error {
	return f.pingErr
}

func (f *fakeDB) statements() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.queries...)
}

// fakeTx implements the parts of pgx.Tx that pgx.BeginFunc touches.
type fakeTx struct {
	pgx.Tx
	db     *fakeDB
	failed bool
}

func (t *fakeTx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	if t.failed {
		return pgconn.CommandTag{}, errors.New("current transaction is aborted")
	}
	t.db.queries = append(t.db.queries, sql)
	t.db.args = append(t.db.args, args)

	if len(t.db.execErrs) > 0 {
		err := t.db.execErrs[0]
		t.db.execErrs = t.db.execErrs[1:]
		if err != nil {
			t.failed = true
			return pgconn.CommandTag{}, err
		}
	}
	return pgconn.NewCommandTag("OK"), nil
}

func (t *fakeTx) Commit(ctx context.Context) error {
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	t.db.commits++
	return nil
}

func (t *fakeTx) Rollback(ctx context.Context) error {
	return nil
}
