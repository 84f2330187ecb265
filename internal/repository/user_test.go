package repository

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/credvault/credvault/internal/model"
)

func TestRepository_InsertUser(t *testing.T) {
	t.Parallel()

	db := &fakeDB{row: fakeRow{values: []any{int64(42)}}}
	repo := NewWithDB(db)

	img := "/uploads/a.png"
	id, err := repo.InsertUser(context.Background(), model.NewUser{
		Username:     "alice",
		Email:        "a@x.io",
		PasswordHash: "$2a$10$hash",
		ProfileImage: &img,
	})
	if err != nil {
		t.Fatalf("InsertUser failed: %v", err)
	}
	if id != 42 {
		t.Errorf("id = %d, want 42", id)
	}

	args := db.args[0]
	if len(args) != 4 || args[0] != "alice" || args[1] != "a@x.io" || args[2] != "$2a$10$hash" {
		t.Errorf("unexpected args: %v", args)
	}
	if !strings.Contains(db.queries[0], "$4") {
		t.Errorf("expected parameterized insert, got %s", db.queries[0])
	}
}

func TestRepository_InsertUser_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		err     error
		wantErr error
	}{
		{"duplicate", &pgconn.PgError{Code: "23505", ConstraintName: "users_email_key"}, ErrDuplicateUser},
		{"missing table", &pgconn.PgError{Code: "42P01"}, ErrSchemaMissing},
		{"connection lost", &pgconn.PgError{Code: "57P01"}, ErrUnavailable},
		{"other", &pgconn.PgError{Code: "22001", Message: "value too long"}, ErrDatabase},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			repo := NewWithDB(&fakeDB{row: fakeRow{err: tt.err}})
			_, err := repo.InsertUser(context.Background(), model.NewUser{Username: "u", Email: "e", PasswordHash: "h"})
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestRepository_FindByEmail(t *testing.T) {
	t.Parallel()

	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	db := &fakeDB{row: fakeRow{values: []any{
		int64(7), "alice", "a@x.io", "$2a$10$hash", (*string)(nil), created,
	}}}
	repo := NewWithDB(db)

	user, err := repo.FindByEmail(context.Background(), "a@x.io")
	if err != nil {
		t.Fatalf("FindByEmail failed: %v", err)
	}
	if user.ID != 7 || user.Username != "alice" || user.PasswordHash != "$2a$10$hash" {
		t.Errorf("unexpected user: %+v", user)
	}
	if user.ProfileImage != nil {
		t.Errorf("expected nil profile image, got %v", *user.ProfileImage)
	}
	if !user.CreatedAt.Equal(created) {
		t.Errorf("CreatedAt = %v, want %v", user.CreatedAt, created)
	}
	if db.args[0][0] != "a@x.io" {
		t.Errorf("expected email as query argument, got %v", db.args[0])
	}
}

func TestRepository_FindByEmail_NotFound(t *testing.T) {
	t.Parallel()

	repo := NewWithDB(&fakeDB{row: fakeRow{err: pgx.ErrNoRows}})

	_, err := repo.FindByEmail(context.Background(), "nobody@x.io")
	if !errors.Is(err, ErrUserNotFound) {
		t.Errorf("err = %v, want ErrUserNotFound", err)
	}
}

func TestRepository_ExistsByEmail(t *testing.T) {
	t.Parallel()

	for _, want := range []bool{true, false} {
		repo := NewWithDB(&fakeDB{row: fakeRow{values: []any{want}}})

		got, err := repo.ExistsByEmail(context.Background(), "a@x.io")
		if err != nil {
			t.Fatalf("ExistsByEmail failed: %v", err)
		}
		if got != want {
			t.Errorf("ExistsByEmail = %v, want %v", got, want)
		}
	}
}

func TestRepository_UpdatePassword(t *testing.T) {
	t.Parallel()

	tests := []struct {
		tag  string
		want int64
	}{
		{"UPDATE 1", 1},
		{"UPDATE 0", 0},
	}

	for _, tt := range tests {
		db := &fakeDB{tag: pgconn.NewCommandTag(tt.tag)}
		repo := NewWithDB(db)

		n, err := repo.UpdatePassword(context.Background(), "a@x.io", "$2a$10$new")
		if err != nil {
			t.Fatalf("UpdatePassword failed: %v", err)
		}
		if n != tt.want {
			t.Errorf("rows = %d, want %d", n, tt.want)
		}
		if db.args[0][0] != "$2a$10$new" || db.args[0][1] != "a@x.io" {
			t.Errorf("unexpected args: %v", db.args[0])
		}
	}
}

func TestRepository_UpdatePassword_MissingTable(t *testing.T) {
	t.Parallel()

	repo := NewWithDB(&fakeDB{execErr: &pgconn.PgError{Code: "42P01"}})

	_, err := repo.UpdatePassword(context.Background(), "a@x.io", "h")
	if !errors.Is(err, ErrSchemaMissing) {
		t.Errorf("err = %v, want ErrSchemaMissing", err)
	}
}

func TestTranslate_HidesDriverError(t *testing.T) {
	t.Parallel()

	pgErr := &pgconn.PgError{Code: "22001", Message: "value too long for type character varying(50)"}
	err := translate("insert user", pgErr)

	var got *pgconn.PgError
	if errors.As(err, &got) {
		t.Error("driver error must not be unwrappable from store errors")
	}
	if !errors.Is(err, ErrDatabase) {
		t.Errorf("err = %v, want ErrDatabase", err)
	}
}

func TestTranslate_ContextCanceled(t *testing.T) {
	t.Parallel()

	err := translate("find user by email", context.Canceled)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if errors.Is(err, ErrDatabase) || errors.Is(err, ErrUnavailable) {
		t.Errorf("cancellation should not be reported as a database fault: %v", err)
	}
}

// Tables created by the Node.js deployment keep the hash in "password";
// every statement must use that column.
func TestRepository_UsesLegacyPasswordColumn(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	insertDB := &fakeDB{row: fakeRow{values: []any{int64(1)}}}
	if _, err := NewWithDB(insertDB).InsertUser(ctx, model.NewUser{Username: "u", Email: "e", PasswordHash: "h"}); err != nil {
		t.Fatalf("InsertUser failed: %v", err)
	}
	findDB := &fakeDB{row: fakeRow{values: []any{int64(1), "u", "e", "h", (*string)(nil), created}}}
	if _, err := NewWithDB(findDB).FindByEmail(ctx, "e"); err != nil {
		t.Fatalf("FindByEmail failed: %v", err)
	}
	updateDB := &fakeDB{tag: pgconn.NewCommandTag("UPDATE 1")}
	if _, err := NewWithDB(updateDB).UpdatePassword(ctx, "e", "h2"); err != nil {
		t.Fatalf("UpdatePassword failed: %v", err)
	}
	schemaDB := &fakeDB{}
	if err := NewWithDB(schemaDB).EnsureSchema(ctx, SchemaOptions{UniqueUsernames: true}); err != nil {
		t.Fatalf("EnsureSchema failed: %v", err)
	}

	for name, stmts := range map[string][]string{
		"insert": insertDB.statements(),
		"find":   findDB.statements(),
		"update": updateDB.statements(),
		"schema": schemaDB.statements(),
	} {
		joined := strings.Join(stmts, "\n")
		if strings.Contains(joined, "password_hash") {
			t.Errorf("%s uses password_hash column: %s", name, joined)
		}
		if !strings.Contains(joined, "password") && name != "schema" {
			t.Errorf("%s does not reference the password column: %s", name, joined)
		}
	}
	if !containsStatement(schemaDB.statements(), "password      TEXT") {
		t.Error("users table must declare a password column")
	}
}
