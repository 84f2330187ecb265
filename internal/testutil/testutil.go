// Package testutil holds helpers shared by integration tests.
package testutil

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
)

// RequireEnv returns the named variable, skipping the test when it is unset.
func RequireEnv(t testing.TB, key string) string {
	t.Helper()
	value := os.Getenv(key)
	if value == "" {
		t.Skipf("%s not set", key)
	}
	return value
}

// usersLockKey serializes integration tests that recreate the users table.
const usersLockKey int64 = 0x637265647673

// LockDB holds a session advisory lock for the rest of the test. The lock
// is released and its connection returned to the pool on cleanup.
func LockDB(t testing.TB, ctx context.Context, pool *pgxpool.Pool) {
	t.Helper()

	conn, err := pool.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire connection for test lock: %v", err)
	}
	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", usersLockKey); err != nil {
		conn.Release()
		t.Fatalf("take test lock: %v", err)
	}

	t.Cleanup(func() {
		defer conn.Release()
		if _, err := conn.Exec(context.Background(), "SELECT pg_advisory_unlock($1)", usersLockKey); err != nil {
			t.Logf("release test lock: %v", err)
		}
	})
}

// DropUsersTable removes the users table so a test starts from nothing.
func DropUsersTable(t testing.TB, ctx context.Context, pool *pgxpool.Pool) {
	t.Helper()
	if _, err := pool.Exec(ctx, "DROP TABLE IF EXISTS users"); err != nil {
		t.Fatalf("drop users table: %v", err)
	}
}

// FlushRedis clears the selected Redis database.
func FlushRedis(t testing.TB, ctx context.Context, client *redis.Client) {
	t.Helper()
	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("flush redis: %v", err)
	}
}

// UniqueName returns prefix plus a lowercase ULID, safe across parallel tests.
func UniqueName(prefix string) string {
	return prefix + "-" + strings.ToLower(ulid.Make().String())
}

// UniqueEmail returns an address no other test run will produce.
func UniqueEmail(prefix string) string {
	return UniqueName(prefix) + "@example.test"
}
