package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// schemaLockID serializes schema initialization across processes.
const schemaLockID int64 = 7301946

// SchemaOptions controls optional parts of the users schema.
type SchemaOptions struct {
	// UniqueUsernames adds a unique index on username; when false the
	// index is dropped if present.
	UniqueUsernames bool
}

// The password column holds the encoded hash. Its name matches tables
// created by the earlier Node.js deployment, which this schema adopts as is.
const createUsersTable = `
	CREATE TABLE IF NOT EXISTS users (
		id            SERIAL PRIMARY KEY,
		username      VARCHAR(50)  NOT NULL,
		email         VARCHAR(100) NOT NULL,
		password      TEXT         NOT NULL,
		profile_image TEXT,
		created_at    TIMESTAMPTZ  NOT NULL DEFAULT NOW(),
		CONSTRAINT users_email_key UNIQUE (email)
	)
`

const createEmailIndex = `CREATE INDEX IF NOT EXISTS idx_users_email ON users (email)`

const createUsernameIndex = `CREATE UNIQUE INDEX IF NOT EXISTS users_username_key ON users (username)`

// Tables created by the Node.js deployment carry the username rule as a
// constraint rather than a bare index.
const dropUsernameConstraint = `ALTER TABLE users DROP CONSTRAINT IF EXISTS users_username_key`

const dropUsernameIndex = `DROP INDEX IF EXISTS users_username_key`

// EnsureSchema creates the users table and its indexes if they are absent.
// It is idempotent and safe to run from several processes at once.
func (r *Repository) EnsureSchema(ctx context.Context, opts SchemaOptions) error {
	err := r.ensureSchemaOnce(ctx, opts)
	if isConcurrentDDLError(err) {
		// Lost a creation race to an initializer that does not take the
		// lock; everything exists now.
		err = r.ensureSchemaOnce(ctx, opts)
	}
	if err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (r *Repository) ensureSchemaOnce(ctx context.Context, opts SchemaOptions) error {
	return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", schemaLockID); err != nil {
			return fmt.Errorf("acquire schema lock: %w", err)
		}

		if _, err := tx.Exec(ctx, createUsersTable); err != nil {
			return fmt.Errorf("create users table: %w", err)
		}
		if _, err := tx.Exec(ctx, createEmailIndex); err != nil {
			return fmt.Errorf("create email index: %w", err)
		}

		if opts.UniqueUsernames {
			if _, err := tx.Exec(ctx, createUsernameIndex); err != nil {
				if isUniqueViolation(err) && !isConcurrentDDLError(err) {
					return fmt.Errorf("cannot enforce unique usernames, existing rows share a username: %w", err)
				}
				return fmt.Errorf("create username index: %w", err)
			}
			return nil
		}

		if _, err := tx.Exec(ctx, dropUsernameConstraint); err != nil {
			return fmt.Errorf("drop username constraint: %w", err)
		}
		if _, err := tx.Exec(ctx, dropUsernameIndex); err != nil {
			return fmt.Errorf("drop username index: %w", err)
		}
		return nil
	})
}

// isConcurrentDDLError reports "already exists" failures raised when two
// sessions create the same object simultaneously. A unique violation only
// counts when it is on a system catalog, not on user data.
func isConcurrentDDLError(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}

	switch pgErr.Code {
	case pgDuplicateTable, pgDuplicateObject:
		return true
	case pgUniqueViolation:
		return strings.HasPrefix(pgErr.ConstraintName, "pg_")
	}
	return false
}
