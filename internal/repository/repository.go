// Package repository provides the PostgreSQL credential store.
package repository

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DBTX is the subset of *pgxpool.Pool the store needs.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
}

// Repository provides database access methods.
type Repository struct {
	db   DBTX
	pool *pgxpool.Pool
}

// PoolOptions tunes the connection pool.
type PoolOptions struct {
	MaxConns        int32
	MinConns        int32
	ConnectTimeout  time.Duration
	MaxConnIdleTime time.Duration
	MaxConnLifetime time.Duration
}

// ConnectOptions configures Connect.
type ConnectOptions struct {
	Pool   PoolOptions
	Retry  RetryPolicy
	Logger *slog.Logger
}

// NewWithDB wraps an existing connection or pool.
func NewWithDB(db DBTX) *Repository {
	r := &Repository{db: db}
	if pool, ok := db.(*pgxpool.Pool); ok {
		r.pool = pool
	}
	return r
}

// Connect opens a pool against databaseURL and verifies it with a ping,
// retrying transient failures according to opts.Retry. Malformed URLs,
// rejected credentials and unknown databases fail immediately.
func Connect(ctx context.Context, databaseURL string, opts ConnectOptions) (*Repository, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}
	applyPoolOptions(config, opts.Pool)

	var pool *pgxpool.Pool
	err = WithRetry(ctx, opts.Retry, opts.Logger, "connect", func(ctx context.Context) error {
		p, err := pgxpool.NewWithConfig(ctx, config)
		if err != nil {
			return fmt.Errorf("failed to create connection pool: %w", err)
		}

		pingCtx, cancel := context.WithTimeout(ctx, pingTimeout(opts.Pool))
		defer cancel()
		if err := p.Ping(pingCtx); err != nil {
			p.Close()
			return fmt.Errorf("failed to ping database: %w", err)
		}

		pool = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &Repository{db: pool, pool: pool}, nil
}

func applyPoolOptions(config *pgxpool.Config, opts PoolOptions) {
	if opts.MaxConns > 0 {
		config.MaxConns = opts.MaxConns
	}
	if opts.MinConns >= 0 && opts.MinConns <= config.MaxConns {
		config.MinConns = opts.MinConns
	}
	if opts.ConnectTimeout > 0 {
		config.ConnConfig.ConnectTimeout = opts.ConnectTimeout
	}
	if opts.MaxConnIdleTime > 0 {
		config.MaxConnIdleTime = opts.MaxConnIdleTime
	}
	if opts.MaxConnLifetime > 0 {
		config.MaxConnLifetime = opts.MaxConnLifetime
	}
}

func pingTimeout(opts PoolOptions) time.Duration {
	if opts.ConnectTimeout > 0 {
		return opts.ConnectTimeout
	}
	return 5 * time.Second
}

// Ping checks database connectivity.
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}

// Close closes the database connection pool.
func (r *Repository) Close() {
	if r.pool != nil {
		r.pool.Close()
	}
}

// Pool returns the underlying connection pool, or nil when the repository
// was built from a plain DBTX.
func (r *Repository) Pool() *pgxpool.Pool {
	return r.pool
}
