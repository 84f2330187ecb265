package main

import (
	"context"
	"errors"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/credvault/credvault/internal/config"
	"github.com/credvault/credvault/internal/repository"
)

// errLogged is returned once a failure has been written to the structured
// log, so main does not print it a second time.
var errLogged = errors.New("failure already logged")

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "credvault",
		Short: "Credential management service",
		Long: `credvault stores user accounts in PostgreSQL and serves signup, login,
email lookup and password reset over HTTP.

Running credvault without a subcommand is the same as "credvault serve".`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}

	root.AddCommand(newServeCmd(), newSchemaCmd())
	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func newSchemaCmd() *cobra.Command {
	schema := &cobra.Command{
		Use:   "schema",
		Short: "Manage the users table",
	}

	schema.AddCommand(&cobra.Command{
		Use:   "ensure",
		Short: "Create the users table and indexes if they are missing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSchemaEnsure(cmd.Context())
		},
	})
	return schema
}

func runSchemaEnsure(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := initLogger(cfg)

	repo, err := connectDatabase(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer repo.Close()

	if err := ensureSchema(ctx, repo, cfg, logger); err != nil {
		return err
	}
	logger.Info("schema ready", slog.Bool("unique_usernames", cfg.UniqueUsernames))
	return nil
}

// connectDatabase opens the pool with startup retries. Failures are logged
// with credentials redacted.
func connectDatabase(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*repository.Repository, error) {
	dbURL := cfg.PostgresURL()

	repo, err := repository.Connect(ctx, dbURL, repository.ConnectOptions{
		Pool: repository.PoolOptions{
			MaxConns:        cfg.DB.MaxConns,
			MinConns:        cfg.DB.MinConns,
			ConnectTimeout:  cfg.DB.ConnectTimeout,
			MaxConnIdleTime: cfg.DB.MaxConnIdleTime,
			MaxConnLifetime: cfg.DB.MaxConnLifetime,
		},
		Retry:  retryPolicy(cfg),
		Logger: logger,
	})
	if err != nil {
		logger.Error(
			"failed to connect to database",
			slog.String("error", sanitizeError(err, dbURL)),
			slog.String("database_url", redactURL(dbURL)),
		)
		return nil, errLogged
	}

	logger.Info("connected to database", slog.String("database_url", redactURL(dbURL)))
	return repo, nil
}

// ensureSchema creates the users table, retrying while the database is
// still coming up.
func ensureSchema(ctx context.Context, repo *repository.Repository, cfg *config.Config, logger *slog.Logger) error {
	opts := repository.SchemaOptions{UniqueUsernames: cfg.UniqueUsernames}
	err := repository.WithRetry(ctx, retryPolicy(cfg), logger, "ensure schema", func(ctx context.Context) error {
		return repo.EnsureSchema(ctx, opts)
	})
	if err != nil {
		logger.Error("failed to ensure schema", slog.String("error", sanitizeError(err, cfg.PostgresURL())))
		return errLogged
	}
	return nil
}

func retryPolicy(cfg *config.Config) repository.RetryPolicy {
	return repository.RetryPolicy{
		BaseDelay:  cfg.DB.RetryBaseDelay,
		MaxDelay:   cfg.DB.RetryMaxDelay,
		MaxRetries: cfg.DB.RetryMaxRetries,
	}
}
