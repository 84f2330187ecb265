package main

import (
	"context"
	"io"
	"log/slog"

	"github.com/credvault/credvault/internal/auth"
	"github.com/credvault/credvault/internal/cache"
	"github.com/credvault/credvault/internal/config"
	"github.com/credvault/credvault/internal/handler"
	"github.com/credvault/credvault/internal/metrics"
	"github.com/credvault/credvault/internal/middleware"
	"github.com/credvault/credvault/internal/server"
	"github.com/credvault/credvault/internal/service"
	"github.com/credvault/credvault/internal/storage"
)

func runServe(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := initLogger(cfg)

	// Database
	repo, err := connectDatabase(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if err := ensureSchema(ctx, repo, cfg, logger); err != nil {
		repo.Close()
		return err
	}

	// Email cache (optional)
	var (
		emailCache  service.EmailCache
		cacheCheck  handler.HealthChecker
		cacheClient *cache.Cache
	)
	if cfg.RedisURL != "" {
		cacheClient, err = cache.New(ctx, cfg.RedisURL, cfg.EmailCacheTTL)
		if err != nil {
			logger.Warn(
				"redis unavailable, continuing without email cache",
				slog.String("error", sanitizeError(err, cfg.RedisURL)),
				slog.String("redis_url", redactURL(cfg.RedisURL)),
			)
		} else {
			emailCache = cacheClient
			cacheCheck = cacheClient
			logger.Info("connected to Redis")
		}
	}

	// Profile image storage
	backend, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		logger.Error("failed to initialize storage", slog.String("backend", cfg.Storage.Backend), slog.String("error", err.Error()))
		repo.Close()
		return errLogged
	}
	images := storage.NewImageStore(backend, cfg.Storage.UploadURLPrefix)

	hasher, err := auth.NewHasher(cfg.PasswordHashAlgorithm, cfg.BcryptCost)
	if err != nil {
		repo.Close()
		return err
	}

	var (
		recorder    metrics.Recorder = metrics.NewNoop()
		snapshotter metrics.Snapshotter
	)
	if cfg.MetricsEnabled {
		inMemory := metrics.NewInMemory()
		recorder = inMemory
		snapshotter = inMemory
	}

	credentialService := service.NewCredentialService(repo, service.Options{
		Hasher:              hasher,
		Cache:               emailCache,
		Images:              images,
		Metrics:             recorder,
		Logger:              logger,
		RequireConfirmation: cfg.RequireConfirmation,
		StoreTimeout:        cfg.DB.AcquireTimeout,
	})

	corsCfg := middleware.DefaultCORSConfig()
	corsCfg.AllowedOrigins = cfg.GetCORSAllowedOrigins()

	router := handler.NewRouter(handler.RouterConfig{
		Logger:             logger,
		Health:             handler.NewHealthHandler(repo, cacheCheck, logger),
		Credentials:        handler.NewCredentialHandler(credentialService, logger, cfg.MaxImageSize),
		Metrics:            handler.NewMetricsHandler(snapshotter),
		Assets:             handler.NewAssetHandler(images, cfg.StaticDir, logger),
		Security:           middleware.SecurityConfig{IsDevelopment: cfg.IsDevelopment()},
		CORS:               corsCfg,
		MaxRequestBodySize: cfg.MaxRequestBodySize,
		MaxImageSize:       cfg.MaxImageSize,
		LogPanicStacks:     cfg.IsDevelopment(),
	})

	srv := server.New(router, server.Options{
		Port:            cfg.AppPort,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}, logger)

	// Closed in reverse order: storage, cache, then the database.
	srv.OnShutdown("postgres", func(context.Context) error {
		repo.Close()
		return nil
	})
	if emailCache != nil {
		srv.OnShutdown("redis", func(context.Context) error {
			return cacheClient.Close()
		})
	}
	if closer, ok := backend.(io.Closer); ok {
		srv.OnShutdown("storage", func(context.Context) error {
			return closer.Close()
		})
	}

	logger.Info("starting server",
		"port", cfg.AppPort,
		"env", cfg.AppEnv,
		"storage_backend", cfg.Storage.Backend,
		"hash_algorithm", cfg.PasswordHashAlgorithm,
		"email_cache", emailCache != nil,
	)

	if err := srv.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
		return errLogged
	}
	return nil
}
