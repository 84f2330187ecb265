package handler

import (
	"log/slog"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/credvault/credvault/internal/middleware"
)

// RouterConfig bundles the handlers and limits the router is built from.
type RouterConfig struct {
	Logger      *slog.Logger
	Health      *HealthHandler
	Credentials *CredentialHandler
	Metrics     *MetricsHandler
	Assets      *AssetHandler

	Security middleware.SecurityConfig
	CORS     middleware.CORSConfig

	// MaxRequestBodySize bounds JSON and form bodies; signup additionally
	// allows MaxImageSize for the profile image.
	MaxRequestBodySize int64
	MaxImageSize       int64
	// LogPanicStacks adds stack traces to recovered panic logs.
	LogPanicStacks bool
}

// NewRouter configures the chi router with all routes and middleware.
func NewRouter(cfg RouterConfig) *chi.Mux {
	h := New()
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(cfg.Logger))
	r.Use(middleware.Recoverer(cfg.Logger, cfg.LogPanicStacks))
	r.Use(middleware.Security(cfg.Security))
	r.Use(middleware.CORS(cfg.CORS))

	r.Get("/healthz", cfg.Health.Healthz)
	r.Get("/readyz", cfg.Health.Readyz)
	r.Get("/metrics", cfg.Metrics.Metrics)

	signupLimit := middleware.MaxBodySize(cfg.MaxRequestBodySize + cfg.MaxImageSize)
	bodyLimit := middleware.MaxBodySize(cfg.MaxRequestBodySize)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", cfg.Health.Health)
		r.With(signupLimit).Post("/signup", cfg.Credentials.Signup)
		r.With(bodyLimit).Post("/login", cfg.Credentials.Login)
		r.With(bodyLimit).Post("/check-email", cfg.Credentials.CheckEmail)
		r.With(bodyLimit).Post("/reset-password", cfg.Credentials.ResetPassword)
	})

	// Form endpoints used by the bundled HTML pages.
	r.With(signupLimit).Post("/signup-data", cfg.Credentials.Signup)
	r.With(bodyLimit).Post("/login-data", cfg.Credentials.Login)
	r.With(bodyLimit).Post("/check-email-data", cfg.Credentials.CheckEmail)
	r.With(bodyLimit).Post("/reset-password-data", cfg.Credentials.ResetPassword)

	if cfg.Assets != nil {
		r.Get("/uploads/{key}", cfg.Assets.Upload)

		if cfg.Assets.HasPages() {
			r.Get("/login", cfg.Assets.Page("login"))
			r.Get("/signup", cfg.Assets.Page("signup"))
			r.Get("/forgot-password", cfg.Assets.Page("forgot-password"))
			r.Get("/*", cfg.Assets.Static().ServeHTTP)
		}
	}

	r.NotFound(h.NotFound)
	r.MethodNotAllowed(h.MethodNotAllowed)

	return r
}
