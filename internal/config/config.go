// Package config provides application configuration management.
// Configuration is loaded from environment variables following 12-factor principles.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Supported password hashing algorithms.
const (
	HashBcrypt   = "bcrypt"
	HashArgon2id = "argon2id"
)

// Supported profile image storage backends.
const (
	StorageLocal = "local"
	StorageMinio = "minio"
	StorageGCS   = "gcs"
)

// Config holds all application configuration.
// All fields are populated from environment variables.
type Config struct {
	// Application settings
	AppEnv  string `env:"APP_ENV" envDefault:"development"`
	AppPort int    `env:"APP_PORT" envDefault:"3000"`
	// LegacyPort is the Node.js deployment's PORT, used when APP_PORT is unset.
	LegacyPort int `env:"PORT"`

	// Database (PostgreSQL). DatabaseURL wins over the individual parts.
	DatabaseURL string `env:"DATABASE_URL"`
	DB          DatabaseConfig

	// Cache (Redis). Empty disables the email existence cache.
	RedisURL      string        `env:"REDIS_URL"`
	EmailCacheTTL time.Duration `env:"EMAIL_CACHE_TTL" envDefault:"24h"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Server timeouts
	ReadTimeout     time.Duration `env:"READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"10s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`

	// Comma-separated list of allowed origins
	CORSAllowedOrigins string `env:"CORS_ALLOWED_ORIGINS" envDefault:"http://localhost:3000,http://localhost:5500,http://127.0.0.1:5500"`

	// Request body size limit for JSON endpoints in bytes (default 1MB)
	MaxRequestBodySize int64 `env:"MAX_REQUEST_BODY_SIZE" envDefault:"1048576"`
	// Profile image upload limit in bytes (default 5MB)
	MaxImageSize int64 `env:"MAX_IMAGE_SIZE" envDefault:"5242880"`

	// Credentials
	PasswordHashAlgorithm string `env:"PASSWORD_HASH_ALGORITHM" envDefault:"bcrypt"`
	BcryptCost            int    `env:"BCRYPT_COST" envDefault:"10"`
	RequireConfirmation   bool   `env:"REQUIRE_PASSWORD_CONFIRMATION" envDefault:"true"`
	UniqueUsernames       bool   `env:"UNIQUE_USERNAMES" envDefault:"true"`

	// Profile image storage
	Storage StorageConfig

	// Directory holding the HTML pages. Empty disables page serving.
	StaticDir string `env:"STATIC_DIR"`

	MetricsEnabled bool `env:"METRICS_ENABLED" envDefault:"true"`
}

// DatabaseConfig holds connection parts and pool tuning for PostgreSQL.
type DatabaseConfig struct {
	Host     string `env:"DB_HOST" envDefault:"localhost"`
	Port     int    `env:"DB_PORT" envDefault:"5432"`
	User     string `env:"DB_USER" envDefault:"postgres"`
	Password string `env:"DB_PASSWORD"`
	Name     string `env:"DB_NAME" envDefault:"auth_db"`
	SSLMode  string `env:"DB_SSLMODE" envDefault:"disable"`

	MaxConns        int32         `env:"DB_MAX_CONNS" envDefault:"10"`
	MinConns        int32         `env:"DB_MIN_CONNS" envDefault:"0"`
	ConnectTimeout  time.Duration `env:"DB_CONNECT_TIMEOUT" envDefault:"5s"`
	MaxConnIdleTime time.Duration `env:"DB_IDLE_TIMEOUT" envDefault:"30s"`
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" envDefault:"30m"`
	// AcquireTimeout bounds every request-time store call, including the
	// wait for a free pooled connection.
	AcquireTimeout time.Duration `env:"DB_ACQUIRE_TIMEOUT" envDefault:"5s"`

	RetryBaseDelay  time.Duration `env:"DB_RETRY_BASE_DELAY" envDefault:"1s"`
	RetryMaxDelay   time.Duration `env:"DB_RETRY_MAX_DELAY" envDefault:"15s"`
	RetryMaxRetries uint64        `env:"DB_RETRY_MAX_RETRIES" envDefault:"5"`
}

// StorageConfig selects and configures the profile image backend.
type StorageConfig struct {
	Backend         string `env:"STORAGE_BACKEND" envDefault:"local"`
	UploadDir       string `env:"UPLOAD_DIR" envDefault:"uploads"`
	UploadURLPrefix string `env:"UPLOAD_URL_PREFIX" envDefault:"/uploads"`
	Minio           MinioConfig
	GCS             GCSConfig
}

// MinioConfig holds settings for an S3-compatible MinIO backend.
type MinioConfig struct {
	Endpoint  string `env:"MINIO_ENDPOINT"`
	AccessKey string `env:"MINIO_ACCESS_KEY"`
	SecretKey string `env:"MINIO_SECRET_KEY"`
	Bucket    string `env:"MINIO_BUCKET" envDefault:"profile-images"`
	UseSSL    bool   `env:"MINIO_USE_SSL" envDefault:"false"`
}

// GCSConfig holds settings for a Google Cloud Storage backend.
type GCSConfig struct {
	Bucket          string `env:"GCS_BUCKET"`
	ProjectID       string `env:"GCS_PROJECT_ID"`
	CredentialsFile string `env:"GCS_CREDENTIALS_FILE"`
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// GetCORSAllowedOrigins parses the comma-separated origins string into a slice.
func (c *Config) GetCORSAllowedOrigins() []string {
	if c.CORSAllowedOrigins == "" {
		return nil
	}

	origins := strings.Split(c.CORSAllowedOrigins, ",")
	result := make([]string, 0, len(origins))

	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}

// PostgresURL returns DATABASE_URL when set, otherwise a URL assembled
// from the DB_* parts.
func (c *Config) PostgresURL() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}

	u := &url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", c.DB.Host, c.DB.Port),
		Path:   c.DB.Name,
	}
	if c.DB.Password != "" {
		u.User = url.UserPassword(c.DB.User, c.DB.Password)
	} else {
		u.User = url.User(c.DB.User)
	}
	q := u.Query()
	q.Set("sslmode", c.DB.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	var errs []error

	if c.AppPort <= 0 || c.AppPort > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT out of range: %d", c.AppPort))
	}

	switch c.PasswordHashAlgorithm {
	case HashBcrypt, HashArgon2id:
	default:
		errs = append(errs, fmt.Errorf("unsupported PASSWORD_HASH_ALGORITHM %q", c.PasswordHashAlgorithm))
	}

	// bcrypt.MinCost and bcrypt.MaxCost
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		errs = append(errs, fmt.Errorf("BCRYPT_COST must be between 4 and 31, got %d", c.BcryptCost))
	}
	if c.IsProduction() && c.PasswordHashAlgorithm == HashBcrypt && c.BcryptCost < 10 {
		errs = append(errs, fmt.Errorf("BCRYPT_COST below 10 is not allowed in production, got %d", c.BcryptCost))
	}

	switch c.Storage.Backend {
	case StorageLocal:
	case StorageMinio:
		if c.Storage.Minio.Endpoint == "" {
			errs = append(errs, errors.New("MINIO_ENDPOINT is required for the minio storage backend"))
		}
	case StorageGCS:
		if c.Storage.GCS.Bucket == "" {
			errs = append(errs, errors.New("GCS_BUCKET is required for the gcs storage backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported STORAGE_BACKEND %q", c.Storage.Backend))
	}

	if c.DB.MaxConns <= 0 {
		errs = append(errs, errors.New("DB_MAX_CONNS must be positive"))
	}
	if c.DB.MinConns < 0 || c.DB.MinConns > c.DB.MaxConns {
		errs = append(errs, errors.New("DB_MIN_CONNS must be between 0 and DB_MAX_CONNS"))
	}
	if c.DB.AcquireTimeout <= 0 {
		errs = append(errs, errors.New("DB_ACQUIRE_TIMEOUT must be positive"))
	}
	if c.DB.RetryBaseDelay <= 0 {
		errs = append(errs, errors.New("DB_RETRY_BASE_DELAY must be positive"))
	}
	if c.DB.RetryMaxDelay < c.DB.RetryBaseDelay {
		errs = append(errs, errors.New("DB_RETRY_MAX_DELAY must not be below DB_RETRY_BASE_DELAY"))
	}

	if c.MaxRequestBodySize <= 0 || c.MaxImageSize <= 0 {
		errs = append(errs, errors.New("body and image size limits must be positive"))
	}

	return errors.Join(errs...)
}

// Load parses environment variables and returns a Config.
// A .env file in the working directory is applied first when present;
// variables already set in the environment take precedence.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env file: %w", err)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if _, set := os.LookupEnv("APP_PORT"); !set && cfg.LegacyPort != 0 {
		cfg.AppPort = cfg.LegacyPort
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
