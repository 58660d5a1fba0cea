// Package config loads the service configuration from MD_* environment
// variables. Any invalid or missing required value makes Load fail; the
// caller treats that as fatal.
package config

import (
	"time"

	"modeldrop/internal/storage"
)

// Key strategies for naming uploaded objects.
const (
	KeyStrategyOriginal  = "original"
	KeyStrategyTimestamp = "timestamp"
)

// Defaults.
const (
	DefaultAddr            = ":8080"
	DefaultMaxUploadBytes  = 200 << 20
	DefaultSignedURLExpiry = time.Hour
	DefaultStorageTimeout  = 5 * time.Minute
	DefaultRedisChannel    = "modeldrop:events"
	DefaultBreakerFailures = 5
	DefaultBreakerCooldown = 30 * time.Second
)

// DefaultAllowedOrigins matches the development frontend.
var DefaultAllowedOrigins = []string{"http://localhost:5173"}

// BuildInfo identifies the running binary.
type BuildInfo struct {
	Version string
	Commit  string
}

// LogConfig is passed to logging.Setup.
type LogConfig struct {
	Level  string
	Format string
	File   string
}

// Config is the complete service configuration.
type Config struct {
	Addr  string
	Build BuildInfo
	Log   LogConfig

	Storage   storage.Options
	KeyPrefix string

	PublicBaseURL   string
	SignURLs        bool
	SignedURLExpiry time.Duration
	StorageTimeout  time.Duration

	// BreakerFailures consecutive storage failures open the circuit for
	// BreakerCooldown. 0 disables the breaker.
	BreakerFailures int
	BreakerCooldown time.Duration

	MaxUploadBytes int64
	KeyStrategy    string
	AllowedOrigins []string
	RateLimit      int // mutating requests per minute per client IP, 0 disables

	RedisURL     string
	RedisChannel string
}

// Load reads and validates the environment.
func Load() (Config, error) {
	v := &validator{}

	cfg := Config{
		Addr: v.addr("MD_ADDR", DefaultAddr),
		Build: BuildInfo{
			Version: v.string("MD_VERSION", "dev"),
			Commit:  v.string("MD_COMMIT", "unknown"),
		},
		Log: LogConfig{
			Level:  v.enum("MD_LOG_LEVEL", "info", "trace", "debug", "info", "warn", "error"),
			Format: v.enum("MD_LOG_FORMAT", "console", "console", "json"),
			File:   v.string("MD_LOG_FILE", ""),
		},
		KeyPrefix:       v.string("MD_KEY_PREFIX", ""),
		PublicBaseURL:   v.url("MD_PUBLIC_BASE_URL", "http", "https"),
		SignURLs:        v.bool("MD_SIGN_URLS", false),
		SignedURLExpiry: v.duration("MD_SIGNED_URL_EXPIRY", DefaultSignedURLExpiry),
		StorageTimeout:  v.duration("MD_STORAGE_TIMEOUT", DefaultStorageTimeout),
		BreakerFailures: v.nonNegativeInt("MD_STORAGE_BREAKER_FAILURES", DefaultBreakerFailures),
		BreakerCooldown: v.duration("MD_STORAGE_BREAKER_COOLDOWN", DefaultBreakerCooldown),
		MaxUploadBytes:  v.positiveInt64("MD_MAX_UPLOAD_BYTES", DefaultMaxUploadBytes),
		KeyStrategy:     v.enum("MD_KEY_STRATEGY", KeyStrategyOriginal, KeyStrategyOriginal, KeyStrategyTimestamp),
		AllowedOrigins:  v.list("MD_ALLOWED_ORIGINS", DefaultAllowedOrigins),
		RateLimit:       v.nonNegativeInt("MD_RATE_LIMIT", 0),
		RedisURL:        v.url("MD_REDIS_URL", "redis", "rediss"),
		RedisChannel:    v.string("MD_REDIS_CHANNEL", DefaultRedisChannel),
	}

	cfg.Storage = loadStorage(v)

	// Signed URLs are capped at 7 days by S3 and MinIO.
	if cfg.SignedURLExpiry > 7*24*time.Hour {
		v.addError("MD_SIGNED_URL_EXPIRY", "must not exceed 168h")
	}

	return cfg, v.err()
}

func loadStorage(v *validator) storage.Options {
	opts := storage.Options{
		Provider: v.enum("MD_STORAGE_PROVIDER", storage.ProviderMinio,
			storage.ProviderMinio, storage.ProviderS3, storage.ProviderMemory),
		Region:    v.string("MD_S3_REGION", "us-east-1"),
		PathStyle: v.bool("MD_S3_PATH_STYLE", false),
	}

	switch opts.Provider {
	case storage.ProviderMinio:
		opts.Endpoint = v.required("MD_S3_ENDPOINT")
		opts.AccessKey = v.required("MD_S3_ACCESS_KEY")
		opts.SecretKey = v.required("MD_S3_SECRET_KEY")
		opts.Bucket = v.required("MD_BUCKET")
	case storage.ProviderS3:
		opts.Endpoint = v.string("MD_S3_ENDPOINT", "")
		opts.AccessKey = v.required("MD_S3_ACCESS_KEY")
		opts.SecretKey = v.required("MD_S3_SECRET_KEY")
		opts.Bucket = v.required("MD_BUCKET")
	case storage.ProviderMemory:
		opts.Bucket = v.string("MD_BUCKET", "models")
	}
	return opts
}
