// Package config loads the service's environment configuration using
// internal/env's reflection-based loader, and validates it at startup.
package config

import (
	"fmt"

	"github.com/mediaqueue/jobqueue/internal/env"
	"github.com/mediaqueue/jobqueue/internal/observability"
)

// Config is the full set of environment-supplied configuration. Every field
// is optional with a documented default per spec §6; Validate enforces the
// few cross-field rules (production requires a shared secret, object-store
// mode requires its matching credentials).
type Config struct {
	Environment string `env:"ENVIRONMENT" default:"development"`

	Server Server

	// RedisURL selects the distributed backend. Empty activates fallback
	// mode for the queue, rate limiter, and admission path (spec §4.2, §6).
	RedisURL string `env:"REDIS_URL"`

	SharedSecret string `env:"WORKER_SHARED_SECRET"`

	Postgres Postgres

	ObjectStore ObjectStore

	Autoscale Autoscale

	RateLimit RateLimit

	Queue Queue

	Gateway Gateway

	Observability observability.Config
}

type Server struct {
	Host string `env:"SERVER_HOST" default:""`
	Port string `env:"SERVER_PORT" default:"8081"`
}

type Postgres struct {
	URL string `env:"POSTGRES_URL"`
}

// ObjectStore selects between the GCS-backed and filesystem-backed adapters.
// Out of scope per spec §1 ("the underlying object-storage... services"),
// but a Config home is still needed for the orchestrator's archive of each
// completed job's artifact manifest.
type ObjectStore struct {
	Type   string `env:"OBJECT_STORE_TYPE" default:"fs"` // "gcs" or "fs"
	Bucket string `env:"OBJECT_STORE_GCS_BUCKET"`
	FSDir  string `env:"OBJECT_STORE_FS_DIR" default:"./data/objects"`
}

type Autoscale struct {
	Min              int `env:"AUTOSCALE_MIN" default:"1"`
	Max              int `env:"AUTOSCALE_MAX" default:"8"`
	TargetPerReplica int `env:"AUTOSCALE_TARGET_PER_REPLICA" default:"5"`
}

type RateLimit struct {
	DistributedMax    int `env:"RATE_LIMIT_DISTRIBUTED_MAX" default:"5"`
	FallbackMax       int `env:"RATE_LIMIT_FALLBACK_MAX" default:"3"`
	WindowSeconds     int `env:"RATE_LIMIT_WINDOW_SECONDS" default:"3600"`
	ConcurrencyLimit  int `env:"CONCURRENCY_GUARD_LIMIT" default:"3"`
}

type Queue struct {
	StaleTimeoutSeconds int `env:"QUEUE_STALE_TIMEOUT_SECONDS" default:"600"`
	MaxRetries          int `env:"QUEUE_MAX_RETRIES" default:"3"`
	MetadataTTLSeconds  int `env:"QUEUE_METADATA_TTL_SECONDS" default:"7200"`
	DequeueTimeoutSeconds int `env:"QUEUE_DEQUEUE_TIMEOUT_SECONDS" default:"5"`
}

type Gateway struct {
	MaxRetries   int     `env:"GATEWAY_MAX_RETRIES" default:"5"`
	BackoffBaseSeconds float64 `env:"GATEWAY_BACKOFF_BASE_SECONDS" default:"2"`
	JitterSeconds      float64 `env:"GATEWAY_JITTER_SECONDS" default:"1"`

	// Per-provider endpoints and keys. A minimal set covering the shapes
	// named in spec.md §4.7/§4.8; additional providers can be wired the
	// same way without changing the gateway's generic shape.
	TryOnAPIKey      string `env:"PROVIDER_TRYON_API_KEY"`
	TryOnBaseURL     string `env:"PROVIDER_TRYON_BASE_URL"`
	CompositionAPIKey    string `env:"PROVIDER_COMPOSITION_API_KEY"`
	CompositionBaseURL   string `env:"PROVIDER_COMPOSITION_BASE_URL"`
	CompositionFallbackAPIKey  string `env:"PROVIDER_COMPOSITION_FALLBACK_API_KEY"`
	CompositionFallbackBaseURL string `env:"PROVIDER_COMPOSITION_FALLBACK_BASE_URL"`
	VideoAPIKey      string `env:"PROVIDER_VIDEO_API_KEY"`
	VideoBaseURL     string `env:"PROVIDER_VIDEO_BASE_URL"`
	GenerateAPIKey   string `env:"PROVIDER_GENERATE_API_KEY"`
	GenerateBaseURL  string `env:"PROVIDER_GENERATE_BASE_URL"`

	// Validation backs /webhook/validate-identity and /webhook/validate-garment,
	// both synchronous passes to a validation provider (spec §6) rather than
	// an enqueued pipeline stage.
	ValidationAPIKey  string `env:"PROVIDER_VALIDATION_API_KEY"`
	ValidationBaseURL string `env:"PROVIDER_VALIDATION_BASE_URL"`
}

// Load reads Config from the process environment and validates it.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Load(&cfg); err != nil {
		return nil, fmt.Errorf("config: load: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: invalid: %w", err)
	}
	return &cfg, nil
}

// Validate enforces the cross-field rules spec §6 calls out: production
// mode requires a shared secret, and the selected object-store mode
// requires its matching target.
func (c *Config) Validate() error {
	if c.Environment == "production" && c.SharedSecret == "" {
		return fmt.Errorf("WORKER_SHARED_SECRET is required when ENVIRONMENT=production")
	}
	switch c.ObjectStore.Type {
	case "gcs":
		if c.ObjectStore.Bucket == "" {
			return fmt.Errorf("OBJECT_STORE_GCS_BUCKET is required when OBJECT_STORE_TYPE=gcs")
		}
	case "fs":
		if c.ObjectStore.FSDir == "" {
			return fmt.Errorf("OBJECT_STORE_FS_DIR is required when OBJECT_STORE_TYPE=fs")
		}
	default:
		return fmt.Errorf("OBJECT_STORE_TYPE must be \"gcs\" or \"fs\", got %q", c.ObjectStore.Type)
	}
	if c.Autoscale.Min < 1 || c.Autoscale.Max < c.Autoscale.Min {
		return fmt.Errorf("invalid autoscale bounds: min=%d max=%d", c.Autoscale.Min, c.Autoscale.Max)
	}
	return nil
}

// DistributedMode reports whether the distributed backend (Redis) is
// configured. Its absence activates fallback mode for the queue, rate
// limiter, and admission path.
func (c *Config) DistributedMode() bool {
	return c.RedisURL != ""
}

// AuthRequired reports whether the shared-secret check is enforced.
// Outside production, an unset secret bypasses auth (spec §6).
func (c *Config) AuthRequired() bool {
	return c.SharedSecret != "" || c.Environment == "production"
}
