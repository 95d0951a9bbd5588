package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Env is the host process configuration read from OFFLINE_PROXY_* variables.
type Env struct {
	Port          string        `env:"OFFLINE_PROXY_PORT" envDefault:"8080"`
	Upstream      string        `env:"OFFLINE_PROXY_UPSTREAM" envDefault:"http://localhost:3000"`
	Origin        string        `env:"OFFLINE_PROXY_ORIGIN" envDefault:"http://localhost:8080"`
	Version       string        `env:"OFFLINE_PROXY_VERSION" envDefault:"v1"`
	APIPrefix     string        `env:"OFFLINE_PROXY_API_PREFIX" envDefault:"/api/"`
	Manifest      []string      `env:"OFFLINE_PROXY_MANIFEST" envSeparator:","`
	SyncEndpoints []string      `env:"OFFLINE_PROXY_SYNC_ENDPOINTS" envSeparator:","`
	DynamicMax    int           `env:"OFFLINE_PROXY_DYNAMIC_MAX_ENTRIES" envDefault:"100"`
	Timeout       time.Duration `env:"OFFLINE_PROXY_REQUEST_TIMEOUT" envDefault:"15s"`
	UserAgent     string        `env:"OFFLINE_PROXY_USER_AGENT" envDefault:"lms-offline-proxy/0.1.0"`

	// Store selects the cache backend: memory, redis or sqlite.
	Store      string `env:"OFFLINE_PROXY_STORE" envDefault:"redis"`
	RedisAddr  string `env:"REDIS_URL" envDefault:"localhost:6379"`
	RedisDB    int    `env:"REDIS_DB" envDefault:"0"`
	SQLitePath string `env:"OFFLINE_PROXY_SQLITE_PATH" envDefault:"offline-proxy.db"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogPretty bool   `env:"LOG_PRETTY" envDefault:"false"`

	SyncInterval    time.Duration `env:"OFFLINE_PROXY_SYNC_INTERVAL" envDefault:"5s"`
	SyncMaxAttempts int           `env:"OFFLINE_PROXY_SYNC_MAX_ATTEMPTS" envDefault:"10"`
}

// FromEnv loads the host configuration from environment variables.
func FromEnv() (Env, error) {
	var e Env
	if err := env.Parse(&e); err != nil {
		return Env{}, fmt.Errorf("parse env: %w", err)
	}
	return e, nil
}

// Proxy derives the proxy Config from the host configuration, starting from
// Default and overriding what the environment sets.
func (e Env) Proxy() Config {
	cfg := Default()
	cfg.Origin = e.Origin
	cfg.Version = e.Version
	cfg.APIPrefix = e.APIPrefix
	cfg.DynamicMaxEntries = e.DynamicMax
	cfg.RequestTimeout = e.Timeout
	if len(e.Manifest) > 0 {
		cfg.Manifest = e.Manifest
	}
	if len(e.SyncEndpoints) > 0 {
		cfg.SyncEndpoints = e.SyncEndpoints
	}
	return cfg
}

// Validate checks the host-only fields and the derived proxy Config.
func (e Env) Validate() error {
	switch e.Store {
	case "memory", "redis", "sqlite":
	default:
		return fmt.Errorf("%w: unknown store %q", ErrInvalid, e.Store)
	}
	if e.Upstream == "" {
		return fmt.Errorf("%w: upstream is required", ErrInvalid)
	}
	if e.SyncMaxAttempts < 1 {
		return fmt.Errorf("%w: sync max attempts must be >= 1 (got %d)", ErrInvalid, e.SyncMaxAttempts)
	}
	return e.Proxy().Validate()
}
