package types

import (
	"errors"
	"time"
)

// Config holds backend selection and parameters for opening a Store.
type Config struct {
	Backend      string     `json:"backend" yaml:"backend" mapstructure:"backend"`
	DataDir      string     `json:"data_dir" yaml:"data_dir" mapstructure:"data_dir"`
	SyncStrategy string     `json:"sync_strategy" yaml:"sync_strategy" mapstructure:"sync_strategy"`
	Optimistic   bool       `json:"optimistic" yaml:"optimistic" mapstructure:"optimistic"`
	REST         RESTConfig `json:"rest" yaml:"rest" mapstructure:"rest"`
}

// RESTConfig configures the HTTP backend. Token is supplied per session and
// is never written back to disk.
type RESTConfig struct {
	BaseURL   string        `json:"base_url" yaml:"base_url" mapstructure:"base_url"`
	Token     string        `json:"-" yaml:"-" mapstructure:"-"`
	Timeout   time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`
	RateLimit float64       `json:"rate_limit" yaml:"rate_limit" mapstructure:"rate_limit"`
}

// Supported backend names.
const (
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
	BackendREST   = "rest"
)

// Sync strategies for the sqlite backend's JSONL files.
const (
	SyncImmediate = "immediate"
	SyncOnClose   = "on_close"
)

// Config validation errors.
var (
	ErrBackendEmpty        = errors.New("backend must not be empty")
	ErrBackendUnknown      = errors.New("unknown backend")
	ErrSyncStrategyUnknown = errors.New("unknown sync strategy")
	ErrBaseURLEmpty        = errors.New("rest backend requires a base URL")
)

var knownBackends = map[string]bool{
	BackendSQLite: true,
	BackendMemory: true,
	BackendREST:   true,
}

var knownSyncStrategies = map[string]bool{
	"":            true,
	SyncImmediate: true,
	SyncOnClose:   true,
}

// Validate checks that the Config is well-formed. It returns a sentinel error
// from this package on failure.
func (c Config) Validate() error {
	if c.Backend == "" {
		return ErrBackendEmpty
	}
	if !knownBackends[c.Backend] {
		return ErrBackendUnknown
	}
	if !knownSyncStrategies[c.SyncStrategy] {
		return ErrSyncStrategyUnknown
	}
	if c.Backend == BackendREST && c.REST.BaseURL == "" {
		return ErrBaseURLEmpty
	}
	return nil
}

// EffectiveSyncStrategy returns the configured strategy, defaulting to
// SyncImmediate.
func (c Config) EffectiveSyncStrategy() string {
	if c.SyncStrategy == "" {
		return SyncImmediate
	}
	return c.SyncStrategy
}
