// Package config loads pantry settings from config.yaml (viper) and PANTRY_*
// environment overrides (envconfig), and opens the configured store.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/mesh-intelligence/pantry/internal/logging"
	"github.com/mesh-intelligence/pantry/internal/memory"
	"github.com/mesh-intelligence/pantry/internal/paths"
	"github.com/mesh-intelligence/pantry/internal/rest"
	"github.com/mesh-intelligence/pantry/internal/sqlite"
	"github.com/mesh-intelligence/pantry/pkg/types"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "PANTRY"

// Config keys in config.yaml.
const (
	KeyBackend        = "backend"
	KeyDataDir        = "data_dir"
	KeySyncStrategy   = "sync_strategy"
	KeyOptimistic     = "optimistic"
	KeyRESTBaseURL    = "rest.base_url"
	KeyRESTTimeout    = "rest.timeout"
	KeyRESTRateLimit  = "rest.rate_limit"
	KeyLogLevel       = "log.level"
	KeyLogDevelopment = "log.development"
)

// Defaults for keys absent from config.yaml.
const (
	DefaultBackend  = types.BackendSQLite
	DefaultLogLevel = "warn"
)

// Settings is the resolved configuration of one CLI invocation.
type Settings struct {
	Store      types.Config
	Log        logging.Config
	ConfigDir  string
	ConfigFile string // empty when no config.yaml was read
}

// Env holds the PANTRY_* overrides. Secrets are only ever read from here.
type Env struct {
	Backend     string `envconfig:"BACKEND"`
	RESTBaseURL string `envconfig:"REST_BASE_URL"`
	RESTToken   string `envconfig:"REST_TOKEN"`
	LogLevel    string `envconfig:"LOG_LEVEL"`
}

// LoadEnv reads the PANTRY_* environment overrides.
func LoadEnv() (Env, error) {
	var env Env
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return Env{}, fmt.Errorf("failed to load environment: %w", err)
	}
	return env, nil
}

// fileConfig mirrors config.yaml.
type fileConfig struct {
	Backend      string      `mapstructure:"backend"`
	DataDir      string      `mapstructure:"data_dir"`
	SyncStrategy string      `mapstructure:"sync_strategy"`
	Optimistic   bool        `mapstructure:"optimistic"`
	REST         fileREST    `mapstructure:"rest"`
	Log          fileLogging `mapstructure:"log"`
}

type fileREST struct {
	BaseURL   string        `mapstructure:"base_url"`
	Timeout   time.Duration `mapstructure:"timeout"`
	RateLimit float64       `mapstructure:"rate_limit"`
}

type fileLogging struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// Load resolves settings for configDir. dataDirFlag is the --data-dir value.
// A missing config.yaml is not an error.
func Load(configDir, dataDirFlag string) (*Settings, error) {
	v := viper.New()
	v.SetDefault(KeyBackend, DefaultBackend)
	v.SetDefault(KeySyncStrategy, types.SyncImmediate)
	v.SetDefault(KeyRESTTimeout, rest.DefaultTimeout)
	v.SetDefault(KeyLogLevel, DefaultLogLevel)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)

	s := &Settings{ConfigDir: configDir}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		s.ConfigFile = v.ConfigFileUsed()
	}

	var fc fileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	env, err := LoadEnv()
	if err != nil {
		return nil, err
	}
	if env.Backend != "" {
		fc.Backend = env.Backend
	}
	if env.RESTBaseURL != "" {
		fc.REST.BaseURL = env.RESTBaseURL
	}
	if env.LogLevel != "" {
		fc.Log.Level = env.LogLevel
	}

	dataDir, err := paths.ResolveDataDir(dataDirFlag, fc.DataDir)
	if err != nil {
		return nil, fmt.Errorf("resolve data dir: %w", err)
	}

	s.Store = types.Config{
		Backend:      fc.Backend,
		DataDir:      dataDir,
		SyncStrategy: fc.SyncStrategy,
		Optimistic:   fc.Optimistic,
		REST: types.RESTConfig{
			BaseURL:   fc.REST.BaseURL,
			Token:     env.RESTToken,
			Timeout:   fc.REST.Timeout,
			RateLimit: fc.REST.RateLimit,
		},
	}
	s.Log = logging.Config{
		Level:       fc.Log.Level,
		Development: fc.Log.Development,
		OutputPaths: []string{"stderr"},
	}
	if err := s.Store.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return s, nil
}

// defaultFile is written by WriteDefault.
type defaultFile struct {
	Backend      string          `yaml:"backend"`
	DataDir      string          `yaml:"data_dir,omitempty"`
	SyncStrategy string          `yaml:"sync_strategy"`
	Optimistic   bool            `yaml:"optimistic"`
	REST         defaultFileREST `yaml:"rest"`
	Log          defaultFileLog  `yaml:"log"`
}

type defaultFileREST struct {
	BaseURL   string  `yaml:"base_url"`
	Timeout   string  `yaml:"timeout"`
	RateLimit float64 `yaml:"rate_limit"`
}

type defaultFileLog struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// WriteDefault creates configDir and a default config.yaml in it. An existing
// file is left alone; created reports whether one was written.
func WriteDefault(configDir, dataDir string) (path string, created bool, err error) {
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return "", false, fmt.Errorf("create config directory: %w", err)
	}
	path = paths.ConfigFile(configDir)
	if _, err := os.Stat(path); err == nil {
		return path, false, nil
	} else if !os.IsNotExist(err) {
		return "", false, fmt.Errorf("stat config file: %w", err)
	}

	data, err := yaml.Marshal(&defaultFile{
		Backend:      DefaultBackend,
		DataDir:      dataDir,
		SyncStrategy: types.SyncImmediate,
		REST:         defaultFileREST{Timeout: rest.DefaultTimeout.String()},
		Log:          defaultFileLog{Level: DefaultLogLevel},
	})
	if err != nil {
		return "", false, fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", false, fmt.Errorf("write config: %w", err)
	}
	return path, true, nil
}

// OpenStore opens the backend named by cfg. The caller must Close it.
func OpenStore(cfg types.Config, logger *zap.Logger) (types.Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Backend {
	case types.BackendSQLite:
		b := sqlite.NewBackend(sqlite.WithLogger(logger))
		if err := b.Attach(cfg); err != nil {
			return nil, err
		}
		return b, nil
	case types.BackendMemory:
		return memory.New()
	case types.BackendREST:
		return rest.New(rest.ConfigFrom(cfg.REST))
	default:
		return nil, types.ErrBackendUnknown
	}
}
