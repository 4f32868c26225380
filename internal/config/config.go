// Package config loads application configuration from config.yaml and
// AUDIENCE_* environment variables.
package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store   StoreConfig   `yaml:"store" mapstructure:"store"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
	Server  ServerConfig  `yaml:"server" mapstructure:"server"`
	Engine  EngineConfig  `yaml:"engine" mapstructure:"engine"`
	Scoring ScoringConfig `yaml:"scoring" mapstructure:"scoring"`
	Retry   RetryConfig   `yaml:"retry" mapstructure:"retry"`
	Circuit CircuitConfig `yaml:"circuit" mapstructure:"circuit"`
	Events  EventsConfig  `yaml:"events" mapstructure:"events"`
	Metrics MetricsConfig `yaml:"metrics" mapstructure:"metrics"`
	Ingest  IngestConfig  `yaml:"ingest" mapstructure:"ingest"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	// SignalsURL is the Postgres database holding provider signals and
	// reference geography. Empty means DatabaseURL when Driver is postgres.
	SignalsURL string `yaml:"signals_url" mapstructure:"signals_url"`
	MaxConns   int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns   int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// SignalsDatabaseURL resolves the Postgres URL for the signal repository.
func (s StoreConfig) SignalsDatabaseURL() string {
	if s.SignalsURL != "" {
		return s.SignalsURL
	}
	if s.Driver == "postgres" {
		return s.DatabaseURL
	}
	return ""
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// EngineConfig configures builds and reference lookups.
type EngineConfig struct {
	AnchorProvider      string  `yaml:"anchor_provider" mapstructure:"anchor_provider"`
	AnchorSegment       string  `yaml:"anchor_segment" mapstructure:"anchor_segment"`
	HouseholdFallback   int64   `yaml:"household_fallback" mapstructure:"household_fallback"`
	PageSize            int     `yaml:"page_size" mapstructure:"page_size"`
	LookupBatchSize     int     `yaml:"lookup_batch_size" mapstructure:"lookup_batch_size"`
	LookupConcurrency   int     `yaml:"lookup_concurrency" mapstructure:"lookup_concurrency"`
	LookupRatePerSec    float64 `yaml:"lookup_rate_per_sec" mapstructure:"lookup_rate_per_sec"`
	ConfidenceThreshold float64 `yaml:"confidence_threshold" mapstructure:"confidence_threshold"`
}

// ScoringConfig configures geo unit generation and scoring.
type ScoringConfig struct {
	GridSize             int     `yaml:"grid_size" mapstructure:"grid_size"`
	DefaultScaleAccuracy float64 `yaml:"default_scale_accuracy" mapstructure:"default_scale_accuracy"`
	RescoreConcurrency   int     `yaml:"rescore_concurrency" mapstructure:"rescore_concurrency"`
}

// RetryConfig configures retries for batched lookups.
type RetryConfig struct {
	MaxAttempts      int `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
}

// CircuitConfig configures breakers around provider metadata lookups.
type CircuitConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// EventsConfig configures NATS notifications. An empty URL disables them.
type EventsConfig struct {
	NATSURL       string `yaml:"nats_url" mapstructure:"nats_url"`
	SubjectPrefix string `yaml:"subject_prefix" mapstructure:"subject_prefix"`
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Namespace string `yaml:"namespace" mapstructure:"namespace"`
}

// IngestConfig configures signal and geography imports.
type IngestConfig struct {
	FTPTimeoutSecs int    `yaml:"ftp_timeout_secs" mapstructure:"ftp_timeout_secs"`
	TempDir        string `yaml:"temp_dir" mapstructure:"temp_dir"`
	BatchSize      int    `yaml:"batch_size" mapstructure:"batch_size"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("AUDIENCE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.signals_url", "")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 1)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("engine.anchor_provider", "CCS")
	v.SetDefault("engine.anchor_segment", "")
	v.SetDefault("engine.household_fallback", 2500)
	v.SetDefault("engine.page_size", 1000)
	v.SetDefault("engine.lookup_batch_size", 500)
	v.SetDefault("engine.lookup_concurrency", 4)
	v.SetDefault("engine.lookup_rate_per_sec", 20)
	v.SetDefault("engine.confidence_threshold", 0.5)
	v.SetDefault("scoring.grid_size", 200)
	v.SetDefault("scoring.default_scale_accuracy", 100)
	v.SetDefault("scoring.rescore_concurrency", 4)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff_ms", 200)
	v.SetDefault("retry.max_backoff_ms", 5000)
	v.SetDefault("circuit.failure_threshold", 5)
	v.SetDefault("circuit.reset_timeout_secs", 30)
	v.SetDefault("events.nats_url", "")
	v.SetDefault("events.subject_prefix", "audience")
	v.SetDefault("metrics.namespace", "audience")
	v.SetDefault("ingest.ftp_timeout_secs", 30)
	v.SetDefault("ingest.temp_dir", "")
	v.SetDefault("ingest.batch_size", 5000)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command needs. mode is "serve", "build",
// or "" for the common checks only.
func (c *Config) Validate(mode string) error {
	switch c.Store.Driver {
	case "postgres":
		if c.Store.DatabaseURL == "" {
			return eris.New("config: store.database_url is required for postgres (AUDIENCE_STORE_DATABASE_URL)")
		}
	case "sqlite":
	default:
		return eris.Errorf("config: unknown store.driver %q", c.Store.Driver)
	}

	if c.Engine.ConfidenceThreshold <= 0 || c.Engine.ConfidenceThreshold > 1 {
		return eris.Errorf("config: engine.confidence_threshold %.3f outside (0,1]", c.Engine.ConfidenceThreshold)
	}
	if c.Engine.HouseholdFallback < 0 {
		return eris.New("config: engine.household_fallback must not be negative")
	}
	if c.Engine.LookupConcurrency < 1 || c.Engine.LookupConcurrency > 64 {
		return eris.Errorf("config: engine.lookup_concurrency %d outside [1,64]", c.Engine.LookupConcurrency)
	}
	if c.Scoring.DefaultScaleAccuracy < 0 || c.Scoring.DefaultScaleAccuracy > 100 {
		return eris.Errorf("config: scoring.default_scale_accuracy %.1f outside [0,100]", c.Scoring.DefaultScaleAccuracy)
	}

	switch mode {
	case "", "build":
	case "serve":
		if c.Server.Port < 1 || c.Server.Port > 65535 {
			return eris.Errorf("config: server.port %d is invalid", c.Server.Port)
		}
	default:
		return eris.Errorf("config: unknown validation mode %q", mode)
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
