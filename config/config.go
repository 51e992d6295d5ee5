// Package config loads the tracker configuration through viper.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/smkim0508/Portable-Brain/judge"
	"github.com/smkim0508/Portable-Brain/memory/embedder/genai"
	"github.com/smkim0508/Portable-Brain/monitor"
)

// EnvPrefix prefixes every environment override, e.g. PBRAIN_TRACKER_POLL_INTERVAL.
const EnvPrefix = "PBRAIN"

// Embedder providers.
const (
	EmbedderMock  = "mock"
	EmbedderGenAI = "genai"
)

// Snapshot source kinds.
const (
	SourceReplay    = "replay"
	SourceWebSocket = "websocket"
)

// Config holds the entire application configuration.
type Config struct {
	Logger    LoggerConfig    `mapstructure:"logger" yaml:"logger"`
	Tracker   TrackerConfig   `mapstructure:"tracker" yaml:"tracker"`
	Window    WindowConfig    `mapstructure:"window" yaml:"window"`
	Judge     judge.Config    `mapstructure:"judge" yaml:"judge"`
	Anthropic AnthropicConfig `mapstructure:"anthropic" yaml:"anthropic"`
	Embedder  EmbedderConfig  `mapstructure:"embedder" yaml:"embedder"`
	Store     StoreConfig     `mapstructure:"store" yaml:"store"`
	Source    SourceConfig    `mapstructure:"source" yaml:"source"`
}

// LoggerConfig configures zap and the optional rotating log file.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// TrackerConfig configures the tracking loop.
type TrackerConfig struct {
	PollInterval   time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	FlushInterval  time.Duration `mapstructure:"flush_interval" yaml:"flush_interval"`
	ChangeCooldown time.Duration `mapstructure:"change_cooldown" yaml:"change_cooldown"`
	ErrorBackoff   time.Duration `mapstructure:"error_backoff" yaml:"error_backoff"`
	StopTimeout    time.Duration `mapstructure:"stop_timeout" yaml:"stop_timeout"`

	// Timezone is an IANA name used for time-of-day buckets. Empty keeps each
	// snapshot's own zone.
	Timezone string `mapstructure:"timezone" yaml:"timezone"`
}

// Location resolves Timezone. It returns nil for an empty name.
func (t TrackerConfig) Location() (*time.Location, error) {
	if t.Timezone == "" {
		return nil, nil
	}
	return time.LoadLocation(t.Timezone)
}

// WindowConfig bounds the observation window. Negative values disable a bound.
type WindowConfig struct {
	MaxActions int           `mapstructure:"max_actions" yaml:"max_actions"`
	MaxAge     time.Duration `mapstructure:"max_age" yaml:"max_age"`
}

// Monitor converts the section to monitor.WindowConfig.
func (w WindowConfig) Monitor() monitor.WindowConfig {
	return monitor.WindowConfig{MaxActions: w.MaxActions, MaxAge: w.MaxAge}
}

// AnthropicConfig enables the Claude narrative renderer.
type AnthropicConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	APIKey  string `mapstructure:"api_key" yaml:"-"`

	judge.ClaudeConfig `mapstructure:",squash" yaml:",inline"`
}

// EmbedderConfig selects the text embedder.
type EmbedderConfig struct {
	Provider       string       `mapstructure:"provider" yaml:"provider"`
	MockDimensions int          `mapstructure:"mock_dimensions" yaml:"mock_dimensions"`
	CacheBytes     int64        `mapstructure:"cache_bytes" yaml:"cache_bytes"`
	GenAI          genai.Config `mapstructure:"genai" yaml:"genai"`
}

// StoreConfig selects the memory stores. Every enabled store receives each observation.
type StoreConfig struct {
	Chromem  ChromemConfig  `mapstructure:"chromem" yaml:"chromem"`
	Postgres PostgresConfig `mapstructure:"postgres" yaml:"postgres"`
}

// ChromemConfig configures the embedded vector store.
type ChromemConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Path persists collections on disk; empty keeps them in memory.
	Path string `mapstructure:"path" yaml:"path"`
}

// PostgresConfig configures the structured store. An empty URL disables it.
type PostgresConfig struct {
	URL          string `mapstructure:"url" yaml:"-"`
	EnsureSchema bool   `mapstructure:"ensure_schema" yaml:"ensure_schema"`
}

// SourceConfig selects where snapshots come from.
type SourceConfig struct {
	Kind string `mapstructure:"kind" yaml:"kind"`
	URL  string `mapstructure:"url" yaml:"url"`

	// ScenarioFile replays a YAML file; empty uses Scenario from the built-in set.
	ScenarioFile string `mapstructure:"scenario_file" yaml:"scenario_file"`
	Scenario     string `mapstructure:"scenario" yaml:"scenario"`
}

// SetDefaults registers every default value with v.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "portablebrain")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Tracker --
	v.SetDefault("tracker.poll_interval", "1s")
	v.SetDefault("tracker.flush_interval", "10m")
	v.SetDefault("tracker.change_cooldown", "200ms")
	v.SetDefault("tracker.error_backoff", "5s")
	v.SetDefault("tracker.stop_timeout", "5s")
	v.SetDefault("tracker.timezone", "")

	// -- Window --
	v.SetDefault("window.max_actions", monitor.DefaultMaxActions)
	v.SetDefault("window.max_age", monitor.DefaultMaxAge.String())

	// -- Judge --
	def := judge.DefaultConfig()
	v.SetDefault("judge.min_members", def.MinMembers)
	v.SetDefault("judge.min_span", def.MinSpan.String())
	v.SetDefault("judge.cluster_window", def.ClusterWindow.String())
	v.SetDefault("judge.chain_gap", def.ChainGap.String())
	v.SetDefault("judge.min_chain_occurrences", def.MinChainOccurrences)

	// -- Anthropic --
	v.SetDefault("anthropic.enabled", false)
	v.SetDefault("anthropic.api_key", "")
	v.SetDefault("anthropic.model", "claude-sonnet-4-20250514")
	v.SetDefault("anthropic.max_tokens", 1024)
	v.SetDefault("anthropic.max_retries", 2)
	v.SetDefault("anthropic.retry_wait", "100ms")
	v.SetDefault("anthropic.requests_per_second", 1.0)

	// -- Embedder --
	v.SetDefault("embedder.provider", EmbedderMock)
	v.SetDefault("embedder.mock_dimensions", 384)
	v.SetDefault("embedder.cache_bytes", 64<<20)
	v.SetDefault("embedder.genai.api_key", "")
	v.SetDefault("embedder.genai.model", genai.DefaultModel)
	v.SetDefault("embedder.genai.task_type", "SEMANTIC_SIMILARITY")
	v.SetDefault("embedder.genai.dimensions", 768)

	// -- Store --
	v.SetDefault("store.chromem.enabled", true)
	v.SetDefault("store.chromem.path", "")
	v.SetDefault("store.postgres.url", "")
	v.SetDefault("store.postgres.ensure_schema", true)

	// -- Source --
	v.SetDefault("source.kind", SourceReplay)
	v.SetDefault("source.url", "")
	v.SetDefault("source.scenario_file", "")
	v.SetDefault("source.scenario", "instagram_close_contact")
}

// NewConfigFromViper unmarshals and validates the configuration held by v.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data
	_ = v.BindEnv("anthropic.api_key", EnvPrefix+"_ANTHROPIC_API_KEY")
	_ = v.BindEnv("embedder.genai.api_key", EnvPrefix+"_GENAI_API_KEY")
	_ = v.BindEnv("store.postgres.url", EnvPrefix+"_STORE_POSTGRES_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for values the tracker cannot run with.
func (c *Config) Validate() error {
	if c.Tracker.PollInterval <= 0 {
		return fmt.Errorf("tracker.poll_interval must be positive")
	}
	if c.Tracker.FlushInterval < 0 {
		return fmt.Errorf("tracker.flush_interval must not be negative")
	}
	if _, err := c.Tracker.Location(); err != nil {
		return fmt.Errorf("tracker.timezone: %w", err)
	}
	if c.Judge.MinMembers < 1 {
		return fmt.Errorf("judge.min_members must be at least 1")
	}
	if c.Anthropic.Enabled && c.Anthropic.APIKey == "" {
		return fmt.Errorf("anthropic.api_key is required when anthropic.enabled is set (env %s_ANTHROPIC_API_KEY)", EnvPrefix)
	}

	switch c.Embedder.Provider {
	case EmbedderMock:
	case EmbedderGenAI:
		if c.Embedder.GenAI.APIKey == "" {
			return fmt.Errorf("embedder.genai.api_key is required for the genai provider (env %s_GENAI_API_KEY)", EnvPrefix)
		}
	default:
		return fmt.Errorf("embedder.provider must be %q or %q, got %q", EmbedderMock, EmbedderGenAI, c.Embedder.Provider)
	}

	if !c.Store.Chromem.Enabled && c.Store.Postgres.URL == "" {
		return fmt.Errorf("at least one store must be configured")
	}

	switch c.Source.Kind {
	case SourceReplay:
		if c.Source.ScenarioFile == "" && c.Source.Scenario == "" {
			return fmt.Errorf("source.scenario or source.scenario_file is required for replay")
		}
	case SourceWebSocket:
		if c.Source.URL == "" {
			return fmt.Errorf("source.url is required for the websocket source")
		}
	default:
		return fmt.Errorf("source.kind must be %q or %q, got %q", SourceReplay, SourceWebSocket, c.Source.Kind)
	}
	return nil
}
