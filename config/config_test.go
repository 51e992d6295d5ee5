package config

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newViper(t *testing.T, yamlDoc string) *viper.Viper {
	t.Helper()
	v := viper.New()
	SetDefaults(v)
	if yamlDoc != "" {
		v.SetConfigType("yaml")
		require.NoError(t, v.ReadConfig(strings.NewReader(yamlDoc)))
	}
	return v
}

func TestNewConfigFromViper_Defaults(t *testing.T) {
	cfg, err := NewConfigFromViper(newViper(t, ""))
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Equal(t, "portablebrain", cfg.Logger.ServiceName)
	assert.Equal(t, time.Second, cfg.Tracker.PollInterval)
	assert.Equal(t, 10*time.Minute, cfg.Tracker.FlushInterval)
	assert.Equal(t, 200*time.Millisecond, cfg.Tracker.ChangeCooldown)
	assert.Equal(t, 500, cfg.Window.MaxActions)
	assert.Equal(t, 72*time.Hour, cfg.Window.MaxAge)
	assert.Equal(t, 3, cfg.Judge.MinMembers)
	assert.Equal(t, 15*time.Minute, cfg.Judge.ChainGap)
	assert.Equal(t, "claude-sonnet-4-20250514", cfg.Anthropic.Model)
	assert.Equal(t, 100*time.Millisecond, cfg.Anthropic.RetryWait)
	assert.Equal(t, EmbedderMock, cfg.Embedder.Provider)
	assert.True(t, cfg.Store.Chromem.Enabled)
	assert.Equal(t, SourceReplay, cfg.Source.Kind)
	assert.Equal(t, "instagram_close_contact", cfg.Source.Scenario)

	loc, err := cfg.Tracker.Location()
	require.NoError(t, err)
	assert.Nil(t, loc)

	w := cfg.Window.Monitor()
	assert.Equal(t, 500, w.MaxActions)
	assert.Equal(t, 72*time.Hour, w.MaxAge)
}

func TestNewConfigFromViper_FileOverrides(t *testing.T) {
	v := newViper(t, `
logger:
  level: debug
tracker:
  poll_interval: 250ms
window:
  max_actions: -1
judge:
  min_members: 4
anthropic:
  model: claude-3-5-haiku-latest
  max_retries: 5
source:
  kind: websocket
  url: ws://127.0.0.1:8765/ui
`)
	cfg, err := NewConfigFromViper(v)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logger.Level)
	assert.Equal(t, 250*time.Millisecond, cfg.Tracker.PollInterval)
	assert.Equal(t, -1, cfg.Window.MaxActions)
	assert.Equal(t, 4, cfg.Judge.MinMembers)
	assert.Equal(t, "claude-3-5-haiku-latest", cfg.Anthropic.Model)
	assert.Equal(t, 5, cfg.Anthropic.MaxRetries)
	assert.Equal(t, SourceWebSocket, cfg.Source.Kind)
	assert.Equal(t, "ws://127.0.0.1:8765/ui", cfg.Source.URL)
}

func TestNewConfigFromViper_SecretsFromEnv(t *testing.T) {
	t.Setenv("PBRAIN_ANTHROPIC_API_KEY", "sk-ant-test")
	t.Setenv("PBRAIN_GENAI_API_KEY", "genai-test")
	t.Setenv("PBRAIN_STORE_POSTGRES_URL", "postgres://localhost:5432/brain")

	v := newViper(t, `
anthropic:
  enabled: true
embedder:
  provider: genai
`)
	cfg, err := NewConfigFromViper(v)
	require.NoError(t, err)

	assert.Equal(t, "sk-ant-test", cfg.Anthropic.APIKey)
	assert.Equal(t, "genai-test", cfg.Embedder.GenAI.APIKey)
	assert.Equal(t, "postgres://localhost:5432/brain", cfg.Store.Postgres.URL)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg, err := NewConfigFromViper(newViper(t, ""))
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"zero poll interval", func(c *Config) { c.Tracker.PollInterval = 0 }, "tracker.poll_interval"},
		{"negative flush interval", func(c *Config) { c.Tracker.FlushInterval = -time.Second }, "tracker.flush_interval"},
		{"unknown timezone", func(c *Config) { c.Tracker.Timezone = "Mars/Olympus_Mons" }, "tracker.timezone"},
		{"min members", func(c *Config) { c.Judge.MinMembers = 0 }, "judge.min_members"},
		{"anthropic without key", func(c *Config) { c.Anthropic.Enabled = true }, "anthropic.api_key"},
		{"genai without key", func(c *Config) { c.Embedder.Provider = EmbedderGenAI }, "embedder.genai.api_key"},
		{"unknown embedder", func(c *Config) { c.Embedder.Provider = "onnx" }, "embedder.provider"},
		{"no store", func(c *Config) { c.Store.Chromem.Enabled = false }, "at least one store"},
		{"replay without scenario", func(c *Config) { c.Source.Scenario = "" }, "source.scenario"},
		{"websocket without url", func(c *Config) { c.Source.Kind = SourceWebSocket }, "source.url"},
		{"unknown source", func(c *Config) { c.Source.Kind = "adb" }, "source.kind"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	t.Run("postgres alone is enough", func(t *testing.T) {
		cfg := valid()
		cfg.Store.Chromem.Enabled = false
		cfg.Store.Postgres.URL = "postgres://localhost/brain"
		assert.NoError(t, cfg.Validate())
	})
}
