package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEffectiveKeepFraction(t *testing.T) {
	tests := []struct {
		name         string
		ratio        float64
		keepFraction float64
		want         float64
	}{
		{"defaults are a no-op", 1.0, 0, 1.0},
		{"ratio derives fraction", 2.0, 0, 0.5},
		{"ratio of four", 4.0, 0, 0.25},
		{"override wins when below one", 4.0, 0.9, 0.9},
		{"override of exactly one falls back to ratio", 2.0, 1.0, 0.5},
		{"override of one with unit ratio is a no-op", 1.0, 1.0, 1.0},
		{"small override", 1.0, 0.1, 0.1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := CompressionConfig{Ratio: tt.ratio, KeepFraction: tt.keepFraction}
			assert.InDelta(t, tt.want, c.EffectiveKeepFraction(), 1e-9)
		})
	}
}

func TestCompressionEnabled(t *testing.T) {
	assert.False(t, CompressionConfig{Ratio: 1.0}.Enabled())
	assert.False(t, CompressionConfig{Ratio: 1.0, KeepFraction: 1.0}.Enabled())
	assert.True(t, CompressionConfig{Ratio: 2.0}.Enabled())
	assert.True(t, CompressionConfig{Ratio: 1.0, KeepFraction: 0.5}.Enabled())
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"ratio below one", func(c *Config) { c.Compression.Ratio = 0.5 }},
		{"keep fraction above one", func(c *Config) { c.Compression.KeepFraction = 1.5 }},
		{"negative keep fraction", func(c *Config) { c.Compression.KeepFraction = -0.1 }},
		{"zero port", func(c *Config) { c.Server.Port = 0 }},
		{"port too large", func(c *Config) { c.Server.Port = 70000 }},
		{"empty upstream", func(c *Config) { c.Upstream.BaseURL = "" }},
		{"zero upstream timeout", func(c *Config) { c.Upstream.Timeout = 0 }},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("HOST", "127.0.0.1")
	t.Setenv("PORT", "9100")
	t.Setenv("UPSTREAM_BASE_URL", "https://example.test/v1")
	t.Setenv("UPSTREAM_TIMEOUT", "45s")
	t.Setenv("COMPRESSION_RATIO", "2.5")
	t.Setenv("TOKENS_TO_KEEP_RATIO", "0.3")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9100", cfg.Server.Addr())
	assert.Equal(t, "https://example.test/v1", cfg.Upstream.BaseURL)
	assert.Equal(t, 45*time.Second, cfg.Upstream.Timeout)
	assert.Equal(t, 2.5, cfg.Compression.Ratio)
	assert.Equal(t, 0.3, cfg.Compression.KeepFraction)
	// Explicit override below 1.0 wins over the ratio path.
	assert.InDelta(t, 0.3, cfg.Compression.EffectiveKeepFraction(), 1e-9)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadRejectsInvalidEnv(t *testing.T) {
	t.Setenv("COMPRESSION_RATIO", "not-a-number")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoadRejectsRatioBelowOne(t *testing.T) {
	t.Setenv("COMPRESSION_RATIO", "0.4")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoadFromYAMLFileWithEnvPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.yaml")
	content := []byte(`
server:
  host: 10.0.0.1
  port: 9200
upstream:
  base_url: https://file.test/v1
compression:
  ratio: 3.0
`)
	require.NoError(t, os.WriteFile(path, content, 0600))

	t.Setenv("GATEWAY_CONFIG", path)
	t.Setenv("PORT", "9300") // env beats file

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "10.0.0.1", cfg.Server.Host)
	assert.Equal(t, 9300, cfg.Server.Port)
	assert.Equal(t, "https://file.test/v1", cfg.Upstream.BaseURL)
	assert.Equal(t, 3.0, cfg.Compression.Ratio)
	// File fields not set keep defaults.
	assert.Equal(t, DefaultUpstreamTimeout, cfg.Upstream.Timeout)
}

func TestDefaults(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "0.0.0.0:8000", cfg.Server.Addr())
	assert.Equal(t, "https://api.openai.com/v1", cfg.Upstream.BaseURL)
	assert.Equal(t, 300*time.Second, cfg.Upstream.Timeout)
	assert.False(t, cfg.Compression.Enabled())
	require.NoError(t, cfg.Validate())
}
