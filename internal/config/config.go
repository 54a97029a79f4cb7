// Package config builds the process-wide gateway configuration.
//
// DESIGN: Configuration is assembled exactly once at startup and never
// mutated afterwards. Request-handling code receives the Config by
// reference and must not read the environment on its own. Sources, in
// increasing precedence: built-in defaults, optional YAML file, environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// Addr returns the listen address in host:port form.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// UpstreamConfig holds the upstream chat-completion API settings.
type UpstreamConfig struct {
	// BaseURL is the upstream API base, e.g. https://api.openai.com/v1.
	// Request paths are appended verbatim.
	BaseURL string `yaml:"base_url"`
	// Timeout bounds an upstream exchange: response headers must arrive and,
	// for buffered responses, the body must be fully read within it. Streamed
	// bodies stay open past the deadline once headers have arrived.
	Timeout time.Duration `yaml:"timeout"`
}

// CompressionConfig holds the token-compression settings.
//
// Two mutually related knobs: Ratio (>= 1.0, keep fraction = 1/Ratio) and
// KeepFraction (explicit override in (0,1], zero when unset). A KeepFraction
// strictly below 1.0 takes precedence over the ratio-derived fraction;
// otherwise the ratio path applies.
type CompressionConfig struct {
	Ratio        float64 `yaml:"ratio"`
	KeepFraction float64 `yaml:"keep_fraction"`
}

// EffectiveKeepFraction resolves the two knobs into the single fraction the
// compressor uses. Always in (0, 1]; 1.0 means compression is a no-op.
func (c CompressionConfig) EffectiveKeepFraction() float64 {
	if c.KeepFraction > 0 && c.KeepFraction < 1.0 {
		return c.KeepFraction
	}
	if c.Ratio > 1.0 {
		return 1.0 / c.Ratio
	}
	return 1.0
}

// Enabled reports whether any request will actually be compressed.
func (c CompressionConfig) Enabled() bool {
	return c.EffectiveKeepFraction() < 1.0
}

// MonitoringConfig holds observability sink settings.
type MonitoringConfig struct {
	// TelemetryLogPath is the JSONL file for per-request events ("" disables).
	TelemetryLogPath string `yaml:"telemetry_log_path"`
	// CompressionLogPath is the JSONL file for before/after compression
	// records ("" disables).
	CompressionLogPath string `yaml:"compression_log_path"`
	// HistoryDBPath is the SQLite request-history database ("" disables).
	HistoryDBPath string `yaml:"history_db_path"`
	// LogToStdout mirrors request summaries to the structured logger.
	LogToStdout bool `yaml:"log_to_stdout"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
	// Format selects "console" or "json" output.
	Format string `yaml:"format"`
}

// Config is the immutable process-wide configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Upstream    UpstreamConfig    `yaml:"upstream"`
	Compression CompressionConfig `yaml:"compression"`
	Monitoring  MonitoringConfig  `yaml:"monitoring"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// Default returns a Config populated with built-in defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         DefaultHost,
			Port:         DefaultPort,
			ReadTimeout:  DefaultReadTimeout,
			WriteTimeout: DefaultWriteTimeout,
		},
		Upstream: UpstreamConfig{
			BaseURL: DefaultUpstreamBaseURL,
			Timeout: DefaultUpstreamTimeout,
		},
		Compression: CompressionConfig{
			Ratio: DefaultCompressionRatio,
		},
		Monitoring: MonitoringConfig{
			LogToStdout: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load builds the configuration from defaults, the optional YAML file named
// by GATEWAY_CONFIG, and environment variables, then validates it.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("GATEWAY_CONFIG"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, c)
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("HOST"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid PORT %q: %w", v, err)
		}
		c.Server.Port = port
	}
	if v := os.Getenv("UPSTREAM_BASE_URL"); v != "" {
		c.Upstream.BaseURL = v
	}
	if v := os.Getenv("UPSTREAM_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid UPSTREAM_TIMEOUT %q: %w", v, err)
		}
		c.Upstream.Timeout = d
	}
	if v := os.Getenv("COMPRESSION_RATIO"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid COMPRESSION_RATIO %q: %w", v, err)
		}
		c.Compression.Ratio = f
	}
	if v := os.Getenv("TOKENS_TO_KEEP_RATIO"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid TOKENS_TO_KEEP_RATIO %q: %w", v, err)
		}
		c.Compression.KeepFraction = f
	}
	if v := os.Getenv("TELEMETRY_LOG_PATH"); v != "" {
		c.Monitoring.TelemetryLogPath = v
	}
	if v := os.Getenv("COMPRESSION_LOG_PATH"); v != "" {
		c.Monitoring.CompressionLogPath = v
	}
	if v := os.Getenv("HISTORY_DB_PATH"); v != "" {
		c.Monitoring.HistoryDBPath = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	return nil
}

// Validate rejects configurations the gateway cannot safely run with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port out of range: %d", c.Server.Port)
	}
	if c.Upstream.BaseURL == "" {
		return fmt.Errorf("upstream base URL must not be empty")
	}
	if c.Upstream.Timeout <= 0 {
		return fmt.Errorf("upstream timeout must be positive, got %s", c.Upstream.Timeout)
	}
	if c.Compression.Ratio < 1.0 {
		return fmt.Errorf("compression ratio must be >= 1.0, got %g", c.Compression.Ratio)
	}
	if k := c.Compression.KeepFraction; k != 0 && (k <= 0 || k > 1.0) {
		return fmt.Errorf("tokens-to-keep ratio must be in (0, 1], got %g", k)
	}
	return nil
}
