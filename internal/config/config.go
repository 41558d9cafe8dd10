// Package config provides centralized configuration management for the cleaner.
// It loads configuration from environment variables with sensible defaults and
// validates all settings on startup to fail fast on misconfiguration.
package config

import (
	"strconv"
	"time"
	"unicode/utf8"
)

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Input    InputConfig
	Output   OutputConfig
	Database DatabaseConfig
	Metrics  MetricsConfig
	Logging  LoggingConfig
}

// InputConfig describes the export to clean.
type InputConfig struct {
	// Path is the semicolon-delimited user export (required)
	Path string `env:"INPUT_PATH" required:"true"`

	// Delimiter separates fields in the export (default: ;)
	Delimiter string `env:"INPUT_DELIMITER" default:";"`

	// Encoding is the character set of the export, any WHATWG label (default: utf-8)
	Encoding string `env:"INPUT_ENCODING" default:"utf-8"`
}

// OutputConfig describes where cleaned and rejected rows are written.
type OutputConfig struct {
	// Path receives the accepted rows (default: cleaned_records.csv)
	Path string `env:"OUTPUT_PATH" default:"cleaned_records.csv"`

	// RejectedPath receives the rejected rows with their issue (default: rejected_records.csv)
	RejectedPath string `env:"REJECTED_PATH" default:"rejected_records.csv"`

	// Delimiter separates fields in both output files (default: ,)
	Delimiter string `env:"OUTPUT_DELIMITER" default:","`
}

// DatabaseConfig holds the optional Postgres export settings.
// The export is disabled when URL is empty.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string
	// Supports both DATABASE_URL and DB_URL env vars for compatibility
	URL string `env:"DATABASE_URL" envAlt:"DB_URL"`

	// MaxConns is the maximum number of connections in the pool (default: 4)
	MaxConns int `env:"DB_MAX_CONNS" default:"4"`

	// MinConns is the minimum number of connections to keep open (default: 0)
	MinConns int `env:"DB_MIN_CONNS" default:"0"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	// MaxConnIdleTime is the maximum idle time before a connection is closed (default: 30m)
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`

	// ExportTimeout bounds the schema migration and, separately, the export transaction (default: 10m)
	ExportTimeout time.Duration `env:"DB_EXPORT_TIMEOUT" default:"10m"`

	// CopyBatchSize is the number of rows sent per COPY (default: 5000)
	CopyBatchSize int `env:"DB_COPY_BATCH_SIZE" default:"5000"`
}

// Enabled reports whether the Postgres export should run.
func (c DatabaseConfig) Enabled() bool {
	return c.URL != ""
}

// MetricsConfig holds run metrics settings.
type MetricsConfig struct {
	// Textfile is where run metrics are written in Prometheus text format.
	// Empty disables the export.
	Textfile string `env:"METRICS_TEXTFILE"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// InputDelimiter returns the input delimiter as a rune.
func (c *Config) InputDelimiter() rune {
	return firstRune(c.Input.Delimiter)
}

// OutputDelimiter returns the output delimiter as a rune.
func (c *Config) OutputDelimiter() rune {
	return firstRune(c.Output.Delimiter)
}

// firstRune returns the delimiter rune, unquoting escapes such as `\t`.
// Anything other than exactly one character yields 0.
func firstRune(s string) rune {
	if u, err := strconv.Unquote(`"` + s + `"`); err == nil {
		s = u
	}
	if utf8.RuneCountInString(s) != 1 {
		return 0
	}
	r, _ := utf8.DecodeRuneInString(s)
	return r
}
