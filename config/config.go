// Package config loads corpus settings.
//
// Settings are layered: built-in defaults, then a TOML file, then a .env
// file, then CORPUS_* environment variables. Later layers win.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/poiesic/corpus/chunking"
	"github.com/poiesic/corpus/fingerprint"
)

// Storage backends.
const (
	BackendBadger   = "badger"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
)

// Splitters.
const (
	SplitterWindow    = "window"
	SplitterRecursive = "recursive"
)

// Duration is a time.Duration written as a Go duration string ("250ms", "5s").
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

type Config struct {
	LogLevel    string            `toml:"log_level"`
	Storage     StorageConfig     `toml:"storage"`
	Chunking    chunking.Config   `toml:"chunking"`
	Fingerprint FingerprintConfig `toml:"fingerprint"`
	Normalize   NormalizeConfig   `toml:"normalize"`
	Ingest      IngestConfig      `toml:"ingest"`
	HTTP        HTTPConfig        `toml:"http"`
	S3          S3Config          `toml:"s3"`
}

type StorageConfig struct {
	Backend         string   `toml:"backend"`
	Path            string   `toml:"path"` // Badger directory or SQLite file
	DSN             string   `toml:"dsn"`  // PostgreSQL connection string
	MaxOpenConns    int      `toml:"max_open_conns"`
	BreakerFailures uint32   `toml:"breaker_failures"`
	BreakerCooldown Duration `toml:"breaker_cooldown"`
}

type FingerprintConfig struct {
	Algorithm string `toml:"algorithm"`
}

type NormalizeConfig struct {
	StrictLanguage bool `toml:"strict_language"`
	HTMLFallback   bool `toml:"html_fallback"`
}

type IngestConfig struct {
	Splitter       string   `toml:"splitter"`
	MaxAttempts    int      `toml:"max_attempts"`
	RetryDelay     Duration `toml:"retry_delay"`
	Workers        int      `toml:"workers"`
	Rate           float64  `toml:"rate"` // pages per second, 0 for unlimited
	ReportInterval int      `toml:"report_interval"`
}

type HTTPConfig struct {
	Addr            string   `toml:"addr"`
	ReadTimeout     Duration `toml:"read_timeout"`
	WriteTimeout    Duration `toml:"write_timeout"`
	ShutdownTimeout Duration `toml:"shutdown_timeout"`
	MaxBodyBytes    int64    `toml:"max_body_bytes"`
	AllowedOrigins  []string `toml:"allowed_origins"` // CORS; empty disables
}

type S3Config struct {
	Region string `toml:"region"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Storage: StorageConfig{
			Backend:         BackendBadger,
			Path:            "corpus-data",
			MaxOpenConns:    20,
			BreakerFailures: 5,
			BreakerCooldown: Duration(30 * time.Second),
		},
		Chunking:    chunking.DefaultConfig(),
		Fingerprint: FingerprintConfig{Algorithm: fingerprint.Blake2b256},
		Normalize:   NormalizeConfig{HTMLFallback: true},
		Ingest: IngestConfig{
			Splitter:       SplitterWindow,
			MaxAttempts:    3,
			RetryDelay:     Duration(25 * time.Millisecond),
			Workers:        4,
			ReportInterval: 100,
		},
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ReadTimeout:     Duration(30 * time.Second),
			WriteTimeout:    Duration(60 * time.Second),
			ShutdownTimeout: Duration(15 * time.Second),
			MaxBodyBytes:    32 << 20,
		},
	}
}

// LoadFile overlays the TOML file at path onto cfg. Unknown keys are errors.
func (c *Config) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec := toml.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err := dec.Decode(c); err != nil {
		var decErr *toml.DecodeError
		if errors.As(err, &decErr) {
			row, col := decErr.Position()
			return fmt.Errorf("%s:%d:%d: %w", path, row, col, err)
		}
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	var errs []error

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("log_level must be debug, info, warn or error, got %q", c.LogLevel))
	}

	switch c.Storage.Backend {
	case BackendBadger, BackendSQLite:
		if c.Storage.Path == "" {
			errs = append(errs, fmt.Errorf("storage.path is required for the %s backend", c.Storage.Backend))
		}
	case BackendPostgres:
		if c.Storage.DSN == "" {
			errs = append(errs, errors.New("storage.dsn is required for the postgres backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.backend must be badger, sqlite or postgres, got %q", c.Storage.Backend))
	}
	if c.Storage.MaxOpenConns <= 0 {
		errs = append(errs, errors.New("storage.max_open_conns must be greater than 0"))
	}
	if c.Storage.BreakerFailures == 0 || c.Storage.BreakerCooldown <= 0 {
		errs = append(errs, errors.New("storage.breaker_failures and storage.breaker_cooldown must be positive"))
	}

	if err := c.Chunking.Validate(); err != nil {
		errs = append(errs, err)
	}
	if _, err := fingerprint.New(c.Fingerprint.Algorithm); err != nil {
		errs = append(errs, err)
	}

	switch c.Ingest.Splitter {
	case SplitterWindow, SplitterRecursive:
	default:
		errs = append(errs, fmt.Errorf("ingest.splitter must be window or recursive, got %q", c.Ingest.Splitter))
	}
	if c.Ingest.MaxAttempts <= 0 {
		errs = append(errs, errors.New("ingest.max_attempts must be greater than 0"))
	}
	if c.Ingest.RetryDelay < 0 {
		errs = append(errs, errors.New("ingest.retry_delay cannot be negative"))
	}
	if c.Ingest.Workers <= 0 {
		errs = append(errs, errors.New("ingest.workers must be greater than 0"))
	}
	if c.Ingest.Rate < 0 {
		errs = append(errs, errors.New("ingest.rate cannot be negative"))
	}
	if c.Ingest.ReportInterval <= 0 {
		errs = append(errs, errors.New("ingest.report_interval must be greater than 0"))
	}

	if c.HTTP.Addr == "" {
		errs = append(errs, errors.New("http.addr is required"))
	}
	if c.HTTP.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("http.max_body_bytes must be greater than 0"))
	}

	return errors.Join(errs...)
}
