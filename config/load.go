package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// EnvPrefix prefixes every environment variable the loader reads.
const EnvPrefix = "CORPUS_"

// Load builds the effective configuration. path names an optional TOML file;
// envFiles name .env files to load into the environment (default ".env",
// silently skipped when absent). Variables already set in the environment
// are not overwritten by .env files.
func Load(path string, envFiles ...string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}

	if err := loadDotEnv(envFiles); err != nil {
		return nil, err
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func loadDotEnv(files []string) error {
	if len(files) == 0 {
		err := godotenv.Load()
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("loading .env: %w", err)
		}
		return nil
	}
	if err := godotenv.Load(files...); err != nil {
		return fmt.Errorf("loading %s: %w", strings.Join(files, ", "), err)
	}
	return nil
}

// ApplyEnv overlays CORPUS_* variables read through lookup onto c.
// DATABASE_URL is honoured as a fallback for CORPUS_STORAGE_DSN.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	e := envReader{lookup: lookup}

	e.str("LOG_LEVEL", &c.LogLevel)

	e.str("STORAGE_BACKEND", &c.Storage.Backend)
	e.str("STORAGE_PATH", &c.Storage.Path)
	if v, ok := lookup("DATABASE_URL"); ok && v != "" {
		c.Storage.DSN = v
	}
	e.str("STORAGE_DSN", &c.Storage.DSN)
	e.int("STORAGE_MAX_OPEN_CONNS", &c.Storage.MaxOpenConns)

	e.int("CHUNK_MAX_CHARS", &c.Chunking.MaxChunkChars)
	e.int("CHUNK_OVERLAP_CHARS", &c.Chunking.OverlapChars)
	e.int("CHUNK_MIN_CHARS", &c.Chunking.MinChunkChars)
	e.int("CHUNK_BOUNDARY_WINDOW", &c.Chunking.BoundaryWindow)
	e.int("CHUNK_CHARS_PER_TOKEN", &c.Chunking.CharsPerToken)

	e.str("FINGERPRINT_ALGORITHM", &c.Fingerprint.Algorithm)

	e.bool("NORMALIZE_STRICT_LANGUAGE", &c.Normalize.StrictLanguage)
	e.bool("NORMALIZE_HTML_FALLBACK", &c.Normalize.HTMLFallback)

	e.str("INGEST_SPLITTER", &c.Ingest.Splitter)
	e.int("INGEST_MAX_ATTEMPTS", &c.Ingest.MaxAttempts)
	e.duration("INGEST_RETRY_DELAY", &c.Ingest.RetryDelay)
	e.int("INGEST_WORKERS", &c.Ingest.Workers)
	e.float("INGEST_RATE", &c.Ingest.Rate)
	e.int("INGEST_REPORT_INTERVAL", &c.Ingest.ReportInterval)

	e.str("HTTP_ADDR", &c.HTTP.Addr)
	e.duration("HTTP_READ_TIMEOUT", &c.HTTP.ReadTimeout)
	e.duration("HTTP_WRITE_TIMEOUT", &c.HTTP.WriteTimeout)
	e.duration("HTTP_SHUTDOWN_TIMEOUT", &c.HTTP.ShutdownTimeout)

	e.str("S3_REGION", &c.S3.Region)

	return errors.Join(e.errs...)
}

type envReader struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (e *envReader) get(key string) (string, bool) {
	v, ok := e.lookup(EnvPrefix + key)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func (e *envReader) fail(key, v string, err error) {
	e.errs = append(e.errs, fmt.Errorf("%s%s=%q: %w", EnvPrefix, key, v, err))
}

func (e *envReader) str(key string, dst *string) {
	if v, ok := e.get(key); ok {
		*dst = v
	}
}

func (e *envReader) int(key string, dst *int) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(key, v, err)
		return
	}
	*dst = n
}

func (e *envReader) float(key string, dst *float64) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.fail(key, v, err)
		return
	}
	*dst = f
}

func (e *envReader) bool(key string, dst *bool) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.fail(key, v, err)
		return
	}
	*dst = b
}

func (e *envReader) duration(key string, dst *Duration) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	if err := dst.UnmarshalText([]byte(v)); err != nil {
		e.fail(key, v, err)
	}
}
