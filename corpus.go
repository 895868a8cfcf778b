// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package corpus

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/poiesic/corpus/chunking"
	"github.com/poiesic/corpus/config"
	"github.com/poiesic/corpus/fingerprint"
	"github.com/poiesic/corpus/ingestion"
	"github.com/poiesic/corpus/normalize"
	"github.com/poiesic/corpus/storage"
	"github.com/poiesic/corpus/storage/badger"
	"github.com/poiesic/corpus/storage/sqlstore"
	"github.com/prometheus/client_golang/prometheus"
)

var ErrConfigRequired = errors.New("config is required")

// Corpus ties a configured store to the ingestion pipeline built on it.
type Corpus struct {
	repo     storage.DocumentRepository
	config   *config.Config
	registry *prometheus.Registry
	metrics  *ingestion.Metrics
	logger   *slog.Logger
}

// Option configures a Corpus.
type Option func(*Corpus) error

func WithLogger(logger *slog.Logger) Option {
	return func(c *Corpus) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		c.logger = logger
		return nil
	}
}

// Open validates cfg and opens the storage backend it names.
func Open(ctx context.Context, cfg *config.Config, opts ...Option) (*Corpus, error) {
	if cfg == nil {
		return nil, ErrConfigRequired
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	c := &Corpus{
		config:   cfg,
		registry: prometheus.NewRegistry(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}

	metrics, err := ingestion.NewMetrics(c.registry)
	if err != nil {
		return nil, err
	}
	c.metrics = metrics

	repo, err := openRepository(ctx, cfg.Storage, c.logger)
	if err != nil {
		return nil, err
	}
	c.repo = repo
	c.logger.Info("opened corpus", "backend", cfg.Storage.Backend)
	return c, nil
}

func openRepository(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger) (storage.DocumentRepository, error) {
	switch cfg.Backend {
	case config.BackendBadger:
		return badger.Open(cfg.Path, logger)
	case config.BackendSQLite, config.BackendPostgres:
		dialect := sqlstore.Postgres
		dsn := cfg.DSN
		if cfg.Backend == config.BackendSQLite {
			dialect = sqlstore.SQLite
			dsn = sqlstore.SQLiteDSN(cfg.Path)
		}
		return sqlstore.Open(ctx, dialect, dsn,
			sqlstore.WithLogger(logger),
			sqlstore.WithMaxOpenConns(cfg.MaxOpenConns),
			sqlstore.WithBreaker(cfg.BreakerFailures, cfg.BreakerCooldown.Std()))
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

func (c *Corpus) Close() error {
	if err := c.repo.Close(); err != nil {
		c.logger.Error("error closing storage", "err", err)
		return err
	}
	return nil
}

func (c *Corpus) Repository() storage.DocumentRepository {
	return c.repo
}

func (c *Corpus) Config() *config.Config {
	return c.config
}

// Registerer is where components built on this Corpus register their metrics.
func (c *Corpus) Registerer() prometheus.Registerer {
	return c.registry
}

// Gatherer exposes the metrics of every ingester built by this Corpus.
func (c *Corpus) Gatherer() prometheus.Gatherer {
	return c.registry
}

// NewIngester builds an Ingester from the configuration. opts are applied
// after the configured ones and may override them.
func (c *Corpus) NewIngester(opts ...ingestion.Option) (*ingestion.Ingester, error) {
	normOpts := []normalize.Option{normalize.WithHTMLFallback(c.config.Normalize.HTMLFallback)}
	if c.config.Normalize.StrictLanguage {
		normOpts = append(normOpts, normalize.WithStrictLanguage())
	}
	normalizer, err := normalize.New(normOpts...)
	if err != nil {
		return nil, err
	}

	var splitter chunking.Splitter
	if c.config.Ingest.Splitter == config.SplitterRecursive {
		splitter, err = chunking.NewRecursive(c.config.Chunking)
	} else {
		splitter, err = chunking.New(c.config.Chunking)
	}
	if err != nil {
		return nil, err
	}

	fp, err := fingerprint.New(c.config.Fingerprint.Algorithm)
	if err != nil {
		return nil, err
	}

	base := []ingestion.Option{
		ingestion.WithNormalizer(normalizer),
		ingestion.WithSplitter(splitter),
		ingestion.WithFingerprinter(fp),
		ingestion.WithMaxAttempts(c.config.Ingest.MaxAttempts),
		ingestion.WithRetryDelay(c.config.Ingest.RetryDelay.Std()),
		ingestion.WithMetrics(c.metrics),
		ingestion.WithLogger(c.logger),
	}
	return ingestion.NewIngester(c.repo, append(base, opts...)...)
}

// NewRunner builds a batch Runner with the configured worker count, rate and
// report interval. progress may be nil.
func (c *Corpus) NewRunner(progress io.Writer, opts ...ingestion.Option) (*ingestion.Runner, error) {
	ingester, err := c.NewIngester(opts...)
	if err != nil {
		return nil, err
	}
	return ingestion.NewRunner(ingester, &ingestion.RunnerConfig{
		Workers:        c.config.Ingest.Workers,
		Rate:           c.config.Ingest.Rate,
		ReportInterval: c.config.Ingest.ReportInterval,
	}, progress, c.logger)
}
