package ingestion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/corpus/core"
	"golang.org/x/time/rate"
)

// PageSource yields fetched pages until it returns io.EOF.
// An error wrapping core.ErrInvalidInput rejects one record and the run
// continues; any other error ends the run.
type PageSource interface {
	Next(ctx context.Context) (*core.FetchedPage, error)
}

// RunnerConfig holds configuration for a batch run.
type RunnerConfig struct {
	// Workers is the number of pages ingested concurrently
	Workers int

	// Rate caps pages started per second; 0 means unlimited
	Rate float64

	// ReportInterval is how often to report progress (number of records)
	ReportInterval int
}

// DefaultRunnerConfig returns a RunnerConfig with sensible defaults.
func DefaultRunnerConfig() *RunnerConfig {
	workers := runtime.NumCPU() / 2
	if workers < 1 {
		workers = 1
	}
	return &RunnerConfig{
		Workers:        workers,
		ReportInterval: 100,
	}
}

// Summary reports the outcome of a batch run.
type Summary struct {
	RunID          string
	Read           int
	Created        int
	Updated        int
	Unchanged      int
	Invalid        int
	Failed         int
	ChunksInserted int
	ChunksUpdated  int
	ChunksDeleted  int
	Elapsed        time.Duration
}

func (s *Summary) add(res *Result, err error) {
	s.Read++
	switch {
	case errors.Is(err, core.ErrInvalidInput):
		s.Invalid++
	case err != nil:
		s.Failed++
	default:
		switch res.Outcome {
		case OutcomeCreated:
			s.Created++
		case OutcomeUpdated:
			s.Updated++
		default:
			s.Unchanged++
		}
		s.ChunksInserted += res.ChunksInserted
		s.ChunksUpdated += res.ChunksUpdated
		s.ChunksDeleted += res.ChunksDeleted
	}
}

// Runner feeds a stream of pages through an Ingester on a worker pool.
// A failure for one page is logged and counted; it never stops the run.
type Runner struct {
	ingester *Ingester
	config   *RunnerConfig
	progress io.Writer
	logger   *slog.Logger
}

// NewRunner creates a runner.
// progress: where to write progress output (typically os.Stderr), nil for none
func NewRunner(ingester *Ingester, config *RunnerConfig, progress io.Writer, logger *slog.Logger) (*Runner, error) {
	if ingester == nil {
		return nil, ErrIngesterRequired
	}
	if config == nil {
		config = DefaultRunnerConfig()
	}
	if config.Workers < 1 {
		return nil, fmt.Errorf("workers must be at least 1, got %d", config.Workers)
	}
	if config.Rate < 0 {
		return nil, fmt.Errorf("rate cannot be negative, got %g", config.Rate)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		ingester: ingester,
		config:   config,
		progress: progress,
		logger:   logger,
	}, nil
}

// Run ingests every page src yields and returns the totals. It stops reading
// when ctx is done or src fails, waits for in-flight pages, and returns the
// summary together with the error that stopped it.
func (r *Runner) Run(ctx context.Context, src PageSource) (*Summary, error) {
	if src == nil {
		return nil, ErrSourceRequired
	}

	summary := &Summary{RunID: uuid.NewString()}
	logger := r.logger.With("run_id", summary.RunID)
	logger.Info("starting ingestion run", "workers", r.config.Workers, "rate", r.config.Rate)

	pool, err := ants.NewPool(r.config.Workers)
	if err != nil {
		return nil, err
	}
	defer pool.Release()

	limiter := rate.NewLimiter(rate.Inf, 0)
	if r.config.Rate > 0 {
		limiter = rate.NewLimiter(rate.Limit(r.config.Rate), max(1, int(r.config.Rate)))
	}

	var line *progressLine
	if r.progress != nil {
		line = newProgressLine(r.progress, r.config.ReportInterval)
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	record := func(res *Result, err error) {
		mu.Lock()
		defer mu.Unlock()
		summary.add(res, err)
		if line != nil {
			line.observe(summary)
		}
	}

	started := time.Now()
	var runErr error
	for {
		page, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if errors.Is(err, core.ErrInvalidInput) {
			logger.Warn("skipping invalid record", "err", err)
			record(nil, err)
			continue
		}
		if err != nil {
			runErr = err
			break
		}

		if err := limiter.Wait(ctx); err != nil {
			runErr = err
			break
		}

		wg.Add(1)
		submitErr := pool.Submit(func() {
			defer wg.Done()
			res, err := r.ingester.Ingest(ctx, page)
			if err != nil {
				logger.Warn("ingestion failed", "url", page.URL, "kind", ErrorKind(err), "err", err)
			}
			record(res, err)
		})
		if submitErr != nil {
			wg.Done()
			runErr = submitErr
			break
		}
	}
	wg.Wait()

	if line != nil {
		line.finish(summary)
	}
	summary.Elapsed = time.Since(started)

	logger.Info("ingestion run finished",
		"read", summary.Read,
		"created", summary.Created,
		"updated", summary.Updated,
		"unchanged", summary.Unchanged,
		"invalid", summary.Invalid,
		"failed", summary.Failed,
		"elapsed", summary.Elapsed)
	return summary, runErr
}
