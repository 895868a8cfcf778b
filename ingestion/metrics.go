package ingestion

import (
	"context"
	"errors"
	"time"

	"github.com/poiesic/corpus/core"
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "corpus"

// Metrics records ingestion counters and latencies. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	documents *prometheus.CounterVec
	chunks    *prometheus.CounterVec
	retries   prometheus.Counter
	failures  *prometheus.CounterVec
	duration  prometheus.Histogram
}

// NewMetrics creates the ingestion collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		documents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "ingest",
			Name:      "documents_total",
			Help:      "Documents ingested, by outcome.",
		}, []string{"outcome"}),
		chunks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "ingest",
			Name:      "chunks_total",
			Help:      "Chunk reconciliation results, by operation.",
		}, []string{"op"}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "ingest",
			Name:      "retries_total",
			Help:      "Units of work re-run after a conflict or transient storage failure.",
		}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "ingest",
			Name:      "errors_total",
			Help:      "Failed ingestions, by error kind.",
		}, []string{"kind"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "ingest",
			Name:      "duration_seconds",
			Help:      "Wall time of one ingestion including retries.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}),
	}

	for _, c := range []prometheus.Collector{m.documents, m.chunks, m.retries, m.failures, m.duration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) observeResult(r *Result, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.documents.WithLabelValues(string(r.Outcome)).Inc()
	m.chunks.WithLabelValues("inserted").Add(float64(r.ChunksInserted))
	m.chunks.WithLabelValues("updated").Add(float64(r.ChunksUpdated))
	m.chunks.WithLabelValues("unchanged").Add(float64(r.ChunksUnchanged))
	m.chunks.WithLabelValues("deleted").Add(float64(r.ChunksDeleted))
	m.duration.Observe(elapsed.Seconds())
}

func (m *Metrics) observeRetry() {
	if m == nil {
		return
	}
	m.retries.Inc()
}

func (m *Metrics) observeError(err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(ErrorKind(err)).Inc()
	m.duration.Observe(elapsed.Seconds())
}

// ErrorKind returns a short label for err: invalid_input, conflict,
// unavailable, integrity, canceled or other.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, core.ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, core.ErrIngestionConflict):
		return "conflict"
	case errors.Is(err, core.ErrStorageUnavailable):
		return "unavailable"
	case errors.Is(err, core.ErrIntegrityViolation):
		return "integrity"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "other"
	}
}
