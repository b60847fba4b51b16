package routing

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks routing performance on both paths. The plain counters are
// the source of truth for Snapshot/Reset (tests and /health); the
// prometheus collectors mirror them for scraping.
type Metrics struct {
	mu sync.Mutex

	backendAttempts  uint64
	backendSuccesses uint64
	backendFailures  uint64
	fallbacks        uint64
	localFailures    uint64
	backendDuration  time.Duration
	localDuration    time.Duration

	promBackendTotal *prometheus.CounterVec
	promFallbacks    prometheus.Counter
	promLatency      *prometheus.HistogramVec
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	BackendAttempts  uint64
	BackendSuccesses uint64
	BackendFailures  uint64
	Fallbacks        uint64
	LocalFailures    uint64
	BackendDuration  time.Duration
	LocalDuration    time.Duration
}

// NewMetrics creates the metrics set, registering prometheus collectors
// with reg when it is non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		promBackendTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Subsystem: "routing",
			Name:      "backend_requests_total",
			Help:      "Backend routing decisions, labeled by outcome.",
		}, []string{"outcome"}),
		promFallbacks: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Subsystem: "routing",
			Name:      "local_fallbacks_total",
			Help:      "Quotes served by the local fallback path.",
		}),
		promLatency: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Subsystem: "routing",
			Name:      "quote_duration_seconds",
			Help:      "Quote latency by routing path.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"path"}),
	}
}

func (m *Metrics) RecordBackendSuccess(d time.Duration) {
	m.mu.Lock()
	m.backendAttempts++
	m.backendSuccesses++
	m.backendDuration += d
	m.mu.Unlock()

	m.promBackendTotal.WithLabelValues("success").Inc()
	m.promLatency.WithLabelValues("backend").Observe(d.Seconds())
}

func (m *Metrics) RecordBackendFailure(d time.Duration) {
	m.mu.Lock()
	m.backendAttempts++
	m.backendFailures++
	m.backendDuration += d
	m.mu.Unlock()

	m.promBackendTotal.WithLabelValues("failure").Inc()
}

func (m *Metrics) RecordFallback(d time.Duration, ok bool) {
	m.mu.Lock()
	m.fallbacks++
	if !ok {
		m.localFailures++
	}
	m.localDuration += d
	m.mu.Unlock()

	m.promFallbacks.Inc()
	m.promLatency.WithLabelValues("local").Observe(d.Seconds())
}

// Snapshot returns a copy of the counters.
func (m *Metrics) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		BackendAttempts:  m.backendAttempts,
		BackendSuccesses: m.backendSuccesses,
		BackendFailures:  m.backendFailures,
		Fallbacks:        m.fallbacks,
		LocalFailures:    m.localFailures,
		BackendDuration:  m.backendDuration,
		LocalDuration:    m.localDuration,
	}
}

// Reset zeroes the plain counters. Prometheus collectors are cumulative by
// design and are left alone.
func (m *Metrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.backendAttempts = 0
	m.backendSuccesses = 0
	m.backendFailures = 0
	m.fallbacks = 0
	m.localFailures = 0
	m.backendDuration = 0
	m.localDuration = 0
}
