package service

import (
	"net/http"
	"runtime"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/signage-rotation-api/internal/models"
)

// MetricsService owns the Prometheus registry and a set of atomic
// counters mirroring the most-watched series, so the system endpoint can
// serve a JSON snapshot without scraping the registry.
type MetricsService struct {
	registry            *prometheus.Registry
	handler             http.Handler
	requestDuration     *prometheus.HistogramVec
	requestTotal        *prometheus.CounterVec
	rotationTicks       *prometheus.CounterVec
	noEligibleTotal     prometheus.Counter
	invariantViolations prometheus.Counter
	versionCommits      prometheus.Counter
	proposalsRejected   prometheus.Counter
	advanceDuration     prometheus.Observer
	cacheLatency        prometheus.Observer
	cacheWrite          prometheus.Observer
	cacheHitRatio       prometheus.Gauge
	cacheHits           prometheus.Counter
	cacheMisses         prometheus.Counter
	dbQueryDuration     *prometheus.HistogramVec

	tickCount            atomic.Uint64
	noEligibleCount      atomic.Uint64
	invariantCount       atomic.Uint64
	commitCount          atomic.Uint64
	rejectedCount        atomic.Uint64
	cacheHitCount        atomic.Uint64
	cacheMissCount       atomic.Uint64
	requestCount         atomic.Uint64
	requestDurationTotal atomic.Uint64
	dbQueryCount         atomic.Uint64
	dbQueryDurationTotal atomic.Uint64
}

// NewMetricsService builds a registry with every collector the engine
// emits. Nothing is registered globally; tests can hold as many
// instances as they like.
func NewMetricsService() *MetricsService {
	m := &MetricsService{registry: prometheus.NewRegistry()}

	m.requestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})
	m.requestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
	m.rotationTicks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rotation_ticks_total",
		Help: "Screens served by the rotation, per screen reference",
	}, []string{"screen"})
	m.noEligibleTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rotation_no_eligible_total",
		Help: "Ticks on which no screen was eligible",
	})
	m.invariantViolations = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rotation_invariant_violations_total",
		Help: "Walks halted by a document invariant violation",
	})
	m.versionCommits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "schedule_versions_committed_total",
		Help: "Schedule versions appended to the ledger",
	})
	m.proposalsRejected = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "schedule_proposals_rejected_total",
		Help: "Schedule proposals rejected by validation or migration",
	})

	advance := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "rotation_advance_duration_seconds",
		Help:    "Time spent computing the next screen",
		Buckets: []float64{.00005, .0001, .0005, .001, .005, .01, .05},
	})
	m.advanceDuration = advance

	cacheLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_latency_seconds",
		Help:    "Latency for cache operations",
		Buckets: prometheus.DefBuckets,
	})
	m.cacheLatency = cacheLatency
	cacheWrite := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_write_seconds",
		Help:    "Latency for cache set operations",
		Buckets: prometheus.DefBuckets,
	})
	m.cacheWrite = cacheWrite
	m.cacheHitRatio = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cache_hit_ratio",
		Help: "Ratio of cache hits to total cache lookups",
	})
	m.cacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Total cache hits",
	})
	m.cacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Total cache misses",
	})
	m.dbQueryDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "db_query_duration_seconds",
		Help:    "Duration of database queries",
		Buckets: prometheus.DefBuckets,
	}, []string{"query"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 { return float64(runtime.NumGoroutine()) })

	m.registry.MustRegister(
		m.requestDuration, m.requestTotal, m.rotationTicks, m.noEligibleTotal,
		m.invariantViolations, m.versionCommits, m.proposalsRejected, advance,
		cacheLatency, cacheWrite, m.cacheHitRatio, m.cacheHits, m.cacheMisses,
		m.dbQueryDuration, goroutines,
	)
	m.handler = promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return m
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// RecordRotationTick counts a served screen.
func (m *MetricsService) RecordRotationTick(screen string) {
	if m == nil {
		return
	}
	m.rotationTicks.WithLabelValues(screen).Inc()
	m.tickCount.Add(1)
}

// RecordNoEligible counts a tick on which every step was gated.
func (m *MetricsService) RecordNoEligible() {
	if m == nil {
		return
	}
	m.noEligibleTotal.Inc()
	m.noEligibleCount.Add(1)
}

// RecordInvariantViolation counts a halted walk.
func (m *MetricsService) RecordInvariantViolation() {
	if m == nil {
		return
	}
	m.invariantViolations.Inc()
	m.invariantCount.Add(1)
}

// RecordVersionCommit counts a ledger append.
func (m *MetricsService) RecordVersionCommit() {
	if m == nil {
		return
	}
	m.versionCommits.Inc()
	m.commitCount.Add(1)
}

// RecordProposalRejected counts a rejected proposal.
func (m *MetricsService) RecordProposalRejected() {
	if m == nil {
		return
	}
	m.proposalsRejected.Inc()
	m.rejectedCount.Add(1)
}

// ObserveAdvance records how long computing the next screen took.
func (m *MetricsService) ObserveAdvance(duration time.Duration) {
	if m == nil || m.advanceDuration == nil {
		return
	}
	m.advanceDuration.Observe(duration.Seconds())
}

// ObserveHTTPRequest feeds the request histograms and the snapshot
// aggregates.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	code := strconv.Itoa(status)
	m.requestDuration.WithLabelValues(method, path, code).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, code).Inc()
	m.requestCount.Add(1)
	m.requestDurationTotal.Add(uint64(duration.Nanoseconds()))
}

// RecordCacheOperation counts a lookup and refreshes the hit-ratio gauge.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	if m.cacheLatency != nil {
		m.cacheLatency.Observe(duration.Seconds())
	}
	if hit {
		m.cacheHits.Inc()
		m.cacheHitCount.Add(1)
	} else {
		m.cacheMisses.Inc()
		m.cacheMissCount.Add(1)
	}
	if hits, misses := m.cacheHitCount.Load(), m.cacheMissCount.Load(); hits+misses > 0 {
		m.cacheHitRatio.Set(float64(hits) / float64(hits+misses))
	}
}

// ObserveCacheWrite tracks the duration for cache set operations.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil || m.cacheWrite == nil {
		return
	}
	m.cacheWrite.Observe(duration.Seconds())
}

// ObserveDBQuery records database query timing.
func (m *MetricsService) ObserveDBQuery(label string, duration time.Duration) {
	if m == nil {
		return
	}
	m.dbQueryDuration.WithLabelValues(label).Observe(duration.Seconds())
	m.dbQueryCount.Add(1)
	m.dbQueryDurationTotal.Add(uint64(duration.Nanoseconds()))
}

// Snapshot returns aggregated metrics for the system endpoint.
func (m *MetricsService) Snapshot() models.SystemMetrics {
	if m == nil {
		return models.SystemMetrics{}
	}

	hits := m.cacheHitCount.Load()
	misses := m.cacheMissCount.Load()
	requests := m.requestCount.Load()
	dbQueries := m.dbQueryCount.Load()

	var cacheRatio float64
	if hits+misses > 0 {
		cacheRatio = float64(hits) / float64(hits+misses)
	}
	var avgRequestMs float64
	if requests > 0 {
		avgRequestMs = float64(m.requestDurationTotal.Load()) / float64(requests) / float64(time.Millisecond)
	}
	var avgDBMs float64
	if dbQueries > 0 {
		avgDBMs = float64(m.dbQueryDurationTotal.Load()) / float64(dbQueries) / float64(time.Millisecond)
	}

	return models.SystemMetrics{
		RotationTicks:            m.tickCount.Load(),
		NoEligibleTicks:          m.noEligibleCount.Load(),
		InvariantViolations:      m.invariantCount.Load(),
		VersionCommits:           m.commitCount.Load(),
		ProposalsRejected:        m.rejectedCount.Load(),
		CacheHitRatio:            cacheRatio,
		CacheHits:                hits,
		CacheMisses:              misses,
		RequestsTotal:            requests,
		AverageRequestDurationMs: avgRequestMs,
		DBQueryCount:             dbQueries,
		AverageDBQueryDurationMs: avgDBMs,
		Goroutines:               runtime.NumGoroutine(),
		GeneratedAt:              time.Now().UTC(),
	}
}
