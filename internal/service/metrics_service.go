package service

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Transition outcomes recorded by MetricsService.
const (
	TransitionOutcomeApplied  = "applied"
	TransitionOutcomeNoop     = "noop"
	TransitionOutcomeRejected = "rejected"
	TransitionOutcomeNotFound = "not_found"
	TransitionOutcomeFailed   = "failed"
)

// Notification delivery results recorded by MetricsService.
const (
	NotificationResultQueued    = "queued"
	NotificationResultDelivered = "delivered"
	NotificationResultDropped   = "dropped"
	NotificationResultFailed    = "failed"
)

// MetricsService encapsulates Prometheus instrumentation and provides lightweight snapshots for API consumption.
type MetricsService struct {
	registry             *prometheus.Registry
	handler              http.Handler
	requestDuration      *prometheus.HistogramVec
	requestTotal         *prometheus.CounterVec
	cacheLatency         prometheus.Observer
	cacheWrite           prometheus.Observer
	cacheHitRatio        prometheus.Gauge
	cacheHits            prometheus.Counter
	cacheMisses          prometheus.Counter
	transitionTotal      *prometheus.CounterVec
	transitionDuration   *prometheus.HistogramVec
	waitlistRepositioned prometheus.Counter
	notificationTotal    *prometheus.CounterVec

	cacheHitCount        uint64
	cacheMissCount       uint64
	requestCount         uint64
	requestDurationTotal uint64
	transitionCount      uint64
	rejectedCount        uint64
}

// MetricsSnapshot is a JSON friendly view over the in-process counters.
type MetricsSnapshot struct {
	CacheHitRatio            float64   `json:"cache_hit_ratio"`
	CacheHits                uint64    `json:"cache_hits"`
	CacheMisses              uint64    `json:"cache_misses"`
	RequestsTotal            uint64    `json:"requests_total"`
	AverageRequestDurationMs float64   `json:"average_request_duration_ms"`
	TransitionsTotal         uint64    `json:"transitions_total"`
	TransitionsRejected      uint64    `json:"transitions_rejected"`
	Goroutines               int       `json:"goroutines"`
	GeneratedAt              time.Time `json:"generated_at"`
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	cacheLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_latency_seconds",
		Help:    "Latency for cache operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheWrite := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_write_seconds",
		Help:    "Latency for cache set operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheHitRatio := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cache_hit_ratio",
		Help: "Ratio of cache hits to total cache lookups",
	})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Total cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Total cache misses",
	})

	transitionTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "enrollment_transitions_total",
		Help: "Enrollment status transitions by source, target and outcome",
	}, []string{"from", "to", "outcome"})

	transitionDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "enrollment_transition_duration_seconds",
		Help:    "Duration of the enrollment transition unit of work",
		Buckets: prometheus.DefBuckets,
	}, []string{"outcome"})

	waitlistRepositioned := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "enrollment_waitlist_repositions_total",
		Help: "Waitlist rows whose position was rewritten",
	})

	notificationTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "enrollment_notifications_total",
		Help: "Enrollment notifications by delivery result",
	}, []string{"result"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, cacheLatency, cacheWrite, cacheHitRatio, cacheHits, cacheMisses,
		transitionTotal, transitionDuration, waitlistRepositioned, notificationTotal, goroutines)

	return &MetricsService{
		registry:             registry,
		handler:              promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration:      requestDuration,
		requestTotal:         requestTotal,
		cacheLatency:         cacheLatency,
		cacheWrite:           cacheWrite,
		cacheHitRatio:        cacheHitRatio,
		cacheHits:            cacheHits,
		cacheMisses:          cacheMisses,
		transitionTotal:      transitionTotal,
		transitionDuration:   transitionDuration,
		waitlistRepositioned: waitlistRepositioned,
		notificationTotal:    notificationTotal,
	}
}

// Registry exposes the underlying registry, mainly for tests.
func (m *MetricsService) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
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

// ObserveHTTPRequest records request metrics and aggregates simple stats for snapshots.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
	atomic.AddUint64(&m.requestCount, 1)
	atomic.AddUint64(&m.requestDurationTotal, uint64(duration.Nanoseconds()))
}

// RecordCacheOperation records cache hit/miss metrics and updates hit ratio.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheLatency.Observe(duration.Seconds())
	if hit {
		m.cacheHits.Inc()
		atomic.AddUint64(&m.cacheHitCount, 1)
	} else {
		m.cacheMisses.Inc()
		atomic.AddUint64(&m.cacheMissCount, 1)
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	total := hits + atomic.LoadUint64(&m.cacheMissCount)
	if total > 0 {
		m.cacheHitRatio.Set(float64(hits) / float64(total))
	}
}

// ObserveCacheWrite tracks the duration for cache write operations.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheWrite.Observe(duration.Seconds())
}

// ObserveTransition records the outcome of one transition request.
func (m *MetricsService) ObserveTransition(from, to, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.transitionTotal.WithLabelValues(from, to, outcome).Inc()
	m.transitionDuration.WithLabelValues(outcome).Observe(duration.Seconds())
	atomic.AddUint64(&m.transitionCount, 1)
	if outcome == TransitionOutcomeRejected {
		atomic.AddUint64(&m.rejectedCount, 1)
	}
}

// AddWaitlistRepositions counts rewritten waitlist positions.
func (m *MetricsService) AddWaitlistRepositions(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.waitlistRepositioned.Add(float64(n))
}

// RecordNotification counts a notification delivery result.
func (m *MetricsService) RecordNotification(result string) {
	if m == nil {
		return
	}
	m.notificationTotal.WithLabelValues(result).Inc()
}

// Snapshot returns aggregated counters for the JSON metrics endpoint.
func (m *MetricsService) Snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	misses := atomic.LoadUint64(&m.cacheMissCount)
	requests := atomic.LoadUint64(&m.requestCount)
	reqDuration := atomic.LoadUint64(&m.requestDurationTotal)

	var cacheRatio float64
	if total := hits + misses; total > 0 {
		cacheRatio = float64(hits) / float64(total)
	}

	var avgRequestMs float64
	if requests > 0 {
		avgRequestMs = float64(reqDuration) / float64(requests) / float64(time.Millisecond)
	}

	return MetricsSnapshot{
		CacheHitRatio:            cacheRatio,
		CacheHits:                hits,
		CacheMisses:              misses,
		RequestsTotal:            requests,
		AverageRequestDurationMs: avgRequestMs,
		TransitionsTotal:         atomic.LoadUint64(&m.transitionCount),
		TransitionsRejected:      atomic.LoadUint64(&m.rejectedCount),
		Goroutines:               runtime.NumGoroutine(),
		GeneratedAt:              time.Now().UTC(),
	}
}
