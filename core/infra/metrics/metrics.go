package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Acquire outcomes used as the result label on lock counters.
const (
	ResultGranted   = "granted"
	ResultNoQuorum  = "no_quorum"
	ResultNoBudget  = "no_budget"
	ResultConflict  = "conflict"
	ResultError     = "error"
	ResultCancelled = "cancelled"
)

// LockMetrics captures counters for the lock clients and the token allocator.
type LockMetrics interface {
	IncAcquire(result string)
	ObserveAcquireSeconds(seconds float64)
	IncRelease(result string)
	IncExtend(result string)
	IncCleanupFailure()
	IncTokenIssued()
	IncStaleRejected()
}

// HTTPMetrics captures request metrics for the lockd wire surface.
type HTTPMetrics interface {
	ObserveRequest(method, route, status string, durationSeconds float64)
}

// Noop implements LockMetrics without emitting anything.
type Noop struct{}

func (Noop) IncAcquire(string)             {}
func (Noop) ObserveAcquireSeconds(float64) {}
func (Noop) IncRelease(string)             {}
func (Noop) IncExtend(string)              {}
func (Noop) IncCleanupFailure()            {}
func (Noop) IncTokenIssued()               {}
func (Noop) IncStaleRejected()             {}

// NoopHTTP implements HTTPMetrics without emitting anything.
type NoopHTTP struct{}

func (NoopHTTP) ObserveRequest(string, string, string, float64) {}

// Prom implements LockMetrics backed by Prometheus collectors.
type Prom struct {
	acquires        *prometheus.CounterVec
	releases        *prometheus.CounterVec
	extends         *prometheus.CounterVec
	cleanupFailures prometheus.Counter
	tokensIssued    prometheus.Counter
	staleRejected   prometheus.Counter
	acquireLatency  prometheus.Histogram
	once            sync.Once
}

func NewProm(namespace string) *Prom {
	p := &Prom{
		acquires: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "acquire_total",
			Help:      "Lease acquire attempts by result",
		}, []string{"result"}),
		releases: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "release_total",
			Help:      "Lease releases by result",
		}, []string{"result"}),
		extends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extend_total",
			Help:      "Lease extensions by result",
		}, []string{"result"}),
		cleanupFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cleanup_failures_total",
			Help:      "Best-effort minority cleanups that failed",
		}),
		tokensIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fencing_tokens_issued_total",
			Help:      "Fencing tokens handed out by the allocator",
		}),
		staleRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_tokens_rejected_total",
			Help:      "Writes rejected because the token was below the high-water mark",
		}),
		acquireLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "acquire_duration_seconds",
			Help:      "Wall-clock duration of acquire broadcasts",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	p.register()
	return p
}

func (p *Prom) register() {
	p.once.Do(func() {
		prometheus.MustRegister(p.acquires, p.releases, p.extends,
			p.cleanupFailures, p.tokensIssued, p.staleRejected, p.acquireLatency)
	})
}

func (p *Prom) IncAcquire(result string) {
	p.acquires.WithLabelValues(result).Inc()
}

func (p *Prom) ObserveAcquireSeconds(seconds float64) {
	p.acquireLatency.Observe(seconds)
}

func (p *Prom) IncRelease(result string) {
	p.releases.WithLabelValues(result).Inc()
}

func (p *Prom) IncExtend(result string) {
	p.extends.WithLabelValues(result).Inc()
}

func (p *Prom) IncCleanupFailure() {
	p.cleanupFailures.Inc()
}

func (p *Prom) IncTokenIssued() {
	p.tokensIssued.Inc()
}

func (p *Prom) IncStaleRejected() {
	p.staleRejected.Inc()
}

// Handler returns an HTTP handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

type httpProm struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	once     sync.Once
}

// NewHTTPProm constructs an HTTPMetrics with counters/histograms.
func NewHTTPProm(namespace string) HTTPMetrics {
	h := &httpProm{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method/route/status",
		}, []string{"method", "route", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method/route",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	h.register()
	return h
}

func (h *httpProm) register() {
	h.once.Do(func() {
		prometheus.MustRegister(h.requests, h.latency)
	})
}

func (h *httpProm) ObserveRequest(method, route, status string, durationSeconds float64) {
	h.requests.WithLabelValues(method, route, status).Inc()
	h.latency.WithLabelValues(method, route).Observe(durationSeconds)
}
