// Package metrics holds the Prometheus collectors of the ranklist service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ranklist"

// Metrics groups every collector the service records to.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	gatherer prometheus.Gatherer

	membershipActions *prometheus.CounterVec
	rankingLatency    *prometheus.HistogramVec
	cacheLookups      *prometheus.CounterVec
	recomputeDuration prometheus.Histogram
	recomputeMembers  prometheus.Counter
	creditMismatches  prometheus.Gauge
	ingestedRecords   *prometheus.CounterVec

	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// New registers all collectors on a fresh registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	return NewWithRegistry(reg, reg)
}

// NewWithRegistry registers all collectors on reg and serves them from gatherer
func NewWithRegistry(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Metrics {
	auto := promauto.With(reg)
	m := &Metrics{gatherer: gatherer}

	m.membershipActions = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "membership_actions_total",
		Help:      "Join and leave attempts by outcome",
	}, []string{"action", "outcome"})

	m.rankingLatency = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "aggregation_duration_seconds",
		Help:      "Time spent building ranking grids and user histories",
		Buckets:   prometheus.DefBuckets,
	}, []string{"view"})

	m.cacheLookups = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ranking_cache_lookups_total",
		Help:      "Ranking cache lookups by result",
	}, []string{"result"})

	m.recomputeDuration = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "recompute_duration_seconds",
		Help:      "Duration of score recompute cycles",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
	})

	m.recomputeMembers = auto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "recomputed_members_total",
		Help:      "Member scores written by recompute cycles",
	})

	m.creditMismatches = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "strict_attendance_credit_mismatches",
		Help:      "Cells in the last recompute shown as absent whose solves still count towards the score",
	})

	m.ingestedRecords = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ingested_records_total",
		Help:      "Stat records received by kind and outcome",
	}, []string{"kind", "outcome"})

	m.httpRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests by route, method and status code",
	}, []string{"route", "method", "status_code"})

	m.httpRequestDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration by route and method",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route", "method"})

	return m
}

// Handler serves the registered collectors
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// RecordMembershipAction counts a join or leave attempt
func (m *Metrics) RecordMembershipAction(action, outcome string) {
	if m == nil {
		return
	}
	m.membershipActions.WithLabelValues(action, outcome).Inc()
}

// ObserveAggregation records how long building a view took
func (m *Metrics) ObserveAggregation(view string, d time.Duration) {
	if m == nil {
		return
	}
	m.rankingLatency.WithLabelValues(view).Observe(d.Seconds())
}

// RecordCacheLookup counts a cache hit or miss
func (m *Metrics) RecordCacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

// ObserveRecompute records a finished recompute cycle
func (m *Metrics) ObserveRecompute(d time.Duration, members, mismatches int) {
	if m == nil {
		return
	}
	m.recomputeDuration.Observe(d.Seconds())
	m.recomputeMembers.Add(float64(members))
	m.creditMismatches.Set(float64(mismatches))
}

// RecordIngested counts ingested records
func (m *Metrics) RecordIngested(kind, outcome string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.ingestedRecords.WithLabelValues(kind, outcome).Add(float64(n))
}

// Middleware records request counts and durations labelled by chi route pattern
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.httpRequests.WithLabelValues(route, r.Method, strconv.Itoa(status)).Inc()
		m.httpRequestDuration.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}
