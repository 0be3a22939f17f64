package services

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// MetricsCollector owns the Prometheus metrics of the engine and the API. It
// registers on its own registry so several instances can coexist in tests.
// A nil collector is valid and records nothing.
type MetricsCollector struct {
	registry *prometheus.Registry

	recommendationRequests *prometheus.CounterVec
	recommendationLatency  prometheus.Histogram
	candidates             *prometheus.CounterVec
	slotTimeouts           prometheus.Counter
	diversityRejections    prometheus.Counter
	diversityFallbacks     prometheus.Counter
	surrogateFits          *prometheus.CounterVec
	constraintEvaluations  *prometheus.CounterVec
	embedderFailures       prometheus.Counter
	observationsRecorded   *prometheus.CounterVec
	cacheRequests          *prometheus.CounterVec
	httpRequests           *prometheus.CounterVec
	httpLatency            *prometheus.HistogramVec
}

func NewMetricsCollector() *MetricsCollector {
	reg := prometheus.NewRegistry()
	mc := &MetricsCollector{
		registry: reg,

		recommendationRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "optirex_recommendation_requests_total",
			Help: "Total number of recommendation calls by outcome",
		}, []string{"status"}),

		recommendationLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "optirex_recommendation_latency_seconds",
			Help:    "Recommendation call latency in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 2.0, 5.0, 15.0, 60.0},
		}),

		candidates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "optirex_candidates_total",
			Help: "Candidates returned, by predicate verdict",
		}, []string{"feasible"}),

		slotTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "optirex_slot_timeouts_total",
			Help: "Slot searches abandoned at the slot timeout",
		}),

		diversityRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "optirex_diversity_rejections_total",
			Help: "Candidates rejected for being too close to an accepted or observed point",
		}),

		diversityFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "optirex_diversity_fallbacks_total",
			Help: "Slots filled by a maximin sample after exhausting re-searches",
		}),

		surrogateFits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "optirex_surrogate_fits_total",
			Help: "Surrogate fits by source",
		}, []string{"source"}),

		constraintEvaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "optirex_constraint_evaluations_total",
			Help: "Feasibility predicate calls by outcome",
		}, []string{"outcome"}),

		embedderFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "optirex_embedder_training_failures_total",
			Help: "Descriptor trainings that kept the previous embedding",
		}),

		observationsRecorded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "optirex_observations_recorded_total",
			Help: "Observations accepted for storage by source",
		}, []string{"source"}),

		cacheRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "optirex_recommendation_cache_requests_total",
			Help: "Recommendation cache lookups by result",
		}, []string{"result"}),

		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "optirex_http_requests_total",
			Help: "HTTP requests by route, method and status",
		}, []string{"route", "method", "status"}),

		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "optirex_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		mc.recommendationRequests,
		mc.recommendationLatency,
		mc.candidates,
		mc.slotTimeouts,
		mc.diversityRejections,
		mc.diversityFallbacks,
		mc.surrogateFits,
		mc.constraintEvaluations,
		mc.embedderFailures,
		mc.observationsRecorded,
		mc.cacheRequests,
		mc.httpRequests,
		mc.httpLatency,
	)
	return mc
}

// Registry is served by the /metrics handler.
func (mc *MetricsCollector) Registry() *prometheus.Registry {
	if mc == nil {
		return nil
	}
	return mc.registry
}

func (mc *MetricsCollector) RecordRecommendation(duration time.Duration, err error) {
	if mc == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	mc.recommendationRequests.WithLabelValues(status).Inc()
	mc.recommendationLatency.Observe(duration.Seconds())
}

func (mc *MetricsCollector) RecordCandidate(feasible bool) {
	if mc == nil {
		return
	}
	label := "true"
	if !feasible {
		label = "false"
	}
	mc.candidates.WithLabelValues(label).Inc()
}

func (mc *MetricsCollector) RecordSlotTimeout() {
	if mc == nil {
		return
	}
	mc.slotTimeouts.Inc()
}

func (mc *MetricsCollector) RecordDiversity(stats DiversityStats) {
	if mc == nil {
		return
	}
	mc.diversityRejections.Add(float64(stats.Rejections))
	mc.diversityFallbacks.Add(float64(stats.Fallbacks))
}

func (mc *MetricsCollector) RecordSurrogateFit(cached bool) {
	if mc == nil {
		return
	}
	source := "fit"
	if cached {
		source = "cache"
	}
	mc.surrogateFits.WithLabelValues(source).Inc()
}

func (mc *MetricsCollector) RecordConstraintEvaluations(evaluations, failures int64) {
	if mc == nil {
		return
	}
	if ok := evaluations - failures; ok > 0 {
		mc.constraintEvaluations.WithLabelValues("ok").Add(float64(ok))
	}
	if failures > 0 {
		mc.constraintEvaluations.WithLabelValues("error").Add(float64(failures))
	}
}

func (mc *MetricsCollector) RecordEmbedderFailure() {
	if mc == nil {
		return
	}
	mc.embedderFailures.Inc()
}

func (mc *MetricsCollector) RecordObservations(source string, n int) {
	if mc == nil {
		return
	}
	mc.observationsRecorded.WithLabelValues(source).Add(float64(n))
}

func (mc *MetricsCollector) RecordCache(hit bool) {
	if mc == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	mc.cacheRequests.WithLabelValues(result).Inc()
}

func (mc *MetricsCollector) RecordHTTPRequest(route, method, status string, duration time.Duration) {
	if mc == nil {
		return
	}
	mc.httpRequests.WithLabelValues(route, method, status).Inc()
	mc.httpLatency.WithLabelValues(route, method).Observe(duration.Seconds())
}
