package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the collectors updated by the capture pipeline and monitor.
type Metrics struct {
	// Events committed to the event log, by kind.
	EventsTotal *prometheus.CounterVec

	// Capture degradations, by context label (request-headers, response-body, ...).
	CaptureErrors *prometheus.CounterVec

	// Responses/failures that arrived without a matching request.
	CorrelationMisses *prometheus.CounterVec

	// Oldest-first evictions from the bounded event log.
	EventsEvicted prometheus.Counter

	EventLogSize         prometheus.Gauge
	CorrelationStoreSize prometheus.Gauge

	ResponseDuration prometheus.Histogram
}

// New registers the collectors on reg. A nil reg gets a private registry so
// monitors that are never scraped do not collide on the default one.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		EventsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "netmon_events_total",
			Help: "Network events appended to the event log.",
		}, []string{"kind"}),

		CaptureErrors: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "netmon_capture_errors_total",
			Help: "Failures while reading request/response data from the browser.",
		}, []string{"context"}),

		CorrelationMisses: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "netmon_correlation_misses_total",
			Help: "Responses or failures with no matching request.",
		}, []string{"kind"}),

		EventsEvicted: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "netmon_events_evicted_total",
			Help: "Events dropped from the event log to stay within capacity.",
		}),

		EventLogSize: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "netmon_event_log_size",
			Help: "Events currently retained in the event log.",
		}),

		CorrelationStoreSize: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "netmon_correlation_store_size",
			Help: "Requests tracked for correlation in the current session.",
		}),

		ResponseDuration: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "netmon_response_duration_seconds",
			Help:    "Time from request start to response for correlated responses.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
	}
}
