package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "avy_enricher"

// Metrics holds the Prometheus counters, histograms, and gauges for the service.
type Metrics struct {
	// Ingress metrics.
	WebhookRequests      *prometheus.CounterVec // labels: outcome={queued,ignored,bad_signature,malformed,enqueue_failed,verified,rejected}
	NotificationsQueued  prometheus.Counter
	NotificationsDropped prometheus.Counter

	// Worker metrics.
	NotificationsProcessed *prometheus.CounterVec // labels: branch
	ProcessingErrors       *prometheus.CounterVec // labels: kind, retry={true,false}
	ProcessingDuration     prometheus.Histogram
	DeadLettered           prometheus.Counter
	WorkerRunning          prometheus.Gauge

	// Forecast metrics.
	ForecastLookups     *prometheus.CounterVec // labels: outcome={available,not_available,outside_coverage,error}
	ForecastCache       *prometheus.CounterVec // labels: result={hit,miss}
	ForecastAPIDuration *prometheus.HistogramVec

	// Credential metrics.
	TokenRefreshes *prometheus.CounterVec // labels: outcome={success,error}
	OAuthCallbacks *prometheus.CounterVec // labels: outcome
	StatesSwept    prometheus.Counter
}

func newMetrics() *Metrics {
	return &Metrics{
		WebhookRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_requests_total",
			Help:      "Webhook requests by outcome.",
		}, []string{"outcome"}),
		NotificationsQueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_queued_total",
			Help:      "Notifications written to the queue.",
		}),
		NotificationsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_dropped_total",
			Help:      "Verified notifications that failed the structural filter.",
		}),
		NotificationsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_processed_total",
			Help:      "Notifications processed by branch.",
		}, []string{"branch"}),
		ProcessingErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "processing_errors_total",
			Help:      "Processing failures by error kind and retryability.",
		}, []string{"kind", "retry"}),
		ProcessingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "processing_duration_seconds",
			Help:      "Duration of a single processing attempt.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		DeadLettered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dead_lettered_total",
			Help:      "Notifications moved to the dead-letter topic.",
		}),
		WorkerRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "worker_running",
			Help:      "1 when the worker is consuming, 0 when shut down.",
		}),
		ForecastLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "forecast_lookups_total",
			Help:      "Forecast lookups by outcome.",
		}, []string{"outcome"}),
		ForecastCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "forecast_cache_total",
			Help:      "Forecast cache lookups by result.",
		}, []string{"result"}),
		ForecastAPIDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "forecast_api_duration_seconds",
			Help:      "Avalanche forecast API request duration in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"endpoint"}),
		TokenRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_refreshes_total",
			Help:      "Access token refreshes by outcome.",
		}, []string{"outcome"}),
		OAuthCallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "oauth_callbacks_total",
			Help:      "OAuth callbacks by outcome.",
		}, []string{"outcome"}),
		StatesSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_states_swept_total",
			Help:      "Expired authorization states removed by the sweeper.",
		}),
	}
}

// NewMetrics creates and registers all service metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(m.collectors()...)
	return m
}

// NewMetricsForTesting creates Metrics that are not registered anywhere, so
// tests can build as many as they like.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.WebhookRequests,
		m.NotificationsQueued,
		m.NotificationsDropped,
		m.NotificationsProcessed,
		m.ProcessingErrors,
		m.ProcessingDuration,
		m.DeadLettered,
		m.WorkerRunning,
		m.ForecastLookups,
		m.ForecastCache,
		m.ForecastAPIDuration,
		m.TokenRefreshes,
		m.OAuthCallbacks,
		m.StatesSwept,
	}
}
