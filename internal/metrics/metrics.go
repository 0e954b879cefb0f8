package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	instance *Metrics
	once     sync.Once
)

// Drop reasons for UpdatesDroppedTotal
const (
	DropStale     = "stale"
	DropCancelled = "cancelled"
)

// Metrics holds Prometheus metrics for docsync
type Metrics struct {
	// Fetch metrics
	FetchTotal     *prometheus.CounterVec
	FetchDuration  prometheus.Histogram
	FetchDocuments prometheus.Histogram

	// Subscription metrics
	SubscriptionsActive     prometheus.Gauge
	SubscriptionsTotal      *prometheus.CounterVec
	UpdatesDeliveredTotal   prometheus.Counter
	UpdatesDroppedTotal     *prometheus.CounterVec
	SubscriptionErrorsTotal prometheus.Counter

	// Coordinator metrics
	CoordinatorState *prometheus.GaugeVec

	// Sink metrics
	SinkRecordsTotal *prometheus.CounterVec
	SinkErrorsTotal  *prometheus.CounterVec

	// API metrics
	APIRequestsTotal   *prometheus.CounterVec
	APIRequestDuration *prometheus.HistogramVec
}

// GetMetrics returns the metrics singleton registered with the default registry
func GetMetrics() *Metrics {
	once.Do(func() {
		instance = newMetrics(promauto.With(prometheus.DefaultRegisterer))
	})
	return instance
}

// NewWithRegistry builds a metrics set registered against reg, for isolated tests
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	return newMetrics(promauto.With(reg))
}

func newMetrics(f promauto.Factory) *Metrics {
	m := &Metrics{}

	m.FetchTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docsync_fetch_total",
			Help: "Total number of initial collection fetches",
		},
		[]string{"result"}, // success, failure
	)

	m.FetchDuration = f.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "docsync_fetch_duration_seconds",
			Help:    "Duration of the initial collection fetch in seconds",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // from 5ms to ~10s
		},
	)

	m.FetchDocuments = f.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "docsync_fetch_documents",
			Help:    "Number of documents returned by the initial fetch",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8), // from 1 to ~16k
		},
	)

	m.SubscriptionsActive = f.NewGauge(
		prometheus.GaugeOpts{
			Name: "docsync_subscriptions_active",
			Help: "Number of live per-document subscriptions",
		},
	)

	m.SubscriptionsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docsync_subscriptions_total",
			Help: "Total number of subscription attempts",
		},
		[]string{"result"}, // registered, duplicate, failed
	)

	m.UpdatesDeliveredTotal = f.NewCounter(
		prometheus.CounterOpts{
			Name: "docsync_updates_delivered_total",
			Help: "Total number of document updates handed to callbacks",
		},
	)

	m.UpdatesDroppedTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docsync_updates_dropped_total",
			Help: "Total number of document updates not delivered",
		},
		[]string{"reason"},
	)

	m.SubscriptionErrorsTotal = f.NewCounter(
		prometheus.CounterOpts{
			Name: "docsync_subscription_errors_total",
			Help: "Total number of subscriptions torn down by a stream error",
		},
	)

	m.CoordinatorState = f.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "docsync_coordinator_state",
			Help: "Current coordinator state, 1 for the active state and 0 otherwise",
		},
		[]string{"state"},
	)

	m.SinkRecordsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docsync_sink_records_total",
			Help: "Total number of records written per sink",
		},
		[]string{"sink"},
	)

	m.SinkErrorsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docsync_sink_errors_total",
			Help: "Total number of records a sink failed to write",
		},
		[]string{"sink"},
	)

	m.APIRequestsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docsync_api_requests_total",
			Help: "Total number of status API requests",
		},
		[]string{"method", "path", "status"},
	)

	m.APIRequestDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docsync_api_request_duration_seconds",
			Help:    "Status API request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // from 1ms to ~2s
		},
		[]string{"method", "path"},
	)

	return m
}

// ObserveFetch records the outcome of one collection fetch
func (m *Metrics) ObserveFetch(err error, took time.Duration, documents int) {
	m.FetchDuration.Observe(took.Seconds())
	if err != nil {
		m.FetchTotal.WithLabelValues("failure").Inc()
		return
	}
	m.FetchTotal.WithLabelValues("success").Inc()
	m.FetchDocuments.Observe(float64(documents))
}

// SetState marks state as the current coordinator state among states
func (m *Metrics) SetState(state string, states ...string) {
	for _, s := range states {
		m.CoordinatorState.WithLabelValues(s).Set(0)
	}
	m.CoordinatorState.WithLabelValues(state).Set(1)
}
