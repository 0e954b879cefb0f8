package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetMetrics(t *testing.T) {
	metrics := GetMetrics()
	assert.NotNil(t, metrics, "Metrics should not be nil")
	assert.Same(t, metrics, GetMetrics(), "GetMetrics should return the same instance")
}

func TestAllMetricsInitialized(t *testing.T) {
	m := NewWithRegistry(prometheus.NewRegistry())

	assert.NotNil(t, m.FetchTotal)
	assert.NotNil(t, m.FetchDuration)
	assert.NotNil(t, m.FetchDocuments)
	assert.NotNil(t, m.SubscriptionsActive)
	assert.NotNil(t, m.SubscriptionsTotal)
	assert.NotNil(t, m.UpdatesDeliveredTotal)
	assert.NotNil(t, m.UpdatesDroppedTotal)
	assert.NotNil(t, m.SubscriptionErrorsTotal)
	assert.NotNil(t, m.CoordinatorState)
	assert.NotNil(t, m.SinkRecordsTotal)
	assert.NotNil(t, m.SinkErrorsTotal)
	assert.NotNil(t, m.APIRequestsTotal)
	assert.NotNil(t, m.APIRequestDuration)
}

func TestObserveFetch(t *testing.T) {
	m := NewWithRegistry(prometheus.NewRegistry())

	m.ObserveFetch(nil, 20*time.Millisecond, 3)
	m.ObserveFetch(errors.New("unavailable"), time.Millisecond, 0)
	m.ObserveFetch(nil, time.Millisecond, 1)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.FetchTotal.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FetchTotal.WithLabelValues("failure")))
}

func TestSetState(t *testing.T) {
	m := NewWithRegistry(prometheus.NewRegistry())
	states := []string{"idle", "fetching", "active"}

	m.SetState("fetching", states...)
	m.SetState("active", states...)

	assert.Equal(t, 0.0, testutil.ToFloat64(m.CoordinatorState.WithLabelValues("idle")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.CoordinatorState.WithLabelValues("fetching")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CoordinatorState.WithLabelValues("active")))
}

func TestSeparateRegistries(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry(reg)
	m.SubscriptionsActive.Set(2)
	m.UpdatesDroppedTotal.WithLabelValues(DropStale).Inc()

	families, err := reg.Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["docsync_subscriptions_active"])
	assert.True(t, names["docsync_updates_dropped_total"])

	// a second set on a fresh registry must not collide
	assert.NotPanics(t, func() { NewWithRegistry(prometheus.NewRegistry()) })
}

func BenchmarkMetricsOperations(b *testing.B) {
	m := NewWithRegistry(prometheus.NewRegistry())

	b.Run("Counter.Inc", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			m.UpdatesDeliveredTotal.Inc()
		}
	})

	b.Run("CounterVec.WithLabelValues", func(b *testing.B) {
		sinks := []string{"log", "cache", "mirror", "pubsub"}
		for i := 0; i < b.N; i++ {
			m.SinkRecordsTotal.WithLabelValues(sinks[i%len(sinks)]).Inc()
		}
	})
}
