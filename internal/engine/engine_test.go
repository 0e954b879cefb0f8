package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nkkko/docsync/internal/config"
	"github.com/nkkko/docsync/internal/coordinator"
	"github.com/nkkko/docsync/internal/metrics"
	"github.com/nkkko/docsync/internal/store/memory"
	"github.com/nkkko/docsync/pkg/proto"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const collection = "plate-states-160"

type recordingSink struct {
	mu      sync.Mutex
	records []string
}

func (s *recordingSink) Record(id string, _ map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, id)
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Server.Enabled = false
	cfg.Sinks.Log = false
	cfg.Sinks.CacheSize = 16
	return cfg
}

func isolatedMetrics() Option {
	return WithMetrics(metrics.NewWithRegistry(prometheus.NewRegistry()))
}

func TestRunSyncsAndShutsDown(t *testing.T) {
	store := memory.New()
	store.Put(collection, "A", map[string]any{"x": 1})
	store.Put(collection, "B", map[string]any{"x": 2})

	extra := &recordingSink{}
	e, err := New(context.Background(), testConfig(), WithStore(store), WithSink(extra), isolatedMetrics())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	require.Eventually(t, func() bool {
		return e.Coordinator().State() == coordinator.StateActive
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"A", "B"}, e.Registry().Active())

	store.Put(collection, "A", map[string]any{"x": 5})
	require.Eventually(t, func() bool {
		data, ok := e.Cache().Get("A")
		return ok && data["x"] == 5
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}

	assert.Equal(t, coordinator.StateIdle, e.Coordinator().State())
	assert.Zero(t, e.Registry().Len())
	assert.Zero(t, store.OpenStreams(collection, "A"))

	extra.mu.Lock()
	assert.Contains(t, extra.records, "A")
	assert.Contains(t, extra.records, "B")
	extra.mu.Unlock()

	// Second shutdown is a no-op
	assert.NoError(t, e.Shutdown(context.Background()))
}

func TestRunReturnsFetchFailure(t *testing.T) {
	store := memory.New()
	store.SetListFunc(func(string, []*proto.Document) ([]*proto.Document, error) {
		return nil, errors.New("permission denied")
	})

	e, err := New(context.Background(), testConfig(), WithStore(store), isolatedMetrics())
	require.NoError(t, err)

	err = e.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, coordinator.ErrFetchFailed)
	assert.Zero(t, e.Registry().Len())
}

func TestNewWithoutCache(t *testing.T) {
	cfg := testConfig()
	cfg.Sinks.CacheSize = 0
	cfg.Server.Enabled = true

	e, err := New(context.Background(), cfg, WithStore(memory.New()), isolatedMetrics())
	require.NoError(t, err)
	assert.Nil(t, e.Cache())
	assert.NotNil(t, e.api)

	require.NoError(t, e.Shutdown(context.Background()))
}

func TestNewRejectsUnknownStore(t *testing.T) {
	cfg := testConfig()
	cfg.Store.Type = "carrier-pigeon"

	_, err := New(context.Background(), cfg)
	assert.ErrorContains(t, err, "unknown store type")
}
