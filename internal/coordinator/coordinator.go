package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nkkko/docsync/internal/domain"
	"github.com/nkkko/docsync/internal/logging"
	"github.com/nkkko/docsync/internal/metrics"
	"github.com/nkkko/docsync/internal/registry"
	"github.com/nkkko/docsync/internal/telemetry"
	"github.com/nkkko/docsync/pkg/proto"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// Registry is the subset of *registry.Registry the coordinator drives
type Registry interface {
	Register(collection, id string, cb registry.Callback, opts ...registry.RegisterOption) (*registry.Handle, error)
	CancelAll() int
	Len() int
}

// Config contains coordinator configuration
type Config struct {
	// Upper bound for the initial listing, zero for none
	FetchTimeout time.Duration

	// Store type recorded on fetch spans, e.g. memory or firestore
	StoreType string

	// Defaults to the process-wide metrics
	Metrics *metrics.Metrics
}

// DefaultConfig returns a default coordinator configuration
func DefaultConfig() Config {
	return Config{FetchTimeout: 30 * time.Second}
}

// Report summarises one Start
type Report struct {
	Collection string           `json:"collection"`
	Fetched    int              `json:"fetched"`
	Subscribed int              `json:"subscribed"`
	Duplicates int              `json:"duplicates"`
	Failures   map[string]error `json:"-"`
}

// Status is a point-in-time view of the coordinator
type Status struct {
	State         string  `json:"state"`
	Collection    string  `json:"collection,omitempty"`
	Subscriptions int     `json:"subscriptions"`
	LastReport    *Report `json:"last_report,omitempty"`
}

// Coordinator fetches a collection once, records every document and then
// keeps one live subscription per document id
type Coordinator struct {
	config      Config
	store       domain.RemoteStore
	registry    Registry
	sink        domain.Sink
	state       State
	collection  string
	lastReport  *Report
	cancelFetch context.CancelFunc

	// closed when the latest Start returns
	running chan struct{}

	// bumped by every Start and Stop; callbacks from an older epoch are dropped
	epoch atomic.Uint64

	mu      sync.Mutex
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

// New creates an idle coordinator
func New(store domain.RemoteStore, reg Registry, sink domain.Sink, config ...Config) *Coordinator {
	cfg := DefaultConfig()
	if len(config) > 0 {
		cfg = config[0]
	}

	m := cfg.Metrics
	if m == nil {
		m = metrics.GetMetrics()
	}

	c := &Coordinator{
		config:   cfg,
		store:    store,
		registry: reg,
		sink:     sink,
		state:    StateIdle,
		logger:   logging.Component("coordinator"),
		metrics:  m,
	}
	c.metrics.SetState(StateIdle.String(), allStateNames()...)
	return c
}

// Start lists collection and subscribes to every document in it. ctx bounds
// the listing only; subscriptions live until Stop. A Start that follows a
// Stop waits for the interrupted Start to release its subscriptions first.
func (c *Coordinator) Start(ctx context.Context, collection string) (*Report, error) {
	ctx, span := telemetry.StartSpan(ctx, "coordinator.start",
		trace.WithAttributes(telemetry.AttrCollection.String(collection)))
	defer span.End()
	ctx = logging.WithContext(ctx, c.logger)
	logger := logging.FromContext(ctx)

	c.mu.Lock()
	if !c.state.canStart() {
		state := c.state
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: start while %s", ErrInvalidState, state)
	}
	epoch := c.epoch.Add(1)
	previous := c.running
	done := make(chan struct{})
	c.running = done
	defer close(done)

	fetchCtx, cancel := context.WithCancel(ctx)
	if c.config.FetchTimeout > 0 {
		var cancelTimeout context.CancelFunc
		fetchCtx, cancelTimeout = context.WithTimeout(fetchCtx, c.config.FetchTimeout)
		parent := cancel
		cancel = func() {
			cancelTimeout()
			parent()
		}
	}
	c.cancelFetch = cancel
	c.collection = collection
	c.setState(StateFetching)
	c.mu.Unlock()

	docs, err := c.awaitAndFetch(fetchCtx, previous, collection)
	cancel()

	c.mu.Lock()
	if c.epoch.Load() != epoch {
		c.mu.Unlock()
		return nil, ErrStopped
	}
	c.cancelFetch = nil
	if err != nil {
		c.setState(StateFailed)
		c.mu.Unlock()

		ferr := &FetchFailedError{Collection: collection, Err: err}
		telemetry.MarkSpanError(ctx, ferr)
		logger.Error().Err(err).Str("collection", collection).Msg("Initial fetch failed")
		return nil, ferr
	}
	c.setState(StateSubscribing)
	c.mu.Unlock()

	report, handles, stopped := c.subscribeAll(ctx, epoch, collection, docs)
	if stopped {
		cancelHandles(handles)
		return report, ErrStopped
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch.Load() != epoch {
		cancelHandles(handles)
		return report, ErrStopped
	}
	c.lastReport = report
	c.setState(StateActive)

	logger.Info().
		Str("collection", collection).
		Int("fetched", report.Fetched).
		Int("subscribed", report.Subscribed).
		Int("duplicates", report.Duplicates).
		Int("failures", len(report.Failures)).
		Msg("Sync active")

	return report, nil
}

// awaitAndFetch lists collection once the Start before this one has returned
func (c *Coordinator) awaitAndFetch(ctx context.Context, previous <-chan struct{}, collection string) ([]*proto.Document, error) {
	if previous != nil {
		select {
		case <-previous:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return c.fetch(ctx, collection)
}

// cancelHandles releases the subscriptions one Start registered. An id that a
// Stop already released, or that a newer run owns, is left alone.
func cancelHandles(handles []*registry.Handle) {
	for _, h := range handles {
		_ = h.Cancel()
	}
}

func (c *Coordinator) fetch(ctx context.Context, collection string) ([]*proto.Document, error) {
	ctx, span := telemetry.StartSpan(ctx, "coordinator.fetch")
	defer span.End()
	if c.config.StoreType != "" {
		span.SetAttributes(telemetry.AttrStore.String(c.config.StoreType))
	}

	start := time.Now()
	docs, err := c.store.ListDocuments(ctx, collection)
	c.metrics.ObserveFetch(err, time.Since(start), len(docs))
	if err != nil {
		telemetry.MarkSpanError(ctx, err)
		return nil, err
	}

	telemetry.AddSpanAttributes(ctx, telemetry.AttrDocuments.Int(len(docs)))
	logger := logging.FromContext(ctx)
	logger.Debug().Str("collection", collection).Int("documents", len(docs)).Msg("Collection fetched")
	return docs, nil
}

// subscribeAll records and registers every fetched document. It reports
// stopped when a Stop interrupted the loop. The returned handles are the
// subscriptions this call registered.
func (c *Coordinator) subscribeAll(ctx context.Context, epoch uint64, collection string, docs []*proto.Document) (*Report, []*registry.Handle, bool) {
	ctx, span := telemetry.StartSpan(ctx, "coordinator.subscribe",
		trace.WithAttributes(telemetry.AttrDocuments.Int(len(docs))))
	defer span.End()
	logger := logging.FromContext(ctx)

	report := &Report{
		Collection: collection,
		Fetched:    len(docs),
		Failures:   make(map[string]error),
	}
	handles := make([]*registry.Handle, 0, len(docs))
	callback := c.onUpdate(epoch)

	for _, doc := range docs {
		if c.epoch.Load() != epoch {
			return report, handles, true
		}
		if doc == nil || doc.Id == "" {
			logger.Warn().Str("collection", collection).Msg("Skipping fetched document without id")
			continue
		}

		c.sink.Record(doc.Id, doc.Fields)

		h, err := c.registry.Register(collection, doc.Id, callback, registry.WithLastSeenVersion(doc.Version))
		switch {
		case err == nil:
			handles = append(handles, h)
			report.Subscribed++
		case errors.Is(err, registry.ErrAlreadySubscribed):
			report.Duplicates++
		default:
			report.Failures[doc.Id] = err
			telemetry.AddSpanEvent(ctx, "subscribe_failed", telemetry.AttrDocumentID.String(doc.Id))
			logger.Warn().Err(err).Str("document_id", doc.Id).Msg("Failed to subscribe")
		}
	}

	return report, handles, false
}

func (c *Coordinator) onUpdate(epoch uint64) registry.Callback {
	return func(doc *proto.Document) {
		if c.epoch.Load() != epoch {
			return
		}
		c.sink.Record(doc.Id, doc.Fields)
	}
}

// Stop cancels an in-flight fetch and every subscription, from any state
func (c *Coordinator) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.epoch.Add(1)
	if c.cancelFetch != nil {
		c.cancelFetch()
		c.cancelFetch = nil
	}
	cancelled := c.registry.CancelAll()

	prev := c.state
	c.setState(StateIdle)

	c.logger.Info().
		Str("from", prev.String()).
		Int("cancelled", cancelled).
		Msg("Sync stopped")
}

// State returns the current state
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Collection returns the collection of the last Start
func (c *Coordinator) Collection() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.collection
}

// Status returns a snapshot for status reporting
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		State:         c.state.String(),
		Collection:    c.collection,
		Subscriptions: c.registry.Len(),
		LastReport:    c.lastReport,
	}
}

// setState must be called with c.mu held
func (c *Coordinator) setState(s State) {
	if c.state == s {
		return
	}
	c.logger.Debug().Str("from", c.state.String()).Str("to", s.String()).Msg("State changed")
	c.state = s
	c.metrics.SetState(s.String(), allStateNames()...)
}
