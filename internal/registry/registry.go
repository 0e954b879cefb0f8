package registry

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/nkkko/docsync/internal/domain"
	"github.com/nkkko/docsync/internal/logging"
	"github.com/nkkko/docsync/internal/metrics"
	"github.com/nkkko/docsync/pkg/proto"
	"github.com/rs/zerolog"
)

// Callback receives every delivered change of one document, in stream order.
// It runs on the delivery goroutine of that document and may call Cancel.
type Callback func(doc *proto.Document)

// Config contains registry configuration
type Config struct {
	// Drop changes whose version does not advance past the last delivered one
	DedupeVersions bool

	// Defaults to the process-wide metrics
	Metrics *metrics.Metrics
}

// DefaultConfig returns a default registry configuration
func DefaultConfig() Config {
	return Config{DedupeVersions: true}
}

type registerOptions struct {
	lastSeen int64
}

// RegisterOption customises a single Register call
type RegisterOption func(*registerOptions)

// WithLastSeenVersion treats versions up to v as already delivered
func WithLastSeenVersion(v int64) RegisterOption {
	return func(o *registerOptions) {
		o.lastSeen = v
	}
}

type subscription struct {
	handle     *Handle
	collection string
	docID      string
	callback   Callback
	stream     domain.Stream
	ctx        context.Context
	cancel     context.CancelFunc
	cancelled  atomic.Bool
	lastSeen   atomic.Int64
	createdAt  time.Time
}

func (s *subscription) stop() {
	s.cancelled.Store(true)
	s.cancel()
}

// Registry keeps at most one live subscription per document id
type Registry struct {
	config        Config
	store         domain.RemoteStore
	subscriptions map[string]*subscription
	wg            sync.WaitGroup
	mu            sync.RWMutex
	logger        zerolog.Logger
	metrics       *metrics.Metrics
}

// NewRegistry creates a registry opening its streams on store
func NewRegistry(store domain.RemoteStore, config ...Config) *Registry {
	cfg := DefaultConfig()
	if len(config) > 0 {
		cfg = config[0]
	}

	m := cfg.Metrics
	if m == nil {
		m = metrics.GetMetrics()
	}

	return &Registry{
		config:        cfg,
		store:         store,
		subscriptions: make(map[string]*subscription),
		logger:        logging.Component("registry"),
		metrics:       m,
	}
}

// Register opens a stream for collection/id and delivers its changes to cb
func (r *Registry) Register(collection, id string, cb Callback, opts ...RegisterOption) (*Handle, error) {
	if id == "" {
		return nil, &SubscriptionError{ID: id, Err: errors.New("empty document id")}
	}
	if cb == nil {
		return nil, &SubscriptionError{ID: id, Err: errors.New("nil callback")}
	}

	var o registerOptions
	for _, opt := range opts {
		opt(&o)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sub := &subscription{
		collection: collection,
		docID:      id,
		callback:   cb,
		ctx:        ctx,
		cancel:     cancel,
		createdAt:  time.Now(),
	}
	sub.lastSeen.Store(o.lastSeen)
	sub.handle = &Handle{
		id:       generateID(),
		docID:    id,
		registry: r,
		sub:      sub,
		done:     make(chan struct{}),
	}

	// the id is claimed before the stream opens so a concurrent Register
	// for the same id can never open a second stream
	r.mu.Lock()
	if _, ok := r.subscriptions[id]; ok {
		r.mu.Unlock()
		cancel()
		r.metrics.SubscriptionsTotal.WithLabelValues("duplicate").Inc()
		return nil, ErrAlreadySubscribed
	}
	r.subscriptions[id] = sub
	r.metrics.SubscriptionsActive.Inc()
	r.mu.Unlock()

	stream, err := r.store.Subscribe(ctx, collection, id)
	if err != nil {
		r.detach(sub)
		sub.stop()
		close(sub.handle.done)
		r.metrics.SubscriptionsTotal.WithLabelValues("failed").Inc()
		r.logger.Warn().Err(err).Str("document_id", id).Msg("Failed to open document stream")
		return nil, &SubscriptionError{ID: id, Err: err}
	}
	sub.stream = stream
	r.metrics.SubscriptionsTotal.WithLabelValues("registered").Inc()

	r.wg.Add(1)
	go r.deliver(sub)

	r.logger.Debug().
		Str("document_id", id).
		Str("collection", collection).
		Str("subscription_id", sub.handle.id).
		Msg("Subscription registered")

	return sub.handle, nil
}

// deliver owns the stream of one subscription until it is cancelled or fails
func (r *Registry) deliver(sub *subscription) {
	defer r.wg.Done()
	defer func() {
		sub.stream.Stop()
		r.detach(sub)
		sub.cancel()
		close(sub.handle.done)
		r.logger.Debug().
			Str("document_id", sub.docID).
			Dur("lifetime", time.Since(sub.createdAt)).
			Msg("Delivery stopped")
	}()

	for {
		doc, err := sub.stream.Next(sub.ctx)
		if err == nil && doc == nil {
			err = errNilSnapshot
		}
		if err != nil {
			if sub.cancelled.Load() || sub.ctx.Err() != nil {
				return
			}
			sub.handle.err = &SubscriptionError{ID: sub.docID, Err: err}
			r.metrics.SubscriptionErrorsTotal.Inc()
			r.logger.Error().Err(err).Str("document_id", sub.docID).Msg("Document stream failed")
			return
		}

		if r.config.DedupeVersions && doc.Version != 0 && doc.Version <= sub.lastSeen.Load() {
			r.metrics.UpdatesDroppedTotal.WithLabelValues(metrics.DropStale).Inc()
			continue
		}

		// last check before handing the change over; a Cancel racing past
		// this point lets at most this one delivery through
		if sub.cancelled.Load() {
			r.metrics.UpdatesDroppedTotal.WithLabelValues(metrics.DropCancelled).Inc()
			return
		}

		if doc.Version != 0 {
			sub.lastSeen.Store(doc.Version)
		}
		sub.callback(doc)
		r.metrics.UpdatesDeliveredTotal.Inc()
	}
}

// detach removes sub from the map if it still owns its id
func (r *Registry) detach(sub *subscription) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.subscriptions[sub.docID]; !ok || cur != sub {
		return false
	}
	delete(r.subscriptions, sub.docID)
	r.metrics.SubscriptionsActive.Dec()
	return true
}

// Cancel stops the subscription for id. It returns ErrAlreadyCancelled when
// nothing is active, which callers may ignore.
func (r *Registry) Cancel(id string) error {
	r.mu.RLock()
	sub, ok := r.subscriptions[id]
	r.mu.RUnlock()

	if !ok || !r.detach(sub) {
		return ErrAlreadyCancelled
	}
	sub.stop()

	r.logger.Debug().Str("document_id", id).Msg("Subscription cancelled")
	return nil
}

// CancelAll stops every live subscription and returns how many were stopped
func (r *Registry) CancelAll() int {
	r.mu.Lock()
	subs := make([]*subscription, 0, len(r.subscriptions))
	for _, sub := range r.subscriptions {
		subs = append(subs, sub)
	}
	r.subscriptions = make(map[string]*subscription)
	r.metrics.SubscriptionsActive.Sub(float64(len(subs)))
	r.mu.Unlock()

	for _, sub := range subs {
		sub.stop()
	}

	if len(subs) > 0 {
		r.logger.Info().Int("count", len(subs)).Msg("Cancelled all subscriptions")
	}
	return len(subs)
}

// Shutdown cancels every subscription and waits for delivery goroutines to exit
func (r *Registry) Shutdown(ctx context.Context) error {
	r.CancelAll()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Active returns the ids with a live subscription, sorted
func (r *Registry) Active() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.subscriptions))
	for id := range r.subscriptions {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// Len returns the number of live subscriptions
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subscriptions)
}

// LastSeen returns the newest version delivered for id
func (r *Registry) LastSeen(id string) (int64, bool) {
	r.mu.RLock()
	sub, ok := r.subscriptions[id]
	r.mu.RUnlock()

	if !ok {
		return 0, false
	}
	return sub.lastSeen.Load(), true
}

// Can be replaced in tests for deterministic behavior
var generateID = func() string {
	return uuid.NewString()
}
