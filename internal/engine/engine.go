package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nkkko/docsync/internal/api"
	"github.com/nkkko/docsync/internal/config"
	"github.com/nkkko/docsync/internal/coordinator"
	"github.com/nkkko/docsync/internal/domain"
	"github.com/nkkko/docsync/internal/logging"
	"github.com/nkkko/docsync/internal/metrics"
	"github.com/nkkko/docsync/internal/registry"
	"github.com/nkkko/docsync/internal/sink"
	"github.com/nkkko/docsync/internal/store"
	"github.com/nkkko/docsync/internal/telemetry"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/option"
)

// ShutdownTimeout bounds Shutdown when Run returns
const ShutdownTimeout = 10 * time.Second

// Option customises engine construction
type Option func(*options)

type options struct {
	store      domain.RemoteStore
	extraSinks []domain.Sink
	pubsubOpts []option.ClientOption
	metrics    *metrics.Metrics
}

// WithStore replaces the configured remote store
func WithStore(s domain.RemoteStore) Option {
	return func(o *options) { o.store = s }
}

// WithSink records to s in addition to the configured sinks
func WithSink(s domain.Sink) Option {
	return func(o *options) { o.extraSinks = append(o.extraSinks, s) }
}

// WithPubSubOptions passes client options to the Pub/Sub sink
func WithPubSubOptions(opts ...option.ClientOption) Option {
	return func(o *options) { o.pubsubOpts = append(o.pubsubOpts, opts...) }
}

// WithMetrics uses m instead of the process-wide metrics
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// Engine wires the remote store, sinks, registry, coordinator and status API
type Engine struct {
	config      *config.Config
	collection  string
	store       domain.RemoteStore
	sinks       *sink.Fanout
	registry    *registry.Registry
	coordinator *coordinator.Coordinator
	api         *api.API
	logger      zerolog.Logger
	telemetryFn func(context.Context) error

	shutdownOnce sync.Once
	shutdownErr  error
}

// New creates an engine with every component built from cfg
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Engine, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	logger := logging.Component("engine")

	remote := o.store
	if remote == nil {
		var err error
		remote, err = store.New(ctx, cfg.ToStoreConfig())
		if err != nil {
			return nil, fmt.Errorf("failed to create %s store: %w", cfg.Store.Type, err)
		}
	}

	sinks, err := sink.FromConfig(ctx, cfg.ToSinkConfig(), o.pubsubOpts...)
	if err != nil {
		_ = remote.Close()
		return nil, fmt.Errorf("failed to create sinks: %w", err)
	}
	recorder := domain.Sink(sinks)
	if len(o.extraSinks) > 0 {
		recorder = sink.Multi(append([]domain.Sink{sinks}, o.extraSinks...)...)
	}

	regCfg := cfg.ToRegistryConfig()
	regCfg.Metrics = o.metrics
	reg := registry.NewRegistry(remote, regCfg)

	coordCfg := cfg.ToCoordinatorConfig()
	coordCfg.Metrics = o.metrics
	coord := coordinator.New(remote, reg, recorder, coordCfg)

	e := &Engine{
		config:      cfg,
		collection:  cfg.Store.CollectionName(),
		store:       remote,
		sinks:       sinks,
		registry:    reg,
		coordinator: coord,
		logger:      logger,
	}

	if cfg.Server.Enabled {
		// A nil *CacheSink must not become a non-nil interface
		var cache api.DocumentCache
		if c := sinks.Cache(); c != nil {
			cache = c
		}
		e.api = api.New(cfg.ToAPIConfig(), coord, cache)
	}

	return e, nil
}

// Coordinator returns the sync coordinator
func (e *Engine) Coordinator() *coordinator.Coordinator {
	return e.coordinator
}

// Registry returns the subscription registry
func (e *Engine) Registry() *registry.Registry {
	return e.registry
}

// Cache returns the document cache sink, nil when disabled
func (e *Engine) Cache() *sink.CacheSink {
	return e.sinks.Cache()
}

// Run starts syncing and serving, blocks until ctx is done or the initial
// fetch fails, then shuts every component down
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info().Str("collection", e.collection).Str("store", e.config.Store.Type).Msg("Starting docsync engine")

	telShutdown, err := telemetry.Setup(ctx, e.config.ToTelemetryConfig())
	if err != nil {
		e.logger.Warn().Err(err).Msg("Failed to set up telemetry, continuing without it")
	} else {
		e.telemetryFn = telShutdown
	}

	g, gctx := errgroup.WithContext(ctx)

	if e.api != nil {
		g.Go(func() error {
			return e.api.Start(gctx)
		})
	}

	g.Go(func() error {
		if _, err := e.coordinator.Start(gctx, e.collection); err != nil {
			if errors.Is(err, coordinator.ErrStopped) {
				return nil
			}
			return err
		}

		<-gctx.Done()
		return nil
	})

	runErr := g.Wait()
	if errors.Is(runErr, context.Canceled) {
		runErr = nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil && runErr == nil {
		runErr = err
	}

	if runErr != nil {
		return fmt.Errorf("error running engine: %w", runErr)
	}
	e.logger.Info().Msg("docsync engine shut down successfully")
	return nil
}

// Shutdown stops syncing and releases every component. It is safe to call more than once.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.shutdownOnce.Do(func() {
		e.shutdownErr = e.shutdown(ctx)
	})
	return e.shutdownErr
}

func (e *Engine) shutdown(ctx context.Context) error {
	e.logger.Info().Msg("Shutting down docsync engine")
	var errs []error

	// Stop deliveries before closing anything they write to
	e.coordinator.Stop()
	if err := e.registry.Shutdown(ctx); err != nil {
		e.logger.Error().Err(err).Msg("Failed to drain subscriptions")
		errs = append(errs, err)
	}

	if e.api != nil {
		if err := e.api.Shutdown(ctx); err != nil {
			e.logger.Error().Err(err).Msg("Failed to shut down API")
			errs = append(errs, err)
		}
	}

	if err := e.sinks.Close(); err != nil {
		e.logger.Error().Err(err).Msg("Failed to close sinks")
		errs = append(errs, err)
	}

	if err := e.store.Close(); err != nil {
		e.logger.Error().Err(err).Msg("Failed to close store")
		errs = append(errs, err)
	}

	if e.telemetryFn != nil {
		if err := e.telemetryFn(ctx); err != nil {
			e.logger.Error().Err(err).Msg("Failed to shut down telemetry")
		}
	}

	return errors.Join(errs...)
}
