package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	apierrors "github.com/nkkko/docsync/internal/api/errors"
	"github.com/nkkko/docsync/internal/api/response"
	"github.com/nkkko/docsync/internal/coordinator"
	"github.com/nkkko/docsync/internal/logging"
	"github.com/nkkko/docsync/internal/metrics"
	"github.com/nkkko/docsync/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Config contains status API configuration
type Config struct {
	Addr string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// Origins allowed by CORS; empty allows any
	CORSOrigins []string

	// Serve Prometheus metrics at MetricsPath
	MetricsEnabled bool
	MetricsPath    string
}

// DefaultConfig returns a default configuration
func DefaultConfig() Config {
	return Config{
		Addr:           ":8080",
		ReadTimeout:    5 * time.Second,
		WriteTimeout:   10 * time.Second,
		IdleTimeout:    120 * time.Second,
		MetricsEnabled: true,
		MetricsPath:    "/metrics",
	}
}

// API serves health, status and cached documents of a running sync
type API struct {
	config  Config
	router  *chi.Mux
	server  *http.Server
	coord   Coordinator
	cache   DocumentCache
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

// New creates the status API. cache may be nil when no cache sink is configured.
func New(config Config, coord Coordinator, cache DocumentCache) *API {
	defaults := DefaultConfig()
	if config.Addr == "" {
		config.Addr = defaults.Addr
	}
	if config.ReadTimeout == 0 {
		config.ReadTimeout = defaults.ReadTimeout
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = defaults.WriteTimeout
	}
	if config.IdleTimeout == 0 {
		config.IdleTimeout = defaults.IdleTimeout
	}
	if config.MetricsPath == "" {
		config.MetricsPath = defaults.MetricsPath
	}

	a := &API{
		config:  config,
		coord:   coord,
		cache:   cache,
		logger:  logging.Component("api"),
		metrics: metrics.GetMetrics(),
	}
	a.router = a.buildRouter()
	return a
}

// Handler returns the routed handler, for embedding and tests
func (a *API) Handler() http.Handler {
	return a.router
}

func (a *API) buildRouter() *chi.Mux {
	r := chi.NewRouter()

	origins := a.config.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(telemetry.HTTPMiddleware())
	r.Use(logging.HTTPMiddleware())
	r.Use(a.metricsMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/healthz", a.handleHealth)
	r.Get("/readyz", a.handleReady)

	if a.config.MetricsEnabled {
		r.Handle(a.config.MetricsPath, promhttp.Handler())
	}

	r.Get("/status", a.handleStatus)
	r.Post("/stop", a.handleStop)

	r.Route("/documents", func(r chi.Router) {
		r.Get("/", a.handleListDocuments)
		r.Get("/{id}", a.handleGetDocument)
	})

	return r
}

// Start serves until ctx is done or the listener fails
func (a *API) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", a.config.Addr, err)
	}

	a.server = &http.Server{
		Handler:      a.router,
		ReadTimeout:  a.config.ReadTimeout,
		WriteTimeout: a.config.WriteTimeout,
		IdleTimeout:  a.config.IdleTimeout,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.server.Serve(ln)
	}()

	a.logger.Info().Str("addr", ln.Addr().String()).Msg("Status API started")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		return nil
	}
}

// Shutdown gracefully stops the server
func (a *API) Shutdown(ctx context.Context) error {
	if a.server == nil {
		return nil
	}
	a.logger.Info().Msg("Shutting down status API")
	return a.server.Shutdown(ctx)
}

func (a *API) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		a.metrics.APIRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		a.metrics.APIRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (a *API) handleReady(w http.ResponseWriter, r *http.Request) {
	status := a.coord.Status()
	if status.State != coordinator.StateActive.String() {
		response.Error(w, r, apierrors.UnavailableError("not_ready", "sync is "+status.State))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (a *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, r, http.StatusOK, a.coord.Status())
}

func (a *API) handleStop(w http.ResponseWriter, r *http.Request) {
	a.coord.Stop()
	response.JSON(w, r, http.StatusOK, a.coord.Status())
}

func (a *API) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	if a.cache == nil {
		response.Error(w, r, apierrors.UnavailableError("cache_disabled", "document cache is not enabled"))
		return
	}
	ids := a.cache.Keys()
	response.WithMeta(w, r, http.StatusOK, ids, map[string]int{"count": len(ids)})
}

type documentResponse struct {
	ID   string         `json:"id"`
	Data map[string]any `json:"data"`
}

func (a *API) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	if a.cache == nil {
		response.Error(w, r, apierrors.UnavailableError("cache_disabled", "document cache is not enabled"))
		return
	}

	id := chi.URLParam(r, "id")
	data, ok := a.cache.Get(id)
	if !ok {
		response.Error(w, r, apierrors.NotFoundError("document_not_found", "no data recorded for "+id))
		return
	}
	response.JSON(w, r, http.StatusOK, documentResponse{ID: id, Data: data})
}
