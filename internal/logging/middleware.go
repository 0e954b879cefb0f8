package logging

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// HTTPMiddleware logs one line per request served by the status API
func HTTPMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			fields := Component("api").With().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("remote_addr", r.RemoteAddr)

			if reqID := middleware.GetReqID(r.Context()); reqID != "" {
				fields = fields.Str("request_id", reqID)
			} else if reqID := r.Header.Get("X-Request-ID"); reqID != "" {
				fields = fields.Str("request_id", reqID)
			}

			if sc := trace.SpanFromContext(r.Context()).SpanContext(); includeTraceContext && sc.IsValid() {
				fields = fields.Str("trace_id", sc.TraceID().String()).Str("span_id", sc.SpanID().String())
			}

			logger := fields.Logger()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r.WithContext(logger.WithContext(r.Context())))

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}

			var event *zerolog.Event
			switch {
			case status >= 500:
				event = logger.Error()
			case status >= 400:
				event = logger.Warn()
			default:
				event = logger.Debug()
			}

			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				event = event.Str("route", rctx.RoutePattern())
			}

			event.
				Int("status", status).
				Dur("duration", time.Since(start)).
				Int("response_size", ww.BytesWritten()).
				Msg("Request completed")
		})
	}
}
