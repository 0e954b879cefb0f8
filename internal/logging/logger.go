package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/rs/zerolog/pkgerrors"
	"go.opentelemetry.io/otel/trace"
)

// LogFormat represents the output format for logs
type LogFormat string

const (
	FormatJSON    LogFormat = "json"
	FormatConsole LogFormat = "console"
)

// LogLevel represents the logging level
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// Config contains logger configuration
type Config struct {
	Level  LogLevel
	Format LogFormat

	// Include caller file:line on every event
	IncludeCaller bool

	// Marshal pkg/errors stacks on error events
	IncludeStacktrace bool

	// Attach trace_id / span_id from the active span in FromContext
	IncludeTraceContext bool

	// Defaults to os.Stdout
	Output io.Writer

	// Fields added to every event, e.g. service=docsync
	GlobalFields map[string]string
}

// DefaultConfig returns the logging defaults used by the docsync binary
func DefaultConfig() Config {
	return Config{
		Level:               LevelInfo,
		Format:              FormatJSON,
		IncludeCaller:       false,
		IncludeStacktrace:   true,
		IncludeTraceContext: true,
		Output:              os.Stdout,
		GlobalFields:        map[string]string{"service": "docsync"},
	}
}

var includeTraceContext = true

// Setup configures the global zerolog logger
func Setup(config Config) error {
	level, err := ParseLevel(string(config.Level))
	if err != nil {
		return err
	}

	zerolog.TimeFieldFormat = time.RFC3339Nano

	output := config.Output
	if output == nil {
		output = os.Stdout
	}
	if config.Format == FormatConsole {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: time.RFC3339}
	}

	if config.IncludeStacktrace {
		zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack
	}

	logger := zerolog.New(output).With().Timestamp()
	if config.IncludeCaller {
		logger = logger.Caller()
	}
	for k, v := range config.GlobalFields {
		logger = logger.Str(k, v)
	}

	log.Logger = logger.Logger()
	zerolog.SetGlobalLevel(level)
	zerolog.DefaultContextLogger = &log.Logger
	includeTraceContext = config.IncludeTraceContext

	return nil
}

// ParseLevel converts a level name to a zerolog.Level
func ParseLevel(level string) (zerolog.Level, error) {
	switch LogLevel(strings.ToLower(level)) {
	case LevelDebug:
		return zerolog.DebugLevel, nil
	case LevelInfo, "":
		return zerolog.InfoLevel, nil
	case LevelWarn:
		return zerolog.WarnLevel, nil
	case LevelError:
		return zerolog.ErrorLevel, nil
	default:
		return zerolog.InfoLevel, fmt.Errorf("invalid log level: %s", level)
	}
}

// FromContext returns the context logger, enriched with the active trace context
func FromContext(ctx context.Context) zerolog.Logger {
	logger := log.Ctx(ctx).With()

	if includeTraceContext {
		if sc := trace.SpanFromContext(ctx).SpanContext(); sc.IsValid() {
			logger = logger.
				Str("trace_id", sc.TraceID().String()).
				Str("span_id", sc.SpanID().String())
		}
	}

	return logger.Logger()
}

// WithContext returns a context carrying logger
func WithContext(ctx context.Context, logger zerolog.Logger) context.Context {
	return logger.WithContext(ctx)
}

// Component returns a logger tagged with a component field
func Component(name string) zerolog.Logger {
	return log.With().Str("component", name).Logger()
}
