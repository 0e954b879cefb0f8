package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// restoreGlobals undoes what Setup changes
func restoreGlobals(t *testing.T) {
	t.Helper()
	prevLogger := log.Logger
	prevLevel := zerolog.GlobalLevel()
	prevContextLogger := zerolog.DefaultContextLogger
	prevTrace := includeTraceContext
	t.Cleanup(func() {
		log.Logger = prevLogger
		zerolog.SetGlobalLevel(prevLevel)
		zerolog.DefaultContextLogger = prevContextLogger
		includeTraceContext = prevTrace
	})
}

func decode(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	return line
}

func TestSetupAndComponent(t *testing.T) {
	restoreGlobals(t)

	var buf bytes.Buffer
	cfg := DefaultConfig()
	cfg.Level = "WARN"
	cfg.Output = &buf
	require.NoError(t, Setup(cfg))

	logger := Component("registry")
	logger.Info().Msg("hidden")
	assert.Zero(t, buf.Len())

	logger.Warn().Msg("shown")
	line := decode(t, &buf)
	assert.Equal(t, "registry", line["component"])
	assert.Equal(t, "docsync", line["service"])
	assert.Equal(t, "shown", line["message"])
}

func TestFromContextAddsTraceContext(t *testing.T) {
	restoreGlobals(t)

	provider := sdktrace.NewTracerProvider()
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })
	ctx, span := provider.Tracer("test").Start(context.Background(), "fetch")
	defer span.End()

	var buf bytes.Buffer
	ctx = WithContext(ctx, zerolog.New(&buf).With().Str("component", "coordinator").Logger())

	logger := FromContext(ctx)
	logger.Info().Msg("fetched")

	line := decode(t, &buf)
	assert.Equal(t, "coordinator", line["component"])
	assert.Equal(t, span.SpanContext().TraceID().String(), line["trace_id"])
	assert.Equal(t, span.SpanContext().SpanID().String(), line["span_id"])
}

func TestTraceContextCanBeDisabled(t *testing.T) {
	restoreGlobals(t)

	cfg := DefaultConfig()
	cfg.IncludeTraceContext = false
	cfg.Output = &bytes.Buffer{}
	require.NoError(t, Setup(cfg))

	provider := sdktrace.NewTracerProvider()
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })
	ctx, span := provider.Tracer("test").Start(context.Background(), "fetch")
	defer span.End()

	var buf bytes.Buffer
	ctx = WithContext(ctx, zerolog.New(&buf))
	logger := FromContext(ctx)
	logger.Info().Msg("fetched")

	line := decode(t, &buf)
	assert.NotContains(t, line, "trace_id")
}

func TestParseLevel(t *testing.T) {
	level, err := ParseLevel("DEBUG")
	require.NoError(t, err)
	assert.Equal(t, zerolog.DebugLevel, level)

	level, err = ParseLevel("")
	require.NoError(t, err)
	assert.Equal(t, zerolog.InfoLevel, level)

	_, err = ParseLevel("loud")
	assert.Error(t, err)
}
