package sink

import (
	"github.com/nkkko/docsync/internal/domain"
	"github.com/nkkko/docsync/internal/logging"
	"github.com/nkkko/docsync/internal/metrics"
	"github.com/rs/zerolog"
)

var _ domain.Sink = (*LogSink)(nil)

// LogSink writes one log line per record
type LogSink struct {
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

// NewLog creates a LogSink writing through logger, or the component logger when nil
func NewLog(logger *zerolog.Logger) *LogSink {
	l := logging.Component("sink").With().Str("sink", "log").Logger()
	if logger != nil {
		l = *logger
	}
	return &LogSink{logger: l, metrics: metrics.GetMetrics()}
}

func (s *LogSink) Record(id string, data map[string]any) {
	event := s.logger.Info().Str("document_id", id)
	if data == nil {
		event = event.Bool("deleted", true)
	} else {
		event = event.Interface("data", data)
	}
	event.Msg("Document recorded")
	s.metrics.SinkRecordsTotal.WithLabelValues("log").Inc()
}
