package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"cloud.google.com/go/pubsub"
	"github.com/nkkko/docsync/internal/domain"
	"github.com/nkkko/docsync/internal/logging"
	"github.com/nkkko/docsync/internal/metrics"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
)

var _ domain.SinkCloser = (*PubSubSink)(nil)

// PubSubConfig contains change publishing configuration
type PubSubConfig struct {
	ProjectID  string
	TopicID    string
	Collection string
}

// ChangeMessage is the JSON body published for every record
type ChangeMessage struct {
	DocumentID string         `json:"document_id"`
	Collection string         `json:"collection"`
	Data       map[string]any `json:"data,omitempty"`
	Deleted    bool           `json:"deleted,omitempty"`
}

// PubSubSink publishes every record to a Pub/Sub topic. Publish failures are
// logged and counted, never returned.
type PubSubSink struct {
	config  PubSubConfig
	client  *pubsub.Client
	topic   *pubsub.Topic
	ctx     context.Context
	cancel  context.CancelFunc
	pending sync.WaitGroup
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

// NewPubSub connects to Pub/Sub. The topic must already exist.
func NewPubSub(ctx context.Context, config PubSubConfig, opts ...option.ClientOption) (*PubSubSink, error) {
	if config.ProjectID == "" {
		return nil, errors.New("pubsub project id is required")
	}
	if config.TopicID == "" {
		return nil, errors.New("pubsub topic id is required")
	}

	client, err := pubsub.NewClient(ctx, config.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create pubsub client: %w", err)
	}

	topic := client.Topic(config.TopicID)
	topic.EnableMessageOrdering = true

	pubCtx, cancel := context.WithCancel(context.Background())
	return &PubSubSink{
		config:  config,
		client:  client,
		topic:   topic,
		ctx:     pubCtx,
		cancel:  cancel,
		logger:  logging.Component("sink").With().Str("sink", "pubsub").Str("topic", config.TopicID).Logger(),
		metrics: metrics.GetMetrics(),
	}, nil
}

func (s *PubSubSink) Record(id string, data map[string]any) {
	body, err := json.Marshal(ChangeMessage{
		DocumentID: id,
		Collection: s.config.Collection,
		Data:       data,
		Deleted:    data == nil,
	})
	if err != nil {
		s.metrics.SinkErrorsTotal.WithLabelValues("pubsub").Inc()
		s.logger.Error().Err(err).Str("document_id", id).Msg("Failed to encode change")
		return
	}

	// ordering key keeps the changes of one document in record order
	result := s.topic.Publish(s.ctx, &pubsub.Message{
		Data:        body,
		OrderingKey: id,
		Attributes: map[string]string{
			"document_id": id,
			"collection":  s.config.Collection,
		},
	})

	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		if _, err := result.Get(s.ctx); err != nil {
			s.topic.ResumePublish(id)
			s.metrics.SinkErrorsTotal.WithLabelValues("pubsub").Inc()
			s.logger.Warn().Err(err).Str("document_id", id).Msg("Failed to publish change")
			return
		}
		s.metrics.SinkRecordsTotal.WithLabelValues("pubsub").Inc()
	}()
}

// Close flushes outstanding messages and closes the client
func (s *PubSubSink) Close() error {
	s.topic.Stop()
	s.pending.Wait()
	s.cancel()
	return s.client.Close()
}
