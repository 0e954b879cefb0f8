package sink

import (
	"context"
	"fmt"

	"github.com/nkkko/docsync/internal/domain"
	"google.golang.org/api/option"
)

// Config selects the sinks a process records to
type Config struct {
	Log       bool
	CacheSize int // zero disables the cache
	Mirror    *MirrorConfig
	PubSub    *PubSubConfig
}

// DefaultConfig logs every record and caches the latest data for the status API
func DefaultConfig() Config {
	return Config{Log: true, CacheSize: DefaultCacheSize}
}

// FromConfig builds the configured sinks. Sinks opened before a failure are closed.
func FromConfig(ctx context.Context, config Config, pubsubOpts ...option.ClientOption) (*Fanout, error) {
	var sinks []domain.Sink
	fail := func(err error) (*Fanout, error) {
		_ = Multi(sinks...).Close()
		return nil, err
	}

	if config.Log {
		sinks = append(sinks, NewLog(nil))
	}

	if config.CacheSize > 0 {
		cache, err := NewCache(config.CacheSize)
		if err != nil {
			return fail(err)
		}
		sinks = append(sinks, cache)
	}

	if config.Mirror != nil {
		mirror, err := NewMirror(*config.Mirror)
		if err != nil {
			return fail(fmt.Errorf("mirror sink: %w", err))
		}
		sinks = append(sinks, mirror)
	}

	if config.PubSub != nil {
		ps, err := NewPubSub(ctx, *config.PubSub, pubsubOpts...)
		if err != nil {
			return fail(fmt.Errorf("pubsub sink: %w", err))
		}
		sinks = append(sinks, ps)
	}

	return Multi(sinks...), nil
}
