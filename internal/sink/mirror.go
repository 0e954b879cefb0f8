package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/nkkko/docsync/internal/domain"
	"github.com/nkkko/docsync/internal/logging"
	"github.com/nkkko/docsync/internal/metrics"
	"github.com/rs/zerolog"
)

var _ domain.SinkCloser = (*MirrorSink)(nil)

const prefixDocuments = "doc:"

// MirrorConfig contains persistent mirror configuration
type MirrorConfig struct {
	// Badger directory, ignored when InMemory is set
	Dir string

	// Keys are namespaced by collection so one directory can hold several
	Collection string

	InMemory   bool
	SyncWrites bool

	// Value log GC interval, zero disables the GC loop
	GCInterval time.Duration
}

// DefaultMirrorConfig returns default mirror configuration
func DefaultMirrorConfig() MirrorConfig {
	return MirrorConfig{
		Dir:        "./data/mirror",
		GCInterval: 10 * time.Minute,
	}
}

type mirrorEntry struct {
	Data      map[string]any `json:"data"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// MirrorSink persists the latest data per document id in Badger
type MirrorSink struct {
	config  MirrorConfig
	db      *badger.DB
	cancel  context.CancelFunc
	done    chan struct{}
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

// NewMirror opens the Badger database backing a MirrorSink
func NewMirror(config MirrorConfig) (*MirrorSink, error) {
	var options badger.Options
	if config.InMemory {
		options = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if config.Dir == "" {
			return nil, errors.New("mirror directory is required")
		}
		if err := os.MkdirAll(config.Dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create mirror directory: %w", err)
		}
		options = badger.DefaultOptions(config.Dir)
	}
	options = options.
		WithLoggingLevel(badger.WARNING).
		WithSyncWrites(config.SyncWrites)

	db, err := badger.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to open Badger: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &MirrorSink{
		config:  config,
		db:      db,
		cancel:  cancel,
		done:    make(chan struct{}),
		logger:  logging.Component("sink").With().Str("sink", "mirror").Logger(),
		metrics: metrics.GetMetrics(),
	}

	if config.GCInterval > 0 && !config.InMemory {
		go s.runGC(ctx)
	} else {
		close(s.done)
	}

	return s, nil
}

func (s *MirrorSink) key(id string) []byte {
	return []byte(prefixDocuments + s.config.Collection + "/" + id)
}

func (s *MirrorSink) prefix() []byte {
	return []byte(prefixDocuments + s.config.Collection + "/")
}

// Record writes data under id, or deletes id when data is nil
func (s *MirrorSink) Record(id string, data map[string]any) {
	err := s.db.Update(func(txn *badger.Txn) error {
		if data == nil {
			return txn.Delete(s.key(id))
		}
		value, err := json.Marshal(mirrorEntry{Data: data, UpdatedAt: time.Now().UTC()})
		if err != nil {
			return fmt.Errorf("failed to marshal document: %w", err)
		}
		return txn.Set(s.key(id), value)
	})
	if err != nil {
		s.metrics.SinkErrorsTotal.WithLabelValues("mirror").Inc()
		s.logger.Error().Err(err).Str("document_id", id).Msg("Failed to mirror document")
		return
	}
	s.metrics.SinkRecordsTotal.WithLabelValues("mirror").Inc()
}

// Get returns the mirrored data for id
func (s *MirrorSink) Get(id string) (map[string]any, bool, error) {
	var entry mirrorEntry
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(s.key(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &entry)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read mirrored document: %w", err)
	}
	return entry.Data, true, nil
}

// List returns every mirrored document of the collection keyed by id
func (s *MirrorSink) List() (map[string]map[string]any, error) {
	out := make(map[string]map[string]any)
	prefix := s.prefix()

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			id := string(item.Key()[len(prefix):])
			var entry mirrorEntry
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			}); err != nil {
				return fmt.Errorf("failed to decode %s: %w", id, err)
			}
			out[id] = entry.Data
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *MirrorSink) runGC(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.config.GCInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			for {
				err := s.db.RunValueLogGC(0.5)
				if err != nil {
					if !errors.Is(err, badger.ErrNoRewrite) {
						s.logger.Warn().Err(err).Msg("Value log GC failed")
					}
					break
				}
			}
		case <-ctx.Done():
			return
		}
	}
}

// Close stops the GC loop and closes the database
func (s *MirrorSink) Close() error {
	s.cancel()
	<-s.done
	return s.db.Close()
}
