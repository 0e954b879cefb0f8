package memory

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/nkkko/docsync/internal/domain"
	"github.com/nkkko/docsync/internal/logging"
	"github.com/nkkko/docsync/pkg/proto"
	"github.com/rs/zerolog"
	"google.golang.org/protobuf/types/known/timestamppb"
)

var _ domain.RemoteStore = (*Store)(nil)

// ErrStreamStopped is returned by Next after Stop
var ErrStreamStopped = errors.New("stream stopped")

// ErrClosed is returned by every operation once the store is closed
var ErrClosed = errors.New("memory store closed")

// ListFunc may rewrite or fail the result of ListDocuments
type ListFunc func(collection string, docs []*proto.Document) ([]*proto.Document, error)

// Config contains memory store configuration
type Config struct {
	// Emit the current document as the first stream item, like a snapshot listener
	EmitInitial bool
}

// DefaultConfig returns the default memory store configuration
func DefaultConfig() Config {
	return Config{EmitInitial: true}
}

// Store is an in-process RemoteStore. Every Put bumps the document version
// and is fanned out to the open streams for that document.
type Store struct {
	config    Config
	documents map[string]*proto.Document // path -> latest
	streams   map[string]map[*stream]struct{}
	opened    map[string]int
	listFunc  ListFunc
	closed    bool
	mu        sync.Mutex
	logger    zerolog.Logger
}

// New creates an empty memory store
func New(config ...Config) *Store {
	cfg := DefaultConfig()
	if len(config) > 0 {
		cfg = config[0]
	}

	return &Store{
		config:    cfg,
		documents: make(map[string]*proto.Document),
		streams:   make(map[string]map[*stream]struct{}),
		opened:    make(map[string]int),
		logger:    logging.Component("memory-store"),
	}
}

// Put stores fields under collection/id and notifies its streams
func (s *Store) Put(collection, id string, fields map[string]any) *proto.Document {
	return s.write(collection, id, fields)
}

// Delete removes collection/id and sends a tombstone to its streams
func (s *Store) Delete(collection, id string) *proto.Document {
	return s.write(collection, id, nil)
}

func (s *Store) write(collection, id string, fields map[string]any) *proto.Document {
	ref := proto.DocumentRef{Collection: collection, Id: id}

	s.mu.Lock()
	var version int64 = 1
	if prev, ok := s.documents[ref.Path()]; ok {
		version = prev.Version + 1
	}
	doc := &proto.Document{
		Id:         id,
		Collection: collection,
		Fields:     fields,
		Version:    version,
		UpdateTime: timestamppb.Now(),
	}
	s.documents[ref.Path()] = doc
	targets := make([]*stream, 0, len(s.streams[ref.Path()]))
	for st := range s.streams[ref.Path()] {
		targets = append(targets, st)
	}
	s.mu.Unlock()

	for _, st := range targets {
		st.push(doc.Clone())
	}
	return doc.Clone()
}

// FailStream ends every open stream for collection/id with err
func (s *Store) FailStream(collection, id string, err error) {
	path := proto.DocumentRef{Collection: collection, Id: id}.Path()

	s.mu.Lock()
	targets := make([]*stream, 0, len(s.streams[path]))
	for st := range s.streams[path] {
		targets = append(targets, st)
	}
	s.mu.Unlock()

	for _, st := range targets {
		st.fail(err)
	}
}

// SetListFunc installs a hook applied to every ListDocuments result
func (s *Store) SetListFunc(fn ListFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listFunc = fn
}

// OpenStreams returns the number of live streams for collection/id
func (s *Store) OpenStreams(collection, id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.streams[proto.DocumentRef{Collection: collection, Id: id}.Path()])
}

// SubscribeCalls returns how many times Subscribe was called for collection/id
func (s *Store) SubscribeCalls(collection, id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opened[proto.DocumentRef{Collection: collection, Id: id}.Path()]
}

// ListDocuments returns the live documents of collection ordered by id
func (s *Store) ListDocuments(ctx context.Context, collection string) ([]*proto.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	docs := make([]*proto.Document, 0, len(s.documents))
	for _, doc := range s.documents {
		if doc.Collection == collection && !doc.Deleted() {
			docs = append(docs, doc.Clone())
		}
	}
	fn := s.listFunc
	s.mu.Unlock()

	sort.Slice(docs, func(i, j int) bool { return docs[i].Id < docs[j].Id })

	if fn != nil {
		return fn(collection, docs)
	}
	return docs, nil
}

// Subscribe opens a stream for collection/id
func (s *Store) Subscribe(ctx context.Context, collection, id string) (domain.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path := proto.DocumentRef{Collection: collection, Id: id}.Path()
	st := &stream{
		store:  s,
		path:   path,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	s.opened[path]++
	if s.streams[path] == nil {
		s.streams[path] = make(map[*stream]struct{})
	}
	s.streams[path][st] = struct{}{}
	current, ok := s.documents[path]
	if ok && s.config.EmitInitial {
		st.queue = append(st.queue, current.Clone())
	}
	s.mu.Unlock()

	s.logger.Debug().Str("path", path).Msg("Stream opened")
	return st, nil
}

// Close ends every open stream and rejects further calls
func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	var all []*stream
	for _, set := range s.streams {
		for st := range set {
			all = append(all, st)
		}
	}
	s.mu.Unlock()

	for _, st := range all {
		st.fail(ErrClosed)
	}
	return nil
}

func (s *Store) detach(st *stream) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if set, ok := s.streams[st.path]; ok {
		delete(set, st)
		if len(set) == 0 {
			delete(s.streams, st.path)
		}
	}
}

// stream buffers changes without bound so writers never block on slow readers
type stream struct {
	store    *Store
	path     string
	queue    []*proto.Document
	err      error
	stopped  bool
	notify   chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	mu       sync.Mutex
}

func (st *stream) push(doc *proto.Document) {
	st.mu.Lock()
	if st.stopped || st.err != nil {
		st.mu.Unlock()
		return
	}
	st.queue = append(st.queue, doc)
	st.mu.Unlock()
	st.wake()
}

func (st *stream) fail(err error) {
	st.mu.Lock()
	if st.err == nil {
		st.err = err
	}
	st.mu.Unlock()
	st.wake()
}

func (st *stream) wake() {
	select {
	case st.notify <- struct{}{}:
	default:
	}
}

// Next returns queued changes first, then a pending failure
func (st *stream) Next(ctx context.Context) (*proto.Document, error) {
	for {
		st.mu.Lock()
		if st.stopped {
			st.mu.Unlock()
			return nil, ErrStreamStopped
		}
		if len(st.queue) > 0 {
			doc := st.queue[0]
			st.queue[0] = nil
			st.queue = st.queue[1:]
			st.mu.Unlock()
			return doc, nil
		}
		if st.err != nil {
			err := st.err
			st.mu.Unlock()
			return nil, err
		}
		st.mu.Unlock()

		select {
		case <-st.notify:
		case <-st.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (st *stream) Stop() {
	st.stopOnce.Do(func() {
		st.mu.Lock()
		st.stopped = true
		st.queue = nil
		st.mu.Unlock()
		close(st.done)
		st.store.detach(st)
	})
}
