package firestore

import (
	"context"
	"errors"
	"fmt"
	"os"

	"cloud.google.com/go/firestore"
	"github.com/nkkko/docsync/internal/domain"
	"github.com/nkkko/docsync/internal/logging"
	"github.com/nkkko/docsync/pkg/proto"
	"github.com/rs/zerolog"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/protobuf/types/known/timestamppb"
)

var _ domain.RemoteStore = (*Store)(nil)

// ErrProjectID is returned when no project id is configured or in PROJECT_ID
var ErrProjectID = errors.New("firestore project id is required (set PROJECT_ID)")

// Config contains Firestore connection settings
type Config struct {
	ProjectID string

	// Use the Firestore emulator at host:port
	EmulatorHost string
}

// Store reads collections and document listeners from Cloud Firestore
type Store struct {
	client *firestore.Client
	logger zerolog.Logger
}

// New connects to Firestore
func New(ctx context.Context, config Config, opts ...option.ClientOption) (*Store, error) {
	projectID := config.ProjectID
	if projectID == "" {
		projectID = os.Getenv("PROJECT_ID")
	}
	if projectID == "" {
		return nil, ErrProjectID
	}

	if config.EmulatorHost != "" {
		// the SDK only picks the emulator up from the environment
		if err := os.Setenv("FIRESTORE_EMULATOR_HOST", config.EmulatorHost); err != nil {
			return nil, fmt.Errorf("failed to set emulator host: %w", err)
		}
	}

	client, err := firestore.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}

	return &Store{
		client: client,
		logger: logging.Component("firestore-store").With().Str("project_id", projectID).Logger(),
	}, nil
}

// Client exposes the underlying SDK client
func (s *Store) Client() *firestore.Client {
	return s.client
}

// ListDocuments reads every document of collection
func (s *Store) ListDocuments(ctx context.Context, collection string) ([]*proto.Document, error) {
	iter := s.client.Collection(collection).Documents(ctx)
	defer iter.Stop()

	var docs []*proto.Document
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", collection, err)
		}
		docs = append(docs, toDocument(collection, snap))
	}

	s.logger.Debug().Str("collection", collection).Int("documents", len(docs)).Msg("Collection listed")
	return docs, nil
}

// Subscribe attaches a snapshot listener to collection/id
func (s *Store) Subscribe(ctx context.Context, collection, id string) (domain.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &stream{
		collection: collection,
		iter:       s.client.Collection(collection).Doc(id).Snapshots(ctx),
	}, nil
}

// Close closes the SDK client
func (s *Store) Close() error {
	return s.client.Close()
}

type stream struct {
	collection string
	iter       *firestore.DocumentSnapshotIterator
}

func (st *stream) Next(ctx context.Context) (*proto.Document, error) {
	stop := context.AfterFunc(ctx, st.iter.Stop)
	defer stop()

	snap, err := st.iter.Next()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}
	return toDocument(st.collection, snap), nil
}

func (st *stream) Stop() {
	st.iter.Stop()
}

// toDocument converts a snapshot; a snapshot of a missing document becomes a
// tombstone versioned by its read time
func toDocument(collection string, snap *firestore.DocumentSnapshot) *proto.Document {
	doc := &proto.Document{
		Id:         snap.Ref.ID,
		Collection: collection,
	}
	if !snap.Exists() {
		doc.Version = snap.ReadTime.UnixNano()
		doc.UpdateTime = timestamppb.New(snap.ReadTime)
		return doc
	}
	doc.Fields = snap.Data()
	doc.Version = snap.UpdateTime.UnixNano()
	doc.UpdateTime = timestamppb.New(snap.UpdateTime)
	return doc
}
