package domain

import (
	"context"

	"github.com/nkkko/docsync/pkg/proto"
)

// RemoteStore is the document source the sync core reads from
type RemoteStore interface {
	// ListDocuments returns every document currently in collection
	ListDocuments(ctx context.Context, collection string) ([]*proto.Document, error)

	// Subscribe opens a live stream of changes for one document. ctx bounds
	// the lifetime of the stream, not only the call.
	Subscribe(ctx context.Context, collection, id string) (Stream, error)

	// Close releases clients and connections held by the store
	Close() error
}

// Stream delivers the changes of a single document in emission order.
// A snapshot of a document that no longer exists arrives with nil Fields.
type Stream interface {
	// Next blocks until the next change, ctx is done, or the stream fails
	Next(ctx context.Context) (*proto.Document, error)

	// Stop releases the stream. Safe to call more than once.
	Stop()
}

// Sink records the latest data seen for a document id
type Sink interface {
	Record(id string, data map[string]any)
}

// SinkCloser is a Sink holding resources that must be released on shutdown
type SinkCloser interface {
	Sink
	Close() error
}
