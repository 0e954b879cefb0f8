package store

import (
	"context"
	"fmt"
	"time"

	"github.com/nkkko/docsync/internal/domain"
	"github.com/nkkko/docsync/internal/store/firestore"
	"github.com/nkkko/docsync/internal/store/memory"
	"github.com/nkkko/docsync/pkg/client"
)

// Type names a RemoteStore implementation
type Type string

const (
	TypeMemory    Type = "memory"
	TypeHTTP      Type = "http"
	TypeFirestore Type = "firestore"
)

// Config selects and configures a RemoteStore
type Config struct {
	Type Type

	// firestore
	ProjectID    string
	EmulatorHost string

	// http
	BaseURL  string
	ClientID string
	Timeout  time.Duration
}

// DefaultConfig returns the in-memory store configuration
func DefaultConfig() Config {
	return Config{
		Type:    TypeMemory,
		Timeout: 10 * time.Second,
	}
}

// New creates the RemoteStore described by config
func New(ctx context.Context, config Config) (domain.RemoteStore, error) {
	switch config.Type {
	case TypeMemory, "":
		return memory.New(), nil

	case TypeFirestore:
		fs, err := firestore.New(ctx, firestore.Config{
			ProjectID:    config.ProjectID,
			EmulatorHost: config.EmulatorHost,
		})
		if err != nil {
			return nil, err
		}
		return fs, nil

	case TypeHTTP:
		if config.BaseURL == "" {
			return nil, fmt.Errorf("http store requires a base URL")
		}
		opts := []client.ClientOption{}
		if config.Timeout > 0 {
			opts = append(opts, client.WithTimeout(config.Timeout))
		}
		if config.ClientID != "" {
			opts = append(opts, client.WithClientID(config.ClientID))
		}
		return NewHTTP(client.New(config.BaseURL, opts...)), nil

	default:
		return nil, fmt.Errorf("unknown store type: %q", config.Type)
	}
}

// HTTP adapts a document service client to domain.RemoteStore
type HTTP struct {
	*client.Client
}

var _ domain.RemoteStore = (*HTTP)(nil)

// NewHTTP wraps c
func NewHTTP(c *client.Client) *HTTP {
	return &HTTP{Client: c}
}

func (h *HTTP) Subscribe(ctx context.Context, collection, id string) (domain.Stream, error) {
	st, err := h.Client.Subscribe(ctx, collection, id)
	if err != nil {
		return nil, err
	}
	return st, nil
}
