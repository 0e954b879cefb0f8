package store

import (
	"context"
	"testing"

	"github.com/nkkko/docsync/internal/store/firestore"
	"github.com/nkkko/docsync/internal/store/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMemory(t *testing.T) {
	s, err := New(context.Background(), DefaultConfig())
	require.NoError(t, err)
	assert.IsType(t, &memory.Store{}, s)
}

func TestNewHTTP(t *testing.T) {
	_, err := New(context.Background(), Config{Type: TypeHTTP})
	assert.Error(t, err)

	s, err := New(context.Background(), Config{Type: TypeHTTP, BaseURL: "http://localhost:8080/v1"})
	require.NoError(t, err)
	assert.IsType(t, &HTTP{}, s)
	assert.NoError(t, s.Close())
}

func TestNewFirestoreWithoutProject(t *testing.T) {
	t.Setenv("PROJECT_ID", "")
	_, err := New(context.Background(), Config{Type: TypeFirestore})
	assert.ErrorIs(t, err, firestore.ErrProjectID)
}

func TestNewUnknown(t *testing.T) {
	_, err := New(context.Background(), Config{Type: "redis"})
	assert.EqualError(t, err, `unknown store type: "redis"`)
}
