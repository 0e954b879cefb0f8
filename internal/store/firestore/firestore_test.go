package firestore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRequiresProjectID(t *testing.T) {
	t.Setenv("PROJECT_ID", "")

	_, err := New(context.Background(), Config{})
	assert.ErrorIs(t, err, ErrProjectID)
}

// TestEmulator runs against a local emulator, e.g.
// gcloud emulators firestore start --host-port=localhost:8686
func TestEmulator(t *testing.T) {
	host := os.Getenv("FIRESTORE_EMULATOR_HOST")
	if host == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	store, err := New(ctx, Config{ProjectID: "docsync-test", EmulatorHost: host})
	require.NoError(t, err)
	defer store.Close()

	collection := "plate-states-" + time.Now().Format("150405.000000")
	doc := store.Client().Collection(collection).Doc("p000062")

	_, err = doc.Set(ctx, map[string]any{"qrId": "p000062", "state": 0})
	require.NoError(t, err)

	docs, err := store.ListDocuments(ctx, collection)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "p000062", docs[0].Id)
	assert.Equal(t, int64(0), docs[0].Fields["state"])
	assert.NotZero(t, docs[0].Version)

	st, err := store.Subscribe(ctx, collection, "p000062")
	require.NoError(t, err)
	defer st.Stop()

	initial, err := st.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, docs[0].Version, initial.Version)

	_, err = doc.Set(ctx, map[string]any{"qrId": "p000062", "state": 1})
	require.NoError(t, err)

	changed, err := st.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), changed.Fields["state"])
	assert.Greater(t, changed.Version, initial.Version)

	_, err = doc.Delete(ctx)
	require.NoError(t, err)

	deleted, err := st.Next(ctx)
	require.NoError(t, err)
	assert.True(t, deleted.Deleted())
}
