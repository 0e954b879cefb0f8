package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const collection = "plate-states-160"

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	s := NewLog(&logger)

	s.Record("p000062", map[string]any{"state": 0})
	s.Record("p000063", nil)

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)

	var first, second map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &first))
	require.NoError(t, json.Unmarshal(lines[1], &second))

	assert.Equal(t, "p000062", first["document_id"])
	assert.Equal(t, map[string]any{"state": float64(0)}, first["data"])
	assert.Equal(t, true, second["deleted"])
}

func TestCacheSink(t *testing.T) {
	s, err := NewCache(4)
	require.NoError(t, err)

	s.Record("B", map[string]any{"x": 2})
	s.Record("A", map[string]any{"x": 1})
	assert.Equal(t, []string{"A", "B"}, s.Keys())

	data, ok := s.Get("A")
	require.True(t, ok)
	data["x"] = 99
	again, _ := s.Get("A")
	assert.Equal(t, 1, again["x"], "Get must return a copy")

	s.Record("A", nil)
	_, ok = s.Get("A")
	assert.False(t, ok)
	assert.Equal(t, 1, s.Len())

	// capacity is bounded
	for _, id := range []string{"C", "D", "E", "F", "G"} {
		s.Record(id, map[string]any{"x": id})
	}
	assert.LessOrEqual(t, s.Len(), 4)
}

func TestMirrorSink(t *testing.T) {
	s, err := NewMirror(MirrorConfig{InMemory: true, Collection: collection})
	require.NoError(t, err)
	defer s.Close()

	s.Record("A", map[string]any{"x": 1})
	s.Record("B", map[string]any{"x": 2})
	s.Record("A", map[string]any{"x": 3})

	data, ok, err := s.Get("A")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, float64(3), data["x"])

	s.Record("B", nil)
	_, ok, err = s.Get("B")
	require.NoError(t, err)
	assert.False(t, ok)

	all, err := s.List()
	require.NoError(t, err)
	assert.Equal(t, map[string]map[string]any{"A": {"x": float64(3)}}, all)
}

func TestMirrorSinkPersists(t *testing.T) {
	dir := t.TempDir()

	s, err := NewMirror(MirrorConfig{Dir: dir, Collection: collection})
	require.NoError(t, err)
	s.Record("A", map[string]any{"x": 1})
	require.NoError(t, s.Close())

	reopened, err := NewMirror(MirrorConfig{Dir: dir, Collection: collection})
	require.NoError(t, err)
	defer reopened.Close()

	data, ok, err := reopened.Get("A")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, float64(1), data["x"])

	// other collections are not visible
	other, err := NewMirror(MirrorConfig{InMemory: true, Collection: "plates-160"})
	require.NoError(t, err)
	defer other.Close()
	all, err := other.List()
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestMirrorRequiresDir(t *testing.T) {
	_, err := NewMirror(MirrorConfig{})
	assert.Error(t, err)
}

func TestPubSubSink(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	srv := pstest.NewServer()
	defer srv.Close()

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	const projectID = "test-project"
	admin, err := pubsub.NewClient(ctx, projectID, option.WithGRPCConn(conn))
	require.NoError(t, err)
	_, err = admin.CreateTopic(ctx, "document-changes")
	require.NoError(t, err)

	s, err := NewPubSub(ctx, PubSubConfig{
		ProjectID:  projectID,
		TopicID:    "document-changes",
		Collection: collection,
	}, option.WithGRPCConn(conn))
	require.NoError(t, err)

	s.Record("p000062", map[string]any{"state": 1})
	s.Record("p000062", nil)
	require.NoError(t, s.Close())

	msgs := srv.Messages()
	require.Len(t, msgs, 2)

	var change ChangeMessage
	require.NoError(t, json.Unmarshal(msgs[0].Data, &change))
	assert.Equal(t, "p000062", change.DocumentID)
	assert.Equal(t, collection, change.Collection)
	assert.Equal(t, map[string]any{"state": float64(1)}, change.Data)
	assert.Equal(t, "p000062", msgs[0].Attributes["document_id"])
	assert.Equal(t, collection, msgs[0].Attributes["collection"])

	require.NoError(t, json.Unmarshal(msgs[1].Data, &change))
	assert.True(t, change.Deleted)
}

func TestPubSubRequiresTopic(t *testing.T) {
	_, err := NewPubSub(context.Background(), PubSubConfig{ProjectID: "p"})
	assert.Error(t, err)
}

type countingSink struct {
	calls  []string
	closed bool
}

func (s *countingSink) Record(id string, _ map[string]any) { s.calls = append(s.calls, id) }
func (s *countingSink) Close() error                       { s.closed = true; return nil }

func TestFanout(t *testing.T) {
	first := &countingSink{}
	second := &countingSink{}
	cache, err := NewCache(10)
	require.NoError(t, err)

	f := Multi(first, cache, second)
	f.Record("A", map[string]any{"x": 1})

	assert.Equal(t, []string{"A"}, first.calls)
	assert.Equal(t, []string{"A"}, second.calls)
	assert.Same(t, cache, f.Cache())

	require.NoError(t, f.Close())
	assert.True(t, first.closed)
	assert.True(t, second.closed)
}

func TestFromConfig(t *testing.T) {
	f, err := FromConfig(context.Background(), Config{
		CacheSize: 10,
		Mirror:    &MirrorConfig{InMemory: true, Collection: collection},
	})
	require.NoError(t, err)
	defer f.Close()

	f.Record("A", map[string]any{"x": 1})

	require.NotNil(t, f.Cache())
	data, ok := f.Cache().Get("A")
	require.True(t, ok)
	assert.Equal(t, 1, data["x"])
}
