package proto

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"google.golang.org/protobuf/types/known/timestamppb"
)

func TestDocumentClone(t *testing.T) {
	doc := &Document{
		Id:         "A",
		Collection: "plate-states-160",
		Fields:     map[string]any{"x": 1},
		Version:    3,
		UpdateTime: timestamppb.New(time.Unix(1700000000, 0)),
	}

	clone := doc.Clone()
	clone.Fields["x"] = 2

	assert.Equal(t, 1, doc.Fields["x"], "clone must not share the field map")
	assert.Equal(t, doc.Version, clone.Version)
	assert.Equal(t, doc.UpdateTime.AsTime(), clone.UpdateTime.AsTime())
	assert.Nil(t, (*Document)(nil).Clone())
}

func TestDocumentDeleted(t *testing.T) {
	assert.True(t, (&Document{Id: "A"}).Deleted())
	assert.False(t, (&Document{Id: "A", Fields: map[string]any{}}).Deleted())
}

func TestCollectionName(t *testing.T) {
	assert.Equal(t, "plate-states-160", CollectionName(PlateStatesCollectionPrefix, 160))
	assert.Equal(t, "plates-7", CollectionName(PlatesCollectionPrefix, 7))
}

func TestDocumentRefPath(t *testing.T) {
	doc := &Document{Id: "qr-1", Collection: "plates-1"}
	assert.Equal(t, "plates-1/qr-1", doc.Ref().Path())
}

func TestError(t *testing.T) {
	err := NewError("boom")
	assert.EqualError(t, err, "docsync: boom")
}
