package proto

import (
	"fmt"
	"strconv"

	"google.golang.org/protobuf/types/known/timestamppb"
)

// Default collection naming used by the plate services
const (
	PlatesCollectionPrefix      = "plates-"
	PlateStatesCollectionPrefix = "plate-states-"
)

// Document is a uniquely identified, versioned record of field/value pairs
type Document struct {
	Id         string                 `json:"id"`
	Collection string                 `json:"collection,omitempty"`
	Fields     map[string]any         `json:"fields,omitempty"`
	Version    int64                  `json:"version,omitempty"`
	UpdateTime *timestamppb.Timestamp `json:"update_time,omitempty"`
}

// Ref returns the reference addressing this document
func (d *Document) Ref() DocumentRef {
	return DocumentRef{Collection: d.Collection, Id: d.Id}
}

// Deleted reports whether the document is a tombstone for a removed record
func (d *Document) Deleted() bool {
	return d.Fields == nil
}

// Clone returns a copy of the document with its own top-level field map
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	out := *d
	if d.Fields != nil {
		out.Fields = make(map[string]any, len(d.Fields))
		for k, v := range d.Fields {
			out.Fields[k] = v
		}
	}
	if d.UpdateTime != nil {
		out.UpdateTime = timestamppb.New(d.UpdateTime.AsTime())
	}
	return &out
}

// DocumentRef addresses a single document inside a collection
type DocumentRef struct {
	Collection string `json:"collection"`
	Id         string `json:"id"`
}

// Path returns the slash separated document path
func (r DocumentRef) Path() string {
	return r.Collection + "/" + r.Id
}

// CollectionName builds a per-shop collection name such as "plate-states-160"
func CollectionName(prefix string, shopNumber int64) string {
	return prefix + strconv.FormatInt(shopNumber, 10)
}

// ListDocumentsResponse is the body returned by a document listing endpoint
type ListDocumentsResponse struct {
	Documents []*Document `json:"documents"`
}

// StreamFrame is a control frame sent on a document stream
type StreamFrame struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
}

// Error wraps an error message for consistent error handling
type Error struct {
	Message string
}

// NewError creates a new Error
func NewError(msg string) error {
	return &Error{Message: msg}
}

// Error implements the error interface
func (e *Error) Error() string {
	return fmt.Sprintf("docsync: %s", e.Message)
}
