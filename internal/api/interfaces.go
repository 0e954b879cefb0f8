package api

import "github.com/nkkko/docsync/internal/coordinator"

// Coordinator is the sync control surface exposed over HTTP
type Coordinator interface {
	Status() coordinator.Status
	Stop()
}

// DocumentCache serves the latest recorded data per document id
type DocumentCache interface {
	Get(id string) (map[string]any, bool)
	Keys() []string
}
