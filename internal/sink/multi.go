package sink

import (
	"errors"
	"io"

	"github.com/nkkko/docsync/internal/domain"
)

// Fanout records to every sink in order
type Fanout struct {
	sinks []domain.Sink
}

// Multi combines sinks into one
func Multi(sinks ...domain.Sink) *Fanout {
	return &Fanout{sinks: sinks}
}

func (f *Fanout) Record(id string, data map[string]any) {
	for _, s := range f.sinks {
		s.Record(id, data)
	}
}

// Cache returns the first CacheSink in the fanout, if any
func (f *Fanout) Cache() *CacheSink {
	for _, s := range f.sinks {
		if c, ok := s.(*CacheSink); ok {
			return c
		}
	}
	return nil
}

// Close closes every sink that holds resources, in reverse order
func (f *Fanout) Close() error {
	var errs []error
	for i := len(f.sinks) - 1; i >= 0; i-- {
		if c, ok := f.sinks[i].(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
