package coordinator

import (
	"errors"
	"fmt"
)

var (
	// ErrFetchFailed matches every *FetchFailedError
	ErrFetchFailed = errors.New("fetch failed")

	// ErrInvalidState is returned by Start outside Idle and Failed
	ErrInvalidState = errors.New("invalid coordinator state")

	// ErrStopped is returned by Start when Stop ran before it completed
	ErrStopped = errors.New("coordinator stopped")
)

// FetchFailedError reports a failed initial listing of a collection
type FetchFailedError struct {
	Collection string
	Err        error
}

func (e *FetchFailedError) Error() string {
	return fmt.Sprintf("fetch %q: %v", e.Collection, e.Err)
}

func (e *FetchFailedError) Unwrap() []error {
	return []error{ErrFetchFailed, e.Err}
}
