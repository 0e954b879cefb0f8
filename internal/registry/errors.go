package registry

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadySubscribed is returned by Register when the id already has a
	// live subscription. No second stream is opened.
	ErrAlreadySubscribed = errors.New("already subscribed")

	// ErrAlreadyCancelled is returned by Cancel when nothing is active for the id
	ErrAlreadyCancelled = errors.New("subscription already cancelled")

	// ErrSubscription matches every *SubscriptionError
	ErrSubscription = errors.New("subscription error")

	errNilSnapshot = errors.New("stream delivered an empty snapshot")
)

// SubscriptionError reports a stream that could not be opened or that failed
// after delivery began. It only ever affects the one document id.
type SubscriptionError struct {
	ID  string
	Err error
}

func (e *SubscriptionError) Error() string {
	return fmt.Sprintf("subscription %q: %v", e.ID, e.Err)
}

// Unwrap exposes both ErrSubscription and the underlying cause to errors.Is
func (e *SubscriptionError) Unwrap() []error {
	return []error{ErrSubscription, e.Err}
}
