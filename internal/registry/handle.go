package registry

// Handle refers to one registered subscription
type Handle struct {
	id       string
	docID    string
	registry *Registry
	sub      *subscription
	done     chan struct{}
	err      error
}

// ID returns the unique id of this subscription
func (h *Handle) ID() string { return h.id }

// DocumentID returns the id of the document being followed
func (h *Handle) DocumentID() string { return h.docID }

// Cancel stops this subscription. Returns ErrAlreadyCancelled if it already ended
// or if the id has since been taken over by a newer subscription.
func (h *Handle) Cancel() error {
	if !h.registry.detach(h.sub) {
		return ErrAlreadyCancelled
	}
	h.sub.stop()
	return nil
}

// Done is closed once the delivery goroutine has exited
func (h *Handle) Done() <-chan struct{} { return h.done }

// Err returns the terminal stream error after Done is closed, nil on cancellation
func (h *Handle) Err() error {
	select {
	case <-h.done:
		return h.err
	default:
		return nil
	}
}
