package nnrt

// Event signals the completion of an asynchronous computation started with Execution.StartCompute.
//
// Usually users don't need it directly: Execution.Compute starts and waits for the computation.
type Event struct {
	done chan struct{}
	err  error
}

func newEvent() *Event {
	return &Event{done: make(chan struct{})}
}

// complete records the result and wakes up the waiters. It must be called exactly once.
func (e *Event) complete(err error) {
	e.err = err
	close(e.done)
}

// Wait blocks the calling goroutine until the computation finishes, then returns its error, if any.
// All writes made by the computation to the output memory happen-before Wait returns.
//
// It can be called more than once, and from different goroutines.
func (e *Event) Wait() error {
	if e == nil || e.done == nil {
		return errorf(UnexpectedNull, "Event is nil")
	}
	<-e.done
	return e.err
}

// Done returns a channel closed when the computation finishes.
func (e *Event) Done() <-chan struct{} {
	return e.done
}

// Status returns the ResultCode of the computation: Incomplete if it hasn't finished yet.
func (e *Event) Status() ResultCode {
	select {
	case <-e.done:
		return CodeOf(e.err)
	default:
		return Incomplete
	}
}
