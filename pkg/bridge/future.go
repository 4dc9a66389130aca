package bridge

import (
	"context"
	"sync"
)

// Settlement outcomes, also used as metric labels.
const (
	OutcomeReply          = "reply"
	OutcomeTimeout        = "timeout"
	OutcomeTransportError = "transport_error"
	OutcomeCanceled       = "canceled"
	OutcomeClosed         = "closed"
)

// Future is the pending result of a reply-expecting Send. It settles exactly
// once, with either the matching reply or a synthesized failure envelope.
type Future struct {
	req  Envelope
	done chan struct{}
	once sync.Once

	result  Envelope
	outcome string

	// set by the Center before the future is shared
	pending  *pendingRequest
	onSettle func(env Envelope, outcome string)
}

func newFuture(req Envelope) *Future {
	return &Future{
		req:  req,
		done: make(chan struct{}),
	}
}

// Request returns the envelope that was posted.
func (f *Future) Request() Envelope { return f.req }

// Done is closed once the future settles.
func (f *Future) Done() <-chan struct{} { return f.done }

// Settled reports whether the future has settled.
func (f *Future) Settled() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Result blocks until the future settles and returns the settled envelope.
func (f *Future) Result() Envelope {
	<-f.done
	return f.result
}

// Outcome returns how the future settled, or "" while it is pending.
func (f *Future) Outcome() string {
	if !f.Settled() {
		return ""
	}
	return f.outcome
}

// Await waits for settlement or for ctx to end. Giving up on the wait does
// not settle the future; use Center.Call for a wait that cancels the request.
func (f *Future) Await(ctx context.Context) (Envelope, error) {
	select {
	case <-f.done:
		return f.result, nil
	case <-ctx.Done():
		return Envelope{}, ctx.Err()
	}
}

// settle stores env and releases waiters. Later calls are no-ops; the return
// value reports whether this call won.
func (f *Future) settle(env Envelope, outcome string) bool {
	won := false
	f.once.Do(func() {
		won = true
		f.result = env
		f.outcome = outcome
		if f.onSettle != nil {
			f.onSettle(env, outcome)
		}
		close(f.done)
	})
	return won
}
