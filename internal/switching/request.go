package switching

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

type State int32

const (
	StateIdle State = iota
	StateValidating
	StateWarmup
	StateCommitting
	StateCommitted
	StateCancelled
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateValidating:
		return "validating"
	case StateWarmup:
		return "warmup"
	case StateCommitting:
		return "committing"
	case StateCommitted:
		return "committed"
	case StateCancelled:
		return "cancelled"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

func (s State) Terminal() bool {
	return s == StateCommitted || s == StateCancelled || s == StateFailed
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Outcome is the resolved result of a request.
type Outcome struct {
	RequestID string `json:"request_id"`
	OwnerID   string `json:"owner_id"`
	From      string `json:"from"`
	To        string `json:"to"`
	State     State  `json:"state"`
	Reason    string `json:"reason,omitempty"`
	Forced    bool   `json:"forced,omitempty"`
}

func (o Outcome) Success() bool { return o.State == StateCommitted }

// Request is one live switch for one owner. Its state only moves forward;
// once terminal it never changes again.
type Request struct {
	ID          string
	OwnerID     string
	From        string
	To          string
	Forced      bool
	RequestedAt time.Time

	state     atomic.Int32
	remaining atomic.Int32

	cancelOnce sync.Once
	cancelled  chan struct{}

	doneOnce sync.Once
	done     chan struct{}
	outcome  Outcome
}

func newRequest(id, ownerID, to string, forced bool, now time.Time) *Request {
	r := &Request{
		ID:          id,
		OwnerID:     ownerID,
		To:          to,
		Forced:      forced,
		RequestedAt: now,
		cancelled:   make(chan struct{}),
		done:        make(chan struct{}),
	}
	r.state.Store(int32(StateValidating))
	return r
}

func (r *Request) State() State { return State(r.state.Load()) }

// Remaining is the number of warmup ticks left.
func (r *Request) Remaining() int { return int(r.remaining.Load()) }

func (r *Request) transition(from, to State) bool {
	return r.state.CompareAndSwap(int32(from), int32(to))
}

func (r *Request) signalCancel() {
	r.cancelOnce.Do(func() { close(r.cancelled) })
}

func (r *Request) resolve(reason string) {
	r.doneOnce.Do(func() {
		r.outcome = Outcome{
			RequestID: r.ID,
			OwnerID:   r.OwnerID,
			From:      r.From,
			To:        r.To,
			State:     r.State(),
			Reason:    reason,
			Forced:    r.Forced,
		}
		close(r.done)
	})
}

// Done is closed once the request reaches a terminal state.
func (r *Request) Done() <-chan struct{} { return r.done }

// Outcome is valid after Done is closed.
func (r *Request) Outcome() Outcome {
	<-r.done
	return r.outcome
}

func (r *Request) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-r.done:
		return r.outcome, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}
