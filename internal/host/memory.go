package host

import (
	"context"
	"sync"
)

// MemoryHost keeps live state in process. It stands in for the external
// runtime that owns player state.
type MemoryHost struct {
	mu        sync.RWMutex
	states    map[string]LiveState
	positions map[string]Position
	applyErr  func(ownerID string) error
}

func NewMemoryHost() *MemoryHost {
	return &MemoryHost{
		states:    make(map[string]LiveState),
		positions: make(map[string]Position),
	}
}

// SetApplyFailure makes Apply fail for owners where fn returns an error.
func (h *MemoryHost) SetApplyFailure(fn func(ownerID string) error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.applyErr = fn
}

func (h *MemoryHost) State(ownerID string) LiveState {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.states[ownerID]
	if !ok {
		return FreshState()
	}
	return s
}

func (h *MemoryHost) SetState(ownerID string, s LiveState) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.states[ownerID] = s
}

// MoveTo records a new position and returns the previous one.
func (h *MemoryHost) MoveTo(ownerID string, to Position) (Position, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	prev, ok := h.positions[ownerID]
	h.positions[ownerID] = to
	return prev, ok
}

func (h *MemoryHost) Forget(ownerID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.states, ownerID)
	delete(h.positions, ownerID)
}

func (h *MemoryHost) Capture(_ context.Context, ownerID string) ([]byte, error) {
	return EncodeState(h.State(ownerID))
}

func (h *MemoryHost) Apply(_ context.Context, ownerID string, state []byte) error {
	h.mu.RLock()
	fail := h.applyErr
	h.mu.RUnlock()
	if fail != nil {
		if err := fail(ownerID); err != nil {
			return err
		}
	}
	s, err := DecodeState(state)
	if err != nil {
		return err
	}
	h.SetState(ownerID, s)
	return nil
}

var _ Snapshotter = (*MemoryHost)(nil)
