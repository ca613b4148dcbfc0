package combat

import (
	"context"
	"math"
	"sync"
	"time"
)

const DefaultDuration = 10 * time.Second

// Tracker records which owners were recently in combat. A tag expires a
// fixed duration after the last hit; tagging again refreshes it.
type Tracker struct {
	mu       sync.Mutex
	expiry   map[string]time.Time
	duration time.Duration
	now      func() time.Time
	onChange func(tagged int)
}

func NewTracker(duration time.Duration, now func() time.Time) *Tracker {
	if duration <= 0 {
		duration = DefaultDuration
	}
	if now == nil {
		now = time.Now
	}
	return &Tracker{
		expiry:   make(map[string]time.Time),
		duration: duration,
		now:      now,
	}
}

// SetChangeHook reports the tagged count after every sweep.
func (t *Tracker) SetChangeHook(hook func(tagged int)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onChange = hook
}

func (t *Tracker) Tag(ownerID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.expiry[ownerID] = t.now().Add(t.duration)
}

// TagPair tags both sides of a hit.
func (t *Tracker) TagPair(attackerID, victimID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	until := t.now().Add(t.duration)
	t.expiry[attackerID] = until
	t.expiry[victimID] = until
}

// IsTagged reports whether the owner is tagged, dropping a stale entry.
func (t *Tracker) IsTagged(ownerID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	until, ok := t.expiry[ownerID]
	if !ok {
		return false
	}
	if !t.now().Before(until) {
		delete(t.expiry, ownerID)
		return false
	}
	return true
}

// RemainingSeconds rounds up, so a tagged owner always reports at least 1.
func (t *Tracker) RemainingSeconds(ownerID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	until, ok := t.expiry[ownerID]
	if !ok {
		return 0
	}
	left := until.Sub(t.now())
	if left <= 0 {
		return 0
	}
	return int(math.Ceil(left.Seconds()))
}

func (t *Tracker) Remove(ownerID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.expiry, ownerID)
}

func (t *Tracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.expiry)
}

func (t *Tracker) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				t.Sweep()
			}
		}
	}()
}

// Sweep removes expired tags and returns how many were dropped.
func (t *Tracker) Sweep() int {
	t.mu.Lock()
	now := t.now()
	removed := 0
	for id, until := range t.expiry {
		if !now.Before(until) {
			delete(t.expiry, id)
			removed++
		}
	}
	remaining := len(t.expiry)
	hook := t.onChange
	t.mu.Unlock()

	if hook != nil {
		hook(remaining)
	}
	return removed
}
