package switching

import (
	"context"
	"time"

	"github.com/ent0n29/profileswitch/internal/host"
	"github.com/ent0n29/profileswitch/internal/notify"
)

// runWarmup counts the request down one tick at a time. A cancel that lands
// before the final tick's transition wins.
func (c *Coordinator) runWarmup(req *Request) {
	ticker := time.NewTicker(c.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-req.cancelled:
			return
		case <-ticker.C:
		}
		if req.State() != StateWarmup {
			return
		}
		left := req.remaining.Add(-1)
		if left > 0 {
			c.bus.Publish(context.Background(), notify.Event{
				Type:      notify.EventWarmupTick,
				OwnerID:   req.OwnerID,
				To:        req.To,
				Remaining: int(left),
			})
			continue
		}
		select {
		case <-req.cancelled:
			return
		default:
		}
		if req.transition(StateWarmup, StateCommitting) {
			c.submitCommit(req)
		}
		return
	}
}

// Cancel aborts the owner's request if it has not started committing.
func (c *Coordinator) Cancel(ownerID, reason string) bool {
	return c.cancel(ownerID, reason, true)
}

func (c *Coordinator) cancel(ownerID, reason string, includeValidating bool) bool {
	c.mu.Lock()
	req, ok := c.active[ownerID]
	c.mu.Unlock()
	if !ok {
		return false
	}
	cancelled := req.transition(StateWarmup, StateCancelled)
	if !cancelled && includeValidating {
		cancelled = req.transition(StateValidating, StateCancelled)
	}
	if !cancelled {
		return false
	}
	req.signalCancel()
	c.finish(req, reason)
	return true
}

// OnMove cancels a warming-up switch when the owner crosses a block boundary.
func (c *Coordinator) OnMove(ownerID string, from, to host.Position) bool {
	if !c.cfg.CancelOnMove || host.SameBlock(from, to) {
		return false
	}
	return c.cancel(ownerID, ReasonMoved, false)
}

func (c *Coordinator) OnDamage(ownerID string) bool {
	if !c.cfg.CancelOnDamage {
		return false
	}
	return c.cancel(ownerID, ReasonDamaged, false)
}

func (c *Coordinator) OnDisconnect(ownerID string) bool {
	return c.cancel(ownerID, ReasonDisconnected, true)
}

// CancelAll cancels every request that has not started committing.
func (c *Coordinator) CancelAll(reason string) int {
	c.mu.Lock()
	owners := make([]string, 0, len(c.active))
	for id := range c.active {
		owners = append(owners, id)
	}
	c.mu.Unlock()

	n := 0
	for _, id := range owners {
		if c.cancel(id, reason, true) {
			n++
		}
	}
	return n
}
