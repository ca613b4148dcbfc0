package switching

import (
	"context"
	"time"

	"github.com/ent0n29/profileswitch/internal/profile"
)

// submitCommit runs the commit on the bounded worker pool. The request is
// already Committing, so nothing can cancel it from here on.
func (c *Coordinator) submitCommit(req *Request) {
	c.inflight.Add(1)
	go func() {
		defer c.inflight.Done()
		ctx := context.Background()
		if err := c.workers.Acquire(ctx, 1); err != nil {
			c.fail(req, ReasonSaveFailed)
			return
		}
		defer c.workers.Release(1)
		c.commit(ctx, req)
	}()
}

func (c *Coordinator) commit(ctx context.Context, req *Request) {
	release := c.owners.Lock(req.OwnerID)
	defer release()
	start := time.Now()
	defer func() { c.metrics.ObserveCommit(time.Since(start)) }()

	if !c.registry.Loaded(req.OwnerID) {
		c.fail(req, ReasonDisconnected)
		return
	}
	now := c.now().UTC()

	var snapshot []byte
	err := c.exec.Do(ctx, func() error {
		var err error
		snapshot, err = c.host.Capture(ctx, req.OwnerID)
		return err
	})
	if err != nil {
		c.logger.Error().Err(err).Str("owner", req.OwnerID).Msg("capture live state failed")
		c.fail(req, ReasonCapture)
		return
	}

	outgoing := profile.Record{OwnerID: req.OwnerID, Name: req.From, State: snapshot, LastUsedAt: now}
	if prev, err := c.registry.Get(req.OwnerID, req.From); err == nil {
		outgoing.CreatedAt = prev.CreatedAt
	}
	if !c.store.Save(ctx, outgoing) {
		if !c.store.QueueDeferredSave(outgoing) {
			c.fail(req, ReasonSaveFailed)
			return
		}
		c.logger.Warn().Str("owner", req.OwnerID).Str("profile", req.From).Msg("outgoing save deferred")
	}
	_ = c.registry.Put(outgoing)

	target, err := c.registry.Get(req.OwnerID, req.To)
	if err != nil {
		all, lerr := c.store.LoadAll(ctx, req.OwnerID)
		rec, ok := all[req.To]
		if lerr != nil || !ok {
			c.logger.Error().Err(lerr).Str("owner", req.OwnerID).Str("profile", req.To).Msg("load target profile failed")
			c.fail(req, ReasonLoadFailed)
			return
		}
		target = rec
	}

	err = c.exec.Do(ctx, func() error {
		return c.host.Apply(ctx, req.OwnerID, target.State)
	})
	if err != nil {
		c.logger.Error().Err(err).Str("owner", req.OwnerID).Str("profile", req.To).Msg("apply profile failed")
		c.fail(req, ReasonApplyFailed)
		return
	}

	target.LastUsedAt = now
	if err := c.registry.Put(target); err == nil {
		if err := c.registry.SetActive(req.OwnerID, req.To); err != nil {
			c.logger.Warn().Err(err).Str("owner", req.OwnerID).Msg("set active profile failed")
		}
	} else {
		c.logger.Warn().Err(err).Str("owner", req.OwnerID).Msg("owner unloaded during commit")
	}

	if req.transition(StateCommitting, StateCommitted) {
		c.finish(req, "")
	}
}

func (c *Coordinator) fail(req *Request, reason string) {
	if req.transition(StateCommitting, StateFailed) {
		c.finish(req, reason)
	}
}
