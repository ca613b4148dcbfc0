package store

import (
	"context"
	"time"

	"github.com/ent0n29/profileswitch/internal/backend"
)

// acquire takes a pooled handle, waiting at most AcquireWait. After that the
// shared fallback handle is used; it is never returned to the pool.
func (s *Store) acquire(ctx context.Context) (backend.Backend, func()) {
	select {
	case h := <-s.pool:
		return h, s.releaser(h)
	default:
	}

	timer := time.NewTimer(s.cfg.AcquireWait)
	defer timer.Stop()
	select {
	case h := <-s.pool:
		return h, s.releaser(h)
	case <-timer.C:
	case <-ctx.Done():
	}

	s.fallbacks.Add(1)
	s.metrics.PoolFallback()
	s.logger.Debug().Msg("handle pool exhausted, using fallback handle")
	return s.fallback, func() {}
}

func (s *Store) releaser(h backend.Backend) func() {
	return func() { s.pool <- h }
}
