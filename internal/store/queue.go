package store

import (
	"context"

	"github.com/ent0n29/profileswitch/internal/profile"
)

// QueueDeferredSave enqueues record for the next batch flush. It reports
// false once the store is closed.
func (s *Store) QueueDeferredSave(record profile.Record) bool {
	if s.closed.Load() {
		s.logger.Warn().
			Str("owner", record.OwnerID).
			Str("profile", record.Name).
			Msg("deferred save after close dropped")
		return false
	}
	s.queueMu.Lock()
	s.queue = append(s.queue, *record.Clone())
	depth := len(s.queue)
	s.queueMu.Unlock()
	s.metrics.SetDeferredQueueDepth(depth)
	return true
}

// Flush drains the queue, keeps the latest record per key and saves the
// survivors as one batch. It returns the number persisted.
func (s *Store) Flush(ctx context.Context) int {
	s.queueMu.Lock()
	pending := s.queue
	s.queue = nil
	s.queueMu.Unlock()
	s.metrics.SetDeferredQueueDepth(0)
	if len(pending) == 0 {
		return 0
	}

	batch := coalesce(pending)
	saved := s.SaveBatch(ctx, batch)
	if saved < len(batch) {
		s.logger.Warn().Int("saved", saved).Int("queued", len(batch)).Msg("deferred flush incomplete")
	} else {
		s.logger.Debug().Int("saved", saved).Msg("deferred flush complete")
	}
	return saved
}

// QueueLen reports how many saves are waiting for the next flush.
func (s *Store) QueueLen() int {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()
	return len(s.queue)
}

func (s *Store) dropQueued(key profile.Key) {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()
	kept := s.queue[:0]
	for _, rec := range s.queue {
		if rec.Key() != key {
			kept = append(kept, rec)
		}
	}
	s.queue = kept
}

// coalesce keeps the last record per key, ordered by first appearance.
func coalesce(records []profile.Record) []profile.Record {
	index := make(map[profile.Key]int, len(records))
	out := make([]profile.Record, 0, len(records))
	for _, rec := range records {
		if i, ok := index[rec.Key()]; ok {
			out[i] = rec
			continue
		}
		index[rec.Key()] = len(out)
		out = append(out, rec)
	}
	return out
}
