package store

import (
	"time"

	"github.com/ent0n29/profileswitch/internal/profile"
)

type cacheEntry struct {
	record    profile.Record
	expiresAt time.Time
	seq       uint64
}

func (s *Store) currentSeq() uint64 {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	return s.seq
}

func (s *Store) cachedOwner(ownerID string) (map[string]profile.Record, bool) {
	now := s.now()
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()

	names, ok := s.owners[ownerID]
	if !ok || len(names) == 0 {
		return nil, false
	}
	out := make(map[string]profile.Record, len(names))
	for name := range names {
		entry, ok := s.cache[profile.Key{OwnerID: ownerID, Name: name}.String()]
		if !ok || !now.Before(entry.expiresAt) {
			return nil, false
		}
		out[name] = *entry.record.Clone()
	}
	return out, true
}

func (s *Store) cachedKey(ownerID, name string) bool {
	now := s.now()
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	entry, ok := s.cache[profile.Key{OwnerID: ownerID, Name: name}.String()]
	return ok && now.Before(entry.expiresAt)
}

// populateOwner replaces the owner's cached set with a fresh backend read.
// Entries written after startSeq are newer than the read and are kept.
func (s *Store) populateOwner(ownerID string, loaded map[string]profile.Record, startSeq uint64) {
	expires := s.now().Add(s.cfg.CacheTTL)
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()

	names := make(map[string]struct{}, len(loaded))
	for name, rec := range loaded {
		names[name] = struct{}{}
		key := rec.Key().String()
		if cur, ok := s.cache[key]; ok && cur.seq > startSeq {
			continue
		}
		s.seq++
		s.cache[key] = cacheEntry{record: *rec.Clone(), expiresAt: expires, seq: s.seq}
	}
	if prev, ok := s.owners[ownerID]; ok {
		for name := range prev {
			if _, still := names[name]; still {
				continue
			}
			key := profile.Key{OwnerID: ownerID, Name: name}.String()
			if cur, ok := s.cache[key]; ok && cur.seq > startSeq {
				names[name] = struct{}{}
			}
		}
	}
	s.owners[ownerID] = names
}

func (s *Store) putCache(rec profile.Record) {
	expires := s.now().Add(s.cfg.CacheTTL)
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.seq++
	s.cache[rec.Key().String()] = cacheEntry{record: *rec.Clone(), expiresAt: expires, seq: s.seq}
	if names, ok := s.owners[rec.OwnerID]; ok {
		names[rec.Name] = struct{}{}
	}
}

func (s *Store) evict(ownerID, name string) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.seq++
	delete(s.cache, profile.Key{OwnerID: ownerID, Name: name}.String())
	if names, ok := s.owners[ownerID]; ok {
		delete(names, name)
	}
}

// forgetOwnerSet marks the owner's cached set incomplete without dropping
// individual entries.
func (s *Store) forgetOwnerSet(ownerID string) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	delete(s.owners, ownerID)
}

// Invalidate drops every cache entry that belongs to ownerID. Entries are
// matched on the record's owner, not on the key text.
func (s *Store) Invalidate(ownerID string) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	for key, entry := range s.cache {
		if entry.record.OwnerID == ownerID {
			delete(s.cache, key)
		}
	}
	delete(s.owners, ownerID)
}

func (s *Store) sweepExpired() int {
	now := s.now()
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	removed := 0
	for key, entry := range s.cache {
		if now.Before(entry.expiresAt) {
			continue
		}
		delete(s.cache, key)
		// The owner's set is no longer complete.
		delete(s.owners, entry.record.OwnerID)
		removed++
	}
	if removed > 0 {
		s.logger.Debug().Int("removed", removed).Msg("swept expired cache entries")
	}
	return removed
}
