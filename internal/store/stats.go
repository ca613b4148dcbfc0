package store

import "math"

// Stats is the store summary shown to administrators.
type Stats struct {
	Queries       int64   `json:"queries"`
	CacheHits     int64   `json:"cache_hits"`
	CacheMisses   int64   `json:"cache_misses"`
	HitRatePct    float64 `json:"hit_rate_pct"`
	AvgQueryMS    float64 `json:"avg_query_ms"`
	Errors        int64   `json:"errors"`
	PoolFallbacks int64   `json:"pool_fallbacks"`
	CachedEntries int     `json:"cached_entries"`
	Queued        int     `json:"queued"`
	PoolSize      int     `json:"pool_size"`
}

func (s *Store) Stats() Stats {
	st := Stats{
		Queries:       s.queries.Load(),
		CacheHits:     s.cacheHits.Load(),
		CacheMisses:   s.cacheMisses.Load(),
		Errors:        s.errorsTotal.Load(),
		PoolFallbacks: s.fallbacks.Load(),
		Queued:        s.QueueLen(),
		PoolSize:      s.cfg.PoolSize,
	}
	if lookups := st.CacheHits + st.CacheMisses; lookups > 0 {
		st.HitRatePct = round2(float64(st.CacheHits) * 100 / float64(lookups))
	}
	if st.Queries > 0 {
		st.AvgQueryMS = round2(float64(s.queryNanos.Load()) / float64(st.Queries) / 1e6)
	}
	s.cacheMu.RLock()
	st.CachedEntries = len(s.cache)
	s.cacheMu.RUnlock()
	return st
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
