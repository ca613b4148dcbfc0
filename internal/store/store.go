package store

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/ent0n29/profileswitch/internal/backend"
	"github.com/ent0n29/profileswitch/internal/observability"
	"github.com/ent0n29/profileswitch/internal/profile"
	"github.com/ent0n29/profileswitch/internal/reliability"
)

var ErrClosed = errors.New("profile store closed")

type Config struct {
	PoolSize       int
	AcquireWait    time.Duration
	CacheTTL       time.Duration
	SweepInterval  time.Duration
	MaxAttempts    int
	RetryBaseDelay time.Duration
	FlushInterval  time.Duration
}

// DefaultPoolSize is half the logical cores, at least 2.
func DefaultPoolSize() int {
	return max(2, runtime.NumCPU()/2)
}

func (c Config) withDefaults() Config {
	if c.PoolSize < 2 {
		c.PoolSize = DefaultPoolSize()
	}
	if c.AcquireWait <= 0 {
		c.AcquireWait = 50 * time.Millisecond
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = 5 * time.Minute
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 5 * time.Minute
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.RetryBaseDelay < 0 {
		c.RetryBaseDelay = 0
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 5 * time.Second
	}
	return c
}

type Option func(*Store)

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// WithClock overrides the time source used for cache expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Store fronts a persistence backend with a TTL cache, a bounded handle pool,
// linear retries and a deferred batch-write queue.
type Store struct {
	cfg     Config
	logger  zerolog.Logger
	metrics *observability.Metrics
	now     func() time.Time

	pool     chan backend.Backend
	handles  []backend.Backend
	fallback backend.Backend

	cacheMu sync.RWMutex
	cache   map[string]cacheEntry
	owners  map[string]map[string]struct{}
	seq     uint64

	queueMu sync.Mutex
	queue   []profile.Record

	queries     atomic.Int64
	queryNanos  atomic.Int64
	cacheHits   atomic.Int64
	cacheMisses atomic.Int64
	errorsTotal atomic.Int64
	fallbacks   atomic.Int64

	startOnce sync.Once
	closeOnce sync.Once
	closed    atomic.Bool
}

// New opens PoolSize-1 pooled handles plus one shared fallback handle.
func New(ctx context.Context, open backend.Opener, cfg Config, opts ...Option) (*Store, error) {
	if open == nil {
		return nil, fmt.Errorf("backend opener is required")
	}
	cfg = cfg.withDefaults()
	s := &Store{
		cfg:    cfg,
		logger: zerolog.Nop(),
		now:    time.Now,
		pool:   make(chan backend.Backend, cfg.PoolSize-1),
		cache:  make(map[string]cacheEntry),
		owners: make(map[string]map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	for i := 0; i < cfg.PoolSize-1; i++ {
		h, err := open(ctx)
		if err != nil {
			s.closeHandles()
			return nil, fmt.Errorf("open pooled backend handle %d: %w", i, err)
		}
		s.handles = append(s.handles, h)
		s.pool <- h
	}
	fb, err := open(ctx)
	if err != nil {
		s.closeHandles()
		return nil, fmt.Errorf("open fallback backend handle: %w", err)
	}
	s.fallback = fb

	s.logger.Info().
		Int("pool_size", cfg.PoolSize).
		Dur("cache_ttl", cfg.CacheTTL).
		Dur("flush_interval", cfg.FlushInterval).
		Msg("profile store ready")
	return s, nil
}

// Start runs the cache sweep and deferred-flush loops until ctx is done.
func (s *Store) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		go s.loop(ctx, s.cfg.SweepInterval, func() { s.sweepExpired() })
		go s.loop(ctx, s.cfg.FlushInterval, func() { s.Flush(ctx) })
	})
}

func (s *Store) loop(ctx context.Context, interval time.Duration, fn func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}

// LoadAll returns every profile the owner has. The cache answers only when
// it holds the owner's complete, unexpired set.
func (s *Store) LoadAll(ctx context.Context, ownerID string) (map[string]profile.Record, error) {
	if out, ok := s.cachedOwner(ownerID); ok {
		s.cacheHits.Add(1)
		s.metrics.CacheHit()
		return out, nil
	}
	s.cacheMisses.Add(1)
	s.metrics.CacheMiss()

	startSeq := s.currentSeq()
	var loaded map[string]profile.Record
	err := s.withRetry(ctx, "load_all", func(ctx context.Context, h backend.Backend) error {
		var err error
		loaded, err = h.LoadProfiles(ctx, ownerID)
		return err
	})
	if err != nil {
		s.logger.Error().Err(err).Str("owner", ownerID).Msg("load profiles failed")
		return nil, err
	}
	s.populateOwner(ownerID, loaded, startSeq)
	return profile.CloneMap(loaded), nil
}

// Save writes through the cache, then upserts synchronously. It reports
// false when the backend write failed after all retries; the cache keeps the
// new value until the next successful save or TTL expiry. Older queued
// writes for the same key are superseded.
func (s *Store) Save(ctx context.Context, record profile.Record) bool {
	s.putCache(record)
	s.dropQueued(record.Key())
	err := s.withRetry(ctx, "save", func(ctx context.Context, h backend.Backend) error {
		return h.SaveProfile(ctx, record)
	})
	if err != nil {
		s.logger.Error().Err(err).
			Str("owner", record.OwnerID).
			Str("profile", record.Name).
			Msg("save profile failed")
		return false
	}
	return true
}

// SaveBatch persists each record independently and returns how many made it.
// A failed record leaves both cache and backend at their previous value.
func (s *Store) SaveBatch(ctx context.Context, records []profile.Record) int {
	saved := 0
	for _, rec := range records {
		err := s.withRetry(ctx, "save", func(ctx context.Context, h backend.Backend) error {
			return h.SaveProfile(ctx, rec)
		})
		if err != nil {
			s.logger.Error().Err(err).
				Str("owner", rec.OwnerID).
				Str("profile", rec.Name).
				Msg("batch save failed for profile")
			continue
		}
		s.putCache(rec)
		saved++
	}
	return saved
}

// Delete evicts the cache entry and any queued write for the key, then
// removes the row. The bool reports whether a row existed.
func (s *Store) Delete(ctx context.Context, ownerID, name string) (bool, error) {
	s.evict(ownerID, name)
	s.dropQueued(profile.Key{OwnerID: ownerID, Name: name})

	var removed bool
	err := s.withRetry(ctx, "delete", func(ctx context.Context, h backend.Backend) error {
		var err error
		removed, err = h.DeleteProfile(ctx, ownerID, name)
		return err
	})
	if err != nil {
		s.logger.Error().Err(err).Str("owner", ownerID).Str("profile", name).Msg("delete profile failed")
		s.forgetOwnerSet(ownerID)
		return false, err
	}
	return removed, nil
}

func (s *Store) Exists(ctx context.Context, ownerID, name string) (bool, error) {
	if s.cachedKey(ownerID, name) {
		return true, nil
	}
	var found bool
	err := s.withRetry(ctx, "exists", func(ctx context.Context, h backend.Backend) error {
		var err error
		found, err = h.ProfileExists(ctx, ownerID, name)
		return err
	})
	if err != nil {
		return false, err
	}
	return found, nil
}

// Close flushes queued saves and releases every backend handle.
func (s *Store) Close(ctx context.Context) error {
	var err error
	s.closeOnce.Do(func() {
		flushed := s.Flush(ctx)
		s.closed.Store(true)
		s.logger.Info().Int("flushed", flushed).Msg("profile store closing")
		err = s.closeHandles()
	})
	return err
}

func (s *Store) closeHandles() error {
	var errs []error
	for _, h := range s.handles {
		if err := h.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if s.fallback != nil {
		if err := s.fallback.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type opFunc func(ctx context.Context, h backend.Backend) error

// withRetry runs fn with up to MaxAttempts tries, one pooled handle per try,
// and records the outcome once for the whole logical operation.
func (s *Store) withRetry(ctx context.Context, op string, fn opFunc) error {
	if s.closed.Load() {
		return &profile.PersistenceError{Op: op, Err: ErrClosed}
	}
	start := time.Now()
	attempts, err := reliability.Retry(ctx, s.cfg.MaxAttempts, s.cfg.RetryBaseDelay, func(attempt int) error {
		h, release := s.acquire(ctx)
		defer release()
		err := fn(ctx, h)
		if err != nil && attempt < s.cfg.MaxAttempts {
			s.logger.Warn().Err(err).Str("op", op).Int("attempt", attempt).Msg("backend call failed, retrying")
		}
		return err
	})
	elapsed := time.Since(start)
	s.queries.Add(1)
	s.queryNanos.Add(int64(elapsed))
	s.metrics.ObserveStoreQuery(op, elapsed, err != nil)
	if err != nil {
		s.errorsTotal.Add(1)
		return &profile.PersistenceError{Op: op, Attempts: attempts, Err: err}
	}
	return nil
}
