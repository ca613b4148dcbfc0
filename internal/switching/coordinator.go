package switching

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/ent0n29/profileswitch/internal/combat"
	"github.com/ent0n29/profileswitch/internal/host"
	"github.com/ent0n29/profileswitch/internal/keylock"
	"github.com/ent0n29/profileswitch/internal/notify"
	"github.com/ent0n29/profileswitch/internal/observability"
	"github.com/ent0n29/profileswitch/internal/profile"
	"github.com/ent0n29/profileswitch/internal/registry"
)

const (
	ReasonMoved        = "you moved"
	ReasonDamaged      = "you took damage"
	ReasonDisconnected = "player quit"
	ReasonShutdown     = "shutting down"
	ReasonLoadFailed   = "failed to load profile"
	ReasonSaveFailed   = "failed to save current state"
	ReasonCapture      = "failed to capture current state"
	ReasonApplyFailed  = "failed to apply profile"
)

// ProfileStore is the slice of the profile store the commit step needs.
type ProfileStore interface {
	LoadAll(ctx context.Context, ownerID string) (map[string]profile.Record, error)
	Save(ctx context.Context, record profile.Record) bool
	QueueDeferredSave(record profile.Record) bool
}

type Config struct {
	// WarmupTicks is the countdown length; 0 switches immediately.
	WarmupTicks    int
	TickInterval   time.Duration
	CancelOnMove   bool
	CancelOnDamage bool
	CancelInCombat bool
	// Workers bounds concurrent commits across owners.
	Workers int
}

type Deps struct {
	Store    ProfileStore
	Registry *registry.Registry
	Combat   *combat.Tracker
	Bus      notify.Bus
	Host     host.Snapshotter
	Executor host.Executor
	Logger   zerolog.Logger
	Metrics  *observability.Metrics
	Now      func() time.Time
}

// Coordinator drives switch requests through validation, warmup and commit,
// holding at most one live request per owner.
type Coordinator struct {
	cfg      Config
	store    ProfileStore
	registry *registry.Registry
	combat   *combat.Tracker
	bus      notify.Bus
	host     host.Snapshotter
	exec     host.Executor
	logger   zerolog.Logger
	metrics  *observability.Metrics
	now      func() time.Time

	mu     sync.Mutex
	active map[string]*Request

	// owners is held by a commit for its whole capture-save-apply sequence.
	owners *keylock.Map

	workers  *semaphore.Weighted
	inflight sync.WaitGroup
}

func New(cfg Config, deps Deps) (*Coordinator, error) {
	if deps.Store == nil || deps.Registry == nil || deps.Combat == nil || deps.Host == nil {
		return nil, errors.New("switching: store, registry, combat tracker and host are required")
	}
	if cfg.WarmupTicks < 0 {
		return nil, fmt.Errorf("switching: warmup ticks must not be negative")
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if deps.Bus == nil {
		deps.Bus = notify.Nop{}
	}
	if deps.Executor == nil {
		deps.Executor = host.Inline{}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Coordinator{
		cfg:      cfg,
		store:    deps.Store,
		registry: deps.Registry,
		combat:   deps.Combat,
		bus:      deps.Bus,
		host:     deps.Host,
		exec:     deps.Executor,
		logger:   deps.Logger,
		metrics:  deps.Metrics,
		now:      deps.Now,
		active:   make(map[string]*Request),
		owners:   keylock.New(),
		workers:  semaphore.NewWeighted(int64(cfg.Workers)),
	}, nil
}

type initiateOptions struct {
	skipCombat bool
	warmup     *int
}

type InitiateOption func(*initiateOptions)

// WithoutCombatCheck is for owners the permission gate lets bypass combat.
func WithoutCombatCheck() InitiateOption {
	return func(o *initiateOptions) { o.skipCombat = true }
}

// WithWarmup overrides the configured countdown for one request.
func WithWarmup(ticks int) InitiateOption {
	return func(o *initiateOptions) { o.warmup = &ticks }
}

// Initiate validates and starts a switch. Validation failures are returned
// as errors and hold no slot. On success the request resolves through Done;
// a pre-switch cancellation resolves it immediately as cancelled.
func (c *Coordinator) Initiate(ctx context.Context, ownerID, target string, opts ...InitiateOption) (*Request, error) {
	var o initiateOptions
	for _, opt := range opts {
		opt(&o)
	}

	req, err := c.reserve(ownerID, target, false)
	if err != nil {
		return nil, err
	}
	if c.cfg.CancelInCombat && !o.skipCombat && c.combat.IsTagged(ownerID) {
		return nil, c.reject(req, profile.Restricted(profile.ErrInCombat, c.combat.RemainingSeconds(ownerID)), "in_combat")
	}
	if err := c.resolveProfiles(req); err != nil {
		return nil, err
	}

	if res := c.bus.PreSwitch(ctx, ownerID, req.From, target); res.Cancelled {
		if req.transition(StateValidating, StateCancelled) {
			c.finish(req, res.Reason)
		}
		return req, nil
	}

	warmup := c.cfg.WarmupTicks
	if o.warmup != nil {
		warmup = *o.warmup
	}
	if warmup <= 0 {
		if req.transition(StateValidating, StateCommitting) {
			c.submitCommit(req)
		}
		return req, nil
	}

	req.remaining.Store(int32(warmup))
	if !req.transition(StateValidating, StateWarmup) {
		return req, nil
	}
	c.bus.Publish(ctx, notify.Event{
		Type:      notify.EventWarmupStarted,
		OwnerID:   ownerID,
		From:      req.From,
		To:        target,
		Remaining: warmup,
	})
	c.logger.Debug().Str("owner", ownerID).Str("to", target).Int("ticks", warmup).Msg("switch warmup started")
	go c.runWarmup(req)
	return req, nil
}

// Force skips combat, warmup and the cancellable pre-switch notification.
func (c *Coordinator) Force(ctx context.Context, ownerID, target string) (*Request, error) {
	req, err := c.reserve(ownerID, target, true)
	if err != nil {
		return nil, err
	}
	if err := c.resolveProfiles(req); err != nil {
		return nil, err
	}
	if req.transition(StateValidating, StateCommitting) {
		c.logger.Info().Str("owner", ownerID).Str("from", req.From).Str("to", target).Msg("forced switch")
		c.submitCommit(req)
	}
	return req, nil
}

// reserve claims the owner's slot or fails if a request is already live.
func (c *Coordinator) reserve(ownerID, target string, forced bool) (*Request, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.active[ownerID]; ok && !cur.State().Terminal() {
		c.metrics.SwitchRejected("already_switching")
		return nil, profile.Restricted(profile.ErrSwitching, 0)
	}
	req := newRequest(uuid.NewString(), ownerID, target, forced, c.now())
	// From is fixed before the request becomes visible to cancellers.
	req.From, _ = c.registry.Active(ownerID)
	c.active[ownerID] = req
	c.metrics.SwitchStarted()
	return req, nil
}

// resolveProfiles checks the target exists and differs from the active one.
func (c *Coordinator) resolveProfiles(req *Request) error {
	if !c.registry.Has(req.OwnerID, req.To) {
		if !c.registry.Loaded(req.OwnerID) {
			return c.reject(req, profile.ErrOwnerNotFound, "owner_not_loaded")
		}
		return c.reject(req, profile.Invalid("profile", profile.ErrNotFound), "not_found")
	}
	if req.From == "" {
		return c.reject(req, profile.ErrOwnerNotFound, "owner_not_loaded")
	}
	if req.From == req.To {
		return c.reject(req, profile.Invalid("profile", profile.ErrAlreadyActive), "already_active")
	}
	return nil
}

// reject releases a slot that never became live.
func (c *Coordinator) reject(req *Request, err error, label string) error {
	if req.transition(StateValidating, StateFailed) {
		req.resolve(err.Error())
		c.release(req)
		c.metrics.SwitchRejected(label)
		c.metrics.SwitchAborted()
	}
	return err
}

func (c *Coordinator) release(req *Request) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active[req.OwnerID] == req {
		delete(c.active, req.OwnerID)
	}
}

// finish resolves a request whose terminal state is already set.
func (c *Coordinator) finish(req *Request, reason string) {
	req.resolve(reason)
	c.release(req)
	state := req.State()
	c.metrics.SwitchFinished(state.String())

	ev := notify.Event{
		OwnerID: req.OwnerID,
		From:    req.From,
		To:      req.To,
		Reason:  reason,
		Forced:  req.Forced,
	}
	switch state {
	case StateCommitted:
		ev.Type = notify.EventSwitchCommitted
		c.logger.Info().Str("owner", req.OwnerID).Str("from", req.From).Str("to", req.To).Bool("forced", req.Forced).Msg("switch committed")
	case StateCancelled:
		ev.Type = notify.EventSwitchCancelled
		c.logger.Info().Str("owner", req.OwnerID).Str("to", req.To).Str("reason", reason).Msg("switch cancelled")
	default:
		ev.Type = notify.EventSwitchFailed
		c.logger.Warn().Str("owner", req.OwnerID).Str("to", req.To).Str("reason", reason).Msg("switch failed")
	}
	c.bus.Publish(context.Background(), ev)
}

func (c *Coordinator) IsSwitching(ownerID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	req, ok := c.active[ownerID]
	return ok && !req.State().Terminal()
}

// Current returns the owner's live request, if any.
func (c *Coordinator) Current(ownerID string) (*Request, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	req, ok := c.active[ownerID]
	if !ok || req.State().Terminal() {
		return nil, false
	}
	return req, true
}

// Targets reports whether a live request is switching ownerID to name.
func (c *Coordinator) Targets(ownerID, name string) bool {
	req, ok := c.Current(ownerID)
	return ok && req.To == name
}

// HoldOwner blocks while a commit for ownerID is running and keeps new
// commits for that owner from starting until the returned func is called.
// Saves of the owner's live state made outside a switch go under it.
func (c *Coordinator) HoldOwner(ownerID string) func() {
	return c.owners.Lock(ownerID)
}

// Wait blocks until in-flight commits finish or ctx is done.
func (c *Coordinator) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
