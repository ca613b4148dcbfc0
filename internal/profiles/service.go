package profiles

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ent0n29/profileswitch/internal/combat"
	"github.com/ent0n29/profileswitch/internal/host"
	"github.com/ent0n29/profileswitch/internal/keylock"
	"github.com/ent0n29/profileswitch/internal/notify"
	"github.com/ent0n29/profileswitch/internal/policy"
	"github.com/ent0n29/profileswitch/internal/profile"
	"github.com/ent0n29/profileswitch/internal/registry"
	"github.com/ent0n29/profileswitch/internal/store"
	"github.com/ent0n29/profileswitch/internal/switching"
)

const DefaultProfileName = "default"

// ProfileStore is the part of the store the service drives directly.
type ProfileStore interface {
	switching.ProfileStore
	SaveBatch(ctx context.Context, records []profile.Record) int
	Delete(ctx context.Context, ownerID, name string) (bool, error)
	Invalidate(ownerID string)
	Flush(ctx context.Context) int
	Stats() store.Stats
}

type Config struct {
	DefaultProfileName string
	MaxNameLength      int
}

type Deps struct {
	Store       ProfileStore
	Registry    *registry.Registry
	Combat      *combat.Tracker
	Coordinator *switching.Coordinator
	Gate        policy.Gate
	Bus         notify.Bus
	Host        host.Snapshotter
	Executor    host.Executor
	Logger      zerolog.Logger
	Now         func() time.Time
}

// Result is how every mutating call resolves. Expected refusals carry a
// Reason and, when they came from validation or persistence, the typed Err.
type Result struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
	Err    error  `json:"-"`
}

func succeeded() Result { return Result{OK: true} }

func failed(err error) Result {
	return Result{Reason: err.Error(), Err: err}
}

func resolved(r Result) <-chan Result {
	ch := make(chan Result, 1)
	ch <- r
	close(ch)
	return ch
}

// Service is the public surface over the registry, store and coordinator.
type Service struct {
	cfg    Config
	store  ProfileStore
	reg    *registry.Registry
	combat *combat.Tracker
	coord  *switching.Coordinator
	gate   policy.Gate
	bus    notify.Bus
	host   host.Snapshotter
	exec   host.Executor
	logger zerolog.Logger
	now    func() time.Time

	ownerLocks *keylock.Map

	pending sync.WaitGroup
}

func New(cfg Config, deps Deps) (*Service, error) {
	if deps.Store == nil || deps.Registry == nil || deps.Combat == nil || deps.Coordinator == nil || deps.Host == nil {
		return nil, errors.New("profiles: store, registry, combat tracker, coordinator and host are required")
	}
	if cfg.DefaultProfileName == "" {
		cfg.DefaultProfileName = DefaultProfileName
	}
	if cfg.MaxNameLength <= 0 {
		cfg.MaxNameLength = profile.DefaultMaxNameLength
	}
	if err := profile.ValidateName(cfg.DefaultProfileName, cfg.MaxNameLength); err != nil {
		return nil, fmt.Errorf("profiles: default profile name: %w", err)
	}
	if deps.Gate == nil {
		deps.Gate = policy.NewStaticGate(policy.DefaultMaxProfiles)
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
	return &Service{
		cfg:        cfg,
		store:      deps.Store,
		reg:        deps.Registry,
		combat:     deps.Combat,
		coord:      deps.Coordinator,
		gate:       deps.Gate,
		bus:        deps.Bus,
		host:       deps.Host,
		exec:       deps.Executor,
		logger:     deps.Logger,
		now:        deps.Now,
		ownerLocks: keylock.New(),
	}, nil
}

// async runs fn in the background and delivers its result once.
func (s *Service) async(fn func() Result) <-chan Result {
	ch := make(chan Result, 1)
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		ch <- fn()
		close(ch)
	}()
	return ch
}

func (s *Service) lockOwner(ownerID string) func() {
	return s.ownerLocks.Lock(ownerID)
}

func (s *Service) capture(ctx context.Context, ownerID string) ([]byte, error) {
	var blob []byte
	err := s.exec.Do(ctx, func() error {
		var err error
		blob, err = s.host.Capture(ctx, ownerID)
		return err
	})
	return blob, err
}

// persist saves synchronously and falls back to the deferred queue.
func (s *Service) persist(ctx context.Context, rec profile.Record) bool {
	if s.store.Save(ctx, rec) {
		return true
	}
	return s.store.QueueDeferredSave(rec)
}

// LoadOwner reads the owner's profiles into the registry. An owner with no
// profiles gets a default one built from their current live state.
func (s *Service) LoadOwner(ctx context.Context, ownerID string) <-chan Result {
	return s.async(func() Result {
		unlock := s.lockOwner(ownerID)
		defer unlock()

		loaded, err := s.store.LoadAll(ctx, ownerID)
		if err != nil {
			s.logger.Error().Err(err).Str("owner", ownerID).Msg("load profiles failed")
			return failed(err)
		}

		active := ""
		if len(loaded) == 0 {
			blob, err := s.capture(ctx, ownerID)
			if err != nil {
				s.logger.Error().Err(err).Str("owner", ownerID).Msg("capture for default profile failed")
				return failed(err)
			}
			now := s.now().UTC()
			rec := profile.Record{
				OwnerID:    ownerID,
				Name:       s.cfg.DefaultProfileName,
				State:      blob,
				CreatedAt:  now,
				LastUsedAt: now,
			}
			if !s.persist(ctx, rec) {
				s.logger.Warn().Str("owner", ownerID).Msg("default profile kept in memory only")
			}
			loaded = map[string]profile.Record{rec.Name: rec}
			active = rec.Name
		}

		s.reg.Load(ownerID, loaded, active)
		s.bus.Publish(ctx, notify.Event{Type: notify.EventProfilesLoaded, OwnerID: ownerID, Profile: s.activeOrEmpty(ownerID)})
		s.logger.Debug().Str("owner", ownerID).Int("profiles", len(loaded)).Msg("profiles loaded")
		return succeeded()
	})
}

func (s *Service) activeOrEmpty(ownerID string) string {
	active, _ := s.reg.Active(ownerID)
	return active
}

// UnloadOwner cancels a pending switch, clears the combat tag, saves the
// active profile and drops the owner from memory.
func (s *Service) UnloadOwner(ctx context.Context, ownerID string) <-chan Result {
	s.coord.OnDisconnect(ownerID)
	s.combat.Remove(ownerID)
	return s.async(func() Result {
		unlock := s.lockOwner(ownerID)
		defer unlock()

		// A commit that already started runs to completion first, so the
		// snapshot lands in the profile it actually belongs to.
		release := s.coord.HoldOwner(ownerID)
		defer release()

		if !s.reg.Loaded(ownerID) {
			return failed(profile.ErrOwnerNotFound)
		}
		rec, err := s.snapshotActive(ctx, ownerID)
		saved := true
		if err != nil {
			s.logger.Error().Err(err).Str("owner", ownerID).Msg("capture on unload failed")
			saved = false
		} else if !s.persist(ctx, rec) {
			saved = false
		}

		s.reg.Unload(ownerID)
		s.store.Invalidate(ownerID)
		s.bus.Publish(ctx, notify.Event{Type: notify.EventProfilesUnloaded, OwnerID: ownerID})
		if !saved {
			return failed(fmt.Errorf("%w: active profile not saved", profile.ErrPersistence))
		}
		return succeeded()
	})
}

// snapshotActive captures live state into the owner's active record.
func (s *Service) snapshotActive(ctx context.Context, ownerID string) (profile.Record, error) {
	active, err := s.reg.Active(ownerID)
	if err != nil {
		return profile.Record{}, err
	}
	rec, err := s.reg.Get(ownerID, active)
	if err != nil {
		return profile.Record{}, err
	}
	blob, err := s.capture(ctx, ownerID)
	if err != nil {
		return profile.Record{}, err
	}
	rec.State = blob
	rec.LastUsedAt = s.now().UTC()
	return rec, nil
}

func (s *Service) ListProfiles(ownerID string) ([]string, error) {
	return s.reg.ListNames(ownerID)
}

func (s *Service) GetActiveProfile(ownerID string) (string, error) {
	return s.reg.Active(ownerID)
}

// CreateProfile adds an empty profile after name, permission and limit
// checks. A listener may veto it.
func (s *Service) CreateProfile(ctx context.Context, ownerID, name string) <-chan Result {
	if err := profile.ValidateName(name, s.cfg.MaxNameLength); err != nil {
		return resolved(failed(err))
	}
	return s.async(func() Result {
		unlock := s.lockOwner(ownerID)
		defer unlock()

		if !s.reg.Loaded(ownerID) {
			return failed(profile.ErrOwnerNotFound)
		}
		if s.reg.Has(ownerID, name) {
			return failed(profile.Invalid("name", profile.ErrDuplicate))
		}
		if !s.gate.CanCreate(ownerID, name) {
			return failed(profile.Invalid("name", profile.ErrNotPermitted))
		}
		if limit := s.gate.MaxProfiles(ownerID); policy.LimitReached(limit, s.reg.Count(ownerID)) {
			return failed(profile.Invalid("profile", fmt.Errorf("%w (%d)", profile.ErrLimitReached, limit)))
		}
		if res := s.bus.ProfileCreated(ctx, ownerID, name); res.Cancelled {
			return Result{Reason: res.Reason}
		}

		now := s.now().UTC()
		rec := profile.Record{OwnerID: ownerID, Name: name, CreatedAt: now, LastUsedAt: now}
		if !s.store.Save(ctx, rec) {
			return failed(&profile.PersistenceError{Op: "create", Err: errors.New("profile not saved")})
		}
		if err := s.reg.Put(rec); err != nil {
			return failed(err)
		}
		s.bus.Publish(ctx, notify.Event{Type: notify.EventProfileCreated, OwnerID: ownerID, Profile: name})
		s.logger.Info().Str("owner", ownerID).Str("profile", name).Msg("profile created")
		return succeeded()
	})
}

// DeleteProfile removes a profile that is neither active, the default, nor
// the target of a pending switch.
func (s *Service) DeleteProfile(ctx context.Context, ownerID, name string) <-chan Result {
	return s.async(func() Result {
		unlock := s.lockOwner(ownerID)
		defer unlock()

		active, err := s.reg.Active(ownerID)
		if err != nil {
			return failed(err)
		}
		if !s.reg.Has(ownerID, name) {
			return failed(profile.Invalid("profile", profile.ErrNotFound))
		}
		if name == active {
			return failed(profile.Invalid("profile", profile.ErrActiveProfile))
		}
		if name == s.cfg.DefaultProfileName {
			return failed(profile.Invalid("profile", profile.ErrDefaultProfile))
		}
		if s.coord.Targets(ownerID, name) {
			return failed(profile.Restricted(profile.ErrSwitchTarget, 0))
		}
		if res := s.bus.ProfileDeleted(ctx, ownerID, name); res.Cancelled {
			return Result{Reason: res.Reason}
		}

		removed, err := s.store.Delete(ctx, ownerID, name)
		if err != nil {
			return failed(err)
		}
		if !removed {
			s.logger.Debug().Str("owner", ownerID).Str("profile", name).Msg("profile had no stored row")
		}
		if err := s.reg.Remove(ownerID, name); err != nil {
			return failed(err)
		}
		s.bus.Publish(ctx, notify.Event{Type: notify.EventProfileDeleted, OwnerID: ownerID, Profile: name})
		s.logger.Info().Str("owner", ownerID).Str("profile", name).Msg("profile deleted")
		return succeeded()
	})
}

// StartSwitch begins a switch and returns the live request. Gate bypasses
// are applied here.
func (s *Service) StartSwitch(ctx context.Context, ownerID, name string) (*switching.Request, error) {
	var opts []switching.InitiateOption
	if s.gate.CanBypassCombat(ownerID) {
		opts = append(opts, switching.WithoutCombatCheck())
	}
	if s.gate.CanBypassWarmup(ownerID) {
		opts = append(opts, switching.WithWarmup(0))
	}
	return s.coord.Initiate(ctx, ownerID, name, opts...)
}

func (s *Service) StartForce(ctx context.Context, ownerID, name string) (*switching.Request, error) {
	return s.coord.Force(ctx, ownerID, name)
}

func (s *Service) SwitchProfile(ctx context.Context, ownerID, name string) <-chan Result {
	req, err := s.StartSwitch(ctx, ownerID, name)
	if err != nil {
		return resolved(failed(err))
	}
	return s.awaitSwitch(req)
}

func (s *Service) ForceSwitch(ctx context.Context, ownerID, name string) <-chan Result {
	req, err := s.StartForce(ctx, ownerID, name)
	if err != nil {
		return resolved(failed(err))
	}
	return s.awaitSwitch(req)
}

func (s *Service) awaitSwitch(req *switching.Request) <-chan Result {
	return s.async(func() Result {
		out := req.Outcome()
		if out.Success() {
			return succeeded()
		}
		return Result{Reason: out.Reason}
	})
}

func (s *Service) IsSwitching(ownerID string) bool {
	return s.coord.IsSwitching(ownerID)
}

// CurrentSwitch returns the owner's live switch request, if any.
func (s *Service) CurrentSwitch(ownerID string) (*switching.Request, bool) {
	return s.coord.Current(ownerID)
}

func (s *Service) IsInCombat(ownerID string) bool {
	return s.combat.IsTagged(ownerID)
}

func (s *Service) RemainingCombatSeconds(ownerID string) int {
	return s.combat.RemainingSeconds(ownerID)
}

// SaveCurrentState writes the owner's live state into the active profile.
func (s *Service) SaveCurrentState(ctx context.Context, ownerID string) <-chan Result {
	return s.async(func() Result {
		unlock := s.lockOwner(ownerID)
		defer unlock()
		release := s.coord.HoldOwner(ownerID)
		defer release()

		rec, err := s.snapshotActive(ctx, ownerID)
		if err != nil {
			return failed(err)
		}
		if !s.store.Save(ctx, rec) {
			return failed(&profile.PersistenceError{Op: "save", Err: errors.New("state not saved")})
		}
		if err := s.reg.Put(rec); err != nil {
			return failed(err)
		}
		return succeeded()
	})
}

func (s *Service) HandleMove(ownerID string, from, to host.Position) bool {
	return s.coord.OnMove(ownerID, from, to)
}

func (s *Service) HandleDamage(ownerID string) bool {
	return s.coord.OnDamage(ownerID)
}

// HandleCombatHit tags both combatants and treats the hit as damage to the
// victim.
func (s *Service) HandleCombatHit(ctx context.Context, attackerID, victimID string) {
	s.combat.TagPair(attackerID, victimID)
	for _, id := range []string{attackerID, victimID} {
		s.bus.Publish(ctx, notify.Event{
			Type:      notify.EventCombatTagged,
			OwnerID:   id,
			Remaining: s.combat.RemainingSeconds(id),
		})
	}
	s.coord.OnDamage(victimID)
}

func (s *Service) HandleDisconnect(ctx context.Context, ownerID string) <-chan Result {
	return s.UnloadOwner(ctx, ownerID)
}

func (s *Service) LoadedOwners() int {
	return s.reg.LoadedCount()
}

func (s *Service) StoreStats() store.Stats {
	return s.store.Stats()
}

// Shutdown cancels pending switches, waits for running commits, saves every
// loaded owner's active profile and flushes deferred writes.
func (s *Service) Shutdown(ctx context.Context) error {
	cancelled := s.coord.CancelAll(switching.ReasonShutdown)
	if err := s.coord.Wait(ctx); err != nil {
		return fmt.Errorf("wait for commits: %w", err)
	}

	owners := s.reg.Owners()
	batch := make([]profile.Record, 0, len(owners))
	for _, id := range owners {
		release := s.coord.HoldOwner(id)
		rec, err := s.snapshotActive(ctx, id)
		release()
		if err != nil {
			s.logger.Error().Err(err).Str("owner", id).Msg("capture on shutdown failed")
			continue
		}
		batch = append(batch, rec)
	}
	saved := s.store.SaveBatch(ctx, batch)
	flushed := s.store.Flush(ctx)

	done := make(chan struct{})
	go func() {
		s.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.logger.Info().
		Int("cancelled", cancelled).
		Int("saved", saved).
		Int("owners", len(owners)).
		Int("flushed", flushed).
		Msg("profile service stopped")
	if saved < len(owners) {
		return fmt.Errorf("%w: saved %d of %d active profiles", profile.ErrPersistence, saved, len(owners))
	}
	return nil
}
