package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ent0n29/profileswitch/internal/backend"
	"github.com/ent0n29/profileswitch/internal/combat"
	"github.com/ent0n29/profileswitch/internal/config"
	"github.com/ent0n29/profileswitch/internal/host"
	"github.com/ent0n29/profileswitch/internal/httpapi"
	"github.com/ent0n29/profileswitch/internal/logging"
	"github.com/ent0n29/profileswitch/internal/notify"
	"github.com/ent0n29/profileswitch/internal/observability"
	"github.com/ent0n29/profileswitch/internal/policy"
	"github.com/ent0n29/profileswitch/internal/profiles"
	"github.com/ent0n29/profileswitch/internal/registry"
	"github.com/ent0n29/profileswitch/internal/store"
	"github.com/ent0n29/profileswitch/internal/switching"
)

type BuildResult struct {
	Config   config.Config
	API      *httpapi.Server
	Service  *profiles.Service
	Store    *store.Store
	Bus      *notify.WatermillBus
	Host     *host.MemoryHost
	Executor *host.SerialExecutor
	Combat   *combat.Tracker
	Metrics  *observability.Metrics
	Logger   zerolog.Logger

	// Cleanup should be called on shutdown, after Service.Shutdown, to release
	// backend handles and stop the event bus.
	Cleanup func() error
}

type buildOptions struct {
	out     io.Writer
	metrics *observability.Metrics
}

type BuildOption func(*buildOptions)

// WithLogOutput redirects the service log.
func WithLogOutput(w io.Writer) BuildOption {
	return func(o *buildOptions) { o.out = w }
}

// WithMetrics supplies a metrics set instead of registering one on the
// default prometheus registry.
func WithMetrics(m *observability.Metrics) BuildOption {
	return func(o *buildOptions) { o.metrics = m }
}

func Build(ctx context.Context, cfg config.Config, opts ...BuildOption) (*BuildResult, error) {
	o := buildOptions{out: os.Stderr}
	for _, opt := range opts {
		opt(&o)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat, o.out)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	metrics := o.metrics
	if metrics == nil {
		metrics = observability.NewMetrics(cfg.MetricsNamespace)
	}

	gate, err := buildGate(cfg)
	if err != nil {
		return nil, err
	}

	backendCfg := backend.Config{
		Kind:        cfg.StorageBackend,
		DatabaseURL: cfg.DatabaseURL,
		SQLitePath:  cfg.SQLitePath,
	}
	opener, closeBackend, err := backend.NewOpener(ctx, backendCfg)
	if err != nil {
		return nil, fmt.Errorf("storage backend init failed: %w", err)
	}
	logger.Info().Str("backend", backend.Describe(backendCfg)).Msg("storage backend ready")

	profileStore, err := store.New(ctx, opener, store.Config{
		PoolSize:       cfg.StorePoolSize,
		AcquireWait:    cfg.StoreAcquireWait,
		CacheTTL:       cfg.StoreCacheTTL,
		SweepInterval:  cfg.StoreSweepInterval,
		MaxAttempts:    cfg.StoreMaxAttempts,
		RetryBaseDelay: cfg.StoreRetryBaseDelay,
		FlushInterval:  cfg.StoreFlushInterval,
	},
		store.WithLogger(logging.Component(logger, "store")),
		store.WithMetrics(metrics),
	)
	if err != nil {
		_ = closeBackend()
		return nil, fmt.Errorf("profile store init failed: %w", err)
	}

	reg := registry.New()
	reg.SetChangeHook(metrics.SetLoadedOwners)

	tracker := combat.NewTracker(cfg.CombatTagDuration, nil)
	tracker.SetChangeHook(metrics.SetCombatTagged)

	bus := notify.NewWatermillBus(logging.Component(logger, "notify"))
	executor := host.NewSerialExecutor(cfg.HostExecutorBuffer)
	liveHost := host.NewMemoryHost()

	closeAll := func() error {
		var errs []string
		executor.Close()
		if err := bus.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if err := profileStore.Close(context.Background()); err != nil {
			errs = append(errs, err.Error())
		}
		if err := closeBackend(); err != nil {
			errs = append(errs, err.Error())
		}
		if len(errs) > 0 {
			return fmt.Errorf("%s", strings.Join(errs, "; "))
		}
		return nil
	}

	coord, err := switching.New(switching.Config{
		WarmupTicks:    cfg.SwitchWarmupTicks,
		TickInterval:   cfg.SwitchTickInterval,
		CancelOnMove:   cfg.SwitchCancelOnMove,
		CancelOnDamage: cfg.SwitchCancelOnDamage,
		CancelInCombat: cfg.SwitchCancelInCombat,
		Workers:        cfg.SwitchWorkers,
	}, switching.Deps{
		Store:    profileStore,
		Registry: reg,
		Combat:   tracker,
		Bus:      bus,
		Host:     liveHost,
		Executor: executor,
		Logger:   logging.Component(logger, "switching"),
		Metrics:  metrics,
	})
	if err != nil {
		return nil, errors.Join(fmt.Errorf("switch coordinator init failed: %w", err), closeAll())
	}

	svc, err := profiles.New(profiles.Config{
		DefaultProfileName: cfg.DefaultProfileName,
		MaxNameLength:      cfg.MaxNameLength,
	}, profiles.Deps{
		Store:       profileStore,
		Registry:    reg,
		Combat:      tracker,
		Coordinator: coord,
		Gate:        gate,
		Bus:         bus,
		Host:        liveHost,
		Executor:    executor,
		Logger:      logging.Component(logger, "profiles"),
	})
	if err != nil {
		return nil, errors.Join(fmt.Errorf("profile service init failed: %w", err), closeAll())
	}

	api := httpapi.New(cfg, svc, liveHost, bus, metrics, logging.Component(logger, "httpapi"))

	return &BuildResult{
		Config:   cfg,
		API:      api,
		Service:  svc,
		Store:    profileStore,
		Bus:      bus,
		Host:     liveHost,
		Executor: executor,
		Combat:   tracker,
		Metrics:  metrics,
		Logger:   logger,
		Cleanup:  closeAll,
	}, nil
}

// Start launches the background loops: cache sweep, deferred flush, combat
// janitor and the host executor. They stop when ctx is done.
func (b *BuildResult) Start(ctx context.Context) {
	b.Store.Start(ctx)
	b.Combat.StartJanitor(ctx, b.Config.CombatSweepEvery)
	go b.Executor.Run(ctx)
}

func buildGate(cfg config.Config) (policy.Gate, error) {
	if strings.TrimSpace(cfg.PolicyFile) == "" {
		return policy.NewStaticGate(cfg.MaxProfiles, cfg.Admins...), nil
	}
	gate, err := policy.LoadRuleFile(cfg.PolicyFile)
	if err != nil {
		return nil, fmt.Errorf("policy init failed: %w", err)
	}
	return gate, nil
}
