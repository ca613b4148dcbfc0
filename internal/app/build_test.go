package app

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/profileswitch/internal/config"
	"github.com/ent0n29/profileswitch/internal/observability"
	"github.com/ent0n29/profileswitch/internal/policy"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{
		ShutdownTimeout:      5 * time.Second,
		MetricsNamespace:     "test",
		LogLevel:             "error",
		LogFormat:            "json",
		StorageBackend:       "sqlite",
		SQLitePath:           filepath.Join(t.TempDir(), "profiles.db"),
		StoreAcquireWait:     50 * time.Millisecond,
		StoreMaxAttempts:     2,
		StoreRetryBaseDelay:  time.Millisecond,
		SwitchWarmupTicks:    0,
		SwitchTickInterval:   10 * time.Millisecond,
		SwitchCancelOnMove:   true,
		SwitchCancelOnDamage: true,
		SwitchCancelInCombat: true,
		SwitchWorkers:        2,
		CombatTagDuration:    10 * time.Second,
		CombatSweepEvery:     time.Second,
		DefaultProfileName:   "default",
		MaxNameLength:        16,
		MaxProfiles:          3,
		HostExecutorBuffer:   8,
	}
}

func build(t *testing.T, cfg config.Config) *BuildResult {
	t.Helper()
	b, err := Build(context.Background(), cfg,
		WithLogOutput(io.Discard),
		WithMetrics(observability.NewMetricsWith(prometheus.NewRegistry(), cfg.MetricsNamespace)),
	)
	require.NoError(t, err)
	return b
}

func TestBuildPersistsProfilesAcrossRestarts(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	first := build(t, cfg)
	runCtx, cancel := context.WithCancel(ctx)
	first.Start(runCtx)

	require.True(t, (<-first.Service.LoadOwner(ctx, "o1")).OK)
	require.True(t, (<-first.Service.CreateProfile(ctx, "o1", "pvp")).OK)
	res := <-first.Service.SwitchProfile(ctx, "o1", "pvp")
	require.True(t, res.OK, res.Reason)

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, first.Service.Shutdown(ctx))
	cancel()
	require.NoError(t, first.Cleanup())

	second := build(t, cfg)
	runCtx, cancel = context.WithCancel(ctx)
	defer cancel()
	second.Start(runCtx)
	defer second.Cleanup()

	require.True(t, (<-second.Service.LoadOwner(ctx, "o1")).OK)
	names, err := second.Service.ListProfiles("o1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"default", "pvp"}, names)

	active, err := second.Service.GetActiveProfile("o1")
	require.NoError(t, err)
	assert.Equal(t, "pvp", active)
}

func TestBuildRejectsUnknownBackend(t *testing.T) {
	cfg := testConfig(t)
	cfg.StorageBackend = "cassandra"

	_, err := Build(context.Background(), cfg,
		WithLogOutput(io.Discard),
		WithMetrics(observability.NewMetricsWith(prometheus.NewRegistry(), "test")),
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "storage backend init failed")
}

func TestBuildGate(t *testing.T) {
	cfg := testConfig(t)
	cfg.Admins = []string{"alice"}

	gate, err := buildGate(cfg)
	require.NoError(t, err)
	static, ok := gate.(*policy.StaticGate)
	require.True(t, ok)
	assert.Equal(t, 3, static.Limit)
	assert.True(t, static.Admins["alice"])

	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("default_max_profiles: 4\n"), 0o600))
	cfg.PolicyFile = path
	gate, err = buildGate(cfg)
	require.NoError(t, err)
	assert.Equal(t, 4, gate.MaxProfiles("bob"))

	cfg.PolicyFile = filepath.Join(t.TempDir(), "missing.yaml")
	_, err = buildGate(cfg)
	require.Error(t, err)
}
