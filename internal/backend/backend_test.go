package backend

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/profileswitch/internal/profile"
)

func exerciseBackend(t *testing.T, open Opener) {
	t.Helper()
	ctx := context.Background()

	b, err := open(ctx)
	require.NoError(t, err)
	defer b.Close()

	created := time.UnixMilli(1_700_000_000_000).UTC()
	rec := profile.Record{OwnerID: "o1", Name: "main", State: []byte("abc"), CreatedAt: created, LastUsedAt: created}
	require.NoError(t, b.SaveProfile(ctx, rec))

	other, err := open(ctx)
	require.NoError(t, err)
	defer other.Close()

	got, err := other.LoadProfiles(ctx, "o1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, []byte("abc"), got["main"].State)
	assert.True(t, got["main"].CreatedAt.Equal(created))

	rec.State = []byte("xyz")
	rec.LastUsedAt = created.Add(time.Minute)
	require.NoError(t, b.SaveProfile(ctx, rec))
	got, err = b.LoadProfiles(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, []byte("xyz"), got["main"].State)

	ok, err := b.ProfileExists(ctx, "o1", "main")
	require.NoError(t, err)
	assert.True(t, ok)

	removed, err := b.DeleteProfile(ctx, "o1", "main")
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = b.DeleteProfile(ctx, "o1", "main")
	require.NoError(t, err)
	assert.False(t, removed)

	ok, err = b.ProfileExists(ctx, "o1", "main")
	require.NoError(t, err)
	assert.False(t, ok)

	empty, err := b.LoadProfiles(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestInMemoryBackend(t *testing.T) {
	exerciseBackend(t, NewInMemoryData().Opener())
}

func TestSQLiteBackend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles.db")
	open, cleanup, err := NewOpener(context.Background(), Config{Kind: KindSQLite, SQLitePath: path})
	require.NoError(t, err)
	defer cleanup()
	exerciseBackend(t, open)
}

func TestInMemoryFailHook(t *testing.T) {
	data := NewInMemoryData()
	boom := errors.New("boom")
	data.SetFailHook(func(op string, key profile.Key) error {
		if op == "save" && key.Name == "bad" {
			return boom
		}
		return nil
	})
	b, err := data.Opener()(context.Background())
	require.NoError(t, err)

	require.ErrorIs(t, b.SaveProfile(context.Background(), profile.Record{OwnerID: "o", Name: "bad"}), boom)
	require.NoError(t, b.SaveProfile(context.Background(), profile.Record{OwnerID: "o", Name: "good"}))
	assert.Equal(t, 2, data.Calls("save"))

	require.NoError(t, b.Close())
	_, err = b.LoadProfiles(context.Background(), "o")
	assert.Error(t, err)
}

func TestResolveKind(t *testing.T) {
	assert.Equal(t, KindMemory, ResolveKind(Config{}))
	assert.Equal(t, KindSQLite, ResolveKind(Config{Kind: "auto", SQLitePath: "x.db"}))
	assert.Equal(t, KindPostgres, ResolveKind(Config{SQLitePath: "x.db", DatabaseURL: "postgres://"}))
	assert.Equal(t, KindMemory, ResolveKind(Config{Kind: "Memory", DatabaseURL: "postgres://"}))

	_, _, err := NewOpener(context.Background(), Config{Kind: "redis"})
	assert.Error(t, err)
}

func TestDescribeMasksPassword(t *testing.T) {
	got := Describe(Config{DatabaseURL: "postgres://app:hunter2@db:5432/profiles"})
	assert.Equal(t, "postgres postgres://app:xxxxx@db:5432/profiles", got)
	assert.Equal(t, "sqlite data/p.db", Describe(Config{SQLitePath: "data/p.db"}))
	assert.Equal(t, "memory", Describe(Config{}))
}
