package backend

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

const (
	KindAuto     = "auto"
	KindMemory   = "memory"
	KindSQLite   = "sqlite"
	KindPostgres = "postgres"
)

type Config struct {
	Kind        string
	DatabaseURL string
	SQLitePath  string
}

// ResolveKind maps "auto" onto a concrete backend: postgres when a database
// URL is set, sqlite when a file path is set, otherwise memory.
func ResolveKind(cfg Config) string {
	kind := strings.ToLower(strings.TrimSpace(cfg.Kind))
	if kind != "" && kind != KindAuto {
		return kind
	}
	switch {
	case strings.TrimSpace(cfg.DatabaseURL) != "":
		return KindPostgres
	case strings.TrimSpace(cfg.SQLitePath) != "":
		return KindSQLite
	default:
		return KindMemory
	}
}

// Describe names the resolved backend and its target with any password
// masked, for startup logs.
func Describe(cfg Config) string {
	switch kind := ResolveKind(cfg); kind {
	case KindPostgres:
		u, err := url.Parse(strings.TrimSpace(cfg.DatabaseURL))
		if err != nil {
			return kind + " (unparseable url)"
		}
		return kind + " " + u.Redacted()
	case KindSQLite:
		return kind + " " + strings.TrimSpace(cfg.SQLitePath)
	default:
		return kind
	}
}

// NewOpener returns an Opener for the configured backend. The returned
// cleanup releases resources shared between handles.
func NewOpener(ctx context.Context, cfg Config) (Opener, func() error, error) {
	switch kind := ResolveKind(cfg); kind {
	case KindMemory:
		data := NewInMemoryData()
		return data.Opener(), func() error { return nil }, nil
	case KindSQLite:
		path := strings.TrimSpace(cfg.SQLitePath)
		if path == "" {
			return nil, nil, fmt.Errorf("sqlite backend requires a storage path")
		}
		if err := initSQLiteSchema(ctx, path); err != nil {
			return nil, nil, err
		}
		return func(ctx context.Context) (Backend, error) {
			return OpenSQLite(ctx, path)
		}, func() error { return nil }, nil
	case KindPostgres:
		shared, err := NewPostgresPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return shared.Opener(), shared.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", kind)
	}
}
