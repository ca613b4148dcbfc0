package backend

import (
	"context"

	"github.com/ent0n29/profileswitch/internal/profile"
)

// Backend is one handle onto durable profile storage. Calls are synchronous
// and may fail; retries and caching live above this layer.
type Backend interface {
	LoadProfiles(ctx context.Context, ownerID string) (map[string]profile.Record, error)
	SaveProfile(ctx context.Context, record profile.Record) error
	DeleteProfile(ctx context.Context, ownerID, name string) (bool, error)
	ProfileExists(ctx context.Context, ownerID, name string) (bool, error)
	Close() error
}

// Opener opens a new handle. Handles opened from the same Opener see the
// same data.
type Opener func(ctx context.Context) (Backend, error)
