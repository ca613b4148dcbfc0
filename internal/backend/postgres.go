package backend

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ent0n29/profileswitch/internal/profile"
)

// PostgresPool owns the pgx pool that every Postgres handle borrows from.
type PostgresPool struct {
	pool *pgxpool.Pool
	once sync.Once
}

func NewPostgresPool(ctx context.Context, databaseURL string) (*PostgresPool, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initPostgresSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresPool{pool: pool}, nil
}

func initPostgresSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS profiles (
			owner_id TEXT NOT NULL,
			profile_name TEXT NOT NULL,
			state BYTEA,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			last_used_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (owner_id, profile_name)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_profiles_owner ON profiles (owner_id);`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

// Opener hands out handles that share the pool. Closing a handle does not
// close the pool; Close does.
func (p *PostgresPool) Opener() Opener {
	return func(context.Context) (Backend, error) {
		return &PostgresBackend{pool: p.pool}, nil
	}
}

func (p *PostgresPool) Close() error {
	p.once.Do(p.pool.Close)
	return nil
}

// PostgresBackend persists profiles in PostgreSQL.
type PostgresBackend struct {
	pool *pgxpool.Pool
}

func (s *PostgresBackend) LoadProfiles(ctx context.Context, ownerID string) (map[string]profile.Record, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT profile_name, state, created_at, last_used_at FROM profiles WHERE owner_id=$1`,
		ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("query profiles: %w", err)
	}
	defer rows.Close()

	out := make(map[string]profile.Record)
	for rows.Next() {
		r := profile.Record{OwnerID: ownerID}
		if err := rows.Scan(&r.Name, &r.State, &r.CreatedAt, &r.LastUsedAt); err != nil {
			return nil, fmt.Errorf("scan profile row: %w", err)
		}
		r.CreatedAt = r.CreatedAt.UTC()
		r.LastUsedAt = r.LastUsedAt.UTC()
		out[r.Name] = r
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate profile rows: %w", err)
	}
	return out, nil
}

func (s *PostgresBackend) SaveProfile(ctx context.Context, record profile.Record) error {
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO profiles (owner_id, profile_name, state, created_at, last_used_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (owner_id, profile_name) DO UPDATE SET
		   state = EXCLUDED.state,
		   last_used_at = EXCLUDED.last_used_at`,
		record.OwnerID,
		record.Name,
		record.State,
		record.CreatedAt,
		record.LastUsedAt,
	)
	if err != nil {
		return fmt.Errorf("save profile: %w", err)
	}
	return nil
}

func (s *PostgresBackend) DeleteProfile(ctx context.Context, ownerID, name string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM profiles WHERE owner_id=$1 AND profile_name=$2`, ownerID, name)
	if err != nil {
		return false, fmt.Errorf("delete profile: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresBackend) ProfileExists(ctx context.Context, ownerID, name string) (bool, error) {
	var one int
	err := s.pool.QueryRow(ctx,
		`SELECT 1 FROM profiles WHERE owner_id=$1 AND profile_name=$2`, ownerID, name).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("profile exists: %w", err)
	}
	return true, nil
}

func (s *PostgresBackend) Close() error { return nil }
