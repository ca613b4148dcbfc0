package backend

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ent0n29/profileswitch/internal/profile"
)

// SQLiteBackend is one *sql.DB handle onto a profiles database file.
type SQLiteBackend struct {
	db *sql.DB
}

func sqliteDSN(path string) string {
	return filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
}

// OpenSQLite opens a handle onto the database at path. The schema must already
// exist; NewOpener creates it once before handing out handles.
func OpenSQLite(ctx context.Context, path string) (*SQLiteBackend, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	db, err := sql.Open("sqlite", sqliteDSN(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One connection per handle; the profile store pools handles itself.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	return &SQLiteBackend{db: db}, nil
}

func initSQLiteSchema(ctx context.Context, path string) error {
	b, err := OpenSQLite(ctx, path)
	if err != nil {
		return err
	}
	defer b.Close()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS profiles (
			owner_id TEXT NOT NULL,
			profile_name TEXT NOT NULL,
			state BLOB,
			created_at INTEGER NOT NULL,
			last_used_at INTEGER NOT NULL,
			PRIMARY KEY (owner_id, profile_name)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_profiles_owner ON profiles (owner_id);`,
	}
	for _, stmt := range stmts {
		if _, err := b.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

func (s *SQLiteBackend) LoadProfiles(ctx context.Context, ownerID string) (map[string]profile.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT profile_name, state, created_at, last_used_at FROM profiles WHERE owner_id = ?`,
		ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("query profiles: %w", err)
	}
	defer rows.Close()

	out := make(map[string]profile.Record)
	for rows.Next() {
		var (
			r                profile.Record
			created, lastUse int64
		)
		if err := rows.Scan(&r.Name, &r.State, &created, &lastUse); err != nil {
			return nil, fmt.Errorf("scan profile row: %w", err)
		}
		r.OwnerID = ownerID
		r.CreatedAt = fromMillis(created)
		r.LastUsedAt = fromMillis(lastUse)
		out[r.Name] = r
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate profile rows: %w", err)
	}
	return out, nil
}

func (s *SQLiteBackend) SaveProfile(ctx context.Context, record profile.Record) error {
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO profiles (owner_id, profile_name, state, created_at, last_used_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (owner_id, profile_name) DO UPDATE SET
		   state = excluded.state,
		   last_used_at = excluded.last_used_at`,
		record.OwnerID,
		record.Name,
		record.State,
		toMillis(record.CreatedAt),
		toMillis(record.LastUsedAt),
	)
	if err != nil {
		return fmt.Errorf("save profile: %w", err)
	}
	return nil
}

func (s *SQLiteBackend) DeleteProfile(ctx context.Context, ownerID, name string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM profiles WHERE owner_id = ? AND profile_name = ?`, ownerID, name)
	if err != nil {
		return false, fmt.Errorf("delete profile: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete profile rows affected: %w", err)
	}
	return n > 0, nil
}

func (s *SQLiteBackend) ProfileExists(ctx context.Context, ownerID, name string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM profiles WHERE owner_id = ? AND profile_name = ?`, ownerID, name).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("profile exists: %w", err)
	}
	return true, nil
}

func (s *SQLiteBackend) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
