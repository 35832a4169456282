// Package sqlite is a SQLite-backed implementation of banstore.Store.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/ZclassicCommunity/zclassic/banstore"
)

// Store is a SQLite-backed implementation of banstore.Store.
type Store struct {
	db *sql.DB
}

// Config holds configuration for SQLite.
type Config struct {
	DBPath string // Path to SQLite database file
}

// New creates a new SQLite-backed ban store.
func New(config *Config) (*Store, error) {
	if config.DBPath == "" {
		return nil, fmt.Errorf("DBPath is required")
	}

	db, err := sql.Open("sqlite3", config.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite db: %w", err)
	}

	store := &Store{db: db}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS peer_bans (
		address     TEXT PRIMARY KEY,
		banned_at   INTEGER NOT NULL,
		ban_until   INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_peer_bans_until ON peer_bans(ban_until);
	`

	_, err := s.db.Exec(schema)
	return err
}

// PutBan records or overwrites a ban for ban.Address.
func (s *Store) PutBan(ctx context.Context, ban banstore.Ban) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO peer_bans (address, banned_at, ban_until) VALUES (?, ?, ?)`,
		ban.Address, ban.BannedAt.Unix(), ban.BanUntil.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert ban for %s: %w", ban.Address, err)
	}
	return nil
}

// GetBan returns the ban for address, or nil if none is recorded.
func (s *Store) GetBan(ctx context.Context, address string) (*banstore.Ban, error) {
	var bannedAt, banUntil int64

	err := s.db.QueryRowContext(ctx,
		`SELECT banned_at, ban_until FROM peer_bans WHERE address = ?`,
		address,
	).Scan(&bannedAt, &banUntil)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query ban for %s: %w", address, err)
	}

	return &banstore.Ban{
		Address:  address,
		BannedAt: time.Unix(bannedAt, 0),
		BanUntil: time.Unix(banUntil, 0),
	}, nil
}

// DeleteExpired removes every ban whose ban_until is before now.
func (s *Store) DeleteExpired(ctx context.Context, now time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM peer_bans WHERE ban_until < ?`,
		now.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to delete expired bans: %w", err)
	}
	return nil
}

// Close releases all database resources.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
