// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Persists node sessions and announced multiaddresses with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/2389/coven-peer/internal/peerid"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS node_sessions (
			id            TEXT PRIMARY KEY,
			peer_id       TEXT NOT NULL,
			mode          TEXT NOT NULL,
			restart_count INTEGER NOT NULL,
			started_at    TEXT NOT NULL,

			CHECK (mode IN ('full', 'relayed'))
		);

		CREATE INDEX IF NOT EXISTS idx_node_sessions_peer_started
			ON node_sessions(peer_id, started_at);

		CREATE TABLE IF NOT EXISTS node_addrs (
			peer_id   TEXT NOT NULL,
			multiaddr TEXT NOT NULL,
			seen_at   TEXT NOT NULL,
			PRIMARY KEY (peer_id, multiaddr)
		);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// timeLayout is fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

// RecordSession stores a node start under a fresh ID.
func (s *SQLiteStore) RecordSession(ctx context.Context, peerID, mode string, restarts int) error {
	query := `
		INSERT INTO node_sessions (id, peer_id, mode, restart_count, started_at)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query, uuid.NewString(), peerID, mode, restarts, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("inserting node session: %w", err)
	}
	return nil
}

// LatestSession returns the most recent start of peerID.
func (s *SQLiteStore) LatestSession(ctx context.Context, peerID string) (*NodeSession, error) {
	query := `
		SELECT id, peer_id, mode, restart_count, started_at
		FROM node_sessions
		WHERE peer_id = ?
		ORDER BY started_at DESC, rowid DESC
		LIMIT 1
	`

	var sess NodeSession
	var startedAt string
	err := s.db.QueryRowContext(ctx, query, peerID).Scan(
		&sess.ID, &sess.PeerID, &sess.Mode, &sess.RestartCount, &startedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying node session: %w", err)
	}
	if sess.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, fmt.Errorf("parsing started_at: %w", err)
	}
	return &sess, nil
}

// SaveMultiAddrs upserts addrs in one transaction.
func (s *SQLiteStore) SaveMultiAddrs(ctx context.Context, peerID string, addrs []peerid.MultiAddr) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	query := `
		INSERT INTO node_addrs (peer_id, multiaddr, seen_at)
		VALUES (?, ?, ?)
		ON CONFLICT (peer_id, multiaddr) DO UPDATE SET seen_at = excluded.seen_at
	`
	now := formatTime(time.Now())
	for _, addr := range addrs {
		if _, err := tx.ExecContext(ctx, query, peerID, addr.String(), now); err != nil {
			return fmt.Errorf("saving multiaddr %s: %w", addr, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing multiaddrs: %w", err)
	}
	return nil
}

// ListMultiAddrs returns stored addresses, most recently seen first.
func (s *SQLiteStore) ListMultiAddrs(ctx context.Context, peerID string) ([]NodeAddr, error) {
	query := `
		SELECT peer_id, multiaddr, seen_at
		FROM node_addrs
		WHERE ? = '' OR peer_id = ?
		ORDER BY seen_at DESC, multiaddr ASC
	`

	rows, err := s.db.QueryContext(ctx, query, peerID, peerID)
	if err != nil {
		return nil, fmt.Errorf("querying multiaddrs: %w", err)
	}
	defer rows.Close()

	var addrs []NodeAddr
	for rows.Next() {
		var addr NodeAddr
		var raw, seenAt string
		if err := rows.Scan(&addr.PeerID, &raw, &seenAt); err != nil {
			return nil, fmt.Errorf("scanning multiaddr: %w", err)
		}
		if addr.MultiAddr, err = peerid.ParseMultiAddr(raw); err != nil {
			s.logger.Warn("skipping unparseable stored multiaddr", "multiaddr", raw, "error", err)
			continue
		}
		if addr.SeenAt, err = parseTime(seenAt); err != nil {
			return nil, fmt.Errorf("parsing seen_at: %w", err)
		}
		addrs = append(addrs, addr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating multiaddrs: %w", err)
	}
	return addrs, nil
}
