// Package sqlite implements the relaymeter entity store backed by a SQLite
// database. It manages nodes, tunnels, users, forwards, and user tunnel
// grants, and provides the atomic counter updates the accounting pipeline
// relies on.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"relaymeter/internal/domain"
)

const defaultMaxOpenConns = 10
const defaultMaxIdleConns = 10

// Store wraps a SQLite database connection for all relaymeter persistence
// operations.
type Store struct {
	db *sql.DB
}

// OpenOptions controls SQLite connection pool sizing.
type OpenOptions struct {
	MaxOpenConns int
	MaxIdleConns int
}

// Open creates or opens the SQLite database at path, runs migrations, and
// enables WAL mode for improved concurrent read performance.
func Open(path string) (*Store, error) {
	return OpenWithOptions(path, OpenOptions{})
}

// OpenWithOptions creates or opens the SQLite database at path with tunable
// connection pool settings, runs migrations, and enables WAL mode.
func OpenWithOptions(path string, opts OpenOptions) (*Store, error) {
	if err := ensureParentDir(path); err != nil {
		return nil, err
	}
	// Append per-connection PRAGMAs to the DSN so every pooled connection gets them.
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	dsn := path + sep + "_pragma=foreign_keys(1)&_pragma=synchronous(normal)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	maxOpenConns := opts.MaxOpenConns
	if maxOpenConns <= 0 {
		maxOpenConns = defaultMaxOpenConns
	}
	maxIdleConns := opts.MaxIdleConns
	if maxIdleConns <= 0 {
		maxIdleConns = defaultMaxIdleConns
	}
	if maxIdleConns > maxOpenConns {
		maxIdleConns = maxOpenConns
	}

	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)

	// journal_mode and busy_timeout are database-wide; set them once here.
	// foreign_keys and synchronous are per-connection and are handled via DSN _pragma parameters.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite setup (%s): %w", pragma, err)
		}
	}
	s := &Store{db: db}
	if err := s.Migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates all required tables and indexes if they do not already exist.
func (s *Store) Migrate(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS nodes (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	address TEXT NOT NULL,
	secret TEXT NOT NULL UNIQUE,
	created_at DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS tunnels (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	ingress_node_id INTEGER NOT NULL,
	egress_node_id INTEGER NULL,
	billing TEXT NOT NULL,
	topology TEXT NOT NULL,
	created_at DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS users (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	in_bytes INTEGER NOT NULL DEFAULT 0,
	out_bytes INTEGER NOT NULL DEFAULT 0,
	quota_gb INTEGER NOT NULL DEFAULT 0,
	expires_at DATETIME NULL,
	status TEXT NOT NULL,
	created_at DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS forwards (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id INTEGER NOT NULL,
	tunnel_id INTEGER NOT NULL,
	name TEXT NOT NULL,
	in_bytes INTEGER NOT NULL DEFAULT 0,
	out_bytes INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL,
	created_at DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS user_tunnel_grants (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id INTEGER NOT NULL,
	tunnel_id INTEGER NOT NULL,
	in_bytes INTEGER NOT NULL DEFAULT 0,
	out_bytes INTEGER NOT NULL DEFAULT 0,
	quota_gb INTEGER NOT NULL DEFAULT 0,
	expires_at DATETIME NULL,
	status TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	UNIQUE(user_id, tunnel_id)
);
CREATE INDEX IF NOT EXISTS idx_nodes_secret ON nodes(secret);
CREATE INDEX IF NOT EXISTS idx_forwards_user_id ON forwards(user_id);
CREATE INDEX IF NOT EXISTS idx_forwards_tunnel_id ON forwards(tunnel_id);
CREATE INDEX IF NOT EXISTS idx_grants_user_tunnel ON user_tunnel_grants(user_id, tunnel_id);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

// notFound maps sql.ErrNoRows onto the domain sentinel so callers outside
// the store never see database/sql errors.
func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}
	return err
}

func ensureParentDir(path string) error {
	path = strings.TrimSpace(path)
	if path == "" || path == ":memory:" || strings.HasPrefix(path, "file:") {
		return nil
	}
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
