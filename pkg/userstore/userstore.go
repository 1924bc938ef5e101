// Package userstore provides SQLite-backed persistence for registered user
// records. A record is small and append-mostly: the username, when it was
// created, and when it last logged in. Presence is not stored here; it lives
// only in the server's in-memory registry.
package userstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"wavelink/pkg/model"
)

const dbTimeLayout = "2006-01-02 15:04:05"

// ErrExists is returned by Create for an already registered username.
var ErrExists = errors.New("userstore: username already exists")

// Store provides database access to user records.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the SQLite database at dbPath and runs migrations.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("userstore: open db: %w", err)
	}

	ctx := context.Background()

	// WAL for concurrent readers; busy timeout avoids "database is locked"
	// when the HTTP surface and the router hit the store together.
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("userstore: set WAL: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("userstore: set busy_timeout: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("userstore: migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS users (
		username   TEXT PRIMARY KEY CHECK(length(username) >= 2 AND length(username) <= 20),
		created_at TEXT NOT NULL,
		last_login TEXT NOT NULL
	);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Create inserts a new user record with CreatedAt and LastLogin set to now.
// Returns ErrExists if the username is already registered.
func (s *Store) Create(ctx context.Context, username string) (*model.User, error) {
	now := time.Now().UTC().Truncate(time.Second)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (username, created_at, last_login) VALUES (?, ?, ?)`,
		username, now.Format(dbTimeLayout), now.Format(dbTimeLayout),
	)
	if err != nil {
		exists, existsErr := s.Exists(ctx, username)
		if existsErr == nil && exists {
			return nil, ErrExists
		}
		return nil, fmt.Errorf("userstore: create %q: %w", username, err)
	}
	return &model.User{Username: username, CreatedAt: now, LastLogin: now}, nil
}

// Get returns the record for username, or nil when it does not exist.
func (s *Store) Get(ctx context.Context, username string) (*model.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT username, created_at, last_login FROM users WHERE username = ?`, username)

	var u model.User
	var createdAt, lastLogin string
	if err := row.Scan(&u.Username, &createdAt, &lastLogin); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("userstore: get %q: %w", username, err)
	}

	var err error
	if u.CreatedAt, err = time.Parse(dbTimeLayout, createdAt); err != nil {
		return nil, fmt.Errorf("userstore: parse created_at: %w", err)
	}
	if u.LastLogin, err = time.Parse(dbTimeLayout, lastLogin); err != nil {
		return nil, fmt.Errorf("userstore: parse last_login: %w", err)
	}
	return &u, nil
}

// Exists reports whether username is registered.
func (s *Store) Exists(ctx context.Context, username string) (bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT 1 FROM users WHERE username = ?`, username)
	var one int
	if err := row.Scan(&one); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("userstore: exists %q: %w", username, err)
	}
	return true, nil
}

// TouchLogin advances LastLogin to now. A missing username is not an error.
func (s *Store) TouchLogin(ctx context.Context, username string) error {
	now := time.Now().UTC().Truncate(time.Second)
	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET last_login = ? WHERE username = ?`,
		now.Format(dbTimeLayout), username,
	)
	if err != nil {
		return fmt.Errorf("userstore: touch login %q: %w", username, err)
	}
	return nil
}

// ListUsernames returns every registered username in creation order.
func (s *Store) ListUsernames(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT username FROM users ORDER BY created_at, username`)
	if err != nil {
		return nil, fmt.Errorf("userstore: list: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("userstore: scan: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("userstore: iterate: %w", err)
	}
	return names, nil
}
