// Package sqlite persists credentials, session flags, and the monitoring
// flag in a single SQLite database using the pure-Go modernc driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // pure Go SQLite driver

	"github.com/ppiankov/lockwatch/internal/storage"
	"github.com/ppiankov/lockwatch/internal/subject"
)

const schema = `
CREATE TABLE IF NOT EXISTS credentials (
	subject    TEXT PRIMARY KEY,
	secret     TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS session_auth (
	subject     TEXT PRIMARY KEY,
	recorded_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS settings (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

const monitoringKey = "monitoring_enabled"

// Store is a storage.Store backed by SQLite.
type Store struct {
	db *sql.DB
}

var _ storage.Store = (*Store)(nil)

// Open opens (or creates) the database at path and applies the schema.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite allows one writer; a single connection also gives every
	// statement a total order, which ResetAll relies on.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

const upsertCredential = `INSERT INTO credentials (subject, secret, updated_at) VALUES (?, ?, ?)
ON CONFLICT(subject) DO UPDATE SET secret = excluded.secret, updated_at = excluded.updated_at`

func (s *Store) Put(ctx context.Context, id subject.ID, secret string) error {
	if _, err := s.db.ExecContext(ctx, upsertCredential, string(id), secret, now()); err != nil {
		return fmt.Errorf("put credential: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id subject.ID) (string, error) {
	var secret string
	err := s.db.QueryRowContext(ctx, "SELECT secret FROM credentials WHERE subject = ?", string(id)).Scan(&secret)
	if errors.Is(err, sql.ErrNoRows) {
		return "", storage.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get credential: %w", err)
	}
	return secret, nil
}

// GetAll returns credentials ordered by subject.
func (s *Store) GetAll(ctx context.Context) ([]storage.Credential, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT subject, secret FROM credentials ORDER BY subject")
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close()

	var out []storage.Credential
	for rows.Next() {
		var id, secret string
		if err := rows.Scan(&id, &secret); err != nil {
			return nil, fmt.Errorf("scan credential: %w", err)
		}
		out = append(out, storage.Credential{Subject: subject.ID(id), Secret: secret})
	}
	return out, rows.Err()
}

func (s *Store) Delete(ctx context.Context, id subject.ID) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM credentials WHERE subject = ?", string(id)); err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	return nil
}

func (s *Store) DeleteAll(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM credentials"); err != nil {
		return fmt.Errorf("delete credentials: %w", err)
	}
	return nil
}

// BulkUpsert writes every record inside one transaction.
func (s *Store) BulkUpsert(ctx context.Context, creds []storage.Credential) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin bulk upsert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, upsertCredential)
	if err != nil {
		return fmt.Errorf("prepare bulk upsert: %w", err)
	}
	defer stmt.Close()

	ts := now()
	for _, c := range creds {
		if _, err := stmt.ExecContext(ctx, string(c.Subject), c.Secret, ts); err != nil {
			return fmt.Errorf("bulk upsert %s: %w", c.Subject, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit bulk upsert: %w", err)
	}
	return nil
}

func (s *Store) IsAuthenticated(ctx context.Context, id subject.ID) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM session_auth WHERE subject = ?", string(id)).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("read session flag: %w", err)
	}
	return n > 0, nil
}

func (s *Store) SetAuthenticated(ctx context.Context, id subject.ID) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO session_auth (subject, recorded_at) VALUES (?, ?)
		 ON CONFLICT(subject) DO UPDATE SET recorded_at = excluded.recorded_at`,
		string(id), now())
	if err != nil {
		return fmt.Errorf("write session flag: %w", err)
	}
	return nil
}

// ResetAll clears every session flag in one statement.
func (s *Store) ResetAll(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM session_auth"); err != nil {
		return fmt.Errorf("reset sessions: %w", err)
	}
	return nil
}

func (s *Store) MonitoringEnabled(ctx context.Context) (bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM settings WHERE key = ?", monitoringKey).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read monitoring flag: %w", err)
	}
	return v == "true", nil
}

func (s *Store) SetMonitoring(ctx context.Context, enabled bool) error {
	v := "false"
	if enabled {
		v = "true"
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		monitoringKey, v)
	if err != nil {
		return fmt.Errorf("write monitoring flag: %w", err)
	}
	return nil
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
