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

	"github.com/ashureev/coachbot/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS sessions (
		user_id INTEGER PRIMARY KEY,
		data TEXT NOT NULL,
		last_activity_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_last_activity ON sessions(last_activity_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Upsert creates or replaces the snapshot for a user.
func (s *SQLiteStore) Upsert(ctx context.Context, userID int64, data []byte, lastActivityAt time.Time) error {
	query := `
	INSERT INTO sessions (user_id, data, last_activity_at, updated_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		data = excluded.data,
		last_activity_at = excluded.last_activity_at,
		updated_at = excluded.updated_at`

	return shared.RetryOnConflict(ctx, "upsert session", func() error {
		_, err := s.db.ExecContext(ctx, query,
			userID, string(data), lastActivityAt.Unix(), time.Now().Unix())
		if err != nil {
			return fmt.Errorf("upsert session: %w", err)
		}
		return nil
	})
}

// Get retrieves the record for a user.
func (s *SQLiteStore) Get(ctx context.Context, userID int64) (*Record, error) {
	query := `SELECT user_id, data, last_activity_at, updated_at FROM sessions WHERE user_id = ?`

	var rec Record
	var data string
	var lastActivity, updatedAt int64
	err := s.db.QueryRowContext(ctx, query, userID).Scan(&rec.UserID, &data, &lastActivity, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}

	rec.Data = []byte(data)
	rec.LastActivityAt = time.Unix(lastActivity, 0)
	rec.UpdatedAt = time.Unix(updatedAt, 0)
	return &rec, nil
}

// ScanAll returns every stored record.
func (s *SQLiteStore) ScanAll(ctx context.Context) ([]Record, error) {
	query := `SELECT user_id, data, last_activity_at, updated_at FROM sessions ORDER BY user_id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close session rows", "error", closeErr)
		}
	}()

	var records []Record
	for rows.Next() {
		var rec Record
		var data string
		var lastActivity, updatedAt int64
		if err := rows.Scan(&rec.UserID, &data, &lastActivity, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		rec.Data = []byte(data)
		rec.LastActivityAt = time.Unix(lastActivity, 0)
		rec.UpdatedAt = time.Unix(updatedAt, 0)
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return records, nil
}

// DeleteOlderThan removes sessions inactive for longer than age.
func (s *SQLiteStore) DeleteOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	threshold := time.Now().Add(-age).Unix()

	var deleted int64
	err := shared.RetryOnConflict(ctx, "delete old sessions", func() error {
		result, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE last_activity_at < ?`, threshold)
		if err != nil {
			return fmt.Errorf("delete old sessions: %w", err)
		}
		deleted, err = result.RowsAffected()
		return err
	})
	return deleted, err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
