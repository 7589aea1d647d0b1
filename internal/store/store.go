// Package store provides durable persistence of session snapshots.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when no record exists for a user id.
var ErrNotFound = errors.New("record not found")

// Record is one durable row: an opaque session snapshot keyed by user id.
type Record struct {
	UserID         int64     `json:"user_id"`
	Data           []byte    `json:"data"`
	LastActivityAt time.Time `json:"last_activity_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Repository defines the row-oriented key/value store used for session
// snapshots.
type Repository interface {
	// Upsert creates or replaces the snapshot for userID.
	Upsert(ctx context.Context, userID int64, data []byte, lastActivityAt time.Time) error

	// Get returns the record for userID or ErrNotFound.
	Get(ctx context.Context, userID int64) (*Record, error)

	// ScanAll returns every stored record ordered by user id.
	ScanAll(ctx context.Context) ([]Record, error)

	// DeleteOlderThan removes records whose last activity is older than age
	// and returns the number of rows removed.
	DeleteOlderThan(ctx context.Context, age time.Duration) (int64, error)

	// Ping verifies connectivity to the backend.
	Ping(ctx context.Context) error

	// Close releases the backend.
	Close() error
}

// Backend names accepted by Open.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Options selects and configures a backend.
type Options struct {
	Driver string
	Path   string // SQLite database file
	DSN    string // PostgreSQL connection string
}

// Open returns the Repository for opts.Driver.
func Open(opts Options) (Repository, error) {
	switch opts.Driver {
	case DriverSQLite, "":
		return NewSQLite(opts.Path)
	case DriverPostgres:
		return NewPostgres(opts.DSN)
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", opts.Driver)
	}
}
