// Package settings persists operator-tunable pipeline settings.
package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
)

const (
	// ThresholdKey holds the number of processed items that triggers training.
	ThresholdKey = "feedback_threshold"

	// DefaultThreshold is used until an operator sets one.
	DefaultThreshold = 5
)

// ErrInvalidThreshold is returned for a threshold below 1.
var ErrInvalidThreshold = errors.New("threshold must be a positive integer")

// Schema creates the key/value settings table.
const Schema = `
CREATE TABLE IF NOT EXISTS settings (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// Store reads and writes settings in SQLite.
type Store struct {
	db               *sql.DB
	defaultThreshold int
}

// NewStore creates the settings table if needed. defaultThreshold is returned
// while no threshold has been stored; values below 1 fall back to DefaultThreshold.
func NewStore(ctx context.Context, db *sql.DB, defaultThreshold int) (*Store, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return nil, fmt.Errorf("settings: apply schema: %w", err)
	}
	if defaultThreshold < 1 {
		defaultThreshold = DefaultThreshold
	}
	return &Store{db: db, defaultThreshold: defaultThreshold}, nil
}

// Get returns the raw value for key and whether it was set.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("settings: get %s: %w", key, err)
	}
	return v, true, nil
}

// Set upserts a raw value.
func (s *Store) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("settings: set %s: %w", key, err)
	}
	return nil
}

// Threshold returns the training threshold. A stored value that is not a
// positive integer is treated as unset.
func (s *Store) Threshold(ctx context.Context) (int, error) {
	v, ok, err := s.Get(ctx, ThresholdKey)
	if err != nil {
		return 0, err
	}
	if !ok {
		return s.defaultThreshold, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return s.defaultThreshold, nil
	}
	return n, nil
}

// SetThreshold stores a new training threshold.
func (s *Store) SetThreshold(ctx context.Context, n int) error {
	if n < 1 {
		return fmt.Errorf("%w: %d", ErrInvalidThreshold, n)
	}
	return s.Set(ctx, ThresholdKey, strconv.Itoa(n))
}
