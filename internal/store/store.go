// Package store provides session, deduplication, and locking backends for DialogPipe.
//
// It includes an in-memory store plus SQLite, PostgreSQL, and Redis implementations.
package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/BTreeMap/DialogPipe/internal/models"
)

// ErrEmptyKey is returned when a session has no conversation key.
var ErrEmptyKey = errors.New("session key cannot be empty")

// SessionStore persists per-conversation sessions.
type SessionStore interface {
	// LoadSession returns the session for key, or nil, nil when none exists.
	LoadSession(ctx context.Context, key string) (*models.Session, error)
	// SaveSession creates or replaces the session.
	SaveSession(ctx context.Context, sess *models.Session) error
	// DeleteSession removes the session. Deleting a missing session is not an error.
	DeleteSession(ctx context.Context, key string) error
}

// IdlePurger removes sessions and dedup records that have been idle since before a cutoff.
// Redis relies on key TTLs instead.
type IdlePurger interface {
	PurgeIdleSessions(ctx context.Context, before time.Time) (int64, error)
	PurgeDedup(ctx context.Context, before time.Time) (int64, error)
}

// UnlockFunc releases a distributed lock.
type UnlockFunc func(ctx context.Context) error

// DistributedLocker serializes work on a key across processes.
type DistributedLocker interface {
	Lock(ctx context.Context, key string, ttl time.Duration) (UnlockFunc, error)
}

// Opts holds configuration for SQL and Redis stores.
type Opts struct {
	DSN       string        // database connection string
	KeyPrefix string        // Redis key namespace
	TTL       time.Duration // Redis session expiry; zero keeps sessions forever
	DedupTTL  time.Duration // Redis dedup record expiry
}

// Option defines a configuration option for stores.
type Option func(*Opts)

// WithDSN sets the database connection string.
func WithDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// WithSQLiteDSN sets the SQLite database path.
func WithSQLiteDSN(dsn string) Option {
	return WithDSN(dsn)
}

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return WithDSN(dsn)
}

// WithKeyPrefix namespaces Redis keys.
func WithKeyPrefix(prefix string) Option {
	return func(o *Opts) {
		o.KeyPrefix = prefix
	}
}

// WithTTL expires idle Redis sessions.
func WithTTL(ttl time.Duration) Option {
	return func(o *Opts) {
		o.TTL = ttl
	}
}

// WithDedupTTL sets how long Redis remembers inbound message ids.
func WithDedupTTL(ttl time.Duration) Option {
	return func(o *Opts) {
		o.DedupTTL = ttl
	}
}

// DetectDSNType returns "postgres" for PostgreSQL URLs or keyword DSNs, otherwise "sqlite3".
func DetectDSNType(dsn string) string {
	lower := strings.ToLower(strings.TrimSpace(dsn))
	switch {
	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"):
		return "postgres"
	case strings.Contains(lower, "host=") || strings.Contains(lower, "dbname="):
		return "postgres"
	default:
		return "sqlite3"
	}
}
