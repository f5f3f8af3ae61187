// Package store provides the SessionSweeper for evicting idle conversations.
package store

import (
	"context"
	"log/slog"
	"time"
)

// SessionSweeper periodically deletes sessions idle for longer than idleTTL,
// together with dedup records older than dedupTTL.
type SessionSweeper struct {
	purger       IdlePurger
	idleTTL      time.Duration
	dedupTTL     time.Duration
	pollInterval time.Duration
	now          func() time.Time
}

// NewSessionSweeper creates a new SessionSweeper.
func NewSessionSweeper(purger IdlePurger, idleTTL, pollInterval time.Duration) *SessionSweeper {
	if pollInterval <= 0 {
		pollInterval = time.Minute
	}
	return &SessionSweeper{
		purger:       purger,
		idleTTL:      idleTTL,
		dedupTTL:     DefaultDedupTTL,
		pollInterval: pollInterval,
		now:          time.Now,
	}
}

// Run starts the polling loop. It blocks until the context is cancelled.
func (s *SessionSweeper) Run(ctx context.Context) {
	slog.Info("SessionSweeper.Run: starting session sweeper", "idleTTL", s.idleTTL, "pollInterval", s.pollInterval)

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("SessionSweeper.Run: stopping")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one eviction pass.
func (s *SessionSweeper) Sweep(ctx context.Context) {
	now := s.now()
	if s.idleTTL > 0 {
		n, err := s.purger.PurgeIdleSessions(ctx, now.Add(-s.idleTTL))
		if err != nil {
			slog.Error("SessionSweeper.Sweep: purge sessions failed", "error", err)
		} else if n > 0 {
			slog.Info("SessionSweeper.Sweep: evicted idle sessions", "count", n)
		}
	}
	n, err := s.purger.PurgeDedup(ctx, now.Add(-s.dedupTTL))
	if err != nil {
		slog.Error("SessionSweeper.Sweep: purge dedup records failed", "error", err)
	} else if n > 0 {
		slog.Debug("SessionSweeper.Sweep: purged dedup records", "count", n)
	}
}
