package store

import (
	"context"
	"sync"
	"time"

	"github.com/BTreeMap/DialogPipe/internal/models"
)

// InMemoryStore keeps sessions and dedup records in process memory.
// Stored sessions are cloned on the way in and out so callers never share maps.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*models.Session
	dedup    map[string]DedupRecord
}

var (
	_ SessionStore = (*InMemoryStore)(nil)
	_ DedupRepo    = (*InMemoryStore)(nil)
	_ IdlePurger   = (*InMemoryStore)(nil)
)

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		sessions: make(map[string]*models.Session),
		dedup:    make(map[string]DedupRecord),
	}
}

func (s *InMemoryStore) LoadSession(ctx context.Context, key string) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[key]
	if !ok {
		return nil, nil
	}
	return sess.Clone(), nil
}

func (s *InMemoryStore) SaveSession(ctx context.Context, sess *models.Session) error {
	if sess == nil || sess.Key == "" {
		return ErrEmptyKey
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.Key] = sess.Clone()
	return nil
}

func (s *InMemoryStore) DeleteSession(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, key)
	return nil
}

func (s *InMemoryStore) PurgeIdleSessions(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for key, sess := range s.sessions {
		if sess.UpdatedAt.Before(before) {
			delete(s.sessions, key)
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) IsDuplicate(ctx context.Context, messageID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.dedup[messageID]
	return ok, nil
}

func (s *InMemoryStore) RecordInbound(ctx context.Context, messageID, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.dedup[messageID]; ok {
		return false, nil
	}
	s.dedup[messageID] = DedupRecord{MessageID: messageID, ConversationKey: key, ReceivedAt: time.Now()}
	return true, nil
}

func (s *InMemoryStore) MarkProcessed(ctx context.Context, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.dedup[messageID]
	if !ok {
		return nil
	}
	now := time.Now()
	rec.ProcessedAt = &now
	s.dedup[messageID] = rec
	return nil
}

func (s *InMemoryStore) PurgeDedup(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, rec := range s.dedup {
		if rec.ReceivedAt.Before(before) {
			delete(s.dedup, id)
			n++
		}
	}
	return n, nil
}
