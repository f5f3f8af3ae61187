package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/DialogPipe/internal/models"
	backend "github.com/redis/go-redis/v9"
)

const (
	// DefaultKeyPrefix namespaces every Redis key written by DialogPipe.
	DefaultKeyPrefix = "dialogpipe:"
	// DefaultDedupTTL is how long inbound message ids are remembered.
	DefaultDedupTTL = 24 * time.Hour
)

// RedisStore keeps sessions as JSON values and dedup records as SET NX keys.
// Idle sessions expire through the key TTL.
type RedisStore struct {
	client   *backend.Client
	prefix   string
	ttl      time.Duration
	dedupTTL time.Duration
}

var (
	_ SessionStore = (*RedisStore)(nil)
	_ DedupRepo    = (*RedisStore)(nil)
)

// NewRedisStore connects to addr and verifies the connection.
func NewRedisStore(ctx context.Context, addr, password string, db int, opts ...Option) (*RedisStore, error) {
	client := backend.NewClient(&backend.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		slog.Error("RedisStore ping failed", "error", err, "addr", addr)
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return NewRedisStoreFromClient(client, opts...), nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *backend.Client, opts ...Option) *RedisStore {
	cfg := Opts{KeyPrefix: DefaultKeyPrefix, DedupTTL: DefaultDedupTTL}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &RedisStore{client: client, prefix: cfg.KeyPrefix, ttl: cfg.TTL, dedupTTL: cfg.DedupTTL}
}

// Client exposes the underlying client so a Locker can share it.
func (s *RedisStore) Client() *backend.Client {
	return s.client
}

func (s *RedisStore) sessionKey(key string) string {
	return s.prefix + "session:" + key
}

func (s *RedisStore) dedupKey(messageID string) string {
	return s.prefix + "dedup:" + messageID
}

func (s *RedisStore) LoadSession(ctx context.Context, key string) (*models.Session, error) {
	data, err := s.client.Get(ctx, s.sessionKey(key)).Bytes()
	if errors.Is(err, backend.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", key, err)
	}
	var sess models.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("failed to decode session %s: %w", key, err)
	}
	if sess.Variables == nil {
		sess.Variables = make(map[string]any)
	}
	return &sess, nil
}

func (s *RedisStore) SaveSession(ctx context.Context, sess *models.Session) error {
	if sess == nil || sess.Key == "" {
		return ErrEmptyKey
	}
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to encode session %s: %w", sess.Key, err)
	}
	if err := s.client.Set(ctx, s.sessionKey(sess.Key), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save session %s: %w", sess.Key, err)
	}
	return nil
}

func (s *RedisStore) DeleteSession(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.sessionKey(key)).Err(); err != nil {
		return fmt.Errorf("failed to delete session %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) IsDuplicate(ctx context.Context, messageID string) (bool, error) {
	n, err := s.client.Exists(ctx, s.dedupKey(messageID)).Result()
	if err != nil {
		return false, fmt.Errorf("dedup check failed: %w", err)
	}
	return n > 0, nil
}

func (s *RedisStore) RecordInbound(ctx context.Context, messageID, key string) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.dedupKey(messageID), key, s.dedupTTL).Result()
	if err != nil {
		return false, fmt.Errorf("record inbound failed: %w", err)
	}
	return ok, nil
}

func (s *RedisStore) MarkProcessed(ctx context.Context, messageID string) error {
	err := s.client.SetArgs(ctx, s.dedupKey(messageID), "processed", backend.SetArgs{Mode: "XX", KeepTTL: true}).Err()
	if err != nil && !errors.Is(err, backend.Nil) {
		return fmt.Errorf("mark processed failed: %w", err)
	}
	return nil
}

// Close closes the client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
