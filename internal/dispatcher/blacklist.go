package dispatcher

import (
	"slices"
	"sync"
)

// Blacklist is the set of conversation keys the bot must not answer.
type Blacklist struct {
	mu   sync.RWMutex
	keys map[string]struct{}
}

// NewBlacklist returns a blacklist seeded with keys.
func NewBlacklist(keys ...string) *Blacklist {
	b := &Blacklist{keys: make(map[string]struct{}, len(keys))}
	for _, k := range keys {
		b.keys[k] = struct{}{}
	}
	return b
}

// Add suppresses key. Adding twice is a no-op.
func (b *Blacklist) Add(key string) {
	b.mu.Lock()
	b.keys[key] = struct{}{}
	b.mu.Unlock()
}

// Remove lifts the suppression for key.
func (b *Blacklist) Remove(key string) {
	b.mu.Lock()
	delete(b.keys, key)
	b.mu.Unlock()
}

// Contains reports whether key is suppressed.
func (b *Blacklist) Contains(key string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.keys[key]
	return ok
}

// List returns the suppressed keys sorted.
func (b *Blacklist) List() []string {
	b.mu.RLock()
	out := make([]string, 0, len(b.keys))
	for k := range b.keys {
		out = append(out, k)
	}
	b.mu.RUnlock()
	slices.Sort(out)
	return out
}
