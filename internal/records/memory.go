package records

import (
	"context"
	"reflect"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore keeps records in process. Used in tests and when no Mongo URI is
// configured.
type MemoryStore struct {
	mu    sync.RWMutex
	kinds map[string][]Record
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{kinds: make(map[string][]Record)}
}

func (s *MemoryStore) Save(ctx context.Context, kind string, fields Fields) (string, error) {
	if kind == "" {
		return "", ErrInvalidKind
	}
	rec := Record{ID: uuid.NewString(), Kind: kind, Fields: cloneFields(fields)}
	s.mu.Lock()
	s.kinds[kind] = append(s.kinds[kind], rec)
	s.mu.Unlock()
	return rec.ID, nil
}

func (s *MemoryStore) FindOne(ctx context.Context, kind string, filter Fields) (*Record, error) {
	if kind == "" {
		return nil, ErrInvalidKind
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, rec := range s.kinds[kind] {
		if matches(rec.Fields, filter) {
			out := rec
			out.Fields = cloneFields(rec.Fields)
			return &out, nil
		}
	}
	return nil, nil
}

// All returns every record of kind in insertion order.
func (s *MemoryStore) All(kind string) []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Record, 0, len(s.kinds[kind]))
	for _, rec := range s.kinds[kind] {
		rec.Fields = cloneFields(rec.Fields)
		out = append(out, rec)
	}
	return out
}

func matches(fields, filter Fields) bool {
	for k, want := range filter {
		got, ok := fields[k]
		if !ok || !reflect.DeepEqual(got, want) {
			return false
		}
	}
	return true
}
