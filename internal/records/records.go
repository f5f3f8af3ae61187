// Package records persists business entities (guardians, students) created by
// dialogue flows and answers lookups against them.
package records

import (
	"context"
	"errors"
	"maps"
)

// ErrInvalidKind is returned when a record kind is empty.
var ErrInvalidKind = errors.New("record kind is empty")

// Fields is a flat set of named values. Values are strings, booleans, numbers
// or time.Time.
type Fields map[string]any

// Record is a stored entity.
type Record struct {
	ID     string
	Kind   string
	Fields Fields
}

// String returns the named field as a string, or "" when absent.
func (r *Record) String(name string) string {
	if r == nil {
		return ""
	}
	s, _ := r.Fields[name].(string)
	return s
}

// Store is the record persistence adapter used by flow handlers.
type Store interface {
	// Save inserts a new record of kind and returns its id.
	Save(ctx context.Context, kind string, fields Fields) (string, error)
	// FindOne returns the first record of kind whose fields equal every
	// entry of filter, or nil, nil when nothing matches.
	FindOne(ctx context.Context, kind string, filter Fields) (*Record, error)
}

func cloneFields(f Fields) Fields {
	if f == nil {
		return Fields{}
	}
	return maps.Clone(f)
}
