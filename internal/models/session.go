package models

import (
	"fmt"
	"maps"
	"time"
)

// Cursor points at the active step of a conversation. An empty FlowID means idle.
type Cursor struct {
	FlowID   string `json:"flow_id,omitempty"`
	Step     int    `json:"step"`
	Awaiting bool   `json:"awaiting,omitempty"` // waiting for a capture reply
}

// Idle reports whether no flow is active.
func (c Cursor) Idle() bool {
	return c.FlowID == ""
}

// Session is the per-conversation state persisted between turns.
type Session struct {
	Key        string         `json:"key"`
	Variables  map[string]any `json:"variables,omitempty"`
	Cursor     Cursor         `json:"cursor"`
	RetryCount int            `json:"retry_count"`
	LastFlowID string         `json:"last_flow_id,omitempty"` // most recently finished flow
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// NewSession returns an idle session for key.
func NewSession(key string, now time.Time) *Session {
	return &Session{
		Key:       key,
		Variables: make(map[string]any),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Get returns a variable and whether it was set.
func (s *Session) Get(name string) (any, bool) {
	v, ok := s.Variables[name]
	return v, ok
}

// GetString returns a variable formatted as a string, or "" when unset.
func (s *Session) GetString(name string) string {
	v, ok := s.Variables[name]
	if !ok || v == nil {
		return ""
	}
	if str, ok := v.(string); ok {
		return str
	}
	return fmt.Sprint(v)
}

// GetBool returns a boolean variable, or false when unset or not a bool.
func (s *Session) GetBool(name string) bool {
	b, _ := s.Variables[name].(bool)
	return b
}

// Set writes a variable. Last write wins.
func (s *Session) Set(name string, value any) {
	if s.Variables == nil {
		s.Variables = make(map[string]any)
	}
	s.Variables[name] = value
}

// Unset removes a variable.
func (s *Session) Unset(name string) {
	delete(s.Variables, name)
}

// Clone returns a copy whose variable map can be mutated independently.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.Variables = maps.Clone(s.Variables)
	if c.Variables == nil {
		c.Variables = make(map[string]any)
	}
	return &c
}
