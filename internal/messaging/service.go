// Package messaging delivers outbound content over WhatsApp transports and
// surfaces inbound messages as normalized events.
package messaging

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/DialogPipe/internal/models"
	"github.com/BTreeMap/DialogPipe/internal/util"
)

const (
	// DefaultChannelBufferSize is the buffer of the inbound events channel.
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout is how long an inbound event may wait for a full channel before it is dropped.
	DefaultChannelTimeout = 5 * time.Second
)

var (
	ErrServiceStopped     = errors.New("messaging service stopped")
	ErrUnsupportedContent = errors.New("content not supported by this transport")
)

// Gateway delivers content to a conversation. Send returns once the provider
// accepted the message, so callers can sequence follow-up sends.
type Gateway interface {
	Send(ctx context.Context, key string, content models.Content) error
}

// Service is a full transport: delivery plus a stream of inbound events.
type Service interface {
	Gateway

	// ValidateAndCanonicalizeRecipient turns a user-supplied number into a conversation key.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// Start begins background processing (event handlers, webhooks).
	Start(ctx context.Context) error

	// Stop stops background processing and closes Events.
	Stop() error

	// Events returns normalized inbound events.
	Events() <-chan models.Event
}

// canonicalRecipient is shared by every service: keys are digits-only phone numbers.
func canonicalRecipient(service, recipient string) (string, error) {
	canonical, err := util.CanonicalizePhone(recipient)
	if err != nil {
		return "", err
	}
	if canonical != recipient {
		slog.Debug(service+" canonicalized recipient", "original", recipient, "canonical", canonical)
	}
	return canonical, nil
}

// pause honours Content.Delay.
func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// eventStream owns the inbound channel and its shutdown.
type eventStream struct {
	name    string
	mu      sync.RWMutex
	events  chan models.Event
	stopped bool
}

func newEventStream(name string) *eventStream {
	return &eventStream{name: name, events: make(chan models.Event, DefaultChannelBufferSize)}
}

func (s *eventStream) isStopped() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stopped
}

// emit pushes ev, dropping it if the service stopped or the channel stays full.
func (s *eventStream) emit(ev models.Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		slog.Warn(s.name+" dropping inbound event (service stopped)", "key", ev.Key)
		return
	}
	select {
	case s.events <- ev:
		slog.Debug(s.name+" inbound event forwarded", "key", ev.Key, "kind", ev.Kind)
	case <-time.After(DefaultChannelTimeout):
		slog.Warn(s.name+" events channel blocked, dropping event", "key", ev.Key, "timeout", DefaultChannelTimeout)
	}
}

func (s *eventStream) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	close(s.events)
}
