package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/BTreeMap/DialogPipe/internal/inbound"
	"github.com/BTreeMap/DialogPipe/internal/models"
	"github.com/BTreeMap/DialogPipe/internal/twiliowhatsapp"
)

// TwilioService implements Service using the Twilio API. Inbound messages
// arrive through WebhookHandler.
type TwilioService struct {
	client  twiliowhatsapp.Sender
	options *optionMemory
	stream  *eventStream
}

var _ Service = (*TwilioService)(nil)

func NewTwilioService(client twiliowhatsapp.Sender) *TwilioService {
	return &TwilioService{
		client:  client,
		options: newOptionMemory(),
		stream:  newEventStream("TwilioService"),
	}
}

func (s *TwilioService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalRecipient("TwilioService", recipient)
}

// Start is a no-op; Twilio pushes messages to the webhook.
func (s *TwilioService) Start(ctx context.Context) error {
	return nil
}

func (s *TwilioService) Stop() error {
	s.stream.close()
	return nil
}

func (s *TwilioService) Events() <-chan models.Event {
	return s.stream.events
}

// Send delivers content. Twilio fetches media itself, so only URL media is supported.
func (s *TwilioService) Send(ctx context.Context, key string, content models.Content) error {
	if s.stream.isStopped() {
		return ErrServiceStopped
	}
	if err := content.Validate(); err != nil {
		return err
	}
	to, err := s.ValidateAndCanonicalizeRecipient(key)
	if err != nil {
		slog.Error("TwilioService.Send validation error", "error", err, "to", key)
		return err
	}
	if err := pause(ctx, content.Delay); err != nil {
		return err
	}

	switch content.Kind {
	case models.ContentMedia:
		if content.Media.URL == "" {
			return fmt.Errorf("%w: twilio media needs a public URL", ErrUnsupportedContent)
		}
		caption := content.Media.Caption
		if caption == "" {
			caption = content.Text
		}
		if err := s.client.SendMedia(ctx, to, caption, content.Media.URL); err != nil {
			return err
		}
	case models.ContentButtons, models.ContentList:
		text, opts := renderText(content)
		if err := s.client.SendMessage(ctx, to, text); err != nil {
			return err
		}
		s.options.remember(to, opts)
		return nil
	default:
		if err := s.client.SendMessage(ctx, to, content.Text); err != nil {
			return err
		}
	}
	// Anything sent after a menu supersedes it.
	s.options.remember(to, nil)
	return nil
}

// WebhookHandler handles inbound Twilio webhook requests. Unrecognized
// payloads are acknowledged and dropped so Twilio does not retry them.
func (s *TwilioService) WebhookHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		slog.Error("Failed to parse Twilio webhook form", "error", err)
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	ev, err := inbound.FromTwilio(r.PostForm)
	if err != nil {
		if errors.Is(err, inbound.ErrUnrecognizedPayload) {
			slog.Warn("TwilioService dropping unrecognized webhook", "error", err)
		} else {
			slog.Error("TwilioService webhook normalization failed", "error", err)
		}
	} else {
		slog.Info("Inbound WhatsApp message from Twilio", "key", ev.Key, "kind", ev.Kind)
		s.stream.emit(s.options.resolve(ev))
	}

	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}
