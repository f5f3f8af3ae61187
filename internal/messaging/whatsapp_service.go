package messaging

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/BTreeMap/DialogPipe/internal/inbound"
	"github.com/BTreeMap/DialogPipe/internal/models"
	"github.com/BTreeMap/DialogPipe/internal/whatsapp"
	"go.mau.fi/whatsmeow/types/events"
)

// WhatsAppService implements Service on a whatsmeow client. Buttons and lists
// are sent as numbered text; numbered replies come back as buttonReply events.
type WhatsAppService struct {
	client     whatsapp.Sender
	waClient   *whatsapp.Client // set for real clients; event handling needs it
	downloader inbound.Downloader
	httpClient *http.Client
	options    *optionMemory
	stream     *eventStream
}

var _ Service = (*WhatsAppService)(nil)

// NewWhatsAppService creates a new WhatsAppService wrapping client.
func NewWhatsAppService(client whatsapp.Sender) *WhatsAppService {
	s := &WhatsAppService{
		client:     client,
		httpClient: &http.Client{Timeout: DefaultMediaTimeout},
		options:    newOptionMemory(),
		stream:     newEventStream("WhatsAppService"),
	}
	if waClient, ok := client.(*whatsapp.Client); ok {
		s.waClient = waClient
		s.downloader = waClient.GetClient()
		slog.Debug("WhatsAppService created with full client for event handling")
	} else {
		slog.Debug("WhatsAppService created with interface client (likely mock)")
	}
	return s
}

func (s *WhatsAppService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalRecipient("WhatsAppService", recipient)
}

// Start registers the whatsmeow event handler.
func (s *WhatsAppService) Start(ctx context.Context) error {
	if s.waClient == nil || s.waClient.GetClient() == nil {
		slog.Debug("WhatsAppService no full client available, skipping event handling (likely mock)")
		return nil
	}
	s.waClient.GetClient().AddEventHandler(func(evt interface{}) {
		switch v := evt.(type) {
		case *events.Message:
			s.handleIncomingMessage(ctx, v)
		case *events.Connected:
			slog.Info("WhatsAppService connected")
		case *events.Disconnected:
			slog.Warn("WhatsAppService disconnected")
		}
	})
	slog.Debug("WhatsAppService event handler registered")
	return nil
}

// Stop closes the events channel.
func (s *WhatsAppService) Stop() error {
	s.stream.close()
	if s.waClient != nil && s.waClient.GetClient() != nil {
		s.waClient.GetClient().Disconnect()
	}
	slog.Info("WhatsAppService stopped")
	return nil
}

func (s *WhatsAppService) Events() <-chan models.Event {
	return s.stream.events
}

// Send delivers content. Media is read from its path or URL and uploaded.
func (s *WhatsAppService) Send(ctx context.Context, key string, content models.Content) error {
	if s.stream.isStopped() {
		return ErrServiceStopped
	}
	if err := content.Validate(); err != nil {
		return err
	}
	to, err := s.ValidateAndCanonicalizeRecipient(key)
	if err != nil {
		return err
	}
	if err := pause(ctx, content.Delay); err != nil {
		return err
	}

	switch content.Kind {
	case models.ContentMedia:
		data, mimeType, err := loadMedia(ctx, s.httpClient, content.Media)
		if err != nil {
			slog.Error("WhatsAppService.Send: media load failed", "to", to, "error", err)
			return err
		}
		caption := content.Media.Caption
		if caption == "" {
			caption = content.Text
		}
		if err := s.client.SendImage(ctx, to, data, mimeType, caption); err != nil {
			return err
		}
	case models.ContentButtons, models.ContentList:
		text, opts := renderText(content)
		if err := s.client.SendText(ctx, to, text); err != nil {
			return err
		}
		s.options.remember(to, opts)
		return nil
	default:
		if err := s.client.SendText(ctx, to, content.Text); err != nil {
			return err
		}
	}
	// Anything sent after a menu supersedes it.
	s.options.remember(to, nil)
	return nil
}

func (s *WhatsAppService) handleIncomingMessage(ctx context.Context, evt *events.Message) {
	ev, err := inbound.FromWhatsmeow(ctx, evt, s.downloader)
	if err != nil {
		if errors.Is(err, inbound.ErrUnrecognizedPayload) {
			slog.Debug("WhatsAppService ignoring message", "error", err)
		} else {
			slog.Error("WhatsAppService failed to normalize message", "error", err)
		}
		return
	}
	s.stream.emit(s.options.resolve(ev))
}
