// Package inbound converts raw channel payloads into models.Event values.
package inbound

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/BTreeMap/DialogPipe/internal/models"
	"github.com/BTreeMap/DialogPipe/internal/util"
	"github.com/tidwall/gjson"
)

// ErrUnrecognizedPayload is returned for payloads that cannot be classified.
// Callers drop them with a log entry and never reply to the user.
var ErrUnrecognizedPayload = errors.New("unrecognized payload")

// Channel names recorded on events.
const (
	ChannelMeta     = "meta"
	ChannelTwilio   = "twilio"
	ChannelWhatsApp = "whatsapp"
)

// DefaultMetaMediaBaseURL is the Graph API root used to build media URLs.
const DefaultMetaMediaBaseURL = "https://graph.facebook.com/v18.0"

func unrecognized(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrUnrecognizedPayload, fmt.Sprintf(format, args...))
}

// FromMeta parses a WhatsApp Cloud API webhook body. One webhook may carry
// several messages. Status-only notifications yield no events and no error.
// mediaBaseURL defaults to DefaultMetaMediaBaseURL.
func FromMeta(body []byte, mediaBaseURL string) ([]models.Event, error) {
	if !gjson.ValidBytes(body) {
		return nil, unrecognized("meta webhook body is not JSON")
	}
	root := gjson.ParseBytes(body)
	if root.Get("object").String() != "whatsapp_business_account" {
		return nil, unrecognized("meta webhook object %q", root.Get("object").String())
	}
	if mediaBaseURL == "" {
		mediaBaseURL = DefaultMetaMediaBaseURL
	}
	mediaBaseURL = strings.TrimRight(mediaBaseURL, "/")

	var (
		out     []models.Event
		skipped int
	)
	root.Get("entry").ForEach(func(_, entry gjson.Result) bool {
		entry.Get("changes").ForEach(func(_, change gjson.Result) bool {
			value := change.Get("value")
			names := map[string]string{}
			value.Get("contacts").ForEach(func(_, c gjson.Result) bool {
				names[c.Get("wa_id").String()] = c.Get("profile.name").String()
				return true
			})
			value.Get("messages").ForEach(func(_, msg gjson.Result) bool {
				ev, err := metaMessage(msg, mediaBaseURL)
				if err != nil {
					skipped++
					slog.Debug("inbound.FromMeta: skipping message", "id", msg.Get("id").String(), "error", err)
					return true
				}
				ev.PushName = names[msg.Get("from").String()]
				out = append(out, ev)
				return true
			})
			return true
		})
		return true
	})

	if len(out) == 0 && skipped > 0 {
		return nil, unrecognized("%d meta message(s) of unsupported type", skipped)
	}
	return out, nil
}

func metaMessage(msg gjson.Result, mediaBaseURL string) (models.Event, error) {
	key, err := util.CanonicalizePhone(msg.Get("from").String())
	if err != nil {
		return models.Event{}, unrecognized("sender: %v", err)
	}
	ev := models.Event{
		ID:         msg.Get("id").String(),
		Key:        key,
		Channel:    ChannelMeta,
		ReceivedAt: unixOrNow(msg.Get("timestamp").Int()),
	}

	switch typ := msg.Get("type").String(); typ {
	case "text":
		ev.Kind = models.EventText
		ev.Body = msg.Get("text.body").String()
	case "interactive":
		ev.Kind = models.EventButtonReply
		switch msg.Get("interactive.type").String() {
		case "button_reply":
			ev.Body = msg.Get("interactive.button_reply.title").String()
		case "list_reply":
			ev.Body = msg.Get("interactive.list_reply.id").String()
		default:
			return models.Event{}, unrecognized("interactive type %q", msg.Get("interactive.type").String())
		}
	case "button":
		ev.Kind = models.EventButtonReply
		ev.Body = msg.Get("button.text").String()
	case "image", "document":
		media := msg.Get(typ)
		id := media.Get("id").String()
		if id == "" {
			return models.Event{}, unrecognized("%s without media id", typ)
		}
		ev.Kind = models.EventMedia
		ev.Body = media.Get("caption").String()
		ev.Attachment = &models.Attachment{
			URL:      mediaBaseURL + "/" + id,
			MIMEType: media.Get("mime_type").String(),
			Caption:  media.Get("caption").String(),
		}
	case "request_welcome":
		ev.Kind = models.EventStart
	default:
		return models.Event{}, unrecognized("meta message type %q", typ)
	}

	if err := ev.Validate(); err != nil {
		return models.Event{}, unrecognized("%v", err)
	}
	return ev, nil
}

func unixOrNow(sec int64) time.Time {
	if sec <= 0 {
		return time.Now()
	}
	return time.Unix(sec, 0)
}

// formInt parses a numeric form field, treating junk as zero.
func formInt(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return n
}
