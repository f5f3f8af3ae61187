package inbound

import (
	"net/url"
	"strings"
	"time"

	"github.com/BTreeMap/DialogPipe/internal/models"
	"github.com/BTreeMap/DialogPipe/internal/util"
)

// FromTwilio parses the form body of a Twilio WhatsApp webhook.
func FromTwilio(form url.Values) (models.Event, error) {
	key, err := util.CanonicalizePhone(strings.TrimPrefix(form.Get("From"), "whatsapp:"))
	if err != nil {
		return models.Event{}, unrecognized("twilio sender: %v", err)
	}
	ev := models.Event{
		ID:         form.Get("MessageSid"),
		Key:        key,
		PushName:   form.Get("ProfileName"),
		Channel:    ChannelTwilio,
		ReceivedAt: time.Now(),
	}
	body := form.Get("Body")

	switch {
	case formInt(form.Get("NumMedia")) > 0 && form.Get("MediaUrl0") != "":
		ev.Kind = models.EventMedia
		ev.Body = body
		ev.Attachment = &models.Attachment{
			URL:      form.Get("MediaUrl0"),
			MIMEType: form.Get("MediaContentType0"),
			Caption:  body,
		}
	case form.Get("ListId") != "":
		ev.Kind = models.EventButtonReply
		ev.Body = form.Get("ListId")
	case form.Get("ButtonText") != "":
		ev.Kind = models.EventButtonReply
		ev.Body = form.Get("ButtonText")
	case strings.TrimSpace(body) != "":
		ev.Kind = models.EventText
		ev.Body = body
	default:
		return models.Event{}, unrecognized("twilio message %q has no body or media", ev.ID)
	}
	return ev, nil
}
