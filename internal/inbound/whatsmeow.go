package inbound

import (
	"context"
	"fmt"

	"github.com/BTreeMap/DialogPipe/internal/models"
	"github.com/BTreeMap/DialogPipe/internal/util"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/types/events"
)

// Downloader decrypts whatsmeow media. *whatsmeow.Client satisfies it.
type Downloader interface {
	Download(ctx context.Context, msg whatsmeow.DownloadableMessage) ([]byte, error)
}

// FromWhatsmeow converts a whatsmeow message event. Media is downloaded
// in-process and carried in Attachment.Data, since whatsmeow media URLs are
// encrypted and useless to other components. dl may be nil when media is not
// expected (tests); media events then fail.
func FromWhatsmeow(ctx context.Context, evt *events.Message, dl Downloader) (models.Event, error) {
	if evt == nil || evt.Message == nil {
		return models.Event{}, unrecognized("empty whatsmeow message")
	}
	if evt.Info.IsFromMe || evt.Info.IsGroup {
		return models.Event{}, unrecognized("whatsmeow message from self or group")
	}
	key, err := util.CanonicalizePhone(evt.Info.Sender.User)
	if err != nil {
		return models.Event{}, unrecognized("whatsmeow sender: %v", err)
	}
	ev := models.Event{
		ID:         evt.Info.ID,
		Key:        key,
		PushName:   evt.Info.PushName,
		Channel:    ChannelWhatsApp,
		ReceivedAt: evt.Info.Timestamp,
	}
	m := evt.Message

	switch {
	case m.GetConversation() != "":
		ev.Kind = models.EventText
		ev.Body = m.GetConversation()
	case m.GetExtendedTextMessage().GetText() != "":
		ev.Kind = models.EventText
		ev.Body = m.GetExtendedTextMessage().GetText()
	case m.GetButtonsResponseMessage() != nil:
		ev.Kind = models.EventButtonReply
		ev.Body = m.GetButtonsResponseMessage().GetSelectedDisplayText()
	case m.GetTemplateButtonReplyMessage() != nil:
		ev.Kind = models.EventButtonReply
		ev.Body = m.GetTemplateButtonReplyMessage().GetSelectedDisplayText()
	case m.GetListResponseMessage() != nil:
		ev.Kind = models.EventButtonReply
		ev.Body = m.GetListResponseMessage().GetSingleSelectReply().GetSelectedRowID()
	case m.GetImageMessage() != nil:
		img := m.GetImageMessage()
		att, err := download(ctx, dl, img)
		if err != nil {
			return models.Event{}, err
		}
		att.MIMEType = img.GetMimetype()
		att.Caption = img.GetCaption()
		ev.Kind = models.EventMedia
		ev.Body = img.GetCaption()
		ev.Attachment = att
	case m.GetDocumentMessage() != nil:
		doc := m.GetDocumentMessage()
		att, err := download(ctx, dl, doc)
		if err != nil {
			return models.Event{}, err
		}
		att.MIMEType = doc.GetMimetype()
		att.Caption = doc.GetCaption()
		ev.Kind = models.EventMedia
		ev.Body = doc.GetCaption()
		ev.Attachment = att
	default:
		return models.Event{}, unrecognized("whatsmeow message %s has no supported content", evt.Info.ID)
	}

	if err := ev.Validate(); err != nil {
		return models.Event{}, unrecognized("%v", err)
	}
	return ev, nil
}

func download(ctx context.Context, dl Downloader, msg whatsmeow.DownloadableMessage) (*models.Attachment, error) {
	if dl == nil {
		return nil, unrecognized("media received without a downloader")
	}
	data, err := dl.Download(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("failed to download whatsmeow media: %w", err)
	}
	return &models.Attachment{Data: data}, nil
}
