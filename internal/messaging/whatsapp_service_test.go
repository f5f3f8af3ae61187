package messaging

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/BTreeMap/DialogPipe/internal/models"
	"github.com/BTreeMap/DialogPipe/internal/whatsapp"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"
)

func TestWhatsAppService_ImplementsService(t *testing.T) {
	var _ Service = (*WhatsAppService)(nil)
}

func TestWhatsAppService_SendText(t *testing.T) {
	mock := whatsapp.NewMockClient()
	svc := NewWhatsAppService(mock)

	if err := svc.Send(context.Background(), "+51 987 654 321", models.NewText("hola")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(mock.Texts) != 1 || mock.Texts[0].To != "51987654321" || mock.Texts[0].Body != "hola" {
		t.Errorf("Texts = %+v", mock.Texts)
	}
}

func TestWhatsAppService_SendButtonsThenNumberedReply(t *testing.T) {
	mock := whatsapp.NewMockClient()
	svc := NewWhatsAppService(mock)
	ctx := context.Background()

	if err := svc.Send(ctx, "51987654321", models.NewButtons("¿Iniciar?", "Si", "No")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	svc.handleIncomingMessage(ctx, &events.Message{
		Info: types.MessageInfo{
			MessageSource: types.MessageSource{Sender: types.NewJID("51987654321", types.DefaultUserServer)},
			ID:            "ABC",
		},
		Message: &waE2E.Message{Conversation: proto.String("1")},
	})

	select {
	case ev := <-svc.Events():
		if ev.Kind != models.EventButtonReply || ev.Body != "Si" {
			t.Errorf("event = %+v, want buttonReply Si", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("no event emitted")
	}
}

func TestWhatsAppService_SendMedia(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "yape.png")
	if err := os.WriteFile(path, []byte("\x89PNG\r\n\x1a\nrest"), 0o600); err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write([]byte("jpeg"))
	}))
	defer srv.Close()

	mock := whatsapp.NewMockClient()
	svc := NewWhatsAppService(mock)
	ctx := context.Background()

	if err := svc.Send(ctx, "51987654321", models.Content{Kind: models.ContentMedia, Media: &models.Media{Path: path, Caption: "pago"}}); err != nil {
		t.Fatalf("Send path: %v", err)
	}
	if err := svc.Send(ctx, "51987654321", models.NewMedia(srv.URL+"/a.jpg", "")); err != nil {
		t.Fatalf("Send url: %v", err)
	}
	if len(mock.Images) != 2 {
		t.Fatalf("Images = %+v", mock.Images)
	}
	if mock.Images[0].MIMEType != "image/png" || mock.Images[0].Caption != "pago" {
		t.Errorf("path image = %+v", mock.Images[0])
	}
	if mock.Images[1].Size != 4 {
		t.Errorf("url image = %+v", mock.Images[1])
	}
}

func TestWhatsAppService_SendErrors(t *testing.T) {
	mock := whatsapp.NewMockClient()
	svc := NewWhatsAppService(mock)
	ctx := context.Background()

	if err := svc.Send(ctx, "51987654321", models.NewText("")); !errors.Is(err, models.ErrEmptyBody) {
		t.Errorf("empty body error = %v", err)
	}
	if err := svc.Send(ctx, "12", models.NewText("x")); err == nil {
		t.Error("expected recipient validation error")
	}

	_ = svc.Stop()
	if err := svc.Send(ctx, "51987654321", models.NewText("x")); !errors.Is(err, ErrServiceStopped) {
		t.Errorf("after Stop error = %v", err)
	}
	if _, ok := <-svc.Events(); ok {
		t.Error("events channel should be closed")
	}
}

func TestWhatsAppService_DelayHonoursContext(t *testing.T) {
	svc := NewWhatsAppService(whatsapp.NewMockClient())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := svc.Send(ctx, "51987654321", models.NewText("x").WithDelay(time.Hour))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}
