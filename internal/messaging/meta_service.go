package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/BTreeMap/DialogPipe/internal/inbound"
	"github.com/BTreeMap/DialogPipe/internal/models"
	"github.com/tidwall/gjson"
)

const (
	// DefaultMetaBaseURL is the Graph API host.
	DefaultMetaBaseURL = "https://graph.facebook.com"
	// DefaultMetaAPIVersion is the Graph API version used by the Cloud API.
	DefaultMetaAPIVersion = "v18.0"
	// DefaultMetaTimeout bounds each Graph API call.
	DefaultMetaTimeout = 15 * time.Second
	// maxWebhookBytes caps webhook bodies.
	maxWebhookBytes = 1 << 20
)

var (
	ErrMetaConfig  = errors.New("meta cloud api: token and number id are required")
	ErrMetaRequest = errors.New("meta cloud api request failed")
)

// MetaOpts configures the WhatsApp Cloud API service.
type MetaOpts struct {
	Token       string
	NumberID    string
	VerifyToken string
	APIVersion  string
	BaseURL     string
	HTTPClient  *http.Client
}

// MetaOption configures a MetaService.
type MetaOption func(*MetaOpts)

// WithMetaToken sets the bearer token (system user access token).
func WithMetaToken(token string) MetaOption {
	return func(o *MetaOpts) { o.Token = token }
}

// WithMetaNumberID sets the phone number id that sends messages.
func WithMetaNumberID(id string) MetaOption {
	return func(o *MetaOpts) { o.NumberID = id }
}

// WithMetaVerifyToken sets the token expected by the webhook handshake.
func WithMetaVerifyToken(token string) MetaOption {
	return func(o *MetaOpts) { o.VerifyToken = token }
}

// WithMetaAPIVersion sets the Graph API version, e.g. "v18.0".
func WithMetaAPIVersion(v string) MetaOption {
	return func(o *MetaOpts) { o.APIVersion = v }
}

// WithMetaBaseURL overrides the Graph API host (tests).
func WithMetaBaseURL(u string) MetaOption {
	return func(o *MetaOpts) { o.BaseURL = u }
}

// WithMetaHTTPClient replaces the HTTP client.
func WithMetaHTTPClient(c *http.Client) MetaOption {
	return func(o *MetaOpts) { o.HTTPClient = c }
}

// MetaService implements Service on the WhatsApp Cloud API. Buttons and
// lists are sent as native interactive messages.
type MetaService struct {
	cfg    MetaOpts
	client *http.Client
	stream *eventStream
}

var _ Service = (*MetaService)(nil)

func NewMetaService(opts ...MetaOption) (*MetaService, error) {
	cfg := MetaOpts{APIVersion: DefaultMetaAPIVersion, BaseURL: DefaultMetaBaseURL}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Token == "" || cfg.NumberID == "" {
		return nil, ErrMetaConfig
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: DefaultMetaTimeout}
	}
	slog.Debug("MetaService created", "numberID", cfg.NumberID, "version", cfg.APIVersion, "verifyToken_set", cfg.VerifyToken != "")
	return &MetaService{cfg: cfg, client: client, stream: newEventStream("MetaService")}, nil
}

// MediaBaseURL is the versioned Graph root; inbound media ids resolve under it.
func (s *MetaService) MediaBaseURL() string {
	return s.cfg.BaseURL + "/" + s.cfg.APIVersion
}

func (s *MetaService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalRecipient("MetaService", recipient)
}

// Start is a no-op; Meta pushes messages to the webhook.
func (s *MetaService) Start(ctx context.Context) error {
	return nil
}

func (s *MetaService) Stop() error {
	s.stream.close()
	return nil
}

func (s *MetaService) Events() <-chan models.Event {
	return s.stream.events
}

// Cloud API request bodies.
type (
	metaMessage struct {
		MessagingProduct string           `json:"messaging_product"`
		RecipientType    string           `json:"recipient_type"`
		To               string           `json:"to"`
		Type             string           `json:"type"`
		Text             *metaText        `json:"text,omitempty"`
		Image            *metaMedia       `json:"image,omitempty"`
		Interactive      *metaInteractive `json:"interactive,omitempty"`
	}
	metaText struct {
		PreviewURL bool   `json:"preview_url"`
		Body       string `json:"body"`
	}
	metaMedia struct {
		ID      string `json:"id,omitempty"`
		Link    string `json:"link,omitempty"`
		Caption string `json:"caption,omitempty"`
	}
	metaInteractive struct {
		Type   string     `json:"type"`
		Header *metaTitle `json:"header,omitempty"`
		Body   metaTitle  `json:"body"`
		Footer *metaTitle `json:"footer,omitempty"`
		Action metaAction `json:"action"`
	}
	metaTitle struct {
		Type string `json:"type,omitempty"`
		Text string `json:"text"`
	}
	metaAction struct {
		Button   string        `json:"button,omitempty"`
		Buttons  []metaButton  `json:"buttons,omitempty"`
		Sections []metaSection `json:"sections,omitempty"`
	}
	metaButton struct {
		Type  string    `json:"type"`
		Reply metaReply `json:"reply"`
	}
	metaReply struct {
		ID    string `json:"id"`
		Title string `json:"title"`
	}
	metaSection struct {
		Title string       `json:"title,omitempty"`
		Rows  []metaRowOut `json:"rows"`
	}
	metaRowOut struct {
		ID          string `json:"id"`
		Title       string `json:"title"`
		Description string `json:"description,omitempty"`
	}
)

// Send posts content to /{numberID}/messages.
func (s *MetaService) Send(ctx context.Context, key string, content models.Content) error {
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

	msg, err := s.buildMessage(ctx, to, content)
	if err != nil {
		return err
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	resp, err := s.do(ctx, s.MediaBaseURL()+"/"+s.cfg.NumberID+"/messages", "application/json", bytes.NewReader(body))
	if err != nil {
		slog.Error("MetaService.Send failed", "to", to, "kind", content.Kind, "error", err)
		return err
	}
	slog.Debug("MetaService.Send succeeded", "to", to, "kind", content.Kind, "id", resp.Get("messages.0.id").String())
	return nil
}

func (s *MetaService) buildMessage(ctx context.Context, to string, c models.Content) (*metaMessage, error) {
	msg := &metaMessage{MessagingProduct: "whatsapp", RecipientType: "individual", To: to}
	switch c.Kind {
	case models.ContentText:
		msg.Type = "text"
		msg.Text = &metaText{Body: c.Text}
	case models.ContentMedia:
		msg.Type = "image"
		caption := c.Media.Caption
		if caption == "" {
			caption = c.Text
		}
		msg.Image = &metaMedia{Link: c.Media.URL, Caption: caption}
		if c.Media.URL == "" {
			id, err := s.uploadMedia(ctx, c.Media)
			if err != nil {
				return nil, err
			}
			msg.Image = &metaMedia{ID: id, Caption: caption}
		}
	case models.ContentButtons:
		msg.Type = "interactive"
		it := &metaInteractive{Type: "button", Body: metaTitle{Text: c.Text}}
		for _, b := range c.Buttons {
			id := b.ID
			if id == "" {
				id = b.Title
			}
			it.Action.Buttons = append(it.Action.Buttons, metaButton{Type: "reply", Reply: metaReply{ID: id, Title: b.Title}})
		}
		msg.Interactive = it
	case models.ContentList:
		msg.Type = "interactive"
		it := &metaInteractive{Type: "list", Body: metaTitle{Text: c.Text}, Action: metaAction{Button: c.List.ButtonLabel}}
		if c.List.Header != "" {
			it.Header = &metaTitle{Type: "text", Text: c.List.Header}
		}
		if c.List.Footer != "" {
			it.Footer = &metaTitle{Text: c.List.Footer}
		}
		for _, sec := range c.List.Sections {
			out := metaSection{Title: sec.Title}
			for _, r := range sec.Rows {
				out.Rows = append(out.Rows, metaRowOut(r))
			}
			it.Action.Sections = append(it.Action.Sections, out)
		}
		msg.Interactive = it
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedContent, c.Kind)
	}
	return msg, nil
}

// uploadMedia posts a local file to /{numberID}/media and returns its media id.
func (s *MetaService) uploadMedia(ctx context.Context, m *models.Media) (string, error) {
	data, mimeType, err := loadMedia(ctx, s.client, m)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	_ = w.WriteField("messaging_product", "whatsapp")
	_ = w.WriteField("type", mimeType)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="upload"`)
	h.Set("Content-Type", mimeType)
	part, err := w.CreatePart(h)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(data); err != nil {
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}

	resp, err := s.do(ctx, s.MediaBaseURL()+"/"+s.cfg.NumberID+"/media", w.FormDataContentType(), &buf)
	if err != nil {
		return "", err
	}
	id := resp.Get("id").String()
	if id == "" {
		return "", fmt.Errorf("%w: media upload returned no id", ErrMetaRequest)
	}
	return id, nil
}

func (s *MetaService) do(ctx context.Context, url, contentType string, body io.Reader) (gjson.Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return gjson.Result{}, err
	}
	req.Header.Set("Authorization", "Bearer "+s.cfg.Token)
	req.Header.Set("Content-Type", contentType)

	resp, err := s.client.Do(req)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("%w: %v", ErrMetaRequest, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxWebhookBytes))
	if err != nil {
		return gjson.Result{}, fmt.Errorf("%w: %v", ErrMetaRequest, err)
	}
	doc := gjson.ParseBytes(raw)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return doc, fmt.Errorf("%w: status %d: %s", ErrMetaRequest, resp.StatusCode, doc.Get("error.message").String())
	}
	return doc, nil
}

// VerifyHandler answers the webhook subscription handshake.
func (s *MetaService) VerifyHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("hub.mode") != "subscribe" || s.cfg.VerifyToken == "" || q.Get("hub.verify_token") != s.cfg.VerifyToken {
		slog.Warn("MetaService webhook verification rejected", "mode", q.Get("hub.mode"))
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}
	slog.Info("MetaService webhook verified")
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, q.Get("hub.challenge"))
}

// WebhookHandler receives message notifications. Anything readable is
// acknowledged with 200 so Meta does not redeliver it.
func (s *MetaService) WebhookHandler(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBytes))
	if err != nil {
		slog.Error("MetaService failed to read webhook body", "error", err)
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	evs, err := inbound.FromMeta(body, s.MediaBaseURL())
	if err != nil {
		slog.Warn("MetaService dropping webhook", "error", err)
	}
	for _, ev := range evs {
		s.stream.emit(ev)
	}
	w.WriteHeader(http.StatusOK)
}
