// Package models defines the core data structures for DialogPipe.
//
// It includes inbound events, outbound content, and API response envelopes shared across modules.
package models

import (
	"errors"
	"fmt"
	"time"
)

// EventKind classifies a normalized inbound event.
type EventKind string

const (
	// EventText is a free-text message.
	EventText EventKind = "text"
	// EventMedia carries an attachment (image, document).
	EventMedia EventKind = "media"
	// EventButtonReply is a tap on a reply button or list row.
	EventButtonReply EventKind = "buttonReply"
	// EventStart signals that the remote user opened the conversation.
	EventStart EventKind = "start"
	// EventAction is raised internally for out-of-band starts and named custom events.
	EventAction EventKind = "action"
)

// ContentKind classifies outbound content.
type ContentKind string

const (
	ContentText    ContentKind = "text"
	ContentMedia   ContentKind = "media"
	ContentButtons ContentKind = "buttons"
	ContentList    ContentKind = "list"
)

// Validation constants for outbound content
const (
	// MaxBodyLength is the longest text body accepted by the WhatsApp providers
	MaxBodyLength = 4096
	// MaxButtons is the WhatsApp limit on reply buttons per message
	MaxButtons = 3
	// MaxButtonTitleLength is the WhatsApp limit on a reply button title
	MaxButtonTitleLength = 20
	// MaxListRows is the WhatsApp limit on rows across all sections of a list
	MaxListRows = 10
)

var (
	ErrEmptyKey          = errors.New("conversation key cannot be empty")
	ErrInvalidEventKind  = errors.New("invalid event kind")
	ErrEmptyBody         = errors.New("body cannot be empty")
	ErrBodyTooLong       = errors.New("body exceeds maximum length")
	ErrMissingMedia      = errors.New("media content requires a URL or path")
	ErrMissingAttachment = errors.New("media event requires an attachment")
	ErrTooManyButtons    = errors.New("too many buttons")
	ErrButtonTitleLength = errors.New("button title is empty or too long")
	ErrEmptyList         = errors.New("list must contain at least one row")
	ErrTooManyListRows   = errors.New("too many list rows")
	ErrInvalidContent    = errors.New("invalid content kind")
)

// Attachment is the media part of an inbound event. Data is set when the
// transport already downloaded the payload (whatsmeow decrypts media in-process).
type Attachment struct {
	URL      string `json:"url,omitempty"`
	MIMEType string `json:"mime_type,omitempty"`
	Caption  string `json:"caption,omitempty"`
	Data     []byte `json:"-"`
}

// Event is a transport-neutral inbound message.
type Event struct {
	ID         string      `json:"id,omitempty"`
	Key        string      `json:"key"`
	Kind       EventKind   `json:"kind"`
	Body       string      `json:"body,omitempty"`
	Name       string      `json:"name,omitempty"` // custom event name for EventAction
	Attachment *Attachment `json:"attachment,omitempty"`
	PushName   string      `json:"push_name,omitempty"`
	Channel    string      `json:"channel,omitempty"`
	ReceivedAt time.Time   `json:"received_at"`
}

// Validate checks that the event is well formed.
func (e Event) Validate() error {
	if e.Key == "" {
		return ErrEmptyKey
	}
	switch e.Kind {
	case EventText, EventButtonReply:
		if e.Body == "" {
			return ErrEmptyBody
		}
	case EventMedia:
		if e.Attachment == nil || (e.Attachment.URL == "" && len(e.Attachment.Data) == 0) {
			return ErrMissingAttachment
		}
	case EventStart, EventAction:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidEventKind, e.Kind)
	}
	return nil
}

// IsTextual reports whether keyword triggers and text captures apply to the event.
func (e Event) IsTextual() bool {
	return e.Kind == EventText || e.Kind == EventButtonReply
}

// Media describes an outbound image or document. Path points at a local file.
type Media struct {
	URL      string `json:"url,omitempty"`
	Path     string `json:"path,omitempty"`
	MIMEType string `json:"mime_type,omitempty"`
	Caption  string `json:"caption,omitempty"`
}

// Button is a reply button. Title doubles as the reply body when ID is empty.
type Button struct {
	ID    string `json:"id,omitempty"`
	Title string `json:"title"`
}

// ListRow is a selectable row; its ID comes back as the reply body.
type ListRow struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// ListSection groups rows under a heading.
type ListSection struct {
	Title string    `json:"title"`
	Rows  []ListRow `json:"rows"`
}

// List is an interactive list message.
type List struct {
	Header      string        `json:"header,omitempty"`
	Footer      string        `json:"footer,omitempty"`
	ButtonLabel string        `json:"button_label"`
	Sections    []ListSection `json:"sections"`
}

// Content is an outbound message handed to a delivery gateway. Buttons and
// lists are forwarded as-is; gateways without native support render them as text.
type Content struct {
	Kind    ContentKind   `json:"kind"`
	Text    string        `json:"text,omitempty"`
	Media   *Media        `json:"media,omitempty"`
	Buttons []Button      `json:"buttons,omitempty"`
	List    *List         `json:"list,omitempty"`
	Delay   time.Duration `json:"delay,omitempty"`
}

// NewText returns plain text content.
func NewText(text string) Content {
	return Content{Kind: ContentText, Text: text}
}

// NewMedia returns media content fetched by the provider from url.
func NewMedia(url, caption string) Content {
	return Content{Kind: ContentMedia, Media: &Media{URL: url, Caption: caption}}
}

// NewButtons returns a body with reply buttons titled by titles.
func NewButtons(body string, titles ...string) Content {
	buttons := make([]Button, 0, len(titles))
	for _, t := range titles {
		buttons = append(buttons, Button{Title: t})
	}
	return Content{Kind: ContentButtons, Text: body, Buttons: buttons}
}

// NewList returns an interactive list.
func NewList(body, buttonLabel string, sections ...ListSection) Content {
	return Content{Kind: ContentList, Text: body, List: &List{ButtonLabel: buttonLabel, Sections: sections}}
}

// WithDelay sets a pause observed by the gateway before sending.
func (c Content) WithDelay(d time.Duration) Content {
	c.Delay = d
	return c
}

// Rows returns every row of a list in display order.
func (l *List) Rows() []ListRow {
	if l == nil {
		return nil
	}
	var rows []ListRow
	for _, s := range l.Sections {
		rows = append(rows, s.Rows...)
	}
	return rows
}

// Validate checks content against the provider limits.
func (c Content) Validate() error {
	if len(c.Text) > MaxBodyLength {
		return ErrBodyTooLong
	}
	switch c.Kind {
	case ContentText:
		if c.Text == "" {
			return ErrEmptyBody
		}
	case ContentMedia:
		if c.Media == nil || (c.Media.URL == "" && c.Media.Path == "") {
			return ErrMissingMedia
		}
	case ContentButtons:
		if c.Text == "" {
			return ErrEmptyBody
		}
		if len(c.Buttons) == 0 || len(c.Buttons) > MaxButtons {
			return fmt.Errorf("%w: %d (max %d)", ErrTooManyButtons, len(c.Buttons), MaxButtons)
		}
		for _, b := range c.Buttons {
			if b.Title == "" || len([]rune(b.Title)) > MaxButtonTitleLength {
				return fmt.Errorf("%w: %q", ErrButtonTitleLength, b.Title)
			}
		}
	case ContentList:
		if c.Text == "" {
			return ErrEmptyBody
		}
		rows := c.List.Rows()
		if len(rows) == 0 {
			return ErrEmptyList
		}
		if len(rows) > MaxListRows {
			return fmt.Errorf("%w: %d (max %d)", ErrTooManyListRows, len(rows), MaxListRows)
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidContent, c.Kind)
	}
	return nil
}

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Result  interface{} `json:"result,omitempty"`
}

// APIResponseBuilder provides a fluent interface for building API responses.
type APIResponseBuilder struct {
	response APIResponse
}

// NewAPIResponseBuilder creates a new APIResponseBuilder instance.
func NewAPIResponseBuilder() *APIResponseBuilder {
	return &APIResponseBuilder{}
}

// WithStatus sets the status of the API response.
func (b *APIResponseBuilder) WithStatus(status APIStatus) *APIResponseBuilder {
	b.response.Status = string(status)
	return b
}

// WithMessage sets the message of the API response.
func (b *APIResponseBuilder) WithMessage(message string) *APIResponseBuilder {
	b.response.Message = message
	return b
}

// WithResult sets the result data of the API response.
func (b *APIResponseBuilder) WithResult(result interface{}) *APIResponseBuilder {
	b.response.Result = result
	return b
}

// Build constructs and returns the final APIResponse.
func (b *APIResponseBuilder) Build() APIResponse {
	return b.response
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return NewAPIResponseBuilder().WithStatus(APIStatusOK).WithResult(result).Build()
}

// SuccessWithMessage creates a successful API response with a message and optional result data.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return NewAPIResponseBuilder().WithStatus(APIStatusOK).WithMessage(message).WithResult(result).Build()
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return NewAPIResponseBuilder().WithStatus(APIStatusError).WithMessage(message).Build()
}
