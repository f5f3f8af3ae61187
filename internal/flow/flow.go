// Package flow defines dialogue flows, the graph that routes inbound events to
// them, and the executor that runs a single step.
package flow

import (
	"context"
	"regexp"
	"slices"
	"strings"

	"github.com/BTreeMap/DialogPipe/internal/models"
)

// Handler runs step logic. It may read and write session variables through the
// StepContext, call adapters, and returns the outcome that drives the next transition.
type Handler func(ctx context.Context, sc *StepContext) (Outcome, error)

// CaptureKind is the kind of reply a step waits for.
type CaptureKind int

const (
	// CaptureText accepts text and button replies.
	CaptureText CaptureKind = iota
	// CaptureMedia accepts attachments.
	CaptureMedia
)

func (k CaptureKind) String() string {
	if k == CaptureMedia {
		return "media"
	}
	return "text"
}

// Capture is the contract a step places on the next inbound event.
type Capture struct {
	Kind CaptureKind
	// Pattern, when set, must match the trimmed body of a text reply.
	Pattern *regexp.Regexp
	// Var receives the trimmed body (text) or attachment URL (media) before the handler runs.
	Var string
	// MismatchMessage is sent back when the reply does not satisfy the contract.
	MismatchMessage string
	// OnMismatch replaces the synthesized fallback; its outcome is final.
	OnMismatch Handler
}

// Matches reports whether ev satisfies the contract.
func (c *Capture) Matches(ev models.Event) bool {
	switch c.Kind {
	case CaptureMedia:
		return ev.Kind == models.EventMedia && ev.Attachment != nil
	default:
		if !ev.IsTextual() {
			return false
		}
		if c.Pattern == nil {
			return strings.TrimSpace(ev.Body) != ""
		}
		return c.Pattern.MatchString(strings.TrimSpace(ev.Body))
	}
}

// value extracts what Var receives from a matching event.
func (c *Capture) value(ev models.Event) string {
	if c.Kind == CaptureMedia {
		return ev.Attachment.URL
	}
	return strings.TrimSpace(ev.Body)
}

// Step is one unit of a flow: an optional prompt, an optional capture
// contract, and an optional handler. A step without a capture runs as soon as
// it is reached.
type Step struct {
	Name    string
	Prompt  *models.Content
	Capture *Capture
	Handler Handler
}

// Say returns a step that only delivers content.
func Say(content models.Content) Step {
	return Step{Prompt: &content}
}

// Ask returns a step that delivers content and waits for a reply matching capture.
func Ask(content models.Content, capture Capture, handler Handler) Step {
	return Step{Prompt: &content, Capture: &capture, Handler: handler}
}

// Do returns a step that runs handler without sending a prompt.
func Do(name string, handler Handler) Step {
	return Step{Name: name, Handler: handler}
}

// Trigger is one way of entering a flow from idle.
type Trigger struct {
	Keywords []string
	Event    models.EventKind // media or start
	Name     string           // named custom event
}

// Keywords triggers on an exact text or button reply.
func Keywords(words ...string) Trigger {
	return Trigger{Keywords: words}
}

// OnEvent triggers on an event kind without a keyword (media, start).
func OnEvent(kind models.EventKind) Trigger {
	return Trigger{Event: kind}
}

// OnCustomEvent triggers when a named event is dispatched out of band.
func OnCustomEvent(name string) Trigger {
	return Trigger{Name: name}
}

// Flow is a named, ordered sequence of steps. A flow with no triggers can only
// be entered by Goto or an explicit start.
type Flow struct {
	ID       string
	Triggers []Trigger
	Steps    []Step
	// Next lists the flows this flow may hand off to, by Goto or as nested keyword flows.
	Next []string
	// Nested flows match their keywords only right after a flow that lists them in Next.
	Nested bool
}

// CanGoto reports whether target is a declared successor.
func (f *Flow) CanGoto(target string) bool {
	return slices.Contains(f.Next, target)
}
