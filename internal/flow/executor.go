package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/DialogPipe/internal/models"
)

// Sender delivers content to a conversation. Implemented by messaging gateways.
type Sender interface {
	Send(ctx context.Context, key string, content models.Content) error
}

// StepContext is what a handler sees: the triggering event, the mutable
// session, and a way to send intermediate messages.
type StepContext struct {
	Event   models.Event
	Session *models.Session
	Flow    *Flow
	Step    int
	sender  Sender
}

// Key returns the conversation key.
func (sc *StepContext) Key() string {
	return sc.Session.Key
}

// Body returns the trimmed event body.
func (sc *StepContext) Body() string {
	return strings.TrimSpace(sc.Event.Body)
}

// Reply sends content to the conversation and waits for the gateway to accept it.
func (sc *StepContext) Reply(ctx context.Context, content models.Content) error {
	if err := sc.sender.Send(ctx, sc.Session.Key, content); err != nil {
		return External("send", err)
	}
	return nil
}

// Say sends a text reply.
func (sc *StepContext) Say(ctx context.Context, text string) error {
	return sc.Reply(ctx, models.NewText(text))
}

// Executor runs single steps. It holds no per-conversation state.
type Executor struct {
	sender Sender
}

// NewExecutor creates an Executor that delivers through sender.
func NewExecutor(sender Sender) *Executor {
	return &Executor{sender: sender}
}

// Present delivers the step prompt, if any.
func (e *Executor) Present(ctx context.Context, key string, step Step) error {
	if step.Prompt == nil {
		return nil
	}
	if err := e.sender.Send(ctx, key, *step.Prompt); err != nil {
		return External("send prompt", err)
	}
	return nil
}

// ExecuteStep checks the capture contract against ev and runs the step
// handler. A contract mismatch never reaches the handler: the result is
// Fallback with the mismatch message, or whatever OnMismatch decides.
// A returned error with no outcome is left for the caller's error policy,
// except validation errors, which become Fallback.
func (e *Executor) ExecuteStep(ctx context.Context, f *Flow, idx int, ev models.Event, sess *models.Session) (Outcome, error) {
	if idx < 0 || idx >= len(f.Steps) {
		return Outcome{}, fmt.Errorf("%w: flow %q has no step %d", ErrInvalidFlow, f.ID, idx)
	}
	step := f.Steps[idx]
	sc := &StepContext{Event: ev, Session: sess, Flow: f, Step: idx, sender: e.sender}

	if c := step.Capture; c != nil {
		if !c.Matches(ev) {
			slog.Debug("Executor.ExecuteStep: capture mismatch", "key", sess.Key, "flow", f.ID, "step", idx, "want", c.Kind.String(), "got", ev.Kind)
			if c.OnMismatch != nil {
				return e.invoke(ctx, c.OnMismatch, sc)
			}
			return Fallback(c.MismatchMessage), nil
		}
		if c.Var != "" {
			sess.Set(c.Var, c.value(ev))
		}
	}

	if step.Handler == nil {
		return Continue(), nil
	}
	return e.invoke(ctx, step.Handler, sc)
}

func (e *Executor) invoke(ctx context.Context, h Handler, sc *StepContext) (Outcome, error) {
	out, err := h(ctx, sc)
	if err != nil {
		var verr *ValidationError
		if out.Kind == OutcomeNone && errors.As(err, &verr) {
			return Fallback(verr.Message), nil
		}
		return out, fmt.Errorf("flow %q step %d: %w", sc.Flow.ID, sc.Step, err)
	}
	if out.Kind == OutcomeNone {
		return Continue(), nil
	}
	return out, nil
}
