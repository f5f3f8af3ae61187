package flow

import (
	"errors"
	"fmt"

	"github.com/BTreeMap/DialogPipe/internal/models"
)

// OutcomeKind selects the transition taken after a step.
type OutcomeKind int

const (
	// OutcomeNone is the zero value; it is treated as Continue when no error occurred.
	OutcomeNone OutcomeKind = iota
	OutcomeContinue
	OutcomeGoto
	OutcomeFallback
	OutcomeEnd
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeContinue:
		return "continue"
	case OutcomeGoto:
		return "goto"
	case OutcomeFallback:
		return "fallback"
	case OutcomeEnd:
		return "end"
	default:
		return "none"
	}
}

// Outcome is the value a handler returns. The dispatcher owns every transition.
type Outcome struct {
	Kind    OutcomeKind
	Target  string          // flow id for Goto
	Message *models.Content // corrective message for Fallback, closing message for End
}

// Continue advances to the next step of the current flow.
func Continue() Outcome {
	return Outcome{Kind: OutcomeContinue}
}

// Goto transfers control to the first step of flowID, keeping session variables.
func Goto(flowID string) Outcome {
	return Outcome{Kind: OutcomeGoto, Target: flowID}
}

// Fallback keeps the cursor on the current step and re-prompts with message.
// An empty message re-sends the step prompt.
func Fallback(message string) Outcome {
	o := Outcome{Kind: OutcomeFallback}
	if message != "" {
		c := models.NewText(message)
		o.Message = &c
	}
	return o
}

// FallbackContent is Fallback with non-text corrective content.
func FallbackContent(content models.Content) Outcome {
	return Outcome{Kind: OutcomeFallback, Message: &content}
}

// End returns the conversation to idle.
func End() Outcome {
	return Outcome{Kind: OutcomeEnd}
}

// EndWith returns the conversation to idle after sending message.
func EndWith(message string) Outcome {
	c := models.NewText(message)
	return Outcome{Kind: OutcomeEnd, Message: &c}
}

func (o Outcome) String() string {
	if o.Kind == OutcomeGoto {
		return "goto(" + o.Target + ")"
	}
	return o.Kind.String()
}

var (
	// ErrValidationFailure marks input that did not satisfy a step. Recovered by Fallback.
	ErrValidationFailure = errors.New("validation failure")
	// ErrExternalCall marks a failed adapter call (store, blob, lookup, delivery).
	ErrExternalCall = errors.New("external call failure")
	// ErrNoMatchingFlow means an idle session received an event no trigger accepts.
	ErrNoMatchingFlow = errors.New("no matching flow")
	// ErrDuplicateFlowID is returned when two flows share an id.
	ErrDuplicateFlowID = errors.New("duplicate flow id")
	// ErrUnknownFlow is returned for references to unregistered flows.
	ErrUnknownFlow = errors.New("unknown flow")
	// ErrInvalidFlow is returned for flows that cannot run (no id, no steps).
	ErrInvalidFlow = errors.New("invalid flow")
	// ErrUndeclaredTransition is returned when Goto targets a flow missing from Next.
	ErrUndeclaredTransition = errors.New("undeclared transition")
)

// ValidationError carries the message shown to the user when input is rejected.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return "validation failure: " + e.Message
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidationFailure
}

// Invalid returns a validation error; a handler returning it with no outcome
// gets a Fallback carrying message.
func Invalid(message string) error {
	return &ValidationError{Message: message}
}

// ExternalError wraps an adapter error with the operation that failed.
type ExternalError struct {
	Op  string
	Err error
}

func (e *ExternalError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ExternalError) Unwrap() error {
	return e.Err
}

func (e *ExternalError) Is(target error) bool {
	return target == ErrExternalCall
}

// External wraps err as an external call failure. It returns nil for a nil err.
func External(op string, err error) error {
	if err == nil {
		return nil
	}
	return &ExternalError{Op: op, Err: err}
}
