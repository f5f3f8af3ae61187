package flow

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/DialogPipe/internal/models"
)

// MatchReason explains how Resolve picked a flow.
type MatchReason string

const (
	MatchCapture  MatchReason = "capture"
	MatchKeyword  MatchReason = "keyword"
	MatchEvent    MatchReason = "event"
	MatchCustom   MatchReason = "custom"
	MatchExplicit MatchReason = "explicit"
)

// Resolution is the flow and step an event is routed to.
type Resolution struct {
	Flow   *Flow
	Step   int
	Resume bool // the session was awaiting a capture at Step
	Reason MatchReason
}

// GraphOption configures a Builder.
type GraphOption func(*graphOpts)

type graphOpts struct {
	caseInsensitive bool
}

// WithCaseInsensitiveKeywords matches keyword triggers ignoring case.
func WithCaseInsensitiveKeywords() GraphOption {
	return func(o *graphOpts) {
		o.caseInsensitive = true
	}
}

// Builder collects flows before freezing them into a Graph.
type Builder struct {
	opts  graphOpts
	flows map[string]*Flow
	order []string
}

// NewBuilder creates an empty Builder.
func NewBuilder(opts ...GraphOption) *Builder {
	b := &Builder{flows: make(map[string]*Flow)}
	for _, opt := range opts {
		opt(&b.opts)
	}
	return b
}

// Register adds a flow. Ids must be unique.
func (b *Builder) Register(f Flow) error {
	if f.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidFlow)
	}
	if len(f.Steps) == 0 {
		return fmt.Errorf("%w: flow %q has no steps", ErrInvalidFlow, f.ID)
	}
	if _, exists := b.flows[f.ID]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateFlowID, f.ID)
	}
	flow := f
	b.flows[f.ID] = &flow
	b.order = append(b.order, f.ID)
	return nil
}

// RegisterAll registers flows in order, stopping at the first error.
func (b *Builder) RegisterAll(flows ...Flow) error {
	for _, f := range flows {
		if err := b.Register(f); err != nil {
			return err
		}
	}
	return nil
}

// Build validates cross references and returns an immutable Graph.
func (b *Builder) Build() (*Graph, error) {
	g := &Graph{
		flows:           make(map[string]*Flow, len(b.flows)),
		order:           append([]string(nil), b.order...),
		keywords:        make(map[string][]string),
		events:          make(map[models.EventKind][]string),
		custom:          make(map[string][]string),
		caseInsensitive: b.opts.caseInsensitive,
	}

	for _, id := range b.order {
		f := b.flows[id]
		for _, next := range f.Next {
			if _, ok := b.flows[next]; !ok {
				return nil, fmt.Errorf("%w: flow %q declares successor %q", ErrUnknownFlow, id, next)
			}
		}
		for _, t := range f.Triggers {
			for _, kw := range t.Keywords {
				key := g.normalize(kw)
				if key == "" {
					return nil, fmt.Errorf("%w: flow %q has an empty keyword", ErrInvalidFlow, id)
				}
				if prev := g.keywords[key]; len(prev) > 0 && !f.Nested {
					slog.Warn("Graph.Build: keyword shared by several flows, first registered wins", "keyword", kw, "flow", id, "first", prev[0])
				}
				g.keywords[key] = append(g.keywords[key], id)
			}
			switch t.Event {
			case "":
			case models.EventMedia, models.EventStart:
				g.events[t.Event] = append(g.events[t.Event], id)
			default:
				return nil, fmt.Errorf("%w: flow %q cannot trigger on %q events", ErrInvalidFlow, id, t.Event)
			}
			if t.Name != "" {
				g.custom[t.Name] = append(g.custom[t.Name], id)
			}
		}
		g.flows[id] = f
	}

	slog.Debug("Graph.Build: graph ready", "flows", len(g.flows), "keywords", len(g.keywords))
	return g, nil
}

// Graph is the immutable set of flows plus trigger indexes. Safe for concurrent reads.
type Graph struct {
	flows           map[string]*Flow
	order           []string
	keywords        map[string][]string
	events          map[models.EventKind][]string
	custom          map[string][]string
	caseInsensitive bool
}

// Flow returns a registered flow.
func (g *Graph) Flow(id string) (*Flow, bool) {
	f, ok := g.flows[id]
	return f, ok
}

// Flows returns all flows in registration order.
func (g *Graph) Flows() []*Flow {
	out := make([]*Flow, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.flows[id])
	}
	return out
}

// Resolve picks the flow and step for ev. An awaiting capture beats keyword
// triggers, keywords beat event-type triggers, and anything else is
// ErrNoMatchingFlow. Action events skip the capture check: they are
// out-of-band and interrupt whatever the session was waiting for.
func (g *Graph) Resolve(ev models.Event, sess *models.Session) (Resolution, error) {
	if ev.Kind != models.EventAction && sess != nil && sess.Cursor.Awaiting {
		if f, ok := g.flows[sess.Cursor.FlowID]; ok && sess.Cursor.Step < len(f.Steps) {
			return Resolution{Flow: f, Step: sess.Cursor.Step, Resume: true, Reason: MatchCapture}, nil
		}
		slog.Warn("Graph.Resolve: session cursor points at a missing step, ignoring", "key", sess.Key, "flow", sess.Cursor.FlowID, "step", sess.Cursor.Step)
	}

	switch ev.Kind {
	case models.EventText, models.EventButtonReply:
		for _, id := range g.keywords[g.normalize(ev.Body)] {
			f := g.flows[id]
			if f.Nested && !g.inScope(id, sess) {
				continue
			}
			return Resolution{Flow: f, Reason: MatchKeyword}, nil
		}
	case models.EventMedia, models.EventStart:
		if ids := g.events[ev.Kind]; len(ids) > 0 {
			return Resolution{Flow: g.flows[ids[0]], Reason: MatchEvent}, nil
		}
	case models.EventAction:
		if ids := g.custom[ev.Name]; len(ids) > 0 {
			return Resolution{Flow: g.flows[ids[0]], Reason: MatchCustom}, nil
		}
		if f, ok := g.flows[ev.Name]; ok {
			return Resolution{Flow: f, Reason: MatchExplicit}, nil
		}
	}
	return Resolution{}, fmt.Errorf("%w: %s event %q", ErrNoMatchingFlow, ev.Kind, ev.Body+ev.Name)
}

// inScope reports whether a nested flow is reachable from the session's
// current or most recently finished flow.
func (g *Graph) inScope(id string, sess *models.Session) bool {
	if sess == nil {
		return false
	}
	for _, parent := range []string{sess.Cursor.FlowID, sess.LastFlowID} {
		if f, ok := g.flows[parent]; ok && f.CanGoto(id) {
			return true
		}
	}
	return false
}

func (g *Graph) normalize(s string) string {
	s = strings.TrimSpace(s)
	if g.caseInsensitive {
		s = strings.ToLower(s)
	}
	return s
}
