// Package dispatcher drives conversations through a flow graph. It owns every
// transition: handlers only return outcomes.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/DialogPipe/internal/flow"
	"github.com/BTreeMap/DialogPipe/internal/messaging"
	"github.com/BTreeMap/DialogPipe/internal/models"
	"github.com/BTreeMap/DialogPipe/internal/store"
)

const (
	// DefaultMaxFallbacks is how many consecutive fallbacks a step tolerates before escalating.
	DefaultMaxFallbacks = 3
	// DefaultMaxTransitions caps Goto hops while handling one event.
	DefaultMaxTransitions = 16
	// DefaultApologyMessage is sent when a step fails without choosing an outcome.
	DefaultApologyMessage = "Lo sentimos, ocurrió un error al procesar tu solicitud. 😔 Por favor, inténtalo nuevamente más tarde."
	// DefaultEscalationMessage is sent when the fallback cap is reached.
	DefaultEscalationMessage = "No logramos entender tu respuesta. 🙏 Un asesor se comunicará contigo a la brevedad."
)

var (
	ErrTooManyTransitions = errors.New("too many transitions")
	ErrSuppressed         = errors.New("conversation is blacklisted")
	ErrDuplicateEvent     = errors.New("duplicate event")
	ErrStopped            = errors.New("dispatcher stopped")
)

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLocker adds a cross-process lock around each event.
func WithLocker(locker store.DistributedLocker) Option {
	return func(d *Dispatcher) {
		d.locker = locker
	}
}

// WithLockTTL sets the distributed lock expiry.
func WithLockTTL(ttl time.Duration) Option {
	return func(d *Dispatcher) {
		d.lockTTL = ttl
	}
}

// WithDedup drops events whose id was already recorded.
func WithDedup(repo store.DedupRepo) Option {
	return func(d *Dispatcher) {
		d.dedup = repo
	}
}

// WithBlacklist shares a suppression list with the caller.
func WithBlacklist(b *Blacklist) Option {
	return func(d *Dispatcher) {
		d.blacklist = b
	}
}

// WithMetrics records events and outcomes.
func WithMetrics(m *Metrics) Option {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// WithDefaultFlow routes unmatched events on idle sessions to flowID.
func WithDefaultFlow(flowID string) Option {
	return func(d *Dispatcher) {
		d.defaultFlow = flowID
	}
}

// WithMaxFallbacks sets the fallback cap. Zero or less disables it.
func WithMaxFallbacks(n int) Option {
	return func(d *Dispatcher) {
		d.maxFallbacks = n
	}
}

// WithEscalation sets the message sent when the fallback cap is reached and,
// if flowID is non-empty, the flow started afterwards.
func WithEscalation(message, flowID string) Option {
	return func(d *Dispatcher) {
		if message != "" {
			d.escalationMessage = message
		}
		d.escalationFlow = flowID
	}
}

// WithMaxTransitions caps Goto hops per event.
func WithMaxTransitions(n int) Option {
	return func(d *Dispatcher) {
		d.maxTransitions = n
	}
}

// WithApologyMessage replaces the message sent on step failures.
func WithApologyMessage(message string) Option {
	return func(d *Dispatcher) {
		d.apologyMessage = message
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		d.now = now
	}
}

// Dispatcher routes events to flows and applies step outcomes. One event per
// conversation key is processed at a time; distinct keys run concurrently.
type Dispatcher struct {
	graph    *flow.Graph
	sessions store.SessionStore
	gateway  messaging.Gateway
	exec     *flow.Executor

	locker    store.DistributedLocker
	lockTTL   time.Duration
	dedup     store.DedupRepo
	blacklist *Blacklist
	metrics   *Metrics

	defaultFlow       string
	maxFallbacks      int
	maxTransitions    int
	escalationMessage string
	escalationFlow    string
	apologyMessage    string
	now               func() time.Time

	locks   *keyLocks
	mail    *mailboxes
	baseCtx context.Context
}

// New creates a Dispatcher. It fails if a configured default or escalation
// flow is missing from graph.
func New(graph *flow.Graph, sessions store.SessionStore, gateway messaging.Gateway, opts ...Option) (*Dispatcher, error) {
	d := &Dispatcher{
		graph:             graph,
		sessions:          sessions,
		gateway:           gateway,
		exec:              flow.NewExecutor(gateway),
		lockTTL:           DefaultLockTTL,
		maxFallbacks:      DefaultMaxFallbacks,
		maxTransitions:    DefaultMaxTransitions,
		escalationMessage: DefaultEscalationMessage,
		apologyMessage:    DefaultApologyMessage,
		now:               time.Now,
		locks:             newKeyLocks(),
		mail:              newMailboxes(),
		baseCtx:           context.Background(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.blacklist == nil {
		d.blacklist = NewBlacklist()
	}
	for _, id := range []string{d.defaultFlow, d.escalationFlow} {
		if id == "" {
			continue
		}
		if _, ok := graph.Flow(id); !ok {
			return nil, fmt.Errorf("%w: %q", flow.ErrUnknownFlow, id)
		}
	}
	return d, nil
}

// Graph returns the flow graph the dispatcher runs.
func (d *Dispatcher) Graph() *flow.Graph {
	return d.graph
}

// Blacklist returns the suppression list.
func (d *Dispatcher) Blacklist() *Blacklist {
	return d.blacklist
}

// Dispatch processes ev synchronously under the conversation lock.
func (d *Dispatcher) Dispatch(ctx context.Context, ev models.Event) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	kind := string(ev.Kind)
	if d.blacklist.Contains(ev.Key) {
		d.metrics.event(kind, resultSuppressed)
		return fmt.Errorf("%w: %s", ErrSuppressed, ev.Key)
	}
	if d.dedup != nil && ev.ID != "" {
		fresh, err := d.dedup.RecordInbound(ctx, ev.ID, ev.Key)
		if err != nil {
			slog.Warn("Dispatcher.Dispatch: dedup check failed, processing anyway", "key", ev.Key, "id", ev.ID, "error", err)
		} else if !fresh {
			d.metrics.event(kind, resultDuplicate)
			return fmt.Errorf("%w: %s", ErrDuplicateEvent, ev.ID)
		}
	}

	err := d.withLock(ctx, ev.Key, func(ctx context.Context) error {
		return d.handle(ctx, ev)
	})

	if d.dedup != nil && ev.ID != "" {
		if merr := d.dedup.MarkProcessed(ctx, ev.ID); merr != nil {
			slog.Warn("Dispatcher.Dispatch: mark processed failed", "id", ev.ID, "error", merr)
		}
	}

	switch {
	case err == nil:
		d.metrics.event(kind, resultProcessed)
	case errors.Is(err, flow.ErrNoMatchingFlow):
		d.metrics.event(kind, resultNoMatch)
	default:
		d.metrics.event(kind, resultError)
	}
	return err
}

// handle resolves and runs ev. The lock for ev.Key is held.
func (d *Dispatcher) handle(ctx context.Context, ev models.Event) error {
	sess, err := d.load(ctx, ev.Key)
	if err != nil {
		return err
	}

	res, err := d.graph.Resolve(ev, sess)
	// Only free text falls back to the default flow; stray media stays unanswered.
	if errors.Is(err, flow.ErrNoMatchingFlow) && d.defaultFlow != "" && sess.Cursor.Idle() && ev.IsTextual() {
		f, _ := d.graph.Flow(d.defaultFlow)
		res, err = flow.Resolution{Flow: f}, nil
	}
	if err != nil {
		// State stays untouched.
		return err
	}

	slog.Debug("Dispatcher.handle: event resolved", "key", ev.Key, "kind", ev.Kind, "flow", res.Flow.ID, "step", res.Step, "reason", res.Reason)
	if !res.Resume {
		sess.RetryCount = 0
	}
	return d.run(ctx, sess, ev, res.Flow, res.Step, res.Resume)
}

// StartFlow starts flowID for key out of band, replacing whatever the
// conversation was doing. Flows without triggers can be started this way.
func (d *Dispatcher) StartFlow(ctx context.Context, key, flowID string) error {
	if d.blacklist.Contains(key) {
		d.metrics.event(string(models.EventAction), resultSuppressed)
		return fmt.Errorf("%w: %s", ErrSuppressed, key)
	}
	f, ok := d.graph.Flow(flowID)
	if !ok {
		return fmt.Errorf("%w: %q", flow.ErrUnknownFlow, flowID)
	}
	ev := models.Event{Key: key, Kind: models.EventAction, Name: flowID, ReceivedAt: d.now()}
	if err := ev.Validate(); err != nil {
		return err
	}
	return d.withLock(ctx, key, func(ctx context.Context) error {
		sess, err := d.load(ctx, key)
		if err != nil {
			return err
		}
		sess.RetryCount = 0
		slog.Info("Dispatcher.StartFlow: starting flow", "key", key, "flow", flowID)
		return d.run(ctx, sess, ev, f, 0, false)
	})
}

// Trigger raises the named custom event for key. A name with no custom
// trigger is treated as a flow id.
func (d *Dispatcher) Trigger(ctx context.Context, key, name string) error {
	return d.Dispatch(ctx, models.Event{Key: key, Kind: models.EventAction, Name: name, ReceivedAt: d.now()})
}

// Send delivers content outside any flow.
func (d *Dispatcher) Send(ctx context.Context, key string, content models.Content) error {
	if err := content.Validate(); err != nil {
		return err
	}
	return d.gateway.Send(ctx, key, content)
}

// Session returns a copy of the stored session, or nil when none exists.
func (d *Dispatcher) Session(ctx context.Context, key string) (*models.Session, error) {
	sess, err := d.sessions.LoadSession(ctx, key)
	if err != nil {
		return nil, err
	}
	return sess.Clone(), nil
}

// Reset deletes the session for key, returning the conversation to idle
// with no variables.
func (d *Dispatcher) Reset(ctx context.Context, key string) error {
	return d.withLock(ctx, key, func(ctx context.Context) error {
		return d.sessions.DeleteSession(ctx, key)
	})
}

func (d *Dispatcher) load(ctx context.Context, key string) (*models.Session, error) {
	sess, err := d.sessions.LoadSession(ctx, key)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		sess = models.NewSession(key, d.now())
	}
	return sess, nil
}

func (d *Dispatcher) save(ctx context.Context, sess *models.Session) error {
	sess.UpdatedAt = d.now()
	if err := d.sessions.SaveSession(ctx, sess); err != nil {
		slog.Error("Dispatcher.save: failed to persist session", "key", sess.Key, "error", err)
		return err
	}
	return nil
}

// run executes f from step idx until the conversation waits for input or
// goes idle, then saves the session. When resume is set the step at idx
// was awaiting a capture and ev is its reply.
func (d *Dispatcher) run(ctx context.Context, sess *models.Session, ev models.Event, f *flow.Flow, idx int, resume bool) error {
	hops := 0
	for {
		if idx >= len(f.Steps) {
			d.finish(sess, f)
			return d.save(ctx, sess)
		}
		step := f.Steps[idx]
		sess.Cursor = models.Cursor{FlowID: f.ID, Step: idx}

		if !resume {
			if err := d.exec.Present(ctx, sess.Key, step); err != nil {
				return d.fail(ctx, sess, f, err)
			}
			if step.Capture != nil {
				sess.Cursor.Awaiting = true
				return d.save(ctx, sess)
			}
		}
		resume = false

		before := sess.Clone()
		start := time.Now()
		out, err := d.exec.ExecuteStep(ctx, f, idx, ev, sess)
		d.metrics.observeStep(f.ID, time.Since(start))
		if err != nil {
			if out.Kind == flow.OutcomeNone {
				sess.Variables = before.Variables
				d.metrics.outcome(f.ID, "error")
				return d.fail(ctx, sess, f, err)
			}
			slog.Error("Dispatcher.run: step failed, honoring its outcome", "key", sess.Key, "flow", f.ID, "step", idx, "outcome", out.String(), "error", err)
		}
		d.metrics.outcome(f.ID, out.Kind.String())

		switch out.Kind {
		case flow.OutcomeGoto:
			if !f.CanGoto(out.Target) {
				return d.fail(ctx, sess, f, fmt.Errorf("%w: %q -> %q", flow.ErrUndeclaredTransition, f.ID, out.Target))
			}
			hops++
			if d.maxTransitions > 0 && hops > d.maxTransitions {
				return d.fail(ctx, sess, f, fmt.Errorf("%w: %d hops from %q", ErrTooManyTransitions, hops, f.ID))
			}
			target, _ := d.graph.Flow(out.Target)
			slog.Debug("Dispatcher.run: goto", "key", sess.Key, "from", f.ID, "to", target.ID)
			f, idx = target, 0
			sess.RetryCount = 0

		case flow.OutcomeFallback:
			sess.RetryCount++
			if d.maxFallbacks > 0 && sess.RetryCount >= d.maxFallbacks {
				return d.escalate(ctx, sess, ev, f)
			}
			msg := out.Message
			if msg == nil {
				msg = step.Prompt
			}
			if msg != nil {
				if err := d.gateway.Send(ctx, sess.Key, *msg); err != nil {
					return d.fail(ctx, sess, f, flow.External("send fallback", err))
				}
			}
			sess.Cursor = models.Cursor{FlowID: f.ID, Step: idx, Awaiting: true}
			slog.Debug("Dispatcher.run: fallback", "key", sess.Key, "flow", f.ID, "step", idx, "retries", sess.RetryCount)
			return d.save(ctx, sess)

		case flow.OutcomeEnd:
			if out.Message != nil {
				if err := d.gateway.Send(ctx, sess.Key, *out.Message); err != nil {
					slog.Error("Dispatcher.run: failed to deliver closing message", "key", sess.Key, "flow", f.ID, "error", err)
				}
			}
			d.finish(sess, f)
			return d.save(ctx, sess)

		default:
			idx++
			sess.RetryCount = 0
		}
	}
}

// finish returns the session to idle after f.
func (d *Dispatcher) finish(sess *models.Session, f *flow.Flow) {
	sess.Cursor = models.Cursor{}
	sess.LastFlowID = f.ID
	sess.RetryCount = 0
}

// escalate ends f once the fallback cap is reached and starts the escalation flow, if any.
func (d *Dispatcher) escalate(ctx context.Context, sess *models.Session, ev models.Event, f *flow.Flow) error {
	slog.Warn("Dispatcher.escalate: fallback cap reached", "key", sess.Key, "flow", f.ID, "retries", sess.RetryCount)
	d.metrics.outcome(f.ID, "escalate")
	if d.escalationMessage != "" {
		if err := d.gateway.Send(ctx, sess.Key, models.NewText(d.escalationMessage)); err != nil {
			slog.Error("Dispatcher.escalate: failed to deliver escalation message", "key", sess.Key, "error", err)
		}
	}
	d.finish(sess, f)
	if d.escalationFlow == "" {
		return d.save(ctx, sess)
	}
	target, _ := d.graph.Flow(d.escalationFlow)
	return d.run(ctx, sess, ev, target, 0, false)
}

// fail apologizes, ends f, and saves the session. The cause is returned.
func (d *Dispatcher) fail(ctx context.Context, sess *models.Session, f *flow.Flow, cause error) error {
	slog.Error("Dispatcher.fail: ending conversation after step failure", "key", sess.Key, "flow", f.ID, "step", sess.Cursor.Step, "error", cause)
	if d.apologyMessage != "" {
		if err := d.gateway.Send(ctx, sess.Key, models.NewText(d.apologyMessage)); err != nil {
			slog.Error("Dispatcher.fail: failed to deliver apology", "key", sess.Key, "error", err)
		}
	}
	d.finish(sess, f)
	if err := d.save(ctx, sess); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}
