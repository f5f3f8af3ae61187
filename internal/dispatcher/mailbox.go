package dispatcher

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/BTreeMap/DialogPipe/internal/flow"
	"github.com/BTreeMap/DialogPipe/internal/inbound"
	"github.com/BTreeMap/DialogPipe/internal/models"
)

// mailboxes queues events per key. Each non-empty queue has exactly one
// drain goroutine, so a key's events run in arrival order while distinct
// keys drain concurrently.
type mailboxes struct {
	mu     sync.Mutex
	queues map[string][]models.Event
	closed bool
	wg     sync.WaitGroup
}

func newMailboxes() *mailboxes {
	return &mailboxes{queues: make(map[string][]models.Event)}
}

// push appends ev and reports whether the caller must start a drain goroutine.
func (m *mailboxes) push(ev models.Event) (start bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false, ErrStopped
	}
	queue, active := m.queues[ev.Key]
	m.queues[ev.Key] = append(queue, ev)
	if !active {
		m.wg.Add(1)
	}
	return !active, nil
}

// pop removes the head of key's queue. When the queue is empty it is
// deleted and ok is false, ending the drain goroutine.
func (m *mailboxes) pop(key string) (models.Event, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	queue := m.queues[key]
	if len(queue) == 0 {
		delete(m.queues, key)
		return models.Event{}, false
	}
	ev := queue[0]
	if len(queue) == 1 {
		m.queues[key] = queue[:0:0]
	} else {
		m.queues[key] = queue[1:]
	}
	return ev, true
}

func (m *mailboxes) close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
}

// Submit queues ev for asynchronous processing and returns immediately.
// Errors from processing are logged.
func (d *Dispatcher) Submit(ev models.Event) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	start, err := d.mail.push(ev)
	if err != nil {
		return err
	}
	if start {
		go d.drain(ev.Key)
	}
	return nil
}

func (d *Dispatcher) drain(key string) {
	defer d.mail.wg.Done()
	for {
		ev, ok := d.mail.pop(key)
		if !ok {
			return
		}
		if err := d.Dispatch(d.baseCtx, ev); err != nil {
			logDispatchError(ev, err)
		}
	}
}

// Consume submits every event from events until the channel closes or ctx
// is done, then waits for queued events to finish.
func (d *Dispatcher) Consume(ctx context.Context, events <-chan models.Event) {
	slog.Info("Dispatcher.Consume: consuming inbound events")
	defer d.Wait()
	for {
		select {
		case <-ctx.Done():
			slog.Info("Dispatcher.Consume: context done, stopping")
			return
		case ev, ok := <-events:
			if !ok {
				slog.Info("Dispatcher.Consume: event channel closed")
				return
			}
			if err := d.Submit(ev); err != nil {
				slog.Error("Dispatcher.Consume: submit failed", "key", ev.Key, "kind", ev.Kind, "error", err)
			}
		}
	}
}

// Wait blocks until every submitted event has been processed.
func (d *Dispatcher) Wait() {
	d.mail.wg.Wait()
}

// Close rejects further submissions and waits for queued events.
func (d *Dispatcher) Close() {
	d.mail.close()
	d.Wait()
}

func logDispatchError(ev models.Event, err error) {
	switch {
	case errors.Is(err, ErrDuplicateEvent), errors.Is(err, ErrSuppressed):
		slog.Debug("Dispatcher: event skipped", "key", ev.Key, "id", ev.ID, "reason", err)
	case errors.Is(err, flow.ErrNoMatchingFlow), errors.Is(err, inbound.ErrUnrecognizedPayload):
		slog.Info("Dispatcher: event dropped", "key", ev.Key, "kind", ev.Kind, "reason", err)
	default:
		slog.Error("Dispatcher: event failed", "key", ev.Key, "kind", ev.Kind, "error", err)
	}
}
