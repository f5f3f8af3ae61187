package dispatcher_test

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/BTreeMap/DialogPipe/internal/dispatcher"
	"github.com/BTreeMap/DialogPipe/internal/flow"
	"github.com/BTreeMap/DialogPipe/internal/models"
	"github.com/BTreeMap/DialogPipe/internal/records"
	"github.com/BTreeMap/DialogPipe/internal/store"
	"github.com/BTreeMap/DialogPipe/internal/testutil"
)

const key = "51987654321"

var digits = regexp.MustCompile(`^\d+$`)

func text(s string) models.Content {
	return models.NewText(s)
}

func loadSession(t *testing.T, d *dispatcher.Dispatcher, k string) *models.Session {
	t.Helper()
	sess, err := d.Session(context.Background(), k)
	if err != nil {
		t.Fatalf("load session: %v", err)
	}
	if sess == nil {
		t.Fatalf("no session stored for %s", k)
	}
	return sess
}

func dispatch(t *testing.T, d *dispatcher.Dispatcher, ev models.Event) {
	t.Helper()
	if err := d.Dispatch(context.Background(), ev); err != nil {
		t.Fatalf("dispatch %s %q: %v", ev.Kind, ev.Body, err)
	}
}

func TestCapturedVariablesAreUnionOfReplies(t *testing.T) {
	g := testutil.BuildGraph(t, flow.Flow{
		ID:       "form",
		Triggers: []flow.Trigger{flow.Keywords("form")},
		Steps: []flow.Step{
			flow.Ask(text("¿Nombre?"), flow.Capture{Var: "name"}, nil),
			flow.Ask(text("¿DNI?"), flow.Capture{Var: "dni", Pattern: digits}, nil),
			flow.Ask(text("¿Nombre completo?"), flow.Capture{Var: "name"}, nil),
			flow.Say(text("Listo")),
		},
	})
	d, gw, _ := testutil.NewTestDispatcher(t, g)

	for _, body := range []string{"form", "Ana", "12345678", "Ana María"} {
		dispatch(t, d, testutil.TextEvent(key, body))
	}

	sess := loadSession(t, d, key)
	want := map[string]string{"name": "Ana María", "dni": "12345678"}
	if len(sess.Variables) != len(want) {
		t.Errorf("expected %d variables, got %v", len(want), sess.Variables)
	}
	for k, v := range want {
		if got := sess.GetString(k); got != v {
			t.Errorf("variable %s: expected %q, got %q", k, v, got)
		}
	}
	if !sess.Cursor.Idle() || sess.LastFlowID != "form" {
		t.Errorf("expected idle session after form, got cursor %+v last %q", sess.Cursor, sess.LastFlowID)
	}
	testutil.AssertTexts(t, gw, key, "¿Nombre?", "¿DNI?", "¿Nombre completo?", "Listo")
}

func TestMediaCaptureRejectsText(t *testing.T) {
	called := false
	g := testutil.BuildGraph(t, flow.Flow{
		ID: "photo",
		Steps: []flow.Step{
			flow.Ask(text("Envía la foto de tu DNI"),
				flow.Capture{Kind: flow.CaptureMedia, Var: "foto", MismatchMessage: "Necesitamos una imagen"},
				func(ctx context.Context, sc *flow.StepContext) (flow.Outcome, error) {
					called = true
					return flow.Continue(), nil
				}),
		},
	})
	d, gw, _ := testutil.NewTestDispatcher(t, g)
	ctx := context.Background()

	if err := d.StartFlow(ctx, key, "photo"); err != nil {
		t.Fatalf("start flow: %v", err)
	}
	before := loadSession(t, d, key).Cursor

	dispatch(t, d, testutil.TextEvent(key, "no tengo"))

	if called {
		t.Error("handler must not run for a mismatching reply")
	}
	sess := loadSession(t, d, key)
	if sess.Cursor != before {
		t.Errorf("cursor moved: before %+v after %+v", before, sess.Cursor)
	}
	if sess.RetryCount != 1 {
		t.Errorf("expected retry count 1, got %d", sess.RetryCount)
	}
	testutil.AssertTexts(t, gw, key, "Envía la foto de tu DNI", "Necesitamos una imagen")

	dispatch(t, d, testutil.MediaEvent(key, "https://cdn.example.com/dni.jpg"))
	if !called {
		t.Error("handler should run for a media reply")
	}
	if got := loadSession(t, d, key).GetString("foto"); got != "https://cdn.example.com/dni.jpg" {
		t.Errorf("unexpected captured url %q", got)
	}
}

func TestGotoKeepsVariables(t *testing.T) {
	var seen string
	g := testutil.BuildGraph(t,
		flow.Flow{
			ID:       "a",
			Triggers: []flow.Trigger{flow.Keywords("a")},
			Next:     []string{"b"},
			Steps: []flow.Step{
				flow.Ask(text("¿x?"), flow.Capture{Var: "x"}, func(ctx context.Context, sc *flow.StepContext) (flow.Outcome, error) {
					return flow.Goto("b"), nil
				}),
			},
		},
		flow.Flow{
			ID: "b",
			Steps: []flow.Step{
				flow.Do("read", func(ctx context.Context, sc *flow.StepContext) (flow.Outcome, error) {
					seen = sc.Session.GetString("x")
					return flow.EndWith("x=" + seen), nil
				}),
			},
		},
	)
	d, gw, _ := testutil.NewTestDispatcher(t, g)

	dispatch(t, d, testutil.TextEvent(key, "a"))
	dispatch(t, d, testutil.TextEvent(key, "42"))

	if seen != "42" {
		t.Errorf("flow b expected x=42, got %q", seen)
	}
	testutil.AssertTexts(t, gw, key, "¿x?", "x=42")
	sess := loadSession(t, d, key)
	if sess.LastFlowID != "b" || sess.GetString("x") != "42" {
		t.Errorf("unexpected session after goto: %+v", sess)
	}
}

func TestUndeclaredGotoIsRejected(t *testing.T) {
	g := testutil.BuildGraph(t,
		flow.Flow{
			ID:       "a",
			Triggers: []flow.Trigger{flow.Keywords("a")},
			Steps: []flow.Step{
				flow.Do("jump", func(ctx context.Context, sc *flow.StepContext) (flow.Outcome, error) {
					return flow.Goto("b"), nil
				}),
			},
		},
		flow.Flow{ID: "b", Steps: []flow.Step{flow.Say(text("b"))}},
	)
	d, gw, _ := testutil.NewTestDispatcher(t, g)

	err := d.Dispatch(context.Background(), testutil.TextEvent(key, "a"))
	if !errors.Is(err, flow.ErrUndeclaredTransition) {
		t.Fatalf("expected ErrUndeclaredTransition, got %v", err)
	}
	testutil.AssertTexts(t, gw, key, dispatcher.DefaultApologyMessage)
}

func TestSameKeyOrderedDistinctKeysConcurrent(t *testing.T) {
	release := make(chan struct{})
	var (
		mu       sync.Mutex
		order    = map[string][]string{}
		inFlight = map[string]int{}
		overlap  bool
	)
	g := testutil.BuildGraph(t, flow.Flow{
		ID: "echo",
		Steps: []flow.Step{
			flow.Do("record", func(ctx context.Context, sc *flow.StepContext) (flow.Outcome, error) {
				k := sc.Key()
				mu.Lock()
				inFlight[k]++
				if inFlight[k] > 1 {
					overlap = true
				}
				mu.Unlock()

				if sc.Body() == "block" {
					<-release
				}

				mu.Lock()
				order[k] = append(order[k], sc.Body())
				inFlight[k]--
				mu.Unlock()
				return flow.End(), nil
			}),
		},
	})
	d, _, _ := testutil.NewTestDispatcher(t, g, dispatcher.WithDefaultFlow("echo"))
	var once sync.Once
	unblock := func() { once.Do(func() { close(release) }) }
	t.Cleanup(unblock)

	for _, ev := range []models.Event{
		testutil.TextEvent("slow", "block"),
		testutil.TextEvent("slow", "second"),
		testutil.TextEvent("slow", "third"),
		testutil.TextEvent("fast", "x"),
	} {
		if err := d.Submit(ev); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}

	testutil.Eventually(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order["fast"]) == 1
	}, "fast key should finish while slow key is blocked")

	mu.Lock()
	if n := len(order["slow"]); n != 0 {
		t.Errorf("slow key must still be blocked, processed %d", n)
	}
	mu.Unlock()

	unblock()
	d.Wait()

	mu.Lock()
	defer mu.Unlock()
	if overlap {
		t.Error("handlers for the same key overlapped")
	}
	want := []string{"block", "second", "third"}
	if len(order["slow"]) != len(want) {
		t.Fatalf("expected %v, got %v", want, order["slow"])
	}
	for i := range want {
		if order["slow"][i] != want[i] {
			t.Errorf("position %d: expected %q, got %q", i, want[i], order["slow"][i])
		}
	}
}

func TestDuplicateRegistrationRoutesToKnownBranch(t *testing.T) {
	recs := records.NewMemoryStore()
	ctx := context.Background()
	if _, err := recs.Save(ctx, "apoderado", records.Fields{"telefono": key, "nombres": "Rosa"}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	registrations := 0
	g := testutil.BuildGraph(t,
		flow.Flow{
			ID:       "check",
			Triggers: []flow.Trigger{flow.Keywords("Si")},
			Next:     []string{"known", "register"},
			Steps: []flow.Step{
				flow.Do("lookup", func(ctx context.Context, sc *flow.StepContext) (flow.Outcome, error) {
					rec, err := recs.FindOne(ctx, "apoderado", records.Fields{"telefono": sc.Key()})
					if err != nil {
						return flow.Outcome{}, flow.External("find apoderado", err)
					}
					if rec != nil {
						sc.Session.Set("apoderado", rec.String("nombres"))
						return flow.Goto("known"), nil
					}
					return flow.Goto("register"), nil
				}),
			},
		},
		flow.Flow{ID: "known", Steps: []flow.Step{
			flow.Do("ack", func(ctx context.Context, sc *flow.StepContext) (flow.Outcome, error) {
				return flow.EndWith("Ya estás registrado, " + sc.Session.GetString("apoderado")), nil
			}),
		}},
		flow.Flow{ID: "register", Steps: []flow.Step{
			flow.Do("count", func(ctx context.Context, sc *flow.StepContext) (flow.Outcome, error) {
				registrations++
				return flow.Continue(), nil
			}),
			flow.Ask(text("¿DNI?"), flow.Capture{Var: "dni"}, nil),
		}},
	)
	d, gw, _ := testutil.NewTestDispatcher(t, g)

	dispatch(t, d, testutil.TextEvent(key, "Si"))

	if registrations != 0 {
		t.Errorf("registration flow ran %d times for a known guardian", registrations)
	}
	testutil.AssertTexts(t, gw, key, "Ya estás registrado, Rosa")

	gw.Reset()
	dispatch(t, d, testutil.TextEvent("51900000000", "Si"))
	if registrations != 1 {
		t.Errorf("expected registration for a new number, got %d", registrations)
	}
	testutil.AssertTexts(t, gw, "51900000000", "¿DNI?")
}

func TestDuplicateEventIsDropped(t *testing.T) {
	g := testutil.BuildGraph(t, flow.Flow{
		ID:       "hello",
		Triggers: []flow.Trigger{flow.Keywords("hola")},
		Steps:    []flow.Step{flow.Say(text("¡Hola!"))},
	})
	st := store.NewInMemoryStore()
	gw := &testutil.RecordingGateway{}
	d, err := dispatcher.New(g, st, gw, dispatcher.WithDedup(st))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer d.Close()

	ev := testutil.TextEvent(key, "hola")
	ev.ID = "wamid.1"
	dispatch(t, d, ev)
	if err := d.Dispatch(context.Background(), ev); !errors.Is(err, dispatcher.ErrDuplicateEvent) {
		t.Fatalf("expected ErrDuplicateEvent, got %v", err)
	}
	testutil.AssertTexts(t, gw, key, "¡Hola!")
}

func TestFallbackCapEscalates(t *testing.T) {
	g := testutil.BuildGraph(t,
		flow.Flow{
			ID:       "dni",
			Triggers: []flow.Trigger{flow.Keywords("dni")},
			Steps: []flow.Step{
				flow.Ask(text("Ingresa tu DNI"), flow.Capture{Var: "dni", Pattern: digits, MismatchMessage: "Solo números"}, nil),
			},
		},
		flow.Flow{ID: "asesor", Steps: []flow.Step{flow.Say(text("Te derivamos con un asesor"))}},
	)
	d, gw, _ := testutil.NewTestDispatcher(t, g,
		dispatcher.WithMaxFallbacks(3),
		dispatcher.WithEscalation("No logramos validar tu respuesta", "asesor"),
	)

	dispatch(t, d, testutil.TextEvent(key, "dni"))
	dispatch(t, d, testutil.TextEvent(key, "abc"))

	sess := loadSession(t, d, key)
	if sess.RetryCount != 1 || sess.Cursor != (models.Cursor{FlowID: "dni", Step: 0, Awaiting: true}) {
		t.Fatalf("after one bad reply: retry %d cursor %+v", sess.RetryCount, sess.Cursor)
	}
	testutil.AssertTexts(t, gw, key, "Ingresa tu DNI", "Solo números")

	dispatch(t, d, testutil.TextEvent(key, "abc"))
	dispatch(t, d, testutil.TextEvent(key, "abc"))

	testutil.AssertTexts(t, gw, key,
		"Ingresa tu DNI", "Solo números", "Solo números",
		"No logramos validar tu respuesta", "Te derivamos con un asesor")
	sess = loadSession(t, d, key)
	if !sess.Cursor.Idle() || sess.LastFlowID != "asesor" || sess.RetryCount != 0 {
		t.Errorf("expected idle session after escalation, got %+v", sess)
	}
}

func TestStepFailureApologizesAndRollsBack(t *testing.T) {
	g := testutil.BuildGraph(t, flow.Flow{
		ID:       "save",
		Triggers: []flow.Trigger{flow.Keywords("guardar")},
		Steps: []flow.Step{
			flow.Ask(text("¿Correo?"), flow.Capture{Var: "email"}, func(ctx context.Context, sc *flow.StepContext) (flow.Outcome, error) {
				sc.Session.Set("partial", true)
				return flow.Outcome{}, flow.External("save record", errors.New("connection refused"))
			}),
			flow.Say(text("Guardado")),
		},
	})
	d, gw, _ := testutil.NewTestDispatcher(t, g)

	dispatch(t, d, testutil.TextEvent(key, "guardar"))
	err := d.Dispatch(context.Background(), testutil.TextEvent(key, "ana@example.com"))
	if !errors.Is(err, flow.ErrExternalCall) {
		t.Fatalf("expected ErrExternalCall, got %v", err)
	}

	testutil.AssertTexts(t, gw, key, "¿Correo?", dispatcher.DefaultApologyMessage)
	sess := loadSession(t, d, key)
	if !sess.Cursor.Idle() {
		t.Errorf("expected idle cursor, got %+v", sess.Cursor)
	}
	if _, ok := sess.Get("partial"); ok {
		t.Error("variables written by the failed step must be rolled back")
	}
	if _, ok := sess.Get("email"); ok {
		t.Error("capture of the failed step must be rolled back")
	}
}

func TestNoMatchingFlowLeavesStateUntouched(t *testing.T) {
	g := testutil.BuildGraph(t, flow.Flow{
		ID:       "hello",
		Triggers: []flow.Trigger{flow.Keywords("hola")},
		Steps:    []flow.Step{flow.Say(text("¡Hola!"))},
	})
	d, gw, st := testutil.NewTestDispatcher(t, g)

	err := d.Dispatch(context.Background(), testutil.TextEvent(key, "qwerty"))
	if !errors.Is(err, flow.ErrNoMatchingFlow) {
		t.Fatalf("expected ErrNoMatchingFlow, got %v", err)
	}
	if n := len(gw.Deliveries()); n != 0 {
		t.Errorf("expected no replies, got %d", n)
	}
	if sess, _ := st.LoadSession(context.Background(), key); sess != nil {
		t.Errorf("expected no session to be stored, got %+v", sess)
	}
}

func TestStartEventStopsAtFirstCapture(t *testing.T) {
	g := testutil.BuildGraph(t, flow.Flow{
		ID:       "principal",
		Triggers: []flow.Trigger{flow.OnEvent(models.EventStart)},
		Steps: []flow.Step{
			flow.Do("welcome", func(ctx context.Context, sc *flow.StepContext) (flow.Outcome, error) {
				return flow.Continue(), sc.Say(ctx, "¡Hola "+sc.Event.PushName+"!")
			}),
			flow.Ask(models.NewButtons("¿Qué deseas?", "Plan Educativo", "Admisión 2025"), flow.Capture{Var: "opcion"}, nil),
			flow.Say(text("never reached")),
		},
	})
	d, gw, _ := testutil.NewTestDispatcher(t, g)

	dispatch(t, d, testutil.StartEvent(key, "Lucía"))

	testutil.AssertTexts(t, gw, key, "¡Hola Lucía!", "¿Qué deseas?")
	sess := loadSession(t, d, key)
	if sess.Cursor != (models.Cursor{FlowID: "principal", Step: 1, Awaiting: true}) {
		t.Errorf("expected cursor at first capture, got %+v", sess.Cursor)
	}
}

func TestBlacklistSuppressesDispatch(t *testing.T) {
	g := testutil.BuildGraph(t, flow.Flow{
		ID:       "hello",
		Triggers: []flow.Trigger{flow.Keywords("hola")},
		Steps:    []flow.Step{flow.Say(text("¡Hola!"))},
	})
	bl := dispatcher.NewBlacklist(key)
	d, gw, _ := testutil.NewTestDispatcher(t, g, dispatcher.WithBlacklist(bl))

	if err := d.Dispatch(context.Background(), testutil.TextEvent(key, "hola")); !errors.Is(err, dispatcher.ErrSuppressed) {
		t.Fatalf("expected ErrSuppressed, got %v", err)
	}
	if n := len(gw.Deliveries()); n != 0 {
		t.Fatalf("blacklisted key received %d messages", n)
	}

	d.Blacklist().Remove(key)
	dispatch(t, d, testutil.TextEvent(key, "hola"))
	testutil.AssertTexts(t, gw, key, "¡Hola!")
}

func TestBlacklistSuppressesStartFlow(t *testing.T) {
	g := testutil.BuildGraph(t, flow.Flow{
		ID:    "plan",
		Steps: []flow.Step{flow.Say(text("Plan Educativo")), flow.Say(text("¿Qué deseas hacer ahora?"))},
	})
	d, gw, _ := testutil.NewTestDispatcher(t, g, dispatcher.WithBlacklist(dispatcher.NewBlacklist(key)))
	ctx := context.Background()

	if err := d.StartFlow(ctx, key, "plan"); !errors.Is(err, dispatcher.ErrSuppressed) {
		t.Fatalf("expected ErrSuppressed, got %v", err)
	}
	if n := len(gw.Deliveries()); n != 0 {
		t.Fatalf("blacklisted key received %d messages", n)
	}
	if sess, err := d.Session(ctx, key); err != nil || sess != nil {
		t.Errorf("no session may be created for a blacklisted key, got %+v (%v)", sess, err)
	}

	d.Blacklist().Remove(key)
	if err := d.StartFlow(ctx, key, "plan"); err != nil {
		t.Fatalf("start flow: %v", err)
	}
	testutil.AssertTexts(t, gw, key, "Plan Educativo", "¿Qué deseas hacer ahora?")
}

func TestDefaultFlowIgnoresStrayMedia(t *testing.T) {
	g := testutil.BuildGraph(t, flow.Flow{
		ID:    "principal",
		Steps: []flow.Step{flow.Say(text("¡Hola! Bienvenido"))},
	})
	d, gw, _ := testutil.NewTestDispatcher(t, g, dispatcher.WithDefaultFlow("principal"))
	ctx := context.Background()

	err := d.Dispatch(ctx, testutil.MediaEvent(key, "https://cdn.example.com/foto.jpg"))
	if !errors.Is(err, flow.ErrNoMatchingFlow) {
		t.Fatalf("expected ErrNoMatchingFlow, got %v", err)
	}
	if n := len(gw.Deliveries()); n != 0 {
		t.Errorf("stray media must not be answered, got %d messages", n)
	}
	if sess, err := d.Session(ctx, key); err != nil || sess != nil {
		t.Errorf("stray media must not create a session, got %+v (%v)", sess, err)
	}

	dispatch(t, d, testutil.TextEvent(key, "buenas"))
	testutil.AssertTexts(t, gw, key, "¡Hola! Bienvenido")
}

func TestTriggerInterruptsAwaitingCapture(t *testing.T) {
	g := testutil.BuildGraph(t,
		flow.Flow{
			ID:       "form",
			Triggers: []flow.Trigger{flow.Keywords("form")},
			Steps:    []flow.Step{flow.Ask(text("¿DNI?"), flow.Capture{Var: "dni"}, nil)},
		},
		flow.Flow{
			ID:       "yape",
			Triggers: []flow.Trigger{flow.OnCustomEvent("TRIGGER_YAPE")},
			Steps:    []flow.Step{flow.Say(models.NewMedia("https://example.com/qr.png", "Paga con Yape"))},
		},
	)
	d, gw, _ := testutil.NewTestDispatcher(t, g)
	ctx := context.Background()

	dispatch(t, d, testutil.TextEvent(key, "form"))
	if err := d.Trigger(ctx, key, "TRIGGER_YAPE"); err != nil {
		t.Fatalf("trigger: %v", err)
	}
	testutil.AssertTexts(t, gw, key, "¿DNI?", "Paga con Yape")
	if sess := loadSession(t, d, key); !sess.Cursor.Idle() || sess.LastFlowID != "yape" {
		t.Errorf("expected idle after yape, got %+v", sess)
	}

	if err := d.Trigger(ctx, key, "form"); err != nil {
		t.Fatalf("trigger by flow id: %v", err)
	}
	if err := d.Trigger(ctx, key, "NOPE"); !errors.Is(err, flow.ErrNoMatchingFlow) {
		t.Errorf("expected ErrNoMatchingFlow for unknown event, got %v", err)
	}
}

func TestStartFlowUnknown(t *testing.T) {
	g := testutil.BuildGraph(t, flow.Flow{ID: "a", Steps: []flow.Step{flow.Say(text("a"))}})
	d, _, _ := testutil.NewTestDispatcher(t, g)
	if err := d.StartFlow(context.Background(), key, "missing"); !errors.Is(err, flow.ErrUnknownFlow) {
		t.Fatalf("expected ErrUnknownFlow, got %v", err)
	}
}

func TestTooManyTransitions(t *testing.T) {
	jump := func(to string) flow.Handler {
		return func(ctx context.Context, sc *flow.StepContext) (flow.Outcome, error) {
			return flow.Goto(to), nil
		}
	}
	g := testutil.BuildGraph(t,
		flow.Flow{ID: "ping", Triggers: []flow.Trigger{flow.Keywords("ping")}, Next: []string{"pong"}, Steps: []flow.Step{flow.Do("jump", jump("pong"))}},
		flow.Flow{ID: "pong", Next: []string{"ping"}, Steps: []flow.Step{flow.Do("jump", jump("ping"))}},
	)
	d, gw, _ := testutil.NewTestDispatcher(t, g, dispatcher.WithMaxTransitions(4))

	err := d.Dispatch(context.Background(), testutil.TextEvent(key, "ping"))
	if !errors.Is(err, dispatcher.ErrTooManyTransitions) {
		t.Fatalf("expected ErrTooManyTransitions, got %v", err)
	}
	testutil.AssertTexts(t, gw, key, dispatcher.DefaultApologyMessage)
}

func TestResetClearsSession(t *testing.T) {
	g := testutil.BuildGraph(t, flow.Flow{
		ID:       "form",
		Triggers: []flow.Trigger{flow.Keywords("form")},
		Steps:    []flow.Step{flow.Ask(text("¿DNI?"), flow.Capture{Var: "dni"}, nil)},
	})
	d, _, _ := testutil.NewTestDispatcher(t, g)
	ctx := context.Background()

	dispatch(t, d, testutil.TextEvent(key, "form"))
	if err := d.Reset(ctx, key); err != nil {
		t.Fatalf("reset: %v", err)
	}
	sess, err := d.Session(ctx, key)
	if err != nil || sess != nil {
		t.Fatalf("expected no session after reset, got %+v, %v", sess, err)
	}
}

func TestConsumeDrainsChannel(t *testing.T) {
	g := testutil.BuildGraph(t, flow.Flow{
		ID:       "hello",
		Triggers: []flow.Trigger{flow.Keywords("hola")},
		Steps:    []flow.Step{flow.Say(text("¡Hola!"))},
	})
	d, gw, _ := testutil.NewTestDispatcher(t, g)

	events := make(chan models.Event, 3)
	events <- testutil.TextEvent("a", "hola")
	events <- testutil.TextEvent("b", "hola")
	events <- testutil.TextEvent("c", "ignored")
	close(events)

	d.Consume(context.Background(), events)

	testutil.AssertTexts(t, gw, "a", "¡Hola!")
	testutil.AssertTexts(t, gw, "b", "¡Hola!")
	testutil.AssertTexts(t, gw, "c")
}

func TestSubmitAfterClose(t *testing.T) {
	g := testutil.BuildGraph(t, flow.Flow{ID: "a", Steps: []flow.Step{flow.Say(text("a"))}})
	d, _, _ := testutil.NewTestDispatcher(t, g)
	d.Close()
	if err := d.Submit(testutil.TextEvent(key, "x")); !errors.Is(err, dispatcher.ErrStopped) {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
}
