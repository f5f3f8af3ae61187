// Package testutil provides common test utilities and helpers for DialogPipe tests.
package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/BTreeMap/DialogPipe/internal/api"
	"github.com/BTreeMap/DialogPipe/internal/dispatcher"
	"github.com/BTreeMap/DialogPipe/internal/flow"
	"github.com/BTreeMap/DialogPipe/internal/models"
	"github.com/BTreeMap/DialogPipe/internal/store"
)

// TB is the subset of testing.TB the assertion helpers use, so the helpers
// themselves can be tested with a fake.
type TB interface {
	Helper()
	Errorf(format string, args ...any)
	Fatalf(format string, args ...any)
}

// Delivery is one message accepted by a RecordingGateway.
type Delivery struct {
	Key     string
	Content models.Content
}

// RecordingGateway is a messaging.Gateway that keeps every delivery in memory.
type RecordingGateway struct {
	mu         sync.Mutex
	deliveries []Delivery
	// Err, when set, is returned by Send and nothing is recorded.
	Err error
	// OnSend, when set, runs before each delivery is recorded.
	OnSend func(key string, content models.Content)
}

// Send records content for key.
func (g *RecordingGateway) Send(ctx context.Context, key string, content models.Content) error {
	if g.OnSend != nil {
		g.OnSend(key, content)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.Err != nil {
		return g.Err
	}
	g.deliveries = append(g.deliveries, Delivery{Key: key, Content: content})
	return nil
}

// Deliveries returns a copy of everything sent so far.
func (g *RecordingGateway) Deliveries() []Delivery {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]Delivery(nil), g.deliveries...)
}

// Texts returns the text bodies sent to key, in order. Media captions and
// button or list bodies are included.
func (g *RecordingGateway) Texts(key string) []string {
	var out []string
	for _, d := range g.Deliveries() {
		if d.Key != key {
			continue
		}
		switch d.Content.Kind {
		case models.ContentMedia:
			if d.Content.Media != nil {
				out = append(out, d.Content.Media.Caption)
			}
		default:
			out = append(out, d.Content.Text)
		}
	}
	return out
}

// Last returns the most recent delivery to key.
func (g *RecordingGateway) Last(key string) (Delivery, bool) {
	all := g.Deliveries()
	for i := len(all) - 1; i >= 0; i-- {
		if all[i].Key == key {
			return all[i], true
		}
	}
	return Delivery{}, false
}

// Reset forgets recorded deliveries.
func (g *RecordingGateway) Reset() {
	g.mu.Lock()
	g.deliveries = nil
	g.mu.Unlock()
}

// BuildGraph registers flows and fails the test on any error.
func BuildGraph(t *testing.T, flows ...flow.Flow) *flow.Graph {
	t.Helper()
	b := flow.NewBuilder()
	if err := b.RegisterAll(flows...); err != nil {
		t.Fatalf("failed to register flows: %v", err)
	}
	g, err := b.Build()
	if err != nil {
		t.Fatalf("failed to build graph: %v", err)
	}
	return g
}

// NewTestDispatcher wires a dispatcher to an in-memory store and a recording gateway.
func NewTestDispatcher(t *testing.T, graph *flow.Graph, opts ...dispatcher.Option) (*dispatcher.Dispatcher, *RecordingGateway, *store.InMemoryStore) {
	t.Helper()
	gw := &RecordingGateway{}
	st := store.NewInMemoryStore()
	d, err := dispatcher.New(graph, st, gw, opts...)
	if err != nil {
		t.Fatalf("failed to create dispatcher: %v", err)
	}
	t.Cleanup(d.Close)
	return d, gw, st
}

// NewTestServer creates a test API server around a dispatcher with in-memory dependencies.
func NewTestServer(t *testing.T, graph *flow.Graph, opts ...api.Option) (*api.Server, *RecordingGateway, *dispatcher.Dispatcher) {
	t.Helper()
	d, gw, _ := NewTestDispatcher(t, graph)
	return api.NewServer(d, opts...), gw, d
}

// TextEvent returns a text event for key.
func TextEvent(key, body string) models.Event {
	return models.Event{Key: key, Kind: models.EventText, Body: body, ReceivedAt: time.Now()}
}

// MediaEvent returns a media event for key carrying an attachment URL.
func MediaEvent(key, url string) models.Event {
	return models.Event{Key: key, Kind: models.EventMedia, Attachment: &models.Attachment{URL: url, MIMEType: "image/jpeg"}, ReceivedAt: time.Now()}
}

// StartEvent returns a conversation-start event for key.
func StartEvent(key, pushName string) models.Event {
	return models.Event{Key: key, Kind: models.EventStart, PushName: pushName, ReceivedAt: time.Now()}
}

// Eventually polls cond until it holds or the timeout elapses.
func Eventually(t TB, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !cond() {
		t.Fatalf("condition not met within %s: %s", timeout, msg)
	}
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t TB, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// AssertJSONResponse decodes JSON response and validates the status field.
func AssertJSONResponse(t TB, rr *httptest.ResponseRecorder, expectedStatus string) map[string]any {
	t.Helper()
	var response map[string]any
	if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
		return nil
	}

	if status, ok := response["status"].(string); ok {
		if status != expectedStatus {
			t.Errorf("expected status '%s', got '%s'", expectedStatus, status)
		}
	} else {
		t.Errorf("response missing or invalid 'status' field")
	}

	return response
}

// AssertTexts compares the text bodies delivered to key.
func AssertTexts(t TB, gw *RecordingGateway, key string, want ...string) {
	t.Helper()
	got := gw.Texts(key)
	if len(got) != len(want) {
		t.Errorf("deliveries to %s: expected %d, got %d: %q", key, len(want), len(got), got)
		return
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("delivery %d to %s: expected %q, got %q", i, key, want[i], got[i])
		}
	}
}

// CreateHTTPRequest creates an HTTP request with optional JSON body for testing.
func CreateHTTPRequest(t TB, method, url string, body any) *http.Request {
	t.Helper()
	reqBody := bytes.NewBuffer(nil)
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal request body: %v", err)
			return nil
		}
		reqBody = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		t.Fatalf("failed to create HTTP request: %v", err)
		return nil
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

// MustMarshalJSON marshals an object to JSON and fails test on error.
func MustMarshalJSON(t TB, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal JSON: %v", err)
	}
	return data
}

// MustUnmarshalJSON unmarshals JSON data into target and fails test on error.
func MustUnmarshalJSON(t TB, data []byte, target any) {
	t.Helper()
	if err := json.Unmarshal(data, target); err != nil {
		t.Fatalf("failed to unmarshal JSON: %v", err)
	}
}
