package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/BTreeMap/DialogPipe/internal/dispatcher"
	"github.com/BTreeMap/DialogPipe/internal/flow"
	"github.com/BTreeMap/DialogPipe/internal/models"
	"github.com/BTreeMap/DialogPipe/internal/util"
)

// Named events raised by the admin endpoints.
const (
	RegisterEvent = "REGISTER_FLOW"
	SamplesEvent  = "SAMPLES"
)

// Blacklist intents.
const (
	IntentAdd    = "add"
	IntentRemove = "remove"
)

// SendRequest is the body of POST /v1/messages.
type SendRequest struct {
	Number   string `json:"number"`
	Message  string `json:"message"`
	URLMedia string `json:"urlMedia,omitempty"`
}

// EventRequest is the body of POST /v1/register and /v1/samples.
type EventRequest struct {
	Number string `json:"number"`
	Name   string `json:"name,omitempty"`
}

// StartFlowRequest is the body of POST /v1/start-flow. Flow is a flow id or a custom event name.
type StartFlowRequest struct {
	Number string `json:"number"`
	Flow   string `json:"flow"`
}

// BlacklistRequest is the body of POST /v1/blacklist.
type BlacklistRequest struct {
	Number string `json:"number"`
	Intent string `json:"intent"`
}

// BlacklistResponse echoes a blacklist change.
type BlacklistResponse struct {
	Status string `json:"status"`
	Number string `json:"number"`
	Intent string `json:"intent"`
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		slog.Warn("Server.decodeJSON: failed to decode JSON", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusBadRequest, "Invalid JSON format")
		return false
	}
	return true
}

func (s *Server) canonical(w http.ResponseWriter, number string) (string, bool) {
	key, err := s.opts.Canonicalize(number)
	if err != nil {
		slog.Warn("Server.canonical: recipient validation failed", "error", err, "original_number", number)
		writeError(w, http.StatusBadRequest, err.Error())
		return "", false
	}
	return key, true
}

// writeDispatchError maps dispatcher errors to HTTP statuses.
func writeDispatchError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, dispatcher.ErrSuppressed):
		writeError(w, http.StatusForbidden, "Number is blacklisted")
	case errors.Is(err, flow.ErrUnknownFlow), errors.Is(err, flow.ErrNoMatchingFlow):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, models.ErrEmptyKey), errors.Is(err, models.ErrEmptyBody), errors.Is(err, models.ErrBodyTooLong),
		errors.Is(err, models.ErrMissingMedia):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "Failed to process request")
	}
}

// sendHandler delivers a message outside of any flow (POST /v1/messages).
func (s *Server) sendHandler(w http.ResponseWriter, r *http.Request) {
	var req SendRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	key, ok := s.canonical(w, req.Number)
	if !ok {
		return
	}

	content := models.NewText(req.Message)
	if req.URLMedia != "" {
		content = models.NewMedia(req.URLMedia, req.Message)
	}
	if err := s.d.Send(r.Context(), key, content); err != nil {
		slog.Error("Server.sendHandler: failed to send message", "error", err, "key", key)
		writeDispatchError(w, err)
		return
	}
	slog.Info("Server.sendHandler: message sent", "key", key, "media", req.URLMedia != "")
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("sended", nil))
}

// eventHandler raises a named event for a number, passing the optional name
// along as the push name (POST /v1/register, /v1/samples).
func (s *Server) eventHandler(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req EventRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		key, ok := s.canonical(w, req.Number)
		if !ok {
			return
		}
		ev := models.Event{ID: util.GenerateEventID(), Key: key, Kind: models.EventAction, Name: name, PushName: req.Name, ReceivedAt: time.Now()}
		if err := s.d.Dispatch(r.Context(), ev); err != nil {
			slog.Error("Server.eventHandler: dispatch failed", "event", name, "key", key, "error", err)
			writeDispatchError(w, err)
			return
		}
		writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("trigger", nil))
	}
}

// startFlowHandler starts a flow by id, or raises a custom event when no
// flow has that id (POST /v1/start-flow).
func (s *Server) startFlowHandler(w http.ResponseWriter, r *http.Request) {
	var req StartFlowRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Flow == "" {
		writeError(w, http.StatusBadRequest, "Missing required field: flow")
		return
	}
	key, ok := s.canonical(w, req.Number)
	if !ok {
		return
	}

	var err error
	if _, known := s.d.Graph().Flow(req.Flow); known {
		err = s.d.StartFlow(r.Context(), key, req.Flow)
	} else {
		err = s.d.Trigger(r.Context(), key, req.Flow)
	}
	if err != nil {
		slog.Error("Server.startFlowHandler: failed to start flow", "flow", req.Flow, "key", key, "error", err)
		writeDispatchError(w, err)
		return
	}
	slog.Info("Server.startFlowHandler: flow started", "flow", req.Flow, "key", key)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("flow started", nil))
}

// blacklistHandler adds or removes a number (POST /v1/blacklist).
func (s *Server) blacklistHandler(w http.ResponseWriter, r *http.Request) {
	var req BlacklistRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	key, ok := s.canonical(w, req.Number)
	if !ok {
		return
	}
	switch req.Intent {
	case IntentAdd:
		s.d.Blacklist().Add(key)
	case IntentRemove:
		s.d.Blacklist().Remove(key)
	default:
		writeError(w, http.StatusBadRequest, "intent must be \"add\" or \"remove\"")
		return
	}
	slog.Info("Server.blacklistHandler: blacklist updated", "key", key, "intent", req.Intent)
	writeJSONResponse(w, http.StatusOK, BlacklistResponse{Status: string(models.APIStatusOK), Number: req.Number, Intent: req.Intent})
}

// listBlacklistHandler returns the suppressed keys (GET /v1/blacklist).
func (s *Server) listBlacklistHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.Success(s.d.Blacklist().List()))
}

// getSessionHandler returns the stored session (GET /v1/sessions/{key}).
func (s *Server) getSessionHandler(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	sess, err := s.d.Session(r.Context(), key)
	if err != nil {
		slog.Error("Server.getSessionHandler: failed to load session", "key", key, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to load session")
		return
	}
	if sess == nil {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(sess))
}

// deleteSessionHandler forgets a conversation (DELETE /v1/sessions/{key}).
func (s *Server) deleteSessionHandler(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if err := s.d.Reset(r.Context(), key); err != nil {
		slog.Error("Server.deleteSessionHandler: failed to reset session", "key", key, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to reset session")
		return
	}
	slog.Info("Server.deleteSessionHandler: session reset", "key", key)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Session reset", nil))
}

// flowsHandler renders the flow graph as a Mermaid diagram (GET /v1/flows).
func (s *Server) flowsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(flow.GenerateMermaid(s.d.Graph()))); err != nil {
		slog.Error("Server.flowsHandler: failed to write diagram", "error", err)
	}
}

// healthHandler provides a health check endpoint for monitoring and load balancing.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, map[string]any{
		"status":      "healthy",
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
		"flows":       len(s.d.Graph().Flows()),
		"blacklisted": len(s.d.Blacklist().List()),
	})
}
