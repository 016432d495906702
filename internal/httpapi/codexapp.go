package httpapi

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"sm/internal/registry"
)

// codexAppStore holds the structured-event state for codex-app sessions —
// the headless Codex server protocol has no terminal window to poll, so
// events and pending requests arrive over this side channel instead of
// through C1. Kept in memory only: spec.md names no persistence
// requirement for this protocol, and a process restart loses in-flight
// codex-app turns anyway (their owning process is gone too).
type codexAppStore struct {
	mu sync.Mutex

	events  map[string][]codexEvent               // sessionID -> ordered events
	pending map[string]map[string]*pendingRequest  // sessionID -> reqID -> request
	actions map[string][]activityAction            // sessionID -> recent actions
}

func newCodexAppStore() *codexAppStore {
	return &codexAppStore{
		events:  make(map[string][]codexEvent),
		pending: make(map[string]map[string]*pendingRequest),
		actions: make(map[string][]activityAction),
	}
}

type codexEvent struct {
	Seq     int64           `json:"seq"`
	At      time.Time       `json:"at"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type pendingRequest struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Kind      string    `json:"kind"`
	Prompt    string    `json:"prompt,omitempty"`
	Options   []string  `json:"options,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type activityAction struct {
	At     time.Time `json:"at"`
	Action string    `json:"action"`
	Detail string    `json:"detail,omitempty"`
}

func (s *codexAppStore) has(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending[sessionID]) > 0
}

func (s *codexAppStore) pendingRequests(sessionID string) []*pendingRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*pendingRequest, 0, len(s.pending[sessionID]))
	for _, req := range s.pending[sessionID] {
		out = append(out, req)
	}
	return out
}

func (s *codexAppStore) respond(sessionID, reqID string) (*pendingRequest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bySession, ok := s.pending[sessionID]
	if !ok {
		return nil, false
	}
	req, ok := bySession[reqID]
	if ok {
		delete(bySession, reqID)
	}
	return req, ok
}

func (s *codexAppStore) eventsSince(sessionID string, sinceSeq int64, limit int) []codexEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.events[sessionID]
	out := make([]codexEvent, 0, limit)
	for _, e := range all {
		if e.Seq <= sinceSeq {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

func (s *codexAppStore) recentActions(sessionID string, limit int) []activityAction {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.actions[sessionID]
	if limit <= 0 || limit >= len(all) {
		return append([]activityAction(nil), all...)
	}
	return append([]activityAction(nil), all[len(all)-limit:]...)
}

// CodexAppHandler serves the structured-event routes used by headless
// codex-app sessions (spec.md §6 Codex-app).
type CodexAppHandler struct {
	reg   *registry.Registry
	store *codexAppStore
}

func NewCodexAppHandler(reg *registry.Registry, store *codexAppStore) *CodexAppHandler {
	return &CodexAppHandler{reg: reg, store: store}
}

// sessionExists 404s on an unknown session id, matching
// SessionsHandler.lookup's convention for the rest of the API.
func (h *CodexAppHandler) sessionExists(w http.ResponseWriter, id string) bool {
	sess, err := h.reg.Get(id)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "internal error")
		return false
	}
	if sess == nil {
		WriteError(w, http.StatusNotFound, "session not found")
		return false
	}
	return true
}

// Events handles GET /sessions/{id}/codex-events.
func (h *CodexAppHandler) Events(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !h.sessionExists(w, id) {
		return
	}
	since := int64(intQuery(r, "since_seq", 0))
	limit := intQuery(r, "limit", 100)
	events := h.store.eventsSince(id, since, limit)
	WriteJSON(w, http.StatusOK, map[string]interface{}{"events": events})
}

// PendingRequests handles GET /sessions/{id}/codex-pending-requests.
func (h *CodexAppHandler) PendingRequests(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !h.sessionExists(w, id) {
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"pending_requests": h.store.pendingRequests(id)})
}

type respondRequest struct {
	Decision string            `json:"decision,omitempty"`
	Answers  map[string]string `json:"answers,omitempty"`
}

// Respond handles POST /sessions/{id}/codex-requests/{req}/respond.
func (h *CodexAppHandler) Respond(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id, reqID := vars["id"], vars["req"]
	if !h.sessionExists(w, id) {
		return
	}

	var body respondRequest
	if err := decodeJSON(r, &body); err != nil {
		WriteError(w, http.StatusUnprocessableEntity, "malformed request body")
		return
	}
	if (body.Decision == "") == (len(body.Answers) == 0) {
		WriteError(w, http.StatusUnprocessableEntity, "exactly one of decision or answers is required")
		return
	}

	if _, ok := h.store.respond(id, reqID); !ok {
		WriteError(w, http.StatusNotFound, "pending request not found")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// ActivityActions handles GET /sessions/{id}/activity-actions.
func (h *CodexAppHandler) ActivityActions(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !h.sessionExists(w, id) {
		return
	}
	limit := intQuery(r, "limit", 50)
	WriteJSON(w, http.StatusOK, map[string]interface{}{"actions": h.store.recentActions(id, limit)})
}
