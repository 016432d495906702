package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"sm/internal/delivery"
	"sm/internal/model"
	"sm/internal/registry"
	"sm/internal/timer"
)

// AdminHandler serves the health check and the small set of operator/admin
// routes that don't belong to a single session (spec.md §6 Admin/misc).
type AdminHandler struct {
	reg   *registry.Registry
	timer *timer.Service
}

func NewAdminHandler(reg *registry.Registry, tm *timer.Service) *AdminHandler {
	return &AdminHandler{reg: reg, timer: tm}
}

// Health handles GET /health.
func (h *AdminHandler) Health(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type scheduleReminderRequest struct {
	SessionID    string `json:"session_id"`
	DelaySeconds int    `json:"delay_seconds"`
	Message      string `json:"message"`
}

// ScheduleReminder handles POST /scheduler/remind.
func (h *AdminHandler) ScheduleReminder(w http.ResponseWriter, r *http.Request) {
	var req scheduleReminderRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, http.StatusUnprocessableEntity, "malformed request body")
		return
	}
	if req.SessionID == "" || req.Message == "" || req.DelaySeconds <= 0 {
		WriteError(w, http.StatusUnprocessableEntity, "session_id, message and a positive delay_seconds are required")
		return
	}
	if err := h.timer.ScheduleReminder(req.SessionID, req.Message, time.Duration(req.DelaySeconds)*time.Second); err != nil {
		WriteError(w, http.StatusInternalServerError, "internal error")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// CleanupIdleTopics handles POST /admin/cleanup-idle-topics. The teacher's
// Telegram-forum integration uses this to archive per-session chat topics;
// sm carries no Telegram transport, so this handler only reports the ids
// of sessions that are idle or stopped; it clears no state.
type cleanupIdleTopicsResponse struct {
	Cleaned []string `json:"cleaned"`
}

func (h *AdminHandler) CleanupIdleTopics(w http.ResponseWriter, r *http.Request) {
	var cleaned []string
	for _, sess := range h.reg.List(true) {
		if sess.Status == model.StatusIdle || sess.Status == model.StatusStopped {
			cleaned = append(cleaned, sess.ID)
		}
	}
	WriteJSON(w, http.StatusOK, cleanupIdleTopicsResponse{Cleaned: cleaned})
}

// ReviewsHandler serves the review-request routes. Review generation
// (diffing a PR, running a model pass over it) is out of spec.md's scope
// (§1 Non-goals); these routes exist because spec.md §6 names them, and
// answer honestly rather than 404ing.
type ReviewsHandler struct{}

func NewReviewsHandler() *ReviewsHandler { return &ReviewsHandler{} }

func (h *ReviewsHandler) NotImplemented(w http.ResponseWriter, r *http.Request) {
	WriteError(w, http.StatusOK, "reviews are not implemented")
}

// notifyRequest is the body of POST /notify: a message queued in urgent
// mode to target_session_id through the normal per-session queue.
type notifyRequest struct {
	TargetSessionID string `json:"target_session_id"`
	Message         string `json:"message"`
}

// SubagentsHandler serves the subagent bookkeeping routes (SPEC_FULL.md
// supplemented feature: Task-tool fan-out tracking recovered from
// original_source/src/models.py's Subagent dataclass).
type SubagentsHandler struct {
	reg *registry.Registry
}

func NewSubagentsHandler(reg *registry.Registry) *SubagentsHandler {
	return &SubagentsHandler{reg: reg}
}

// List handles GET /sessions/{id}/subagents.
func (h *SubagentsHandler) List(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	subs, err := h.reg.Subagents(id)
	if err != nil {
		if err == registry.ErrNotFound {
			WriteError(w, http.StatusNotFound, "session not found")
			return
		}
		WriteError(w, http.StatusInternalServerError, "internal error")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"subagents": subs})
}

type startSubagentRequest struct {
	AgentID   string `json:"agent_id"`
	AgentType string `json:"agent_type"`
}

// Start handles POST /sessions/{id}/subagents.
func (h *SubagentsHandler) Start(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req startSubagentRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, http.StatusUnprocessableEntity, "malformed request body")
		return
	}
	sub := model.Subagent{
		AgentID:         req.AgentID,
		AgentType:       req.AgentType,
		ParentSessionID: id,
		StartedAt:       time.Now(),
		Status:          "running",
	}
	if err := h.reg.AddSubagent(id, sub); err != nil {
		if err == registry.ErrNotFound {
			WriteError(w, http.StatusNotFound, "session not found")
			return
		}
		WriteError(w, http.StatusInternalServerError, "internal error")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type stopSubagentRequest struct {
	Status  string `json:"status"`
	Summary string `json:"summary,omitempty"`
}

// Stop handles POST /sessions/{id}/subagents/{agent_id}/stop.
func (h *SubagentsHandler) Stop(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id, agentID := vars["id"], vars["agent_id"]
	var req stopSubagentRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, http.StatusUnprocessableEntity, "malformed request body")
		return
	}
	if req.Status == "" {
		req.Status = "completed"
	}
	if err := h.reg.StopSubagent(id, agentID, req.Status, req.Summary); err != nil {
		if err == registry.ErrNotFound {
			WriteError(w, http.StatusNotFound, "session not found")
			return
		}
		WriteError(w, http.StatusInternalServerError, "internal error")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// Reopen handles POST /sessions/{id}/reopen.
func (h *SessionsHandler) Reopen(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.reg.Reopen(r.Context(), id); err != nil {
		if err == registry.ErrNotFound {
			WriteError(w, http.StatusNotFound, "session not found")
			return
		}
		WriteError(w, http.StatusInternalServerError, "internal error")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// Notify handles POST /notify.
func (h *SessionsHandler) Notify(w http.ResponseWriter, r *http.Request) {
	var req notifyRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, http.StatusUnprocessableEntity, "malformed request body")
		return
	}
	if req.TargetSessionID == "" || req.Message == "" {
		WriteError(w, http.StatusUnprocessableEntity, "target_session_id and message are required")
		return
	}
	sess, err := h.reg.Get(req.TargetSessionID)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if sess == nil {
		WriteError(w, http.StatusNotFound, "session not found")
		return
	}
	if _, err := h.eng.QueueMessage(r.Context(), delivery.QueueRequest{
		Target: sess.ID,
		Text:   req.Message,
		Mode:   model.ModeUrgent,
	}); err != nil {
		WriteError(w, http.StatusInternalServerError, "internal error")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
