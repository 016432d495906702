package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"sm/internal/config"
	"sm/internal/delivery"
	"sm/internal/model"
	"sm/internal/registry"
	"sm/internal/store"
	"sm/internal/terminal"
	"sm/internal/timer"
)

// SessionsHandler serves every route under /sessions that isn't specific to
// the codex-app structured-event protocol or the webhook sinks.
type SessionsHandler struct {
	reg   *registry.Registry
	eng   *delivery.Engine
	timer *timer.Service
	st    *store.Store
	term  terminal.Driver
	cfg   *config.Config
	codex *codexAppStore
}

func NewSessionsHandler(reg *registry.Registry, eng *delivery.Engine, tm *timer.Service, st *store.Store, term terminal.Driver, cfg *config.Config, codex *codexAppStore) *SessionsHandler {
	return &SessionsHandler{reg: reg, eng: eng, timer: tm, st: st, term: term, cfg: cfg, codex: codex}
}

type createSessionRequest struct {
	WorkingDir string `json:"working_dir"`
	Name       string `json:"name,omitempty"`
	Provider   string `json:"provider,omitempty"`
}

// Create handles POST /sessions and the legacy POST /sessions/create.
func (h *SessionsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, http.StatusUnprocessableEntity, "malformed request body")
		return
	}
	if req.WorkingDir == "" {
		req.WorkingDir = r.URL.Query().Get("working_dir")
	}
	if req.Name == "" {
		req.Name = r.URL.Query().Get("name")
	}
	provider := model.ProviderClaude
	if req.Provider != "" {
		provider = model.Provider(req.Provider)
	}

	sess, err := h.reg.CreateSession(r.Context(), req.WorkingDir, provider, req.Name, "")
	if err != nil {
		h.writeCreateError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, sess)
}

type spawnSessionRequest struct {
	ParentSessionID string `json:"parent_session_id"`
	Prompt          string `json:"prompt"`
	Name            string `json:"name,omitempty"`
	Model           string `json:"model,omitempty"`
	WorkingDir      string `json:"working_dir,omitempty"`
	Wait            bool   `json:"wait,omitempty"`
}

// Spawn handles POST /sessions/spawn.
func (h *SessionsHandler) Spawn(w http.ResponseWriter, r *http.Request) {
	var req spawnSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, http.StatusUnprocessableEntity, "malformed request body")
		return
	}
	child, err := h.reg.SpawnChild(r.Context(), req.ParentSessionID, req.Prompt, req.Name, req.WorkingDir, req.Wait)
	if err != nil {
		h.writeCreateError(w, err)
		return
	}

	if child.ContextMonitorEnabled {
		_ = h.timer.RegisterRemind(child.ID, h.remindSoft(), h.remindHard())
		_ = h.timer.RegisterParentWake(child.ID, child.ParentSessionID, h.parentWake())

		// One-shot stop notification back to the EM parent (spec.md §8
		// scenario 6, GLOSSARY "EM"), armed immediately at spawn time
		// rather than waiting for a message to flow through the child.
		if parent, err := h.reg.Get(child.ParentSessionID); err == nil && parent != nil {
			parentName := parent.FriendlyName
			if parentName == "" {
				parentName = parent.Name
			}
			h.eng.ArmStopNotify(child.ID, parent.ID, parentName)
		}
	}

	WriteJSON(w, http.StatusOK, child)
}

func (h *SessionsHandler) writeCreateError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, registry.ErrInvalidName), errors.Is(err, registry.ErrNameTaken):
		WriteError(w, http.StatusOK, err.Error())
	case errors.Is(err, registry.ErrWindowConflict):
		WriteError(w, http.StatusConflict, err.Error())
	case errors.Is(err, registry.ErrNotFound):
		WriteError(w, http.StatusNotFound, err.Error())
	default:
		WriteError(w, http.StatusInternalServerError, "internal error")
	}
}

// List handles GET /sessions.
func (h *SessionsHandler) List(w http.ResponseWriter, r *http.Request) {
	sessions := h.reg.List(r.URL.Query().Get("include_stopped") == "true")
	WriteJSON(w, http.StatusOK, map[string]interface{}{"sessions": sessions})
}

// Get handles GET /sessions/{id}.
func (h *SessionsHandler) Get(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}
	WriteJSON(w, http.StatusOK, sess)
}

// lookup resolves {id} to a session, writing a 404 and returning ok=false
// on miss. Callers should return immediately when ok is false.
func (h *SessionsHandler) lookup(w http.ResponseWriter, r *http.Request) (*model.Session, bool) {
	id := mux.Vars(r)["id"]
	sess, err := h.reg.Get(id)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "internal error")
		return nil, false
	}
	if sess == nil {
		WriteError(w, http.StatusNotFound, "session not found")
		return nil, false
	}
	return sess, true
}

type patchSessionRequest struct {
	FriendlyName *string `json:"friendly_name,omitempty"`
	IsEM         *bool   `json:"is_em,omitempty"`
}

// Patch handles PATCH /sessions/{id}.
func (h *SessionsHandler) Patch(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}
	var req patchSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, http.StatusUnprocessableEntity, "malformed request body")
		return
	}
	if req.FriendlyName != nil {
		if err := h.reg.UpdateFriendlyName(sess.ID, *req.FriendlyName); err != nil {
			h.writeCreateError(w, err)
			return
		}
	}
	if req.IsEM != nil {
		if err := h.reg.SetIsEM(sess.ID, *req.IsEM); err != nil {
			WriteError(w, http.StatusInternalServerError, "internal error")
			return
		}
	}
	updated, _ := h.reg.Get(sess.ID)
	WriteJSON(w, http.StatusOK, updated)
}

type taskRequest struct {
	Task string `json:"task"`
}

// SetTask handles PUT /sessions/{id}/task.
func (h *SessionsHandler) SetTask(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}
	var req taskRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, http.StatusUnprocessableEntity, "malformed request body")
		return
	}
	if err := h.reg.SetTask(sess.ID, req.Task); err != nil {
		WriteError(w, http.StatusInternalServerError, "internal error")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type roleRequest struct {
	Role string `json:"role"`
}

// SetRole handles PUT /sessions/{id}/role.
func (h *SessionsHandler) SetRole(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}
	var req roleRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, http.StatusUnprocessableEntity, "malformed request body")
		return
	}
	if err := h.reg.SetRole(sess.ID, req.Role); err != nil {
		WriteError(w, http.StatusInternalServerError, "internal error")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// ClearRole handles DELETE /sessions/{id}/role.
func (h *SessionsHandler) ClearRole(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if err := h.reg.ClearRole(sess.ID); err != nil {
		WriteError(w, http.StatusInternalServerError, "internal error")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type agentStatusRequest struct {
	Text *string `json:"text"`
}

// SetAgentStatus handles POST /sessions/{id}/agent-status.
func (h *SessionsHandler) SetAgentStatus(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}
	var req agentStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, http.StatusUnprocessableEntity, "malformed request body")
		return
	}
	if err := h.reg.SetAgentStatus(sess.ID, req.Text); err != nil {
		WriteError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if req.Text != nil {
		_ = h.timer.CancelRemind(sess.ID)
		_ = h.timer.RegisterRemind(sess.ID, h.remindSoft(), h.remindHard())
	}
	WriteJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type inputRequest struct {
	Text               string `json:"text"`
	SenderSessionID    string `json:"sender_session_id,omitempty"`
	DeliveryMode       string `json:"delivery_mode,omitempty"`
	NotifyOnDelivery   bool   `json:"notify_on_delivery,omitempty"`
	NotifyAfterSeconds *int   `json:"notify_after_seconds,omitempty"`
	NotifyOnStop       bool   `json:"notify_on_stop,omitempty"`
	FromSMSend         bool   `json:"from_sm_send,omitempty"`
}

// Input handles POST /sessions/{id}/input.
func (h *SessionsHandler) Input(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}
	var req inputRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, http.StatusUnprocessableEntity, "malformed request body")
		return
	}
	mode := model.ModeSequential
	if req.DeliveryMode != "" {
		mode = model.DeliveryMode(req.DeliveryMode)
	}

	if sess.Provider == model.ProviderCodexApp && h.codex.has(sess.ID) {
		WriteErrorCode(w, http.StatusConflict, "session has a pending structured request", "pending_structured_request")
		return
	}

	msg, err := h.eng.QueueMessage(r.Context(), delivery.QueueRequest{
		Target:             sess.ID,
		Sender:             req.SenderSessionID,
		Text:               req.Text,
		Mode:               mode,
		NotifyAfterSeconds: req.NotifyAfterSeconds,
		NotifyOnDelivery:   req.NotifyOnDelivery,
		NotifyOnStop:       req.NotifyOnStop,
	})
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "internal error")
		return
	}
	status := "queued"
	if msg.DeliveredAt != nil {
		status = "delivered"
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": status})
}

type keyRequest struct {
	Key string `json:"key"`
}

// SendKey handles POST /sessions/{id}/key.
func (h *SessionsHandler) SendKey(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}
	var req keyRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, http.StatusUnprocessableEntity, "malformed request body")
		return
	}
	if err := h.sendKeyDirect(r.Context(), sess, req.Key); err != nil {
		WriteError(w, http.StatusInternalServerError, "internal error")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type killRequest struct {
	RequesterSessionID string `json:"requester_session_id,omitempty"`
}

// Kill handles DELETE /sessions/{id} and POST /sessions/{id}/kill.
func (h *SessionsHandler) Kill(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req killRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, http.StatusUnprocessableEntity, "malformed request body")
		return
	}
	if err := h.reg.KillSession(r.Context(), req.RequesterSessionID, id); err != nil {
		switch {
		case errors.Is(err, registry.ErrNotFound):
			WriteError(w, http.StatusNotFound, "session not found")
		case errors.Is(err, registry.ErrNotOwner):
			WriteError(w, http.StatusOK, err.Error())
		default:
			WriteError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	_ = h.timer.CancelRemind(id)
	_ = h.timer.CancelParentWake(id)
	h.eng.Forget(id)
	WriteJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// Clear handles POST /sessions/{id}/clear.
func (h *SessionsHandler) Clear(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if sess.Provider != model.ProviderCodexApp {
		firstKey := "Escape"
		if sess.CompletionStatus == "completed" {
			firstKey = "Enter"
		}
		if err := h.sendKeyDirect(r.Context(), sess, firstKey); err != nil {
			WriteError(w, http.StatusInternalServerError, "internal error")
			return
		}
	}
	if err := h.reg.SetAgentStatus(sess.ID, nil); err != nil {
		WriteError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if err := h.reg.SetContextMonitor(sess.ID, sess.ContextMonitorEnabled, sess.ContextNotifyTarget); err != nil {
		WriteError(w, http.StatusInternalServerError, "internal error")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type handoffRequest struct {
	RequesterSessionID string `json:"requester_session_id"`
	FilePath           string `json:"file_path"`
}

// Handoff handles POST /sessions/{id}/handoff.
func (h *SessionsHandler) Handoff(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req handoffRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, http.StatusUnprocessableEntity, "malformed request body")
		return
	}
	if err := h.eng.ScheduleHandoff(req.RequesterSessionID, id, req.FilePath); err != nil {
		switch {
		case errors.Is(err, registry.ErrNotFound):
			WriteError(w, http.StatusNotFound, "session not found")
		default:
			WriteError(w, http.StatusOK, err.Error())
		}
		return
	}
	WriteJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type watchRequest struct {
	WatcherSessionID string `json:"watcher_session_id"`
	TimeoutSeconds   int    `json:"timeout_seconds"`
}

// Watch handles POST /sessions/{id}/watch — arms a watch-for-idle job
// (spec.md §4.5.8/§4.6) that polls the target and later delivers an "idle"
// (or timeout) message to the watcher.
func (h *SessionsHandler) Watch(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req watchRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, http.StatusUnprocessableEntity, "malformed request body")
		return
	}
	if req.WatcherSessionID == "" {
		WriteError(w, http.StatusUnprocessableEntity, "watcher_session_id is required")
		return
	}
	timeout := time.Duration(req.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 24 * time.Hour
	}
	watchID, err := h.timer.Watch(id, req.WatcherSessionID, timeout)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "internal error")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"watch_id": watchID})
}

type taskCompleteRequest struct {
	RequesterSessionID string `json:"requester_session_id"`
}

// TaskComplete handles POST /sessions/{id}/task-complete.
func (h *SessionsHandler) TaskComplete(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}
	var req taskCompleteRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, http.StatusUnprocessableEntity, "malformed request body")
		return
	}
	if req.RequesterSessionID != sess.ID {
		WriteError(w, http.StatusOK, "task-complete requester must be the target session")
		return
	}
	_ = h.timer.CancelRemind(sess.ID)
	_ = h.timer.CancelParentWake(sess.ID)

	notifyTarget := sess.ContextNotifyTarget
	if notifyTarget == "" {
		notifyTarget = sess.ParentSessionID
	}
	if notifyTarget != "" {
		label := sess.FriendlyName
		if label == "" {
			label = sess.Name
		}
		_, err := h.eng.QueueMessage(r.Context(), delivery.QueueRequest{
			Target: notifyTarget,
			Text:   "✅ " + label + " completed its task",
			Mode:   model.ModeSequential,
		})
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "internal error")
			return
		}
	}
	WriteJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// InvalidateCache handles POST /sessions/{id}/invalidate-cache.
func (h *SessionsHandler) InvalidateCache(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if err := h.reg.InvalidateCache(sess.ID); err != nil {
		WriteError(w, http.StatusInternalServerError, "internal error")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type notifyOnStopRequest struct {
	SenderSessionID    string `json:"sender_session_id"`
	RequesterSessionID string `json:"requester_session_id"`
}

// NotifyOnStop handles POST /sessions/{id}/notify-on-stop.
func (h *SessionsHandler) NotifyOnStop(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}
	var req notifyOnStopRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, http.StatusUnprocessableEntity, "malformed request body")
		return
	}
	requester, err := h.reg.Get(req.RequesterSessionID)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if requester == nil || !requester.IsEM || sess.ParentSessionID != requester.ID {
		WriteError(w, http.StatusOK, "requester must be the parent session acting as engineering manager")
		return
	}
	sender, err := h.reg.Get(req.SenderSessionID)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if sender == nil {
		WriteError(w, http.StatusOK, "sender session not found")
		return
	}
	senderName := sender.FriendlyName
	if senderName == "" {
		senderName = sender.Name
	}
	h.eng.ArmStopNotify(sess.ID, sender.ID, senderName)
	WriteJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type contextMonitorRequest struct {
	Enabled            bool   `json:"enabled"`
	NotifySessionID    string `json:"notify_session_id,omitempty"`
	RequesterSessionID string `json:"requester_session_id"`
}

// SetContextMonitor handles POST /sessions/{id}/context-monitor.
func (h *SessionsHandler) SetContextMonitor(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}
	var req contextMonitorRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, http.StatusUnprocessableEntity, "malformed request body")
		return
	}
	if req.RequesterSessionID != sess.ID && req.RequesterSessionID != sess.ParentSessionID {
		WriteError(w, http.StatusOK, "requester must be the session itself or its parent")
		return
	}
	if err := h.reg.SetContextMonitor(sess.ID, req.Enabled, req.NotifySessionID); err != nil {
		WriteError(w, http.StatusInternalServerError, "internal error")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// ListContextMonitor handles GET /sessions/context-monitor.
func (h *SessionsHandler) ListContextMonitor(w http.ResponseWriter, r *http.Request) {
	var enrolled []*model.Session
	for _, sess := range h.reg.List(false) {
		if sess.ContextMonitorEnabled {
			enrolled = append(enrolled, sess)
		}
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"sessions": enrolled})
}

// Children handles GET /sessions/{parent}/children.
func (h *SessionsHandler) Children(w http.ResponseWriter, r *http.Request) {
	parentID := mux.Vars(r)["parent"]
	recursive := r.URL.Query().Get("recursive") == "true"
	status := r.URL.Query().Get("status")

	children := h.reg.Children(parentID, recursive)
	if status != "" && status != "all" {
		filtered := children[:0]
		for _, c := range children {
			if string(c.Status) == status {
				filtered = append(filtered, c)
			}
		}
		children = filtered
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"sessions": children})
}

// ToolCalls handles GET /sessions/{id}/tool-calls.
func (h *SessionsHandler) ToolCalls(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}
	limit := intQuery(r, "limit", 50)
	entries, err := h.st.ListToolUseForSession(sess.ID, limit)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "internal error")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"tool_calls": entries})
}

// SendQueue handles GET /sessions/{id}/send-queue.
func (h *SessionsHandler) SendQueue(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}
	info, err := h.eng.SendQueueSnapshot(sess.ID)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "internal error")
		return
	}
	WriteJSON(w, http.StatusOK, info)
}

// LastMessage handles GET /sessions/{id}/last-message: the most recently
// queued message still pending delivery to this session, or null.
func (h *SessionsHandler) LastMessage(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}
	pending, err := h.st.PendingMessagesFor(sess.ID, time.Now())
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if len(pending) == 0 {
		WriteJSON(w, http.StatusOK, map[string]interface{}{"message": nil})
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"message": pending[len(pending)-1]})
}

// sendKeyDirect is the shared terminal call behind Clear and SendKey — it
// bypasses the queue since these are synchronous control keys, not queued
// text deliveries.
func (h *SessionsHandler) sendKeyDirect(ctx context.Context, sess *model.Session, key string) error {
	return h.term.SendKey(ctx, sess.WindowName, key)
}

func intQuery(r *http.Request, name string, def int) int {
	if v := r.URL.Query().Get(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func (h *SessionsHandler) remindSoft() time.Duration {
	return time.Duration(h.cfg.DefaultRemindSoftSecs) * time.Second
}

func (h *SessionsHandler) remindHard() time.Duration {
	return time.Duration(h.cfg.DefaultRemindHardSecs) * time.Second
}

func (h *SessionsHandler) parentWake() time.Duration {
	return time.Duration(h.cfg.DefaultParentWakeSecs) * time.Second
}
