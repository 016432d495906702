package httpapi

import (
	"log"
	"net/http"
	"sync"
	"time"

	"sm/internal/activitylog"
	"sm/internal/config"
	"sm/internal/delivery"
	"sm/internal/hooks"
	"sm/internal/model"
	"sm/internal/registry"
	"sm/internal/store"
	"sm/internal/timer"
)

// HooksHandler serves the webhook sinks the Claude/Codex CLI hook scripts
// post to (spec.md §4.7(b), §6 Hooks). A payload that doesn't resolve to a
// known session is logged and dropped, never a 4xx/5xx: the hook scripts
// run unattended and have no use for an error response.
type HooksHandler struct {
	reg   *registry.Registry
	eng   *delivery.Engine
	timer *timer.Service
	st    *store.Store
	cfg   *config.Config

	logsMu sync.Mutex
	logs   map[string]*activitylog.Logger
}

func NewHooksHandler(reg *registry.Registry, eng *delivery.Engine, tm *timer.Service, st *store.Store, cfg *config.Config) *HooksHandler {
	return &HooksHandler{reg: reg, eng: eng, timer: tm, st: st, cfg: cfg, logs: make(map[string]*activitylog.Logger)}
}

// activityLog returns the (lazily opened, cached) JSONL audit logger for a
// session, so every hook invocation leaves a durable record even though
// the registry only keeps the latest tool name/timestamp in memory.
func (h *HooksHandler) activityLog(sessionID string) *activitylog.Logger {
	h.logsMu.Lock()
	defer h.logsMu.Unlock()
	if l, ok := h.logs[sessionID]; ok {
		return l
	}
	l := activitylog.New(true, h.cfg.ActivityLogPath(sessionID), "hook", sessionID)
	h.logs[sessionID] = l
	return l
}

// Claude handles POST /hooks/claude.
func (h *HooksHandler) Claude(w http.ResponseWriter, r *http.Request) {
	var p hooks.ClaudeHookPayload
	if err := decodeJSON(r, &p); err != nil {
		WriteError(w, http.StatusUnprocessableEntity, "malformed request body")
		return
	}
	sessionID, ok := hooks.MatchClaude(h.reg, p)
	if !ok {
		log.Printf("httpapi: hooks/claude: no session matched %+v", p)
		WriteJSON(w, http.StatusOK, map[string]bool{"ok": true})
		return
	}

	h.activityLog(sessionID).HookEvent(p.HookEventName, "")

	switch p.HookEventName {
	case "Stop":
		if err := h.eng.MarkSessionIdle(r.Context(), sessionID, true); err != nil {
			log.Printf("httpapi: hooks/claude: mark idle %s: %v", sessionID, err)
		}
	case "Notification":
		if p.Message != "" {
			if err := h.reg.SetAgentStatus(sessionID, &p.Message); err != nil {
				log.Printf("httpapi: hooks/claude: set agent status for %s: %v", sessionID, err)
			}
		}
	default:
		log.Printf("httpapi: hooks/claude: unhandled hook_event_name %q", p.HookEventName)
	}
	WriteJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// ToolUse handles POST /hooks/tool-use.
func (h *HooksHandler) ToolUse(w http.ResponseWriter, r *http.Request) {
	var p hooks.ToolUsePayload
	if err := decodeJSON(r, &p); err != nil {
		WriteError(w, http.StatusUnprocessableEntity, "malformed request body")
		return
	}
	sessionID, ok := hooks.MatchToolUse(h.reg, p)
	if !ok {
		log.Printf("httpapi: hooks/tool-use: no session matched %+v", p)
		WriteJSON(w, http.StatusOK, map[string]bool{"ok": true})
		return
	}

	h.activityLog(sessionID).HookEvent(p.HookEventName, p.ToolName)

	now := time.Now()
	entry := &model.ToolUseEntry{
		Timestamp:   now,
		SessionID:   sessionID,
		HookType:    p.HookEventName,
		ToolName:    p.ToolName,
		BashCommand: p.ToolInput,
		ToolUseID:   p.ToolUseID,
		Cwd:         p.Cwd,
		AgentID:     p.AgentID,
	}
	if err := h.st.InsertToolUse(entry); err != nil {
		log.Printf("httpapi: hooks/tool-use: insert audit row for %s: %v", sessionID, err)
	}
	if err := h.reg.RecordToolUse(sessionID, p.ToolName, now); err != nil {
		log.Printf("httpapi: hooks/tool-use: record tool use for %s: %v", sessionID, err)
	}
	WriteJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// ContextUsage handles POST /hooks/context-usage.
func (h *HooksHandler) ContextUsage(w http.ResponseWriter, r *http.Request) {
	var p hooks.ContextUsagePayload
	if err := decodeJSON(r, &p); err != nil {
		WriteError(w, http.StatusUnprocessableEntity, "malformed request body")
		return
	}
	if p.SessionID == "" {
		WriteError(w, http.StatusUnprocessableEntity, "session_id is required")
		return
	}
	event := timer.ContextEvent(p.Event)
	if err := h.timer.HandleContextUsage(r.Context(), p.SessionID, p.UsedPercentage, event); err != nil {
		log.Printf("httpapi: hooks/context-usage: %s: %v", p.SessionID, err)
	}
	WriteJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
