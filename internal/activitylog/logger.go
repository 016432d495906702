// Package activitylog appends one JSON line per hook/tool/state event to a
// per-session activity log, grounded on the teacher's
// internal/session/agent/shared/eventstore append-only JSONL store.
package activitylog

import (
	"encoding/json"
	"os"
	"sync"
	"time"
)

// Logger appends JSONL entries for a single session. A disabled Logger (or
// one built with Nop) is a complete no-op, so callers never branch on
// whether activity logging is turned on.
type Logger struct {
	mu        sync.Mutex
	file      *os.File
	enabled   bool
	actor     string
	sessionID string
}

// New opens (creating if necessary) the JSONL file at path. When enabled is
// false, the returned Logger discards every call without touching disk.
func New(enabled bool, path, actor, sessionID string) *Logger {
	l := &Logger{enabled: enabled, actor: actor, sessionID: sessionID}
	if !enabled {
		return l
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		// A broken activity log must never take a session down with it.
		l.enabled = false
		return l
	}
	l.file = f
	return l
}

// Nop returns a Logger that discards every call, for callers with no
// session context yet (e.g. before a session record exists).
func Nop() *Logger {
	return &Logger{}
}

// Close closes the underlying file, if any.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

type entry struct {
	Timestamp string `json:"ts"`
	Actor     string `json:"actor,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Event     string `json:"event"`

	HookEvent string `json:"hook_event,omitempty"`
	ToolName  string `json:"tool_name,omitempty"`

	Decision string `json:"decision,omitempty"`
	Reason   string `json:"reason,omitempty"`

	InputTokens  int64   `json:"input_tokens,omitempty"`
	OutputTokens int64   `json:"output_tokens,omitempty"`
	CostUSD      float64 `json:"cost_usd,omitempty"`

	Endpoint string `json:"endpoint,omitempty"`

	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`
}

func (l *Logger) write(e entry) {
	if !l.enabled {
		return
	}
	e.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	e.Actor = l.actor
	e.SessionID = l.sessionID

	data, err := json.Marshal(e)
	if err != nil {
		return
	}
	data = append(data, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = l.file.Write(data)
}

// HookEvent records a hook invocation (spec.md §4.7): PreToolUse,
// PostToolUse, Stop, SubagentStart, SubagentStop, SessionStart, and so on.
func (l *Logger) HookEvent(event, toolName string) {
	l.write(entry{Event: "hook", HookEvent: event, ToolName: toolName})
}

// PermissionDecision records an allow/deny/ask decision reached by a
// PreToolUse hook.
func (l *Logger) PermissionDecision(toolName, decision, reason string) {
	l.write(entry{Event: "permission_decision", ToolName: toolName, Decision: decision, Reason: reason})
}

// OtelMetrics records a token/cost sample mirrored from the agent's OTEL
// exporter (spec.md §4.7(c)).
func (l *Logger) OtelMetrics(inputTokens, outputTokens int64, costUSD float64) {
	l.write(entry{Event: "otel_metrics", InputTokens: inputTokens, OutputTokens: outputTokens, CostUSD: costUSD})
}

// OtelConnected records that the OTEL collector received its first export
// from this session.
func (l *Logger) OtelConnected(endpoint string) {
	l.write(entry{Event: "otel_connected", Endpoint: endpoint})
}

// StateChange records an activity_state transition (spec.md §4.3).
func (l *Logger) StateChange(from, to string) {
	l.write(entry{Event: "state_change", From: from, To: to})
}
