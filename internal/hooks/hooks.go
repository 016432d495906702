// Package hooks defines the payload shapes posted by the Claude/Codex CLI
// hook scripts to C7's webhook sinks, and the session-matching rule
// spec.md §4.7(b) requires when a payload arrives without an explicit,
// already-resolved session id.
package hooks

import "sm/internal/registry"

// ClaudeHookPayload is the body of POST /hooks/claude.
type ClaudeHookPayload struct {
	HookEventName    string `json:"hook_event_name"`
	SessionManagerID string `json:"session_manager_id,omitempty"`
	SessionID        string `json:"session_id,omitempty"`
	TranscriptPath   string `json:"transcript_path,omitempty"`
	NotificationType string `json:"notification_type,omitempty"`
	Message          string `json:"message,omitempty"`
}

// ToolUsePayload is the body of POST /hooks/tool-use.
type ToolUsePayload struct {
	HookEventName    string `json:"hook_event_name"`
	SessionManagerID string `json:"session_manager_id,omitempty"`
	ToolName         string `json:"tool_name"`
	ToolInput        string `json:"tool_input,omitempty"`
	ToolResponse     string `json:"tool_response,omitempty"`
	ToolUseID        string `json:"tool_use_id,omitempty"`
	Cwd              string `json:"cwd,omitempty"`
	AgentID          string `json:"agent_id,omitempty"`
}

// ContextUsagePayload is the body of POST /hooks/context-usage.
type ContextUsagePayload struct {
	SessionID        string   `json:"session_id"`
	UsedPercentage   *float64 `json:"used_percentage,omitempty"`
	TotalInputTokens *int64   `json:"total_input_tokens,omitempty"`
	Event            string   `json:"event,omitempty"`
	Trigger          string   `json:"trigger,omitempty"`
}

// MatchClaude implements spec.md §4.7(b)'s three-step match for the Claude
// hook family: session-manager id env var, then transcript path (only if
// the session already recorded one), then the agent-internal session id.
// It never errors on a miss — callers log and drop, per spec.md §7.
func MatchClaude(reg *registry.Registry, p ClaudeHookPayload) (string, bool) {
	if p.SessionManagerID != "" {
		if sess, err := reg.Get(p.SessionManagerID); err == nil && sess != nil {
			return sess.ID, true
		}
	}
	if p.TranscriptPath != "" {
		if id, ok := matchByTranscript(reg, p.TranscriptPath); ok {
			return id, true
		}
	}
	if p.SessionID != "" {
		if sess, err := reg.Get(p.SessionID); err == nil && sess != nil {
			return sess.ID, true
		}
	}
	return "", false
}

// MatchToolUse applies the same three-step rule to the tool-use hook
// family, whose only session-manager-id-equivalent field is
// SessionManagerID; there is no separate transcript/session_id pair, so
// only the first step applies.
func MatchToolUse(reg *registry.Registry, p ToolUsePayload) (string, bool) {
	if p.SessionManagerID != "" {
		if sess, err := reg.Get(p.SessionManagerID); err == nil && sess != nil {
			return sess.ID, true
		}
	}
	return "", false
}

func matchByTranscript(reg *registry.Registry, transcriptPath string) (string, bool) {
	for _, sess := range reg.List(true) {
		if sess.TranscriptPath != "" && sess.TranscriptPath == transcriptPath {
			return sess.ID, true
		}
	}
	return "", false
}
