// Package model defines the data types shared by the session registry,
// delivery engine, timer service, persistence store, and HTTP surface.
package model

import (
	"encoding/json"
	"regexp"
	"time"
)

// Provider identifies the kind of agent process a Session wraps.
type Provider string

const (
	ProviderClaude   Provider = "claude"
	ProviderCodex    Provider = "codex"
	ProviderCodexApp Provider = "codex-app"
)

// Status is the session's own reported lifecycle status.
type Status string

const (
	StatusRunning            Status = "running"
	StatusIdle               Status = "idle"
	StatusWaitingPermission  Status = "waiting_permission"
	StatusStopped            Status = "stopped"
	StatusError              Status = "error"
)

// ActivityState is the derived state exposed to callers (spec.md §4.3).
type ActivityState string

const (
	ActivityThinking          ActivityState = "thinking"
	ActivityWorking           ActivityState = "working"
	ActivityWaitingPermission ActivityState = "waiting_permission"
	ActivityWaitingInput      ActivityState = "waiting_input"
	ActivityIdle              ActivityState = "idle"
	ActivityUnknown           ActivityState = "unknown"
)

// FriendlyNamePattern is the validation regex for user-chosen session names.
var FriendlyNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,32}$`)

// Subagent tracks a Task-tool fan-out spawned by a session, recovered from
// original_source/src/models.py (Subagent dataclass; see SPEC_FULL.md).
type Subagent struct {
	AgentID         string     `json:"agent_id"`
	AgentType       string     `json:"agent_type"`
	ParentSessionID string     `json:"parent_session_id"`
	TranscriptPath  string     `json:"transcript_path,omitempty"`
	StartedAt       time.Time  `json:"started_at"`
	StoppedAt       *time.Time `json:"stopped_at,omitempty"`
	Status          string     `json:"status"`
	Summary         string     `json:"summary,omitempty"`
}

// Session is the primary entity described in spec.md §3.
type Session struct {
	ID           string
	Name         string // "<provider>-<id>", stable machine name
	FriendlyName string
	WorkingDir   string
	WindowName   string
	Provider     Provider
	Status       Status
	CreatedAt    time.Time
	LastActivity time.Time

	ParentSessionID string
	IsEM            bool
	Role            string
	Task            string

	CompletionStatus string
	AgentStatusText  string
	AgentStatusAt    *time.Time

	TokensUsed   int64
	ToolCounts   map[string]int
	LastToolName string
	LastToolAt   *time.Time

	// ContextMonitorEnrolment fields (spec.md §3 ContextMonitorEnrolment).
	ContextMonitorEnabled bool
	ContextNotifyTarget   string
	ContextWarningSent    bool
	ContextCriticalSent   bool
	Compacting            bool

	TranscriptPath   string
	TelegramChatID   *int64
	TelegramThreadID *int64 // formerly telegram_topic_id; see sessionJSON below
	LastHandoffPath  string

	// Supplemented from original_source/src/models.py: Session.git_remote_url.
	GitRemoteURL string

	Subagents []Subagent
}

// NewSession builds a Session with sane defaults for fields the caller
// doesn't set explicitly. id must already be the 8-hex-char short id.
func NewSession(id string, provider Provider, workingDir string) *Session {
	now := time.Now()
	return &Session{
		ID:           id,
		Name:         string(provider) + "-" + id,
		WindowName:   string(provider) + "-" + id,
		WorkingDir:   workingDir,
		Provider:     provider,
		Status:       StatusRunning,
		CreatedAt:    now,
		LastActivity: now,
		ToolCounts:   make(map[string]int),
	}
}

// ActivityState derives the session's activity_state per spec.md §4.3.
// externalCodexApp, when non-nil, supplies the three codex-app signals
// (in-flight turn, recent delta, wait-state); it is nil for tmux-hosted
// providers, which derive state directly from Status.
func (s *Session) ActivityState(codexApp *CodexAppSignals) ActivityState {
	if s.Provider == ProviderCodexApp && codexApp != nil {
		return codexApp.Derive()
	}
	switch s.Status {
	case StatusRunning:
		return ActivityWorking
	case StatusIdle:
		return ActivityIdle
	case StatusWaitingPermission:
		return ActivityWaitingPermission
	default:
		return ActivityUnknown
	}
}

// CodexAppSignals holds the three external signals the registry consults to
// derive activity_state for a codex-app session (spec.md §4.3).
type CodexAppSignals struct {
	InFlight           bool
	RecentDelta        bool // a delta arrived within the "recent" window
	WaitingPermission  bool // waiting_permission reported within last 10s
	WaitingInput       bool // waiting_input reported within last 10s
}

// Derive implements the codex-app activity_state rule from spec.md §4.3.
func (c CodexAppSignals) Derive() ActivityState {
	if c.InFlight && !c.RecentDelta {
		return ActivityThinking
	}
	if c.InFlight && c.RecentDelta {
		return ActivityWorking
	}
	if c.WaitingPermission {
		return ActivityWaitingPermission
	}
	if c.WaitingInput {
		return ActivityWaitingInput
	}
	return ActivityIdle
}

// sessionJSON is the wire format for Session. It round-trips the legacy
// telegram_topic_id field name: a snapshot written by an older version is
// read back into TelegramThreadID, and every write uses the new name only
// (spec.md §8 round-trip law).
type sessionJSON struct {
	ID                    string          `json:"id"`
	Name                  string          `json:"name"`
	FriendlyName          string          `json:"friendly_name,omitempty"`
	WorkingDir            string          `json:"working_dir"`
	WindowName            string          `json:"window_name"`
	Provider              Provider        `json:"provider"`
	Status                Status          `json:"status"`
	CreatedAt             time.Time       `json:"created_at"`
	LastActivity          time.Time       `json:"last_activity"`
	ParentSessionID       string          `json:"parent_session_id,omitempty"`
	IsEM                  bool            `json:"is_em,omitempty"`
	Role                  string          `json:"role,omitempty"`
	Task                  string          `json:"task,omitempty"`
	CompletionStatus      string          `json:"completion_status,omitempty"`
	AgentStatusText       string          `json:"agent_status_text,omitempty"`
	AgentStatusAt         *time.Time      `json:"agent_status_at,omitempty"`
	TokensUsed            int64           `json:"tokens_used"`
	ToolCounts            map[string]int  `json:"tool_counts,omitempty"`
	LastToolName          string          `json:"last_tool_name,omitempty"`
	LastToolAt            *time.Time      `json:"last_tool_at,omitempty"`
	ContextMonitorEnabled bool            `json:"context_monitor_enabled,omitempty"`
	ContextNotifyTarget   string          `json:"context_notify_target,omitempty"`
	ContextWarningSent    bool            `json:"context_warning_sent,omitempty"`
	ContextCriticalSent   bool            `json:"context_critical_sent,omitempty"`
	Compacting            bool            `json:"compacting,omitempty"`
	TranscriptPath        string          `json:"transcript_path,omitempty"`
	TelegramChatID        *int64          `json:"telegram_chat_id,omitempty"`
	TelegramThreadID      *int64          `json:"telegram_thread_id,omitempty"`
	TelegramTopicIDLegacy *int64          `json:"telegram_topic_id,omitempty"` // legacy name, read-only
	LastHandoffPath       string          `json:"last_handoff_path,omitempty"`
	GitRemoteURL          string          `json:"git_remote_url,omitempty"`
	Subagents             []Subagent      `json:"subagents,omitempty"`
}

// MarshalJSON writes the session using only the current field name,
// telegram_thread_id.
func (s *Session) MarshalJSON() ([]byte, error) {
	return json.Marshal(sessionJSON{
		ID:                    s.ID,
		Name:                  s.Name,
		FriendlyName:          s.FriendlyName,
		WorkingDir:            s.WorkingDir,
		WindowName:            s.WindowName,
		Provider:              s.Provider,
		Status:                s.Status,
		CreatedAt:             s.CreatedAt,
		LastActivity:          s.LastActivity,
		ParentSessionID:       s.ParentSessionID,
		IsEM:                  s.IsEM,
		Role:                  s.Role,
		Task:                  s.Task,
		CompletionStatus:      s.CompletionStatus,
		AgentStatusText:       s.AgentStatusText,
		AgentStatusAt:         s.AgentStatusAt,
		TokensUsed:            s.TokensUsed,
		ToolCounts:            s.ToolCounts,
		LastToolName:          s.LastToolName,
		LastToolAt:            s.LastToolAt,
		ContextMonitorEnabled: s.ContextMonitorEnabled,
		ContextNotifyTarget:   s.ContextNotifyTarget,
		ContextWarningSent:    s.ContextWarningSent,
		ContextCriticalSent:   s.ContextCriticalSent,
		Compacting:            s.Compacting,
		TranscriptPath:        s.TranscriptPath,
		TelegramChatID:        s.TelegramChatID,
		TelegramThreadID:      s.TelegramThreadID,
		LastHandoffPath:       s.LastHandoffPath,
		GitRemoteURL:          s.GitRemoteURL,
		Subagents:             s.Subagents,
	})
}

// UnmarshalJSON reads either the current telegram_thread_id field or the
// legacy telegram_topic_id field, preferring the former when both are
// present.
func (s *Session) UnmarshalJSON(data []byte) error {
	var j sessionJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	*s = Session{
		ID:                    j.ID,
		Name:                  j.Name,
		FriendlyName:          j.FriendlyName,
		WorkingDir:            j.WorkingDir,
		WindowName:            j.WindowName,
		Provider:              j.Provider,
		Status:                j.Status,
		CreatedAt:             j.CreatedAt,
		LastActivity:          j.LastActivity,
		ParentSessionID:       j.ParentSessionID,
		IsEM:                  j.IsEM,
		Role:                  j.Role,
		Task:                  j.Task,
		CompletionStatus:      j.CompletionStatus,
		AgentStatusText:       j.AgentStatusText,
		AgentStatusAt:         j.AgentStatusAt,
		TokensUsed:            j.TokensUsed,
		ToolCounts:            j.ToolCounts,
		LastToolName:          j.LastToolName,
		LastToolAt:            j.LastToolAt,
		ContextMonitorEnabled: j.ContextMonitorEnabled,
		ContextNotifyTarget:   j.ContextNotifyTarget,
		ContextWarningSent:    j.ContextWarningSent,
		ContextCriticalSent:   j.ContextCriticalSent,
		Compacting:            j.Compacting,
		TranscriptPath:        j.TranscriptPath,
		TelegramChatID:        j.TelegramChatID,
		TelegramThreadID:      j.TelegramThreadID,
		LastHandoffPath:       j.LastHandoffPath,
		GitRemoteURL:          j.GitRemoteURL,
		Subagents:             j.Subagents,
	}
	if s.TelegramThreadID == nil && j.TelegramTopicIDLegacy != nil {
		s.TelegramThreadID = j.TelegramTopicIDLegacy
	}
	if s.ToolCounts == nil {
		s.ToolCounts = make(map[string]int)
	}
	return nil
}
