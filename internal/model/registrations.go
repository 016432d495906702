package model

import "time"

// RemindRegistration arms the periodic status-nudge watchdog for a session
// (spec.md §3, §4.6 Remind). One active registration per session.
type RemindRegistration struct {
	SessionID          string
	SoftThresholdSecs  int
	HardThresholdSecs  int
	RegisteredAt       time.Time
}

// ParentWakeRegistration arms a periodic heartbeat from a child back to its
// parent (spec.md §3, §4.6 Parent-wake).
type ParentWakeRegistration struct {
	ChildSessionID  string
	ParentSessionID string
	PeriodSecs      int
	RegisteredAt    time.Time
}

// WatchRegistration is a short-lived "notify me when target goes idle or
// this times out" job (spec.md §3, §4.6 Watch-for-idle).
type WatchRegistration struct {
	ID              string
	WatcherSessionID string
	TargetSessionID  string
	TimeoutSecs      int
	CreatedAt        time.Time
}

// ToolUseEntry is an append-only audit row (spec.md §3).
type ToolUseEntry struct {
	ID              int64
	Timestamp       time.Time
	SessionID       string
	ClaudeSessionID string
	HookType        string // PreToolUse | PostToolUse | SubagentStart | SubagentStop
	ToolName        string
	TargetFile      string
	BashCommand     string
	ToolUseID       string
	Cwd             string
	AgentID         string
}

// ScheduledReminder is a one-shot reminder fired by an agent via
// `sm remind N "..."` (spec.md §4.2 scheduled_reminders table).
type ScheduledReminder struct {
	ID        string
	SessionID string
	FireAt    time.Time
	Message   string
}
