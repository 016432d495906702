package monitor

import "time"

// EventKind enumerates the notification events C4 emits back to its
// callbacks (spec.md §4.4: "on_event(NotificationEvent)").
type EventKind string

const (
	EventPermissionPrompt EventKind = "permission_prompt"
	EventIdle             EventKind = "idle"
	EventCompletion       EventKind = "completion"
	EventError            EventKind = "error"
	EventCrash            EventKind = "crash"
	EventStopped          EventKind = "stopped"
)

// NotificationEvent is what a tick emits when it crosses a detection
// threshold.
type NotificationEvent struct {
	SessionID string
	Kind      EventKind
	Detail    string
	At        time.Time
}

// EventSink receives NotificationEvents and status-change callbacks from
// the monitor (spec.md §4.4 exposed callbacks). Implemented by internal/app's
// App, which fans idle and stopped events out to the delivery engine (C5)
// and timer service (C6).
type EventSink interface {
	OnEvent(ev NotificationEvent)
	OnStatusChange(sessionID string, newStatus string)
	OnSaveState()
}
