package model

import "time"

// DeliveryMode selects the discipline used by the delivery engine (spec.md §4.5).
type DeliveryMode string

const (
	ModeSequential DeliveryMode = "sequential"
	ModeImportant  DeliveryMode = "important"
	ModeUrgent     DeliveryMode = "urgent"
	// ModeSteer is the Codex-only variant noted as an Open Question in
	// spec.md §9: it differs from ModeUrgent only by omitting the initial
	// Escape. See DESIGN.md for the chosen interpretation.
	ModeSteer DeliveryMode = "steer"
)

// QueuedMessage is a message addressed to a target session (spec.md §3).
type QueuedMessage struct {
	ID         string
	Target     string
	Sender     string // sender session id, optional
	SenderName string
	Text       string
	Mode       DeliveryMode

	QueuedAt  time.Time
	TimeoutAt *time.Time

	NotifyAfterSeconds *int  // follow-up reminder to sender after N seconds, sent unconditionally
	NotifyOnDelivery   bool  // fire a notification to the sender once delivered
	NotifyOnStop       bool  // fire a one-shot "I've stopped" message on the next idle edge

	DeliveredAt *time.Time
}

// Pending reports whether the message is still eligible for delivery,
// matching the invariant in spec.md §3: delivered_at IS NULL AND
// (timeout_at IS NULL OR now < timeout_at).
func (m *QueuedMessage) Pending(now time.Time) bool {
	if m.DeliveredAt != nil {
		return false
	}
	if m.TimeoutAt != nil && !now.Before(*m.TimeoutAt) {
		return false
	}
	return true
}

// MarkDelivered stamps the message as delivered at the given time.
func (m *QueuedMessage) MarkDelivered(at time.Time) {
	t := at
	m.DeliveredAt = &t
}
