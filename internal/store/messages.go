package store

import (
	"database/sql"
	"fmt"
	"time"

	"sm/internal/model"
)

// EnqueueMessage persists a new queued message row (spec.md §4.5.1 step 1).
func (s *Store) EnqueueMessage(m *model.QueuedMessage) error {
	_, err := s.db.Exec(`
		INSERT INTO message_queue (
			id, target, sender, sender_name, text, mode, queued_at, timeout_at,
			notify_on_delivery, notify_after_seconds, notify_on_stop, delivered_at
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		m.ID, m.Target, nullString(m.Sender), nullString(m.SenderName), m.Text, string(m.Mode),
		m.QueuedAt.UTC().Format(time.RFC3339Nano), nullTime(m.TimeoutAt),
		boolToInt(m.NotifyOnDelivery), nullIntPtr(m.NotifyAfterSeconds), boolToInt(m.NotifyOnStop),
		nullTime(m.DeliveredAt),
	)
	if err != nil {
		return fmt.Errorf("store: enqueue message %s: %w", m.ID, err)
	}
	return nil
}

// MarkDelivered stamps a message's delivered_at timestamp.
func (s *Store) MarkDelivered(id string, at time.Time) error {
	_, err := s.db.Exec(`UPDATE message_queue SET delivered_at = ? WHERE id = ?`,
		at.UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("store: mark delivered %s: %w", id, err)
	}
	return nil
}

// DeleteMessage removes a queued message outright (used when a message is
// superseded or its target session disappears).
func (s *Store) DeleteMessage(id string) error {
	_, err := s.db.Exec(`DELETE FROM message_queue WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: delete message %s: %w", id, err)
	}
	return nil
}

// PendingMessagesFor returns the pending messages for a target, FIFO by
// queued_at, matching the invariant in spec.md §3 and the query in §4.2:
// "SELECT ... WHERE delivered_at IS NULL AND (timeout_at IS NULL OR
// timeout_at > now) ORDER BY queued_at".
func (s *Store) PendingMessagesFor(target string, now time.Time) ([]*model.QueuedMessage, error) {
	rows, err := s.db.Query(`
		SELECT id, target, sender, sender_name, text, mode, queued_at, timeout_at,
			notify_on_delivery, notify_after_seconds, notify_on_stop, delivered_at
		FROM message_queue
		WHERE target = ? AND delivered_at IS NULL AND (timeout_at IS NULL OR timeout_at > ?)
		ORDER BY queued_at`,
		target, now.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("store: pending messages for %s: %w", target, err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// AllPendingMessages loads every still-pending message across all targets,
// used during startup recovery (spec.md §4.2).
func (s *Store) AllPendingMessages(now time.Time) ([]*model.QueuedMessage, error) {
	rows, err := s.db.Query(`
		SELECT id, target, sender, sender_name, text, mode, queued_at, timeout_at,
			notify_on_delivery, notify_after_seconds, notify_on_stop, delivered_at
		FROM message_queue
		WHERE delivered_at IS NULL AND (timeout_at IS NULL OR timeout_at > ?)
		ORDER BY queued_at`,
		now.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("store: all pending messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

func scanMessages(rows *sql.Rows) ([]*model.QueuedMessage, error) {
	var out []*model.QueuedMessage
	for rows.Next() {
		var (
			m                                    model.QueuedMessage
			sender, senderName                   sql.NullString
			mode, queuedAt                        string
			timeoutAt, deliveredAt                sql.NullString
			notifyOnDelivery, notifyOnStop        int
			notifyAfterSeconds                    sql.NullInt64
		)
		if err := rows.Scan(&m.ID, &m.Target, &sender, &senderName, &m.Text, &mode, &queuedAt,
			&timeoutAt, &notifyOnDelivery, &notifyAfterSeconds, &notifyOnStop, &deliveredAt); err != nil {
			return nil, fmt.Errorf("store: scan message row: %w", err)
		}
		m.Sender = sender.String
		m.SenderName = senderName.String
		m.Mode = model.DeliveryMode(mode)
		m.NotifyOnDelivery = notifyOnDelivery != 0
		m.NotifyOnStop = notifyOnStop != 0

		var err error
		if m.QueuedAt, err = time.Parse(time.RFC3339Nano, queuedAt); err != nil {
			return nil, fmt.Errorf("store: parse queued_at: %w", err)
		}
		if m.TimeoutAt, err = parseNullTime(nullableString(timeoutAt)); err != nil {
			return nil, err
		}
		if m.DeliveredAt, err = parseNullTime(nullableString(deliveredAt)); err != nil {
			return nil, err
		}
		if notifyAfterSeconds.Valid {
			v := int(notifyAfterSeconds.Int64)
			m.NotifyAfterSeconds = &v
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

func nullIntPtr(p *int) interface{} {
	if p == nil {
		return nil
	}
	return *p
}
