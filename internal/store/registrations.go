package store

import (
	"fmt"
	"time"

	"sm/internal/model"
)

// UpsertRemind persists a remind registration. One active row per session
// (spec.md §3 RemindRegistration), so this is a straight replace.
func (s *Store) UpsertRemind(r *model.RemindRegistration) error {
	_, err := s.db.Exec(`
		INSERT INTO remind_registrations (session_id, soft_threshold_secs, hard_threshold_secs, registered_at)
		VALUES (?,?,?,?)
		ON CONFLICT(session_id) DO UPDATE SET
			soft_threshold_secs=excluded.soft_threshold_secs,
			hard_threshold_secs=excluded.hard_threshold_secs,
			registered_at=excluded.registered_at`,
		r.SessionID, r.SoftThresholdSecs, r.HardThresholdSecs, r.RegisteredAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("store: upsert remind %s: %w", r.SessionID, err)
	}
	return nil
}

// DeleteRemind cancels a session's remind registration (task-complete,
// explicit stop, or session removal).
func (s *Store) DeleteRemind(sessionID string) error {
	_, err := s.db.Exec(`DELETE FROM remind_registrations WHERE session_id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("store: delete remind %s: %w", sessionID, err)
	}
	return nil
}

// ListReminds loads every active remind registration, for the remind
// watchdog's poll loop (spec.md §4.6).
func (s *Store) ListReminds() ([]*model.RemindRegistration, error) {
	rows, err := s.db.Query(`SELECT session_id, soft_threshold_secs, hard_threshold_secs, registered_at FROM remind_registrations`)
	if err != nil {
		return nil, fmt.Errorf("store: list reminds: %w", err)
	}
	defer rows.Close()

	var out []*model.RemindRegistration
	for rows.Next() {
		var r model.RemindRegistration
		var registeredAt string
		if err := rows.Scan(&r.SessionID, &r.SoftThresholdSecs, &r.HardThresholdSecs, &registeredAt); err != nil {
			return nil, fmt.Errorf("store: scan remind row: %w", err)
		}
		if r.RegisteredAt, err = time.Parse(time.RFC3339Nano, registeredAt); err != nil {
			return nil, fmt.Errorf("store: parse remind registered_at: %w", err)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

// UpsertParentWake persists a parent-wake heartbeat registration.
func (s *Store) UpsertParentWake(r *model.ParentWakeRegistration) error {
	_, err := s.db.Exec(`
		INSERT INTO parent_wake_registrations (child_session_id, parent_session_id, period_secs, registered_at)
		VALUES (?,?,?,?)
		ON CONFLICT(child_session_id) DO UPDATE SET
			parent_session_id=excluded.parent_session_id,
			period_secs=excluded.period_secs,
			registered_at=excluded.registered_at`,
		r.ChildSessionID, r.ParentSessionID, r.PeriodSecs, r.RegisteredAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("store: upsert parent-wake %s: %w", r.ChildSessionID, err)
	}
	return nil
}

// DeleteParentWake cancels a child's parent-wake registration.
func (s *Store) DeleteParentWake(childSessionID string) error {
	_, err := s.db.Exec(`DELETE FROM parent_wake_registrations WHERE child_session_id = ?`, childSessionID)
	if err != nil {
		return fmt.Errorf("store: delete parent-wake %s: %w", childSessionID, err)
	}
	return nil
}

// ListParentWakes loads every active parent-wake registration.
func (s *Store) ListParentWakes() ([]*model.ParentWakeRegistration, error) {
	rows, err := s.db.Query(`SELECT child_session_id, parent_session_id, period_secs, registered_at FROM parent_wake_registrations`)
	if err != nil {
		return nil, fmt.Errorf("store: list parent-wakes: %w", err)
	}
	defer rows.Close()

	var out []*model.ParentWakeRegistration
	for rows.Next() {
		var r model.ParentWakeRegistration
		var registeredAt string
		if err := rows.Scan(&r.ChildSessionID, &r.ParentSessionID, &r.PeriodSecs, &registeredAt); err != nil {
			return nil, fmt.Errorf("store: scan parent-wake row: %w", err)
		}
		if r.RegisteredAt, err = time.Parse(time.RFC3339Nano, registeredAt); err != nil {
			return nil, fmt.Errorf("store: parse parent-wake registered_at: %w", err)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

// InsertWatch persists a short-lived watch-for-idle registration (spec.md
// §4.5.8). Ephemeral by design: callers delete it once resolved.
func (s *Store) InsertWatch(w *model.WatchRegistration) error {
	_, err := s.db.Exec(`
		INSERT INTO watch_registrations (id, watcher_session_id, target_session_id, timeout_secs, created_at)
		VALUES (?,?,?,?,?)`,
		w.ID, w.WatcherSessionID, w.TargetSessionID, w.TimeoutSecs, w.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("store: insert watch %s: %w", w.ID, err)
	}
	return nil
}

// DeleteWatch removes a resolved or timed-out watch registration.
func (s *Store) DeleteWatch(id string) error {
	_, err := s.db.Exec(`DELETE FROM watch_registrations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: delete watch %s: %w", id, err)
	}
	return nil
}

// ListWatches loads every outstanding watch registration.
func (s *Store) ListWatches() ([]*model.WatchRegistration, error) {
	rows, err := s.db.Query(`SELECT id, watcher_session_id, target_session_id, timeout_secs, created_at FROM watch_registrations`)
	if err != nil {
		return nil, fmt.Errorf("store: list watches: %w", err)
	}
	defer rows.Close()

	var out []*model.WatchRegistration
	for rows.Next() {
		var w model.WatchRegistration
		var createdAt string
		if err := rows.Scan(&w.ID, &w.WatcherSessionID, &w.TargetSessionID, &w.TimeoutSecs, &createdAt); err != nil {
			return nil, fmt.Errorf("store: scan watch row: %w", err)
		}
		if w.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("store: parse watch created_at: %w", err)
		}
		out = append(out, &w)
	}
	return out, rows.Err()
}

// InsertScheduledReminder persists a one-shot `sm remind N "..."` reminder.
func (s *Store) InsertScheduledReminder(r *model.ScheduledReminder) error {
	_, err := s.db.Exec(`
		INSERT INTO scheduled_reminders (id, session_id, fire_at, message) VALUES (?,?,?,?)`,
		r.ID, r.SessionID, r.FireAt.UTC().Format(time.RFC3339Nano), r.Message)
	if err != nil {
		return fmt.Errorf("store: insert scheduled reminder %s: %w", r.ID, err)
	}
	return nil
}

// DeleteScheduledReminder removes a fired or cancelled one-shot reminder.
func (s *Store) DeleteScheduledReminder(id string) error {
	_, err := s.db.Exec(`DELETE FROM scheduled_reminders WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: delete scheduled reminder %s: %w", id, err)
	}
	return nil
}

// DueScheduledReminders loads reminders whose fire_at has passed.
func (s *Store) DueScheduledReminders(now time.Time) ([]*model.ScheduledReminder, error) {
	rows, err := s.db.Query(`SELECT id, session_id, fire_at, message FROM scheduled_reminders WHERE fire_at <= ?`,
		now.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("store: due scheduled reminders: %w", err)
	}
	defer rows.Close()

	var out []*model.ScheduledReminder
	for rows.Next() {
		var r model.ScheduledReminder
		var fireAt string
		if err := rows.Scan(&r.ID, &r.SessionID, &fireAt, &r.Message); err != nil {
			return nil, fmt.Errorf("store: scan scheduled reminder row: %w", err)
		}
		if r.FireAt, err = time.Parse(time.RFC3339Nano, fireAt); err != nil {
			return nil, fmt.Errorf("store: parse fire_at: %w", err)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}
