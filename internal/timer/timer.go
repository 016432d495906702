// Package timer implements C6, the timer service (spec.md §4.6): remind,
// parent-wake, watch-for-idle, and the context-usage alert state machine.
// The first three are cooperative goroutines, one per registration,
// cancelled by id, grounded on the teacher's daemon run-loop
// (internal/daemon/daemon.go) generalized from one process-wide loop into
// one job per registration; the context-usage state machine is event-driven
// (HandleContextUsage). Parent-wake heartbeats fire on
// github.com/teambition/rrule-go's secondly recurrence rule, adopted from
// the teacher's go.mod dependency list (see DESIGN.md); the remind
// watchdog uses a plain time.Ticker.
package timer

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/teambition/rrule-go"

	"sm/internal/config"
	"sm/internal/delivery"
	"sm/internal/model"
	"sm/internal/registry"
	"sm/internal/store"
)

// Service owns every cancellable timer job.
type Service struct {
	mu          sync.Mutex
	reminds     map[string]context.CancelFunc
	parentWakes map[string]context.CancelFunc
	watches     map[string]context.CancelFunc

	reg *registry.Registry
	eng *delivery.Engine
	st  *store.Store
	cfg *config.Config
}

// New constructs a Service. Callers should follow with Recover to resume
// registrations persisted from a prior run.
func New(reg *registry.Registry, eng *delivery.Engine, st *store.Store, cfg *config.Config) *Service {
	return &Service{
		reminds:     make(map[string]context.CancelFunc),
		parentWakes: make(map[string]context.CancelFunc),
		watches:     make(map[string]context.CancelFunc),
		reg:         reg,
		eng:         eng,
		st:          st,
		cfg:         cfg,
	}
}

// Recover re-arms every registration persisted in C2, called once at
// startup after the registry itself has recovered (spec.md §4.2).
func (s *Service) Recover() error {
	reminds, err := s.st.ListReminds()
	if err != nil {
		return fmt.Errorf("timer: recover reminds: %w", err)
	}
	for _, r := range reminds {
		s.startRemind(r.SessionID, r.SoftThresholdSecs, r.HardThresholdSecs)
	}

	wakes, err := s.st.ListParentWakes()
	if err != nil {
		return fmt.Errorf("timer: recover parent-wakes: %w", err)
	}
	for _, w := range wakes {
		s.startParentWake(w.ChildSessionID, w.ParentSessionID, w.PeriodSecs)
	}

	watches, err := s.st.ListWatches()
	if err != nil {
		return fmt.Errorf("timer: recover watches: %w", err)
	}
	for _, w := range watches {
		remaining := time.Duration(w.TimeoutSecs)*time.Second - time.Since(w.CreatedAt)
		if remaining <= 0 {
			_ = s.st.DeleteWatch(w.ID)
			continue
		}
		s.startWatch(w.ID, w.WatcherSessionID, w.TargetSessionID, remaining)
	}
	return nil
}

// --- Remind (spec.md §4.6 Remind) ---

// RegisterRemind arms the periodic status-nudge watchdog.
func (s *Service) RegisterRemind(sessionID string, soft, hard time.Duration) error {
	reg := &model.RemindRegistration{
		SessionID:         sessionID,
		SoftThresholdSecs: int(soft.Seconds()),
		HardThresholdSecs: int(hard.Seconds()),
		RegisteredAt:      time.Now(),
	}
	if err := s.st.UpsertRemind(reg); err != nil {
		return err
	}
	s.startRemind(sessionID, reg.SoftThresholdSecs, reg.HardThresholdSecs)
	return nil
}

// CancelRemind stops a session's remind watchdog (task-complete, session
// stop, or explicit status update per spec.md §4.6).
func (s *Service) CancelRemind(sessionID string) error {
	s.mu.Lock()
	if cancel, ok := s.reminds[sessionID]; ok {
		cancel()
		delete(s.reminds, sessionID)
	}
	s.mu.Unlock()
	return s.st.DeleteRemind(sessionID)
}

func (s *Service) startRemind(sessionID string, softSecs, hardSecs int) {
	s.mu.Lock()
	if cancel, ok := s.reminds[sessionID]; ok {
		cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.reminds[sessionID] = cancel
	s.mu.Unlock()

	go s.runRemind(ctx, sessionID, time.Duration(softSecs)*time.Second, time.Duration(hardSecs)*time.Second)
}

func (s *Service) runRemind(ctx context.Context, sessionID string, soft, hard time.Duration) {
	ticker := time.NewTicker(soft)
	defer ticker.Stop()

	hardFired := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sess, err := s.reg.Get(sessionID)
			if err != nil || sess == nil {
				return
			}
			if s.eng.IsCompacting(sessionID) {
				continue
			}
			since := time.Since(sess.LastActivity)
			if sess.AgentStatusAt != nil {
				since = time.Since(*sess.AgentStatusAt)
			}
			if since < soft {
				hardFired = false
				continue
			}
			urgent := since >= hard
			if urgent && hardFired {
				continue
			}
			mode := model.ModeImportant
			text := fmt.Sprintf("Status update requested: it's been %s since your last update.", since.Round(time.Second))
			if urgent {
				mode = model.ModeUrgent
				text = fmt.Sprintf("⚠️ Urgent: it's been %s with no status update.", since.Round(time.Second))
				hardFired = true
			}
			if _, err := s.eng.QueueMessage(ctx, delivery.QueueRequest{Target: sessionID, Text: text, Mode: mode}); err != nil {
				log.Printf("timer: remind %s: %v", sessionID, err)
			}
		}
	}
}

// --- Parent-wake (spec.md §4.6 Parent-wake) ---

// RegisterParentWake arms a periodic heartbeat from child to parent.
func (s *Service) RegisterParentWake(childID, parentID string, period time.Duration) error {
	reg := &model.ParentWakeRegistration{
		ChildSessionID:  childID,
		ParentSessionID: parentID,
		PeriodSecs:      int(period.Seconds()),
		RegisteredAt:    time.Now(),
	}
	if err := s.st.UpsertParentWake(reg); err != nil {
		return err
	}
	s.startParentWake(childID, parentID, reg.PeriodSecs)
	return nil
}

// CancelParentWake stops a child's heartbeat (task completion or stop).
func (s *Service) CancelParentWake(childID string) error {
	s.mu.Lock()
	if cancel, ok := s.parentWakes[childID]; ok {
		cancel()
		delete(s.parentWakes, childID)
	}
	s.mu.Unlock()
	return s.st.DeleteParentWake(childID)
}

func (s *Service) startParentWake(childID, parentID string, periodSecs int) {
	s.mu.Lock()
	if cancel, ok := s.parentWakes[childID]; ok {
		cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.parentWakes[childID] = cancel
	s.mu.Unlock()

	go s.runParentWake(ctx, childID, parentID, periodSecs)
}

// runParentWake fires on an rrule.RRule SECONDLY recurrence rather than a
// bare ticker, so the same cadence machinery as a future cron-like "remind
// me every N" CLI feature can be reused without a second scheduler.
func (s *Service) runParentWake(ctx context.Context, childID, parentID string, periodSecs int) {
	if periodSecs <= 0 {
		periodSecs = 1
	}
	rule, err := rrule.NewRRule(rrule.ROption{
		Freq:     rrule.SECONDLY,
		Interval: periodSecs,
		Dtstart:  time.Now(),
	})
	if err != nil {
		log.Printf("timer: parent-wake rrule for %s: %v", childID, err)
		return
	}

	for {
		next := rule.After(time.Now(), false)
		wait := time.Until(next)
		if wait < 0 {
			wait = 0
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}

		child, err := s.reg.Get(childID)
		if err != nil || child == nil || child.Status == model.StatusStopped {
			return
		}
		text := fmt.Sprintf("💓 heartbeat from %s", displayName(child))
		if _, err := s.eng.QueueMessage(ctx, delivery.QueueRequest{Target: parentID, Text: text, Mode: model.ModeSequential}); err != nil {
			log.Printf("timer: parent-wake %s: %v", childID, err)
		}
	}
}

func displayName(sess *model.Session) string {
	if sess.FriendlyName != "" {
		return sess.FriendlyName
	}
	return sess.Name
}

// --- Watch-for-idle (spec.md §4.6 Watch-for-idle) ---

// Watch registers a background poll of target and returns immediately with
// a short id (spec.md §4.5.8).
func (s *Service) Watch(target, watcher string, timeout time.Duration) (string, error) {
	id := uuid.New().String()[:8]
	reg := &model.WatchRegistration{
		ID:               id,
		WatcherSessionID: watcher,
		TargetSessionID:  target,
		TimeoutSecs:      int(timeout.Seconds()),
		CreatedAt:        time.Now(),
	}
	if err := s.st.InsertWatch(reg); err != nil {
		return "", err
	}
	s.startWatch(id, watcher, target, timeout)
	return id, nil
}

func (s *Service) startWatch(id, watcher, target string, timeout time.Duration) {
	s.mu.Lock()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	s.watches[id] = cancel
	s.mu.Unlock()

	go s.runWatch(ctx, id, watcher, target, timeout)
}

func (s *Service) finishWatch(id, watcher, text string) {
	s.mu.Lock()
	if cancel, ok := s.watches[id]; ok {
		cancel()
		delete(s.watches, id)
	}
	s.mu.Unlock()
	_ = s.st.DeleteWatch(id)
	if _, err := s.eng.QueueMessage(context.Background(), delivery.QueueRequest{Target: watcher, Text: text, Mode: model.ModeSequential}); err != nil {
		log.Printf("timer: watch %s notify: %v", id, err)
	}
}

// runWatch implements the four-phase poll loop (spec.md §4.6).
func (s *Service) runWatch(ctx context.Context, id, watcher, target string, timeout time.Duration) {
	ticker := time.NewTicker(s.cfg.WatchPollInterval)
	defer ticker.Stop()

	readyStreak := 0
	for {
		select {
		case <-ctx.Done():
			if ctx.Err() == context.DeadlineExceeded {
				s.finishWatch(id, watcher, fmt.Sprintf("Timeout: %s still active", target))
			}
			return
		case <-ticker.C:
		}

		sess, err := s.reg.Get(target)
		if err != nil {
			log.Printf("timer: watch %s: %v", id, err)
			continue
		}
		if sess == nil {
			s.finishWatch(id, watcher, fmt.Sprintf("%s no longer exists", target))
			return
		}

		if s.eng.LastStopNotifyWithin(watcher, time.Now(), s.cfg.StopNotifySuppress) {
			continue
		}

		hasPending, err := s.eng.HasPendingDelivery(target)
		if err != nil {
			log.Printf("timer: watch %s pending check: %v", id, err)
		}

		// Phase 1 (memory).
		if s.eng.IsIdle(target) && !hasPending && !s.eng.IsPasteBuffered(target) {
			s.finishWatch(id, watcher, fmt.Sprintf("%s is now idle", displayName(sess)))
			return
		}

		tmuxHosted := sess.Provider == model.ProviderClaude || sess.Provider == model.ProviderCodex
		ready := false
		if tmuxHosted && sess.WindowName != "" {
			ready = s.eng.ProbeReady(ctx, sess.WindowName)
		}
		if ready {
			readyStreak++
		} else {
			readyStreak = 0
		}

		// Phase 2 (terminal probe): two consecutive ready observations.
		if tmuxHosted && readyStreak >= 2 {
			s.finishWatch(id, watcher, fmt.Sprintf("%s is now idle", displayName(sess)))
			return
		}

		// Phase 3 (session status fallback): no terminal window, status idle.
		if sess.WindowName == "" && sess.Status == model.StatusIdle {
			s.finishWatch(id, watcher, fmt.Sprintf("%s is now idle", displayName(sess)))
			return
		}

		// Phase 4 (stuck-pending tiebreaker).
		if s.eng.IsIdle(target) && hasPending && tmuxHosted && readyStreak >= 2 {
			s.finishWatch(id, watcher, fmt.Sprintf("%s is now idle", displayName(sess)))
			return
		}
	}
}

// --- Context-usage alerts (spec.md §4.5.9, §4.6 Context-usage alerts) ---

// ContextEvent enumerates the context-usage hook's event kinds.
type ContextEvent string

const (
	ContextEventUsage              ContextEvent = ""
	ContextEventCompaction         ContextEvent = "compaction"
	ContextEventCompactionComplete ContextEvent = "compaction_complete"
	ContextEventContextReset       ContextEvent = "context_reset"
)

// HandleContextUsage implements the event-driven alert state machine.
func (s *Service) HandleContextUsage(ctx context.Context, sessionID string, usedPercentage *float64, event ContextEvent) error {
	sess, err := s.reg.Get(sessionID)
	if err != nil {
		return err
	}
	if sess == nil {
		return registry.ErrNotFound
	}

	switch event {
	case ContextEventCompaction:
		s.eng.SetCompacting(sessionID, true)
		sess.ContextWarningSent = false
		sess.ContextCriticalSent = false
		return s.reg.Save(sess)
	case ContextEventCompactionComplete, ContextEventContextReset:
		s.eng.SetCompacting(sessionID, false)
		sess.ContextWarningSent = false
		sess.ContextCriticalSent = false
		return s.reg.Save(sess)
	}

	if !sess.ContextMonitorEnabled || usedPercentage == nil {
		return nil
	}
	pct := *usedPercentage

	if pct >= s.cfg.ContextCriticalPercentage && !sess.ContextCriticalSent {
		sess.ContextCriticalSent = true
		if err := s.reg.Save(sess); err != nil {
			return err
		}
		return s.sendContextAlert(ctx, sess, "critical", pct)
	}
	if pct >= s.cfg.ContextWarningPercentage && !sess.ContextWarningSent {
		sess.ContextWarningSent = true
		if err := s.reg.Save(sess); err != nil {
			return err
		}
		return s.sendContextAlert(ctx, sess, "warning", pct)
	}
	return nil
}

// sendContextAlert queues the warning/critical notification. The warning
// path uses model.ModeSequential and the critical path model.ModeUrgent,
// matching the escalation the Stop-hook path uses elsewhere for severity.
func (s *Service) sendContextAlert(ctx context.Context, sess *model.Session, level string, pct float64) error {
	target := sess.ContextNotifyTarget
	if target == "" {
		target = sess.ID
	}
	selfDirected := target == sess.ID

	var text string
	switch {
	case level == "critical" && selfDirected:
		text = fmt.Sprintf("🔴 Context usage critically high (%.0f%%). Consider writing a handoff doc and running `sm handoff` before you run out of room.", pct)
	case level == "critical" && !selfDirected:
		text = fmt.Sprintf("🔴 Child %s's context usage is critically high (%.0f%%).", displayName(sess), pct)
	case selfDirected:
		text = fmt.Sprintf("🟡 Context usage at %.0f%%. Consider writing a handoff doc soon.", pct)
	default:
		text = fmt.Sprintf("🟡 Child %s's context usage is at %.0f%%.", displayName(sess), pct)
	}

	mode := model.ModeSequential
	if level == "critical" {
		mode = model.ModeUrgent
	}
	_, err := s.eng.QueueMessage(ctx, delivery.QueueRequest{Target: target, Text: text, Mode: mode})
	return err
}

// --- Scheduled one-shot reminders (`sm remind N "..."`) ---

// ScheduleReminder persists and arms a one-shot reminder.
func (s *Service) ScheduleReminder(sessionID, message string, delay time.Duration) error {
	r := &model.ScheduledReminder{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		FireAt:    time.Now().Add(delay),
		Message:   message,
	}
	if err := s.st.InsertScheduledReminder(r); err != nil {
		return err
	}
	time.AfterFunc(delay, func() {
		if _, err := s.eng.QueueMessage(context.Background(), delivery.QueueRequest{
			Target: sessionID, Text: r.Message, Mode: model.ModeSequential,
		}); err != nil {
			log.Printf("timer: scheduled reminder %s: %v", r.ID, err)
		}
		_ = s.st.DeleteScheduledReminder(r.ID)
	})
	return nil
}

// RecoverDueReminders fires any scheduled reminder whose fire_at has
// already passed by the time the process restarts.
func (s *Service) RecoverDueReminders() error {
	due, err := s.st.DueScheduledReminders(time.Now())
	if err != nil {
		return err
	}
	for _, r := range due {
		if _, err := s.eng.QueueMessage(context.Background(), delivery.QueueRequest{
			Target: r.SessionID, Text: r.Message, Mode: model.ModeSequential,
		}); err != nil {
			log.Printf("timer: recover due reminder %s: %v", r.ID, err)
		}
		_ = s.st.DeleteScheduledReminder(r.ID)
	}
	return nil
}
