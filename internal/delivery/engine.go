// Package delivery implements C5, the message queue and delivery engine
// (spec.md §4.5) — queueing, the per-session delivery mutex, the
// sequential/important and urgent delivery paths, the Stop-hook idle
// transition, the stop-notify chain, and self-directed handoff. Grounded
// on the teacher's internal/session/message package (RunDelivery,
// DeliveryConfig) generalized from a single local pty writer to a
// multi-session engine addressing C1 through the registry.
package delivery

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"sm/internal/config"
	"sm/internal/model"
	"sm/internal/registry"
	"sm/internal/store"
	"sm/internal/terminal"
)

// Sink receives delivery-engine side effects the engine itself can't
// observe — mirrored to other subsystems (activity log, CLI `sm wait`).
type Sink interface {
	OnDelivered(msg *model.QueuedMessage)
	OnStopNotify(sessionID, senderID string)
}

// QueueRequest is the parameter set for QueueMessage (spec.md §4.5.1).
type QueueRequest struct {
	Target     string
	Sender     string
	SenderName string
	Text       string
	Mode       model.DeliveryMode

	TimeoutSeconds     *int
	NotifyAfterSeconds *int
	NotifyOnDelivery   bool
	NotifyOnStop       bool
}

// SendQueueInfo answers GET /sessions/{id}/send-queue (spec.md §6).
type SendQueueInfo struct {
	IsIdle          bool                  `json:"is_idle"`
	PendingCount    int                   `json:"pending_count"`
	PendingMessages []*model.QueuedMessage `json:"pending_messages"`
	SavedUserInput  string                `json:"saved_user_input"`
}

// Engine is C5.
type Engine struct {
	reg  *registry.Registry
	st   *store.Store
	term terminal.Driver
	cfg  *config.Config
	sink Sink

	states *stateStore
}

// New constructs an Engine. sink may be nil.
func New(reg *registry.Registry, st *store.Store, term terminal.Driver, cfg *config.Config, sink Sink) *Engine {
	return &Engine{
		reg:    reg,
		st:     st,
		term:   term,
		cfg:    cfg,
		sink:   sink,
		states: newStateStore(),
	}
}

// QueueMessage implements spec.md §4.5.1.
func (e *Engine) QueueMessage(ctx context.Context, req QueueRequest) (*model.QueuedMessage, error) {
	now := time.Now()
	msg := &model.QueuedMessage{
		ID:               uuid.New().String(),
		Target:           req.Target,
		Sender:           req.Sender,
		SenderName:       req.SenderName,
		Text:             req.Text,
		Mode:             req.Mode,
		QueuedAt:         now,
		NotifyOnDelivery: req.NotifyOnDelivery,
		NotifyOnStop:     req.NotifyOnStop,
	}
	if req.TimeoutSeconds != nil {
		t := now.Add(time.Duration(*req.TimeoutSeconds) * time.Second)
		msg.TimeoutAt = &t
	}
	if req.NotifyAfterSeconds != nil {
		v := *req.NotifyAfterSeconds
		msg.NotifyAfterSeconds = &v
	}

	if err := e.st.EnqueueMessage(msg); err != nil {
		return nil, err
	}

	// Step 2: a stale idle codex tmux session is bounced back to running
	// so a concurrent watch doesn't report a false idle mid-delivery.
	// There is no "paused" concept in the data model (spec.md §3); every
	// target is treated as unpaused.
	if sess, err := e.reg.Get(req.Target); err == nil && sess != nil {
		if sess.Provider == model.ProviderCodex && sess.Status == model.StatusIdle {
			_ = e.reg.SetStatus(sess.ID, model.StatusRunning)
		}
	}

	if req.NotifyOnStop {
		e.armStopNotify(req.Target, req.Sender, req.SenderName)
	}

	switch req.Mode {
	case model.ModeUrgent:
		go e.deliverUrgentAsync(req.Target, msg, false)
	case model.ModeSteer:
		go e.deliverUrgentAsync(req.Target, msg, true)
	default:
		go e.tryDeliverAsync(req.Target, req.Mode == model.ModeImportant)
	}

	if req.NotifyAfterSeconds != nil {
		e.armNotifyAfter(*req.NotifyAfterSeconds, msg)
	}

	return msg, nil
}

// armNotifyAfter schedules the unconditional one-shot reminder back to the
// sender (spec.md §4.5.1 step 4).
func (e *Engine) armNotifyAfter(seconds int, msg *model.QueuedMessage) {
	if msg.Sender == "" {
		return
	}
	time.AfterFunc(time.Duration(seconds)*time.Second, func() {
		_, err := e.QueueMessage(context.Background(), QueueRequest{
			Target: msg.Sender,
			Text:   fmt.Sprintf("Reminder: no confirmed response yet from %s for: %q", msg.Target, msg.Text),
			Mode:   model.ModeSequential,
		})
		if err != nil {
			log.Printf("delivery: notify_after_seconds reminder for %s: %v", msg.Target, err)
		}
	})
}

// ArmStopNotify is the exported entry point into the sender-staging half
// of spec.md §4.5.6, used outside the QueueMessage(notify_on_stop=true)
// path: by the `POST /sessions/{id}/notify-on-stop` handler (spec.md §6)
// and by EM auto-registration at spawn time (spec.md §8 scenario 6), both
// of which arm the chain without also enqueueing a message.
func (e *Engine) ArmStopNotify(target, senderID, senderName string) {
	e.armStopNotify(target, senderID, senderName)
}

// armStopNotify implements the sender-staging half of spec.md §4.5.6.
func (e *Engine) armStopNotify(target, senderID, senderName string) {
	st := e.states.state(target)
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.isIdle {
		st.stopNotifySenderID = senderID
		st.stopNotifySenderName = senderName
	} else {
		st.pasteBufferedSenderID = senderID
		st.pasteBufferedSenderName = senderName
	}
}

func (e *Engine) tryDeliverAsync(target string, importantOnly bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := e.TryDeliver(ctx, target, importantOnly); err != nil {
		log.Printf("delivery: try_deliver %s: %v", target, err)
	}
}

func (e *Engine) deliverUrgentAsync(target string, msg *model.QueuedMessage, steer bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := e.DeliverUrgent(ctx, target, msg, steer); err != nil {
		log.Printf("delivery: deliver_urgent %s: %v", target, err)
	}
}

// TryDeliver implements the sequential/important path (spec.md §4.5.3).
func (e *Engine) TryDeliver(ctx context.Context, sessionID string, importantOnly bool) error {
	mu := e.states.lock(sessionID)
	mu.Lock()
	defer mu.Unlock()

	sess, err := e.reg.Get(sessionID)
	if err != nil {
		return err
	}
	if sess == nil {
		return nil
	}

	now := time.Now()
	pending, err := e.st.PendingMessagesFor(sessionID, now)
	if err != nil {
		return err
	}
	if importantOnly {
		filtered := pending[:0]
		for _, m := range pending {
			if m.Mode == model.ModeImportant || m.Mode == model.ModeUrgent {
				filtered = append(filtered, m)
			}
		}
		pending = filtered
	}
	if e.cfg.MaxBatchSize > 0 && len(pending) > e.cfg.MaxBatchSize {
		pending = pending[:e.cfg.MaxBatchSize]
	}
	if len(pending) == 0 {
		return nil
	}

	st := e.states.state(sessionID)
	st.mu.Lock()
	paneLine, _ := e.term.CapturePane(ctx, sess.WindowName, 1)
	st.savedUserInput = extractUnsentInput(paneLine)
	st.mu.Unlock()

	for _, m := range pending {
		if err := e.term.SendTextThenEnter(ctx, sess.WindowName, formatMessage(m)); err != nil {
			break // back-pressure: leave this and the rest queued
		}
		e.finishDelivery(sessionID, m)
	}

	st.mu.Lock()
	saved := st.savedUserInput
	st.savedUserInput = ""
	st.mu.Unlock()
	if saved != "" {
		if err := e.term.SendText(ctx, sess.WindowName, saved); err != nil {
			log.Printf("delivery: restore saved input for %s: %v", sessionID, err)
		}
	}

	return nil
}

// DeliverUrgent implements the urgent/steer path (spec.md §4.5.4). steer
// omits the initial Escape — see DESIGN.md for the Open Question
// resolution on how `steer` differs from `urgent`.
func (e *Engine) DeliverUrgent(ctx context.Context, sessionID string, msg *model.QueuedMessage, steer bool) error {
	mu := e.states.lock(sessionID)
	mu.Lock()
	defer mu.Unlock()

	sess, err := e.reg.Get(sessionID)
	if err != nil {
		return err
	}
	if sess == nil {
		return nil
	}

	if sess.CompletionStatus != "" {
		_ = e.term.SendKey(ctx, sess.WindowName, "Enter")
	}
	if !steer {
		_ = e.term.SendKey(ctx, sess.WindowName, "Escape")
	}

	e.pollForReady(ctx, sess.WindowName)

	if err := e.term.SendTextThenEnter(ctx, sess.WindowName, formatMessage(msg)); err != nil {
		return err
	}
	e.finishDelivery(sessionID, msg)
	return nil
}

// pollForReady implements spec.md §4.5.4 step 4, best-effort.
func (e *Engine) pollForReady(ctx context.Context, windowName string) bool {
	deadline := time.Now().Add(e.cfg.UrgentReadyTimeout)
	for {
		pane, err := e.term.CapturePane(ctx, windowName, 1)
		if err == nil && isPromptReady(pane) {
			return true
		}
		if !time.Now().Before(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(e.cfg.UrgentPollInterval):
		}
	}
}

// finishDelivery applies the bookkeeping common to both delivery paths:
// mark delivered, mirror, and notify-on-delivery/notify-on-stop handling.
func (e *Engine) finishDelivery(sessionID string, m *model.QueuedMessage) {
	now := time.Now()
	if err := e.st.MarkDelivered(m.ID, now); err != nil {
		log.Printf("delivery: mark delivered %s: %v", m.ID, err)
	}
	m.MarkDelivered(now)
	if e.sink != nil {
		e.sink.OnDelivered(m)
	}
	if m.NotifyOnDelivery && m.Sender != "" {
		_, err := e.QueueMessage(context.Background(), QueueRequest{
			Target: m.Sender,
			Text:   fmt.Sprintf("Delivered to %s: %q", sessionID, m.Text),
			Mode:   model.ModeSequential,
		})
		if err != nil {
			log.Printf("delivery: notify_on_delivery for %s: %v", sessionID, err)
		}
	}
	if m.NotifyOnStop {
		e.armStopNotify(sessionID, m.Sender, m.SenderName)
	}
}

// MarkSessionIdle implements the Stop-hook contract (spec.md §4.5.5).
func (e *Engine) MarkSessionIdle(ctx context.Context, sessionID string, fromStopHook bool) error {
	mu := e.states.lock(sessionID)
	mu.Lock()
	defer mu.Unlock()

	sess, err := e.reg.Get(sessionID)
	if err != nil {
		return err
	}
	if sess == nil {
		return nil
	}

	st := e.states.state(sessionID)
	now := time.Now()

	st.mu.Lock()
	if st.skipFenceActive(now, e.cfg.SkipFenceWindow) {
		st.skipCount--
		if st.skipCount <= 0 {
			st.skipCount = 0
			st.skipArmedAt = time.Time{}
		}
		st.mu.Unlock()
		return nil
	}
	if !st.skipArmedAt.IsZero() && now.Sub(st.skipArmedAt) > e.cfg.SkipFenceWindow {
		st.skipCount = 0
		st.skipArmedAt = time.Time{}
	}

	if st.pendingHandoffPath != "" && fromStopHook {
		path := st.pendingHandoffPath
		st.pendingHandoffPath = ""
		st.skipCount++
		st.skipArmedAt = now
		st.mu.Unlock()
		return e.runHandoff(ctx, sess, path)
	}
	st.mu.Unlock()

	if sess.Status != model.StatusStopped {
		st.mu.Lock()
		st.isIdle = true
		st.lastIdleAt = now
		st.mu.Unlock()
		_ = e.reg.SetStatus(sessionID, model.StatusIdle)
	}

	e.resolveStopNotifyChain(sess, now)

	go e.tryDeliverAsync(sessionID, false)
	return nil
}

// resolveStopNotifyChain implements spec.md §4.5.6.
func (e *Engine) resolveStopNotifyChain(sess *model.Session, now time.Time) {
	st := e.states.state(sess.ID)
	st.mu.Lock()
	if st.pasteBufferedSenderID != "" && st.stopNotifySenderID == "" {
		st.stopNotifySenderID = st.pasteBufferedSenderID
		st.stopNotifySenderName = st.pasteBufferedSenderName
		st.pasteBufferedSenderID = ""
		st.pasteBufferedSenderName = ""
		st.mu.Unlock()
		return
	}
	if st.stopNotifySenderID == "" {
		st.mu.Unlock()
		return
	}
	senderID := st.stopNotifySenderID
	st.stopNotifySenderID = ""
	st.stopNotifySenderName = ""
	st.lastStopNotifyFiredAt = now
	st.mu.Unlock()

	label := sess.FriendlyName
	if label == "" {
		label = sess.Name
	}
	go func() {
		_, err := e.QueueMessage(context.Background(), QueueRequest{
			Target: senderID,
			Text:   fmt.Sprintf("🛑 %s has stopped", label),
			Mode:   model.ModeSequential,
		})
		if err != nil {
			log.Printf("delivery: stop-notify for %s: %v", sess.ID, err)
		}
	}()
	if e.sink != nil {
		e.sink.OnStopNotify(sess.ID, senderID)
	}
}

// LastStopNotifyWithin reports whether a stop-notify fired for sessionID
// within window of now — consulted by the watch-for-idle suppression rule
// (spec.md §4.6).
func (e *Engine) LastStopNotifyWithin(sessionID string, now time.Time, window time.Duration) bool {
	st := e.states.state(sessionID)
	st.mu.Lock()
	defer st.mu.Unlock()
	return !st.lastStopNotifyFiredAt.IsZero() && now.Sub(st.lastStopNotifyFiredAt) < window
}

// ScheduleHandoff implements spec.md §4.5.7's registration half.
func (e *Engine) ScheduleHandoff(requesterID, sessionID, filePath string) error {
	if requesterID != sessionID {
		return ErrNotSelf
	}
	sess, err := e.reg.Get(sessionID)
	if err != nil {
		return err
	}
	if sess == nil {
		return registry.ErrNotFound
	}
	if sess.Provider == model.ProviderCodexApp {
		return ErrHandoffUnsupported
	}
	if _, err := os.Stat(filePath); err != nil {
		return ErrHandoffFileMissing
	}

	st := e.states.state(sessionID)
	st.mu.Lock()
	st.pendingHandoffPath = filePath
	st.mu.Unlock()
	return nil
}

// runHandoff implements spec.md §4.5.7 steps 4-6. The caller already holds
// the session's delivery mutex.
func (e *Engine) runHandoff(ctx context.Context, sess *model.Session, filePath string) error {
	content, err := os.ReadFile(filePath)
	if err != nil {
		return e.handoffFailed(sess.ID, err)
	}
	if err := e.term.SendKey(ctx, sess.WindowName, "Escape"); err != nil {
		return e.handoffFailed(sess.ID, err)
	}
	e.pollForReady(ctx, sess.WindowName)
	if err := e.term.SendTextThenEnter(ctx, sess.WindowName, "/clear"); err != nil {
		return e.handoffFailed(sess.ID, err)
	}
	e.pollForReady(ctx, sess.WindowName)
	if err := e.term.SendTextThenEnter(ctx, sess.WindowName, strings.TrimRight(string(content), "\n")); err != nil {
		return e.handoffFailed(sess.ID, err)
	}
	return nil
}

func (e *Engine) handoffFailed(sessionID string, cause error) error {
	st := e.states.state(sessionID)
	st.mu.Lock()
	st.isIdle = true
	st.mu.Unlock()
	_ = e.reg.SetStatus(sessionID, model.StatusIdle)
	go e.tryDeliverAsync(sessionID, false)
	return fmt.Errorf("delivery: handoff for %s: %w", sessionID, cause)
}

// IsIdle reports the engine's in-memory idle flag for sessionID (spec.md
// §4.6 watch-for-idle Phase 1).
func (e *Engine) IsIdle(sessionID string) bool {
	st := e.states.state(sessionID)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.isIdle
}

// SetCompacting implements the context-usage gate (spec.md §4.5.9).
func (e *Engine) SetCompacting(sessionID string, compacting bool) {
	st := e.states.state(sessionID)
	st.mu.Lock()
	st.compacting = compacting
	st.mu.Unlock()
}

// IsCompacting is consulted by the remind watchdog (spec.md §4.6).
func (e *Engine) IsCompacting(sessionID string) bool {
	st := e.states.state(sessionID)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.compacting
}

// HasPendingDelivery reports whether sessionID currently has pending
// messages, used by watch-for-idle Phase 1/4 (spec.md §4.6).
func (e *Engine) HasPendingDelivery(sessionID string) (bool, error) {
	pending, err := e.st.PendingMessagesFor(sessionID, time.Now())
	if err != nil {
		return false, err
	}
	return len(pending) > 0, nil
}

// IsPasteBuffered reports whether sessionID has a message staged in the
// paste-buffered state (spec.md §4.6 Phase 1: "not in the paste-buffered
// state").
func (e *Engine) IsPasteBuffered(sessionID string) bool {
	st := e.states.state(sessionID)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.pasteBufferedSenderID != ""
}

// ProbeReady captures the target's pane and reports prompt-readiness,
// exposed for the watch-for-idle terminal probe (spec.md §4.6 Phase 2).
func (e *Engine) ProbeReady(ctx context.Context, windowName string) bool {
	pane, err := e.term.CapturePane(ctx, windowName, 1)
	if err != nil {
		return false
	}
	return isPromptReady(pane)
}

// SendQueueSnapshot answers GET /sessions/{id}/send-queue (spec.md §6).
func (e *Engine) SendQueueSnapshot(sessionID string) (*SendQueueInfo, error) {
	pending, err := e.st.PendingMessagesFor(sessionID, time.Now())
	if err != nil {
		return nil, err
	}
	st := e.states.state(sessionID)
	st.mu.Lock()
	defer st.mu.Unlock()
	return &SendQueueInfo{
		IsIdle:          st.isIdle,
		PendingCount:    len(pending),
		PendingMessages: pending,
		SavedUserInput:  st.savedUserInput,
	}, nil
}

// Forget releases a session's in-memory delivery state (called on session
// kill — spec.md §5 Cancellation).
func (e *Engine) Forget(sessionID string) {
	e.states.forget(sessionID)
}
