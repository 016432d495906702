// Package monitor implements C4, the output monitor (spec.md §4.4): one
// cooperative task per session that tails the session's mirrored log file
// (or polls capture_pane directly when the driver can't mirror to a file),
// detects permission prompts, errors, completions and idleness, and
// recovers from agent-TUI crashes. File-growth notifications are delivered
// via github.com/fsnotify/fsnotify; the 1-second tick is the fallback and
// the authority for idle/liveness bookkeeping, grounded on the teacher's
// channel-driven AgentMonitor run loop
// (internal/session/agent/monitor/monitor.go).
package monitor

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"sm/internal/model"
	"sm/internal/registry"
	"sm/internal/terminal"
)

// LogPiper is implemented by terminal drivers that can mirror a window's
// output into a file for this package to tail. terminal.TmuxDriver
// implements it; terminal.PTYDriver doesn't need it since it already owns
// the byte stream in-process and is checked separately.
type LogPiper interface {
	StartPipe(ctx context.Context, name, logPath string) error
}

// PaneReader is implemented by drivers the monitor can poll directly when
// no log file is available (the pty-fallback driver).
type PaneReader interface {
	CapturePane(ctx context.Context, name string, lines int) (string, error)
}

// CrashRecoverer relaunches a crashed agent process in its existing
// window. Implemented by the engine wiring, which knows the provider
// command and working directory (registry's concerns) without monitor
// importing registry for anything beyond session lookups it already has.
type CrashRecoverer interface {
	Recover(ctx context.Context, sess *model.Session) error
}

// Config tunes the monitor's poll cadence and thresholds (spec.md §4.4).
type Config struct {
	PollInterval  time.Duration
	IdleThreshold time.Duration
	LogDir        string
	LivenessEvery int // N ticks between window_exists probes
}

// DefaultConfig returns spec.md §4.4's literal defaults.
func DefaultConfig(logDir string, idleThreshold time.Duration) Config {
	return Config{
		PollInterval:  time.Second,
		IdleThreshold: idleThreshold,
		LogDir:        logDir,
		LivenessEvery: 30,
	}
}

// Monitor runs one goroutine per live session.
type Monitor struct {
	mu      sync.Mutex
	cancels map[string]context.CancelFunc

	reg      *registry.Registry
	term     terminal.Driver
	cfg      Config
	sink     EventSink
	recovery CrashRecoverer
}

// New constructs a Monitor. sink may be nil in tests that don't care about
// emitted events.
func New(reg *registry.Registry, term terminal.Driver, cfg Config, sink EventSink) *Monitor {
	return &Monitor{
		cancels: make(map[string]context.CancelFunc),
		reg:     reg,
		term:    term,
		cfg:     cfg,
		sink:    sink,
	}
}

// SetCrashRecoverer wires the recovery hook (spec.md §4.4 step 5).
func (m *Monitor) SetCrashRecoverer(r CrashRecoverer) { m.recovery = r }

// StartMonitor implements registry.SessionStarter.
func (m *Monitor) StartMonitor(sessionID string) {
	m.mu.Lock()
	if _, running := m.cancels[sessionID]; running {
		m.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.cancels[sessionID] = cancel
	m.mu.Unlock()

	go m.run(ctx, sessionID)
}

// StopMonitor implements registry.SessionStarter.
func (m *Monitor) StopMonitor(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cancel, ok := m.cancels[sessionID]; ok {
		cancel()
		delete(m.cancels, sessionID)
	}
}

func (m *Monitor) emit(ev NotificationEvent) {
	if m.sink != nil {
		m.sink.OnEvent(ev)
	}
}

func (m *Monitor) statusChanged(sessionID, status string) {
	if m.sink != nil {
		m.sink.OnStatusChange(sessionID, status)
	}
}

func (m *Monitor) run(ctx context.Context, sessionID string) {
	sess, err := m.reg.Get(sessionID)
	if err != nil || sess == nil {
		return
	}

	logPath := filepath.Join(m.cfg.LogDir, sessionID+".log")
	var pipingActive bool
	if piper, ok := m.term.(LogPiper); ok {
		if err := piper.StartPipe(ctx, sess.WindowName, logPath); err != nil {
			log.Printf("monitor: start pipe for %s: %v", sessionID, err)
		} else {
			pipingActive = true
		}
	}

	var watcher *fsnotify.Watcher
	if pipingActive {
		watcher, err = fsnotify.NewWatcher()
		if err != nil {
			log.Printf("monitor: fsnotify init for %s: %v", sessionID, err)
		} else {
			defer watcher.Close()
			if err := os.MkdirAll(m.cfg.LogDir, 0o755); err == nil {
				_ = watcher.Add(m.cfg.LogDir)
			}
		}
	}

	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	st := &sessionState{}
	var offset int64

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tick(ctx, sessionID, logPath, pipingActive, &offset, st)
		case ev, ok := <-watcherEvents(watcher):
			if !ok {
				continue
			}
			if filepath.Clean(ev.Name) == filepath.Clean(logPath) {
				m.tick(ctx, sessionID, logPath, pipingActive, &offset, st)
			}
		}
	}
}

// watcherEvents returns w.Events, or a nil channel (which blocks forever in
// a select) when w is nil, so run's select works whether or not fsnotify
// initialized successfully.
func watcherEvents(w *fsnotify.Watcher) chan fsnotify.Event {
	if w == nil {
		return nil
	}
	return w.Events
}

// tick executes the five steps of spec.md §4.4 for one session.
func (m *Monitor) tick(ctx context.Context, sessionID, logPath string, piping bool, offset *int64, st *sessionState) {
	sess, err := m.reg.Get(sessionID)
	if err != nil || sess == nil {
		return
	}
	if sess.Status == model.StatusStopped || sess.Status == model.StatusError {
		return
	}

	delta, err := m.readDelta(ctx, sess, logPath, piping, offset)
	if err != nil {
		log.Printf("monitor: read delta for %s: %v", sessionID, err)
		time.Sleep(5 * time.Second)
		return
	}

	now := time.Now()
	if delta != "" {
		_ = m.reg.TouchActivity(sessionID, now)
		m.scanDelta(sess, delta, now, st)
	}

	st.tickCount++
	if st.tickCount >= m.cfg.LivenessEvery {
		st.tickCount = 0
		m.checkLiveness(ctx, sess)
	}

	if delta == "" {
		m.checkIdle(sess, now, st)
	} else {
		st.lastIdleEmitted = false
	}

	if matchAny(crashPatterns, delta) && sess.Provider == model.ProviderClaude {
		m.handleCrashSignature(ctx, sess, st)
	}

	// Flush a deferred crash recovery once the session passes back through
	// idle or reports a completion (spec.md §4.4 step 5).
	if st.pendingCrashRecovery && (sess.Status == model.StatusIdle || st.lastPattern == tagCompletion) && !st.blockedByPermission {
		m.attemptRecovery(ctx, sess, st)
	}
}

func (m *Monitor) readDelta(ctx context.Context, sess *model.Session, logPath string, piping bool, offset *int64) (string, error) {
	if piping {
		f, err := os.Open(logPath)
		if err != nil {
			if os.IsNotExist(err) {
				return "", nil
			}
			return "", err
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return "", err
		}
		if info.Size() <= *offset {
			return "", nil
		}
		if _, err := f.Seek(*offset, io.SeekStart); err != nil {
			return "", err
		}
		buf := make([]byte, info.Size()-*offset)
		n, err := io.ReadFull(f, buf)
		if err != nil && err != io.ErrUnexpectedEOF {
			return "", err
		}
		*offset += int64(n)
		return terminal.StripANSI(string(buf[:n])), nil
	}

	reader, ok := m.term.(PaneReader)
	if !ok {
		return "", fmt.Errorf("driver supports neither log piping nor pane capture")
	}
	return reader.CapturePane(ctx, sess.WindowName, 200)
}

func (m *Monitor) scanDelta(sess *model.Session, delta string, now time.Time, st *sessionState) {
	switch {
	case matchAny(permissionPatterns, delta):
		st.lastPattern = tagPermission
		st.blockedByPermission = true
		if sess.Status != model.StatusWaitingPermission {
			_ = m.reg.SetStatus(sess.ID, model.StatusWaitingPermission)
			m.statusChanged(sess.ID, string(model.StatusWaitingPermission))
		}
		if st.permissionDebounceOK(now) {
			st.lastPermissionEmitAt = now
			m.emit(NotificationEvent{SessionID: sess.ID, Kind: EventPermissionPrompt, At: now})
		}
	case matchAny(errorPatterns, delta):
		st.lastPattern = tagError
		m.emit(NotificationEvent{SessionID: sess.ID, Kind: EventError, At: now})
	case matchAny(completionPatterns, delta):
		st.lastPattern = tagCompletion
		m.emit(NotificationEvent{SessionID: sess.ID, Kind: EventCompletion, At: now})
	default:
		st.lastPattern = tagNone
		st.blockedByPermission = false
	}
}

func (m *Monitor) checkIdle(sess *model.Session, now time.Time, st *sessionState) {
	if now.Sub(sess.LastActivity) < m.cfg.IdleThreshold {
		return
	}
	if sess.Status == model.StatusIdle {
		return
	}
	_ = m.reg.SetStatus(sess.ID, model.StatusIdle)
	m.statusChanged(sess.ID, string(model.StatusIdle))
	if !st.lastIdleEmitted {
		st.lastIdleEmitted = true
		m.emit(NotificationEvent{SessionID: sess.ID, Kind: EventIdle, At: now})
	}
}

func (m *Monitor) checkLiveness(ctx context.Context, sess *model.Session) {
	exists, err := m.term.WindowExists(ctx, sess.WindowName)
	if err != nil || exists {
		return
	}
	_ = m.reg.SetStatus(sess.ID, model.StatusStopped)
	m.statusChanged(sess.ID, string(model.StatusStopped))
	m.emit(NotificationEvent{SessionID: sess.ID, Kind: EventStopped, At: time.Now()})
	m.StopMonitor(sess.ID)
}

func (m *Monitor) handleCrashSignature(ctx context.Context, sess *model.Session, st *sessionState) {
	if sess.Status == model.StatusIdle || sess.Status == model.StatusStopped {
		m.attemptRecovery(ctx, sess, st)
		return
	}
	// Deferred: queued until the next idle or completion transition
	// (spec.md §4.4 step 5).
	st.pendingCrashRecovery = true
}

func (m *Monitor) attemptRecovery(ctx context.Context, sess *model.Session, st *sessionState) {
	now := time.Now()
	if !st.recoveryDebounceOK(now) {
		return
	}
	if m.recovery == nil {
		st.lastRecoveryFailureAt = now
		return
	}
	if err := m.recovery.Recover(ctx, sess); err != nil {
		st.lastRecoveryFailureAt = now
		m.emit(NotificationEvent{SessionID: sess.ID, Kind: EventCrash, Detail: err.Error(), At: now})
		return
	}
	st.lastRecoverySuccessAt = now
	st.pendingCrashRecovery = false
}
