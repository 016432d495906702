package monitor

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"sm/internal/config"
	"sm/internal/model"
	"sm/internal/registry"
	"sm/internal/store"
)

// capturingDriver is a minimal terminal.Driver double. It has no StartPipe
// method, so it is not a LogPiper: tests exercise the CapturePane fallback
// path, and they push pane content directly via set().
type capturingDriver struct {
	windows map[string]bool
	pane    map[string]string
}

func newCapturingDriver() *capturingDriver {
	return &capturingDriver{windows: map[string]bool{}, pane: map[string]string{}}
}

func (d *capturingDriver) CreateWindow(ctx context.Context, name, workingDir, command string, args []string, env map[string]string) error {
	d.windows[name] = true
	return nil
}
func (d *capturingDriver) WindowExists(ctx context.Context, name string) (bool, error) {
	return d.windows[name], nil
}
func (d *capturingDriver) CapturePane(ctx context.Context, name string, lines int) (string, error) {
	return d.pane[name], nil
}
func (d *capturingDriver) SendTextThenEnter(ctx context.Context, name, text string) error { return nil }
func (d *capturingDriver) SendText(ctx context.Context, name, text string) error          { return nil }
func (d *capturingDriver) SendKey(ctx context.Context, name, key string) error            { return nil }
func (d *capturingDriver) SetStatus(ctx context.Context, name, text string) error         { return nil }
func (d *capturingDriver) KillWindow(ctx context.Context, name string) error {
	delete(d.windows, name)
	return nil
}

func (d *capturingDriver) set(name, text string) { d.pane[name] = text }

// recordingSink captures emitted events/status changes for assertions.
type recordingSink struct {
	events   []NotificationEvent
	statuses []string
}

func (s *recordingSink) OnEvent(ev NotificationEvent)                 { s.events = append(s.events, ev) }
func (s *recordingSink) OnStatusChange(sessionID, newStatus string)   { s.statuses = append(s.statuses, newStatus) }
func (s *recordingSink) OnSaveState()                                 {}

func newTestSetup(t *testing.T) (*registry.Registry, *capturingDriver, *recordingSink, Config) {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "sm.db"), filepath.Join(dir, "sm.db.lock"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	drv := newCapturingDriver()
	reg, err := registry.New(st, drv, config.Default())
	require.NoError(t, err)

	sink := &recordingSink{}
	cfg := DefaultConfig(filepath.Join(dir, "logs"), 50*time.Millisecond)
	cfg.PollInterval = 10 * time.Millisecond
	cfg.LivenessEvery = 3
	return reg, drv, sink, cfg
}

func TestMonitor_DetectsPermissionPrompt(t *testing.T) {
	reg, drv, sink, cfg := newTestSetup(t)
	sess, err := reg.CreateSession(context.Background(), "/tmp", model.ProviderClaude, "", "")
	require.NoError(t, err)

	drv.set(sess.WindowName, "Allow this action? [y/n]")

	m := New(reg, drv, cfg, sink)
	reg.SetSessionStarter(m)
	m.StartMonitor(sess.ID)
	t.Cleanup(func() { m.StopMonitor(sess.ID) })

	require.Eventually(t, func() bool {
		for _, ev := range sink.events {
			if ev.Kind == EventPermissionPrompt {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
}

func TestMonitor_IdleDetection(t *testing.T) {
	reg, drv, sink, cfg := newTestSetup(t)
	sess, err := reg.CreateSession(context.Background(), "/tmp", model.ProviderClaude, "", "")
	require.NoError(t, err)
	drv.set(sess.WindowName, "")

	m := New(reg, drv, cfg, sink)
	m.StartMonitor(sess.ID)
	t.Cleanup(func() { m.StopMonitor(sess.ID) })

	require.Eventually(t, func() bool {
		got, err := reg.Get(sess.ID)
		return err == nil && got.Status == model.StatusIdle
	}, time.Second, 5*time.Millisecond)
}

func TestMonitor_LivenessProbeStopsDeadWindow(t *testing.T) {
	reg, drv, sink, cfg := newTestSetup(t)
	sess, err := reg.CreateSession(context.Background(), "/tmp", model.ProviderClaude, "", "")
	require.NoError(t, err)

	// CreateSession's CreateWindow call records the window in
	// capturingDriver's map, so delete it to simulate the underlying
	// process having died outside our knowledge.
	delete(drv.windows, sess.WindowName)

	m := New(reg, drv, cfg, sink)
	m.StartMonitor(sess.ID)
	t.Cleanup(func() { m.StopMonitor(sess.ID) })

	require.Eventually(t, func() bool {
		got, err := reg.Get(sess.ID)
		return err == nil && got.Status == model.StatusStopped
	}, 2*time.Second, 5*time.Millisecond)
}

func TestMonitor_StartStopIdempotent(t *testing.T) {
	reg, drv, sink, cfg := newTestSetup(t)
	sess, err := reg.CreateSession(context.Background(), "/tmp", model.ProviderClaude, "", "")
	require.NoError(t, err)

	m := New(reg, drv, cfg, sink)
	m.StartMonitor(sess.ID)
	m.StartMonitor(sess.ID) // no-op, already running
	m.StopMonitor(sess.ID)
	m.StopMonitor(sess.ID) // no-op, already stopped
}

func TestSessionState_PermissionDebounce(t *testing.T) {
	st := &sessionState{}
	now := time.Now()
	require.True(t, st.permissionDebounceOK(now))
	st.lastPermissionEmitAt = now
	require.False(t, st.permissionDebounceOK(now.Add(time.Second)))
	require.True(t, st.permissionDebounceOK(now.Add(31*time.Second)))
}

func TestSessionState_RecoveryDebounce(t *testing.T) {
	st := &sessionState{}
	now := time.Now()
	require.True(t, st.recoveryDebounceOK(now))

	st.lastRecoverySuccessAt = now
	require.False(t, st.recoveryDebounceOK(now.Add(time.Second)))
	require.True(t, st.recoveryDebounceOK(now.Add(31*time.Second)))

	st2 := &sessionState{lastRecoveryFailureAt: now}
	require.False(t, st2.recoveryDebounceOK(now.Add(time.Second)))
	require.True(t, st2.recoveryDebounceOK(now.Add(6*time.Second)))
}

func TestMonitor_LogPipingReadsDelta(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "sess.log")
	require.NoError(t, os.WriteFile(logPath, []byte("hello\n"), 0o644))

	st := &sessionState{}
	sink := &recordingSink{}
	m := New(nil, nil, DefaultConfig(dir, time.Second), sink)

	var offset int64
	delta, err := m.readDelta(context.Background(), &model.Session{WindowName: "x"}, logPath, true, &offset)
	require.NoError(t, err)
	require.Equal(t, "hello\n", delta)
	require.EqualValues(t, 6, offset)

	delta, err = m.readDelta(context.Background(), &model.Session{WindowName: "x"}, logPath, true, &offset)
	require.NoError(t, err)
	require.Empty(t, delta)
	_ = st
}
