package timer

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"sm/internal/config"
	"sm/internal/delivery"
	"sm/internal/model"
	"sm/internal/registry"
	"sm/internal/store"
	"sm/internal/terminal"
)

type noopDriver struct{ ready bool }

func (d *noopDriver) CreateWindow(ctx context.Context, name, workingDir, command string, args []string, env map[string]string) error {
	return nil
}
func (d *noopDriver) WindowExists(ctx context.Context, name string) (bool, error) { return true, nil }
func (d *noopDriver) CapturePane(ctx context.Context, name string, lines int) (string, error) {
	if d.ready {
		return "> ", nil
	}
	return "> working...", nil
}
func (d *noopDriver) SendTextThenEnter(ctx context.Context, name, text string) error { return nil }
func (d *noopDriver) SendText(ctx context.Context, name, text string) error          { return nil }
func (d *noopDriver) SendKey(ctx context.Context, name, key string) error            { return nil }
func (d *noopDriver) SetStatus(ctx context.Context, name, text string) error         { return nil }
func (d *noopDriver) KillWindow(ctx context.Context, name string) error              { return nil }

var _ terminal.Driver = (*noopDriver)(nil)

type recordingSink struct {
	mu        sync.Mutex
	delivered []*model.QueuedMessage
}

func (s *recordingSink) OnDelivered(m *model.QueuedMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delivered = append(s.delivered, m)
}
func (s *recordingSink) OnStopNotify(sessionID, senderID string) {}

func (s *recordingSink) deliveredTo(target string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.delivered {
		if m.Target == target {
			n++
		}
	}
	return n
}

func newTestService(t *testing.T) (*Service, *registry.Registry, *delivery.Engine, *recordingSink) {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "sm.db"), filepath.Join(dir, "sm.db.lock"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	drv := &noopDriver{ready: true}
	cfg := config.Default()
	cfg.WatchPollInterval = 5 * time.Millisecond
	cfg.StopNotifySuppress = 10 * time.Millisecond

	reg, err := registry.New(st, drv, cfg)
	require.NoError(t, err)

	sink := &recordingSink{}
	eng := delivery.New(reg, st, drv, cfg, sink)
	svc := New(reg, eng, st, cfg)
	return svc, reg, eng, sink
}

func TestService_RemindFiresAfterSoftThreshold(t *testing.T) {
	svc, reg, _, sink := newTestService(t)
	target, err := reg.CreateSession(context.Background(), "/tmp", model.ProviderClaude, "", "")
	require.NoError(t, err)
	past := time.Now().Add(-time.Hour)
	target.LastActivity = past
	target.AgentStatusAt = &past
	require.NoError(t, reg.Save(target))

	require.NoError(t, svc.RegisterRemind(target.ID, 5*time.Millisecond, time.Hour))
	t.Cleanup(func() { _ = svc.CancelRemind(target.ID) })

	require.Eventually(t, func() bool {
		return sink.deliveredTo(target.ID) > 0
	}, time.Second, 5*time.Millisecond)
}

func TestService_CancelRemindStopsGoroutine(t *testing.T) {
	svc, reg, _, _ := newTestService(t)
	target, err := reg.CreateSession(context.Background(), "/tmp", model.ProviderClaude, "", "")
	require.NoError(t, err)

	require.NoError(t, svc.RegisterRemind(target.ID, 5*time.Millisecond, 15*time.Millisecond))
	require.NoError(t, svc.CancelRemind(target.ID))

	svc.mu.Lock()
	_, armed := svc.reminds[target.ID]
	svc.mu.Unlock()
	require.False(t, armed, "remind goroutine's cancel func still registered")

	reminds, err := svc.st.ListReminds()
	require.NoError(t, err)
	require.Empty(t, reminds)
}

func TestService_ParentWakeRegisterAndCancel(t *testing.T) {
	svc, reg, _, _ := newTestService(t)
	child, err := reg.CreateSession(context.Background(), "/tmp", model.ProviderClaude, "", "")
	require.NoError(t, err)
	parent, err := reg.CreateSession(context.Background(), "/tmp", model.ProviderClaude, "", "")
	require.NoError(t, err)

	require.NoError(t, svc.RegisterParentWake(child.ID, parent.ID, 10*time.Millisecond))
	require.NoError(t, svc.CancelParentWake(child.ID))

	wakes, err := svc.st.ListParentWakes()
	require.NoError(t, err)
	require.Empty(t, wakes)
}

func TestService_WatchResolvesWhenTargetIdle(t *testing.T) {
	svc, reg, eng, _ := newTestService(t)
	target, err := reg.CreateSession(context.Background(), "/tmp", model.ProviderClaude, "", "")
	require.NoError(t, err)
	watcher, err := reg.CreateSession(context.Background(), "/tmp", model.ProviderClaude, "", "")
	require.NoError(t, err)

	require.NoError(t, eng.MarkSessionIdle(context.Background(), target.ID, true))

	id, err := svc.Watch(target.ID, watcher.ID, time.Second)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	require.Eventually(t, func() bool {
		watches, err := svc.st.ListWatches()
		require.NoError(t, err)
		return len(watches) == 0
	}, 500*time.Millisecond, 5*time.Millisecond)
}

func TestService_WatchTimesOut(t *testing.T) {
	svc, reg, _, _ := newTestService(t)
	target, err := reg.CreateSession(context.Background(), "/tmp", model.ProviderClaude, "", "")
	require.NoError(t, err)
	watcher, err := reg.CreateSession(context.Background(), "/tmp", model.ProviderClaude, "", "")
	require.NoError(t, err)
	// target never goes idle (no MarkSessionIdle call) and has no window
	// for the ready-prompt probe to see, so the watch can only resolve via
	// timeout.
	target.WindowName = ""
	require.NoError(t, reg.Save(target))

	_, err = svc.Watch(target.ID, watcher.ID, 20*time.Millisecond)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		watches, err := svc.st.ListWatches()
		require.NoError(t, err)
		return len(watches) == 0
	}, time.Second, 5*time.Millisecond)
}

func TestService_HandleContextUsage_WarningThenCritical(t *testing.T) {
	svc, reg, _, _ := newTestService(t)
	target, err := reg.CreateSession(context.Background(), "/tmp", model.ProviderClaude, "", "")
	require.NoError(t, err)
	target.ContextMonitorEnabled = true
	require.NoError(t, reg.Save(target))

	warn := 55.0
	require.NoError(t, svc.HandleContextUsage(context.Background(), target.ID, &warn, ContextEventUsage))

	got, err := reg.Get(target.ID)
	require.NoError(t, err)
	require.True(t, got.ContextWarningSent)
	require.False(t, got.ContextCriticalSent)

	// A second warning-range reading must not re-fire (one-shot).
	require.NoError(t, svc.HandleContextUsage(context.Background(), target.ID, &warn, ContextEventUsage))

	crit := 70.0
	require.NoError(t, svc.HandleContextUsage(context.Background(), target.ID, &crit, ContextEventUsage))
	got, err = reg.Get(target.ID)
	require.NoError(t, err)
	require.True(t, got.ContextCriticalSent)
}

func TestService_HandleContextUsage_CompactionResetsFlags(t *testing.T) {
	svc, reg, eng, _ := newTestService(t)
	target, err := reg.CreateSession(context.Background(), "/tmp", model.ProviderClaude, "", "")
	require.NoError(t, err)
	target.ContextMonitorEnabled = true
	target.ContextWarningSent = true
	target.ContextCriticalSent = true
	require.NoError(t, reg.Save(target))

	require.NoError(t, svc.HandleContextUsage(context.Background(), target.ID, nil, ContextEventCompaction))
	require.True(t, eng.IsCompacting(target.ID))

	got, err := reg.Get(target.ID)
	require.NoError(t, err)
	require.False(t, got.ContextWarningSent)
	require.False(t, got.ContextCriticalSent)

	require.NoError(t, svc.HandleContextUsage(context.Background(), target.ID, nil, ContextEventCompactionComplete))
	require.False(t, eng.IsCompacting(target.ID))
}

func TestService_ScheduleReminderPersistsAndRecovers(t *testing.T) {
	svc, reg, _, _ := newTestService(t)
	target, err := reg.CreateSession(context.Background(), "/tmp", model.ProviderClaude, "", "")
	require.NoError(t, err)

	require.NoError(t, svc.ScheduleReminder(target.ID, "check the build", -time.Second))

	due, err := svc.st.DueScheduledReminders(time.Now())
	require.NoError(t, err)
	require.Len(t, due, 1)

	require.NoError(t, svc.RecoverDueReminders())

	due, err = svc.st.DueScheduledReminders(time.Now())
	require.NoError(t, err)
	require.Empty(t, due)
}
