package registry

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"sm/internal/config"
	"sm/internal/model"
	"sm/internal/store"
)

// fakeDriver is a minimal in-memory terminal.Driver for registry tests,
// avoiding a dependency on a real tmux/pty process.
type fakeDriver struct {
	windows map[string]bool
}

func newFakeDriver() *fakeDriver { return &fakeDriver{windows: map[string]bool{}} }

func (f *fakeDriver) CreateWindow(ctx context.Context, name, workingDir, command string, args []string, env map[string]string) error {
	if f.windows[name] {
		return &windowExistsErr{name}
	}
	f.windows[name] = true
	return nil
}
func (f *fakeDriver) WindowExists(ctx context.Context, name string) (bool, error) {
	return f.windows[name], nil
}
func (f *fakeDriver) CapturePane(ctx context.Context, name string, lines int) (string, error) {
	return "", nil
}
func (f *fakeDriver) SendTextThenEnter(ctx context.Context, name, text string) error { return nil }
func (f *fakeDriver) SendText(ctx context.Context, name, text string) error          { return nil }
func (f *fakeDriver) SendKey(ctx context.Context, name, key string) error           { return nil }
func (f *fakeDriver) SetStatus(ctx context.Context, name, text string) error        { return nil }
func (f *fakeDriver) KillWindow(ctx context.Context, name string) error {
	if !f.windows[name] {
		return &windowNotFoundErr{name}
	}
	delete(f.windows, name)
	return nil
}

type windowExistsErr struct{ name string }

func (e *windowExistsErr) Error() string { return "exists: " + e.name }

type windowNotFoundErr struct{ name string }

func (e *windowNotFoundErr) Error() string { return "not found: " + e.name }

func newTestRegistry(t *testing.T) (*Registry, *fakeDriver) {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "sm.db"), filepath.Join(dir, "sm.db.lock"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cfg := config.Default()
	drv := newFakeDriver()
	r, err := New(st, drv, cfg)
	require.NoError(t, err)
	return r, drv
}

func TestRegistry_CreateSession(t *testing.T) {
	r, _ := newTestRegistry(t)
	sess, err := r.CreateSession(context.Background(), "/tmp/proj", model.ProviderClaude, "alice", "")
	require.NoError(t, err)
	require.NotEmpty(t, sess.ID)
	require.Equal(t, "claude-"+sess.ID, sess.WindowName)
	require.Equal(t, "alice", sess.FriendlyName)

	got, err := r.Get("alice")
	require.NoError(t, err)
	require.Equal(t, sess.ID, got.ID)

	got, err = r.Get(sess.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
}

func TestRegistry_CreateSession_InvalidName(t *testing.T) {
	r, _ := newTestRegistry(t)
	_, err := r.CreateSession(context.Background(), "/tmp", model.ProviderClaude, "bad name!", "")
	require.ErrorIs(t, err, ErrInvalidName)
}

func TestRegistry_CreateSession_NameCollision(t *testing.T) {
	r, _ := newTestRegistry(t)
	_, err := r.CreateSession(context.Background(), "/tmp", model.ProviderClaude, "dup", "")
	require.NoError(t, err)
	_, err = r.CreateSession(context.Background(), "/tmp", model.ProviderClaude, "dup", "")
	require.ErrorIs(t, err, ErrNameTaken)
}

func TestRegistry_UpdateFriendlyName(t *testing.T) {
	r, _ := newTestRegistry(t)
	sess, err := r.CreateSession(context.Background(), "/tmp", model.ProviderClaude, "", "")
	require.NoError(t, err)

	require.NoError(t, r.UpdateFriendlyName(sess.ID, "renamed"))
	got, err := r.Get("renamed")
	require.NoError(t, err)
	require.Equal(t, sess.ID, got.ID)

	require.ErrorIs(t, r.UpdateFriendlyName(sess.ID, "bad!"), ErrInvalidName)
}

func TestRegistry_KillSession_OwnershipRule(t *testing.T) {
	r, _ := newTestRegistry(t)
	parent, err := r.CreateSession(context.Background(), "/tmp", model.ProviderClaude, "", "")
	require.NoError(t, err)
	child, err := r.SpawnChild(context.Background(), parent.ID, "do it", "", "", false)
	require.NoError(t, err)

	stranger, err := r.CreateSession(context.Background(), "/tmp", model.ProviderClaude, "", "")
	require.NoError(t, err)

	err = r.KillSession(context.Background(), stranger.ID, child.ID)
	require.ErrorIs(t, err, ErrNotOwner)

	require.NoError(t, r.KillSession(context.Background(), parent.ID, child.ID))
	got, err := r.Get(child.ID)
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestRegistry_SpawnChild_EMDefaults(t *testing.T) {
	r, _ := newTestRegistry(t)
	parent, err := r.CreateSession(context.Background(), "/tmp", model.ProviderClaude, "", "")
	require.NoError(t, err)
	require.NoError(t, r.SetEMRole(parent.ID, "manager"))

	child, err := r.SpawnChild(context.Background(), parent.ID, "do task", "", "", false)
	require.NoError(t, err)
	require.True(t, child.ContextMonitorEnabled)
	require.Equal(t, parent.ID, child.ContextNotifyTarget)
	require.Equal(t, "do task", child.Task)
}

func TestRegistry_InvalidateCache(t *testing.T) {
	r, _ := newTestRegistry(t)
	sess, err := r.CreateSession(context.Background(), "/tmp", model.ProviderClaude, "", "")
	require.NoError(t, err)

	require.NoError(t, r.SetRole(sess.ID, "reviewer"))
	text := "working on it"
	require.NoError(t, r.SetAgentStatus(sess.ID, &text))

	require.NoError(t, r.InvalidateCache(sess.ID))
	got, err := r.Get(sess.ID)
	require.NoError(t, err)
	require.Empty(t, got.Role)
	require.Empty(t, got.AgentStatusText)
	require.Nil(t, got.AgentStatusAt)
}

func TestRegistry_SetAgentStatus_ClearsBoth(t *testing.T) {
	r, _ := newTestRegistry(t)
	sess, err := r.CreateSession(context.Background(), "/tmp", model.ProviderClaude, "", "")
	require.NoError(t, err)

	text := "reviewing PR"
	require.NoError(t, r.SetAgentStatus(sess.ID, &text))
	got, _ := r.Get(sess.ID)
	require.Equal(t, text, got.AgentStatusText)
	require.NotNil(t, got.AgentStatusAt)

	require.NoError(t, r.SetAgentStatus(sess.ID, nil))
	got, _ = r.Get(sess.ID)
	require.Empty(t, got.AgentStatusText)
	require.Nil(t, got.AgentStatusAt)
}

func TestRegistry_Children(t *testing.T) {
	r, _ := newTestRegistry(t)
	parent, err := r.CreateSession(context.Background(), "/tmp", model.ProviderClaude, "", "")
	require.NoError(t, err)
	child1, err := r.SpawnChild(context.Background(), parent.ID, "a", "", "", false)
	require.NoError(t, err)
	grandchild, err := r.SpawnChild(context.Background(), child1.ID, "b", "", "", false)
	require.NoError(t, err)

	direct := r.Children(parent.ID, false)
	require.Len(t, direct, 1)

	all := r.Children(parent.ID, true)
	ids := map[string]bool{}
	for _, s := range all {
		ids[s.ID] = true
	}
	require.True(t, ids[child1.ID])
	require.True(t, ids[grandchild.ID])
}

func TestRegistry_List_ExcludesStoppedByDefault(t *testing.T) {
	r, _ := newTestRegistry(t)
	sess, err := r.CreateSession(context.Background(), "/tmp", model.ProviderClaude, "", "")
	require.NoError(t, err)
	require.NoError(t, r.SetStatus(sess.ID, model.StatusStopped))

	require.Empty(t, r.List(false))
	require.Len(t, r.List(true), 1)
}

func TestRegistry_Reopen_RecreatesDeadWindow(t *testing.T) {
	r, drv := newTestRegistry(t)
	sess, err := r.CreateSession(context.Background(), "/tmp", model.ProviderClaude, "", "")
	require.NoError(t, err)

	delete(drv.windows, sess.WindowName)
	require.NoError(t, r.Reopen(context.Background(), sess.ID))
	require.True(t, drv.windows[sess.WindowName])

	got, err := r.Get(sess.ID)
	require.NoError(t, err)
	require.Equal(t, model.StatusRunning, got.Status)
}

func TestRegistry_Reopen_NoopWhenWindowAlive(t *testing.T) {
	r, _ := newTestRegistry(t)
	sess, err := r.CreateSession(context.Background(), "/tmp", model.ProviderClaude, "", "")
	require.NoError(t, err)

	require.NoError(t, r.Reopen(context.Background(), sess.ID))
}

func TestRegistry_SubagentLifecycle(t *testing.T) {
	r, _ := newTestRegistry(t)
	sess, err := r.CreateSession(context.Background(), "/tmp", model.ProviderClaude, "", "")
	require.NoError(t, err)

	sub := model.Subagent{AgentID: "a1", AgentType: "general-purpose", ParentSessionID: sess.ID, Status: "running"}
	require.NoError(t, r.AddSubagent(sess.ID, sub))

	subs, err := r.Subagents(sess.ID)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	require.Equal(t, "running", subs[0].Status)

	require.NoError(t, r.StopSubagent(sess.ID, "a1", "completed", "did the thing"))
	subs, err = r.Subagents(sess.ID)
	require.NoError(t, err)
	require.Equal(t, "completed", subs[0].Status)
	require.Equal(t, "did the thing", subs[0].Summary)
	require.NotNil(t, subs[0].StoppedAt)
}
