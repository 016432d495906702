package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"sm/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "sm.db"), filepath.Join(dir, "sm.db.lock"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_SessionRoundTrip(t *testing.T) {
	s := openTestStore(t)

	sess := model.NewSession("abcd1234", model.ProviderClaude, "/tmp/work")
	sess.FriendlyName = "alice"
	sess.ToolCounts["Bash"] = 3
	sess.Subagents = []model.Subagent{{AgentID: "sub1", AgentType: "general-purpose", Status: "running"}}

	require.NoError(t, s.UpsertSession(sess))

	got, err := s.GetSession(sess.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, sess.FriendlyName, got.FriendlyName)
	require.Equal(t, 3, got.ToolCounts["Bash"])
	require.Len(t, got.Subagents, 1)
	require.Equal(t, "sub1", got.Subagents[0].AgentID)

	all, err := s.ListSessions()
	require.NoError(t, err)
	require.Len(t, all, 1)

	require.NoError(t, s.DeleteSession(sess.ID))
	got, err = s.GetSession(sess.ID)
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestStore_PendingMessages_OrderAndOrphanDrop(t *testing.T) {
	s := openTestStore(t)

	live := model.NewSession("live0001", model.ProviderClaude, "/tmp")
	require.NoError(t, s.UpsertSession(live))

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m1 := &model.QueuedMessage{ID: "m1", Target: live.ID, Text: "first", Mode: model.ModeSequential, QueuedAt: now}
	m2 := &model.QueuedMessage{ID: "m2", Target: live.ID, Text: "second", Mode: model.ModeSequential, QueuedAt: now.Add(time.Second)}
	orphan := &model.QueuedMessage{ID: "m3", Target: "gone0000", Text: "orphan", Mode: model.ModeSequential, QueuedAt: now}

	require.NoError(t, s.EnqueueMessage(m1))
	require.NoError(t, s.EnqueueMessage(m2))
	require.NoError(t, s.EnqueueMessage(orphan))

	pending, err := s.PendingMessagesFor(live.ID, now.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, pending, 2)
	require.Equal(t, "first", pending[0].Text)
	require.Equal(t, "second", pending[1].Text)

	kept, err := s.RecoverPendingMessages(now.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, kept, 2)

	remaining, err := s.AllPendingMessages(now.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, remaining, 2)
}

func TestStore_MessageTimeoutExcludesFromPending(t *testing.T) {
	s := openTestStore(t)
	sess := model.NewSession("deadbeef", model.ProviderClaude, "/tmp")
	require.NoError(t, s.UpsertSession(sess))

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	expired := &model.QueuedMessage{ID: "expired", Target: sess.ID, Text: "late", Mode: model.ModeUrgent,
		QueuedAt: past.Add(-time.Minute), TimeoutAt: &past}
	require.NoError(t, s.EnqueueMessage(expired))

	pending, err := s.PendingMessagesFor(sess.ID, now)
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestStore_MarkDelivered(t *testing.T) {
	s := openTestStore(t)
	sess := model.NewSession("f00dcafe", model.ProviderClaude, "/tmp")
	require.NoError(t, s.UpsertSession(sess))

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m := &model.QueuedMessage{ID: "m1", Target: sess.ID, Text: "hi", Mode: model.ModeImportant, QueuedAt: now}
	require.NoError(t, s.EnqueueMessage(m))
	require.NoError(t, s.MarkDelivered(m.ID, now.Add(time.Second)))

	pending, err := s.PendingMessagesFor(sess.ID, now.Add(time.Hour))
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestStore_RemindRegistrationLifecycle(t *testing.T) {
	s := openTestStore(t)
	r := &model.RemindRegistration{SessionID: "sess0001", SoftThresholdSecs: 180, HardThresholdSecs: 300, RegisteredAt: time.Now()}
	require.NoError(t, s.UpsertRemind(r))

	all, err := s.ListReminds()
	require.NoError(t, err)
	require.Len(t, all, 1)

	r.SoftThresholdSecs = 60
	require.NoError(t, s.UpsertRemind(r))
	all, err = s.ListReminds()
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, 60, all[0].SoftThresholdSecs)

	require.NoError(t, s.DeleteRemind(r.SessionID))
	all, err = s.ListReminds()
	require.NoError(t, err)
	require.Empty(t, all)
}

func TestStore_ParentWakeAndWatchLifecycle(t *testing.T) {
	s := openTestStore(t)

	pw := &model.ParentWakeRegistration{ChildSessionID: "child001", ParentSessionID: "parent01", PeriodSecs: 120, RegisteredAt: time.Now()}
	require.NoError(t, s.UpsertParentWake(pw))
	all, err := s.ListParentWakes()
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.NoError(t, s.DeleteParentWake(pw.ChildSessionID))
	all, err = s.ListParentWakes()
	require.NoError(t, err)
	require.Empty(t, all)

	w := &model.WatchRegistration{ID: "watch001", WatcherSessionID: "w1", TargetSessionID: "t1", TimeoutSecs: 60, CreatedAt: time.Now()}
	require.NoError(t, s.InsertWatch(w))
	watches, err := s.ListWatches()
	require.NoError(t, err)
	require.Len(t, watches, 1)
	require.NoError(t, s.DeleteWatch(w.ID))
	watches, err = s.ListWatches()
	require.NoError(t, err)
	require.Empty(t, watches)
}

func TestStore_ScheduledReminders_DueFilter(t *testing.T) {
	s := openTestStore(t)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	due := &model.ScheduledReminder{ID: "r1", SessionID: "s1", FireAt: now.Add(-time.Minute), Message: "ping"}
	future := &model.ScheduledReminder{ID: "r2", SessionID: "s1", FireAt: now.Add(time.Hour), Message: "later"}
	require.NoError(t, s.InsertScheduledReminder(due))
	require.NoError(t, s.InsertScheduledReminder(future))

	list, err := s.DueScheduledReminders(now)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "r1", list[0].ID)

	require.NoError(t, s.DeleteScheduledReminder(due.ID))
	list, err = s.DueScheduledReminders(now)
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestStore_ToolUseCorrelation(t *testing.T) {
	s := openTestStore(t)
	sess := model.NewSession("aaaa1111", model.ProviderClaude, "/tmp")
	require.NoError(t, s.UpsertSession(sess))

	pre := &model.ToolUseEntry{
		Timestamp: time.Now(), SessionID: sess.ID, HookType: "PreToolUse",
		ToolName: "Bash", ToolUseID: "tu-1", BashCommand: "ls",
	}
	require.NoError(t, s.InsertToolUse(pre))

	post := &model.ToolUseEntry{
		Timestamp: time.Now(), SessionID: sess.ID, HookType: "PostToolUse",
		ToolName: "Bash", ToolUseID: "tu-1",
	}
	require.NoError(t, s.InsertToolUse(post))

	found, err := s.ToolUseByID("tu-1")
	require.NoError(t, err)
	require.NotNil(t, found)
	require.Equal(t, "PostToolUse", found.HookType)

	entries, err := s.ListToolUseForSession(sess.ID, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
}

func TestSnapshot_WriteAndRead(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sessions.json")

	s := openTestStore(t)
	sess := model.NewSession("snap0001", model.ProviderCodex, "/tmp")
	require.NoError(t, s.WriteSnapshot(path, []*model.Session{sess}))

	read, err := ReadSnapshot(path)
	require.NoError(t, err)
	require.Len(t, read, 1)
	require.Equal(t, sess.ID, read[0].ID)
}

func TestSnapshot_MissingFileIsNotError(t *testing.T) {
	read, err := ReadSnapshot(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)
	require.Nil(t, read)
}
