package hooks

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"sm/internal/config"
	"sm/internal/model"
	"sm/internal/registry"
	"sm/internal/store"
	"sm/internal/terminal"
)

type noopDriver struct{}

func (noopDriver) CreateWindow(ctx context.Context, name, workingDir, command string, args []string, env map[string]string) error {
	return nil
}
func (noopDriver) WindowExists(ctx context.Context, name string) (bool, error)    { return true, nil }
func (noopDriver) CapturePane(ctx context.Context, name string, lines int) (string, error) {
	return "> ", nil
}
func (noopDriver) SendTextThenEnter(ctx context.Context, name, text string) error { return nil }
func (noopDriver) SendText(ctx context.Context, name, text string) error          { return nil }
func (noopDriver) SendKey(ctx context.Context, name, key string) error            { return nil }
func (noopDriver) SetStatus(ctx context.Context, name, status string) error       { return nil }
func (noopDriver) KillWindow(ctx context.Context, name string) error              { return nil }

var _ terminal.Driver = noopDriver{}

func newTestRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "sm.db"), filepath.Join(dir, "sm.db.lock"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	reg, err := registry.New(st, noopDriver{}, config.Default())
	require.NoError(t, err)
	return reg
}

func TestMatchClaude_BySessionManagerID(t *testing.T) {
	reg := newTestRegistry(t)
	sess, err := reg.CreateSession(context.Background(), "/tmp", model.ProviderClaude, "", "")
	require.NoError(t, err)

	id, ok := MatchClaude(reg, ClaudeHookPayload{HookEventName: "Stop", SessionManagerID: sess.ID})
	require.True(t, ok)
	require.Equal(t, sess.ID, id)
}

func TestMatchClaude_ByTranscriptPathOnlyIfRecorded(t *testing.T) {
	reg := newTestRegistry(t)
	sess, err := reg.CreateSession(context.Background(), "/tmp", model.ProviderClaude, "", "")
	require.NoError(t, err)

	// Not yet recorded: a payload carrying only a transcript path must miss.
	_, ok := MatchClaude(reg, ClaudeHookPayload{HookEventName: "Stop", TranscriptPath: "/tmp/t.jsonl"})
	require.False(t, ok)

	require.NoError(t, reg.SetTranscriptPath(sess.ID, "/tmp/t.jsonl"))

	id, ok := MatchClaude(reg, ClaudeHookPayload{HookEventName: "Stop", TranscriptPath: "/tmp/t.jsonl"})
	require.True(t, ok)
	require.Equal(t, sess.ID, id)
}

func TestMatchClaude_BySessionIDFallback(t *testing.T) {
	reg := newTestRegistry(t)
	sess, err := reg.CreateSession(context.Background(), "/tmp", model.ProviderClaude, "", "")
	require.NoError(t, err)

	id, ok := MatchClaude(reg, ClaudeHookPayload{HookEventName: "Notification", SessionID: sess.ID})
	require.True(t, ok)
	require.Equal(t, sess.ID, id)
}

func TestMatchClaude_NoMatchIsNotAnError(t *testing.T) {
	reg := newTestRegistry(t)
	_, ok := MatchClaude(reg, ClaudeHookPayload{HookEventName: "Stop", SessionManagerID: "nonexistent"})
	require.False(t, ok)
}

func TestMatchClaude_SessionManagerIDTakesPrecedenceOverTranscript(t *testing.T) {
	reg := newTestRegistry(t)
	sessA, err := reg.CreateSession(context.Background(), "/tmp", model.ProviderClaude, "", "")
	require.NoError(t, err)
	sessB, err := reg.CreateSession(context.Background(), "/tmp", model.ProviderClaude, "", "")
	require.NoError(t, err)
	require.NoError(t, reg.SetTranscriptPath(sessB.ID, "/tmp/b.jsonl"))

	id, ok := MatchClaude(reg, ClaudeHookPayload{
		HookEventName:    "Stop",
		SessionManagerID: sessA.ID,
		TranscriptPath:   "/tmp/b.jsonl",
	})
	require.True(t, ok)
	require.Equal(t, sessA.ID, id)
}

func TestMatchToolUse_BySessionManagerID(t *testing.T) {
	reg := newTestRegistry(t)
	sess, err := reg.CreateSession(context.Background(), "/tmp", model.ProviderClaude, "", "")
	require.NoError(t, err)

	id, ok := MatchToolUse(reg, ToolUsePayload{HookEventName: "PreToolUse", SessionManagerID: sess.ID, ToolName: "Bash"})
	require.True(t, ok)
	require.Equal(t, sess.ID, id)
}

func TestMatchToolUse_NoMatchIsNotAnError(t *testing.T) {
	reg := newTestRegistry(t)
	_, ok := MatchToolUse(reg, ToolUsePayload{HookEventName: "PreToolUse", ToolName: "Bash"})
	require.False(t, ok)
}
