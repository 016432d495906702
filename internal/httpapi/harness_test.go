package httpapi

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"

	"sm/internal/config"
	"sm/internal/delivery"
	"sm/internal/registry"
	"sm/internal/store"
	"sm/internal/timer"
)

// fakeDriver is a terminal.Driver double for exercising the HTTP surface
// end to end without a real tmux, grounded on the same recording-driver
// shape internal/delivery/engine_test.go uses for C5's own tests.
type fakeDriver struct {
	mu      sync.Mutex
	windows map[string]bool
	pane    map[string]string
	sent    map[string][]string
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		windows: map[string]bool{},
		pane:    map[string]string{},
		sent:    map[string][]string{},
	}
}

func (d *fakeDriver) CreateWindow(ctx context.Context, name, workingDir, command string, args []string, env map[string]string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.windows[name] = true
	d.pane[name] = "> "
	return nil
}
func (d *fakeDriver) WindowExists(ctx context.Context, name string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.windows[name], nil
}
func (d *fakeDriver) CapturePane(ctx context.Context, name string, lines int) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pane[name], nil
}
func (d *fakeDriver) SendTextThenEnter(ctx context.Context, name, text string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent[name] = append(d.sent[name], text)
	return nil
}
func (d *fakeDriver) SendText(ctx context.Context, name, text string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent[name] = append(d.sent[name], "RESTORE:"+text)
	return nil
}
func (d *fakeDriver) SendKey(ctx context.Context, name, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent[name] = append(d.sent[name], "KEY:"+key)
	return nil
}
func (d *fakeDriver) SetStatus(ctx context.Context, name, text string) error { return nil }
func (d *fakeDriver) KillWindow(ctx context.Context, name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.windows, name)
	return nil
}

func (d *fakeDriver) history(name string) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.sent[name]))
	copy(out, d.sent[name])
	return out
}

func (d *fakeDriver) setPane(name, text string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pane[name] = text
}

// noopStarter stands in for C4 (output monitoring), which these tests never
// need: sessions go idle/running via explicit Stop hooks instead of real
// output detection.
type noopStarter struct{}

func (noopStarter) StartMonitor(sessionID string) {}
func (noopStarter) StopMonitor(sessionID string)  {}

// initialPromptSender adapts delivery.Engine.QueueMessage to
// registry.InitialPromptSender, mirroring internal/app.App.SendInitialPrompt.
type initialPromptSender struct{ eng *delivery.Engine }

func (s initialPromptSender) SendInitialPrompt(ctx context.Context, sessionID, prompt string) {
	_, _ = s.eng.QueueMessage(ctx, delivery.QueueRequest{Target: sessionID, Text: prompt})
}

// watchRegistrar adapts timer.Service.Watch to registry.WatchRegistrar,
// mirroring internal/app.App.RegisterWatch.
type watchRegistrar struct{ tm *timer.Service }

func (w watchRegistrar) RegisterWatch(ctx context.Context, watcherID, targetID string, timeoutSecs int) error {
	timeout := 24 * time.Hour
	if timeoutSecs > 0 {
		timeout = time.Duration(timeoutSecs) * time.Second
	}
	_, err := w.tm.Watch(targetID, watcherID, timeout)
	return err
}

// testServer bundles everything a scenario test needs: the router to drive
// over httptest, and direct handles on the subsystems for setup/assertions
// the HTTP surface itself doesn't expose.
type testServer struct {
	router *mux.Router
	reg    *registry.Registry
	eng    *delivery.Engine
	timer  *timer.Service
	st     *store.Store
	drv    *fakeDriver
	cfg    *config.Config
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.StateDir = dir
	cfg.LogDir = filepath.Join(dir, "logs")
	cfg.UrgentPollInterval = time.Millisecond
	cfg.UrgentReadyTimeout = 50 * time.Millisecond
	cfg.WatchPollInterval = 20 * time.Millisecond
	cfg.SkipFenceWindow = 300 * time.Millisecond
	require.NoError(t, cfg.EnsureDirs())

	st, err := store.Open(cfg.DBPath(), filepath.Join(cfg.StateDir, "sm.db.lock"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	drv := newFakeDriver()
	reg, err := registry.New(st, drv, cfg)
	require.NoError(t, err)

	eng := delivery.New(reg, st, drv, cfg, nil)
	tm := timer.New(reg, eng, st, cfg)

	reg.SetSessionStarter(noopStarter{})
	reg.SetInitialPromptSender(initialPromptSender{eng})
	reg.SetWatchRegistrar(watchRegistrar{tm})

	router := NewRouter(Dependencies{
		Registry: reg, Engine: eng, Timer: tm, Store: st, Terminal: drv, Config: cfg,
	})

	return &testServer{router: router, reg: reg, eng: eng, timer: tm, st: st, drv: drv, cfg: cfg}
}

func newRecorder() *httptest.ResponseRecorder {
	return httptest.NewRecorder()
}
