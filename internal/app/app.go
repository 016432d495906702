// Package app wires C1 through C6 together: the registry's three callback
// interfaces (SessionStarter, InitialPromptSender, WatchRegistrar), the
// monitor's two (CrashRecoverer, EventSink) and the delivery engine's Sink,
// all implemented by one small App value instead of scattering adapter
// types across cmd/sm, grounded on the teacher's internal/daemon.Daemon —
// which plays the same "glue everything the child process needs" role for
// a single wrapped agent, generalized here to the whole session set.
package app

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"time"

	"sm/internal/config"
	"sm/internal/delivery"
	"sm/internal/model"
	"sm/internal/monitor"
	"sm/internal/registry"
	"sm/internal/store"
	"sm/internal/terminal"
	"sm/internal/timer"
)

// App owns every long-lived subsystem and the glue between them.
type App struct {
	Config   *config.Config
	Store    *store.Store
	Terminal terminal.Driver
	Registry *registry.Registry
	Monitor  *monitor.Monitor
	Engine   *delivery.Engine
	Timer    *timer.Service
}

// New opens the store and constructs every subsystem, wiring the callback
// interfaces each one exposes to the others. It does not start anything
// running; call Start for that.
func New(cfg *config.Config, term terminal.Driver) (*App, error) {
	if err := cfg.EnsureDirs(); err != nil {
		return nil, fmt.Errorf("app: ensure dirs: %w", err)
	}

	st, err := store.Open(cfg.DBPath(), filepath.Join(cfg.StateDir, "sm.lock"))
	if err != nil {
		return nil, fmt.Errorf("app: open store: %w", err)
	}

	reg, err := registry.New(st, term, cfg)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("app: new registry: %w", err)
	}

	a := &App{Config: cfg, Store: st, Terminal: term, Registry: reg}

	monCfg := monitor.DefaultConfig(cfg.LogDir, cfg.IdleThreshold)
	a.Monitor = monitor.New(reg, term, monCfg, a)
	a.Monitor.SetCrashRecoverer(a)

	a.Engine = delivery.New(reg, st, term, cfg, a)
	a.Timer = timer.New(reg, a.Engine, st, cfg)

	reg.SetSessionStarter(a.Monitor)
	reg.SetInitialPromptSender(a)
	reg.SetWatchRegistrar(a)

	return a, nil
}

// Resume restores in-flight state after a restart. Sessions themselves are
// already loaded from sqlite by registry.New; this resumes armed reminders
// and parent-wake timers from their persisted rows, and starts a monitor
// task for every session still believed to be alive.
func (a *App) Resume(ctx context.Context) error {
	if err := a.Timer.Recover(); err != nil {
		log.Printf("app: recover timers: %v", err)
	}
	if err := a.Timer.RecoverDueReminders(); err != nil {
		log.Printf("app: recover due reminders: %v", err)
	}

	for _, sess := range a.Registry.List(false) {
		if sess.Status != model.StatusStopped {
			a.Monitor.StartMonitor(sess.ID)
		}
	}
	return nil
}

// Close releases the store's handle and lock file.
func (a *App) Close() error {
	return a.Store.Close()
}

// --- monitor.EventSink ---

// OnEvent fans a monitor detection out to the subsystem that cares: an
// idle detection marks the session idle for C5's stop-notify chain and
// handoff bookkeeping; a stopped window drops it from the delivery
// engine's in-memory state and cancels any armed timers, since nothing
// will ever resume it.
func (a *App) OnEvent(ev monitor.NotificationEvent) {
	switch ev.Kind {
	case monitor.EventIdle:
		if err := a.Engine.MarkSessionIdle(context.Background(), ev.SessionID, false); err != nil {
			log.Printf("app: mark idle %s: %v", ev.SessionID, err)
		}
	case monitor.EventStopped:
		a.Engine.Forget(ev.SessionID)
		_ = a.Timer.CancelRemind(ev.SessionID)
		_ = a.Timer.CancelParentWake(ev.SessionID)
	}
}

// OnStatusChange persists the status transition the monitor already wrote
// through the registry, by refreshing the JSON recovery snapshot.
func (a *App) OnStatusChange(sessionID string, newStatus string) {
	a.OnSaveState()
}

// OnSaveState writes the JSON snapshot that mirrors the registry
// (spec.md §4.2; the registry's own persistence is sqlite). Nothing reads
// this snapshot back at startup: registry.New recovers sessions from sqlite.
func (a *App) OnSaveState() {
	if err := a.Store.WriteSnapshot(a.Config.SnapshotPath(), a.Registry.Snapshot()); err != nil {
		log.Printf("app: write snapshot: %v", err)
	}
}

// --- monitor.CrashRecoverer ---

// Recover relaunches a crashed agent's window in place, using the same
// provider command the registry used to create it originally.
func (a *App) Recover(sessCtx context.Context, sess *model.Session) error {
	command := a.Config.ProviderCommands[string(sess.Provider)]
	if command == "" {
		return fmt.Errorf("app: no provider command configured for %s", sess.Provider)
	}
	env := map[string]string{"SM_SESSION_ID": sess.ID}
	return a.Terminal.CreateWindow(sessCtx, sess.WindowName, sess.WorkingDir, command, nil, env)
}

// --- delivery.Sink ---

// OnDelivered is a no-op hook point for `sm wait`-style blocking clients;
// sm's CLI polls send-queue state over HTTP instead of subscribing to this
// callback directly, so there is nothing to forward here yet.
func (a *App) OnDelivered(msg *model.QueuedMessage) {}

// OnStopNotify is the counterpart hook for the stop-notify chain; like
// OnDelivered it has no in-process subscriber, since `sm watch` observes
// the effect (the watcher's own queued message) rather than this callback.
func (a *App) OnStopNotify(sessionID, senderID string) {}

// --- registry.InitialPromptSender ---

// SendInitialPrompt waits in the background, for up to UrgentReadyTimeout,
// until the spawned child's pane shows a ready prompt, then queues prompt
// as a sequential message (spec.md §4.3). If no ready prompt appears in
// that time, the prompt is queued anyway.
func (a *App) SendInitialPrompt(ctx context.Context, sessionID, prompt string) {
	go func() {
		if sess, err := a.Registry.Get(sessionID); err == nil && sess != nil && sess.WindowName != "" {
			deadline := time.Now().Add(a.Config.UrgentReadyTimeout)
			for !a.Engine.ProbeReady(context.Background(), sess.WindowName) && time.Now().Before(deadline) {
				time.Sleep(a.Config.UrgentPollInterval)
			}
		}
		if _, err := a.Engine.QueueMessage(context.Background(), delivery.QueueRequest{
			Target: sessionID,
			Text:   prompt,
			Mode:   model.ModeSequential,
		}); err != nil {
			log.Printf("app: send initial prompt to %s: %v", sessionID, err)
		}
	}()
}

// --- registry.WatchRegistrar ---

// defaultWatchTimeout is used when spawn_child's wait=true path registers
// a watch with no explicit deadline (spec.md §4.3 doesn't name one): the
// watch is meant to resolve when the child goes idle, not on a clock, so
// the timeout here is just a generous backstop against a child that never
// settles.
const defaultWatchTimeout = 24 * time.Hour

// RegisterWatch arms a watch-for-idle poll (spec.md §4.5.8/§4.6).
func (a *App) RegisterWatch(ctx context.Context, watcherID, targetID string, timeoutSecs int) error {
	timeout := defaultWatchTimeout
	if timeoutSecs > 0 {
		timeout = time.Duration(timeoutSecs) * time.Second
	}
	_, err := a.Timer.Watch(targetID, watcherID, timeout)
	return err
}
