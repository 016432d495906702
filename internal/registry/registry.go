// Package registry implements C3, the session registry (spec.md §4.3): an
// in-memory map of session id to *model.Session, mirrored to C2 on every
// mutation, owning session lifecycle transitions and friendly-name
// resolution. Friendly-name lookups are served from a
// github.com/patrickmn/go-cache TTL cache so that repeated `sm` CLI
// invocations addressing a session by name don't force a full map scan.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"

	"sm/internal/config"
	"sm/internal/gitutil"
	"sm/internal/model"
	"sm/internal/store"
	"sm/internal/terminal"
)

// Sentinel errors surfaced by registry operations; the HTTP surface (C7)
// maps these to spec.md §7's error kinds.
var (
	ErrNotFound         = errors.New("registry: session not found")
	ErrNameTaken        = errors.New("registry: friendly name already in use")
	ErrInvalidName      = errors.New("registry: friendly name does not match the allowed pattern")
	ErrNotOwner         = errors.New("registry: target is not a direct child of requester")
	ErrWindowConflict   = errors.New("registry: multiplexer window already exists")
)

// SessionStarter hooks C4 (output monitoring) to a freshly created session.
// Implemented by monitor.Monitor (wired in internal/app), not by this
// package, to avoid registry depending on monitor.
type SessionStarter interface {
	StartMonitor(sessionID string)
	StopMonitor(sessionID string)
}

// InitialPromptSender delivers spawn_child's initial prompt once the new
// session's agent reports a prompt-ready state (spec.md §4.3). Implemented
// by internal/app's App, which hands the prompt to the delivery engine (C5).
type InitialPromptSender interface {
	SendInitialPrompt(ctx context.Context, sessionID, prompt string)
}

// WatchRegistrar arms a watch-for-idle job (spec.md §4.5.8), implemented by
// the timer service (C6).
type WatchRegistrar interface {
	RegisterWatch(ctx context.Context, watcherID, targetID string, timeoutSecs int) error
}


// Registry is the C3 implementation.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*model.Session

	nameCache *gocache.Cache

	st   *store.Store
	term terminal.Driver
	cfg  *config.Config
	gen  *NameGenerator

	starter      SessionStarter
	promptSender InitialPromptSender
	watcher      WatchRegistrar
}

// New constructs a Registry and loads every persisted session from st into
// memory (startup recovery path, spec.md §4.2).
func New(st *store.Store, term terminal.Driver, cfg *config.Config) (*Registry, error) {
	r := &Registry{
		sessions:  make(map[string]*model.Session),
		nameCache: gocache.New(10*time.Minute, 10*time.Minute),
		st:        st,
		term:      term,
		cfg:       cfg,
		gen:       NewNameGenerator(time.Now().UnixNano()),
	}

	sessions, err := st.ListSessions()
	if err != nil {
		return nil, fmt.Errorf("registry: load sessions: %w", err)
	}
	for _, sess := range sessions {
		r.sessions[sess.ID] = sess
		if sess.FriendlyName != "" {
			r.nameCache.Set(sess.FriendlyName, sess.ID, gocache.NoExpiration)
		}
	}
	return r, nil
}

// SetSessionStarter, SetInitialPromptSender and SetWatchRegistrar complete
// the wiring that would otherwise create an import cycle between C3 and
// C4/C5/C6; call them once during engine construction.
func (r *Registry) SetSessionStarter(s SessionStarter)           { r.starter = s }
func (r *Registry) SetInitialPromptSender(p InitialPromptSender) { r.promptSender = p }
func (r *Registry) SetWatchRegistrar(w WatchRegistrar)           { r.watcher = w }

func newShortID() string {
	return uuid.New().String()[:8]
}

// CreateSession implements spec.md §4.3 create_session.
func (r *Registry) CreateSession(ctx context.Context, workingDir string, provider model.Provider, name, parentID string) (*model.Session, error) {
	if name != "" && !model.FriendlyNamePattern.MatchString(name) {
		return nil, ErrInvalidName
	}

	r.mu.Lock()
	if name != "" {
		if _, exists := r.nameCache.Get(name); exists {
			r.mu.Unlock()
			return nil, ErrNameTaken
		}
	}
	r.mu.Unlock()

	id := newShortID()
	sess := model.NewSession(id, provider, workingDir)
	sess.FriendlyName = name
	sess.ParentSessionID = parentID
	sess.GitRemoteURL = gitutil.RemoteURL(workingDir)

	command := r.cfg.ProviderCommands[string(provider)]
	env := map[string]string{"SM_SESSION_ID": id}
	if command != "" {
		if err := r.term.CreateWindow(ctx, sess.WindowName, workingDir, command, nil, env); err != nil {
			var exists *terminal.ErrWindowExists
			if errors.As(err, &exists) {
				return nil, ErrWindowConflict
			}
			return nil, fmt.Errorf("registry: create window for %s: %w", id, err)
		}
	}

	if err := r.st.UpsertSession(sess); err != nil {
		return nil, fmt.Errorf("registry: persist session %s: %w", id, err)
	}

	r.mu.Lock()
	r.sessions[id] = sess
	if name != "" {
		r.nameCache.Set(name, id, gocache.NoExpiration)
	}
	r.mu.Unlock()

	if r.starter != nil {
		r.starter.StartMonitor(id)
	}
	return sess, nil
}

// SpawnChild implements spec.md §4.3 spawn_child.
func (r *Registry) SpawnChild(ctx context.Context, parentID, prompt, name string, workingDir string, wait bool) (*model.Session, error) {
	parent, err := r.Get(parentID)
	if err != nil {
		return nil, err
	}
	if parent == nil {
		return nil, ErrNotFound
	}
	if workingDir == "" {
		workingDir = parent.WorkingDir
	}

	child, err := r.CreateSession(ctx, workingDir, parent.Provider, name, parent.ID)
	if err != nil {
		return nil, err
	}
	child.Task = prompt

	r.mu.Lock()
	if parent.IsEM {
		r.attachEMDefaultsLocked(child)
	}
	r.mu.Unlock()

	if err := r.st.UpsertSession(child); err != nil {
		return nil, fmt.Errorf("registry: persist spawned child %s: %w", child.ID, err)
	}

	if r.promptSender != nil {
		r.promptSender.SendInitialPrompt(ctx, child.ID, prompt)
	}
	if wait && r.watcher != nil {
		if err := r.watcher.RegisterWatch(ctx, parentID, child.ID, 0); err != nil {
			return nil, fmt.Errorf("registry: register wait watch: %w", err)
		}
	}
	return child, nil
}

// attachEMDefaultsLocked marks a child's context-monitor enrolment pointed
// at its "engineering manager" parent. The remind watchdog and the
// one-shot stop notification are armed separately by the HTTP handler that
// calls SpawnChild (httpapi/sessions.go's Spawn), since those live in the
// timer/delivery services and registry must not import them (import
// cycle); r.mu is held by the caller.
func (r *Registry) attachEMDefaultsLocked(child *model.Session) {
	child.ContextMonitorEnabled = true
	child.ContextNotifyTarget = child.ParentSessionID
}

// Get resolves either a session id or a friendly name.
func (r *Registry) Get(idOrName string) (*model.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if sess, ok := r.sessions[idOrName]; ok {
		return sess, nil
	}
	if id, ok := r.nameCache.Get(idOrName); ok {
		if sess, ok := r.sessions[id.(string)]; ok {
			return sess, nil
		}
	}
	return nil, nil
}

// List returns all known sessions, optionally including stopped/error ones.
func (r *Registry) List(includeStopped bool) []*model.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*model.Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		if !includeStopped && (sess.Status == model.StatusStopped || sess.Status == model.StatusError) {
			continue
		}
		out = append(out, sess)
	}
	return out
}

// Children returns the direct children of parentID; recursive expands
// transitively (spec.md §6 GET /sessions/{parent}/children?recursive).
func (r *Registry) Children(parentID string, recursive bool) []*model.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var direct []*model.Session
	for _, sess := range r.sessions {
		if sess.ParentSessionID == parentID {
			direct = append(direct, sess)
		}
	}
	if !recursive {
		return direct
	}
	all := append([]*model.Session{}, direct...)
	for _, child := range direct {
		all = append(all, r.Children(child.ID, true)...)
	}
	return all
}

// UpdateFriendlyName enforces spec.md §3's name regex and uniqueness
// invariant.
func (r *Registry) UpdateFriendlyName(id, name string) error {
	if name != "" && !model.FriendlyNamePattern.MatchString(name) {
		return ErrInvalidName
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[id]
	if !ok {
		return ErrNotFound
	}
	if name != "" {
		if existingID, exists := r.nameCache.Get(name); exists && existingID.(string) != id {
			return ErrNameTaken
		}
	}
	if sess.FriendlyName != "" {
		r.nameCache.Delete(sess.FriendlyName)
	}
	sess.FriendlyName = name
	if name != "" {
		r.nameCache.Set(name, id, gocache.NoExpiration)
	}
	return r.st.UpsertSession(sess)
}

// SetIsEM toggles the "engineering manager" flag via PATCH /sessions/{id}.
func (r *Registry) SetIsEM(id string, isEM bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[id]
	if !ok {
		return ErrNotFound
	}
	sess.IsEM = isEM
	return r.st.UpsertSession(sess)
}

// SetTask implements PUT /sessions/{id}/task.
func (r *Registry) SetTask(id, task string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[id]
	if !ok {
		return ErrNotFound
	}
	sess.Task = task
	return r.st.UpsertSession(sess)
}

// SetAgentStatus implements POST /sessions/{id}/agent-status. A nil text
// clears both the text and the timestamp (spec.md §8 round-trip law); a
// non-nil text also resets any armed remind registration, handled by the
// caller (C6 owns remind state) after this call succeeds.
func (r *Registry) SetAgentStatus(id string, text *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[id]
	if !ok {
		return ErrNotFound
	}
	if text == nil {
		sess.AgentStatusText = ""
		sess.AgentStatusAt = nil
	} else {
		sess.AgentStatusText = *text
		now := time.Now()
		sess.AgentStatusAt = &now
	}
	return r.st.UpsertSession(sess)
}

// SetTranscriptPath records the agent-reported transcript path the first
// time a Claude hook payload carries one for this session, so that later
// hook payloads lacking a session_manager_id can still be matched by
// transcript path (spec.md §4.7(b)).
func (r *Registry) SetTranscriptPath(id, transcriptPath string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[id]
	if !ok {
		return ErrNotFound
	}
	sess.TranscriptPath = transcriptPath
	return r.st.UpsertSession(sess)
}

// SetRole implements PUT /sessions/{id}/role.
func (r *Registry) SetRole(id, role string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[id]
	if !ok {
		return ErrNotFound
	}
	sess.Role = role
	return r.st.UpsertSession(sess)
}

// ClearRole implements DELETE /sessions/{id}/role.
func (r *Registry) ClearRole(id string) error {
	return r.SetRole(id, "")
}

// SetEMRole is a convenience wrapper used by `sm role --em`, setting both
// the role tag and the is_em flag in one mirrored write.
func (r *Registry) SetEMRole(id, role string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[id]
	if !ok {
		return ErrNotFound
	}
	sess.Role = role
	sess.IsEM = true
	return r.st.UpsertSession(sess)
}

// SetContextMonitor implements POST /sessions/{id}/context-monitor.
// Enabling re-arms the one-shot warning/critical flags (spec.md §6).
func (r *Registry) SetContextMonitor(id string, enabled bool, notifyTarget string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[id]
	if !ok {
		return ErrNotFound
	}
	sess.ContextMonitorEnabled = enabled
	if notifyTarget != "" {
		sess.ContextNotifyTarget = notifyTarget
	}
	if enabled {
		sess.ContextWarningSent = false
		sess.ContextCriticalSent = false
	}
	return r.st.UpsertSession(sess)
}

// KillSession implements spec.md §4.3 kill_session, enforcing the ownership
// rule: if requesterID is non-empty, target must be requester's direct
// child.
func (r *Registry) KillSession(ctx context.Context, requesterID, targetID string) error {
	r.mu.Lock()
	sess, ok := r.sessions[targetID]
	if !ok {
		r.mu.Unlock()
		return ErrNotFound
	}
	if requesterID != "" && sess.ParentSessionID != requesterID {
		r.mu.Unlock()
		return ErrNotOwner
	}
	delete(r.sessions, targetID)
	if sess.FriendlyName != "" {
		r.nameCache.Delete(sess.FriendlyName)
	}
	r.mu.Unlock()

	if r.starter != nil {
		r.starter.StopMonitor(targetID)
	}
	if err := r.term.KillWindow(ctx, sess.WindowName); err != nil {
		var notFound *terminal.ErrWindowNotFound
		if !errors.As(err, &notFound) {
			return fmt.Errorf("registry: kill window for %s: %w", targetID, err)
		}
	}
	return r.st.DeleteSession(targetID)
}

// ActivityState derives the session's activity_state (spec.md §4.3).
// codexApp is nil for tmux-hosted providers.
func (r *Registry) ActivityState(sess *model.Session, codexApp *model.CodexAppSignals) model.ActivityState {
	return sess.ActivityState(codexApp)
}

// InvalidateCache clears the fields `sm clear` resets (spec.md §4.3
// invalidate_cache / §6 POST /sessions/{id}/invalidate-cache).
func (r *Registry) InvalidateCache(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[id]
	if !ok {
		return ErrNotFound
	}
	sess.CompletionStatus = ""
	sess.Role = ""
	sess.AgentStatusText = ""
	sess.AgentStatusAt = nil
	sess.ContextWarningSent = false
	sess.ContextCriticalSent = false
	sess.Compacting = false
	return r.st.UpsertSession(sess)
}

// SetStatus records a new lifecycle status and mirrors it to C2; called by
// C4 on every transition it detects.
func (r *Registry) SetStatus(id string, status model.Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[id]
	if !ok {
		return ErrNotFound
	}
	sess.Status = status
	sess.LastActivity = time.Now()
	return r.st.UpsertSession(sess)
}

// TouchActivity bumps last_activity without a status change (C4 step 1).
func (r *Registry) TouchActivity(id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[id]
	if !ok {
		return ErrNotFound
	}
	sess.LastActivity = at
	return r.st.UpsertSession(sess)
}

// RecordToolUse updates a session's running last-tool summary and
// per-tool counters (spec.md §3 tool-use fields, supplemented from
// original_source/src/models.py's tools_used counters).
func (r *Registry) RecordToolUse(id, toolName string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[id]
	if !ok {
		return ErrNotFound
	}
	sess.LastToolName = toolName
	sess.LastToolAt = &at
	if sess.ToolCounts == nil {
		sess.ToolCounts = make(map[string]int)
	}
	sess.ToolCounts[toolName]++
	return r.st.UpsertSession(sess)
}

// Save persists the current in-memory state of id (used by callers that
// mutate a *model.Session obtained from Get directly, e.g. C4/C5/C6, to
// avoid every registry method needing a bespoke setter).
func (r *Registry) Save(sess *model.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[sess.ID]; !ok {
		return ErrNotFound
	}
	return r.st.UpsertSession(sess)
}

// Snapshot returns every live session, for the JSON recovery file writer.
func (r *Registry) Snapshot() []*model.Session {
	return r.List(true)
}

// Reopen implements POST /sessions/{id}/reopen (SPEC_FULL.md, recovered
// from src/server.py's `/sessions/{id}/open`): re-attach a terminal window
// to an existing session row whose multiplexer window died without a
// session kill. A no-op if the window is already alive.
func (r *Registry) Reopen(ctx context.Context, id string) error {
	r.mu.Lock()
	sess, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return ErrNotFound
	}
	r.mu.Unlock()

	exists, err := r.term.WindowExists(ctx, sess.WindowName)
	if err != nil {
		return fmt.Errorf("registry: reopen probe for %s: %w", id, err)
	}
	if exists {
		return nil
	}

	command := r.cfg.ProviderCommands[string(sess.Provider)]
	if command == "" {
		return nil
	}
	env := map[string]string{"SM_SESSION_ID": id}
	if err := r.term.CreateWindow(ctx, sess.WindowName, sess.WorkingDir, command, nil, env); err != nil {
		return fmt.Errorf("registry: reopen window for %s: %w", id, err)
	}
	return r.SetStatus(id, model.StatusRunning)
}

// AddSubagent records a Task-tool fan-out started under a parent session
// (SUPPLEMENTED FEATURES: Subagent tracking, recovered from
// original_source/src/models.py's Subagent dataclass).
func (r *Registry) AddSubagent(sessionID string, sub model.Subagent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	sess.Subagents = append(sess.Subagents, sub)
	return r.st.UpsertSession(sess)
}

// StopSubagent marks a previously recorded subagent finished, matched by
// agentID within sessionID's Subagents slice.
func (r *Registry) StopSubagent(sessionID, agentID, status, summary string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	now := time.Now()
	for i := range sess.Subagents {
		if sess.Subagents[i].AgentID == agentID {
			sess.Subagents[i].StoppedAt = &now
			sess.Subagents[i].Status = status
			sess.Subagents[i].Summary = summary
			break
		}
	}
	return r.st.UpsertSession(sess)
}

// Subagents returns sessionID's recorded subagent fan-out, for
// GET /sessions/{id}/subagents.
func (r *Registry) Subagents(sessionID string) ([]model.Subagent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return sess.Subagents, nil
}
