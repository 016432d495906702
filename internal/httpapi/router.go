package httpapi

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"sm/internal/config"
	"sm/internal/delivery"
	"sm/internal/registry"
	"sm/internal/store"
	"sm/internal/terminal"
	"sm/internal/timer"
)

// Dependencies holds everything the router wires into handlers.
type Dependencies struct {
	Registry *registry.Registry
	Engine   *delivery.Engine
	Timer    *timer.Service
	Store    *store.Store
	Terminal terminal.Driver
	Config   *config.Config
}

// NewRouter builds the full sm HTTP surface.
func NewRouter(deps Dependencies) *mux.Router {
	codex := newCodexAppStore()

	sessions := NewSessionsHandler(deps.Registry, deps.Engine, deps.Timer, deps.Store, deps.Terminal, deps.Config, codex)
	codexApp := NewCodexAppHandler(deps.Registry, codex)
	hooksH := NewHooksHandler(deps.Registry, deps.Engine, deps.Timer, deps.Store, deps.Config)
	admin := NewAdminHandler(deps.Registry, deps.Timer)
	reviews := NewReviewsHandler()
	subagents := NewSubagentsHandler(deps.Registry)
	output := NewOutputHandler(deps.Registry, deps.Config)

	r := mux.NewRouter()
	r.Use(logging)
	r.Use(recovery)

	r.HandleFunc("/health", admin.Health).Methods("GET")

	// Sessions: creation and listing.
	r.HandleFunc("/sessions", sessions.Create).Methods("POST")
	r.HandleFunc("/sessions/create", sessions.Create).Methods("POST")
	r.HandleFunc("/sessions/spawn", sessions.Spawn).Methods("POST")
	r.HandleFunc("/sessions", sessions.List).Methods("GET")
	r.HandleFunc("/sessions/context-monitor", sessions.ListContextMonitor).Methods("GET")
	r.HandleFunc("/sessions/review", reviews.NotImplemented).Methods("POST")

	// Sessions: single-resource routes.
	r.HandleFunc("/sessions/{id}", sessions.Get).Methods("GET")
	r.HandleFunc("/sessions/{id}", sessions.Patch).Methods("PATCH")
	r.HandleFunc("/sessions/{id}", sessions.Kill).Methods("DELETE")
	r.HandleFunc("/sessions/{id}/task", sessions.SetTask).Methods("PUT")
	r.HandleFunc("/sessions/{id}/role", sessions.SetRole).Methods("PUT")
	r.HandleFunc("/sessions/{id}/role", sessions.ClearRole).Methods("DELETE")
	r.HandleFunc("/sessions/{id}/agent-status", sessions.SetAgentStatus).Methods("POST")
	r.HandleFunc("/sessions/{id}/input", sessions.Input).Methods("POST")
	r.HandleFunc("/sessions/{id}/key", sessions.SendKey).Methods("POST")
	r.HandleFunc("/sessions/{id}/kill", sessions.Kill).Methods("POST")
	r.HandleFunc("/sessions/{id}/clear", sessions.Clear).Methods("POST")
	r.HandleFunc("/sessions/{id}/handoff", sessions.Handoff).Methods("POST")
	r.HandleFunc("/sessions/{id}/task-complete", sessions.TaskComplete).Methods("POST")
	r.HandleFunc("/sessions/{id}/invalidate-cache", sessions.InvalidateCache).Methods("POST")
	r.HandleFunc("/sessions/{id}/notify-on-stop", sessions.NotifyOnStop).Methods("POST")
	r.HandleFunc("/sessions/{id}/watch", sessions.Watch).Methods("POST")
	r.HandleFunc("/sessions/{id}/context-monitor", sessions.SetContextMonitor).Methods("POST")
	r.HandleFunc("/sessions/{parent}/children", sessions.Children).Methods("GET")
	r.HandleFunc("/sessions/{id}/output", output.Output).Methods("GET")
	r.HandleFunc("/sessions/{id}/tool-calls", sessions.ToolCalls).Methods("GET")
	r.HandleFunc("/sessions/{id}/summary", output.Summary).Methods("GET")
	r.HandleFunc("/sessions/{id}/send-queue", sessions.SendQueue).Methods("GET")
	r.HandleFunc("/sessions/{id}/last-message", sessions.LastMessage).Methods("GET")
	r.HandleFunc("/sessions/{id}/review", reviews.NotImplemented).Methods("POST")
	r.HandleFunc("/sessions/{id}/reopen", sessions.Reopen).Methods("POST")

	// Subagent bookkeeping (supplemented feature).
	r.HandleFunc("/sessions/{id}/subagents", subagents.List).Methods("GET")
	r.HandleFunc("/sessions/{id}/subagents", subagents.Start).Methods("POST")
	r.HandleFunc("/sessions/{id}/subagents/{agent_id}/stop", subagents.Stop).Methods("POST")

	// Codex-app structured-event protocol.
	r.HandleFunc("/sessions/{id}/codex-events", codexApp.Events).Methods("GET")
	r.HandleFunc("/sessions/{id}/codex-pending-requests", codexApp.PendingRequests).Methods("GET")
	r.HandleFunc("/sessions/{id}/codex-requests/{req}/respond", codexApp.Respond).Methods("POST")
	r.HandleFunc("/sessions/{id}/activity-actions", codexApp.ActivityActions).Methods("GET")

	// Reviews (non-core).
	r.HandleFunc("/reviews/pr", reviews.NotImplemented).Methods("POST")

	// Hooks.
	r.HandleFunc("/hooks/claude", hooksH.Claude).Methods("POST")
	r.HandleFunc("/hooks/tool-use", hooksH.ToolUse).Methods("POST")
	r.HandleFunc("/hooks/context-usage", hooksH.ContextUsage).Methods("POST")

	// Admin/misc and the supplemented direct-notify route.
	r.HandleFunc("/scheduler/remind", admin.ScheduleReminder).Methods("POST")
	r.HandleFunc("/admin/cleanup-idle-topics", admin.CleanupIdleTopics).Methods("POST")
	r.HandleFunc("/notify", sessions.Notify).Methods("POST")

	return r
}

// Server wraps the router with listen/shutdown lifecycle, grounded on the
// teacher's internal/api.Server.
type Server struct {
	router *mux.Router
	addr   string
	server *http.Server
}

// NewServer constructs a Server bound to cfg.BindAddr.
func NewServer(deps Dependencies) *Server {
	return &Server{
		router: NewRouter(deps),
		addr:   deps.Config.BindAddr,
	}
}

// Router returns the underlying router, mainly for tests.
func (s *Server) Router() *mux.Router {
	return s.router
}

// ListenAndServe starts the HTTP server; it blocks until Shutdown or a
// fatal listener error.
func (s *Server) ListenAndServe() error {
	s.server = &http.Server{
		Addr:    s.addr,
		Handler: s.router,
	}
	log.Printf("httpapi: listening on http://%s", s.addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("httpapi: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	shutdownCtx := ctx
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		shutdownCtx, cancel = context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
	}
	return s.server.Shutdown(shutdownCtx)
}
