package httpapi

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gorilla/mux"

	"sm/internal/config"
	"sm/internal/registry"
)

// OutputHandler serves the two routes that read back a session's captured
// terminal output (spec.md §6: GET .../output, GET .../summary), backed by
// the plain-text pane log C4 pipes to disk (internal/monitor's LogPiper
// convention: cfg.LogDir/<session_id>.log).
type OutputHandler struct {
	reg *registry.Registry
	cfg *config.Config
}

func NewOutputHandler(reg *registry.Registry, cfg *config.Config) *OutputHandler {
	return &OutputHandler{reg: reg, cfg: cfg}
}

// lookup resolves {id} to a session, writing a 404 on miss.
func (h *OutputHandler) lookup(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := mux.Vars(r)["id"]
	sess, err := h.reg.Get(id)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "internal error")
		return "", false
	}
	if sess == nil {
		WriteError(w, http.StatusNotFound, "session not found")
		return "", false
	}
	return sess.ID, true
}

// Output handles GET /sessions/{id}/output?lines=N.
func (h *OutputHandler) Output(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.lookup(w, r)
	if !ok {
		return
	}
	lines := intQuery(r, "lines", 200)
	text, err := tailLogFile(h.cfg.LogDir, sessionID, lines)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "internal error")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"output": text})
}

// Summary handles GET /sessions/{id}/summary?lines=N. sm has no model-
// driven summarizer (spec.md names the session-summary text as a field
// the agent itself reports, not something C7 generates), so this route
// returns the same tail-of-output text the output route does, under the
// summary key the route name promises.
func (h *OutputHandler) Summary(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.lookup(w, r)
	if !ok {
		return
	}
	lines := intQuery(r, "lines", 40)
	text, err := tailLogFile(h.cfg.LogDir, sessionID, lines)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "internal error")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"summary": text})
}

// tailLogFile returns the last n lines of cfg.LogDir/<sessionID>.log, or
// "" if the file doesn't exist yet (a session that hasn't produced output).
func tailLogFile(logDir, sessionID string, n int) (string, error) {
	path := filepath.Join(logDir, sessionID+".log")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if n > 0 && len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n"), nil
}
