package delivery

import (
	"fmt"
	"strings"

	"sm/internal/model"
)

// formatMessage renders a QueuedMessage's on-wire keystroke payload. A
// message with no sender is raw operator input and is delivered verbatim;
// an inter-agent message is wrapped in a header line so the receiving
// agent can attribute it, grounded on the teacher's
// internal/session/message delivery convention ("[h2 message from: x] ...").
func formatMessage(m *model.QueuedMessage) string {
	if m.Sender == "" {
		return m.Text
	}
	name := m.SenderName
	if name == "" {
		name = m.Sender
	}
	return fmt.Sprintf("[sm message from: %s] %s", name, m.Text)
}

// isPromptReady reports whether the last line of a captured pane looks
// like a bare input prompt with nothing typed after it (spec.md §4.5.4
// step 4): right-stripped, ends exactly with ">".
func isPromptReady(pane string) bool {
	lines := strings.Split(strings.TrimRight(pane, "\n"), "\n")
	if len(lines) == 0 {
		return false
	}
	last := strings.TrimRight(lines[len(lines)-1], " \t")
	return strings.HasSuffix(last, ">")
}

// extractUnsentInput recovers the operator's half-typed text from a
// captured prompt line, used to save/restore state.saved_user_input around
// a batch delivery (spec.md §4.5.3 steps 3a/4). Returns "" when the line is
// a bare prompt with nothing typed after the marker.
func extractUnsentInput(paneLine string) string {
	line := strings.TrimRight(paneLine, "\n")
	idx := strings.LastIndex(line, ">")
	if idx == -1 || idx == len(line)-1 {
		return ""
	}
	return strings.TrimLeft(line[idx+1:], " ")
}
