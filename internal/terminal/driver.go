// Package terminal implements C1, the terminal driver (spec.md §4.1): it
// sends keystrokes to and captures the visible pane of a named multiplexer
// window, and creates/destroys windows. The driver is stateless — all
// concurrency control lives in the delivery engine above it (internal/delivery).
package terminal

import "context"

// Driver is the C1 contract. Every method is a suspension point (spec.md §5)
// and must not be called while holding anything but the per-session delivery
// mutex owned by internal/delivery.
type Driver interface {
	// CreateWindow creates a detached window named name, running command
	// with args in workingDir. Fails if name already exists.
	CreateWindow(ctx context.Context, name, workingDir, command string, args []string, env map[string]string) error

	// WindowExists reports whether a window with the given name is alive.
	WindowExists(ctx context.Context, name string) (bool, error)

	// CapturePane returns the most recent `lines` lines of the window's
	// visible output with terminal-escape sequences removed.
	CapturePane(ctx context.Context, name string, lines int) (string, error)

	// SendTextThenEnter performs the two-call send-then-enter protocol
	// described in spec.md §4.1: write text as keystrokes, settle, then
	// send Enter as a separate keystroke. Both sub-operations must
	// succeed; on either failure, SendTextThenEnter returns an error and
	// does not retry.
	SendTextThenEnter(ctx context.Context, name, text string) error

	// SendKey sends a single named key ("Enter", "Escape", "y", ...).
	SendKey(ctx context.Context, name, key string) error

	// SendText writes text as keystrokes without a trailing Enter, used to
	// restore a saved prompt-buffer after a batch delivery (spec.md §4.5.3
	// step 4) without submitting it.
	SendText(ctx context.Context, name, text string) error

	// SetStatus sets a window's status-line text, best-effort.
	SetStatus(ctx context.Context, name, text string) error

	// KillWindow destroys the window.
	KillWindow(ctx context.Context, name string) error
}

// ErrWindowExists is returned by CreateWindow when name is already in use.
type ErrWindowExists struct{ Name string }

func (e *ErrWindowExists) Error() string { return "terminal: window already exists: " + e.Name }

// ErrWindowNotFound is returned when an operation targets a missing window.
type ErrWindowNotFound struct{ Name string }

func (e *ErrWindowNotFound) Error() string { return "terminal: window not found: " + e.Name }
