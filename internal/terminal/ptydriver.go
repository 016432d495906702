package terminal

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/creack/pty"
	ps "github.com/mitchellh/go-ps"
)

// PTYDriver is a local-machine fallback implementation of Driver, used when
// no multiplexer binary is configured (single-box smoke tests, CI). Each
// "window" owns a real PTY-backed child process instead of a tmux pane,
// grounded on the teacher's direct PTY ownership model
// (internal/session/virtualterminal, pre-adaptation) and on
// github.com/creack/pty, a teacher dependency. Liveness is probed with
// github.com/mitchellh/go-ps (wingedpig-trellis dependency) rather than a
// tmux has-session call.
type PTYDriver struct {
	mu      sync.Mutex
	windows map[string]*ptyWindow
}

type ptyWindow struct {
	mu     sync.Mutex
	cmd    *exec.Cmd
	ptmx   *os.File
	buf    bytes.Buffer // raw captured output, ring-trimmed
	pid    int
	closed bool
}

const ptyRingCap = 1 << 20 // 1MiB of scrollback per window

// NewPTYDriver constructs an empty PTYDriver.
func NewPTYDriver() *PTYDriver {
	return &PTYDriver{windows: make(map[string]*ptyWindow)}
}

func (d *PTYDriver) get(name string) (*ptyWindow, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	w, ok := d.windows[name]
	return w, ok
}

func (d *PTYDriver) CreateWindow(ctx context.Context, name, workingDir, command string, args []string, env map[string]string) error {
	d.mu.Lock()
	if _, exists := d.windows[name]; exists {
		d.mu.Unlock()
		return &ErrWindowExists{Name: name}
	}
	d.mu.Unlock()

	cmd := exec.Command(command, args...)
	cmd.Dir = workingDir
	cmd.Env = os.Environ()
	for k, v := range env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	ptmx, err := pty.Start(cmd)
	if err != nil {
		return fmt.Errorf("pty start %s: %w", name, err)
	}

	w := &ptyWindow{cmd: cmd, ptmx: ptmx, pid: cmd.Process.Pid}
	d.mu.Lock()
	d.windows[name] = w
	d.mu.Unlock()

	go w.pump()
	go func() {
		cmd.Wait()
		w.mu.Lock()
		w.closed = true
		w.mu.Unlock()
	}()

	return nil
}

// pump continuously reads PTY output into the window's ring buffer.
func (w *ptyWindow) pump() {
	buf := make([]byte, 4096)
	for {
		n, err := w.ptmx.Read(buf)
		if n > 0 {
			w.mu.Lock()
			w.buf.Write(buf[:n])
			if w.buf.Len() > ptyRingCap {
				excess := w.buf.Len() - ptyRingCap
				w.buf.Next(excess)
			}
			w.mu.Unlock()
		}
		if err != nil {
			return
		}
	}
}

func (d *PTYDriver) WindowExists(ctx context.Context, name string) (bool, error) {
	w, ok := d.get(name)
	if !ok {
		return false, nil
	}
	w.mu.Lock()
	pid := w.pid
	closed := w.closed
	w.mu.Unlock()
	if closed {
		return false, nil
	}
	proc, err := ps.FindProcess(pid)
	if err != nil {
		return false, err
	}
	return proc != nil, nil
}

func (d *PTYDriver) CapturePane(ctx context.Context, name string, lines int) (string, error) {
	w, ok := d.get(name)
	if !ok {
		return "", &ErrWindowNotFound{Name: name}
	}
	w.mu.Lock()
	raw := w.buf.String()
	w.mu.Unlock()

	clean := StripANSI(raw)
	if lines <= 0 {
		return clean, nil
	}
	split := strings.Split(clean, "\n")
	if len(split) > lines {
		split = split[len(split)-lines:]
	}
	return strings.Join(split, "\n"), nil
}

func (d *PTYDriver) SendTextThenEnter(ctx context.Context, name, text string) error {
	w, ok := d.get(name)
	if !ok {
		return &ErrWindowNotFound{Name: name}
	}
	if _, err := w.ptmx.WriteString(text); err != nil {
		return fmt.Errorf("pty write text %s: %w", name, err)
	}
	time.Sleep(300 * time.Millisecond)
	if _, err := w.ptmx.Write([]byte("\r")); err != nil {
		return fmt.Errorf("pty write enter %s: %w", name, err)
	}
	return nil
}

// SendText writes text as keystrokes without sending Enter.
func (d *PTYDriver) SendText(ctx context.Context, name, text string) error {
	w, ok := d.get(name)
	if !ok {
		return &ErrWindowNotFound{Name: name}
	}
	if _, err := w.ptmx.WriteString(text); err != nil {
		return fmt.Errorf("pty write text %s: %w", name, err)
	}
	return nil
}

var ptyKeyBytes = map[string][]byte{
	"Enter":  []byte("\r"),
	"Escape": []byte{0x1b},
	"Tab":    []byte("\t"),
}

func (d *PTYDriver) SendKey(ctx context.Context, name, key string) error {
	w, ok := d.get(name)
	if !ok {
		return &ErrWindowNotFound{Name: name}
	}
	b, ok := ptyKeyBytes[key]
	if !ok {
		b = []byte(key)
	}
	_, err := w.ptmx.Write(b)
	return err
}

func (d *PTYDriver) SetStatus(ctx context.Context, name, text string) error {
	// No status line concept for a bare PTY; no-op.
	return nil
}

func (d *PTYDriver) KillWindow(ctx context.Context, name string) error {
	d.mu.Lock()
	w, ok := d.windows[name]
	if ok {
		delete(d.windows, name)
	}
	d.mu.Unlock()
	if !ok {
		return &ErrWindowNotFound{Name: name}
	}
	if w.cmd.Process != nil {
		w.cmd.Process.Kill()
	}
	w.ptmx.Close()
	return nil
}
