package terminal

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestNewTmuxDriver_Defaults(t *testing.T) {
	d := NewTmuxDriver()
	if d.Bin != "tmux" {
		t.Errorf("Bin = %q, want tmux", d.Bin)
	}
	if d.SettleDelay != 300*time.Millisecond {
		t.Errorf("SettleDelay = %v, want 300ms", d.SettleDelay)
	}
	if d.CommandTimeout != 10*time.Second {
		t.Errorf("CommandTimeout = %v, want 10s", d.CommandTimeout)
	}
}

func TestTmuxDriver_bin(t *testing.T) {
	d := &TmuxDriver{}
	if d.bin() != "tmux" {
		t.Errorf("bin() = %q, want tmux fallback", d.bin())
	}
	d.Bin = "/usr/local/bin/tmux"
	if d.bin() != "/usr/local/bin/tmux" {
		t.Errorf("bin() = %q, want override", d.bin())
	}
}

// A nonexistent tmux binary lets these tests exercise argument construction
// and error wrapping without requiring tmux to be installed.
func missingDriver() *TmuxDriver {
	return &TmuxDriver{Bin: "sm-test-nonexistent-tmux-binary", CommandTimeout: time.Second}
}

func TestTmuxDriver_WindowExists_MissingBinary(t *testing.T) {
	d := missingDriver()
	exists, err := d.WindowExists(context.Background(), "whatever")
	if err != nil {
		t.Fatalf("WindowExists returned error, want nil (treated as nonexistent): %v", err)
	}
	if exists {
		t.Errorf("exists = true, want false")
	}
}

func TestTmuxDriver_CapturePane_MissingBinary(t *testing.T) {
	d := missingDriver()
	_, err := d.CapturePane(context.Background(), "win", 50)
	if err == nil {
		t.Fatal("expected error for missing tmux binary")
	}
}

func TestTmuxDriver_KillWindow_MissingBinary(t *testing.T) {
	d := missingDriver()
	err := d.KillWindow(context.Background(), "win")
	if err == nil {
		t.Fatal("expected error for missing tmux binary")
	}
}

func TestErrWindowExists_Error(t *testing.T) {
	var err error = &ErrWindowExists{Name: "foo"}
	if err.Error() == "" {
		t.Fatal("expected non-empty error string")
	}
	var target *ErrWindowExists
	if !errors.As(err, &target) {
		t.Fatal("expected errors.As to match ErrWindowExists")
	}
}

func TestErrWindowNotFound_Error(t *testing.T) {
	var err error = &ErrWindowNotFound{Name: "bar"}
	if err.Error() == "" {
		t.Fatal("expected non-empty error string")
	}
}
