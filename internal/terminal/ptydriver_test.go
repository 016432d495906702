package terminal

import (
	"context"
	"testing"
)

func TestPTYDriver_WindowExists_Unknown(t *testing.T) {
	d := NewPTYDriver()
	exists, err := d.WindowExists(context.Background(), "nope")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if exists {
		t.Error("exists = true for unknown window, want false")
	}
}

func TestPTYDriver_CapturePane_Unknown(t *testing.T) {
	d := NewPTYDriver()
	_, err := d.CapturePane(context.Background(), "nope", 10)
	if err == nil {
		t.Fatal("expected ErrWindowNotFound")
	}
	var target *ErrWindowNotFound
	if !asErrWindowNotFound(err, &target) {
		t.Fatalf("expected ErrWindowNotFound, got %v (%T)", err, err)
	}
}

func TestPTYDriver_KillWindow_Unknown(t *testing.T) {
	d := NewPTYDriver()
	err := d.KillWindow(context.Background(), "nope")
	if err == nil {
		t.Fatal("expected ErrWindowNotFound")
	}
}

func TestPTYDriver_SendKey_Unknown(t *testing.T) {
	d := NewPTYDriver()
	err := d.SendKey(context.Background(), "nope", "Enter")
	if err == nil {
		t.Fatal("expected ErrWindowNotFound")
	}
}

func asErrWindowNotFound(err error, target **ErrWindowNotFound) bool {
	e, ok := err.(*ErrWindowNotFound)
	if !ok {
		return false
	}
	*target = e
	return true
}
