package monitor

import "time"

// lastPatternTag records which pattern class last matched inside a single
// delta chunk, permission winning ties (spec.md §4.4 step 2).
type lastPatternTag string

const (
	tagNone       lastPatternTag = ""
	tagPermission lastPatternTag = "permission"
	tagError      lastPatternTag = "error"
	tagCompletion lastPatternTag = "completion"
)

// sessionState is the per-session runtime bookkeeping the monitor goroutine
// owns; nothing here survives a restart, matching SessionDeliveryState's
// "not required to survive restart in full" note in spec.md §3 — C4's
// analogous runtime state is rebuilt from a fresh read on the first tick
// after recovery.
type sessionState struct {
	lastPattern lastPatternTag

	lastPermissionEmitAt time.Time // debounce: one emission per 30s
	lastIdleEmitted      bool

	tickCount int // counts to N=30 for the window-liveness probe

	// Crash recovery debounce/gating (spec.md §4.4 step 5).
	pendingCrashRecovery bool
	lastRecoverySuccessAt time.Time
	lastRecoveryFailureAt time.Time
	blockedByPermission   bool
}

func (s *sessionState) permissionDebounceOK(now time.Time) bool {
	return now.Sub(s.lastPermissionEmitAt) >= 30*time.Second
}

func (s *sessionState) recoveryDebounceOK(now time.Time) bool {
	if !s.lastRecoverySuccessAt.IsZero() && now.Sub(s.lastRecoverySuccessAt) < 30*time.Second {
		return false
	}
	if !s.lastRecoveryFailureAt.IsZero() && now.Sub(s.lastRecoveryFailureAt) < 5*time.Second {
		return false
	}
	return true
}
