package delivery

import "errors"

// Sentinel errors for the operations spec.md §4.5.7 and §7 mark as
// business-validation failures (surfaced as 200 {error:...} or 422 by the
// HTTP layer, never as a 500).
var (
	ErrNotSelf            = errors.New("delivery: handoff requester must be the target session")
	ErrHandoffUnsupported = errors.New("delivery: handoff is not supported for codex-app sessions")
	ErrHandoffFileMissing = errors.New("delivery: handoff file does not exist")
)
