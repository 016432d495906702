// Package gitutil provides best-effort lookups against a session's working
// directory, used to populate display-only fields that should never block
// or fail session creation when the directory isn't a git repo.
package gitutil

import (
	"os/exec"
	"strings"
)

// RemoteURL returns the "origin" remote URL for the git repository rooted
// at (or above) workingDir, or "" if workingDir isn't inside a git repo or
// has no such remote. Errors are swallowed: this is metadata for display,
// not something a session should fail to create over.
func RemoteURL(workingDir string) string {
	cmd := exec.Command("git", "remote", "get-url", "origin")
	cmd.Dir = workingDir
	out, err := cmd.Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}
