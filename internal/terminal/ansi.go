package terminal

import "regexp"

// ansiEscape matches CSI/OSC terminal escape sequences so captured pane
// text can be reduced to plain text, per spec.md §4.1 capture_pane.
var ansiEscape = regexp.MustCompile(`\x1b(?:\[[0-9;?]*[a-zA-Z]|\][^\x07\x1b]*(?:\x07|\x1b\\)|[()][AB012]|[=>])`)

// StripANSI removes terminal escape sequences from s.
func StripANSI(s string) string {
	return ansiEscape.ReplaceAllString(s, "")
}
