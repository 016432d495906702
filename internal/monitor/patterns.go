package monitor

import "regexp"

// Pattern classes scanned over each tick's delta (spec.md §4.4). Permission
// wins ties inside a single chunk, so it is checked first by the caller.
var (
	permissionPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\[y/n\]`),
		regexp.MustCompile(`(?i)allow\s.+\?`),
		regexp.MustCompile(`(?i)approve\?`),
	}
	errorPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)^error:`),
		regexp.MustCompile(`(?i)permission denied`),
		regexp.MustCompile(`panic:`),
		regexp.MustCompile(`Traceback \(most recent call last\)`),
	}
	completionPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)task complete`),
		regexp.MustCompile(`(?i)^done\.$`),
	}
	// crashPatterns identify the agent TUI process itself having died,
	// distinct from errorPatterns (which the agent can legitimately print
	// mid-task). Gated to provider claude only (spec.md §4.4 step 5).
	crashPatterns = []*regexp.Regexp{
		regexp.MustCompile(`fatal error: `),
		regexp.MustCompile(`\[process exited\]`),
	}
)

func matchAny(patterns []*regexp.Regexp, text string) bool {
	for _, p := range patterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}
