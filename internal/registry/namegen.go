package registry

import (
	"fmt"
	"math/rand"
	"regexp"
	"strconv"
)

// adjectives and nouns back RandomName's candidate generator. Kept short and
// all-lowercase so every candidate satisfies model.FriendlyNamePattern
// without further sanitizing.
var (
	adjectives = []string{"quiet", "brisk", "amber", "solar", "cobalt", "lucid", "terse", "vivid", "stark", "dusky"}
	nouns      = []string{"otter", "finch", "cedar", "quartz", "ember", "raven", "birch", "comet", "heron", "basalt"}
)

// NameGenerator produces unique friendly names for sessions that were
// created without an explicit --name, adapted from the teacher's
// text/template-oriented name-generation funcs (internal/tmpl/namefuncs.go)
// with the template-rendering indirection stripped out, since role-template
// rendering itself is out of scope here — only the retry-until-unique
// candidate loop and the auto-increment suffix scheme survive.
type NameGenerator struct {
	rand *rand.Rand
}

// NewNameGenerator returns a generator seeded from seed (pass time.Now().UnixNano()
// in production; a fixed seed in tests for determinism).
func NewNameGenerator(seed int64) *NameGenerator {
	return &NameGenerator{rand: rand.New(rand.NewSource(seed))}
}

// RandomName returns an "adjective-noun" candidate not present in existing,
// retrying until one is found or the retry budget is exhausted.
func (g *NameGenerator) RandomName(existing map[string]bool) (string, error) {
	const maxRetries = 100
	for i := 0; i < maxRetries; i++ {
		name := fmt.Sprintf("%s-%s", adjectives[g.rand.Intn(len(adjectives))], nouns[g.rand.Intn(len(nouns))])
		if !existing[name] {
			return name, nil
		}
	}
	// 10 adjectives and 10 nouns give 100 combinations, so the retry budget
	// can run out once many of them are already in use.
	return "", fmt.Errorf("registry: failed to generate unique name after %d retries", maxRetries)
}

// AutoIncrement returns "<prefix>-N" where N is one more than the highest
// existing "<prefix>-<n>" suffix, used for naming a batch of children spawned
// from the same parent (e.g. "reviewer-1", "reviewer-2").
func AutoIncrement(prefix string, existing []string) string {
	maxN := 0
	pattern := regexp.MustCompile(`^` + regexp.QuoteMeta(prefix) + `-(\d+)$`)
	for _, name := range existing {
		if m := pattern.FindStringSubmatch(name); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil && n > maxN {
				maxN = n
			}
		}
	}
	return fmt.Sprintf("%s-%d", prefix, maxN+1)
}
