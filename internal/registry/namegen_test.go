package registry

import "testing"

func TestNameGenerator_RandomName_AvoidsCollisions(t *testing.T) {
	g := NewNameGenerator(1)
	existing := map[string]bool{}
	for i := 0; i < 20; i++ {
		name, err := g.RandomName(existing)
		if err != nil {
			t.Fatalf("RandomName: %v", err)
		}
		if existing[name] {
			t.Fatalf("RandomName returned collision: %s", name)
		}
		existing[name] = true
	}
}

func TestAutoIncrement(t *testing.T) {
	existing := []string{"reviewer-1", "reviewer-2", "reviewer-10", "other-3"}
	got := AutoIncrement("reviewer", existing)
	if got != "reviewer-11" {
		t.Errorf("AutoIncrement = %q, want reviewer-11", got)
	}
	got = AutoIncrement("fresh", existing)
	if got != "fresh-1" {
		t.Errorf("AutoIncrement = %q, want fresh-1", got)
	}
}
