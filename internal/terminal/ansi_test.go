package terminal

import "testing"

func TestStripANSI(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "hello world", "hello world"},
		{"csi color", "\x1b[31mred\x1b[0m text", "red text"},
		{"cursor move", "a\x1b[2Jb\x1b[1;1Hc", "abc"},
		{"osc title", "\x1b]0;window title\x07prompt$ ", "prompt$ "},
		{"osc string term", "\x1b]2;title\x1b\\rest", "rest"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := StripANSI(c.in)
			if got != c.want {
				t.Errorf("StripANSI(%q) = %q, want %q", c.in, got, c.want)
			}
		})
	}
}
