package logutil

import "testing"

func TestSanitizeForLog(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"plain-session-id", "plain-session-id"},
		{"injected\nfake log line", "injected fake log line"},
		{"tabs\tand\rreturns", "tabs and returns"},
		{"bell\x07escape\x1b[31m", "bellescape[31m"},
		{"", ""},
	}
	for _, c := range cases {
		if got := SanitizeForLog(c.in); got != c.want {
			t.Errorf("SanitizeForLog(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
