package tools

import (
	"testing"
)

func TestNormalizeAddress(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Jane.Doe@Example.COM", "jane.doe@example.com"},
		{"  jane@example.com  ", "jane@example.com"},
		{"+1 (555) 010-0199", "+15550100199"},
		{"555 0100", "5550100"},
		{"+46 70-123 45 67", "+46701234567"},
		{"", ""},
		{"   ", ""},
	}
	for _, c := range cases {
		got := NormalizeAddress(c.in)
		if got != c.want {
			t.Errorf("NormalizeAddress(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
