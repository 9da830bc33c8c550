package util

import (
	"strings"
	"testing"
)

func TestSlug(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Fix Login Bug", "fix-login-bug"},
		{"  spaces  everywhere  ", "spaces-everywhere"},
		{"already-good", "already-good"},
		{"Ünïcode & Sÿmbols!", "n-code-s-mbols"},
		{"___", "unnamed"},
		{"", "unnamed"},
		{"UPPER123", "upper123"},
		{"multi---dash", "multi-dash"},
	}
	for _, tt := range tests {
		if got := Slug(tt.in); got != tt.want {
			t.Errorf("Slug(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSlugTruncation(t *testing.T) {
	long := strings.Repeat("word-", 20)
	got := Slug(long)
	if len(got) > 40 {
		t.Errorf("Slug of long input is %d chars, want <= 40", len(got))
	}
	if strings.HasSuffix(got, "-") {
		t.Errorf("Slug left a trailing hyphen: %q", got)
	}
}

func TestShortHashStable(t *testing.T) {
	a := ShortHash("/home/dev/webapp")
	b := ShortHash("/home/dev/webapp")
	if a != b {
		t.Errorf("ShortHash not stable: %q vs %q", a, b)
	}
	if a == ShortHash("/srv/webapp") {
		t.Error("ShortHash collides for different inputs")
	}
}
