package notify

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestMailSubjectFirstLine(t *testing.T) {
	t.Parallel()

	if got := mailSubject("disk full\ndetails follow"); got != "disk full" {
		t.Fatalf("unexpected subject %q", got)
	}
}

func TestMailSubjectClipsOnRuneBoundary(t *testing.T) {
	t.Parallel()

	line := strings.Repeat("警", 130)
	subject := mailSubject(line + "\nbody")
	if !utf8.ValidString(subject) {
		t.Fatalf("subject split a rune: %q", subject)
	}
	if runeCount := utf8.RuneCountInString(subject); runeCount != 120 {
		t.Fatalf("expected 120 runes, got %d", runeCount)
	}
}
