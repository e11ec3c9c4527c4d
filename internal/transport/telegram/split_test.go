package telegram

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSplitTextShort(t *testing.T) {
	t.Parallel()
	got := splitText("hello", 10, "")
	if len(got) != 1 || got[0] != "hello" {
		t.Fatalf("unexpected split: %q", got)
	}
}

func TestSplitTextPrefersNewlines(t *testing.T) {
	t.Parallel()
	line := strings.Repeat("あ", 30)
	text := strings.Join([]string{line, line, line, line}, "\n")
	got := splitText(text, 70, "")
	if len(got) != 2 {
		t.Fatalf("chunks = %d, want 2: %q", len(got), got)
	}
	for _, c := range got {
		if utf8.RuneCountInString(c) > 70 {
			t.Fatalf("chunk over limit: %d runes", utf8.RuneCountInString(c))
		}
		if strings.HasPrefix(c, "\n") || strings.HasSuffix(c, "\n") {
			t.Fatalf("chunk has edge newline: %q", c)
		}
	}
	if strings.Join(got, "\n") != text {
		t.Fatal("content lost across chunks")
	}
}

func TestSplitTextAvoidsCuttingTags(t *testing.T) {
	t.Parallel()
	text := strings.Repeat("x", 15) + "<b>bold</b>" + strings.Repeat("y", 10)
	got := splitText(text, 17, "HTML")
	if !strings.HasPrefix(got[1], "<b>") {
		t.Fatalf("tag was split: %q", got)
	}
}
