package sender

import (
	"strings"
	"testing"
)

func TestSplitMessageShortText(t *testing.T) {
	t.Parallel()
	parts := SplitMessage("hola", 4096)
	if len(parts) != 1 || parts[0] != "hola" {
		t.Fatalf("short text must pass through, got %q", parts)
	}
}

func TestSplitMessageBreaksAtNewline(t *testing.T) {
	t.Parallel()
	text := strings.Repeat("a", 90) + "\n" + strings.Repeat("b", 50)
	parts := SplitMessage(text, 100)
	if len(parts) != 2 {
		t.Fatalf("expected 2 parts, got %d", len(parts))
	}
	if parts[0] != strings.Repeat("a", 90) {
		t.Fatalf("part 0 should end at the newline, got %q", parts[0])
	}
	if parts[1] != strings.Repeat("b", 50) {
		t.Fatalf("part 1 = %q", parts[1])
	}
}

func TestSplitMessageBreaksAtSpace(t *testing.T) {
	t.Parallel()
	text := strings.Repeat("a", 80) + " " + strings.Repeat("b", 60)
	parts := SplitMessage(text, 100)
	if len(parts) != 2 {
		t.Fatalf("expected 2 parts, got %d", len(parts))
	}
	if parts[0] != strings.Repeat("a", 80) {
		t.Fatalf("part 0 should end at the space, got %q", parts[0])
	}
}

func TestSplitMessageHardCut(t *testing.T) {
	t.Parallel()
	text := strings.Repeat("x", 250)
	parts := SplitMessage(text, 100)
	if len(parts) != 3 {
		t.Fatalf("expected 3 parts, got %d", len(parts))
	}
	for i, p := range parts {
		if len([]rune(p)) > 100 {
			t.Fatalf("part %d exceeds limit: %d runes", i, len([]rune(p)))
		}
	}
	if strings.Join(parts, "") != text {
		t.Fatal("hard cut must not lose content")
	}
}

func TestSplitMessageRuneSafe(t *testing.T) {
	t.Parallel()
	text := strings.Repeat("ñ", 150)
	parts := SplitMessage(text, 100)
	if len(parts) != 2 {
		t.Fatalf("expected 2 parts, got %d", len(parts))
	}
	for _, p := range parts {
		if strings.ContainsRune(p, '�') {
			t.Fatalf("part contains replacement rune: %q", p)
		}
	}
}
