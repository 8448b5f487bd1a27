package tokens

import (
	"strings"
	"testing"
)

// newBudget skips when the tokenizer data cannot be loaded (offline runs).
func newBudget(t *testing.T, maxTokens, reserve int) *Budget {
	t.Helper()
	b, err := New("gpt-4", maxTokens, reserve)
	if err != nil {
		t.Skipf("tokenizer unavailable: %v", err)
	}
	return b
}

func TestCount(t *testing.T) {
	b := newBudget(t, 8192, 1024)
	if n := b.Count("hello world"); n != 2 {
		t.Errorf("expected 2 tokens, got %d", n)
	}
	if n := b.Count(""); n != 0 {
		t.Errorf("expected 0 tokens, got %d", n)
	}
	if b.Input() != 7168 {
		t.Errorf("expected input budget 7168, got %d", b.Input())
	}
}

func TestFit(t *testing.T) {
	b := newBudget(t, 60, 10)
	long := strings.Repeat("word ", 200)

	fitted, cut := b.Fit(long, 10)
	if !cut {
		t.Fatal("expected text to be truncated")
	}
	if n := b.Count(fitted); n > 40 {
		t.Errorf("expected at most 40 tokens, got %d", n)
	}

	short := "just a few words"
	fitted, cut = b.Fit(short, 10)
	if cut || fitted != short {
		t.Errorf("short text should pass through, got %q", fitted)
	}
}

func TestSplit(t *testing.T) {
	b := newBudget(t, 8192, 0)
	text := strings.Repeat("alpha beta gamma delta ", 50)

	chunks := b.Split(text, 40, 10)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if n := b.Count(c); n > 40 {
			t.Errorf("chunk %d has %d tokens", i, n)
		}
	}
	if b.Split("", 40, 10) != nil {
		t.Error("expected no chunks for empty text")
	}
}
