package chunking

import (
	"strings"
	"testing"
)

func TestSplitPacksParagraphs(t *testing.T) {
	splitter := NewSplitter(50, 10)
	text := "First paragraph here.\n\nSecond one.\n\nThird paragraph is also short."

	chunks := splitter.Split(text)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d: %q", len(chunks), chunks)
	}
	if chunks[0] != "First paragraph here.\n\nSecond one." {
		t.Fatalf("unexpected first chunk: %q", chunks[0])
	}
	if chunks[1] != "Third paragraph is also short." {
		t.Fatalf("unexpected second chunk: %q", chunks[1])
	}
}

func TestSplitNeverCutsShortParagraph(t *testing.T) {
	splitter := NewSplitter(40, 5)
	text := "Operator remarks.\n\nCEO prepared statement runs a bit longer than the first."

	for _, chunk := range splitter.Split(text) {
		for _, paragraph := range strings.Split(chunk, "\n\n") {
			if !strings.Contains(text, paragraph) {
				t.Fatalf("paragraph was altered: %q", paragraph)
			}
		}
	}
}

func TestSplitOversizedParagraphFallsBackToWindow(t *testing.T) {
	splitter := NewSplitter(20, 5)
	text := strings.Repeat("abcde ", 20)

	chunks := splitter.Split(text)
	if len(chunks) < 2 {
		t.Fatalf("expected windowed chunks, got %d", len(chunks))
	}
	for _, chunk := range chunks {
		if len([]rune(chunk)) > 20 {
			t.Fatalf("chunk exceeds size: %q", chunk)
		}
	}
}

func TestSplitEmptyInput(t *testing.T) {
	splitter := NewSplitter(100, 10)
	if chunks := splitter.Split("  \n\n "); chunks != nil {
		t.Fatalf("expected nil for blank input, got %v", chunks)
	}
}
