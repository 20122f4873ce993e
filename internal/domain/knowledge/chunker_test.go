// Unit tests for the word-window chunker. No database required.
package knowledge

import (
	"fmt"
	"strings"
	"testing"
)

func words(n int) string {
	w := make([]string, n)
	for i := range w {
		w[i] = fmt.Sprintf("w%d", i)
	}
	return strings.Join(w, " ")
}

func TestChunk_EmptyInput_ReturnsNoChunks(t *testing.T) {
	t.Parallel()
	if chunks := Chunk("", 10, 2); len(chunks) != 0 {
		t.Errorf("expected 0 chunks for empty input, got %d", len(chunks))
	}
	if chunks := Chunk("  \t\n ", 10, 2); len(chunks) != 0 {
		t.Errorf("expected 0 chunks for whitespace-only input, got %d", len(chunks))
	}
}

func TestChunk_ShortText_ReturnsSingleNormalisedChunk(t *testing.T) {
	t.Parallel()
	chunks := Chunk("hello   world\nagain", 10, 2)
	if len(chunks) != 1 || chunks[0] != "hello world again" {
		t.Fatalf("unexpected chunks %q", chunks)
	}
}

func TestChunk_ExactSize_ReturnsSingleChunk(t *testing.T) {
	t.Parallel()
	if chunks := Chunk(words(10), 10, 2); len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
}

func TestChunk_LongText_WindowsOverlap(t *testing.T) {
	t.Parallel()

	chunks := Chunk(words(25), 10, 3)
	// stride 7: [0,10) [7,17) [14,24) [21,25)
	if len(chunks) != 4 {
		t.Fatalf("expected 4 chunks, got %d: %q", len(chunks), chunks)
	}
	first := strings.Fields(chunks[0])
	second := strings.Fields(chunks[1])
	if len(first) != 10 {
		t.Errorf("expected 10 words in first chunk, got %d", len(first))
	}
	if first[7] != second[0] || first[9] != second[2] {
		t.Errorf("expected 3-word overlap, got %q and %q", chunks[0], chunks[1])
	}
	last := strings.Fields(chunks[3])
	if last[len(last)-1] != "w24" {
		t.Errorf("last chunk should end with the last word, got %q", chunks[3])
	}
}

func TestChunk_OverlapClamped(t *testing.T) {
	t.Parallel()

	// overlap >= size would never advance; it is clamped to size-1.
	chunks := Chunk(words(5), 2, 9)
	if len(chunks) != 4 {
		t.Fatalf("expected 4 chunks with stride 1, got %d: %q", len(chunks), chunks)
	}
	if chunks := Chunk(words(3), 0, 0); len(chunks) != 3 {
		t.Fatalf("size 0 should behave as size 1, got %q", chunks)
	}
}
