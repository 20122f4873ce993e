package knowledge

import "strings"

// Chunking defaults, in whitespace tokens.
const (
	DefaultChunkSize    = 256
	DefaultChunkOverlap = 32
)

// Chunk splits text into windows of at most size words. Consecutive windows share
// overlap words. Whitespace-only input yields nil; text that fits in one window
// yields one chunk. overlap is clamped to size-1 and size to at least 1.
func Chunk(text string, size, overlap int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	size = max(size, 1)
	overlap = min(max(overlap, 0), size-1)

	if len(words) <= size {
		return []string{strings.Join(words, " ")}
	}

	stride := size - overlap
	chunks := make([]string, 0, len(words)/stride+1)
	for start := 0; ; start += stride {
		end := min(start+size, len(words))
		chunks = append(chunks, strings.Join(words[start:end], " "))
		if end == len(words) {
			return chunks
		}
	}
}
