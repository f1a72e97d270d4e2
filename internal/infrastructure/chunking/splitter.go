// Package chunking splits document text into overlapping windows sized in
// runes. Windows prefer to end on a sentence boundary so a chunk carries a
// complete thought into the embedding.
package chunking

import (
	"strings"
	"unicode"
)

type Splitter struct {
	ChunkSize int // window size in runes
	Overlap   int // runes carried into the next window
}

func NewSplitter(chunkSize, overlap int) *Splitter {
	if chunkSize <= 0 {
		chunkSize = 900
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= chunkSize {
		overlap = chunkSize / 4
	}
	return &Splitter{ChunkSize: chunkSize, Overlap: overlap}
}

func (s *Splitter) Split(text string) []string {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}

	out := make([]string, 0, len(runes)/s.ChunkSize+1)
	start := 0
	for start < len(runes) {
		end := start + s.ChunkSize
		if end >= len(runes) {
			end = len(runes)
		} else {
			end = s.breakPoint(runes, start, end)
		}

		if chunk := strings.TrimSpace(string(runes[start:end])); chunk != "" {
			out = append(out, chunk)
		}
		if end == len(runes) {
			break
		}

		next := end - s.Overlap
		if next <= start {
			next = end
		}
		start = next
	}
	return out
}

// breakPoint scans the back half of the window for a sentence end, then for
// any whitespace. A hard mid-word cut happens only when the window holds one
// unbroken run of text.
func (s *Splitter) breakPoint(runes []rune, start, end int) int {
	floor := start + s.ChunkSize/2
	for i := end - 1; i >= floor; i-- {
		if isSentenceEnd(runes[i]) {
			return i + 1
		}
	}
	for i := end - 1; i >= floor; i-- {
		if unicode.IsSpace(runes[i]) {
			return i + 1
		}
	}
	return end
}

func isSentenceEnd(r rune) bool {
	switch r {
	case '.', '!', '?', '\n', '。', '！', '？':
		return true
	}
	return false
}
