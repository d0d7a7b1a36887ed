package ingest

import "strings"

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// breakSeparators are tried in order; the first one found in the second half
// of a window decides where the chunk ends.
var breakSeparators = [][]rune{
	[]rune("\n\n"),
	[]rune("\n"),
	[]rune(". "),
	[]rune("? "),
	[]rune("! "),
	[]rune("; "),
	[]rune(" "),
}

// Chunker splits text into overlapping windows measured in runes.
type Chunker struct {
	Size    int
	Overlap int
}

// NewChunker applies defaults to non-positive values and clamps the overlap
// below the size.
func NewChunker(size, overlap int) Chunker {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = DefaultChunkOverlap
	}
	if overlap >= size {
		overlap = size / 5
	}
	return Chunker{Size: size, Overlap: overlap}
}

// Split returns chunks of at most Size runes. Each chunk ends at the best
// natural break in the second half of its window, else at the hard limit, and
// the next chunk starts Overlap runes before the previous end.
func (c Chunker) Split(text string) []string {
	c = NewChunker(c.Size, c.Overlap)
	runes := []rune(strings.TrimSpace(text))
	if len(runes) == 0 {
		return nil
	}
	var chunks []string
	start := 0
	for start < len(runes) {
		end := start + c.Size
		if end >= len(runes) {
			end = len(runes)
		} else {
			end = naturalBreak(runes, start, end)
		}
		if part := strings.TrimSpace(string(runes[start:end])); part != "" {
			chunks = append(chunks, part)
		}
		if end == len(runes) {
			break
		}
		next := end - c.Overlap
		if next <= start {
			next = end
		}
		start = next
	}
	return chunks
}

func naturalBreak(runes []rune, start, end int) int {
	floor := start + (end-start)/2
	for _, sep := range breakSeparators {
		for i := end - len(sep); i >= floor; i-- {
			if hasRunesAt(runes, i, sep) {
				return i + len(sep)
			}
		}
	}
	return end
}

func hasRunesAt(runes []rune, i int, sep []rune) bool {
	if i < 0 || i+len(sep) > len(runes) {
		return false
	}
	for j, r := range sep {
		if runes[i+j] != r {
			return false
		}
	}
	return true
}
