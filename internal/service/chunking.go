package service

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/cloo-solutions/kbchat/internal/domain"
)

// MinChunkLength is the shortest chunk kept when a text splits into several.
const MinChunkLength = 50

// ChunkConfig controls chunking for ingestion.
type ChunkConfig struct {
	MaxChars int
	Overlap  int
}

// DefaultChunkConfig provides the ingestion defaults.
func DefaultChunkConfig() ChunkConfig {
	return ChunkConfig{
		MaxChars: 500,
		Overlap:  50,
	}
}

var (
	horizontalSpace = regexp.MustCompile(`[ \t\f\v\x{00a0}]+`)
	excessNewlines  = regexp.MustCompile(`\n{3,}`)
)

// normalizeWhitespace collapses horizontal whitespace and bounds blank lines
// to one, keeping paragraph structure intact.
func normalizeWhitespace(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(horizontalSpace.ReplaceAllString(line, " "))
	}
	text = strings.Join(lines, "\n")
	text = excessNewlines.ReplaceAllString(text, "\n\n")

	return strings.TrimSpace(text)
}

// ChunkText splits text into bounded, overlapping chunks. Sizes are in runes.
// Cuts prefer paragraph breaks, then sentence ends, then whitespace, and fall
// back to a hard cut at maxChunkSize.
func ChunkText(text string, maxChunkSize, overlapSize int) ([]domain.Chunk, error) {
	if maxChunkSize <= 0 || overlapSize < 0 || overlapSize >= maxChunkSize {
		return nil, domain.ErrInvalidChunkOptions
	}

	clean := normalizeWhitespace(text)
	if clean == "" {
		return []domain.Chunk{}, nil
	}

	runes := []rune(clean)
	if len(runes) <= maxChunkSize {
		return finalizeChunks([]string{clean}), nil
	}

	minAdvance := maxChunkSize / 2
	if minAdvance < overlapSize+1 {
		minAdvance = overlapSize + 1
	}

	pieces := make([]string, 0, len(runes)/maxChunkSize+2)
	start := 0
	for start < len(runes) {
		end := start + maxChunkSize
		if end > len(runes) {
			end = len(runes)
		}

		cut := end
		if end < len(runes) {
			cut = findCut(runes, start, end, start+minAdvance)
		}

		if piece := strings.TrimSpace(string(runes[start:cut])); piece != "" {
			pieces = append(pieces, piece)
		}
		if cut >= len(runes) {
			break
		}
		start = nextStart(runes, cut, overlapSize)
	}

	return finalizeChunks(dropShort(pieces, maxChunkSize)), nil
}

// findCut returns the exclusive end of the chunk that starts at start. Only
// positions above minCut are considered so every window makes progress.
func findCut(runes []rune, start, end, minCut int) int {
	if minCut >= end {
		return end
	}

	for i := end; i > minCut; i-- {
		if runes[i-1] == '\n' && i >= 2 && runes[i-2] == '\n' {
			return i
		}
	}
	for i := end; i > minCut; i-- {
		if isSentenceEnd(runes[i-1]) && unicode.IsSpace(runes[i]) {
			return i
		}
	}
	for i := end; i > minCut; i-- {
		if unicode.IsSpace(runes[i]) {
			return i
		}
	}
	return end
}

// nextStart backs up by overlap runes and then skips to the next word start
// inside the overlap region, so chunks do not begin mid-word.
func nextStart(runes []rune, cut, overlap int) int {
	if overlap <= 0 {
		return cut
	}
	s := cut - overlap
	for j := s; j < cut; j++ {
		if unicode.IsSpace(runes[j]) {
			return j + 1
		}
	}
	return s
}

func isSentenceEnd(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

// dropShort removes fragments below the minimum length unless nothing would
// remain.
func dropShort(pieces []string, maxChunkSize int) []string {
	minLen := MinChunkLength
	if half := maxChunkSize / 2; half < minLen {
		minLen = half
	}

	kept := make([]string, 0, len(pieces))
	for _, p := range pieces {
		if len([]rune(p)) >= minLen {
			kept = append(kept, p)
		}
	}
	if len(kept) == 0 {
		return pieces
	}
	return kept
}

func finalizeChunks(pieces []string) []domain.Chunk {
	chunks := make([]domain.Chunk, len(pieces))
	for i, p := range pieces {
		chunks[i] = domain.Chunk{
			Text:        p,
			Index:       i,
			TotalChunks: len(pieces),
			HasNext:     i < len(pieces)-1,
			HasPrevious: i > 0,
		}
	}
	return chunks
}
