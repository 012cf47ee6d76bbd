package adapters

import (
	"context"
	"strings"
)

// RecursiveChunker splits text on a descending-priority separator list,
// recursing into any piece still over budget, then stitches small trailing
// pieces back onto the previous chunk. Token budgets are mapped to
// character budgets with a simple chars-per-token estimate.
type RecursiveChunker struct {
	CharsPerToken int
	MinChunkChars int
	Overlap       int
}

// NewRecursiveChunker returns a RecursiveChunker with the standard
// defaults (4 chars/token, 100-char minimum). Overlap is set to 200, but
// Chunk does not read it: consecutive chunks do not overlap.
func NewRecursiveChunker() *RecursiveChunker {
	return &RecursiveChunker{CharsPerToken: 4, MinChunkChars: 100, Overlap: 200}
}

func (c *RecursiveChunker) Name() string { return "recursive" }

var defaultSeparators = []string{"\n\n", "\n", ". ", " "}

// Chunk splits text into pieces each within tokenBudget, preferring to break
// on paragraph, then line, then sentence, then word boundaries.
func (c *RecursiveChunker) Chunk(ctx context.Context, text string, tokenBudget int) ([]ChunkResult, error) {
	charsPerToken := c.CharsPerToken
	if charsPerToken <= 0 {
		charsPerToken = 4
	}
	budgetChars := tokenBudget * charsPerToken
	if budgetChars <= 0 {
		budgetChars = 1000
	}

	pieces := c.split(text, budgetChars, defaultSeparators)
	merged := c.mergeSmallTrailers(pieces, c.MinChunkChars)

	out := make([]ChunkResult, 0, len(merged))
	for i, p := range merged {
		out = append(out, ChunkResult{
			Text:       p,
			Ordinal:    i,
			TokenCount: (len(p) + charsPerToken - 1) / charsPerToken,
		})
	}
	return out, nil
}

func (c *RecursiveChunker) split(text string, budgetChars int, separators []string) []string {
	if len(text) <= budgetChars {
		return []string{text}
	}
	if len(separators) == 0 {
		return splitByLength(text, budgetChars)
	}

	sep := separators[0]
	parts := strings.Split(text, sep)
	if len(parts) <= 1 {
		return c.split(text, budgetChars, separators[1:])
	}

	var out []string
	var current strings.Builder
	flush := func() {
		if current.Len() > 0 {
			out = append(out, current.String())
			current.Reset()
		}
	}
	for i, part := range parts {
		candidate := part
		if i < len(parts)-1 {
			candidate += sep
		}
		if current.Len()+len(candidate) > budgetChars && current.Len() > 0 {
			flush()
		}
		if len(candidate) > budgetChars {
			flush()
			out = append(out, c.split(candidate, budgetChars, separators[1:])...)
			continue
		}
		current.WriteString(candidate)
	}
	flush()
	return out
}

func splitByLength(text string, budgetChars int) []string {
	var out []string
	runes := []rune(text)
	for len(runes) > 0 {
		end := budgetChars
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[:end]))
		runes = runes[end:]
	}
	return out
}

// mergeSmallTrailers folds any piece shorter than minChars into the
// previous piece, so retrieval never returns a near-empty fragment on its
// own.
func (c *RecursiveChunker) mergeSmallTrailers(pieces []string, minChars int) []string {
	if minChars <= 0 || len(pieces) < 2 {
		return pieces
	}
	out := make([]string, 0, len(pieces))
	for _, p := range pieces {
		if len(out) > 0 && len(p) < minChars {
			out[len(out)-1] = out[len(out)-1] + p
			continue
		}
		out = append(out, p)
	}
	return out
}
