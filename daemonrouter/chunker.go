package daemonrouter

import (
	"strings"
	"unicode"

	"github.com/evrenesat/asky/pkg/models"
)

// OutboundChunker splits a reply into transport-sized pieces, breaking on
// paragraph, then sentence, then word boundaries, preferring not to split a
// fenced code block across chunks.
type OutboundChunker struct {
	MaxChars int
}

// NewOutboundChunker builds a chunker bounded by daemon.response_chunk_chars.
func NewOutboundChunker(maxChars int) *OutboundChunker {
	if maxChars <= 0 {
		maxChars = 2000
	}
	return &OutboundChunker{MaxChars: maxChars}
}

// Chunk splits text into models.OutboundChunk pieces with Index/Total set.
func (c *OutboundChunker) Chunk(text string) []models.OutboundChunk {
	pieces := c.split(text)
	out := make([]models.OutboundChunk, len(pieces))
	for i, p := range pieces {
		out[i] = models.OutboundChunk{Text: p, Index: i, Total: len(pieces), Correctable: i == 0}
	}
	return out
}

func (c *OutboundChunker) split(text string) []string {
	if text == "" {
		return nil
	}
	if len(text) <= c.MaxChars {
		return []string{text}
	}

	var chunks []string
	remaining := text
	for len(remaining) > c.MaxChars {
		idx := c.findBreakPoint(remaining)
		if idx <= 0 {
			idx = c.MaxChars
		}
		chunk := strings.TrimRightFunc(remaining[:idx], unicode.IsSpace)
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		remaining = strings.TrimLeftFunc(remaining[idx:], unicode.IsSpace)
	}
	if remaining = strings.TrimSpace(remaining); remaining != "" {
		chunks = append(chunks, remaining)
	}
	return chunks
}

// findBreakPoint tries paragraph break, then single newline, then sentence
// ending, then word boundary, within the first MaxChars window, avoiding a
// break inside an open fenced code block where one exists earlier in the
// window.
func (c *OutboundChunker) findBreakPoint(text string) int {
	if len(text) <= c.MaxChars {
		return len(text)
	}
	window := text[:c.MaxChars]
	fenceStart := openFenceStart(window)

	if idx := lastIndexBeforeFence(window, "\n\n", fenceStart); idx > 0 {
		return idx + 1
	}
	if idx := lastIndexBeforeFence(window, "\n", fenceStart); idx > 0 {
		return idx + 1
	}
	for _, ending := range []string{". ", "! ", "? ", ".\n", "!\n", "?\n"} {
		if idx := lastIndexBeforeFence(window, ending, fenceStart); idx > 0 {
			return idx + 1
		}
	}
	if idx := strings.LastIndexFunc(window, unicode.IsSpace); idx > 0 {
		return idx
	}
	return c.MaxChars
}

// openFenceStart returns the byte offset of an unclosed ``` or ~~~ fence
// within window, or -1 if the window ends outside any code block.
func openFenceStart(window string) int {
	lines := strings.Split(window, "\n")
	pos := 0
	var open bool
	var start int
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~") {
			if !open {
				open = true
				start = pos
			} else {
				open = false
			}
		}
		pos += len(line) + 1
	}
	if open {
		return start
	}
	return -1
}

func lastIndexBeforeFence(window, sep string, fenceStart int) int {
	if fenceStart < 0 {
		return strings.LastIndex(window, sep)
	}
	return strings.LastIndex(window[:fenceStart], sep)
}

// RenderTables fences tabular text as monospace ASCII for plain-text
// transports and leaves non-tabular text untouched; callers apply this
// before chunking when the transport has no native table rendering.
func RenderTables(text string) string {
	if !looksTabular(text) {
		return text
	}
	return "```\n" + text + "\n```"
}

// looksTabular is a light heuristic: at least two lines containing a pipe
// or multiple consecutive spaces used as a column separator.
func looksTabular(text string) bool {
	lines := strings.Split(text, "\n")
	tabular := 0
	for _, l := range lines {
		if strings.Count(l, "|") >= 2 || strings.Contains(l, "\t") {
			tabular++
		}
	}
	return tabular >= 2
}
