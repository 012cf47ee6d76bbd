package adapters

import (
	"context"
	"strings"
	"testing"
)

func TestRecursiveChunker_RespectsBudget(t *testing.T) {
	c := NewRecursiveChunker()
	text := strings.Repeat("alpha beta gamma delta. ", 200)

	chunks, err := c.Chunk(context.Background(), text, 50) // 50 tokens * 4 chars/token = 200 chars
	if err != nil {
		t.Fatalf("chunk: %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks for long text, got %d", len(chunks))
	}
	for i, ch := range chunks {
		if len(ch.Text) > 200+c.MinChunkChars {
			t.Errorf("chunk %d length %d exceeds budget tolerance", i, len(ch.Text))
		}
		if ch.Ordinal != i {
			t.Errorf("chunk %d has ordinal %d, want %d", i, ch.Ordinal, i)
		}
	}
}

func TestRecursiveChunker_ShortTextIsOneChunk(t *testing.T) {
	c := NewRecursiveChunker()
	chunks, err := c.Chunk(context.Background(), "a short document", 1000)
	if err != nil {
		t.Fatalf("chunk: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk for short text, got %d", len(chunks))
	}
}

func TestRecursiveChunker_MergesSmallTrailer(t *testing.T) {
	c := &RecursiveChunker{CharsPerToken: 4, MinChunkChars: 50, Overlap: 0}
	text := strings.Repeat("word ", 60) + "tiny"

	chunks, err := c.Chunk(context.Background(), text, 12) // 48 chars budget
	if err != nil {
		t.Fatalf("chunk: %v", err)
	}
	last := chunks[len(chunks)-1]
	if len(last.Text) < c.MinChunkChars && len(chunks) > 1 {
		t.Errorf("expected trailing small piece to be merged, last chunk len=%d", len(last.Text))
	}
}
