package vectorstore

import (
	"context"
	"testing"

	"github.com/evrenesat/asky/pkg/models"
)

func TestStore_UpsertIsIdempotentByOrdinal(t *testing.T) {
	s := New()
	ctx := context.Background()

	err := s.UpsertChunks(ctx, "doc1", []models.Chunk{
		{DocumentID: "doc1", Ordinal: 0, Text: "alpha beta"},
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	err = s.UpsertChunks(ctx, "doc1", []models.Chunk{
		{DocumentID: "doc1", Ordinal: 0, Text: "alpha beta gamma"},
	})
	if err != nil {
		t.Fatalf("re-upsert: %v", err)
	}

	snap := s.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("expected 1 chunk after re-upsert of same ordinal, got %d", len(snap))
	}
	if snap[0].Text != "alpha beta gamma" {
		t.Errorf("expected overwritten text, got %q", snap[0].Text)
	}
}

func TestStore_DeleteDocumentRemovesFromBothIndexes(t *testing.T) {
	s := New()
	ctx := context.Background()
	s.UpsertChunks(ctx, "doc1", []models.Chunk{{DocumentID: "doc1", Ordinal: 0, Text: "unique-term-xyz"}})

	if err := s.DeleteDocument(ctx, "doc1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if s.HasChunks("doc1") {
		t.Fatal("expected no chunks after delete")
	}
	results := s.Search(ctx, "unique-term-xyz", nil, Filters{}, 10)
	if len(results) != 0 {
		t.Errorf("expected no search hits for deleted document, got %d", len(results))
	}
}

func TestStore_SearchRanksLexicalMatchAboveUnrelatedChunk(t *testing.T) {
	s := New()
	ctx := context.Background()
	s.UpsertChunks(ctx, "doc1", []models.Chunk{
		{DocumentID: "doc1", Ordinal: 0, Text: "kubernetes pod scheduling and eviction policy"},
		{DocumentID: "doc1", Ordinal: 1, Text: "a recipe for sourdough bread"},
	})

	results := s.Search(ctx, "pod scheduling", nil, Filters{}, 10)
	if len(results) != 2 {
		t.Fatalf("expected both chunks scored, got %d", len(results))
	}
	if results[0].Chunk.Ordinal != 0 {
		t.Errorf("expected the kubernetes chunk to rank first, got ordinal %d", results[0].Chunk.Ordinal)
	}
}

func TestStore_SearchAppliesDocumentFilter(t *testing.T) {
	s := New()
	ctx := context.Background()
	s.UpsertChunks(ctx, "doc1", []models.Chunk{{DocumentID: "doc1", Ordinal: 0, Text: "shared term"}})
	s.UpsertChunks(ctx, "doc2", []models.Chunk{{DocumentID: "doc2", Ordinal: 0, Text: "shared term"}})

	results := s.Search(ctx, "shared term", nil, Filters{DocumentIDs: []string{"doc2"}}, 10)
	if len(results) != 1 || results[0].Chunk.DocumentID != "doc2" {
		t.Fatalf("expected filter to restrict results to doc2, got %+v", results)
	}
}

func TestCosineSimilarity(t *testing.T) {
	a := []float32{1, 0, 0}
	b := []float32{1, 0, 0}
	if got := cosineSimilarity(a, b); got < 0.999 || got > 1.001 {
		t.Errorf("identical vectors: got %f, want ~1.0", got)
	}
	c := []float32{0, 1, 0}
	if got := cosineSimilarity(a, c); got < -0.001 || got > 0.001 {
		t.Errorf("orthogonal vectors: got %f, want ~0.0", got)
	}
}
