package models

import "time"

// Memory is a cross-session user fact. No two stored memories may have
// cosine similarity >= 0.90 — newer inserts update the existing
// near-duplicate instead (enforced by the memory store, not this type).
type Memory struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
	Vector    []float32 `json:"-"`
}

// Document is one ingested source (local file or fetched page) that has been
// split into Chunks.
type Document struct {
	ID        string            `json:"id"`
	Handle    CorpusHandle      `json:"handle"`
	Source    string            `json:"source"` // original path or URL, never exposed to the model
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// Chunk is a contiguous text segment derived from one Document. Chunks of
// one document have strictly increasing Ordinal. A Vector exists for every
// chunk that has participated in retrieval.
type Chunk struct {
	ID          string    `json:"id"`
	DocumentID  string    `json:"document_id"`
	Ordinal     int       `json:"ordinal"`
	Text        string    `json:"text"`
	TokenCount  int       `json:"token_count"`
	SectionID   string    `json:"section_id,omitempty"`
	Vector      []float32 `json:"-"`
	LexTokens   []string  `json:"-"`
	Provenance  string    `json:"provenance"` // source handle
}

// ScoredChunk is a Chunk plus its hybrid retrieval score.
type ScoredChunk struct {
	Chunk      Chunk   `json:"chunk"`
	Score      float32 `json:"score"`
	DenseScore float32 `json:"dense_score"`
	LexScore   float32 `json:"lex_score"`
}
