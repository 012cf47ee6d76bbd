// Package vectorstore implements the hybrid chunk index: unit-normalized
// dense vectors scored by cosine similarity, a BM25-style lexical inverted
// index, and a fixed 0.75/0.25 linear combination of the two with
// per-query min-max normalization.
package vectorstore

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/evrenesat/asky/pkg/models"
)

// Dense weight and lexical weight are fixed component constants per the
// specification; they are not configurable.
const (
	DenseWeight   = 0.75
	LexicalWeight = 0.25
)

// Filters restricts a search to a subset of documents and/or sections.
type Filters struct {
	DocumentIDs []string
	SectionIDs  []string
}

func (f Filters) matches(c *models.Chunk) bool {
	if len(f.DocumentIDs) > 0 && !containsString(f.DocumentIDs, c.DocumentID) {
		return false
	}
	if len(f.SectionIDs) > 0 && !containsString(f.SectionIDs, c.SectionID) {
		return false
	}
	return true
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

// Store is the hybrid chunk index. Write operations on one document id are
// serialized via per-document locks; reads proceed concurrently against a
// point-in-time snapshot of the chunk map.
type Store struct {
	mu       sync.RWMutex
	docLocks map[string]*sync.Mutex

	chunks map[string]map[int]*models.Chunk // documentID -> ordinal -> chunk
	lex    *lexicalIndex
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		docLocks: make(map[string]*sync.Mutex),
		chunks:   make(map[string]map[int]*models.Chunk),
		lex:      newLexicalIndex(),
	}
}

func (s *Store) lockFor(documentID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.docLocks[documentID]
	if !ok {
		l = &sync.Mutex{}
		s.docLocks[documentID] = l
	}
	return l
}

// UpsertChunks stores chunks for documentID, idempotent by (document_id,
// ordinal): re-upserting a chunk with the same ordinal overwrites it.
func (s *Store) UpsertChunks(ctx context.Context, documentID string, chunks []models.Chunk) error {
	lock := s.lockFor(documentID)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	byOrdinal, ok := s.chunks[documentID]
	if !ok {
		byOrdinal = make(map[int]*models.Chunk)
		s.chunks[documentID] = byOrdinal
	}
	s.mu.Unlock()

	for i := range chunks {
		c := chunks[i]
		s.mu.Lock()
		byOrdinal[c.Ordinal] = &c
		s.mu.Unlock()
		s.lex.index(&c)
	}
	return nil
}

// DeleteDocument removes every chunk belonging to documentID from both
// indexes.
func (s *Store) DeleteDocument(ctx context.Context, documentID string) error {
	lock := s.lockFor(documentID)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	byOrdinal := s.chunks[documentID]
	delete(s.chunks, documentID)
	s.mu.Unlock()

	for _, c := range byOrdinal {
		s.lex.remove(c)
	}
	return nil
}

// Snapshot returns a point-in-time copy of all chunks, for callers (like
// bootstrap retrieval) that need a consistent view across a read-heavy
// sequence of operations.
func (s *Store) Snapshot() []*models.Chunk {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Chunk, 0)
	for _, byOrdinal := range s.chunks {
		for _, c := range byOrdinal {
			out = append(out, c)
		}
	}
	return out
}

// HasChunks reports whether documentID has at least one indexed chunk —
// used by the preload pipeline to decide is_corpus_preloaded without
// requiring new ingestion this turn.
func (s *Store) HasChunks(documentID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks[documentID]) > 0
}

// Search ranks chunks by a convex combination of normalized dense and
// lexical scores (DenseWeight/LexicalWeight), breaking ties deterministically
// by (document_id, ordinal).
func (s *Store) Search(ctx context.Context, queryText string, queryVector []float32, filters Filters, k int) []models.ScoredChunk {
	all := s.Snapshot()

	candidates := make([]*models.Chunk, 0, len(all))
	for _, c := range all {
		if filters.matches(c) {
			candidates = append(candidates, c)
		}
	}
	if len(candidates) == 0 {
		return nil
	}

	denseScores := make([]float32, len(candidates))
	for i, c := range candidates {
		denseScores[i] = cosineSimilarity(queryVector, c.Vector)
	}
	lexScores := s.lex.score(queryText, candidates)

	normDense := minMaxNormalize(denseScores)
	normLex := minMaxNormalize(lexScores)

	scored := make([]models.ScoredChunk, len(candidates))
	for i, c := range candidates {
		combined := float32(DenseWeight)*normDense[i] + float32(LexicalWeight)*normLex[i]
		scored[i] = models.ScoredChunk{Chunk: *c, Score: combined, DenseScore: normDense[i], LexScore: normLex[i]}
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		if scored[i].Chunk.DocumentID != scored[j].Chunk.DocumentID {
			return scored[i].Chunk.DocumentID < scored[j].Chunk.DocumentID
		}
		return scored[i].Chunk.Ordinal < scored[j].Chunk.Ordinal
	})

	if k > 0 && k < len(scored) {
		scored = scored[:k]
	}
	return scored
}

func minMaxNormalize(scores []float32) []float32 {
	if len(scores) == 0 {
		return scores
	}
	min, max := scores[0], scores[0]
	for _, v := range scores {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	out := make([]float32, len(scores))
	if max == min {
		// All candidates score identically within the query — treat as a
		// flat midpoint rather than dividing by zero.
		for i := range out {
			out[i] = 0.5
		}
		return out
	}
	for i, v := range scores {
		out[i] = (v - min) / (max - min)
	}
	return out
}

func cosineSimilarity(a, b []float32) float32 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float32
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / float32(math.Sqrt(float64(normA))*math.Sqrt(float64(normB)))
}
