package vectorstore

import (
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/evrenesat/asky/pkg/models"
)

// BM25 tuning constants, the standard Okapi defaults.
const (
	bm25K1 = 1.2
	bm25B  = 0.75
)

// lexicalIndex is a simple inverted index over chunk text, tokenized on
// whitespace/punctuation and lowercased. No stopword list; every token
// participates in scoring.
type lexicalIndex struct {
	mu sync.Mutex

	postings    map[string]map[string]int // token -> chunkKey -> term frequency
	docLength   map[string]int            // chunkKey -> token count
	totalLength int
	docCount    int
}

func newLexicalIndex() *lexicalIndex {
	return &lexicalIndex{
		postings:  make(map[string]map[string]int),
		docLength: make(map[string]int),
	}
}

func chunkKey(c *models.Chunk) string {
	return c.DocumentID + "#" + strconv.Itoa(c.Ordinal)
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
}

func (l *lexicalIndex) index(c *models.Chunk) {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := chunkKey(c)
	if _, exists := l.docLength[key]; exists {
		l.removeLocked(key)
	}

	tokens := tokenize(c.Text)
	freq := make(map[string]int, len(tokens))
	for _, tok := range tokens {
		freq[tok]++
	}
	for tok, count := range freq {
		bucket, ok := l.postings[tok]
		if !ok {
			bucket = make(map[string]int)
			l.postings[tok] = bucket
		}
		bucket[key] = count
	}
	l.docLength[key] = len(tokens)
	l.totalLength += len(tokens)
	l.docCount++
}

func (l *lexicalIndex) remove(c *models.Chunk) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.removeLocked(chunkKey(c))
}

func (l *lexicalIndex) removeLocked(key string) {
	length, ok := l.docLength[key]
	if !ok {
		return
	}
	for tok, bucket := range l.postings {
		if _, present := bucket[key]; present {
			delete(bucket, key)
			if len(bucket) == 0 {
				delete(l.postings, tok)
			}
		}
	}
	delete(l.docLength, key)
	l.totalLength -= length
	l.docCount--
}

// score computes a BM25 score for each candidate against the query text.
// Candidates not present in the index (e.g. just upserted out-of-band in a
// caller-held snapshot) score zero rather than erroring.
func (l *lexicalIndex) score(queryText string, candidates []*models.Chunk) []float32 {
	l.mu.Lock()
	defer l.mu.Unlock()

	queryTokens := tokenize(queryText)
	if len(queryTokens) == 0 || l.docCount == 0 {
		return make([]float32, len(candidates))
	}
	avgLength := float64(l.totalLength) / float64(l.docCount)

	scores := make([]float32, len(candidates))
	for i, c := range candidates {
		key := chunkKey(c)
		length, ok := l.docLength[key]
		if !ok {
			continue
		}
		var sum float64
		for _, tok := range queryTokens {
			bucket := l.postings[tok]
			tf, present := bucket[key]
			if !present {
				continue
			}
			df := len(bucket)
			idf := idf(l.docCount, df)
			numerator := float64(tf) * (bm25K1 + 1)
			denominator := float64(tf) + bm25K1*(1-bm25B+bm25B*float64(length)/avgLength)
			sum += idf * numerator / denominator
		}
		scores[i] = float32(sum)
	}
	return scores
}

func idf(docCount, df int) float64 {
	if df == 0 {
		return 0
	}
	// Standard BM25 IDF with +1 inside the logarithm, which keeps the weight
	// positive even for terms appearing in more than half the corpus; the
	// zero floor below is only a guard.
	raw := math.Log((float64(docCount)-float64(df)+0.5)/(float64(df)+0.5) + 1)
	if raw < 0 {
		return 0
	}
	return raw
}
