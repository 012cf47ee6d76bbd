package historystore

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/evrenesat/asky/pkg/models"
)

// MemoryDuplicateThreshold is the cosine-similarity cutoff above which a new
// memory is treated as a near-duplicate of an existing one and updates it in
// place rather than inserting a new row.
const MemoryDuplicateThreshold = 0.90

// SaveMemory persists text as a cross-session user memory. If an existing
// memory has cosine(vector, existing.vector) >= MemoryDuplicateThreshold, that
// row is updated instead of inserting a new one, keeping total memory count
// unchanged.
func (s *Store) SaveMemory(ctx context.Context, text string, vector []float32) (id string, updated bool, err error) {
	existing, err := s.ListMemories(ctx)
	if err != nil {
		return "", false, fmt.Errorf("list memories for dedup: %w", err)
	}

	for _, m := range existing {
		if cosineSimilarity(vector, m.Vector) >= MemoryDuplicateThreshold {
			m.Text = text
			m.Vector = vector
			if err := s.updateMemory(ctx, m); err != nil {
				return "", false, fmt.Errorf("update near-duplicate memory: %w", err)
			}
			return m.ID, true, nil
		}
	}

	mem := &models.Memory{ID: uuid.New().String(), Text: text, CreatedAt: time.Now(), Vector: vector}
	if _, err := s.execRebind(ctx,
		`INSERT INTO user_memories (id, text, created_at, vector) VALUES (?, ?, ?, ?)`,
		mem.ID, mem.Text, mem.CreatedAt, encodeVector(mem.Vector),
	); err != nil {
		return "", false, fmt.Errorf("insert memory: %w", err)
	}
	return mem.ID, false, nil
}

func (s *Store) updateMemory(ctx context.Context, mem *models.Memory) error {
	_, err := s.execRebind(ctx,
		`UPDATE user_memories SET text = ?, vector = ? WHERE id = ?`,
		mem.Text, encodeVector(mem.Vector), mem.ID,
	)
	return err
}

// ListMemories returns every stored memory.
func (s *Store) ListMemories(ctx context.Context) ([]*models.Memory, error) {
	rows, err := s.queryRebind(ctx, `SELECT id, text, created_at, vector FROM user_memories`)
	if err != nil {
		return nil, fmt.Errorf("list memories: %w", err)
	}
	defer rows.Close()

	var out []*models.Memory
	for rows.Next() {
		m := &models.Memory{}
		var vectorBlob []byte
		if err := rows.Scan(&m.ID, &m.Text, &m.CreatedAt, &vectorBlob); err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		m.Vector = decodeVector(vectorBlob)
		out = append(out, m)
	}
	return out, rows.Err()
}

// DeleteMemory removes one memory by id.
func (s *Store) DeleteMemory(ctx context.Context, id string) error {
	_, err := s.execRebind(ctx, `DELETE FROM user_memories WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete memory: %w", err)
	}
	return nil
}

// encodeVector/decodeVector serialize []float32 to a BLOB column as plain
// little-endian IEEE-754, 4 bytes per component.
func encodeVector(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	data := make([]byte, len(v)*4)
	for i, f := range v {
		bits := math.Float32bits(f)
		data[i*4] = byte(bits)
		data[i*4+1] = byte(bits >> 8)
		data[i*4+2] = byte(bits >> 16)
		data[i*4+3] = byte(bits >> 24)
	}
	return data
}

func decodeVector(data []byte) []float32 {
	if len(data) == 0 || len(data)%4 != 0 {
		return nil
	}
	out := make([]float32, len(data)/4)
	for i := range out {
		bits := uint32(data[i*4]) | uint32(data[i*4+1])<<8 | uint32(data[i*4+2])<<16 | uint32(data[i*4+3])<<24
		out[i] = math.Float32frombits(bits)
	}
	return out
}

func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
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
