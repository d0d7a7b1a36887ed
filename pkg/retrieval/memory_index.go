package retrieval

import (
	"context"
	"math"
	"sort"
	"sync"

	"lexai/pkg/domain"
)

// MemoryIndex keeps vectors in process memory and ranks by cosine similarity.
type MemoryIndex struct {
	mu   sync.RWMutex
	docs map[uint64][]Entry
}

// NewMemoryIndex returns an empty index.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{docs: make(map[uint64][]Entry)}
}

func (m *MemoryIndex) Replace(_ context.Context, docID uint64, entries []Entry) error {
	copied := make([]Entry, len(entries))
	for i, e := range entries {
		copied[i] = Entry{ChunkIndex: e.ChunkIndex, Text: e.Text, Vector: append([]float32(nil), e.Vector...)}
	}
	m.mu.Lock()
	m.docs[docID] = copied
	m.mu.Unlock()
	return nil
}

func (m *MemoryIndex) Search(ctx context.Context, docID uint64, vector []float32, k int) ([]domain.RetrievedChunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	entries, ok := m.docs[docID]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrIndexNotFound
	}
	if k <= 0 {
		return []domain.RetrievedChunk{}, nil
	}
	hits := make([]domain.RetrievedChunk, 0, len(entries))
	for _, e := range entries {
		hits = append(hits, retrieved(docID, e.ChunkIndex, e.Text, cosineSimilarity(vector, e.Vector)))
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Metadata.ChunkIndex < hits[j].Metadata.ChunkIndex
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func (m *MemoryIndex) Drop(_ context.Context, docID uint64) error {
	m.mu.Lock()
	delete(m.docs, docID)
	m.mu.Unlock()
	return nil
}

// cosineSimilarity is 0 when either vector is zero or the lengths differ.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
