package retrieval

import (
	"context"
	"errors"
	"testing"
)

func TestMemoryIndexOrdersByScoreThenChunkIndex(t *testing.T) {
	idx := NewMemoryIndex()
	ctx := context.Background()
	entries := []Entry{
		{ChunkIndex: 0, Text: "orthogonal", Vector: []float32{0, 1}},
		{ChunkIndex: 1, Text: "tie-b", Vector: []float32{1, 0}},
		{ChunkIndex: 2, Text: "tie-a", Vector: []float32{2, 0}},
		{ChunkIndex: 3, Text: "close", Vector: []float32{1, 0.5}},
	}
	if err := idx.Replace(ctx, 1, entries); err != nil {
		t.Fatalf("replace: %v", err)
	}
	hits, err := idx.Search(ctx, 1, []float32{1, 0}, 3)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 3 {
		t.Fatalf("expected k=3 hits, got %d", len(hits))
	}
	if hits[0].Metadata.ChunkIndex != 1 || hits[1].Metadata.ChunkIndex != 2 || hits[2].Metadata.ChunkIndex != 3 {
		t.Fatalf("unexpected order: %d %d %d", hits[0].Metadata.ChunkIndex, hits[1].Metadata.ChunkIndex, hits[2].Metadata.ChunkIndex)
	}
}

func TestMemoryIndexCopiesVectors(t *testing.T) {
	idx := NewMemoryIndex()
	vec := []float32{1, 0}
	_ = idx.Replace(context.Background(), 1, []Entry{{ChunkIndex: 0, Text: "a", Vector: vec}})
	vec[0], vec[1] = 0, 1
	hits, _ := idx.Search(context.Background(), 1, []float32{1, 0}, 1)
	if hits[0].Score < 0.99 {
		t.Fatalf("stored vector was mutated by caller, score=%f", hits[0].Score)
	}
}

func TestMemoryIndexDrop(t *testing.T) {
	idx := NewMemoryIndex()
	ctx := context.Background()
	_ = idx.Replace(ctx, 5, []Entry{{ChunkIndex: 0, Text: "a", Vector: []float32{1}}})
	if err := idx.Drop(ctx, 5); err != nil {
		t.Fatalf("drop: %v", err)
	}
	if _, err := idx.Search(ctx, 5, []float32{1}, 1); !errors.Is(err, ErrIndexNotFound) {
		t.Fatalf("expected ErrIndexNotFound after drop, got %v", err)
	}
}

func TestCosineSimilarityHandlesZeroAndMismatch(t *testing.T) {
	if got := cosineSimilarity([]float32{0, 0}, []float32{1, 0}); got != 0 {
		t.Fatalf("zero vector similarity = %f", got)
	}
	if got := cosineSimilarity([]float32{1}, []float32{1, 0}); got != 0 {
		t.Fatalf("length mismatch similarity = %f", got)
	}
}
