package retrieval

import (
	"context"
	"errors"

	"lexai/pkg/domain"
)

// ErrIndexNotFound is returned when a document has never been indexed.
var ErrIndexNotFound = errors.New("document index not found")

// Entry is one embedded chunk of a document.
type Entry struct {
	ChunkIndex int
	Text       string
	Vector     []float32
}

// VectorIndex stores chunk vectors per document.
type VectorIndex interface {
	// Replace swaps the whole collection for docID; the last write wins.
	Replace(ctx context.Context, docID uint64, entries []Entry) error
	// Search returns at most k chunks, most similar first, ties broken by chunk index.
	Search(ctx context.Context, docID uint64, vector []float32, k int) ([]domain.RetrievedChunk, error)
	// Drop removes the collection; dropping a missing one is not an error.
	Drop(ctx context.Context, docID uint64) error
}

func retrieved(docID uint64, chunkIndex int, text string, score float64) domain.RetrievedChunk {
	return domain.RetrievedChunk{
		Chunk: domain.Chunk{
			Text:     text,
			Metadata: domain.ChunkMetadata{DocumentID: docID, ChunkIndex: chunkIndex},
		},
		Score: score,
	}
}
