package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"
	"lexai/pkg/ai"
	"lexai/pkg/domain"
)

const (
	DefaultTopK        = 5
	defaultBatchSize   = 16
	defaultConcurrency = 4
)

// Options tunes embedding during indexing.
type Options struct {
	BatchSize   int
	Concurrency int
	// Dimensions, when positive, rejects vectors of any other width.
	Dimensions int
}

// Engine embeds document chunks and answers similarity queries against them.
type Engine struct {
	embedder    ai.Embedder
	index       VectorIndex
	batchSize   int
	concurrency int
	dimensions  int
}

// NewEngine wires an embedder to a vector index.
func NewEngine(embedder ai.Embedder, index VectorIndex, opts Options) (*Engine, error) {
	if embedder == nil {
		return nil, errors.New("embedder required")
	}
	if index == nil {
		return nil, errors.New("vector index required")
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	return &Engine{
		embedder:    embedder,
		index:       index,
		batchSize:   opts.BatchSize,
		concurrency: opts.Concurrency,
		dimensions:  opts.Dimensions,
	}, nil
}

// Index embeds chunks and replaces the document's collection.
func (e *Engine) Index(ctx context.Context, docID uint64, chunks []string) error {
	if len(chunks) == 0 {
		return errors.New("no chunks to index")
	}
	entries := make([]Entry, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for start := 0; start < len(chunks); start += e.batchSize {
		end := min(start+e.batchSize, len(chunks))
		g.Go(func() error {
			vectors, err := e.embedBatch(gctx, chunks[start:end], ai.TaskRetrievalDocument)
			if err != nil {
				return err
			}
			for i, vec := range vectors {
				entries[start+i] = Entry{ChunkIndex: start + i, Text: chunks[start+i], Vector: vec}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("embed chunks: %w", err)
	}
	if err := e.index.Replace(ctx, docID, entries); err != nil {
		return fmt.Errorf("store vectors: %w", err)
	}
	return nil
}

// Retrieve returns the k chunks most similar to query, most similar first.
// k <= 0 selects DefaultTopK.
func (e *Engine) Retrieve(ctx context.Context, docID uint64, query string, k int) ([]domain.RetrievedChunk, error) {
	if strings.TrimSpace(query) == "" {
		return nil, errors.New("query required")
	}
	if k <= 0 {
		k = DefaultTopK
	}
	vectors, err := e.embedBatch(ctx, []string{query}, ai.TaskRetrievalQuery)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	hits, err := e.index.Search(ctx, docID, vectors[0], k)
	if err != nil {
		return nil, err
	}
	return hits, nil
}

// Drop removes a document's vectors.
func (e *Engine) Drop(ctx context.Context, docID uint64) error {
	return e.index.Drop(ctx, docID)
}

func (e *Engine) embedBatch(ctx context.Context, texts []string, taskType string) ([][]float32, error) {
	var vectors [][]float32
	if batch, ok := e.embedder.(ai.BatchEmbedder); ok && len(texts) > 1 {
		out, err := batch.EmbedTexts(ctx, texts, taskType)
		if err != nil {
			return nil, err
		}
		vectors = out
	} else {
		vectors = make([][]float32, 0, len(texts))
		for _, text := range texts {
			vec, err := e.embedder.EmbedText(ctx, text, taskType)
			if err != nil {
				return nil, err
			}
			vectors = append(vectors, vec)
		}
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: got %d, want %d", len(vectors), len(texts))
	}
	for _, vec := range vectors {
		if len(vec) == 0 {
			return nil, errors.New("embedding vector is empty")
		}
		if e.dimensions > 0 && len(vec) != e.dimensions {
			return nil, fmt.Errorf("embedding dimension mismatch: got %d, want %d", len(vec), e.dimensions)
		}
	}
	return vectors, nil
}
