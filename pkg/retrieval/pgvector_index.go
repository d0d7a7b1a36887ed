package retrieval

import (
	"context"
	"fmt"
	"time"

	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"lexai/pkg/domain"
	"lexai/pkg/store"
)

// ChunkModel is one embedded chunk row.
type ChunkModel struct {
	ID         uint64          `gorm:"primaryKey;autoIncrement"`
	DocumentID uint64          `gorm:"not null;index:idx_document_chunk,priority:1"`
	ChunkIndex int             `gorm:"not null;index:idx_document_chunk,priority:2"`
	Content    string          `gorm:"type:text;not null"`
	Embedding  pgvector.Vector `gorm:"type:vector(768);not null"`
	CreatedAt  time.Time       `gorm:"not null"`
}

func (ChunkModel) TableName() string { return "document_chunks" }

// PGVectorIndex stores vectors in Postgres with the pgvector extension and
// ranks by cosine distance.
type PGVectorIndex struct {
	db  *gorm.DB
	dim int
}

// NewPGVectorIndex creates the extension and table, sizing the embedding
// column to dim.
func NewPGVectorIndex(db *gorm.DB, dim int) (*PGVectorIndex, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("embedding dimension must be positive")
	}
	err := store.WithMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
			return fmt.Errorf("create pgvector extension: %w", err)
		}
		if err := tx.AutoMigrate(&ChunkModel{}); err != nil {
			return fmt.Errorf("auto migrate chunks: %w", err)
		}
		if err := tx.Exec(fmt.Sprintf("ALTER TABLE document_chunks ALTER COLUMN embedding TYPE vector(%d)", dim)).Error; err != nil {
			return fmt.Errorf("alter chunk embedding type: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &PGVectorIndex{db: db, dim: dim}, nil
}

func (p *PGVectorIndex) Replace(ctx context.Context, docID uint64, entries []Entry) error {
	rows := make([]ChunkModel, 0, len(entries))
	now := time.Now().UTC()
	for _, e := range entries {
		if len(e.Vector) != p.dim {
			return fmt.Errorf("embedding dimension mismatch: got %d, want %d", len(e.Vector), p.dim)
		}
		rows = append(rows, ChunkModel{
			DocumentID: docID,
			ChunkIndex: e.ChunkIndex,
			Content:    e.Text,
			Embedding:  pgvector.NewVector(e.Vector),
			CreatedAt:  now,
		})
	}
	return p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("document_id = ?", docID).Delete(&ChunkModel{}).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		return tx.CreateInBatches(rows, 100).Error
	})
}

type pgHit struct {
	ChunkIndex int
	Content    string
	Score      float64
}

func (p *PGVectorIndex) Search(ctx context.Context, docID uint64, vector []float32, k int) ([]domain.RetrievedChunk, error) {
	if len(vector) != p.dim {
		return nil, fmt.Errorf("embedding dimension mismatch: got %d, want %d", len(vector), p.dim)
	}
	if k <= 0 {
		return []domain.RetrievedChunk{}, nil
	}
	vec := pgvector.NewVector(vector)
	var rows []pgHit
	if err := p.db.WithContext(ctx).Model(&ChunkModel{}).
		Select("chunk_index, content, 1 - (embedding <=> ?) AS score", vec).
		Where("document_id = ?", docID).
		Order(clause.Expr{SQL: "embedding <=> ?, chunk_index ASC", Vars: []any{vec}}).
		Limit(k).
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrIndexNotFound
	}
	hits := make([]domain.RetrievedChunk, 0, len(rows))
	for _, r := range rows {
		hits = append(hits, retrieved(docID, r.ChunkIndex, r.Content, r.Score))
	}
	return hits, nil
}

func (p *PGVectorIndex) Drop(ctx context.Context, docID uint64) error {
	return p.db.WithContext(ctx).Where("document_id = ?", docID).Delete(&ChunkModel{}).Error
}
