// Package pgvector stores embeddings in Postgres with the pgvector extension.
package pgvector

import (
	"context"
	"errors"
	"fmt"

	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"docqa/src/core/rag"
)

// Space records the model and dimension of each embedding space table.
type Space struct {
	Name       string `gorm:"primaryKey"`
	Model      string `gorm:"not null"`
	Dimensions int    `gorm:"not null;default:0"`
}

func (Space) TableName() string {
	return "vector_spaces"
}

type entryRow struct {
	Seq        int64           `gorm:"primaryKey;autoIncrement"`
	DocumentID string          `gorm:"not null;index"`
	Page       *int            `gorm:""`
	Text       string          `gorm:"not null"`
	Embedding  pgvector.Vector `gorm:"type:vector;not null"`
}

type searchRow struct {
	Seq        int64
	DocumentID string
	Page       *int
	Text       string
	Distance   float64
}

// Index is a vector index backed by one Postgres table per embedding space.
type Index struct {
	db    *gorm.DB
	space string
	model string
}

// NewIndex creates the extension and tables if needed and checks that the
// space belongs to model.
func NewIndex(ctx context.Context, db *gorm.DB, model string) (*Index, error) {
	idx := &Index{db: db, space: rag.SpaceName(model), model: model}

	if err := db.WithContext(ctx).Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
		return nil, fmt.Errorf("failed to create vector extension: %w", err)
	}
	if err := db.WithContext(ctx).AutoMigrate(&Space{}); err != nil {
		return nil, fmt.Errorf("failed to migrate vector spaces: %w", err)
	}
	if err := idx.table(ctx).AutoMigrate(&entryRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate %s: %w", idx.space, err)
	}

	var space Space
	err := db.WithContext(ctx).Where(Space{Name: idx.space}).Attrs(Space{Model: model}).FirstOrCreate(&space).Error
	if err != nil {
		return nil, fmt.Errorf("failed to register embedding space: %w", err)
	}
	if space.Model != model {
		return nil, fmt.Errorf("%w: space %s was built with model %q, not %q", rag.ErrEmbeddingSpaceMismatch, idx.space, space.Model, model)
	}

	return idx, nil
}

func (i *Index) table(ctx context.Context) *gorm.DB {
	return i.db.WithContext(ctx).Table(i.space)
}

func (i *Index) Add(ctx context.Context, entries []rag.Entry) error {
	return i.write(ctx, "", entries)
}

func (i *Index) ReplaceDocument(ctx context.Context, documentID string, entries []rag.Entry) error {
	for _, e := range entries {
		if e.Metadata.DocumentID != documentID {
			return fmt.Errorf("entry belongs to %q, not %q", e.Metadata.DocumentID, documentID)
		}
	}
	return i.write(ctx, documentID, entries)
}

func (i *Index) write(ctx context.Context, replace string, entries []rag.Entry) error {
	rows := make([]entryRow, len(entries))
	for n, e := range entries {
		if len(e.Vector) != len(entries[0].Vector) || len(e.Vector) == 0 {
			return fmt.Errorf("%w: entry %d has %d dimensions", rag.ErrEmbeddingSpaceMismatch, n, len(e.Vector))
		}
		rows[n] = entryRow{
			DocumentID: e.Metadata.DocumentID,
			Page:       e.Metadata.Page,
			Text:       e.Text,
			Embedding:  pgvector.NewVector(e.Vector),
		}
	}

	return i.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(rows) > 0 {
			if err := i.checkDimensions(tx, len(entries[0].Vector)); err != nil {
				return err
			}
		}
		if replace != "" {
			if err := tx.Table(i.space).Where("document_id = ?", replace).Delete(&entryRow{}).Error; err != nil {
				return fmt.Errorf("failed to delete previous entries: %w", err)
			}
		}
		if len(rows) == 0 {
			return nil
		}
		if err := tx.Table(i.space).CreateInBatches(rows, 500).Error; err != nil {
			return fmt.Errorf("failed to insert entries: %w", err)
		}
		return nil
	})
}

func (i *Index) checkDimensions(tx *gorm.DB, dims int) error {
	var space Space
	// row lock serializes the first writers of a space
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&space, "name = ?", i.space).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("embedding space %s is not registered", i.space)
		}
		return fmt.Errorf("failed to read embedding space: %w", err)
	}
	switch {
	case space.Dimensions == 0:
		if err := tx.Model(&Space{}).Where("name = ?", i.space).Update("dimensions", dims).Error; err != nil {
			return fmt.Errorf("failed to record dimensions: %w", err)
		}
	case space.Dimensions != dims:
		return fmt.Errorf("%w: space %s stores %d dimensions, got %d", rag.ErrEmbeddingSpaceMismatch, i.space, space.Dimensions, dims)
	}
	return nil
}

// Search orders by cosine distance, then insertion sequence.
func (i *Index) Search(ctx context.Context, vector []float32, k int) ([]rag.SearchResult, error) {
	if k <= 0 {
		return nil, nil
	}

	var rows []searchRow
	err := i.table(ctx).
		Select("seq, document_id, page, text, embedding <=> ? AS distance", pgvector.NewVector(vector)).
		Order("distance, seq").
		Limit(k).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to search %s: %w", i.space, err)
	}

	results := make([]rag.SearchResult, len(rows))
	for n, r := range rows {
		results[n] = rag.SearchResult{
			Text:     r.Text,
			Metadata: rag.Metadata{DocumentID: r.DocumentID, Page: r.Page},
			Distance: r.Distance,
			Seq:      r.Seq,
		}
	}
	return results, nil
}

func (i *Index) Count(ctx context.Context) (int, error) {
	var n int64
	if err := i.table(ctx).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", i.space, err)
	}
	return int(n), nil
}
