package documentctrl

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"docqa/src/core/rag"
)

type Document struct {
	ID          int64     `gorm:"primaryKey" json:"id"`
	Filename    string    `gorm:"not null;uniqueIndex" json:"filename"`
	StoragePath string    `gorm:"not null" json:"storage_path"` // bucket name + object name, or a local path
	Indexed     bool      `gorm:"not null;default:false" json:"indexed"`
	ChunkCount  int       `gorm:"not null;default:0" json:"chunk_count"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (d *Document) toRAG() rag.Document {
	return rag.Document{
		ID:          d.ID,
		Filename:    d.Filename,
		StoragePath: d.StoragePath,
		Indexed:     d.Indexed,
		ChunkCount:  d.ChunkCount,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
}

type Repository struct {
	db        *gorm.DB
	snowflake *snowflake.Node
}

func NewRepository(db *gorm.DB) (*Repository, error) {
	node, err := snowflake.NewNode(1) // Node number 1 for documents
	if err != nil {
		return nil, fmt.Errorf("failed to create snowflake node: %v", err)
	}

	if err := db.AutoMigrate(&Document{}); err != nil {
		return nil, fmt.Errorf("failed to migrate documents: %w", err)
	}

	return &Repository{
		db:        db,
		snowflake: node,
	}, nil
}

// Save creates the record for filename, or points an existing one at the
// new storage path. The indexing state of an existing record is kept.
func (r *Repository) Save(ctx context.Context, filename, storagePath string) (*rag.Document, error) {
	doc := &Document{
		ID:          r.snowflake.Generate().Int64(),
		Filename:    filename,
		StoragePath: storagePath,
	}

	result := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "filename"}},
		DoUpdates: clause.AssignmentColumns([]string{"storage_path", "updated_at"}),
	}).Create(doc)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to save document: %v", result.Error)
	}

	return r.Get(ctx, filename)
}

func (r *Repository) Get(ctx context.Context, filename string) (*rag.Document, error) {
	var doc Document
	result := r.db.WithContext(ctx).Where("filename = ?", filename).First(&doc)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get document: %v", result.Error)
	}
	d := doc.toRAG()
	return &d, nil
}

func (r *Repository) List(ctx context.Context) ([]rag.Document, error) {
	var docs []Document
	result := r.db.WithContext(ctx).Order("filename ASC").Find(&docs)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list documents: %v", result.Error)
	}

	out := make([]rag.Document, len(docs))
	for i := range docs {
		out[i] = docs[i].toRAG()
	}
	return out, nil
}

func (r *Repository) MarkIndexed(ctx context.Context, filename string, chunkCount int) error {
	result := r.db.WithContext(ctx).Model(&Document{}).Where("filename = ?", filename).Updates(map[string]interface{}{
		"indexed":     true,
		"chunk_count": chunkCount,
		"updated_at":  time.Now(),
	})
	if result.Error != nil {
		return fmt.Errorf("failed to mark document indexed: %v", result.Error)
	}
	if result.RowsAffected == 0 {
		return rag.NotFoundError("document %s not found", filename)
	}
	return nil
}
