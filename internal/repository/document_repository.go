package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"askdoc/internal/model"
)

type DocumentRepository struct {
	db *gorm.DB
}

func NewDocumentRepository(db *gorm.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

func (r *DocumentRepository) Create(ctx context.Context, doc *model.Document) error {
	if err := r.db.WithContext(ctx).Create(doc).Error; err != nil {
		return fmt.Errorf("create document failed: %w", err)
	}
	return nil
}

func (r *DocumentRepository) ListByOwnerID(ctx context.Context, ownerID string) ([]model.Document, error) {
	var list []model.Document
	if err := r.db.WithContext(ctx).Where("owner_id = ?", ownerID).Order("created_at DESC").Find(&list).Error; err != nil {
		return nil, fmt.Errorf("list documents failed: %w", err)
	}
	return list, nil
}

// GetByIDAndOwnerID returns nil, nil when the document does not exist or belongs to someone else.
func (r *DocumentRepository) GetByIDAndOwnerID(ctx context.Context, id, ownerID string) (*model.Document, error) {
	var doc model.Document
	if err := r.db.WithContext(ctx).Where("id = ? AND owner_id = ?", id, ownerID).First(&doc).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get document failed: %w", err)
	}
	return &doc, nil
}

// TransitionStatus moves a document from one ingestion status to another. It reports
// false when the document was not in the expected status, so a transition applies once.
func (r *DocumentRepository) TransitionStatus(ctx context.Context, id string, from, to model.IngestionStatus) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&model.Document{}).
		Where("id = ? AND ingestion_status = ?", id, from).
		Update("ingestion_status", to)
	if result.Error != nil {
		return false, fmt.Errorf("update document status failed: %w", result.Error)
	}
	return result.RowsAffected == 1, nil
}
