package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type IngestionStatus string

const (
	IngestionPending    IngestionStatus = "PENDING"
	IngestionProcessing IngestionStatus = "PROCESSING"
	IngestionSuccess    IngestionStatus = "SUCCESS"
	IngestionFailed     IngestionStatus = "FAILED"
)

func (s IngestionStatus) Terminal() bool {
	return s == IngestionSuccess || s == IngestionFailed
}

type Document struct {
	ID              string          `gorm:"primaryKey;size:36" json:"id"`
	OwnerID         string          `gorm:"size:36;not null;index" json:"ownerId"`
	Name            string          `gorm:"size:256;not null" json:"name"`
	IngestionStatus IngestionStatus `gorm:"size:16;not null;default:PENDING" json:"ingestionStatus"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

func (d *Document) BeforeCreate(tx *gorm.DB) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	return nil
}

// Namespace is the vector index partition holding this document's chunks.
func (d *Document) Namespace() string {
	return d.ID
}

// IngestionEvent reports the outcome of a background ingestion run.
type IngestionEvent struct {
	DocumentID string          `json:"documentId"`
	Status     IngestionStatus `json:"status"`
	Reason     string          `json:"reason,omitempty"`
	ChunkCount int             `json:"chunkCount"`
	OccurredAt time.Time       `json:"occurredAt"`
}
