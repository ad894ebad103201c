package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of a document conversation. Rows are append-only.
// Seq breaks createdAt ties in insertion order.
type Message struct {
	Seq        uint64    `gorm:"primaryKey;autoIncrement" json:"-"`
	ID         string    `gorm:"size:36;not null;uniqueIndex" json:"id"`
	DocumentID string    `gorm:"size:36;not null;index:idx_messages_document_created,priority:1" json:"documentId"`
	AuthorID   string    `gorm:"size:36;not null;index" json:"authorId"`
	Role       Role      `gorm:"size:16;not null" json:"role"`
	Text       string    `gorm:"type:text;not null" json:"text"`
	CreatedAt  time.Time `gorm:"not null;index:idx_messages_document_created,priority:2" json:"createdAt"`
}

func (m *Message) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return nil
}
