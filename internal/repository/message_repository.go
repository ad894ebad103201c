package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"askdoc/internal/model"
)

const (
	DefaultPageLimit = 10
	MaxPageLimit     = 100
)

var ErrCursorNotFound = errors.New("cursor not found")

type MessageRepository struct {
	db *gorm.DB
}

func NewMessageRepository(db *gorm.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

func (r *MessageRepository) Create(ctx context.Context, message *model.Message) error {
	if err := r.db.WithContext(ctx).Create(message).Error; err != nil {
		return fmt.Errorf("create message failed: %w", err)
	}
	return nil
}

// ListPage returns up to limit messages of a document, newest first, strictly older
// than the message identified by cursor. nextCursor is empty on the last page.
func (r *MessageRepository) ListPage(ctx context.Context, documentID string, limit int, cursor string) ([]model.Message, string, error) {
	limit = clampLimit(limit)

	query := r.newestFirst(ctx, documentID)
	if cursor != "" {
		var anchor model.Message
		err := r.db.WithContext(ctx).
			Where("id = ? AND document_id = ?", cursor, documentID).
			First(&anchor).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, "", ErrCursorNotFound
			}
			return nil, "", fmt.Errorf("load message cursor failed: %w", err)
		}
		query = olderThan(query, anchor)
	}

	var messages []model.Message
	if err := query.Limit(limit + 1).Find(&messages).Error; err != nil {
		return nil, "", fmt.Errorf("list message page failed: %w", err)
	}

	nextCursor := ""
	if len(messages) > limit {
		messages = messages[:limit]
		nextCursor = messages[limit-1].ID
	}
	return messages, nextCursor, nil
}

// ListRecent returns the n most recent messages of a document in ascending order.
func (r *MessageRepository) ListRecent(ctx context.Context, documentID string, n int) ([]model.Message, error) {
	if n <= 0 {
		return nil, nil
	}

	var messages []model.Message
	if err := r.newestFirst(ctx, documentID).Limit(n).Find(&messages).Error; err != nil {
		return nil, fmt.Errorf("list recent messages failed: %w", err)
	}
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

func (r *MessageRepository) newestFirst(ctx context.Context, documentID string) *gorm.DB {
	return r.db.WithContext(ctx).
		Model(&model.Message{}).
		Where("document_id = ?", documentID).
		Order("created_at DESC").
		Order("seq DESC")
}

func olderThan(query *gorm.DB, anchor model.Message) *gorm.DB {
	return query.Where(
		"(created_at < ? OR (created_at = ? AND seq < ?))",
		anchor.CreatedAt, anchor.CreatedAt, anchor.Seq,
	)
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultPageLimit
	}
	if limit > MaxPageLimit {
		return MaxPageLimit
	}
	return limit
}
