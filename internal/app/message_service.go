package app

import (
	"context"
	"errors"
	"strings"

	"askdoc/internal/model"
	applog "askdoc/internal/platform/log"
	"askdoc/internal/repository"
)

type MessagePager interface {
	ListPage(ctx context.Context, documentID string, limit int, cursor string) ([]model.Message, string, error)
}

type HistoryCache interface {
	GetFirstPage(ctx context.Context, documentID string, limit int) ([]model.Message, string, bool, error)
	SetFirstPage(ctx context.Context, documentID string, limit int, messages []model.Message, nextCursor string) error
	IsDirty(ctx context.Context, documentID string) (bool, error)
}

type MessagePage struct {
	Messages   []model.Message `json:"messages"`
	NextCursor string          `json:"nextCursor,omitempty"`
}

// MessageService serves the paginated read side of a document conversation.
type MessageService struct {
	documents    DocumentFinder
	messages     MessagePager
	historyCache HistoryCache
}

type ListMessagesInput struct {
	CallerID   string
	DocumentID string
	Limit      int
	Cursor     string
}

func NewMessageService(documents DocumentFinder, messages MessagePager, historyCache HistoryCache) *MessageService {
	return &MessageService{
		documents:    documents,
		messages:     messages,
		historyCache: historyCache,
	}
}

func (s *MessageService) ListMessages(ctx context.Context, input ListMessagesInput) (*MessagePage, error) {
	callerID := strings.TrimSpace(input.CallerID)
	if callerID == "" {
		return nil, ErrUnauthorized
	}
	documentID := strings.TrimSpace(input.DocumentID)
	if documentID == "" {
		return nil, ErrInvalidInput
	}

	doc, err := s.documents.GetByIDAndOwnerID(ctx, documentID, callerID)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, ErrNotFound
	}

	limit := input.Limit
	if limit <= 0 {
		limit = repository.DefaultPageLimit
	}
	if limit > repository.MaxPageLimit {
		limit = repository.MaxPageLimit
	}

	firstPage := input.Cursor == ""
	if firstPage && s.historyCache != nil {
		dirty, err := s.historyCache.IsDirty(ctx, doc.ID)
		if err == nil && !dirty {
			if cached, next, hit, cacheErr := s.historyCache.GetFirstPage(ctx, doc.ID, limit); cacheErr == nil && hit {
				return &MessagePage{Messages: cached, NextCursor: next}, nil
			}
		}
	}

	messages, nextCursor, err := s.messages.ListPage(ctx, doc.ID, limit, input.Cursor)
	if err != nil {
		if errors.Is(err, repository.ErrCursorNotFound) {
			return nil, ErrInvalidCursor
		}
		return nil, err
	}
	if messages == nil {
		messages = []model.Message{}
	}

	if firstPage && s.historyCache != nil {
		if dirty, dirtyErr := s.historyCache.IsDirty(ctx, doc.ID); dirtyErr == nil && !dirty {
			if err := s.historyCache.SetFirstPage(ctx, doc.ID, limit, messages, nextCursor); err != nil {
				applog.Warn("cache first page failed", "document_id", doc.ID, "error", err)
			}
		}
	}
	return &MessagePage{Messages: messages, NextCursor: nextCursor}, nil
}
