package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	redisv9 "github.com/redis/go-redis/v9"

	"askdoc/internal/model"
)

// HistoryCache keeps the first page of each document conversation, one hash field
// per page size. Writers mark the document dirty so an in-flight reader cannot put a
// stale page back right after invalidation.
type HistoryCache struct {
	client         *redisv9.Client
	historyTTL     time.Duration
	dirtyMarkerTTL time.Duration
}

type cachedPage struct {
	Messages   []model.Message `json:"messages"`
	NextCursor string          `json:"nextCursor"`
}

func NewHistoryCache(client *redisv9.Client, historyTTL, dirtyMarkerTTL time.Duration) *HistoryCache {
	if historyTTL <= 0 {
		historyTTL = 60 * time.Second
	}
	if dirtyMarkerTTL <= 0 {
		dirtyMarkerTTL = 5 * time.Second
	}
	return &HistoryCache{
		client:         client,
		historyTTL:     historyTTL,
		dirtyMarkerTTL: dirtyMarkerTTL,
	}
}

func (c *HistoryCache) GetFirstPage(ctx context.Context, documentID string, limit int) ([]model.Message, string, bool, error) {
	raw, err := c.client.HGet(ctx, c.historyKey(documentID), strconv.Itoa(limit)).Result()
	if err == redisv9.Nil {
		return nil, "", false, nil
	}
	if err != nil {
		return nil, "", false, fmt.Errorf("redis get history failed: %w", err)
	}

	var page cachedPage
	if err := json.Unmarshal([]byte(raw), &page); err != nil {
		return nil, "", false, fmt.Errorf("unmarshal cached history failed: %w", err)
	}
	return page.Messages, page.NextCursor, true, nil
}

func (c *HistoryCache) SetFirstPage(ctx context.Context, documentID string, limit int, messages []model.Message, nextCursor string) error {
	payload, err := json.Marshal(cachedPage{Messages: messages, NextCursor: nextCursor})
	if err != nil {
		return fmt.Errorf("marshal history cache failed: %w", err)
	}

	key := c.historyKey(documentID)
	pipe := c.client.TxPipeline()
	pipe.HSet(ctx, key, strconv.Itoa(limit), payload)
	pipe.Expire(ctx, key, c.historyTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis set history failed: %w", err)
	}
	return nil
}

func (c *HistoryCache) DeleteHistory(ctx context.Context, documentID string) error {
	if err := c.client.Del(ctx, c.historyKey(documentID)).Err(); err != nil {
		return fmt.Errorf("redis delete history failed: %w", err)
	}
	return nil
}

func (c *HistoryCache) MarkDirty(ctx context.Context, documentID string) error {
	if err := c.client.Set(ctx, c.dirtyKey(documentID), "1", c.dirtyMarkerTTL).Err(); err != nil {
		return fmt.Errorf("redis set dirty marker failed: %w", err)
	}
	return nil
}

func (c *HistoryCache) IsDirty(ctx context.Context, documentID string) (bool, error) {
	exists, err := c.client.Exists(ctx, c.dirtyKey(documentID)).Result()
	if err != nil {
		return false, fmt.Errorf("redis check dirty marker failed: %w", err)
	}
	return exists > 0, nil
}

func (c *HistoryCache) historyKey(documentID string) string {
	return "askdoc:history:" + documentID
}

func (c *HistoryCache) dirtyKey(documentID string) string {
	return "askdoc:history:dirty:" + documentID
}
