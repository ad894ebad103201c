package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redisv9 "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"askdoc/internal/model"
)

func newTestCache(t *testing.T) (*HistoryCache, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redisv9.NewClient(&redisv9.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewHistoryCache(client, time.Minute, 5*time.Second), srv
}

func TestHistoryCacheRoundTripPerLimit(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()
	msgs := []model.Message{{ID: "m2", DocumentID: "doc1", Role: model.RoleAssistant, Text: "thirty days"}}

	require.NoError(t, c.SetFirstPage(ctx, "doc1", 20, msgs, "m2"))

	got, cursor, ok, err := c.GetFirstPage(ctx, "doc1", 20)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "m2", cursor)
	require.Len(t, got, 1)
	assert.Equal(t, "thirty days", got[0].Text)

	_, _, ok, err = c.GetFirstPage(ctx, "doc1", 10)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHistoryCacheExpires(t *testing.T) {
	c, srv := newTestCache(t)
	ctx := context.Background()
	require.NoError(t, c.SetFirstPage(ctx, "doc1", 20, nil, ""))

	srv.FastForward(2 * time.Minute)

	_, _, ok, err := c.GetFirstPage(ctx, "doc1", 20)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHistoryCacheInvalidationOrder(t *testing.T) {
	c, srv := newTestCache(t)
	ctx := context.Background()
	require.NoError(t, c.SetFirstPage(ctx, "doc1", 20, nil, ""))

	// writers mark the document dirty before dropping the cached pages
	require.NoError(t, c.MarkDirty(ctx, "doc1"))
	require.NoError(t, c.DeleteHistory(ctx, "doc1"))

	dirty, err := c.IsDirty(ctx, "doc1")
	require.NoError(t, err)
	assert.True(t, dirty)
	_, _, ok, err := c.GetFirstPage(ctx, "doc1", 20)
	require.NoError(t, err)
	assert.False(t, ok)

	other, err := c.IsDirty(ctx, "doc2")
	require.NoError(t, err)
	assert.False(t, other)

	srv.FastForward(6 * time.Second)
	dirty, err = c.IsDirty(ctx, "doc1")
	require.NoError(t, err)
	assert.False(t, dirty)
}

func TestHistoryCacheRedisDown(t *testing.T) {
	c, srv := newTestCache(t)
	srv.Close()

	_, _, _, err := c.GetFirstPage(context.Background(), "doc1", 20)
	assert.Error(t, err)
	assert.Error(t, c.MarkDirty(context.Background(), "doc1"))
}
