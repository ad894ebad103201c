package app

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"askdoc/internal/model"
)

type fakeIndexer struct {
	mu        sync.Mutex
	upserts   map[string][]string
	deleted   []string
	upsertErr error
}

func newFakeIndexer() *fakeIndexer {
	return &fakeIndexer{upserts: make(map[string][]string)}
}

func (f *fakeIndexer) Upsert(_ context.Context, namespace string, texts []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.upserts[namespace] = texts
	return nil
}

func (f *fakeIndexer) DeleteNamespace(_ context.Context, namespace string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, namespace)
	delete(f.upserts, namespace)
	return nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []model.IngestionEvent
	err    error
}

func (f *fakePublisher) PublishStatus(_ context.Context, event model.IngestionEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, event)
	return nil
}

func TestIngestIndexesTextAndPublishesSuccess(t *testing.T) {
	docs := newFakeDocuments()
	index := newFakeIndexer()
	publisher := &fakePublisher{}
	svc := NewIngestService(docs, index, publisher, IngestConfig{ChunkSize: 20, ChunkOverlap: 5})

	doc, err := svc.Ingest(context.Background(), IngestInput{
		OwnerID: "alice",
		Name:    "notes.txt",
		Content: []byte("Refunds are issued within thirty days of purchase."),
	})
	require.NoError(t, err)
	assert.Equal(t, model.IngestionProcessing, doc.IngestionStatus)
	assert.Equal(t, "alice", doc.OwnerID)
	svc.Wait()

	chunks := index.upserts[doc.ID]
	require.NotEmpty(t, chunks)
	assert.True(t, strings.HasPrefix(chunks[0], "Refunds are"), chunks[0])
	for _, chunk := range chunks {
		assert.LessOrEqual(t, len([]rune(chunk)), 20, chunk)
	}
	assert.Contains(t, chunks[len(chunks)-1], "purchase.")

	require.Len(t, publisher.events, 1)
	event := publisher.events[0]
	assert.Equal(t, doc.ID, event.DocumentID)
	assert.Equal(t, model.IngestionSuccess, event.Status)
	assert.Equal(t, len(chunks), event.ChunkCount)
	// the status worker applies the transition, not the ingester
	assert.Equal(t, model.IngestionProcessing, docs.status(doc.ID))
}

func TestIngestAppliesStatusDirectlyWithoutBroker(t *testing.T) {
	docs := newFakeDocuments()
	svc := NewIngestService(docs, newFakeIndexer(), nil, IngestConfig{})

	doc, err := svc.Ingest(context.Background(), IngestInput{OwnerID: "alice", Content: []byte("short text")})
	require.NoError(t, err)
	svc.Wait()

	assert.Equal(t, "Untitled", doc.Name)
	assert.Equal(t, model.IngestionSuccess, docs.status(doc.ID))
}

func TestIngestFallsBackWhenPublishFails(t *testing.T) {
	docs := newFakeDocuments()
	publisher := &fakePublisher{err: errors.New("channel closed")}
	svc := NewIngestService(docs, newFakeIndexer(), publisher, IngestConfig{})

	doc, err := svc.Ingest(context.Background(), IngestInput{OwnerID: "alice", Content: []byte("short text")})
	require.NoError(t, err)
	svc.Wait()

	assert.Equal(t, model.IngestionSuccess, docs.status(doc.ID))
}

func TestIngestFailureRemovesNamespace(t *testing.T) {
	docs := newFakeDocuments()
	index := newFakeIndexer()
	index.upsertErr = errors.New("embedding quota exceeded")
	svc := NewIngestService(docs, index, nil, IngestConfig{})

	doc, err := svc.Ingest(context.Background(), IngestInput{OwnerID: "alice", Content: []byte("some text")})
	require.NoError(t, err)
	svc.Wait()

	assert.Equal(t, []string{doc.ID}, index.deleted)
	assert.Equal(t, model.IngestionFailed, docs.status(doc.ID))
}

func TestIngestRejectsBinaryContent(t *testing.T) {
	docs := newFakeDocuments()
	publisher := &fakePublisher{}
	svc := NewIngestService(docs, newFakeIndexer(), publisher, IngestConfig{})

	doc, err := svc.Ingest(context.Background(), IngestInput{OwnerID: "alice", Content: []byte{0xff, 0xfe, 0x00, 0x81}})
	require.NoError(t, err)
	svc.Wait()

	require.Len(t, publisher.events, 1)
	assert.Equal(t, model.IngestionFailed, publisher.events[0].Status)
	assert.Contains(t, publisher.events[0].Reason, ErrUnsupportedContent.Error())
	assert.Equal(t, doc.ID, publisher.events[0].DocumentID)
}

func TestIngestValidation(t *testing.T) {
	svc := NewIngestService(newFakeDocuments(), newFakeIndexer(), nil, IngestConfig{})

	_, err := svc.Ingest(context.Background(), IngestInput{Content: []byte("x")})
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = svc.Ingest(context.Background(), IngestInput{OwnerID: "alice"})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestGetDocumentScopedToOwner(t *testing.T) {
	docs := newFakeDocuments(model.Document{ID: "doc1", OwnerID: "alice", IngestionStatus: model.IngestionSuccess})
	svc := NewIngestService(docs, newFakeIndexer(), nil, IngestConfig{})

	doc, err := svc.GetDocument(context.Background(), "alice", "doc1")
	require.NoError(t, err)
	assert.Equal(t, "doc1", doc.ID)

	_, err = svc.GetDocument(context.Background(), "mallory", "doc1")
	assert.ErrorIs(t, err, ErrNotFound)

	list, err := svc.ListDocuments(context.Background(), "mallory")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestChunkText(t *testing.T) {
	chunks, err := chunkText("   ", 10, 2)
	require.NoError(t, err)
	assert.Empty(t, chunks)

	chunks, err = chunkText("  abc  ", 10, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"abc"}, chunks)
}

func TestChunkTextPrefersWordBoundaries(t *testing.T) {
	chunks, err := chunkText("alpha beta gamma delta epsilon", 12, 0)
	require.NoError(t, err)

	for _, chunk := range chunks {
		assert.LessOrEqual(t, len([]rune(chunk)), 12, chunk)
		for _, word := range strings.Fields(chunk) {
			assert.Contains(t, []string{"alpha", "beta", "gamma", "delta", "epsilon"}, word)
		}
	}
	assert.Equal(t, "alpha beta gamma delta epsilon", strings.Join(chunks, " "))
}

func TestChunkTextCountsRunes(t *testing.T) {
	chunks, err := chunkText("日本語のテキスト", 4, 1)
	require.NoError(t, err)

	require.NotEmpty(t, chunks)
	assert.True(t, strings.HasPrefix("日本語のテキスト", chunks[0]))
	for _, chunk := range chunks {
		assert.LessOrEqual(t, len([]rune(chunk)), 4, chunk)
	}
}
