package vectorindex

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"askdoc/internal/ai"
	"askdoc/internal/model"
)

// MemoryIndex is a brute-force cosine index held in process memory.
type MemoryIndex struct {
	embedder ai.Embedder

	mu         sync.RWMutex
	namespaces map[string][]memoryEntry
}

type memoryEntry struct {
	text   string
	vector []float32
}

func NewMemoryIndex(embedder ai.Embedder) *MemoryIndex {
	return &MemoryIndex{
		embedder:   embedder,
		namespaces: make(map[string][]memoryEntry),
	}
}

func (m *MemoryIndex) Search(ctx context.Context, namespace, query string, k int) ([]model.ContextChunk, error) {
	k = normalizeK(k)

	m.mu.RLock()
	entries := m.namespaces[namespace]
	m.mu.RUnlock()
	if len(entries) == 0 {
		return []model.ContextChunk{}, nil
	}

	queryVector, err := m.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	chunks := make([]model.ContextChunk, len(entries))
	for i, e := range entries {
		chunks[i] = model.ContextChunk{
			Text:             e.text,
			SourceDocumentID: namespace,
			Score:            cosineSimilarity(queryVector, e.vector),
		}
	}
	sort.SliceStable(chunks, func(i, j int) bool {
		return chunks[i].Score > chunks[j].Score
	})
	if k < len(chunks) {
		chunks = chunks[:k]
	}
	return chunks, nil
}

// Upsert replaces the namespace content. Embedding happens before the swap, so a
// failed call leaves the previous content in place.
func (m *MemoryIndex) Upsert(ctx context.Context, namespace string, texts []string) error {
	vectors, err := m.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return err
	}
	if len(vectors) != len(texts) {
		return fmt.Errorf("%w: %d vectors for %d texts", ErrDimensionMismatch, len(vectors), len(texts))
	}

	entries := make([]memoryEntry, len(texts))
	for i := range texts {
		entries[i] = memoryEntry{text: texts[i], vector: vectors[i]}
	}

	m.mu.Lock()
	m.namespaces[namespace] = entries
	m.mu.Unlock()
	return nil
}

func (m *MemoryIndex) DeleteNamespace(ctx context.Context, namespace string) error {
	m.mu.Lock()
	delete(m.namespaces, namespace)
	m.mu.Unlock()
	return nil
}

func (m *MemoryIndex) Ping(ctx context.Context) error {
	return nil
}
