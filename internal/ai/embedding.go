package ai

import "context"

// Embedder turns text into vectors for the vector index.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
}

var (
	_ Embedder  = (*Client)(nil)
	_ Completer = (*Client)(nil)
)
