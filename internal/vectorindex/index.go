package vectorindex

import (
	"context"
	"errors"
	"math"

	"askdoc/internal/model"
)

const DefaultTopK = 4

var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// Index stores document chunks partitioned by namespace and answers similarity queries.
// Search on an unknown namespace returns no chunks and no error.
type Index interface {
	Search(ctx context.Context, namespace, query string, k int) ([]model.ContextChunk, error)
	Upsert(ctx context.Context, namespace string, texts []string) error
	DeleteNamespace(ctx context.Context, namespace string) error
	Ping(ctx context.Context) error
}

func normalizeK(k int) int {
	if k <= 0 {
		return DefaultTopK
	}
	return k
}

func cosineSimilarity(a, b []float32) float32 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}
