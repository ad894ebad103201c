package vectorindex

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"askdoc/internal/ai"
	"askdoc/internal/model"
)

// PGVectorIndex keeps one row per chunk in a pgvector table, keyed by namespace.
type PGVectorIndex struct {
	pool       *pgxpool.Pool
	embedder   ai.Embedder
	table      string
	dimensions int
}

func NewPGVectorIndex(pool *pgxpool.Pool, embedder ai.Embedder, table string, dimensions int) *PGVectorIndex {
	if table == "" {
		table = "document_chunks"
	}
	if dimensions <= 0 {
		dimensions = 1536
	}
	return &PGVectorIndex{
		pool:       pool,
		embedder:   embedder,
		table:      table,
		dimensions: dimensions,
	}
}

// EnsureSchema creates the vector extension, the chunk table and its indexes.
func (p *PGVectorIndex) EnsureSchema(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("create vector extension failed: %w", err)
	}

	table := p.tableIdent()
	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id BIGSERIAL PRIMARY KEY,
			namespace TEXT NOT NULL,
			chunk_index INTEGER NOT NULL,
			content TEXT NOT NULL,
			embedding vector(%d) NOT NULL
		)`, table, p.dimensions),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (namespace)`,
			pgx.Identifier{p.table + "_namespace_idx"}.Sanitize(), table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s USING hnsw (embedding vector_cosine_ops)`,
			pgx.Identifier{p.table + "_embedding_idx"}.Sanitize(), table),
	}
	for _, stmt := range statements {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure vector schema failed: %w", err)
		}
	}
	return nil
}

func (p *PGVectorIndex) Search(ctx context.Context, namespace, query string, k int) ([]model.ContextChunk, error) {
	k = normalizeK(k)

	queryVector, err := p.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	if len(queryVector) != p.dimensions {
		return nil, fmt.Errorf("%w: got %d want %d", ErrDimensionMismatch, len(queryVector), p.dimensions)
	}

	sql := fmt.Sprintf(`
		SELECT content, 1 - (embedding <=> $2) AS score
		FROM %s
		WHERE namespace = $1
		ORDER BY embedding <=> $2
		LIMIT $3`, p.tableIdent())

	rows, err := p.pool.Query(ctx, sql, namespace, pgvector.NewVector(queryVector), k)
	if err != nil {
		return nil, fmt.Errorf("query vector index failed: %w", err)
	}
	defer rows.Close()

	chunks := make([]model.ContextChunk, 0, k)
	for rows.Next() {
		var (
			content string
			score   float64
		)
		if err := rows.Scan(&content, &score); err != nil {
			return nil, fmt.Errorf("scan vector row failed: %w", err)
		}
		chunks = append(chunks, model.ContextChunk{
			Text:             content,
			SourceDocumentID: namespace,
			Score:            float32(score),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate vector rows failed: %w", err)
	}
	return chunks, nil
}

// Upsert replaces every chunk of the namespace inside one transaction.
func (p *PGVectorIndex) Upsert(ctx context.Context, namespace string, texts []string) error {
	cleaned := make([]string, len(texts))
	for i, t := range texts {
		cleaned[i] = sanitizeUTF8(t)
	}

	vectors, err := p.embedder.EmbedDocuments(ctx, cleaned)
	if err != nil {
		return err
	}
	for _, v := range vectors {
		if len(v) != p.dimensions {
			return fmt.Errorf("%w: got %d want %d", ErrDimensionMismatch, len(v), p.dimensions)
		}
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin vector transaction failed: %w", err)
	}
	defer tx.Rollback(ctx)

	table := p.tableIdent()
	if _, err := tx.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE namespace = $1", table), namespace); err != nil {
		return fmt.Errorf("clear namespace failed: %w", err)
	}

	insert := fmt.Sprintf("INSERT INTO %s (namespace, chunk_index, content, embedding) VALUES ($1, $2, $3, $4)", table)
	batch := &pgx.Batch{}
	for i := range cleaned {
		batch.Queue(insert, namespace, i, cleaned[i], pgvector.NewVector(vectors[i]))
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert chunks failed: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit vector transaction failed: %w", err)
	}
	return nil
}

func (p *PGVectorIndex) DeleteNamespace(ctx context.Context, namespace string) error {
	sql := fmt.Sprintf("DELETE FROM %s WHERE namespace = $1", p.tableIdent())
	if _, err := p.pool.Exec(ctx, sql, namespace); err != nil {
		return fmt.Errorf("delete namespace failed: %w", err)
	}
	return nil
}

func (p *PGVectorIndex) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *PGVectorIndex) tableIdent() string {
	return pgx.Identifier{p.table}.Sanitize()
}

// sanitizeUTF8 drops invalid byte sequences, which postgres rejects in TEXT columns.
func sanitizeUTF8(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	return strings.ToValidUTF8(s, "")
}
