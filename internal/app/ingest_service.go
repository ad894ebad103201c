package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/samber/lo"
	"github.com/tmc/langchaingo/textsplitter"

	"askdoc/internal/model"
	applog "askdoc/internal/platform/log"
	"askdoc/internal/pkg/docxextract"
	"askdoc/internal/pkg/pdfextract"
)

const (
	defaultChunkSize     = 1000
	defaultChunkOverlap  = 100
	defaultIngestTimeout = 5 * time.Minute
)

var ErrUnsupportedContent = errors.New("unsupported document content")

type DocumentStore interface {
	DocumentFinder
	Create(ctx context.Context, doc *model.Document) error
	ListByOwnerID(ctx context.Context, ownerID string) ([]model.Document, error)
	TransitionStatus(ctx context.Context, id string, from, to model.IngestionStatus) (bool, error)
}

type ChunkIndexer interface {
	Upsert(ctx context.Context, namespace string, texts []string) error
	DeleteNamespace(ctx context.Context, namespace string) error
}

type StatusPublisher interface {
	PublishStatus(ctx context.Context, event model.IngestionEvent) error
}

type IngestConfig struct {
	ChunkSize    int
	ChunkOverlap int
	Timeout      time.Duration
}

// IngestService registers uploaded documents and indexes them in the background.
// A namespace is either fully indexed with SUCCESS published, or removed with FAILED.
type IngestService struct {
	documents DocumentStore
	index     ChunkIndexer
	publisher StatusPublisher
	cfg       IngestConfig

	wg sync.WaitGroup
}

type IngestInput struct {
	OwnerID string
	Name    string
	Content []byte
}

func NewIngestService(documents DocumentStore, index ChunkIndexer, publisher StatusPublisher, cfg IngestConfig) *IngestService {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = defaultChunkSize
	}
	if cfg.ChunkOverlap < 0 || cfg.ChunkOverlap >= cfg.ChunkSize {
		cfg.ChunkOverlap = defaultChunkOverlap
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultIngestTimeout
	}
	return &IngestService{
		documents: documents,
		index:     index,
		publisher: publisher,
		cfg:       cfg,
	}
}

func (s *IngestService) Ingest(ctx context.Context, input IngestInput) (*model.Document, error) {
	ownerID := strings.TrimSpace(input.OwnerID)
	if ownerID == "" {
		return nil, ErrUnauthorized
	}
	if len(input.Content) == 0 {
		return nil, ErrInvalidInput
	}
	name := strings.TrimSpace(input.Name)
	if name == "" {
		name = "Untitled"
	}

	doc := &model.Document{
		OwnerID:         ownerID,
		Name:            name,
		IngestionStatus: model.IngestionProcessing,
	}
	if err := s.documents.Create(ctx, doc); err != nil {
		return nil, err
	}

	content := bytes.Clone(input.Content)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.process(doc.ID, content)
	}()
	return doc, nil
}

func (s *IngestService) ListDocuments(ctx context.Context, ownerID string) ([]model.Document, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, ErrUnauthorized
	}
	return s.documents.ListByOwnerID(ctx, ownerID)
}

func (s *IngestService) GetDocument(ctx context.Context, ownerID, documentID string) (*model.Document, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, ErrUnauthorized
	}
	doc, err := s.documents.GetByIDAndOwnerID(ctx, documentID, ownerID)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, ErrNotFound
	}
	return doc, nil
}

// Wait blocks until every background ingestion has finished.
func (s *IngestService) Wait() {
	s.wg.Wait()
}

func (s *IngestService) process(documentID string, content []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Timeout)
	defer cancel()

	count, err := s.indexContent(ctx, documentID, content)
	if err != nil {
		applog.Error("document ingestion failed", "document_id", documentID, "error", err)
		if delErr := s.index.DeleteNamespace(ctx, documentID); delErr != nil {
			applog.Error("delete partial namespace failed", "document_id", documentID, "error", delErr)
		}
		s.report(ctx, model.IngestionEvent{
			DocumentID: documentID,
			Status:     model.IngestionFailed,
			Reason:     err.Error(),
			OccurredAt: time.Now(),
		})
		return
	}

	s.report(ctx, model.IngestionEvent{
		DocumentID: documentID,
		Status:     model.IngestionSuccess,
		ChunkCount: count,
		OccurredAt: time.Now(),
	})
}

func (s *IngestService) indexContent(ctx context.Context, documentID string, content []byte) (int, error) {
	text, err := extractText(content)
	if err != nil {
		return 0, err
	}
	chunks, err := chunkText(text, s.cfg.ChunkSize, s.cfg.ChunkOverlap)
	if err != nil {
		return 0, err
	}
	if len(chunks) == 0 {
		return 0, pdfextract.ErrNoText
	}
	if err := s.index.Upsert(ctx, documentID, chunks); err != nil {
		return 0, fmt.Errorf("index chunks failed: %w", err)
	}
	return len(chunks), nil
}

// report publishes the outcome, applying it directly when the broker is unavailable.
func (s *IngestService) report(ctx context.Context, event model.IngestionEvent) {
	if s.publisher != nil {
		err := s.publisher.PublishStatus(ctx, event)
		if err == nil {
			return
		}
		applog.Warn("publish ingestion event failed, applying directly", "document_id", event.DocumentID, "error", err)
	}
	if _, err := s.documents.TransitionStatus(ctx, event.DocumentID, model.IngestionProcessing, event.Status); err != nil {
		applog.Error("apply ingestion status failed", "document_id", event.DocumentID, "error", err)
	}
}

func extractText(content []byte) (string, error) {
	if pdfextract.IsPDF(content) {
		return pdfextract.ExtractText(bytes.NewReader(content))
	}
	if docxextract.IsDocx(content) {
		return docxextract.ExtractText(content)
	}
	if !utf8.Valid(content) {
		return "", ErrUnsupportedContent
	}
	return strings.TrimSpace(string(content)), nil
}

// chunkText splits text into overlapping chunks of at most size runes, preferring
// paragraph, line and word boundaries.
func chunkText(text string, size, overlap int) ([]string, error) {
	if size <= 0 {
		size = defaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = size / 2
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}

	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(size),
		textsplitter.WithChunkOverlap(overlap),
		textsplitter.WithLenFunc(utf8.RuneCountInString),
	)
	parts, err := splitter.SplitText(text)
	if err != nil {
		return nil, fmt.Errorf("split text failed: %w", err)
	}
	return lo.FilterMap(parts, func(part string, _ int) (string, bool) {
		part = strings.TrimSpace(part)
		return part, part != ""
	}), nil
}
