package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"askdoc/internal/ai"
	"askdoc/internal/model"
	applog "askdoc/internal/platform/log"
)

const (
	defaultTopK         = 4
	defaultHistorySize  = 6
	defaultDrainTimeout = 2 * time.Minute
	assistantWriteLimit = 10 * time.Second

	// answers are generated deterministically
	answerTemperature = 0
)

type DocumentFinder interface {
	GetByIDAndOwnerID(ctx context.Context, id, ownerID string) (*model.Document, error)
}

type MessageLog interface {
	Create(ctx context.Context, message *model.Message) error
	ListRecent(ctx context.Context, documentID string, n int) ([]model.Message, error)
}

type ContextSearcher interface {
	Search(ctx context.Context, namespace, query string, k int) ([]model.ContextChunk, error)
}

// HistoryInvalidator drops cached message pages after the log changes.
type HistoryInvalidator interface {
	MarkDirty(ctx context.Context, documentID string) error
	DeleteHistory(ctx context.Context, documentID string) error
}

type PipelineConfig struct {
	TopK                int
	HistorySize         int
	PersistOnDisconnect bool
	DrainTimeout        time.Duration
}

// QueryPipeline answers a question about one document and keeps both turns of the
// exchange in the message log.
type QueryPipeline struct {
	documents DocumentFinder
	messages  MessageLog
	index     ContextSearcher
	completer ai.Completer
	history   HistoryInvalidator
	cfg       PipelineConfig
	now       func() time.Time
}

type SendMessageInput struct {
	CallerID   string
	DocumentID string
	Text       string
}

func NewQueryPipeline(
	documents DocumentFinder,
	messages MessageLog,
	index ContextSearcher,
	completer ai.Completer,
	history HistoryInvalidator,
	cfg PipelineConfig,
) *QueryPipeline {
	if cfg.TopK <= 0 {
		cfg.TopK = defaultTopK
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = defaultHistorySize
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = defaultDrainTimeout
	}
	return &QueryPipeline{
		documents: documents,
		messages:  messages,
		index:     index,
		completer: completer,
		history:   history,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Handle validates the request and durably records the user turn. Every failure it
// returns happens before any answer byte exists. Retrieval and generation run lazily
// on the first AnswerStream.Next.
func (p *QueryPipeline) Handle(ctx context.Context, input SendMessageInput) (*AnswerStream, error) {
	callerID := strings.TrimSpace(input.CallerID)
	if callerID == "" {
		return nil, ErrUnauthorized
	}
	documentID := strings.TrimSpace(input.DocumentID)
	text := strings.TrimSpace(input.Text)
	if documentID == "" || text == "" {
		return nil, ErrInvalidInput
	}

	doc, err := p.documents.GetByIDAndOwnerID(ctx, documentID, callerID)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, ErrNotFound
	}
	if doc.IngestionStatus != model.IngestionSuccess {
		return nil, ErrDocumentNotReady
	}

	userMessage := &model.Message{
		DocumentID: doc.ID,
		AuthorID:   callerID,
		Role:       model.RoleUser,
		Text:       text,
		CreatedAt:  p.now(),
	}
	if err := p.messages.Create(ctx, userMessage); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	p.invalidateHistory(ctx, doc.ID)

	return &AnswerStream{
		pipeline:    p,
		document:    doc,
		callerID:    callerID,
		question:    text,
		UserMessage: *userMessage,
	}, nil
}

func (p *QueryPipeline) invalidateHistory(ctx context.Context, documentID string) {
	if p.history == nil {
		return
	}
	if err := p.history.MarkDirty(ctx, documentID); err != nil {
		applog.Warn("mark history dirty failed", "document_id", documentID, "error", err)
	}
	if err := p.history.DeleteHistory(ctx, documentID); err != nil {
		applog.Warn("delete history cache failed", "document_id", documentID, "error", err)
	}
}

// AnswerStream yields the assistant answer fragment by fragment. The assistant turn
// is persisted once the completion ends cleanly, at most once per stream.
type AnswerStream struct {
	pipeline *QueryPipeline
	document *model.Document
	callerID string
	question string

	UserMessage model.Message

	started  bool
	finished bool
	err      error
	upstream *ai.Stream
	release  context.CancelFunc

	persistOnce sync.Once
	persisted   chan struct{}
}

func (s *AnswerStream) Next(ctx context.Context) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	if !s.started {
		s.started = true
		if err := s.open(ctx); err != nil {
			s.err = err
			return "", err
		}
	}

	fragment, err := s.upstream.Next(ctx)
	if err != nil {
		if errors.Is(err, io.EOF) {
			s.finished = true
			s.err = io.EOF
			return "", io.EOF
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		s.err = fmt.Errorf("%w: %v", ErrGeneration, err)
		return "", s.err
	}
	return fragment, nil
}

func (s *AnswerStream) open(ctx context.Context) error {
	p := s.pipeline

	chunks, err := p.index.Search(ctx, s.document.Namespace(), s.question, p.cfg.TopK)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRetrieval, err)
	}
	history, err := p.messages.ListRecent(ctx, s.document.ID, p.cfg.HistorySize)
	if err != nil {
		return fmt.Errorf("%w: load history: %v", ErrRetrieval, err)
	}
	prompt := BuildPrompt(history, chunks, s.question)

	completionCtx := ctx
	if p.cfg.PersistOnDisconnect {
		completionCtx, s.release = context.WithTimeout(context.WithoutCancel(ctx), p.cfg.DrainTimeout)
	}

	upstream, err := p.completer.Complete(completionCtx, prompt, ai.CompletionOptions{Temperature: answerTemperature})
	if err != nil {
		if s.release != nil {
			s.release()
		}
		return fmt.Errorf("%w: %v", ErrGeneration, err)
	}
	s.persisted = make(chan struct{})
	upstream.OnComplete(s.persistAnswer)
	s.upstream = upstream

	applog.Debug("answer stream opened",
		"document_id", s.document.ID,
		"chunks", len(chunks),
		"history", len(history),
	)
	return nil
}

func (s *AnswerStream) persistAnswer(full string) {
	s.persistOnce.Do(func() {
		defer close(s.persisted)

		p := s.pipeline
		ctx, cancel := context.WithTimeout(context.Background(), assistantWriteLimit)
		defer cancel()

		answer := &model.Message{
			DocumentID: s.document.ID,
			AuthorID:   s.callerID,
			Role:       model.RoleAssistant,
			Text:       full,
			CreatedAt:  p.now(),
		}
		if err := p.messages.Create(ctx, answer); err != nil {
			applog.Error("persist assistant message failed",
				"document_id", s.document.ID,
				"error", fmt.Errorf("%w: %v", ErrPersistence, err),
			)
			return
		}
		p.invalidateHistory(ctx, s.document.ID)
	})
}

// Close releases the completion. An unfinished completion is either cancelled or,
// with PersistOnDisconnect, drained in the background so its answer is still kept.
func (s *AnswerStream) Close() {
	if s.upstream == nil {
		return
	}
	if s.finished || s.err != nil || !s.pipeline.cfg.PersistOnDisconnect {
		s.upstream.Close()
		if s.release != nil {
			s.release()
		}
		return
	}

	upstream, release := s.upstream, s.release
	go func() {
		defer release()
		defer upstream.Close()
		if _, err := ai.Collect(context.Background(), upstream); err != nil {
			applog.Warn("drain answer stream failed", "document_id", s.document.ID, "error", err)
		}
	}()
}

// Persisted is closed after the assistant turn write was attempted. It is nil until
// the completion has been opened.
func (s *AnswerStream) Persisted() <-chan struct{} {
	return s.persisted
}
