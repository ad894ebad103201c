package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
)

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type CompletionOptions struct {
	Temperature float64
}

// Completer opens a streaming completion for an ordered list of chat messages.
type Completer interface {
	Complete(ctx context.Context, messages []ChatMessage, opts CompletionOptions) (*Stream, error)
}

type Config struct {
	Provider       string
	BaseURL        string
	APIKey         string
	Model          string
	EmbeddingModel string
	EmbeddingBatch int
}

// languageModel is satisfied by both the openai and ollama langchaingo clients.
type languageModel interface {
	llms.Model
	CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error)
}

// Client serves chat completions and embeddings through langchaingo.
type Client struct {
	chat     llms.Model
	embedder embeddings.Embedder
	model    string
}

func NewClient(cfg Config) (*Client, error) {
	chat, err := newLanguageModel(cfg, cfg.Model)
	if err != nil {
		return nil, fmt.Errorf("init chat model failed: %w", err)
	}
	embedModel, err := newLanguageModel(cfg, cfg.EmbeddingModel)
	if err != nil {
		return nil, fmt.Errorf("init embedding model failed: %w", err)
	}

	batch := cfg.EmbeddingBatch
	if batch <= 0 {
		batch = 10
	}
	embedder, err := embeddings.NewEmbedder(embedModel,
		embeddings.WithBatchSize(batch),
		embeddings.WithStripNewLines(true),
	)
	if err != nil {
		return nil, fmt.Errorf("init embedder failed: %w", err)
	}

	return &Client{chat: chat, embedder: embedder, model: cfg.Model}, nil
}

func newLanguageModel(cfg Config, model string) (languageModel, error) {
	switch strings.ToLower(cfg.Provider) {
	case ProviderOllama:
		opts := []ollama.Option{ollama.WithModel(model)}
		if cfg.BaseURL != "" {
			opts = append(opts, ollama.WithServerURL(cfg.BaseURL))
		}
		return ollama.New(opts...)
	case ProviderOpenAI, "":
		opts := []openai.Option{
			openai.WithToken(cfg.APIKey),
			openai.WithModel(model),
			openai.WithEmbeddingModel(model),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		return openai.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", cfg.Provider)
	}
}

func (c *Client) Complete(ctx context.Context, messages []ChatMessage, opts CompletionOptions) (*Stream, error) {
	content := toMessageContent(messages)
	return NewStream(ctx, func(ctx context.Context, emit func(string) error) error {
		_, err := c.chat.GenerateContent(ctx, content,
			llms.WithTemperature(opts.Temperature),
			llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
				return emit(string(chunk))
			}),
		)
		if err != nil {
			return fmt.Errorf("llm stream request failed: %w", err)
		}
		return nil
	})
}

func (c *Client) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("embedding input is empty")
	}
	vector, err := c.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query failed: %w", err)
	}
	return vector, nil
}

func (c *Client) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vectors, err := c.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed documents failed: %w", err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: got %d want %d", len(vectors), len(texts))
	}
	return vectors, nil
}

func toMessageContent(messages []ChatMessage) []llms.MessageContent {
	content := make([]llms.MessageContent, 0, len(messages))
	for _, m := range messages {
		role := llms.ChatMessageTypeHuman
		switch m.Role {
		case RoleSystem:
			role = llms.ChatMessageTypeSystem
		case RoleAssistant:
			role = llms.ChatMessageTypeAI
		}
		content = append(content, llms.TextParts(role, m.Content))
	}
	return content
}
