package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/cloo-solutions/kbchat/internal/domain"
	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

const (
	// DefaultEmbeddingModel is the model used for generating embeddings
	DefaultEmbeddingModel = openai.SmallEmbedding3
	// DefaultEmbeddingDimensions is the expected dimension of embeddings
	DefaultEmbeddingDimensions = 1536
	// DefaultCompletionModel is the model used for chat answers
	DefaultCompletionModel = openai.GPT4oMini
)

// ErrWrongDimensions is returned when embedding has wrong dimensions
var ErrWrongDimensions = errors.New("embedding has wrong dimensions")

// EmbeddingAPI defines the interface for embedding generation
type EmbeddingAPI interface {
	CreateEmbeddings(ctx context.Context, text string) ([]float32, error)
}

// CompletionAPI defines the interface for streamed chat completions
type CompletionAPI interface {
	StreamChat(ctx context.Context, messages []openai.ChatCompletionMessage, onDelta func(string) error) error
}

// Client wraps the OpenAI API client
type Client struct {
	api         EmbeddingAPI
	completions CompletionAPI
	dimensions  int
	limiter     *rate.Limiter
}

type OpenAIAdapter struct {
	client          *openai.Client
	model           openai.EmbeddingModel
	dimensions      int
	completionModel string
}

func NewOpenAIAdapter(cfg Config) *OpenAIAdapter {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	model := cfg.EmbeddingModel
	if model == "" {
		model = DefaultEmbeddingModel
	}
	completionModel := cfg.CompletionModel
	if completionModel == "" {
		completionModel = DefaultCompletionModel
	}

	return &OpenAIAdapter{
		client:          openai.NewClientWithConfig(clientCfg),
		model:           model,
		dimensions:      cfg.EmbeddingDimensions,
		completionModel: completionModel,
	}
}

// CreateEmbeddings calls the OpenAI API to create embeddings
func (a *OpenAIAdapter) CreateEmbeddings(ctx context.Context, text string) ([]float32, error) {
	req := openai.EmbeddingRequest{
		Input: []string{text},
		Model: a.model,
	}
	// Only the text-embedding-3 family accepts a dimensions override.
	if strings.HasPrefix(string(a.model), "text-embedding-3") && a.dimensions > 0 {
		req.Dimensions = a.dimensions
	}

	resp, err := a.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, err
	}

	if len(resp.Data) == 0 {
		return nil, errors.New("no embedding data returned")
	}

	return resp.Data[0].Embedding, nil
}

// StreamChat streams a chat completion, calling onDelta for every content
// fragment in arrival order.
func (a *OpenAIAdapter) StreamChat(ctx context.Context, messages []openai.ChatCompletionMessage, onDelta func(string) error) error {
	stream, err := a.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:    a.completionModel,
		Messages: messages,
		Stream:   true,
	})
	if err != nil {
		return err
	}
	defer stream.Close()

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		for _, choice := range resp.Choices {
			if choice.Delta.Content == "" {
				continue
			}
			if err := onDelta(choice.Delta.Content); err != nil {
				return err
			}
		}
	}
}

type Config struct {
	APIKey              string
	BaseURL             string
	EmbeddingModel      openai.EmbeddingModel
	EmbeddingDimensions int
	CompletionModel     string
	// RequestsPerSecond paces outbound calls. Zero disables pacing.
	RequestsPerSecond float64
}

// NewClient creates a new OpenAI client using defaults.
func NewClient(apiKey string) *Client {
	return NewClientWithConfig(Config{APIKey: apiKey})
}

// NewClientWithConfig creates a new OpenAI client with explicit configuration.
func NewClientWithConfig(cfg Config) *Client {
	if cfg.EmbeddingDimensions <= 0 {
		cfg.EmbeddingDimensions = DefaultEmbeddingDimensions
	}
	adapter := NewOpenAIAdapter(cfg)
	return &Client{
		api:         adapter,
		completions: adapter,
		dimensions:  cfg.EmbeddingDimensions,
		limiter:     newLimiter(cfg.RequestsPerSecond),
	}
}

func newLimiter(rps float64) *rate.Limiter {
	if rps <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	burst := int(2 * rps)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

// Dimensions returns the embedding size this client enforces.
func (c *Client) Dimensions() int {
	return c.dimensions
}

// GenerateEmbedding generates an embedding for the given text
func (c *Client) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, domain.ErrEmptyText
	}

	if err := c.wait(ctx); err != nil {
		return nil, domain.EmbeddingFailure(fmt.Errorf("waiting for provider rate limit: %w", err))
	}

	embedding, err := c.api.CreateEmbeddings(ctx, text)
	if err != nil {
		return nil, domain.EmbeddingFailure(fmt.Errorf("failed to create embedding: %w", err))
	}

	expected := c.dimensions
	if expected <= 0 {
		expected = DefaultEmbeddingDimensions
	}
	if len(embedding) != expected {
		return nil, domain.EmbeddingFailure(fmt.Errorf("%w: got %d, expected %d", ErrWrongDimensions, len(embedding), expected))
	}

	return embedding, nil
}

// StreamCompletion streams an answer for messages. onDelta is called once per
// content delta; an error from onDelta stops the stream and is returned as is.
func (c *Client) StreamCompletion(ctx context.Context, messages []domain.ChatMessage, onDelta func(string) error) error {
	if len(messages) == 0 {
		return domain.ErrMissingUserMessage
	}
	if c.completions == nil {
		return domain.ConfigurationError("completion provider is not configured")
	}

	if err := c.wait(ctx); err != nil {
		return domain.CompletionFailure(fmt.Errorf("waiting for provider rate limit: %w", err))
	}

	converted := make([]openai.ChatCompletionMessage, len(messages))
	for i, m := range messages {
		converted[i] = openai.ChatCompletionMessage{Role: string(m.Role), Content: m.Content}
	}

	var sinkErr error
	err := c.completions.StreamChat(ctx, converted, func(delta string) error {
		if err := onDelta(delta); err != nil {
			sinkErr = err
			return err
		}
		return nil
	})
	if sinkErr != nil {
		return sinkErr
	}
	if err != nil {
		return domain.CompletionFailure(fmt.Errorf("failed to stream completion: %w", err))
	}
	return nil
}
