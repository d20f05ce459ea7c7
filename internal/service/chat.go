package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cloo-solutions/kbchat/internal/domain"
	"github.com/cloo-solutions/kbchat/internal/logging"
	"github.com/cloo-solutions/kbchat/internal/telemetry"
	"go.uber.org/zap"
)

const systemPromptTemplate = `You are a helpful assistant answering questions about the documents in a knowledge base.
Answer using only the context below. If the context does not contain the answer, say that you could not find it in the knowledge base instead of guessing.
Keep answers concise and mention the source title when it helps.

Context:
{{context}}`

// Completer streams a chat completion, calling onDelta for every content delta.
type Completer interface {
	StreamCompletion(ctx context.Context, messages []domain.ChatMessage, onDelta func(string) error) error
}

// Retriever assembles context for a question.
type Retriever interface {
	Retrieve(ctx context.Context, question string, opts RetrievalOptions) (*RetrievalResult, error)
}

// DefaultCompletionTimeout bounds a whole streamed answer.
const DefaultCompletionTimeout = 2 * time.Minute

// ChatOutcome describes how an answer was grounded.
type ChatOutcome struct {
	Retrieval *RetrievalResult
}

// ChatService answers conversations grounded on retrieved context.
type ChatService struct {
	retriever         Retriever
	completer         Completer
	logger            *zap.Logger
	completionTimeout time.Duration
}

// NewChatService creates a new ChatService instance
func NewChatService(retriever Retriever, completer Completer, logger *zap.Logger) *ChatService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChatService{
		retriever:         retriever,
		completer:         completer,
		logger:            logger,
		completionTimeout: DefaultCompletionTimeout,
	}
}

// WithCompletionTimeout sets the deadline of a streamed answer. Non-positive
// values keep the default.
func (s *ChatService) WithCompletionTimeout(d time.Duration) *ChatService {
	if d > 0 {
		s.completionTimeout = d
	}
	return s
}

// BuildSystemPrompt embeds the retrieved context in the assistant instructions.
func BuildSystemPrompt(contextText string) string {
	return strings.Replace(systemPromptTemplate, "{{context}}", contextText, 1)
}

// Answer retrieves context for the last user message and streams the model
// reply through onDelta. Errors before the first delta leave onDelta uncalled.
func (s *ChatService) Answer(ctx context.Context, messages []domain.ChatMessage, onDelta func(string) error) (*ChatOutcome, error) {
	ctx, span := telemetry.StartSpan(ctx, "ChatService.Answer", telemetry.SpanAttributes{
		Operation: "chat",
	})
	defer span.End()

	for _, m := range messages {
		if !m.Role.IsValid() {
			return nil, domain.InvalidInput("invalid message role")
		}
	}
	question, ok := domain.LastUserMessage(messages)
	if !ok {
		return nil, domain.ErrMissingUserMessage
	}

	span.SetStage("retrieve")
	retrieval, err := s.retriever.Retrieve(ctx, question, RetrievalOptions{})
	if err != nil {
		span.SetError(err)
		return nil, err
	}

	conversation := make([]domain.ChatMessage, 0, len(messages)+1)
	conversation = append(conversation, domain.ChatMessage{
		Role:    domain.ChatRoleSystem,
		Content: BuildSystemPrompt(retrieval.ContextString()),
	})
	for _, m := range messages {
		if m.Role == domain.ChatRoleSystem {
			continue
		}
		conversation = append(conversation, m)
	}

	span.SetStage("complete")
	completeCtx, cancel := context.WithTimeout(ctx, s.completionTimeout)
	defer cancel()
	if err := s.completer.StreamCompletion(completeCtx, conversation, onDelta); err != nil {
		if errors.Is(completeCtx.Err(), context.DeadlineExceeded) {
			err = domain.CompletionFailure(context.DeadlineExceeded)
		}
		span.SetError(err)
		return nil, err
	}

	logging.For(ctx, s.logger).Info("chat answered",
		zap.Int("messages", len(messages)),
		zap.Int("context_chunks", len(retrieval.Matches)),
		zap.Bool("fallback", retrieval.Fallback),
	)
	return &ChatOutcome{Retrieval: retrieval}, nil
}
