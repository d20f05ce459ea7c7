package handlers

import (
	"context"
	"net/http"

	"github.com/cloo-solutions/kbchat/internal/api"
	"github.com/cloo-solutions/kbchat/internal/domain"
	"github.com/cloo-solutions/kbchat/internal/logging"
	"github.com/cloo-solutions/kbchat/internal/service"
	"go.uber.org/zap"
)

type ChatService interface {
	Answer(ctx context.Context, messages []domain.ChatMessage, onDelta func(string) error) (*service.ChatOutcome, error)
}

type ChatHandler struct {
	svc    ChatService
	logger *zap.Logger
}

func NewChatHandler(svc ChatService, logger *zap.Logger) *ChatHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChatHandler{svc: svc, logger: logger}
}

// ChatRequest accepts either a full conversation or a single message with
// optional history.
type ChatRequest struct {
	Messages []domain.ChatMessage `json:"messages"`
	Message  string               `json:"message"`
	History  []domain.ChatMessage `json:"history"`
}

func (req ChatRequest) conversation() []domain.ChatMessage {
	if len(req.Messages) > 0 {
		return req.Messages
	}
	msgs := make([]domain.ChatMessage, 0, len(req.History)+1)
	msgs = append(msgs, req.History...)
	if req.Message != "" {
		msgs = append(msgs, domain.ChatMessage{Role: domain.ChatRoleUser, Content: req.Message})
	}
	return msgs
}

// Chat streams the grounded answer as plain text. Nothing is written until
// the first delta arrives, so failures before that get a JSON error.
func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if !api.DecodeJSON(w, r, &req) {
		return
	}

	flusher, _ := w.(http.Flusher)
	started := false
	onDelta := func(delta string) error {
		if !started {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.Header().Set("Cache-Control", "no-cache")
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.WriteHeader(http.StatusOK)
			started = true
		}
		if _, err := w.Write([]byte(delta)); err != nil {
			return err
		}
		if flusher != nil {
			flusher.Flush()
		}
		return nil
	}

	_, err := h.svc.Answer(r.Context(), req.conversation(), onDelta)
	if err != nil {
		if started {
			logging.For(r.Context(), h.logger).Error("chat stream interrupted", zap.String("stage", "complete"), zap.Error(err))
			return
		}
		api.HandleError(w, r, h.logger, err, zap.String("stage", "chat"))
		return
	}

	if !started {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
	}
}
