package handlers

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cloo-solutions/kbchat/internal/api"
	"github.com/cloo-solutions/kbchat/internal/domain"
	"github.com/cloo-solutions/kbchat/internal/logging"
	"github.com/cloo-solutions/kbchat/internal/pagination"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const (
	defaultSourcesLimit = 50
	maxSourcesLimit     = 200
)

// SourceRegistry reads the registry of ingested sources.
type SourceRegistry interface {
	List(ctx context.Context, limit int, after *pagination.Cursor) ([]*domain.IngestedSource, error)
	GetByKey(ctx context.Context, sourceKey string) (*domain.IngestedSource, error)
}

// DownloadURLSigner presigns links to archived originals.
type DownloadURLSigner interface {
	GenerateDownloadURL(ctx context.Context, key string) (string, error)
}

type SourcesHandler struct {
	registry SourceRegistry
	signer DownloadURLSigner
	logger *zap.Logger
}

// NewSourcesHandler creates the registry endpoint. signer may be nil.
func NewSourcesHandler(registry SourceRegistry, signer DownloadURLSigner, logger *zap.Logger) *SourcesHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SourcesHandler{registry: registry, signer: signer, logger: logger}
}

type SourceResponse struct {
	SourceKey      string `json:"sourceKey"`
	Title          string `json:"title"`
	DocumentType   string `json:"documentType"`
	Location       string `json:"location,omitempty"`
	ChunkCount     int    `json:"chunkCount"`
	DeletedVectors int    `json:"deletedVectors"`
	Status         string `json:"status"`
	IngestedAt     string `json:"ingestedAt"`
	DownloadURL    string `json:"downloadUrl,omitempty"`
}

type ListSourcesResponse struct {
	Sources    []*SourceResponse `json:"sources"`
	NextCursor string            `json:"nextCursor,omitempty"`
}

// List returns a page of ingested sources, most recent first. Pass the
// returned nextCursor as ?cursor= to fetch the following page.
func (h *SourcesHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := defaultSourcesLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			api.Error(w, http.StatusBadRequest, "invalid limit")
			return
		}
		if n > maxSourcesLimit {
			n = maxSourcesLimit
		}
		limit = n
	}

	after, err := pagination.Decode(r.URL.Query().Get("cursor"))
	if err != nil {
		api.Error(w, http.StatusBadRequest, "invalid cursor")
		return
	}

	sources, err := h.registry.List(r.Context(), limit, after)
	if err != nil {
		api.HandleError(w, r, h.logger, err, zap.String("stage", "list_sources"))
		return
	}

	resp := ListSourcesResponse{
		Sources: make([]*SourceResponse, 0, len(sources)),
		NextCursor: pagination.Next(sources, limit,
			func(s *domain.IngestedSource) string { return s.SourceKey },
			func(s *domain.IngestedSource) time.Time { return s.IngestedAt },
		),
	}
	for _, src := range sources {
		resp.Sources = append(resp.Sources, h.toResponse(r.Context(), src))
	}

	api.Success(w, http.StatusOK, resp)
}

// Get returns the registry entry of one source. Source keys are often URLs,
// so the key is the percent-encoded remainder of the path.
func (h *SourcesHandler) Get(w http.ResponseWriter, r *http.Request) {
	key, err := url.PathUnescape(chi.URLParam(r, "*"))
	if err != nil || key == "" {
		api.Error(w, http.StatusBadRequest, "invalid source key")
		return
	}

	src, err := h.registry.GetByKey(r.Context(), key)
	if err != nil {
		api.HandleError(w, r, h.logger, err, zap.String("stage", "get_source"), zap.String("source_key", key))
		return
	}

	api.Success(w, http.StatusOK, h.toResponse(r.Context(), src))
}

func (h *SourcesHandler) toResponse(ctx context.Context, src *domain.IngestedSource) *SourceResponse {
	item := &SourceResponse{
		SourceKey:      src.SourceKey,
		Title:          src.Title,
		DocumentType:   string(src.DocumentType),
		Location:       src.Location,
		ChunkCount:     src.ChunkCount,
		DeletedVectors: src.DeletedVectors,
		Status:         string(src.Status),
		IngestedAt:     src.IngestedAt.UTC().Format(time.RFC3339),
	}
	if src.ArchiveKey != "" && h.signer != nil {
		link, err := h.signer.GenerateDownloadURL(ctx, src.ArchiveKey)
		if err != nil {
			logging.For(ctx, h.logger).Warn("failed to sign download url",
				zap.String("source_key", src.SourceKey),
				zap.Error(err),
			)
		} else {
			item.DownloadURL = link
		}
	}
	return item
}
