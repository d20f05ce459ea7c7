package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cloo-solutions/kbchat/internal/domain"
	"github.com/cloo-solutions/kbchat/internal/pagination"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockSourceRegistry struct {
	mock.Mock
}

func (m *MockSourceRegistry) List(ctx context.Context, limit int, after *pagination.Cursor) ([]*domain.IngestedSource, error) {
	args := m.Called(ctx, limit, after)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.IngestedSource), args.Error(1)
}

func (m *MockSourceRegistry) GetByKey(ctx context.Context, sourceKey string) (*domain.IngestedSource, error) {
	args := m.Called(ctx, sourceKey)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.IngestedSource), args.Error(1)
}

var noCursor = (*pagination.Cursor)(nil)

type MockDownloadURLSigner struct {
	mock.Mock
}

func (m *MockDownloadURLSigner) GenerateDownloadURL(ctx context.Context, key string) (string, error) {
	args := m.Called(ctx, key)
	return args.String(0), args.Error(1)
}

func TestSourcesHandler_List(t *testing.T) {
	ingestedAt := time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)
	registry := new(MockSourceRegistry)
	registry.On("List", mock.Anything, defaultSourcesLimit, noCursor).Return([]*domain.IngestedSource{
		{
			SourceKey:    "pdf_Handbook",
			Title:        "Handbook",
			DocumentType: domain.DocumentTypePDF,
			Location:     "handbook.pdf",
			ArchiveKey:   "pdf/Handbook/handbook.pdf",
			ChunkCount:   4,
			Status:       domain.IngestionStatusCompleted,
			IngestedAt:   ingestedAt,
		},
		{
			SourceKey:      "https://example.com",
			Title:          "Example",
			DocumentType:   domain.DocumentTypeURL,
			Location:       "https://example.com",
			ChunkCount:     2,
			DeletedVectors: 2,
			Status:         domain.IngestionStatusCompleted,
			IngestedAt:     ingestedAt,
		},
	}, nil)
	signer := new(MockDownloadURLSigner)
	signer.On("GenerateDownloadURL", mock.Anything, "pdf/Handbook/handbook.pdf").Return("https://s3.local/signed", nil)

	w := httptest.NewRecorder()
	NewSourcesHandler(registry, signer, nil).List(w, httptest.NewRequest(http.MethodGet, "/sources", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"data":{"sources":[
		{"sourceKey":"pdf_Handbook","title":"Handbook","documentType":"pdf","location":"handbook.pdf","chunkCount":4,"deletedVectors":0,"status":"completed","ingestedAt":"2025-03-04T05:06:07Z","downloadUrl":"https://s3.local/signed"},
		{"sourceKey":"https://example.com","title":"Example","documentType":"url","location":"https://example.com","chunkCount":2,"deletedVectors":2,"status":"completed","ingestedAt":"2025-03-04T05:06:07Z"}
	]}}`, w.Body.String())
	signer.AssertNumberOfCalls(t, "GenerateDownloadURL", 1)
}

func TestSourcesHandler_Limit(t *testing.T) {
	registry := new(MockSourceRegistry)
	registry.On("List", mock.Anything, 5, noCursor).Return([]*domain.IngestedSource{}, nil).Once()
	registry.On("List", mock.Anything, maxSourcesLimit, noCursor).Return([]*domain.IngestedSource{}, nil).Once()
	h := NewSourcesHandler(registry, nil, nil)

	w := httptest.NewRecorder()
	h.List(w, httptest.NewRequest(http.MethodGet, "/sources?limit=5", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"data":{"sources":[]}}`, w.Body.String())

	w = httptest.NewRecorder()
	h.List(w, httptest.NewRequest(http.MethodGet, "/sources?limit=5000", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	for _, bad := range []string{"0", "-1", "ten"} {
		w = httptest.NewRecorder()
		h.List(w, httptest.NewRequest(http.MethodGet, "/sources?limit="+bad, nil))
		assert.Equal(t, http.StatusBadRequest, w.Code, bad)
	}
	registry.AssertExpectations(t)
}

func TestSourcesHandler_Cursor(t *testing.T) {
	at := time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)
	page := []*domain.IngestedSource{
		{SourceKey: "b", DocumentType: domain.DocumentTypeText, Status: domain.IngestionStatusCompleted, IngestedAt: at.Add(time.Minute)},
		{SourceKey: "a", DocumentType: domain.DocumentTypeText, Status: domain.IngestionStatusCompleted, IngestedAt: at},
	}
	after := pagination.Cursor{Key: "c", At: at.Add(time.Hour)}

	registry := new(MockSourceRegistry)
	registry.On("List", mock.Anything, 2, mock.MatchedBy(func(c *pagination.Cursor) bool {
		return c != nil && c.Key == "c" && c.At.Equal(after.At)
	})).Return(page, nil)
	h := NewSourcesHandler(registry, nil, nil)

	w := httptest.NewRecorder()
	h.List(w, httptest.NewRequest(http.MethodGet, "/sources?limit=2&cursor="+after.Encode(), nil))
	assert.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data ListSourcesResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Data.Sources, 2)
	next, err := pagination.Decode(resp.Data.NextCursor)
	require.NoError(t, err)
	assert.Equal(t, "a", next.Key)
	assert.True(t, at.Equal(next.At))

	w = httptest.NewRecorder()
	h.List(w, httptest.NewRequest(http.MethodGet, "/sources?cursor=garbage!", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":"invalid cursor"}`, w.Body.String())
}

func TestSourcesHandler_SignerFailureOmitsURL(t *testing.T) {
	registry := new(MockSourceRegistry)
	registry.On("List", mock.Anything, defaultSourcesLimit, noCursor).Return([]*domain.IngestedSource{
		{SourceKey: "pdf_a", ArchiveKey: "pdf/a/a.pdf", DocumentType: domain.DocumentTypePDF, Status: domain.IngestionStatusCompleted},
	}, nil)
	signer := new(MockDownloadURLSigner)
	signer.On("GenerateDownloadURL", mock.Anything, "pdf/a/a.pdf").Return("", errors.New("no credentials"))

	w := httptest.NewRecorder()
	NewSourcesHandler(registry, signer, nil).List(w, httptest.NewRequest(http.MethodGet, "/sources", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "downloadUrl")
}

func TestSourcesHandler_ListError(t *testing.T) {
	registry := new(MockSourceRegistry)
	registry.On("List", mock.Anything, defaultSourcesLimit, noCursor).Return(nil, domain.ConfigurationError("source registry is not configured"))

	w := httptest.NewRecorder()
	NewSourcesHandler(registry, nil, nil).List(w, httptest.NewRequest(http.MethodGet, "/sources", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error":"source registry is not configured"}`, w.Body.String())
}

func TestSourcesHandler_Get(t *testing.T) {
	ingestedAt := time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)
	registry := new(MockSourceRegistry)
	registry.On("GetByKey", mock.Anything, "https://example.com/a").Return(&domain.IngestedSource{
		SourceKey:    "https://example.com/a",
		Title:        "Example",
		DocumentType: domain.DocumentTypeURL,
		Status:       domain.IngestionStatusFailed,
		IngestedAt:   ingestedAt,
	}, nil)
	registry.On("GetByKey", mock.Anything, "faq.md").Return(nil, domain.ErrSourceNotFound)

	r := chi.NewRouter()
	r.Get("/sources/*", NewSourcesHandler(registry, nil, nil).Get)

	tests := []struct {
		name   string
		path   string
		status int
		body   string
	}{
		{
			name:   "encoded url key",
			path:   "/sources/https%3A%2F%2Fexample.com%2Fa",
			status: http.StatusOK,
			body:   `{"data":{"sourceKey":"https://example.com/a","title":"Example","documentType":"url","chunkCount":0,"deletedVectors":0,"status":"failed","ingestedAt":"2025-03-04T05:06:07Z"}}`,
		},
		{
			name:   "unknown key",
			path:   "/sources/faq.md",
			status: http.StatusNotFound,
			body:   `{"error":"source not found"}`,
		},
		{
			name:   "empty key",
			path:   "/sources/",
			status: http.StatusBadRequest,
			body:   `{"error":"invalid source key"}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tt.path, nil))
			assert.Equal(t, tt.status, w.Code)
			assert.JSONEq(t, tt.body, w.Body.String())
		})
	}
	registry.AssertExpectations(t)
}

func TestHealth(t *testing.T) {
	w := httptest.NewRecorder()
	Health(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"data":{"status":"ok"}}`, w.Body.String())
}
