package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/cloo-solutions/kbchat/internal/domain"
	"github.com/cloo-solutions/kbchat/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()

	JSON(w, http.StatusOK, map[string]string{"key": "value"})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var result map[string]string
	err := json.Unmarshal(w.Body.Bytes(), &result)
	require.NoError(t, err)
	assert.Equal(t, "value", result["key"])
}

func TestJSON_NilData(t *testing.T) {
	w := httptest.NewRecorder()

	JSON(w, http.StatusNoContent, nil)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Empty(t, w.Body.String())
}

func TestSuccess(t *testing.T) {
	w := httptest.NewRecorder()

	Success(w, http.StatusCreated, map[string]string{"id": "123"})

	assert.Equal(t, http.StatusCreated, w.Code)

	var result SuccessResponse
	err := json.Unmarshal(w.Body.Bytes(), &result)
	require.NoError(t, err)

	data, ok := result.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "123", data["id"])
}

func TestError(t *testing.T) {
	w := httptest.NewRecorder()

	Error(w, http.StatusBadRequest, "invalid input")

	assert.Equal(t, http.StatusBadRequest, w.Code)

	var result ErrorResponse
	err := json.Unmarshal(w.Body.Bytes(), &result)
	require.NoError(t, err)
	assert.Equal(t, "invalid input", result.Error)
}

func TestDomainErrorToHTTP(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{"nil error", nil, http.StatusOK},
		{"validation error", domain.InvalidInput("invalid"), http.StatusBadRequest},
		{"not found error", domain.ErrSourceNotFound, http.StatusNotFound},
		{"forbidden error", domain.ErrScrapeDisabled, http.StatusForbidden},
		{"rate limited", domain.NewDomainError(domain.ErrCodeRateLimited, "slow down"), http.StatusTooManyRequests},
		{"configuration error", domain.ConfigurationError(""), http.StatusInternalServerError},
		{"extraction failure", domain.ExtractionFailure("bad page", nil), http.StatusInternalServerError},
		{"embedding failure", domain.EmbeddingFailure(assert.AnError), http.StatusBadGateway},
		{"completion failure", domain.CompletionFailure(assert.AnError), http.StatusBadGateway},
		{"vector store failure", domain.VectorStoreFailure("query", assert.AnError), http.StatusBadGateway},
		{"timeout", domain.EmbeddingFailure(context.DeadlineExceeded), http.StatusGatewayTimeout},
		{"wrapped domain error", fmt.Errorf("ingest: %w", domain.ErrEmptyText), http.StatusBadRequest},
		{"internal error", domain.NewDomainError(domain.ErrCodeInternalError, "internal"), http.StatusInternalServerError},
		{"unknown domain error", domain.NewDomainError("UNKNOWN", "unknown"), http.StatusInternalServerError},
		{"non-domain error", assert.AnError, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := DomainErrorToHTTP(tt.err)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestHandleError(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/sources", nil)

	HandleError(w, r, nil, domain.ErrSourceNotFound)

	assert.Equal(t, http.StatusNotFound, w.Code)

	var result ErrorResponse
	err := json.Unmarshal(w.Body.Bytes(), &result)
	require.NoError(t, err)
	assert.Equal(t, "source not found", result.Error)
}

func TestHandleError_HidesCause(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/chat", nil)
	r = r.WithContext(logging.WithRequestID(r.Context(), "req-1"))

	cause := errors.New("POST https://api.openai.com/v1/embeddings: 401 invalid key sk-secret")
	HandleError(w, r, zap.New(core), domain.EmbeddingFailure(cause), zap.String("stage", "embed"))

	assert.Equal(t, http.StatusBadGateway, w.Code)
	var result ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, "embedding provider request failed", result.Error)
	assert.NotContains(t, w.Body.String(), "sk-secret")

	entries := logs.FilterMessage("request failed").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "req-1", fields["request_id"])
	assert.Equal(t, "embed", fields["stage"])
	assert.Contains(t, fields["error"], "sk-secret")
}

func TestHandleError_NonDomainError(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)

	HandleError(w, r, zap.NewNop(), errors.New("pq: connection refused"))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error":"internal server error"}`, w.Body.String())
}

func TestDecodeJSON(t *testing.T) {
	var dst struct {
		URL string `json:"url"`
	}

	w := httptest.NewRecorder()
	ok := DecodeJSON(w, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"url":"https://example.com"}`)), &dst)
	assert.True(t, ok)
	assert.Equal(t, "https://example.com", dst.URL)

	w = httptest.NewRecorder()
	ok = DecodeJSON(w, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"url":`)), &dst)
	assert.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":"invalid request body"}`, w.Body.String())

	w = httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"url":"https://example.com/a/long/path"}`))
	r.Body = http.MaxBytesReader(w, r.Body, 10)
	ok = DecodeJSON(w, r, &dst)
	assert.False(t, ok)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}
