package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/cloo-solutions/kbchat/internal/domain"
	"github.com/cloo-solutions/kbchat/internal/logging"
	"github.com/cloo-solutions/kbchat/internal/telemetry"
	"go.uber.org/zap"
)

const internalErrorMessage = "internal server error"

// SuccessResponse wraps successful API responses
type SuccessResponse struct {
	Data interface{} `json:"data"`
}

// ErrorResponse represents an error API response
type ErrorResponse struct {
	Error string `json:"error"`
}

// JSON writes a JSON response with the given status code
func JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// DecodeJSON decodes the request body into dst. On failure it writes the
// error response, 413 when the body cap was hit and 400 otherwise, and
// returns false.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil {
		return true
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		Error(w, http.StatusRequestEntityTooLarge, "request body too large")
	} else {
		Error(w, http.StatusBadRequest, "invalid request body")
	}
	return false
}

// Success writes a successful JSON response
func Success(w http.ResponseWriter, status int, data interface{}) {
	JSON(w, status, SuccessResponse{Data: data})
}

// Error writes an error JSON response
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, ErrorResponse{Error: message})
}

// DomainErrorToHTTP maps domain errors to HTTP status codes
func DomainErrorToHTTP(err error) int {
	if err == nil {
		return http.StatusOK
	}

	var domainErr *domain.DomainError
	if !errors.As(err, &domainErr) {
		return http.StatusInternalServerError
	}

	switch domainErr.Code {
	case domain.ErrCodeValidation:
		return http.StatusBadRequest
	case domain.ErrCodeNotFound:
		return http.StatusNotFound
	case domain.ErrCodeForbidden:
		return http.StatusForbidden
	case domain.ErrCodeRateLimited:
		return http.StatusTooManyRequests
	case domain.ErrCodeEmbedding, domain.ErrCodeCompletion, domain.ErrCodeVectorStore:
		return http.StatusBadGateway
	case domain.ErrCodeTimeout:
		return http.StatusGatewayTimeout
	case domain.ErrCodeConfiguration, domain.ErrCodeExtraction, domain.ErrCodeInternalError:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage is the text a client may see for err. Causes wrapped inside
// a DomainError never leave the process.
func PublicMessage(err error) string {
	var domainErr *domain.DomainError
	if errors.As(err, &domainErr) && domainErr.Message != "" {
		return domainErr.Message
	}
	return internalErrorMessage
}

// HandleError logs err with the request fields and writes the matching
// error response. Server-side failures are also reported to Sentry.
func HandleError(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error, fields ...zap.Field) {
	status := DomainErrorToHTTP(err)

	log := logging.For(r.Context(), logger).With(fields...)
	if status >= http.StatusInternalServerError {
		log.Error("request failed", zap.Int("status", status), zap.Error(err))
		telemetry.CaptureError(r.Context(), err)
	} else {
		log.Info("request rejected", zap.Int("status", status), zap.Error(err))
	}

	Error(w, status, PublicMessage(err))
}
