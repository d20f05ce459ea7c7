package domain

import (
	"context"
	"errors"
	"fmt"
)

// DomainError represents a domain-specific error
type DomainError struct {
	Code      string
	Message   string
	Err       error
	Retryable bool
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a new DomainError
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// NewDomainErrorWithCause creates a new DomainError with an underlying cause
func NewDomainErrorWithCause(code, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Error codes
const (
	ErrCodeConfiguration = "CONFIGURATION_ERROR"
	ErrCodeValidation    = "VALIDATION_ERROR"
	ErrCodeExtraction    = "EXTRACTION_FAILURE"
	ErrCodeEmbedding     = "EMBEDDING_FAILURE"
	ErrCodeCompletion    = "COMPLETION_FAILURE"
	ErrCodeVectorStore   = "VECTOR_STORE_FAILURE"
	ErrCodeTimeout       = "TIMEOUT"
	ErrCodeRateLimited   = "RATE_LIMITED"
	ErrCodeForbidden     = "FORBIDDEN"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeInternalError = "INTERNAL_ERROR"
)

const (
	extractionMessagePrefix  = "Extraction failed: "
	configurationMessageBase = "service not configured"
)

// Validation errors
var (
	ErrEmptyText           = NewDomainError(ErrCodeValidation, "text cannot be empty")
	ErrMissingSourceKey    = NewDomainError(ErrCodeValidation, "source key is required")
	ErrNoChunks            = NewDomainError(ErrCodeValidation, "text produced no chunks")
	ErrMissingUserMessage  = NewDomainError(ErrCodeValidation, "message is required")
	ErrInvalidChunkOptions = NewDomainError(ErrCodeValidation, "invalid chunk size or overlap")
)

// ErrSourceNotFound is returned when no ingested source has the requested key.
var ErrSourceNotFound = NewDomainError(ErrCodeNotFound, "source not found")

// ErrScrapeDisabled is returned when ingestion by URL is requested outside development.
var ErrScrapeDisabled = NewDomainError(ErrCodeForbidden, "scraping is only available in development")

// InvalidInput returns a validation error with the given message.
func InvalidInput(message string) *DomainError {
	return NewDomainError(ErrCodeValidation, message)
}

// ConfigurationError reports a missing or invalid setting. It is fatal for the request.
func ConfigurationError(message string) *DomainError {
	if message == "" {
		message = configurationMessageBase
	}
	return NewDomainError(ErrCodeConfiguration, message)
}

// ExtractionFailure wraps a content extraction error. The public message carries
// a fixed prefix so callers can tell it apart from other internal failures.
func ExtractionFailure(message string, err error) *DomainError {
	return NewDomainErrorWithCause(ErrCodeExtraction, extractionMessagePrefix+message, err)
}

// EmbeddingFailure wraps an embedding provider error.
func EmbeddingFailure(err error) *DomainError {
	return classify(ErrCodeEmbedding, "embedding provider request failed", err)
}

// CompletionFailure wraps a completion provider error.
func CompletionFailure(err error) *DomainError {
	return classify(ErrCodeCompletion, "completion provider request failed", err)
}

// VectorStoreFailure wraps a vector store error.
func VectorStoreFailure(op string, err error) *DomainError {
	return classify(ErrCodeVectorStore, "vector store "+op+" failed", err)
}

// classify turns deadline expiry into a retryable timeout and leaves other
// errors under the given code.
func classify(code, message string, err error) *DomainError {
	var de *DomainError
	if errors.As(err, &de) {
		return de
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &DomainError{
			Code:      ErrCodeTimeout,
			Message:   message + ": timed out",
			Err:       err,
			Retryable: true,
		}
	}
	return NewDomainErrorWithCause(code, message, err)
}

// IsRetryable reports whether err is safe to retry.
func IsRetryable(err error) bool {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Retryable
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// HasCode reports whether err is a DomainError with the given code.
func HasCode(err error, code string) bool {
	var de *DomainError
	return errors.As(err, &de) && de.Code == code
}
