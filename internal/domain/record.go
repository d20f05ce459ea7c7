package domain

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// DocumentType identifies how a source entered the system.
type DocumentType string

const (
	DocumentTypeURL  DocumentType = "url"
	DocumentTypePDF  DocumentType = "pdf"
	DocumentTypeText DocumentType = "text"
)

// IsValid checks if the document type is valid
func (t DocumentType) IsValid() bool {
	switch t {
	case DocumentTypeURL, DocumentTypePDF, DocumentTypeText:
		return true
	default:
		return false
	}
}

// DefaultTitle is used when a stored record carries no title.
const DefaultTitle = "Untitled"

// Payload keys shared by every vector store backend.
const (
	PayloadSourceKey        = "source_key"
	PayloadTitle            = "title"
	PayloadContent          = "content"
	PayloadChunkIndex       = "chunk_index"
	PayloadTotalChunks      = "total_chunks"
	PayloadHasNext          = "has_next"
	PayloadHasPrevious      = "has_previous"
	PayloadDocumentType     = "document_type"
	PayloadTimestamp        = "timestamp"
	PayloadOriginalFileName = "original_file_name"
	PayloadFileSize         = "file_size"
)

// RecordMetadata is the fixed schema stored alongside every embedding.
type RecordMetadata struct {
	SourceKey        string
	Title            string
	Content          string
	ChunkIndex       int
	TotalChunks      int
	HasNext          bool
	HasPrevious      bool
	DocumentType     DocumentType
	Timestamp        time.Time
	OriginalFileName string
	FileSize         int64
}

// VectorRecord is the unit persisted in the vector store.
type VectorRecord struct {
	ID        string
	Embedding []float32
	Metadata  RecordMetadata
}

var unsafeIDChars = regexp.MustCompile(`[^a-zA-Z0-9]`)

// SanitizeKey replaces every non-alphanumeric character with an underscore.
func SanitizeKey(key string) string {
	return unsafeIDChars.ReplaceAllString(key, "_")
}

// RecordID derives the stable identifier of a chunk record. Re-ingesting the
// same source key yields the same ids, and the hash suffix keeps keys that
// sanitize to the same string apart.
func RecordID(sourceKey string, chunkIndex int) string {
	sum := sha1.Sum([]byte(sourceKey))
	return fmt.Sprintf("%s_%s_chunk_%d", SanitizeKey(sourceKey), hex.EncodeToString(sum[:])[:8], chunkIndex)
}

// Payload flattens the metadata into the key/value form stored by backends.
func (m RecordMetadata) Payload() map[string]any {
	p := map[string]any{
		PayloadSourceKey:    m.SourceKey,
		PayloadTitle:        m.Title,
		PayloadContent:      m.Content,
		PayloadChunkIndex:   int64(m.ChunkIndex),
		PayloadTotalChunks:  int64(m.TotalChunks),
		PayloadHasNext:      m.HasNext,
		PayloadHasPrevious:  m.HasPrevious,
		PayloadDocumentType: string(m.DocumentType),
		PayloadTimestamp:    m.Timestamp.UTC().Format(time.RFC3339),
	}
	if m.OriginalFileName != "" {
		p[PayloadOriginalFileName] = m.OriginalFileName
	}
	if m.FileSize > 0 {
		p[PayloadFileSize] = m.FileSize
	}
	return p
}

// StringPayload renders the payload with every value as a string, for
// backends whose metadata is string-only.
func (m RecordMetadata) StringPayload() map[string]string {
	out := make(map[string]string)
	for k, v := range m.Payload() {
		out[k] = fmt.Sprint(v)
	}
	return out
}

// MetadataFromPayload narrows an untyped backend payload into RecordMetadata.
// Records without a source key or content are rejected.
func MetadataFromPayload(payload map[string]any) (RecordMetadata, error) {
	var m RecordMetadata
	if payload == nil {
		return m, fmt.Errorf("metadata: empty payload")
	}

	var ok bool
	if m.SourceKey, ok = stringField(payload, PayloadSourceKey); !ok || m.SourceKey == "" {
		return m, fmt.Errorf("metadata: missing %s", PayloadSourceKey)
	}
	if m.Content, ok = stringField(payload, PayloadContent); !ok || m.Content == "" {
		return m, fmt.Errorf("metadata: missing %s", PayloadContent)
	}

	m.Title, _ = stringField(payload, PayloadTitle)
	if m.Title == "" {
		m.Title = DefaultTitle
	}

	var err error
	if m.ChunkIndex, err = intField(payload, PayloadChunkIndex); err != nil {
		return m, err
	}
	if m.TotalChunks, err = intField(payload, PayloadTotalChunks); err != nil {
		return m, err
	}
	if m.HasNext, err = boolField(payload, PayloadHasNext); err != nil {
		return m, err
	}
	if m.HasPrevious, err = boolField(payload, PayloadHasPrevious); err != nil {
		return m, err
	}

	docType, _ := stringField(payload, PayloadDocumentType)
	m.DocumentType = DocumentType(docType)
	if m.DocumentType != "" && !m.DocumentType.IsValid() {
		return m, fmt.Errorf("metadata: invalid %s %q", PayloadDocumentType, docType)
	}

	if ts, ok := stringField(payload, PayloadTimestamp); ok && ts != "" {
		parsed, err := time.Parse(time.RFC3339, ts)
		if err != nil {
			return m, fmt.Errorf("metadata: invalid %s: %w", PayloadTimestamp, err)
		}
		m.Timestamp = parsed.UTC()
	}

	m.OriginalFileName, _ = stringField(payload, PayloadOriginalFileName)
	size, err := intField(payload, PayloadFileSize)
	if err != nil {
		return m, err
	}
	m.FileSize = int64(size)

	return m, nil
}

func stringField(payload map[string]any, key string) (string, bool) {
	v, ok := payload[key]
	if !ok || v == nil {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func intField(payload map[string]any, key string) (int, error) {
	v, ok := payload[key]
	if !ok || v == nil {
		return 0, nil
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int32:
		return int(n), nil
	case int64:
		return int(n), nil
	case float32:
		return int(n), nil
	case float64:
		return int(n), nil
	case string:
		if n == "" {
			return 0, nil
		}
		parsed, err := strconv.Atoi(n)
		if err != nil {
			return 0, fmt.Errorf("metadata: invalid %s %q", key, n)
		}
		return parsed, nil
	default:
		return 0, fmt.Errorf("metadata: unexpected type %T for %s", v, key)
	}
}

func boolField(payload map[string]any, key string) (bool, error) {
	v, ok := payload[key]
	if !ok || v == nil {
		return false, nil
	}
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		if b == "" {
			return false, nil
		}
		parsed, err := strconv.ParseBool(b)
		if err != nil {
			return false, fmt.Errorf("metadata: invalid %s %q", key, b)
		}
		return parsed, nil
	default:
		return false, fmt.Errorf("metadata: unexpected type %T for %s", v, key)
	}
}

// IngestionStatus is the outcome recorded for an ingested source.
type IngestionStatus string

const (
	IngestionStatusCompleted IngestionStatus = "completed"
	IngestionStatusFailed    IngestionStatus = "failed"
)

// IngestedSource is the registry entry for one ingested source key.
type IngestedSource struct {
	SourceKey      string
	Title          string
	DocumentType   DocumentType
	Location       string
	ArchiveKey     string
	ChunkCount     int
	DeletedVectors int
	Status         IngestionStatus
	IngestedAt     time.Time
}
