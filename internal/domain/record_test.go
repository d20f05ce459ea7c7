package domain

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordID_Stable(t *testing.T) {
	a := RecordID("https://example.com/about", 3)
	b := RecordID("https://example.com/about", 3)

	assert.Equal(t, a, b)
	assert.True(t, strings.HasPrefix(a, "https___example_com_about_"))
	assert.True(t, strings.HasSuffix(a, "_chunk_3"))
}

func TestRecordID_DistinguishesCollidingKeys(t *testing.T) {
	// both sanitize to "a_b"
	assert.NotEqual(t, RecordID("a/b", 0), RecordID("a_b", 0))
}

func TestSanitizeKey(t *testing.T) {
	assert.Equal(t, "pdf_My_Resume_2024", SanitizeKey("pdf_My Resume-2024"))
	assert.Equal(t, "", SanitizeKey(""))
}

func TestMetadataFromPayload_RoundTripThroughPayload(t *testing.T) {
	ts := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	in := RecordMetadata{
		SourceKey:        "pdf_Resume",
		Title:            "Resume",
		Content:          "Go engineer",
		ChunkIndex:       1,
		TotalChunks:      3,
		HasNext:          true,
		HasPrevious:      true,
		DocumentType:     DocumentTypePDF,
		Timestamp:        ts,
		OriginalFileName: "resume.pdf",
		FileSize:         2048,
	}

	out, err := MetadataFromPayload(in.Payload())
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestMetadataFromPayload_StringValues(t *testing.T) {
	in := RecordMetadata{
		SourceKey:    "https://example.com",
		Title:        "Example",
		Content:      "hello",
		ChunkIndex:   4,
		TotalChunks:  5,
		HasPrevious:  true,
		DocumentType: DocumentTypeURL,
		Timestamp:    time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
	}

	payload := make(map[string]any)
	for k, v := range in.StringPayload() {
		payload[k] = v
	}

	out, err := MetadataFromPayload(payload)
	require.NoError(t, err)
	assert.Equal(t, 4, out.ChunkIndex)
	assert.Equal(t, 5, out.TotalChunks)
	assert.False(t, out.HasNext)
	assert.True(t, out.HasPrevious)
	assert.Equal(t, in.Timestamp, out.Timestamp)
}

func TestMetadataFromPayload_JSONNumbers(t *testing.T) {
	out, err := MetadataFromPayload(map[string]any{
		"source_key":   "k",
		"content":      "c",
		"chunk_index":  float64(2),
		"total_chunks": float64(7),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, out.ChunkIndex)
	assert.Equal(t, 7, out.TotalChunks)
	assert.Equal(t, DefaultTitle, out.Title)
}

func TestMetadataFromPayload_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		payload map[string]any
	}{
		{"nil payload", nil},
		{"missing source key", map[string]any{"content": "x"}},
		{"missing content", map[string]any{"source_key": "k"}},
		{"wrong content type", map[string]any{"source_key": "k", "content": 12}},
		{"bad chunk index", map[string]any{"source_key": "k", "content": "x", "chunk_index": "two"}},
		{"bad flag", map[string]any{"source_key": "k", "content": "x", "has_next": 3}},
		{"bad document type", map[string]any{"source_key": "k", "content": "x", "document_type": "video"}},
		{"bad timestamp", map[string]any{"source_key": "k", "content": "x", "timestamp": "yesterday"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := MetadataFromPayload(tt.payload)
			assert.Error(t, err)
		})
	}
}

func TestDocumentType_IsValid(t *testing.T) {
	assert.True(t, DocumentTypeURL.IsValid())
	assert.True(t, DocumentTypePDF.IsValid())
	assert.True(t, DocumentTypeText.IsValid())
	assert.False(t, DocumentType("doc").IsValid())
}
