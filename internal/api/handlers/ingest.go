package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/cloo-solutions/kbchat/internal/api"
	"github.com/cloo-solutions/kbchat/internal/domain"
	"github.com/cloo-solutions/kbchat/internal/extract"
	"github.com/cloo-solutions/kbchat/internal/logging"
	"github.com/cloo-solutions/kbchat/internal/service"
	"github.com/cloo-solutions/kbchat/internal/storage"
	"go.uber.org/zap"
)

// previewRunes is the length of the chunk preview returned to clients.
const previewRunes = 150

type IngestionService interface {
	Ingest(ctx context.Context, input service.IngestInput) (*service.IngestResult, error)
}

type ContentExtractor interface {
	FetchAndExtract(ctx context.Context, rawURL string, sourceType extract.SourceType) (*extract.Document, error)
}

// DocumentArchive keeps a copy of uploaded originals.
type DocumentArchive interface {
	PutObject(ctx context.Context, key string, data []byte, contentType string) error
}

type IngestHandler struct {
	svc       IngestionService
	extractor ContentExtractor
	archive   DocumentArchive
	maxUpload int64
	logger    *zap.Logger
}

// NewIngestHandler creates the ingestion endpoints. archive may be nil.
func NewIngestHandler(svc IngestionService, extractor ContentExtractor, archive DocumentArchive, maxUpload int64, logger *zap.Logger) *IngestHandler {
	if maxUpload <= 0 {
		maxUpload = 10 << 20
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IngestHandler{
		svc:       svc,
		extractor: extractor,
		archive:   archive,
		maxUpload: maxUpload,
		logger:    logger,
	}
}

type ScrapeRequest struct {
	URL        string `json:"url"`
	SourceType string `json:"sourceType"`
}

type IngestTextRequest struct {
	Content string `json:"content"`
	Source  string `json:"source"`
	Title   string `json:"title"`
}

type ChunkSummary struct {
	Index       int    `json:"index"`
	Length      int    `json:"length"`
	Preview     string `json:"preview"`
	HasNext     bool   `json:"hasNext"`
	HasPrevious bool   `json:"hasPrevious"`
}

type IngestResponse struct {
	ID               string         `json:"id"`
	URL              string         `json:"url,omitempty"`
	Title            string         `json:"title"`
	ChunksProcessed  int            `json:"chunksProcessed"`
	DeletedVectors   int            `json:"deletedVectors"`
	Chunks           []ChunkSummary `json:"chunks"`
	OriginalFileName string         `json:"originalFileName,omitempty"`
	FileSize         int64          `json:"fileSize,omitempty"`
	TextLength       int            `json:"textLength,omitempty"`
}

func chunkPreview(text string) string {
	if utf8.RuneCountInString(text) <= previewRunes {
		return text
	}
	return string([]rune(text)[:previewRunes]) + "..."
}

func resultToResponse(title string, result *service.IngestResult) *IngestResponse {
	chunks := make([]ChunkSummary, len(result.Chunks))
	for i, c := range result.Chunks {
		chunks[i] = ChunkSummary{
			Index:       c.Index,
			Length:      utf8.RuneCountInString(c.Text),
			Preview:     chunkPreview(c.Text),
			HasNext:     c.HasNext,
			HasPrevious: c.HasPrevious,
		}
	}
	return &IngestResponse{
		ID:              result.SourceKey,
		Title:           title,
		ChunksProcessed: result.ChunksProcessed,
		DeletedVectors:  result.DeletedVectors,
		Chunks:          chunks,
	}
}

// Scrape fetches a page, extracts its readable text and ingests it under the
// page URL.
func (h *IngestHandler) Scrape(w http.ResponseWriter, r *http.Request) {
	var req ScrapeRequest
	if !api.DecodeJSON(w, r, &req) {
		return
	}
	req.URL = strings.TrimSpace(req.URL)
	if req.URL == "" {
		api.Error(w, http.StatusBadRequest, "url is required")
		return
	}

	fields := []zap.Field{zap.String("source_key", req.URL), zap.String("document_type", string(domain.DocumentTypeURL))}

	doc, err := h.extractor.FetchAndExtract(r.Context(), req.URL, extract.SourceType(req.SourceType))
	if err != nil {
		api.HandleError(w, r, h.logger, err, append(fields, zap.String("stage", "extract"))...)
		return
	}

	result, err := h.svc.Ingest(r.Context(), service.IngestInput{
		SourceKey:    req.URL,
		Title:        doc.Title,
		Text:         doc.Content,
		DocumentType: domain.DocumentTypeURL,
		Location:     req.URL,
	})
	if err != nil {
		api.HandleError(w, r, h.logger, err, append(fields, zap.String("stage", "ingest"))...)
		return
	}

	resp := resultToResponse(doc.Title, result)
	resp.URL = req.URL
	api.Success(w, http.StatusOK, resp)
}

// IngestText ingests raw text under a caller-chosen source key.
func (h *IngestHandler) IngestText(w http.ResponseWriter, r *http.Request) {
	var req IngestTextRequest
	if !api.DecodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		api.Error(w, http.StatusBadRequest, "content is required")
		return
	}
	if req.Source == "" {
		api.Error(w, http.StatusBadRequest, "source is required")
		return
	}

	result, err := h.svc.Ingest(r.Context(), service.IngestInput{
		SourceKey:    req.Source,
		Title:        req.Title,
		Text:         req.Content,
		DocumentType: domain.DocumentTypeText,
		Location:     req.Source,
	})
	if err != nil {
		api.HandleError(w, r, h.logger, err,
			zap.String("source_key", req.Source),
			zap.String("document_type", string(domain.DocumentTypeText)),
			zap.String("stage", "ingest"),
		)
		return
	}

	title := req.Title
	if title == "" {
		title = domain.DefaultTitle
	}
	api.Success(w, http.StatusOK, resultToResponse(title, result))
}

// maxTitleBytes caps the title form field.
const maxTitleBytes = 1 << 10

var errUploadTooLarge = errors.New("upload too large")

// pdfUpload is what UploadPDF reads from the multipart body.
type pdfUpload struct {
	title       string
	fileName    string
	contentType string
	data        []byte
}

// readUpload walks the multipart parts as they arrive. Only the file part is
// kept in memory; parts other than title and file are discarded.
func readUpload(r *http.Request) (*pdfUpload, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, err
	}

	upload := &pdfUpload{}
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return upload, nil
		}
		if err != nil {
			return nil, uploadReadError(err)
		}

		switch part.FormName() {
		case "file":
			if part.FileName() == "" || upload.data != nil {
				break
			}
			data, err := io.ReadAll(part)
			if err != nil {
				return nil, uploadReadError(err)
			}
			upload.fileName = part.FileName()
			upload.contentType = part.Header.Get("Content-Type")
			upload.data = data
		case "title":
			raw, err := io.ReadAll(io.LimitReader(part, maxTitleBytes))
			if err != nil {
				return nil, uploadReadError(err)
			}
			upload.title = string(raw)
		}
		if _, err := io.Copy(io.Discard, part); err != nil {
			return nil, uploadReadError(err)
		}
		_ = part.Close()
	}
}

func uploadReadError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return errUploadTooLarge
	}
	return err
}

// UploadPDF ingests the text of an uploaded PDF under pdf_<title>.
func (h *IngestHandler) UploadPDF(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	upload, err := readUpload(r)
	if err != nil {
		if errors.Is(err, errUploadTooLarge) {
			api.Error(w, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		api.Error(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	if upload.data == nil {
		api.Error(w, http.StatusBadRequest, "No file provided")
		return
	}
	data := upload.data
	if !extract.LooksLikePDF(upload.contentType, data) {
		api.Error(w, http.StatusBadRequest, "File must be a PDF")
		return
	}

	title := strings.TrimSpace(upload.title)
	if title == "" {
		title = extract.TitleFromFilename(upload.fileName)
	}
	sourceKey := "pdf_" + title
	fields := []zap.Field{zap.String("source_key", sourceKey), zap.String("document_type", string(domain.DocumentTypePDF))}

	text, err := extract.PDFText(data)
	if err != nil {
		api.HandleError(w, r, h.logger, err, append(fields, zap.String("stage", "extract"))...)
		return
	}

	archiveKey := h.archiveOriginal(r.Context(), title, upload.fileName, data)

	result, err := h.svc.Ingest(r.Context(), service.IngestInput{
		SourceKey:        sourceKey,
		Title:            title,
		Text:             text,
		DocumentType:     domain.DocumentTypePDF,
		Location:         upload.fileName,
		ArchiveKey:       archiveKey,
		OriginalFileName: upload.fileName,
		FileSize:         int64(len(data)),
	})
	if err != nil {
		api.HandleError(w, r, h.logger, err, append(fields, zap.String("stage", "ingest"))...)
		return
	}

	resp := resultToResponse(title, result)
	resp.OriginalFileName = upload.fileName
	resp.FileSize = int64(len(data))
	resp.TextLength = utf8.RuneCountInString(text)
	api.Success(w, http.StatusOK, resp)
}

// archiveOriginal stores the uploaded file and returns its key, or "" when
// no archive is configured or the upload failed.
func (h *IngestHandler) archiveOriginal(ctx context.Context, title, fileName string, data []byte) string {
	if h.archive == nil {
		return ""
	}
	key := storage.PDFArchiveKey(title, fileName)
	if err := h.archive.PutObject(ctx, key, data, "application/pdf"); err != nil {
		logging.For(ctx, h.logger).Warn("failed to archive uploaded pdf",
			zap.String("archive_key", key),
			zap.String("stage", "archive"),
			zap.Error(err),
		)
		return ""
	}
	return key
}
