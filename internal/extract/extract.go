// Package extract turns fetched documents into plain text ready for chunking.
package extract

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/cloo-solutions/kbchat/internal/domain"
	"go.uber.org/zap"
)

// SourceType selects the extraction strategy for a page.
type SourceType string

const (
	SourceTypeGeneric           SourceType = "generic"
	SourceTypeStructuredCatalog SourceType = "structured-catalog"
)

const (
	defaultFetchTimeout  = 30 * time.Second
	defaultMaxFetchBytes = 5 * 1024 * 1024
	userAgent            = "kbchat/1.0 (+content ingestion)"
)

// Source is a fetched document awaiting extraction.
type Source struct {
	URL         string
	ContentType string
	Body        []byte
}

// Document is the readable content of a source.
type Document struct {
	Title   string
	Content string
}

// Extractor turns a source into a Document.
type Extractor interface {
	Extract(ctx context.Context, src Source) (*Document, error)
}

// ExtractorFunc adapts a function to the Extractor interface.
type ExtractorFunc func(ctx context.Context, src Source) (*Document, error)

func (f ExtractorFunc) Extract(ctx context.Context, src Source) (*Document, error) {
	return f(ctx, src)
}

// Registry maps source types to extractors and fetches remote pages.
type Registry struct {
	extractors map[SourceType]Extractor
	client     *http.Client
	maxBytes   int64
	logger     *zap.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithHTTPClient replaces the client used for fetching.
func WithHTTPClient(client *http.Client) Option {
	return func(r *Registry) { r.client = client }
}

// WithTimeout sets the fetch timeout on the default client.
func WithTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.client.Timeout = d
		}
	}
}

// WithMaxBytes caps the size of fetched bodies.
func WithMaxBytes(n int64) Option {
	return func(r *Registry) {
		if n > 0 {
			r.maxBytes = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Registry) { r.logger = logger }
}

// NewRegistry creates a Registry with the generic and structured-catalog
// extractors registered.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		extractors: map[SourceType]Extractor{
			SourceTypeGeneric:           ExtractorFunc(GenericHTML),
			SourceTypeStructuredCatalog: ExtractorFunc(StructuredCatalogHTML),
		},
		client:   &http.Client{Timeout: defaultFetchTimeout},
		maxBytes: defaultMaxFetchBytes,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds or replaces the extractor for a source type.
func (r *Registry) Register(sourceType SourceType, extractor Extractor) {
	r.extractors[sourceType] = extractor
}

// Get returns the extractor for sourceType. An empty type selects the generic
// extractor.
func (r *Registry) Get(sourceType SourceType) (Extractor, error) {
	if sourceType == "" {
		sourceType = SourceTypeGeneric
	}
	e, ok := r.extractors[sourceType]
	if !ok {
		return nil, domain.InvalidInput(fmt.Sprintf("unknown source type %q", sourceType))
	}
	return e, nil
}

// ValidateURL accepts only absolute http and https URLs.
func ValidateURL(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, domain.InvalidInput("url must be an absolute http or https URL")
	}
	return u, nil
}

// FetchAndExtract downloads rawURL and extracts it with the extractor for
// sourceType. PDF responses are always handled by the PDF extractor.
func (r *Registry) FetchAndExtract(ctx context.Context, rawURL string, sourceType SourceType) (*Document, error) {
	u, err := ValidateURL(rawURL)
	if err != nil {
		return nil, err
	}
	extractor, err := r.Get(sourceType)
	if err != nil {
		return nil, err
	}

	src, err := r.fetch(ctx, u)
	if err != nil {
		return nil, err
	}

	if LooksLikePDF(src.ContentType, src.Body) {
		text, err := PDFText(src.Body)
		if err != nil {
			return nil, err
		}
		return &Document{Title: titleFromPath(u.Path), Content: text}, nil
	}

	doc, err := extractor.Extract(ctx, *src)
	if err != nil {
		var de *domain.DomainError
		if errors.As(err, &de) {
			return nil, err
		}
		return nil, domain.ExtractionFailure("could not parse page content", err)
	}
	if strings.TrimSpace(doc.Content) == "" {
		return nil, domain.InvalidInput("no readable text found at URL")
	}

	r.logger.Debug("extracted page",
		zap.String("url", u.String()),
		zap.String("source_type", string(sourceType)),
		zap.Int("content_length", len(doc.Content)),
	)
	return doc, nil
}

func (r *Registry) fetch(ctx context.Context, u *url.URL) (*Source, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, domain.InvalidInput("url must be an absolute http or https URL")
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/pdf;q=0.9,*/*;q=0.8")

	resp, err := r.client.Do(req)
	if err != nil {
		var netErr net.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
			return nil, &domain.DomainError{
				Code:      domain.ErrCodeTimeout,
				Message:   "fetching URL content timed out",
				Err:       err,
				Retryable: true,
			}
		}
		return nil, domain.ExtractionFailure("could not fetch URL content", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, domain.ExtractionFailure(fmt.Sprintf("URL returned status %d", resp.StatusCode), nil)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, r.maxBytes+1))
	if err != nil {
		return nil, domain.ExtractionFailure("could not read URL content", err)
	}
	if int64(len(body)) > r.maxBytes {
		return nil, domain.ExtractionFailure(fmt.Sprintf("URL content exceeds %d bytes", r.maxBytes), nil)
	}

	return &Source{
		URL:         u.String(),
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
	}, nil
}

func titleFromPath(p string) string {
	base := path.Base(p)
	if base == "." || base == "/" || base == "" {
		return domain.DefaultTitle
	}
	if stem := strings.TrimSuffix(base, path.Ext(base)); stem != "" {
		return stem
	}
	return base
}
