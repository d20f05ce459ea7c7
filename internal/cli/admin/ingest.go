package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cloo-solutions/kbchat/internal/config"
	"github.com/cloo-solutions/kbchat/internal/domain"
	"github.com/cloo-solutions/kbchat/internal/extract"
	"github.com/cloo-solutions/kbchat/internal/service"
	"github.com/cloo-solutions/kbchat/internal/storage"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type ingestOptions struct {
	url        string
	sourceType string
	source     string
	title      string
	noMigrate  bool
	outputJSON bool
}

// IngestCmd ingests a local file or a web page without going through the API.
func IngestCmd() *cobra.Command {
	var opts ingestOptions

	cmd := &cobra.Command{
		Use:   "ingest [file]",
		Short: "Ingest a file or URL into the knowledge base",
		Long: `Ingest a local text or PDF file, or a web page with --url, directly into
the configured vector store. Re-ingesting the same source replaces its chunks.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if (len(args) == 0) == (opts.url == "") {
				return fmt.Errorf("provide exactly one of a file argument or --url")
			}
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			return runIngest(cmd.Context(), path, opts)
		},
	}

	cmd.Flags().StringVar(&opts.url, "url", "", "Fetch and ingest this web page")
	cmd.Flags().StringVar(&opts.sourceType, "type", "", "Extraction strategy for --url (generic, structured-catalog)")
	cmd.Flags().StringVar(&opts.source, "source", "", "Source key for text files (default: the file path)")
	cmd.Flags().StringVar(&opts.title, "title", "", "Document title (default: derived from the file name or page)")
	cmd.Flags().BoolVar(&opts.noMigrate, "no-migrate", false, "Skip automatic database migrations")
	cmd.Flags().BoolVar(&opts.outputJSON, "json", false, "Print the result as JSON")

	return cmd
}

func runIngest(ctx context.Context, path string, opts ingestOptions) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	rt, err := bootstrap(ctx, cfg, logger, bootstrapOptions{migrate: !opts.noMigrate})
	if err != nil {
		return err
	}
	defer rt.Close()

	var input service.IngestInput
	if opts.url != "" {
		input, err = urlInput(ctx, rt.extractor, opts)
	} else {
		input, err = fileInput(ctx, rt, path, opts)
	}
	if err != nil {
		return err
	}

	result, err := rt.ingestion.Ingest(ctx, input)
	if err != nil {
		return err
	}

	if opts.outputJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"source_key":       result.SourceKey,
			"title":            input.Title,
			"chunks_processed": result.ChunksProcessed,
			"deleted_vectors":  result.DeletedVectors,
		})
	}
	fmt.Printf("Ingested %q: %d chunks (%d previous vectors replaced)\n",
		result.SourceKey, result.ChunksProcessed, result.DeletedVectors)
	return nil
}

func urlInput(ctx context.Context, extractor *extract.Registry, opts ingestOptions) (service.IngestInput, error) {
	doc, err := extractor.FetchAndExtract(ctx, opts.url, extract.SourceType(opts.sourceType))
	if err != nil {
		return service.IngestInput{}, err
	}
	title := doc.Title
	if opts.title != "" {
		title = opts.title
	}
	return service.IngestInput{
		SourceKey:    opts.url,
		Title:        title,
		Text:         doc.Content,
		DocumentType: domain.DocumentTypeURL,
		Location:     opts.url,
	}, nil
}

func fileInput(ctx context.Context, rt *runtime, path string, opts ingestOptions) (service.IngestInput, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return service.IngestInput{}, fmt.Errorf("failed to read %s: %w", path, err)
	}
	fileName := filepath.Base(path)

	if !extract.LooksLikePDF("", data) {
		source := opts.source
		if source == "" {
			source = path
		}
		title := opts.title
		if title == "" {
			title = extract.TitleFromFilename(fileName)
		}
		return service.IngestInput{
			SourceKey:    source,
			Title:        title,
			Text:         string(data),
			DocumentType: domain.DocumentTypeText,
			Location:     path,
		}, nil
	}

	text, err := extract.PDFText(data)
	if err != nil {
		return service.IngestInput{}, err
	}
	title := strings.TrimSpace(opts.title)
	if title == "" {
		title = extract.TitleFromFilename(fileName)
	}

	archiveKey := ""
	if rt.archive != nil {
		key := storage.PDFArchiveKey(title, fileName)
		if err := rt.archive.PutObject(ctx, key, data, "application/pdf"); err != nil {
			rt.logger.Warn("failed to archive pdf", zap.String("archive_key", key), zap.Error(err))
		} else {
			archiveKey = key
		}
	}

	return service.IngestInput{
		SourceKey:        "pdf_" + title,
		Title:            title,
		Text:             text,
		DocumentType:     domain.DocumentTypePDF,
		Location:         fileName,
		ArchiveKey:       archiveKey,
		OriginalFileName: fileName,
		FileSize:         int64(len(data)),
	}, nil
}
