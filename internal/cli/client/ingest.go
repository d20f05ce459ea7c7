package client

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

// ChunkSummary is one entry of the chunk preview returned by ingestion.
type ChunkSummary struct {
	Index       int    `json:"index"`
	Length      int    `json:"length"`
	Preview     string `json:"preview"`
	HasNext     bool   `json:"hasNext"`
	HasPrevious bool   `json:"hasPrevious"`
}

// IngestResponse is returned by /scrape, /ingest and /upload-pdf.
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

type ingestTextRequest struct {
	Content string `json:"content"`
	Source  string `json:"source"`
	Title   string `json:"title,omitempty"`
}

type scrapeRequest struct {
	URL        string `json:"url"`
	SourceType string `json:"sourceType,omitempty"`
}

// IngestCmd sends a local text file to /ingest.
func IngestCmd() *cobra.Command {
	var source, title string

	cmd := &cobra.Command{
		Use:   "ingest <file>",
		Short: "Ingest a text file",
		Long:  "Sends the contents of a text or markdown file to the knowledge base. Re-ingesting the same source replaces it.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read file: %w", err)
			}
			if source == "" {
				source = filepath.Base(args[0])
			}

			api, err := NewAPIClientWithCmd(cmd)
			if err != nil {
				return err
			}
			resp, err := api.Post(cmd.Context(), "/ingest", ingestTextRequest{Content: string(data), Source: source, Title: title})
			if err != nil {
				return err
			}
			return printIngest(cmd, resp)
		},
	}

	cmd.Flags().StringVar(&source, "source", "", "Source key (default: the file name)")
	cmd.Flags().StringVar(&title, "title", "", "Document title")
	return cmd
}

// ScrapeCmd asks the server to fetch and ingest a web page.
func ScrapeCmd() *cobra.Command {
	var sourceType string

	cmd := &cobra.Command{
		Use:   "scrape <url>",
		Short: "Ingest a web page",
		Long:  "Asks the server to fetch, extract and ingest a web page. Only available when the server runs in development.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := NewAPIClientWithCmd(cmd)
			if err != nil {
				return err
			}
			resp, err := api.Post(cmd.Context(), "/scrape", scrapeRequest{URL: args[0], SourceType: sourceType})
			if err != nil {
				return err
			}
			return printIngest(cmd, resp)
		},
	}

	cmd.Flags().StringVarP(&sourceType, "type", "t", "", "Extraction strategy (generic, structured-catalog)")
	return cmd
}

// UploadCmd uploads a PDF to /upload-pdf.
func UploadCmd() *cobra.Command {
	var title string

	cmd := &cobra.Command{
		Use:   "upload <file.pdf>",
		Short: "Upload and ingest a PDF",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := NewAPIClientWithCmd(cmd)
			if err != nil {
				return err
			}

			progress := func(current, total int64) {
				if total > 0 {
					fmt.Fprintf(cmd.ErrOrStderr(), "\ruploading... %3d%%", current*100/total)
				}
			}
			resp, err := api.UploadFile(cmd.Context(), "/upload-pdf", args[0], "application/pdf",
				map[string]string{"title": title}, progress)
			fmt.Fprintln(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			return printIngest(cmd, resp)
		},
	}

	cmd.Flags().StringVar(&title, "title", "", "Document title (default: the file name)")
	return cmd
}

func printIngest(cmd *cobra.Command, resp *APIResponse) error {
	outputJSON, _ := cmd.Flags().GetBool("output")
	if outputJSON {
		_, err := cmd.OutOrStdout().Write(append(resp.Data, '\n'))
		return err
	}

	var result IngestResponse
	if err := json.Unmarshal(resp.Data, &result); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	writeIngestSummary(cmd.OutOrStdout(), &result)
	return nil
}

func writeIngestSummary(w io.Writer, r *IngestResponse) {
	fmt.Fprintf(w, "Ingested %q as %s\n", r.Title, r.ID)
	fmt.Fprintf(w, "  chunks: %d (replaced %d previous vectors)\n", r.ChunksProcessed, r.DeletedVectors)
	if r.OriginalFileName != "" {
		fmt.Fprintf(w, "  file: %s (%d bytes, %d characters of text)\n", r.OriginalFileName, r.FileSize, r.TextLength)
	}
	for _, c := range r.Chunks {
		fmt.Fprintf(w, "  [%d] %d chars: %s\n", c.Index, c.Length, c.Preview)
	}
}
