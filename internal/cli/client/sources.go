package client

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

type Source struct {
	SourceKey      string `json:"sourceKey"`
	Title          string `json:"title"`
	DocumentType   string `json:"documentType"`
	Location       string `json:"location,omitempty"`
	ChunkCount     int    `json:"chunkCount"`
	DeletedVectors int    `json:"deletedVectors"`
	Status         string `json:"status"`
	IngestedAt     string `json:"ingestedAt"`
	DownloadURL    string `json:"downloadUrl,omitempty"`
}

type SourcesResponse struct {
	Sources    []Source `json:"sources"`
	NextCursor string   `json:"nextCursor,omitempty"`
}

// SourcesCmd lists the ingested sources, or shows one when a key is given.
func SourcesCmd() *cobra.Command {
	var (
		limit  int
		cursor string
	)

	cmd := &cobra.Command{
		Use:   "sources [source-key]",
		Short: "List ingested sources",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := NewAPIClientWithCmd(cmd)
			if err != nil {
				return err
			}
			if len(args) == 1 {
				return showSource(cmd, api, args[0])
			}

			query := url.Values{}
			if limit > 0 {
				query.Set("limit", strconv.Itoa(limit))
			}
			if cursor != "" {
				query.Set("cursor", cursor)
			}
			path := "/sources"
			if len(query) > 0 {
				path += "?" + query.Encode()
			}
			resp, err := api.Get(cmd.Context(), path)
			if err != nil {
				return err
			}

			if outputJSON, _ := cmd.Flags().GetBool("output"); outputJSON {
				_, err := cmd.OutOrStdout().Write(append(resp.Data, '\n'))
				return err
			}

			var result SourcesResponse
			if err := json.Unmarshal(resp.Data, &result); err != nil {
				return fmt.Errorf("failed to parse response: %w", err)
			}
			if err := writeSourcesTable(cmd.OutOrStdout(), result.Sources); err != nil {
				return err
			}
			if result.NextCursor != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "\nMore: kbchat sources --cursor %s\n", result.NextCursor)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Maximum number of sources per page")
	cmd.Flags().StringVar(&cursor, "cursor", "", "Continue from a previous page")
	return cmd
}

func showSource(cmd *cobra.Command, api *APIClient, key string) error {
	resp, err := api.Get(cmd.Context(), "/sources/"+url.PathEscape(key))
	if err != nil {
		return err
	}
	if outputJSON, _ := cmd.Flags().GetBool("output"); outputJSON {
		_, err := cmd.OutOrStdout().Write(append(resp.Data, '\n'))
		return err
	}

	var src Source
	if err := json.Unmarshal(resp.Data, &src); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	if err := writeSourcesTable(cmd.OutOrStdout(), []Source{src}); err != nil {
		return err
	}
	if src.DownloadURL != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "\nDownload: %s\n", src.DownloadURL)
	}
	return nil
}

func writeSourcesTable(w io.Writer, sources []Source) error {
	if len(sources) == 0 {
		_, err := fmt.Fprintln(w, "No sources ingested yet.")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SOURCE\tTYPE\tTITLE\tCHUNKS\tSTATUS\tINGESTED")
	for _, s := range sources {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n", s.SourceKey, s.DocumentType, s.Title, s.ChunkCount, s.Status, s.IngestedAt)
	}
	return tw.Flush()
}
