package main

import (
	"fmt"
	"os"

	"github.com/cloo-solutions/kbchat/internal/cli"
	"github.com/cloo-solutions/kbchat/internal/cli/client"
	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "kbchat",
		Short: "kbchat CLI - chat with a knowledge base",
		Long: `kbchat asks questions against an ingested knowledge base and feeds it
new documents.

Environment variables:
  KBCHAT_API_URL   API base URL (default: http://localhost:8080)`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().Bool("output", false, "Output as JSON")
	rootCmd.PersistentFlags().String("api-url", "", "API base URL (overrides env and config)")
	cli.AddHelpJSONFlag(rootCmd)

	rootCmd.AddCommand(client.ChatCmd())
	rootCmd.AddCommand(client.IngestCmd())
	rootCmd.AddCommand(client.ScrapeCmd())
	rootCmd.AddCommand(client.UploadCmd())
	rootCmd.AddCommand(client.SourcesCmd())
	rootCmd.AddCommand(client.ConfigCmd())

	cli.CheckHelpJSON(rootCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
