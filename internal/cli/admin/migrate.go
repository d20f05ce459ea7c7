package admin

import (
	"fmt"

	"github.com/cloo-solutions/kbchat/internal/config"
	"github.com/cloo-solutions/kbchat/internal/repository"
	"github.com/spf13/cobra"
)

// MigrateCmd applies the source registry migrations and exits.
func MigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if !cfg.HasDatabase() {
				return fmt.Errorf("KBCHAT_DATABASE_URL is not set")
			}
			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			return repository.Migrate(cfg.DatabaseURL, logger)
		},
	}
}
