package main

import (
	"github.com/spf13/cobra"

	"github.com/quillpress/articles/internal/config"
	"github.com/quillpress/articles/internal/db"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending PostgreSQL migrations",
		Long: `Apply the embedded PostgreSQL migrations to DATABASE_URL. The MySQL
store creates its table on startup and MongoDB needs no schema.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			if cfg.ArticleStore != config.StorePostgres {
				log.Info("nothing to migrate for store " + cfg.ArticleStore)
				return nil
			}
			return db.Migrate(cfg.DatabaseURL, log)
		},
	}
}
