package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"vasset/fetch-service/internal/database"
)

var errNoDatabase = errors.New("database.host is not configured")

// newMigrateCmd 数据库迁移
func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			defer log.Sync()

			if !cfg.Database.Enabled() {
				return errNoDatabase
			}
			return database.RunMigrations(cfg.Database.MigrationsPath, cfg.Database.GetURL(), log)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back all migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			defer log.Sync()

			if !cfg.Database.Enabled() {
				return errNoDatabase
			}
			return database.RollbackMigrations(cfg.Database.MigrationsPath, cfg.Database.GetURL(), log)
		},
	})

	return cmd
}
