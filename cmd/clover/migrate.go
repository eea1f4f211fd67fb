package main

import (
	"fmt"

	"github.com/Gobusters/ectologger"
	_ "github.com/lib/pq"
	"github.com/spf13/cobra"

	"github.com/Ramsey-B/clover/config"
	"github.com/Ramsey-B/clover/pkg/database"
)

func newMigrateCommand(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			logger, flush, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer flush()

			db, err := openDatabase(cfg, logger)
			if err != nil {
				return err
			}
			defer db.Close()

			return migrate(cfg, db, logger)
		},
	}
}

func openDatabase(cfg *config.Config, logger ectologger.Logger) (database.DB, error) {
	db, err := database.Open(cfg.DatabaseDriver, cfg.DatabaseDSN(),
		cfg.DatabaseMaxOpenConns, cfg.DatabaseMaxIdleConns, cfg.DatabaseConnMaxLifetime, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

func migrate(cfg *config.Config, db database.DB, logger ectologger.Logger) error {
	instance, ok := db.(*database.DatabaseInstance)
	if !ok {
		return fmt.Errorf("migrations need a *database.DatabaseInstance, got %T", db)
	}

	migrations := database.NewMigrationService(logger, &database.MigrationConfig{
		FolderPath:   cfg.DatabaseMigrationFolderPath,
		Version:      uint(cfg.DatabaseMigrationVersion),
		Force:        cfg.DatabaseMigrationForce,
		AutoRollback: cfg.DatabaseMigrationAutoRollback,
	})
	if err := migrations.MigratePostgres(instance.DB.DB, cfg.DatabaseName); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	logger.Info("Database migrations applied")
	return nil
}
