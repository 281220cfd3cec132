package main

import (
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/papertrade/trading-engine/internal/config"
	"github.com/papertrade/trading-engine/internal/store"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the database schema",
	Long: `Apply the ledger schema to the configured database. Statements are
idempotent, so running migrate against an existing database is safe.`,
	RunE: runMigrate,
}

var migrateConfigPath string

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.Flags().StringVarP(&migrateConfigPath, "config", "c", "", "path to config file")
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(migrateConfigPath)
	if err != nil {
		return err
	}
	if err := setupLogging(cfg); err != nil {
		return err
	}

	switch cfg.Storage.Driver {
	case config.DriverPostgres:
		pool, err := pgxpool.New(cmd.Context(), cfg.Storage.DatabaseURL)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer pool.Close()
		if err := store.NewPostgresStore(pool).Migrate(cmd.Context()); err != nil {
			return err
		}
	case config.DriverSQLite:
		// Opening the database applies the schema.
		st, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
		if err != nil {
			return err
		}
		defer st.Close()
	default:
		slog.Info("memory storage has no schema to migrate")
		return nil
	}

	slog.Info("schema migrated", "driver", cfg.Storage.Driver)
	return nil
}
