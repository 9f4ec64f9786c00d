package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/seanankenbruck/nl2sql-guard/internal/config"
	"github.com/seanankenbruck/nl2sql-guard/internal/database"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var migrationsPath string

	root := &cobra.Command{
		Use:          "migrate",
		Short:        "Manage the semantic cache schema",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&migrationsPath, "path", "./migrations", "directory holding the migration files")

	migrationConfig := func(cmd *cobra.Command) (database.MigrationConfig, error) {
		cfg, err := config.NewDefaultLoader().Load(cmd.Context())
		if err != nil {
			return database.MigrationConfig{}, fmt.Errorf("failed to load configuration: %w", err)
		}
		db := cfg.CacheDB
		dbCfg := database.Config{
			Host:     db.Host,
			Port:     db.Port,
			Database: db.Database,
			Username: db.Username,
			Password: db.Password,
			SSLMode:  db.SSLMode,
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Cache database: %s@%s:%s/%s\n", db.Username, db.Host, db.Port, db.Database)
		return database.MigrationConfig{
			DatabaseURL:    dbCfg.URL(),
			MigrationsPath: migrationsPath,
		}, nil
	}

	up := &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			mc, err := migrationConfig(cmd)
			if err != nil {
				return err
			}
			if err := database.RunMigrations(mc); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "✓ Migrations applied")
			return nil
		},
	}

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			mc, err := migrationConfig(cmd)
			if err != nil {
				return err
			}
			if err := database.RollbackMigrations(mc, steps); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Rolled back %d migration(s)\n", steps)
			return nil
		},
	}
	down.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")

	version := &cobra.Command{
		Use:   "version",
		Short: "Print the current schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			mc, err := migrationConfig(cmd)
			if err != nil {
				return err
			}
			v, dirty, err := database.MigrationVersion(mc)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "version=%d dirty=%t\n", v, dirty)
			return nil
		},
	}

	root.AddCommand(up, down, version)
	root.SetContext(context.Background())
	return root
}
