package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jwpark-dev/fmsportal/internal/config"
	"github.com/jwpark-dev/fmsportal/internal/store"
)

var initDBCmd = &cobra.Command{
	Use:   "init-db",
	Short: "Create the portal database schema",
	Long: `Create the SQLite database and schema at the configured db_path.
Idempotent: running against an existing database leaves it unchanged.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		db, err := store.Open(cfg.DBPath)
		if err != nil {
			return err
		}
		defer db.Close()

		if err := db.InitSchema(context.Background()); err != nil {
			return err
		}
		fmt.Printf("Database initialized at %s\n", cfg.DBPath)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initDBCmd)
}
