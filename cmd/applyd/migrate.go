package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the database schema",
	Long:  `Applies the schema to the database named by DATABASE_URL or SQLITE_PATH. Safe to run repeatedly.`,
	Args:  cobra.NoArgs,
	RunE:  runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.DatabaseURL == "" && cfg.SQLitePath == "" {
		return fmt.Errorf("DATABASE_URL or SQLITE_PATH is required")
	}

	// openStore migrates
	st, err := openStore(context.Background(), cfg)
	if err != nil {
		return err
	}
	_ = st.Close()
	_, _ = fmt.Fprintln(os.Stdout, "Schema is up to date")
	return nil
}
