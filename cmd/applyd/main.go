// Package main provides the applyd command line: one-off runs, the HTTP API server
// and domain policy administration.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "applyd",
	Short: "Application pipeline orchestrator",
	Long: `applyd drives job applications from intake to a filled form held for human review:
admission, effort planning, content generation, browser form filling with escalation,
and a quality gate against the candidate profile. It never submits a form on its own.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config.json file (environment and defaults fill the rest)")
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
