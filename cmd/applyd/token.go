package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jonathan/apply-orchestrator/internal/config"
	"github.com/jonathan/apply-orchestrator/internal/server"
)

var tokenCmd = &cobra.Command{
	Use:   "token <subject>",
	Short: "Issue an API bearer token",
	Long:  `Signs a token for <subject> with JWT_SECRET. The subject is recorded as the actor of API-made changes.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runToken,
}

func init() {
	rootCmd.AddCommand(tokenCmd)
}

func runToken(_ *cobra.Command, args []string) error {
	jwtConfig, err := config.NewJWTConfig()
	if err != nil {
		return err
	}
	token, err := server.NewJWTService(jwtConfig).GenerateToken(args[0])
	if err != nil {
		return fmt.Errorf("failed to generate token: %w", err)
	}
	_, _ = fmt.Fprintln(os.Stdout, token)
	return nil
}
