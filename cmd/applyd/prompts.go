package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jonathan/apply-orchestrator/internal/prompts"
)

var promptsCmd = &cobra.Command{
	Use:   "prompts [file key]",
	Short: "List the embedded prompt templates, or print one",
	Args:  cobra.MatchAll(cobra.MaximumNArgs(2), fileAndKey),
	RunE:  runPrompts,
}

func fileAndKey(_ *cobra.Command, args []string) error {
	if len(args) == 1 {
		return fmt.Errorf("give both a prompt file and a key, or neither")
	}
	return nil
}

func init() {
	rootCmd.AddCommand(promptsCmd)
}

func runPrompts(_ *cobra.Command, args []string) error {
	if len(args) == 2 {
		template, err := prompts.Get(args[0], args[1])
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintln(os.Stdout, template)
		return nil
	}

	files, err := prompts.Files()
	if err != nil {
		return err
	}
	for _, file := range files {
		keys, err := prompts.List(file)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintln(os.Stdout, file)
		for _, key := range keys {
			_, _ = fmt.Fprintf(os.Stdout, "  %s\n", key)
		}
	}
	return nil
}
