package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/jonathan/apply-orchestrator/internal/observability"
	"github.com/jonathan/apply-orchestrator/internal/types"
)

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Show the per-domain attempt ledger for a day",
	Args:  cobra.NoArgs,
	RunE:  runLedger,
}

var blockCmd = &cobra.Command{
	Use:   "block <domain>",
	Short: "Block a domain for a number of hours",
	Args:  cobra.ExactArgs(1),
	RunE:  runBlock,
}

var unblockCmd = &cobra.Command{
	Use:   "unblock <domain>",
	Short: "Lift today's block on a domain",
	Args:  cobra.ExactArgs(1),
	RunE:  runUnblock,
}

var (
	ledgerDay   string
	blockHours  int
	blockReason string
)

func init() {
	ledgerCmd.Flags().StringVar(&ledgerDay, "day", "", "Day to show as YYYY-MM-DD (default today)")
	blockCmd.Flags().IntVar(&blockHours, "hours", 24, "Block duration in hours")
	blockCmd.Flags().StringVar(&blockReason, "reason", "Blocked by operator", "Reason recorded on the ledger")

	ledgerCmd.AddCommand(blockCmd, unblockCmd)
	rootCmd.AddCommand(ledgerCmd)
}

// parseDay parses YYYY-MM-DD in the local zone; empty means today.
func parseDay(s string, now time.Time) (time.Time, error) {
	if s == "" {
		return types.Day(now), nil
	}
	day, err := time.ParseInLocation("2006-01-02", s, now.Location())
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid day %q: expected YYYY-MM-DD", s)
	}
	return day, nil
}

func runLedger(_ *cobra.Command, _ []string) error {
	ctx := context.Background()
	day, err := parseDay(ledgerDay, time.Now())
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	entries, err := st.ListLedger(ctx, day)
	if err != nil {
		return err
	}
	observability.NewPrinter(os.Stdout).PrintLedger(day, entries)
	return nil
}

func runBlock(_ *cobra.Command, args []string) error {
	ctx := context.Background()
	if blockHours < 1 {
		return fmt.Errorf("--hours must be at least 1")
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	if err := newGuard(cfg, st).MarkBlocked(ctx, args[0], blockHours, blockReason); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(os.Stdout, "Blocked %s for %dh: %s\n", args[0], blockHours, blockReason)
	return nil
}

func runUnblock(_ *cobra.Command, args []string) error {
	ctx := context.Background()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	if err := st.ClearBlock(ctx, args[0], types.Day(time.Now())); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(os.Stdout, "Unblocked %s\n", args[0])
	return nil
}
