package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jonathan/apply-orchestrator/internal/domainpolicy"
	"github.com/jonathan/apply-orchestrator/internal/observability"
	"github.com/jonathan/apply-orchestrator/internal/types"
)

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Manage per-domain admission policies",
}

var policyLoadCmd = &cobra.Command{
	Use:   "load <policies.yaml>",
	Short: "Upsert every policy in a YAML policy file",
	Args:  cobra.ExactArgs(1),
	RunE:  runPolicyLoad,
}

var policySetCmd = &cobra.Command{
	Use:   "set <domain>",
	Short: "Create or replace the policy for one domain",
	Args:  cobra.ExactArgs(1),
	RunE:  runPolicySet,
}

var policyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List domain policies",
	Args:  cobra.NoArgs,
	RunE:  runPolicyList,
}

var (
	policyMaxPerDay     int
	policyMinGapSeconds int
	policyMaxConcurrent int
	policyAvoid         bool
	policyNotes         string
)

func init() {
	policySetCmd.Flags().IntVar(&policyMaxPerDay, "max-per-day", 0, "Daily application cap (unlimited if not set)")
	policySetCmd.Flags().IntVar(&policyMinGapSeconds, "min-gap", 0, "Minimum seconds between applications (none if not set)")
	policySetCmd.Flags().IntVar(&policyMaxConcurrent, "max-concurrent", 1, "Concurrent applications allowed")
	policySetCmd.Flags().BoolVar(&policyAvoid, "avoid", false, "Refuse every application to the domain")
	policySetCmd.Flags().StringVar(&policyNotes, "notes", "", "Reason shown when the domain is avoided")

	policyCmd.AddCommand(policyLoadCmd, policySetCmd, policyListCmd)
	rootCmd.AddCommand(policyCmd)
}

func runPolicyLoad(_ *cobra.Command, args []string) error {
	ctx := context.Background()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	file, err := domainpolicy.LoadPolicies(args[0])
	if err != nil {
		return err
	}

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	n, err := file.Seed(ctx, st)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(os.Stdout, "Loaded %d domain policies from %s\n", n, args[0])
	return nil
}

// policyFromFlags builds a policy; only flags that were set become limits.
func policyFromFlags(cmd *cobra.Command, domain string) (types.DomainPolicy, error) {
	domain = strings.ToLower(strings.TrimSpace(domain))
	if domain == "" {
		return types.DomainPolicy{}, fmt.Errorf("domain is required")
	}
	if policyMaxConcurrent < 1 {
		return types.DomainPolicy{}, fmt.Errorf("--max-concurrent must be at least 1")
	}

	p := types.DomainPolicy{
		Domain:        domain,
		MaxConcurrent: policyMaxConcurrent,
		Avoid:         policyAvoid,
		Notes:         policyNotes,
	}
	if cmd.Flags().Changed("max-per-day") {
		if policyMaxPerDay < 0 {
			return types.DomainPolicy{}, fmt.Errorf("--max-per-day must be non-negative")
		}
		v := policyMaxPerDay
		p.MaxApplicationsPerDay = &v
	}
	if cmd.Flags().Changed("min-gap") {
		if policyMinGapSeconds < 0 {
			return types.DomainPolicy{}, fmt.Errorf("--min-gap must be non-negative")
		}
		v := policyMinGapSeconds
		p.MinSecondsBetween = &v
	}
	return p, nil
}

func runPolicySet(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	policy, err := policyFromFlags(cmd, args[0])
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

	if err := st.UpsertPolicy(ctx, policy); err != nil {
		return err
	}
	observability.NewPrinter(os.Stdout).PrintPolicies([]types.DomainPolicy{policy})
	return nil
}

func runPolicyList(_ *cobra.Command, _ []string) error {
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

	policies, err := st.ListPolicies(ctx)
	if err != nil {
		return err
	}
	observability.NewPrinter(os.Stdout).PrintPolicies(policies)
	return nil
}
