package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jonathan/apply-orchestrator/internal/intake"
	"github.com/jonathan/apply-orchestrator/internal/llm"
	"github.com/jonathan/apply-orchestrator/internal/observability"
	"github.com/jonathan/apply-orchestrator/internal/pipeline"
)

var runCommand = &cobra.Command{
	Use:   "run <job-url>",
	Short: "Run one application through the pipeline in the foreground",
	Long: `Builds an application task for the posting at <job-url> and drives it to a terminal status:
admission -> planning -> generating -> filling -> qa_review -> review_ready.

Posting details given as flags win over what is fetched from the page. The form is
filled and held for review; nothing is submitted.`,
	Args: cobra.ExactArgs(1),
	RunE: runApplicationCmd,
}

var (
	runTitle           string
	runCompany         string
	runDescriptionFile string
	runSkills          []string
	runProfile         string
	runHint            string
	runScore           float64
	runVerbose         bool
)

func init() {
	runCommand.Flags().StringVar(&runTitle, "title", "", "Job title (fetched from the posting if empty)")
	runCommand.Flags().StringVar(&runCompany, "company", "", "Company name (fetched from the posting if empty)")
	runCommand.Flags().StringVarP(&runDescriptionFile, "description", "d", "", "Path to a job description text file; skips fetching the posting")
	runCommand.Flags().StringSliceVarP(&runSkills, "skill", "s", nil, "Key skill of the role (repeatable)")
	runCommand.Flags().StringVarP(&runProfile, "profile", "p", "", "Profile reference in the profile file (default \"default\")")
	runCommand.Flags().StringVar(&runHint, "hint", "", "Effort hint: low, medium or high (default medium)")
	runCommand.Flags().Float64Var(&runScore, "score", 0, "Match score in [0,1] (computed from the profile if not set)")
	runCommand.Flags().BoolVarP(&runVerbose, "verbose", "v", false, "Print detailed progress")

	rootCmd.AddCommand(runCommand)
}

// buildRequest turns the command line into an intake request.
func buildRequest(cmd *cobra.Command, targetURL string) (intake.Request, error) {
	req := intake.Request{
		TargetURL:  targetURL,
		Title:      runTitle,
		Company:    runCompany,
		KeySkills:  runSkills,
		ProfileRef: runProfile,
		UserHint:   runHint,
	}
	if runDescriptionFile != "" {
		data, err := os.ReadFile(runDescriptionFile)
		if err != nil {
			return intake.Request{}, fmt.Errorf("failed to read description file: %w", err)
		}
		req.Description = string(data)
	}
	if cmd.Flags().Changed("score") {
		score := runScore
		req.MatchScore = &score
	}
	return req, nil
}

func runApplicationCmd(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("verbose") {
		cfg.Verbose = runVerbose
	}

	req, err := buildRequest(cmd, args[0])
	if err != nil {
		return err
	}

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	file, err := loadPolicyFile(cfg)
	if err != nil {
		return err
	}
	if err := seedPolicies(ctx, file, st); err != nil {
		return err
	}

	builder, _, err := newIntake(cfg, file)
	if err != nil {
		return err
	}

	printer := observability.NewPrinter(os.Stdout)
	var onProgress pipeline.ProgressCallback
	if cfg.Verbose {
		onProgress = printer.PrintProgress
	}

	c, err := newOrchestrator(ctx, cfg, st, onProgress)
	if err != nil {
		return err
	}
	defer c.Close()
	builder.Skills = llm.NewSkillExtractor(c.llm)

	task, err := builder.Build(ctx, req)
	if err != nil {
		return err
	}
	if err := c.orchestrator.Run(ctx, task); err != nil {
		return fmt.Errorf("application %s: %w", task.ID, err)
	}

	issues, err := st.ListQAIssues(context.WithoutCancel(ctx), task.ID)
	if err != nil {
		return err
	}
	printer.PrintTask(task, issues)
	return nil
}
