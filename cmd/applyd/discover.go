package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jonathan/apply-orchestrator/internal/browser"
	"github.com/jonathan/apply-orchestrator/internal/discovery"
	"github.com/jonathan/apply-orchestrator/internal/intake"
	"github.com/jonathan/apply-orchestrator/internal/observability"
	"github.com/jonathan/apply-orchestrator/internal/server"
	"github.com/jonathan/apply-orchestrator/internal/store"
)

var discoverCmd = &cobra.Command{
	Use:   "discover <keywords...>",
	Short: "Search a job board through the browser agent",
	Long: `Asks the browser agent to search a job board for postings matching the keywords
and prints what it found. With --queue each posting is fetched, scored and stored as a
queued application; "applyd serve" picks queued applications up when it starts.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runDiscover,
}

var (
	discoverLocation string
	discoverSite     string
	discoverLimit    int
	discoverQueue    bool
	discoverProfile  string
	discoverHint     string
)

func init() {
	discoverCmd.Flags().StringVarP(&discoverLocation, "location", "l", "", "Job location, e.g. Berlin or Remote")
	discoverCmd.Flags().StringVar(&discoverSite, "site", discovery.DefaultSite, "Job board host to search")
	discoverCmd.Flags().IntVarP(&discoverLimit, "limit", "n", discovery.DefaultLimit, fmt.Sprintf("Maximum postings to return (at most %d)", discovery.MaxLimit))
	discoverCmd.Flags().BoolVar(&discoverQueue, "queue", false, "Store the postings as queued applications")
	discoverCmd.Flags().StringVarP(&discoverProfile, "profile", "p", "", "Profile reference for queued applications")
	discoverCmd.Flags().StringVar(&discoverHint, "hint", "", "Effort hint for queued applications: low, medium or high")

	rootCmd.AddCommand(discoverCmd)
}

func runDiscover(_ *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	agent := browser.NewHTTPAgent(cfg.AgentURL, time.Duration(cfg.AgentTimeoutSeconds)*time.Second)
	finder := discovery.NewFinder(agent, discovery.Config{Headless: !cfg.Headed, CDPURL: cfg.CDPURL})
	postings, err := finder.Discover(ctx, discovery.Query{
		Keywords: strings.Join(args, " "),
		Location: discoverLocation,
		Site:     discoverSite,
		Limit:    discoverLimit,
	})
	if err != nil {
		return err
	}
	observability.NewPrinter(os.Stdout).PrintPostings(postings)
	if !discoverQueue || len(postings) == 0 {
		return nil
	}

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	policyFile, err := loadPolicyFile(cfg)
	if err != nil {
		return err
	}
	builder, _, err := newIntake(cfg, policyFile)
	if err != nil {
		return err
	}

	reqs := discovery.Requests(postings, intake.Request{ProfileRef: discoverProfile, UserHint: discoverHint})
	queued := queueDiscovered(ctx, builder, st, reqs)
	_, _ = fmt.Fprintf(os.Stdout, "Queued %d of %d application(s)\n", queued, len(reqs))
	return nil
}

// queueDiscovered builds and stores each request as a queued application. A
// posting that cannot be built is logged and skipped.
func queueDiscovered(ctx context.Context, builder server.TaskBuilder, st store.ApplicationStore, reqs []intake.Request) int {
	queued := 0
	for _, req := range reqs {
		task, err := builder.Build(ctx, req)
		if err != nil {
			log.Printf("[DISCOVERY] skipping %s: %v", req.TargetURL, err)
			continue
		}
		if err := st.SaveApplication(ctx, task); err != nil {
			log.Printf("[DISCOVERY] failed to store %s: %v", req.TargetURL, err)
			continue
		}
		queued++
	}
	return queued
}
