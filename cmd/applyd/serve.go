package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jonathan/apply-orchestrator/internal/config"
	"github.com/jonathan/apply-orchestrator/internal/intake"
	"github.com/jonathan/apply-orchestrator/internal/llm"
	"github.com/jonathan/apply-orchestrator/internal/observability"
	"github.com/jonathan/apply-orchestrator/internal/pipeline"
	"github.com/jonathan/apply-orchestrator/internal/server"
	"github.com/jonathan/apply-orchestrator/internal/store"
	"github.com/jonathan/apply-orchestrator/internal/types"
)

var (
	servePort    int
	serveWorkers int
	serveNoAuth  bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the REST API server",
	Long: `Start an HTTP server that accepts applications, runs them on a bounded worker pool
and streams their progress over Server-Sent Events.

Requests need a bearer token issued by 'applyd token' unless --no-auth is set.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Port to listen on (default from PORT or 8080)")
	serveCmd.Flags().IntVar(&serveWorkers, "workers", 0, "Concurrent applications (default from MAX_WORKERS or 2)")
	serveCmd.Flags().BoolVar(&serveNoAuth, "no-auth", false, "Disable bearer token authentication")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("port") {
		cfg.Port = servePort
	}
	if cmd.Flags().Changed("workers") {
		cfg.MaxWorkers = serveWorkers
	}

	var jwtService *server.JWTService
	if !serveNoAuth {
		jwtConfig, err := config.NewJWTConfig()
		if err != nil {
			return fmt.Errorf("%w (or pass --no-auth)", err)
		}
		jwtService = server.NewJWTService(jwtConfig)
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
	builder, profiles, err := newIntake(cfg, file)
	if err != nil {
		return err
	}

	hub := server.NewHub()
	onProgress := hub.Publish
	if cfg.Verbose {
		printer := observability.NewPrinter(os.Stdout)
		onProgress = func(e pipeline.ProgressEvent) {
			printer.PrintProgress(e)
			hub.Publish(e)
		}
	}

	c, err := newOrchestrator(ctx, cfg, st, onProgress)
	if err != nil {
		return err
	}
	defer c.Close()
	builder.Skills = llm.NewSkillExtractor(c.llm)

	queue := pipeline.NewQueue(pipeline.NewPool(c.orchestrator, cfg.MaxWorkers), cfg.QueueCapacity)
	queue.Start(ctx)
	if err := resumeQueued(ctx, st, profiles, queue); err != nil {
		log.Printf("[SERVER] warning: %v", err)
	}

	srv := server.New(server.Config{Port: cfg.Port}, server.Deps{
		Store:  st,
		Intake: builder,
		Queue:  queue,
		Hub:    hub,
		Guard:  c.guard,
		JWT:    jwtService,
	})
	serveErr := srv.Run(ctx)

	if n := queue.Pending(); n > 0 {
		log.Printf("[SERVER] %d applications stay queued until the next start", n)
	}
	if err := queue.Close(); err != nil {
		log.Printf("[SERVER] worker pool: %v", err)
	}
	return serveErr
}

// resumeQueued resubmits tasks that were accepted but never started before the last
// shutdown. Profiles are not persisted with the task, so they are resolved again.
func resumeQueued(ctx context.Context, st store.ApplicationStore, profiles intake.ProfileSet, queue server.Submitter) error {
	tasks, err := st.ListApplications(ctx, store.ApplicationFilter{Status: types.StatusQueued})
	if err != nil {
		return fmt.Errorf("failed to list queued applications: %w", err)
	}

	resumed := 0
	// oldest first; the store lists newest first
	for i := len(tasks) - 1; i >= 0; i-- {
		task := &tasks[i]
		profile, err := profiles.Profile(task.ProfileRef)
		if err != nil {
			log.Printf("[SERVER] application %s not resumed: %v", task.ID, err)
			continue
		}
		task.Profile = profile
		if err := queue.Submit(task); err != nil {
			return fmt.Errorf("resumed %d of %d queued applications: %w", resumed, len(tasks), err)
		}
		resumed++
	}
	if resumed > 0 {
		log.Printf("[SERVER] resumed %d queued applications", resumed)
	}
	return nil
}
