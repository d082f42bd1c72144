package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jonathan/apply-orchestrator/internal/browser"
	"github.com/jonathan/apply-orchestrator/internal/captcha"
	"github.com/jonathan/apply-orchestrator/internal/config"
	"github.com/jonathan/apply-orchestrator/internal/content"
	"github.com/jonathan/apply-orchestrator/internal/db"
	"github.com/jonathan/apply-orchestrator/internal/domainpolicy"
	"github.com/jonathan/apply-orchestrator/internal/escalation"
	"github.com/jonathan/apply-orchestrator/internal/intake"
	"github.com/jonathan/apply-orchestrator/internal/jobs"
	"github.com/jonathan/apply-orchestrator/internal/llm"
	"github.com/jonathan/apply-orchestrator/internal/notify"
	"github.com/jonathan/apply-orchestrator/internal/pipeline"
	"github.com/jonathan/apply-orchestrator/internal/store"
	"github.com/jonathan/apply-orchestrator/internal/store/sqlite"
	"github.com/jonathan/apply-orchestrator/internal/tracker"
)

// loadConfig resolves the --config file over the environment and defaults.
func loadConfig() (config.Config, error) {
	cfg, err := config.Resolve(configPath)
	if err != nil {
		return config.Config{}, err
	}
	if cfg.Verbose && configPath != "" {
		log.Printf("[CONFIG] loaded %s", configPath)
	}
	return cfg, nil
}

// openStore picks Postgres, then SQLite, then memory, and migrates the schema.
func openStore(ctx context.Context, cfg config.Config) (store.Store, error) {
	switch {
	case cfg.DatabaseURL != "":
		database, err := db.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := database.Migrate(ctx); err != nil {
			_ = database.Close()
			return nil, err
		}
		return database, nil
	case cfg.SQLitePath != "":
		s, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		if err := s.Migrate(ctx); err != nil {
			_ = s.Close()
			return nil, err
		}
		return s, nil
	default:
		log.Printf("[STORE] no DATABASE_URL or SQLITE_PATH set, using in-memory storage")
		return store.NewMemory(), nil
	}
}

// loadPolicyFile returns nil when no policy file is configured.
func loadPolicyFile(cfg config.Config) (*domainpolicy.File, error) {
	if cfg.PoliciesPath == "" {
		return nil, nil
	}
	return domainpolicy.LoadPolicies(cfg.PoliciesPath)
}

// seedPolicies writes the configured policy file into the store.
func seedPolicies(ctx context.Context, file *domainpolicy.File, st store.Store) error {
	if file == nil {
		return nil
	}
	n, err := file.Seed(ctx, st)
	if err != nil {
		return fmt.Errorf("failed to seed policies: %w", err)
	}
	log.Printf("[POLICY] seeded %d domain policies", n)
	return nil
}

func newGuard(cfg config.Config, st store.Store) *domainpolicy.Guard {
	return domainpolicy.NewGuard(st, domainpolicy.Options{
		BlockAfterFailures: cfg.BlockAfterFailures,
		BlockHours:         cfg.BlockHours,
	})
}

func newIntake(cfg config.Config, file *domainpolicy.File) (*intake.Builder, intake.ProfileSet, error) {
	profiles := intake.ProfileSet{}
	if cfg.ProfilePath != "" {
		loaded, err := intake.LoadProfiles(cfg.ProfilePath)
		if err != nil {
			return nil, nil, err
		}
		profiles = loaded
	}

	fetcher := jobs.NewFetcher(jobs.FetcherConfig{
		Renderer: &jobs.ChromeRenderer{CDPURL: cfg.CDPURL, Verbose: cfg.Verbose},
	})
	return intake.NewBuilder(fetcher, profiles, file), profiles, nil
}

// components are the long-lived collaborators of an orchestrator.
type components struct {
	orchestrator *pipeline.Orchestrator
	guard        *domainpolicy.Guard
	tracker      *tracker.Notion
	llm          llm.Client
}

func (c *components) Close() {
	if c.llm != nil {
		_ = c.llm.Close()
	}
}

// newOrchestrator wires the pipeline around st.
func newOrchestrator(ctx context.Context, cfg config.Config, st store.Store, onProgress pipeline.ProgressCallback) (*components, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY environment variable or api_key config is required")
	}
	llmConfig := llm.DefaultConfig()
	client, err := llm.NewClient(ctx, llmConfig, cfg.APIKey)
	if err != nil {
		return nil, err
	}

	telegram := notify.NewTelegram(cfg.TelegramToken, cfg.TelegramChatID, "")
	var notifier notify.Notifier
	if telegram.Configured() {
		notifier = telegram
	} else {
		log.Printf("[NOTIFY] telegram not configured, interruptions needing a human will be abandoned")
	}

	var solver captcha.Solver
	if cfg.CaptchaAPIKey != "" {
		solver = captcha.NewTwoCaptcha(cfg.CaptchaAPIKey, cfg.CaptchaBaseURL)
	}

	inspector := browser.NewChromeInspector(browser.ChromeConfig{
		Headless: !cfg.Headed,
		CDPURL:   cfg.CDPURL,
		Verbose:  cfg.Verbose,
	})
	driver := browser.NewDriver(
		browser.NewHTTPAgent(cfg.AgentURL, time.Duration(cfg.AgentTimeoutSeconds)*time.Second),
		inspector,
		browser.DriverConfig{
			CVPath:      cfg.CVPath,
			ArtifactDir: cfg.ArtifactDir,
			Headless:    !cfg.Headed,
			CDPURL:      cfg.CDPURL,
		},
	)

	broker := escalation.NewBroker(solver, notifier, escalation.Config{
		HumanTimeout:          time.Duration(cfg.HumanTimeoutSeconds) * time.Second,
		AutoAcknowledgeReview: cfg.AutoAcknowledgeReview,
	})

	c := &components{guard: newGuard(cfg, st), llm: client}
	deps := pipeline.Deps{
		Store:     st,
		Guard:     c.guard,
		Generator: content.NewGenerator(client, llmConfig, st),
		Filler:    driver,
		Broker:    broker,
		Notifier:  notifier,
	}
	if cfg.NotionToken != "" {
		c.tracker = tracker.New(cfg.NotionToken, cfg.NotionDatabaseID)
		if err := c.tracker.Ping(ctx); err != nil {
			log.Printf("[TRACKER] warning: %v", err)
		}
		deps.Tracker = c.tracker
	}

	c.orchestrator = pipeline.New(deps, pipeline.Options{
		MaxFillAttempts: cfg.MaxFillAttempts,
		OnProgress:      onProgress,
	})
	return c, nil
}
