// Package config provides configuration loading and validation for the orchestrator.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Config represents the orchestrator configuration that can be loaded from a JSON file.
// All fields are optional; missing values come from the environment or Defaults.
type Config struct {
	// Storage
	DatabaseURL string `json:"database_url,omitempty"` // PostgreSQL connection URL
	SQLitePath  string `json:"sqlite_path,omitempty"`  // Embedded SQLite database file

	// Browser agent
	AgentURL            string `json:"agent_url,omitempty"`             // Browser agent service endpoint
	AgentTimeoutSeconds int    `json:"agent_timeout_seconds,omitempty"` // Per-fill agent timeout
	CDPURL              string `json:"cdp_url,omitempty"`               // Remote Chrome DevTools endpoint
	Headed              bool   `json:"headed,omitempty"`                // Show the browser window
	CVPath              string `json:"cv_path,omitempty"`               // CV file uploaded by the agent
	ArtifactDir         string `json:"artifact_dir,omitempty"`          // Where interruption screenshots go

	// Language model
	APIKey string `json:"api_key,omitempty"` // Gemini API key

	// Escalation
	CaptchaAPIKey         string `json:"captcha_api_key,omitempty"`
	CaptchaBaseURL        string `json:"captcha_base_url,omitempty"`
	TelegramToken         string `json:"telegram_token,omitempty"`
	TelegramChatID        string `json:"telegram_chat_id,omitempty"`
	HumanTimeoutSeconds   int    `json:"human_timeout_seconds,omitempty"`
	AutoAcknowledgeReview bool   `json:"auto_acknowledge_review,omitempty"` // Resolve review checkpoints without asking

	// Pipeline
	ProfilePath     string `json:"profile_path,omitempty"` // YAML candidate profiles
	MaxWorkers      int    `json:"max_workers,omitempty"`
	MaxFillAttempts int    `json:"max_fill_attempts,omitempty"`
	QueueCapacity   int    `json:"queue_capacity,omitempty"`

	// API server
	Port int `json:"port,omitempty"`

	// Domain policy
	PoliciesPath       string `json:"policies_path,omitempty"` // YAML policy seed file
	BlockAfterFailures int    `json:"block_after_failures,omitempty"`
	BlockHours         int    `json:"block_hours,omitempty"`

	// Tracker
	NotionToken      string `json:"notion_token,omitempty"`
	NotionDatabaseID string `json:"notion_database_id,omitempty"`

	Verbose bool `json:"verbose,omitempty"` // Print detailed progress
}

// Defaults returns the built-in configuration values.
func Defaults() Config {
	return Config{
		AgentURL:            "http://localhost:8000",
		AgentTimeoutSeconds: 600,
		CVPath:              "/app/cv.pdf",
		ArtifactDir:         "artifacts",
		HumanTimeoutSeconds: 300,
		MaxWorkers:          2,
		MaxFillAttempts:     3,
		QueueCapacity:       64,
		Port:                8080,
		BlockAfterFailures:  3,
		BlockHours:          24,
	}
}

// LoadConfig loads configuration from a JSON file.
// Returns an error if the file cannot be read or parsed.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config path is empty")
	}

	// Resolve path relative to current directory if not absolute
	if !filepath.IsAbs(path) {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get current directory: %w", err)
		}
		path = filepath.Join(cwd, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	return &cfg, nil
}

// FromEnv reads the configuration from environment variables. Unset variables leave
// fields at their zero value so the result can be merged with a file and Defaults.
func FromEnv() (Config, error) {
	cfg := Config{
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		SQLitePath:       os.Getenv("SQLITE_PATH"),
		AgentURL:         os.Getenv("AGENT_URL"),
		CDPURL:           os.Getenv("CDP_URL"),
		CVPath:           os.Getenv("CV_PATH"),
		ArtifactDir:      os.Getenv("ARTIFACT_DIR"),
		APIKey:           os.Getenv("GEMINI_API_KEY"),
		CaptchaAPIKey:    os.Getenv("TWOCAPTCHA_API_KEY"),
		CaptchaBaseURL:   os.Getenv("TWOCAPTCHA_BASE_URL"),
		TelegramToken:    os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramChatID:   os.Getenv("TELEGRAM_CHAT_ID"),
		PoliciesPath:     os.Getenv("POLICIES_PATH"),
		ProfilePath:      os.Getenv("PROFILE_PATH"),
		NotionToken:      os.Getenv("NOTION_TOKEN"),
		NotionDatabaseID: os.Getenv("NOTION_DATABASE_ID"),
		Headed:           strings.EqualFold(os.Getenv("BROWSER_HEADLESS"), "false"),
	}

	ints := []struct {
		name string
		dst  *int
	}{
		{"AGENT_TIMEOUT_SECONDS", &cfg.AgentTimeoutSeconds},
		{"HUMAN_TIMEOUT_SECONDS", &cfg.HumanTimeoutSeconds},
		{"MAX_WORKERS", &cfg.MaxWorkers},
		{"MAX_FILL_ATTEMPTS", &cfg.MaxFillAttempts},
		{"QUEUE_CAPACITY", &cfg.QueueCapacity},
		{"PORT", &cfg.Port},
		{"BLOCK_AFTER_FAILURES", &cfg.BlockAfterFailures},
		{"BLOCK_HOURS", &cfg.BlockHours},
	}
	for _, v := range ints {
		raw := os.Getenv(v.name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %v", v.name, err)
		}
		*v.dst = n
	}
	return cfg, nil
}

// Validate checks that the configuration has valid values.
// Note: This doesn't check for required fields since those depend on the command.
func (c *Config) Validate() error {
	if c.DatabaseURL != "" && c.SQLitePath != "" {
		return fmt.Errorf("config error: 'database_url' and 'sqlite_path' are mutually exclusive")
	}

	nonNegative := map[string]int{
		"agent_timeout_seconds": c.AgentTimeoutSeconds,
		"human_timeout_seconds": c.HumanTimeoutSeconds,
		"max_workers":           c.MaxWorkers,
		"max_fill_attempts":     c.MaxFillAttempts,
		"queue_capacity":        c.QueueCapacity,
		"port":                  c.Port,
		"block_after_failures":  c.BlockAfterFailures,
		"block_hours":           c.BlockHours,
	}
	for name, v := range nonNegative {
		if v < 0 {
			return fmt.Errorf("config error: '%s' must be non-negative", name)
		}
	}

	if (c.NotionToken == "") != (c.NotionDatabaseID == "") {
		return fmt.Errorf("config error: 'notion_token' and 'notion_database_id' must be set together")
	}

	if c.PoliciesPath != "" {
		if _, err := os.Stat(c.PoliciesPath); os.IsNotExist(err) {
			return fmt.Errorf("config error: policies file not found: %s", c.PoliciesPath)
		}
	}
	if c.ProfilePath != "" {
		if _, err := os.Stat(c.ProfilePath); os.IsNotExist(err) {
			return fmt.Errorf("config error: profile file not found: %s", c.ProfilePath)
		}
	}

	return nil
}

// MergeWithDefaults returns a new Config with empty fields filled from defaults.
// This is used to layer file, environment and built-in values under CLI flags.
func (c *Config) MergeWithDefaults(defaults Config) Config {
	result := *c

	// String fields: use default if empty
	strs := []struct {
		dst *string
		def string
	}{
		{&result.DatabaseURL, defaults.DatabaseURL},
		{&result.SQLitePath, defaults.SQLitePath},
		{&result.AgentURL, defaults.AgentURL},
		{&result.CDPURL, defaults.CDPURL},
		{&result.CVPath, defaults.CVPath},
		{&result.ArtifactDir, defaults.ArtifactDir},
		{&result.APIKey, defaults.APIKey},
		{&result.CaptchaAPIKey, defaults.CaptchaAPIKey},
		{&result.CaptchaBaseURL, defaults.CaptchaBaseURL},
		{&result.TelegramToken, defaults.TelegramToken},
		{&result.TelegramChatID, defaults.TelegramChatID},
		{&result.PoliciesPath, defaults.PoliciesPath},
		{&result.ProfilePath, defaults.ProfilePath},
		{&result.NotionToken, defaults.NotionToken},
		{&result.NotionDatabaseID, defaults.NotionDatabaseID},
	}
	for _, s := range strs {
		if *s.dst == "" {
			*s.dst = s.def
		}
	}

	// Int fields: use default if zero
	ints := []struct {
		dst *int
		def int
	}{
		{&result.AgentTimeoutSeconds, defaults.AgentTimeoutSeconds},
		{&result.HumanTimeoutSeconds, defaults.HumanTimeoutSeconds},
		{&result.MaxWorkers, defaults.MaxWorkers},
		{&result.MaxFillAttempts, defaults.MaxFillAttempts},
		{&result.QueueCapacity, defaults.QueueCapacity},
		{&result.Port, defaults.Port},
		{&result.BlockAfterFailures, defaults.BlockAfterFailures},
		{&result.BlockHours, defaults.BlockHours},
	}
	for _, i := range ints {
		if *i.dst == 0 {
			*i.dst = i.def
		}
	}

	// Bool fields: a true default wins, since unset and false look the same
	result.Headed = result.Headed || defaults.Headed
	result.AutoAcknowledgeReview = result.AutoAcknowledgeReview || defaults.AutoAcknowledgeReview
	result.Verbose = result.Verbose || defaults.Verbose

	return result
}

// Resolve layers an optional JSON file over the environment and Defaults, then validates.
func Resolve(path string) (Config, error) {
	var cfg Config
	if path != "" {
		loaded, err := LoadConfig(path)
		if err != nil {
			return Config{}, err
		}
		cfg = *loaded
	}

	env, err := FromEnv()
	if err != nil {
		return Config{}, err
	}
	cfg = cfg.MergeWithDefaults(env)
	cfg = cfg.MergeWithDefaults(Defaults())

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
