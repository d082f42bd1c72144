package browser

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/chromedp/chromedp"
)

// Snapshot is the state of a page at the time of an interruption.
type Snapshot struct {
	PNG  []byte
	HTML string
}

// Inspector captures page snapshots for interruptions the agent reported without an artifact.
type Inspector interface {
	Capture(ctx context.Context, pageURL string) (Snapshot, error)
}

// ChromeConfig configures the local or remote Chrome used by ChromeInspector.
type ChromeConfig struct {
	Headless bool
	// CDPURL attaches to a running Chrome (e.g. ws://localhost:9222) instead of launching one.
	CDPURL  string
	Timeout time.Duration
	Verbose bool
}

// ChromeInspector implements Inspector with chromedp.
type ChromeInspector struct {
	cfg ChromeConfig
}

// NewChromeInspector creates an inspector. Timeout defaults to 30s.
func NewChromeInspector(cfg ChromeConfig) *ChromeInspector {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &ChromeInspector{cfg: cfg}
}

// AllocatorOptions returns the Chrome flags used when launching a local browser.
func (i *ChromeInspector) AllocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", i.cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
	)
	if !i.cfg.Headless {
		opts = append(opts,
			chromedp.Flag("start-maximized", true),
			chromedp.Flag("disable-infobars", true),
		)
	}
	return opts
}

// Capture implements Inspector.
func (i *ChromeInspector) Capture(ctx context.Context, pageURL string) (Snapshot, error) {
	if i.cfg.Verbose {
		log.Printf("[BROWSER] Capturing snapshot of: %s", pageURL)
	}

	var (
		allocCtx context.Context
		cancel   context.CancelFunc
	)
	if i.cfg.CDPURL != "" {
		allocCtx, cancel = chromedp.NewRemoteAllocator(ctx, i.cfg.CDPURL)
	} else {
		allocCtx, cancel = chromedp.NewExecAllocator(ctx, i.AllocatorOptions()...)
	}
	defer cancel()

	browserCtx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()

	browserCtx, cancel = context.WithTimeout(browserCtx, i.cfg.Timeout)
	defer cancel()

	var snap Snapshot
	err := chromedp.Run(browserCtx,
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("body"),
		chromedp.Sleep(2*time.Second),
		chromedp.FullScreenshot(&snap.PNG, 90),
		chromedp.OuterHTML("html", &snap.HTML),
	)
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to capture page snapshot: %w", err)
	}

	if i.cfg.Verbose {
		log.Printf("[BROWSER] Snapshot: %d byte screenshot, %d byte HTML", len(snap.PNG), len(snap.HTML))
	}
	return snap, nil
}
