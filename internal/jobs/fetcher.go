package jobs

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/jonathan/apply-orchestrator/internal/types"
)

// DefaultCacheTTL is how long an extracted posting is reused.
const DefaultCacheTTL = 24 * time.Hour

// Fetcher retrieves and extracts job postings, rendering JavaScript pages when
// plain HTTP yields too little text. Extracted postings are cached per URL.
type Fetcher struct {
	options  *Options
	renderer Renderer
	ttl      time.Duration
	now      func() time.Time

	mu    sync.Mutex
	cache map[string]cachedJob
}

type cachedJob struct {
	job     types.JobData
	fetched time.Time
}

// FetcherConfig configures a Fetcher. A nil Renderer disables the browser fallback.
type FetcherConfig struct {
	Options  *Options
	Renderer Renderer
	CacheTTL time.Duration
}

// NewFetcher creates a fetcher.
func NewFetcher(cfg FetcherConfig) *Fetcher {
	if cfg.Options == nil {
		cfg.Options = DefaultOptions()
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	return &Fetcher{
		options:  cfg.Options,
		renderer: cfg.Renderer,
		ttl:      cfg.CacheTTL,
		now:      time.Now,
		cache:    make(map[string]cachedJob),
	}
}

// Fetch returns the posting at rawURL.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (types.JobData, error) {
	if job, ok := f.cached(rawURL); ok {
		return job, nil
	}

	var job types.JobData
	page, err := Get(ctx, rawURL, f.options)
	if err == nil {
		job, err = Extract(page.HTML, rawURL)
	}
	if f.renderer != nil && (err != nil || NeedsRendering(job)) {
		if err != nil {
			log.Printf("[JOBS] HTTP fetch of %s failed, rendering instead: %v", rawURL, err)
		}
		var html string
		html, err = f.renderer.Render(ctx, rawURL)
		if err == nil {
			job, err = Extract(html, rawURL)
		}
	}
	if err != nil {
		return types.JobData{}, fmt.Errorf("failed to fetch job posting: %w", err)
	}
	if job.Description == "" {
		return types.JobData{}, &Error{URL: rawURL, Message: "no job description found"}
	}

	f.store(rawURL, job)
	return job, nil
}

// Invalidate drops a cached posting.
func (f *Fetcher) Invalidate(rawURL string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.cache, rawURL)
}

func (f *Fetcher) cached(rawURL string) (types.JobData, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.cache[rawURL]
	if !ok || f.now().Sub(entry.fetched) > f.ttl {
		return types.JobData{}, false
	}
	return entry.job, true
}

func (f *Fetcher) store(rawURL string, job types.JobData) {
	if f.ttl < 0 {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cache[rawURL] = cachedJob{job: job, fetched: f.now()}
}
