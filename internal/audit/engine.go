// Package audit orchestrates a crawl session end to end: seeding the
// frontier, driving the politeness-gated worker pool, building page models,
// and running the check battery once the frontier drains.
package audit

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Maimoon-github/SEO-Agent/internal/checks"
	"github.com/Maimoon-github/SEO-Agent/internal/config"
	"github.com/Maimoon-github/SEO-Agent/internal/fetcher"
	"github.com/Maimoon-github/SEO-Agent/internal/frontier"
	"github.com/Maimoon-github/SEO-Agent/internal/page"
	"github.com/Maimoon-github/SEO-Agent/internal/politeness"
	"github.com/Maimoon-github/SEO-Agent/internal/report"
	"github.com/Maimoon-github/SEO-Agent/internal/storage"
	"github.com/Maimoon-github/SEO-Agent/internal/urlnorm"
	"github.com/Maimoon-github/SEO-Agent/pkg/types"
)

// Engine runs one audit session to completion. Construct with NewEngine,
// run once with Run; the returned AuditReport is immutable.
type Engine struct {
	cfg      config.Config
	logger   *slog.Logger
	norm     *urlnorm.Normalizer
	gate     *politeness.Gate
	fetcher  *fetcher.Client
	builder  *page.Builder
	registry *checks.Registry
	store    storage.ReportStore

	seed     *url.URL
	frontier *frontier.Frontier

	mu       sync.Mutex
	pages    []*types.PageModel
	findings []types.Finding
}

// Progress is a point-in-time view of a running session.
type Progress struct {
	Queued   int
	InFlight int
	Visited  int
	Fetched  int
	Skipped  int
	Failed   int
}

// NewEngine validates configuration and wires the session components.
// Configuration problems are the only fatal errors; everything later
// degrades per page.
func NewEngine(cfg config.Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := buildLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	norm := urlnorm.New(cfg.Crawl.TrailingSlash, cfg.Crawl.StripQueryParams)
	seed, err := norm.Normalize(cfg.Crawl.Seed, nil)
	if err != nil {
		return nil, fmt.Errorf("seed URL: %w", err)
	}

	httpClient := fetcher.New(fetcher.Options{
		UserAgent:    cfg.Crawl.UserAgent,
		Timeout:      cfg.Crawl.RequestTimeout.Duration,
		MaxBodyBytes: cfg.Crawl.MaxBodyBytes,
		MaxRedirects: cfg.Crawl.MaxRedirects,
		MaxRetries:   cfg.Worker.MaxRetries,
		RetryBackoff: cfg.Worker.RetryBackoff.Duration,
	})

	var store storage.ReportStore
	if cfg.DB.Driver != "" && cfg.DB.DSN != "" {
		store, err = storage.NewSQLWriter(cfg.DB)
		if err != nil {
			return nil, err
		}
	}

	return &Engine{
		cfg:      cfg,
		logger:   logger,
		norm:     norm,
		gate:     politeness.NewGate(cfg.Politeness, cfg.Crawl.UserAgent, httpClient.HTTPClient(), logger),
		fetcher:  httpClient,
		builder:  page.NewBuilder(norm, logger),
		registry: checks.Defaults(cfg.Checks),
		store:    store,
		seed:     seed,
		frontier: frontier.New(cfg.Crawl.MaxDepth, cfg.Crawl.MaxPages),
	}, nil
}

// Registry exposes the check registry so callers can register extra checks
// before Run.
func (e *Engine) Registry() *checks.Registry {
	return e.registry
}

// Run executes the session: crawl until the frontier drains or a budget is
// hit, then run checks and assemble the report. A single page's failure
// never aborts the session; only context cancellation surfaces as an error
// alongside the partial report.
func (e *Engine) Run(ctx context.Context) (*types.AuditReport, error) {
	started := time.Now()
	sessionID := uuid.NewString()
	e.logger.Info("audit session starting",
		"session_id", sessionID, "seed", urlnorm.Key(e.seed),
		"max_depth", e.cfg.Crawl.MaxDepth, "max_pages", e.cfg.Crawl.MaxPages)

	// Cancellation and the wall-clock budget both stop frontier admission;
	// fetches already in flight run to completion so no partially-built
	// page model ever escapes.
	stop := context.AfterFunc(ctx, e.frontier.Close)
	defer stop()
	if limit := e.cfg.Crawl.TimeLimit.Duration; limit > 0 {
		timer := time.AfterFunc(limit, func() {
			e.logger.Info("time budget reached, draining frontier")
			e.frontier.Close()
		})
		defer timer.Stop()
	}

	e.frontier.Enqueue(types.CrawlTask{URL: e.seed, Depth: 0, EnqueuedAt: time.Now()})

	var wg sync.WaitGroup
	for i := 0; i < e.cfg.Worker.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.worker(ctx)
		}()
	}
	wg.Wait()

	inventory := e.frontier.Inventory()
	e.runChecks(ctx, inventory)

	rep := report.Assemble(sessionID, urlnorm.Key(e.seed), started, time.Now(), inventory, e.findings)
	e.logger.Info("audit session finished",
		"session_id", sessionID,
		"pages_fetched", rep.Summary.PagesFetched,
		"pages_skipped", rep.Summary.PagesSkipped,
		"pages_failed", rep.Summary.PagesFailed,
		"findings", len(rep.Findings))

	if e.store != nil {
		if err := e.store.SaveReport(ctx, rep); err != nil {
			e.logger.Error("persist report failed", "error", err)
		}
	}

	return rep, ctx.Err()
}

// Progress reports live counters for external observation.
func (e *Engine) Progress() Progress {
	stats := e.frontier.Snapshot()
	return Progress{
		Queued:   stats.Queued,
		InFlight: stats.InFlight,
		Visited:  stats.Visited,
		Fetched:  stats.Fetched,
		Skipped:  stats.Skipped,
		Failed:   stats.Failed,
	}
}

// Close releases held resources.
func (e *Engine) Close() error {
	if e.store != nil {
		return e.store.Close()
	}
	return nil
}

func (e *Engine) worker(ctx context.Context) {
	for {
		task, ok := e.frontier.Dequeue()
		if !ok {
			return
		}
		e.process(ctx, task)
	}
}

// process handles one dequeued task and always records exactly one terminal
// outcome for it.
func (e *Engine) process(ctx context.Context, task types.CrawlTask) {
	key := urlnorm.Key(task.URL)
	rec := types.PageRecord{
		URL:   key,
		Depth: task.Depth,
	}
	if task.Parent != nil {
		rec.Parent = urlnorm.Key(task.Parent)
	}

	if ctx.Err() != nil {
		rec.Outcome = types.OutcomeFailed
		rec.Error = ctx.Err().Error()
		e.frontier.MarkVisited(key, rec)
		return
	}

	if !e.gate.MayFetch(ctx, task.URL) {
		e.logger.Debug("blocked by robots", "url", key)
		rec.Outcome = types.OutcomeSkippedRobots
		e.frontier.MarkVisited(key, rec)
		return
	}

	if err := e.gate.Acquire(ctx, task.URL); err != nil {
		rec.Outcome = types.OutcomeFailed
		rec.Error = err.Error()
		e.frontier.MarkVisited(key, rec)
		return
	}
	res := e.fetcher.Fetch(ctx, task.URL)
	e.gate.Release(task.URL)

	rec.StatusCode = res.StatusCode
	rec.Latency = res.Latency
	if res.FinalURL != nil {
		rec.FinalURL = res.FinalURL.String()
	}

	if res.Err != nil {
		e.logger.Warn("fetch failed", "url", key, "error", res.Err)
		rec.Outcome = types.OutcomeFailed
		rec.Error = res.Err.Error()
		e.addFinding(types.Finding{
			CheckID:  checks.IDStatusIntegrity,
			Severity: types.SeverityCritical,
			URL:      key,
			Message:  fmt.Sprintf("fetch failed after retries: %v", res.Err),
			Evidence: failureEvidence(res),
		})
		e.frontier.MarkVisited(key, rec)
		return
	}

	pm := e.builder.Build(res, task.Depth)
	rec.ByteSize = pm.ByteSize
	if pm.Malformed {
		rec.Outcome = types.OutcomeMalformed
		e.addFinding(types.Finding{
			CheckID:  checks.IDMalformedMarkup,
			Severity: types.SeverityWarning,
			URL:      key,
			Message:  "markup could not be fully parsed; partial page model built",
		})
	} else {
		rec.Outcome = types.OutcomeFetched
	}
	for _, raw := range pm.MalformedLinks {
		e.addFinding(types.Finding{
			CheckID:  checks.IDMalformedLink,
			Severity: types.SeverityInfo,
			URL:      key,
			Message:  "discovered link dropped: not a crawlable URL",
			Evidence: map[string]string{"link": raw},
		})
	}

	e.mu.Lock()
	e.pages = append(e.pages, pm)
	e.mu.Unlock()

	// Children go in before the task is marked done so the frontier cannot
	// observe a spurious drain between the two steps.
	if task.Depth < e.cfg.Crawl.MaxDepth {
		for _, link := range pm.Links {
			if !e.cfg.Crawl.FollowExternal && !e.sameSite(link) {
				continue
			}
			e.frontier.Enqueue(types.CrawlTask{
				URL:        link,
				Depth:      task.Depth + 1,
				Parent:     task.URL,
				EnqueuedAt: time.Now(),
			})
		}
	}

	e.frontier.MarkVisited(key, rec)
}

// runChecks executes the registered checks over every built page model,
// bounded by the worker concurrency. The index is read-only, so pages are
// checked in parallel.
func (e *Engine) runChecks(ctx context.Context, inventory map[string]types.PageRecord) {
	e.mu.Lock()
	pages := e.pages
	e.mu.Unlock()

	idx := checks.NewIndex(e.seed, inventory, pages)
	all := e.registry.Checks()

	sem := make(chan struct{}, e.cfg.Worker.Concurrency)
	var wg sync.WaitGroup
	for _, pm := range pages {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		go func(pm *types.PageModel) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			for _, c := range all {
				if fs := c.Run(pm, idx); len(fs) > 0 {
					e.addFindings(fs)
				}
			}
		}(pm)
	}
	wg.Wait()
}

func (e *Engine) addFinding(f types.Finding) {
	e.mu.Lock()
	e.findings = append(e.findings, f)
	e.mu.Unlock()
}

func (e *Engine) addFindings(fs []types.Finding) {
	e.mu.Lock()
	e.findings = append(e.findings, fs...)
	e.mu.Unlock()
}

func (e *Engine) sameSite(u *url.URL) bool {
	return u != nil && strings.EqualFold(u.Hostname(), e.seed.Hostname())
}

func failureEvidence(res *types.FetchResult) map[string]string {
	ev := map[string]string{"error": res.Err.Error()}
	if res.StatusCode > 0 {
		ev["last_status"] = fmt.Sprintf("%d", res.StatusCode)
	}
	return ev
}

func buildLogger(cfg config.LoggingConfig) (*slog.Logger, error) {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info", "":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return nil, fmt.Errorf("unsupported log level %q", cfg.Level)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Structured {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler), nil
}
