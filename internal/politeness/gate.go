// Package politeness enforces per-host crawl etiquette: robots.txt rules,
// crawl-delay pacing, and a per-host in-flight ceiling independent of the
// global worker pool size.
package politeness

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"golang.org/x/time/rate"

	"github.com/Maimoon-github/SEO-Agent/internal/config"
)

// Gate evaluates robots.txt rules and throttles fetches host by host.
// Host entries are guarded individually so unrelated hosts never contend.
type Gate struct {
	client    *http.Client
	userAgent string
	respect   bool
	ttl       time.Duration
	floor     time.Duration
	perHost   int
	logger    *slog.Logger

	mu    sync.Mutex
	hosts map[string]*hostState
}

// hostState holds the robots ruleset and throttling state for one host.
// It moves Unknown -> loading -> loaded|degraded exactly once per TTL window.
type hostState struct {
	mu sync.Mutex

	loaded   bool
	degraded bool
	fetched  time.Time
	group    *robotstxt.Group

	limiter *rate.Limiter
	slots   chan struct{}
}

// NewGate constructs a Gate. The HTTP client is shared with the fetcher so
// robots requests reuse its transport.
func NewGate(cfg config.PolitenessConfig, userAgent string, client *http.Client, logger *slog.Logger) *Gate {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	perHost := cfg.PerHostConcurrency
	if perHost <= 0 {
		perHost = 2
	}
	return &Gate{
		client:    client,
		userAgent: userAgent,
		respect:   cfg.RespectRobots,
		ttl:       cfg.RobotsCacheTTL.Or(30 * time.Minute),
		floor:     cfg.DelayFloor.Duration,
		perHost:   perHost,
		logger:    logger,
		hosts:     make(map[string]*hostState),
	}
}

// MayFetch reports whether the target URL is permitted by the host's
// robots.txt rules for the configured user agent. Robots fetch failures
// degrade to allow-all and are never fatal.
func (g *Gate) MayFetch(ctx context.Context, target *url.URL) bool {
	if target == nil || !target.IsAbs() {
		return false
	}
	if !g.respect {
		return true
	}
	st := g.host(hostKey(target))
	group, degraded := st.load(ctx, g, target)
	if degraded || group == nil {
		return true
	}
	return group.Test(target.Path)
}

// Delay returns the effective delay for a host: the maximum of the robots
// crawl-delay and the configured global floor.
func (g *Gate) Delay(target *url.URL) time.Duration {
	d := g.floor
	if target == nil {
		return d
	}
	st := g.host(hostKey(target))
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.loaded && !st.degraded && st.group != nil && st.group.CrawlDelay > d {
		d = st.group.CrawlDelay
	}
	return d
}

// Acquire blocks until the host has a free in-flight slot and its pacing
// interval has elapsed. Every successful Acquire must be paired with Release.
func (g *Gate) Acquire(ctx context.Context, target *url.URL) error {
	st := g.host(hostKey(target))

	select {
	case st.slots <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	limiter := st.pacing(g.Delay(target))
	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			<-st.slots
			return err
		}
	}
	return nil
}

// Release frees the in-flight slot taken by Acquire.
func (g *Gate) Release(target *url.URL) {
	st := g.host(hostKey(target))
	select {
	case <-st.slots:
	default:
	}
}

func (g *Gate) host(key string) *hostState {
	g.mu.Lock()
	defer g.mu.Unlock()
	st, ok := g.hosts[key]
	if !ok {
		st = &hostState{slots: make(chan struct{}, g.perHost)}
		g.hosts[key] = st
	}
	return st
}

// load fetches and caches robots.txt for the host, at most once per TTL.
func (st *hostState) load(ctx context.Context, g *Gate, target *url.URL) (*robotstxt.Group, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.loaded && time.Since(st.fetched) < g.ttl {
		return st.group, st.degraded
	}

	group, err := g.fetchRobots(ctx, target)
	st.fetched = time.Now()
	st.loaded = true
	if err != nil {
		// Degraded mode: allow-all with the global floor delay.
		st.degraded = true
		st.group = nil
		g.logger.Warn("robots.txt unavailable, falling back to allow-all",
			"host", target.Host, "error", err)
		return nil, true
	}
	st.degraded = false
	st.group = group
	return st.group, false
}

func (st *hostState) pacing(delay time.Duration) *rate.Limiter {
	if delay <= 0 {
		return nil
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.limiter == nil {
		st.limiter = rate.NewLimiter(rate.Every(delay), 1)
	}
	return st.limiter
}

func (g *Gate) fetchRobots(ctx context.Context, target *url.URL) (*robotstxt.Group, error) {
	robotsURL := target.Scheme + "://" + target.Host + "/robots.txt"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build robots request: %w", err)
	}
	if g.userAgent != "" {
		req.Header.Set("User-Agent", g.userAgent)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch robots.txt: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("robots.txt returned status %d", resp.StatusCode)
	}

	data, err := robotstxt.FromResponse(resp)
	if err != nil {
		return nil, fmt.Errorf("parse robots.txt: %w", err)
	}

	group := data.FindGroup(g.userAgent)
	if group == nil {
		group = data.FindGroup("*")
	}
	return group, nil
}

func hostKey(u *url.URL) string {
	return strings.ToLower(u.Host)
}
