package config

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures the full configuration required to run an audit session.
type Config struct {
	Crawl      CrawlConfig      `yaml:"crawl"`
	Politeness PolitenessConfig `yaml:"politeness"`
	Worker     WorkerConfig     `yaml:"worker"`
	Checks     ChecksConfig     `yaml:"checks"`
	DB         SQLConfig        `yaml:"db"`
	Report     ReportConfig     `yaml:"report"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// CrawlConfig controls the frontier, budgets, and URL canonicalization.
type CrawlConfig struct {
	Seed             string   `yaml:"seed"`
	MaxDepth         int      `yaml:"max_depth"`
	MaxPages         int      `yaml:"max_pages"`
	TimeLimit        Duration `yaml:"time_limit"`
	UserAgent        string   `yaml:"user_agent"`
	RequestTimeout   Duration `yaml:"request_timeout"`
	MaxBodyBytes     int64    `yaml:"max_body_bytes"`
	MaxRedirects     int      `yaml:"max_redirects"`
	FollowExternal   bool     `yaml:"follow_external"`
	TrailingSlash    string   `yaml:"trailing_slash"`
	StripQueryParams []string `yaml:"strip_query_params"`
}

// PolitenessConfig controls robots.txt handling and per-host throttling.
type PolitenessConfig struct {
	RespectRobots      bool     `yaml:"respect_robots"`
	PerHostConcurrency int      `yaml:"per_host_concurrency"`
	DelayFloor         Duration `yaml:"delay_floor"`
	RobotsCacheTTL     Duration `yaml:"robots_cache_ttl"`
}

// WorkerConfig controls global concurrency and retry behaviour.
type WorkerConfig struct {
	Concurrency  int      `yaml:"concurrency"`
	MaxRetries   int      `yaml:"max_retries"`
	RetryBackoff Duration `yaml:"retry_backoff"`
}

// ChecksConfig tunes the built-in technical checks.
type ChecksConfig struct {
	TitleMinLength       int      `yaml:"title_min_length"`
	TitleMaxLength       int      `yaml:"title_max_length"`
	DescriptionMinLength int      `yaml:"description_min_length"`
	DescriptionMaxLength int      `yaml:"description_max_length"`
	RedirectHopLimit     int      `yaml:"redirect_hop_limit"`
	Disabled             []string `yaml:"disabled"`
}

// SQLConfig describes an optional relational sink for finished reports.
type SQLConfig struct {
	Driver          string   `yaml:"driver"`
	DSN             string   `yaml:"dsn"`
	MaxOpenConns    int      `yaml:"max_open_conns"`
	MaxIdleConns    int      `yaml:"max_idle_conns"`
	ConnMaxLifetime Duration `yaml:"conn_max_lifetime"`
	AutoMigrate     bool     `yaml:"auto_migrate"`
}

// ReportConfig controls report export.
type ReportConfig struct {
	OutputPath string `yaml:"output_path"`
}

// LoggingConfig selects log verbosity and format.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Structured bool   `yaml:"structured"`
}

// Trailing-slash policies accepted by crawl.trailing_slash.
const (
	TrailingSlashKeep  = "keep"
	TrailingSlashStrip = "strip"
	TrailingSlashAdd   = "add"
)

// Default returns a Config populated with sensible defaults.
func Default() Config {
	return Config{
		Crawl: CrawlConfig{
			MaxDepth:       3,
			MaxPages:       500,
			UserAgent:      "seo-agent-bot/1.0",
			RequestTimeout: DurationFrom(10 * time.Second),
			MaxBodyBytes:   6 * 1024 * 1024,
			MaxRedirects:   10,
			FollowExternal: false,
			TrailingSlash:  TrailingSlashKeep,
			StripQueryParams: []string{
				"fbclid",
				"gclid",
				"utm_*",
			},
		},
		Politeness: PolitenessConfig{
			RespectRobots:      true,
			PerHostConcurrency: 2,
			DelayFloor:         DurationFrom(250 * time.Millisecond),
			RobotsCacheTTL:     DurationFrom(6 * time.Hour),
		},
		Worker: WorkerConfig{
			Concurrency:  8,
			MaxRetries:   2,
			RetryBackoff: DurationFrom(500 * time.Millisecond),
		},
		Checks: ChecksConfig{
			TitleMinLength:       10,
			TitleMaxLength:       60,
			DescriptionMinLength: 50,
			DescriptionMaxLength: 160,
			RedirectHopLimit:     3,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Structured: true,
		},
		DB: SQLConfig{
			AutoMigrate: true,
		},
	}
}

// Load reads, merges, and validates configuration from a YAML file.
func Load(path string) (*Config, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer fh.Close()
	return LoadFromReader(fh)
}

// LoadFromReader decodes configuration from an arbitrary reader.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.normalise()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate enforces required invariants. Configuration failures are the only
// fatal errors in the system; everything past startup degrades per page.
func (c Config) Validate() error {
	seed := strings.TrimSpace(c.Crawl.Seed)
	if seed == "" {
		return errors.New("crawl.seed must be set")
	}
	u, err := url.Parse(seed)
	if err != nil {
		return fmt.Errorf("crawl.seed is not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("crawl.seed must use http or https (got %q)", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("crawl.seed %q missing host", seed)
	}
	if c.Crawl.MaxDepth <= 0 {
		return fmt.Errorf("crawl.max_depth must be > 0 (got %d)", c.Crawl.MaxDepth)
	}
	if c.Crawl.MaxPages <= 0 {
		return fmt.Errorf("crawl.max_pages must be > 0 (got %d)", c.Crawl.MaxPages)
	}
	if c.Crawl.MaxBodyBytes <= 0 {
		return fmt.Errorf("crawl.max_body_bytes must be > 0 (got %d)", c.Crawl.MaxBodyBytes)
	}
	if c.Crawl.MaxRedirects <= 0 {
		return fmt.Errorf("crawl.max_redirects must be > 0 (got %d)", c.Crawl.MaxRedirects)
	}
	if c.Crawl.RequestTimeout.Duration <= 0 {
		return errors.New("crawl.request_timeout must be > 0")
	}
	if strings.TrimSpace(c.Crawl.UserAgent) == "" {
		return errors.New("crawl.user_agent must be set")
	}
	switch c.Crawl.TrailingSlash {
	case TrailingSlashKeep, TrailingSlashStrip, TrailingSlashAdd:
	default:
		return fmt.Errorf("crawl.trailing_slash must be keep, strip, or add (got %q)", c.Crawl.TrailingSlash)
	}
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker.concurrency must be > 0 (got %d)", c.Worker.Concurrency)
	}
	if c.Worker.MaxRetries < 0 {
		return fmt.Errorf("worker.max_retries must be >= 0 (got %d)", c.Worker.MaxRetries)
	}
	if c.Politeness.PerHostConcurrency <= 0 {
		return fmt.Errorf("politeness.per_host_concurrency must be > 0 (got %d)", c.Politeness.PerHostConcurrency)
	}
	if c.Politeness.DelayFloor.Duration < 0 {
		return errors.New("politeness.delay_floor must be >= 0")
	}
	if c.Checks.TitleMinLength < 0 || c.Checks.TitleMaxLength < c.Checks.TitleMinLength {
		return errors.New("checks title length bounds are inconsistent")
	}
	if c.Checks.DescriptionMinLength < 0 || c.Checks.DescriptionMaxLength < c.Checks.DescriptionMinLength {
		return errors.New("checks description length bounds are inconsistent")
	}
	if c.Checks.RedirectHopLimit <= 0 {
		return fmt.Errorf("checks.redirect_hop_limit must be > 0 (got %d)", c.Checks.RedirectHopLimit)
	}
	if c.DB.Driver != "" && c.DB.DSN == "" {
		return errors.New("db.dsn must be set when db.driver is set")
	}
	return nil
}

func (c *Config) normalise() {
	c.Crawl.Seed = strings.TrimSpace(c.Crawl.Seed)
	c.Crawl.UserAgent = strings.TrimSpace(c.Crawl.UserAgent)
	c.Crawl.TrailingSlash = strings.ToLower(strings.TrimSpace(c.Crawl.TrailingSlash))
	if c.Crawl.TrailingSlash == "" {
		c.Crawl.TrailingSlash = TrailingSlashKeep
	}
	if len(c.Crawl.StripQueryParams) > 0 {
		c.Crawl.StripQueryParams = dedupeLower(c.Crawl.StripQueryParams)
	}
	if len(c.Checks.Disabled) > 0 {
		c.Checks.Disabled = dedupeLower(c.Checks.Disabled)
	}
	c.Report.OutputPath = strings.TrimSpace(c.Report.OutputPath)
}

func dedupeLower(values []string) []string {
	unique := make(map[string]struct{}, len(values))
	cleaned := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" {
			continue
		}
		if _, ok := unique[v]; ok {
			continue
		}
		unique[v] = struct{}{}
		cleaned = append(cleaned, v)
	}
	sort.Strings(cleaned)
	return cleaned
}
