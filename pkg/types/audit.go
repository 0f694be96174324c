package types

import (
	"net/http"
	"net/url"
	"time"
)

// CrawlTask models a work item held by the frontier. Tasks are created when
// a link is discovered and consumed exactly once by a worker; they are never
// mutated after creation.
type CrawlTask struct {
	URL        *url.URL
	Depth      int
	Parent     *url.URL
	EnqueuedAt time.Time
}

// Outcome is the terminal disposition of a URL in a crawl session.
type Outcome string

const (
	OutcomeFetched       Outcome = "fetched"
	OutcomeFailed        Outcome = "failed"
	OutcomeSkippedRobots Outcome = "skipped-robots"
	OutcomeMalformed     Outcome = "malformed"
)

// Severity ranks a finding for triage.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// RedirectHop records one step of a redirect chain as observed during a fetch.
type RedirectHop struct {
	URL    string `json:"url"`
	Status int    `json:"status"`
}

// FetchResult is the immutable record of a single fetch attempt sequence
// (including retries). Either Body or Err is meaningful, never both.
type FetchResult struct {
	URL           *url.URL
	FinalURL      *url.URL
	StatusCode    int
	Headers       http.Header
	Body          []byte
	ContentType   string
	Latency       time.Duration
	FetchedAt     time.Time
	RedirectChain []RedirectHop
	Err           error
}

// Heading is one entry of a page's heading hierarchy.
type Heading struct {
	Level int    `json:"level"`
	Text  string `json:"text"`
}

// HreflangLink is an alternate-language link declared by a page.
type HreflangLink struct {
	Lang string `json:"lang"`
	URL  string `json:"url"`
}

// PageModel is the parsed, read-only representation of one fetched page.
// It is built once per FetchResult and owned by the check engine afterwards.
type PageModel struct {
	URL             *url.URL
	FinalURL        *url.URL
	Depth           int
	StatusCode      int
	ContentType     string
	Title           string
	MetaDescription string
	MetaRobots      string
	Viewport        string
	Headings        []Heading
	Links           []*url.URL
	Canonical       string
	Hreflang        []HreflangLink
	StructuredData  []string
	MalformedLinks  []string
	Headers         http.Header
	ByteSize        int
	Latency         time.Duration
	RedirectChain   []RedirectHop
	ContentHash     string
	Malformed       bool
}

// Finding is a single issue reported by a technical check. Findings are
// append-only and carry enough context for an external reporter to render
// them without touching crawl internals.
type Finding struct {
	CheckID  string            `json:"check_id"`
	Severity Severity          `json:"severity"`
	URL      string            `json:"url"`
	Message  string            `json:"message"`
	Evidence map[string]string `json:"evidence,omitempty"`
}

// PageRecord is one inventory entry: the terminal state of a crawled URL.
type PageRecord struct {
	URL        string        `json:"url"`
	FinalURL   string        `json:"final_url,omitempty"`
	Outcome    Outcome       `json:"outcome"`
	StatusCode int           `json:"status_code,omitempty"`
	Depth      int           `json:"depth"`
	Parent     string        `json:"parent,omitempty"`
	Latency    time.Duration `json:"latency_ns,omitempty"`
	ByteSize   int           `json:"byte_size,omitempty"`
	Error      string        `json:"error,omitempty"`
}

// Summary aggregates session-wide counters for the report header.
type Summary struct {
	PagesFetched       int              `json:"pages_fetched"`
	PagesSkipped       int              `json:"pages_skipped"`
	PagesFailed        int              `json:"pages_failed"`
	FindingsBySeverity map[Severity]int `json:"findings_by_severity"`
}

// AuditReport is the sole artifact handed to reporting collaborators once a
// session terminates. It is assembled once and immutable thereafter.
type AuditReport struct {
	SessionID  string                `json:"session_id"`
	Seed       string                `json:"seed"`
	StartedAt  time.Time             `json:"started_at"`
	FinishedAt time.Time             `json:"finished_at"`
	Inventory  map[string]PageRecord `json:"inventory"`
	Findings   []Finding             `json:"findings"`
	Summary    Summary               `json:"summary"`
}
