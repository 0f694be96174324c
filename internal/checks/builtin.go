package checks

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/Maimoon-github/SEO-Agent/internal/urlnorm"
	"github.com/Maimoon-github/SEO-Agent/pkg/types"
)

// Check identifiers. The first two are also used by the crawl pipeline
// itself for findings raised outside check execution (fetch failures and
// parse degradation), so reporters see one uniform finding vocabulary.
const (
	IDStatusIntegrity        = "status-integrity"
	IDMalformedMarkup        = "malformed-markup"
	IDMalformedLink          = "malformed-link"
	IDMobileMeta             = "mobile-meta"
	IDDuplicateContent       = "duplicate-content"
	IDMetaQuality            = "meta-quality"
	IDStructuredDataValidity = "structured-data-validity"
	IDBrokenInternalLink     = "broken-internal-link"
)

// StatusIntegrity flags non-2xx responses, over-long redirect chains, and
// redirect loops.
type StatusIntegrity struct {
	HopLimit int
}

func (c *StatusIntegrity) ID() string { return IDStatusIntegrity }

func (c *StatusIntegrity) Run(pm *types.PageModel, _ *Index) []types.Finding {
	var findings []types.Finding
	key := urlnorm.Key(pm.URL)

	if pm.StatusCode < 200 || pm.StatusCode >= 300 {
		severity := types.SeverityWarning
		if pm.StatusCode >= 500 {
			severity = types.SeverityCritical
		}
		findings = append(findings, types.Finding{
			CheckID:  c.ID(),
			Severity: severity,
			URL:      key,
			Message:  fmt.Sprintf("page responded with status %d", pm.StatusCode),
			Evidence: map[string]string{"status": strconv.Itoa(pm.StatusCode)},
		})
	}

	limit := c.HopLimit
	if limit <= 0 {
		limit = 3
	}
	if len(pm.RedirectChain) > limit {
		findings = append(findings, types.Finding{
			CheckID:  c.ID(),
			Severity: types.SeverityWarning,
			URL:      key,
			Message:  fmt.Sprintf("redirect chain has %d hops (limit %d)", len(pm.RedirectChain), limit),
			Evidence: chainEvidence(pm.RedirectChain),
		})
	}

	if loop := chainLoop(pm.RedirectChain); loop != "" {
		findings = append(findings, types.Finding{
			CheckID:  c.ID(),
			Severity: types.SeverityCritical,
			URL:      key,
			Message:  "redirect chain contains a loop",
			Evidence: map[string]string{"repeated_url": loop},
		})
	}

	return findings
}

func chainEvidence(chain []types.RedirectHop) map[string]string {
	ev := make(map[string]string, len(chain))
	for i, hop := range chain {
		ev["hop_"+strconv.Itoa(i+1)] = fmt.Sprintf("%d %s", hop.Status, hop.URL)
	}
	return ev
}

func chainLoop(chain []types.RedirectHop) string {
	seen := make(map[string]struct{}, len(chain))
	for _, hop := range chain {
		if _, dup := seen[hop.URL]; dup {
			return hop.URL
		}
		seen[hop.URL] = struct{}{}
	}
	return ""
}

// MobileMeta flags pages missing a usable viewport meta tag.
type MobileMeta struct{}

func (c *MobileMeta) ID() string { return IDMobileMeta }

func (c *MobileMeta) Run(pm *types.PageModel, _ *Index) []types.Finding {
	if !isHTMLModel(pm) || !isSuccess(pm) {
		return nil
	}
	key := urlnorm.Key(pm.URL)
	viewport := strings.ToLower(strings.TrimSpace(pm.Viewport))
	if viewport == "" {
		return []types.Finding{{
			CheckID:  c.ID(),
			Severity: types.SeverityWarning,
			URL:      key,
			Message:  "missing viewport meta tag",
		}}
	}
	if !strings.Contains(viewport, "width=") {
		return []types.Finding{{
			CheckID:  c.ID(),
			Severity: types.SeverityWarning,
			URL:      key,
			Message:  "viewport meta tag does not declare a width",
			Evidence: map[string]string{"viewport": pm.Viewport},
		}}
	}
	return nil
}

// DuplicateContent flags pages whose normalized body hash collides with
// another visited URL. Exact match only; similarity scoring is out of scope.
type DuplicateContent struct{}

func (c *DuplicateContent) ID() string { return IDDuplicateContent }

func (c *DuplicateContent) Run(pm *types.PageModel, idx *Index) []types.Finding {
	if pm.ContentHash == "" || !isSuccess(pm) {
		return nil
	}
	key := urlnorm.Key(pm.URL)
	others := exclude(idx.URLsWithHash(pm.ContentHash), key)
	if len(others) == 0 {
		return nil
	}
	return []types.Finding{{
		CheckID:  c.ID(),
		Severity: types.SeverityWarning,
		URL:      key,
		Message:  fmt.Sprintf("body is byte-identical to %d other page(s)", len(others)),
		Evidence: map[string]string{
			"content_hash": pm.ContentHash,
			"duplicates":   strings.Join(others, " "),
		},
	}}
}

// MetaQuality flags missing or duplicated titles and meta descriptions and
// lengths outside the configured bounds.
type MetaQuality struct {
	TitleMin       int
	TitleMax       int
	DescriptionMin int
	DescriptionMax int
}

func (c *MetaQuality) ID() string { return IDMetaQuality }

func (c *MetaQuality) Run(pm *types.PageModel, idx *Index) []types.Finding {
	if !isHTMLModel(pm) || !isSuccess(pm) {
		return nil
	}
	key := urlnorm.Key(pm.URL)
	var findings []types.Finding

	title := strings.TrimSpace(pm.Title)
	switch {
	case title == "":
		findings = append(findings, types.Finding{
			CheckID: c.ID(), Severity: types.SeverityWarning, URL: key,
			Message: "missing title",
		})
	case len([]rune(title)) < c.TitleMin || len([]rune(title)) > c.TitleMax:
		findings = append(findings, types.Finding{
			CheckID: c.ID(), Severity: types.SeverityInfo, URL: key,
			Message:  fmt.Sprintf("title length %d outside bounds %d-%d", len([]rune(title)), c.TitleMin, c.TitleMax),
			Evidence: map[string]string{"title": title},
		})
	}
	if title != "" {
		if others := exclude(idx.URLsWithTitle(title), key); len(others) > 0 {
			findings = append(findings, types.Finding{
				CheckID: c.ID(), Severity: types.SeverityWarning, URL: key,
				Message:  "title duplicated on other pages",
				Evidence: map[string]string{"title": title, "duplicates": strings.Join(others, " ")},
			})
		}
	}

	desc := strings.TrimSpace(pm.MetaDescription)
	switch {
	case desc == "":
		findings = append(findings, types.Finding{
			CheckID: c.ID(), Severity: types.SeverityWarning, URL: key,
			Message: "missing meta description",
		})
	case len([]rune(desc)) < c.DescriptionMin || len([]rune(desc)) > c.DescriptionMax:
		findings = append(findings, types.Finding{
			CheckID: c.ID(), Severity: types.SeverityInfo, URL: key,
			Message:  fmt.Sprintf("meta description length %d outside bounds %d-%d", len([]rune(desc)), c.DescriptionMin, c.DescriptionMax),
			Evidence: map[string]string{"description": desc},
		})
	}
	if desc != "" {
		if others := exclude(idx.URLsWithDescription(desc), key); len(others) > 0 {
			findings = append(findings, types.Finding{
				CheckID: c.ID(), Severity: types.SeverityWarning, URL: key,
				Message:  "meta description duplicated on other pages",
				Evidence: map[string]string{"duplicates": strings.Join(others, " ")},
			})
		}
	}

	return findings
}

// StructuredDataValidity flags structured-data blocks that are not
// well-formed JSON.
type StructuredDataValidity struct{}

func (c *StructuredDataValidity) ID() string { return IDStructuredDataValidity }

func (c *StructuredDataValidity) Run(pm *types.PageModel, _ *Index) []types.Finding {
	var findings []types.Finding
	key := urlnorm.Key(pm.URL)
	for i, block := range pm.StructuredData {
		if json.Valid([]byte(block)) {
			continue
		}
		findings = append(findings, types.Finding{
			CheckID:  c.ID(),
			Severity: types.SeverityWarning,
			URL:      key,
			Message:  fmt.Sprintf("structured-data block %d is not well-formed JSON", i+1),
			Evidence: map[string]string{"block": truncate(block, 200)},
		})
	}
	return findings
}

// BrokenInternalLink flags outbound links to internal URLs whose recorded
// crawl outcome is failed or a 4xx/5xx status. Links to robots-skipped URLs
// are deliberately not flagged: the crawler never verified them.
type BrokenInternalLink struct{}

func (c *BrokenInternalLink) ID() string { return IDBrokenInternalLink }

func (c *BrokenInternalLink) Run(pm *types.PageModel, idx *Index) []types.Finding {
	var findings []types.Finding
	key := urlnorm.Key(pm.URL)
	for _, link := range pm.Links {
		if !idx.Internal(link) {
			continue
		}
		rec, visited := idx.Outcome(urlnorm.Key(link))
		if !visited || rec.Outcome == types.OutcomeSkippedRobots {
			continue
		}
		broken := rec.Outcome == types.OutcomeFailed || rec.StatusCode >= 400
		if !broken {
			continue
		}
		ev := map[string]string{"target": urlnorm.Key(link), "outcome": string(rec.Outcome)}
		if rec.StatusCode > 0 {
			ev["status"] = strconv.Itoa(rec.StatusCode)
		}
		findings = append(findings, types.Finding{
			CheckID:  c.ID(),
			Severity: types.SeverityWarning,
			URL:      key,
			Message:  fmt.Sprintf("internal link target %s is broken", urlnorm.Key(link)),
			Evidence: ev,
		})
	}
	return findings
}

func isSuccess(pm *types.PageModel) bool {
	return pm.StatusCode >= 200 && pm.StatusCode < 300
}

func isHTMLModel(pm *types.PageModel) bool {
	ct := strings.ToLower(pm.ContentType)
	return ct == "" || strings.Contains(ct, "text/html") || strings.Contains(ct, "xhtml")
}

func exclude(urls []string, self string) []string {
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		if u != self {
			out = append(out, u)
		}
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
