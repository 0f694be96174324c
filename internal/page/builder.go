// Package page turns a FetchResult into the read-only PageModel consumed by
// the check engine. HTML bodies are parsed for metadata and references;
// everything else gets a minimal model sufficient for link-integrity checks.
package page

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"mime"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/Maimoon-github/SEO-Agent/internal/urlnorm"
	"github.com/Maimoon-github/SEO-Agent/pkg/types"
)

// Builder constructs PageModels. Safe for concurrent use.
type Builder struct {
	norm   *urlnorm.Normalizer
	logger *slog.Logger
}

// NewBuilder wires a Builder to the session's normalizer.
func NewBuilder(norm *urlnorm.Normalizer, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{norm: norm, logger: logger}
}

// Build produces a PageModel for a successful fetch. Malformed markup
// degrades to a best-effort partial model with Malformed set; the page is
// never discarded.
func (b *Builder) Build(res *types.FetchResult, depth int) *types.PageModel {
	pm := &types.PageModel{
		URL:           res.URL,
		FinalURL:      res.FinalURL,
		Depth:         depth,
		StatusCode:    res.StatusCode,
		ContentType:   res.ContentType,
		Headers:       res.Headers,
		ByteSize:      len(res.Body),
		Latency:       res.Latency,
		RedirectChain: res.RedirectChain,
	}

	if !isHTML(res.ContentType) {
		// Non-HTML resources carry status/size/headers only.
		pm.ContentHash = hashBody(res.Body)
		return pm
	}

	if len(res.Body) == 0 {
		pm.Malformed = true
		return pm
	}
	pm.ContentHash = hashBody(res.Body)

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(res.Body))
	if err != nil {
		b.logger.Debug("html parse failed", "url", res.URL.String(), "error", err)
		pm.Malformed = true
		return pm
	}

	pm.Title = strings.TrimSpace(doc.Find("title").First().Text())
	pm.MetaDescription = metaContent(doc, "description")
	pm.MetaRobots = metaContent(doc, "robots")
	pm.Viewport = metaContent(doc, "viewport")

	doc.Find("h1,h2,h3,h4,h5,h6").Each(func(_ int, s *goquery.Selection) {
		if len(s.Nodes) == 0 {
			return
		}
		tag := s.Nodes[0].Data
		if len(tag) != 2 {
			return
		}
		pm.Headings = append(pm.Headings, types.Heading{
			Level: int(tag[1] - '0'),
			Text:  strings.TrimSpace(s.Text()),
		})
	})

	if href, ok := doc.Find("link[rel='canonical']").First().Attr("href"); ok {
		if u, err := b.norm.Normalize(href, pm.FinalURL); err == nil {
			pm.Canonical = urlnorm.Key(u)
		}
	}

	doc.Find("link[rel='alternate'][hreflang]").Each(func(_ int, s *goquery.Selection) {
		lang, _ := s.Attr("hreflang")
		href, ok := s.Attr("href")
		if !ok || strings.TrimSpace(href) == "" {
			return
		}
		pm.Hreflang = append(pm.Hreflang, types.HreflangLink{Lang: lang, URL: strings.TrimSpace(href)})
	})

	doc.Find("script[type='application/ld+json']").Each(func(_ int, s *goquery.Selection) {
		raw := strings.TrimSpace(s.Text())
		if raw != "" {
			pm.StructuredData = append(pm.StructuredData, raw)
		}
	})

	b.collectReferences(doc, pm)

	if !hasDocumentStructure(doc) {
		pm.Malformed = true
	}

	return pm
}

// collectReferences gathers anchors and resource refs, absolute-ized and
// deduped through the normalizer against the page's final URL.
func (b *Builder) collectReferences(doc *goquery.Document, pm *types.PageModel) {
	seen := make(map[string]struct{})

	add := func(raw string) {
		raw = strings.TrimSpace(raw)
		if raw == "" || strings.HasPrefix(raw, "#") {
			return
		}
		lower := strings.ToLower(raw)
		if strings.HasPrefix(lower, "javascript:") ||
			strings.HasPrefix(lower, "mailto:") ||
			strings.HasPrefix(lower, "tel:") ||
			strings.HasPrefix(lower, "data:") {
			return
		}
		u, err := b.norm.Normalize(raw, pm.FinalURL)
		if err != nil {
			pm.MalformedLinks = append(pm.MalformedLinks, raw)
			return
		}
		key := urlnorm.Key(u)
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		pm.Links = append(pm.Links, u)
	}

	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		if href, ok := s.Attr("href"); ok {
			add(href)
		}
	})
	doc.Find("img[src], script[src]").Each(func(_ int, s *goquery.Selection) {
		if src, ok := s.Attr("src"); ok {
			add(src)
		}
	})
	doc.Find("link[rel='stylesheet'][href]").Each(func(_ int, s *goquery.Selection) {
		if href, ok := s.Attr("href"); ok {
			add(href)
		}
	})
}

// metaContent returns the content attribute of the first meta tag with the
// given name.
func metaContent(doc *goquery.Document, name string) string {
	content, _ := doc.Find("meta[name='" + name + "']").First().Attr("content")
	return strings.TrimSpace(content)
}

// hashBody hashes a whitespace-normalized body so formatting-only
// differences do not defeat exact duplicate detection.
func hashBody(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	normalized := bytes.Join(bytes.Fields(body), []byte(" "))
	sum := sha256.Sum256(normalized)
	return hex.EncodeToString(sum[:])
}

func isHTML(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		// Servers that omit or mangle Content-Type still mostly serve HTML.
		return contentType == ""
	}
	return mediaType == "text/html" || mediaType == "application/xhtml+xml"
}

// hasDocumentStructure reports whether the parsed tree contains any real
// element content. html parsing is lenient, so a body of garbage bytes still
// parses; an empty head and body is the signal that markup was unusable.
func hasDocumentStructure(doc *goquery.Document) bool {
	if doc.Find("head").Children().Length() > 0 || doc.Find("body").Children().Length() > 0 {
		return true
	}
	return strings.TrimSpace(doc.Find("body").Text()) != ""
}
