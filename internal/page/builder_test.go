package page

import (
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Maimoon-github/SEO-Agent/internal/config"
	"github.com/Maimoon-github/SEO-Agent/internal/urlnorm"
	"github.com/Maimoon-github/SEO-Agent/pkg/types"
)

const samplePage = `<!DOCTYPE html>
<html>
<head>
  <title>Welcome to the Example Store</title>
  <meta name="description" content="The example store sells example goods of every kind, shipped worldwide within two business days.">
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <meta name="robots" content="index,follow">
  <link rel="canonical" href="/">
  <link rel="alternate" hreflang="de" href="https://example.com/de/">
  <link rel="stylesheet" href="/assets/site.css">
  <script type="application/ld+json">{"@context":"https://schema.org","@type":"Store"}</script>
</head>
<body>
  <h1>Example Store</h1>
  <h2>Departments</h2>
  <a href="/about">About</a>
  <a href="/about#team">Team</a>
  <a href="/products?utm_source=banner">Products</a>
  <a href="/about">About again</a>
  <a href="mailto:shop@example.com">Mail us</a>
  <a href="javascript:void(0)">Noop</a>
  <a href="ftp://example.com/catalog">Catalog over FTP</a>
  <img src="/assets/logo.png">
  <script src="/assets/app.js"></script>
</body>
</html>`

func testBuilder() *Builder {
	norm := urlnorm.New(config.TrailingSlashKeep, []string{"utm_*"})
	return NewBuilder(norm, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func htmlResult(t *testing.T, rawURL, body string) *types.FetchResult {
	t.Helper()
	u, err := url.Parse(rawURL)
	require.NoError(t, err)
	return &types.FetchResult{
		URL:         u,
		FinalURL:    u,
		StatusCode:  http.StatusOK,
		ContentType: "text/html; charset=utf-8",
		Headers:     http.Header{"Content-Type": []string{"text/html"}},
		Body:        []byte(body),
		Latency:     12 * time.Millisecond,
	}
}

func TestBuildExtractsMetadata(t *testing.T) {
	pm := testBuilder().Build(htmlResult(t, "https://example.com/", samplePage), 0)

	require.False(t, pm.Malformed)
	require.Equal(t, "Welcome to the Example Store", pm.Title)
	require.Contains(t, pm.MetaDescription, "example goods")
	require.Equal(t, "width=device-width, initial-scale=1", pm.Viewport)
	require.Equal(t, "index,follow", pm.MetaRobots)
	require.Equal(t, "https://example.com/", pm.Canonical)
	require.Equal(t, []types.HreflangLink{{Lang: "de", URL: "https://example.com/de/"}}, pm.Hreflang)
	require.Len(t, pm.StructuredData, 1)
	require.NotEmpty(t, pm.ContentHash)
	require.Equal(t, len(samplePage), pm.ByteSize)

	require.Equal(t, []types.Heading{
		{Level: 1, Text: "Example Store"},
		{Level: 2, Text: "Departments"},
	}, pm.Headings)
}

func TestBuildCollectsNormalizedDedupedLinks(t *testing.T) {
	pm := testBuilder().Build(htmlResult(t, "https://example.com/", samplePage), 0)

	var got []string
	for _, link := range pm.Links {
		got = append(got, link.String())
	}
	require.Equal(t, []string{
		"https://example.com/about",
		"https://example.com/products",
		"https://example.com/assets/logo.png",
		"https://example.com/assets/app.js",
		"https://example.com/assets/site.css",
	}, got, "anchors before resources, fragments and tracking params stripped, duplicates collapsed")

	require.Equal(t, []string{"ftp://example.com/catalog"}, pm.MalformedLinks)
}

func TestBuildNonHTMLIsMinimal(t *testing.T) {
	u, err := url.Parse("https://example.com/assets/logo.png")
	require.NoError(t, err)
	pm := testBuilder().Build(&types.FetchResult{
		URL:         u,
		FinalURL:    u,
		StatusCode:  http.StatusOK,
		ContentType: "image/png",
		Body:        []byte{0x89, 0x50, 0x4e, 0x47},
	}, 1)

	require.False(t, pm.Malformed)
	require.Empty(t, pm.Title)
	require.Empty(t, pm.Links)
	require.Equal(t, 4, pm.ByteSize)
	require.Equal(t, http.StatusOK, pm.StatusCode)
}

func TestBuildEmptyHTMLBodyIsMalformed(t *testing.T) {
	pm := testBuilder().Build(htmlResult(t, "https://example.com/empty", ""), 0)
	require.True(t, pm.Malformed)
	require.Equal(t, http.StatusOK, pm.StatusCode, "partial model still carries the status")
}

func TestContentHashIgnoresWhitespaceDifferences(t *testing.T) {
	b := testBuilder()
	first := b.Build(htmlResult(t, "https://example.com/a", "<html><body><p>same   text</p></body></html>"), 0)
	second := b.Build(htmlResult(t, "https://example.com/b", "<html><body><p>same\n\ntext</p></body></html>"), 0)
	require.Equal(t, first.ContentHash, second.ContentHash)

	third := b.Build(htmlResult(t, "https://example.com/c", "<html><body><p>different text</p></body></html>"), 0)
	require.NotEqual(t, first.ContentHash, third.ContentHash)
}
