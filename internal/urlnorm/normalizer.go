// Package urlnorm canonicalizes URLs so that two addresses naming the same
// page always normalize to an identical value. The normalized string is the
// dedup key used by the frontier and every crawl-wide index.
package urlnorm

import (
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/Maimoon-github/SEO-Agent/internal/config"
)

// Error reports a link that could not be normalized. The offending link is
// dropped by the caller; it never aborts a crawl.
type Error struct {
	Raw    string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("normalize %q: %s", e.Raw, e.Reason)
}

// Normalizer applies a fixed canonicalization policy. It is a pure value:
// deterministic, side-effect free, and safe for concurrent use.
type Normalizer struct {
	trailingSlash string
	stripExact    map[string]struct{}
	stripPrefixes []string
}

// New builds a Normalizer. stripParams entries ending in "*" match by prefix
// (e.g. "utm_*"), everything else matches the query key exactly.
func New(trailingSlash string, stripParams []string) *Normalizer {
	n := &Normalizer{
		trailingSlash: trailingSlash,
		stripExact:    make(map[string]struct{}, len(stripParams)),
	}
	if n.trailingSlash == "" {
		n.trailingSlash = config.TrailingSlashKeep
	}
	for _, p := range stripParams {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		if strings.HasSuffix(p, "*") {
			prefix := strings.TrimSuffix(p, "*")
			if prefix != "" {
				n.stripPrefixes = append(n.stripPrefixes, prefix)
			}
			continue
		}
		n.stripExact[p] = struct{}{}
	}
	return n
}

// Normalize resolves raw against base (when base is non-nil) and returns the
// canonical absolute URL. Only http and https are admitted. Idempotent:
// normalizing an already-normalized URL is a no-op.
func (n *Normalizer) Normalize(raw string, base *url.URL) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, &Error{Raw: raw, Reason: "empty URL"}
	}

	var u *url.URL
	var err error
	if base != nil {
		u, err = base.Parse(raw)
	} else {
		u, err = url.Parse(raw)
	}
	if err != nil {
		return nil, &Error{Raw: raw, Reason: err.Error()}
	}

	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, &Error{Raw: raw, Reason: fmt.Sprintf("disallowed scheme %q", u.Scheme)}
	}
	if u.Hostname() == "" {
		return nil, &Error{Raw: raw, Reason: "missing host"}
	}

	host := strings.ToLower(u.Hostname())
	if port := u.Port(); port != "" && port != defaultPort(u.Scheme) {
		host = host + ":" + port
	}
	u.Host = host

	u.Fragment = ""
	u.RawFragment = ""

	if u.RawQuery != "" {
		u.RawQuery = n.filterQuery(u.Query())
	}

	u.Path = n.applySlashPolicy(u.Path)
	u.RawPath = ""

	return u, nil
}

// Key returns the canonical identity string for an already-normalized URL.
func Key(u *url.URL) string {
	if u == nil {
		return ""
	}
	return u.String()
}

func (n *Normalizer) filterQuery(values url.Values) string {
	for key := range values {
		lower := strings.ToLower(key)
		if _, drop := n.stripExact[lower]; drop {
			delete(values, key)
			continue
		}
		for _, prefix := range n.stripPrefixes {
			if strings.HasPrefix(lower, prefix) {
				delete(values, key)
				break
			}
		}
	}
	// Encode sorts keys, giving a stable dedup key.
	return values.Encode()
}

func (n *Normalizer) applySlashPolicy(p string) string {
	if p == "" || p == "/" {
		return "/"
	}
	switch n.trailingSlash {
	case config.TrailingSlashStrip:
		stripped := strings.TrimRight(p, "/")
		if stripped == "" {
			return "/"
		}
		return stripped
	case config.TrailingSlashAdd:
		if strings.HasSuffix(p, "/") {
			return p
		}
		// Paths naming a file (with an extension) never gain a slash.
		if path.Ext(p) != "" {
			return p
		}
		return p + "/"
	default:
		return p
	}
}

func defaultPort(scheme string) string {
	switch scheme {
	case "http":
		return "80"
	case "https":
		return "443"
	default:
		return ""
	}
}
