package checks

import (
	"net/url"
	"sort"
	"strings"

	"github.com/Maimoon-github/SEO-Agent/internal/urlnorm"
	"github.com/Maimoon-github/SEO-Agent/pkg/types"
)

// Index is the crawl-wide view handed to every check. It is built once after
// the frontier drains and is strictly read-only during check execution, so
// checks may run concurrently.
type Index struct {
	seedHost string
	outcomes map[string]types.PageRecord
	hashes   map[string][]string
	titles   map[string][]string
	descs    map[string][]string
}

// NewIndex assembles the index from the finished inventory and page models.
func NewIndex(seed *url.URL, inventory map[string]types.PageRecord, pages []*types.PageModel) *Index {
	idx := &Index{
		outcomes: inventory,
		hashes:   make(map[string][]string),
		titles:   make(map[string][]string),
		descs:    make(map[string][]string),
	}
	if seed != nil {
		idx.seedHost = strings.ToLower(seed.Hostname())
	}
	for _, pm := range pages {
		key := urlnorm.Key(pm.URL)
		if pm.ContentHash != "" {
			idx.hashes[pm.ContentHash] = append(idx.hashes[pm.ContentHash], key)
		}
		if t := strings.TrimSpace(pm.Title); t != "" {
			idx.titles[t] = append(idx.titles[t], key)
		}
		if d := strings.TrimSpace(pm.MetaDescription); d != "" {
			idx.descs[d] = append(idx.descs[d], key)
		}
	}
	for _, m := range []map[string][]string{idx.hashes, idx.titles, idx.descs} {
		for k := range m {
			sort.Strings(m[k])
		}
	}
	return idx
}

// Outcome reports the recorded terminal state for a normalized URL key.
func (i *Index) Outcome(key string) (types.PageRecord, bool) {
	rec, ok := i.outcomes[key]
	return rec, ok
}

// URLsWithHash returns every visited URL whose body hash matches, sorted.
func (i *Index) URLsWithHash(hash string) []string {
	return i.hashes[hash]
}

// URLsWithTitle returns every visited URL sharing the exact title, sorted.
func (i *Index) URLsWithTitle(title string) []string {
	return i.titles[strings.TrimSpace(title)]
}

// URLsWithDescription returns every URL sharing the meta description, sorted.
func (i *Index) URLsWithDescription(desc string) []string {
	return i.descs[strings.TrimSpace(desc)]
}

// Internal reports whether a URL belongs to the audited site.
func (i *Index) Internal(u *url.URL) bool {
	if u == nil {
		return false
	}
	return strings.EqualFold(u.Hostname(), i.seedHost)
}
