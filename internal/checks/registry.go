// Package checks runs the technical-health battery over crawled pages.
// Checks are pure: they read one PageModel plus the read-only crawl-wide
// index and emit findings. New checks register by identifier without
// touching the engine.
package checks

import (
	"fmt"
	"sort"
	"sync"

	"github.com/Maimoon-github/SEO-Agent/internal/config"
	"github.com/Maimoon-github/SEO-Agent/pkg/types"
)

// Check is a single named policy evaluated against every fetched page.
type Check interface {
	ID() string
	Run(pm *types.PageModel, idx *Index) []types.Finding
}

// Registry maps check identifiers to implementations. The set is open:
// callers may register additional checks before a session starts.
type Registry struct {
	mu     sync.RWMutex
	checks map[string]Check
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{checks: make(map[string]Check)}
}

// Defaults builds a registry holding the built-in checks, minus any IDs
// listed in cfg.Disabled.
func Defaults(cfg config.ChecksConfig) *Registry {
	r := NewRegistry()
	disabled := make(map[string]struct{}, len(cfg.Disabled))
	for _, id := range cfg.Disabled {
		disabled[id] = struct{}{}
	}
	builtin := []Check{
		&StatusIntegrity{HopLimit: cfg.RedirectHopLimit},
		&MobileMeta{},
		&DuplicateContent{},
		&MetaQuality{
			TitleMin:       cfg.TitleMinLength,
			TitleMax:       cfg.TitleMaxLength,
			DescriptionMin: cfg.DescriptionMinLength,
			DescriptionMax: cfg.DescriptionMaxLength,
		},
		&StructuredDataValidity{},
		&BrokenInternalLink{},
	}
	for _, c := range builtin {
		if _, off := disabled[c.ID()]; off {
			continue
		}
		// Built-in IDs are unique by construction.
		_ = r.Register(c)
	}
	return r
}

// Register adds a check, rejecting duplicate identifiers.
func (r *Registry) Register(c Check) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.checks[c.ID()]; dup {
		return fmt.Errorf("check %q already registered", c.ID())
	}
	r.checks[c.ID()] = c
	return nil
}

// Checks returns the registered checks ordered by identifier, so runs are
// deterministic regardless of registration order.
func (r *Registry) Checks() []Check {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.checks))
	for id := range r.checks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]Check, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.checks[id])
	}
	return out
}
