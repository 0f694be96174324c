// Package frontier owns the crawl work queue: discovered-but-unvisited URLs
// in FIFO order, the visited set that makes re-discovery a no-op, and the
// budget ceilings whose refusal drains the crawl to a natural stop.
package frontier

import (
	"sync"

	"github.com/Maimoon-github/SEO-Agent/internal/urlnorm"
	"github.com/Maimoon-github/SEO-Agent/pkg/types"
)

// Frontier is safe for concurrent use by all workers. A single short mutex
// guards queue and set mutation; no I/O ever happens under it.
type Frontier struct {
	mu   sync.Mutex
	cond *sync.Cond

	queue   []types.CrawlTask
	seen    map[string]struct{}
	visited map[string]types.PageRecord

	inflight int
	admitted int
	closed   bool

	outcomes map[types.Outcome]int

	maxDepth int
	maxPages int
}

// Stats is a point-in-time snapshot for progress observation.
type Stats struct {
	Queued   int
	InFlight int
	Visited  int
	Admitted int
	Fetched  int
	Skipped  int
	Failed   int
}

// New creates a frontier with the given depth and page budgets.
func New(maxDepth, maxPages int) *Frontier {
	f := &Frontier{
		seen:     make(map[string]struct{}),
		visited:  make(map[string]types.PageRecord),
		outcomes: make(map[types.Outcome]int),
		maxDepth: maxDepth,
		maxPages: maxPages,
	}
	f.cond = sync.NewCond(&f.mu)
	return f
}

// Enqueue admits a task unless its URL was already queued or visited, its
// depth exceeds the ceiling, a budget is exhausted, or the frontier is
// closed. Returns false on refusal; refusals are silent no-ops by design of
// the dedup invariant, so callers need not distinguish the reasons.
func (f *Frontier) Enqueue(task types.CrawlTask) bool {
	if task.URL == nil {
		return false
	}
	key := urlnorm.Key(task.URL)

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return false
	}
	if task.Depth > f.maxDepth {
		return false
	}
	if f.maxPages > 0 && f.admitted >= f.maxPages {
		return false
	}
	if _, dup := f.seen[key]; dup {
		return false
	}

	f.seen[key] = struct{}{}
	f.admitted++
	f.queue = append(f.queue, task)
	f.cond.Signal()
	return true
}

// Dequeue returns the next task in discovery order. It blocks while the
// queue is empty but fetches are still in flight (their completion may grow
// the queue), and returns ok=false once the frontier is drained or closed.
// The caller must eventually call MarkVisited for every dequeued task.
func (f *Frontier) Dequeue() (types.CrawlTask, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for {
		if len(f.queue) > 0 && !f.closed {
			task := f.queue[0]
			f.queue = f.queue[1:]
			f.inflight++
			return task, true
		}
		if f.closed || f.inflight == 0 {
			return types.CrawlTask{}, false
		}
		f.cond.Wait()
	}
}

// MarkVisited records the terminal outcome for a dequeued task's URL and
// releases its in-flight token. Irreversible: the first record wins.
func (f *Frontier) MarkVisited(u string, rec types.PageRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, done := f.visited[u]; !done {
		f.visited[u] = rec
		f.outcomes[rec.Outcome]++
	}
	if f.inflight > 0 {
		f.inflight--
	}
	// Wake everyone: with inflight possibly at zero, blocked Dequeues must
	// re-check the drain condition, not just wait for new work.
	f.cond.Broadcast()
}

// Close refuses all further enqueue and dequeue admission. In-flight tasks
// finish normally; used for wall-clock deadlines and cancellation.
func (f *Frontier) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	f.cond.Broadcast()
}

// Drained reports whether no work remains: empty queue and nothing in flight.
func (f *Frontier) Drained() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queue) == 0 && f.inflight == 0
}

// Snapshot returns current progress counters.
func (f *Frontier) Snapshot() Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return Stats{
		Queued:   len(f.queue),
		InFlight: f.inflight,
		Visited:  len(f.visited),
		Admitted: f.admitted,
		Fetched:  f.outcomes[types.OutcomeFetched] + f.outcomes[types.OutcomeMalformed],
		Skipped:  f.outcomes[types.OutcomeSkippedRobots],
		Failed:   f.outcomes[types.OutcomeFailed],
	}
}

// Inventory returns a copy of the visited map: URL key to terminal record.
func (f *Frontier) Inventory() map[string]types.PageRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]types.PageRecord, len(f.visited))
	for k, v := range f.visited {
		out[k] = v
	}
	return out
}

// Outcome reports the recorded terminal state for a URL key, if any.
func (f *Frontier) Outcome(u string) (types.PageRecord, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.visited[u]
	return rec, ok
}
