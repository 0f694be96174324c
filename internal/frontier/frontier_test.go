package frontier

import (
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Maimoon-github/SEO-Agent/pkg/types"
)

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func TestEnqueueDedupes(t *testing.T) {
	f := New(3, 100)
	u := mustURL(t, "https://example.com/a")

	require.True(t, f.Enqueue(types.CrawlTask{URL: u, Depth: 0}))
	require.False(t, f.Enqueue(types.CrawlTask{URL: u, Depth: 1}), "identical URL must be a no-op")

	task, ok := f.Dequeue()
	require.True(t, ok)
	require.Equal(t, "https://example.com/a", task.URL.String())

	// Still deduped after the task completed.
	f.MarkVisited("https://example.com/a", types.PageRecord{Outcome: types.OutcomeFetched})
	require.False(t, f.Enqueue(types.CrawlTask{URL: u, Depth: 0}))
}

func TestEnqueueRefusesBeyondDepth(t *testing.T) {
	f := New(2, 100)
	require.True(t, f.Enqueue(types.CrawlTask{URL: mustURL(t, "https://example.com/d2"), Depth: 2}))
	require.False(t, f.Enqueue(types.CrawlTask{URL: mustURL(t, "https://example.com/d3"), Depth: 3}))
}

func TestEnqueueRefusesBeyondPageBudget(t *testing.T) {
	f := New(5, 2)
	require.True(t, f.Enqueue(types.CrawlTask{URL: mustURL(t, "https://example.com/1")}))
	require.True(t, f.Enqueue(types.CrawlTask{URL: mustURL(t, "https://example.com/2")}))
	require.False(t, f.Enqueue(types.CrawlTask{URL: mustURL(t, "https://example.com/3")}))
}

func TestDequeueFIFO(t *testing.T) {
	f := New(3, 100)
	for _, p := range []string{"/a", "/b", "/c"} {
		f.Enqueue(types.CrawlTask{URL: mustURL(t, "https://example.com"+p)})
	}
	var got []string
	for i := 0; i < 3; i++ {
		task, ok := f.Dequeue()
		require.True(t, ok)
		got = append(got, task.URL.Path)
	}
	require.Equal(t, []string{"/a", "/b", "/c"}, got)
}

func TestDequeueDrainsWhenIdle(t *testing.T) {
	f := New(3, 100)
	_, ok := f.Dequeue()
	require.False(t, ok, "empty frontier with nothing in flight is drained")
	require.True(t, f.Drained())
}

func TestDequeueWaitsForInflightDiscovery(t *testing.T) {
	f := New(3, 100)
	f.Enqueue(types.CrawlTask{URL: mustURL(t, "https://example.com/a")})

	task, ok := f.Dequeue()
	require.True(t, ok)

	// A second consumer blocks: the queue is empty but /a is in flight and
	// may still discover children.
	results := make(chan bool, 1)
	go func() {
		child, ok := f.Dequeue()
		results <- ok && child.URL.Path == "/b"
	}()

	select {
	case <-results:
		t.Fatal("Dequeue returned before in-flight task completed")
	case <-time.After(20 * time.Millisecond):
	}

	f.Enqueue(types.CrawlTask{URL: mustURL(t, "https://example.com/b"), Depth: 1, Parent: task.URL})
	f.MarkVisited("https://example.com/a", types.PageRecord{Outcome: types.OutcomeFetched})

	select {
	case ok := <-results:
		require.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("Dequeue did not observe the discovered child")
	}
}

func TestCloseStopsAdmission(t *testing.T) {
	f := New(3, 100)
	f.Enqueue(types.CrawlTask{URL: mustURL(t, "https://example.com/a")})
	f.Close()

	require.False(t, f.Enqueue(types.CrawlTask{URL: mustURL(t, "https://example.com/b")}))
	_, ok := f.Dequeue()
	require.False(t, ok)
}

func TestConcurrentWorkersDrain(t *testing.T) {
	f := New(10, 1000)
	f.Enqueue(types.CrawlTask{URL: mustURL(t, "https://example.com/0")})

	// Each "page" discovers two children up to a fixed fan-out; workers
	// race over the shared frontier and it must still drain.
	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := make(map[string]int)

	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				task, ok := f.Dequeue()
				if !ok {
					return
				}
				key := task.URL.String()
				mu.Lock()
				seen[key]++
				mu.Unlock()
				if task.Depth < 4 {
					for i := 0; i < 2; i++ {
						child, _ := url.Parse(key + "/" + string(rune('a'+i)))
						f.Enqueue(types.CrawlTask{URL: child, Depth: task.Depth + 1, Parent: task.URL})
					}
				}
				f.MarkVisited(key, types.PageRecord{Outcome: types.OutcomeFetched, Depth: task.Depth})
			}
		}()
	}
	wg.Wait()

	require.True(t, f.Drained())
	// 1 + 2 + 4 + 8 + 16 = full binary fan-out, each exactly once.
	require.Len(t, seen, 31)
	for key, count := range seen {
		require.Equal(t, 1, count, "URL %s dequeued %d times", key, count)
	}
}

func TestMarkVisitedIsIrreversible(t *testing.T) {
	f := New(3, 100)
	f.Enqueue(types.CrawlTask{URL: mustURL(t, "https://example.com/a")})
	_, _ = f.Dequeue()

	f.MarkVisited("https://example.com/a", types.PageRecord{Outcome: types.OutcomeFailed})
	f.MarkVisited("https://example.com/a", types.PageRecord{Outcome: types.OutcomeFetched})

	rec, ok := f.Outcome("https://example.com/a")
	require.True(t, ok)
	require.Equal(t, types.OutcomeFailed, rec.Outcome, "first terminal record wins")
}
