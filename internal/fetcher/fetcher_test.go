package fetcher

import (
	"compress/gzip"
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testClient(maxRetries int) *Client {
	return New(Options{
		UserAgent:    "seo-agent-bot/test",
		Timeout:      5 * time.Second,
		MaxBodyBytes: 1 << 20,
		MaxRedirects: 10,
		MaxRetries:   maxRetries,
		RetryBackoff: time.Millisecond,
	})
}

func fetchURL(t *testing.T, srv *httptest.Server, path string) *url.URL {
	t.Helper()
	u, err := url.Parse(srv.URL + path)
	require.NoError(t, err)
	return u
}

func TestFetchSuccess(t *testing.T) {
	var gotUA atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA.Store(r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte("<html><body>ok</body></html>"))
	}))
	t.Cleanup(srv.Close)

	res := testClient(2).Fetch(context.Background(), fetchURL(t, srv, "/"))
	require.NoError(t, res.Err)
	require.Equal(t, "seo-agent-bot/test", gotUA.Load())
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Contains(t, string(res.Body), "ok")
	require.Equal(t, "text/html; charset=utf-8", res.ContentType)
	require.Empty(t, res.RedirectChain)
	require.Greater(t, res.Latency, time.Duration(0))
}

func TestFetchRetriesServerErrors(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte("recovered"))
	}))
	t.Cleanup(srv.Close)

	res := testClient(2).Fetch(context.Background(), fetchURL(t, srv, "/flaky"))
	require.NoError(t, res.Err)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.EqualValues(t, 3, attempts.Load())
}

func TestFetchExhaustedRetriesReportError(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	res := testClient(2).Fetch(context.Background(), fetchURL(t, srv, "/down"))
	require.Error(t, res.Err)
	require.Equal(t, http.StatusInternalServerError, res.StatusCode)
	require.EqualValues(t, 3, attempts.Load(), "initial attempt plus two retries")
}

func TestFetchDoesNotRetryClientErrors(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	res := testClient(3).Fetch(context.Background(), fetchURL(t, srv, "/missing"))
	require.NoError(t, res.Err, "a 404 is a terminal outcome, not a fetch error")
	require.Equal(t, http.StatusNotFound, res.StatusCode)
	require.EqualValues(t, 1, attempts.Load())
}

func TestFetchHonorsRetryAfterOn429(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte("ok"))
	}))
	t.Cleanup(srv.Close)

	res := testClient(2).Fetch(context.Background(), fetchURL(t, srv, "/limited"))
	require.NoError(t, res.Err)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.EqualValues(t, 2, attempts.Load())
}

func TestFetchRecordsRedirectChain(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/old", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/interim", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/interim", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/final", http.StatusFound)
	})
	mux.HandleFunc("/final", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("destination"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	res := testClient(0).Fetch(context.Background(), fetchURL(t, srv, "/old"))
	require.NoError(t, res.Err)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Equal(t, srv.URL+"/final", res.FinalURL.String())

	require.Len(t, res.RedirectChain, 2)
	require.Equal(t, srv.URL+"/old", res.RedirectChain[0].URL)
	require.Equal(t, http.StatusMovedPermanently, res.RedirectChain[0].Status)
	require.Equal(t, srv.URL+"/interim", res.RedirectChain[1].URL)
	require.Equal(t, http.StatusFound, res.RedirectChain[1].Status)
}

func TestFetchDecompressesGzip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")
		w.Header().Set("Content-Type", "text/html")
		gz := gzip.NewWriter(w)
		gz.Write([]byte("<html><body>compressed payload</body></html>"))
		gz.Close()
	}))
	t.Cleanup(srv.Close)

	res := testClient(0).Fetch(context.Background(), fetchURL(t, srv, "/"))
	require.NoError(t, res.Err)
	require.Contains(t, string(res.Body), "compressed payload")
}

func TestFetchTruncatesOversizedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for i := 0; i < 1024; i++ {
			w.Write(make([]byte, 1024))
		}
	}))
	t.Cleanup(srv.Close)

	client := New(Options{
		Timeout:      5 * time.Second,
		MaxBodyBytes: 4096,
		RetryBackoff: time.Millisecond,
	})
	res := client.Fetch(context.Background(), fetchURL(t, srv, "/huge"))
	require.NoError(t, res.Err)
	require.Len(t, res.Body, 4096)
}

func TestFetchNetworkErrorSurfacesInResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // refused connection from here on

	res := testClient(1).Fetch(context.Background(), fetchURL(t, srv, "/gone"))
	require.Error(t, res.Err)
	require.Zero(t, res.StatusCode)
}
