// Package fetcher performs the HTTP side of a crawl: bounded-timeout GETs
// with decompression, redirect chain capture, and a retry policy that treats
// transient failures (network errors, 5xx, 429) as retryable and everything
// else as terminal.
package fetcher

import (
	"compress/flate"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/cenkalti/backoff/v4"

	"github.com/Maimoon-github/SEO-Agent/pkg/types"
)

// Options controls fetching behaviour.
type Options struct {
	UserAgent    string
	Timeout      time.Duration
	MaxBodyBytes int64
	MaxRedirects int
	MaxRetries   int
	RetryBackoff time.Duration
}

// Client is a reusable fetcher sharing one tuned transport across requests.
type Client struct {
	transport    *http.Transport
	userAgent    string
	timeout      time.Duration
	maxBodyBytes int64
	maxRedirects int
	maxRetries   uint64
	retryBackoff time.Duration
}

// statusError marks a response whose status warrants a retry.
type statusError struct {
	status     int
	retryAfter time.Duration
}

func (e *statusError) Error() string {
	return fmt.Sprintf("server returned status %d", e.status)
}

// New constructs a fetcher Client.
func New(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 5 * 1024 * 1024
	}
	if opts.MaxRedirects <= 0 {
		opts.MaxRedirects = 10
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 500 * time.Millisecond
	}

	transport := &http.Transport{
		DialContext:           (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &Client{
		transport:    transport,
		userAgent:    opts.UserAgent,
		timeout:      opts.Timeout,
		maxBodyBytes: opts.MaxBodyBytes,
		maxRedirects: opts.MaxRedirects,
		maxRetries:   uint64(opts.MaxRetries),
		retryBackoff: opts.RetryBackoff,
	}
}

// HTTPClient returns a client on the shared transport, suitable for reuse by
// collaborators such as the robots.txt loader.
func (c *Client) HTTPClient() *http.Client {
	return &http.Client{Transport: c.transport, Timeout: c.timeout}
}

// Fetch downloads a URL, retrying transient failures with exponential
// backoff. It always returns a FetchResult; exhausted retries and terminal
// errors are reported in the result's Err field, never as a crawl abort.
func (c *Client) Fetch(ctx context.Context, target *url.URL) *types.FetchResult {
	result := &types.FetchResult{URL: target, FinalURL: target}
	start := time.Now()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.retryBackoff
	bo.MaxInterval = 30 * time.Second
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, c.maxRetries), ctx)

	attempt := func() error {
		res, err := c.fetchOnce(ctx, target)
		if res != nil {
			// Keep the latest attempt's observation even when retrying,
			// so a final failure still carries status and chain evidence.
			*result = *res
		}
		if err == nil {
			return nil
		}
		var se *statusError
		if errors.As(err, &se) {
			if se.retryAfter > 0 {
				// 429 with a parseable Retry-After: honor it before the
				// next backoff interval kicks in.
				select {
				case <-time.After(se.retryAfter):
				case <-ctx.Done():
					return backoff.Permanent(ctx.Err())
				}
			}
			return err
		}
		if ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		// Network-level errors (timeout, refused connection, TLS) retry.
		return err
	}

	if err := backoff.Retry(attempt, policy); err != nil {
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			err = perm.Err
		}
		result.Err = err
	}
	result.Latency = time.Since(start)
	result.FetchedAt = time.Now()
	return result
}

func (c *Client) fetchOnce(ctx context.Context, target *url.URL) (*types.FetchResult, error) {
	var hops []types.RedirectHop

	client := &http.Client{
		Transport: c.transport,
		Timeout:   c.timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			prev := via[len(via)-1]
			status := 0
			if req.Response != nil {
				status = req.Response.StatusCode
			}
			hops = append(hops, types.RedirectHop{URL: prev.URL.String(), Status: status})
			if len(via) >= c.maxRedirects {
				return fmt.Errorf("stopped after %d redirects", c.maxRedirects)
			}
			return nil
		},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("build request: %w", err))
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.8")
	req.Header.Set("Accept-Encoding", "gzip, deflate, br")

	resp, err := client.Do(req)
	if err != nil {
		return &types.FetchResult{URL: target, FinalURL: target, RedirectChain: hops}, fmt.Errorf("http fetch: %w", err)
	}

	body, err := c.readBody(resp)
	if err != nil {
		return &types.FetchResult{
			URL:           target,
			FinalURL:      finalURL(resp, target),
			StatusCode:    resp.StatusCode,
			Headers:       resp.Header.Clone(),
			RedirectChain: hops,
		}, err
	}

	result := &types.FetchResult{
		URL:           target,
		FinalURL:      finalURL(resp, target),
		StatusCode:    resp.StatusCode,
		Headers:       resp.Header.Clone(),
		Body:          body,
		ContentType:   resp.Header.Get("Content-Type"),
		RedirectChain: hops,
	}

	if resp.StatusCode >= 500 {
		return result, &statusError{status: resp.StatusCode}
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return result, &statusError{status: resp.StatusCode, retryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}
	}
	// 4xx other than 429 is a terminal outcome for the page, not an error.
	return result, nil
}

func (c *Client) readBody(resp *http.Response) ([]byte, error) {
	if resp == nil || resp.Body == nil {
		return nil, errors.New("empty response body")
	}

	reader := io.Reader(resp.Body)
	closers := []io.Closer{resp.Body}

	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("gzip decode: %w", err)
		}
		reader = gz
		closers = append(closers, gz)
	case "br":
		reader = brotli.NewReader(resp.Body)
	case "deflate":
		fl := flate.NewReader(resp.Body)
		reader = fl
		closers = append(closers, fl)
	}

	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i].Close()
		}
	}()

	// Oversized bodies are truncated at the cap rather than failed: the
	// audit still wants status, headers, and whatever markup arrived.
	body, err := io.ReadAll(io.LimitReader(reader, c.maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

func finalURL(resp *http.Response, fallback *url.URL) *url.URL {
	if resp != nil && resp.Request != nil && resp.Request.URL != nil {
		return resp.Request.URL
	}
	return fallback
}

func parseRetryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil && secs > 0 {
		d := time.Duration(secs) * time.Second
		if d > 30*time.Second {
			d = 30 * time.Second
		}
		return d
	}
	if at, err := http.ParseTime(header); err == nil {
		if d := time.Until(at); d > 0 {
			if d > 30*time.Second {
				d = 30 * time.Second
			}
			return d
		}
	}
	return 0
}
