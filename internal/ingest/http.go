package ingest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultUserAgent = "kpiwatch/1.0"

// HTTPOptions parameterise the remote CSV fetcher.
type HTTPOptions struct {
	Timeout   time.Duration
	UserAgent string
}

// HTTPFetcher downloads delimited text over HTTP.
type HTTPFetcher struct {
	opts   HTTPOptions
	client *http.Client
}

// NewHTTPFetcher constructs a fetcher with a bounded client timeout.
func NewHTTPFetcher(opts HTTPOptions) *HTTPFetcher {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPFetcher{opts: opts, client: &http.Client{Timeout: timeout}}
}

// Fetch GETs url and parses the body as CSV.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Result{}, fmt.Errorf("create source request: %w", err)
	}
	req.Header.Set("Accept", "text/csv, text/plain;q=0.9, */*;q=0.1")
	if ua := strings.TrimSpace(f.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", defaultUserAgent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("fetch source: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("read source body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet := strings.TrimSpace(string(body))
		if len(snippet) > 200 {
			snippet = snippet[:200]
		}
		if snippet != "" {
			return Result{}, fmt.Errorf("source responded %d: %s", resp.StatusCode, snippet)
		}
		return Result{}, fmt.Errorf("source responded %d", resp.StatusCode)
	}

	return ReadCSV(bytes.NewReader(body))
}
