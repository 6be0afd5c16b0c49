package fetch

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"njuskalo_tracker/config"
	"njuskalo_tracker/httputil"
)

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Fetcher retrieves remote documents for the discovery and counting pipeline.
// Implementations must be idempotent reads with a bounded timeout.
type Fetcher interface {
	Fetch(ctx context.Context, pageURL string) (string, error)
	FetchGzip(ctx context.Context, gzURL string) (string, error)
}

// New selects the fetcher implementation from the site config.
func New(site *config.SiteConfig, clients *httputil.Clients) Fetcher {
	httpFetcher := NewHTTPFetcher(clients.Scraping, time.Duration(site.RateLimitMS)*time.Millisecond)
	switch site.Fetcher {
	case "browser":
		return NewBrowserFetcher(site, httpFetcher)
	default:
		return httpFetcher
	}
}

// HTTPFetcher fetches pages over plain HTTP with request pacing.
type HTTPFetcher struct {
	client *http.Client
	delay  time.Duration

	mu       sync.Mutex
	lastCall time.Time
}

func NewHTTPFetcher(client *http.Client, delay time.Duration) *HTTPFetcher {
	return &HTTPFetcher{client: client, delay: delay}
}

// pace enforces the configured minimum gap between requests. Deliberate
// serialization: one request in flight at a time.
func (f *HTTPFetcher) pace(ctx context.Context) error {
	f.mu.Lock()
	wait := f.delay - time.Since(f.lastCall)
	f.lastCall = time.Now().Add(wait)
	f.mu.Unlock()

	if wait <= 0 {
		return nil
	}
	select {
	case <-time.After(wait):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *HTTPFetcher) get(ctx context.Context, pageURL string) (*http.Response, error) {
	if err := f.pace(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "hr-HR,hr;q=0.9,en;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		resp.Body.Close()
		return nil, fmt.Errorf("fetch %s: status %d", pageURL, resp.StatusCode)
	}
	return resp, nil
}

func (f *HTTPFetcher) Fetch(ctx context.Context, pageURL string) (string, error) {
	resp, err := f.get(ctx, pageURL)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", pageURL, err)
	}
	return string(body), nil
}

// FetchGzip retrieves and decompresses a gzip document. Plain content is
// passed through unchanged, since some sitemap data files drop the .gz
// encoding without changing the URL.
func (f *HTTPFetcher) FetchGzip(ctx context.Context, gzURL string) (string, error) {
	resp, err := f.get(ctx, gzURL)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", gzURL, err)
	}
	return Decompress(body)
}

// Decompress gunzips data when it carries the gzip magic bytes.
func Decompress(data []byte) (string, error) {
	if len(data) < 2 || data[0] != 0x1f || data[1] != 0x8b {
		return string(data), nil
	}
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("gzip: %w", err)
	}
	defer zr.Close()

	out, err := io.ReadAll(zr)
	if err != nil {
		return "", fmt.Errorf("gunzip: %w", err)
	}
	return string(out), nil
}
