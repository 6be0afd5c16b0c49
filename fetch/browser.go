package fetch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/playwright-community/playwright-go"
	"njuskalo_tracker/config"
)

// BrowserFetcher renders pages through a persistent Chromium context. Used
// when the site serves bot checks to plain HTTP clients; sitemap data files
// still go through the HTTP fetcher.
type BrowserFetcher struct {
	site *config.SiteConfig
	gz   *HTTPFetcher

	mu          sync.Mutex
	pw          *playwright.Playwright
	context     playwright.BrowserContext
	initialized bool
}

func NewBrowserFetcher(site *config.SiteConfig, gz *HTTPFetcher) *BrowserFetcher {
	return &BrowserFetcher{site: site, gz: gz}
}

func (f *BrowserFetcher) ensureBrowser() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.initialized {
		return nil
	}

	var err error
	f.pw, err = playwright.Run()
	if err != nil {
		return fmt.Errorf("start playwright: %w", err)
	}

	cwd, _ := os.Getwd()
	userDataDir := filepath.Join(cwd, "browser_data")
	f.context, err = f.pw.Chromium.LaunchPersistentContext(userDataDir, playwright.BrowserTypeLaunchPersistentContextOptions{
		Headless: playwright.Bool(true),
		Args: []string{
			"--disable-blink-features=AutomationControlled",
			"--disable-dev-shm-usage",
			"--no-sandbox",
		},
	})
	if err != nil {
		return fmt.Errorf("launch browser: %w", err)
	}

	f.initialized = true
	return nil
}

func (f *BrowserFetcher) Fetch(ctx context.Context, pageURL string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := f.ensureBrowser(); err != nil {
		return "", err
	}
	if err := f.gz.pace(ctx); err != nil {
		return "", err
	}

	page, err := f.context.NewPage()
	if err != nil {
		return "", fmt.Errorf("new page: %w", err)
	}
	defer page.Close()

	if _, err := page.Goto(pageURL, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(30000),
	}); err != nil {
		return "", fmt.Errorf("goto %s: %w", pageURL, err)
	}

	content, err := page.Content()
	if err != nil {
		return "", fmt.Errorf("content %s: %w", pageURL, err)
	}
	return content, nil
}

func (f *BrowserFetcher) FetchGzip(ctx context.Context, gzURL string) (string, error) {
	return f.gz.FetchGzip(ctx, gzURL)
}

func (f *BrowserFetcher) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.context != nil {
		f.context.Close()
	}
	if f.pw != nil {
		f.pw.Stop()
	}
	f.initialized = false
}
