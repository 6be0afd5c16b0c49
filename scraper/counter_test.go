package scraper

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"njuskalo_tracker/config"
)

// fakeFetcher serves canned pages keyed by URL. Shared by the counter and
// orchestrator tests.
type fakeFetcher struct {
	pages   map[string]string
	gzPages map[string]string
	errs    map[string]error
	calls   []string
}

func (f *fakeFetcher) Fetch(_ context.Context, pageURL string) (string, error) {
	f.calls = append(f.calls, pageURL)
	if err, ok := f.errs[pageURL]; ok {
		return "", err
	}
	content, ok := f.pages[pageURL]
	if !ok {
		return "", errors.New("no fixture for " + pageURL)
	}
	return content, nil
}

func (f *fakeFetcher) FetchGzip(_ context.Context, gzURL string) (string, error) {
	f.calls = append(f.calls, gzURL)
	if err, ok := f.errs[gzURL]; ok {
		return "", err
	}
	content, ok := f.gzPages[gzURL]
	if !ok {
		return "", errors.New("no gzip fixture for " + gzURL)
	}
	return content, nil
}

func (f *fakeFetcher) fetched(url string) bool {
	for _, c := range f.calls {
		if c == url {
			return true
		}
	}
	return false
}

func loadFixture(t *testing.T, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", name))
	if err != nil {
		t.Fatalf("failed to read fixture %s: %v", name, err)
	}
	return string(data)
}

func testSite() *config.SiteConfig {
	return &config.SiteConfig{
		ID:           "njuskalo",
		BaseURL:      "https://www.njuskalo.hr",
		SitemapURL:   "https://www.njuskalo.hr/sitemap-index.xml",
		StorePath:    "/trgovina/",
		CategorySlug: "auto-moto",
	}
}

// listingPage builds a category page with one listing per flag. An empty
// flag produces a listing without a condition badge.
func listingPage(flags []string, hasNext bool) string {
	var b strings.Builder
	b.WriteString(`<!DOCTYPE html><html><body><ul class="EntityList-items">`)
	for i, flag := range flags {
		fmt.Fprintf(&b, `<li class="EntityList-item"><h3>Oglas %d</h3>`, i+1)
		if flag != "" {
			fmt.Fprintf(&b, `<span class="entity-flag">%s</span>`, flag)
		}
		b.WriteString(`</li>`)
	}
	b.WriteString(`</ul>`)
	if hasNext {
		b.WriteString(`<div class="Pagination"><a rel="next" href="?page=next">Sljedeća</a></div>`)
	}
	b.WriteString(`</body></html>`)
	return b.String()
}

const categoryURL = "https://www.njuskalo.hr/trgovina/auto-kuca-horvat/auto-moto"

func TestInspectLanding(t *testing.T) {
	storeURL := "https://www.njuskalo.hr/trgovina/auto-kuca-horvat"
	fetcher := &fakeFetcher{
		pages: map[string]string{storeURL: loadFixture(t, "store_landing.html")},
	}

	c := NewCounter(fetcher, testSite(), 80)
	landing, err := c.InspectLanding(context.Background(), storeURL)
	if err != nil {
		t.Fatalf("InspectLanding failed: %v", err)
	}

	if landing.CategoryURL != "https://www.njuskalo.hr/trgovina/auto-kuca-horvat/auto-moto" {
		t.Errorf("unexpected category URL: %s", landing.CategoryURL)
	}
	attrs := landing.Attributes
	if attrs.Name != "Auto kuća Horvat" {
		t.Errorf("unexpected name: %q", attrs.Name)
	}
	if attrs.Subname != "Ovlašteni trgovac rabljenim vozilima" {
		t.Errorf("unexpected subname: %q", attrs.Subname)
	}
	if attrs.Address != "Zagrebačka 12, 10000 Zagreb" {
		t.Errorf("unexpected address: %q", attrs.Address)
	}
	if attrs.RawAdCount != 128 {
		t.Errorf("unexpected ad count: %d", attrs.RawAdCount)
	}
}

func TestInspectLandingNoCategory(t *testing.T) {
	storeURL := "https://www.njuskalo.hr/trgovina/tehnika-shop"
	fetcher := &fakeFetcher{
		pages: map[string]string{storeURL: loadFixture(t, "store_landing_no_category.html")},
	}

	c := NewCounter(fetcher, testSite(), 80)
	landing, err := c.InspectLanding(context.Background(), storeURL)
	if err != nil {
		t.Fatalf("InspectLanding failed: %v", err)
	}
	if landing.CategoryURL != "" {
		t.Errorf("expected no category URL, got %s", landing.CategoryURL)
	}
	if landing.Attributes.Name != "Tehnika Shop" {
		t.Errorf("unexpected name: %q", landing.Attributes.Name)
	}
}

func TestInspectLandingFetchError(t *testing.T) {
	storeURL := "https://www.njuskalo.hr/trgovina/nestali-ducan"
	fetcher := &fakeFetcher{
		errs: map[string]error{storeURL: errors.New("status 404")},
	}

	c := NewCounter(fetcher, testSite(), 80)
	if _, err := c.InspectLanding(context.Background(), storeURL); err == nil {
		t.Fatal("expected an error for an unreachable store")
	}
}

func TestCountSinglePage(t *testing.T) {
	fetcher := &fakeFetcher{
		pages: map[string]string{
			withPage(categoryURL, 1): listingPage([]string{
				"Novo vozilo", "Rabljeno vozilo", "NOVO VOZILO",
				"Testno vozilo", "Polovno vozilo", "", "Akcija",
			}, false),
		},
	}

	c := NewCounter(fetcher, testSite(), 80)
	counts, err := c.Count(context.Background(), categoryURL)
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}

	if counts.New != 2 || counts.Used != 2 || counts.Test != 1 {
		t.Errorf("unexpected buckets: %+v", counts)
	}
	if counts.Total != 5 {
		t.Errorf("total should equal classified listings, got %d", counts.Total)
	}
}

func TestCountPaginates(t *testing.T) {
	fetcher := &fakeFetcher{
		pages: map[string]string{
			withPage(categoryURL, 1): listingPage([]string{"Novo vozilo", "Rabljeno vozilo"}, true),
			withPage(categoryURL, 2): listingPage([]string{"Rabljeno vozilo"}, false),
		},
	}

	c := NewCounter(fetcher, testSite(), 80)
	counts, err := c.Count(context.Background(), categoryURL)
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}

	if counts.New != 1 || counts.Used != 2 || counts.Total != 3 {
		t.Errorf("unexpected counts: %+v", counts)
	}
	if fetcher.fetched(withPage(categoryURL, 3)) {
		t.Error("pagination continued past a page without a next control")
	}
}

func TestCountStopsOnUnclassifiedPage(t *testing.T) {
	fetcher := &fakeFetcher{
		pages: map[string]string{
			withPage(categoryURL, 1): listingPage([]string{"Novo vozilo"}, true),
			withPage(categoryURL, 2): listingPage([]string{"", "Akcija"}, true),
			withPage(categoryURL, 3): listingPage([]string{"Novo vozilo"}, false),
		},
	}

	c := NewCounter(fetcher, testSite(), 80)
	counts, err := c.Count(context.Background(), categoryURL)
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}

	if counts.Total != 1 {
		t.Errorf("expected counting to stop at the unclassified page, got %+v", counts)
	}
	if fetcher.fetched(withPage(categoryURL, 3)) {
		t.Error("page after an unclassified page should not be fetched")
	}
}

func TestCountRespectsPageCap(t *testing.T) {
	fetcher := &fakeFetcher{
		pages: map[string]string{
			withPage(categoryURL, 1): listingPage([]string{"Novo vozilo"}, true),
			withPage(categoryURL, 2): listingPage([]string{"Novo vozilo"}, true),
			withPage(categoryURL, 3): listingPage([]string{"Novo vozilo"}, true),
		},
	}

	c := NewCounter(fetcher, testSite(), 2)
	counts, err := c.Count(context.Background(), categoryURL)
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}

	if counts.New != 2 {
		t.Errorf("expected the cap to stop at 2 pages, got %+v", counts)
	}
	if fetcher.fetched(withPage(categoryURL, 3)) {
		t.Error("fetched past the page cap")
	}
}

func TestCountKeepsPartialsOnMidPaginationFailure(t *testing.T) {
	fetcher := &fakeFetcher{
		pages: map[string]string{
			withPage(categoryURL, 1): listingPage([]string{"Novo vozilo", "Testno vozilo"}, true),
		},
		errs: map[string]error{
			withPage(categoryURL, 2): errors.New("status 500"),
		},
	}

	c := NewCounter(fetcher, testSite(), 80)
	counts, err := c.Count(context.Background(), categoryURL)
	if err != nil {
		t.Fatalf("mid-pagination failure should not be an error, got %v", err)
	}
	if counts.New != 1 || counts.Test != 1 || counts.Total != 2 {
		t.Errorf("expected partial counts from page 1, got %+v", counts)
	}
}

func TestCountFirstPageFailure(t *testing.T) {
	fetcher := &fakeFetcher{
		errs: map[string]error{
			withPage(categoryURL, 1): errors.New("status 500"),
		},
	}

	c := NewCounter(fetcher, testSite(), 80)
	counts, err := c.Count(context.Background(), categoryURL)
	if err == nil {
		t.Fatal("expected an error when the first page cannot be fetched")
	}
	if counts.Sum() != 0 {
		t.Errorf("expected zero counts on first-page failure, got %+v", counts)
	}
}

func TestClassifyFlag(t *testing.T) {
	cases := []struct {
		flag string
		want string
	}{
		{"Novo vozilo", "new"},
		{"NOVO VOZILO", "new"},
		{"Testno vozilo", "test"},
		{"Rabljeno vozilo", "used"},
		{"Polovno vozilo", "used"},
		{"Akcija", ""},
		{"", ""},
	}
	for _, c := range cases {
		if got := classifyFlag(c.flag); got != c.want {
			t.Errorf("classifyFlag(%q) = %q, want %q", c.flag, got, c.want)
		}
	}
}

func TestWithPage(t *testing.T) {
	got := withPage("https://www.njuskalo.hr/trgovina/x/auto-moto?page=4&sort=new", 7)
	if !strings.Contains(got, "page=7") || strings.Contains(got, "page=4") {
		t.Errorf("page parameter not replaced: %s", got)
	}
	if !strings.Contains(got, "sort=new") {
		t.Errorf("other query parameters dropped: %s", got)
	}
}
