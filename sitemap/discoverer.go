package sitemap

import (
	"context"
	"encoding/xml"
	"log"
	"regexp"
	"strings"

	"njuskalo_tracker/config"
	"njuskalo_tracker/fetch"
)

// Discoverer walks the site's sitemap tree and extracts every store URL it
// currently advertises. Individual document failures are logged and skipped;
// the result is whatever could be extracted.
type Discoverer struct {
	fetcher   fetch.Fetcher
	indexURL  string
	storePath string
}

func NewDiscoverer(fetcher fetch.Fetcher, site *config.SiteConfig) *Discoverer {
	return &Discoverer{
		fetcher:   fetcher,
		indexURL:  site.SitemapURL,
		storePath: site.StorePath,
	}
}

// Child sitemap priority. Store data lives in the "trgovina"/"stores"
// sitemaps; everything else is only walked when no store sitemap exists.
const (
	tierStores = 1
	tierSeller = 2
	tierOther  = 3
)

func tierFor(sitemapURL string) int {
	lower := strings.ToLower(sitemapURL)
	switch {
	case strings.Contains(lower, "trgovina") || strings.Contains(lower, "stores"):
		return tierStores
	case strings.Contains(lower, "seller"):
		return tierSeller
	default:
		return tierOther
	}
}

// DiscoverStoreURLs returns the deduplicated set of store URLs reachable from
// the sitemap index. An error is returned only when the index itself could
// not be retrieved.
func (d *Discoverer) DiscoverStoreURLs(ctx context.Context) (map[string]struct{}, error) {
	content, err := d.fetcher.Fetch(ctx, d.indexURL)
	if err != nil {
		return nil, err
	}

	children := ExtractLocs(content)
	var storeSitemaps []string
	for _, child := range children {
		if tierFor(child) == tierStores {
			storeSitemaps = append(storeSitemaps, child)
		}
	}
	if len(storeSitemaps) == 0 {
		// No dedicated store sitemap; walk everything.
		log.Printf("Sitemap: no store sitemap in index, walking all %d children", len(children))
		storeSitemaps = children
	}

	urls := make(map[string]struct{})
	for _, child := range storeSitemaps {
		if err := ctx.Err(); err != nil {
			return urls, err
		}
		d.collect(ctx, child, urls, 2)
	}
	return urls, nil
}

// collect fetches one sitemap document and accumulates store URLs, following
// nested sitemap references down to the given depth.
func (d *Discoverer) collect(ctx context.Context, docURL string, urls map[string]struct{}, depth int) {
	var content string
	var err error
	if strings.HasSuffix(docURL, ".gz") {
		content, err = d.fetcher.FetchGzip(ctx, docURL)
	} else {
		content, err = d.fetcher.Fetch(ctx, docURL)
	}
	if err != nil {
		log.Printf("Sitemap: skipping %s: %v", docURL, err)
		return
	}

	for _, loc := range ExtractLocs(content) {
		switch {
		case d.isStoreURL(loc):
			urls[loc] = struct{}{}
		case depth > 0 && isSitemapRef(loc):
			d.collect(ctx, loc, urls, depth-1)
		}
	}
}

func (d *Discoverer) isStoreURL(loc string) bool {
	return strings.Contains(loc, d.storePath)
}

func isSitemapRef(loc string) bool {
	return strings.HasSuffix(loc, ".xml") || strings.HasSuffix(loc, ".xml.gz")
}

type locEntry struct {
	Loc string `xml:"loc"`
}

type sitemapDoc struct {
	XMLName  xml.Name
	Sitemaps []locEntry `xml:"sitemap"`
	URLs     []locEntry `xml:"url"`
}

var locPattern = regexp.MustCompile(`(?s)<loc>\s*(.*?)\s*</loc>`)

// ExtractLocs pulls every <loc> value out of a sitemap document. The payload
// may be wrapped in extra HTML/text, so the XML substring is located first;
// when strict parsing fails, a regex scan over the raw content is used.
func ExtractLocs(content string) []string {
	if locs := extractStrict(content); len(locs) > 0 {
		return locs
	}

	matches := locPattern.FindAllStringSubmatch(content, -1)
	var locs []string
	for _, m := range matches {
		if loc := strings.TrimSpace(m[1]); loc != "" {
			locs = append(locs, loc)
		}
	}
	return locs
}

func extractStrict(content string) []string {
	start := strings.Index(content, "<?xml")
	if start < 0 {
		return nil
	}
	content = content[start:]

	end := -1
	for _, closing := range []string{"</sitemapindex>", "</urlset>"} {
		if idx := strings.LastIndex(content, closing); idx >= 0 {
			end = idx + len(closing)
			break
		}
	}
	if end < 0 {
		return nil
	}

	var doc sitemapDoc
	if err := xml.Unmarshal([]byte(content[:end]), &doc); err != nil {
		return nil
	}

	var locs []string
	for _, entry := range append(doc.Sitemaps, doc.URLs...) {
		if loc := strings.TrimSpace(entry.Loc); loc != "" {
			locs = append(locs, loc)
		}
	}
	return locs
}
