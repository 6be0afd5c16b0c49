package scraper

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"njuskalo_tracker/config"
	"njuskalo_tracker/fetch"
	"njuskalo_tracker/models"
)

const (
	listingSelector = "li.EntityList-item"
	flagSelector    = ".entity-flag"
	nextSelector    = "a[rel='next'], .Pagination-item--next a"

	nameSelector    = "h1.StoreHeader-title, h1"
	subnameSelector = ".StoreHeader-subtitle"
	addressSelector = ".StoreHeader-address"
	adCountSelector = ".StoreHeader-adCount"
)

// Condition flag vocabulary as it appears on listing badges.
func classifyFlag(flag string) (bucket string) {
	flag = strings.ToLower(flag)
	switch {
	case strings.Contains(flag, "novo vozilo"):
		return "new"
	case strings.Contains(flag, "testno vozilo"):
		return "test"
	case strings.Contains(flag, "rabljeno vozilo"), strings.Contains(flag, "polovno vozilo"):
		return "used"
	default:
		return ""
	}
}

// Landing is what a store's front page yields: its metadata and, when the
// store posts vehicles, the link into the vehicle category.
type Landing struct {
	CategoryURL string // empty when no vehicle category link was found
	Attributes  models.StoreAttributes
}

// Counter paginates a store's category listing and buckets active ads into
// new/used/test counts.
type Counter struct {
	fetcher  fetch.Fetcher
	site     *config.SiteConfig
	maxPages int
}

func NewCounter(fetcher fetch.Fetcher, site *config.SiteConfig, maxPages int) *Counter {
	return &Counter{
		fetcher:  fetcher,
		site:     site,
		maxPages: maxPages,
	}
}

// InspectLanding fetches the store's front page and extracts its attributes
// plus the vehicle-category link, if one exists. A fetch error here means the
// store itself is unreachable (the caller marks it invalid).
func (c *Counter) InspectLanding(ctx context.Context, storeURL string) (*Landing, error) {
	content, err := c.fetcher.Fetch(ctx, storeURL)
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", storeURL, err)
	}

	landing := &Landing{
		Attributes: models.StoreAttributes{
			Name:       strings.TrimSpace(doc.Find(nameSelector).First().Text()),
			Subname:    strings.TrimSpace(doc.Find(subnameSelector).First().Text()),
			Address:    strings.TrimSpace(doc.Find(addressSelector).First().Text()),
			RawAdCount: firstInt(doc.Find(adCountSelector).First().Text()),
		},
	}

	slug := c.site.CategorySlug
	doc.Find("a[href]").EachWithBreak(func(i int, s *goquery.Selection) bool {
		href, _ := s.Attr("href")
		if !strings.Contains(href, slug) {
			return true
		}
		if resolved := resolveURL(storeURL, href); resolved != "" {
			landing.CategoryURL = resolved
			return false
		}
		return true
	})

	return landing, nil
}

// Count paginates through the category listing and accumulates per-condition
// counts. Pagination stops at the first page with zero classified listings,
// when no next-page control is present, or at the page cap. A fetch failure
// mid-pagination keeps the partial counts; a failure on the first page is an
// error (the caller decides between marking invalid and recording zero).
func (c *Counter) Count(ctx context.Context, categoryURL string) (models.VehicleCounts, error) {
	var counts models.VehicleCounts

	for page := 1; page <= c.maxPages; page++ {
		if err := ctx.Err(); err != nil {
			return counts.Normalized(), err
		}

		content, err := c.fetcher.Fetch(ctx, withPage(categoryURL, page))
		if err != nil {
			if page == 1 {
				return models.VehicleCounts{}, err
			}
			// Treat as "no next page"; keep what we have.
			break
		}

		doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
		if err != nil {
			break
		}

		classified := 0
		doc.Find(listingSelector).Each(func(i int, s *goquery.Selection) {
			switch classifyFlag(s.Find(flagSelector).Text()) {
			case "new":
				counts.New++
				classified++
			case "test":
				counts.Test++
				classified++
			case "used":
				counts.Used++
				classified++
			}
		})

		if classified == 0 {
			break
		}
		if doc.Find(nextSelector).Length() == 0 {
			break
		}
	}

	return counts.Normalized(), nil
}

// withPage sets the page query parameter, replacing any existing one.
func withPage(rawURL string, page int) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	q := u.Query()
	q.Set("page", strconv.Itoa(page))
	u.RawQuery = q.Encode()
	return u.String()
}

func resolveURL(base, href string) string {
	baseURL, err := url.Parse(base)
	if err != nil {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	return baseURL.ResolveReference(ref).String()
}

var digitsPattern = regexp.MustCompile(`\d+`)

func firstInt(s string) int {
	match := digitsPattern.FindString(s)
	if match == "" {
		return 0
	}
	n, _ := strconv.Atoi(match)
	return n
}
