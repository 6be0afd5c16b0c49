package scraper

import (
	"context"
	"log"
	"time"

	"njuskalo_tracker/storage"
)

// FreshnessPolicy decides whether the store table is stale enough to warrant
// re-reading the sitemap, based on the most recent store update.
type FreshnessPolicy struct {
	store  storage.Store
	maxAge time.Duration
	now    func() time.Time
}

func NewFreshnessPolicy(store storage.Store, maxAge time.Duration) *FreshnessPolicy {
	return &FreshnessPolicy{
		store:  store,
		maxAge: maxAge,
		now:    time.Now,
	}
}

// ShouldRefresh returns true when the store table is empty, when the newest
// record is strictly older than maxAge, or when the lookup fails (fail open:
// a redundant refresh is safer than silently skipping discovery).
func (p *FreshnessPolicy) ShouldRefresh(ctx context.Context) bool {
	maxUpdated, err := p.store.MaxUpdatedAt(ctx)
	if err != nil {
		log.Printf("Freshness check failed, defaulting to refresh: %v", err)
		return true
	}
	if maxUpdated.IsZero() {
		return true
	}
	return p.now().Sub(maxUpdated) > p.maxAge
}
