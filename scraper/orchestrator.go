package scraper

import (
	"context"
	"fmt"
	"log"
	"time"

	"njuskalo_tracker/config"
	"njuskalo_tracker/fetch"
	"njuskalo_tracker/models"
	"njuskalo_tracker/services"
	"njuskalo_tracker/sitemap"
	"njuskalo_tracker/storage"
)

// Orchestrator drives one scheduled run: freshness decision, sitemap
// discovery, new-URL registration, per-store counting and snapshot
// recording. Stores are processed sequentially; one store's failure never
// aborts the batch.
type Orchestrator struct {
	cfg       *config.Config
	store     storage.Store
	ops       *storage.SQLiteStore
	discover  *sitemap.Discoverer
	counter   *Counter // category-confirmed counting, large page cap
	scanner   *Counter // bootstrap/unclassified scanning, small page cap
	freshness *FreshnessPolicy
	snapshots *services.SnapshotService
	paused    bool
}

func NewOrchestrator(cfg *config.Config, store storage.Store, ops *storage.SQLiteStore, fetcher fetch.Fetcher) *Orchestrator {
	return &Orchestrator{
		cfg:       cfg,
		store:     store,
		ops:       ops,
		discover:  sitemap.NewDiscoverer(fetcher, cfg.Site),
		counter:   NewCounter(fetcher, cfg.Site, cfg.Scraper.PageCap),
		scanner:   NewCounter(fetcher, cfg.Site, cfg.Scraper.FallbackPageCap),
		freshness: NewFreshnessPolicy(store, time.Duration(cfg.Scraper.FreshnessDays)*24*time.Hour),
		snapshots: services.NewSnapshotService(store),
	}
}

// target pairs a store URL with the counter appropriate for how it was
// selected (re-scan of a confirmed store vs classification scan).
type target struct {
	url     string
	counter *Counter
}

// Run executes one full pass and always returns a summary, even degraded.
// Only a failure to create the run record at all is fatal.
func (o *Orchestrator) Run(ctx context.Context, forceRefresh bool) (*models.RunSummary, error) {
	if o.paused {
		log.Println("Scraper is paused, skipping run")
		return &models.RunSummary{}, nil
	}

	run := &models.ScrapeRun{
		SiteID:    o.cfg.Site.ID,
		StartedAt: time.Now(),
		Status:    models.RunStatusRunning,
	}
	runID, err := o.ops.CreateRun(run)
	if err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	run.ID = runID

	summary := &models.RunSummary{}

	defer func() {
		now := time.Now()
		run.FinishedAt = &now
		if run.Status == models.RunStatusRunning {
			run.Status = models.RunStatusCompleted
		}
		run.NewURLsFound = summary.NewURLsFound
		run.StoresScraped = summary.StoresScraped
		run.AutoMotoStores = summary.AutoMotoStores
		run.ErrorsCount = len(summary.Errors)
		o.ops.UpdateRun(run)
	}()

	targets := o.selectTargets(ctx, run, forceRefresh, summary)
	o.log(run.ID, models.LogLevelInfo, fmt.Sprintf("Selected %d stores to scrape", len(targets)))

	for _, t := range targets {
		if err := ctx.Err(); err != nil {
			run.Status = models.RunStatusCancelled
			o.log(run.ID, models.LogLevelWarn, "Run cancelled")
			break
		}
		o.processStore(ctx, run, t, summary)
	}

	o.log(run.ID, models.LogLevelInfo,
		fmt.Sprintf("Completed: %d new URLs, %d scraped, %d auto-moto, %d vehicles, %d errors",
			summary.NewURLsFound, summary.StoresScraped, summary.AutoMotoStores,
			summary.TotalVehicles, len(summary.Errors)))

	return summary, nil
}

// selectTargets implements the refresh/diff/fallback decision chain: newly
// discovered URLs win, then confirmed auto-moto stores, then the bootstrap
// scan of known-but-unclassified valid stores.
func (o *Orchestrator) selectTargets(ctx context.Context, run *models.ScrapeRun, forceRefresh bool, summary *models.RunSummary) []target {
	refresh := forceRefresh || o.freshness.ShouldRefresh(ctx)

	var newURLs []string
	if refresh {
		discovered, err := o.discover.DiscoverStoreURLs(ctx)
		if err != nil {
			o.log(run.ID, models.LogLevelError, fmt.Sprintf("Sitemap discovery failed: %v", err))
			summary.Errors = append(summary.Errors, fmt.Sprintf("sitemap: %v", err))
		} else {
			summary.XMLAvailable = len(discovered) > 0
			newURLs = o.registerNewURLs(ctx, run, discovered, summary)
		}
		summary.NewURLsFound = len(newURLs)
	} else {
		// Cached URLs are trusted; the sitemap was deliberately not consulted.
		summary.XMLAvailable = true
	}

	if len(newURLs) > 0 {
		targets := make([]target, 0, len(newURLs))
		for _, url := range newURLs {
			targets = append(targets, target{url: url, counter: o.scanner})
		}
		return targets
	}

	autoMoto, err := o.store.AutoMotoStores(ctx)
	if err != nil {
		o.log(run.ID, models.LogLevelError, fmt.Sprintf("Auto-moto store query failed: %v", err))
		summary.Errors = append(summary.Errors, fmt.Sprintf("store query: %v", err))
		return nil
	}
	if len(autoMoto) > 0 {
		targets := make([]target, 0, len(autoMoto))
		for _, rec := range autoMoto {
			targets = append(targets, target{url: rec.URL, counter: o.counter})
		}
		return targets
	}

	// Bootstrap: nothing classified yet, scan valid unclassified stores.
	unclassified, err := o.store.UnclassifiedValidStores(ctx)
	if err != nil {
		o.log(run.ID, models.LogLevelError, fmt.Sprintf("Unclassified store query failed: %v", err))
		summary.Errors = append(summary.Errors, fmt.Sprintf("store query: %v", err))
		return nil
	}
	targets := make([]target, 0, len(unclassified))
	for _, rec := range unclassified {
		targets = append(targets, target{url: rec.URL, counter: o.scanner})
	}
	return targets
}

// registerNewURLs diffs the discovered set against known URLs and inserts
// placeholder records for the new ones. Idempotent: already-known URLs are
// left untouched.
func (o *Orchestrator) registerNewURLs(ctx context.Context, run *models.ScrapeRun, discovered map[string]struct{}, summary *models.RunSummary) []string {
	known, err := o.store.AllStoreURLs(ctx)
	if err != nil {
		o.log(run.ID, models.LogLevelError, fmt.Sprintf("Known URL query failed: %v", err))
		summary.Errors = append(summary.Errors, fmt.Sprintf("store query: %v", err))
		return nil
	}

	var newURLs []string
	for url := range discovered {
		if _, ok := known[url]; ok {
			continue
		}
		created, err := o.store.InsertPlaceholder(ctx, url)
		if err != nil {
			summary.Errors = append(summary.Errors, fmt.Sprintf("%s: register: %v", url, err))
			continue
		}
		if created {
			newURLs = append(newURLs, url)
		}
	}
	if len(newURLs) > 0 {
		o.log(run.ID, models.LogLevelInfo, fmt.Sprintf("Registered %d new store URLs", len(newURLs)))
	}
	return newURLs
}

func (o *Orchestrator) processStore(ctx context.Context, run *models.ScrapeRun, t target, summary *models.RunSummary) {
	landing, err := t.counter.InspectLanding(ctx, t.url)
	if err != nil {
		// The store's own page is unreachable; keep the row, flag it invalid.
		if storeErr := o.store.SetStoreValidity(ctx, t.url, false); storeErr != nil {
			summary.Errors = append(summary.Errors, fmt.Sprintf("%s: mark invalid: %v", t.url, storeErr))
		}
		summary.Errors = append(summary.Errors, fmt.Sprintf("%s: %v", t.url, err))
		o.log(run.ID, models.LogLevelWarn, fmt.Sprintf("Store unreachable: %s: %v", t.url, err))
		return
	}

	if err := o.store.UpdateStoreAttributes(ctx, t.url, landing.Attributes); err != nil {
		summary.Errors = append(summary.Errors, fmt.Sprintf("%s: attributes: %v", t.url, err))
	}

	if landing.CategoryURL == "" {
		// Normal terminal state: the store posts nothing in the vehicle
		// category. No counting, no snapshot.
		if err := o.store.SetAutoMoto(ctx, t.url, false); err != nil {
			summary.Errors = append(summary.Errors, fmt.Sprintf("%s: classify: %v", t.url, err))
			return
		}
		summary.StoresScraped++
		return
	}

	counts, err := t.counter.Count(ctx, landing.CategoryURL)
	if err != nil {
		// Landing page was fine, so the store stays valid; record the failure
		// and skip the snapshot rather than writing a bogus zero measurement.
		summary.Errors = append(summary.Errors, fmt.Sprintf("%s: count: %v", t.url, err))
		o.log(run.ID, models.LogLevelWarn, fmt.Sprintf("Count failed for %s: %v", t.url, err))
		return
	}

	if err := o.store.SetAutoMoto(ctx, t.url, true); err != nil {
		summary.Errors = append(summary.Errors, fmt.Sprintf("%s: classify: %v", t.url, err))
		return
	}

	snap, err := o.snapshots.Record(ctx, t.url, counts, &run.ID)
	if err != nil {
		summary.Errors = append(summary.Errors, fmt.Sprintf("%s: snapshot: %v", t.url, err))
		return
	}

	summary.StoresScraped++
	summary.AutoMotoStores++
	summary.NewVehicles += counts.New
	summary.UsedVehicles += counts.Used
	summary.TestVehicles += counts.Test
	summary.TotalVehicles += counts.Total

	o.log(run.ID, models.LogLevelInfo,
		fmt.Sprintf("%s: %d new / %d used / %d test (delta total %+d)",
			t.url, counts.New, counts.Used, counts.Test, snap.Delta.Total))
}

func (o *Orchestrator) HandleCommand(cmd *models.Command) error {
	ctx := context.Background()

	switch cmd.Command {
	case models.CmdScrapeNow:
		_, err := o.Run(ctx, false)
		return err
	case models.CmdRefreshSitemap:
		_, err := o.Run(ctx, true)
		return err
	case models.CmdPause:
		o.paused = true
		log.Println("Scraper paused")
	case models.CmdResume:
		o.paused = false
		log.Println("Scraper resumed")
	}

	return nil
}

func (o *Orchestrator) IsPaused() bool {
	return o.paused
}

func (o *Orchestrator) log(runID int64, level models.LogLevel, message string) {
	log.Printf("[%s] %s: %s", level, o.cfg.Site.ID, message)
	o.ops.Log(&runID, level, message, o.cfg.Site.ID)
}
