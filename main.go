package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"njuskalo_tracker/config"
	"njuskalo_tracker/fetch"
	"njuskalo_tracker/httputil"
	"njuskalo_tracker/logging"
	"njuskalo_tracker/scheduler"
	"njuskalo_tracker/scraper"
	"njuskalo_tracker/services"
	"njuskalo_tracker/storage"
	"njuskalo_tracker/workers"
)

var (
	scrapeNow  = flag.Bool("scrape", false, "Run one scrape pass and exit")
	refreshNow = flag.Bool("refresh", false, "Run one scrape pass with a forced sitemap refresh and exit")
	exportNow  = flag.Bool("export", false, "Write the reporting CSV and exit")
)

func main() {
	flag.Parse()
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	logFile, err := logging.Setup("tracker.log")
	if err != nil {
		log.Printf("Warning: could not set up file logging: %v", err)
	} else {
		defer logFile.Close()
	}

	log.Println("Starting njuskalo_tracker...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	log.Printf("Site: %s (%s), fetcher=%s", cfg.Site.Name, cfg.Site.ID, cfg.Site.Fetcher)

	ctx := context.Background()

	// SQLite always holds the operational tables (runs, logs, commands).
	sqliteStore, err := storage.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to open SQLite: %v", err)
	}
	defer sqliteStore.Close()
	log.Printf("SQLite database: %s", cfg.DBPath)

	// Store records and snapshots live in Postgres when configured,
	// otherwise in the same SQLite database.
	var store storage.Store = sqliteStore
	if cfg.DatabaseURL != "" {
		pgStore, err := storage.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("Failed to connect to Postgres: %v", err)
		}
		defer pgStore.Close()
		store = pgStore
		log.Printf("Connected to Postgres: %s", maskConnectionString(cfg.DatabaseURL))
	}

	clients := httputil.NewClients(&cfg.Proxy)
	fetcher := fetch.New(cfg.Site, clients)
	if bf, ok := fetcher.(*fetch.BrowserFetcher); ok {
		defer bf.Close()
	}

	orchestrator := scraper.NewOrchestrator(cfg, store, sqliteStore, fetcher)

	var uploader *storage.S3Uploader
	s3cfg := storage.S3Config{
		Bucket:          cfg.Export.S3Bucket,
		Region:          cfg.Export.S3Region,
		Endpoint:        cfg.Export.S3Endpoint,
		AccessKeyID:     cfg.Export.S3AccessKey,
		SecretAccessKey: cfg.Export.S3SecretKey,
	}
	if s3cfg.Enabled() {
		uploader, err = storage.NewS3Uploader(ctx, s3cfg)
		if err != nil {
			log.Printf("Warning: export upload disabled: %v", err)
			uploader = nil
		}
	}
	exportService := services.NewExportService(store, uploader, cfg.Export.Dir)

	// One-shot commands
	switch {
	case *scrapeNow, *refreshNow:
		log.Println("Running scrape...")
		summary, err := orchestrator.Run(ctx, *refreshNow)
		if err != nil {
			log.Fatalf("Scrape failed: %v", err)
		}
		log.Printf("Scrape complete: %d scraped, %d auto-moto, %d vehicles, %d errors",
			summary.StoresScraped, summary.AutoMotoStores, summary.TotalVehicles, len(summary.Errors))
		return
	case *exportNow:
		path, err := exportService.Export(ctx)
		if err != nil {
			log.Fatalf("Export failed: %v", err)
		}
		log.Printf("Export written to %s", path)
		return
	}

	// Daemon mode
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sched := scheduler.New(cfg, orchestrator, sqliteStore)
	if err := sched.Start(ctx); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}

	exportWorker := workers.NewExportWorker(exportService)
	go exportWorker.Run(ctx, cfg.Export.Interval)
	log.Println("Export worker started")

	revalidateWorker := workers.NewRevalidateWorker(store, cfg.Proxy.URL)
	go revalidateWorker.Run(ctx, 20, 30*time.Minute)
	log.Println("Revalidate worker started")

	sched.SetWorkers(exportWorker, revalidateWorker)

	log.Println("Daemon running. Press Ctrl+C to stop.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("Shutting down...")
	sched.Stop()
	cancel()
	log.Println("Goodbye!")
}

// maskConnectionString masks password in connection string for logging
func maskConnectionString(connStr string) string {
	start := 0
	for i := 0; i < len(connStr)-3; i++ {
		if connStr[i:i+3] == "://" {
			start = i + 3
			break
		}
	}
	if start == 0 {
		return connStr
	}

	colonIdx := -1
	atIdx := -1
	for i := start; i < len(connStr); i++ {
		if connStr[i] == ':' && colonIdx == -1 {
			colonIdx = i
		}
		if connStr[i] == '@' {
			atIdx = i
			break
		}
	}

	if colonIdx > 0 && atIdx > colonIdx {
		return connStr[:colonIdx+1] + "****" + connStr[atIdx:]
	}
	return connStr
}
