package models

import "time"

type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

type ScrapeRun struct {
	ID             int64      `json:"id" db:"id"`
	SiteID         string     `json:"site_id" db:"site_id"`
	StartedAt      time.Time  `json:"started_at" db:"started_at"`
	FinishedAt     *time.Time `json:"finished_at" db:"finished_at"`
	Status         RunStatus  `json:"status" db:"status"`
	NewURLsFound   int        `json:"new_urls_found" db:"new_urls_found"`
	StoresScraped  int        `json:"stores_scraped" db:"stores_scraped"`
	AutoMotoStores int        `json:"auto_moto_stores" db:"auto_moto_stores"`
	ErrorsCount    int        `json:"errors_count" db:"errors_count"`
}

// RunSummary is what a run returns to its caller (scheduler, command poller,
// one-shot CLI). A degraded run still produces a summary; Errors carries one
// entry per failed store URL.
type RunSummary struct {
	XMLAvailable   bool     `json:"xml_available"`
	NewURLsFound   int      `json:"new_urls_found"`
	StoresScraped  int      `json:"stores_scraped"`
	AutoMotoStores int      `json:"auto_moto_stores"`
	NewVehicles    int      `json:"new_vehicles"`
	UsedVehicles   int      `json:"used_vehicles"`
	TestVehicles   int      `json:"test_vehicles"`
	TotalVehicles  int      `json:"total_vehicles"`
	Errors         []string `json:"errors"`
}
