package models

import "time"

// StoreSnapshot is one point-in-time measurement of a store's active listing
// counts plus the signed change since the previous measurement. Rows are
// append-only: a snapshot is never updated or deleted once written.
type StoreSnapshot struct {
	ID        int64         `json:"id" db:"id"`
	URL       string        `json:"url" db:"url"`
	Active    VehicleCounts `json:"active"`
	Delta     VehicleCounts `json:"delta"`
	ScrapedAt time.Time     `json:"scraped_at" db:"scraped_at"`
	RunID     *int64        `json:"run_id" db:"run_id"`
}

// ExportRow is the flat reporting view: current store state joined with the
// latest snapshot. Stores with no snapshot history report zero deltas.
type ExportRow struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Subname    string        `json:"subname"`
	Address    string        `json:"address"`
	Active     VehicleCounts `json:"active"`
	Delta      VehicleCounts `json:"delta"`
	URL        string        `json:"url"`
	IsAutoMoto bool          `json:"is_auto_moto"`
	UpdatedAt  time.Time     `json:"updated_at"`
}
