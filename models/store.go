package models

import (
	"encoding/json"
	"time"
)

// VehicleCounts buckets a store's active listings by condition flag.
// Total is always the sum of the three buckets.
type VehicleCounts struct {
	New   int `json:"new" db:"new_count"`
	Used  int `json:"used" db:"used_count"`
	Test  int `json:"test" db:"test_count"`
	Total int `json:"total" db:"total_count"`
}

func (c VehicleCounts) Sum() int {
	return c.New + c.Used + c.Test
}

// Normalized returns a copy with Total recomputed from the buckets.
func (c VehicleCounts) Normalized() VehicleCounts {
	c.Total = c.Sum()
	return c
}

// Minus returns the signed per-bucket difference c - prev.
func (c VehicleCounts) Minus(prev VehicleCounts) VehicleCounts {
	return VehicleCounts{
		New:   c.New - prev.New,
		Used:  c.Used - prev.Used,
		Test:  c.Test - prev.Test,
		Total: c.Total - prev.Total,
	}
}

// StoreAttributes holds scraped store metadata. The fixed fields are the ones
// the export view needs; Extra carries anything else a scraper picks up.
type StoreAttributes struct {
	Name       string            `json:"name,omitempty"`
	Subname    string            `json:"subname,omitempty"`
	Address    string            `json:"address,omitempty"`
	RawAdCount int               `json:"raw_ad_count,omitempty"`
	Extra      map[string]string `json:"extra,omitempty"`
}

func (a StoreAttributes) ToJSON() json.RawMessage {
	data, err := json.Marshal(a)
	if err != nil {
		return json.RawMessage("{}")
	}
	return data
}

// StoreRecord is one row per distinct store URL. Rows are never deleted;
// unreachable stores are kept with IsValid=false.
type StoreRecord struct {
	ID         string          `json:"id" db:"id"`
	URL        string          `json:"url" db:"url"`
	IsValid    bool            `json:"is_valid" db:"is_valid"`
	AutoMoto   *bool           `json:"auto_moto" db:"auto_moto"` // nil until first classification
	Counts     VehicleCounts   `json:"counts"`
	Attributes StoreAttributes `json:"attributes"`
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at" db:"updated_at"`
}

// IsAutoMoto reports whether the store has been confirmed to post in the
// vehicle category. False both for unresolved and confirmed-negative stores.
func (s *StoreRecord) IsAutoMoto() bool {
	return s.AutoMoto != nil && *s.AutoMoto
}

// Classified reports whether the store has been checked at least once.
func (s *StoreRecord) Classified() bool {
	return s.AutoMoto != nil
}
