package storage

import (
	"context"
	"time"

	"njuskalo_tracker/models"
)

// Store is the persistence contract for store records and their snapshot
// history. SQLiteStore is the default backend; PostgresStore is used when a
// DATABASE_URL is configured.
type Store interface {
	// InsertPlaceholder creates a zero-count store row for a newly discovered
	// URL. Returns false when the URL is already known (no-op).
	InsertPlaceholder(ctx context.Context, url string) (bool, error)

	GetStore(ctx context.Context, url string) (*models.StoreRecord, error)
	AllStoreURLs(ctx context.Context) (map[string]struct{}, error)
	AutoMotoStores(ctx context.Context) ([]models.StoreRecord, error)
	UnclassifiedValidStores(ctx context.Context) ([]models.StoreRecord, error)
	InvalidStores(ctx context.Context, limit int) ([]models.StoreRecord, error)

	SetStoreValidity(ctx context.Context, url string, valid bool) error
	SetAutoMoto(ctx context.Context, url string, autoMoto bool) error
	UpdateStoreAttributes(ctx context.Context, url string, attrs models.StoreAttributes) error

	// MaxUpdatedAt returns the most recent updated_at across all stores, or
	// the zero time when the table is empty.
	MaxUpdatedAt(ctx context.Context) (time.Time, error)

	// RecordSnapshot appends a snapshot row and refreshes the owning store's
	// denormalized counts and updated_at in a single transaction.
	RecordSnapshot(ctx context.Context, snap *models.StoreSnapshot) error
	LastSnapshot(ctx context.Context, url string) (*models.StoreSnapshot, error)
	SnapshotsForStore(ctx context.Context, url string) ([]models.StoreSnapshot, error)

	// ExportRows joins current store state with each store's latest snapshot.
	ExportRows(ctx context.Context) ([]models.ExportRow, error)
}
