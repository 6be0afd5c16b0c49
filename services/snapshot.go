package services

import (
	"context"
	"log"
	"sync"
	"time"

	"njuskalo_tracker/models"
	"njuskalo_tracker/storage"
)

// SnapshotService computes the signed change against a store's previous
// snapshot and appends the new measurement. The read-previous/compute/insert
// sequence is serialized per URL, so concurrent runs targeting the same
// store cannot both diff against the same stale baseline.
type SnapshotService struct {
	store storage.Store

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewSnapshotService(store storage.Store) *SnapshotService {
	return &SnapshotService{
		store: store,
		locks: make(map[string]*sync.Mutex),
	}
}

func (s *SnapshotService) urlLock(url string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.locks[url]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[url] = lock
	}
	return lock
}

// Record appends a snapshot for the given active counts. The first snapshot
// for a URL carries a zero delta. A failed previous-snapshot lookup degrades
// to a zero baseline: recording current state matters more than a correct
// delta for one pass.
func (s *SnapshotService) Record(ctx context.Context, url string, active models.VehicleCounts, runID *int64) (*models.StoreSnapshot, error) {
	lock := s.urlLock(url)
	lock.Lock()
	defer lock.Unlock()

	active = active.Normalized()

	var delta models.VehicleCounts
	prev, err := s.store.LastSnapshot(ctx, url)
	if err != nil {
		log.Printf("Previous snapshot lookup failed for %s, recording zero delta: %v", url, err)
	} else if prev != nil {
		delta = active.Minus(prev.Active)
	}

	snap := &models.StoreSnapshot{
		URL:       url,
		Active:    active,
		Delta:     delta,
		ScrapedAt: time.Now(),
		RunID:     runID,
	}

	if err := s.store.RecordSnapshot(ctx, snap); err != nil {
		return nil, err
	}
	return snap, nil
}
