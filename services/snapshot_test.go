package services

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"njuskalo_tracker/models"
	"njuskalo_tracker/storage"
)

func newTestStore(t *testing.T) *storage.SQLiteStore {
	t.Helper()
	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func seedStore(t *testing.T, store *storage.SQLiteStore, url string) {
	t.Helper()
	if _, err := store.InsertPlaceholder(context.Background(), url); err != nil {
		t.Fatalf("InsertPlaceholder failed: %v", err)
	}
}

func TestRecordFirstSnapshotZeroDelta(t *testing.T) {
	store := newTestStore(t)
	svc := NewSnapshotService(store)
	url := "https://www.njuskalo.hr/trgovina/auto-kuca"
	seedStore(t, store, url)

	snap, err := svc.Record(context.Background(), url, models.VehicleCounts{New: 2, Used: 5}, nil)
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	if snap.Active.Total != 7 {
		t.Errorf("active total not normalized: %+v", snap.Active)
	}
	if snap.Delta != (models.VehicleCounts{}) {
		t.Errorf("first snapshot must carry a zero delta, got %+v", snap.Delta)
	}
}

func TestRecordDeltaChain(t *testing.T) {
	store := newTestStore(t)
	svc := NewSnapshotService(store)
	ctx := context.Background()
	url := "https://www.njuskalo.hr/trgovina/auto-kuca"
	seedStore(t, store, url)

	observations := []models.VehicleCounts{
		{New: 2, Used: 5, Test: 0},
		{New: 1, Used: 6, Test: 0},
		{New: 1, Used: 6, Test: 0},
		{New: 4, Used: 3, Test: 1},
	}
	wantDeltas := []models.VehicleCounts{
		{},
		{New: -1, Used: 1, Test: 0, Total: 0},
		{},
		{New: 3, Used: -3, Test: 1, Total: 1},
	}

	for i, active := range observations {
		snap, err := svc.Record(ctx, url, active, nil)
		if err != nil {
			t.Fatalf("Record %d failed: %v", i, err)
		}
		if snap.Delta != wantDeltas[i] {
			t.Errorf("snapshot %d delta = %+v, want %+v", i, snap.Delta, wantDeltas[i])
		}
	}

	snaps, err := store.SnapshotsForStore(ctx, url)
	if err != nil {
		t.Fatalf("SnapshotsForStore failed: %v", err)
	}
	if len(snaps) != len(observations) {
		t.Fatalf("expected %d snapshots, got %d", len(observations), len(snaps))
	}
	// Each snapshot's active counts must equal the previous active plus its
	// own delta.
	for i := 1; i < len(snaps); i++ {
		reconstructed := models.VehicleCounts{
			New:   snaps[i-1].Active.New + snaps[i].Delta.New,
			Used:  snaps[i-1].Active.Used + snaps[i].Delta.Used,
			Test:  snaps[i-1].Active.Test + snaps[i].Delta.Test,
			Total: snaps[i-1].Active.Total + snaps[i].Delta.Total,
		}
		if reconstructed != snaps[i].Active {
			t.Errorf("snapshot %d is not consistent with its delta: %+v vs %+v",
				i, reconstructed, snaps[i].Active)
		}
	}
}

func TestRecordTaggedWithRun(t *testing.T) {
	store := newTestStore(t)
	svc := NewSnapshotService(store)
	url := "https://www.njuskalo.hr/trgovina/auto-kuca"
	seedStore(t, store, url)

	runID := int64(42)
	snap, err := svc.Record(context.Background(), url, models.VehicleCounts{New: 1}, &runID)
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if snap.RunID == nil || *snap.RunID != runID {
		t.Errorf("snapshot not tagged with run id: %+v", snap.RunID)
	}
}

// failingLastSnapshotStore simulates a baseline lookup failure while letting
// the write through.
type failingLastSnapshotStore struct {
	storage.Store
}

func (f *failingLastSnapshotStore) LastSnapshot(context.Context, string) (*models.StoreSnapshot, error) {
	return nil, errors.New("db locked")
}

func TestRecordDegradesToZeroDeltaOnLookupFailure(t *testing.T) {
	store := newTestStore(t)
	url := "https://www.njuskalo.hr/trgovina/auto-kuca"
	seedStore(t, store, url)

	svc := NewSnapshotService(&failingLastSnapshotStore{Store: store})
	snap, err := svc.Record(context.Background(), url, models.VehicleCounts{New: 3, Used: 1}, nil)
	if err != nil {
		t.Fatalf("Record should survive a baseline lookup failure: %v", err)
	}
	if snap.Delta != (models.VehicleCounts{}) {
		t.Errorf("expected zero delta on lookup failure, got %+v", snap.Delta)
	}
	if snap.Active.Total != 4 {
		t.Errorf("active counts must still be recorded: %+v", snap.Active)
	}
}
