package workers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

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

func seedInvalid(t *testing.T, store *storage.SQLiteStore, url string) {
	t.Helper()
	ctx := context.Background()
	if _, err := store.InsertPlaceholder(ctx, url); err != nil {
		t.Fatalf("InsertPlaceholder failed: %v", err)
	}
	if err := store.SetStoreValidity(ctx, url, false); err != nil {
		t.Fatalf("SetStoreValidity failed: %v", err)
	}
}

func TestRevalidateRecoversReachableStores(t *testing.T) {
	alive := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead {
			t.Errorf("expected a HEAD request, got %s", r.Method)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer alive.Close()

	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer dead.Close()

	store := newTestStore(t)
	seedInvalid(t, store, alive.URL)
	seedInvalid(t, store, dead.URL)

	w := NewRevalidateWorker(store, "")
	w.runBatch(context.Background(), 10)

	ctx := context.Background()
	rec, err := store.GetStore(ctx, alive.URL)
	if err != nil || rec == nil {
		t.Fatalf("GetStore failed: %v", err)
	}
	if !rec.IsValid {
		t.Error("reachable store should be valid again")
	}

	rec, err = store.GetStore(ctx, dead.URL)
	if err != nil || rec == nil {
		t.Fatalf("GetStore failed: %v", err)
	}
	if rec.IsValid {
		t.Error("store answering 404 must stay invalid")
	}
}

func TestRevalidateEmptyBatch(t *testing.T) {
	store := newTestStore(t)
	w := NewRevalidateWorker(store, "")

	// Nothing invalid; must be a no-op.
	w.runBatch(context.Background(), 10)
}
