package workers

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"time"

	"njuskalo_tracker/models"
	"njuskalo_tracker/storage"
)

// RevalidateWorker rechecks stores flagged invalid. A store whose page
// answers again gets is_valid flipped back, so the next run picks it up; a
// store that keeps failing just stays invalid.
type RevalidateWorker struct {
	store      storage.Store
	httpClient *http.Client
	triggerCh  chan struct{}
	logFunc    LogFunc
}

func NewRevalidateWorker(store storage.Store, proxyURL string) *RevalidateWorker {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if proxyURL != "" {
		if proxyParsed, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(proxyParsed)
		}
	}

	client := &http.Client{
		Timeout:   30 * time.Second,
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	return &RevalidateWorker{
		store:      store,
		httpClient: client,
		triggerCh:  make(chan struct{}, 1),
		logFunc:    NoOpLogger,
	}
}

func (w *RevalidateWorker) SetLogger(fn LogFunc) {
	w.logFunc = fn
}

// Trigger causes the worker to run immediately
func (w *RevalidateWorker) Trigger() {
	select {
	case w.triggerCh <- struct{}{}:
	default:
	}
}

// Run checks a batch of invalid stores every interval.
func (w *RevalidateWorker) Run(ctx context.Context, batchSize int, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.runBatch(ctx, batchSize)
		case <-w.triggerCh:
			w.runBatch(ctx, batchSize)
		case <-ctx.Done():
			return
		}
	}
}

func (w *RevalidateWorker) runBatch(ctx context.Context, batchSize int) {
	stores, err := w.store.InvalidStores(ctx, batchSize)
	if err != nil {
		log.Printf("Revalidate: query failed: %v", err)
		return
	}
	if len(stores) == 0 {
		return
	}

	recovered := 0
	for _, rec := range stores {
		if err := ctx.Err(); err != nil {
			return
		}
		if w.check(ctx, rec.URL) {
			if err := w.store.SetStoreValidity(ctx, rec.URL, true); err != nil {
				log.Printf("Revalidate: mark valid %s: %v", rec.URL, err)
				continue
			}
			recovered++
		}
	}

	if recovered > 0 {
		msg := fmt.Sprintf("recovered %d of %d invalid stores", recovered, len(stores))
		log.Printf("Revalidate: %s", msg)
		w.logFunc(models.LogLevelInfo, "revalidate", msg)
	}
}

// check does a lightweight HEAD request; only a 200 counts as recovered.
func (w *RevalidateWorker) check(ctx context.Context, storeURL string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, storeURL, nil)
	if err != nil {
		return false
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()

	return resp.StatusCode == http.StatusOK
}
