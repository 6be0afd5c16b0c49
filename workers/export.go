package workers

import (
	"context"
	"log"
	"time"

	"njuskalo_tracker/models"
	"njuskalo_tracker/services"
)

// ExportWorker periodically writes the reporting CSV. It can also be
// triggered manually via command.
type ExportWorker struct {
	export    *services.ExportService
	triggerCh chan struct{}
	logFunc   LogFunc
}

func NewExportWorker(export *services.ExportService) *ExportWorker {
	return &ExportWorker{
		export:    export,
		triggerCh: make(chan struct{}, 1),
		logFunc:   NoOpLogger,
	}
}

func (w *ExportWorker) SetLogger(fn LogFunc) {
	w.logFunc = fn
}

// Trigger causes the worker to run immediately
func (w *ExportWorker) Trigger() {
	select {
	case w.triggerCh <- struct{}{}:
	default:
	}
}

// Run exports on the given interval until the context is cancelled. An
// interval of zero means trigger-only.
func (w *ExportWorker) Run(ctx context.Context, interval time.Duration) {
	var tick <-chan time.Time
	if interval > 0 {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-tick:
			w.runOnce(ctx)
		case <-w.triggerCh:
			w.runOnce(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (w *ExportWorker) runOnce(ctx context.Context) {
	path, err := w.export.Export(ctx)
	if err != nil {
		log.Printf("Export worker: %v", err)
		w.logFunc(models.LogLevelError, "export", err.Error())
		return
	}
	w.logFunc(models.LogLevelInfo, "export", "wrote "+path)
}
