package services

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"njuskalo_tracker/models"
	"njuskalo_tracker/storage"
)

// ExportService renders the flat reporting view (current counts joined with
// the latest deltas) as CSV, written to disk and optionally pushed to S3.
type ExportService struct {
	store    storage.Store
	uploader *storage.S3Uploader // nil when upload is not configured
	dir      string
}

func NewExportService(store storage.Store, uploader *storage.S3Uploader, dir string) *ExportService {
	return &ExportService{
		store:    store,
		uploader: uploader,
		dir:      dir,
	}
}

var exportHeader = []string{
	"id", "name", "subname", "address",
	"active_new", "active_used", "active_test", "active_total",
	"delta_new", "delta_used", "delta_test", "delta_total",
	"url", "is_auto_moto", "updated_at",
}

// WriteCSV streams the export rows as CSV.
func WriteCSV(w io.Writer, rows []models.ExportRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(exportHeader); err != nil {
		return err
	}
	for _, r := range rows {
		record := []string{
			r.ID, r.Name, r.Subname, r.Address,
			strconv.Itoa(r.Active.New), strconv.Itoa(r.Active.Used),
			strconv.Itoa(r.Active.Test), strconv.Itoa(r.Active.Total),
			strconv.Itoa(r.Delta.New), strconv.Itoa(r.Delta.Used),
			strconv.Itoa(r.Delta.Test), strconv.Itoa(r.Delta.Total),
			r.URL, strconv.FormatBool(r.IsAutoMoto),
			r.UpdatedAt.Format(time.RFC3339),
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Export writes a timestamped CSV file and returns its path. An S3 upload
// failure is logged but does not fail the export; the local file is the
// source of truth.
func (s *ExportService) Export(ctx context.Context) (string, error) {
	rows, err := s.store.ExportRows(ctx)
	if err != nil {
		return "", fmt.Errorf("export rows: %w", err)
	}

	var buf bytes.Buffer
	if err := WriteCSV(&buf, rows); err != nil {
		return "", fmt.Errorf("write csv: %w", err)
	}

	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return "", fmt.Errorf("create export dir: %w", err)
	}

	name := fmt.Sprintf("stores_%s.csv", time.Now().Format("20060102_150405"))
	path := filepath.Join(s.dir, name)
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return "", fmt.Errorf("write export: %w", err)
	}

	if s.uploader != nil {
		key := "exports/" + name
		if err := s.uploader.Upload(ctx, key, bytes.NewReader(buf.Bytes()), "text/csv"); err != nil {
			log.Printf("Export upload failed for %s: %v", key, err)
		}
	}

	log.Printf("Exported %d stores to %s", len(rows), path)
	return path, nil
}
