package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"njuskalo_tracker/models"
)

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS stores (
		id TEXT NOT NULL,
		url TEXT PRIMARY KEY,
		is_valid BOOLEAN NOT NULL DEFAULT TRUE,
		auto_moto BOOLEAN,
		new_count INTEGER NOT NULL DEFAULT 0,
		used_count INTEGER NOT NULL DEFAULT 0,
		test_count INTEGER NOT NULL DEFAULT 0,
		total_count INTEGER NOT NULL DEFAULT 0,
		attributes JSON,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS store_snapshots (
		id INTEGER PRIMARY KEY,
		url TEXT NOT NULL,
		active_new INTEGER NOT NULL,
		active_used INTEGER NOT NULL,
		active_test INTEGER NOT NULL,
		active_total INTEGER NOT NULL,
		delta_new INTEGER NOT NULL,
		delta_used INTEGER NOT NULL,
		delta_test INTEGER NOT NULL,
		delta_total INTEGER NOT NULL,
		scraped_at DATETIME NOT NULL,
		run_id INTEGER,
		FOREIGN KEY (url) REFERENCES stores(url)
	);

	CREATE TABLE IF NOT EXISTS scrape_runs (
		id INTEGER PRIMARY KEY,
		site_id TEXT,
		started_at DATETIME,
		finished_at DATETIME,
		status TEXT,
		new_urls_found INTEGER,
		stores_scraped INTEGER,
		auto_moto_stores INTEGER,
		errors_count INTEGER
	);

	CREATE TABLE IF NOT EXISTS scrape_logs (
		id INTEGER PRIMARY KEY,
		run_id INTEGER,
		timestamp DATETIME,
		level TEXT,
		message TEXT,
		site_id TEXT
	);

	CREATE TABLE IF NOT EXISTS commands (
		id INTEGER PRIMARY KEY,
		command TEXT,
		params JSON,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		processed_at DATETIME
	);

	CREATE INDEX IF NOT EXISTS idx_snapshots_url ON store_snapshots(url, scraped_at);
	CREATE INDEX IF NOT EXISTS idx_stores_valid ON stores(is_valid);
	CREATE INDEX IF NOT EXISTS idx_stores_auto_moto ON stores(auto_moto);
	CREATE INDEX IF NOT EXISTS idx_stores_total ON stores(total_count);
	CREATE INDEX IF NOT EXISTS idx_stores_updated ON stores(updated_at);
	CREATE INDEX IF NOT EXISTS idx_commands_pending ON commands(processed_at) WHERE processed_at IS NULL;
	CREATE INDEX IF NOT EXISTS idx_logs_run ON scrape_logs(run_id, timestamp);
	CREATE INDEX IF NOT EXISTS idx_runs_status ON scrape_runs(status, started_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

const storeColumns = `id, url, is_valid, auto_moto, new_count, used_count, test_count, total_count,
		attributes, created_at, updated_at`

func scanStore(row interface{ Scan(...interface{}) error }) (*models.StoreRecord, error) {
	var rec models.StoreRecord
	var autoMoto sql.NullBool
	var attrs sql.NullString
	err := row.Scan(&rec.ID, &rec.URL, &rec.IsValid, &autoMoto,
		&rec.Counts.New, &rec.Counts.Used, &rec.Counts.Test, &rec.Counts.Total,
		&attrs, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if autoMoto.Valid {
		rec.AutoMoto = &autoMoto.Bool
	}
	if attrs.Valid && attrs.String != "" {
		json.Unmarshal([]byte(attrs.String), &rec.Attributes)
	}
	return &rec, nil
}

func (s *SQLiteStore) InsertPlaceholder(ctx context.Context, url string) (bool, error) {
	now := time.Now()
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO stores (id, url, is_valid, attributes, created_at, updated_at)
		VALUES (?, ?, TRUE, '{}', ?, ?)
		ON CONFLICT(url) DO NOTHING`,
		uuid.NewString(), url, now, now)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	return affected > 0, err
}

func (s *SQLiteStore) GetStore(ctx context.Context, url string) (*models.StoreRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+storeColumns+` FROM stores WHERE url = ?`, url)
	rec, err := scanStore(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return rec, err
}

func (s *SQLiteStore) AllStoreURLs(ctx context.Context) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT url FROM stores`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	urls := make(map[string]struct{})
	for rows.Next() {
		var url string
		if err := rows.Scan(&url); err != nil {
			return nil, err
		}
		urls[url] = struct{}{}
	}
	return urls, rows.Err()
}

func (s *SQLiteStore) queryStores(ctx context.Context, query string, args ...interface{}) ([]models.StoreRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []models.StoreRecord
	for rows.Next() {
		rec, err := scanStore(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, *rec)
	}
	return recs, rows.Err()
}

func (s *SQLiteStore) AutoMotoStores(ctx context.Context) ([]models.StoreRecord, error) {
	return s.queryStores(ctx, `
		SELECT `+storeColumns+` FROM stores
		WHERE auto_moto = TRUE AND is_valid = TRUE ORDER BY updated_at`)
}

func (s *SQLiteStore) UnclassifiedValidStores(ctx context.Context) ([]models.StoreRecord, error) {
	return s.queryStores(ctx, `
		SELECT `+storeColumns+` FROM stores
		WHERE auto_moto IS NULL AND is_valid = TRUE ORDER BY created_at`)
}

func (s *SQLiteStore) InvalidStores(ctx context.Context, limit int) ([]models.StoreRecord, error) {
	return s.queryStores(ctx, `
		SELECT `+storeColumns+` FROM stores
		WHERE is_valid = FALSE ORDER BY updated_at LIMIT ?`, limit)
}

func (s *SQLiteStore) SetStoreValidity(ctx context.Context, url string, valid bool) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE stores SET is_valid = ?, updated_at = ? WHERE url = ?`,
		valid, time.Now(), url)
	return err
}

func (s *SQLiteStore) SetAutoMoto(ctx context.Context, url string, autoMoto bool) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE stores SET auto_moto = ?, updated_at = ? WHERE url = ?`,
		autoMoto, time.Now(), url)
	return err
}

func (s *SQLiteStore) UpdateStoreAttributes(ctx context.Context, url string, attrs models.StoreAttributes) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE stores SET attributes = ?, updated_at = ? WHERE url = ?`,
		string(attrs.ToJSON()), time.Now(), url)
	return err
}

func (s *SQLiteStore) MaxUpdatedAt(ctx context.Context) (time.Time, error) {
	var t time.Time
	err := s.db.QueryRowContext(ctx, `
		SELECT updated_at FROM stores ORDER BY updated_at DESC LIMIT 1`).Scan(&t)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	return t, err
}

// RecordSnapshot appends the snapshot row and refreshes the store's
// denormalized counts in one transaction, so readers never see a snapshot
// without the matching current counts.
func (s *SQLiteStore) RecordSnapshot(ctx context.Context, snap *models.StoreSnapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		INSERT INTO store_snapshots (url, active_new, active_used, active_test, active_total,
			delta_new, delta_used, delta_test, delta_total, scraped_at, run_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		snap.URL, snap.Active.New, snap.Active.Used, snap.Active.Test, snap.Active.Total,
		snap.Delta.New, snap.Delta.Used, snap.Delta.Test, snap.Delta.Total,
		snap.ScrapedAt, snap.RunID)
	if err != nil {
		return err
	}
	snap.ID, _ = result.LastInsertId()

	_, err = tx.ExecContext(ctx, `
		UPDATE stores SET new_count = ?, used_count = ?, test_count = ?, total_count = ?,
			updated_at = ? WHERE url = ?`,
		snap.Active.New, snap.Active.Used, snap.Active.Test, snap.Active.Total,
		snap.ScrapedAt, snap.URL)
	if err != nil {
		return err
	}

	return tx.Commit()
}

const snapshotColumns = `id, url, active_new, active_used, active_test, active_total,
		delta_new, delta_used, delta_test, delta_total, scraped_at, run_id`

func scanSnapshot(row interface{ Scan(...interface{}) error }) (*models.StoreSnapshot, error) {
	var snap models.StoreSnapshot
	var runID sql.NullInt64
	err := row.Scan(&snap.ID, &snap.URL,
		&snap.Active.New, &snap.Active.Used, &snap.Active.Test, &snap.Active.Total,
		&snap.Delta.New, &snap.Delta.Used, &snap.Delta.Test, &snap.Delta.Total,
		&snap.ScrapedAt, &runID)
	if err != nil {
		return nil, err
	}
	if runID.Valid {
		snap.RunID = &runID.Int64
	}
	return &snap, nil
}

func (s *SQLiteStore) LastSnapshot(ctx context.Context, url string) (*models.StoreSnapshot, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+snapshotColumns+` FROM store_snapshots
		WHERE url = ? ORDER BY scraped_at DESC, id DESC LIMIT 1`, url)
	snap, err := scanSnapshot(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return snap, err
}

func (s *SQLiteStore) SnapshotsForStore(ctx context.Context, url string) ([]models.StoreSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+snapshotColumns+` FROM store_snapshots
		WHERE url = ? ORDER BY scraped_at, id`, url)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snaps []models.StoreSnapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, *snap)
	}
	return snaps, rows.Err()
}

func (s *SQLiteStore) ExportRows(ctx context.Context) ([]models.ExportRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT st.id, st.url, st.auto_moto, st.attributes,
			st.new_count, st.used_count, st.test_count, st.total_count,
			COALESCE(sn.delta_new, 0), COALESCE(sn.delta_used, 0),
			COALESCE(sn.delta_test, 0), COALESCE(sn.delta_total, 0),
			st.updated_at
		FROM stores st
		LEFT JOIN store_snapshots sn ON sn.id = (
			SELECT id FROM store_snapshots
			WHERE url = st.url ORDER BY scraped_at DESC, id DESC LIMIT 1
		)
		ORDER BY st.total_count DESC, st.url`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ExportRow
	for rows.Next() {
		var r models.ExportRow
		var autoMoto sql.NullBool
		var attrs sql.NullString
		if err := rows.Scan(&r.ID, &r.URL, &autoMoto, &attrs,
			&r.Active.New, &r.Active.Used, &r.Active.Test, &r.Active.Total,
			&r.Delta.New, &r.Delta.Used, &r.Delta.Test, &r.Delta.Total,
			&r.UpdatedAt); err != nil {
			return nil, err
		}
		r.IsAutoMoto = autoMoto.Valid && autoMoto.Bool
		if attrs.Valid && attrs.String != "" {
			var a models.StoreAttributes
			if json.Unmarshal([]byte(attrs.String), &a) == nil {
				r.Name = a.Name
				r.Subname = a.Subname
				r.Address = a.Address
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ---- operational tables (runs, logs, commands) ----

func (s *SQLiteStore) CreateRun(run *models.ScrapeRun) (int64, error) {
	result, err := s.db.Exec(`
		INSERT INTO scrape_runs (site_id, started_at, status, new_urls_found,
			stores_scraped, auto_moto_stores, errors_count)
		VALUES (?, ?, ?, 0, 0, 0, 0)`,
		run.SiteID, run.StartedAt, run.Status)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

func (s *SQLiteStore) UpdateRun(run *models.ScrapeRun) error {
	_, err := s.db.Exec(`
		UPDATE scrape_runs SET finished_at = ?, status = ?, new_urls_found = ?,
			stores_scraped = ?, auto_moto_stores = ?, errors_count = ?
		WHERE id = ?`,
		run.FinishedAt, run.Status, run.NewURLsFound,
		run.StoresScraped, run.AutoMotoStores, run.ErrorsCount, run.ID)
	return err
}

func (s *SQLiteStore) Log(runID *int64, level models.LogLevel, message, siteID string) error {
	_, err := s.db.Exec(`
		INSERT INTO scrape_logs (run_id, timestamp, level, message, site_id)
		VALUES (?, ?, ?, ?, ?)`,
		runID, time.Now(), level, message, siteID)
	return err
}

func (s *SQLiteStore) GetPendingCommands() ([]models.Command, error) {
	rows, err := s.db.Query(`
		SELECT id, command, params, created_at, processed_at
		FROM commands WHERE processed_at IS NULL ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cmds []models.Command
	for rows.Next() {
		var cmd models.Command
		var params sql.NullString
		if err := rows.Scan(&cmd.ID, &cmd.Command, &params, &cmd.CreatedAt, &cmd.ProcessedAt); err != nil {
			return nil, err
		}
		if params.Valid {
			cmd.Params = json.RawMessage(params.String)
		}
		cmds = append(cmds, cmd)
	}
	return cmds, rows.Err()
}

func (s *SQLiteStore) MarkCommandProcessed(id int64) error {
	_, err := s.db.Exec(`UPDATE commands SET processed_at = ? WHERE id = ?`, time.Now(), id)
	return err
}

func (s *SQLiteStore) ParseCommandParams(cmd *models.Command) (*models.CommandParams, error) {
	if cmd.Params == nil || string(cmd.Params) == "null" {
		return &models.CommandParams{}, nil
	}
	var params models.CommandParams
	if err := json.Unmarshal(cmd.Params, &params); err != nil {
		return nil, err
	}
	return &params, nil
}
