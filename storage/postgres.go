package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"njuskalo_tracker/models"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	store := &PostgresStore{pool: pool}
	if err := store.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return store, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS stores (
		id UUID NOT NULL,
		url TEXT PRIMARY KEY,
		is_valid BOOLEAN NOT NULL DEFAULT TRUE,
		auto_moto BOOLEAN,
		new_count INTEGER NOT NULL DEFAULT 0,
		used_count INTEGER NOT NULL DEFAULT 0,
		test_count INTEGER NOT NULL DEFAULT 0,
		total_count INTEGER NOT NULL DEFAULT 0,
		attributes JSONB NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS store_snapshots (
		id BIGSERIAL PRIMARY KEY,
		url TEXT NOT NULL REFERENCES stores(url),
		active_new INTEGER NOT NULL,
		active_used INTEGER NOT NULL,
		active_test INTEGER NOT NULL,
		active_total INTEGER NOT NULL,
		delta_new INTEGER NOT NULL,
		delta_used INTEGER NOT NULL,
		delta_test INTEGER NOT NULL,
		delta_total INTEGER NOT NULL,
		scraped_at TIMESTAMPTZ NOT NULL,
		run_id BIGINT
	);

	CREATE INDEX IF NOT EXISTS idx_snapshots_url ON store_snapshots(url, scraped_at);
	CREATE INDEX IF NOT EXISTS idx_stores_valid ON stores(is_valid);
	CREATE INDEX IF NOT EXISTS idx_stores_auto_moto ON stores(auto_moto);
	CREATE INDEX IF NOT EXISTS idx_stores_total ON stores(total_count);
	CREATE INDEX IF NOT EXISTS idx_stores_updated ON stores(updated_at);
	`
	_, err := s.pool.Exec(ctx, schema)
	return err
}

func (s *PostgresStore) InsertPlaceholder(ctx context.Context, url string) (bool, error) {
	now := time.Now()
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO stores (id, url, is_valid, created_at, updated_at)
		VALUES ($1, $2, TRUE, $3, $3)
		ON CONFLICT (url) DO NOTHING`,
		uuid.New(), url, now)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

const pgStoreColumns = `id, url, is_valid, auto_moto, new_count, used_count, test_count, total_count,
		attributes, created_at, updated_at`

func scanPgStore(row pgx.Row) (*models.StoreRecord, error) {
	var rec models.StoreRecord
	err := row.Scan(&rec.ID, &rec.URL, &rec.IsValid, &rec.AutoMoto,
		&rec.Counts.New, &rec.Counts.Used, &rec.Counts.Test, &rec.Counts.Total,
		&rec.Attributes, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *PostgresStore) GetStore(ctx context.Context, url string) (*models.StoreRecord, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+pgStoreColumns+` FROM stores WHERE url = $1`, url)
	rec, err := scanPgStore(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return rec, err
}

func (s *PostgresStore) AllStoreURLs(ctx context.Context) (map[string]struct{}, error) {
	rows, err := s.pool.Query(ctx, `SELECT url FROM stores`)
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

func (s *PostgresStore) queryStores(ctx context.Context, query string, args ...interface{}) ([]models.StoreRecord, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []models.StoreRecord
	for rows.Next() {
		rec, err := scanPgStore(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, *rec)
	}
	return recs, rows.Err()
}

func (s *PostgresStore) AutoMotoStores(ctx context.Context) ([]models.StoreRecord, error) {
	return s.queryStores(ctx, `
		SELECT `+pgStoreColumns+` FROM stores
		WHERE auto_moto = TRUE AND is_valid = TRUE ORDER BY updated_at`)
}

func (s *PostgresStore) UnclassifiedValidStores(ctx context.Context) ([]models.StoreRecord, error) {
	return s.queryStores(ctx, `
		SELECT `+pgStoreColumns+` FROM stores
		WHERE auto_moto IS NULL AND is_valid = TRUE ORDER BY created_at`)
}

func (s *PostgresStore) InvalidStores(ctx context.Context, limit int) ([]models.StoreRecord, error) {
	return s.queryStores(ctx, `
		SELECT `+pgStoreColumns+` FROM stores
		WHERE is_valid = FALSE ORDER BY updated_at LIMIT $1`, limit)
}

func (s *PostgresStore) SetStoreValidity(ctx context.Context, url string, valid bool) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE stores SET is_valid = $1, updated_at = NOW() WHERE url = $2`, valid, url)
	return err
}

func (s *PostgresStore) SetAutoMoto(ctx context.Context, url string, autoMoto bool) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE stores SET auto_moto = $1, updated_at = NOW() WHERE url = $2`, autoMoto, url)
	return err
}

func (s *PostgresStore) UpdateStoreAttributes(ctx context.Context, url string, attrs models.StoreAttributes) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE stores SET attributes = $1, updated_at = NOW() WHERE url = $2`,
		attrs.ToJSON(), url)
	return err
}

func (s *PostgresStore) MaxUpdatedAt(ctx context.Context) (time.Time, error) {
	var t *time.Time
	err := s.pool.QueryRow(ctx, `SELECT MAX(updated_at) FROM stores`).Scan(&t)
	if err != nil {
		return time.Time{}, err
	}
	if t == nil {
		return time.Time{}, nil
	}
	return *t, nil
}

// RecordSnapshot takes a row-level lock on the store before writing, so two
// concurrent runs targeting the same URL cannot interleave the snapshot
// append with the denormalized count update.
func (s *PostgresStore) RecordSnapshot(ctx context.Context, snap *models.StoreSnapshot) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT 1 FROM stores WHERE url = $1 FOR UPDATE`, snap.URL); err != nil {
		return err
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO store_snapshots (url, active_new, active_used, active_test, active_total,
			delta_new, delta_used, delta_test, delta_total, scraped_at, run_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`,
		snap.URL, snap.Active.New, snap.Active.Used, snap.Active.Test, snap.Active.Total,
		snap.Delta.New, snap.Delta.Used, snap.Delta.Test, snap.Delta.Total,
		snap.ScrapedAt, snap.RunID).Scan(&snap.ID)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		UPDATE stores SET new_count = $1, used_count = $2, test_count = $3, total_count = $4,
			updated_at = $5 WHERE url = $6`,
		snap.Active.New, snap.Active.Used, snap.Active.Test, snap.Active.Total,
		snap.ScrapedAt, snap.URL)
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

const pgSnapshotColumns = `id, url, active_new, active_used, active_test, active_total,
		delta_new, delta_used, delta_test, delta_total, scraped_at, run_id`

func scanPgSnapshot(row pgx.Row) (*models.StoreSnapshot, error) {
	var snap models.StoreSnapshot
	err := row.Scan(&snap.ID, &snap.URL,
		&snap.Active.New, &snap.Active.Used, &snap.Active.Test, &snap.Active.Total,
		&snap.Delta.New, &snap.Delta.Used, &snap.Delta.Test, &snap.Delta.Total,
		&snap.ScrapedAt, &snap.RunID)
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

func (s *PostgresStore) LastSnapshot(ctx context.Context, url string) (*models.StoreSnapshot, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+pgSnapshotColumns+` FROM store_snapshots
		WHERE url = $1 ORDER BY scraped_at DESC, id DESC LIMIT 1`, url)
	snap, err := scanPgSnapshot(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return snap, err
}

func (s *PostgresStore) SnapshotsForStore(ctx context.Context, url string) ([]models.StoreSnapshot, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+pgSnapshotColumns+` FROM store_snapshots
		WHERE url = $1 ORDER BY scraped_at, id`, url)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snaps []models.StoreSnapshot
	for rows.Next() {
		snap, err := scanPgSnapshot(rows)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, *snap)
	}
	return snaps, rows.Err()
}

func (s *PostgresStore) ExportRows(ctx context.Context) ([]models.ExportRow, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT ON (st.url)
			st.id, st.url, COALESCE(st.auto_moto, FALSE), st.attributes,
			st.new_count, st.used_count, st.test_count, st.total_count,
			COALESCE(sn.delta_new, 0), COALESCE(sn.delta_used, 0),
			COALESCE(sn.delta_test, 0), COALESCE(sn.delta_total, 0),
			st.updated_at
		FROM stores st
		LEFT JOIN store_snapshots sn ON sn.url = st.url
		ORDER BY st.url, sn.scraped_at DESC NULLS LAST, sn.id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ExportRow
	for rows.Next() {
		var r models.ExportRow
		var attrs models.StoreAttributes
		if err := rows.Scan(&r.ID, &r.URL, &r.IsAutoMoto, &attrs,
			&r.Active.New, &r.Active.Used, &r.Active.Test, &r.Active.Total,
			&r.Delta.New, &r.Delta.Used, &r.Delta.Test, &r.Delta.Total,
			&r.UpdatedAt); err != nil {
			return nil, err
		}
		r.Name = attrs.Name
		r.Subname = attrs.Subname
		r.Address = attrs.Address
		out = append(out, r)
	}
	return out, rows.Err()
}
