package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/laundrolyzer/laundrolyzer/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. Intended for local
// development and tests; the hosted deployment uses Redis.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS listings (
	id         TEXT PRIMARY KEY,
	url        TEXT NOT NULL,
	data       TEXT NOT NULL,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS analysis_fields (
	listing_id TEXT NOT NULL,
	field      TEXT NOT NULL,
	value      TEXT NOT NULL,
	updated_at DATETIME NOT NULL,
	PRIMARY KEY (listing_id, field)
);

CREATE INDEX IF NOT EXISTS idx_analysis_fields_listing ON analysis_fields(listing_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) PutListing(ctx context.Context, listing *model.Listing) error {
	data, err := json.Marshal(listing.Data)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal extraction data")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO listings (id, url, data, created_at) VALUES (?, ?, ?, ?)`,
		listing.ID, listing.URL, string(data), listing.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: insert listing %s", listing.ID)
	}
	return nil
}

func (s *SQLiteStore) GetListing(ctx context.Context, id string) (*model.Listing, error) {
	var (
		listing   model.Listing
		data      string
		createdAt string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, url, data, created_at FROM listings WHERE id = ?`, id,
	).Scan(&listing.ID, &listing.URL, &data, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get listing %s", id)
	}

	if err := json.Unmarshal([]byte(data), &listing.Data); err != nil {
		return nil, eris.Wrapf(err, "sqlite: unmarshal extraction data %s", id)
	}
	ts, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: parse created_at %s", id)
	}
	listing.Timestamp = ts
	return &listing, nil
}

func (s *SQLiteStore) GetAnalysisField(ctx context.Context, id string, field model.AnalysisField) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM analysis_fields WHERE listing_id = ? AND field = ?`,
		id, string(field),
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", eris.Wrapf(err, "sqlite: get analysis field %s %s", id, field)
	}
	return value, nil
}

func (s *SQLiteStore) SetAnalysisFields(ctx context.Context, id string, fields map[model.AnalysisField]string) error {
	if len(fields) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	for field, value := range fields {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO analysis_fields (listing_id, field, value, updated_at) VALUES (?, ?, ?, ?)
			 ON CONFLICT(listing_id, field) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
			id, string(field), value, now,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: upsert analysis field %s %s", id, field)
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit analysis fields")
}

func (s *SQLiteStore) GetAnalysis(ctx context.Context, id string) (*model.Analysis, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT field, value FROM analysis_fields WHERE listing_id = ?`, id,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get analysis %s", id)
	}
	defer rows.Close()

	var analysis model.Analysis
	for rows.Next() {
		var field, value string
		if err := rows.Scan(&field, &value); err != nil {
			return nil, eris.Wrapf(err, "sqlite: scan analysis field %s", id)
		}
		analysis.SetField(model.AnalysisField(field), value)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrapf(err, "sqlite: iterate analysis fields %s", id)
	}
	if analysis.Empty() {
		return nil, ErrNotFound
	}
	return &analysis, nil
}
