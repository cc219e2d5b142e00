package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/laundrolyzer/laundrolyzer/internal/model"
)

// Pool is the subset of pgxpool.Pool the store uses. Declared as an
// interface so tests can substitute pgxmock.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    Pool
	closeFn func()
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}
	cfg.MaxConns = 10
	cfg.MinConns = 2
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}

	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS listings (
	id         TEXT PRIMARY KEY,
	url        TEXT NOT NULL,
	data       JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS analysis_fields (
	listing_id TEXT NOT NULL,
	field      TEXT NOT NULL,
	value      TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (listing_id, field)
);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) PutListing(ctx context.Context, listing *model.Listing) error {
	data, err := json.Marshal(listing.Data)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal extraction data")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO listings (id, url, data, created_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE SET url = excluded.url, data = excluded.data, created_at = excluded.created_at`,
		listing.ID, listing.URL, string(data), listing.Timestamp.UTC(),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: insert listing %s", listing.ID)
	}
	return nil
}

func (s *PostgresStore) GetListing(ctx context.Context, id string) (*model.Listing, error) {
	var (
		listing   model.Listing
		data      string
		createdAt time.Time
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, url, data, created_at FROM listings WHERE id = $1`, id,
	).Scan(&listing.ID, &listing.URL, &data, &createdAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get listing %s", id)
	}

	if err := json.Unmarshal([]byte(data), &listing.Data); err != nil {
		return nil, eris.Wrapf(err, "postgres: unmarshal extraction data %s", id)
	}
	listing.Timestamp = createdAt
	return &listing, nil
}

func (s *PostgresStore) GetAnalysisField(ctx context.Context, id string, field model.AnalysisField) (string, error) {
	var value string
	err := s.pool.QueryRow(ctx,
		`SELECT value FROM analysis_fields WHERE listing_id = $1 AND field = $2`,
		id, string(field),
	).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", eris.Wrapf(err, "postgres: get analysis field %s %s", id, field)
	}
	return value, nil
}

func (s *PostgresStore) SetAnalysisFields(ctx context.Context, id string, fields map[model.AnalysisField]string) error {
	if len(fields) == 0 {
		return nil
	}

	now := time.Now().UTC()
	for field, value := range fields {
		_, err := s.pool.Exec(ctx,
			`INSERT INTO analysis_fields (listing_id, field, value, updated_at) VALUES ($1, $2, $3, $4)
			 ON CONFLICT (listing_id, field) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
			id, string(field), value, now,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: upsert analysis field %s %s", id, field)
		}
	}
	return nil
}

func (s *PostgresStore) GetAnalysis(ctx context.Context, id string) (*model.Analysis, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT field, value FROM analysis_fields WHERE listing_id = $1`, id,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get analysis %s", id)
	}
	defer rows.Close()

	var analysis model.Analysis
	for rows.Next() {
		var field, value string
		if err := rows.Scan(&field, &value); err != nil {
			return nil, eris.Wrapf(err, "postgres: scan analysis field %s", id)
		}
		analysis.SetField(model.AnalysisField(field), value)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrapf(err, "postgres: iterate analysis fields %s", id)
	}
	if analysis.Empty() {
		return nil, ErrNotFound
	}
	return &analysis, nil
}
