package prayers

import (
	"context"
	"errors"

	"github.com/duashare/project/internal/contracts"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrPrayerNotFound = errors.New("prayer not found")

type Repository interface {
	EnsureSchema(ctx context.Context) error
	List(ctx context.Context, publishedOnly bool) ([]contracts.Prayer, error)
	Insert(ctx context.Context, prayer contracts.Prayer) (contracts.Prayer, error)
	Update(ctx context.Context, id string, patch contracts.PrayerPatch) (contracts.Prayer, error)
	Delete(ctx context.Context, id string) (contracts.Prayer, error)
}

type PostgresRepository struct {
	Pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{Pool: pool}
}

const createPrayersSQL = `
CREATE TABLE IF NOT EXISTS prayers (
  id text PRIMARY KEY,
  content text NOT NULL,
  ameen_count integer NOT NULL DEFAULT 0 CHECK (ameen_count >= 0),
  is_published boolean NOT NULL DEFAULT true,
  created_at timestamptz NOT NULL DEFAULT now(),
  version bigint NOT NULL DEFAULT 1
)`

const addPrayersVersionSQL = `
ALTER TABLE prayers ADD COLUMN IF NOT EXISTS version bigint NOT NULL DEFAULT 1`

const createPrayersFeedIndexSQL = `
CREATE INDEX IF NOT EXISTS prayers_feed_idx
ON prayers (created_at DESC, id)`

const listPrayersSQL = `
SELECT id, content, ameen_count, is_published, created_at, version
FROM prayers
WHERE ($1::boolean = false OR is_published)
ORDER BY created_at DESC, id ASC`

const insertPrayerSQL = `
INSERT INTO prayers (id, content, ameen_count, is_published, created_at)
VALUES ($1, $2, $3, $4, $5)
RETURNING id, content, ameen_count, is_published, created_at, version`

const updatePrayerSQL = `
UPDATE prayers
SET ameen_count = COALESCE($2, ameen_count),
    is_published = COALESCE($3, is_published),
    version = version + 1
WHERE id = $1
RETURNING id, content, ameen_count, is_published, created_at, version`

const deletePrayerSQL = `
DELETE FROM prayers
WHERE id = $1
RETURNING id, content, ameen_count, is_published, created_at, version`

func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.Pool.Exec(ctx, createPrayersSQL); err != nil {
		return err
	}
	if _, err := r.Pool.Exec(ctx, addPrayersVersionSQL); err != nil {
		return err
	}
	if _, err := r.Pool.Exec(ctx, createPrayersFeedIndexSQL); err != nil {
		return err
	}
	return nil
}

func (r *PostgresRepository) List(ctx context.Context, publishedOnly bool) ([]contracts.Prayer, error) {
	rows, err := r.Pool.Query(ctx, listPrayersSQL, publishedOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]contracts.Prayer, 0, 64)
	for rows.Next() {
		var p contracts.Prayer
		if err := rows.Scan(&p.ID, &p.Content, &p.AmeenCount, &p.IsPublished, &p.CreatedAt, &p.Version); err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PostgresRepository) Insert(ctx context.Context, prayer contracts.Prayer) (contracts.Prayer, error) {
	return scanPrayer(r.Pool.QueryRow(ctx, insertPrayerSQL,
		prayer.ID,
		prayer.Content,
		prayer.AmeenCount,
		prayer.IsPublished,
		prayer.CreatedAt,
	))
}

func (r *PostgresRepository) Update(ctx context.Context, id string, patch contracts.PrayerPatch) (contracts.Prayer, error) {
	return scanPrayer(r.Pool.QueryRow(ctx, updatePrayerSQL, id, patch.AmeenCount, patch.IsPublished))
}

func (r *PostgresRepository) Delete(ctx context.Context, id string) (contracts.Prayer, error) {
	return scanPrayer(r.Pool.QueryRow(ctx, deletePrayerSQL, id))
}

func scanPrayer(row pgx.Row) (contracts.Prayer, error) {
	var p contracts.Prayer
	if err := row.Scan(&p.ID, &p.Content, &p.AmeenCount, &p.IsPublished, &p.CreatedAt, &p.Version); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return contracts.Prayer{}, ErrPrayerNotFound
		}
		return contracts.Prayer{}, err
	}
	return p, nil
}
