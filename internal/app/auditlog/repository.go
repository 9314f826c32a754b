package auditlog

import (
	"context"

	"github.com/duashare/project/internal/contracts"
	"github.com/jackc/pgx/v5/pgxpool"
)

const createPrayerEventsTableSQL = `
CREATE TABLE IF NOT EXISTS prayer_events (
  event_id text PRIMARY KEY,
  stream_seq bigint NOT NULL,
  prayer_id text NOT NULL,
  event_type text NOT NULL,
  ameen_count integer NOT NULL,
  is_published boolean NOT NULL,
  occurred_at timestamptz NOT NULL,
  recorded_at timestamptz NOT NULL DEFAULT now()
)`

const createPrayerEventsIndexSQL = `
CREATE INDEX IF NOT EXISTS prayer_events_prayer_idx
ON prayer_events (prayer_id, occurred_at, stream_seq)`

const insertPrayerEventSQL = `
INSERT INTO prayer_events (
  event_id, stream_seq, prayer_id, event_type, ameen_count, is_published, occurred_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (event_id) DO NOTHING
`

const selectHistorySQL = `
SELECT event_id, stream_seq, prayer_id, event_type, ameen_count, is_published, occurred_at
FROM prayer_events
WHERE prayer_id = $1
ORDER BY occurred_at ASC, stream_seq ASC
LIMIT $2
`

type PostgresRepository struct {
	Pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{Pool: pool}
}

func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.Pool.Exec(ctx, createPrayerEventsTableSQL); err != nil {
		return err
	}
	_, err := r.Pool.Exec(ctx, createPrayerEventsIndexSQL)
	return err
}

func (r *PostgresRepository) InsertEntry(ctx context.Context, entry contracts.AuditEntry) error {
	_, err := r.Pool.Exec(ctx, insertPrayerEventSQL,
		entry.EventID,
		int64(entry.StreamSeq),
		entry.PrayerID,
		entry.Type,
		entry.AmeenCount,
		entry.IsPublished,
		entry.OccurredAt,
	)
	return err
}

func (r *PostgresRepository) History(ctx context.Context, prayerID string, limit int) ([]contracts.AuditEntry, error) {
	rows, err := r.Pool.Query(ctx, selectHistorySQL, prayerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]contracts.AuditEntry, 0, limit)
	for rows.Next() {
		var entry contracts.AuditEntry
		var seq int64
		if err := rows.Scan(
			&entry.EventID,
			&seq,
			&entry.PrayerID,
			&entry.Type,
			&entry.AmeenCount,
			&entry.IsPublished,
			&entry.OccurredAt,
		); err != nil {
			return nil, err
		}
		entry.StreamSeq = uint64(seq)
		entry.OccurredAt = entry.OccurredAt.UTC()
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
