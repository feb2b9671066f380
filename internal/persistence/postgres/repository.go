// Package postgres provides the Postgres-backed activity view store.
package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dblock/sparta-social/internal/domain"
)

const activityColumns = `uri, author_did, title, description, activity_type,
        distance_in_cm, moving_time_in_ms, elapsed_time_in_ms, total_elevation_gain_in_cm,
        map_summary_polyline, map_polyline, start_at_in_utc, start_at_time_zone,
        created_at, indexed_at`

// Repository implements domain.ActivityStore over a pgx pool.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Upsert inserts or fully replaces the row keyed by uri in one atomic
// statement. Concurrent writers for the same uri serialise on the row; the
// outcome is always one complete write winning entirely.
func (r *Repository) Upsert(ctx context.Context, rec domain.ActivityRecord) error {
	const stmt = `INSERT INTO activity (` + activityColumns + `)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
        ON CONFLICT (uri) DO UPDATE SET
            author_did = EXCLUDED.author_did,
            title = EXCLUDED.title,
            description = EXCLUDED.description,
            activity_type = EXCLUDED.activity_type,
            distance_in_cm = EXCLUDED.distance_in_cm,
            moving_time_in_ms = EXCLUDED.moving_time_in_ms,
            elapsed_time_in_ms = EXCLUDED.elapsed_time_in_ms,
            total_elevation_gain_in_cm = EXCLUDED.total_elevation_gain_in_cm,
            map_summary_polyline = EXCLUDED.map_summary_polyline,
            map_polyline = EXCLUDED.map_polyline,
            start_at_in_utc = EXCLUDED.start_at_in_utc,
            start_at_time_zone = EXCLUDED.start_at_time_zone,
            created_at = EXCLUDED.created_at,
            indexed_at = EXCLUDED.indexed_at`

	_, err := r.pool.Exec(ctx, stmt,
		rec.URI,
		rec.AuthorDID,
		rec.Title,
		rec.Description,
		rec.ActivityType,
		rec.DistanceInCm,
		rec.MovingTimeInMs,
		rec.ElapsedTimeInMs,
		rec.TotalElevationGainInCm,
		rec.MapSummaryPolyline,
		rec.MapPolyline,
		rec.StartAtInUTC,
		rec.StartAtTimeZone,
		rec.CreatedAt,
		rec.IndexedAt,
	)
	return err
}

// DeleteByURI removes the row if present. Deleting an absent uri is a no-op.
func (r *Repository) DeleteByURI(ctx context.Context, uri string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM activity WHERE uri = $1`, uri)
	return err
}

// Get fetches one row by uri. A nil result means no row is materialized.
func (r *Repository) Get(ctx context.Context, uri string) (*domain.ActivityRecord, error) {
	const query = `SELECT ` + activityColumns + ` FROM activity WHERE uri = $1`

	row := r.pool.QueryRow(ctx, query, uri)
	rec, err := scanActivity(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return rec, nil
}

// ListRecent returns rows ordered by indexed_at descending with keyset
// pagination over (indexed_at, uri).
func (r *Repository) ListRecent(ctx context.Context, cursor *domain.Cursor, limit int) ([]domain.ActivityRecord, *domain.Cursor, error) {
	args := []interface{}{limit}
	query := `SELECT ` + activityColumns + ` FROM activity`

	if cursor != nil {
		query += ` WHERE (indexed_at, uri) < ($2, $3)`
		args = append(args, cursor.IndexedAt, cursor.URI)
	}

	query += ` ORDER BY indexed_at DESC, uri DESC LIMIT $1`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	results := make([]domain.ActivityRecord, 0, limit)
	for rows.Next() {
		rec, scanErr := scanActivity(rows)
		if scanErr != nil {
			return nil, nil, scanErr
		}
		results = append(results, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	var nextCursor *domain.Cursor
	if len(results) == limit {
		last := results[len(results)-1]
		nextCursor = &domain.Cursor{IndexedAt: last.IndexedAt, URI: last.URI}
	}
	return results, nextCursor, nil
}

func scanActivity(row pgx.Row) (*domain.ActivityRecord, error) {
	var rec domain.ActivityRecord
	err := row.Scan(
		&rec.URI,
		&rec.AuthorDID,
		&rec.Title,
		&rec.Description,
		&rec.ActivityType,
		&rec.DistanceInCm,
		&rec.MovingTimeInMs,
		&rec.ElapsedTimeInMs,
		&rec.TotalElevationGainInCm,
		&rec.MapSummaryPolyline,
		&rec.MapPolyline,
		&rec.StartAtInUTC,
		&rec.StartAtTimeZone,
		&rec.CreatedAt,
		&rec.IndexedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}
