package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	tracking "fleetrental-cloud/internal/tracking/domain"
)

const defaultPositionTable = "device_positions"

// PositionRepository is a Postgres implementation of the local position
// archive. Rows are unique on (unit_id, recorded_at); replayed fixes are
// dropped silently.
type PositionRepository struct {
	db    *sql.DB
	table string
}

// RepositoryOption configures a repository.
type RepositoryOption func(*PositionRepository)

// WithTable overrides the default table name.
func WithTable(table string) RepositoryOption {
	return func(repo *PositionRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// NewPositionRepository constructs a repository with the default table name.
func NewPositionRepository(db *sql.DB, opts ...RepositoryOption) *PositionRepository {
	repo := &PositionRepository{db: db, table: defaultPositionTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// Insert stores one position fix.
func (r *PositionRepository) Insert(ctx context.Context, position tracking.StoredPosition) error {
	if r == nil || r.db == nil {
		return errors.New("position repo: nil db")
	}
	if position.UnitID == "" || position.Timestamp.IsZero() {
		return errors.New("position repo: invalid position")
	}

	query := fmt.Sprintf(`
INSERT INTO %s (
	unit_id,
	latitude,
	longitude,
	speed,
	recorded_at
) VALUES (
	$1, $2, $3, $4, $5
)
ON CONFLICT (unit_id, recorded_at) DO NOTHING`, r.table)

	_, err := r.db.ExecContext(
		ctx,
		query,
		position.UnitID,
		position.Latitude,
		position.Longitude,
		position.Speed,
		position.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("position repo: insert: %w", err)
	}
	return nil
}

// LatestByUnit returns the most recent stored fix for a unit, or nil when
// none exists.
func (r *PositionRepository) LatestByUnit(ctx context.Context, unitID string) (*tracking.StoredPosition, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("position repo: nil db")
	}

	query := fmt.Sprintf(`
SELECT unit_id, latitude, longitude, speed, recorded_at, created_at
FROM %s
WHERE unit_id = $1
ORDER BY recorded_at DESC
LIMIT 1`, r.table)

	var position tracking.StoredPosition
	err := r.db.QueryRowContext(ctx, query, unitID).Scan(
		&position.UnitID,
		&position.Latitude,
		&position.Longitude,
		&position.Speed,
		&position.Timestamp,
		&position.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("position repo: latest: %w", err)
	}
	return &position, nil
}

// ListByUnit returns the stored fixes for a unit since the given time,
// oldest first.
func (r *PositionRepository) ListByUnit(ctx context.Context, unitID string, since time.Time) ([]tracking.StoredPosition, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("position repo: nil db")
	}

	query := fmt.Sprintf(`
SELECT unit_id, latitude, longitude, speed, recorded_at, created_at
FROM %s
WHERE unit_id = $1 AND recorded_at >= $2
ORDER BY recorded_at ASC`, r.table)

	rows, err := r.db.QueryContext(ctx, query, unitID, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("position repo: list: %w", err)
	}
	defer rows.Close()

	var positions []tracking.StoredPosition
	for rows.Next() {
		var position tracking.StoredPosition
		if err := rows.Scan(
			&position.UnitID,
			&position.Latitude,
			&position.Longitude,
			&position.Speed,
			&position.Timestamp,
			&position.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("position repo: scan: %w", err)
		}
		positions = append(positions, position)
	}
	return positions, rows.Err()
}

// DeleteOlderThan removes fixes recorded before the cutoff and reports how
// many were deleted.
func (r *PositionRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	if r == nil || r.db == nil {
		return 0, errors.New("position repo: nil db")
	}

	query := fmt.Sprintf(`DELETE FROM %s WHERE recorded_at < $1`, r.table)
	result, err := r.db.ExecContext(ctx, query, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("position repo: delete: %w", err)
	}
	return result.RowsAffected()
}
