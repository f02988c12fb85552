package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	fleet "fleetrental-cloud/internal/fleet/domain"
)

const defaultUnitTable = "units"

// UnitRepository is a Postgres implementation of fleet.UnitRepository.
// Reads join the drivers table for the assigned driver name.
type UnitRepository struct {
	db    *sql.DB
	table string
}

// UnitRepositoryOption configures the repository.
type UnitRepositoryOption func(*UnitRepository)

// WithUnitTable overrides the default table name.
func WithUnitTable(table string) UnitRepositoryOption {
	return func(repo *UnitRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// NewUnitRepository constructs a repository with the default table name.
func NewUnitRepository(db *sql.DB, opts ...UnitRepositoryOption) *UnitRepository {
	repo := &UnitRepository{db: db, table: defaultUnitTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

const unitColumns = `
u.id, u.code, u.model, u.made_date, u.status,
COALESCE(u.driver_id, ''), COALESCE(d.name, ''),
COALESCE(u.device_ident, ''), COALESCE(u.device_ref, ''),
COALESCE(u.notes, ''), u.created_at, u.updated_at`

// Get returns a unit by id, or nil when not found.
func (r *UnitRepository) Get(ctx context.Context, id string) (*fleet.Unit, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("unit repo: nil db")
	}

	query := fmt.Sprintf(`
SELECT %s
FROM %s u
LEFT JOIN drivers d ON d.id = u.driver_id
WHERE u.id = $1`, unitColumns, r.table)

	unit, err := scanUnit(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("unit repo: get: %w", err)
	}
	return unit, nil
}

// List returns all units ordered by code.
func (r *UnitRepository) List(ctx context.Context) ([]fleet.Unit, error) {
	return r.list(ctx, "")
}

// ListLinked returns units that carry a device reference.
func (r *UnitRepository) ListLinked(ctx context.Context) ([]fleet.Unit, error) {
	return r.list(ctx, "WHERE u.device_ref IS NOT NULL AND u.device_ref <> ''")
}

func (r *UnitRepository) list(ctx context.Context, where string) ([]fleet.Unit, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("unit repo: nil db")
	}

	query := fmt.Sprintf(`
SELECT %s
FROM %s u
LEFT JOIN drivers d ON d.id = u.driver_id
%s
ORDER BY u.code ASC`, unitColumns, r.table, where)

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("unit repo: list: %w", err)
	}
	defer rows.Close()

	var units []fleet.Unit
	for rows.Next() {
		unit, err := scanUnit(rows)
		if err != nil {
			return nil, fmt.Errorf("unit repo: scan: %w", err)
		}
		units = append(units, *unit)
	}
	return units, rows.Err()
}

// Save inserts or updates a unit.
func (r *UnitRepository) Save(ctx context.Context, unit *fleet.Unit) error {
	if r == nil || r.db == nil {
		return errors.New("unit repo: nil db")
	}
	if unit == nil {
		return errors.New("unit repo: nil unit")
	}
	if err := unit.Validate(); err != nil {
		return err
	}

	query := fmt.Sprintf(`
INSERT INTO %s (
	id, code, model, made_date, status, driver_id,
	device_ident, device_ref, notes
) VALUES (
	$1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''), NULLIF($8, ''), NULLIF($9, '')
)
ON CONFLICT (id)
DO UPDATE SET
	code = EXCLUDED.code,
	model = EXCLUDED.model,
	made_date = EXCLUDED.made_date,
	status = EXCLUDED.status,
	driver_id = EXCLUDED.driver_id,
	device_ident = EXCLUDED.device_ident,
	device_ref = EXCLUDED.device_ref,
	notes = EXCLUDED.notes,
	updated_at = NOW()`, r.table)

	_, err := r.db.ExecContext(
		ctx,
		query,
		unit.ID,
		unit.Code,
		unit.Model,
		unit.MadeDate,
		string(unit.Status),
		unit.DriverID,
		unit.DeviceIdent,
		unit.DeviceRef,
		unit.Notes,
	)
	if err != nil {
		return fmt.Errorf("unit repo: save: %w", err)
	}
	return nil
}

// UpdateDeviceLink sets the tracker identifier and device reference.
func (r *UnitRepository) UpdateDeviceLink(ctx context.Context, id, ident, ref string) error {
	if r == nil || r.db == nil {
		return errors.New("unit repo: nil db")
	}

	query := fmt.Sprintf(`
UPDATE %s
SET device_ident = NULLIF($2, ''), device_ref = NULLIF($3, ''), updated_at = NOW()
WHERE id = $1`, r.table)

	return r.exec(ctx, query, "update device link", id, ident, ref)
}

// AssignDriver links a driver to a unit; an empty driverID unassigns.
func (r *UnitRepository) AssignDriver(ctx context.Context, id, driverID string) error {
	if r == nil || r.db == nil {
		return errors.New("unit repo: nil db")
	}

	query := fmt.Sprintf(`
UPDATE %s
SET driver_id = NULLIF($2, ''), updated_at = NOW()
WHERE id = $1`, r.table)

	return r.exec(ctx, query, "assign driver", id, driverID)
}

// UpdateStatus sets the operational status.
func (r *UnitRepository) UpdateStatus(ctx context.Context, id string, status fleet.UnitStatus) error {
	if r == nil || r.db == nil {
		return errors.New("unit repo: nil db")
	}
	if !fleet.ValidStatus(string(status)) {
		return fmt.Errorf("unit repo: invalid status %q", status)
	}

	query := fmt.Sprintf(`
UPDATE %s
SET status = $2, updated_at = NOW()
WHERE id = $1`, r.table)

	return r.exec(ctx, query, "update status", id, string(status))
}

func (r *UnitRepository) exec(ctx context.Context, query, op string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("unit repo: %s: %w", op, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("unit repo: %s: %w", op, err)
	}
	if affected == 0 {
		return fmt.Errorf("unit repo: %s: unit not found", op)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUnit(row rowScanner) (*fleet.Unit, error) {
	var unit fleet.Unit
	var status string
	err := row.Scan(
		&unit.ID,
		&unit.Code,
		&unit.Model,
		&unit.MadeDate,
		&status,
		&unit.DriverID,
		&unit.DriverName,
		&unit.DeviceIdent,
		&unit.DeviceRef,
		&unit.Notes,
		&unit.CreatedAt,
		&unit.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	unit.Status = fleet.UnitStatus(status)
	return &unit, nil
}
