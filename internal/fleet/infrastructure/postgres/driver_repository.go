package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	fleet "fleetrental-cloud/internal/fleet/domain"
)

const defaultDriverTable = "drivers"

// DriverRepository is a Postgres implementation of fleet.DriverRepository.
type DriverRepository struct {
	db    *sql.DB
	table string
}

// DriverRepositoryOption configures the repository.
type DriverRepositoryOption func(*DriverRepository)

// WithDriverTable overrides the default table name.
func WithDriverTable(table string) DriverRepositoryOption {
	return func(repo *DriverRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// NewDriverRepository constructs a repository with the default table name.
func NewDriverRepository(db *sql.DB, opts ...DriverRepositoryOption) *DriverRepository {
	repo := &DriverRepository{db: db, table: defaultDriverTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// Get returns a driver by id, or nil when not found.
func (r *DriverRepository) Get(ctx context.Context, id string) (*fleet.Driver, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("driver repo: nil db")
	}

	query := fmt.Sprintf(`
SELECT id, code, name, COALESCE(contact, ''), status, savings, debt, created_at, updated_at
FROM %s
WHERE id = $1`, r.table)

	driver, err := scanDriver(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("driver repo: get: %w", err)
	}
	return driver, nil
}

// List returns all drivers ordered by code.
func (r *DriverRepository) List(ctx context.Context) ([]fleet.Driver, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("driver repo: nil db")
	}

	query := fmt.Sprintf(`
SELECT id, code, name, COALESCE(contact, ''), status, savings, debt, created_at, updated_at
FROM %s
ORDER BY code ASC`, r.table)

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("driver repo: list: %w", err)
	}
	defer rows.Close()

	var drivers []fleet.Driver
	for rows.Next() {
		driver, err := scanDriver(rows)
		if err != nil {
			return nil, fmt.Errorf("driver repo: scan: %w", err)
		}
		drivers = append(drivers, *driver)
	}
	return drivers, rows.Err()
}

// Save inserts or updates a driver. Running balances are only written on
// insert; updates to them go through AdjustBalances.
func (r *DriverRepository) Save(ctx context.Context, driver *fleet.Driver) error {
	if r == nil || r.db == nil {
		return errors.New("driver repo: nil db")
	}
	if driver == nil {
		return errors.New("driver repo: nil driver")
	}
	if err := driver.Validate(); err != nil {
		return err
	}

	query := fmt.Sprintf(`
INSERT INTO %s (
	id, code, name, contact, status, savings, debt
) VALUES (
	$1, $2, $3, NULLIF($4, ''), $5, $6, $7
)
ON CONFLICT (id)
DO UPDATE SET
	code = EXCLUDED.code,
	name = EXCLUDED.name,
	contact = EXCLUDED.contact,
	status = EXCLUDED.status,
	updated_at = NOW()`, r.table)

	_, err := r.db.ExecContext(
		ctx,
		query,
		driver.ID,
		driver.Code,
		driver.Name,
		driver.Contact,
		string(driver.Status),
		driver.Savings,
		driver.Debt,
	)
	if err != nil {
		return fmt.Errorf("driver repo: save: %w", err)
	}
	return nil
}

// AdjustBalances atomically applies deltas to the savings and debt
// balances. Debt never goes below zero.
func (r *DriverRepository) AdjustBalances(ctx context.Context, id string, savingsDelta, debtDelta float64) error {
	if r == nil || r.db == nil {
		return errors.New("driver repo: nil db")
	}

	query := fmt.Sprintf(`
UPDATE %s
SET savings = savings + $2,
	debt = GREATEST(debt + $3, 0),
	updated_at = NOW()
WHERE id = $1 AND savings + $2 >= 0`, r.table)

	result, err := r.db.ExecContext(ctx, query, id, savingsDelta, debtDelta)
	if err != nil {
		return fmt.Errorf("driver repo: adjust balances: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("driver repo: adjust balances: %w", err)
	}
	if affected == 0 {
		return errors.New("driver repo: adjust balances: driver not found or insufficient savings")
	}
	return nil
}

func scanDriver(row rowScanner) (*fleet.Driver, error) {
	var driver fleet.Driver
	var status string
	err := row.Scan(
		&driver.ID,
		&driver.Code,
		&driver.Name,
		&driver.Contact,
		&status,
		&driver.Savings,
		&driver.Debt,
		&driver.CreatedAt,
		&driver.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	driver.Status = fleet.DriverStatus(status)
	return &driver, nil
}
