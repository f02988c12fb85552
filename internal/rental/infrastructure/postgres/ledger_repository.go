package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	rental "fleetrental-cloud/internal/rental/domain"
)

const defaultLedgerTable = "ledger_entries"

// LedgerRepository is a Postgres implementation of rental.LedgerRepository.
type LedgerRepository struct {
	db    *sql.DB
	table string
}

// RepositoryOption configures the repository.
type RepositoryOption func(*LedgerRepository)

// WithTable overrides the default table name.
func WithTable(table string) RepositoryOption {
	return func(repo *LedgerRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// NewLedgerRepository constructs a repository with the default table name.
func NewLedgerRepository(db *sql.DB, opts ...RepositoryOption) *LedgerRepository {
	repo := &LedgerRepository{db: db, table: defaultLedgerTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// Append writes all entries in one transaction.
func (r *LedgerRepository) Append(ctx context.Context, entries []rental.LedgerEntry) error {
	if r == nil || r.db == nil {
		return errors.New("ledger repo: nil db")
	}
	if len(entries) == 0 {
		return nil
	}

	query := fmt.Sprintf(`
INSERT INTO %s (
	id, driver_id, unit_id, kind, amount, note, recorded_by, recorded_at
) VALUES (
	$1, $2, NULLIF($3, ''), $4, $5, NULLIF($6, ''), $7, $8
)`, r.table)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, e := range entries {
		if err := e.Validate(); err != nil {
			_ = tx.Rollback()
			return err
		}
		if _, err := stmt.ExecContext(
			ctx,
			e.ID,
			e.DriverID,
			e.UnitID,
			string(e.Kind),
			e.Amount,
			e.Note,
			e.RecordedBy,
			e.RecordedAt.UTC(),
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("ledger repo: append: %w", err)
		}
	}
	return tx.Commit()
}

// ListByDriver returns one driver's entries over a window, oldest first.
func (r *LedgerRepository) ListByDriver(ctx context.Context, driverID string, from, to time.Time) ([]rental.LedgerEntry, error) {
	return r.list(ctx, "WHERE driver_id = $1 AND recorded_at >= $2 AND recorded_at < $3", driverID, from.UTC(), to.UTC())
}

// List returns all entries over a window, oldest first.
func (r *LedgerRepository) List(ctx context.Context, from, to time.Time) ([]rental.LedgerEntry, error) {
	return r.list(ctx, "WHERE recorded_at >= $1 AND recorded_at < $2", from.UTC(), to.UTC())
}

func (r *LedgerRepository) list(ctx context.Context, where string, args ...any) ([]rental.LedgerEntry, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("ledger repo: nil db")
	}

	query := fmt.Sprintf(`
SELECT id, driver_id, COALESCE(unit_id, ''), kind, amount, COALESCE(note, ''), recorded_by, recorded_at
FROM %s
%s
ORDER BY recorded_at ASC, id ASC`, r.table, where)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ledger repo: list: %w", err)
	}
	defer rows.Close()

	var entries []rental.LedgerEntry
	for rows.Next() {
		var e rental.LedgerEntry
		var kind string
		if err := rows.Scan(
			&e.ID,
			&e.DriverID,
			&e.UnitID,
			&kind,
			&e.Amount,
			&e.Note,
			&e.RecordedBy,
			&e.RecordedAt,
		); err != nil {
			return nil, fmt.Errorf("ledger repo: scan: %w", err)
		}
		e.Kind = rental.EntryKind(kind)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
