package rental

import (
	"context"
	"errors"
	"time"
)

// EntryKind classifies a ledger movement.
type EntryKind string

const (
	// KindRemit is a daily boundary payment from a driver.
	KindRemit EntryKind = "remit"
	// KindSavings is the savings portion set aside with a remittance.
	KindSavings EntryKind = "savings"
	// KindWithdrawal is a payout from a driver's savings balance.
	KindWithdrawal EntryKind = "withdrawal"
	// KindDebtAdded is a charge against the driver (repairs, advances).
	KindDebtAdded EntryKind = "debt_added"
	// KindDebtPayment reduces an outstanding debt.
	KindDebtPayment EntryKind = "debt_payment"
)

// ValidKind reports whether a kind value is known.
func ValidKind(value string) bool {
	switch EntryKind(value) {
	case KindRemit, KindSavings, KindWithdrawal, KindDebtAdded, KindDebtPayment:
		return true
	default:
		return false
	}
}

// LedgerEntry is one immutable movement on a driver's account. Entries are
// append-only; balances on the driver row are derived from them.
type LedgerEntry struct {
	ID         string
	DriverID   string
	UnitID     string
	Kind       EntryKind
	Amount     float64
	Note       string
	RecordedBy string
	RecordedAt time.Time
}

// Validate checks entry invariants.
func (e LedgerEntry) Validate() error {
	if e.ID == "" {
		return errors.New("ledger: empty id")
	}
	if e.DriverID == "" {
		return errors.New("ledger: empty driver id")
	}
	if !ValidKind(string(e.Kind)) {
		return errors.New("ledger: invalid kind")
	}
	if e.Amount <= 0 {
		return errors.New("ledger: amount must be positive")
	}
	return nil
}

// LedgerRepository persists ledger entries. Append writes all entries in
// one transaction so a remittance and its savings split land together.
type LedgerRepository interface {
	Append(ctx context.Context, entries []LedgerEntry) error
	ListByDriver(ctx context.Context, driverID string, from, to time.Time) ([]LedgerEntry, error)
	List(ctx context.Context, from, to time.Time) ([]LedgerEntry, error)
}

// Totals aggregates entries by kind.
type Totals struct {
	Remitted  float64
	Saved     float64
	Withdrawn float64
	DebtAdded float64
	DebtPaid  float64
}

// Sum accumulates entry amounts into per-kind totals.
func Sum(entries []LedgerEntry) Totals {
	var t Totals
	for _, e := range entries {
		switch e.Kind {
		case KindRemit:
			t.Remitted += e.Amount
		case KindSavings:
			t.Saved += e.Amount
		case KindWithdrawal:
			t.Withdrawn += e.Amount
		case KindDebtAdded:
			t.DebtAdded += e.Amount
		case KindDebtPayment:
			t.DebtPaid += e.Amount
		}
	}
	return t
}
