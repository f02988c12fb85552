package fleet

import (
	"context"
	"errors"
	"time"
)

// DriverStatus is the employment state of a driver.
type DriverStatus string

const (
	DriverActive   DriverStatus = "active"
	DriverInactive DriverStatus = "inactive"
	DriverOnLeave  DriverStatus = "on_leave"
	DriverFired    DriverStatus = "fired"
)

// Driver represents a driver eligible for unit assignment. Savings and
// Debt are running balances maintained by the rental ledger.
type Driver struct {
	ID        string
	Code      string // operator-facing driver code (license / PD number)
	Name      string
	Contact   string
	Status    DriverStatus
	Savings   float64
	Debt      float64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Validate checks driver invariants.
func (d Driver) Validate() error {
	if d.ID == "" {
		return errors.New("driver: empty id")
	}
	if d.Code == "" {
		return errors.New("driver: empty code")
	}
	if d.Name == "" {
		return errors.New("driver: empty name")
	}
	return nil
}

// DriverRepository manages driver persistence.
type DriverRepository interface {
	Get(ctx context.Context, id string) (*Driver, error)
	List(ctx context.Context) ([]Driver, error)
	Save(ctx context.Context, driver *Driver) error
	AdjustBalances(ctx context.Context, id string, savingsDelta, debtDelta float64) error
}
