package application

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"fleetrental-cloud/internal/audit"
	fleet "fleetrental-cloud/internal/fleet/domain"
	"fleetrental-cloud/internal/observability/metrics"
	rental "fleetrental-cloud/internal/rental/domain"
)

// Service errors surfaced to the HTTP layer.
var (
	ErrDriverNotFound      = errors.New("rental: driver not found")
	ErrInvalidAmount       = errors.New("rental: amount must be positive")
	ErrInsufficientSavings = errors.New("rental: insufficient savings balance")
	ErrNoOutstandingDebt   = errors.New("rental: payment exceeds outstanding debt")
)

// Service maintains the driver remittance ledger. Every operation appends
// immutable ledger entries and keeps the driver's running balances in step.
type Service struct {
	ledger      rental.LedgerRepository
	drivers     fleet.DriverRepository
	auditLogger audit.Logger
	logger      *log.Logger
	now         func() time.Time
}

// Option configures the service.
type Option func(*Service)

// WithAuditLogger attaches an activity logger for ledger mutations.
func WithAuditLogger(logger audit.Logger) Option {
	return func(s *Service) { s.auditLogger = logger }
}

// WithLogger attaches a diagnostic logger.
func WithLogger(logger *log.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithNow overrides the clock (used by tests).
func WithNow(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService constructs a remittance ledger service.
func NewService(ledger rental.LedgerRepository, drivers fleet.DriverRepository, opts ...Option) (*Service, error) {
	if ledger == nil {
		return nil, errors.New("rental service: nil ledger repository")
	}
	if drivers == nil {
		return nil, errors.New("rental service: nil driver repository")
	}
	s := &Service{
		ledger:  ledger,
		drivers: drivers,
		logger:  log.New(io.Discard, "", 0),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func newEntryID() string {
	buf := make([]byte, 12)
	_, _ = rand.Read(buf)
	return "ledger-" + hex.EncodeToString(buf)
}

// RemittanceInput is the write shape for a daily remittance.
type RemittanceInput struct {
	DriverID      string  `json:"driver_id"`
	UnitID        string  `json:"unit_id,omitempty"`
	RemitAmount   float64 `json:"remit_amount"`
	SavingsAmount float64 `json:"savings_amount,omitempty"`
	Note          string  `json:"note,omitempty"`
}

// ConfirmRemittance records a boundary payment and its optional savings
// split as one atomic ledger append, then bumps the savings balance.
func (s *Service) ConfirmRemittance(ctx context.Context, input RemittanceInput, actor string) (entries []rental.LedgerEntry, err error) {
	defer func() { metrics.ObserveRemittanceOp(string(rental.KindRemit), err) }()

	if input.RemitAmount <= 0 {
		return nil, ErrInvalidAmount
	}
	if input.SavingsAmount < 0 {
		return nil, ErrInvalidAmount
	}
	driver, err := s.driver(ctx, input.DriverID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	entries = []rental.LedgerEntry{{
		ID:         newEntryID(),
		DriverID:   driver.ID,
		UnitID:     input.UnitID,
		Kind:       rental.KindRemit,
		Amount:     input.RemitAmount,
		Note:       input.Note,
		RecordedBy: actor,
		RecordedAt: now,
	}}
	if input.SavingsAmount > 0 {
		entries = append(entries, rental.LedgerEntry{
			ID:         newEntryID(),
			DriverID:   driver.ID,
			UnitID:     input.UnitID,
			Kind:       rental.KindSavings,
			Amount:     input.SavingsAmount,
			Note:       input.Note,
			RecordedBy: actor,
			RecordedAt: now,
		})
	}
	if err = s.ledger.Append(ctx, entries); err != nil {
		return nil, err
	}
	if input.SavingsAmount > 0 {
		if err = s.drivers.AdjustBalances(ctx, driver.ID, input.SavingsAmount, 0); err != nil {
			return nil, err
		}
	}
	s.logMutation(ctx, actor, "confirm_remittance", driver.ID,
		fmt.Sprintf("remit %.2f savings %.2f for driver %s", input.RemitAmount, input.SavingsAmount, driver.Code))
	return entries, nil
}

// WithdrawSavings pays out part of a driver's savings balance.
func (s *Service) WithdrawSavings(ctx context.Context, driverID string, amount float64, note, actor string) (entry *rental.LedgerEntry, err error) {
	defer func() { metrics.ObserveRemittanceOp(string(rental.KindWithdrawal), err) }()

	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	driver, err := s.driver(ctx, driverID)
	if err != nil {
		return nil, err
	}
	if driver.Savings < amount {
		return nil, ErrInsufficientSavings
	}

	e := rental.LedgerEntry{
		ID:         newEntryID(),
		DriverID:   driver.ID,
		Kind:       rental.KindWithdrawal,
		Amount:     amount,
		Note:       note,
		RecordedBy: actor,
		RecordedAt: s.now(),
	}
	if err = s.ledger.Append(ctx, []rental.LedgerEntry{e}); err != nil {
		return nil, err
	}
	if err = s.drivers.AdjustBalances(ctx, driver.ID, -amount, 0); err != nil {
		return nil, err
	}
	s.logMutation(ctx, actor, "withdraw_savings", driver.ID,
		fmt.Sprintf("withdraw %.2f for driver %s", amount, driver.Code))
	return &e, nil
}

// AddDebt charges an amount against a driver.
func (s *Service) AddDebt(ctx context.Context, driverID string, amount float64, note, actor string) (entry *rental.LedgerEntry, err error) {
	defer func() { metrics.ObserveRemittanceOp(string(rental.KindDebtAdded), err) }()

	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	driver, err := s.driver(ctx, driverID)
	if err != nil {
		return nil, err
	}

	e := rental.LedgerEntry{
		ID:         newEntryID(),
		DriverID:   driver.ID,
		Kind:       rental.KindDebtAdded,
		Amount:     amount,
		Note:       note,
		RecordedBy: actor,
		RecordedAt: s.now(),
	}
	if err = s.ledger.Append(ctx, []rental.LedgerEntry{e}); err != nil {
		return nil, err
	}
	if err = s.drivers.AdjustBalances(ctx, driver.ID, 0, amount); err != nil {
		return nil, err
	}
	s.logMutation(ctx, actor, "add_debt", driver.ID,
		fmt.Sprintf("debt %.2f for driver %s", amount, driver.Code))
	return &e, nil
}

// PayDebt reduces a driver's outstanding debt.
func (s *Service) PayDebt(ctx context.Context, driverID string, amount float64, note, actor string) (entry *rental.LedgerEntry, err error) {
	defer func() { metrics.ObserveRemittanceOp(string(rental.KindDebtPayment), err) }()

	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	driver, err := s.driver(ctx, driverID)
	if err != nil {
		return nil, err
	}
	if driver.Debt < amount {
		return nil, ErrNoOutstandingDebt
	}

	e := rental.LedgerEntry{
		ID:         newEntryID(),
		DriverID:   driver.ID,
		Kind:       rental.KindDebtPayment,
		Amount:     amount,
		Note:       note,
		RecordedBy: actor,
		RecordedAt: s.now(),
	}
	if err = s.ledger.Append(ctx, []rental.LedgerEntry{e}); err != nil {
		return nil, err
	}
	if err = s.drivers.AdjustBalances(ctx, driver.ID, 0, -amount); err != nil {
		return nil, err
	}
	s.logMutation(ctx, actor, "pay_debt", driver.ID,
		fmt.Sprintf("debt payment %.2f for driver %s", amount, driver.Code))
	return &e, nil
}

// History returns a driver's ledger entries over a window, oldest first.
func (s *Service) History(ctx context.Context, driverID string, from, to time.Time) ([]rental.LedgerEntry, error) {
	if _, err := s.driver(ctx, driverID); err != nil {
		return nil, err
	}
	return s.ledger.ListByDriver(ctx, driverID, from, to)
}

// Statement bundles a driver with their ledger activity for export.
type Statement struct {
	Driver  fleet.Driver
	From    time.Time
	To      time.Time
	Entries []rental.LedgerEntry
	Totals  rental.Totals
}

// BuildStatement assembles the statement data for one driver and window.
func (s *Service) BuildStatement(ctx context.Context, driverID string, from, to time.Time) (*Statement, error) {
	driver, err := s.driver(ctx, driverID)
	if err != nil {
		return nil, err
	}
	entries, err := s.ledger.ListByDriver(ctx, driverID, from, to)
	if err != nil {
		return nil, err
	}
	return &Statement{
		Driver:  *driver,
		From:    from,
		To:      to,
		Entries: entries,
		Totals:  rental.Sum(entries),
	}, nil
}

func (s *Service) driver(ctx context.Context, driverID string) (*fleet.Driver, error) {
	if driverID == "" {
		return nil, ErrDriverNotFound
	}
	driver, err := s.drivers.Get(ctx, driverID)
	if err != nil {
		return nil, err
	}
	if driver == nil {
		return nil, ErrDriverNotFound
	}
	return driver, nil
}

func (s *Service) logMutation(ctx context.Context, actor, action, driverID, details string) {
	if s.auditLogger == nil {
		return
	}
	entry := audit.Entry{
		Actor:        actor,
		Action:       action,
		ResourceType: "driver",
		ResourceID:   driverID,
		Details:      details,
	}
	if err := s.auditLogger.Log(ctx, entry); err != nil {
		s.logger.Printf("activity log write failed: %v", err)
	}
}
