package application

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"fleetrental-cloud/internal/audit"
	fleet "fleetrental-cloud/internal/fleet/domain"
)

// Service errors surfaced to the HTTP layer.
var (
	ErrUnitNotFound   = errors.New("fleet: unit not found")
	ErrDriverNotFound = errors.New("fleet: driver not found")
	ErrInvalidStatus  = errors.New("fleet: invalid status")
)

// Service manages the unit and driver registries.
type Service struct {
	units       fleet.UnitRepository
	drivers     fleet.DriverRepository
	auditLogger audit.Logger
	logger      *log.Logger
	now         func() time.Time
}

// Option configures the service.
type Option func(*Service)

// WithAuditLogger attaches an activity logger for registry mutations.
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

// NewService constructs a fleet registry service.
func NewService(units fleet.UnitRepository, drivers fleet.DriverRepository, opts ...Option) (*Service, error) {
	if units == nil {
		return nil, errors.New("fleet service: nil unit repository")
	}
	if drivers == nil {
		return nil, errors.New("fleet service: nil driver repository")
	}
	s := &Service{
		units:   units,
		drivers: drivers,
		logger:  log.New(io.Discard, "", 0),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// stableID derives a deterministic id from a registry code so repeated
// submissions of the same code upsert instead of duplicating.
func stableID(prefix, code string) string {
	sum := sha1.Sum([]byte(strings.ToLower(strings.TrimSpace(code))))
	return prefix + "-" + hex.EncodeToString(sum[:])[:12]
}

// UnitInput is the write shape for unit registration.
type UnitInput struct {
	Code     string `json:"code"`
	Model    string `json:"model"`
	MadeDate string `json:"made_date,omitempty"` // YYYY-MM-DD
	Status   string `json:"status,omitempty"`
	Notes    string `json:"notes,omitempty"`
}

// SaveUnit registers or updates a unit keyed by its code.
func (s *Service) SaveUnit(ctx context.Context, input UnitInput, actor string) (*fleet.Unit, error) {
	if strings.TrimSpace(input.Code) == "" {
		return nil, errors.New("fleet: unit code required")
	}
	status := fleet.StatusStandBy
	if input.Status != "" {
		if !fleet.ValidStatus(input.Status) {
			return nil, ErrInvalidStatus
		}
		status = fleet.UnitStatus(input.Status)
	}
	var madeDate time.Time
	if input.MadeDate != "" {
		parsed, err := time.Parse("2006-01-02", input.MadeDate)
		if err != nil {
			return nil, fmt.Errorf("fleet: made_date must be YYYY-MM-DD: %w", err)
		}
		madeDate = parsed
	}

	id := stableID("unit", input.Code)
	existing, err := s.units.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	unit := &fleet.Unit{
		ID:       id,
		Code:     strings.TrimSpace(input.Code),
		Model:    strings.TrimSpace(input.Model),
		MadeDate: madeDate,
		Status:   status,
		Notes:    input.Notes,
	}
	if existing != nil {
		// Registry edits never touch the driver or tracker link.
		unit.DriverID = existing.DriverID
		unit.DeviceIdent = existing.DeviceIdent
		unit.DeviceRef = existing.DeviceRef
		if input.Status == "" {
			unit.Status = existing.Status
		}
		if input.MadeDate == "" {
			unit.MadeDate = existing.MadeDate
		}
	}
	if err := s.units.Save(ctx, unit); err != nil {
		return nil, err
	}
	s.logMutation(ctx, actor, "save_unit", "unit", unit.ID, fmt.Sprintf("unit %s (%s)", unit.Code, unit.Model))
	return unit, nil
}

// GetUnit returns one unit.
func (s *Service) GetUnit(ctx context.Context, id string) (*fleet.Unit, error) {
	unit, err := s.units.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if unit == nil {
		return nil, ErrUnitNotFound
	}
	return unit, nil
}

// ListUnits returns all units.
func (s *Service) ListUnits(ctx context.Context) ([]fleet.Unit, error) {
	return s.units.List(ctx)
}

// AssignDriver links a driver to a unit; an empty driverID unassigns.
func (s *Service) AssignDriver(ctx context.Context, unitID, driverID, actor string) (*fleet.Unit, error) {
	unit, err := s.units.Get(ctx, unitID)
	if err != nil {
		return nil, err
	}
	if unit == nil {
		return nil, ErrUnitNotFound
	}
	if driverID != "" {
		driver, err := s.drivers.Get(ctx, driverID)
		if err != nil {
			return nil, err
		}
		if driver == nil {
			return nil, ErrDriverNotFound
		}
		if driver.Status != fleet.DriverActive {
			return nil, fmt.Errorf("fleet: driver %s is %s, not active", driver.Code, driver.Status)
		}
	}
	if err := s.units.AssignDriver(ctx, unitID, driverID); err != nil {
		return nil, err
	}
	action := "assign_driver"
	if driverID == "" {
		action = "unassign_driver"
	}
	s.logMutation(ctx, actor, action, "unit", unitID, fmt.Sprintf("driver %q on unit %s", driverID, unit.Code))
	return s.units.Get(ctx, unitID)
}

// UpdateUnitStatus sets the operational status of a unit.
func (s *Service) UpdateUnitStatus(ctx context.Context, unitID, status, actor string) error {
	if !fleet.ValidStatus(status) {
		return ErrInvalidStatus
	}
	unit, err := s.units.Get(ctx, unitID)
	if err != nil {
		return err
	}
	if unit == nil {
		return ErrUnitNotFound
	}
	if err := s.units.UpdateStatus(ctx, unitID, fleet.UnitStatus(status)); err != nil {
		return err
	}
	s.logMutation(ctx, actor, "update_unit_status", "unit", unitID,
		fmt.Sprintf("unit %s status %s -> %s", unit.Code, unit.Status, status))
	return nil
}

// DriverInput is the write shape for driver registration.
type DriverInput struct {
	Code    string `json:"code"`
	Name    string `json:"name"`
	Contact string `json:"contact,omitempty"`
	Status  string `json:"status,omitempty"`
}

// SaveDriver registers or updates a driver keyed by their code.
func (s *Service) SaveDriver(ctx context.Context, input DriverInput, actor string) (*fleet.Driver, error) {
	if strings.TrimSpace(input.Code) == "" {
		return nil, errors.New("fleet: driver code required")
	}
	if strings.TrimSpace(input.Name) == "" {
		return nil, errors.New("fleet: driver name required")
	}
	status := fleet.DriverActive
	switch fleet.DriverStatus(input.Status) {
	case "":
	case fleet.DriverActive, fleet.DriverInactive, fleet.DriverOnLeave, fleet.DriverFired:
		status = fleet.DriverStatus(input.Status)
	default:
		return nil, ErrInvalidStatus
	}

	driver := &fleet.Driver{
		ID:      stableID("driver", input.Code),
		Code:    strings.TrimSpace(input.Code),
		Name:    strings.TrimSpace(input.Name),
		Contact: strings.TrimSpace(input.Contact),
		Status:  status,
	}
	if err := s.drivers.Save(ctx, driver); err != nil {
		return nil, err
	}
	s.logMutation(ctx, actor, "save_driver", "driver", driver.ID, fmt.Sprintf("driver %s (%s)", driver.Code, driver.Name))
	return driver, nil
}

// GetDriver returns one driver.
func (s *Service) GetDriver(ctx context.Context, id string) (*fleet.Driver, error) {
	driver, err := s.drivers.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if driver == nil {
		return nil, ErrDriverNotFound
	}
	return driver, nil
}

// ListDrivers returns all drivers.
func (s *Service) ListDrivers(ctx context.Context) ([]fleet.Driver, error) {
	return s.drivers.List(ctx)
}

func (s *Service) logMutation(ctx context.Context, actor, action, resourceType, resourceID, details string) {
	if s.auditLogger == nil {
		return
	}
	entry := audit.Entry{
		Actor:        actor,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Details:      details,
	}
	if err := s.auditLogger.Log(ctx, entry); err != nil {
		s.logger.Printf("activity log write failed: %v", err)
	}
}
