package fleet

import (
	"context"
	"errors"
	"time"

	tracking "fleetrental-cloud/internal/tracking/domain"
)

// UnitStatus is the operational state of a rental unit.
type UnitStatus string

const (
	StatusStandBy          UnitStatus = "stand_by"
	StatusInUse            UnitStatus = "in_use"
	StatusUnderMaintenance UnitStatus = "under_maintenance"
	StatusOutOfService     UnitStatus = "out_of_service"
)

// ValidStatus reports whether a status value is known.
func ValidStatus(value string) bool {
	switch UnitStatus(value) {
	case StatusStandBy, StatusInUse, StatusUnderMaintenance, StatusOutOfService:
		return true
	default:
		return false
	}
}

// Unit represents a tracked rental vehicle.
//
// DeviceRef is set only while DeviceIdent is set; clearing the identifier
// clears the reference. The reference may be a platform-assigned id or a
// synthetic offline placeholder (see tracking.IsOfflineRef).
type Unit struct {
	ID          string
	Code        string // operator-facing unit code (plate / PO number)
	Model       string
	MadeDate    time.Time
	Status      UnitStatus
	DriverID    string
	DriverName  string // joined from drivers on reads, not persisted
	DeviceIdent string
	DeviceRef   string
	Notes       string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Validate checks unit invariants.
func (u Unit) Validate() error {
	if u.ID == "" {
		return errors.New("unit: empty id")
	}
	if u.Code == "" {
		return errors.New("unit: empty code")
	}
	if u.Status != "" && !ValidStatus(string(u.Status)) {
		return errors.New("unit: invalid status")
	}
	if u.DeviceRef != "" && u.DeviceIdent == "" {
		return errors.New("unit: device ref without ident")
	}
	return nil
}

// LinkState classifies the unit's relation to the telemetry platform.
func (u Unit) LinkState() tracking.LinkState {
	switch {
	case u.DeviceRef == "":
		return tracking.LinkUnlinked
	case tracking.IsOfflineRef(u.DeviceRef):
		return tracking.LinkLinkedOffline
	default:
		return tracking.LinkLinked
	}
}

// UnitRepository manages unit persistence.
type UnitRepository interface {
	Get(ctx context.Context, id string) (*Unit, error)
	List(ctx context.Context) ([]Unit, error)
	ListLinked(ctx context.Context) ([]Unit, error)
	Save(ctx context.Context, unit *Unit) error
	UpdateDeviceLink(ctx context.Context, id, ident, ref string) error
	AssignDriver(ctx context.Context, id, driverID string) error
	UpdateStatus(ctx context.Context, id string, status UnitStatus) error
}
