package application

import (
	"context"
	"time"

	fleet "fleetrental-cloud/internal/fleet/domain"
	tracking "fleetrental-cloud/internal/tracking/domain"
)

// PlatformClient is the telemetry platform port. The production
// implementation speaks the Flespi REST protocol; tests substitute a
// deterministic fake. Implementations classify failures onto the tracking
// domain error values and degrade reads to "no data" where documented.
type PlatformClient interface {
	CheckConnectivity(ctx context.Context) bool
	FindDeviceRefByIdent(ctx context.Context, ident string) (ref string, found bool, err error)
	DeviceExists(ctx context.Context, ref string) (bool, error)
	CreateDevice(ctx context.Context, name, ident string, deviceTypeID int) (string, error)
	DeleteDevice(ctx context.Context, ref string) error
	CountDevices(ctx context.Context) (int, error)
	GetTelemetry(ctx context.Context, ref string) (*tracking.PositionSample, error)
	GetAllTelemetry(ctx context.Context, refs []string) map[string]tracking.PositionSample
	GetLatestPosition(ctx context.Context, ref string) (*tracking.PositionSample, error)
	GetHistory(ctx context.Context, ref string, window time.Duration) []tracking.PositionSample
}

// UnitStore is the slice of unit persistence the tracking services need.
type UnitStore interface {
	Get(ctx context.Context, id string) (*fleet.Unit, error)
	ListLinked(ctx context.Context) ([]fleet.Unit, error)
	UpdateDeviceLink(ctx context.Context, id, ident, ref string) error
}

// PositionRepository persists the local fallback position archive.
type PositionRepository interface {
	Insert(ctx context.Context, position tracking.StoredPosition) error
	LatestByUnit(ctx context.Context, unitID string) (*tracking.StoredPosition, error)
	ListByUnit(ctx context.Context, unitID string, since time.Time) ([]tracking.StoredPosition, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Clock abstracts time for cache expiry and tests.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production clock.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time { return time.Now().UTC() }
