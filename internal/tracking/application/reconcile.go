package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"

	"fleetrental-cloud/internal/audit"
	fleet "fleetrental-cloud/internal/fleet/domain"
	"fleetrental-cloud/internal/observability/metrics"
	tracking "fleetrental-cloud/internal/tracking/domain"
)

// Reconciliation errors reported to callers before any network call.
var (
	ErrInvalidIdent = errors.New("tracking: invalid device identifier, must be 8-16 digits")
	ErrUnitNotFound = errors.New("tracking: unit not found")
)

// ReconcileService aligns local device-identifier state with the platform
// device registry. Transitions per unit:
//
//	no identifier -> unlinked        (identifier assigned, validated locally)
//	unlinked      -> linked          (platform device found or created)
//	unlinked      -> linked_offline  (platform unreachable, synthetic ref)
//	any           -> no identifier   (identifier cleared, ref cleared too)
type ReconcileService struct {
	units        UnitStore
	platform     PlatformClient
	auditLogger  audit.Logger
	logger       *log.Logger
	deviceTypeID int
}

// ReconcileOption configures the service.
type ReconcileOption func(*ReconcileService)

// WithAuditLogger attaches an activity logger for link transitions.
func WithAuditLogger(logger audit.Logger) ReconcileOption {
	return func(s *ReconcileService) { s.auditLogger = logger }
}

// WithReconcileLogger attaches a diagnostic logger.
func WithReconcileLogger(logger *log.Logger) ReconcileOption {
	return func(s *ReconcileService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithDeviceTypeID overrides the platform device type used on creation.
func WithDeviceTypeID(id int) ReconcileOption {
	return func(s *ReconcileService) {
		if id > 0 {
			s.deviceTypeID = id
		}
	}
}

// NewReconcileService constructs a reconciliation service.
func NewReconcileService(units UnitStore, platform PlatformClient, opts ...ReconcileOption) (*ReconcileService, error) {
	if units == nil {
		return nil, errors.New("reconcile: nil unit store")
	}
	if platform == nil {
		return nil, errors.New("reconcile: nil platform client")
	}
	s := &ReconcileService{
		units:    units,
		platform: platform,
		logger:   log.New(io.Discard, "", 0),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// AssignResult is the outcome of a device assignment.
type AssignResult struct {
	Unit    *fleet.Unit
	Link    tracking.LinkResult
	Warning string
}

// AssignDevice assigns (or, with an empty ident, unassigns) a tracker to a
// unit. The identifier is validated locally before any platform call; an
// unreachable or rejecting platform degrades to a deterministic synthetic
// offline reference so the unit still keys on "a reference exists".
func (s *ReconcileService) AssignDevice(ctx context.Context, unitID, ident, actor string) (*AssignResult, error) {
	unit, err := s.units.Get(ctx, unitID)
	if err != nil {
		return nil, err
	}
	if unit == nil {
		return nil, ErrUnitNotFound
	}
	oldRef := unit.DeviceRef

	if ident == "" {
		if err := s.units.UpdateDeviceLink(ctx, unit.ID, "", ""); err != nil {
			return nil, err
		}
		unit.DeviceIdent = ""
		unit.DeviceRef = ""
		s.logTransition(ctx, actor, unit, "unassign_device", oldRef, "")
		metrics.ObserveDeviceAssignment("unassigned")
		return &AssignResult{
			Unit: unit,
			Link: tracking.LinkResult{State: tracking.LinkUnlinked},
		}, nil
	}

	if !tracking.ValidIdent(ident) {
		metrics.ObserveDeviceAssignment("rejected")
		return nil, ErrInvalidIdent
	}

	// Persist the identifier up front so it survives even when no platform
	// device can be created. A changed identifier invalidates the old ref.
	if unit.DeviceIdent != ident {
		if err := s.units.UpdateDeviceLink(ctx, unit.ID, ident, ""); err != nil {
			return nil, err
		}
		unit.DeviceIdent = ident
		unit.DeviceRef = ""
	}

	ref, err := s.EnsureDevice(ctx, unit)
	if err != nil {
		return nil, err
	}
	if ref != "" {
		s.logTransition(ctx, actor, unit, "assign_device", oldRef, ref)
		metrics.ObserveDeviceAssignment("linked")
		return &AssignResult{
			Unit: unit,
			Link: tracking.LinkResult{State: tracking.LinkLinked, DeviceRef: ref},
		}, nil
	}

	offlineRef := tracking.OfflineRef(ident)
	if err := s.units.UpdateDeviceLink(ctx, unit.ID, ident, offlineRef); err != nil {
		return nil, err
	}
	unit.DeviceRef = offlineRef
	s.logTransition(ctx, actor, unit, "assign_device_offline", oldRef, offlineRef)
	metrics.ObserveDeviceAssignment("linked_offline")
	s.logger.Printf("unit %s: platform unavailable for ident %s, linked offline as %s", unit.ID, ident, offlineRef)
	return &AssignResult{
		Unit:    unit,
		Link:    tracking.LinkResult{State: tracking.LinkLinkedOffline, DeviceRef: offlineRef},
		Warning: "platform device could not be created; using offline reference",
	}, nil
}

// EnsureDevice makes sure a platform device exists for the unit and
// persists the resolved reference. Returns "" when the unit has no
// identifier or every path fails; the caller decides on the offline
// fallback. Idempotent: a second call against an unchanged platform
// resolves the same reference and issues no duplicate create.
func (s *ReconcileService) EnsureDevice(ctx context.Context, unit *fleet.Unit) (string, error) {
	if unit == nil {
		return "", errors.New("reconcile: nil unit")
	}
	if unit.DeviceIdent == "" {
		return "", nil
	}
	if !s.platform.CheckConnectivity(ctx) {
		s.logger.Printf("unit %s: platform connectivity check failed", unit.ID)
		return "", nil
	}

	// Confirm an existing real reference still resolves; a platform 404
	// is a staleness signal and falls through to re-resolution.
	if unit.DeviceRef != "" && !tracking.IsOfflineRef(unit.DeviceRef) {
		exists, err := s.platform.DeviceExists(ctx, unit.DeviceRef)
		if err != nil {
			s.logger.Printf("unit %s: device check for ref %s failed: %v", unit.ID, unit.DeviceRef, err)
		} else if exists {
			return unit.DeviceRef, nil
		} else {
			s.logger.Printf("unit %s: ref %s is stale on platform, re-resolving", unit.ID, unit.DeviceRef)
		}
	}

	if ref, found, err := s.platform.FindDeviceRefByIdent(ctx, unit.DeviceIdent); err == nil && found {
		if err := s.persistRef(ctx, unit, ref); err != nil {
			return "", err
		}
		return ref, nil
	} else if err != nil {
		s.logger.Printf("unit %s: device search for ident %s failed: %v", unit.ID, unit.DeviceIdent, err)
	}

	name := fmt.Sprintf("Unit %s (%s)", unit.Code, unit.ID)
	ref, err := s.platform.CreateDevice(ctx, name, unit.DeviceIdent, s.deviceTypeID)
	if err != nil {
		s.logger.Printf("unit %s: device creation for ident %s failed: %v", unit.ID, unit.DeviceIdent, err)
		return "", nil
	}
	if err := s.persistRef(ctx, unit, ref); err != nil {
		return "", err
	}
	return ref, nil
}

func (s *ReconcileService) persistRef(ctx context.Context, unit *fleet.Unit, ref string) error {
	if err := s.units.UpdateDeviceLink(ctx, unit.ID, unit.DeviceIdent, ref); err != nil {
		return err
	}
	unit.DeviceRef = ref
	return nil
}

func (s *ReconcileService) logTransition(ctx context.Context, actor string, unit *fleet.Unit, action, oldRef, newRef string) {
	if s.auditLogger == nil {
		return
	}
	entry := audit.Entry{
		Actor:        actor,
		Action:       action,
		ResourceType: "unit",
		ResourceID:   unit.ID,
		Details:      fmt.Sprintf("unit %s ident %q ref %q -> %q", unit.Code, unit.DeviceIdent, oldRef, newRef),
	}
	if err := s.auditLogger.Log(ctx, entry); err != nil {
		s.logger.Printf("activity log write failed: %v", err)
	}
}
