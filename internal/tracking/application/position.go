package application

import (
	"context"
	"errors"
	"io"
	"log"
	"time"

	fleet "fleetrental-cloud/internal/fleet/domain"
	"fleetrental-cloud/internal/observability/metrics"
	tracking "fleetrental-cloud/internal/tracking/domain"
)

// Position resolution errors for single-unit queries.
var (
	ErrNoDeviceLinked = errors.New("tracking: unit has no device assigned")
	ErrNoPositionData = errors.New("tracking: no position data available")
)

// PositionService produces best-effort current positions. Resolution order
// for a unit, first success wins: live platform telemetry, cached or fresh
// short history, locally stored positions. Units with a synthetic offline
// reference skip the platform tiers entirely until re-resolved.
type PositionService struct {
	units     UnitStore
	platform  PlatformClient
	positions PositionRepository
	cache     *historyCache
	clock     Clock
	logger    *log.Logger
	window    time.Duration
}

// PositionOption configures the service.
type PositionOption func(*PositionService)

// WithClock overrides the clock (used by tests to control cache expiry).
func WithClock(clock Clock) PositionOption {
	return func(s *PositionService) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithPositionLogger attaches a diagnostic logger.
func WithPositionLogger(logger *log.Logger) PositionOption {
	return func(s *PositionService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewPositionService constructs a position resolution service.
func NewPositionService(units UnitStore, platform PlatformClient, positions PositionRepository, cfg Config, opts ...PositionOption) (*PositionService, error) {
	if units == nil {
		return nil, errors.New("positions: nil unit store")
	}
	if platform == nil {
		return nil, errors.New("positions: nil platform client")
	}
	if positions == nil {
		return nil, errors.New("positions: nil position repository")
	}
	s := &PositionService{
		units:     units,
		platform:  platform,
		positions: positions,
		clock:     SystemClock{},
		logger:    log.New(io.Discard, "", 0),
		window:    cfg.HistoryWindow(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.cache = newHistoryCache(cfg.CacheTTL(), s.clock)
	return s, nil
}

// UnitPosition is a resolved position for one unit.
type UnitPosition struct {
	UnitID   string
	UnitCode string
	Driver   string
	Sample   tracking.PositionSample
	Source   tracking.PositionSource
}

// ResolveUnit resolves a best-effort current position for one unit.
// Returns ErrNoDeviceLinked when no reference exists and ErrNoPositionData
// when every tier comes up empty.
func (s *PositionService) ResolveUnit(ctx context.Context, unitID string) (*UnitPosition, error) {
	unit, err := s.units.Get(ctx, unitID)
	if err != nil {
		return nil, err
	}
	if unit == nil {
		return nil, ErrUnitNotFound
	}
	if unit.DeviceRef == "" {
		return nil, ErrNoDeviceLinked
	}

	if !tracking.IsOfflineRef(unit.DeviceRef) {
		sample, err := s.platform.GetTelemetry(ctx, unit.DeviceRef)
		if err != nil {
			s.logger.Printf("unit %s: telemetry fetch failed: %v", unit.ID, err)
		}
		if sample != nil {
			metrics.ObservePositionResolution(string(tracking.SourceTelemetry))
			return s.unitPosition(unit, *sample, tracking.SourceTelemetry), nil
		}
	}

	if resolved := s.fallback(ctx, unit); resolved != nil {
		return resolved, nil
	}
	return nil, ErrNoPositionData
}

// ResolveAll resolves positions for every unit with a device reference.
// Telemetry is fetched once for all real references; per-unit fallback
// applies only to units still missing coordinates. Units with no data at
// any tier are omitted.
func (s *PositionService) ResolveAll(ctx context.Context) ([]UnitPosition, error) {
	units, err := s.units.ListLinked(ctx)
	if err != nil {
		return nil, err
	}
	if len(units) == 0 {
		return nil, nil
	}

	var refs []string
	for _, unit := range units {
		if unit.DeviceRef != "" && !tracking.IsOfflineRef(unit.DeviceRef) {
			refs = append(refs, unit.DeviceRef)
		}
	}
	var telemetry map[string]tracking.PositionSample
	if len(refs) > 0 {
		telemetry = s.platform.GetAllTelemetry(ctx, refs)
	}

	var result []UnitPosition
	for i := range units {
		unit := units[i]
		if sample, ok := telemetry[unit.DeviceRef]; ok {
			metrics.ObservePositionResolution(string(tracking.SourceTelemetry))
			result = append(result, *s.unitPosition(&unit, sample, tracking.SourceTelemetry))
			continue
		}
		if resolved := s.fallback(ctx, &unit); resolved != nil {
			result = append(result, *resolved)
		}
	}
	return result, nil
}

// History returns the position series for a unit over the requested
// window, most recent last. Real references read the platform message
// stream through the TTL cache; offline references read the local store.
func (s *PositionService) History(ctx context.Context, unitID string, window time.Duration) ([]tracking.PositionSample, error) {
	unit, err := s.units.Get(ctx, unitID)
	if err != nil {
		return nil, err
	}
	if unit == nil {
		return nil, ErrUnitNotFound
	}
	if unit.DeviceRef == "" {
		return nil, ErrNoDeviceLinked
	}

	if tracking.IsOfflineRef(unit.DeviceRef) {
		stored, err := s.positions.ListByUnit(ctx, unit.ID, s.clock.Now().Add(-window))
		if err != nil {
			return nil, err
		}
		samples := make([]tracking.PositionSample, 0, len(stored))
		for _, p := range stored {
			samples = append(samples, p.Sample())
		}
		return samples, nil
	}
	return s.history(ctx, unit.DeviceRef, window), nil
}

// RefreshAll fetches the latest platform position for every linked unit
// and persists it into the local archive. Safe to call at any frequency;
// duplicate fixes are dropped by the store.
func (s *PositionService) RefreshAll(ctx context.Context) error {
	start := s.clock.Now()
	units, err := s.units.ListLinked(ctx)
	if err != nil {
		metrics.ObserveRefreshRun(err, time.Since(start))
		return err
	}

	var failures int
	for _, unit := range units {
		if unit.DeviceRef == "" || tracking.IsOfflineRef(unit.DeviceRef) {
			continue
		}
		sample, err := s.platform.GetLatestPosition(ctx, unit.DeviceRef)
		if err != nil {
			s.logger.Printf("refresh: unit %s latest position failed: %v", unit.ID, err)
			failures++
			continue
		}
		if sample == nil {
			continue
		}
		stored := tracking.StoredPosition{
			UnitID:    unit.ID,
			Latitude:  sample.Latitude,
			Longitude: sample.Longitude,
			Speed:     sample.Speed,
			Timestamp: sample.Time(),
		}
		if err := s.positions.Insert(ctx, stored); err != nil {
			s.logger.Printf("refresh: unit %s position insert failed: %v", unit.ID, err)
			failures++
		}
	}

	var runErr error
	if failures > 0 && failures == len(units) {
		runErr = errors.New("tracking: refresh failed for all units")
	}
	metrics.ObserveRefreshRun(runErr, time.Since(start))
	return runErr
}

// PurgeOlderThan deletes stored positions older than the retention window.
func (s *PositionService) PurgeOlderThan(ctx context.Context, retention time.Duration) (int64, error) {
	return s.positions.DeleteOlderThan(ctx, s.clock.Now().Add(-retention))
}

func (s *PositionService) fallback(ctx context.Context, unit *fleet.Unit) *UnitPosition {
	if !tracking.IsOfflineRef(unit.DeviceRef) {
		history := s.history(ctx, unit.DeviceRef, s.window)
		if len(history) > 0 {
			latest := history[len(history)-1]
			metrics.ObservePositionResolution(string(tracking.SourceHistory))
			return s.unitPosition(unit, latest, tracking.SourceHistory)
		}
	}

	stored, err := s.positions.LatestByUnit(ctx, unit.ID)
	if err != nil {
		s.logger.Printf("unit %s: stored position lookup failed: %v", unit.ID, err)
		return nil
	}
	if stored == nil {
		return nil
	}
	metrics.ObservePositionResolution(string(tracking.SourceStored))
	return s.unitPosition(unit, stored.Sample(), tracking.SourceStored)
}

func (s *PositionService) history(ctx context.Context, ref string, window time.Duration) []tracking.PositionSample {
	if samples, ok := s.cache.get(ref, window); ok {
		return samples
	}
	samples := s.platform.GetHistory(ctx, ref, window)
	s.cache.put(ref, window, samples)
	return samples
}

func (s *PositionService) unitPosition(unit *fleet.Unit, sample tracking.PositionSample, source tracking.PositionSource) *UnitPosition {
	return &UnitPosition{
		UnitID:   unit.ID,
		UnitCode: unit.Code,
		Driver:   unit.DriverName,
		Sample:   sample,
		Source:   source,
	}
}
