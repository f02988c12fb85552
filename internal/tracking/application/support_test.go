package application

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"fleetrental-cloud/internal/audit"
	fleet "fleetrental-cloud/internal/fleet/domain"
	tracking "fleetrental-cloud/internal/tracking/domain"
)

// stubPlatform is a deterministic in-memory platform. All lookups key on
// the same maps so tests set up exactly the platform state they need;
// every method counts its invocations.
type stubPlatform struct {
	mu sync.Mutex

	reachable bool
	devices   map[string]string // ident -> ref
	existing  map[string]bool   // ref -> registered
	telemetry map[string]tracking.PositionSample
	latest    map[string]tracking.PositionSample
	history   map[string][]tracking.PositionSample

	findErr   error
	createErr error
	countErr  error
	deleteErr error

	calls   map[string]int
	nextRef int
}

func newStubPlatform() *stubPlatform {
	return &stubPlatform{
		reachable: true,
		devices:   make(map[string]string),
		existing:  make(map[string]bool),
		telemetry: make(map[string]tracking.PositionSample),
		latest:    make(map[string]tracking.PositionSample),
		history:   make(map[string][]tracking.PositionSample),
		calls:     make(map[string]int),
		nextRef:   9000,
	}
}

func (p *stubPlatform) count(method string) {
	p.mu.Lock()
	p.calls[method]++
	p.mu.Unlock()
}

func (p *stubPlatform) callCount(method string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[method]
}

func (p *stubPlatform) totalCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	total := 0
	for _, n := range p.calls {
		total += n
	}
	return total
}

func (p *stubPlatform) CheckConnectivity(ctx context.Context) bool {
	p.count("CheckConnectivity")
	return p.reachable
}

func (p *stubPlatform) FindDeviceRefByIdent(ctx context.Context, ident string) (string, bool, error) {
	p.count("FindDeviceRefByIdent")
	if p.findErr != nil {
		return "", false, p.findErr
	}
	ref, ok := p.devices[ident]
	return ref, ok, nil
}

func (p *stubPlatform) DeviceExists(ctx context.Context, ref string) (bool, error) {
	p.count("DeviceExists")
	return p.existing[ref], nil
}

func (p *stubPlatform) CreateDevice(ctx context.Context, name, ident string, deviceTypeID int) (string, error) {
	p.count("CreateDevice")
	if p.createErr != nil {
		return "", p.createErr
	}
	if ref, ok := p.devices[ident]; ok {
		return ref, nil
	}
	p.nextRef++
	ref := fmt.Sprintf("%d", p.nextRef)
	p.devices[ident] = ref
	p.existing[ref] = true
	return ref, nil
}

func (p *stubPlatform) DeleteDevice(ctx context.Context, ref string) error {
	p.count("DeleteDevice")
	if p.deleteErr != nil {
		return p.deleteErr
	}
	delete(p.existing, ref)
	for ident, r := range p.devices {
		if r == ref {
			delete(p.devices, ident)
		}
	}
	return nil
}

func (p *stubPlatform) CountDevices(ctx context.Context) (int, error) {
	p.count("CountDevices")
	if p.countErr != nil {
		return 0, p.countErr
	}
	return len(p.devices), nil
}

func (p *stubPlatform) GetTelemetry(ctx context.Context, ref string) (*tracking.PositionSample, error) {
	p.count("GetTelemetry")
	if sample, ok := p.telemetry[ref]; ok {
		return &sample, nil
	}
	return nil, nil
}

func (p *stubPlatform) GetAllTelemetry(ctx context.Context, refs []string) map[string]tracking.PositionSample {
	p.count("GetAllTelemetry")
	out := make(map[string]tracking.PositionSample)
	for _, ref := range refs {
		if sample, ok := p.telemetry[ref]; ok {
			out[ref] = sample
		}
	}
	return out
}

func (p *stubPlatform) GetLatestPosition(ctx context.Context, ref string) (*tracking.PositionSample, error) {
	p.count("GetLatestPosition")
	if sample, ok := p.latest[ref]; ok {
		return &sample, nil
	}
	return nil, nil
}

func (p *stubPlatform) GetHistory(ctx context.Context, ref string, window time.Duration) []tracking.PositionSample {
	p.count("GetHistory")
	return p.history[ref]
}

// stubUnitStore keeps units in a map and mirrors link updates back into it.
type stubUnitStore struct {
	units map[string]*fleet.Unit
}

func newStubUnitStore(units ...*fleet.Unit) *stubUnitStore {
	s := &stubUnitStore{units: make(map[string]*fleet.Unit)}
	for _, u := range units {
		s.units[u.ID] = u
	}
	return s
}

func (s *stubUnitStore) Get(ctx context.Context, id string) (*fleet.Unit, error) {
	return s.units[id], nil
}

func (s *stubUnitStore) ListLinked(ctx context.Context) ([]fleet.Unit, error) {
	var out []fleet.Unit
	for _, u := range s.units {
		if u.DeviceRef != "" {
			out = append(out, *u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *stubUnitStore) UpdateDeviceLink(ctx context.Context, id, ident, ref string) error {
	u, ok := s.units[id]
	if !ok {
		return fmt.Errorf("unit %s not found", id)
	}
	u.DeviceIdent = ident
	u.DeviceRef = ref
	return nil
}

// stubPositions holds stored positions, dropping duplicate unit+timestamp
// inserts the way the database unique constraint does.
type stubPositions struct {
	rows []tracking.StoredPosition
}

func (s *stubPositions) Insert(ctx context.Context, position tracking.StoredPosition) error {
	for _, row := range s.rows {
		if row.UnitID == position.UnitID && row.Timestamp.Equal(position.Timestamp) {
			return nil
		}
	}
	s.rows = append(s.rows, position)
	return nil
}

func (s *stubPositions) LatestByUnit(ctx context.Context, unitID string) (*tracking.StoredPosition, error) {
	var latest *tracking.StoredPosition
	for i := range s.rows {
		row := s.rows[i]
		if row.UnitID != unitID {
			continue
		}
		if latest == nil || row.Timestamp.After(latest.Timestamp) {
			latest = &row
		}
	}
	return latest, nil
}

func (s *stubPositions) ListByUnit(ctx context.Context, unitID string, since time.Time) ([]tracking.StoredPosition, error) {
	var out []tracking.StoredPosition
	for _, row := range s.rows {
		if row.UnitID == unitID && !row.Timestamp.Before(since) {
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (s *stubPositions) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	var kept []tracking.StoredPosition
	var removed int64
	for _, row := range s.rows {
		if row.Timestamp.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, row)
	}
	s.rows = kept
	return removed, nil
}

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(start time.Time) *fakeClock {
	return &fakeClock{now: start}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// memoryAuditLogger records entries in order.
type memoryAuditLogger struct {
	entries []audit.Entry
}

func (l *memoryAuditLogger) Log(ctx context.Context, entry audit.Entry) error {
	l.entries = append(l.entries, entry)
	return nil
}

func sampleAt(ts time.Time, lat, lon float64) tracking.PositionSample {
	return tracking.PositionSample{
		Latitude:  lat,
		Longitude: lon,
		Timestamp: ts.Unix(),
		Valid:     true,
	}
}
