package application

import (
	"context"
	"errors"
	"testing"

	fleet "fleetrental-cloud/internal/fleet/domain"
	tracking "fleetrental-cloud/internal/tracking/domain"
)

func newTestUnit(id, code string) *fleet.Unit {
	return &fleet.Unit{ID: id, Code: code, Status: fleet.StatusStandBy}
}

func TestAssignDeviceInvalidIdentSkipsPlatform(t *testing.T) {
	platform := newStubPlatform()
	store := newStubUnitStore(newTestUnit("unit-1", "U-001"))
	svc, err := NewReconcileService(store, platform)
	if err != nil {
		t.Fatalf("NewReconcileService: %v", err)
	}

	for _, ident := range []string{"1234567", "12345678901234567", "12345abc", "  123456789  "} {
		_, err := svc.AssignDevice(context.Background(), "unit-1", ident, "staff@example.com")
		if !errors.Is(err, ErrInvalidIdent) {
			t.Errorf("ident %q: got %v, want ErrInvalidIdent", ident, err)
		}
	}
	if n := platform.totalCalls(); n != 0 {
		t.Errorf("platform calls = %d, want 0 for rejected identifiers", n)
	}
	if got := store.units["unit-1"].DeviceIdent; got != "" {
		t.Errorf("ident persisted despite rejection: %q", got)
	}
}

func TestAssignDeviceCreatesAndLinks(t *testing.T) {
	platform := newStubPlatform()
	store := newStubUnitStore(newTestUnit("unit-1", "U-001"))
	auditLog := &memoryAuditLogger{}
	svc, err := NewReconcileService(store, platform, WithAuditLogger(auditLog))
	if err != nil {
		t.Fatalf("NewReconcileService: %v", err)
	}

	result, err := svc.AssignDevice(context.Background(), "unit-1", "123456789012345", "staff@example.com")
	if err != nil {
		t.Fatalf("AssignDevice: %v", err)
	}
	if result.Link.State != tracking.LinkLinked {
		t.Fatalf("link state = %s, want %s", result.Link.State, tracking.LinkLinked)
	}
	if result.Link.DeviceRef == "" || tracking.IsOfflineRef(result.Link.DeviceRef) {
		t.Fatalf("device ref = %q, want real platform ref", result.Link.DeviceRef)
	}
	if got := store.units["unit-1"].DeviceRef; got != result.Link.DeviceRef {
		t.Errorf("persisted ref = %q, want %q", got, result.Link.DeviceRef)
	}
	if platform.callCount("CreateDevice") != 1 {
		t.Errorf("CreateDevice calls = %d, want 1", platform.callCount("CreateDevice"))
	}
	if len(auditLog.entries) == 0 || auditLog.entries[len(auditLog.entries)-1].Action != "assign_device" {
		t.Errorf("missing assign_device activity entry: %+v", auditLog.entries)
	}
}

func TestAssignDeviceReusesExistingDevice(t *testing.T) {
	platform := newStubPlatform()
	platform.devices["123456789012345"] = "777"
	platform.existing["777"] = true
	store := newStubUnitStore(newTestUnit("unit-1", "U-001"))
	svc, _ := NewReconcileService(store, platform)

	result, err := svc.AssignDevice(context.Background(), "unit-1", "123456789012345", "staff@example.com")
	if err != nil {
		t.Fatalf("AssignDevice: %v", err)
	}
	if result.Link.DeviceRef != "777" {
		t.Fatalf("device ref = %q, want existing 777", result.Link.DeviceRef)
	}
	if platform.callCount("CreateDevice") != 0 {
		t.Errorf("CreateDevice calls = %d, want 0 when device exists", platform.callCount("CreateDevice"))
	}
}

func TestEnsureDeviceIdempotent(t *testing.T) {
	platform := newStubPlatform()
	store := newStubUnitStore(newTestUnit("unit-1", "U-001"))
	svc, _ := NewReconcileService(store, platform)

	first, err := svc.AssignDevice(context.Background(), "unit-1", "123456789012345", "staff@example.com")
	if err != nil {
		t.Fatalf("first AssignDevice: %v", err)
	}
	second, err := svc.AssignDevice(context.Background(), "unit-1", "123456789012345", "staff@example.com")
	if err != nil {
		t.Fatalf("second AssignDevice: %v", err)
	}
	if first.Link.DeviceRef != second.Link.DeviceRef {
		t.Errorf("refs diverged: %q vs %q", first.Link.DeviceRef, second.Link.DeviceRef)
	}
	if platform.callCount("CreateDevice") != 1 {
		t.Errorf("CreateDevice calls = %d, want 1 across repeat assignments", platform.callCount("CreateDevice"))
	}
}

func TestAssignDeviceOfflineFallbackIsDeterministic(t *testing.T) {
	platform := newStubPlatform()
	platform.reachable = false
	store := newStubUnitStore(newTestUnit("unit-1", "U-001"), newTestUnit("unit-2", "U-002"))
	svc, _ := NewReconcileService(store, platform)

	first, err := svc.AssignDevice(context.Background(), "unit-1", "123456789012345", "staff@example.com")
	if err != nil {
		t.Fatalf("AssignDevice: %v", err)
	}
	if first.Link.State != tracking.LinkLinkedOffline {
		t.Fatalf("link state = %s, want %s", first.Link.State, tracking.LinkLinkedOffline)
	}
	if !tracking.IsOfflineRef(first.Link.DeviceRef) {
		t.Fatalf("ref %q lacks offline marker", first.Link.DeviceRef)
	}
	if first.Warning == "" {
		t.Error("expected a warning on offline fallback")
	}

	second, err := svc.AssignDevice(context.Background(), "unit-2", "123456789012345", "staff@example.com")
	if err != nil {
		t.Fatalf("AssignDevice: %v", err)
	}
	if first.Link.DeviceRef != second.Link.DeviceRef {
		t.Errorf("same ident produced different offline refs: %q vs %q", first.Link.DeviceRef, second.Link.DeviceRef)
	}
	if first.Link.DeviceRef != tracking.OfflineRef("123456789012345") {
		t.Errorf("offline ref = %q, want %q", first.Link.DeviceRef, tracking.OfflineRef("123456789012345"))
	}
}

func TestAssignDeviceRecoversFromOffline(t *testing.T) {
	platform := newStubPlatform()
	platform.reachable = false
	store := newStubUnitStore(newTestUnit("unit-1", "U-001"))
	svc, _ := NewReconcileService(store, platform)

	offline, err := svc.AssignDevice(context.Background(), "unit-1", "123456789012345", "staff@example.com")
	if err != nil {
		t.Fatalf("AssignDevice offline: %v", err)
	}
	if offline.Link.State != tracking.LinkLinkedOffline {
		t.Fatalf("link state = %s, want offline", offline.Link.State)
	}

	platform.reachable = true
	recovered, err := svc.AssignDevice(context.Background(), "unit-1", "123456789012345", "staff@example.com")
	if err != nil {
		t.Fatalf("AssignDevice recovered: %v", err)
	}
	if recovered.Link.State != tracking.LinkLinked {
		t.Fatalf("link state = %s, want linked after recovery", recovered.Link.State)
	}
	if tracking.IsOfflineRef(recovered.Link.DeviceRef) {
		t.Errorf("ref %q still offline after recovery", recovered.Link.DeviceRef)
	}
}

func TestAssignDeviceUnassignClearsLink(t *testing.T) {
	unit := newTestUnit("unit-1", "U-001")
	unit.DeviceIdent = "123456789012345"
	unit.DeviceRef = "777"
	platform := newStubPlatform()
	store := newStubUnitStore(unit)
	auditLog := &memoryAuditLogger{}
	svc, _ := NewReconcileService(store, platform, WithAuditLogger(auditLog))

	result, err := svc.AssignDevice(context.Background(), "unit-1", "", "staff@example.com")
	if err != nil {
		t.Fatalf("AssignDevice: %v", err)
	}
	if result.Link.State != tracking.LinkUnlinked {
		t.Fatalf("link state = %s, want %s", result.Link.State, tracking.LinkUnlinked)
	}
	if store.units["unit-1"].DeviceIdent != "" || store.units["unit-1"].DeviceRef != "" {
		t.Errorf("link not cleared: ident=%q ref=%q", store.units["unit-1"].DeviceIdent, store.units["unit-1"].DeviceRef)
	}
	if n := platform.totalCalls(); n != 0 {
		t.Errorf("platform calls = %d, want 0 on unassign", n)
	}
	if len(auditLog.entries) != 1 || auditLog.entries[0].Action != "unassign_device" {
		t.Errorf("unexpected activity entries: %+v", auditLog.entries)
	}
}

func TestAssignDeviceUnknownUnit(t *testing.T) {
	svc, _ := NewReconcileService(newStubUnitStore(), newStubPlatform())
	if _, err := svc.AssignDevice(context.Background(), "missing", "123456789012345", "staff@example.com"); !errors.Is(err, ErrUnitNotFound) {
		t.Fatalf("got %v, want ErrUnitNotFound", err)
	}
}

func TestEnsureDeviceReresolvesStaleRef(t *testing.T) {
	unit := newTestUnit("unit-1", "U-001")
	unit.DeviceIdent = "123456789012345"
	unit.DeviceRef = "404404" // no longer registered on the platform
	platform := newStubPlatform()
	platform.devices["123456789012345"] = "888"
	platform.existing["888"] = true
	store := newStubUnitStore(unit)
	svc, _ := NewReconcileService(store, platform)

	ref, err := svc.EnsureDevice(context.Background(), unit)
	if err != nil {
		t.Fatalf("EnsureDevice: %v", err)
	}
	if ref != "888" {
		t.Fatalf("ref = %q, want re-resolved 888", ref)
	}
	if store.units["unit-1"].DeviceRef != "888" {
		t.Errorf("persisted ref = %q, want 888", store.units["unit-1"].DeviceRef)
	}
}
