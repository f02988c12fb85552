package http

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	fleet "fleetrental-cloud/internal/fleet/domain"
	trackingapp "fleetrental-cloud/internal/tracking/application"
	tracking "fleetrental-cloud/internal/tracking/domain"
)

// fakePlatform serves one registered device with live telemetry.
type fakePlatform struct {
	sample tracking.PositionSample
}

func (p *fakePlatform) CheckConnectivity(ctx context.Context) bool { return true }

func (p *fakePlatform) FindDeviceRefByIdent(ctx context.Context, ident string) (string, bool, error) {
	if ident == "123456789012345" {
		return "777", true, nil
	}
	return "", false, nil
}

func (p *fakePlatform) DeviceExists(ctx context.Context, ref string) (bool, error) {
	return ref == "777", nil
}

func (p *fakePlatform) CreateDevice(ctx context.Context, name, ident string, deviceTypeID int) (string, error) {
	return "777", nil
}

func (p *fakePlatform) DeleteDevice(ctx context.Context, ref string) error { return nil }

func (p *fakePlatform) CountDevices(ctx context.Context) (int, error) { return 1, nil }

func (p *fakePlatform) GetTelemetry(ctx context.Context, ref string) (*tracking.PositionSample, error) {
	if ref == "777" {
		sample := p.sample
		return &sample, nil
	}
	return nil, nil
}

func (p *fakePlatform) GetAllTelemetry(ctx context.Context, refs []string) map[string]tracking.PositionSample {
	out := make(map[string]tracking.PositionSample)
	for _, ref := range refs {
		if ref == "777" {
			out[ref] = p.sample
		}
	}
	return out
}

func (p *fakePlatform) GetLatestPosition(ctx context.Context, ref string) (*tracking.PositionSample, error) {
	return nil, nil
}

func (p *fakePlatform) GetHistory(ctx context.Context, ref string, window time.Duration) []tracking.PositionSample {
	if ref == "777" {
		return []tracking.PositionSample{p.sample}
	}
	return nil
}

// fakeUnits serves a single linked unit.
type fakeUnits struct {
	unit fleet.Unit
}

func (s *fakeUnits) Get(ctx context.Context, id string) (*fleet.Unit, error) {
	if id == s.unit.ID {
		u := s.unit
		return &u, nil
	}
	return nil, nil
}

func (s *fakeUnits) ListLinked(ctx context.Context) ([]fleet.Unit, error) {
	return []fleet.Unit{s.unit}, nil
}

func (s *fakeUnits) UpdateDeviceLink(ctx context.Context, id, ident, ref string) error {
	s.unit.DeviceIdent = ident
	s.unit.DeviceRef = ref
	return nil
}

type fakePositions struct {
	rows []tracking.StoredPosition
}

func (s *fakePositions) Insert(ctx context.Context, p tracking.StoredPosition) error {
	s.rows = append(s.rows, p)
	return nil
}

func (s *fakePositions) LatestByUnit(ctx context.Context, unitID string) (*tracking.StoredPosition, error) {
	return nil, nil
}

func (s *fakePositions) ListByUnit(ctx context.Context, unitID string, since time.Time) ([]tracking.StoredPosition, error) {
	return nil, nil
}

func (s *fakePositions) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

func newTestHandler(t *testing.T) (*Handler, *fakePositions) {
	t.Helper()
	platform := &fakePlatform{sample: tracking.PositionSample{
		Latitude:  14.5995,
		Longitude: 120.9842,
		Speed:     42,
		Timestamp: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC).Unix(),
		Valid:     true,
	}}
	units := &fakeUnits{unit: fleet.Unit{
		ID:          "unit-1",
		Code:        "U-001",
		Status:      fleet.StatusInUse,
		DeviceIdent: "123456789012345",
		DeviceRef:   "777",
	}}
	positions := &fakePositions{}
	cfg := trackingapp.Config{HistoryWindowHours: 24, CacheTTLSeconds: 300, RetentionDays: 180, MaxImportRows: 1000}

	reconcile, err := trackingapp.NewReconcileService(units, platform)
	if err != nil {
		t.Fatalf("NewReconcileService: %v", err)
	}
	resolver, err := trackingapp.NewPositionService(units, platform, positions, cfg)
	if err != nil {
		t.Fatalf("NewPositionService: %v", err)
	}
	importer, err := trackingapp.NewImporter(units, positions, cfg)
	if err != nil {
		t.Fatalf("NewImporter: %v", err)
	}
	handler, err := NewHandler(reconcile, resolver, importer, nil)
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}
	return handler, positions
}

func TestLiveEndpoint(t *testing.T) {
	handler, _ := newTestHandler(t)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/units/live", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	var payload struct {
		Success bool           `json:"success"`
		Units   []liveUnitJSON `json:"units"`
		Count   int            `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !payload.Success || payload.Count != 1 || len(payload.Units) != 1 {
		t.Fatalf("payload = %+v, want success with one unit", payload)
	}
	got := payload.Units[0]
	if got.UnitID != "unit-1" || got.Source != "telemetry" {
		t.Errorf("unit = %+v, want unit-1 from telemetry", got)
	}
	if got.Latitude != 14.5995 {
		t.Errorf("latitude = %v, want 14.5995", got.Latitude)
	}
}

func TestAssignDeviceEndpoint(t *testing.T) {
	handler, _ := newTestHandler(t)
	body := strings.NewReader(`{"unit_id":"unit-1","device_ident":"123456789012345"}`)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/units/assign-device", body))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	var resp assignDeviceResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Success || resp.LinkState != "linked" || resp.DeviceRef != "777" {
		t.Errorf("response = %+v, want success linked/777", resp)
	}
	if resp.OfflineMode {
		t.Errorf("offline_mode = true for a confirmed platform link")
	}
}

func TestAssignDeviceRejectsBadIdent(t *testing.T) {
	handler, _ := newTestHandler(t)
	body := strings.NewReader(`{"unit_id":"unit-1","device_ident":"12ab"}`)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/units/assign-device", body))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	var resp struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Success || resp.Error == "" {
		t.Errorf("response = %+v, want success=false with an error message", resp)
	}
}

func TestHistoryEndpointValidatesHours(t *testing.T) {
	handler, _ := newTestHandler(t)
	for _, raw := range []string{"0", "-3", "721", "abc"} {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/units/unit-1/history?hours="+raw, nil))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("hours=%q: status = %d, want 400", raw, rec.Code)
		}
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/units/unit-1/history?hours=48", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	var payload struct {
		Hours     int            `json:"hours"`
		Positions []positionJSON `json:"positions"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.Hours != 48 || len(payload.Positions) != 1 {
		t.Errorf("payload = %+v, want hours=48 with one sample", payload)
	}
}

func TestImportEndpoint(t *testing.T) {
	handler, positions := newTestHandler(t)

	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	part, err := form.CreateFormFile("csv_file", "history.csv")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	_, _ = part.Write([]byte("timestamp,latitude,longitude,speed\n2026-01-05 08:00:00,14.5,120.9,30\nbad-row,x,y,z\n"))
	_ = form.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/units/unit-1/positions/import", &buf)
	req.Header.Set("Content-Type", form.FormDataContentType())
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	var result struct {
		Success bool `json:"success"`
		Added   int  `json:"added"`
		Skipped int  `json:"skipped"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !result.Success || result.Added != 1 || result.Skipped != 1 {
		t.Errorf("result = %+v, want added=1 skipped=1", result)
	}
	if len(positions.rows) != 1 {
		t.Errorf("stored rows = %d, want 1", len(positions.rows))
	}
}

func TestUnknownSubpath(t *testing.T) {
	handler, _ := newTestHandler(t)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/units/unit-1/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}
