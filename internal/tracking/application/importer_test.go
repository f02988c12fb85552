package application

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	fleet "fleetrental-cloud/internal/fleet/domain"
)

func newTestImporter(t *testing.T, positions *stubPositions) *Importer {
	t.Helper()
	store := newStubUnitStore(&fleet.Unit{ID: "unit-1", Code: "U-001", Status: fleet.StatusInUse})
	imp, err := NewImporter(store, positions, testConfig())
	if err != nil {
		t.Fatalf("NewImporter: %v", err)
	}
	return imp
}

func TestImportCountsAddedAndSkipped(t *testing.T) {
	csv := strings.Join([]string{
		"timestamp,latitude,longitude,speed",
		"2026-01-05 08:00:00,14.5995,120.9842,35.5",
		"2026-01-05 08:05:00,14.6000,120.9850,", // empty speed defaults to 0
		"2026-01-05 08:10:00,95.0,120.9860,10",  // latitude out of range
		"2026-01-05 08:15:00,abc,120.9870,10",   // latitude not a number
		"1736065200,14.6010,120.9880,12",        // epoch seconds
	}, "\n")

	positions := &stubPositions{}
	imp := newTestImporter(t, positions)
	result, err := imp.Import(context.Background(), "unit-1", strings.NewReader(csv))
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if result.Added != 3 || result.Skipped != 2 {
		t.Fatalf("result = %+v, want added=3 skipped=2", result)
	}
	if len(positions.rows) != 3 {
		t.Fatalf("stored rows = %d, want 3", len(positions.rows))
	}
	for _, row := range positions.rows {
		if row.UnitID != "unit-1" {
			t.Errorf("row unit = %s, want unit-1", row.UnitID)
		}
	}
}

func TestImportTimestampFormats(t *testing.T) {
	cases := []struct {
		raw  string
		want time.Time
	}{
		{"2026-01-05 08:00:00", time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC)},
		{"2026/01/05 08:00:00", time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC)},
		{"01/05/2026 08:00:00", time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC)},
		{"1736064000", time.Date(2025, 1, 5, 8, 0, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		got, ok := parseTimestamp(tc.raw)
		if !ok {
			t.Errorf("parseTimestamp(%q) failed", tc.raw)
			continue
		}
		if !got.Equal(tc.want) {
			t.Errorf("parseTimestamp(%q) = %v, want %v", tc.raw, got, tc.want)
		}
	}
	for _, raw := range []string{"", "not-a-date", "-100", "0"} {
		if _, ok := parseTimestamp(raw); ok {
			t.Errorf("parseTimestamp(%q) accepted, want rejection", raw)
		}
	}
}

func TestImportAmbiguousDateUsesMonthFirst(t *testing.T) {
	// 03/04 parses as March 4 because month-day layouts are tried first.
	got, ok := parseTimestamp("03/04/2026 00:00:00")
	if !ok {
		t.Fatal("parseTimestamp failed")
	}
	if got.Month() != time.March || got.Day() != 4 {
		t.Errorf("got %v, want March 4", got)
	}
	// Day-first still covers dates impossible month-first.
	got, ok = parseTimestamp("25/04/2026 00:00:00")
	if !ok {
		t.Fatal("parseTimestamp failed for day-first date")
	}
	if got.Month() != time.April || got.Day() != 25 {
		t.Errorf("got %v, want April 25", got)
	}
}

func TestImportRejectsMissingColumns(t *testing.T) {
	imp := newTestImporter(t, &stubPositions{})
	_, err := imp.Import(context.Background(), "unit-1", strings.NewReader("timestamp,latitude\n2026-01-05 08:00:00,14.5"))
	if !errors.Is(err, ErrMissingColumns) {
		t.Fatalf("got %v, want ErrMissingColumns", err)
	}
}

func TestImportUnknownUnit(t *testing.T) {
	imp := newTestImporter(t, &stubPositions{})
	_, err := imp.Import(context.Background(), "missing", strings.NewReader("timestamp,latitude,longitude\n"))
	if !errors.Is(err, ErrUnitNotFound) {
		t.Fatalf("got %v, want ErrUnitNotFound", err)
	}
}

func TestImportHeaderOrderIrrelevant(t *testing.T) {
	csv := "longitude,speed,timestamp,latitude\n120.9842,20,2026-01-05 08:00:00,14.5995\n"
	positions := &stubPositions{}
	imp := newTestImporter(t, positions)
	result, err := imp.Import(context.Background(), "unit-1", strings.NewReader(csv))
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if result.Added != 1 || result.Skipped != 0 {
		t.Fatalf("result = %+v, want added=1", result)
	}
	if positions.rows[0].Latitude != 14.5995 || positions.rows[0].Longitude != 120.9842 {
		t.Errorf("row = %+v, columns mapped wrong", positions.rows[0])
	}
}

func TestImportRespectsRowLimit(t *testing.T) {
	var b strings.Builder
	b.WriteString("timestamp,latitude,longitude\n")
	for i := 0; i < 10; i++ {
		b.WriteString("2026-01-05 08:00:0")
		b.WriteByte(byte('0' + i))
		b.WriteString(",14.5,120.9\n")
	}

	cfg := testConfig()
	cfg.MaxImportRows = 4
	store := newStubUnitStore(&fleet.Unit{ID: "unit-1", Code: "U-001", Status: fleet.StatusInUse})
	imp, err := NewImporter(store, &stubPositions{}, cfg)
	if err != nil {
		t.Fatalf("NewImporter: %v", err)
	}
	result, err := imp.Import(context.Background(), "unit-1", strings.NewReader(b.String()))
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if result.Added != 4 {
		t.Errorf("added = %d, want 4 with the row cap", result.Added)
	}
}
