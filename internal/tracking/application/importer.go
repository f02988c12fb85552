package application

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"strconv"
	"strings"
	"time"

	"fleetrental-cloud/internal/observability/metrics"
	tracking "fleetrental-cloud/internal/tracking/domain"
)

// ErrMissingColumns is returned when the header lacks a required column.
var ErrMissingColumns = errors.New("tracking: csv missing required columns")

// timestampLayouts are tried in order before falling back to epoch seconds.
var timestampLayouts = []string{
	"2006-01-02 15:04:05",
	"2006/01/02 15:04:05",
	"01/02/2006 15:04:05",
	"02/01/2006 15:04:05",
}

// ImportResult counts the outcome of a position history import.
type ImportResult struct {
	Added   int `json:"added"`
	Skipped int `json:"skipped"`
}

// Importer loads historical position rows from CSV into the local store.
type Importer struct {
	units     UnitStore
	positions PositionRepository
	logger    *log.Logger
	maxRows   int
}

// ImportOption configures the importer.
type ImportOption func(*Importer)

// WithImportLogger attaches a diagnostic logger.
func WithImportLogger(logger *log.Logger) ImportOption {
	return func(i *Importer) {
		if logger != nil {
			i.logger = logger
		}
	}
}

// NewImporter constructs a CSV position importer. maxRows bounds a single
// upload; zero means the configured default.
func NewImporter(units UnitStore, positions PositionRepository, cfg Config, opts ...ImportOption) (*Importer, error) {
	if units == nil {
		return nil, errors.New("importer: nil unit store")
	}
	if positions == nil {
		return nil, errors.New("importer: nil position repository")
	}
	imp := &Importer{
		units:     units,
		positions: positions,
		logger:    log.New(io.Discard, "", 0),
		maxRows:   cfg.MaxImportRows,
	}
	for _, opt := range opts {
		opt(imp)
	}
	return imp, nil
}

// Import reads CSV rows from r and stores them as positions for the unit.
// The header must contain timestamp, latitude and longitude columns; speed
// is optional and defaults to zero. Malformed rows are skipped and counted,
// never aborting the rest of the file.
func (i *Importer) Import(ctx context.Context, unitID string, r io.Reader) (ImportResult, error) {
	var result ImportResult

	unit, err := i.units.Get(ctx, unitID)
	if err != nil {
		return result, err
	}
	if unit == nil {
		return result, ErrUnitNotFound
	}

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return result, fmt.Errorf("importer: read header: %w", err)
	}
	cols, err := columnIndex(header)
	if err != nil {
		return result, err
	}

	for {
		if i.maxRows > 0 && result.Added+result.Skipped >= i.maxRows {
			break
		}
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			result.Skipped++
			continue
		}
		stored, ok := i.parseRow(cols, record, unit.ID)
		if !ok {
			result.Skipped++
			continue
		}
		if err := i.positions.Insert(ctx, stored); err != nil {
			i.logger.Printf("import: unit %s insert failed: %v", unit.ID, err)
			result.Skipped++
			continue
		}
		result.Added++
	}

	metrics.ObserveImportRows(result.Added, result.Skipped)
	return result, nil
}

// columnMap holds the positions of recognized header columns.
type columnMap struct {
	timestamp int
	latitude  int
	longitude int
	speed     int
}

func columnIndex(header []string) (columnMap, error) {
	cols := columnMap{timestamp: -1, latitude: -1, longitude: -1, speed: -1}
	for idx, name := range header {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "timestamp":
			cols.timestamp = idx
		case "latitude":
			cols.latitude = idx
		case "longitude":
			cols.longitude = idx
		case "speed":
			cols.speed = idx
		}
	}
	if cols.timestamp < 0 || cols.latitude < 0 || cols.longitude < 0 {
		return cols, ErrMissingColumns
	}
	return cols, nil
}

func (i *Importer) parseRow(cols columnMap, record []string, unitID string) (tracking.StoredPosition, bool) {
	var stored tracking.StoredPosition
	if cols.timestamp >= len(record) || cols.latitude >= len(record) || cols.longitude >= len(record) {
		return stored, false
	}

	ts, ok := parseTimestamp(record[cols.timestamp])
	if !ok {
		return stored, false
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(record[cols.latitude]), 64)
	if err != nil || lat < -90 || lat > 90 {
		return stored, false
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(record[cols.longitude]), 64)
	if err != nil || lon < -180 || lon > 180 {
		return stored, false
	}

	var speed float64
	if cols.speed >= 0 && cols.speed < len(record) {
		if raw := strings.TrimSpace(record[cols.speed]); raw != "" {
			speed, err = strconv.ParseFloat(raw, 64)
			if err != nil || speed < 0 {
				return stored, false
			}
		}
	}

	stored = tracking.StoredPosition{
		UnitID:    unitID,
		Latitude:  lat,
		Longitude: lon,
		Speed:     speed,
		Timestamp: ts,
	}
	return stored, true
}

func parseTimestamp(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts.UTC(), true
		}
	}
	epoch, err := strconv.ParseFloat(raw, 64)
	if err != nil || epoch <= 0 || math.IsNaN(epoch) || math.IsInf(epoch, 0) {
		return time.Time{}, false
	}
	sec, frac := math.Modf(epoch)
	return time.Unix(int64(sec), int64(frac*float64(time.Second))).UTC(), true
}
