package tracking

import "time"

// PositionSample is a single GPS fix for a tracked unit. Samples come from
// live platform telemetry, historical platform messages, or imported rows.
// They have no identity beyond (unit, timestamp) and are never mutated.
type PositionSample struct {
	Latitude  float64
	Longitude float64
	Speed     float64
	Timestamp int64 // seconds since epoch

	Direction  *float64
	Altitude   *float64
	HDOP       *float64
	Satellites *int
	Battery    *float64

	Valid bool
}

// Time returns the sample timestamp as a time.Time in UTC.
func (s PositionSample) Time() time.Time {
	return time.Unix(s.Timestamp, 0).UTC()
}

// StoredPosition is a PositionSample persisted against a unit. Stored
// positions form the retention-bounded fallback archive used when the
// platform has no data for a unit.
type StoredPosition struct {
	UnitID    string
	Latitude  float64
	Longitude float64
	Speed     float64
	Timestamp time.Time
	CreatedAt time.Time
}

// Sample converts a stored position back into a PositionSample.
func (p StoredPosition) Sample() PositionSample {
	return PositionSample{
		Latitude:  p.Latitude,
		Longitude: p.Longitude,
		Speed:     p.Speed,
		Timestamp: p.Timestamp.Unix(),
		Valid:     true,
	}
}

// ResolvedPosition is a best-effort current position for a unit together
// with the tier that produced it.
type ResolvedPosition struct {
	Sample PositionSample
	Source PositionSource
}

// PositionSource identifies the resolution tier that produced a position.
type PositionSource string

const (
	SourceTelemetry PositionSource = "telemetry"
	SourceHistory   PositionSource = "history"
	SourceStored    PositionSource = "stored"
)
