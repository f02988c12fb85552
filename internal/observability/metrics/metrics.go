package metrics

import (
	"database/sql"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "fleetrental_"

	resultSuccess = "success"
	resultError   = "error"
)

var (
	registerOnce sync.Once

	platformRequests *prometheus.CounterVec
	platformLatency  *prometheus.HistogramVec

	positionResolutions *prometheus.CounterVec
	historyCacheLookups *prometheus.CounterVec

	deviceAssignments *prometheus.CounterVec

	importRows *prometheus.CounterVec

	remittanceOps *prometheus.CounterVec

	refreshRuns    *prometheus.CounterVec
	refreshLatency prometheus.Histogram
)

// Init registers observability metrics and DB-backed gauges.
func Init(db *sql.DB, logger *log.Logger) {
	registerOnce.Do(func() {
		platformRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "platform_requests_total",
				Help: "Total telemetry platform API calls by operation and result",
			},
			[]string{"operation", "result"},
		)
		platformLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "platform_latency_seconds",
				Help:    "Telemetry platform API call latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		)

		positionResolutions = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "position_resolutions_total",
				Help: "Position resolutions by source tier",
			},
			[]string{"source"},
		)
		historyCacheLookups = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "history_cache_lookups_total",
				Help: "History cache lookups by outcome",
			},
			[]string{"outcome"},
		)

		deviceAssignments = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "device_assignments_total",
				Help: "Device assignment operations by outcome",
			},
			[]string{"outcome"},
		)

		importRows = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "import_rows_total",
				Help: "Imported position rows by outcome",
			},
			[]string{"outcome"},
		)

		remittanceOps = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "remittance_operations_total",
				Help: "Remittance ledger operations by kind and result",
			},
			[]string{"kind", "result"},
		)

		refreshRuns = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "position_refresh_runs_total",
				Help: "Scheduled position refresh runs by result",
			},
			[]string{"result"},
		)
		refreshLatency = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "position_refresh_latency_seconds",
				Help:    "Scheduled position refresh latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
		)

		prometheus.MustRegister(
			platformRequests,
			platformLatency,
			positionResolutions,
			historyCacheLookups,
			deviceAssignments,
			importRows,
			remittanceOps,
			refreshRuns,
			refreshLatency,
		)

		registerDBGauges(db, logger)
	})
}

// ObservePlatformCall records an outbound platform API call.
func ObservePlatformCall(operation string, err error, elapsed time.Duration) {
	if platformRequests == nil {
		return
	}
	result := resultSuccess
	if err != nil {
		result = resultError
	}
	platformRequests.WithLabelValues(operation, result).Inc()
	platformLatency.WithLabelValues(operation).Observe(elapsed.Seconds())
}

// ObservePositionResolution records the source tier that satisfied a resolution.
func ObservePositionResolution(source string) {
	if positionResolutions == nil {
		return
	}
	positionResolutions.WithLabelValues(source).Inc()
}

// ObserveHistoryCache records a cache hit or miss.
func ObserveHistoryCache(hit bool) {
	if historyCacheLookups == nil {
		return
	}
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	historyCacheLookups.WithLabelValues(outcome).Inc()
}

// ObserveDeviceAssignment records an assignment outcome
// (linked, linked_offline, unassigned, rejected).
func ObserveDeviceAssignment(outcome string) {
	if deviceAssignments == nil {
		return
	}
	deviceAssignments.WithLabelValues(outcome).Inc()
}

// ObserveImportRows records imported vs skipped rows.
func ObserveImportRows(added, skipped int) {
	if importRows == nil {
		return
	}
	importRows.WithLabelValues("added").Add(float64(added))
	importRows.WithLabelValues("skipped").Add(float64(skipped))
}

// ObserveRemittanceOp records a ledger operation.
func ObserveRemittanceOp(kind string, err error) {
	if remittanceOps == nil {
		return
	}
	result := resultSuccess
	if err != nil {
		result = resultError
	}
	remittanceOps.WithLabelValues(kind, result).Inc()
}

// ObserveRefreshRun records a scheduled refresh run.
func ObserveRefreshRun(err error, elapsed time.Duration) {
	if refreshRuns == nil {
		return
	}
	result := resultSuccess
	if err != nil {
		result = resultError
	}
	refreshRuns.WithLabelValues(result).Inc()
	refreshLatency.Observe(elapsed.Seconds())
}

func registerDBGauges(db *sql.DB, logger *log.Logger) {
	if db == nil {
		return
	}
	register := func(name, help, query string) {
		gauge := prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Name: metricPrefix + name, Help: help},
			func() float64 {
				var count float64
				if err := db.QueryRow(query).Scan(&count); err != nil {
					if logger != nil {
						logger.Printf("metrics gauge %s query error: %v", name, err)
					}
					return 0
				}
				return count
			},
		)
		prometheus.MustRegister(gauge)
	}

	register("units_linked", "Units with a platform device reference",
		`SELECT COUNT(*) FROM units WHERE device_ref IS NOT NULL AND device_ref <> ''`)
	register("stored_positions", "Locally stored position samples",
		`SELECT COUNT(*) FROM device_positions`)
}
