package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"fleetrental-cloud/internal/audit"
	"fleetrental-cloud/internal/auth"
	fleetapp "fleetrental-cloud/internal/fleet/application"
	fleetrepo "fleetrental-cloud/internal/fleet/infrastructure/postgres"
	fleethttp "fleetrental-cloud/internal/fleet/interfaces/http"
	"fleetrental-cloud/internal/flespi"
	"fleetrental-cloud/internal/observability/metrics"
	rentalapp "fleetrental-cloud/internal/rental/application"
	rentalrepo "fleetrental-cloud/internal/rental/infrastructure/postgres"
	rentalhttp "fleetrental-cloud/internal/rental/interfaces/http"
	trackingapp "fleetrental-cloud/internal/tracking/application"
	trackingrepo "fleetrental-cloud/internal/tracking/infrastructure/postgres"
	trackinghttp "fleetrental-cloud/internal/tracking/interfaces/http"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfg := loadConfig()
	logger := log.New(os.Stdout, "", log.LstdFlags)

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("db open error: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		logger.Fatalf("db ping error: %v", err)
	}

	metrics.Init(db, logger)
	auditRepo := audit.NewRepository(db)

	trackingCfg, err := trackingapp.LoadConfig()
	if err != nil {
		logger.Fatalf("tracking config error: %v", err)
	}

	unitRepo := fleetrepo.NewUnitRepository(db)
	driverRepo := fleetrepo.NewDriverRepository(db)
	positionRepo := trackingrepo.NewPositionRepository(db)
	ledgerRepo := rentalrepo.NewLedgerRepository(db)

	platform, err := flespi.NewClient(cfg.FlespiBaseURL, cfg.FlespiToken, flespi.WithLogger(logger))
	if err != nil {
		logger.Fatalf("platform client error: %v", err)
	}

	reconcileService, err := trackingapp.NewReconcileService(unitRepo, platform,
		trackingapp.WithAuditLogger(auditRepo),
		trackingapp.WithReconcileLogger(logger),
		trackingapp.WithDeviceTypeID(trackingCfg.DeviceTypeID),
	)
	if err != nil {
		logger.Fatalf("reconcile service error: %v", err)
	}
	positionService, err := trackingapp.NewPositionService(unitRepo, platform, positionRepo, trackingCfg,
		trackingapp.WithPositionLogger(logger))
	if err != nil {
		logger.Fatalf("position service error: %v", err)
	}
	importer, err := trackingapp.NewImporter(unitRepo, positionRepo, trackingCfg,
		trackingapp.WithImportLogger(logger))
	if err != nil {
		logger.Fatalf("importer error: %v", err)
	}
	diagnosticsService, err := trackingapp.NewDiagnosticsService(platform, cfg.FlespiToken,
		trackingapp.WithDiagnosticsLogger(logger))
	if err != nil {
		logger.Fatalf("diagnostics service error: %v", err)
	}

	fleetService, err := fleetapp.NewService(unitRepo, driverRepo,
		fleetapp.WithAuditLogger(auditRepo), fleetapp.WithLogger(logger))
	if err != nil {
		logger.Fatalf("fleet service error: %v", err)
	}
	rentalService, err := rentalapp.NewService(ledgerRepo, driverRepo,
		rentalapp.WithAuditLogger(auditRepo), rentalapp.WithLogger(logger))
	if err != nil {
		logger.Fatalf("rental service error: %v", err)
	}

	trackingHandler, err := trackinghttp.NewHandler(reconcileService, positionService, importer, auditRepo)
	if err != nil {
		logger.Fatalf("tracking handler error: %v", err)
	}
	diagnosticsHandler, err := trackinghttp.NewDiagnosticsHandler(diagnosticsService)
	if err != nil {
		logger.Fatalf("diagnostics handler error: %v", err)
	}
	fleetHandler, err := fleethttp.NewHandler(fleetService)
	if err != nil {
		logger.Fatalf("fleet handler error: %v", err)
	}
	rentalHandler, err := rentalhttp.NewHandler(rentalService)
	if err != nil {
		logger.Fatalf("rental handler error: %v", err)
	}

	startRefreshLoops(positionService, trackingCfg, logger)

	policy := auth.NewDefaultPolicy([]string{"/healthz", "/metrics"}, nil)
	authMiddleware := auth.NewMiddleware([]byte(cfg.JWTSecret), policy)

	mux := http.NewServeMux()
	mux.Handle("/api/v1/units", fleetHandler)
	mux.Handle("/api/v1/units/", unitsDispatch(trackingHandler, fleetHandler))
	mux.Handle("/api/v1/drivers", fleetHandler)
	mux.Handle("/api/v1/drivers/", fleetHandler)
	mux.Handle("/api/v1/remittances", rentalHandler)
	mux.Handle("/api/v1/remittances/", rentalHandler)
	mux.Handle("/api/v1/flespi/diagnostics", diagnosticsHandler)
	mux.Handle("/api/v1/activity-logs", audit.NewRecentHandler(auditRepo))
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{Addr: cfg.HTTPAddr, Handler: loggingMiddleware(authMiddleware.Wrap(mux), logger)}
	logger.Printf("http listening on %s", cfg.HTTPAddr)
	logger.Fatal(server.ListenAndServe())
}

// unitsDispatch splits /api/v1/units/ between the tracking endpoints and
// the fleet registry, which share the prefix.
func unitsDispatch(tracking, fleet http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/units"), "/")
		parts := strings.Split(rest, "/")
		switch {
		case rest == "assign-device" || rest == "live":
			tracking.ServeHTTP(w, r)
		case len(parts) >= 2 && (parts[1] == "position" || parts[1] == "history" || parts[1] == "positions"):
			tracking.ServeHTTP(w, r)
		default:
			fleet.ServeHTTP(w, r)
		}
	})
}

// startRefreshLoops launches the background position refresh and the
// stored-position retention purge.
func startRefreshLoops(positions *trackingapp.PositionService, cfg trackingapp.Config, logger *log.Logger) {
	refreshEvery, err := time.ParseDuration(cfg.RefreshInterval)
	if err != nil || refreshEvery <= 0 {
		refreshEvery = 5 * time.Minute
	}
	purgeEvery, err := time.ParseDuration(cfg.PurgeInterval)
	if err != nil || purgeEvery <= 0 {
		purgeEvery = 24 * time.Hour
	}

	go func() {
		ticker := time.NewTicker(refreshEvery)
		defer ticker.Stop()
		for range ticker.C {
			if err := positions.RefreshAll(context.Background()); err != nil {
				logger.Printf("position refresh error: %v", err)
			}
		}
	}()
	go func() {
		ticker := time.NewTicker(purgeEvery)
		defer ticker.Stop()
		for range ticker.C {
			removed, err := positions.PurgeOlderThan(context.Background(), cfg.Retention())
			if err != nil {
				logger.Printf("position purge error: %v", err)
				continue
			}
			if removed > 0 {
				logger.Printf("position purge removed %d rows", removed)
			}
		}
	}()
}

type config struct {
	DatabaseURL   string
	HTTPAddr      string
	FlespiBaseURL string
	FlespiToken   string
	JWTSecret     string
}

func loadConfig() config {
	cfg := config{
		DatabaseURL:   getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", "")),
		HTTPAddr:      getenvDefault("HTTP_ADDR", ":8080"),
		FlespiBaseURL: getenvDefault("FLESPI_BASE_URL", ""),
		FlespiToken:   getenvDefault("FLESPI_TOKEN", ""),
		JWTSecret:     getenvDefault("AUTH_JWT_SECRET", getenvDefault("JWT_SECRET", "")),
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL or PG_DSN is required")
	}
	if cfg.FlespiToken == "" {
		log.Fatal("FLESPI_TOKEN is required")
	}
	if cfg.JWTSecret == "" {
		log.Fatal("AUTH_JWT_SECRET is required")
	}
	return cfg
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func loggingMiddleware(next http.Handler, logger *log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.Printf("http %s %s %d %s", r.Method, r.URL.Path, resp.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
