package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"fleetrental-cloud/internal/audit"
	"fleetrental-cloud/internal/auth"
	trackingapp "fleetrental-cloud/internal/tracking/application"
	tracking "fleetrental-cloud/internal/tracking/domain"
)

const maxHistoryHours = 720 // 30 days

// Handler provides unit tracking HTTP endpoints:
//
//	POST /api/v1/units/assign-device
//	GET  /api/v1/units/live
//	GET  /api/v1/units/{id}/position
//	GET  /api/v1/units/{id}/history?hours=24
//	POST /api/v1/units/{id}/positions/import
type Handler struct {
	reconcile   *trackingapp.ReconcileService
	positions   *trackingapp.PositionService
	importer    *trackingapp.Importer
	auditLogger audit.Logger
}

// NewHandler constructs a tracking handler.
func NewHandler(reconcile *trackingapp.ReconcileService, positions *trackingapp.PositionService, importer *trackingapp.Importer, auditLogger audit.Logger) (*Handler, error) {
	if reconcile == nil {
		return nil, errors.New("tracking handler: nil reconcile service")
	}
	if positions == nil {
		return nil, errors.New("tracking handler: nil position service")
	}
	if importer == nil {
		return nil, errors.New("tracking handler: nil importer")
	}
	return &Handler{
		reconcile:   reconcile,
		positions:   positions,
		importer:    importer,
		auditLogger: auditLogger,
	}, nil
}

// ServeHTTP dispatches on the subpath under /api/v1/units.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/units")
	path = strings.Trim(path, "/")

	switch {
	case path == "assign-device" && r.Method == http.MethodPost:
		h.handleAssignDevice(w, r)
		return
	case path == "live" && r.Method == http.MethodGet:
		h.handleLive(w, r)
		return
	}

	parts := strings.Split(path, "/")
	if len(parts) >= 2 {
		unitID := parts[0]
		switch {
		case len(parts) == 2 && parts[1] == "position" && r.Method == http.MethodGet:
			h.handlePosition(w, r, unitID)
			return
		case len(parts) == 2 && parts[1] == "history" && r.Method == http.MethodGet:
			h.handleHistory(w, r, unitID)
			return
		case len(parts) == 3 && parts[1] == "positions" && parts[2] == "import" && r.Method == http.MethodPost:
			h.handleImport(w, r, unitID)
			return
		}
	}
	http.NotFound(w, r)
}

type assignDeviceRequest struct {
	UnitID string `json:"unit_id"`
	Ident  string `json:"device_ident"`
}

type assignDeviceResponse struct {
	Success     bool   `json:"success"`
	Message     string `json:"message,omitempty"`
	LinkState   string `json:"link_state"`
	DeviceRef   string `json:"device_ref,omitempty"`
	DeviceIdent string `json:"device_ident,omitempty"`
	OfflineMode bool   `json:"offline_mode"`
	Warning     string `json:"warning,omitempty"`
}

func (h *Handler) handleAssignDevice(w http.ResponseWriter, r *http.Request) {
	var req assignDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	defer r.Body.Close()
	if req.UnitID == "" {
		writeError(w, http.StatusBadRequest, "unit_id required")
		return
	}

	result, err := h.reconcile.AssignDevice(r.Context(), req.UnitID, strings.TrimSpace(req.Ident), auth.SubjectFromContext(r.Context()))
	if err != nil {
		switch {
		case errors.Is(err, trackingapp.ErrInvalidIdent):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, trackingapp.ErrUnitNotFound):
			writeError(w, http.StatusNotFound, "unit not found")
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	message := "device assigned"
	switch result.Link.State {
	case tracking.LinkUnlinked:
		message = "device unassigned"
	case tracking.LinkLinkedOffline:
		message = "device recorded in offline mode"
	}
	writeJSON(w, assignDeviceResponse{
		Success:     true,
		Message:     message,
		LinkState:   string(result.Link.State),
		DeviceRef:   result.Link.DeviceRef,
		DeviceIdent: result.Unit.DeviceIdent,
		OfflineMode: result.Link.State == tracking.LinkLinkedOffline,
		Warning:     result.Warning,
	})
}

type positionJSON struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Speed     float64 `json:"speed"`
	Timestamp int64   `json:"timestamp"`
	Datetime  string  `json:"datetime"`
}

type liveUnitJSON struct {
	UnitID    string   `json:"unit_id"`
	UnitCode  string   `json:"unit_code"`
	Driver    string   `json:"driver,omitempty"`
	Source    string   `json:"source"`
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Speed     float64  `json:"speed"`
	Timestamp int64    `json:"timestamp"`
	Battery   *float64 `json:"battery,omitempty"`
	Direction *float64 `json:"direction,omitempty"`
}

func (h *Handler) handleLive(w http.ResponseWriter, r *http.Request) {
	resolved, err := h.positions.ResolveAll(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]liveUnitJSON, 0, len(resolved))
	for _, p := range resolved {
		out = append(out, toLiveUnitJSON(p))
	}
	writeJSON(w, map[string]any{
		"success": true,
		"units":   out,
		"count":   len(out),
	})
}

func (h *Handler) handlePosition(w http.ResponseWriter, r *http.Request, unitID string) {
	resolved, err := h.positions.ResolveUnit(r.Context(), unitID)
	if err != nil {
		switch {
		case errors.Is(err, trackingapp.ErrUnitNotFound):
			writeError(w, http.StatusNotFound, "unit not found")
		case errors.Is(err, trackingapp.ErrNoDeviceLinked), errors.Is(err, trackingapp.ErrNoPositionData):
			writeError(w, http.StatusNotFound, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, map[string]any{
		"success":   true,
		"unit_id":   resolved.UnitID,
		"unit_code": resolved.UnitCode,
		"driver":    resolved.Driver,
		"source":    string(resolved.Source),
		"position":  toPositionJSON(resolved.Sample),
	})
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request, unitID string) {
	hours := 24
	if raw := r.URL.Query().Get("hours"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > maxHistoryHours {
			writeError(w, http.StatusBadRequest, "hours must be an integer between 1 and 720")
			return
		}
		hours = parsed
	}

	samples, err := h.positions.History(r.Context(), unitID, time.Duration(hours)*time.Hour)
	if err != nil {
		switch {
		case errors.Is(err, trackingapp.ErrUnitNotFound):
			writeError(w, http.StatusNotFound, "unit not found")
		case errors.Is(err, trackingapp.ErrNoDeviceLinked):
			writeError(w, http.StatusNotFound, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	out := make([]positionJSON, 0, len(samples))
	for _, s := range samples {
		out = append(out, toPositionJSON(s))
	}
	writeJSON(w, map[string]any{
		"success":   true,
		"unit_id":   unitID,
		"hours":     hours,
		"positions": out,
	})
}

func (h *Handler) handleImport(w http.ResponseWriter, r *http.Request, unitID string) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "multipart form required")
		return
	}
	file, _, err := r.FormFile("csv_file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "csv_file field required")
		return
	}
	defer file.Close()

	result, err := h.importer.Import(r.Context(), unitID, file)
	if err != nil {
		switch {
		case errors.Is(err, trackingapp.ErrUnitNotFound):
			writeError(w, http.StatusNotFound, "unit not found")
		case errors.Is(err, trackingapp.ErrMissingColumns):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			writeError(w, http.StatusBadRequest, err.Error())
		}
		return
	}

	h.logImport(r, unitID, result)
	writeJSON(w, map[string]any{
		"success": true,
		"added":   result.Added,
		"skipped": result.Skipped,
	})
}

func (h *Handler) logImport(r *http.Request, unitID string, result trackingapp.ImportResult) {
	if h.auditLogger == nil {
		return
	}
	meta, _ := json.Marshal(result)
	_ = h.auditLogger.Log(r.Context(), audit.Entry{
		Actor:        auth.SubjectFromContext(r.Context()),
		Role:         string(auth.RoleFromContext(r.Context())),
		Action:       "import_positions",
		ResourceType: "unit",
		ResourceID:   unitID,
		Metadata:     meta,
		IP:           audit.ClientIP(r),
		UserAgent:    r.UserAgent(),
	})
}

func toLiveUnitJSON(p trackingapp.UnitPosition) liveUnitJSON {
	return liveUnitJSON{
		UnitID:    p.UnitID,
		UnitCode:  p.UnitCode,
		Driver:    p.Driver,
		Source:    string(p.Source),
		Latitude:  p.Sample.Latitude,
		Longitude: p.Sample.Longitude,
		Speed:     p.Sample.Speed,
		Timestamp: p.Sample.Timestamp,
		Battery:   p.Sample.Battery,
		Direction: p.Sample.Direction,
	}
}

func toPositionJSON(s tracking.PositionSample) positionJSON {
	return positionJSON{
		Latitude:  s.Latitude,
		Longitude: s.Longitude,
		Speed:     s.Speed,
		Timestamp: s.Timestamp,
		Datetime:  s.Time().Format(time.RFC3339),
	}
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success": false,
		"error":   message,
	})
}

// DiagnosticsHandler provides GET /api/v1/flespi/diagnostics.
type DiagnosticsHandler struct {
	diagnostics *trackingapp.DiagnosticsService
}

// NewDiagnosticsHandler constructs a diagnostics handler.
func NewDiagnosticsHandler(diagnostics *trackingapp.DiagnosticsService) (*DiagnosticsHandler, error) {
	if diagnostics == nil {
		return nil, errors.New("diagnostics handler: nil service")
	}
	return &DiagnosticsHandler{diagnostics: diagnostics}, nil
}

// ServeHTTP runs the diagnostic checklist. An optional ident query
// parameter additionally checks one identifier against the registry.
func (h *DiagnosticsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	ident := strings.TrimSpace(r.URL.Query().Get("ident"))
	if ident != "" && !tracking.ValidIdent(ident) {
		writeError(w, http.StatusBadRequest, "ident must be 8-16 digits")
		return
	}
	report := h.diagnostics.Run(r.Context(), ident)
	writeJSON(w, report)
}
