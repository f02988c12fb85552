package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"fleetrental-cloud/internal/auth"
	fleetapp "fleetrental-cloud/internal/fleet/application"
	fleet "fleetrental-cloud/internal/fleet/domain"
)

// Handler provides fleet registry HTTP endpoints:
//
//	GET/POST /api/v1/units
//	GET      /api/v1/units/{id}
//	POST     /api/v1/units/{id}/assign-driver
//	POST     /api/v1/units/{id}/status
//	GET/POST /api/v1/drivers
//	GET      /api/v1/drivers/{id}
type Handler struct {
	service *fleetapp.Service
}

// NewHandler constructs a fleet handler.
func NewHandler(service *fleetapp.Service) (*Handler, error) {
	if service == nil {
		return nil, errors.New("fleet handler: nil service")
	}
	return &Handler{service: service}, nil
}

// ServeHTTP dispatches on the /api/v1 subpath.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/")
	path = strings.Trim(path, "/")
	parts := strings.Split(path, "/")

	switch parts[0] {
	case "units":
		h.serveUnits(w, r, parts[1:])
	case "drivers":
		h.serveDrivers(w, r, parts[1:])
	default:
		http.NotFound(w, r)
	}
}

func (h *Handler) serveUnits(w http.ResponseWriter, r *http.Request, parts []string) {
	switch {
	case len(parts) == 0 || parts[0] == "":
		switch r.Method {
		case http.MethodGet:
			h.listUnits(w, r)
		case http.MethodPost:
			h.saveUnit(w, r)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	case len(parts) == 1 && r.Method == http.MethodGet:
		h.getUnit(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "assign-driver" && r.Method == http.MethodPost:
		h.assignDriver(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "status" && r.Method == http.MethodPost:
		h.updateStatus(w, r, parts[0])
	default:
		http.NotFound(w, r)
	}
}

func (h *Handler) serveDrivers(w http.ResponseWriter, r *http.Request, parts []string) {
	switch {
	case len(parts) == 0 || parts[0] == "":
		switch r.Method {
		case http.MethodGet:
			h.listDrivers(w, r)
		case http.MethodPost:
			h.saveDriver(w, r)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	case len(parts) == 1 && r.Method == http.MethodGet:
		h.getDriver(w, r, parts[0])
	default:
		http.NotFound(w, r)
	}
}

type unitJSON struct {
	ID          string `json:"id"`
	Code        string `json:"code"`
	Model       string `json:"model,omitempty"`
	MadeDate    string `json:"made_date,omitempty"`
	Status      string `json:"status"`
	DriverID    string `json:"driver_id,omitempty"`
	DriverName  string `json:"driver_name,omitempty"`
	DeviceIdent string `json:"device_ident,omitempty"`
	DeviceRef   string `json:"device_ref,omitempty"`
	LinkState   string `json:"link_state"`
	Notes       string `json:"notes,omitempty"`
}

func toUnitJSON(u fleet.Unit) unitJSON {
	out := unitJSON{
		ID:          u.ID,
		Code:        u.Code,
		Model:       u.Model,
		Status:      string(u.Status),
		DriverID:    u.DriverID,
		DriverName:  u.DriverName,
		DeviceIdent: u.DeviceIdent,
		DeviceRef:   u.DeviceRef,
		LinkState:   string(u.LinkState()),
		Notes:       u.Notes,
	}
	if !u.MadeDate.IsZero() {
		out.MadeDate = u.MadeDate.Format("2006-01-02")
	}
	return out
}

type driverJSON struct {
	ID      string  `json:"id"`
	Code    string  `json:"code"`
	Name    string  `json:"name"`
	Contact string  `json:"contact,omitempty"`
	Status  string  `json:"status"`
	Savings float64 `json:"savings"`
	Debt    float64 `json:"debt"`
}

func toDriverJSON(d fleet.Driver) driverJSON {
	return driverJSON{
		ID:      d.ID,
		Code:    d.Code,
		Name:    d.Name,
		Contact: d.Contact,
		Status:  string(d.Status),
		Savings: d.Savings,
		Debt:    d.Debt,
	}
}

func (h *Handler) listUnits(w http.ResponseWriter, r *http.Request) {
	units, err := h.service.ListUnits(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	out := make([]unitJSON, 0, len(units))
	for _, u := range units {
		out = append(out, toUnitJSON(u))
	}
	writeJSON(w, map[string]any{"units": out})
}

func (h *Handler) saveUnit(w http.ResponseWriter, r *http.Request) {
	var input fleetapp.UnitInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	unit, err := h.service.SaveUnit(r.Context(), input, auth.SubjectFromContext(r.Context()))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, toUnitJSON(*unit))
}

func (h *Handler) getUnit(w http.ResponseWriter, r *http.Request, id string) {
	unit, err := h.service.GetUnit(r.Context(), id)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	writeJSON(w, toUnitJSON(*unit))
}

func (h *Handler) assignDriver(w http.ResponseWriter, r *http.Request, unitID string) {
	var req struct {
		DriverID string `json:"driver_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	unit, err := h.service.AssignDriver(r.Context(), unitID, req.DriverID, auth.SubjectFromContext(r.Context()))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	writeJSON(w, toUnitJSON(*unit))
}

func (h *Handler) updateStatus(w http.ResponseWriter, r *http.Request, unitID string) {
	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	if err := h.service.UpdateUnitStatus(r.Context(), unitID, req.Status, auth.SubjectFromContext(r.Context())); err != nil {
		respondServiceError(w, err)
		return
	}
	writeJSON(w, map[string]any{
		"unit_id":    unitID,
		"status":     req.Status,
		"updated_at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) listDrivers(w http.ResponseWriter, r *http.Request) {
	drivers, err := h.service.ListDrivers(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	out := make([]driverJSON, 0, len(drivers))
	for _, d := range drivers {
		out = append(out, toDriverJSON(d))
	}
	writeJSON(w, map[string]any{"drivers": out})
}

func (h *Handler) saveDriver(w http.ResponseWriter, r *http.Request) {
	var input fleetapp.DriverInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	driver, err := h.service.SaveDriver(r.Context(), input, auth.SubjectFromContext(r.Context()))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, toDriverJSON(*driver))
}

func (h *Handler) getDriver(w http.ResponseWriter, r *http.Request, id string) {
	driver, err := h.service.GetDriver(r.Context(), id)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	writeJSON(w, toDriverJSON(*driver))
}

func respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, fleetapp.ErrUnitNotFound), errors.Is(err, fleetapp.ErrDriverNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, fleetapp.ErrInvalidStatus):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, err.Error(), http.StatusBadRequest)
	}
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}
