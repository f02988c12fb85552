package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"fleetrental-cloud/internal/auth"
	rentalapp "fleetrental-cloud/internal/rental/application"
	rental "fleetrental-cloud/internal/rental/domain"
	"fleetrental-cloud/internal/rental/interfaces"
)

// Handler provides remittance ledger HTTP endpoints:
//
//	POST /api/v1/remittances
//	POST /api/v1/remittances/withdraw
//	POST /api/v1/remittances/debt
//	GET  /api/v1/remittances/history?driver_id=&from=&to=
//	GET  /api/v1/remittances/report.pdf?driver_id=&from=&to=
//	GET  /api/v1/remittances/report.xlsx?driver_id=&from=&to=
type Handler struct {
	service *rentalapp.Service
}

// NewHandler constructs a remittance handler.
func NewHandler(service *rentalapp.Service) (*Handler, error) {
	if service == nil {
		return nil, errors.New("rental handler: nil service")
	}
	return &Handler{service: service}, nil
}

// ServeHTTP dispatches on the subpath under /api/v1/remittances.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/remittances")
	path = strings.Trim(path, "/")

	switch {
	case path == "" && r.Method == http.MethodPost:
		h.handleConfirm(w, r)
	case path == "withdraw" && r.Method == http.MethodPost:
		h.handleWithdraw(w, r)
	case path == "debt" && r.Method == http.MethodPost:
		h.handleDebt(w, r)
	case path == "history" && r.Method == http.MethodGet:
		h.handleHistory(w, r)
	case (path == "report.pdf" || path == "report.xlsx") && r.Method == http.MethodGet:
		h.handleReport(w, r, path)
	default:
		http.NotFound(w, r)
	}
}

type entryJSON struct {
	ID         string  `json:"id"`
	DriverID   string  `json:"driver_id"`
	UnitID     string  `json:"unit_id,omitempty"`
	Kind       string  `json:"kind"`
	Amount     float64 `json:"amount"`
	Note       string  `json:"note,omitempty"`
	RecordedBy string  `json:"recorded_by,omitempty"`
	RecordedAt string  `json:"recorded_at"`
}

func toEntryJSON(e rental.LedgerEntry) entryJSON {
	return entryJSON{
		ID:         e.ID,
		DriverID:   e.DriverID,
		UnitID:     e.UnitID,
		Kind:       string(e.Kind),
		Amount:     e.Amount,
		Note:       e.Note,
		RecordedBy: e.RecordedBy,
		RecordedAt: e.RecordedAt.Format(time.RFC3339),
	}
}

func (h *Handler) handleConfirm(w http.ResponseWriter, r *http.Request) {
	var input rentalapp.RemittanceInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	entries, err := h.service.ConfirmRemittance(r.Context(), input, auth.SubjectFromContext(r.Context()))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	out := make([]entryJSON, 0, len(entries))
	for _, e := range entries {
		out = append(out, toEntryJSON(e))
	}
	writeJSON(w, map[string]any{"entries": out})
}

type balanceRequest struct {
	DriverID string  `json:"driver_id"`
	Amount   float64 `json:"amount"`
	Note     string  `json:"note,omitempty"`
	Op       string  `json:"op,omitempty"` // debt only: add | pay
}

func (h *Handler) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req balanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	entry, err := h.service.WithdrawSavings(r.Context(), req.DriverID, req.Amount, req.Note, auth.SubjectFromContext(r.Context()))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	writeJSON(w, toEntryJSON(*entry))
}

func (h *Handler) handleDebt(w http.ResponseWriter, r *http.Request) {
	var req balanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	actor := auth.SubjectFromContext(r.Context())
	var entry *rental.LedgerEntry
	var err error
	switch req.Op {
	case "add":
		entry, err = h.service.AddDebt(r.Context(), req.DriverID, req.Amount, req.Note, actor)
	case "pay":
		entry, err = h.service.PayDebt(r.Context(), req.DriverID, req.Amount, req.Note, actor)
	default:
		http.Error(w, "op must be add or pay", http.StatusBadRequest)
		return
	}
	if err != nil {
		respondServiceError(w, err)
		return
	}
	writeJSON(w, toEntryJSON(*entry))
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	driverID, from, to, err := parseWindow(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	entries, err := h.service.History(r.Context(), driverID, from, to)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	out := make([]entryJSON, 0, len(entries))
	for _, e := range entries {
		out = append(out, toEntryJSON(e))
	}
	writeJSON(w, map[string]any{
		"driver_id": driverID,
		"from":      from.Format("2006-01-02"),
		"to":        to.Format("2006-01-02"),
		"entries":   out,
	})
}

func (h *Handler) handleReport(w http.ResponseWriter, r *http.Request, name string) {
	driverID, from, to, err := parseWindow(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	stmt, err := h.service.BuildStatement(r.Context(), driverID, from, to)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	var payload []byte
	var contentType string
	if name == "report.pdf" {
		payload, err = interfaces.BuildStatementPDF(stmt)
		contentType = "application/pdf"
	} else {
		payload, err = interfaces.BuildStatementXLSX(stmt)
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	filename := fmt.Sprintf("statement-%s-%s", stmt.Driver.Code, from.Format("20060102"))
	if name == "report.pdf" {
		filename += ".pdf"
	} else {
		filename += ".xlsx"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	_, _ = w.Write(payload)
}

// parseWindow reads driver_id plus an optional from/to date pair. The
// window defaults to the last 30 days; to is exclusive at day precision.
func parseWindow(r *http.Request) (string, time.Time, time.Time, error) {
	driverID := r.URL.Query().Get("driver_id")
	if driverID == "" {
		return "", time.Time{}, time.Time{}, errors.New("driver_id required")
	}

	now := time.Now().UTC()
	from := now.AddDate(0, 0, -30).Truncate(24 * time.Hour)
	to := now.AddDate(0, 0, 1).Truncate(24 * time.Hour)
	if raw := r.URL.Query().Get("from"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return "", time.Time{}, time.Time{}, errors.New("from must be YYYY-MM-DD")
		}
		from = parsed
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return "", time.Time{}, time.Time{}, errors.New("to must be YYYY-MM-DD")
		}
		to = parsed.AddDate(0, 0, 1)
	}
	if !to.After(from) {
		return "", time.Time{}, time.Time{}, errors.New("to must not be before from")
	}
	return driverID, from, to, nil
}

func respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, rentalapp.ErrDriverNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, rentalapp.ErrInvalidAmount),
		errors.Is(err, rentalapp.ErrInsufficientSavings),
		errors.Is(err, rentalapp.ErrNoOutstandingDebt):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}
