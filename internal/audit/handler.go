package audit

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"
)

// RecentHandler serves GET /api/v1/activity-logs for operators reviewing
// recent mutations.
type RecentHandler struct {
	repo *Repository
}

// NewRecentHandler constructs a handler over the activity log repository.
func NewRecentHandler(repo *Repository) *RecentHandler {
	return &RecentHandler{repo: repo}
}

type entryJSON struct {
	ID           string          `json:"id"`
	Actor        string          `json:"actor"`
	Role         string          `json:"role,omitempty"`
	Action       string          `json:"action"`
	ResourceType string          `json:"resource_type"`
	ResourceID   string          `json:"resource_id"`
	Details      string          `json:"details,omitempty"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`
	IP           string          `json:"ip,omitempty"`
	CreatedAt    string          `json:"created_at"`
}

// ServeHTTP lists recent entries, newest first. Accepts an optional limit
// query parameter (default 100, max 500).
func (h *RecentHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			http.Error(w, "limit must be an integer", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	entries, err := h.repo.Recent(r.Context(), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	out := make([]entryJSON, 0, len(entries))
	for _, e := range entries {
		out = append(out, entryJSON{
			ID:           e.ID,
			Actor:        e.Actor,
			Role:         e.Role,
			Action:       e.Action,
			ResourceType: e.ResourceType,
			ResourceID:   e.ResourceID,
			Details:      e.Details,
			Metadata:     e.Metadata,
			IP:           e.IP,
			CreatedAt:    e.CreatedAt.Format(time.RFC3339),
		})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"entries": out})
}
