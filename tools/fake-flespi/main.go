// fake-flespi is a local stand-in for the Flespi gateway API. It serves the
// device registry and message endpoints the tracking client speaks, with
// generated position streams, so the service can run end to end without a
// platform account. Tunables mirror real-world failure modes: added
// latency, a random failure rate, and token enforcement.
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"math"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

type fakeFlespiServer struct {
	start    time.Time
	token    string
	latency  time.Duration
	failRate float64

	mu         sync.Mutex
	deviceSeq  int64
	devices    map[int64]*device
	totalCalls int64
	byPath     map[string]int64
}

type device struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	DeviceTypeID  int    `json:"device_type_id"`
	Configuration struct {
		Ident string `json:"ident"`
	} `json:"configuration"`

	baseLat float64
	baseLon float64
	created time.Time
}

func main() {
	addr := getenvDefault("FAKE_FLESPI_ADDR", ":18080")
	token := os.Getenv("FAKE_FLESPI_TOKEN")
	latencyMs := getenvIntDefault("FAKE_FLESPI_LATENCY_MS", 0)
	failRate := getenvFloatDefault("FAKE_FLESPI_FAIL_RATE", 0)
	seedCount := getenvIntDefault("FAKE_FLESPI_SEED_DEVICES", 3)

	srv := &fakeFlespiServer{
		start:    time.Now().UTC(),
		token:    token,
		latency:  time.Duration(latencyMs) * time.Millisecond,
		failRate: failRate,
		devices:  make(map[int64]*device),
		byPath:   make(map[string]int64),
	}
	for i := 0; i < seedCount; i++ {
		ident := fmt.Sprintf("8600000000%05d", i+1)
		srv.createDevice(fmt.Sprintf("Seed Unit %d", i+1), ident, 871)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", srv.handleHealth)
	mux.HandleFunc("/stats", srv.handleStats)
	mux.HandleFunc("/gw/devices", srv.handleDevices)
	mux.HandleFunc("/gw/devices/", srv.handleDevice)

	log.Printf("fake flespi gateway listening on %s (%d seed devices)", addr, seedCount)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatal(err)
	}
}

func (s *fakeFlespiServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *fakeFlespiServer) handleStats(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	payload := map[string]any{
		"started_at": s.start.Format(time.RFC3339),
		"total":      s.totalCalls,
		"by_path":    s.byPath,
		"devices":    len(s.devices),
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}

// gate applies token auth, latency and the failure rate. Returns false
// when the request was already answered.
func (s *fakeFlespiServer) gate(w http.ResponseWriter, r *http.Request) bool {
	s.mu.Lock()
	s.totalCalls++
	s.byPath[r.URL.Path]++
	s.mu.Unlock()

	if s.token != "" {
		expected := "FlespiToken " + s.token
		if r.Header.Get("Authorization") != expected {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return false
		}
	}
	if s.latency > 0 {
		time.Sleep(s.latency)
	}
	if s.failRate > 0 && rand.Float64() < s.failRate {
		writeError(w, http.StatusInternalServerError, "injected failure")
		return false
	}
	return true
}

// handleDevices serves GET /gw/devices (alias of /gw/devices/all) and
// POST /gw/devices.
func (s *fakeFlespiServer) handleDevices(w http.ResponseWriter, r *http.Request) {
	if !s.gate(w, r) {
		return
	}
	switch r.Method {
	case http.MethodGet:
		s.listDevices(w)
	case http.MethodPost:
		s.registerDevices(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// handleDevice serves /gw/devices/all, /gw/devices/{id} and
// /gw/devices/{id}/messages.
func (s *fakeFlespiServer) handleDevice(w http.ResponseWriter, r *http.Request) {
	if !s.gate(w, r) {
		return
	}
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/gw/devices/"), "/")
	if rest == "all" {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		s.listDevices(w)
		return
	}

	parts := strings.Split(rest, "/")
	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad device id")
		return
	}

	s.mu.Lock()
	dev, ok := s.devices[id]
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "device not found")
		return
	}

	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		writeResult(w, []any{s.deviceWithLastMessage(dev)})
	case len(parts) == 1 && r.Method == http.MethodDelete:
		s.mu.Lock()
		delete(s.devices, id)
		s.mu.Unlock()
		writeResult(w, []any{})
	case len(parts) == 2 && parts[1] == "messages" && r.Method == http.MethodGet:
		s.listMessages(w, r, dev)
	default:
		http.NotFound(w, r)
	}
}

func (s *fakeFlespiServer) listDevices(w http.ResponseWriter) {
	s.mu.Lock()
	out := make([]any, 0, len(s.devices))
	for _, dev := range s.devices {
		out = append(out, s.deviceWithLastMessage(dev))
	}
	s.mu.Unlock()
	writeResult(w, out)
}

func (s *fakeFlespiServer) registerDevices(w http.ResponseWriter, r *http.Request) {
	var payload []struct {
		Name          string `json:"name"`
		DeviceTypeID  int    `json:"device_type_id"`
		Configuration struct {
			Ident string `json:"ident"`
		} `json:"configuration"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || len(payload) == 0 {
		writeError(w, http.StatusBadRequest, "payload must be a non-empty array")
		return
	}

	created := make([]any, 0, len(payload))
	for _, item := range payload {
		if item.Configuration.Ident == "" {
			writeError(w, http.StatusBadRequest, "configuration.ident required")
			return
		}
		s.mu.Lock()
		for _, existing := range s.devices {
			if existing.Configuration.Ident == item.Configuration.Ident {
				s.mu.Unlock()
				writeError(w, http.StatusBadRequest,
					fmt.Sprintf("device with ident %s already exists", item.Configuration.Ident))
				return
			}
		}
		s.mu.Unlock()
		dev := s.createDevice(item.Name, item.Configuration.Ident, item.DeviceTypeID)
		created = append(created, dev)
	}
	writeResult(w, created)
}

func (s *fakeFlespiServer) createDevice(name, ident string, deviceTypeID int) *device {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deviceSeq++
	dev := &device{
		ID:           s.deviceSeq,
		Name:         name,
		DeviceTypeID: deviceTypeID,
		// Scatter seed tracks around Metro Manila.
		baseLat: 14.5995 + rand.Float64()*0.1 - 0.05,
		baseLon: 120.9842 + rand.Float64()*0.1 - 0.05,
		created: time.Now().UTC(),
	}
	dev.Configuration.Ident = ident
	s.devices[dev.ID] = dev
	return dev
}

// positionAt derives a deterministic wandering position for a device at a
// point in time, so repeated queries over the same window agree.
func (d *device) positionAt(ts time.Time) (lat, lon, speed float64) {
	phase := float64(ts.Unix()%86400) / 86400 * 2 * math.Pi
	wobble := float64(d.ID) * 0.7
	lat = d.baseLat + 0.01*math.Sin(phase+wobble)
	lon = d.baseLon + 0.01*math.Cos(phase+wobble)
	speed = 15 + 10*math.Abs(math.Sin(phase*3+wobble))
	return lat, lon, speed
}

func (s *fakeFlespiServer) deviceWithLastMessage(dev *device) map[string]any {
	now := time.Now().UTC()
	lat, lon, speed := dev.positionAt(now)
	return map[string]any{
		"id":             dev.ID,
		"name":           dev.Name,
		"device_type_id": dev.DeviceTypeID,
		"configuration":  dev.Configuration,
		"last_message": map[string]any{
			"timestamp": float64(now.Unix()),
			"position": map[string]any{
				"latitude":  lat,
				"longitude": lon,
				"speed":     speed,
			},
			"battery": map[string]any{
				"level": 75.0,
			},
		},
	}
}

func (s *fakeFlespiServer) listMessages(w http.ResponseWriter, r *http.Request, dev *device) {
	limit := 1000
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	descending := r.URL.Query().Get("sort") == "timestamp,desc"

	now := time.Now().UTC()
	from := now.Add(-24 * time.Hour)
	if raw := r.URL.Query().Get("timestamp:gte"); raw != "" {
		if parsed, err := strconv.ParseFloat(raw, 64); err == nil {
			from = time.Unix(int64(parsed), 0).UTC()
		}
	}

	var messages []map[string]any
	for ts := from; !ts.After(now); ts = ts.Add(time.Minute) {
		lat, lon, speed := dev.positionAt(ts)
		messages = append(messages, map[string]any{
			"timestamp":          float64(ts.Unix()),
			"position.latitude":  lat,
			"position.longitude": lon,
			"position.speed":     speed,
			"position.valid":     true,
		})
	}
	if descending {
		for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
			messages[i], messages[j] = messages[j], messages[i]
		}
	}
	if len(messages) > limit {
		messages = messages[:limit]
	}

	out := make([]any, len(messages))
	for i, m := range messages {
		out[i] = m
	}
	writeResult(w, out)
}

func writeResult(w http.ResponseWriter, result []any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"result": result})
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"errors": []map[string]string{{"reason": message}},
	})
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvFloatDefault(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}
