package flespi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"fleetrental-cloud/internal/observability/metrics"
	tracking "fleetrental-cloud/internal/tracking/domain"
)

// DefaultBaseURL is the Flespi gateway endpoint group.
const DefaultBaseURL = "https://flespi.io/gw"

// DefaultDeviceTypeID is the generic GPS tracker device type.
const DefaultDeviceTypeID = 871

const (
	adminTimeout = 10 * time.Second
	readTimeout  = 15 * time.Second
)

// HTTP statuses map onto the tracking domain error classes so services can
// classify failures without knowing the wire protocol.
var (
	ErrNotFound     = tracking.ErrDeviceNotFound
	ErrUnauthorized = tracking.ErrUnauthorized
	ErrForbidden    = tracking.ErrForbidden
)

// Client is a minimal Flespi gateway REST client. It is the only component
// that speaks the platform wire protocol; every read degrades to "no data"
// rather than surfacing transport faults to business logic.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
	logger  *log.Logger
}

// Option configures the client.
type Option func(*Client)

// WithLogger attaches a logger for degraded-call diagnostics.
func WithLogger(logger *log.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.client = hc
		}
	}
}

// NewClient constructs a Flespi client. An empty token is a configuration
// error and rejected up front.
func NewClient(baseURL, token string, opts ...Option) (*Client, error) {
	if token == "" {
		return nil, errors.New("flespi: empty token")
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: readTimeout},
		logger:  log.New(io.Discard, "", 0),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Device is a platform device record.
type Device struct {
	ID           int64       `json:"id"`
	Name         string      `json:"name"`
	DeviceTypeID int         `json:"device_type_id"`
	Config       config      `json:"configuration"`
	LastMessage  *lastPacket `json:"last_message"`
}

// Ref returns the device reference string used by the rest of the system.
func (d Device) Ref() string {
	return fmt.Sprintf("%d", d.ID)
}

// Ident returns the hardware identifier embedded in the device configuration.
func (d Device) Ident() string {
	return d.Config.Ident
}

type config struct {
	Ident string `json:"ident"`
}

// lastPacket is the eventually-consistent "last known message" snapshot
// embedded in a device record. Unlike the message stream it nests position
// fields under a "position" object.
type lastPacket struct {
	Timestamp float64 `json:"timestamp"`
	Position  *struct {
		Latitude  float64  `json:"latitude"`
		Longitude float64  `json:"longitude"`
		Speed     float64  `json:"speed"`
		Direction *float64 `json:"direction"`
		Altitude  *float64 `json:"altitude"`
	} `json:"position"`
	Battery *struct {
		Level *float64 `json:"level"`
	} `json:"battery"`
}

// message is a raw entry from the device message stream. The stream flattens
// position fields into dotted keys.
type message struct {
	Timestamp  float64  `json:"timestamp"`
	Latitude   *float64 `json:"position.latitude"`
	Longitude  *float64 `json:"position.longitude"`
	Speed      *float64 `json:"position.speed"`
	Direction  *float64 `json:"position.direction"`
	Altitude   *float64 `json:"position.altitude"`
	HDOP       *float64 `json:"position.hdop"`
	Satellites *int     `json:"position.satellites"`
	Valid      *bool    `json:"position.valid"`
	Battery    *float64 `json:"battery.level"`
}

func (m message) sample() (tracking.PositionSample, bool) {
	if m.Latitude == nil || m.Longitude == nil || m.Timestamp == 0 {
		return tracking.PositionSample{}, false
	}
	sample := tracking.PositionSample{
		Latitude:   *m.Latitude,
		Longitude:  *m.Longitude,
		Timestamp:  int64(m.Timestamp),
		Direction:  m.Direction,
		Altitude:   m.Altitude,
		HDOP:       m.HDOP,
		Satellites: m.Satellites,
		Battery:    m.Battery,
		Valid:      true,
	}
	if m.Speed != nil {
		sample.Speed = *m.Speed
	}
	if m.Valid != nil {
		sample.Valid = *m.Valid
	}
	return sample, true
}

// CheckConnectivity issues a lightweight authenticated read and reports
// whether the platform is reachable with the configured token. Expected
// failure modes (timeout, refused connection, non-2xx) return false.
func (c *Client) CheckConnectivity(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, adminTimeout)
	defer cancel()

	var out devicesResult
	err := c.doJSON(ctx, http.MethodGet, "/devices/all", nil, &out, "check_connectivity")
	if err != nil {
		c.logger.Printf("flespi connectivity check failed: %v", err)
		return false
	}
	return true
}

// FindDeviceByIdent lists all devices visible to the token and matches the
// identifier embedded in each device configuration. The platform offers no
// server-side filter for this field, so the match is a linear scan:
// case-sensitive, exact. Returns (nil, nil) when no device matches.
func (c *Client) FindDeviceByIdent(ctx context.Context, ident string) (*Device, error) {
	if ident == "" {
		return nil, errors.New("flespi: empty ident")
	}

	var out devicesResult
	if err := c.doJSON(ctx, http.MethodGet, "/devices/all", nil, &out, "find_device"); err != nil {
		return nil, err
	}
	for i := range out.Result {
		if out.Result[i].Ident() == ident {
			return &out.Result[i], nil
		}
	}
	return nil, nil
}

// GetDevice loads a single device by reference. Returns ErrNotFound when
// the platform no longer knows the reference (staleness signal).
func (c *Client) GetDevice(ctx context.Context, ref string) (*Device, error) {
	if ref == "" {
		return nil, errors.New("flespi: empty device ref")
	}

	var out devicesResult
	if err := c.doJSON(ctx, http.MethodGet, "/devices/"+ref, nil, &out, "get_device"); err != nil {
		return nil, err
	}
	if len(out.Result) == 0 {
		return nil, ErrNotFound
	}
	return &out.Result[0], nil
}

// CreateDevice registers a device for the identifier, reusing an existing
// record when one is already registered (idempotent-create). Returns the
// platform-assigned reference.
func (c *Client) CreateDevice(ctx context.Context, name, ident string, deviceTypeID int) (string, error) {
	if ident == "" {
		return "", errors.New("flespi: empty ident")
	}
	if deviceTypeID == 0 {
		deviceTypeID = DefaultDeviceTypeID
	}

	existing, err := c.FindDeviceByIdent(ctx, ident)
	if err == nil && existing != nil {
		return existing.Ref(), nil
	}

	payload := []map[string]any{{
		"name":           name,
		"device_type_id": deviceTypeID,
		"configuration":  map[string]any{"ident": ident},
	}}

	var out devicesResult
	err = c.doJSON(ctx, http.MethodPost, "/devices", payload, &out, "create_device")
	if err != nil {
		// The platform answers 400 with an "already exists" message when a
		// concurrent writer won the race; re-query and reuse the record.
		var httpErr *statusError
		if errors.As(err, &httpErr) && httpErr.status == http.StatusBadRequest &&
			strings.Contains(httpErr.body, "already exists") {
			existing, ferr := c.FindDeviceByIdent(ctx, ident)
			if ferr == nil && existing != nil {
				return existing.Ref(), nil
			}
		}
		return "", err
	}
	if len(out.Result) == 0 {
		return "", errors.New("flespi: create returned no result")
	}
	return out.Result[0].Ref(), nil
}

// DeleteDevice removes a device record. Used by diagnostics cleanup.
func (c *Client) DeleteDevice(ctx context.Context, ref string) error {
	if ref == "" {
		return errors.New("flespi: empty device ref")
	}
	return c.doJSON(ctx, http.MethodDelete, "/devices/"+ref, nil, nil, "delete_device")
}

// FindDeviceRefByIdent resolves an identifier to a device reference.
func (c *Client) FindDeviceRefByIdent(ctx context.Context, ident string) (string, bool, error) {
	device, err := c.FindDeviceByIdent(ctx, ident)
	if err != nil {
		return "", false, err
	}
	if device == nil {
		return "", false, nil
	}
	return device.Ref(), true, nil
}

// DeviceExists reports whether a reference still resolves on the platform.
// A stale reference (platform 404) yields (false, nil).
func (c *Client) DeviceExists(ctx context.Context, ref string) (bool, error) {
	_, err := c.GetDevice(ctx, ref)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// CountDevices returns the number of devices visible to the token.
func (c *Client) CountDevices(ctx context.Context) (int, error) {
	var out devicesResult
	if err := c.doJSON(ctx, http.MethodGet, "/devices/all", nil, &out, "list_devices"); err != nil {
		return 0, err
	}
	return len(out.Result), nil
}

// GetLatestPosition fetches the single most recent message for a device.
// Returns (nil, nil) when the device has no messages.
func (c *Client) GetLatestPosition(ctx context.Context, ref string) (*tracking.PositionSample, error) {
	if ref == "" {
		return nil, errors.New("flespi: empty device ref")
	}

	path := fmt.Sprintf("/devices/%s/messages?limit=1&sort=timestamp,desc", ref)
	var out messagesResult
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out, "latest_position"); err != nil {
		return nil, err
	}
	if len(out.Result) == 0 {
		return nil, nil
	}
	sample, ok := out.Result[0].sample()
	if !ok {
		return nil, nil
	}
	return &sample, nil
}

// GetTelemetry reads the device's embedded last-known-message snapshot.
// Cheaper than querying the message stream but may be empty for devices
// with no traffic yet. Returns (nil, nil) when no position is available.
func (c *Client) GetTelemetry(ctx context.Context, ref string) (*tracking.PositionSample, error) {
	device, err := c.GetDevice(ctx, ref)
	if err != nil {
		return nil, err
	}
	packet := device.LastMessage
	if packet == nil || packet.Position == nil {
		c.logger.Printf("flespi device %s has no last_message position", ref)
		return nil, nil
	}

	sample := tracking.PositionSample{
		Latitude:  packet.Position.Latitude,
		Longitude: packet.Position.Longitude,
		Speed:     packet.Position.Speed,
		Direction: packet.Position.Direction,
		Altitude:  packet.Position.Altitude,
		Timestamp: int64(packet.Timestamp),
		Valid:     true,
	}
	if packet.Battery != nil {
		sample.Battery = packet.Battery.Level
	}
	return &sample, nil
}

// GetAllTelemetry fetches the last-known snapshot for the given device
// references, or for every platform device when refs is empty. Per-device
// failures are logged and the device omitted; the call itself never fails
// because of one bad device.
func (c *Client) GetAllTelemetry(ctx context.Context, refs []string) map[string]tracking.PositionSample {
	result := make(map[string]tracking.PositionSample)

	if len(refs) == 0 {
		var out devicesResult
		if err := c.doJSON(ctx, http.MethodGet, "/devices/all", nil, &out, "list_devices"); err != nil {
			c.logger.Printf("flespi device enumeration failed: %v", err)
			return result
		}
		for _, device := range out.Result {
			refs = append(refs, device.Ref())
		}
	}

	for _, ref := range refs {
		sample, err := c.GetTelemetry(ctx, ref)
		if err != nil {
			c.logger.Printf("flespi telemetry for device %s failed: %v", ref, err)
			continue
		}
		if sample == nil {
			continue
		}
		result[ref] = *sample
	}
	return result
}

// GetHistory fetches messages with timestamp >= now-window in ascending
// order. Returns an empty slice, never an error, when the platform is
// unavailable: history is a fallback tier, not a hard dependency.
func (c *Client) GetHistory(ctx context.Context, ref string, window time.Duration) []tracking.PositionSample {
	if ref == "" || window <= 0 {
		return nil
	}

	since := time.Now().Add(-window).Unix()
	path := fmt.Sprintf("/devices/%s/messages?timestamp:gte=%d&sort=timestamp,asc", ref, since)
	var out messagesResult
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out, "history"); err != nil {
		c.logger.Printf("flespi history for device %s failed: %v", ref, err)
		return nil
	}

	samples := make([]tracking.PositionSample, 0, len(out.Result))
	for _, msg := range out.Result {
		if sample, ok := msg.sample(); ok {
			samples = append(samples, sample)
		}
	}
	return samples
}

// ConnectivityResult is the outcome of a standalone token test.
type ConnectivityResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// TestToken is the standalone diagnostic variant of CheckConnectivity with
// a human-readable classification of the failure mode.
func TestToken(ctx context.Context, baseURL, token string) ConnectivityResult {
	if token == "" {
		return ConnectivityResult{Success: false, Message: "No token provided"}
	}
	client, err := NewClient(baseURL, token)
	if err != nil {
		return ConnectivityResult{Success: false, Message: err.Error()}
	}

	ctx, cancel := context.WithTimeout(ctx, adminTimeout)
	defer cancel()

	var out devicesResult
	err = client.doJSON(ctx, http.MethodGet, "/devices/all", nil, &out, "test_token")
	if err == nil {
		return ConnectivityResult{Success: true, Message: "Connected successfully"}
	}

	switch {
	case errors.Is(err, ErrUnauthorized):
		return ConnectivityResult{Success: false, Message: "Authentication failed - invalid or expired token"}
	case errors.Is(err, ErrNotFound):
		return ConnectivityResult{Success: false, Message: "API endpoint not found - the API URL may have changed"}
	case errors.Is(err, context.DeadlineExceeded):
		return ConnectivityResult{Success: false, Message: "Connection timeout - API server is not responding"}
	default:
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return ConnectivityResult{Success: false, Message: "Connection timeout - API server is not responding"}
		}
		var httpErr *statusError
		if errors.As(err, &httpErr) {
			return ConnectivityResult{Success: false, Message: fmt.Sprintf("API returned status code %d", httpErr.status)}
		}
		return ConnectivityResult{Success: false, Message: fmt.Sprintf("Connection error: %v", err)}
	}
}

type devicesResult struct {
	Result []Device `json:"result"`
}

type messagesResult struct {
	Result []message `json:"result"`
}

type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("flespi: http %d", e.status)
}

func (c *Client) doJSON(ctx context.Context, method, path string, body any, out any, operation string) error {
	start := time.Now()
	err := c.do(ctx, method, path, body, out)
	metrics.ObservePlatformCall(operation, err, time.Since(start))
	return err
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reqBody *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(payload)
	} else {
		reqBody = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "FlespiToken "+c.token)

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	}
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &statusError{status: resp.StatusCode, body: string(raw)}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
