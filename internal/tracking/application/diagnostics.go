package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"

	tracking "fleetrental-cloud/internal/tracking/domain"
)

// DiagnosticsService probes the telemetry platform credential step by step
// and reports what the current token can and cannot do.
type DiagnosticsService struct {
	platform PlatformClient
	token    string
	clock    Clock
	logger   *log.Logger
}

// DiagnosticsOption configures the service.
type DiagnosticsOption func(*DiagnosticsService)

// WithDiagnosticsLogger attaches a diagnostic logger.
func WithDiagnosticsLogger(logger *log.Logger) DiagnosticsOption {
	return func(s *DiagnosticsService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithDiagnosticsClock overrides the clock (used by tests).
func WithDiagnosticsClock(clock Clock) DiagnosticsOption {
	return func(s *DiagnosticsService) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// NewDiagnosticsService constructs a platform diagnostics service. token is
// the configured credential; it is only inspected for presence, never logged.
func NewDiagnosticsService(platform PlatformClient, token string, opts ...DiagnosticsOption) (*DiagnosticsService, error) {
	if platform == nil {
		return nil, errors.New("diagnostics: nil platform client")
	}
	s := &DiagnosticsService{
		platform: platform,
		token:    token,
		clock:    SystemClock{},
		logger:   log.New(io.Discard, "", 0),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Run executes the diagnostic checklist in order, short-circuiting once a
// step makes later ones meaningless. ident, when non-empty, is additionally
// looked up to tell a credential problem from a missing device.
func (s *DiagnosticsService) Run(ctx context.Context, ident string) tracking.HealthReport {
	report := tracking.HealthReport{Status: tracking.HealthUnknown}

	if s.token == "" {
		report.Status = tracking.HealthError
		report.AddCheck("token_configured", tracking.CheckError, "no platform token configured")
		report.Suggest("set the platform token in the environment before assigning devices")
		s.skipRemaining(&report, "connectivity", "list_devices", "create_device")
		return report
	}
	report.TokenValid = true
	report.AddCheck("token_configured", tracking.CheckSuccess, "token present")

	if !s.platform.CheckConnectivity(ctx) {
		report.Status = tracking.HealthConnectionFailed
		report.AddCheck("connectivity", tracking.CheckError, "platform unreachable or token rejected")
		report.Suggest("verify network access to the platform and that the token has not expired")
		s.skipRemaining(&report, "list_devices", "create_device")
		return report
	}
	report.AddCheck("connectivity", tracking.CheckSuccess, "platform reachable")

	count, err := s.platform.CountDevices(ctx)
	if err != nil {
		report.Status = tracking.HealthLimited
		report.AddCheck("list_devices", tracking.CheckError, fmt.Sprintf("device listing failed: %v", err))
		s.suggestForError(&report, err, "listing devices")
		s.skipRemaining(&report, "create_device")
		return report
	}
	report.CanListDevices = true
	report.DeviceCount = count
	report.AddCheck("list_devices", tracking.CheckSuccess, fmt.Sprintf("token can list devices (%d registered)", count))

	if ident != "" {
		ref, found, err := s.platform.FindDeviceRefByIdent(ctx, ident)
		switch {
		case err != nil:
			report.AddCheck("ident_lookup", tracking.CheckWarning, fmt.Sprintf("lookup for %s failed: %v", ident, err))
		case found:
			report.IdentExists = true
			report.ExistingRef = ref
			report.AddCheck("ident_lookup", tracking.CheckSuccess, fmt.Sprintf("device with ident %s already registered as %s", ident, ref))
		default:
			report.AddCheck("ident_lookup", tracking.CheckWarning, fmt.Sprintf("no device registered with ident %s", ident))
			report.Suggest("the ident is not registered yet; assigning it will create the device")
		}
	}

	s.probeCreate(ctx, &report)

	if report.Status == tracking.HealthUnknown {
		report.Status = tracking.HealthHealthy
	}
	return report
}

// probeCreate verifies create permission with a throwaway device, deleting
// it again on success.
func (s *DiagnosticsService) probeCreate(ctx context.Context, report *tracking.HealthReport) {
	ident := fmt.Sprintf("99%012d", s.clock.Now().UnixNano()%1_000_000_000_000)
	ref, err := s.platform.CreateDevice(ctx, "diagnostics probe", ident, 0)
	if err != nil {
		report.Status = tracking.HealthLimited
		report.AddCheck("create_device", tracking.CheckError, fmt.Sprintf("device creation failed: %v", err))
		s.suggestForError(report, err, "creating devices")
		return
	}
	report.CanCreateDevices = true
	report.AddCheck("create_device", tracking.CheckSuccess, "token can create devices")

	if err := s.platform.DeleteDevice(ctx, ref); err != nil {
		s.logger.Printf("diagnostics: cleanup of probe device %s failed: %v", ref, err)
		report.AddCheck("probe_cleanup", tracking.CheckWarning, fmt.Sprintf("probe device %s could not be deleted", ref))
		report.Suggest(fmt.Sprintf("manually remove leftover probe device %s", ref))
	}
}

func (s *DiagnosticsService) suggestForError(report *tracking.HealthReport, err error, action string) {
	switch {
	case errors.Is(err, tracking.ErrUnauthorized):
		report.Suggest("the token was rejected; generate a new platform token")
	case errors.Is(err, tracking.ErrForbidden):
		report.Suggest("the token lacks permission for " + action + "; widen its ACL or use a full-access token")
	default:
		report.Suggest("retry later; the platform rejected " + action + " with an unexpected error")
	}
}

func (s *DiagnosticsService) skipRemaining(report *tracking.HealthReport, names ...string) {
	for _, name := range names {
		report.AddCheck(name, tracking.CheckSkipped, "skipped: earlier check failed")
	}
}
