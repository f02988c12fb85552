package tracking

// CheckStatus is the outcome of a single diagnostic check.
type CheckStatus string

const (
	CheckSuccess CheckStatus = "success"
	CheckWarning CheckStatus = "warning"
	CheckError   CheckStatus = "error"
	CheckSkipped CheckStatus = "skipped"
)

// CheckResult is one named step of a diagnostic run.
type CheckResult struct {
	Name    string      `json:"name"`
	Status  CheckStatus `json:"status"`
	Message string      `json:"message"`
}

// HealthReport is the machine-readable result of a diagnostic run against
// the telemetry platform. Produced per run, never persisted.
type HealthReport struct {
	Status           string        `json:"status"`
	TokenValid       bool          `json:"token_valid"`
	CanListDevices   bool          `json:"can_list_devices"`
	CanCreateDevices bool          `json:"can_create_devices"`
	IdentExists      bool          `json:"ident_exists"`
	ExistingRef      string        `json:"existing_device_ref,omitempty"`
	DeviceCount      int           `json:"device_count"`
	Checks           []CheckResult `json:"checks"`
	Suggestions      []string      `json:"suggestions"`
}

// Overall report statuses.
const (
	HealthUnknown          = "unknown"
	HealthHealthy          = "healthy"
	HealthConnectionFailed = "connection_failed"
	HealthLimited          = "limited_permissions"
	HealthError            = "error"
)

// AddCheck appends a check result.
func (r *HealthReport) AddCheck(name string, status CheckStatus, message string) {
	r.Checks = append(r.Checks, CheckResult{Name: name, Status: status, Message: message})
}

// Suggest appends a remediation suggestion.
func (r *HealthReport) Suggest(message string) {
	r.Suggestions = append(r.Suggestions, message)
}
