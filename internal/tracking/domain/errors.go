package tracking

import "errors"

// Platform error classes. Adapter implementations map transport failures
// onto these so services can classify without knowing the wire protocol.
var (
	// ErrDeviceNotFound: the platform no longer knows a device reference.
	// A staleness signal, not a failure.
	ErrDeviceNotFound = errors.New("tracking: device not found on platform")
	// ErrUnauthorized: the credential was rejected outright.
	ErrUnauthorized = errors.New("tracking: platform rejected credentials")
	// ErrForbidden: the credential lacks permission for the operation.
	ErrForbidden = errors.New("tracking: platform permission denied")
)
