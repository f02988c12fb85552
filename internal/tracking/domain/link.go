package tracking

import (
	"crypto/sha1"
	"encoding/hex"
	"strings"
)

// offlineRefPrefix marks synthetic device references minted while the
// platform was unreachable. Callers must never treat such a reference as a
// confirmed platform link.
const offlineRefPrefix = "offline-"

// LinkState describes how a unit relates to the telemetry platform.
type LinkState string

const (
	// LinkUnlinked means the unit has an identifier but no device reference.
	LinkUnlinked LinkState = "unlinked"
	// LinkLinked means the reference resolves to a real platform device.
	LinkLinked LinkState = "linked"
	// LinkLinkedOffline means the reference is a synthetic offline placeholder.
	LinkLinkedOffline LinkState = "linked_offline"
)

// LinkResult is the outcome of a reconciliation attempt.
type LinkResult struct {
	State     LinkState
	DeviceRef string
}

// OfflineRef derives the deterministic synthetic reference for an
// identifier. Stable across retries so repeated reconciliation attempts
// against an unreachable platform key on the same reference.
func OfflineRef(ident string) string {
	sum := sha1.Sum([]byte(ident))
	return offlineRefPrefix + hex.EncodeToString(sum[:])[:12]
}

// IsOfflineRef reports whether a device reference is a synthetic
// offline placeholder rather than a platform-assigned id.
func IsOfflineRef(ref string) bool {
	return strings.HasPrefix(ref, offlineRefPrefix)
}

// ValidIdent reports whether an identifier is a plausible tracker serial:
// digits only, length 8 to 16.
func ValidIdent(ident string) bool {
	if len(ident) < 8 || len(ident) > 16 {
		return false
	}
	for _, r := range ident {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
