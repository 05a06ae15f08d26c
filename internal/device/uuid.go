package device

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/srg/doorbell20/internal/bledb"
)

var macPattern = regexp.MustCompile(`^[0-9a-f]{2}(:[0-9a-f]{2}){5}$`)

// NormalizeUUID is re-exported from bledb for convenience.
// It converts a UUID string to the internal format (lowercase, no dashes).
func NormalizeUUID(u string) string {
	return bledb.NormalizeUUID(u)
}

// EqualUUID reports whether two UUID strings denote the same UUID regardless of
// case, dashes, or short/long SIG form.
func EqualUUID(a, b string) bool {
	return NormalizeUUID(a) == NormalizeUUID(b)
}

// ShortenUUID returns a truncated version of a UUID for display purposes.
func ShortenUUID(u string) string {
	if len(u) > 8 {
		return u[:8]
	}
	return u
}

// NormalizeAddress canonicalises a peripheral address for comparison.
// MAC addresses become lowercase colon-separated octets ("F3-23-0D-4C-CE-1B"
// and "f3:23:0d:4c:ce:1b" compare equal); CoreBluetooth peripheral UUIDs become
// their lowercase dashed form.
func NormalizeAddress(addr string) string {
	a := strings.ToLower(strings.TrimSpace(addr))
	if len(a) == 17 {
		a = strings.ReplaceAll(a, "-", ":")
		if macPattern.MatchString(a) {
			return a
		}
	}
	if id, err := uuid.Parse(a); err == nil {
		return id.String()
	}
	return a
}

// ValidateAddress checks that addr is a colon-hex MAC address or, for stacks
// that hide MACs such as CoreBluetooth, a 128-bit peripheral UUID. It returns
// the normalised address.
func ValidateAddress(addr string) (string, error) {
	if strings.TrimSpace(addr) == "" {
		return "", fmt.Errorf("device address cannot be empty")
	}
	n := NormalizeAddress(addr)
	if macPattern.MatchString(n) {
		return n, nil
	}
	if _, err := uuid.Parse(n); err == nil {
		return n, nil
	}
	return "", fmt.Errorf("invalid device address %q: expected colon-separated hex octets like f3:23:0d:4c:ce:1b", addr)
}
