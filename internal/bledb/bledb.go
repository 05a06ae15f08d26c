// Package bledb holds UUID normalisation and the human-readable names of the
// GATT attributes the doorbell bridge talks to.
package bledb

import (
	"strings"

	"github.com/google/uuid"
)

// sigBaseSuffix is the Bluetooth SIG base UUID (0000xxxx-0000-1000-8000-00805f9b34fb)
// without its 16-bit slot, in normalized form.
const sigBaseSuffix = "00001000800000805f9b34fb"

// DoorBell20 GATT database, normalized.
const (
	DoorBellService   = "451e0001dd1c4f20a42eff91a53d2992"
	DoorBellAlarm     = "451e0002dd1c4f20a42eff91a53d2992"
	DoorBellLocalTime = "451e0003dd1c4f20a42eff91a53d2992"
)

var services = map[string]string{
	DoorBellService: "DoorBell20",
	"1800":          "Generic Access",
	"1801":          "Generic Attribute",
	"180a":          "Device Information",
}

var characteristics = map[string]string{
	DoorBellAlarm:     "Door Bell Alarm",
	DoorBellLocalTime: "Local Time",
	"2a00":            "Device Name",
	"2a01":            "Appearance",
	"2a05":            "Service Changed",
}

// NormalizeUUID converts a UUID string to the internal BLE library format
// (lowercase, no dashes). It strips braces and a 0x prefix, and shortens full
// SIG-base UUIDs to their 16-bit form. Returns "" for malformed input.
func NormalizeUUID(u string) string {
	s := strings.ToLower(strings.TrimSpace(u))
	s = strings.TrimPrefix(s, "{")
	s = strings.TrimSuffix(s, "}")
	s = strings.TrimPrefix(s, "0x")
	s = strings.ReplaceAll(s, "-", "")

	switch len(s) {
	case 4, 8:
		if !isHex(s) {
			return ""
		}
		return s
	case 32:
		if _, err := uuid.Parse(s); err != nil {
			return ""
		}
		if strings.HasPrefix(s, "0000") && strings.HasSuffix(s, sigBaseSuffix) {
			return s[4:8]
		}
		return s
	default:
		return ""
	}
}

// NormalizeUUIDs normalizes a slice of UUID strings.
func NormalizeUUIDs(uuids []string) []string {
	out := make([]string, len(uuids))
	for i, u := range uuids {
		out[i] = NormalizeUUID(u)
	}
	return out
}

// LookupService returns the known name of a service UUID, or "".
func LookupService(u string) string {
	return services[NormalizeUUID(u)]
}

// LookupCharacteristic returns the known name of a characteristic UUID, or "".
func LookupCharacteristic(u string) string {
	return characteristics[NormalizeUUID(u)]
}

func isHex(s string) bool {
	for _, r := range s {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return false
		}
	}
	return true
}
