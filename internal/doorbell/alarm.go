package doorbell

import (
	"encoding/binary"
	"fmt"
	"time"
)

// DefaultTimestampLayout renders timestamps the way an en-US locale string does.
const DefaultTimestampLayout = "1/2/2006, 3:04:05 PM"

// FailurePayload is value1 of the failure notification.
func FailurePayload(address string) string {
	return fmt.Sprintf("Door Bell (%s)", address)
}

// decodeDeviceTime decodes a DoorBell20 clock value: a little-endian uint32
// of seconds counted by the device since it booted.
func decodeDeviceTime(data []byte) (time.Duration, bool) {
	if len(data) != 4 {
		return 0, false
	}
	return time.Duration(binary.LittleEndian.Uint32(data)) * time.Second, true
}
