package main

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/srg/doorbell20/internal/device"
	"github.com/srg/doorbell20/internal/doorbell"
	"github.com/srg/doorbell20/internal/webhook"
)

// FormatUserError renders err for the terminal, adding a hint for the
// conditions a user can act on.
func FormatUserError(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()

	var statusErr *webhook.StatusError
	switch {
	case device.IsConnectionState(err, device.BluetoothOff):
		return msg + "\n  Turn Bluetooth on and try again"
	case errors.Is(err, device.ErrUnsupported):
		return msg + "\n  Pick another backend with --backend"
	case errors.Is(err, doorbell.ErrConnectionTimeout):
		return msg + "\n  Check that the doorbell is powered and in range, or raise --connection-timeout"
	case errors.Is(err, doorbell.ErrMissingCharacteristic), errors.Is(err, doorbell.ErrServiceNotFound):
		return msg + "\n  The device at this address does not look like a DoorBell20; use 'doorbell20 scan' to find it"
	case errors.Is(err, device.ErrTimeout):
		return msg + "\n  The doorbell stopped answering; check that it is in range"
	case errors.As(err, &statusErr) && (statusErr.Code == http.StatusUnauthorized || statusErr.Code == http.StatusForbidden):
		return msg + "\n  Check the webhook key"
	}

	var halt *doorbell.HaltError
	if errors.As(err, &halt) && halt.Err == nil {
		return fmt.Sprintf("bridge halted: %s", halt.Reason)
	}
	return msg
}
