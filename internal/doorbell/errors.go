package doorbell

import (
	"errors"
	"fmt"
)

var (
	ErrServiceNotFound       = errors.New("doorbell service not found")
	ErrMissingCharacteristic = errors.New("required characteristic missing")
	ErrConnectionTimeout     = errors.New("connection timeout")
	ErrDisconnected          = errors.New("doorbell disconnected")
	ErrSubscribeFailed       = errors.New("alarm subscription failed")
	ErrDiscoveryFailed       = errors.New("GATT discovery failed")
)

// HaltError is returned by Manager.Run when the bridge stops on a terminal
// condition. The process is expected to exit with a non-zero status.
type HaltError struct {
	Reason string
	Err    error
}

func (e *HaltError) Error() string {
	if e.Err == nil {
		return e.Reason
	}
	return fmt.Sprintf("%s: %v", e.Reason, e.Err)
}

func (e *HaltError) Unwrap() error {
	return e.Err
}

// wrapAll wraps errs under sentinel, separating them with "; ". The result
// matches sentinel and every element of errs with errors.Is and errors.As.
func wrapAll(sentinel error, errs []error) error {
	format := "%w"
	args := []any{sentinel}
	for i, err := range errs {
		if i == 0 {
			format += ": %w"
		} else {
			format += "; %w"
		}
		args = append(args, err)
	}
	return fmt.Errorf(format, args...)
}

// IsHalt reports whether err carries a *HaltError.
func IsHalt(err error) bool {
	var h *HaltError
	return errors.As(err, &h)
}
