package device

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// NotFoundError represents an error when a BLE resource is not found
type NotFoundError struct {
	Resource string   // "service", "characteristic"
	UUIDs    []string // One or more UUIDs (e.g., [serviceUUID] or [serviceUUID, charUUID])
}

func (e *NotFoundError) Error() string {
	if len(e.UUIDs) == 0 {
		return fmt.Sprintf("%s not found", e.Resource)
	}
	if len(e.UUIDs) == 1 {
		return fmt.Sprintf("%s %q not found", e.Resource, e.UUIDs[0])
	}
	return fmt.Sprintf("%s %q not found in service %q", e.Resource, e.UUIDs[len(e.UUIDs)-1], e.UUIDs[0])
}

// ConnectionState represents the specific kind of connection state failure
type ConnectionState string

const (
	NotConnected     ConnectionState = "not_connected"
	AlreadyConnected ConnectionState = "already_connected"
	BluetoothOff     ConnectionState = "bluetooth_off"
)

// ConnectionError represents any connection-related problem
type ConnectionError struct {
	State ConnectionState
	Msg   string
}

// Error implements the error interface
func (e *ConnectionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.State)
	}
	return fmt.Sprintf("%s: %s", e.State, e.Msg)
}

// Is allows errors.Is to compare ConnectionError values by State
func (e *ConnectionError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*ConnectionError)
	if !ok {
		return false
	}
	return e.State == t.State
}

// Predefined sentinel errors for connection states
var (
	ErrNotConnected     = &ConnectionError{State: NotConnected}
	ErrAlreadyConnected = &ConnectionError{State: AlreadyConnected}
	ErrBluetoothOff     = &ConnectionError{State: BluetoothOff, Msg: "bluetooth is turned off"}
)

// Operation errors
var (
	ErrTimeout     = errors.New("timeout")
	ErrUnsupported = errors.New("unsupported")
	ErrUnknownPeer = errors.New("peripheral was not seen in a scan")
)

// ContextError returns ctx.Err(), wrapped with ErrTimeout when the deadline
// expired. Plain cancellation is returned unchanged.
func ContextError(ctx context.Context) error {
	err := ctx.Err()
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return err
}

// IsConnectionState reports whether err is a ConnectionError with the given state
func IsConnectionState(err error, state ConnectionState) bool {
	var cerr *ConnectionError
	if errors.As(err, &cerr) {
		return cerr.State == state
	}
	return false
}

// PowerState is the adapter power state as reported by the BLE stack.
type PowerState int

const (
	PowerStateUnknown PowerState = iota
	PowerStateResetting
	PowerStateUnsupported
	PowerStateUnauthorized
	PowerStatePoweredOff
	PowerStatePoweredOn
)

func (s PowerState) String() string {
	switch s {
	case PowerStateResetting:
		return "resetting"
	case PowerStateUnsupported:
		return "unsupported"
	case PowerStateUnauthorized:
		return "unauthorized"
	case PowerStatePoweredOff:
		return "poweredOff"
	case PowerStatePoweredOn:
		return "poweredOn"
	default:
		return "unknown"
	}
}

// ScanResult is a single advertisement seen during a scan.
type ScanResult struct {
	Address     string
	LocalName   string
	RSSI        int
	Connectable bool
	Services    []string
}

// Adapter is the BLE central capability consumed by the doorbell bridge.
//
// Power-state changes and scan results are delivered through callbacks on
// goroutines owned by the implementation. Connect and the Peripheral
// operations block until the stack reports success or failure.
type Adapter interface {
	// OnPowerStateChange registers the power-state observer. It must be
	// called before Enable.
	OnPowerStateChange(handler func(PowerState))

	// Enable brings the adapter up and reports the resulting power state
	// through the observer.
	Enable(ctx context.Context) error

	// StartScan starts a passive scan for peripherals advertising serviceUUID.
	StartScan(serviceUUID string, handler func(ScanResult)) error

	// StopScan stops a running scan. Stopping an idle adapter is a no-op.
	StopScan() error

	// Connect dials the peripheral with the given address.
	Connect(ctx context.Context, address string) (Peripheral, error)

	// Close releases the adapter.
	Close() error
}

// Peripheral is a connected BLE device.
type Peripheral interface {
	Address() string

	// DiscoverServices returns the primary services matching filter, or all
	// services when filter is empty.
	DiscoverServices(ctx context.Context, filter []string) ([]Service, error)

	// DiscoverCharacteristics returns the characteristics of svc matching
	// filter, or all of them when filter is empty.
	DiscoverCharacteristics(ctx context.Context, svc Service, filter []string) ([]Characteristic, error)

	ReadCharacteristic(ctx context.Context, char Characteristic) ([]byte, error)

	// Subscribe enables notifications on char. handler runs for every value
	// change until the peripheral disconnects.
	Subscribe(ctx context.Context, char Characteristic, handler func([]byte)) error

	// OnDisconnect registers a one-shot observer fired when the link drops.
	OnDisconnect(handler func())

	Disconnect() error
}

// Service represents a GATT service handle
type Service interface {
	UUID() string
}

// Characteristic represents a GATT characteristic handle
type Characteristic interface {
	UUID() string
}

// containsIgnoreCase checks substring case-insensitively
func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

// NormalizeError maps well-known BLE stack error strings to the sentinel errors
// above, preserving the original error in the chain.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}

	msg := err.Error()
	switch {
	case containsIgnoreCase(msg, "is Bluetooth turned on"):
		return fmt.Errorf("%w: %v", ErrBluetoothOff, err)
	case containsIgnoreCase(msg, "bluetooth is turned off"):
		return fmt.Errorf("%w: %v", ErrBluetoothOff, err)
	case containsIgnoreCase(msg, "device not connected"):
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	case containsIgnoreCase(msg, "disconnected"):
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	case containsIgnoreCase(msg, "device already connected"):
		return fmt.Errorf("%w: %v", ErrAlreadyConnected, err)
	default:
		return err
	}
}
