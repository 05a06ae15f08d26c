package devicefactory

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/srg/doorbell20/internal/device"
	goble "github.com/srg/doorbell20/internal/device/go-ble"
	"github.com/srg/doorbell20/internal/device/tinygo"
)

// Backend names accepted by New.
const (
	BackendGoBLE  = "go-ble"
	BackendTinyGo = "tinygo"
)

// Backends lists the supported backend names in preference order.
var Backends = []string{BackendGoBLE, BackendTinyGo}

// AdapterFactory creates the adapter for a backend.
// This is a variable so that it can be overridden in tests.
var AdapterFactory = func(backend string, logger *logrus.Logger) (device.Adapter, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", BackendGoBLE:
		return goble.NewAdapter(logger), nil
	case BackendTinyGo:
		return tinygo.NewAdapter(logger), nil
	default:
		return nil, fmt.Errorf("unknown BLE backend %q (supported: %s): %w",
			backend, strings.Join(Backends, ", "), device.ErrUnsupported)
	}
}

// New creates the device.Adapter for the named backend. An empty name selects go-ble.
func New(backend string, logger *logrus.Logger) (device.Adapter, error) {
	return AdapterFactory(backend, logger)
}
