// Package tinygo implements device.Adapter with tinygo.org/x/bluetooth
// (BlueZ over D-Bus on Linux, CoreBluetooth on macOS).
package tinygo

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/srg/doorbell20/internal/device"
	"github.com/srg/doorbell20/internal/groutine"
	"tinygo.org/x/bluetooth"
)

// stack is the part of *bluetooth.Adapter used here.
type stack interface {
	Enable() error
	SetConnectHandler(c func(dev bluetooth.Device, connected bool))
	Scan(callback func(*bluetooth.Adapter, bluetooth.ScanResult)) error
	StopScan() error
	Connect(address bluetooth.Address, params bluetooth.ConnectionParams) (bluetooth.Device, error)
}

// Adapter wraps a tinygo bluetooth adapter.
type Adapter struct {
	adapter stack
	logger  *logrus.Logger

	mu          sync.Mutex
	onState     func(device.PowerState)
	scanDone    chan struct{}
	seen        map[string]bluetooth.Address // normalized address -> stack address
	connections map[string]*Peripheral       // normalized address -> live connection
}

// NewAdapter creates an adapter backed by bluetooth.DefaultAdapter.
func NewAdapter(logger *logrus.Logger) *Adapter {
	if logger == nil {
		logger = logrus.New()
	}
	return &Adapter{
		adapter:     bluetooth.DefaultAdapter,
		logger:      logger,
		seen:        make(map[string]bluetooth.Address),
		connections: make(map[string]*Peripheral),
	}
}

func (a *Adapter) OnPowerStateChange(handler func(device.PowerState)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onState = handler
}

func (a *Adapter) notify(state device.PowerState) {
	a.mu.Lock()
	h := a.onState
	a.mu.Unlock()

	a.logger.WithField("state", state.String()).Info("Adapter power state changed")
	if h != nil {
		h(state)
	}
}

// Enable powers on the stack and installs the adapter-level connect handler
// that routes link loss to the matching Peripheral.
func (a *Adapter) Enable(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := a.adapter.Enable(); err != nil {
		a.notify(device.PowerStatePoweredOff)
		return fmt.Errorf("failed to enable adapter: %w", device.NormalizeError(err))
	}

	a.adapter.SetConnectHandler(func(dev bluetooth.Device, connected bool) {
		if connected {
			return
		}
		key := device.NormalizeAddress(dev.Address.String())
		a.mu.Lock()
		p, ok := a.connections[key]
		delete(a.connections, key)
		a.mu.Unlock()
		if ok {
			p.fireDisconnect()
		}
	})

	a.notify(device.PowerStatePoweredOn)
	return nil
}

func (a *Adapter) StartScan(serviceUUID string, handler func(device.ScanResult)) error {
	target, err := parseUUID(serviceUUID)
	if err != nil {
		return err
	}

	a.mu.Lock()
	if a.scanDone != nil {
		a.mu.Unlock()
		a.logger.Debug("StartScan called while already scanning")
		return nil
	}
	done := make(chan struct{})
	a.scanDone = done
	a.mu.Unlock()

	a.logger.WithField("service_uuid", target.String()).Info("Scanning started")

	groutine.Go(context.Background(), "tinygo-scan", func(ctx context.Context) {
		defer func() {
			a.mu.Lock()
			if a.scanDone == done {
				a.scanDone = nil
			}
			a.mu.Unlock()
			close(done)
		}()

		err := a.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
			if !result.HasServiceUUID(target) {
				return
			}
			addr := result.Address.String()
			a.mu.Lock()
			a.seen[device.NormalizeAddress(addr)] = result.Address
			a.mu.Unlock()

			handler(device.ScanResult{
				Address:   addr,
				LocalName: result.LocalName(),
				RSSI:      int(result.RSSI),
				Services:  []string{device.NormalizeUUID(target.String())},
			})
		})
		if err != nil {
			a.logger.WithError(device.NormalizeError(err)).Error("BLE scan terminated")
		}
	})
	return nil
}

// StopScan returns once the running Scan call has exited, so a following
// StartScan always begins a new scan.
func (a *Adapter) StopScan() error {
	a.mu.Lock()
	done := a.scanDone
	a.scanDone = nil
	a.mu.Unlock()

	if done == nil {
		return nil
	}
	if err := a.adapter.StopScan(); err != nil {
		select {
		case <-done:
			return nil
		default:
		}
		a.mu.Lock()
		if a.scanDone == nil {
			a.scanDone = done
		}
		a.mu.Unlock()
		return fmt.Errorf("failed to stop scan: %w", device.NormalizeError(err))
	}
	<-done
	a.logger.Info("Scanning stopped")
	return nil
}

// Connect dials an address previously reported by a scan. tinygo's Connect
// blocks with its own timeout; ctx cancellation returns early and leaves the
// stack call to finish on its own.
func (a *Adapter) Connect(ctx context.Context, address string) (device.Peripheral, error) {
	key := device.NormalizeAddress(address)
	a.mu.Lock()
	addr, ok := a.seen[key]
	a.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("connect to %s: %w", address, device.ErrUnknownPeer)
	}

	type connectResult struct {
		dev bluetooth.Device
		err error
	}
	ch := make(chan connectResult, 1)
	go func() {
		dev, err := a.adapter.Connect(addr, bluetooth.ConnectionParams{})
		ch <- connectResult{dev, err}
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("connect to %s: %w", address, device.ContextError(ctx))
	case r := <-ch:
		if r.err != nil {
			return nil, fmt.Errorf("connect to %s: %w", address, device.NormalizeError(r.err))
		}
		p := &Peripheral{address: address, dev: r.dev, logger: a.logger}
		a.mu.Lock()
		a.connections[key] = p
		a.mu.Unlock()
		return p, nil
	}
}

func (a *Adapter) Close() error {
	return a.StopScan()
}

// parseUUID accepts the short, dashed and undashed forms handled by
// device.NormalizeUUID.
func parseUUID(s string) (bluetooth.UUID, error) {
	n := device.NormalizeUUID(s)
	switch len(n) {
	case 4:
		v, err := strconv.ParseUint(n, 16, 16)
		if err != nil {
			return bluetooth.UUID{}, fmt.Errorf("invalid UUID %q: %w", s, err)
		}
		return bluetooth.New16BitUUID(uint16(v)), nil
	case 32:
		id, err := uuid.Parse(n)
		if err != nil {
			return bluetooth.UUID{}, fmt.Errorf("invalid UUID %q: %w", s, err)
		}
		return bluetooth.ParseUUID(id.String())
	default:
		return bluetooth.UUID{}, fmt.Errorf("invalid UUID %q", s)
	}
}

var _ device.Adapter = (*Adapter)(nil)
