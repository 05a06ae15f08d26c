package testutils

import (
	"context"
	"fmt"
	"sync"

	"github.com/srg/doorbell20/internal/device"
)

// FakeAdapter is an in-memory device.Adapter. Enable reports the configured
// power state; tests then drive it with SetPowerState and Advertise.
type FakeAdapter struct {
	mu sync.Mutex

	enableState device.PowerState
	enableErr   error
	peripherals map[string]*FakePeripheral
	connectErrs []error
	connectGate *Gate

	onState     func(device.PowerState)
	scanHandler func(device.ScanResult)
	scanService string
	scanning    bool

	enables    int
	startScans int
	stopScans  int
	connects   []string
	closed     bool
}

// NewFakeAdapter creates an adapter that powers on when enabled.
func NewFakeAdapter() *FakeAdapter {
	return &FakeAdapter{
		enableState: device.PowerStatePoweredOn,
		peripherals: make(map[string]*FakePeripheral),
	}
}

// WithPeripheral makes p connectable at its address.
func (a *FakeAdapter) WithPeripheral(p *FakePeripheral) *FakeAdapter {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.peripherals[device.NormalizeAddress(p.Address())] = p
	return a
}

// WithInitialPowerState sets the state reported by Enable.
func (a *FakeAdapter) WithInitialPowerState(s device.PowerState) *FakeAdapter {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.enableState = s
	return a
}

// WithEnableError makes Enable fail without reporting a power state.
func (a *FakeAdapter) WithEnableError(err error) *FakeAdapter {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.enableErr = err
	return a
}

// FailNextConnect queues an error for the next Connect call.
func (a *FakeAdapter) FailNextConnect(err error) *FakeAdapter {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connectErrs = append(a.connectErrs, err)
	return a
}

// WithConnectGate makes Connect block until gate is opened.
func (a *FakeAdapter) WithConnectGate(gate *Gate) *FakeAdapter {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connectGate = gate
	return a
}

func (a *FakeAdapter) OnPowerStateChange(handler func(device.PowerState)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onState = handler
}

func (a *FakeAdapter) Enable(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.mu.Lock()
	a.enables++
	err := a.enableErr
	state := a.enableState
	a.mu.Unlock()

	if err != nil {
		return err
	}
	a.SetPowerState(state)
	return nil
}

// SetPowerState reports a power state change. Leaving PoweredOn stops the scan.
func (a *FakeAdapter) SetPowerState(s device.PowerState) {
	a.mu.Lock()
	h := a.onState
	a.mu.Unlock()
	if h != nil {
		h(s)
	}
}

func (a *FakeAdapter) StartScan(serviceUUID string, handler func(device.ScanResult)) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.startScans++
	a.scanning = true
	a.scanService = device.NormalizeUUID(serviceUUID)
	a.scanHandler = handler
	return nil
}

func (a *FakeAdapter) StopScan() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopScans++
	a.scanning = false
	a.scanHandler = nil
	return nil
}

// Advertise delivers a scan result when a scan is running. It reports whether
// the result was delivered.
func (a *FakeAdapter) Advertise(res device.ScanResult) bool {
	a.mu.Lock()
	h := a.scanHandler
	scanning := a.scanning
	a.mu.Unlock()

	if !scanning || h == nil {
		return false
	}
	h(res)
	return true
}

func (a *FakeAdapter) Connect(ctx context.Context, address string) (device.Peripheral, error) {
	a.mu.Lock()
	a.connects = append(a.connects, address)
	gate := a.connectGate
	var err error
	if len(a.connectErrs) > 0 {
		err = a.connectErrs[0]
		a.connectErrs = a.connectErrs[1:]
	}
	p, ok := a.peripherals[device.NormalizeAddress(address)]
	a.mu.Unlock()

	if werr := gate.Wait(ctx); werr != nil {
		return nil, werr
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("connect to %s: %w", address, device.ErrUnknownPeer)
	}
	p.connect()
	return p, nil
}

func (a *FakeAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	a.scanning = false
	a.scanHandler = nil
	return nil
}

func (a *FakeAdapter) Scanning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.scanning
}

// ScanService returns the normalized service UUID of the last StartScan.
func (a *FakeAdapter) ScanService() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.scanService
}

func (a *FakeAdapter) StartScanCalls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.startScans
}

func (a *FakeAdapter) StopScanCalls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stopScans
}

func (a *FakeAdapter) ConnectCalls() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.connects...)
}

func (a *FakeAdapter) EnableCalls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.enables
}

var _ device.Adapter = (*FakeAdapter)(nil)
