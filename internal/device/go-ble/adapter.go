package goble

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/doorbell20/internal/device"
	"github.com/srg/doorbell20/internal/groutine"
)

// DeviceFactory creates ble.Device instances (can be overridden in tests)
//
//nolint:revive // DeviceFactory name is intentional for test mocking
var DeviceFactory = newPlatformDevice

// BLEAdapter implements device.Adapter on top of go-ble
type BLEAdapter struct {
	logger *logrus.Logger

	mu         sync.Mutex
	dev        ble.Device
	onState    func(device.PowerState)
	scanCancel context.CancelFunc
	scanDone   chan struct{}
}

// NewAdapter creates an adapter; the underlying HCI/CoreBluetooth device is
// opened by Enable.
func NewAdapter(logger *logrus.Logger) *BLEAdapter {
	if logger == nil {
		logger = logrus.New()
	}
	return &BLEAdapter{logger: logger}
}

func (a *BLEAdapter) OnPowerStateChange(handler func(device.PowerState)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onState = handler
}

func (a *BLEAdapter) notify(state device.PowerState) {
	a.mu.Lock()
	h := a.onState
	a.mu.Unlock()

	a.logger.WithField("state", state.String()).Info("Adapter power state changed")
	if h != nil {
		h(state)
	}
}

// Enable opens the platform device. go-ble only hands out a device once the
// controller is up, so success is reported as powered on.
func (a *BLEAdapter) Enable(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dev, err := DeviceFactory()
	if err != nil {
		err = NormalizeError(err)
		if errors.Is(err, device.ErrBluetoothOff) {
			a.notify(device.PowerStatePoweredOff)
		} else {
			a.notify(device.PowerStateUnsupported)
		}
		return fmt.Errorf("failed to create BLE device: %w", err)
	}

	a.mu.Lock()
	a.dev = dev
	a.mu.Unlock()

	a.notify(device.PowerStatePoweredOn)
	return nil
}

func (a *BLEAdapter) StartScan(serviceUUID string, handler func(device.ScanResult)) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.dev == nil {
		return fmt.Errorf("adapter is not enabled: %w", device.ErrBluetoothOff)
	}
	if a.scanCancel != nil {
		a.logger.Debug("StartScan called while already scanning")
		return nil
	}

	target := device.NormalizeUUID(serviceUUID)
	dev := a.dev
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	a.scanCancel = cancel
	a.scanDone = done

	a.logger.WithField("service_uuid", target).Info("Scanning started")

	groutine.Go(ctx, "goble-scan", func(ctx context.Context) {
		defer close(done)
		err := dev.Scan(ctx, false, func(adv ble.Advertisement) {
			if !advertisesService(adv, target) {
				return
			}
			handler(NewScanResult(adv))
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			a.logger.WithError(NormalizeError(err)).Error("BLE scan terminated")
		}
	})

	return nil
}

func (a *BLEAdapter) StopScan() error {
	a.mu.Lock()
	cancel := a.scanCancel
	done := a.scanDone
	a.scanCancel = nil
	a.scanDone = nil
	a.mu.Unlock()

	if cancel == nil {
		return nil
	}

	cancel()
	<-done
	a.logger.Info("Scanning stopped")
	return nil
}

func (a *BLEAdapter) Connect(ctx context.Context, address string) (device.Peripheral, error) {
	a.mu.Lock()
	dev := a.dev
	a.mu.Unlock()

	if dev == nil {
		return nil, fmt.Errorf("adapter is not enabled: %w", device.ErrBluetoothOff)
	}

	a.logger.WithField("address", address).Debug("Dialing BLE device...")
	client, err := dev.Dial(ctx, ble.NewAddr(address))
	if err != nil {
		a.logger.WithFields(logrus.Fields{
			"address": address,
			"error":   err,
		}).Error("Failed to dial BLE device")
		return nil, fmt.Errorf("failed to connect to device with address %q: %w", address, NormalizeError(err))
	}

	return newPeripheral(address, client, a.logger), nil
}

func (a *BLEAdapter) Close() error {
	if err := a.StopScan(); err != nil {
		return err
	}

	a.mu.Lock()
	dev := a.dev
	a.dev = nil
	a.mu.Unlock()

	if dev == nil {
		return nil
	}
	return dev.Stop()
}

var _ device.Adapter = (*BLEAdapter)(nil)
