package goble

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/doorbell20/internal/device"
	"github.com/srg/doorbell20/internal/groutine"
)

// BLEPeripheral represents a live go-ble GATT client connection
type BLEPeripheral struct {
	address string
	client  ble.Client
	logger  *logrus.Logger

	mu           sync.Mutex
	onDisconnect func()
	disconnected bool
}

func newPeripheral(address string, client ble.Client, logger *logrus.Logger) *BLEPeripheral {
	p := &BLEPeripheral{
		address: address,
		client:  client,
		logger:  logger,
	}

	// go-ble closes Disconnected() when the link drops, on both HCI and CoreBluetooth
	groutine.Go(context.Background(), "goble-disconnect-monitor", func(ctx context.Context) {
		<-client.Disconnected()
		p.logger.WithField("address", address).Debug("go-ble reported disconnection")
		p.fireDisconnect()
	})

	return p
}

func (p *BLEPeripheral) Address() string {
	return p.address
}

// OnDisconnect registers a one-shot observer. If the link is already down the
// observer fires immediately.
func (p *BLEPeripheral) OnDisconnect(handler func()) {
	p.mu.Lock()
	if p.disconnected {
		p.mu.Unlock()
		handler()
		return
	}
	p.onDisconnect = handler
	p.mu.Unlock()
}

func (p *BLEPeripheral) fireDisconnect() {
	p.mu.Lock()
	if p.disconnected {
		p.mu.Unlock()
		return
	}
	p.disconnected = true
	h := p.onDisconnect
	p.onDisconnect = nil
	p.mu.Unlock()

	if h != nil {
		h()
	}
}

func (p *BLEPeripheral) DiscoverServices(ctx context.Context, filter []string) ([]device.Service, error) {
	uuids, err := parseUUIDs(filter)
	if err != nil {
		return nil, err
	}

	svcs, err := withContext(ctx, func() ([]*ble.Service, error) {
		return p.client.DiscoverServices(uuids)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to discover services: %w", NormalizeError(err))
	}

	result := make([]device.Service, 0, len(svcs))
	for _, s := range svcs {
		svc := newService(s)
		p.logger.WithFields(logrus.Fields{
			"service_uuid": svc.UUID(),
			"name":         svc.KnownName(),
		}).Debug("Found service UUID")
		result = append(result, svc)
	}
	return result, nil
}

func (p *BLEPeripheral) DiscoverCharacteristics(ctx context.Context, svc device.Service, filter []string) ([]device.Characteristic, error) {
	bleSvc, ok := svc.(*BLEService)
	if !ok {
		return nil, fmt.Errorf("service %s was not discovered by go-ble: %w", svc.UUID(), device.ErrUnsupported)
	}
	uuids, err := parseUUIDs(filter)
	if err != nil {
		return nil, err
	}

	chars, err := withContext(ctx, func() ([]*ble.Characteristic, error) {
		return p.client.DiscoverCharacteristics(uuids, bleSvc.service)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to discover characteristics of service %s: %w", bleSvc.UUID(), NormalizeError(err))
	}

	result := make([]device.Characteristic, 0, len(chars))
	for _, c := range chars {
		char := newCharacteristic(c)
		p.logger.WithFields(logrus.Fields{
			"service_uuid": bleSvc.UUID(),
			"char_uuid":    char.UUID(),
			"name":         char.KnownName(),
		}).Debug("Found characteristic UUID")
		result = append(result, char)
	}
	return result, nil
}

func (p *BLEPeripheral) ReadCharacteristic(ctx context.Context, char device.Characteristic) ([]byte, error) {
	c, err := asCharacteristic(char)
	if err != nil {
		return nil, err
	}
	data, err := withContext(ctx, func() ([]byte, error) {
		return p.client.ReadCharacteristic(c.char)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read characteristic %s: %w", c.UUID(), NormalizeError(err))
	}
	return data, nil
}

// Subscribe discovers the characteristic's descriptors (the CCCD handle is
// required by the HCI client) and enables notifications, falling back to
// indications for characteristics that only indicate.
func (p *BLEPeripheral) Subscribe(ctx context.Context, char device.Characteristic, handler func([]byte)) error {
	c, err := asCharacteristic(char)
	if err != nil {
		return err
	}
	if !c.CanNotify() {
		return fmt.Errorf("characteristic %s does not support notifications: %w", c.UUID(), device.ErrUnsupported)
	}

	indicate := c.char.Property&ble.CharNotify == 0

	_, err = withContext(ctx, func() (struct{}, error) {
		if c.char.CCCD == nil {
			if _, err := p.client.DiscoverDescriptors(nil, c.char); err != nil {
				return struct{}{}, fmt.Errorf("failed to discover descriptors: %w", err)
			}
		}
		return struct{}{}, p.client.Subscribe(c.char, indicate, func(data []byte) {
			buf := make([]byte, len(data))
			copy(buf, data)
			handler(buf)
		})
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to characteristic %s: %w", c.UUID(), NormalizeError(err))
	}

	p.logger.WithFields(logrus.Fields{
		"char_uuid": c.UUID(),
		"indicate":  indicate,
	}).Info("Successfully subscribed to characteristic notifications")
	return nil
}

func (p *BLEPeripheral) Disconnect() error {
	p.mu.Lock()
	done := p.disconnected
	p.mu.Unlock()
	if done {
		p.logger.Debug("Disconnect called but already disconnected")
		return nil
	}

	if err := p.client.CancelConnection(); err != nil {
		return fmt.Errorf("failed to cancel connection: %w", NormalizeError(err))
	}
	return nil
}

func asCharacteristic(char device.Characteristic) (*BLECharacteristic, error) {
	c, ok := char.(*BLECharacteristic)
	if !ok {
		return nil, fmt.Errorf("characteristic %s was not discovered by go-ble: %w", char.UUID(), device.ErrUnsupported)
	}
	return c, nil
}

func parseUUIDs(in []string) ([]ble.UUID, error) {
	if len(in) == 0 {
		return nil, nil
	}
	out := make([]ble.UUID, 0, len(in))
	for _, s := range in {
		u, err := ble.Parse(device.NormalizeUUID(s))
		if err != nil {
			return nil, fmt.Errorf("invalid UUID %q: %w", s, err)
		}
		out = append(out, u)
	}
	return out, nil
}

// withContext runs a blocking go-ble call and abandons it when ctx is done.
// go-ble client calls take no context; an abandoned call finishes in the
// background and its result is dropped.
func withContext[T any](ctx context.Context, op func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := op()
		ch <- result{v, err}
	}()

	select {
	case <-ctx.Done():
		var zero T
		return zero, device.ContextError(ctx)
	case r := <-ch:
		return r.v, r.err
	}
}
