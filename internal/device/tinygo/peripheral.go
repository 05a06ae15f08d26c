package tinygo

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/srg/doorbell20/internal/device"
	"tinygo.org/x/bluetooth"
)

// maxReadSize bounds characteristic reads; DoorBell20 values are 4 bytes.
const maxReadSize = 512

// Peripheral is a tinygo connection to a peripheral.
type Peripheral struct {
	address string
	dev     bluetooth.Device
	logger  *logrus.Logger

	mu           sync.Mutex
	onDisconnect func()
	disconnected bool
}

type service struct {
	svc bluetooth.DeviceService
}

func (s *service) UUID() string { return device.NormalizeUUID(s.svc.UUID().String()) }

type characteristic struct {
	char bluetooth.DeviceCharacteristic
}

func (c *characteristic) UUID() string { return device.NormalizeUUID(c.char.UUID().String()) }

func (p *Peripheral) Address() string { return p.address }

func (p *Peripheral) OnDisconnect(handler func()) {
	p.mu.Lock()
	if p.disconnected {
		p.mu.Unlock()
		handler()
		return
	}
	p.onDisconnect = handler
	p.mu.Unlock()
}

func (p *Peripheral) fireDisconnect() {
	p.mu.Lock()
	if p.disconnected {
		p.mu.Unlock()
		return
	}
	p.disconnected = true
	h := p.onDisconnect
	p.onDisconnect = nil
	p.mu.Unlock()

	p.logger.WithField("address", p.address).Debug("tinygo reported disconnection")
	if h != nil {
		h()
	}
}

func (p *Peripheral) DiscoverServices(ctx context.Context, filter []string) ([]device.Service, error) {
	uuids, err := parseUUIDs(filter)
	if err != nil {
		return nil, err
	}
	svcs, err := run(ctx, func() ([]bluetooth.DeviceService, error) {
		return p.dev.DiscoverServices(uuids)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to discover services: %w", device.NormalizeError(err))
	}

	out := make([]device.Service, 0, len(svcs))
	for i := range svcs {
		out = append(out, &service{svc: svcs[i]})
	}
	return out, nil
}

func (p *Peripheral) DiscoverCharacteristics(ctx context.Context, svc device.Service, filter []string) ([]device.Characteristic, error) {
	s, ok := svc.(*service)
	if !ok {
		return nil, fmt.Errorf("service %s was not discovered by tinygo: %w", svc.UUID(), device.ErrUnsupported)
	}
	uuids, err := parseUUIDs(filter)
	if err != nil {
		return nil, err
	}
	chars, err := run(ctx, func() ([]bluetooth.DeviceCharacteristic, error) {
		return s.svc.DiscoverCharacteristics(uuids)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to discover characteristics of service %s: %w", s.UUID(), device.NormalizeError(err))
	}

	out := make([]device.Characteristic, 0, len(chars))
	for i := range chars {
		out = append(out, &characteristic{char: chars[i]})
	}
	return out, nil
}

func (p *Peripheral) ReadCharacteristic(ctx context.Context, char device.Characteristic) ([]byte, error) {
	c, ok := char.(*characteristic)
	if !ok {
		return nil, fmt.Errorf("characteristic %s was not discovered by tinygo: %w", char.UUID(), device.ErrUnsupported)
	}
	return run(ctx, func() ([]byte, error) {
		buf := make([]byte, maxReadSize)
		n, err := c.char.Read(buf)
		if err != nil {
			return nil, fmt.Errorf("failed to read characteristic %s: %w", c.UUID(), device.NormalizeError(err))
		}
		return buf[:n], nil
	})
}

func (p *Peripheral) Subscribe(ctx context.Context, char device.Characteristic, handler func([]byte)) error {
	c, ok := char.(*characteristic)
	if !ok {
		return fmt.Errorf("characteristic %s was not discovered by tinygo: %w", char.UUID(), device.ErrUnsupported)
	}
	_, err := run(ctx, func() (struct{}, error) {
		return struct{}{}, c.char.EnableNotifications(func(buf []byte) {
			data := make([]byte, len(buf))
			copy(data, buf)
			handler(data)
		})
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to characteristic %s: %w", c.UUID(), device.NormalizeError(err))
	}
	return nil
}

func (p *Peripheral) Disconnect() error {
	p.mu.Lock()
	done := p.disconnected
	p.mu.Unlock()
	if done {
		return nil
	}
	return p.dev.Disconnect()
}

func parseUUIDs(in []string) ([]bluetooth.UUID, error) {
	if len(in) == 0 {
		return nil, nil
	}
	out := make([]bluetooth.UUID, 0, len(in))
	for _, s := range in {
		u, err := parseUUID(s)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, nil
}

func run[T any](ctx context.Context, op func() (T, error)) (T, error) {
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

var _ device.Peripheral = (*Peripheral)(nil)
