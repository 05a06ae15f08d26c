package testutils

import (
	"context"
	"fmt"
	"sync"

	"github.com/srg/doorbell20/internal/device"
)

type fakeService struct {
	uuid  string
	chars []*fakeCharacteristic
}

func (s *fakeService) UUID() string { return s.uuid }

type fakeCharacteristic struct {
	uuid  string
	value []byte
}

func (c *fakeCharacteristic) UUID() string { return c.uuid }

// FakePeripheral is an in-memory device.Peripheral. Tests drive it with
// Notify and DropConnection and inspect it with the counters.
type FakePeripheral struct {
	address  string
	services []*fakeService

	servicesErr error
	charsErr    error
	readErr     error
	subErr      error
	subGate     *Gate
	subNotify   []byte
	discErr     error

	mu           sync.Mutex
	connected    bool
	onDisconnect func()
	handler      func([]byte)
	subscribes   int
	reads        int
	disconnects  int
	discoveries  int
}

func (p *FakePeripheral) Address() string { return p.address }

// connect resets the per-connection state. Called by FakeAdapter.Connect.
func (p *FakePeripheral) connect() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connected = true
	p.onDisconnect = nil
	p.handler = nil
}

func (p *FakePeripheral) OnDisconnect(handler func()) {
	p.mu.Lock()
	if !p.connected {
		p.mu.Unlock()
		handler()
		return
	}
	p.onDisconnect = handler
	p.mu.Unlock()
}

func (p *FakePeripheral) DiscoverServices(ctx context.Context, filter []string) ([]device.Service, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.discoveries++
	p.mu.Unlock()

	if p.servicesErr != nil {
		return nil, p.servicesErr
	}

	var out []device.Service
	for _, s := range p.services {
		if len(filter) == 0 || containsUUID(filter, s.uuid) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (p *FakePeripheral) DiscoverCharacteristics(ctx context.Context, svc device.Service, filter []string) ([]device.Characteristic, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.charsErr != nil {
		return nil, p.charsErr
	}
	s, ok := svc.(*fakeService)
	if !ok {
		return nil, fmt.Errorf("service %s does not belong to this peripheral: %w", svc.UUID(), device.ErrUnsupported)
	}

	var out []device.Characteristic
	for _, c := range s.chars {
		if len(filter) == 0 || containsUUID(filter, c.uuid) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (p *FakePeripheral) ReadCharacteristic(ctx context.Context, char device.Characteristic) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.reads++
	p.mu.Unlock()

	if p.readErr != nil {
		return nil, p.readErr
	}
	c, ok := char.(*fakeCharacteristic)
	if !ok {
		return nil, fmt.Errorf("characteristic %s does not belong to this peripheral: %w", char.UUID(), device.ErrUnsupported)
	}
	return append([]byte(nil), c.value...), nil
}

func (p *FakePeripheral) Subscribe(ctx context.Context, char device.Characteristic, handler func([]byte)) error {
	p.mu.Lock()
	p.subscribes++
	p.mu.Unlock()

	if err := p.subGate.Wait(ctx); err != nil {
		return err
	}
	if p.subErr != nil {
		return p.subErr
	}
	if _, ok := char.(*fakeCharacteristic); !ok {
		return fmt.Errorf("characteristic %s does not belong to this peripheral: %w", char.UUID(), device.ErrUnsupported)
	}

	p.mu.Lock()
	p.handler = handler
	p.mu.Unlock()

	if p.subNotify != nil {
		handler(append([]byte(nil), p.subNotify...))
	}
	return nil
}

func (p *FakePeripheral) Disconnect() error {
	p.mu.Lock()
	p.disconnects++
	p.mu.Unlock()
	p.DropConnection()
	return p.discErr
}

// Notify delivers a value-change notification. It reports false when no
// subscription is active.
func (p *FakePeripheral) Notify(data []byte) bool {
	p.mu.Lock()
	h := p.handler
	connected := p.connected
	p.mu.Unlock()

	if h == nil || !connected {
		return false
	}
	h(data)
	return true
}

// DropConnection simulates link loss and fires the disconnect observer once.
func (p *FakePeripheral) DropConnection() {
	p.mu.Lock()
	if !p.connected {
		p.mu.Unlock()
		return
	}
	p.connected = false
	h := p.onDisconnect
	p.onDisconnect = nil
	p.handler = nil
	p.mu.Unlock()

	if h != nil {
		h()
	}
}

func (p *FakePeripheral) Subscribed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.handler != nil && p.connected
}

func (p *FakePeripheral) Connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

func (p *FakePeripheral) SubscribeCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.subscribes
}

func (p *FakePeripheral) ReadCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reads
}

func (p *FakePeripheral) DisconnectCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.disconnects
}

func (p *FakePeripheral) DiscoverServicesCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.discoveries
}

func containsUUID(list []string, u string) bool {
	for _, s := range list {
		if device.EqualUUID(s, u) {
			return true
		}
	}
	return false
}

var _ device.Peripheral = (*FakePeripheral)(nil)
