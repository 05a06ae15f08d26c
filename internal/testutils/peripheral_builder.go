package testutils

import (
	"encoding/json"
	"fmt"

	"github.com/srg/doorbell20/internal/bledb"
)

// CharacteristicConfig represents a GATT characteristic of a fake peripheral
type CharacteristicConfig struct {
	UUID  string `json:"uuid"`
	Value []byte `json:"value,omitempty"`
}

// ServiceConfig represents a GATT service of a fake peripheral
type ServiceConfig struct {
	UUID            string                 `json:"uuid"`
	Characteristics []CharacteristicConfig `json:"characteristics,omitempty"`
}

// DeviceProfileConfig represents the complete GATT profile of a fake peripheral
type DeviceProfileConfig struct {
	Services []ServiceConfig `json:"services"`
}

// PeripheralBuilder builds a FakePeripheral
type PeripheralBuilder struct {
	address string
	profile DeviceProfileConfig

	servicesErr error
	charsErr    error
	readErr     error
	subErr      error
	subGate     *Gate
	subNotify   []byte
	discErr     error
}

// NewPeripheralBuilder creates a builder for a peripheral without services
func NewPeripheralBuilder(address string) *PeripheralBuilder {
	return &PeripheralBuilder{
		address: address,
		profile: DeviceProfileConfig{Services: []ServiceConfig{}},
	}
}

// NewDoorbellPeripheral creates a builder preloaded with the DoorBell20 GATT
// profile: the doorbell service with its alarm and local time characteristics.
func NewDoorbellPeripheral(address string) *PeripheralBuilder {
	return NewPeripheralBuilder(address).
		WithService(bledb.DoorBellService).
		WithCharacteristic(bledb.DoorBellAlarm, []byte{0, 0, 0, 0}).
		WithCharacteristic(bledb.DoorBellLocalTime, []byte{0x3c, 0, 0, 0})
}

// WithService adds a service to the device profile
func (b *PeripheralBuilder) WithService(uuid string) *PeripheralBuilder {
	b.profile.Services = append(b.profile.Services, ServiceConfig{
		UUID:            uuid,
		Characteristics: []CharacteristicConfig{},
	})
	return b
}

// WithCharacteristic adds a characteristic to the last added service
func (b *PeripheralBuilder) WithCharacteristic(uuid string, value []byte) *PeripheralBuilder {
	if len(b.profile.Services) == 0 {
		panic("WithCharacteristic: no service added yet, call WithService first")
	}
	last := len(b.profile.Services) - 1
	b.profile.Services[last].Characteristics = append(b.profile.Services[last].Characteristics,
		CharacteristicConfig{UUID: uuid, Value: value})
	return b
}

// WithoutCharacteristic removes a characteristic from every service
func (b *PeripheralBuilder) WithoutCharacteristic(uuid string) *PeripheralBuilder {
	target := bledb.NormalizeUUID(uuid)
	for i := range b.profile.Services {
		chars := b.profile.Services[i].Characteristics[:0]
		for _, c := range b.profile.Services[i].Characteristics {
			if bledb.NormalizeUUID(c.UUID) != target {
				chars = append(chars, c)
			}
		}
		b.profile.Services[i].Characteristics = chars
	}
	return b
}

// FromJSON fills the device profile from JSON
func (b *PeripheralBuilder) FromJSON(jsonStrFmt string, args ...interface{}) *PeripheralBuilder {
	jsonStr := fmt.Sprintf(jsonStrFmt, args...)

	var config DeviceProfileConfig
	if err := json.Unmarshal([]byte(jsonStr), &config); err != nil {
		panic(fmt.Sprintf("PeripheralBuilder.FromJSON: failed to unmarshal: %v", err))
	}

	b.profile = config
	return b
}

func (b *PeripheralBuilder) WithDiscoverServicesError(err error) *PeripheralBuilder {
	b.servicesErr = err
	return b
}

func (b *PeripheralBuilder) WithDiscoverCharacteristicsError(err error) *PeripheralBuilder {
	b.charsErr = err
	return b
}

func (b *PeripheralBuilder) WithReadError(err error) *PeripheralBuilder {
	b.readErr = err
	return b
}

func (b *PeripheralBuilder) WithSubscribeError(err error) *PeripheralBuilder {
	b.subErr = err
	return b
}

// WithSubscribeGate makes Subscribe block until gate is opened
func (b *PeripheralBuilder) WithSubscribeGate(gate *Gate) *PeripheralBuilder {
	b.subGate = gate
	return b
}

// WithNotificationOnSubscribe makes Subscribe deliver data to the handler
// before it returns, as a device does when it rings right after the CCCD write.
func (b *PeripheralBuilder) WithNotificationOnSubscribe(data []byte) *PeripheralBuilder {
	b.subNotify = append([]byte(nil), data...)
	return b
}

// WithDisconnectError makes Disconnect report err after dropping the link.
func (b *PeripheralBuilder) WithDisconnectError(err error) *PeripheralBuilder {
	b.discErr = err
	return b
}

// GetServices returns the configured services
func (b *PeripheralBuilder) GetServices() []ServiceConfig {
	return b.profile.Services
}

// Build creates the FakePeripheral
func (b *PeripheralBuilder) Build() *FakePeripheral {
	p := &FakePeripheral{
		address:     b.address,
		servicesErr: b.servicesErr,
		charsErr:    b.charsErr,
		readErr:     b.readErr,
		subErr:      b.subErr,
		subGate:     b.subGate,
		subNotify:   b.subNotify,
		discErr:     b.discErr,
	}
	for _, sc := range b.profile.Services {
		svc := &fakeService{uuid: bledb.NormalizeUUID(sc.UUID)}
		for _, cc := range sc.Characteristics {
			svc.chars = append(svc.chars, &fakeCharacteristic{
				uuid:  bledb.NormalizeUUID(cc.UUID),
				value: append([]byte(nil), cc.Value...),
			})
		}
		p.services = append(p.services, svc)
	}
	return p
}
