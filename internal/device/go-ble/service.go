package goble

import (
	"github.com/go-ble/ble"
	"github.com/srg/doorbell20/internal/bledb"
	"github.com/srg/doorbell20/internal/device"
)

// BLEService wraps a discovered *ble.Service
type BLEService struct {
	uuid    string
	service *ble.Service
}

func newService(s *ble.Service) *BLEService {
	return &BLEService{uuid: device.NormalizeUUID(s.UUID.String()), service: s}
}

func (s *BLEService) UUID() string {
	return s.uuid
}

func (s *BLEService) KnownName() string {
	return bledb.LookupService(s.uuid)
}

// BLECharacteristic wraps a discovered *ble.Characteristic
type BLECharacteristic struct {
	uuid string
	char *ble.Characteristic
}

func newCharacteristic(c *ble.Characteristic) *BLECharacteristic {
	return &BLECharacteristic{uuid: device.NormalizeUUID(c.UUID.String()), char: c}
}

func (c *BLECharacteristic) UUID() string {
	return c.uuid
}

func (c *BLECharacteristic) KnownName() string {
	return bledb.LookupCharacteristic(c.uuid)
}

// CanNotify reports whether the characteristic supports notifications or indications
func (c *BLECharacteristic) CanNotify() bool {
	return c.char.Property&ble.CharNotify != 0 || c.char.Property&ble.CharIndicate != 0
}
