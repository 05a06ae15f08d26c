package goble

import (
	"github.com/go-ble/ble"
	"github.com/srg/doorbell20/internal/device"
)

// NewScanResult converts a go-ble advertisement into a device.ScanResult
func NewScanResult(adv ble.Advertisement) device.ScanResult {
	services := adv.Services()
	uuids := make([]string, len(services))
	for i, svc := range services {
		uuids[i] = device.NormalizeUUID(svc.String())
	}

	var addr string
	if a := adv.Addr(); a != nil {
		addr = a.String()
	}

	return device.ScanResult{
		Address:     addr,
		LocalName:   adv.LocalName(),
		RSSI:        adv.RSSI(),
		Connectable: adv.Connectable(),
		Services:    uuids,
	}
}

// advertisesService reports whether adv lists the normalized service UUID in
// its complete, incomplete or overflow service lists.
func advertisesService(adv ble.Advertisement, normalized string) bool {
	if normalized == "" {
		return true
	}
	for _, list := range [][]ble.UUID{adv.Services(), adv.OverflowService()} {
		for _, u := range list {
			if device.NormalizeUUID(u.String()) == normalized {
				return true
			}
		}
	}
	return false
}
