//go:build linux

package goble

import (
	"fmt"

	"github.com/go-ble/ble"
	"github.com/go-ble/ble/linux"
	"github.com/go-ble/ble/linux/hci/cmd"
)

// passiveScanParameters configures the controller for passive scanning: the
// DoorBell20 advertises its service UUID in the primary advertising packet, so
// no scan requests are needed.
var passiveScanParameters = cmd.LESetScanParameters{
	LEScanType:           0x00,   // 0x00: passive
	LEScanInterval:       0x0060, // 0x0004 - 0x4000; N * 0.625msec
	LEScanWindow:         0x0030, // 0x0004 - 0x4000; N * 0.625msec
	OwnAddressType:       0x00,   // 0x00: public
	ScanningFilterPolicy: 0x00,   // 0x00: accept all
}

func newPlatformDevice() (ble.Device, error) {
	d, err := linux.NewDevice()
	if err != nil {
		return nil, err
	}

	params := passiveScanParameters
	if err := d.HCI.Send(&params, nil); err != nil {
		_ = d.Stop()
		return nil, fmt.Errorf("failed to set passive scan parameters: %w", err)
	}
	return d, nil
}
