//go:build darwin

package main

const (
	exampleDeviceAddress = "01234567-89AB-CDEF-0123-456789ABCDEF"
	deviceAddressNote    = "Device address format: CoreBluetooth peripheral UUID\n  Example: 01234567-89AB-CDEF-0123-456789ABCDEF\n  Use 'doorbell20 scan' to discover the doorbell"
)
