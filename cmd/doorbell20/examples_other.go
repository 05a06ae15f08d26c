//go:build !darwin

package main

const (
	exampleDeviceAddress = "f3:23:0d:4c:ce:1b"
	deviceAddressNote    = "Device address format: colon-separated hex octets, any case\n  Example: F3:23:0D:4C:CE:1B\n  Use 'doorbell20 scan' to discover the doorbell"
)
