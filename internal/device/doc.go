// Package device defines the BLE central capability used by the doorbell
// bridge, independent of any vendor stack.
//
// The package provides:
//   - Adapter: power-state observation, passive scanning and connecting
//   - Peripheral: service/characteristic discovery, reads and subscriptions,
//     plus a one-shot disconnect observer
//   - Address and UUID normalisation shared by every backend
//   - Sentinel errors and NormalizeError for mapping stack-specific failures
//
// Concrete backends live in the go-ble and tinygo subpackages.
package device
