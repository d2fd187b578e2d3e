// Package device holds the types shared by the protocol, link and scanner layers:
// device families, resolver handles, the collaborator interfaces the connection
// manager drives, and the error taxonomy surfaced to command issuers.
//
// Concrete BLE implementations of the collaborators live in the go-ble
// sub-package; the core packages depend only on the interfaces defined here.
package device
