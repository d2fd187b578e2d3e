package device

import (
	"strings"
)

// Vendor GATT identifiers. Command frames go to the write characteristic.
const (
	ServiceUUID   = "9769F147-F77A-43AE-8C35-09F0C5245308"
	WriteCharUUID = "97696341-F77A-43AE-8C35-09F0C5245308"
	ReadCharUUID  = "9769C769-F77A-43AE-8C35-09F0C5245308"
)

// sigBaseSuffix is the Bluetooth SIG base UUID tail (without dashes).
const sigBaseSuffix = "00001000800000805f9b34fb"

// NormalizeUUID converts a UUID string to the internal BLE library format (lowercase, no dashes).
// Strips a 0x prefix if present, and shortens full 128-bit UUIDs in the Bluetooth SIG
// base format (0000xxxx-0000-1000-8000-00805f9b34fb) to their 16-bit form.
func NormalizeUUID(uuid string) string {
	u := strings.ToLower(strings.TrimSpace(uuid))
	u = strings.TrimPrefix(u, "0x")
	u = strings.ReplaceAll(u, "-", "")

	if len(u) == 32 && strings.HasPrefix(u, "0000") && strings.HasSuffix(u, sigBaseSuffix) {
		return u[4:8]
	}
	return u
}

// ShortenUUID returns a truncated version of a UUID for display purposes.
// Returns the first eight characters for long UUIDs and short UUIDs by themselves.
func ShortenUUID(uuid string) string {
	if len(uuid) > 8 {
		return uuid[:8]
	}
	return uuid
}
