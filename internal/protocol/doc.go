// Package protocol encodes command frames and decodes manufacturer-specific
// advertisements for the vendor's BLE shutter, thermostat and sensor peripherals.
//
// Both directions are pure: nothing here touches the radio.
//
// Command frames are written to the vendor write characteristic and share one
// layout:
//
//	prefix(4) ‖ property id(1) ‖ 10 01 ‖ value(1 or 2, big-endian)
//
// Advertisements are decoded by one of two strategies, selected by device type.
// Shutters and thermostats embed fixed markers at arbitrary offsets, so the
// subsequence strategy scans for them. Sensors broadcast an exact 13-byte frame
// read with the fixed-offset strategy.
package protocol
