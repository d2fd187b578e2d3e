package device

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Type identifies the peripheral family configured for an address.
type Type string

const (
	TypeShutter    Type = "shutter"
	TypeThermostat Type = "thermostat"
	TypeSensor     Type = "sensor"
)

// Types lists every supported device family in display order.
var Types = []Type{TypeShutter, TypeThermostat, TypeSensor}

// ParseType converts a configured device type string to a Type.
// An empty string yields TypeShutter, which is what older device entries
// without an explicit type always meant.
func ParseType(s string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(TypeShutter):
		return TypeShutter, nil
	case string(TypeThermostat):
		return TypeThermostat, nil
	case string(TypeSensor):
		return TypeSensor, nil
	default:
		return "", &ValidationError{Field: "device type", Value: s, Reason: fmt.Sprintf("must be one of %v", Types)}
	}
}

func (t Type) String() string {
	return string(t)
}

// NormalizeAddress returns the canonical form used as a registry key:
// trimmed and upper-cased. CoreBluetooth UUID-style identifiers normalise the same way.
func NormalizeAddress(address string) string {
	return strings.ToUpper(strings.TrimSpace(address))
}

// Peripheral is the handle returned by a Resolver for a recently seen device.
type Peripheral struct {
	Address     string
	Name        string
	RSSI        int
	Connectable bool
	LastSeen    time.Time
}

// DisplayName returns the advertised local name, or the address when the
// peripheral did not advertise one.
func (p Peripheral) DisplayName() string {
	if p.Name == "" {
		return p.Address
	}
	return p.Name
}

// Advertisement is the subset of a BLE advertisement the scanner consumes.
type Advertisement interface {
	LocalName() string
	ManufacturerData() []byte
	Connectable() bool
	RSSI() int
	Addr() string
}

// ScanningDevice represents a BLE device capable of scanning for advertisements
type ScanningDevice interface {
	Scan(ctx context.Context, allowDup bool, handler func(Advertisement)) error
}

// Session is an open link to one peripheral. It is only ever held by the
// connection manager that created it.
type Session interface {
	Address() string
}

// ConnectOptions bound a single connect call on a Transport.
type ConnectOptions struct {
	Attempts       int
	AttemptTimeout time.Duration
	Pair           bool
}

// Resolver looks up the current handle for an address.
// Implementations return an error wrapping ErrPeripheralNotFound when the
// address has not been seen.
type Resolver interface {
	Resolve(ctx context.Context, address string) (Peripheral, error)
}

// Transport opens sessions and writes command frames over them.
type Transport interface {
	Connect(ctx context.Context, p Peripheral, opts ConnectOptions) (Session, error)
	Write(ctx context.Context, s Session, data []byte, timeout time.Duration, withResponse bool) error
	Disconnect(s Session) error
}
