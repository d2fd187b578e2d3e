package testutils

import (
	"encoding/binary"

	"github.com/srg/girable/internal/device"
)

// VendorID is the manufacturer id carried by every vendor advertisement.
const VendorID uint16 = 0x0584

// FakeAdvertisement is a static device.Advertisement.
type FakeAdvertisement struct {
	Name       string
	Address    string
	Rssi       int
	ManufData  []byte
	CanConnect bool
}

func (a *FakeAdvertisement) LocalName() string        { return a.Name }
func (a *FakeAdvertisement) ManufacturerData() []byte { return a.ManufData }
func (a *FakeAdvertisement) Connectable() bool        { return a.CanConnect }
func (a *FakeAdvertisement) RSSI() int                { return a.Rssi }
func (a *FakeAdvertisement) Addr() string             { return a.Address }

// AdvertisementBuilder builds fake advertisements for testing.
// Manufacturer data is assembled the way BLE stacks report it: the
// little-endian company id followed by the vendor payload.
type AdvertisementBuilder struct {
	adv       FakeAdvertisement
	companyID uint16
	payload   []byte
	rawSet    bool
}

// NewAdvertisementBuilder creates a builder for a connectable vendor advertisement.
func NewAdvertisementBuilder() *AdvertisementBuilder {
	return &AdvertisementBuilder{
		adv:       FakeAdvertisement{CanConnect: true, Rssi: -60},
		companyID: VendorID,
	}
}

// WithName sets the local name for the advertisement.
func (b *AdvertisementBuilder) WithName(name string) *AdvertisementBuilder {
	b.adv.Name = name
	return b
}

// WithAddress sets the device address for the advertisement.
func (b *AdvertisementBuilder) WithAddress(addr string) *AdvertisementBuilder {
	b.adv.Address = addr
	return b
}

// WithRSSI sets the signal strength for the advertisement.
func (b *AdvertisementBuilder) WithRSSI(rssi int) *AdvertisementBuilder {
	b.adv.Rssi = rssi
	return b
}

// WithConnectable sets whether the device accepts connections.
func (b *AdvertisementBuilder) WithConnectable(c bool) *AdvertisementBuilder {
	b.adv.CanConnect = c
	return b
}

// WithCompanyID overrides the manufacturer id prefix.
func (b *AdvertisementBuilder) WithCompanyID(id uint16) *AdvertisementBuilder {
	b.companyID = id
	return b
}

// WithPayload sets the vendor payload that follows the company id.
func (b *AdvertisementBuilder) WithPayload(payload []byte) *AdvertisementBuilder {
	b.payload = payload
	return b
}

// WithRawManufacturerData sets manufacturer data verbatim, company id included.
func (b *AdvertisementBuilder) WithRawManufacturerData(data []byte) *AdvertisementBuilder {
	b.adv.ManufData = data
	b.rawSet = true
	return b
}

// Build returns the advertisement.
func (b *AdvertisementBuilder) Build() *FakeAdvertisement {
	adv := b.adv
	if !b.rawSet {
		adv.ManufData = WithCompanyID(b.companyID, b.payload)
	}
	return &adv
}

var _ device.Advertisement = (*FakeAdvertisement)(nil)

// WithCompanyID prefixes payload with id in little-endian order.
func WithCompanyID(id uint16, payload []byte) []byte {
	out := make([]byte, 2, 2+len(payload))
	binary.LittleEndian.PutUint16(out, id)
	return append(out, payload...)
}

// ShutterPayload embeds a shutter position marker and raw byte between filler bytes.
func ShutterPayload(raw byte) []byte {
	return []byte{0x00, 0x11, 0xF7, 0x03, 0x20, 0x01, 0xF6, 0x10, 0x01, raw, 0x22}
}

// ThermostatCurrentPayload embeds a current temperature marker and its big-endian raw value.
func ThermostatCurrentPayload(raw uint16) []byte {
	return append([]byte{0x05, 0xF7, 0x01, 0x41, 0x01, 0xFE, 0x10, 0x01}, byte(raw>>8), byte(raw))
}

// ThermostatTargetPayload embeds a target temperature marker and its big-endian raw value.
func ThermostatTargetPayload(raw uint16) []byte {
	return append([]byte{0x05, 0xF7, 0x00, 0x65, 0x01, 0xFF, 0x10, 0x01}, byte(raw>>8), byte(raw))
}

// SensorFrame builds a 13-byte sensor frame for selector sel with raw split hi=[11], lo=[12].
func SensorFrame(sel byte, raw uint16) []byte {
	f := make([]byte, 13)
	f[0] = 0xF7
	f[8] = sel
	f[9] = 0x10
	f[10] = 0x01
	f[11] = byte(raw >> 8)
	f[12] = byte(raw)
	return f
}
