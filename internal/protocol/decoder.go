package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/srg/girable/internal/device"
	"github.com/srg/girable/internal/state"
)

// Reject explains why an advertisement produced no fields. It is not an error:
// callers log it at debug level and wait for the next advertisement.
type Reject string

const (
	Accepted           Reject = ""
	RejectManufacturer Reject = "foreign manufacturer id"
	RejectNoMarker     Reject = "marker not found"
	RejectTruncated    Reject = "value truncated after marker"
	RejectLength       Reject = "unexpected frame length"
	RejectConstant     Reject = "bad constant bytes"
	RejectSelector     Reject = "unknown command selector"
)

// Decoder turns one manufacturer payload (company id already stripped) into
// a partial field set.
type Decoder interface {
	Decode(payload []byte) (state.Fields, Reject)
}

// DecoderFor returns the decoding strategy for t.
func DecoderFor(t device.Type) (Decoder, error) {
	switch t {
	case device.TypeShutter:
		return ShutterDecoder, nil
	case device.TypeThermostat:
		return ThermostatDecoder, nil
	case device.TypeSensor:
		return SensorDecoder, nil
	default:
		return nil, fmt.Errorf("no decoder for device type %q: %w", t, device.ErrUnsupported)
	}
}

// Marker is a byte sequence followed by a fixed-width value.
type Marker struct {
	Field   state.Field
	Seq     []byte
	Width   int
	Convert func(value []byte) float64
}

// SubsequenceDecoder searches the payload for each marker independently.
// Markers may sit at any offset; the first occurrence wins.
type SubsequenceDecoder struct {
	Markers []Marker
}

func (d *SubsequenceDecoder) Decode(payload []byte) (state.Fields, Reject) {
	fields := state.Fields{}
	reason := RejectNoMarker
	for _, m := range d.Markers {
		idx := bytes.Index(payload, m.Seq)
		if idx < 0 {
			continue
		}
		start := idx + len(m.Seq)
		if len(payload) < start+m.Width {
			reason = RejectTruncated
			continue
		}
		fields[m.Field] = m.Convert(payload[start : start+m.Width])
	}
	if len(fields) == 0 {
		return fields, reason
	}
	return fields, Accepted
}

// SensorFrameDecoder reads the sensor's exact 13-byte frame at fixed offsets.
type SensorFrameDecoder struct{}

const (
	sensorFrameLen = 13

	sensorSelectorTemperature byte = 0xFE
	sensorSelectorBrightness  byte = 0xFF

	// lux = 10^(brightnessA*raw + brightnessB), fitted against a reference meter.
	brightnessA = 0.00015070156043542327
	brightnessB = 0.9468552783240188
)

func (SensorFrameDecoder) Decode(payload []byte) (state.Fields, Reject) {
	if len(payload) != sensorFrameLen {
		return state.Fields{}, RejectLength
	}
	if payload[9] != frameSuffix[0] || payload[10] != frameSuffix[1] {
		return state.Fields{}, RejectConstant
	}

	// hi at 11, lo at 12; the thermostat reads the opposite way round.
	raw := uint16(payload[12]) | uint16(payload[11])<<8

	switch payload[8] {
	case sensorSelectorTemperature:
		return state.Fields{state.SensorTemperature: sensorTemperature(raw)}, Accepted
	case sensorSelectorBrightness:
		return state.Fields{state.SensorBrightness: sensorBrightness(raw)}, Accepted
	default:
		return state.Fields{}, RejectSelector
	}
}

// Decoding strategies per device type.
var (
	ShutterDecoder Decoder = &SubsequenceDecoder{Markers: []Marker{
		{Field: state.Position, Seq: []byte{0xF7, 0x03, 0x20, 0x01, 0xF6, 0x10, 0x01}, Width: 1, Convert: shutterPosition},
	}}

	ThermostatDecoder Decoder = &SubsequenceDecoder{Markers: []Marker{
		{Field: state.CurrentTemperature, Seq: []byte{0xF7, 0x01, 0x41, 0x01, 0xFE, 0x10, 0x01}, Width: 2, Convert: thermostatTemperature},
		{Field: state.TargetTemperature, Seq: []byte{0xF7, 0x00, 0x65, 0x01, 0xFF, 0x10, 0x01}, Width: 2, Convert: thermostatTemperature},
	}}

	SensorDecoder Decoder = SensorFrameDecoder{}
)

// shutterPosition inverts the raw byte: 0x00 is fully open (100), 0xFF closed (0).
func shutterPosition(v []byte) float64 {
	return math.RoundToEven(100 * float64(255-int(v[0])) / 255)
}

// thermostatTemperature applies the firmware's offset: raw values above 2100
// read 10 °C low. 2100 itself is not shifted.
func thermostatTemperature(v []byte) float64 {
	raw := binary.BigEndian.Uint16(v)
	t := float64(raw) / 100.0
	if raw > 2100 {
		t -= 10.0
	}
	return t
}

func sensorTemperature(raw uint16) float64 {
	if raw > 0x8000 {
		return float64(0x8000-int(raw)) / 100.0
	}
	return float64(raw) / 100.0
}

func sensorBrightness(raw uint16) float64 {
	lux := math.Pow(10, brightnessA*float64(raw)+brightnessB)
	if lux < 0 {
		return 0
	}
	return lux
}

// SplitManufacturerData separates the little-endian company id that BLE stacks
// leave in front of manufacturer data. ok is false when data is too short.
func SplitManufacturerData(data []byte) (id uint16, payload []byte, ok bool) {
	if len(data) < 2 {
		return 0, nil, false
	}
	return binary.LittleEndian.Uint16(data[:2]), data[2:], true
}

// DecodeManufacturerData strips the company id from data and decodes the payload
// with d. Data from any manufacturer other than ManufacturerID is rejected.
func DecodeManufacturerData(d Decoder, data []byte) (state.Fields, Reject) {
	id, payload, ok := SplitManufacturerData(data)
	if !ok {
		return state.Fields{}, RejectLength
	}
	if id != ManufacturerID {
		return state.Fields{}, RejectManufacturer
	}
	return d.Decode(payload)
}
