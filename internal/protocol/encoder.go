package protocol

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/srg/girable/internal/device"
)

// Class selects the 4-byte frame prefix.
type Class int

const (
	ClassShutter Class = iota
	ClassThermostat
)

var classPrefixes = map[Class][4]byte{
	ClassShutter:    {0xF6, 0x03, 0x20, 0x01},
	ClassThermostat: {0xF6, 0x00, 0x65, 0x01},
}

func (c Class) String() string {
	switch c {
	case ClassShutter:
		return "shutter"
	case ClassThermostat:
		return "thermostat"
	default:
		return fmt.Sprintf("class(%d)", int(c))
	}
}

// Prefix returns the frame prefix for c.
func (c Class) Prefix() [4]byte {
	return classPrefixes[c]
}

// ClassFor maps a device type to the command class it accepts. Sensors are
// broadcast-only and have none.
func ClassFor(t device.Type) (Class, error) {
	switch t {
	case device.TypeShutter:
		return ClassShutter, nil
	case device.TypeThermostat:
		return ClassThermostat, nil
	default:
		return 0, fmt.Errorf("%s accepts no commands: %w", t, device.ErrUnsupported)
	}
}

// Direction of a move or step.
type Direction int

const (
	Up Direction = iota
	Down
)

func (d Direction) String() string {
	if d == Up {
		return "up"
	}
	return "down"
}

// Property ids.
const (
	PropShutterMove     byte = 0xFF
	PropShutterStop     byte = 0xFD
	PropShutterStep     byte = 0xFE
	PropShutterPosition byte = 0xFC

	PropThermostatTimer  byte = 0xFE
	PropThermostatStep   byte = 0xF6
	PropThermostatTarget byte = 0xF5
)

// PositionCommand sets a shutter to percent, written as-is without inversion.
func PositionCommand(percent int) (Frame, error) {
	if percent < 0 || percent > 100 {
		return Frame{}, &device.ValidationError{Field: "position", Value: percent, Reason: "must be within [0, 100]"}
	}
	return newFrame(ClassShutter.Prefix(), PropShutterPosition, byte(percent)), nil
}

// MoveCommand starts continuous shutter travel.
func MoveCommand(dir Direction) Frame {
	return newFrame(ClassShutter.Prefix(), PropShutterMove, shutterDirection(dir))
}

// StopCommand halts shutter travel.
func StopCommand() Frame {
	return newFrame(ClassShutter.Prefix(), PropShutterStop, 0x00)
}

// StepCommand nudges a shutter or a thermostat target by one increment.
// The two classes encode direction with opposite values.
func StepCommand(class Class, dir Direction) Frame {
	if class == ClassThermostat {
		v := byte(0x00)
		if dir == Up {
			v = 0x01
		}
		return newFrame(ClassThermostat.Prefix(), PropThermostatStep, v)
	}
	return newFrame(ClassShutter.Prefix(), PropShutterStep, shutterDirection(dir))
}

// TargetTemperatureCommand sets the thermostat target. The raw value
// round((21 + celsius) * 50 + 1000) is clamped to the u16 range.
func TargetTemperatureCommand(celsius float64) (Frame, error) {
	if math.IsNaN(celsius) || math.IsInf(celsius, 0) {
		return Frame{}, &device.ValidationError{Field: "target temperature", Value: celsius, Reason: "must be finite"}
	}
	raw := clampU16(math.RoundToEven((21.0+celsius)*50.0 + 1000.0))

	var v [2]byte
	binary.BigEndian.PutUint16(v[:], raw)
	return newFrame(ClassThermostat.Prefix(), PropThermostatTarget, v[:]...), nil
}

// TimerCommand starts or stops the thermostat heating timer.
func TimerCommand(start bool) Frame {
	v := byte(0x00)
	if start {
		v = 0x01
	}
	return newFrame(ClassThermostat.Prefix(), PropThermostatTimer, v)
}

func shutterDirection(dir Direction) byte {
	if dir == Down {
		return 0x01
	}
	return 0x00
}

func clampU16(v float64) uint16 {
	switch {
	case v <= 0:
		return 0
	case v >= math.MaxUint16:
		return math.MaxUint16
	default:
		return uint16(v)
	}
}
