package protocol_test

import (
	"math"
	"testing"

	"github.com/srg/girable/internal/device"
	"github.com/srg/girable/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPositionCommand(t *testing.T) {
	tests := []struct {
		name     string
		percent  int
		expected string
	}{
		{name: "half open", percent: 50, expected: "F6 03 20 01 FC 10 01 32"},
		{name: "closed", percent: 0, expected: "F6 03 20 01 FC 10 01 00"},
		{name: "fully open", percent: 100, expected: "F6 03 20 01 FC 10 01 64"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := protocol.PositionCommand(tt.percent)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, f.String())
			assert.Equal(t, 8, f.Len(), "one-byte frame MUST be 8 bytes long")
			assert.Equal(t, protocol.PropShutterPosition, f.PropertyID())
		})
	}
}

func TestPositionCommand_OutOfRange(t *testing.T) {
	for _, p := range []int{-1, 101, 255} {
		_, err := protocol.PositionCommand(p)
		require.Error(t, err)

		var verr *device.ValidationError
		assert.ErrorAs(t, err, &verr, "position %d MUST be rejected with ValidationError", p)
		assert.Equal(t, "position", verr.Field)
	}
}

func TestShutterCommands(t *testing.T) {
	tests := []struct {
		name     string
		frame    protocol.Frame
		expected string
	}{
		{name: "move up", frame: protocol.MoveCommand(protocol.Up), expected: "F6 03 20 01 FF 10 01 00"},
		{name: "move down", frame: protocol.MoveCommand(protocol.Down), expected: "F6 03 20 01 FF 10 01 01"},
		{name: "stop", frame: protocol.StopCommand(), expected: "F6 03 20 01 FD 10 01 00"},
		{name: "step up", frame: protocol.StepCommand(protocol.ClassShutter, protocol.Up), expected: "F6 03 20 01 FE 10 01 00"},
		{name: "step down", frame: protocol.StepCommand(protocol.ClassShutter, protocol.Down), expected: "F6 03 20 01 FE 10 01 01"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.frame.String())
		})
	}
}

func TestThermostatCommands(t *testing.T) {
	tests := []struct {
		name     string
		frame    protocol.Frame
		expected string
	}{
		{name: "step up", frame: protocol.StepCommand(protocol.ClassThermostat, protocol.Up), expected: "F6 00 65 01 F6 10 01 01"},
		{name: "step down", frame: protocol.StepCommand(protocol.ClassThermostat, protocol.Down), expected: "F6 00 65 01 F6 10 01 00"},
		{name: "timer start", frame: protocol.TimerCommand(true), expected: "F6 00 65 01 FE 10 01 01"},
		{name: "timer stop", frame: protocol.TimerCommand(false), expected: "F6 00 65 01 FE 10 01 00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.frame.String())
		})
	}
}

func TestTargetTemperatureCommand(t *testing.T) {
	tests := []struct {
		name     string
		celsius  float64
		expected string
	}{
		// (21+21)*50+1000 = 3100 = 0x0C1C
		{name: "21 degrees", celsius: 21, expected: "F6 00 65 01 F5 10 01 0C 1C"},
		// (21+5)*50+1000 = 2300 = 0x08FC
		{name: "5 degrees", celsius: 5, expected: "F6 00 65 01 F5 10 01 08 FC"},
		// 21.5 -> 3125 = 0x0C35
		{name: "half degree", celsius: 21.5, expected: "F6 00 65 01 F5 10 01 0C 35"},
		// 0.25*50+1000 = 1012.5, ties round to even: 1012 = 0x03F4
		{name: "tie rounds to even", celsius: -20.75, expected: "F6 00 65 01 F5 10 01 03 F4"},
		{name: "u16 overflow clamps high", celsius: 2000, expected: "F6 00 65 01 F5 10 01 FF FF"},
		{name: "negative raw clamps low", celsius: -100, expected: "F6 00 65 01 F5 10 01 00 00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := protocol.TargetTemperatureCommand(tt.celsius)
			require.NoError(t, err, "wire-range overflow MUST clamp, not fail")
			assert.Equal(t, tt.expected, f.String())
			assert.Equal(t, 9, f.Len(), "two-byte frame MUST be 9 bytes long")
		})
	}
}

func TestTargetTemperatureCommand_NonFinite(t *testing.T) {
	for _, c := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		_, err := protocol.TargetTemperatureCommand(c)
		var verr *device.ValidationError
		assert.ErrorAs(t, err, &verr, "non-finite temperature MUST be rejected")
	}
}

func TestFrameIsImmutable(t *testing.T) {
	f, err := protocol.PositionCommand(50)
	require.NoError(t, err)

	b := f.Bytes()
	b[0] = 0x00
	v := f.Value()
	v[0] = 0xFF

	assert.Equal(t, "F6 03 20 01 FC 10 01 32", f.String(), "frame MUST NOT change through returned slices")
	assert.False(t, f.IsZero())
	assert.True(t, protocol.Frame{}.IsZero())
}

func TestClassFor(t *testing.T) {
	c, err := protocol.ClassFor(device.TypeShutter)
	require.NoError(t, err)
	assert.Equal(t, protocol.ClassShutter, c)

	c, err = protocol.ClassFor(device.TypeThermostat)
	require.NoError(t, err)
	assert.Equal(t, protocol.ClassThermostat, c)

	_, err = protocol.ClassFor(device.TypeSensor)
	assert.ErrorIs(t, err, device.ErrUnsupported)
}
