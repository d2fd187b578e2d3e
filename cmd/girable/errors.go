package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/srg/girable/internal/device"
)

// FormatUserError turns an error chain into a one-line message. Validation
// errors are shown as-is; transport failures get a hint about the likely cause.
func FormatUserError(err error) string {
	if err == nil {
		return ""
	}

	var verr *device.ValidationError
	if errors.As(err, &verr) {
		return verr.Error()
	}

	switch {
	case errors.Is(err, device.ErrBluetoothOff):
		return "Bluetooth is turned off, enable it and try again"
	case device.IsConnectionState(err, device.NotInitialized):
		return fmt.Sprintf("%v (the Bluetooth adapter is not ready)", err)
	case errors.Is(err, device.ErrPeripheralNotFound):
		return fmt.Sprintf("%v (is the device powered and in range?)", err)
	case errors.Is(err, device.ErrUnsupported):
		return fmt.Sprintf("%v (check the configured device type)", err)
	case errors.Is(err, device.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return fmt.Sprintf("%v (the device did not answer in time)", err)
	case errors.Is(err, device.ErrTransport):
		return fmt.Sprintf("%v (could not reach the device)", err)
	}
	return err.Error()
}
