package devicefactory

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/srg/girable/internal/device"
	"github.com/srg/girable/internal/device/go-ble"
)

// Radio is one BLE adapter seen from both sides: advertisements come in
// through Scanner and command frames go out through Transport.
type Radio struct {
	Scanner   device.ScanningDevice
	Transport device.Transport
}

// DeviceFactory opens the platform radio.
// This is a variable so that it can be overridden in tests.
var DeviceFactory = func(logger *logrus.Logger) (*Radio, error) {
	dev, err := goble.DeviceFactory()
	if err != nil {
		return nil, fmt.Errorf("failed to open BLE adapter: %w", goble.NormalizeError(err))
	}
	return &Radio{
		Scanner:   goble.NewScannerWithDevice(dev),
		Transport: goble.NewTransportWithDevice(dev, logger),
	}, nil
}
