package goble

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-ble/ble"
	"github.com/go-ble/ble/darwin"
	"github.com/sirupsen/logrus"
	"github.com/srg/girable/internal/device"
	"github.com/srg/girable/internal/groutine"
)

// DeviceFactory creates ble.Device instances (can be overridden in tests)
//
//nolint:revive // DeviceFactory name is intentional for test mocking
var DeviceFactory = func() (ble.Device, error) {
	return darwin.NewDevice()
}

var (
	serviceUUID   = ble.MustParse(device.ServiceUUID)
	writeCharUUID = ble.MustParse(device.WriteCharUUID)
)

// session is an open GATT client with the vendor write characteristic resolved.
type session struct {
	address string
	client  ble.Client
	char    *ble.Characteristic
}

func (s *session) Address() string { return s.address }

// Transport implements device.Transport over go-ble.
type Transport struct {
	dev    ble.Device
	logger *logrus.Logger
}

// NewTransport creates a transport on the platform BLE device.
func NewTransport(logger *logrus.Logger) (*Transport, error) {
	dev, err := DeviceFactory()
	if err != nil {
		return nil, fmt.Errorf("failed to create BLE device: %w", NormalizeError(err))
	}
	return NewTransportWithDevice(dev, logger), nil
}

// NewTransportWithDevice creates a transport over dev.
func NewTransportWithDevice(dev ble.Device, logger *logrus.Logger) *Transport {
	if logger == nil {
		logger = logrus.New()
	}
	return &Transport{dev: dev, logger: logger}
}

// Connect dials p up to opts.Attempts times, each attempt bounded by
// opts.AttemptTimeout, and resolves the vendor write characteristic.
//
// CoreBluetooth has no explicit bonding call: pairing happens on demand
// the first time an encrypted attribute is written, so opts.Pair is only logged.
func (t *Transport) Connect(ctx context.Context, p device.Peripheral, opts device.ConnectOptions) (device.Session, error) {
	attempts := opts.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		log := t.logger.WithFields(logrus.Fields{
			"address": p.Address,
			"attempt": attempt,
			"of":      attempts,
			"timeout": opts.AttemptTimeout,
			"pair":    opts.Pair,
		})
		log.Debug("Dialing peripheral...")

		s, err := t.connectOnce(ctx, p.Address, opts.AttemptTimeout)
		if err == nil {
			log.Info("Peripheral connected")
			return s, nil
		}

		lastErr = NormalizeError(err)
		log.WithError(lastErr).Warn("Connect attempt failed")
		if errors.Is(lastErr, device.ErrBluetoothOff) {
			break
		}
	}
	return nil, fmt.Errorf("connect attempts exhausted: %w", lastErr)
}

func (t *Transport) connectOnce(ctx context.Context, address string, timeout time.Duration) (*session, error) {
	connCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := t.dev.Dial(connCtx, ble.NewAddr(address))
	if err != nil {
		if errors.Is(connCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("dial after %v: %w", timeout, device.ErrTimeout)
		}
		return nil, fmt.Errorf("dial: %w", err)
	}

	// DiscoverProfile takes no context; bound it with what is left of the attempt.
	var profile *ble.Profile
	err = runWithTimeout(connCtx, "ble-discover-profile", func() error {
		var derr error
		profile, derr = client.DiscoverProfile(true)
		return derr
	})
	if err != nil {
		t.cancel(client)
		return nil, fmt.Errorf("failed to discover profile: %w", err)
	}

	char := findWriteCharacteristic(profile)
	if char == nil {
		t.cancel(client)
		return nil, &device.NotFoundError{Resource: "characteristic", IDs: []string{device.ServiceUUID, device.WriteCharUUID}}
	}

	return &session{address: address, client: client, char: char}, nil
}

func findWriteCharacteristic(profile *ble.Profile) *ble.Characteristic {
	if profile == nil {
		return nil
	}
	for _, svc := range profile.Services {
		if !svc.UUID.Equal(serviceUUID) {
			continue
		}
		for _, c := range svc.Characteristics {
			if c.UUID.Equal(writeCharUUID) {
				return c
			}
		}
	}
	return nil
}

// Write sends data to the write characteristic, with or without a response,
// failing with device.ErrTimeout when neither arrives within timeout.
func (t *Transport) Write(ctx context.Context, s device.Session, data []byte, timeout time.Duration, withResponse bool) error {
	sess, ok := s.(*session)
	if !ok || sess == nil || sess.client == nil {
		return device.ErrNotConnected
	}

	wctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := runWithTimeout(wctx, "ble-write", func() error {
		return sess.client.WriteCharacteristic(sess.char, data, !withResponse)
	})
	if err != nil {
		return fmt.Errorf("failed to write characteristic %s: %w", device.ShortenUUID(device.NormalizeUUID(device.WriteCharUUID)), err)
	}

	t.logger.WithFields(logrus.Fields{
		"address":  sess.address,
		"bytes":    len(data),
		"response": withResponse,
	}).Debug("Wrote frame")
	return nil
}

// Disconnect cancels the underlying connection.
func (t *Transport) Disconnect(s device.Session) error {
	sess, ok := s.(*session)
	if !ok || sess == nil || sess.client == nil {
		return nil
	}
	client := sess.client
	sess.client = nil

	if err := client.CancelConnection(); err != nil {
		return NormalizeError(err)
	}
	t.logger.WithField("address", sess.address).Debug("Peripheral disconnected")
	return nil
}

func (t *Transport) cancel(client ble.Client) {
	if err := client.CancelConnection(); err != nil {
		t.logger.WithError(err).Warn("Failed to cancel connection")
	}
}

// runWithTimeout runs fn on a named goroutine and waits for it or for ctx.
// An abandoned fn keeps running until go-ble returns.
func runWithTimeout(ctx context.Context, name string, fn func() error) error {
	resultCh := make(chan error, 1)
	groutine.Go(ctx, name, func(context.Context) {
		resultCh <- fn()
	})

	select {
	case err := <-resultCh:
		return NormalizeError(err)
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return device.ErrTimeout
		}
		return ctx.Err()
	}
}

var _ device.Transport = (*Transport)(nil)
