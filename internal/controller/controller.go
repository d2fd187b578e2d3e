// Package controller binds one configured peripheral to its link, its state
// store and the decoder for its type, and exposes the user intents the
// peripheral family understands.
package controller

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/srg/girable/internal/device"
	"github.com/srg/girable/internal/protocol"
	"github.com/srg/girable/internal/state"
)

// Thermostat set point limits and the increment of one step command.
const (
	MinTargetTemperature = 5.0
	MaxTargetTemperature = 30.0
	TargetStep           = 0.5

	// heatingHysteresis keeps the reported action from flickering around the target.
	heatingHysteresis = 0.2
)

// HVACAction is what the thermostat is believed to be doing.
type HVACAction string

const (
	ActionUnknown HVACAction = ""
	ActionHeating HVACAction = "heating"
	ActionIdle    HVACAction = "idle"
)

// Sender transmits encoded frames; *link.Manager implements it.
type Sender interface {
	Send(ctx context.Context, frame protocol.Frame, expectResponse bool) error
	Close() error
}

// Config identifies the peripheral a controller drives.
type Config struct {
	Address string
	Name    string
	Type    device.Type
}

// Controller is the intent API for one peripheral.
type Controller struct {
	cfg     Config
	decoder protocol.Decoder
	sender  Sender
	store   *state.Store
	logger  *logrus.Logger

	mu      sync.Mutex
	heating bool
}

// New creates a controller. A nil store gets a fresh one; sender may be nil
// for broadcast-only sensors.
func New(cfg Config, sender Sender, store *state.Store, logger *logrus.Logger) (*Controller, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if cfg.Type == "" {
		cfg.Type = device.TypeShutter
	}
	dec, err := protocol.DecoderFor(cfg.Type)
	if err != nil {
		return nil, err
	}
	if store == nil {
		store = state.NewStore(device.NormalizeAddress(cfg.Address))
	}

	return &Controller{
		cfg:     cfg,
		decoder: dec,
		sender:  sender,
		store:   store,
		logger:  logger,
		heating: true,
	}, nil
}

func (c *Controller) Address() string     { return c.cfg.Address }
func (c *Controller) Type() device.Type   { return c.cfg.Type }
func (c *Controller) Store() *state.Store { return c.store }

// Name returns the configured name, falling back to the address.
func (c *Controller) Name() string {
	if c.cfg.Name == "" {
		return c.cfg.Address
	}
	return c.cfg.Name
}

// HandleAdvertisement decodes one manufacturer payload and merges the result
// into the store. Rejected payloads change nothing.
func (c *Controller) HandleAdvertisement(payload []byte) {
	fields, reject := c.decoder.Decode(payload)
	if reject != protocol.Accepted {
		c.logger.WithFields(logrus.Fields{
			"address": c.cfg.Address,
			"reason":  string(reject),
			"bytes":   len(payload),
		}).Trace("Advertisement ignored")
		return
	}
	snap := c.store.Update(fields)
	c.logger.WithFields(logrus.Fields{
		"address": c.cfg.Address,
		"fields":  len(fields),
		"total":   snap.Len(),
	}).Debug("State updated")
}

// SetPosition moves a shutter to percent (0 closed, 100 open).
func (c *Controller) SetPosition(ctx context.Context, percent int) error {
	if err := c.require(device.TypeShutter, "set position"); err != nil {
		return err
	}
	f, err := protocol.PositionCommand(percent)
	if err != nil {
		return err
	}
	return c.send(ctx, f, true)
}

// OpenCover starts raising the shutter.
func (c *Controller) OpenCover(ctx context.Context) error {
	if err := c.require(device.TypeShutter, "open"); err != nil {
		return err
	}
	return c.send(ctx, protocol.MoveCommand(protocol.Up), true)
}

// CloseCover starts lowering the shutter.
func (c *Controller) CloseCover(ctx context.Context) error {
	if err := c.require(device.TypeShutter, "close"); err != nil {
		return err
	}
	return c.send(ctx, protocol.MoveCommand(protocol.Down), true)
}

// Stop halts shutter travel.
func (c *Controller) Stop(ctx context.Context) error {
	if err := c.require(device.TypeShutter, "stop"); err != nil {
		return err
	}
	return c.send(ctx, protocol.StopCommand(), true)
}

// Step nudges a shutter, or a thermostat target by TargetStep.
func (c *Controller) Step(ctx context.Context, dir protocol.Direction) error {
	switch c.cfg.Type {
	case device.TypeShutter:
		return c.send(ctx, protocol.StepCommand(protocol.ClassShutter, dir), true)
	case device.TypeThermostat:
		return c.send(ctx, protocol.StepCommand(protocol.ClassThermostat, dir), false)
	default:
		return c.unsupported("step")
	}
}

// SetTargetTemperature sets the thermostat target, clamped to
// [MinTargetTemperature, MaxTargetTemperature]. A change of exactly one step
// from the known target is sent as a step command, anything else as an
// absolute set point. The new target is stored before transmission.
func (c *Controller) SetTargetTemperature(ctx context.Context, celsius float64) error {
	if err := c.require(device.TypeThermostat, "set target temperature"); err != nil {
		return err
	}
	if math.IsNaN(celsius) || math.IsInf(celsius, 0) {
		return &device.ValidationError{Field: "target temperature", Value: celsius, Reason: "must be finite"}
	}
	celsius = math.Max(MinTargetTemperature, math.Min(MaxTargetTemperature, celsius))

	var frame protocol.Frame
	expectResponse := false
	if current, ok := c.store.Snapshot().Get(state.TargetTemperature); ok {
		switch math.Round((celsius-current)*100) / 100 {
		case TargetStep:
			frame = protocol.StepCommand(protocol.ClassThermostat, protocol.Up)
		case -TargetStep:
			frame = protocol.StepCommand(protocol.ClassThermostat, protocol.Down)
		}
	}
	if frame.IsZero() {
		f, err := protocol.TargetTemperatureCommand(celsius)
		if err != nil {
			return err
		}
		frame = f
		expectResponse = true
	}

	c.store.Update(state.Fields{state.TargetTemperature: celsius})
	return c.send(ctx, frame, expectResponse)
}

// SetHeating starts or stops the thermostat heating timer.
func (c *Controller) SetHeating(ctx context.Context, on bool) error {
	if err := c.require(device.TypeThermostat, "set heating"); err != nil {
		return err
	}
	c.mu.Lock()
	c.heating = on
	c.mu.Unlock()
	return c.send(ctx, protocol.TimerCommand(on), false)
}

// Heating reports the last requested heating mode. It is not advertised by
// the thermostat and defaults to on.
func (c *Controller) Heating() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.heating
}

// HVACAction derives the thermostat activity from the advertised temperatures.
func (c *Controller) HVACAction() HVACAction {
	snap := c.store.Snapshot()
	cur, okCur := snap.Get(state.CurrentTemperature)
	tgt, okTgt := snap.Get(state.TargetTemperature)
	if c.cfg.Type != device.TypeThermostat || !okCur || !okTgt {
		return ActionUnknown
	}
	if cur < tgt-heatingHysteresis {
		return ActionHeating
	}
	return ActionIdle
}

// Close releases the link. Later intents reconnect.
func (c *Controller) Close() error {
	if c.sender == nil {
		return nil
	}
	return c.sender.Close()
}

func (c *Controller) send(ctx context.Context, f protocol.Frame, expectResponse bool) error {
	if c.sender == nil {
		return c.unsupported("command")
	}
	c.logger.WithFields(logrus.Fields{
		"address":  c.cfg.Address,
		"frame":    f.String(),
		"response": expectResponse,
	}).Debug("Sending command")
	return c.sender.Send(ctx, f, expectResponse)
}

func (c *Controller) require(t device.Type, intent string) error {
	if c.cfg.Type != t {
		return c.unsupported(intent)
	}
	return nil
}

func (c *Controller) unsupported(intent string) error {
	return fmt.Errorf("%s on %s %s: %w", intent, c.cfg.Type, c.cfg.Address, device.ErrUnsupported)
}
