// Package mqtt exposes configured devices on an MQTT broker: state snapshots
// are published retained and JSON commands are mapped onto device intents.
package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/srg/girable/internal/controller"
	"github.com/srg/girable/internal/device"
	"github.com/srg/girable/internal/groutine"
	"github.com/srg/girable/internal/protocol"
	"github.com/srg/girable/internal/state"
)

const (
	availabilityOnline  = "online"
	availabilityOffline = "offline"
)

// Config holds MQTT bridge configuration.
type Config struct {
	Broker         string        `yaml:"broker"`
	ClientID       string        `yaml:"client_id" default:"girable"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	TopicPrefix    string        `yaml:"topic_prefix" default:"girable"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" default:"10s"`
	CommandTimeout time.Duration `yaml:"command_timeout" default:"30s"`
}

// Enabled reports whether a broker is configured.
func (c Config) Enabled() bool {
	return c.Broker != ""
}

// Target is a device the bridge can drive. *controller.Controller satisfies it.
type Target interface {
	Address() string
	Name() string
	Type() device.Type
	Store() *state.Store

	SetPosition(ctx context.Context, percent int) error
	OpenCover(ctx context.Context) error
	CloseCover(ctx context.Context) error
	Stop(ctx context.Context) error
	Step(ctx context.Context, dir protocol.Direction) error
	SetTargetTemperature(ctx context.Context, celsius float64) error
	SetHeating(ctx context.Context, on bool) error
}

// thermostatStatus is optionally implemented by targets that track the
// locally known heating mode.
type thermostatStatus interface {
	Heating() bool
	HVACAction() controller.HVACAction
}

// Command is the JSON body accepted on a device's set topic. Any combination
// of members may be present; they are applied in declaration order.
type Command struct {
	Position          *int     `json:"position,omitempty"`
	Action            string   `json:"action,omitempty"`
	TargetTemperature *float64 `json:"target_temperature,omitempty"`
	Heating           *bool    `json:"heating,omitempty"`
}

// ErrUnknownAction is returned for an action outside open, close, stop, step_up and step_down.
var ErrUnknownAction = errors.New("unknown action")

// Apply maps cmd onto t's intents. Every member is attempted; failures are joined.
func (cmd Command) Apply(ctx context.Context, t Target) error {
	var errs []error
	if cmd.Position != nil {
		errs = append(errs, t.SetPosition(ctx, *cmd.Position))
	}
	if cmd.Action != "" {
		errs = append(errs, applyAction(ctx, t, cmd.Action))
	}
	if cmd.TargetTemperature != nil {
		errs = append(errs, t.SetTargetTemperature(ctx, *cmd.TargetTemperature))
	}
	if cmd.Heating != nil {
		errs = append(errs, t.SetHeating(ctx, *cmd.Heating))
	}
	return errors.Join(errs...)
}

func applyAction(ctx context.Context, t Target, action string) error {
	switch strings.ToLower(action) {
	case "open":
		return t.OpenCover(ctx)
	case "close":
		return t.CloseCover(ctx)
	case "stop":
		return t.Stop(ctx)
	case "step_up":
		return t.Step(ctx, protocol.Up)
	case "step_down":
		return t.Step(ctx, protocol.Down)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
}

type binding struct {
	target Target
	unsub  func()
}

// Bridge publishes device state to MQTT and routes commands back.
type Bridge struct {
	client pahomqtt.Client
	cfg    Config
	logger *logrus.Logger
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	targets map[string]*binding
}

// NewBridge creates and connects an MQTT bridge.
func NewBridge(cfg Config, logger *logrus.Logger) (*Bridge, error) {
	b := newBridge(cfg, logger)

	opts := pahomqtt.NewClientOptions().
		AddBroker(b.cfg.Broker).
		SetClientID(b.cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetWill(b.availabilityTopic(), availabilityOffline, 1, true).
		SetOnConnectHandler(func(_ pahomqtt.Client) {
			b.logger.WithField("broker", b.cfg.Broker).Info("MQTT connected")
			b.onConnect()
		}).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			b.logger.WithError(err).Warn("MQTT connection lost")
		})

	if b.cfg.Username != "" {
		opts.SetUsername(b.cfg.Username)
		opts.SetPassword(b.cfg.Password)
	}

	client := pahomqtt.NewClient(opts)
	b.client = client

	token := client.Connect()
	if !token.WaitTimeout(b.cfg.ConnectTimeout) {
		b.cancel()
		return nil, fmt.Errorf("mqtt connect: %w", device.ErrTimeout)
	}
	if err := token.Error(); err != nil {
		b.cancel()
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	return b, nil
}

func newBridge(cfg Config, logger *logrus.Logger) *Bridge {
	if logger == nil {
		logger = logrus.New()
	}
	defaults.SetDefaults(&cfg)
	cfg.TopicPrefix = strings.TrimSuffix(cfg.TopicPrefix, "/")

	ctx, cancel := context.WithCancel(context.Background())
	return &Bridge{
		cfg:     cfg,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		targets: make(map[string]*binding),
	}
}

// Add exposes t on the broker. Adding the same address twice replaces the
// earlier target.
func (b *Bridge) Add(t Target) {
	key := device.NormalizeAddress(t.Address())

	bnd := &binding{target: t}
	bnd.unsub = t.Store().Subscribe(state.SubscriberFunc(func(s state.Snapshot) {
		b.publishState(t, s)
	}))

	b.mu.Lock()
	prev := b.targets[key]
	b.targets[key] = bnd
	b.mu.Unlock()

	if prev != nil {
		prev.unsub()
	}
	if b.client != nil && b.client.IsConnected() {
		b.subscribe(key, t)
		if snap := t.Store().Snapshot(); snap.Len() > 0 {
			b.publishState(t, snap)
		}
	}
}

// Stop publishes offline availability, detaches from every store and disconnects.
func (b *Bridge) Stop() {
	b.cancel()

	b.mu.Lock()
	for _, bnd := range b.targets {
		bnd.unsub()
	}
	b.targets = make(map[string]*binding)
	b.mu.Unlock()

	b.publish(b.availabilityTopic(), []byte(availabilityOffline), true)
	b.client.Disconnect(1000)
	b.logger.Info("MQTT bridge stopped")
}

func (b *Bridge) onConnect() {
	b.publish(b.availabilityTopic(), []byte(availabilityOnline), true)

	b.mu.Lock()
	bindings := make(map[string]Target, len(b.targets))
	for k, bnd := range b.targets {
		bindings[k] = bnd.target
	}
	b.mu.Unlock()

	for key, t := range bindings {
		b.subscribe(key, t)
		if snap := t.Store().Snapshot(); snap.Len() > 0 {
			b.publishState(t, snap)
		}
	}
}

func (b *Bridge) subscribe(key string, t Target) {
	topic := b.commandTopic(key)
	token := b.client.Subscribe(topic, 1, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		payload := msg.Payload()
		// handlers must not block the paho router; BLE connects take seconds
		groutine.Go(b.ctx, "mqtt-command", func(ctx context.Context) {
			b.handleCommand(ctx, t, payload)
		})
	})
	b.await(token, topic, "subscribe")
}

func (b *Bridge) handleCommand(ctx context.Context, t Target, payload []byte) {
	log := b.logger.WithField("address", t.Address())

	var cmd Command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		log.WithError(err).Warn("Invalid command JSON")
		return
	}

	ctx, cancel := context.WithTimeout(ctx, b.cfg.CommandTimeout)
	defer cancel()

	if err := cmd.Apply(ctx, t); err != nil {
		log.WithError(err).Warn("Command failed")
		return
	}
	log.WithField("command", string(payload)).Debug("Command applied")
}

// StatePayload renders a snapshot as the JSON published on the state topic.
// Fields keep display order so retained messages diff cleanly.
func StatePayload(t Target, s state.Snapshot) ([]byte, error) {
	om := orderedmap.New[string, any]()
	om.Set("address", t.Address())
	if name := t.Name(); name != "" {
		om.Set("name", name)
	}
	om.Set("type", t.Type().String())
	for _, f := range s.Names() {
		v, _ := s.Get(f)
		om.Set(string(f), v)
	}
	if ts, ok := t.(thermostatStatus); ok && t.Type() == device.TypeThermostat {
		om.Set("heating", ts.Heating())
		if action := ts.HVACAction(); action != controller.ActionUnknown {
			om.Set("hvac_action", string(action))
		}
	}
	if !s.UpdatedAt.IsZero() {
		om.Set("last_seen", s.UpdatedAt.UTC().Format(time.RFC3339))
	}
	return json.Marshal(om)
}

func (b *Bridge) publishState(t Target, s state.Snapshot) {
	payload, err := StatePayload(t, s)
	if err != nil {
		b.logger.WithError(err).WithField("address", t.Address()).Warn("Failed to encode state")
		return
	}
	b.publish(b.stateTopic(device.NormalizeAddress(t.Address())), payload, true)
}

func (b *Bridge) publish(topic string, payload []byte, retained bool) {
	if b.client == nil {
		return
	}
	token := b.client.Publish(topic, 1, retained, payload)
	groutine.Go(b.ctx, "mqtt-publish", func(context.Context) {
		b.await(token, topic, "publish")
	})
}

func (b *Bridge) await(token pahomqtt.Token, topic, op string) {
	log := b.logger.WithFields(logrus.Fields{"topic": topic, "op": op})
	if !token.WaitTimeout(5 * time.Second) {
		log.Warn("MQTT operation timeout")
	} else if err := token.Error(); err != nil {
		log.WithError(err).Warn("MQTT operation failed")
	}
}

func (b *Bridge) availabilityTopic() string {
	return b.cfg.TopicPrefix + "/bridge/state"
}

func (b *Bridge) stateTopic(key string) string {
	return b.cfg.TopicPrefix + "/" + key + "/state"
}

func (b *Bridge) commandTopic(key string) string {
	return b.cfg.TopicPrefix + "/" + key + "/set"
}

var _ Target = (*controller.Controller)(nil)
