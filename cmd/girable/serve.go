package main

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/girable/internal/controller"
	"github.com/srg/girable/internal/device"
	"github.com/srg/girable/internal/link"
	"github.com/srg/girable/internal/mqtt"
	"github.com/srg/girable/internal/statecache"
	"github.com/srg/girable/scanner"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run every configured device until interrupted",
	Long: `Scan continuously, decode the state of every configured device, keep it in
the state cache and expose it on MQTT when a broker is configured.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

// fleet is the set of running controllers and the sinks attached to them.
type fleet struct {
	logger      *logrus.Logger
	controllers []*controller.Controller
	unlisten    []func()
	cache       *statecache.Cache
	bridge      *mqtt.Bridge
}

// newFleet builds one controller per configured device, restores cached state
// and registers each with the scanner. Sensors get no link: they only broadcast.
func newFleet(env *environment, sc *scanner.Scanner, cache *statecache.Cache) (*fleet, error) {
	f := &fleet{logger: env.logger, cache: cache}

	for _, dc := range env.cfg.Devices {
		var sender controller.Sender
		if dc.Type != device.TypeSensor {
			sender = link.NewManager(dc.Address, sc, env.radio.Transport, env.cfg.Link, env.logger)
		}

		ctrl, err := controller.New(controller.Config{Address: dc.Address, Name: dc.Name, Type: dc.Type}, sender, nil, env.logger)
		if err != nil {
			f.close()
			return nil, fmt.Errorf("device %s: %w", dc.Address, err)
		}

		if cache != nil {
			if err := cache.Restore(ctrl.Store()); err != nil {
				env.logger.WithError(err).WithField("address", dc.Address).Warn("Failed to restore cached state")
			}
			ctrl.Store().Subscribe(cache)
		}

		f.controllers = append(f.controllers, ctrl)
		f.unlisten = append(f.unlisten, sc.Listen(dc.Address, ctrl.HandleAdvertisement))

		env.logger.WithFields(logrus.Fields{
			"address": dc.Address,
			"name":    ctrl.Name(),
			"type":    dc.Type,
		}).Info("Device registered")
	}
	return f, nil
}

// expose adds every controller to the bridge.
func (f *fleet) expose(b *mqtt.Bridge) {
	f.bridge = b
	for _, c := range f.controllers {
		b.Add(c)
	}
}

func (f *fleet) close() {
	for _, u := range f.unlisten {
		u()
	}
	if f.bridge != nil {
		f.bridge.Stop()
	}
	for _, c := range f.controllers {
		if err := c.Close(); err != nil {
			f.logger.WithError(err).WithField("address", c.Address()).Warn("Failed to release link")
		}
	}
	if f.cache != nil {
		if err := f.cache.Close(); err != nil {
			f.logger.WithError(err).Warn("Failed to close state cache")
		}
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	if path, _ := cmd.Flags().GetString("config"); path == "" {
		return errors.New("serve requires --config with at least one device")
	}

	env, err := newEnvironment(cmd)
	if err != nil {
		return err
	}
	if len(env.cfg.Devices) == 0 {
		return &device.ValidationError{Field: "devices", Value: env.cfg.Devices, Reason: "at least one device must be configured"}
	}

	cache, err := env.openCache()
	if err != nil {
		return err
	}

	sc := env.newScanner()
	f, err := newFleet(env, sc, cache)
	if err != nil {
		return err
	}
	defer f.close()

	if env.cfg.MQTT.Enabled() {
		b, err := mqtt.NewBridge(env.cfg.MQTT, env.logger)
		if err != nil {
			return err
		}
		f.expose(b)
	}

	ctx, cancel := signalContext(cmd)
	defer cancel()

	fmt.Fprintf(cmd.ErrOrStderr(), "Serving %d device(s), press Ctrl+C to stop\n", len(f.controllers))
	if err := sc.Scan(ctx, nil); err != nil {
		return err
	}
	return ctx.Err()
}
