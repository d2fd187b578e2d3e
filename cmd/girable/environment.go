package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/girable/internal/controller"
	"github.com/srg/girable/internal/device"
	"github.com/srg/girable/internal/devicefactory"
	"github.com/srg/girable/internal/groutine"
	"github.com/srg/girable/internal/link"
	"github.com/srg/girable/internal/statecache"
	"github.com/srg/girable/pkg/config"
	"github.com/srg/girable/scanner"
)

// environment carries what every subcommand needs once its arguments are valid.
type environment struct {
	cmd    *cobra.Command
	logger *logrus.Logger
	cfg    *config.Config
	radio  *devicefactory.Radio
}

// newEnvironment configures logging, loads the optional configuration file
// and opens the radio. Argument errors must be reported before calling it.
func newEnvironment(cmd *cobra.Command) (*environment, error) {
	logger, err := configureLogger(cmd)
	if err != nil {
		return nil, err
	}

	cfg := config.DefaultConfig()
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		if cfg, err = config.Load(path); err != nil {
			return nil, err
		}
		if lvl, _ := cmd.Flags().GetString("log-level"); lvl == "" {
			logger = cfg.NewLogger()
		}
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	radio, err := devicefactory.DeviceFactory(logger)
	if err != nil {
		return nil, err
	}

	return &environment{cmd: cmd, logger: logger, cfg: cfg, radio: radio}, nil
}

// newScanner creates a scanner over the radio with the configured filters.
// Duration is cleared: callers bound scanning with their context.
func (e *environment) newScanner() *scanner.Scanner {
	opts := e.cfg.Scan
	opts.Duration = 0
	return scanner.New(e.radio.Scanner, opts, e.logger)
}

// openCache opens the state cache when one is configured; nil otherwise.
func (e *environment) openCache() (*statecache.Cache, error) {
	if e.cfg.CachePath == "" {
		return nil, nil
	}
	return statecache.Open(e.cfg.CachePath, e.logger)
}

// signalContext returns a context cancelled by Ctrl+C or SIGTERM.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(cmd.Context())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case <-sigCh:
			fmt.Fprintln(cmd.ErrOrStderr(), "\nCtrl+C pressed, stopping...")
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(sigCh)
		cancel()
	}
}

// attached is a controller for one address whose advertisements are being decoded.
type attached struct {
	ctrl  *controller.Controller
	close func()
}

// attach scans until address is seen, feeding its advertisements into a
// controller of the given type, and returns once the link can be opened.
// Scanning continues in the background until close is called so state keeps
// arriving while the command runs.
func (e *environment) attach(ctx context.Context, address string, t device.Type, scanTimeout time.Duration) (*attached, error) {
	name := ""
	if dc, ok := e.cfg.Device(address); ok {
		name = dc.Name
		if dc.Type != t {
			e.logger.WithFields(logrus.Fields{"address": address, "configured": dc.Type, "requested": t}).
				Warn("Configured device type differs from command")
		}
	}

	cache, err := e.openCache()
	if err != nil {
		return nil, err
	}

	sc := e.newScanner()
	mgr := link.NewManager(address, sc, e.radio.Transport, e.cfg.Link, e.logger)
	ctrl, err := controller.New(controller.Config{Address: address, Name: name, Type: t}, mgr, nil, e.logger)
	if err != nil {
		if cache != nil {
			cache.Close()
		}
		return nil, err
	}

	if cache != nil {
		if err := cache.Restore(ctrl.Store()); err != nil {
			e.logger.WithError(err).Warn("Failed to restore cached state")
		}
		ctrl.Store().Subscribe(cache)
	}
	unlisten := sc.Listen(address, ctrl.HandleAdvertisement)

	scanCtx, stopScan := context.WithCancel(ctx)
	scanDone := make(chan error, 1)
	groutine.Go(scanCtx, "scan", func(ctx context.Context) {
		scanDone <- sc.Scan(ctx, nil)
	})

	closeAll := func() {
		_ = ctrl.Close()
		unlisten()
		stopScan()
		<-scanDone
		if cache != nil {
			cache.Close()
		}
	}

	waitCtx, cancelWait := context.WithTimeout(ctx, scanTimeout)
	defer cancelWait()

	waitErr := make(chan error, 1)
	go func() {
		_, err := sc.WaitFor(waitCtx, address)
		waitErr <- err
	}()

	select {
	case err = <-waitErr:
	case err = <-scanDone:
		// scan ended before the address showed up
		scanDone <- err
		if err == nil {
			err = ctx.Err()
		}
		if err == nil {
			err = fmt.Errorf("scan ended: %w", device.ErrPeripheralNotFound)
		}
	}
	if err != nil {
		closeAll()
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("%s not seen within %s: %w", address, scanTimeout, &device.NotFoundError{Resource: "peripheral", IDs: []string{address}})
		}
		return nil, err
	}

	return &attached{ctrl: ctrl, close: closeAll}, nil
}
