package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/girable/internal/controller"
	"github.com/srg/girable/internal/device"
	"github.com/srg/girable/internal/protocol"
)

// shutterCmd represents the shutter command
var shutterCmd = &cobra.Command{
	Use:   "shutter <address> <position N|open|close|stop|step-up|step-down>",
	Short: "Drive a shutter actuator",
	Long: `Send one command to a shutter actuator. The device is located by scanning,
connected on demand and disconnected when the command has been written.

Positions are percent, 0 fully open and 100 fully closed.`,
	Example: `  girable shutter AA:BB:CC:DD:EE:FF position 40
  girable shutter AA:BB:CC:DD:EE:FF step-down`,
	Args: cobra.RangeArgs(2, 3),
	RunE: runShutter,
}

var shutterScanTimeout time.Duration

func init() {
	shutterCmd.Flags().DurationVar(&shutterScanTimeout, "scan-timeout", 10*time.Second, "How long to scan for the device")
}

// intent is one parsed device command.
type intent struct {
	name string
	run  func(ctx context.Context, c *controller.Controller) error
}

func parseShutterIntent(args []string) (intent, error) {
	action := args[0]
	if action == "position" {
		if len(args) != 2 {
			return intent{}, &device.ValidationError{Field: "position", Value: "", Reason: "requires a percent argument"}
		}
		n, err := strconv.Atoi(args[1])
		if err != nil {
			return intent{}, &device.ValidationError{Field: "position", Value: args[1], Reason: "must be an integer"}
		}
		if n < 0 || n > 100 {
			return intent{}, &device.ValidationError{Field: "position", Value: n, Reason: "must be between 0 and 100"}
		}
		return intent{name: fmt.Sprintf("position %d", n), run: func(ctx context.Context, c *controller.Controller) error {
			return c.SetPosition(ctx, n)
		}}, nil
	}
	if len(args) != 1 {
		return intent{}, fmt.Errorf("%s takes no argument", action)
	}

	switch action {
	case "open":
		return intent{name: action, run: func(ctx context.Context, c *controller.Controller) error {
			return c.OpenCover(ctx)
		}}, nil
	case "close":
		return intent{name: action, run: func(ctx context.Context, c *controller.Controller) error {
			return c.CloseCover(ctx)
		}}, nil
	case "stop":
		return intent{name: action, run: func(ctx context.Context, c *controller.Controller) error {
			return c.Stop(ctx)
		}}, nil
	case "step-up":
		return stepIntent(action, protocol.Up), nil
	case "step-down":
		return stepIntent(action, protocol.Down), nil
	}
	return intent{}, fmt.Errorf("unknown shutter command %q", action)
}

func stepIntent(name string, dir protocol.Direction) intent {
	return intent{name: name, run: func(ctx context.Context, c *controller.Controller) error {
		return c.Step(ctx, dir)
	}}
}

func runShutter(cmd *cobra.Command, args []string) error {
	in, err := parseShutterIntent(args[1:])
	if err != nil {
		return err
	}
	return runIntent(cmd, args[0], device.TypeShutter, shutterScanTimeout, in)
}

// runIntent locates the device, applies in and releases the link.
func runIntent(cmd *cobra.Command, address string, t device.Type, scanTimeout time.Duration, in intent) error {
	env, err := newEnvironment(cmd)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(cmd)
	defer cancel()

	progress := NewProgressPrinter(cmd.ErrOrStderr(), "Looking for "+address, "Scanning", scanTimeout)
	progress.Start()
	a, err := env.attach(ctx, address, t, scanTimeout)
	progress.Stop()
	if err != nil {
		return err
	}
	defer a.close()

	if err := in.run(ctx, a.ctrl); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "OK %s %s %s\n", t, address, in.name)
	return nil
}
