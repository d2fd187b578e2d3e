package main

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/girable/internal/controller"
	"github.com/srg/girable/internal/device"
	"github.com/srg/girable/internal/protocol"
	"github.com/srg/girable/internal/state"
)

// thermostatCmd represents the thermostat command
var thermostatCmd = &cobra.Command{
	Use:   "thermostat <address> <set C|step-up|step-down|heat-on|heat-off>",
	Short: "Drive a radiator thermostat",
	Long: `Send one command to a radiator thermostat. Targets are clamped to 5-30 °C.
A target exactly half a degree away from the advertised one is sent as a step.`,
	Example: `  girable thermostat AA:BB:CC:DD:EE:FF set 21.5
  girable thermostat AA:BB:CC:DD:EE:FF heat-off`,
	Args: cobra.RangeArgs(2, 3),
	RunE: runThermostat,
}

var (
	thermostatScanTimeout time.Duration
	thermostatSettle      time.Duration
)

func init() {
	thermostatCmd.Flags().DurationVar(&thermostatScanTimeout, "scan-timeout", 10*time.Second, "How long to scan for the device")
	thermostatCmd.Flags().DurationVar(&thermostatSettle, "settle", 2*time.Second, "How long to collect advertised state before a set command")
}

func parseThermostatIntent(args []string) (intent, error) {
	action := args[0]
	if action == "set" {
		if len(args) != 2 {
			return intent{}, &device.ValidationError{Field: "target temperature", Value: "", Reason: "requires a celsius argument"}
		}
		c, err := strconv.ParseFloat(args[1], 64)
		if err != nil || math.IsNaN(c) || math.IsInf(c, 0) {
			return intent{}, &device.ValidationError{Field: "target temperature", Value: args[1], Reason: "must be a number"}
		}
		return intent{name: fmt.Sprintf("set %.1f", c), run: func(ctx context.Context, ctrl *controller.Controller) error {
			settle(ctx, ctrl)
			return ctrl.SetTargetTemperature(ctx, c)
		}}, nil
	}
	if len(args) != 1 {
		return intent{}, fmt.Errorf("%s takes no argument", action)
	}

	switch action {
	case "step-up":
		return stepIntent(action, protocol.Up), nil
	case "step-down":
		return stepIntent(action, protocol.Down), nil
	case "heat-on":
		return heatingIntent(action, true), nil
	case "heat-off":
		return heatingIntent(action, false), nil
	}
	return intent{}, fmt.Errorf("unknown thermostat command %q", action)
}

func heatingIntent(name string, on bool) intent {
	return intent{name: name, run: func(ctx context.Context, c *controller.Controller) error {
		return c.SetHeating(ctx, on)
	}}
}

// settle waits until the advertised target is known or the settle time passes,
// so the step-versus-absolute choice sees the current target.
func settle(ctx context.Context, ctrl *controller.Controller) {
	if thermostatSettle <= 0 || ctrl.Store().Snapshot().Has(state.TargetTemperature) {
		return
	}
	deadline := time.NewTimer(thermostatSettle)
	defer deadline.Stop()
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			return
		case <-tick.C:
			if ctrl.Store().Snapshot().Has(state.TargetTemperature) {
				return
			}
		}
	}
}

func runThermostat(cmd *cobra.Command, args []string) error {
	in, err := parseThermostatIntent(args[1:])
	if err != nil {
		return err
	}
	return runIntent(cmd, args[0], device.TypeThermostat, thermostatScanTimeout, in)
}
