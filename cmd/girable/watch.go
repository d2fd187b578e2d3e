package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/girable/internal/controller"
	"github.com/srg/girable/internal/device"
	"github.com/srg/girable/internal/mqtt"
	"github.com/srg/girable/internal/state"
)

// watchCmd represents the watch command
var watchCmd = &cobra.Command{
	Use:   "watch <address>",
	Short: "Decode and print broadcast state of one device",
	Long: `Listen to the advertisements of one device, decode them for the given
device type and print every state change. Nothing is sent to the device.`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

var (
	watchType     string
	watchDuration time.Duration
	watchJSON     bool
)

func init() {
	watchCmd.Flags().StringVarP(&watchType, "type", "t", "", "Device type (shutter, thermostat, sensor); defaults to the configured type")
	watchCmd.Flags().DurationVarP(&watchDuration, "duration", "d", 0, "Stop after this long (0 watches until interrupted)")
	watchCmd.Flags().BoolVar(&watchJSON, "json", false, "Print each state as a JSON line")
}

func runWatch(cmd *cobra.Command, args []string) error {
	address := args[0]

	env, err := newEnvironment(cmd)
	if err != nil {
		return err
	}

	t, name, err := resolveType(env, address, watchType)
	if err != nil {
		return err
	}

	ctrl, err := controller.New(controller.Config{Address: address, Name: name, Type: t}, nil, nil, env.logger)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	lines := &stateLines{ctrl: ctrl}
	ctrl.Store().Subscribe(state.SubscriberFunc(func(s state.Snapshot) {
		if watchJSON {
			payload, err := mqtt.StatePayload(ctrl, s)
			if err != nil {
				env.logger.WithError(err).Warn("Failed to encode state")
				return
			}
			fmt.Fprintln(out, string(payload))
			return
		}
		fmt.Fprintln(out, lines.line(s))
	}))

	sc := env.newScanner()
	unlisten := sc.Listen(address, ctrl.HandleAdvertisement)
	defer unlisten()

	ctx, cancel := signalContext(cmd)
	defer cancel()
	scanCtx, stop := contextWithOptionalTimeout(ctx, watchDuration)
	defer stop()

	fmt.Fprintf(cmd.ErrOrStderr(), "Watching %s (%s), press Ctrl+C to stop\n", address, t)
	if err := sc.Scan(scanCtx, nil); err != nil {
		return err
	}
	return ctx.Err()
}

// resolveType picks the device type from the flag or, when the flag is
// empty, from the configuration file.
func resolveType(env *environment, address, flag string) (device.Type, string, error) {
	dc, configured := env.cfg.Device(address)
	if flag == "" && configured {
		return dc.Type, dc.Name, nil
	}
	t, err := device.ParseType(flag)
	if err != nil {
		return "", "", err
	}
	return t, dc.Name, nil
}
