package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/girable/internal/device"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for vendor peripherals",
	Long: `Scan for Bluetooth LE peripherals advertising the vendor manufacturer id
and list their names, addresses and signal strength.`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

var (
	scanDuration  time.Duration
	scanFormat    string
	scanAllowList []string
	scanBlockList []string
)

func init() {
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 10*time.Second, "Scan duration")
	scanCmd.Flags().StringVarP(&scanFormat, "format", "f", "table", "Output format (table, json)")
	scanCmd.Flags().StringSliceVar(&scanAllowList, "allow", nil, "Only show devices with these addresses")
	scanCmd.Flags().StringSliceVar(&scanBlockList, "block", nil, "Hide devices with these addresses")
}

// scanEntry is one row of scan output.
type scanEntry struct {
	Name        string    `json:"name,omitempty"`
	Address     string    `json:"address"`
	RSSI        int       `json:"rssi"`
	Connectable bool      `json:"connectable"`
	LastSeen    time.Time `json:"last_seen"`
}

func runScan(cmd *cobra.Command, _ []string) error {
	if scanFormat != "table" && scanFormat != "json" {
		return fmt.Errorf("invalid format '%s': must be one of [table json]", scanFormat)
	}
	if scanDuration <= 0 {
		return &device.ValidationError{Field: "duration", Value: scanDuration, Reason: "must be positive"}
	}

	env, err := newEnvironment(cmd)
	if err != nil {
		return err
	}

	env.cfg.Scan.AllowList = append(env.cfg.Scan.AllowList, scanAllowList...)
	env.cfg.Scan.BlockList = append(env.cfg.Scan.BlockList, scanBlockList...)
	sc := env.newScanner()

	ctx, cancel := signalContext(cmd)
	defer cancel()

	progress := NewProgressPrinter(cmd.ErrOrStderr(), "Scanning for vendor devices", "Scanning", scanDuration, "Processing results")
	progress.Start()
	defer progress.Stop()

	scanCtx, stop := contextWithOptionalTimeout(ctx, scanDuration)
	defer stop()

	if err := sc.Scan(scanCtx, progress.Callback()); err != nil {
		return err
	}
	progress.Stop()
	if err := ctx.Err(); err != nil {
		return err
	}

	peripherals := sc.Peripherals()
	entries := make([]scanEntry, 0, len(peripherals))
	for _, p := range peripherals {
		entries = append(entries, scanEntry{
			Name:        p.Name,
			Address:     p.Address,
			RSSI:        p.RSSI,
			Connectable: p.Connectable,
			LastSeen:    p.LastSeen,
		})
	}

	out := cmd.OutOrStdout()
	if scanFormat == "json" {
		return displayScanJSON(out, entries)
	}
	return displayScanTable(out, entries)
}

func displayScanTable(out io.Writer, entries []scanEntry) error {
	if len(entries) == 0 {
		fmt.Fprintln(out, "No devices discovered")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tADDRESS\tRSSI\tCONNECTABLE\tLAST SEEN")
	fmt.Fprintln(w, strings.Repeat("-", 72))

	for _, e := range entries {
		name := e.Name
		if name == "" {
			name = "-"
		}
		if len(name) > 20 {
			name = name[:17] + "..."
		}
		lastSeen := time.Since(e.LastSeen).Truncate(time.Second)
		fmt.Fprintf(w, "%s\t%s\t%d dBm\t%t\t%s ago\n", name, e.Address, e.RSSI, e.Connectable, lastSeen)
	}

	return w.Flush()
}

func displayScanJSON(out io.Writer, entries []scanEntry) error {
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(entries)
}
