package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/srg/doorbell20/internal/bledb"
	"github.com/srg/doorbell20/internal/device"
	"github.com/srg/doorbell20/internal/devicefactory"
	"github.com/srg/doorbell20/scanner"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for DoorBell20 devices",
	Long: `Scan for Bluetooth Low Energy devices advertising the DoorBell20 service
and display their addresses, names and signal strength.

Use the reported address as the device-address argument of 'doorbell20 run'.`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

var (
	scanDuration  time.Duration
	scanFormat    string
	scanAllowList []string
	scanBlockList []string
	scanBackend   string
)

var scanFormats = []string{"table", "json"}

func init() {
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 10*time.Second, "Scan duration (0 scans until Ctrl+C)")
	scanCmd.Flags().StringVarP(&scanFormat, "format", "f", "table", "Output format (table, json)")
	scanCmd.Flags().StringSliceVar(&scanAllowList, "allow", nil, "Only show devices with these addresses")
	scanCmd.Flags().StringSliceVar(&scanBlockList, "block", nil, "Hide devices with these addresses")
	scanCmd.Flags().StringVar(&scanBackend, "backend", "", "BLE backend: go-ble or tinygo (default from config)")
}

func runScan(cmd *cobra.Command, _ []string) error {
	if !slices.Contains(scanFormats, scanFormat) {
		return fmt.Errorf("invalid format '%s': must be one of %v", scanFormat, scanFormats)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if scanBackend != "" {
		cfg.Backend = scanBackend
	}
	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	adapter, err := devicefactory.New(cfg.Backend, logger)
	if err != nil {
		return err
	}
	defer func() { _ = adapter.Close() }()

	s, err := scanner.NewScanner(adapter, logger)
	if err != nil {
		return fmt.Errorf("failed to create BLE scanner: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	progress := NewCountdownProgressPrinter(cmd.ErrOrStderr(), "Scanning for DoorBell20 devices", "Scanning", scanDuration)
	progress.Start()

	devices, err := s.Scan(ctx, &scanner.ScanOptions{
		Duration:    scanDuration,
		ServiceUUID: bledb.DoorBellService,
		AllowList:   scanAllowList,
		BlockList:   scanBlockList,
	}, progress.Callback())
	progress.Stop()

	// Ctrl+C ends the scan early; the devices seen so far are still shown
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	if scanFormat == "json" {
		return displayDevicesJSON(cmd.OutOrStdout(), devices)
	}
	return displayDevicesTable(cmd.OutOrStdout(), devices, time.Now())
}

func displayDevicesTable(out io.Writer, devices []scanner.DeviceInfo, now time.Time) error {
	if len(devices) == 0 {
		_, err := fmt.Fprintln(out, "No DoorBell20 devices discovered")
		return err
	}

	header := color.New(color.Bold)
	addr := color.New(color.FgCyan)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = header.Fprintln(w, "NAME\tADDRESS\tRSSI\tSERVICES\tLAST SEEN")
	_, _ = fmt.Fprintln(w, strings.Repeat("-", 80))

	for _, d := range devices {
		name := d.Name
		if name == "" {
			name = "(unnamed)"
		}
		if len(name) > 20 {
			name = name[:17] + "..."
		}

		services := make([]string, 0, len(d.Services))
		for _, s := range d.Services {
			if known := bledb.LookupService(s); known != "" {
				services = append(services, known)
			} else {
				services = append(services, device.ShortenUUID(s))
			}
		}

		lastSeen := now.Sub(d.LastSeen).Truncate(time.Second)
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d dBm\t%s\t%s ago\n",
			name, addr.Sprint(d.Address), d.RSSI, strings.Join(services, ","), lastSeen)
	}

	return w.Flush()
}

func displayDevicesJSON(out io.Writer, devices []scanner.DeviceInfo) error {
	if devices == nil {
		devices = []scanner.DeviceInfo{}
	}
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(devices)
}
