package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/srg/doorbell20/internal/devicefactory"
	"github.com/srg/doorbell20/internal/doorbell"
	"github.com/srg/doorbell20/internal/webhook"
	"github.com/srg/doorbell20/pkg/config"
)

var runCmd = &cobra.Command{
	Use:   "run [webhook-key] [device-address] [doorbell-event] [failure-event]",
	Short: "Forward doorbell presses to IFTTT",
	Long: fmt.Sprintf(`Scans for the DoorBell20 at the given address, subscribes to its alarm
characteristic and posts every button press to the doorbell webhook event.

If the doorbell is not subscribed within --connection-timeout, the failure
event is posted once and the bridge exits with status 1. On disconnect the
bridge either rescans (rescan) or exits (halt), see --disconnect-policy.

Arguments may also be given in the config file; flags override both.

%s`, deviceAddressNote),
	Example: fmt.Sprintf(`  # Bridge presses to the "door_bell" event, report failures to "door_failure"
  doorbell20 run YOUR_KEY %[1]s door_bell door_failure

  # Give up after two minutes and stop on the first disconnect
  doorbell20 run YOUR_KEY %[1]s door_bell door_failure --connection-timeout 2m --disconnect-policy halt

  # Everything from ~/.config/doorbell20/config.yaml
  doorbell20 run`, exampleDeviceAddress),
	Args: cobra.MaximumNArgs(4),
	RunE: runBridge,
}

func init() {
	runCmd.Flags().String("backend", "", "BLE backend: go-ble or tinygo")
	runCmd.Flags().Duration("connection-timeout", 0, "Time allowed to reach a subscribed state (default 10m)")
	runCmd.Flags().String("disconnect-policy", "", "What to do when the doorbell disconnects: rescan or halt (default rescan)")
	runCmd.Flags().String("subscribe-failure", "", "What to do when the alarm subscription fails: ignore or fatal (default ignore)")
	runCmd.Flags().String("webhook-host", "", "Webhook host or base URL (default maker.ifttt.com)")
	runCmd.Flags().Duration("webhook-timeout", 0, "Timeout of a single webhook call (default 10s)")
	runCmd.Flags().String("timestamp-layout", "", "Go time layout of the alarm timestamp sent as value1")
}

func runBridge(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	applyRunArgs(cfg, args)
	if err := applyRunFlags(cmd.Flags(), cfg); err != nil {
		return err
	}

	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration:\n%w", err)
	}

	adapter, err := devicefactory.New(cfg.Backend, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := adapter.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close BLE adapter")
		}
	}()

	client, err := webhook.NewClient(webhook.Options{
		Host:    cfg.WebhookHost,
		Key:     cfg.WebhookKey,
		Timeout: cfg.WebhookTimeout,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	opts, err := cfg.ManagerOptions(logger)
	if err != nil {
		return err
	}
	mgr, err := doorbell.NewManager(adapter, client, opts)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	printBanner(cmd.ErrOrStderr(), cfg)
	return mgr.Run(ctx)
}

// applyRunArgs copies the positional arguments, in the order
// webhook-key, device-address, doorbell-event, failure-event, onto cfg.
func applyRunArgs(cfg *config.Config, args []string) {
	targets := []*string{&cfg.WebhookKey, &cfg.DeviceAddress, &cfg.DoorbellEvent, &cfg.FailureEvent}
	for i, arg := range args {
		if i < len(targets) {
			*targets[i] = arg
		}
	}
}

// applyRunFlags copies the flags the user set onto cfg.
func applyRunFlags(flags *pflag.FlagSet, cfg *config.Config) error {
	strs := map[string]*string{
		"backend":           &cfg.Backend,
		"disconnect-policy": &cfg.DisconnectPolicy,
		"subscribe-failure": &cfg.SubscribeFailure,
		"webhook-host":      &cfg.WebhookHost,
		"timestamp-layout":  &cfg.TimestampLayout,
	}
	for name, target := range strs {
		if !flags.Changed(name) {
			continue
		}
		v, err := flags.GetString(name)
		if err != nil {
			return err
		}
		*target = v
	}

	if flags.Changed("connection-timeout") {
		v, err := flags.GetDuration("connection-timeout")
		if err != nil {
			return err
		}
		cfg.ConnectionTimeout = v
	}
	if flags.Changed("webhook-timeout") {
		v, err := flags.GetDuration("webhook-timeout")
		if err != nil {
			return err
		}
		cfg.WebhookTimeout = v
	}
	return nil
}

func printBanner(w io.Writer, cfg *config.Config) {
	bold := color.New(color.Bold)
	cyan := color.New(color.FgCyan)

	_, _ = bold.Fprintf(w, "doorbell20 %s\n", formatVersion(version))
	_, _ = fmt.Fprintf(w, "  device:      %s\n", cyan.Sprint(cfg.DeviceAddress))
	_, _ = fmt.Fprintf(w, "  press event: %s\n", cyan.Sprint(cfg.DoorbellEvent))
	if cfg.FailureEvent != "" {
		_, _ = fmt.Fprintf(w, "  fail event:  %s\n", cyan.Sprint(cfg.FailureEvent))
	}
	_, _ = fmt.Fprintf(w, "  timeout:     %s, on disconnect: %s\n", cfg.ConnectionTimeout, cfg.DisconnectPolicy)
}
