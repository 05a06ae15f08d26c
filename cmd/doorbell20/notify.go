package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/srg/doorbell20/internal/webhook"
)

var notifyCmd = &cobra.Command{
	Use:   "notify [webhook-key] <event> [value1]",
	Short: "Send a test webhook",
	Long: `Posts a single event to the IFTTT Maker webhook, the same way the bridge
does for a doorbell press. value1 defaults to the current time formatted with
the configured timestamp layout.

The webhook key may be omitted when it is set in the config file.`,
	Example: `  doorbell20 notify YOUR_KEY door_bell
  doorbell20 notify door_failure "Door Bell (f3:23:0d:4c:ce:1b)"`,
	Args: cobra.RangeArgs(1, 3),
	RunE: runNotify,
}

var (
	notifyHost    string
	notifyTimeout time.Duration
)

func init() {
	notifyCmd.Flags().StringVar(&notifyHost, "webhook-host", "", "Webhook host or base URL (default from config)")
	notifyCmd.Flags().DurationVar(&notifyTimeout, "webhook-timeout", 0, "Timeout of the webhook call (default from config)")
}

// notifyRequest is the parsed notify invocation.
type notifyRequest struct {
	key    string
	event  string
	value1 string
}

// parseNotifyArgs resolves the positional arguments. With one argument, or
// two when a configured key exists, the key comes from the config.
func parseNotifyArgs(args []string, configuredKey string) (notifyRequest, error) {
	var req notifyRequest
	switch {
	case len(args) == 3:
		req = notifyRequest{key: args[0], event: args[1], value1: args[2]}
	case len(args) == 2 && configuredKey != "":
		req = notifyRequest{key: configuredKey, event: args[0], value1: args[1]}
	case len(args) == 2:
		req = notifyRequest{key: args[0], event: args[1]}
	case len(args) == 1:
		req = notifyRequest{key: configuredKey, event: args[0]}
	}
	if req.key == "" {
		return req, fmt.Errorf("webhook key is required: pass it as the first argument or set webhook_key in the config file")
	}
	if req.event == "" {
		return req, fmt.Errorf("event name is required")
	}
	return req, nil
}

func runNotify(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	req, err := parseNotifyArgs(args, cfg.WebhookKey)
	if err != nil {
		return err
	}
	if notifyHost != "" {
		cfg.WebhookHost = notifyHost
	}
	if notifyTimeout > 0 {
		cfg.WebhookTimeout = notifyTimeout
	}
	if req.value1 == "" {
		req.value1 = time.Now().Format(cfg.TimestampLayout)
	}

	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	client, err := webhook.NewClient(webhook.Options{
		Host:    cfg.WebhookHost,
		Key:     req.key,
		Timeout: cfg.WebhookTimeout,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	status, err := client.Trigger(cmd.Context(), req.event, webhook.Values{Value1: req.value1})
	if err != nil {
		return err
	}

	_, _ = color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(), "Sent %q (value1=%q): HTTP %d\n", req.event, req.value1, status)
	return nil
}
