package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/doorbell20/internal/device"
	"github.com/srg/doorbell20/internal/devicefactory"
	"github.com/srg/doorbell20/internal/doorbell"
	"gopkg.in/yaml.v3"
)

// Config holds application configuration
type Config struct {
	WebhookKey    string `yaml:"webhook_key"`
	DeviceAddress string `yaml:"device_address"`
	DoorbellEvent string `yaml:"doorbell_event"`
	FailureEvent  string `yaml:"failure_event"`

	WebhookHost       string        `yaml:"webhook_host" default:"maker.ifttt.com"`
	WebhookTimeout    time.Duration `yaml:"webhook_timeout" default:"10s"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout" default:"10m"`
	DisconnectPolicy  string        `yaml:"disconnect_policy" default:"rescan"`
	SubscribeFailure  string        `yaml:"subscribe_failure" default:"ignore"`
	TimestampLayout   string        `yaml:"timestamp_layout" default:"1/2/2006, 3:04:05 PM"`
	Backend           string        `yaml:"backend" default:"go-ble"`
	LogLevel          string        `yaml:"log_level" default:"info"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// DefaultPath returns ~/.config/doorbell20/config.yaml, or "" when the home
// directory is unknown.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "doorbell20", "config.yaml")
}

// Load reads a YAML config file. Fields missing from the file keep their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := cfg.decode(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return cfg, nil
}

// LoadOptional loads path when it exists and returns defaults otherwise.
func LoadOptional(path string) (*Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}
	return Load(path)
}

func (c *Config) decode(r io.Reader) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Validate checks the configuration and normalizes the device address.
func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.WebhookKey) == "" {
		errs = append(errs, errors.New("webhook_key is required"))
	}
	if strings.TrimSpace(c.DoorbellEvent) == "" {
		errs = append(errs, errors.New("doorbell_event is required"))
	}

	if addr, err := device.ValidateAddress(c.DeviceAddress); err != nil {
		errs = append(errs, fmt.Errorf("device_address: %w", err))
	} else {
		c.DeviceAddress = addr
	}

	policy, err := doorbell.ParseDisconnectPolicy(c.DisconnectPolicy)
	if err != nil {
		errs = append(errs, fmt.Errorf("disconnect_policy: %w", err))
	} else if policy == doorbell.DisconnectRescan && strings.TrimSpace(c.FailureEvent) == "" {
		errs = append(errs, fmt.Errorf("failure_event is required with disconnect_policy %q", doorbell.DisconnectRescan))
	}

	if _, err := doorbell.ParseSubscribeFailurePolicy(c.SubscribeFailure); err != nil {
		errs = append(errs, fmt.Errorf("subscribe_failure: %w", err))
	}

	if c.ConnectionTimeout <= 0 {
		errs = append(errs, fmt.Errorf("connection_timeout must be > 0, got %s", c.ConnectionTimeout))
	}
	if c.WebhookTimeout <= 0 {
		errs = append(errs, fmt.Errorf("webhook_timeout must be > 0, got %s", c.WebhookTimeout))
	}
	if strings.TrimSpace(c.TimestampLayout) == "" {
		errs = append(errs, errors.New("timestamp_layout must not be empty"))
	}

	if !slices.Contains(devicefactory.Backends, strings.ToLower(c.Backend)) {
		errs = append(errs, fmt.Errorf("backend must be one of %s, got %q", strings.Join(devicefactory.Backends, ", "), c.Backend))
	}

	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// Level parses LogLevel.
func (c *Config) Level() (logrus.Level, error) {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel, fmt.Errorf("log_level: %w", err)
	}
	return level, nil
}

// ManagerOptions maps the configuration onto doorbell.Options.
func (c *Config) ManagerOptions(logger *logrus.Logger) (doorbell.Options, error) {
	disconnect, err := doorbell.ParseDisconnectPolicy(c.DisconnectPolicy)
	if err != nil {
		return doorbell.Options{}, err
	}
	subscribe, err := doorbell.ParseSubscribeFailurePolicy(c.SubscribeFailure)
	if err != nil {
		return doorbell.Options{}, err
	}
	return doorbell.Options{
		Address:           c.DeviceAddress,
		DoorbellEvent:     c.DoorbellEvent,
		FailureEvent:      c.FailureEvent,
		ConnectionTimeout: c.ConnectionTimeout,
		DisconnectPolicy:  disconnect,
		SubscribeFailure:  subscribe,
		TimestampLayout:   c.TimestampLayout,
		Logger:            logger,
	}, nil
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	level, err := c.Level()
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}
