package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/doorbell20/internal/doorbell"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.WebhookKey = "secret"
	cfg.DeviceAddress = "F3:23:0D:4C:CE:1B"
	cfg.DoorbellEvent = "door_bell"
	cfg.FailureEvent = "door_failure"
	return cfg
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.NotNil(t, cfg)
	assert.Equal(t, "maker.ifttt.com", cfg.WebhookHost)
	assert.Equal(t, 10*time.Second, cfg.WebhookTimeout)
	assert.Equal(t, 10*time.Minute, cfg.ConnectionTimeout)
	assert.Equal(t, "rescan", cfg.DisconnectPolicy)
	assert.Equal(t, "ignore", cfg.SubscribeFailure)
	assert.Equal(t, doorbell.DefaultTimestampLayout, cfg.TimestampLayout)
	assert.Equal(t, "go-ble", cfg.Backend)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Empty(t, cfg.WebhookKey, "credentials MUST NOT have defaults")
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
webhook_key: abc123
device_address: f3:23:0d:4c:ce:1b
doorbell_event: door_bell
failure_event: door_failure
connection_timeout: 5s
disconnect_policy: halt
log_level: debug
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "abc123", cfg.WebhookKey)
	assert.Equal(t, "f3:23:0d:4c:ce:1b", cfg.DeviceAddress)
	assert.Equal(t, 5*time.Second, cfg.ConnectionTimeout)
	assert.Equal(t, "halt", cfg.DisconnectPolicy)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "maker.ifttt.com", cfg.WebhookHost, "fields missing from the file MUST keep defaults")
	assert.Equal(t, 10*time.Second, cfg.WebhookTimeout)
	assert.NoError(t, cfg.Validate())
}

func TestLoadErrors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("unknown field", func(t *testing.T) {
		_, err := Load(writeConfig(t, "webhook_kye: typo\n"))
		assert.Error(t, err, "unknown fields MUST be rejected")
	})

	t.Run("bad duration", func(t *testing.T) {
		_, err := Load(writeConfig(t, "connection_timeout: soon\n"))
		assert.Error(t, err)
	})
}

func TestLoadEmptyFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadOptional(t *testing.T) {
	cfg, err := LoadOptional(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)

	cfg, err = LoadOptional("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)

	cfg, err = LoadOptional(writeConfig(t, "backend: tinygo\n"))
	require.NoError(t, err)
	assert.Equal(t, "tinygo", cfg.Backend)
}

func TestValidate(t *testing.T) {
	t.Run("valid config normalizes address", func(t *testing.T) {
		cfg := validConfig()
		require.NoError(t, cfg.Validate())
		assert.Equal(t, "f3:23:0d:4c:ce:1b", cfg.DeviceAddress)
	})

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "missing key", mutate: func(c *Config) { c.WebhookKey = "" }, wantErr: "webhook_key"},
		{name: "missing doorbell event", mutate: func(c *Config) { c.DoorbellEvent = "" }, wantErr: "doorbell_event"},
		{name: "bad address", mutate: func(c *Config) { c.DeviceAddress = "f3:23:0d" }, wantErr: "device_address"},
		{name: "rescan needs failure event", mutate: func(c *Config) { c.FailureEvent = "" }, wantErr: "failure_event"},
		{name: "unknown disconnect policy", mutate: func(c *Config) { c.DisconnectPolicy = "retry" }, wantErr: "disconnect_policy"},
		{name: "unknown subscribe policy", mutate: func(c *Config) { c.SubscribeFailure = "retry" }, wantErr: "subscribe_failure"},
		{name: "zero connection timeout", mutate: func(c *Config) { c.ConnectionTimeout = 0 }, wantErr: "connection_timeout"},
		{name: "negative webhook timeout", mutate: func(c *Config) { c.WebhookTimeout = -time.Second }, wantErr: "webhook_timeout"},
		{name: "empty timestamp layout", mutate: func(c *Config) { c.TimestampLayout = " " }, wantErr: "timestamp_layout"},
		{name: "unknown backend", mutate: func(c *Config) { c.Backend = "bluez" }, wantErr: "backend"},
		{name: "bad log level", mutate: func(c *Config) { c.LogLevel = "loud" }, wantErr: "log_level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	t.Run("halt policy without failure event", func(t *testing.T) {
		cfg := validConfig()
		cfg.FailureEvent = ""
		cfg.DisconnectPolicy = "halt"
		assert.NoError(t, cfg.Validate())
	})

	t.Run("all problems are reported", func(t *testing.T) {
		cfg := DefaultConfig()
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "webhook_key")
		assert.Contains(t, err.Error(), "doorbell_event")
		assert.Contains(t, err.Error(), "device_address")
	})
}

func TestManagerOptions(t *testing.T) {
	cfg := validConfig()
	cfg.DisconnectPolicy = "HALT"
	cfg.SubscribeFailure = "fatal"
	require.NoError(t, cfg.Validate())

	logger := logrus.New()
	opts, err := cfg.ManagerOptions(logger)
	require.NoError(t, err)

	assert.Equal(t, "f3:23:0d:4c:ce:1b", opts.Address)
	assert.Equal(t, "door_bell", opts.DoorbellEvent)
	assert.Equal(t, "door_failure", opts.FailureEvent)
	assert.Equal(t, doorbell.DisconnectHalt, opts.DisconnectPolicy)
	assert.Equal(t, doorbell.SubscribeFailureFatal, opts.SubscribeFailure)
	assert.Equal(t, 10*time.Minute, opts.ConnectionTimeout)
	assert.Same(t, logger, opts.Logger)
}

func TestConfig_NewLogger(t *testing.T) {
	tests := []struct {
		name     string
		logLevel string
		want     logrus.Level
	}{
		{
			name:     "creates logger with debug level",
			logLevel: "debug",
			want:     logrus.DebugLevel,
		},
		{
			name:     "creates logger with info level",
			logLevel: "info",
			want:     logrus.InfoLevel,
		},
		{
			name:     "creates logger with warn level",
			logLevel: "warn",
			want:     logrus.WarnLevel,
		},
		{
			name:     "falls back to info on invalid level",
			logLevel: "chatty",
			want:     logrus.InfoLevel,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				LogLevel: tt.logLevel,
			}

			logger := cfg.NewLogger()

			assert.NotNil(t, logger)
			assert.Equal(t, tt.want, logger.GetLevel())

			// Verify formatter is set correctly
			formatter, ok := logger.Formatter.(*logrus.TextFormatter)
			assert.True(t, ok)
			assert.True(t, formatter.FullTimestamp)
			assert.Equal(t, time.RFC3339, formatter.TimestampFormat)
		})
	}
}
