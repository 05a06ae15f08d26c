package main

import (
	"os"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/srg/doorbell20/internal/doorbell"
	"github.com/srg/doorbell20/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type RunTestSuite struct {
	CommandTestSuite
}

func (s *RunTestSuite) TestTimeoutPostsFailureAndHalts() {
	// GOAL: Verify the run command wires config, adapter, webhook client and manager together
	//
	// TEST SCENARIO: doorbell never advertises → failure webhook posted once → halt error returned

	_, err := s.ExecuteCommand("run", testWebhookKey, "F3:23:0D:4C:CE:1B", "door_bell", "door_failure",
		"--config", s.ConfigPath,
		"--webhook-host", s.Server.URL,
		"--connection-timeout", "200ms",
		"--log-level", "error",
	)

	s.Require().Error(err, "connection timeout MUST end the bridge with an error")
	s.True(doorbell.IsHalt(err), "error MUST be a halt")
	s.ErrorIs(err, doorbell.ErrConnectionTimeout)

	reqs := s.Requests()
	s.Require().Len(reqs, 1, "exactly one failure notification MUST be posted")
	s.Equal("/trigger/door_failure/with/key/"+testWebhookKey, reqs[0].Path)
	s.Equal("Door Bell (f3:23:0d:4c:ce:1b)", reqs[0].Values.Value1, "failure payload MUST name the normalized address")

	s.Equal(1, s.Adapter.EnableCalls(), "adapter MUST be enabled once")
	s.False(s.Adapter.Scanning(), "scan MUST be stopped on halt")
}

func (s *RunTestSuite) TestConfigFileSuppliesArguments() {
	s.Require().NoError(os.WriteFile(s.ConfigPath, []byte(`
webhook_key: from-file
device_address: f3:23:0d:4c:ce:1b
doorbell_event: door_bell
disconnect_policy: halt
connection_timeout: 150ms
log_level: error
`), 0o600))

	_, err := s.ExecuteCommand("run", "--config", s.ConfigPath, "--webhook-host", s.Server.URL)

	s.ErrorIs(err, doorbell.ErrConnectionTimeout, "bridge MUST run from the config file alone")
	s.Empty(s.Requests(), "halt policy without a failure event MUST NOT post anything")
}

func (s *RunTestSuite) TestInvalidConfiguration() {
	cases := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{
			name:    "missing everything",
			args:    []string{"run"},
			wantErr: "webhook_key is required",
		},
		{
			name:    "bad address",
			args:    []string{"run", testWebhookKey, "not-an-address", "door_bell", "door_failure"},
			wantErr: "invalid device address",
		},
		{
			name:    "rescan without failure event",
			args:    []string{"run", testWebhookKey, testDeviceAddress, "door_bell"},
			wantErr: "failure_event is required",
		},
		{
			name:    "unknown policy",
			args:    []string{"run", testWebhookKey, testDeviceAddress, "door_bell", "door_failure", "--disconnect-policy", "retry"},
			wantErr: "disconnect_policy",
		},
		{
			name:    "bad log level",
			args:    []string{"run", testWebhookKey, testDeviceAddress, "door_bell", "door_failure", "--log-level", "loud"},
			wantErr: "invalid log level",
		},
	}

	for _, tc := range cases {
		s.Run(tc.name, func() {
			resetFlags(rootCmd)
			_, err := s.ExecuteCommand(append(tc.args, "--config", s.ConfigPath)...)
			s.ErrorContains(err, tc.wantErr)
			s.Zero(s.Adapter.EnableCalls(), "invalid configuration MUST NOT touch the adapter")
		})
	}
}

func (s *RunTestSuite) TestMissingExplicitConfigFile() {
	_, err := s.ExecuteCommand("run", "--config", s.ConfigPath+".missing")
	s.ErrorContains(err, "reading config file")
}

func TestRunTestSuite(t *testing.T) {
	suite.Run(t, new(RunTestSuite))
}

func TestApplyRunArgs(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.FailureEvent = "from_file"

	applyRunArgs(cfg, []string{"key", testDeviceAddress, "door_bell"})

	assert.Equal(t, "key", cfg.WebhookKey)
	assert.Equal(t, testDeviceAddress, cfg.DeviceAddress)
	assert.Equal(t, "door_bell", cfg.DoorbellEvent)
	assert.Equal(t, "from_file", cfg.FailureEvent, "missing positional arguments MUST keep config values")
}

func TestApplyRunFlags(t *testing.T) {
	flags := pflag.NewFlagSet("run", pflag.ContinueOnError)
	flags.AddFlagSet(runCmd.Flags())
	resetFlags(runCmd)

	cfg := config.DefaultConfig()
	require.NoError(t, flags.Parse([]string{
		"--connection-timeout", "90s",
		"--disconnect-policy", "halt",
		"--backend", "tinygo",
	}))
	require.NoError(t, applyRunFlags(flags, cfg))

	assert.Equal(t, 90*time.Second, cfg.ConnectionTimeout)
	assert.Equal(t, "halt", cfg.DisconnectPolicy)
	assert.Equal(t, "tinygo", cfg.Backend)
	assert.Equal(t, "ignore", cfg.SubscribeFailure, "unset flags MUST NOT override config values")
	assert.Equal(t, 10*time.Second, cfg.WebhookTimeout, "unset flags MUST NOT override config values")
	resetFlags(runCmd)
}

func TestFormatVersion(t *testing.T) {
	assert.Equal(t, "v1.2.3", formatVersion("1.2.3"))
	assert.Equal(t, "dev", formatVersion("dev"))
	assert.Equal(t, "", formatVersion(""))
}
