package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/srg/doorbell20/internal/device"
	"github.com/srg/doorbell20/internal/devicefactory"
	"github.com/srg/doorbell20/internal/testutils"
	"github.com/srg/doorbell20/internal/webhook"
	"github.com/stretchr/testify/suite"
)

const (
	testDeviceAddress = "f3:23:0d:4c:ce:1b"
	testWebhookKey    = "test-key"
)

// webhookRequest is one request seen by the test webhook server.
type webhookRequest struct {
	Path   string
	Values webhook.Values
}

// CommandTestSuite runs cobra commands against a fake BLE adapter and a local
// webhook server.
type CommandTestSuite struct {
	suite.Suite

	Adapter    *testutils.FakeAdapter
	ConfigPath string
	Server     *httptest.Server
	StatusCode int

	mu       sync.Mutex
	requests []webhookRequest

	originalFactory func(string, *logrus.Logger) (device.Adapter, error)
}

func (s *CommandTestSuite) SetupSuite() {
	color.NoColor = true
	s.originalFactory = devicefactory.AdapterFactory
}

func (s *CommandTestSuite) TearDownSuite() {
	devicefactory.AdapterFactory = s.originalFactory
}

func (s *CommandTestSuite) SetupTest() {
	s.Adapter = testutils.NewFakeAdapter()
	devicefactory.AdapterFactory = func(string, *logrus.Logger) (device.Adapter, error) {
		return s.Adapter, nil
	}

	s.ConfigPath = filepath.Join(s.T().TempDir(), "config.yaml")
	s.Require().NoError(os.WriteFile(s.ConfigPath, nil, 0o600), "empty config file MUST be writable")

	s.requests = nil
	s.StatusCode = http.StatusOK
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var values webhook.Values
		_ = json.Unmarshal(body, &values)

		s.mu.Lock()
		s.requests = append(s.requests, webhookRequest{Path: r.URL.Path, Values: values})
		code := s.StatusCode
		s.mu.Unlock()
		w.WriteHeader(code)
	}))
	s.T().Cleanup(s.Server.Close)

	resetFlags(rootCmd)
}

// Requests returns the webhook requests received so far.
func (s *CommandTestSuite) Requests() []webhookRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]webhookRequest(nil), s.requests...)
}

// ExecuteCommand runs the root command with args, returns output and error.
func (s *CommandTestSuite) ExecuteCommand(args ...string) (string, error) {
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

// resetFlags restores every flag of cmd and its subcommands to its default,
// since cobra keeps flag values between Execute calls.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}
