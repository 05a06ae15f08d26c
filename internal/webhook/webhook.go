// Package webhook posts events to the IFTTT Maker channel.
//
// Each call is a single POST to https://<host>/trigger/<event>/with/key/<key>
// with a JSON body of three string values. The response body is drained and
// discarded; only the status code is reported.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultHost is the IFTTT Maker webhook host.
const DefaultHost = "maker.ifttt.com"

// DefaultTimeout bounds a single webhook call.
const DefaultTimeout = 10 * time.Second

// Values is the Maker payload. Only Value1 is set by the doorbell bridge.
type Values struct {
	Value1 string `json:"value1"`
	Value2 string `json:"value2"`
	Value3 string `json:"value3"`
}

// StatusError reports a non-2xx response.
type StatusError struct {
	Event string
	Code  int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("webhook %q returned status %d %s", e.Event, e.Code, http.StatusText(e.Code))
}

// Options configures a Client.
type Options struct {
	// Host is a bare host name (https is implied) or a base URL with scheme.
	Host    string
	Key     string
	Timeout time.Duration

	// HTTPClient overrides the transport; Timeout still applies per call.
	HTTPClient *http.Client
	Logger     *logrus.Logger
}

// Client triggers Maker events.
type Client struct {
	base    *url.URL
	key     string
	timeout time.Duration
	http    *http.Client
	logger  *logrus.Logger
}

// NewClient validates opts and returns a Client.
func NewClient(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.Key) == "" {
		return nil, fmt.Errorf("webhook key is required")
	}

	host := strings.TrimSpace(opts.Host)
	if host == "" {
		host = DefaultHost
	}
	if !strings.Contains(host, "://") {
		host = "https://" + host
	}
	base, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("invalid webhook host %q: %w", opts.Host, err)
	}
	if base.Host == "" {
		return nil, fmt.Errorf("invalid webhook host %q: missing host", opts.Host)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
	}

	return &Client{
		base:    base,
		key:     opts.Key,
		timeout: timeout,
		http:    hc,
		logger:  logger,
	}, nil
}

// URL returns the trigger endpoint for event.
func (c *Client) URL(event string) string {
	u := *c.base
	u.Path = strings.TrimSuffix(c.base.Path, "/") + "/trigger/" + event + "/with/key/" + c.key
	u.RawPath = strings.TrimSuffix(c.base.EscapedPath(), "/") +
		"/trigger/" + url.PathEscape(event) + "/with/key/" + url.PathEscape(c.key)
	return u.String()
}

// Trigger posts values to event and returns the response status code.
// A non-2xx status is returned together with a *StatusError.
func (c *Client) Trigger(ctx context.Context, event string, values Values) (int, error) {
	if event == "" {
		return 0, fmt.Errorf("webhook event name is required")
	}

	body, err := json.Marshal(values)
	if err != nil {
		return 0, fmt.Errorf("failed to encode webhook payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL(event), bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.ContentLength = int64(len(body))

	c.logger.WithFields(logrus.Fields{
		"event":  event,
		"value1": values.Value1,
	}).Debug("Sending webhook")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("webhook %q request failed: %w", event, err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	c.logger.WithFields(logrus.Fields{
		"event":  event,
		"status": resp.StatusCode,
	}).Info("Webhook delivered")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, &StatusError{Event: event, Code: resp.StatusCode}
	}
	return resp.StatusCode, nil
}
