package doorbell

import (
	"fmt"
	"strings"
)

// DisconnectPolicy selects what happens when the peripheral drops the link.
type DisconnectPolicy string

const (
	// DisconnectRescan clears the session, re-arms the connection timeout and
	// resumes scanning.
	DisconnectRescan DisconnectPolicy = "rescan"
	// DisconnectHalt stops the bridge on the first disconnect.
	DisconnectHalt DisconnectPolicy = "halt"
)

// ParseDisconnectPolicy parses a policy name. An empty name selects DisconnectRescan.
func ParseDisconnectPolicy(s string) (DisconnectPolicy, error) {
	switch DisconnectPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", DisconnectRescan:
		return DisconnectRescan, nil
	case DisconnectHalt:
		return DisconnectHalt, nil
	default:
		return "", fmt.Errorf("unknown disconnect policy %q (want %q or %q)", s, DisconnectRescan, DisconnectHalt)
	}
}

// SubscribeFailurePolicy selects what happens when the alarm subscription is rejected.
type SubscribeFailurePolicy string

const (
	// SubscribeFailureIgnore logs the failure and stays connected. The
	// connection timeout stays armed, so a device that never delivers a
	// subscription still raises the failure notification.
	SubscribeFailureIgnore SubscribeFailurePolicy = "ignore"
	// SubscribeFailureFatal stops the bridge.
	SubscribeFailureFatal SubscribeFailurePolicy = "fatal"
)

// ParseSubscribeFailurePolicy parses a policy name. An empty name selects SubscribeFailureIgnore.
func ParseSubscribeFailurePolicy(s string) (SubscribeFailurePolicy, error) {
	switch SubscribeFailurePolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", SubscribeFailureIgnore:
		return SubscribeFailureIgnore, nil
	case SubscribeFailureFatal:
		return SubscribeFailureFatal, nil
	default:
		return "", fmt.Errorf("unknown subscribe failure policy %q (want %q or %q)", s, SubscribeFailureIgnore, SubscribeFailureFatal)
	}
}
