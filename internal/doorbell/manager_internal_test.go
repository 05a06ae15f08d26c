package doorbell

import (
	"testing"
	"time"

	"github.com/srg/doorbell20/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newInternalManager(t *testing.T) (*Manager, *testutils.FakeClock, *testutils.MockNotifier) {
	t.Helper()
	helper := testutils.NewTestHelper(t)
	clk := testutils.NewFakeClock(time.Date(2026, 10, 16, 9, 41, 0, 0, time.UTC))
	notifier := testutils.NewMockNotifier().ExpectAny(200, nil)

	m, err := NewManager(testutils.NewFakeAdapter(), notifier, Options{
		Address:           "F3-23-0D-4C-CE-1B",
		DoorbellEvent:     "ring",
		FailureEvent:      "fail",
		ConnectionTimeout: time.Second,
		Clock:             clk,
		Logger:            helper.Logger,
	})
	require.NoError(t, err)
	return m, clk, notifier
}

func TestTimerFiredWhileSubscribedIsIgnored(t *testing.T) {
	// GOAL: Verify a timer expiry queued before the subscription was processed cannot trigger the failure path
	//
	// TEST SCENARIO: Timer armed → expiry queued → subscription marked → expiry handled → no failure, no halt
	m, _, notifier := newInternalManager(t)
	m.armTimer()
	gen := m.timerGen

	m.subscribed = true
	m.handle(timerFired{gen: gen})

	assert.Nil(t, m.halt, "timer firing while subscribed MUST NOT halt")
	assert.NotEqual(t, StateFailing, m.state)
	assert.Empty(t, notifier.Triggered())
}

func TestStaleTimerGenerationIsIgnored(t *testing.T) {
	m, clk, notifier := newInternalManager(t)
	m.armTimer()
	stale := m.timerGen
	m.armTimer()

	assert.Equal(t, 1, clk.Pending(), "re-arming MUST leave a single active timer")
	assert.Equal(t, 1, clk.Stopped(), "re-arming MUST stop the previous timer")

	m.handle(timerFired{gen: stale})
	assert.Nil(t, m.halt)
	assert.True(t, m.timer != nil, "current timer MUST stay armed")
	assert.Empty(t, notifier.Triggered())
}

func TestDisarmedTimerExpiryIsIgnored(t *testing.T) {
	m, _, _ := newInternalManager(t)
	m.armTimer()
	gen := m.timerGen
	m.disarmTimer()

	m.handle(timerFired{gen: gen})
	assert.Nil(t, m.halt)
}

func TestNewManagerNormalizesAddress(t *testing.T) {
	m, _, _ := newInternalManager(t)
	assert.Equal(t, "f3:23:0d:4c:ce:1b", m.Address())
	assert.Equal(t, DisconnectRescan, m.opts.DisconnectPolicy)
	assert.Equal(t, SubscribeFailureIgnore, m.opts.SubscribeFailure)
	assert.Equal(t, DefaultTimestampLayout, m.opts.TimestampLayout)
}

func TestNewManagerValidation(t *testing.T) {
	adapter := testutils.NewFakeAdapter()
	notifier := testutils.NewMockNotifier()
	valid := Options{Address: "f3:23:0d:4c:ce:1b", DoorbellEvent: "ring", FailureEvent: "fail"}

	tests := []struct {
		name   string
		mutate func(*Options)
	}{
		{name: "invalid address", mutate: func(o *Options) { o.Address = "doorbell" }},
		{name: "empty address", mutate: func(o *Options) { o.Address = "" }},
		{name: "missing doorbell event", mutate: func(o *Options) { o.DoorbellEvent = " " }},
		{name: "rescan without failure event", mutate: func(o *Options) { o.FailureEvent = "" }},
		{name: "unknown disconnect policy", mutate: func(o *Options) { o.DisconnectPolicy = "retry" }},
		{name: "unknown subscribe policy", mutate: func(o *Options) { o.SubscribeFailure = "retry" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := valid
			tt.mutate(&opts)
			_, err := NewManager(adapter, notifier, opts)
			assert.Error(t, err)
		})
	}

	t.Run("halt policy without failure event", func(t *testing.T) {
		opts := valid
		opts.FailureEvent = ""
		opts.DisconnectPolicy = DisconnectHalt
		m, err := NewManager(adapter, notifier, opts)
		require.NoError(t, err)
		assert.Equal(t, DefaultConnectionTimeout, m.opts.ConnectionTimeout)
	})

	t.Run("nil collaborators", func(t *testing.T) {
		_, err := NewManager(nil, notifier, valid)
		assert.Error(t, err)
		_, err = NewManager(adapter, nil, valid)
		assert.Error(t, err)
	})
}

func TestDecodeDeviceTime(t *testing.T) {
	d, ok := decodeDeviceTime([]byte{0x10, 0x0e, 0x00, 0x00})
	assert.True(t, ok)
	assert.Equal(t, time.Hour, d)

	_, ok = decodeDeviceTime([]byte{1, 2})
	assert.False(t, ok, "only 4-byte values MUST decode")
	_, ok = decodeDeviceTime(nil)
	assert.False(t, ok)
}

func TestFailurePayload(t *testing.T) {
	assert.Equal(t, "Door Bell (f3:23:0d:4c:ce:1b)", FailurePayload("f3:23:0d:4c:ce:1b"))
}

func TestParsePolicies(t *testing.T) {
	p, err := ParseDisconnectPolicy("HALT")
	require.NoError(t, err)
	assert.Equal(t, DisconnectHalt, p)

	p, err = ParseDisconnectPolicy("")
	require.NoError(t, err)
	assert.Equal(t, DisconnectRescan, p)

	_, err = ParseDisconnectPolicy("reconnect")
	assert.Error(t, err)

	sp, err := ParseSubscribeFailurePolicy(" fatal ")
	require.NoError(t, err)
	assert.Equal(t, SubscribeFailureFatal, sp)

	sp, err = ParseSubscribeFailurePolicy("")
	require.NoError(t, err)
	assert.Equal(t, SubscribeFailureIgnore, sp)

	_, err = ParseSubscribeFailurePolicy("retry")
	assert.Error(t, err)
}

func TestHaltError(t *testing.T) {
	err := &HaltError{Reason: "connection timeout", Err: ErrConnectionTimeout}
	assert.Equal(t, "connection timeout: connection timeout", err.Error())
	assert.ErrorIs(t, err, ErrConnectionTimeout)
	assert.True(t, IsHalt(err))

	bare := &HaltError{Reason: "stopped"}
	assert.Equal(t, "stopped", bare.Error())
	assert.False(t, IsHalt(ErrConnectionTimeout))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "subscribed", StateSubscribed.String())
	assert.Equal(t, "discovering-characteristics", StateDiscoveringCharacteristics.String())
	assert.Equal(t, "unknown", State(99).String())
}
