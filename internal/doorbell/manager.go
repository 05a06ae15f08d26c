// Package doorbell implements the DoorBell20 connection manager: it scans for
// one peripheral by address, connects, resolves the alarm and local-time
// characteristics, subscribes to alarms and forwards each alarm to a webhook.
// A connection timeout raises a separate failure notification and halts.
package doorbell

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/doorbell20/internal/bledb"
	"github.com/srg/doorbell20/internal/clock"
	"github.com/srg/doorbell20/internal/device"
	"github.com/srg/doorbell20/internal/groutine"
	"github.com/srg/doorbell20/internal/webhook"
)

const (
	DefaultConnectionTimeout = 10 * time.Minute

	eventQueueSize    = 64
	dispatchQueueSize = 32

	localTimeReadTimeout = 5 * time.Second
)

// ErrNotRunning is returned by Status once Run has returned.
var ErrNotRunning = errors.New("doorbell manager is not running")

// Notifier delivers one webhook event and reports the HTTP status.
type Notifier interface {
	Trigger(ctx context.Context, event string, values webhook.Values) (int, error)
}

// Options configures a Manager.
type Options struct {
	Address       string
	DoorbellEvent string
	// FailureEvent may be empty only with DisconnectHalt; the timeout then
	// halts without a notification.
	FailureEvent string

	ConnectionTimeout time.Duration
	DisconnectPolicy  DisconnectPolicy
	SubscribeFailure  SubscribeFailurePolicy
	TimestampLayout   string

	Clock  clock.Clock
	Logger *logrus.Logger
}

type session struct {
	id         uint64
	peripheral device.Peripheral
	service    device.Service
	alarm      device.Characteristic
	localTime  device.Characteristic
}

// Manager owns the connection lifecycle. All state below the channels is
// owned by the Run loop.
type Manager struct {
	adapter  device.Adapter
	notifier Notifier
	opts     Options
	address  string
	clock    clock.Clock
	logger   *logrus.Logger

	events     chan event
	dispatches chan dispatchJob
	done       chan struct{}
	running    atomic.Bool

	ctx        context.Context
	state      State
	powered    bool
	scanning   bool
	connecting bool
	attempt    uint64
	sess       *session
	subscribed bool
	timer      clock.Timer
	timerGen   uint64
	alarms     int
	dispatched int
	halt       *HaltError
}

// NewManager validates opts and returns a Manager ready to Run.
func NewManager(adapter device.Adapter, notifier Notifier, opts Options) (*Manager, error) {
	if adapter == nil {
		return nil, errors.New("BLE adapter is required")
	}
	if notifier == nil {
		return nil, errors.New("notifier is required")
	}

	address, err := device.ValidateAddress(opts.Address)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(opts.DoorbellEvent) == "" {
		return nil, errors.New("doorbell event name is required")
	}

	if opts.DisconnectPolicy, err = ParseDisconnectPolicy(string(opts.DisconnectPolicy)); err != nil {
		return nil, err
	}
	if opts.SubscribeFailure, err = ParseSubscribeFailurePolicy(string(opts.SubscribeFailure)); err != nil {
		return nil, err
	}
	if opts.DisconnectPolicy == DisconnectRescan && strings.TrimSpace(opts.FailureEvent) == "" {
		return nil, fmt.Errorf("failure event name is required with disconnect policy %q", DisconnectRescan)
	}

	if opts.ConnectionTimeout <= 0 {
		opts.ConnectionTimeout = DefaultConnectionTimeout
	}
	if opts.TimestampLayout == "" {
		opts.TimestampLayout = DefaultTimestampLayout
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}

	return &Manager{
		adapter:    adapter,
		notifier:   notifier,
		opts:       opts,
		address:    address,
		clock:      opts.Clock,
		logger:     opts.Logger,
		events:     make(chan event, eventQueueSize),
		dispatches: make(chan dispatchJob, dispatchQueueSize),
		done:       make(chan struct{}),
	}, nil
}

// Address returns the normalized address of the target peripheral.
func (m *Manager) Address() string {
	return m.address
}

// Run drives the bridge until ctx is cancelled or a terminal condition occurs.
// Cancellation returns ctx.Err(); terminal conditions return a *HaltError.
// Run may be called once.
func (m *Manager) Run(ctx context.Context) error {
	if !m.running.CompareAndSwap(false, true) {
		return errors.New("doorbell manager is already running")
	}
	defer close(m.done)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	m.ctx = ctx

	m.logger.WithFields(logrus.Fields{
		"address":            m.address,
		"doorbell_event":     m.opts.DoorbellEvent,
		"failure_event":      m.opts.FailureEvent,
		"connection_timeout": m.opts.ConnectionTimeout,
		"disconnect_policy":  m.opts.DisconnectPolicy,
	}).Info("Starting doorbell bridge")

	m.adapter.OnPowerStateChange(func(s device.PowerState) {
		m.post(powerEvent{state: s})
	})

	groutine.Go(ctx, "webhook-dispatch", m.dispatchLoop)

	m.armTimer()

	groutine.Go(ctx, "adapter-enable", func(ctx context.Context) {
		if err := m.adapter.Enable(ctx); err != nil {
			m.post(enableFailed{err: err})
		}
	})

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("Shutting down doorbell bridge")
			m.shutdown()
			return ctx.Err()
		case ev := <-m.events:
			m.handle(ev)
			if m.halt != nil {
				m.logger.WithError(m.halt).Error("Doorbell bridge halted")
				m.shutdown()
				return m.halt
			}
		}
	}
}

// Status returns a snapshot taken on the Run loop.
func (m *Manager) Status(ctx context.Context) (Status, error) {
	select {
	case <-m.done:
		return Status{}, ErrNotRunning
	default:
	}

	reply := make(chan Status, 1)
	select {
	case m.events <- statusRequest{reply: reply}:
	case <-m.done:
		return Status{}, ErrNotRunning
	case <-ctx.Done():
		return Status{}, ctx.Err()
	}

	select {
	case s := <-reply:
		return s, nil
	case <-m.done:
		return Status{}, ErrNotRunning
	case <-ctx.Done():
		return Status{}, ctx.Err()
	}
}

func (m *Manager) post(ev event) {
	select {
	case m.events <- ev:
	case <-m.done:
	}
}

// tryPost never blocks. Scan results go through it because the adapter may
// wait for its scan goroutine while the loop is inside StopScan.
func (m *Manager) tryPost(ev event) bool {
	select {
	case m.events <- ev:
		return true
	default:
		return false
	}
}

func (m *Manager) handle(ev event) {
	switch e := ev.(type) {
	case powerEvent:
		m.onPowerState(e.state)
	case enableFailed:
		m.logger.WithError(e.err).Error("Failed to enable Bluetooth adapter, waiting for power state change or connection timeout")
	case scanResultEvent:
		m.onScanResult(e.result)
	case connectResult:
		m.onConnect(e)
	case servicesResult:
		m.onServices(e)
	case characteristicsResult:
		m.onCharacteristics(e)
	case localTimeResult:
		m.onLocalTime(e)
	case subscribeResult:
		m.onSubscribe(e)
	case alarmEvent:
		m.onAlarm(e)
	case disconnectEvent:
		m.onDisconnect(e)
	case timerFired:
		m.onTimer(e)
	case dispatchDone:
		m.onDispatchDone(e)
	case failureDispatched:
		m.onFailureDispatched(e)
	case statusRequest:
		e.reply <- m.status()
	default:
		m.logger.WithField("event", fmt.Sprintf("%T", ev)).Warn("Unhandled event")
	}
}

func (m *Manager) onPowerState(s device.PowerState) {
	m.logger.WithField("state", s.String()).Info("Adapter state changed")

	m.powered = s == device.PowerStatePoweredOn
	if m.powered {
		m.syncScan()
		return
	}

	// StopScan is idempotent, so it is issued even when no scan is known to run.
	if err := m.adapter.StopScan(); err != nil {
		m.logger.WithError(err).Warn("Failed to stop scanning")
	}
	m.scanning = false
	if m.sess == nil && !m.connecting && !m.state.terminal() {
		m.setState(StateIdle)
	}
}

// syncScan starts or stops scanning so that the adapter scans exactly when
// it is powered on and no connection exists or is being made.
func (m *Manager) syncScan() {
	want := m.powered && m.sess == nil && !m.connecting && !m.state.terminal()

	switch {
	case want && !m.scanning:
		if err := m.adapter.StartScan(bledb.DoorBellService, m.onAdvertisement); err != nil {
			m.logger.WithError(err).Error("Failed to start scanning")
			return
		}
		m.scanning = true
		m.setState(StateScanning)
	case !want && m.scanning:
		m.stopScan()
	}
}

func (m *Manager) stopScan() {
	if err := m.adapter.StopScan(); err != nil {
		m.logger.WithError(err).Warn("Failed to stop scanning")
	}
	m.scanning = false
}

// onAdvertisement runs on the adapter's scan goroutine.
func (m *Manager) onAdvertisement(res device.ScanResult) {
	if !m.tryPost(scanResultEvent{result: res}) {
		m.logger.WithField("address", res.Address).Debug("Event queue full, dropping scan result")
	}
}

func (m *Manager) onScanResult(res device.ScanResult) {
	if m.state.terminal() {
		return
	}

	addr := device.NormalizeAddress(res.Address)
	entry := m.logger.WithFields(logrus.Fields{
		"address": addr,
		"name":    res.LocalName,
		"rssi":    res.RSSI,
	})

	if addr != m.address {
		entry.Debug("Ignoring peripheral with non-matching address")
		return
	}
	if m.connecting || m.sess != nil {
		entry.Debug("Doorbell already connecting or connected, ignoring advertisement")
		return
	}

	entry.Info("Found doorbell")

	m.connecting = true
	m.attempt++
	attempt := m.attempt
	m.syncScan()
	m.setState(StateConnecting)

	target := res.Address
	groutine.Go(m.ctx, "doorbell-connect", func(ctx context.Context) {
		p, err := m.adapter.Connect(ctx, target)
		m.post(connectResult{attempt: attempt, peripheral: p, err: err})
	})
}

func (m *Manager) onConnect(e connectResult) {
	if e.attempt != m.attempt || !m.connecting || m.state.terminal() {
		if e.peripheral != nil {
			if err := e.peripheral.Disconnect(); err != nil {
				m.logger.WithError(err).Debug("Failed to disconnect stale doorbell connection")
			}
		}
		return
	}
	m.connecting = false

	if e.err != nil {
		// The connection timer keeps running; only a disconnect opens a fresh window.
		m.logger.WithError(e.err).WithField("address", m.address).Error("Failed to connect to doorbell")
		m.setState(StateIdle)
		m.syncScan()
		return
	}

	s := &session{id: e.attempt, peripheral: e.peripheral}
	m.sess = s
	m.logger.WithField("address", m.address).Info("Connected to doorbell")

	// The observer may fire synchronously when the link is already gone, so
	// it must not post from the loop goroutine.
	s.peripheral.OnDisconnect(func() {
		groutine.Go(context.Background(), "doorbell-disconnect", func(context.Context) {
			m.post(disconnectEvent{session: s.id})
		})
	})

	m.setState(StateDiscoveringServices)
	p := s.peripheral
	groutine.Go(m.ctx, "doorbell-discover-services", func(ctx context.Context) {
		svcs, err := p.DiscoverServices(ctx, []string{bledb.DoorBellService})
		m.post(servicesResult{session: s.id, services: svcs, err: err})
	})
}

func (m *Manager) current(id uint64) *session {
	if m.sess == nil || m.sess.id != id || m.state.terminal() {
		return nil
	}
	return m.sess
}

func (m *Manager) onServices(e servicesResult) {
	s := m.current(e.session)
	if s == nil {
		return
	}
	if e.err != nil {
		m.haltWith("service discovery failed", fmt.Errorf("%w: %w", ErrDiscoveryFailed, e.err))
		return
	}

	for _, svc := range e.services {
		if device.EqualUUID(svc.UUID(), bledb.DoorBellService) {
			s.service = svc
			break
		}
	}
	if s.service == nil {
		m.haltWith("service discovery failed", fmt.Errorf("%w: %w", ErrServiceNotFound,
			&device.NotFoundError{Resource: "service", UUIDs: []string{bledb.DoorBellService}}))
		return
	}
	m.logger.WithField("service_uuid", s.service.UUID()).Debug("Found doorbell service")

	m.setState(StateDiscoveringCharacteristics)
	p, svc := s.peripheral, s.service
	groutine.Go(m.ctx, "doorbell-discover-characteristics", func(ctx context.Context) {
		chars, err := p.DiscoverCharacteristics(ctx, svc, nil)
		m.post(characteristicsResult{session: s.id, characteristics: chars, err: err})
	})
}

func (m *Manager) onCharacteristics(e characteristicsResult) {
	s := m.current(e.session)
	if s == nil {
		return
	}
	if e.err != nil {
		m.haltWith("characteristic discovery failed", fmt.Errorf("%w: %w", ErrDiscoveryFailed, e.err))
		return
	}

	for _, c := range e.characteristics {
		switch {
		case device.EqualUUID(c.UUID(), bledb.DoorBellAlarm):
			s.alarm = c
		case device.EqualUUID(c.UUID(), bledb.DoorBellLocalTime):
			s.localTime = c
		}
	}

	var (
		missing  []string
		notFound []error
	)
	for _, c := range []struct {
		uuid  string
		found bool
	}{
		{bledb.DoorBellAlarm, s.alarm != nil},
		{bledb.DoorBellLocalTime, s.localTime != nil},
	} {
		if c.found {
			continue
		}
		missing = append(missing, bledb.LookupCharacteristic(c.uuid))
		notFound = append(notFound, &device.NotFoundError{
			Resource: "characteristic",
			UUIDs:    []string{bledb.DoorBellService, c.uuid},
		})
	}
	if len(missing) > 0 {
		m.haltWith("incompatible device, missing "+strings.Join(missing, ", "),
			wrapAll(ErrMissingCharacteristic, notFound))
		return
	}

	m.setState(StateSubscribing)
	p, alarm, localTime := s.peripheral, s.alarm, s.localTime
	groutine.Go(m.ctx, "doorbell-subscribe", func(ctx context.Context) {
		readCtx, cancel := context.WithTimeout(ctx, localTimeReadTimeout)
		data, err := p.ReadCharacteristic(readCtx, localTime)
		cancel()
		m.post(localTimeResult{session: s.id, data: data, err: err})

		err = p.Subscribe(ctx, alarm, func(data []byte) {
			m.post(alarmEvent{session: s.id, at: m.clock.Now(), data: data})
		})
		m.post(subscribeResult{session: s.id, err: err})
	})
}

func (m *Manager) onLocalTime(e localTimeResult) {
	if m.current(e.session) == nil {
		return
	}
	if e.err != nil {
		m.logger.WithError(e.err).Warn("Failed to read doorbell local time")
		return
	}
	if uptime, ok := decodeDeviceTime(e.data); ok {
		m.logger.WithField("device_uptime", uptime.String()).Info("Doorbell clock")
		return
	}
	m.logger.WithField("bytes", len(e.data)).Debug("Unexpected doorbell local time length")
}

func (m *Manager) onSubscribe(e subscribeResult) {
	if m.current(e.session) == nil {
		return
	}

	if e.err != nil {
		if m.opts.SubscribeFailure == SubscribeFailureFatal {
			m.haltWith("alarm subscription failed", fmt.Errorf("%w: %w", ErrSubscribeFailed, e.err))
			return
		}
		m.logger.WithError(e.err).WithField("address", m.address).
			Error("Failed to subscribe to doorbell alarm, connection timer stays armed")
		m.setState(StateConnected)
		return
	}

	m.subscribed = true
	m.disarmTimer()
	m.setState(StateSubscribed)
	m.logger.WithField("address", m.address).Info("Subscribed to doorbell alarm")
}

// onAlarm forwards every notification of the live session, including one
// queued ahead of its subscribeResult.
func (m *Manager) onAlarm(e alarmEvent) {
	if m.current(e.session) == nil {
		m.logger.Debug("Dropping alarm from a stale connection")
		return
	}

	m.alarms++
	ts := e.at.Format(m.opts.TimestampLayout)

	entry := m.logger.WithFields(logrus.Fields{
		"address":   m.address,
		"timestamp": ts,
		"count":     m.alarms,
	})
	if at, ok := decodeDeviceTime(e.data); ok {
		entry = entry.WithField("device_time", at.String())
	}
	entry.Info("Doorbell alarm")

	m.enqueue(dispatchJob{
		event:  m.opts.DoorbellEvent,
		values: webhook.Values{Value1: ts},
	})
}

func (m *Manager) enqueue(job dispatchJob) {
	select {
	case m.dispatches <- job:
	default:
		m.logger.WithField("event", job.event).Warn("Dispatch queue full, dropping notification")
	}
}

// dispatchLoop delivers alarm notifications one at a time, in arrival order.
func (m *Manager) dispatchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-m.dispatches:
			status, err := m.notifier.Trigger(ctx, job.event, job.values)
			m.post(dispatchDone{job: job, status: status, err: err})
		}
	}
}

func (m *Manager) onDispatchDone(e dispatchDone) {
	m.dispatched++
	entry := m.logger.WithFields(logrus.Fields{
		"event":  e.job.event,
		"status": e.status,
	})
	if e.err != nil {
		entry.WithError(e.err).Warn("Doorbell notification failed")
		return
	}
	entry.Debug("Doorbell notification sent")
}

func (m *Manager) onDisconnect(e disconnectEvent) {
	if m.current(e.session) == nil {
		return
	}

	m.logger.WithFields(logrus.Fields{
		"address":    m.address,
		"subscribed": m.subscribed,
	}).Warn("Doorbell disconnected")

	m.sess = nil
	m.subscribed = false

	if m.opts.DisconnectPolicy == DisconnectHalt {
		m.haltWith("doorbell disconnected", ErrDisconnected)
		return
	}

	m.armTimer()
	m.setState(StateIdle)
	// Neither backend reports power changes after Enable, so the scan is
	// resumed here.
	m.syncScan()
}

func (m *Manager) onTimer(e timerFired) {
	if e.gen != m.timerGen || m.timer == nil {
		m.logger.Debug("Ignoring stale connection timer")
		return
	}
	m.timer = nil

	if m.subscribed {
		m.logger.Warn("Connection timer fired while subscribed, ignoring")
		return
	}
	if m.state.terminal() {
		return
	}

	entry := m.logger.WithFields(logrus.Fields{
		"address": m.address,
		"timeout": m.opts.ConnectionTimeout,
	})

	if m.opts.FailureEvent == "" {
		entry.Error("Connection timeout")
		m.haltWith("connection timeout", ErrConnectionTimeout)
		return
	}

	entry.WithField("event", m.opts.FailureEvent).Error("Connection timeout, sending failure notification")
	m.setState(StateFailing)
	m.syncScan()

	name := m.opts.FailureEvent
	values := webhook.Values{Value1: FailurePayload(m.address)}
	groutine.Go(m.ctx, "doorbell-failure-dispatch", func(ctx context.Context) {
		status, err := m.notifier.Trigger(ctx, name, values)
		m.post(failureDispatched{status: status, err: err})
	})
}

func (m *Manager) onFailureDispatched(e failureDispatched) {
	m.dispatched++
	entry := m.logger.WithFields(logrus.Fields{
		"event":  m.opts.FailureEvent,
		"status": e.status,
	})
	if e.err != nil {
		entry.WithError(e.err).Error("Failure notification failed")
	} else {
		entry.Info("Failure notification sent")
	}
	m.haltWith("connection timeout", ErrConnectionTimeout)
}

func (m *Manager) armTimer() {
	m.disarmTimer()

	m.timerGen++
	gen := m.timerGen
	m.timer = m.clock.AfterFunc(m.opts.ConnectionTimeout, func() {
		m.post(timerFired{gen: gen})
	})
	m.logger.WithField("timeout", m.opts.ConnectionTimeout).Debug("Connection timer armed")
}

func (m *Manager) disarmTimer() {
	if m.timer == nil {
		return
	}
	m.timer.Stop()
	m.timer = nil
	m.logger.Debug("Connection timer disarmed")
}

func (m *Manager) haltWith(reason string, err error) {
	if m.halt != nil {
		return
	}
	m.halt = &HaltError{Reason: reason, Err: err}
}

func (m *Manager) shutdown() {
	m.disarmTimer()
	if m.scanning {
		m.stopScan()
	}
	if m.sess != nil {
		if err := m.sess.peripheral.Disconnect(); err != nil {
			m.logger.WithError(err).Debug("Failed to disconnect doorbell")
		}
		m.sess = nil
	}
	m.subscribed = false
	m.setState(StateHalted)
}

func (m *Manager) setState(s State) {
	if s == m.state {
		return
	}
	m.logger.WithFields(logrus.Fields{
		"from": m.state.String(),
		"to":   s.String(),
	}).Debug("State transition")
	m.state = s
}

func (m *Manager) status() Status {
	return Status{
		Address:    m.address,
		State:      m.state,
		Powered:    m.powered,
		Scanning:   m.scanning,
		Subscribed: m.subscribed,
		TimerArmed: m.timer != nil,
		Alarms:     m.alarms,
		Dispatched: m.dispatched,
	}
}
