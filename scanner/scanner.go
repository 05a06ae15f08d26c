// Package scanner lists nearby DoorBell20 peripherals.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"github.com/srg/doorbell20/internal/bledb"
	"github.com/srg/doorbell20/internal/device"
)

// ProgressCallback is called when the scan phase changes
type ProgressCallback func(phase string)

// DeviceInfo is the accumulated view of one advertiser.
type DeviceInfo struct {
	Address   string    `json:"address"`
	Name      string    `json:"name,omitempty"`
	RSSI      int       `json:"rssi"`
	Services  []string  `json:"services,omitempty"`
	Seen      int       `json:"seen"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

// ScanOptions configures scanning behavior
type ScanOptions struct {
	Duration    time.Duration
	ServiceUUID string
	AllowList   []string
	BlockList   []string
}

// DefaultScanOptions scans for the DoorBell20 service for 10 seconds.
func DefaultScanOptions() *ScanOptions {
	return &ScanOptions{
		Duration:    10 * time.Second,
		ServiceUUID: bledb.DoorBellService,
	}
}

// Scanner handles BLE device discovery
type Scanner struct {
	adapter device.Adapter
	logger  *logrus.Logger
	now     func() time.Time

	devices *hashmap.Map[string, DeviceInfo]
}

// NewScanner creates a scanner on top of an adapter. The adapter must not be
// enabled yet; Scan enables it.
func NewScanner(adapter device.Adapter, logger *logrus.Logger) (*Scanner, error) {
	if adapter == nil {
		return nil, errors.New("scanner requires a BLE adapter")
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Scanner{
		adapter: adapter,
		logger:  logger,
		now:     time.Now,
	}, nil
}

// Scan enables the adapter, scans while it is powered on and returns the
// devices seen once opts.Duration elapses or ctx is done.
func (s *Scanner) Scan(ctx context.Context, opts *ScanOptions, progressCallback ProgressCallback) ([]DeviceInfo, error) {
	if opts == nil {
		opts = DefaultScanOptions()
	}
	if progressCallback == nil {
		progressCallback = func(string) {} // No-op callback
	}
	serviceUUID := opts.ServiceUUID
	if serviceUUID == "" {
		serviceUUID = bledb.DoorBellService
	}
	allow := normalizeAddresses(opts.AllowList)
	block := normalizeAddresses(opts.BlockList)

	s.devices = hashmap.New[string, DeviceInfo]()

	if opts.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Duration)
		defer cancel()
	}

	handler := func(res device.ScanResult) {
		s.handleResult(res, allow, block)
	}
	s.adapter.OnPowerStateChange(func(state device.PowerState) {
		if state != device.PowerStatePoweredOn {
			progressCallback("Waiting for Bluetooth")
			_ = s.adapter.StopScan()
			return
		}
		progressCallback("Scanning")
		if err := s.adapter.StartScan(serviceUUID, handler); err != nil {
			s.logger.WithError(err).Error("Failed to start scan")
		}
	})

	s.logger.WithFields(logrus.Fields{
		"duration":     opts.Duration,
		"service_uuid": serviceUUID,
	}).Info("Starting BLE scan...")

	if err := s.adapter.Enable(ctx); err != nil && !isDone(err) {
		return nil, fmt.Errorf("failed to enable adapter: %w", err)
	}

	<-ctx.Done()
	if err := s.adapter.StopScan(); err != nil {
		s.logger.WithError(err).Warn("Failed to stop scan")
	}

	s.logger.WithField("device_count", s.devices.Len()).Info("BLE scan completed")
	progressCallback("Processing results")

	if errors.Is(ctx.Err(), context.Canceled) {
		return s.snapshot(), ctx.Err()
	}
	return s.snapshot(), nil
}

// handleResult updates an existing entry or adds a new one. Results arrive on
// the adapter's scan goroutine, which is the only writer.
func (s *Scanner) handleResult(res device.ScanResult, allow, block []string) {
	addr := device.NormalizeAddress(res.Address)
	if !shouldInclude(addr, allow, block) {
		return
	}

	now := s.now()
	info, existing := s.devices.Get(addr)
	if !existing {
		info = DeviceInfo{Address: addr, FirstSeen: now}
		s.logger.WithFields(logrus.Fields{
			"device":  res.LocalName,
			"address": addr,
			"rssi":    res.RSSI,
		}).Info("Discovered new device")
	}

	info.Seen++
	info.RSSI = res.RSSI
	info.LastSeen = now
	if res.LocalName != "" {
		info.Name = res.LocalName
	}
	for _, svc := range res.Services {
		if n := device.NormalizeUUID(svc); !slices.Contains(info.Services, n) {
			info.Services = append(info.Services, n)
		}
	}
	s.devices.Set(addr, info)
}

// snapshot returns the devices sorted by signal strength, strongest first.
func (s *Scanner) snapshot() []DeviceInfo {
	devs := make([]DeviceInfo, 0, s.devices.Len())
	s.devices.Range(func(_ string, value DeviceInfo) bool {
		devs = append(devs, value)
		return true
	})
	sort.Slice(devs, func(i, j int) bool {
		if devs[i].RSSI != devs[j].RSSI {
			return devs[i].RSSI > devs[j].RSSI
		}
		return devs[i].Address < devs[j].Address
	})
	return devs
}

func shouldInclude(addr string, allow, block []string) bool {
	if slices.Contains(block, addr) {
		return false
	}
	return len(allow) == 0 || slices.Contains(allow, addr)
}

func normalizeAddresses(in []string) []string {
	out := make([]string, 0, len(in))
	for _, a := range in {
		out = append(out, device.NormalizeAddress(a))
	}
	return out
}

func isDone(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
