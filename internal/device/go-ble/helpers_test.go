package goble

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-ble/ble"
	"github.com/srg/doorbell20/internal/bledb"
	"github.com/srg/doorbell20/internal/device"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAddr struct {
	ble.Addr
	s string
}

func (a fakeAddr) String() string { return a.s }

// fakeAdvertisement overrides the accessors read by this package; any other
// method panics through the nil embedded interface.
type fakeAdvertisement struct {
	ble.Advertisement
	addr        ble.Addr
	name        string
	rssi        int
	connectable bool
	services    []ble.UUID
	overflow    []ble.UUID
}

func (a *fakeAdvertisement) Addr() ble.Addr              { return a.addr }
func (a *fakeAdvertisement) LocalName() string           { return a.name }
func (a *fakeAdvertisement) RSSI() int                   { return a.rssi }
func (a *fakeAdvertisement) Connectable() bool           { return a.connectable }
func (a *fakeAdvertisement) Services() []ble.UUID        { return a.services }
func (a *fakeAdvertisement) OverflowService() []ble.UUID { return a.overflow }

func TestNormalizeError(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		target error
	}{
		{"darwin powered off", errors.New("central manager has invalid state: have=4 want=5: is Bluetooth turned on?"), device.ErrBluetoothOff},
		{"linux no hci", errors.New("can't init hci: no devices available: (hci0: can't down device: no such device)"), device.ErrBluetoothOff},
		{"generic disconnect", errors.New("peripheral disconnected"), device.ErrNotConnected},
		{"already connected", errors.New("device already connected"), device.ErrAlreadyConnected},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := NormalizeError(tc.err)
			assert.ErrorIs(t, got, tc.target)
			assert.Contains(t, got.Error(), tc.err.Error(), "original message MUST be preserved")
		})
	}

	assert.NoError(t, NormalizeError(nil))
	plain := errors.New("something else")
	assert.Same(t, plain, NormalizeError(plain), "unknown errors MUST pass through unchanged")
}

func TestNewScanResult(t *testing.T) {
	adv := &fakeAdvertisement{
		addr:        fakeAddr{s: "F3:23:0D:4C:CE:1B"},
		name:        "DoorBell20",
		rssi:        -52,
		connectable: true,
		services:    []ble.UUID{ble.MustParse("451E0001-DD1C-4F20-A42E-FF91A53D2992"), ble.UUID16(0x180a)},
	}

	res := NewScanResult(adv)

	assert.Equal(t, "F3:23:0D:4C:CE:1B", res.Address)
	assert.Equal(t, "DoorBell20", res.LocalName)
	assert.Equal(t, -52, res.RSSI)
	assert.True(t, res.Connectable)
	assert.Equal(t, []string{bledb.DoorBellService, "180a"}, res.Services, "service UUIDs MUST be normalized")

	assert.Empty(t, NewScanResult(&fakeAdvertisement{}).Address, "missing address MUST yield an empty string")
}

func TestAdvertisesService(t *testing.T) {
	doorbell := ble.MustParse("451e0001-dd1c-4f20-a42e-ff91a53d2992")

	assert.True(t, advertisesService(&fakeAdvertisement{services: []ble.UUID{doorbell}}, bledb.DoorBellService))
	assert.True(t, advertisesService(&fakeAdvertisement{overflow: []ble.UUID{doorbell}}, bledb.DoorBellService),
		"overflow service list MUST be considered")
	assert.False(t, advertisesService(&fakeAdvertisement{services: []ble.UUID{ble.UUID16(0x180a)}}, bledb.DoorBellService))
	assert.True(t, advertisesService(&fakeAdvertisement{}, ""), "empty filter MUST match everything")
}

func TestParseUUIDs(t *testing.T) {
	got, err := parseUUIDs([]string{"2A00", "451e0002-dd1c-4f20-a42e-ff91a53d2992"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.True(t, got[0].Equal(ble.UUID16(0x2a00)))
	assert.True(t, got[1].Equal(ble.MustParse("451e0002dd1c4f20a42eff91a53d2992")))

	none, err := parseUUIDs(nil)
	assert.NoError(t, err)
	assert.Nil(t, none, "empty filter MUST stay nil so discovery returns everything")

	_, err = parseUUIDs([]string{"not-a-uuid"})
	assert.Error(t, err)
}

func TestWithContext(t *testing.T) {
	v, err := withContext(context.Background(), func() (int, error) { return 42, nil })
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	release := make(chan struct{})
	defer close(release)

	_, err = withContext(ctx, func() (int, error) {
		<-release
		return 0, nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded, "a blocked call MUST be abandoned when ctx expires")
	assert.ErrorIs(t, err, device.ErrTimeout, "an expired deadline MUST be reported as a timeout")

	canceled, cancelNow := context.WithCancel(context.Background())
	cancelNow()
	_, err = withContext(canceled, func() (int, error) {
		<-release
		return 0, nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, device.ErrTimeout, "cancellation MUST NOT be reported as a timeout")
}
