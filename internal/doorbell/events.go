package doorbell

import (
	"time"

	"github.com/srg/doorbell20/internal/device"
	"github.com/srg/doorbell20/internal/webhook"
)

// event is anything the Manager loop consumes. Adapter callbacks, results of
// blocking adapter calls, timer expiry and webhook completions all arrive as
// events, so Manager state is only touched by the loop goroutine.
type event any

type powerEvent struct {
	state device.PowerState
}

type enableFailed struct {
	err error
}

type scanResultEvent struct {
	result device.ScanResult
}

type connectResult struct {
	attempt    uint64
	peripheral device.Peripheral
	err        error
}

type servicesResult struct {
	session  uint64
	services []device.Service
	err      error
}

type characteristicsResult struct {
	session         uint64
	characteristics []device.Characteristic
	err             error
}

type localTimeResult struct {
	session uint64
	data    []byte
	err     error
}

type subscribeResult struct {
	session uint64
	err     error
}

type alarmEvent struct {
	session uint64
	at      time.Time
	data    []byte
}

type disconnectEvent struct {
	session uint64
}

type timerFired struct {
	gen uint64
}

type dispatchJob struct {
	event  string
	values webhook.Values
}

type dispatchDone struct {
	job    dispatchJob
	status int
	err    error
}

type failureDispatched struct {
	status int
	err    error
}

type statusRequest struct {
	reply chan Status
}
