package doorbell

// State is the connection lifecycle state of the Manager.
type State int

const (
	StateIdle State = iota // waiting for the adapter to power on
	StateScanning
	StateConnecting
	StateDiscoveringServices
	StateDiscoveringCharacteristics
	StateSubscribing
	StateConnected // connected, alarm subscription not established
	StateSubscribed
	StateFailing // failure notification in flight
	StateHalted
)

var stateNames = map[State]string{
	StateIdle:                       "idle",
	StateScanning:                   "scanning",
	StateConnecting:                 "connecting",
	StateDiscoveringServices:        "discovering-services",
	StateDiscoveringCharacteristics: "discovering-characteristics",
	StateSubscribing:                "subscribing",
	StateConnected:                  "connected",
	StateSubscribed:                 "subscribed",
	StateFailing:                    "failing",
	StateHalted:                     "halted",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "unknown"
}

// terminal reports whether the Manager has given up on the device.
func (s State) terminal() bool {
	return s == StateFailing || s == StateHalted
}

// Status is a point-in-time snapshot of the Manager.
type Status struct {
	Address    string
	State      State
	Powered    bool
	Scanning   bool
	Subscribed bool
	TimerArmed bool
	Alarms     int // alarm notifications received
	Dispatched int // webhook calls completed, successful or not
}
