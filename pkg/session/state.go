package session

// State is the lifecycle state of the browser session.
type State int

const (
	// StateDisconnected means no handle is held.
	StateDisconnected State = iota

	// StateConnecting means an initial connect or launch is in flight.
	StateConnecting

	// StateConnected means exactly one live handle is held.
	StateConnected

	// StateReconnecting means the reconnection protocol is running.
	StateReconnecting

	// StateFailed means the last connect or reconnect attempt ended in a
	// terminal error.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Mode selects where the browser comes from.
type Mode string

const (
	// ModeLocal launches and owns a browser process.
	ModeLocal Mode = "local"

	// ModeRemote attaches to a browser running elsewhere.
	ModeRemote Mode = "remote"
)
