package session

// State is a session lifecycle state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateAuthenticating
	StateReady
	StateSending
	StateFailed
)

var stateNames = [...]string{
	StateDisconnected:   "disconnected",
	StateConnecting:     "connecting",
	StateAuthenticating: "authenticating",
	StateReady:          "ready",
	StateSending:        "sending",
	StateFailed:         "failed",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// canConnect reports whether Connect is legal from s.
func (s State) canConnect() bool {
	return s == StateDisconnected || s == StateFailed
}

// Status is the outcome of a command the host answered.
type Status string

const (
	// StatusOK means the host answered with RESULT.
	StatusOK Status = "ok"

	// StatusError means the host answered with ERROR.
	StatusError Status = "error"
)
