// Package events defines the session lifecycle events published on the
// in-process event bus.
package events

import "time"

// EventType represents the type of event emitted through the EventBus.
type EventType string

const (
	// Session lifecycle events
	EventStateChanged    EventType = "session_state_changed"
	EventHandshakeFailed EventType = "handshake_failed"

	// Command events
	EventCommandCompleted EventType = "command_completed"
	EventCommandFailed    EventType = "command_failed"

	// Gateway events
	EventPeerHealthChanged EventType = "peer_health_changed"

	// System events
	EventShutdown EventType = "shutdown"
)

// Event is the unit published on the EventBus.
type Event struct {
	Type      EventType
	Source    string
	SessionID string
	Time      time.Time
	Payload   interface{}
}

// StateChangePayload describes a session state transition.
type StateChangePayload struct {
	Endpoint string `json:"endpoint"`
	From     string `json:"from"`
	To       string `json:"to"`
	Reason   string `json:"reason,omitempty"`
}

// HandshakeFailedPayload describes a handshake that ended in Failed.
type HandshakeFailedPayload struct {
	Endpoint string `json:"endpoint"`
	Reason   string `json:"reason"`
	Attempts int    `json:"attempts"`
}

// CommandPayload describes the outcome of one command.
type CommandPayload struct {
	Endpoint  string        `json:"endpoint"`
	Peer      string        `json:"peer,omitempty"`
	Sequence  uint32        `json:"sequence"`
	Command   string        `json:"command"`
	Status    string        `json:"status"`
	Output    string        `json:"output,omitempty"`
	ErrorKind string        `json:"error_kind,omitempty"`
	Error     string        `json:"error,omitempty"`
	Elapsed   time.Duration `json:"elapsed_ns"`
}

// PeerHealthPayload reports a change in a configured peer's reachability.
type PeerHealthPayload struct {
	Peer      string        `json:"peer"`
	Endpoint  string        `json:"endpoint"`
	Reachable bool          `json:"reachable"`
	RTT       time.Duration `json:"rtt_ns"`
	ErrorKind string        `json:"error_kind,omitempty"`
}
