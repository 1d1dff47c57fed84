package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/energizer-project/rcon/internal/network"
	"github.com/energizer-project/rcon/internal/protocol"
)

var (
	// ErrAlreadyConnected is returned by Connect when the session is not
	// Disconnected or Failed.
	ErrAlreadyConnected = errors.New("session already connected")

	// ErrCommandInFlight is returned when a request is submitted while
	// another one is still awaiting its response.
	ErrCommandInFlight = errors.New("a command is already in flight")
)

// ConnectError reports that the transport could not be opened.
type ConnectError = network.ConnectError

// MalformedFrameError reports a datagram that failed to decode. Sessions
// discard such frames; the type is re-exported for callers inspecting logs
// and stats.
type MalformedFrameError = protocol.MalformedFrameError

// OversizedCommandError is returned by Submit for command text that cannot
// fit in one datagram. Nothing is sent.
type OversizedCommandError = protocol.OversizedCommandError

// HandshakeReason distinguishes the two ways a handshake fails.
type HandshakeReason int

const (
	// HandshakeRejected means the host answered AUTH_FAIL or its
	// acknowledgement did not prove knowledge of the secret.
	HandshakeRejected HandshakeReason = iota + 1

	// HandshakeTimeoutExceeded means every attempt ran out of time.
	HandshakeTimeoutExceeded
)

func (r HandshakeReason) String() string {
	switch r {
	case HandshakeRejected:
		return "rejected"
	case HandshakeTimeoutExceeded:
		return "timeout exceeded"
	default:
		return "unknown"
	}
}

// HandshakeError reports a failed authentication. The session is left in
// the Failed state.
type HandshakeError struct {
	Reason   HandshakeReason
	Attempts int
	Detail   string
	Err      error
}

func (e *HandshakeError) Error() string {
	msg := fmt.Sprintf("handshake %s after %d attempt(s)", e.Reason, e.Attempts)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *HandshakeError) Unwrap() error { return e.Err }

// CommandTimeoutError reports a request that got no matching response in
// time. The session stays usable.
type CommandTimeoutError struct {
	Sequence uint32
	Timeout  time.Duration
}

func (e *CommandTimeoutError) Error() string {
	return fmt.Sprintf("no response to request %d within %s", e.Sequence, e.Timeout)
}

// LossReason says why a session is unusable.
type LossReason string

const (
	LossNotConnected        LossReason = "not connected"
	LossConsecutiveTimeouts LossReason = "too many consecutive timeouts"
	LossTransport           LossReason = "transport error"
	LossClosed              LossReason = "session closed"
)

// SessionLostError reports that the session is Disconnected and must be
// reconnected before further commands.
type SessionLostError struct {
	Reason LossReason
	Err    error
}

func (e *SessionLostError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("session lost (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("session lost (%s)", e.Reason)
}

func (e *SessionLostError) Unwrap() error { return e.Err }

// Error kinds reported in events, the audit log and the gateway.
const (
	KindConnect           = "connect"
	KindHandshakeRejected = "handshake_rejected"
	KindHandshakeTimeout  = "handshake_timeout"
	KindCommandTimeout    = "command_timeout"
	KindSessionLost       = "session_lost"
	KindOversized         = "oversized_command"
	KindCanceled          = "canceled"
	KindHostError         = "host_error"
	KindInFlight          = "command_in_flight"
	KindInternal          = "internal"
)

// ErrorKind classifies err into one of the Kind constants. A nil error
// yields the empty string.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}

	var (
		connectErr   *ConnectError
		handshakeErr *HandshakeError
		lostErr      *SessionLostError
		timeoutErr   *CommandTimeoutError
		oversizedErr *OversizedCommandError
	)

	switch {
	// SessionLostError may wrap a CommandTimeoutError, so it is checked first.
	case errors.As(err, &lostErr):
		return KindSessionLost
	case errors.As(err, &connectErr):
		return KindConnect
	case errors.As(err, &handshakeErr):
		if handshakeErr.Reason == HandshakeRejected {
			return KindHandshakeRejected
		}
		return KindHandshakeTimeout
	case errors.As(err, &timeoutErr):
		return KindCommandTimeout
	case errors.As(err, &oversizedErr):
		return KindOversized
	case errors.Is(err, ErrCommandInFlight):
		return KindInFlight
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	default:
		return KindInternal
	}
}
