package cli

import (
	"errors"

	"github.com/energizer-project/rcon/internal/session"
)

// Process exit codes.
const (
	ExitOK          = 0
	ExitUsage       = 1
	ExitConnect     = 2
	ExitHandshake   = 3
	ExitCommand     = 4
	ExitSessionLost = 5
)

// ErrHostError is returned by RunOnce when the host answered with ERROR.
var ErrHostError = errors.New("host reported an error")

// UsageError marks bad flags, arguments or configuration.
type UsageError struct {
	Err error
}

func (e *UsageError) Error() string { return e.Err.Error() }

func (e *UsageError) Unwrap() error { return e.Err }

// ExitCode maps an error returned by the client to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}

	var usageErr *UsageError
	if errors.As(err, &usageErr) {
		return ExitUsage
	}
	if errors.Is(err, ErrHostError) {
		return ExitCommand
	}

	switch session.ErrorKind(err) {
	case session.KindConnect:
		return ExitConnect
	case session.KindHandshakeRejected, session.KindHandshakeTimeout:
		return ExitHandshake
	case session.KindCommandTimeout, session.KindOversized, session.KindCanceled, session.KindInFlight:
		return ExitCommand
	case session.KindSessionLost:
		return ExitSessionLost
	default:
		return ExitUsage
	}
}
