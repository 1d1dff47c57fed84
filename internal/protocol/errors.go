package protocol

import "fmt"

// MalformedFrameError reports wire data that failed structural validation.
// Type is set when the header was readable.
type MalformedFrameError struct {
	Type   MessageType
	Reason string
}

func (e *MalformedFrameError) Error() string {
	if e.Type != 0 {
		return fmt.Sprintf("malformed %s frame: %s", e.Type, e.Reason)
	}
	return fmt.Sprintf("malformed frame: %s", e.Reason)
}

// OversizedCommandError reports a payload that does not fit in one datagram.
type OversizedCommandError struct {
	Size  int
	Limit int
}

func (e *OversizedCommandError) Error() string {
	return fmt.Sprintf("command too large: %d bytes (max %d)", e.Size, e.Limit)
}
