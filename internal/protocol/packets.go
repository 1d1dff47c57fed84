// Package protocol implements the datagram frame format spoken between the
// rcon client and a DVM host. Every frame is a fixed 8-byte little-endian
// header followed by an opaque payload:
//
//	[version:1][type:1][sequence:4][length:2][payload...]
package protocol

import "fmt"

// Version is the protocol version carried in every frame header.
const Version byte = 0x01

// MessageType identifies the kind of frame.
type MessageType byte

// Frame types. The set is closed: Decode rejects anything else.
const (
	// Handshake
	MsgHello     MessageType = 0x01 // Client hello with client nonce
	MsgChallenge MessageType = 0x02 // Host nonce
	MsgAuth      MessageType = 0x03 // Client proof
	MsgAuthOK    MessageType = 0x04 // Host acknowledgement
	MsgAuthFail  MessageType = 0x05 // Handshake rejected

	// Commands
	MsgCommand MessageType = 0x10 // Authenticated command text
	MsgResult  MessageType = 0x11 // Command output
	MsgError   MessageType = 0x12 // Command failed on the host

	// Keep-alive
	MsgPing MessageType = 0x20
	MsgPong MessageType = 0x21
)

var messageTypeNames = map[MessageType]string{
	MsgHello:     "HELLO",
	MsgChallenge: "CHALLENGE",
	MsgAuth:      "AUTH",
	MsgAuthOK:    "AUTH_OK",
	MsgAuthFail:  "AUTH_FAIL",
	MsgCommand:   "COMMAND",
	MsgResult:    "RESULT",
	MsgError:     "ERROR",
	MsgPing:      "PING",
	MsgPong:      "PONG",
}

// String returns the wire name of the message type.
func (t MessageType) String() string {
	if name, ok := messageTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(0x%02X)", byte(t))
}

// Valid reports whether t is one of the known message types.
func (t MessageType) Valid() bool {
	_, ok := messageTypeNames[t]
	return ok
}

// Sizes of the frame layout.
const (
	// HeaderSize is the fixed size of the frame header in bytes.
	HeaderSize = 8

	// MaxDatagramSize is the largest datagram either side will send.
	// It stays below common path MTUs so frames are never fragmented.
	MaxDatagramSize = 1024

	// MaxPayloadSize is the largest payload that fits in one datagram.
	MaxPayloadSize = MaxDatagramSize - HeaderSize

	// CommandTagSize is the size of the authentication tag that
	// prefixes COMMAND and PING payloads.
	CommandTagSize = 16

	// MaxCommandSize is the longest command text a COMMAND frame can carry.
	MaxCommandSize = MaxPayloadSize - CommandTagSize
)

// Handshake payload sizes.
const (
	NonceSize    = 16
	MaxNonceSize = 64
	ProofSize    = 32
)

// DefaultPort is the default RCON port of a DVM host.
const DefaultPort = 9990

// Frame is one protocol message.
type Frame struct {
	Type     MessageType
	Sequence uint32
	Payload  []byte
}

// String returns a short description of the frame for logging.
func (f Frame) String() string {
	return fmt.Sprintf("%s seq=%d len=%d", f.Type, f.Sequence, len(f.Payload))
}

// CommandPayload joins an authentication tag and command body into a
// COMMAND or PING payload.
func CommandPayload(tag []byte, body []byte) []byte {
	b := NewPacketBuilder()
	b.WriteBytes(tag)
	b.WriteBytes(body)
	return b.Build()
}

// SplitCommandPayload separates the tag from the command body.
func SplitCommandPayload(payload []byte) (tag []byte, body []byte, err error) {
	if len(payload) < CommandTagSize {
		return nil, nil, &MalformedFrameError{
			Reason: fmt.Sprintf("command payload too short for tag: %d bytes", len(payload)),
		}
	}
	return payload[:CommandTagSize], payload[CommandTagSize:], nil
}
