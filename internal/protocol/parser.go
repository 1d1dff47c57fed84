package protocol

import (
	"encoding/binary"
	"fmt"
)

// Encode serializes a frame into a single datagram.
// A payload larger than MaxPayloadSize fails with *OversizedCommandError
// before anything is written.
func Encode(f Frame) ([]byte, error) {
	if !f.Type.Valid() {
		return nil, fmt.Errorf("cannot encode frame: unknown message type 0x%02X", byte(f.Type))
	}
	if len(f.Payload) > MaxPayloadSize {
		return nil, &OversizedCommandError{Size: len(f.Payload), Limit: MaxPayloadSize}
	}

	b := NewPacketBuilder()
	b.WriteHeader(f.Type, f.Sequence, uint16(len(f.Payload)))
	b.WriteBytes(f.Payload)
	return b.Build(), nil
}

// Decode parses one datagram into a frame.
// Any structural problem fails with *MalformedFrameError; a frame is never
// partially interpreted.
func Decode(data []byte) (Frame, error) {
	if len(data) < HeaderSize {
		return Frame{}, &MalformedFrameError{
			Reason: fmt.Sprintf("datagram shorter than header: %d bytes", len(data)),
		}
	}
	if len(data) > MaxDatagramSize {
		return Frame{}, &MalformedFrameError{
			Reason: fmt.Sprintf("datagram too large: %d bytes (max %d)", len(data), MaxDatagramSize),
		}
	}

	if data[0] != Version {
		return Frame{}, &MalformedFrameError{
			Reason: fmt.Sprintf("unsupported protocol version 0x%02X", data[0]),
		}
	}

	msgType := MessageType(data[1])
	if !msgType.Valid() {
		return Frame{}, &MalformedFrameError{
			Reason: fmt.Sprintf("unknown message type 0x%02X", data[1]),
		}
	}

	seq := binary.LittleEndian.Uint32(data[2:6])
	length := int(binary.LittleEndian.Uint16(data[6:8]))

	body := data[HeaderSize:]
	if length != len(body) {
		return Frame{}, &MalformedFrameError{
			Type:   msgType,
			Reason: fmt.Sprintf("declared payload length %d, received %d", length, len(body)),
		}
	}

	f := Frame{Type: msgType, Sequence: seq}
	if length > 0 {
		f.Payload = make([]byte, length)
		copy(f.Payload, body)
	}
	return f, nil
}
