package protocol

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode_RoundTrip(t *testing.T) {
	tag := bytes.Repeat([]byte{0xAB}, CommandTagSize)

	frames := []Frame{
		{Type: MsgHello, Sequence: 1, Payload: bytes.Repeat([]byte{0x01}, NonceSize)},
		{Type: MsgChallenge, Sequence: 1, Payload: bytes.Repeat([]byte{0x02}, MaxNonceSize)},
		{Type: MsgAuth, Sequence: 1, Payload: bytes.Repeat([]byte{0x03}, ProofSize)},
		{Type: MsgAuthOK, Sequence: 1, Payload: bytes.Repeat([]byte{0x04}, ProofSize)},
		{Type: MsgAuthFail, Sequence: 1, Payload: []byte("bad password")},
		{Type: MsgAuthFail, Sequence: 7},
		{Type: MsgCommand, Sequence: 2, Payload: CommandPayload(tag, []byte("status"))},
		{Type: MsgResult, Sequence: 2, Payload: []byte("Host is running")},
		{Type: MsgError, Sequence: 3, Payload: []byte("unknown command")},
		{Type: MsgPing, Sequence: 4, Payload: tag},
		{Type: MsgPong, Sequence: 4},
		{Type: MsgResult, Sequence: 0xFFFFFFFF, Payload: bytes.Repeat([]byte{'x'}, MaxPayloadSize)},
	}

	for _, f := range frames {
		t.Run(f.String(), func(t *testing.T) {
			data, err := Encode(f)
			require.NoError(t, err)
			assert.Len(t, data, HeaderSize+len(f.Payload))

			got, err := Decode(data)
			require.NoError(t, err)
			assert.Equal(t, f, got)
		})
	}
}

func TestEncode_HeaderLayout(t *testing.T) {
	data, err := Encode(Frame{Type: MsgResult, Sequence: 0x01020304, Payload: []byte("ok")})
	require.NoError(t, err)

	assert.Equal(t, []byte{Version, byte(MsgResult), 0x04, 0x03, 0x02, 0x01, 0x02, 0x00, 'o', 'k'}, data)
}

func TestEncode_Oversized(t *testing.T) {
	_, err := Encode(Frame{Type: MsgCommand, Sequence: 1, Payload: make([]byte, MaxPayloadSize+1)})
	require.Error(t, err)

	var oversized *OversizedCommandError
	require.True(t, errors.As(err, &oversized))
	assert.Equal(t, MaxPayloadSize+1, oversized.Size)
	assert.Equal(t, MaxPayloadSize, oversized.Limit)
}

func TestEncode_UnknownType(t *testing.T) {
	_, err := Encode(Frame{Type: MessageType(0x7F)})
	assert.Error(t, err)
}

func TestDecode_Malformed(t *testing.T) {
	valid, err := Encode(Frame{Type: MsgResult, Sequence: 9, Payload: []byte("hello")})
	require.NoError(t, err)

	withVersion := func(v byte) []byte {
		d := append([]byte(nil), valid...)
		d[0] = v
		return d
	}
	withType := func(mt byte) []byte {
		d := append([]byte(nil), valid...)
		d[1] = mt
		return d
	}

	cases := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"short header", valid[:HeaderSize-1]},
		{"bad version", withVersion(0x02)},
		{"unknown type", withType(0x33)},
		{"zero type", withType(0x00)},
		{"truncated payload", valid[:len(valid)-1]},
		{"trailing bytes", append(append([]byte(nil), valid...), 0x00)},
		{"oversized datagram", make([]byte, MaxDatagramSize+1)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode(tc.data)
			require.Error(t, err)

			var malformed *MalformedFrameError
			assert.True(t, errors.As(err, &malformed), "expected MalformedFrameError, got %T", err)
		})
	}
}

func TestDecode_CopiesPayload(t *testing.T) {
	data, err := Encode(Frame{Type: MsgResult, Sequence: 1, Payload: []byte("abc")})
	require.NoError(t, err)

	f, err := Decode(data)
	require.NoError(t, err)

	data[HeaderSize] = 'z'
	assert.Equal(t, []byte("abc"), f.Payload)
}

func TestSplitCommandPayload(t *testing.T) {
	tag := bytes.Repeat([]byte{0x11}, CommandTagSize)

	gotTag, body, err := SplitCommandPayload(CommandPayload(tag, []byte("status")))
	require.NoError(t, err)
	assert.Equal(t, tag, gotTag)
	assert.Equal(t, []byte("status"), body)

	_, _, err = SplitCommandPayload(tag[:4])
	var malformed *MalformedFrameError
	assert.True(t, errors.As(err, &malformed))
}

func TestMessageType_String(t *testing.T) {
	assert.Equal(t, "AUTH_OK", MsgAuthOK.String())
	assert.Equal(t, "UNKNOWN(0x7F)", MessageType(0x7F).String())
	assert.False(t, MessageType(0x7F).Valid())
}
