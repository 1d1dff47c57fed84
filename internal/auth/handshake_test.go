package auth

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/energizer-project/rcon/internal/protocol"
)

var (
	hostNonce   = bytes.Repeat([]byte{0x5A}, protocol.NonceSize)
	clientNonce = bytes.Repeat([]byte{0xA5}, protocol.NonceSize)
)

func challengeFor(seq uint32, nonce []byte) protocol.Frame {
	return protocol.Frame{Type: protocol.MsgChallenge, Sequence: seq, Payload: nonce}
}

// hostAnswer plays the host side: it derives the token from the HELLO and
// CHALLENGE nonces and checks the AUTH proof.
func hostAnswer(t *testing.T, secret []byte, hello, authFrame protocol.Frame, nonce []byte) protocol.Frame {
	t.Helper()

	token, err := DeriveToken(secret, nonce, hello.Payload)
	require.NoError(t, err)

	if !VerifyProof(token, authFrame.Payload) {
		return protocol.Frame{Type: protocol.MsgAuthFail, Sequence: authFrame.Sequence, Payload: []byte("bad password")}
	}
	return protocol.Frame{Type: protocol.MsgAuthOK, Sequence: authFrame.Sequence, Payload: HostAck(token)}
}

func TestDeriveToken_Deterministic(t *testing.T) {
	a, err := DeriveToken([]byte("swordfish"), hostNonce, clientNonce)
	require.NoError(t, err)
	b, err := DeriveToken([]byte("swordfish"), hostNonce, clientNonce)
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Equal(t, Proof(a), Proof(b))
	assert.False(t, a.IsZero())
}

func TestDeriveToken_DiffersPerSecret(t *testing.T) {
	secrets := []string{"swordfish", "swordfisH", "", "swordfish ", "hunter2"}
	seen := make(map[string]string)

	for _, s := range secrets {
		token, err := DeriveToken([]byte(s), hostNonce, clientNonce)
		require.NoError(t, err)

		proof := string(Proof(token))
		if other, ok := seen[proof]; ok {
			t.Fatalf("secrets %q and %q produced the same proof", s, other)
		}
		seen[proof] = s
	}
}

func TestDeriveToken_DiffersPerNonce(t *testing.T) {
	a, err := DeriveToken([]byte("swordfish"), hostNonce, clientNonce)
	require.NoError(t, err)
	b, err := DeriveToken([]byte("swordfish"), clientNonce, hostNonce)
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestHandshake_Success(t *testing.T) {
	secret := []byte("swordfish")
	h := NewHandshake(secret, 42)

	hello, err := h.Begin()
	require.NoError(t, err)
	assert.Equal(t, protocol.MsgHello, hello.Type)
	assert.Equal(t, uint32(42), hello.Sequence)
	assert.Len(t, hello.Payload, protocol.NonceSize)

	authFrame, err := h.OnChallenge(challengeFor(42, hostNonce))
	require.NoError(t, err)
	assert.Equal(t, protocol.MsgAuth, authFrame.Type)
	assert.Len(t, authFrame.Payload, protocol.ProofSize)
	assert.NotContains(t, string(authFrame.Payload), "swordfish")

	token, err := h.OnAuthResult(hostAnswer(t, secret, hello, authFrame, hostNonce))
	require.NoError(t, err)
	assert.False(t, token.IsZero())

	expected, err := DeriveToken(secret, hostNonce, hello.Payload)
	require.NoError(t, err)
	assert.Equal(t, expected, token)
}

func TestHandshake_Rejected(t *testing.T) {
	h := NewHandshake([]byte("wrong"), 1)

	hello, err := h.Begin()
	require.NoError(t, err)
	authFrame, err := h.OnChallenge(challengeFor(1, hostNonce))
	require.NoError(t, err)

	_, err = h.OnAuthResult(hostAnswer(t, []byte("swordfish"), hello, authFrame, hostNonce))
	var rejected *RejectedError
	require.True(t, errors.As(err, &rejected))
	assert.Equal(t, "bad password", rejected.Reason)

	// The handshake is over; the challenge cannot be reused.
	_, err = h.OnChallenge(challengeFor(1, hostNonce))
	assert.ErrorIs(t, err, ErrHandshakeFinished)
	_, err = h.Begin()
	assert.ErrorIs(t, err, ErrHandshakeFinished)
}

func TestHandshake_ForgedAck(t *testing.T) {
	h := NewHandshake([]byte("swordfish"), 1)

	_, err := h.Begin()
	require.NoError(t, err)
	_, err = h.OnChallenge(challengeFor(1, hostNonce))
	require.NoError(t, err)

	_, err = h.OnAuthResult(protocol.Frame{
		Type:     protocol.MsgAuthOK,
		Sequence: 1,
		Payload:  bytes.Repeat([]byte{0x00}, protocol.ProofSize),
	})
	var rejected *RejectedError
	assert.True(t, errors.As(err, &rejected))
}

func TestHandshake_ChallengeSingleUse(t *testing.T) {
	h := NewHandshake([]byte("swordfish"), 3)

	_, err := h.Begin()
	require.NoError(t, err)
	_, err = h.OnChallenge(challengeFor(3, hostNonce))
	require.NoError(t, err)

	_, err = h.OnChallenge(challengeFor(3, hostNonce))
	assert.ErrorIs(t, err, ErrChallengeConsumed)
}

func TestHandshake_FreshProofPerAttempt(t *testing.T) {
	// Even against a host that repeats its nonce, two handshakes with the
	// same secret must not produce the same AUTH payload.
	secret := []byte("swordfish")

	var proofs [][]byte
	for i := 0; i < 2; i++ {
		h := NewHandshake(secret, uint32(i+1))
		_, err := h.Begin()
		require.NoError(t, err)

		authFrame, err := h.OnChallenge(challengeFor(uint32(i+1), hostNonce))
		require.NoError(t, err)
		proofs = append(proofs, authFrame.Payload)
	}

	assert.NotEqual(t, proofs[0], proofs[1])
}

func TestHandshake_UnexpectedFrames(t *testing.T) {
	h := NewHandshake([]byte("swordfish"), 5)

	_, err := h.OnChallenge(challengeFor(5, hostNonce))
	assert.ErrorIs(t, err, ErrUnexpectedFrame)

	_, err = h.Begin()
	require.NoError(t, err)

	_, err = h.OnAuthResult(protocol.Frame{Type: protocol.MsgAuthOK, Sequence: 5})
	assert.ErrorIs(t, err, ErrUnexpectedFrame)

	_, err = h.OnChallenge(challengeFor(6, hostNonce))
	assert.ErrorIs(t, err, ErrUnexpectedFrame)

	_, err = h.OnChallenge(protocol.Frame{Type: protocol.MsgResult, Sequence: 5, Payload: hostNonce})
	assert.ErrorIs(t, err, ErrUnexpectedFrame)

	_, err = h.OnChallenge(challengeFor(5, hostNonce[:4]))
	var malformed *protocol.MalformedFrameError
	assert.True(t, errors.As(err, &malformed))

	// Still usable after the discarded frames.
	authFrame, err := h.OnChallenge(challengeFor(5, hostNonce))
	require.NoError(t, err)
	assert.Equal(t, protocol.MsgAuth, authFrame.Type)

	_, err = h.OnAuthResult(protocol.Frame{Type: protocol.MsgAuthOK, Sequence: 9})
	assert.ErrorIs(t, err, ErrUnexpectedFrame)
}

func TestCommandTag(t *testing.T) {
	token, err := DeriveToken([]byte("swordfish"), hostNonce, clientNonce)
	require.NoError(t, err)

	tag := CommandTag(token, protocol.MsgCommand, 7, []byte("status"))
	assert.Len(t, tag, protocol.CommandTagSize)
	assert.True(t, VerifyCommandTag(token, protocol.MsgCommand, 7, []byte("status"), tag))

	assert.False(t, VerifyCommandTag(token, protocol.MsgCommand, 8, []byte("status"), tag))
	assert.False(t, VerifyCommandTag(token, protocol.MsgPing, 7, []byte("status"), tag))
	assert.False(t, VerifyCommandTag(token, protocol.MsgCommand, 7, []byte("Status"), tag))

	other, err := DeriveToken([]byte("hunter2"), hostNonce, clientNonce)
	require.NoError(t, err)
	assert.False(t, VerifyCommandTag(other, protocol.MsgCommand, 7, []byte("status"), tag))
}
