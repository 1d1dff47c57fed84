// Package auth implements the rcon challenge-response handshake.
//
// Protocol version 1 key schedule:
//
//	token = HKDF-SHA256(secret, salt = hostNonce || clientNonce, info = "rcon/v1 session")
//	proof = BLAKE2b-256(key = token, "rcon/v1 client-proof")   sent in AUTH
//	ack   = BLAKE2b-256(key = token, "rcon/v1 host-ack")       sent in AUTH_OK
//	tag   = BLAKE2b-128(key = token, type || seq || body)      prefixes COMMAND and PING
//
// The secret never leaves the process; only values keyed by the derived
// token are written to the wire.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"io"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/hkdf"

	"github.com/energizer-project/rcon/internal/protocol"
)

// TokenSize is the size of a derived session token.
const TokenSize = 32

const (
	labelSession = "rcon/v1 session"
	labelProof   = "rcon/v1 client-proof"
	labelAck     = "rcon/v1 host-ack"
)

// Token is the per-session key both sides derive after a handshake.
type Token [TokenSize]byte

// IsZero reports whether the token is unset.
func (t Token) IsZero() bool {
	return t == Token{}
}

// NewNonce returns size random bytes.
func NewNonce(size int) ([]byte, error) {
	nonce := make([]byte, size)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return nonce, nil
}

// DeriveToken derives the session token from the shared secret and both
// handshake nonces.
func DeriveToken(secret, hostNonce, clientNonce []byte) (Token, error) {
	salt := make([]byte, 0, len(hostNonce)+len(clientNonce))
	salt = append(salt, hostNonce...)
	salt = append(salt, clientNonce...)

	var token Token
	kdf := hkdf.New(sha256.New, secret, salt, []byte(labelSession))
	if _, err := io.ReadFull(kdf, token[:]); err != nil {
		return Token{}, fmt.Errorf("failed to derive session token: %w", err)
	}
	return token, nil
}

// Proof computes the client proof carried in an AUTH frame.
func Proof(token Token) []byte {
	return keyedSum256(token, []byte(labelProof))
}

// HostAck computes the host acknowledgement carried in an AUTH_OK frame.
func HostAck(token Token) []byte {
	return keyedSum256(token, []byte(labelAck))
}

// VerifyProof reports whether proof matches the token.
func VerifyProof(token Token, proof []byte) bool {
	return subtle.ConstantTimeCompare(Proof(token), proof) == 1
}

// VerifyHostAck reports whether ack matches the token.
func VerifyHostAck(token Token, ack []byte) bool {
	return subtle.ConstantTimeCompare(HostAck(token), ack) == 1
}

// CommandTag authenticates a COMMAND or PING body under the session token.
// The frame type and sequence are bound into the tag so a tag cannot be
// replayed on a different request.
func CommandTag(token Token, t protocol.MessageType, seq uint32, body []byte) []byte {
	h, err := blake2b.New(protocol.CommandTagSize, token[:])
	if err != nil {
		// Only reachable with an invalid size or key length, both fixed here.
		panic(err)
	}

	header := protocol.NewPacketBuilder().
		WriteByte(byte(t)).
		WriteUint32(seq).
		Build()
	h.Write(header)
	h.Write(body)
	return h.Sum(nil)
}

// VerifyCommandTag reports whether tag authenticates body.
func VerifyCommandTag(token Token, t protocol.MessageType, seq uint32, body, tag []byte) bool {
	return subtle.ConstantTimeCompare(CommandTag(token, t, seq, body), tag) == 1
}

func keyedSum256(token Token, msg []byte) []byte {
	h, err := blake2b.New256(token[:])
	if err != nil {
		panic(err)
	}
	h.Write(msg)
	return h.Sum(nil)
}
