package auth

import (
	"errors"
	"fmt"

	"github.com/energizer-project/rcon/internal/protocol"
)

var (
	// ErrUnexpectedFrame is returned for a frame that does not belong to the
	// current handshake step. Callers discard it and keep waiting.
	ErrUnexpectedFrame = errors.New("frame does not belong to this handshake step")

	// ErrChallengeConsumed is returned when a handshake is asked to answer a
	// second challenge. A new handshake must start from HELLO.
	ErrChallengeConsumed = errors.New("challenge already consumed")

	// ErrHandshakeFinished is returned by any call after the handshake ended.
	ErrHandshakeFinished = errors.New("handshake already finished")
)

// RejectedError reports a handshake the host refused, or one whose
// acknowledgement did not prove knowledge of the secret.
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string {
	if e.Reason == "" {
		return "authentication rejected"
	}
	return fmt.Sprintf("authentication rejected: %s", e.Reason)
}

type stage int

const (
	stageIdle stage = iota
	stageHelloSent
	stageAuthSent
	stageDone
)

// Handshake runs one HELLO / CHALLENGE / AUTH / AUTH_OK exchange. It is
// single-use: after success, rejection or a consumed challenge, a new
// Handshake is required.
type Handshake struct {
	secret      []byte
	seq         uint32
	stage       stage
	clientNonce []byte
	token       Token
}

// NewHandshake creates a handshake that will use seq for all of its frames.
func NewHandshake(secret []byte, seq uint32) *Handshake {
	s := make([]byte, len(secret))
	copy(s, secret)
	return &Handshake{secret: s, seq: seq}
}

// Sequence returns the sequence number shared by this handshake's frames.
func (h *Handshake) Sequence() uint32 {
	return h.seq
}

// Begin returns the HELLO frame carrying a fresh client nonce.
func (h *Handshake) Begin() (protocol.Frame, error) {
	if h.stage != stageIdle {
		return protocol.Frame{}, ErrHandshakeFinished
	}

	nonce, err := NewNonce(protocol.NonceSize)
	if err != nil {
		return protocol.Frame{}, err
	}
	h.clientNonce = nonce
	h.stage = stageHelloSent

	return protocol.Frame{
		Type:     protocol.MsgHello,
		Sequence: h.seq,
		Payload:  nonce,
	}, nil
}

// OnChallenge consumes the host's CHALLENGE and returns the AUTH frame.
// Frames of another type or sequence return ErrUnexpectedFrame and leave the
// handshake untouched.
func (h *Handshake) OnChallenge(f protocol.Frame) (protocol.Frame, error) {
	switch h.stage {
	case stageIdle:
		return protocol.Frame{}, fmt.Errorf("challenge received before HELLO: %w", ErrUnexpectedFrame)
	case stageAuthSent:
		return protocol.Frame{}, ErrChallengeConsumed
	case stageDone:
		return protocol.Frame{}, ErrHandshakeFinished
	}

	if f.Type != protocol.MsgChallenge || f.Sequence != h.seq {
		return protocol.Frame{}, ErrUnexpectedFrame
	}
	if len(f.Payload) < protocol.NonceSize || len(f.Payload) > protocol.MaxNonceSize {
		return protocol.Frame{}, &protocol.MalformedFrameError{
			Type:   f.Type,
			Reason: fmt.Sprintf("nonce size %d outside %d..%d", len(f.Payload), protocol.NonceSize, protocol.MaxNonceSize),
		}
	}

	token, err := DeriveToken(h.secret, f.Payload, h.clientNonce)
	if err != nil {
		return protocol.Frame{}, err
	}
	h.token = token
	h.stage = stageAuthSent

	return protocol.Frame{
		Type:     protocol.MsgAuth,
		Sequence: h.seq,
		Payload:  Proof(token),
	}, nil
}

// OnAuthResult interprets AUTH_OK or AUTH_FAIL and returns the session
// token on success. Both outcomes end the handshake.
func (h *Handshake) OnAuthResult(f protocol.Frame) (Token, error) {
	switch h.stage {
	case stageIdle, stageHelloSent:
		return Token{}, ErrUnexpectedFrame
	case stageDone:
		return Token{}, ErrHandshakeFinished
	}

	if f.Sequence != h.seq {
		return Token{}, ErrUnexpectedFrame
	}

	switch f.Type {
	case protocol.MsgAuthOK:
		h.stage = stageDone
		if !VerifyHostAck(h.token, f.Payload) {
			h.token = Token{}
			return Token{}, &RejectedError{Reason: "host acknowledgement did not match"}
		}
		return h.token, nil

	case protocol.MsgAuthFail:
		h.stage = stageDone
		h.token = Token{}
		return Token{}, &RejectedError{Reason: string(f.Payload)}

	default:
		return Token{}, ErrUnexpectedFrame
	}
}
