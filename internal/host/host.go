// Package host implements the far side of the rcon protocol: a UDP
// responder that authenticates clients and hands their commands to a
// Handler. It backs the `rcon host` loopback command and the integration
// tests of the client session.
package host

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/energizer-project/rcon/internal/auth"
	"github.com/energizer-project/rcon/internal/network"
	"github.com/energizer-project/rcon/internal/protocol"
	"github.com/energizer-project/rcon/internal/util"
)

// ErrNoReply may be returned by a Handler to leave a command unanswered.
var ErrNoReply = errors.New("no reply")

// Handler executes one command and returns its output. A non-nil error is
// sent back as an ERROR frame carrying the error text.
type Handler func(ctx context.Context, command string) (string, error)

// authFailReason is sent in AUTH_FAIL frames.
const authFailReason = "authentication failed"

const (
	// pendingTimeout is how long an unanswered CHALLENGE stays valid.
	pendingTimeout = 30 * time.Second

	// idleTimeout is how long an authenticated client may stay silent
	// before its state is forgotten.
	idleTimeout = 30 * time.Minute
)

// peer is the per-address handshake and session state.
type peer struct {
	// Pending handshake
	challengeSeq uint32
	hostNonce    []byte
	clientNonce  []byte
	challengedAt time.Time

	// Authenticated session
	token   auth.Token
	lastSeq uint32

	lastSeen time.Time
}

// Host is an rcon responder listening on one UDP socket.
type Host struct {
	secret  []byte
	handler Handler
	logger  zerolog.Logger

	mu        sync.Mutex
	conn      *net.UDPConn
	peers     map[string]*peer
	lastSweep time.Time

	wg sync.WaitGroup

	commands atomic.Uint64
	rejected atomic.Uint64
	dropped  atomic.Uint64
}

// New creates a host that authenticates clients against secret.
func New(secret []byte, handler Handler) *Host {
	return &Host{
		secret:  append([]byte(nil), secret...),
		handler: handler,
		peers:   make(map[string]*peer),
		logger:  util.ComponentLogger("host"),
	}
}

// Listen binds the UDP socket. Use Addr to learn the port when addr ends
// in ":0".
func (h *Host) Listen(ctx context.Context, addr string) error {
	conn, err := network.ListenUDP(ctx, addr)
	if err != nil {
		return err
	}

	h.mu.Lock()
	h.conn = conn
	h.mu.Unlock()

	h.logger.Info().Str("addr", conn.LocalAddr().String()).Msg("rcon host listening")
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (h *Host) Addr() *net.UDPAddr {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conn == nil {
		return nil
	}
	return h.conn.LocalAddr().(*net.UDPAddr)
}

// Serve reads datagrams until ctx is done or the socket is closed. It waits
// for in-flight handlers before returning.
func (h *Host) Serve(ctx context.Context) error {
	h.mu.Lock()
	conn := h.conn
	h.mu.Unlock()
	if conn == nil {
		return errors.New("host is not listening")
	}

	defer h.wg.Wait()

	buf := make([]byte, 2*protocol.MaxDatagramSize)
	for {
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("host read failed: %w", err)
		}

		f, err := protocol.Decode(buf[:n])
		if err != nil {
			h.dropped.Add(1)
			h.logger.Debug().Err(err).Str("from", from.String()).Msg("dropped malformed datagram")
			continue
		}

		h.handle(ctx, conn, from, f)
	}
}

// ListenAndServe combines Listen and Serve.
func (h *Host) ListenAndServe(ctx context.Context, addr string) error {
	if err := h.Listen(ctx, addr); err != nil {
		return err
	}
	return h.Serve(ctx)
}

// Close closes the socket, ending Serve.
func (h *Host) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conn == nil {
		return nil
	}
	err := h.conn.Close()
	h.conn = nil
	return err
}

// Counters returns the number of commands handled, handshakes rejected and
// datagrams dropped.
func (h *Host) Counters() (commands, rejected, dropped uint64) {
	return h.commands.Load(), h.rejected.Load(), h.dropped.Load()
}

func (h *Host) handle(ctx context.Context, conn *net.UDPConn, from *net.UDPAddr, f protocol.Frame) {
	logger := h.logger.With().Str("from", from.String()).Str("frame", f.String()).Logger()
	logger.Trace().Msg("frame received")

	switch f.Type {
	case protocol.MsgHello:
		h.onHello(conn, from, f, logger)
	case protocol.MsgAuth:
		h.onAuth(conn, from, f, logger)
	case protocol.MsgCommand:
		h.onCommand(ctx, conn, from, f, logger)
	case protocol.MsgPing:
		h.onPing(conn, from, f, logger)
	default:
		h.dropped.Add(1)
		logger.Debug().Msg("ignored frame not sent by clients")
	}
}

func (h *Host) onHello(conn *net.UDPConn, from *net.UDPAddr, f protocol.Frame, logger zerolog.Logger) {
	if len(f.Payload) < protocol.NonceSize || len(f.Payload) > protocol.MaxNonceSize {
		h.dropped.Add(1)
		logger.Debug().Msg("HELLO nonce has invalid size")
		return
	}

	nonce, err := auth.NewNonce(protocol.NonceSize)
	if err != nil {
		logger.Error().Err(err).Msg("failed to create challenge")
		return
	}

	now := time.Now()

	h.mu.Lock()
	h.sweepLocked(now)
	h.peers[from.String()] = &peer{
		challengeSeq: f.Sequence,
		hostNonce:    nonce,
		clientNonce:  append([]byte(nil), f.Payload...),
		challengedAt: now,
		lastSeen:     now,
	}
	h.mu.Unlock()

	h.reply(conn, from, protocol.Frame{Type: protocol.MsgChallenge, Sequence: f.Sequence, Payload: nonce})
}

func (h *Host) onAuth(conn *net.UDPConn, from *net.UDPAddr, f protocol.Frame, logger zerolog.Logger) {
	h.mu.Lock()
	p, ok := h.peers[from.String()]
	if !ok || p.hostNonce == nil || p.challengeSeq != f.Sequence || time.Since(p.challengedAt) > pendingTimeout {
		h.mu.Unlock()
		h.dropped.Add(1)
		logger.Debug().Msg("AUTH without a matching challenge")
		return
	}

	token, err := auth.DeriveToken(h.secret, p.hostNonce, p.clientNonce)

	// The challenge is single-use whatever the outcome.
	p.hostNonce, p.clientNonce = nil, nil

	if err != nil || !auth.VerifyProof(token, f.Payload) {
		delete(h.peers, from.String())
		h.mu.Unlock()

		h.rejected.Add(1)
		logger.Warn().Msg("client failed authentication")
		h.reply(conn, from, protocol.Frame{Type: protocol.MsgAuthFail, Sequence: f.Sequence, Payload: []byte(authFailReason)})
		return
	}

	p.token = token
	p.lastSeq = f.Sequence
	p.lastSeen = time.Now()
	h.mu.Unlock()

	logger.Info().Msg("client authenticated")
	h.reply(conn, from, protocol.Frame{Type: protocol.MsgAuthOK, Sequence: f.Sequence, Payload: auth.HostAck(token)})
}

// authorize checks the tag and sequence of a COMMAND or PING and advances
// the peer's last seen sequence.
func (h *Host) authorize(from *net.UDPAddr, f protocol.Frame) ([]byte, bool) {
	tag, body, err := protocol.SplitCommandPayload(f.Payload)
	if err != nil {
		return nil, false
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	p, ok := h.peers[from.String()]
	if !ok || p.token.IsZero() {
		return nil, false
	}
	if f.Sequence <= p.lastSeq {
		return nil, false
	}
	if !auth.VerifyCommandTag(p.token, f.Type, f.Sequence, body, tag) {
		return nil, false
	}

	p.lastSeq = f.Sequence
	p.lastSeen = time.Now()
	return body, true
}

// sweepLocked forgets unanswered challenges older than pendingTimeout and
// sessions idle for longer than idleTimeout. It runs at most once per
// pendingTimeout.
func (h *Host) sweepLocked(now time.Time) {
	if now.Sub(h.lastSweep) < pendingTimeout {
		return
	}
	h.lastSweep = now

	for addr, p := range h.peers {
		expired := now.Sub(p.lastSeen) > idleTimeout
		if p.token.IsZero() {
			expired = now.Sub(p.challengedAt) > pendingTimeout
		}
		if expired {
			delete(h.peers, addr)
		}
	}
}

// tracked returns the number of client addresses with handshake or
// session state.
func (h *Host) tracked() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.peers)
}

func (h *Host) onCommand(ctx context.Context, conn *net.UDPConn, from *net.UDPAddr, f protocol.Frame, logger zerolog.Logger) {
	body, ok := h.authorize(from, f)
	if !ok {
		h.dropped.Add(1)
		logger.Warn().Msg("dropped unauthenticated command")
		return
	}

	h.commands.Add(1)
	command := string(body)

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()

		output, err := h.handler(ctx, command)
		if errors.Is(err, ErrNoReply) {
			logger.Debug().Str("command", command).Msg("command left unanswered")
			return
		}

		answer := protocol.Frame{Type: protocol.MsgResult, Sequence: f.Sequence}
		if err != nil {
			answer.Type = protocol.MsgError
			output = err.Error()
		}
		answer.Payload = []byte(truncate(output, protocol.MaxPayloadSize))

		logger.Debug().Str("command", command).Str("answer", answer.Type.String()).Msg("command handled")
		h.reply(conn, from, answer)
	}()
}

func (h *Host) onPing(conn *net.UDPConn, from *net.UDPAddr, f protocol.Frame, logger zerolog.Logger) {
	if _, ok := h.authorize(from, f); !ok {
		h.dropped.Add(1)
		logger.Debug().Msg("dropped unauthenticated ping")
		return
	}
	h.reply(conn, from, protocol.Frame{Type: protocol.MsgPong, Sequence: f.Sequence})
}

func (h *Host) reply(conn *net.UDPConn, to *net.UDPAddr, f protocol.Frame) {
	data, err := protocol.Encode(f)
	if err != nil {
		h.logger.Error().Err(err).Str("frame", f.String()).Msg("failed to encode reply")
		return
	}
	if _, err := conn.WriteToUDP(data, to); err != nil {
		h.logger.Warn().Err(err).Str("to", to.String()).Msg("failed to send reply")
	}
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
