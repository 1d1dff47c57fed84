package host

import (
	"context"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/energizer-project/rcon/internal/auth"
	"github.com/energizer-project/rcon/internal/protocol"
)

func startHost(t *testing.T, secret string, handler Handler) *Host {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	h := New([]byte(secret), handler)
	require.NoError(t, h.Listen(ctx, "127.0.0.1:0"))

	done := make(chan error, 1)
	go func() { done <- h.Serve(ctx) }()

	t.Cleanup(func() {
		cancel()
		h.Close()
		assert.NoError(t, <-done)
	})
	return h
}

// rawClient speaks frames directly so host behaviour can be checked
// without the client session.
type rawClient struct {
	t    *testing.T
	conn *net.UDPConn
}

func dialHost(t *testing.T, h *Host) *rawClient {
	t.Helper()
	conn, err := net.DialUDP("udp", nil, h.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &rawClient{t: t, conn: conn}
}

func (c *rawClient) send(f protocol.Frame) {
	c.t.Helper()
	data, err := protocol.Encode(f)
	require.NoError(c.t, err)
	_, err = c.conn.Write(data)
	require.NoError(c.t, err)
}

// recv returns the next frame, or false when nothing arrives within wait.
func (c *rawClient) recv(wait time.Duration) (protocol.Frame, bool) {
	c.t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(wait))
	buf := make([]byte, 2*protocol.MaxDatagramSize)
	n, err := c.conn.Read(buf)
	if err != nil {
		return protocol.Frame{}, false
	}
	f, err := protocol.Decode(buf[:n])
	require.NoError(c.t, err)
	return f, true
}

func (c *rawClient) roundTrip(f protocol.Frame) protocol.Frame {
	c.t.Helper()
	c.send(f)
	reply, ok := c.recv(2 * time.Second)
	require.True(c.t, ok, "no reply to %s", f)
	return reply
}

// login performs the handshake and returns the session token.
func (c *rawClient) login(secret string, seq uint32) (auth.Token, protocol.Frame) {
	c.t.Helper()

	hs := auth.NewHandshake([]byte(secret), seq)
	hello, err := hs.Begin()
	require.NoError(c.t, err)

	challenge := c.roundTrip(hello)
	require.Equal(c.t, protocol.MsgChallenge, challenge.Type)
	require.Equal(c.t, seq, challenge.Sequence)

	authFrame, err := hs.OnChallenge(challenge)
	require.NoError(c.t, err)

	result := c.roundTrip(authFrame)
	token, _ := hs.OnAuthResult(result)
	return token, result
}

func commandFrame(token auth.Token, seq uint32, text string) protocol.Frame {
	body := []byte(text)
	return protocol.Frame{
		Type:     protocol.MsgCommand,
		Sequence: seq,
		Payload:  protocol.CommandPayload(auth.CommandTag(token, protocol.MsgCommand, seq, body), body),
	}
}

func TestHost_HandshakeAndCommands(t *testing.T) {
	h := startHost(t, "swordfish", NewCommandSet("1.2.3").Handle)
	c := dialHost(t, h)

	token, result := c.login("swordfish", 1)
	require.Equal(t, protocol.MsgAuthOK, result.Type)
	require.False(t, token.IsZero())

	reply := c.roundTrip(commandFrame(token, 2, "echo hello world"))
	assert.Equal(t, protocol.MsgResult, reply.Type)
	assert.Equal(t, uint32(2), reply.Sequence)
	assert.Equal(t, "hello world", string(reply.Payload))

	reply = c.roundTrip(commandFrame(token, 3, "version"))
	assert.Equal(t, "1.2.3", string(reply.Payload))

	reply = c.roundTrip(commandFrame(token, 4, "frobnicate"))
	assert.Equal(t, protocol.MsgError, reply.Type)
	assert.Contains(t, string(reply.Payload), "unknown command")

	ping := protocol.Frame{
		Type:     protocol.MsgPing,
		Sequence: 5,
		Payload:  protocol.CommandPayload(auth.CommandTag(token, protocol.MsgPing, 5, nil), nil),
	}
	reply = c.roundTrip(ping)
	assert.Equal(t, protocol.MsgPong, reply.Type)

	commands, rejected, _ := h.Counters()
	assert.Equal(t, uint64(3), commands)
	assert.Equal(t, uint64(0), rejected)
}

func TestHost_WrongSecret(t *testing.T) {
	h := startHost(t, "swordfish", NewCommandSet("test").Handle)
	c := dialHost(t, h)

	token, result := c.login("hunter2", 1)
	assert.Equal(t, protocol.MsgAuthFail, result.Type)
	assert.Equal(t, authFailReason, string(result.Payload))
	assert.True(t, token.IsZero())

	_, rejected, _ := h.Counters()
	assert.Equal(t, uint64(1), rejected)
}

func TestHost_DropsUnauthenticatedAndReplayed(t *testing.T) {
	h := startHost(t, "swordfish", NewCommandSet("test").Handle)
	c := dialHost(t, h)

	// Command before any handshake.
	var zero auth.Token
	zero[0] = 1
	c.send(commandFrame(zero, 1, "status"))
	_, ok := c.recv(200 * time.Millisecond)
	assert.False(t, ok)

	token, _ := c.login("swordfish", 2)

	frame := commandFrame(token, 3, "echo once")
	reply := c.roundTrip(frame)
	assert.Equal(t, "once", string(reply.Payload))

	// Same frame again: the sequence is no longer fresh.
	c.send(frame)
	_, ok = c.recv(200 * time.Millisecond)
	assert.False(t, ok)

	// Tag computed under another token.
	forged := commandFrame(auth.Token{0xAA}, 4, "echo forged")
	c.send(forged)
	_, ok = c.recv(200 * time.Millisecond)
	assert.False(t, ok)

	// Replaying the AUTH does not reopen the challenge.
	c.send(protocol.Frame{Type: protocol.MsgAuth, Sequence: 2, Payload: make([]byte, protocol.ProofSize)})
	_, ok = c.recv(200 * time.Millisecond)
	assert.False(t, ok)
}

func TestHost_NoReply(t *testing.T) {
	h := startHost(t, "swordfish", func(ctx context.Context, command string) (string, error) {
		return "", ErrNoReply
	})
	c := dialHost(t, h)

	token, _ := c.login("swordfish", 1)
	c.send(commandFrame(token, 2, "anything"))
	_, ok := c.recv(200 * time.Millisecond)
	assert.False(t, ok)
}

func TestCommandSet(t *testing.T) {
	cs := NewCommandSet("9.9.9")
	ctx := context.Background()

	tests := []struct {
		command string
		want    string
		wantErr string
	}{
		{command: "echo a  b", want: "a b"},
		{command: "ECHO x", want: "x"},
		{command: "version", want: "9.9.9"},
		{command: "help", want: "echo help status uptime version"},
		{command: "", wantErr: "empty command"},
		{command: "reboot", wantErr: `unknown command "reboot"`},
	}

	for _, tt := range tests {
		t.Run(tt.command, func(t *testing.T) {
			got, err := cs.Handle(ctx, tt.command)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Equal(t, tt.wantErr, err.Error())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	status, err := cs.Handle(ctx, "status")
	require.NoError(t, err)
	assert.Contains(t, status, "uptime:")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "ab", truncate("abc", 2))

	// "é" is two bytes; cutting through it backs off to the rune start.
	s := "a" + strings.Repeat("é", 3)
	assert.Equal(t, "aé", truncate(s, 4))
}

func TestHost_SweepForgetsStaleClients(t *testing.T) {
	h := New([]byte("swordfish"), NewCommandSet("1.2.3").Handle)
	now := time.Now()

	var token auth.Token
	token[0] = 1

	h.peers["10.0.0.1:1000"] = &peer{challengedAt: now.Add(-time.Minute), lastSeen: now.Add(-time.Minute)}
	h.peers["10.0.0.2:1000"] = &peer{challengedAt: now, lastSeen: now}
	h.peers["10.0.0.3:1000"] = &peer{token: token, challengedAt: now.Add(-2 * time.Hour), lastSeen: now.Add(-time.Hour)}
	h.peers["10.0.0.4:1000"] = &peer{token: token, challengedAt: now.Add(-2 * time.Hour), lastSeen: now.Add(-time.Minute)}

	h.mu.Lock()
	h.sweepLocked(now)
	h.mu.Unlock()

	assert.Equal(t, 2, h.tracked())
	assert.Contains(t, h.peers, "10.0.0.2:1000")
	assert.Contains(t, h.peers, "10.0.0.4:1000")
}

func TestHost_HelloSweepsStaleClients(t *testing.T) {
	h := startHost(t, "swordfish", NewCommandSet("1.2.3").Handle)

	first := dialHost(t, h)
	_, result := first.login("swordfish", 1)
	require.Equal(t, protocol.MsgAuthOK, result.Type)
	require.Equal(t, 1, h.tracked())

	stale := time.Now().Add(-time.Hour)
	h.mu.Lock()
	for i := 0; i < 100; i++ {
		h.peers[fmt.Sprintf("10.0.0.%d:1000", i)] = &peer{challengedAt: stale, lastSeen: stale}
	}
	h.lastSweep = time.Time{}
	h.mu.Unlock()

	second := dialHost(t, h)
	_, result = second.login("swordfish", 1)
	require.Equal(t, protocol.MsgAuthOK, result.Type)

	assert.Equal(t, 2, h.tracked())
}
