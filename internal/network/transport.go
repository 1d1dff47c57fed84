// Package network implements the datagram transport used by rcon sessions
// and the UDP listener used by hosts.
package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/rcon/internal/protocol"
)

const writeTimeout = 5 * time.Second

// readBufferSize leaves room past the datagram limit so oversized frames
// reach the decoder intact instead of being silently truncated.
const readBufferSize = 2 * protocol.MaxDatagramSize

var (
	// ErrReceiveTimeout is returned when no datagram arrives before the timeout.
	ErrReceiveTimeout = errors.New("receive timed out")

	// ErrClosed is returned by operations on a closed transport.
	ErrClosed = errors.New("transport is closed")
)

// Endpoint is a host address and port.
type Endpoint struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// String returns the endpoint in host:port form.
func (e Endpoint) String() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// ConnectError reports a failure to open the transport: address
// resolution or socket creation.
type ConnectError struct {
	Endpoint Endpoint
	Err      error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("failed to connect to %s: %v", e.Endpoint, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// IOError reports a failed send or receive on an open transport.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// Transport is an unreliable datagram channel to one endpoint.
type Transport interface {
	// Send writes one datagram.
	Send(data []byte) error

	// Receive blocks for one datagram until timeout elapses or ctx is done.
	Receive(ctx context.Context, timeout time.Duration) ([]byte, error)

	// Close releases the socket. Closing twice is a no-op.
	Close() error
}

// DialFunc opens a transport to an endpoint.
type DialFunc func(ctx context.Context, ep Endpoint) (Transport, error)

// Dial opens a UDP transport. It satisfies DialFunc.
func Dial(ctx context.Context, ep Endpoint) (Transport, error) {
	return Open(ctx, ep)
}

// UDPTransport is a connected UDP socket.
type UDPTransport struct {
	mu       sync.Mutex
	conn     *net.UDPConn
	endpoint Endpoint
	logger   zerolog.Logger
	closed   bool

	bytesSent     atomic.Uint64
	bytesReceived atomic.Uint64
}

// Open resolves the endpoint and opens a connected UDP socket to it.
// On failure no socket is left open.
func Open(ctx context.Context, ep Endpoint) (*UDPTransport, error) {
	if ep.Port < 1 || ep.Port > 65535 {
		return nil, &ConnectError{Endpoint: ep, Err: fmt.Errorf("invalid port %d", ep.Port)}
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp", ep.String())
	if err != nil {
		return nil, &ConnectError{Endpoint: ep, Err: err}
	}

	udpConn, ok := conn.(*net.UDPConn)
	if !ok {
		conn.Close()
		return nil, &ConnectError{Endpoint: ep, Err: fmt.Errorf("unexpected connection type %T", conn)}
	}

	t := &UDPTransport{
		conn:     udpConn,
		endpoint: ep,
		logger: log.With().
			Str("component", "transport").
			Str("remote", udpConn.RemoteAddr().String()).
			Logger(),
	}

	t.logger.Debug().Str("local", udpConn.LocalAddr().String()).Msg("transport opened")
	return t, nil
}

// Send writes one datagram to the endpoint.
func (t *UDPTransport) Send(data []byte) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	conn := t.conn
	t.mu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	n, err := conn.Write(data)
	if err != nil {
		return &IOError{Op: "send", Err: err}
	}

	t.bytesSent.Add(uint64(n))
	t.logger.Trace().Int("bytes", n).Msg("datagram sent")
	return nil
}

// Receive reads one datagram. It returns ErrReceiveTimeout when timeout
// elapses first and ctx.Err() when the context ends the wait.
func (t *UDPTransport) Receive(ctx context.Context, timeout time.Duration) ([]byte, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, ErrClosed
	}
	conn := t.conn
	t.mu.Unlock()

	deadline := time.Now().Add(timeout)
	ctxLimited := false
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
		ctxLimited = true
	}
	conn.SetReadDeadline(deadline)

	// Unblock the read as soon as the caller gives up.
	stop := context.AfterFunc(ctx, func() {
		conn.SetReadDeadline(time.Unix(1, 0))
	})
	defer stop()

	buf := make([]byte, readBufferSize)
	n, err := conn.Read(buf)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if t.IsClosed() {
			return nil, ErrClosed
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			if ctxLimited {
				return nil, context.DeadlineExceeded
			}
			return nil, ErrReceiveTimeout
		}
		return nil, &IOError{Op: "receive", Err: err}
	}

	t.bytesReceived.Add(uint64(n))
	t.logger.Trace().Int("bytes", n).Msg("datagram received")
	return buf[:n], nil
}

// Close closes the socket.
func (t *UDPTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}

	t.closed = true
	t.logger.Debug().
		Uint64("bytes_sent", t.bytesSent.Load()).
		Uint64("bytes_received", t.bytesReceived.Load()).
		Msg("transport closed")
	return t.conn.Close()
}

// IsClosed returns whether the transport has been closed.
func (t *UDPTransport) IsClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// Endpoint returns the remote endpoint.
func (t *UDPTransport) Endpoint() Endpoint {
	return t.endpoint
}

// LocalAddr returns the local socket address.
func (t *UDPTransport) LocalAddr() net.Addr {
	return t.conn.LocalAddr()
}

// BytesSent returns the number of bytes written so far.
func (t *UDPTransport) BytesSent() uint64 {
	return t.bytesSent.Load()
}

// BytesReceived returns the number of bytes read so far.
func (t *UDPTransport) BytesReceived() uint64 {
	return t.bytesReceived.Load()
}
