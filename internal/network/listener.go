package network

import (
	"context"
	"fmt"
	"net"
	"syscall"

	"github.com/rs/zerolog/log"
)

// ListenConfig returns a net.ListenConfig that sets SO_REUSEADDR before
// binding, so a restarted host or gateway can rebind its port at once.
func ListenConfig() net.ListenConfig {
	return net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var opErr error
			if err := c.Control(func(fd uintptr) {
				opErr = setReuseAddr(fd)
			}); err != nil {
				return err
			}
			return opErr
		},
	}
}

// ListenUDP opens a UDP socket for a host to receive rcon datagrams on.
// The socket is closed when ctx is cancelled.
func ListenUDP(ctx context.Context, addr string) (*net.UDPConn, error) {
	lc := ListenConfig()
	pc, err := lc.ListenPacket(ctx, "udp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	conn, ok := pc.(*net.UDPConn)
	if !ok {
		pc.Close()
		return nil, fmt.Errorf("unexpected packet connection type %T", pc)
	}

	log.Debug().Str("addr", conn.LocalAddr().String()).Msg("UDP listener started")

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	return conn, nil
}

// ListenTCP opens the gateway's TCP listener.
func ListenTCP(ctx context.Context, addr string) (net.Listener, error) {
	lc := ListenConfig()
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return ln, nil
}
