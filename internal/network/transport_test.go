package network

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startEcho runs a UDP echo server on loopback and returns its endpoint.
func startEcho(t *testing.T) Endpoint {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	conn, err := ListenUDP(ctx, "127.0.0.1:0")
	require.NoError(t, err)

	go func() {
		buf := make([]byte, 4096)
		for {
			n, addr, err := conn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			if string(buf[:n]) == "drop" {
				continue
			}
			conn.WriteToUDP(buf[:n], addr)
		}
	}()

	udpAddr := conn.LocalAddr().(*net.UDPAddr)
	return Endpoint{Host: "127.0.0.1", Port: udpAddr.Port}
}

func TestUDPTransport_SendReceive(t *testing.T) {
	ep := startEcho(t)

	tr, err := Open(context.Background(), ep)
	require.NoError(t, err)
	defer tr.Close()

	require.NoError(t, tr.Send([]byte("ping")))

	data, err := tr.Receive(context.Background(), 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, []byte("ping"), data)
	assert.Equal(t, uint64(4), tr.BytesSent())
	assert.Equal(t, uint64(4), tr.BytesReceived())
}

func TestUDPTransport_ReceiveTimeout(t *testing.T) {
	ep := startEcho(t)

	tr, err := Open(context.Background(), ep)
	require.NoError(t, err)
	defer tr.Close()

	require.NoError(t, tr.Send([]byte("drop")))

	start := time.Now()
	_, err = tr.Receive(context.Background(), 100*time.Millisecond)
	assert.ErrorIs(t, err, ErrReceiveTimeout)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestUDPTransport_ReceiveCancelled(t *testing.T) {
	ep := startEcho(t)

	tr, err := Open(context.Background(), ep)
	require.NoError(t, err)
	defer tr.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err = tr.Receive(ctx, 10*time.Second)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestUDPTransport_CloseIdempotent(t *testing.T) {
	ep := startEcho(t)

	tr, err := Open(context.Background(), ep)
	require.NoError(t, err)

	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())
	assert.True(t, tr.IsClosed())

	assert.ErrorIs(t, tr.Send([]byte("x")), ErrClosed)
	_, err = tr.Receive(context.Background(), time.Second)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestOpen_Failures(t *testing.T) {
	cases := []Endpoint{
		{Host: "127.0.0.1", Port: 0},
		{Host: "127.0.0.1", Port: 70000},
	}

	for _, ep := range cases {
		t.Run(ep.String(), func(t *testing.T) {
			tr, err := Open(context.Background(), ep)
			require.Error(t, err)
			assert.Nil(t, tr)

			var connectErr *ConnectError
			assert.True(t, errors.As(err, &connectErr))
		})
	}
}

func TestEndpoint_String(t *testing.T) {
	assert.Equal(t, "127.0.0.1:9990", Endpoint{Host: "127.0.0.1", Port: 9990}.String())
	assert.Equal(t, "[::1]:9990", Endpoint{Host: "::1", Port: 9990}.String())
}

func TestListenTCP_RebindAfterClose(t *testing.T) {
	ln, err := ListenTCP(context.Background(), "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()

	accepted := make(chan struct{})
	go func() {
		if c, err := ln.Accept(); err == nil {
			c.Close()
		}
		close(accepted)
	}()

	c, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	<-accepted
	c.Close()
	require.NoError(t, ln.Close())

	ln2, err := ListenTCP(context.Background(), addr)
	require.NoError(t, err)
	ln2.Close()
}
