package health

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/energizer-project/rcon/internal/config"
	"github.com/energizer-project/rcon/internal/events"
	"github.com/energizer-project/rcon/internal/host"
)

func startHost(t *testing.T, secret string) int {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	h := host.New([]byte(secret), host.NewCommandSet("test").Handle)
	require.NoError(t, h.Listen(ctx, "127.0.0.1:0"))

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.Serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		h.Close()
		<-done
	})

	return h.Addr().Port
}

func testConfig(peers map[string]config.PeerConfig) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Session.HandshakeTimeout = 200 * time.Millisecond
	cfg.Session.ResponseTimeout = 200 * time.Millisecond
	cfg.Health.Interval = time.Hour
	cfg.Health.Timeout = 500 * time.Millisecond
	cfg.Peers = peers
	return cfg
}

func TestCheckAll(t *testing.T) {
	port := startHost(t, "swordfish")

	cfg := testConfig(map[string]config.PeerConfig{
		"good":    {Address: "127.0.0.1", Port: port, Password: "swordfish"},
		"badpass": {Address: "127.0.0.1", Port: port, Password: "nope"},
	})

	bus := events.NewEventBus()
	var (
		mu      sync.Mutex
		changes []events.PeerHealthPayload
	)
	bus.Subscribe(events.EventPeerHealthChanged, "test", func(ctx context.Context, e events.Event) error {
		mu.Lock()
		defer mu.Unlock()
		changes = append(changes, e.Payload.(events.PeerHealthPayload))
		return nil
	})

	m := NewManager(cfg, bus)
	m.CheckAll(context.Background())

	status := m.Status()
	require.Len(t, status, 2)
	assert.Equal(t, "badpass", status[0].Peer)
	assert.False(t, status[0].Reachable)
	assert.Equal(t, "handshake_rejected", status[0].ErrorKind)
	assert.Equal(t, "good", status[1].Peer)
	assert.True(t, status[1].Reachable)
	assert.Positive(t, status[1].RTT)

	// A second round with unchanged reachability emits nothing new.
	m.CheckAll(context.Background())
	bus.Stop()

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, changes, 2)

	st, ok := m.StatusOf("good")
	require.True(t, ok)
	assert.True(t, st.Reachable)
}

func TestStart_Disabled(t *testing.T) {
	cfg := testConfig(nil)
	cfg.Health.Interval = 0

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	NewManager(cfg, nil).Start(ctx)
}
