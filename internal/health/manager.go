// Package health probes the gateway's configured peers on a fixed
// interval and keeps their last known reachability.
package health

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/energizer-project/rcon/internal/config"
	"github.com/energizer-project/rcon/internal/events"
	"github.com/energizer-project/rcon/internal/session"
)

// maxConcurrentProbes bounds how many peers are probed at once.
const maxConcurrentProbes = 8

// PeerStatus is the result of the most recent probe of one peer.
type PeerStatus struct {
	Peer      string        `json:"peer"`
	Endpoint  string        `json:"endpoint"`
	Reachable bool          `json:"reachable"`
	RTT       time.Duration `json:"rtt_ns"`
	ErrorKind string        `json:"error_kind,omitempty"`
	Error     string        `json:"error,omitempty"`
	CheckedAt time.Time     `json:"checked_at"`
}

// Manager runs periodic reachability checks against configured peers.
type Manager struct {
	cfg      *config.Config
	eventBus *events.EventBus

	mu     sync.RWMutex
	status map[string]PeerStatus
}

// NewManager creates a new health check manager. eventBus may be nil.
func NewManager(cfg *config.Config, eventBus *events.EventBus) *Manager {
	return &Manager{
		cfg:      cfg,
		eventBus: eventBus,
		status:   make(map[string]PeerStatus),
	}
}

// Start probes every peer immediately and then on each interval tick until
// ctx is cancelled.
func (m *Manager) Start(ctx context.Context) {
	interval := m.cfg.Health.Interval
	if interval <= 0 {
		log.Debug().Msg("peer health checks disabled")
		<-ctx.Done()
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Info().Dur("interval", interval).Int("peers", len(m.cfg.PeerIDs())).Msg("health check manager started")

	// Run immediately on startup
	m.CheckAll(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("health check manager stopped")
			return
		case <-ticker.C:
			m.CheckAll(ctx)
		}
	}
}

// CheckAll probes every configured peer and waits for the results.
func (m *Manager) CheckAll(ctx context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentProbes)

	for _, id := range m.cfg.PeerIDs() {
		id := id
		peer, ok := m.cfg.Peer(id)
		if !ok {
			continue
		}
		g.Go(func() error {
			m.record(ctx, m.probe(gctx, id, peer))
			return nil
		})
	}

	g.Wait()
}

// probe connects to peer, pings it once and closes the session.
func (m *Manager) probe(ctx context.Context, id string, peer config.PeerConfig) PeerStatus {
	timeout := m.cfg.Health.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	opts := m.cfg.Session.Options()
	opts.HandshakeAttempts = 1
	if opts.HandshakeTimeout > timeout {
		opts.HandshakeTimeout = timeout
	}

	st := PeerStatus{
		Peer:      id,
		Endpoint:  peer.Endpoint().String(),
		CheckedAt: time.Now(),
	}

	sess := session.New(peer.Endpoint(), []byte(peer.Password), session.WithOptions(opts), session.WithLabel(id))
	defer sess.Close()

	err := sess.Connect(ctx)
	if err == nil {
		st.RTT, err = sess.Ping(ctx)
	}
	if err != nil {
		st.ErrorKind = session.ErrorKind(err)
		st.Error = err.Error()
		return st
	}

	st.Reachable = true
	return st
}

// record stores st and emits an event when reachability changed.
func (m *Manager) record(ctx context.Context, st PeerStatus) {
	m.mu.Lock()
	prev, seen := m.status[st.Peer]
	m.status[st.Peer] = st
	m.mu.Unlock()

	if seen && prev.Reachable == st.Reachable {
		return
	}

	logEvent := log.Info()
	if !st.Reachable {
		logEvent = log.Warn().Str("kind", st.ErrorKind).Str("error", st.Error)
	}
	logEvent.
		Str("peer", st.Peer).
		Str("endpoint", st.Endpoint).
		Bool("reachable", st.Reachable).
		Msg("peer health changed")

	if m.eventBus != nil {
		m.eventBus.Emit(ctx, events.Event{
			Type:   events.EventPeerHealthChanged,
			Source: "health_check",
			Payload: events.PeerHealthPayload{
				Peer:      st.Peer,
				Endpoint:  st.Endpoint,
				Reachable: st.Reachable,
				RTT:       st.RTT,
				ErrorKind: st.ErrorKind,
			},
		})
	}
}

// Status returns the last known status of every probed peer, sorted by
// peer id.
func (m *Manager) Status() []PeerStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]PeerStatus, 0, len(m.status))
	for _, st := range m.status {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Peer < out[j].Peer })
	return out
}

// StatusOf returns the last known status of one peer.
func (m *Manager) StatusOf(id string) (PeerStatus, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.status[id]
	return st, ok
}
