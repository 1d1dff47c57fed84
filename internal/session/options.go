package session

import (
	"time"

	"github.com/energizer-project/rcon/internal/events"
	"github.com/energizer-project/rcon/internal/network"
)

// Options holds the retry and timeout policy of a session.
type Options struct {
	// HandshakeAttempts is how many HELLO exchanges are tried before the
	// handshake fails with TimeoutExceeded.
	HandshakeAttempts int

	// HandshakeTimeout bounds one handshake attempt.
	HandshakeTimeout time.Duration

	// HandshakeBackoff is the wait before the second attempt. It doubles
	// for each further attempt.
	HandshakeBackoff time.Duration

	// ResponseTimeout bounds the wait for a RESULT, ERROR or PONG.
	ResponseTimeout time.Duration

	// MaxConsecutiveTimeouts is the number of back-to-back response
	// timeouts after which the session is dropped.
	MaxConsecutiveTimeouts int
}

// DefaultOptions returns the default session policy.
func DefaultOptions() Options {
	return Options{
		HandshakeAttempts:      3,
		HandshakeTimeout:       2 * time.Second,
		HandshakeBackoff:       500 * time.Millisecond,
		ResponseTimeout:        5 * time.Second,
		MaxConsecutiveTimeouts: 3,
	}
}

// normalize replaces unusable values with defaults.
func (o Options) normalize() Options {
	d := DefaultOptions()
	if o.HandshakeAttempts < 1 {
		o.HandshakeAttempts = d.HandshakeAttempts
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = d.HandshakeTimeout
	}
	if o.HandshakeBackoff < 0 {
		o.HandshakeBackoff = 0
	}
	if o.ResponseTimeout <= 0 {
		o.ResponseTimeout = d.ResponseTimeout
	}
	if o.MaxConsecutiveTimeouts < 1 {
		o.MaxConsecutiveTimeouts = d.MaxConsecutiveTimeouts
	}
	return o
}

// Option configures a Session.
type Option func(*Session)

// WithOptions replaces the whole policy.
func WithOptions(o Options) Option {
	return func(s *Session) { s.opts = o }
}

// WithResponseTimeout sets the per-request response timeout.
func WithResponseTimeout(d time.Duration) Option {
	return func(s *Session) { s.opts.ResponseTimeout = d }
}

// WithHandshakeAttempts sets the number of handshake attempts.
func WithHandshakeAttempts(n int) Option {
	return func(s *Session) { s.opts.HandshakeAttempts = n }
}

// WithDialer replaces the transport constructor.
func WithDialer(dial network.DialFunc) Option {
	return func(s *Session) { s.dial = dial }
}

// WithNotifier sends lifecycle and command events to n.
func WithNotifier(n events.Notifier) Option {
	return func(s *Session) { s.notifier = n }
}

// WithLabel tags events with a peer name.
func WithLabel(label string) Option {
	return func(s *Session) { s.label = label }
}
