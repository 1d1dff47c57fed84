// Package session implements the client side of an rcon connection: it
// drives the transport, handshake and frame codec through the
//
//	Disconnected → Connecting → Authenticating → Ready ⇄ Sending
//
// lifecycle and guarantees that commands are only sent once authenticated.
// A Session carries at most one outstanding request at a time.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/energizer-project/rcon/internal/auth"
	"github.com/energizer-project/rcon/internal/events"
	"github.com/energizer-project/rcon/internal/network"
	"github.com/energizer-project/rcon/internal/protocol"
	"github.com/energizer-project/rcon/internal/util"
)

// Result is a host's answer to one command.
type Result struct {
	Sequence uint32        `json:"sequence"`
	Output   string        `json:"output"`
	Status   Status        `json:"status"`
	Elapsed  time.Duration `json:"elapsed"`
}

// Stats is a snapshot of session counters.
type Stats struct {
	State               State         `json:"-"`
	Commands            uint64        `json:"commands"`
	Completed           uint64        `json:"completed"`
	HostErrors          uint64        `json:"host_errors"`
	Timeouts            uint64        `json:"timeouts"`
	ConsecutiveTimeouts int           `json:"consecutive_timeouts"`
	Discarded           uint64        `json:"discarded"`
	Handshakes          uint64        `json:"handshakes"`
	ConnectedAt         time.Time     `json:"connected_at"`
	LastRTT             time.Duration `json:"last_rtt"`
}

// Session is one client connection to an rcon host. It is safe for use by
// multiple goroutines, but only one request is in flight at a time.
type Session struct {
	id       string
	endpoint network.Endpoint
	secret   []byte
	opts     Options
	dial     network.DialFunc
	notifier events.Notifier
	label    string
	logger   zerolog.Logger

	mu        sync.Mutex
	state     State
	transport network.Transport
	token     auth.Token
	seq       uint32
	timeouts  int
	stats     Stats

	// gen changes every time the transport is released, so a wait that
	// started on an older transport can tell it was closed underneath.
	gen uint64
}

// New creates a Disconnected session for endpoint. The secret is copied.
func New(endpoint network.Endpoint, secret []byte, opts ...Option) *Session {
	s := &Session{
		id:       uuid.NewString(),
		endpoint: endpoint,
		secret:   append([]byte(nil), secret...),
		opts:     DefaultOptions(),
		dial:     network.Dial,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.opts = s.opts.normalize()

	s.logger = util.ComponentLogger("session").With().
		Str("session_id", s.id).
		Str("endpoint", endpoint.String()).
		Logger()

	return s
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

// Endpoint returns the host this session talks to.
func (s *Session) Endpoint() network.Endpoint { return s.endpoint }

// Options returns the effective policy.
func (s *Session) Options() Options { return s.opts }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Stats returns a snapshot of the session counters.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.stats
	st.State = s.state
	st.ConsecutiveTimeouts = s.timeouts
	return st
}

// Connect opens the transport and authenticates. It is legal only from
// Disconnected or Failed. A rejected or timed-out handshake leaves the
// session Failed; every failure path releases the socket.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if !s.state.canConnect() {
		s.mu.Unlock()
		return ErrAlreadyConnected
	}
	s.setStateLocked(StateConnecting, "")
	gen := s.gen
	s.mu.Unlock()

	tr, err := s.dial(ctx, s.endpoint)
	if err != nil {
		var connectErr *ConnectError
		if !errors.As(err, &connectErr) {
			err = &ConnectError{Endpoint: s.endpoint, Err: err}
		}

		s.mu.Lock()
		if s.gen == gen {
			s.setStateLocked(StateDisconnected, err.Error())
		}
		s.mu.Unlock()

		s.logger.Warn().Err(err).Msg("failed to open transport")
		return err
	}

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		tr.Close()
		return &SessionLostError{Reason: LossClosed}
	}
	s.transport = tr
	s.setStateLocked(StateAuthenticating, "")
	s.mu.Unlock()

	token, err := s.authenticate(ctx, tr)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.gen != gen {
		// Close ran during the handshake and already released the socket.
		return &SessionLostError{Reason: LossClosed, Err: err}
	}

	if err != nil {
		s.releaseLocked()

		var handshakeErr *HandshakeError
		if errors.As(err, &handshakeErr) {
			s.setStateLocked(StateFailed, handshakeErr.Error())
			s.emit(events.EventHandshakeFailed, events.HandshakeFailedPayload{
				Endpoint: s.endpoint.String(),
				Reason:   handshakeErr.Reason.String(),
				Attempts: handshakeErr.Attempts,
			})
			s.logger.Error().Err(err).Msg("handshake failed")
		} else {
			s.setStateLocked(StateDisconnected, err.Error())
		}
		return err
	}

	s.token = token
	s.timeouts = 0
	s.stats.Handshakes++
	s.stats.ConnectedAt = time.Now()
	s.setStateLocked(StateReady, "")

	s.logger.Info().Msg("session authenticated")
	return nil
}

// Submit sends one command and waits for its RESULT or ERROR. A host ERROR
// is a definitive answer and is returned as a Result with StatusError.
//
// Oversized text fails before any I/O. A response timeout returns
// *CommandTimeoutError and keeps the session Ready until the consecutive
// timeout threshold is reached, after which *SessionLostError is returned
// and the session is Disconnected. Cancelling ctx abandons the wait: the
// session stays Ready and a late response is discarded.
func (s *Session) Submit(ctx context.Context, text string) (*Result, error) {
	if len(text) > protocol.MaxCommandSize {
		err := &OversizedCommandError{Size: len(text), Limit: protocol.MaxCommandSize}
		s.emitCommand(text, 0, nil, err)
		return nil, err
	}

	f, seq, elapsed, err := s.exchange(ctx, protocol.MsgCommand, []byte(text), isCommandAnswer)
	if err != nil {
		s.emitCommand(text, seq, nil, err)
		return nil, err
	}

	res := &Result{
		Sequence: seq,
		Output:   string(f.Payload),
		Status:   StatusOK,
		Elapsed:  elapsed,
	}

	s.mu.Lock()
	s.stats.Commands++
	if f.Type == protocol.MsgError {
		res.Status = StatusError
		s.stats.HostErrors++
	} else {
		s.stats.Completed++
	}
	s.mu.Unlock()

	s.logger.Debug().
		Uint32("seq", seq).
		Str("status", string(res.Status)).
		Dur("elapsed", elapsed).
		Msg("command answered")

	s.emitCommand(text, seq, res, nil)
	return res, nil
}

// Ping sends a keep-alive and returns the round-trip time. Missing PONGs
// count toward the consecutive timeout threshold like commands do.
func (s *Session) Ping(ctx context.Context) (time.Duration, error) {
	_, _, elapsed, err := s.exchange(ctx, protocol.MsgPing, nil, isPong)
	if err != nil {
		return 0, err
	}
	return elapsed, nil
}

// Close releases the transport and discards the session token. It is safe
// to call from any state and more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateDisconnected && s.transport == nil {
		return nil
	}

	err := s.releaseLocked()
	s.setStateLocked(StateDisconnected, "closed")
	return err
}

func isCommandAnswer(t protocol.MessageType) bool {
	return t == protocol.MsgResult || t == protocol.MsgError
}

func isPong(t protocol.MessageType) bool {
	return t == protocol.MsgPong
}

// exchange sends one authenticated request and waits for the answer whose
// sequence matches. Anything else received meanwhile is discarded.
func (s *Session) exchange(ctx context.Context, t protocol.MessageType, body []byte, accept func(protocol.MessageType) bool) (protocol.Frame, uint32, time.Duration, error) {
	s.mu.Lock()
	switch s.state {
	case StateReady:
	case StateSending:
		s.mu.Unlock()
		return protocol.Frame{}, 0, 0, ErrCommandInFlight
	default:
		s.mu.Unlock()
		return protocol.Frame{}, 0, 0, &SessionLostError{Reason: LossNotConnected}
	}

	s.seq++
	seq := s.seq
	tr, token, gen := s.transport, s.token, s.gen
	s.setStateLocked(StateSending, "")
	s.mu.Unlock()

	data, err := protocol.Encode(protocol.Frame{
		Type:     t,
		Sequence: seq,
		Payload:  protocol.CommandPayload(auth.CommandTag(token, t, seq, body), body),
	})
	if err != nil {
		s.mu.Lock()
		if s.gen == gen {
			s.setStateLocked(StateReady, "")
		}
		s.mu.Unlock()
		return protocol.Frame{}, seq, 0, err
	}

	start := time.Now()
	if err := tr.Send(data); err != nil {
		return protocol.Frame{}, seq, 0, s.failWait(ctx, gen, seq, err)
	}
	s.logger.Trace().Str("type", t.String()).Uint32("seq", seq).Msg("request sent")

	deadline := start.Add(s.opts.ResponseTimeout)
	for {
		f, err := s.receive(ctx, tr, deadline)
		if err != nil {
			return protocol.Frame{}, seq, 0, s.failWait(ctx, gen, seq, err)
		}

		if f.Sequence != seq || !accept(f.Type) {
			s.discard(f.String(), "unexpected sequence or type")
			continue
		}

		elapsed := time.Since(start)

		s.mu.Lock()
		if s.gen != gen {
			s.mu.Unlock()
			return protocol.Frame{}, seq, 0, &SessionLostError{Reason: LossClosed}
		}
		s.timeouts = 0
		s.stats.LastRTT = elapsed
		s.setStateLocked(StateReady, "")
		s.mu.Unlock()

		return f, seq, elapsed, nil
	}
}

// failWait settles the state after a request ended without an answer.
func (s *Session) failWait(ctx context.Context, gen uint64, seq uint32, err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.gen != gen {
		return &SessionLostError{Reason: LossClosed}
	}

	if ctxErr := abandoned(ctx, err); ctxErr != nil {
		s.logger.Debug().Uint32("seq", seq).Err(ctxErr).Msg("request abandoned")
		s.setStateLocked(StateReady, "")
		return ctxErr
	}

	if errors.Is(err, network.ErrReceiveTimeout) {
		s.timeouts++
		s.stats.Timeouts++
		timeoutErr := &CommandTimeoutError{Sequence: seq, Timeout: s.opts.ResponseTimeout}

		s.logger.Warn().
			Uint32("seq", seq).
			Int("consecutive", s.timeouts).
			Int("limit", s.opts.MaxConsecutiveTimeouts).
			Msg("request timed out")

		if s.timeouts >= s.opts.MaxConsecutiveTimeouts {
			s.releaseLocked()
			s.setStateLocked(StateDisconnected, string(LossConsecutiveTimeouts))
			return &SessionLostError{Reason: LossConsecutiveTimeouts, Err: timeoutErr}
		}

		s.setStateLocked(StateReady, "")
		return timeoutErr
	}

	s.logger.Error().Err(err).Uint32("seq", seq).Msg("transport failed")
	s.releaseLocked()
	s.setStateLocked(StateDisconnected, string(LossTransport))
	return &SessionLostError{Reason: LossTransport, Err: err}
}

// authenticate runs up to HandshakeAttempts handshakes with doubling
// backoff between them. A rejection ends the loop immediately.
func (s *Session) authenticate(ctx context.Context, tr network.Transport) (auth.Token, error) {
	backoff := s.opts.HandshakeBackoff
	var lastErr error

	for attempt := 1; attempt <= s.opts.HandshakeAttempts; attempt++ {
		if attempt > 1 {
			if err := sleepContext(ctx, backoff); err != nil {
				return auth.Token{}, err
			}
			backoff *= 2
		}

		token, err := s.handshakeOnce(ctx, tr)
		if err == nil {
			return token, nil
		}

		if ctxErr := abandoned(ctx, err); ctxErr != nil {
			return auth.Token{}, ctxErr
		}

		var rejected *auth.RejectedError
		if errors.As(err, &rejected) {
			return auth.Token{}, &HandshakeError{
				Reason:   HandshakeRejected,
				Attempts: attempt,
				Detail:   rejected.Reason,
				Err:      err,
			}
		}

		if errors.Is(err, network.ErrClosed) {
			return auth.Token{}, err
		}

		lastErr = err
		s.logger.Warn().
			Err(err).
			Int("attempt", attempt).
			Int("attempts", s.opts.HandshakeAttempts).
			Msg("handshake attempt failed")
	}

	return auth.Token{}, &HandshakeError{
		Reason:   HandshakeTimeoutExceeded,
		Attempts: s.opts.HandshakeAttempts,
		Detail:   lastErr.Error(),
		Err:      lastErr,
	}
}

// handshakeOnce performs a single HELLO / CHALLENGE / AUTH exchange bounded
// by HandshakeTimeout.
func (s *Session) handshakeOnce(ctx context.Context, tr network.Transport) (auth.Token, error) {
	s.mu.Lock()
	s.seq++
	hs := auth.NewHandshake(s.secret, s.seq)
	s.mu.Unlock()

	hello, err := hs.Begin()
	if err != nil {
		return auth.Token{}, err
	}
	if err := s.send(tr, hello); err != nil {
		return auth.Token{}, err
	}

	deadline := time.Now().Add(s.opts.HandshakeTimeout)

	var authFrame protocol.Frame
	for {
		f, err := s.receive(ctx, tr, deadline)
		if err != nil {
			return auth.Token{}, err
		}

		authFrame, err = hs.OnChallenge(f)
		if err == nil {
			break
		}
		if !discardable(err) {
			return auth.Token{}, err
		}
		s.discard(f.String(), err.Error())
	}

	if err := s.send(tr, authFrame); err != nil {
		return auth.Token{}, err
	}

	for {
		f, err := s.receive(ctx, tr, deadline)
		if err != nil {
			return auth.Token{}, err
		}

		token, err := hs.OnAuthResult(f)
		if errors.Is(err, auth.ErrUnexpectedFrame) {
			s.discard(f.String(), err.Error())
			continue
		}
		return token, err
	}
}

func discardable(err error) bool {
	var malformed *protocol.MalformedFrameError
	return errors.Is(err, auth.ErrUnexpectedFrame) || errors.As(err, &malformed)
}

func (s *Session) send(tr network.Transport, f protocol.Frame) error {
	data, err := protocol.Encode(f)
	if err != nil {
		return err
	}
	s.logger.Trace().Str("frame", f.String()).Msg("sending frame")
	return tr.Send(data)
}

// receive returns the next decodable frame before deadline. Datagrams that
// fail to decode are discarded.
func (s *Session) receive(ctx context.Context, tr network.Transport, deadline time.Time) (protocol.Frame, error) {
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return protocol.Frame{}, network.ErrReceiveTimeout
		}

		data, err := tr.Receive(ctx, remaining)
		if err != nil {
			return protocol.Frame{}, err
		}

		f, err := protocol.Decode(data)
		if err != nil {
			s.discard("datagram", err.Error())
			continue
		}
		return f, nil
	}
}

func (s *Session) discard(what, reason string) {
	s.mu.Lock()
	s.stats.Discarded++
	s.mu.Unlock()

	s.logger.Debug().Str("frame", what).Str("reason", reason).Msg("discarded frame")
}

// releaseLocked closes the transport and forgets the token.
func (s *Session) releaseLocked() error {
	var err error
	if s.transport != nil {
		err = s.transport.Close()
		s.transport = nil
	}
	s.token = auth.Token{}
	s.timeouts = 0
	s.gen++
	return err
}

func (s *Session) setStateLocked(to State, reason string) {
	from := s.state
	if from == to {
		return
	}
	s.state = to

	// Ready and Sending alternate on every request; only log those.
	if from == StateSending || to == StateSending {
		s.logger.Trace().Str("from", from.String()).Str("to", to.String()).Msg("state changed")
		return
	}

	s.logger.Debug().
		Str("from", from.String()).
		Str("to", to.String()).
		Str("reason", reason).
		Msg("state changed")

	s.emit(events.EventStateChanged, events.StateChangePayload{
		Endpoint: s.endpoint.String(),
		From:     from.String(),
		To:       to.String(),
		Reason:   reason,
	})
}

func (s *Session) emitCommand(text string, seq uint32, res *Result, err error) {
	if s.notifier == nil {
		return
	}

	payload := events.CommandPayload{
		Endpoint: s.endpoint.String(),
		Peer:     s.label,
		Sequence: seq,
		Command:  text,
	}

	eventType := events.EventCommandFailed
	switch {
	case err != nil:
		payload.Status = "failed"
		payload.ErrorKind = ErrorKind(err)
		payload.Error = err.Error()
	case res.Status == StatusError:
		payload.Status = string(StatusError)
		payload.ErrorKind = KindHostError
		payload.Output = res.Output
		payload.Elapsed = res.Elapsed
	default:
		eventType = events.EventCommandCompleted
		payload.Status = string(StatusOK)
		payload.Output = res.Output
		payload.Elapsed = res.Elapsed
	}

	s.emit(eventType, payload)
}

// emit forwards an event to the notifier. Notifiers must not block.
func (s *Session) emit(t events.EventType, payload interface{}) {
	if s.notifier == nil {
		return
	}
	s.notifier.Emit(context.Background(), events.Event{
		Type:      t,
		Source:    "session",
		SessionID: s.id,
		Payload:   payload,
	})
}

// abandoned returns the context error when the caller gave up on the
// wait. The transport can report a context deadline before ctx.Err() is
// set, so err is checked as well.
func abandoned(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
