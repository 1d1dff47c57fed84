package session

import (
	"context"

	"github.com/energizer-project/rcon/internal/network"
	"github.com/energizer-project/rcon/internal/protocol"
)

// Exec opens a session to endpoint, runs one command and closes the
// session again. Oversized commands fail without touching the network.
func Exec(ctx context.Context, endpoint network.Endpoint, secret []byte, command string, opts ...Option) (*Result, error) {
	s := New(endpoint, secret, opts...)
	defer s.Close()

	if len(command) <= protocol.MaxCommandSize {
		if err := s.Connect(ctx); err != nil {
			return nil, err
		}
	}
	return s.Submit(ctx, command)
}
