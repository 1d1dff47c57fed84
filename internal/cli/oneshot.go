package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/energizer-project/rcon/internal/network"
	"github.com/energizer-project/rcon/internal/session"
)

// RunOnce connects, runs command, prints the host's output to out and
// closes the session. A host ERROR answer is printed and reported as
// ErrHostError.
func RunOnce(ctx context.Context, ep network.Endpoint, secret []byte, command string, out io.Writer, opts ...session.Option) error {
	if strings.TrimSpace(command) == "" {
		return &UsageError{Err: fmt.Errorf("no command given")}
	}

	res, err := session.Exec(ctx, ep, secret, command, opts...)
	if err != nil {
		return err
	}

	writeOutput(out, res.Output)
	if res.Status == session.StatusError {
		return ErrHostError
	}
	return nil
}

func writeOutput(out io.Writer, output string) {
	if output == "" {
		return
	}
	fmt.Fprint(out, output)
	if !strings.HasSuffix(output, "\n") {
		fmt.Fprintln(out)
	}
}
