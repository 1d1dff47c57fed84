// Package cli implements the interactive rcon console and one-shot runs.
// Lines are sent to the host verbatim; lines starting with a dot are
// console commands.
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/rcon/internal/history"
	"github.com/energizer-project/rcon/internal/protocol"
	"github.com/energizer-project/rcon/internal/session"
)

// Console drives one session from a line-oriented input.
type Console struct {
	sess    *session.Session
	history *history.Store
	in      io.Reader
	out     io.Writer
}

// NewConsole creates a console for sess. store may be nil.
func NewConsole(sess *session.Session, store *history.Store, in io.Reader, out io.Writer) *Console {
	return &Console{
		sess:    sess,
		history: store,
		in:      in,
		out:     out,
	}
}

// Run connects if needed and reads commands until EOF, .quit or ctx is
// done. Command lines are sent as typed. The session is closed on return.
// Only the initial connect error is returned; later failures are printed
// and the console keeps going.
func (c *Console) Run(ctx context.Context) error {
	defer c.sess.Close()

	if c.sess.State() != session.StateReady {
		if err := c.sess.Connect(ctx); err != nil {
			return err
		}
	}

	fmt.Fprintln(c.out, titleStyle.Render("connected to "+c.sess.Endpoint().String()))
	fmt.Fprintln(c.out, mutedStyle.Render("type .help for console commands, .quit to leave"))

	reader := bufio.NewReader(c.in)

	for {
		if ctx.Err() != nil {
			return nil
		}

		fmt.Fprint(c.out, promptStyle.Render("rcon> "))
		line, size, err := readLine(reader)
		if err != nil {
			if errors.Is(err, io.EOF) {
				fmt.Fprintln(c.out)
				return nil
			}
			return fmt.Errorf("failed to read input: %w", err)
		}

		if size > maxLineSize {
			c.printError(&session.OversizedCommandError{Size: size, Limit: protocol.MaxCommandSize})
			continue
		}

		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}

		if strings.HasPrefix(trimmed, ".") {
			if quit := c.execute(ctx, trimmed); quit {
				return nil
			}
			continue
		}

		c.submit(ctx, line)
	}
}

// maxLineSize bounds how much of one input line is kept in memory. Longer
// lines are consumed and reported as oversized.
const maxLineSize = 64 << 10

// readLine returns the next line without its terminator and the line's
// full size. Past maxLineSize the rest of the line is read but dropped.
func readLine(r *bufio.Reader) (string, int, error) {
	var (
		buf  []byte
		size int
	)
	for {
		chunk, err := r.ReadSlice('\n')
		size += len(chunk)
		if room := maxLineSize - len(buf); room > 0 {
			buf = append(buf, chunk[:min(room, len(chunk))]...)
		}

		switch {
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF) && size > 0:
			return string(buf), size, nil
		case err != nil:
			return "", 0, err
		}

		size--
		if len(buf) > size {
			buf = buf[:size]
			if n := len(buf); n > 0 && buf[n-1] == '\r' {
				buf = buf[:n-1]
				size--
			}
		}
		return string(buf), size, nil
	}
}

// execute runs a console command and reports whether the console should
// exit.
func (c *Console) execute(ctx context.Context, line string) bool {
	parts := strings.Fields(line)
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case ".help", ".h", ".?":
		c.printHelp()
	case ".status", ".s":
		c.printStatus()
	case ".history":
		c.printHistory(ctx, args)
	case ".ping":
		c.ping(ctx)
	case ".reconnect":
		c.reconnect(ctx)
	case ".quit", ".exit", ".q":
		return true
	default:
		fmt.Fprintln(c.out, warningStyle.Render(fmt.Sprintf("unknown console command %q, type .help", cmd)))
	}
	return false
}

func (c *Console) submit(ctx context.Context, text string) {
	res, err := c.sess.Submit(ctx, text)
	if err != nil {
		c.printError(err)
		return
	}

	if res.Status == session.StatusError {
		fmt.Fprintln(c.out, errorStyle.Render("host error: ")+res.Output)
		return
	}
	writeOutput(c.out, res.Output)
}

func (c *Console) printError(err error) {
	fmt.Fprintln(c.out, errorStyle.Render("error: ")+err.Error())

	var lost *session.SessionLostError
	if errors.As(err, &lost) {
		fmt.Fprintln(c.out, mutedStyle.Render("session is down, use .reconnect"))
	}
}

func (c *Console) printHelp() {
	tw := tablewriter.NewWriter(c.out)
	tw.SetHeader([]string{"Command", "Description"})
	tw.SetBorder(false)
	tw.SetAutoWrapText(false)
	tw.AppendBulk([][]string{
		{".status", "Show session state and counters"},
		{".history [n]", "Show the last n audited commands"},
		{".ping", "Measure round-trip time to the host"},
		{".reconnect", "Close and re-establish the session"},
		{".quit", "Leave the console"},
		{".help", "Show this help message"},
	})
	tw.Render()
	fmt.Fprintln(c.out, mutedStyle.Render("anything else is sent to the host as a command"))
}

func (c *Console) printStatus() {
	st := c.sess.Stats()

	connectedAt := "-"
	if !st.ConnectedAt.IsZero() {
		connectedAt = st.ConnectedAt.Format(time.RFC3339)
	}

	tw := tablewriter.NewWriter(c.out)
	tw.SetHeader([]string{"Field", "Value"})
	tw.SetAutoWrapText(false)
	tw.AppendBulk([][]string{
		{"Endpoint", c.sess.Endpoint().String()},
		{"Session", c.sess.ID()},
		{"State", st.State.String()},
		{"Connected at", connectedAt},
		{"Commands", strconv.FormatUint(st.Commands, 10)},
		{"Completed", strconv.FormatUint(st.Completed, 10)},
		{"Host errors", strconv.FormatUint(st.HostErrors, 10)},
		{"Timeouts", fmt.Sprintf("%d (%d consecutive)", st.Timeouts, st.ConsecutiveTimeouts)},
		{"Discarded", strconv.FormatUint(st.Discarded, 10)},
		{"Handshakes", strconv.FormatUint(st.Handshakes, 10)},
		{"Last RTT", st.LastRTT.String()},
	})
	tw.Render()
}

func (c *Console) printHistory(ctx context.Context, args []string) {
	if c.history == nil {
		fmt.Fprintln(c.out, warningStyle.Render("command history is disabled"))
		return
	}

	q := history.Query{Limit: 10}
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 1 {
			fmt.Fprintln(c.out, warningStyle.Render("usage: .history [count]"))
			return
		}
		q.Limit = n
	}

	records, err := c.history.Recent(ctx, q)
	if err != nil {
		log.Warn().Err(err).Msg("failed to read history")
		c.printError(err)
		return
	}

	RenderHistory(c.out, records)
}

// RenderHistory prints audit records as a table.
func RenderHistory(out io.Writer, records []history.Record) {
	if len(records) == 0 {
		fmt.Fprintln(out, mutedStyle.Render("no commands recorded"))
		return
	}

	tw := tablewriter.NewWriter(out)
	tw.SetHeader([]string{"Time", "Target", "Command", "Status", "Elapsed"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)

	for _, r := range records {
		target := r.Endpoint
		if r.Peer != "" {
			target = r.Peer
		}
		status := r.Status
		if r.ErrorKind != "" {
			status += " (" + r.ErrorKind + ")"
		}
		tw.Append([]string{
			r.Time.Local().Format("2006-01-02 15:04:05"),
			target,
			r.Command,
			status,
			r.Elapsed.Round(time.Millisecond).String(),
		})
	}

	tw.Render()
}

func (c *Console) ping(ctx context.Context) {
	rtt, err := c.sess.Ping(ctx)
	if err != nil {
		c.printError(err)
		return
	}
	fmt.Fprintln(c.out, successStyle.Render("pong")+" rtt="+rtt.Round(time.Microsecond).String())
}

func (c *Console) reconnect(ctx context.Context) {
	c.sess.Close()
	if err := c.sess.Connect(ctx); err != nil {
		c.printError(err)
		return
	}
	fmt.Fprintln(c.out, successStyle.Render("reconnected to "+c.sess.Endpoint().String()))
}
