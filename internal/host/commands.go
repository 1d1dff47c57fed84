package host

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/energizer-project/rcon/internal/util"
)

type commandFunc func(args []string) (string, error)

// CommandSet is a small table of built-in commands for smoke-testing a
// client against the loopback host.
type CommandSet struct {
	version  string
	started  time.Time
	commands map[string]commandFunc
}

// NewCommandSet returns the built-in commands: status, echo, version,
// uptime and help.
func NewCommandSet(version string) *CommandSet {
	c := &CommandSet{
		version: version,
		started: time.Now(),
	}
	c.commands = map[string]commandFunc{
		"status":  c.status,
		"echo":    c.echo,
		"version": c.versionCmd,
		"uptime":  c.uptime,
		"help":    c.help,
	}
	return c
}

// Handle implements Handler.
func (c *CommandSet) Handle(ctx context.Context, command string) (string, error) {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return "", fmt.Errorf("empty command")
	}

	fn, ok := c.commands[strings.ToLower(fields[0])]
	if !ok {
		return "", fmt.Errorf("unknown command %q", fields[0])
	}
	return fn(fields[1:])
}

func (c *CommandSet) status(args []string) (string, error) {
	info := util.GetSystemInfo()

	var b strings.Builder
	fmt.Fprintf(&b, "host: %s\n", info.Hostname)
	fmt.Fprintf(&b, "os: %s (%s/%s)\n", info.OS, info.Platform, info.Architecture)
	fmt.Fprintf(&b, "cpu: %s, %d cores\n", info.CPUModel, info.CPUCores)
	if usage, err := util.GetMemoryUsage(); err == nil {
		fmt.Fprintf(&b, "memory: %s\n", usage)
	} else {
		fmt.Fprintf(&b, "memory: %d MB\n", info.TotalMemory)
	}
	fmt.Fprintf(&b, "uptime: %s", time.Since(c.started).Truncate(time.Second))
	return b.String(), nil
}

func (c *CommandSet) echo(args []string) (string, error) {
	return strings.Join(args, " "), nil
}

func (c *CommandSet) versionCmd(args []string) (string, error) {
	return c.version, nil
}

func (c *CommandSet) uptime(args []string) (string, error) {
	return time.Since(c.started).Truncate(time.Second).String(), nil
}

func (c *CommandSet) help(args []string) (string, error) {
	names := make([]string, 0, len(c.commands))
	for name := range c.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, " "), nil
}
