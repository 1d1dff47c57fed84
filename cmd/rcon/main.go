// rcon is a remote-command client for hosts speaking the rcon datagram
// protocol. Given a command it runs it once and exits; without one it
// opens an interactive console. The serve subcommand exposes the same
// capability over HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/energizer-project/rcon/internal/cli"
	"github.com/energizer-project/rcon/internal/config"
	"github.com/energizer-project/rcon/internal/events"
	"github.com/energizer-project/rcon/internal/history"
	"github.com/energizer-project/rcon/internal/session"
	"github.com/energizer-project/rcon/internal/util"
)

const (
	AppName    = "rcon"
	AppVersion = "1.0.0"
)

// Global configuration instance
var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "rcon [flags] [command...]",
	Short: "Remote-command client for rcon hosts",
	Long: `rcon authenticates to a host with a shared secret and sends it commands.

With a command, it is run once and the host's answer is printed. Without one,
an interactive console starts. Use "--" before a host command that shares a
name with a subcommand, e.g. "rcon -- version".`,
	Args:              cobra.ArbitraryArgs,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: preRunConfigE,
	RunE:              runClient,
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "config file (default: rcon.{yaml,json,toml} in ., ./config, ~/.config/rcon)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")

	rootCmd.Flags().StringP("address", "a", "", "host address")
	rootCmd.Flags().IntP("port", "p", 0, "host rcon port")
	rootCmd.Flags().StringP("password", "P", "", "shared secret")
	rootCmd.Flags().Duration("timeout", 0, "response timeout per command")
	rootCmd.Flags().Int("retries", 0, "handshake attempts")

	rootCmd.AddCommand(serveCmd, hostCmd, historyCmd, versionCmd, configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error: "+err.Error())
		os.Exit(cli.ExitCode(err))
	}
}

// preRunConfigE loads configuration, applies flag overrides and sets up
// logging before any command runs.
func preRunConfigE(cmd *cobra.Command, _ []string) error {
	configFile, err := cmd.Flags().GetString("config")
	if err != nil {
		return &cli.UsageError{Err: fmt.Errorf("failed to get config flag: %w", err)}
	}

	cfg, err = config.Load(configFile)
	if err != nil {
		return &cli.UsageError{Err: fmt.Errorf("failed to load configuration: %w", err)}
	}

	applyClientFlags(cmd.Root())

	level := cfg.Logging.Level
	if cmd.Annotations["daemon"] == "true" {
		if lvl, err := zerolog.ParseLevel(level); err == nil && lvl > zerolog.InfoLevel {
			level = "info"
		}
	}
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		level = "debug"
	}

	if err := util.InitLogger(util.LogConfig{
		Level:      level,
		Directory:  cfg.Logging.Directory,
		MaxBackups: cfg.Logging.MaxBackups,
		Console:    true,
	}); err != nil {
		log.Warn().Err(err).Msg("failed to configure logger, using defaults")
	}

	validation := config.Validate(cfg)
	for _, w := range validation.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}
	if !validation.IsValid() {
		for _, e := range validation.Errors {
			log.Error().Str("field", e.Field).Msg(e.Message)
		}
		return &cli.UsageError{Err: fmt.Errorf("invalid configuration: %w", validation.Err())}
	}

	return nil
}

// applyClientFlags overrides configuration with explicitly set root flags.
func applyClientFlags(root *cobra.Command) {
	flags := root.Flags()
	if flags.Changed("address") {
		cfg.Target.Address, _ = flags.GetString("address")
	}
	if flags.Changed("port") {
		cfg.Target.Port, _ = flags.GetInt("port")
	}
	if flags.Changed("password") {
		cfg.Target.Password, _ = flags.GetString("password")
	}
	if flags.Changed("timeout") {
		cfg.Session.ResponseTimeout, _ = flags.GetDuration("timeout")
	}
	if flags.Changed("retries") {
		cfg.Session.HandshakeAttempts, _ = flags.GetInt("retries")
	}
}

func runClient(cmd *cobra.Command, args []string) error {
	target := config.ValidateTarget(cfg)
	if !target.IsValid() {
		return &cli.UsageError{Err: target.Err()}
	}

	password := cfg.Target.Password
	if password == "" && term.IsTerminal(int(os.Stdin.Fd())) {
		pw, err := cli.ReadPassword(os.Stdin, os.Stderr, "Password: ")
		if err != nil {
			return &cli.UsageError{Err: err}
		}
		password = pw
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt := newClientRuntime()
	defer rt.Close()

	opts := []session.Option{
		session.WithOptions(cfg.Session.Options()),
		session.WithNotifier(rt.bus),
	}
	ep := cfg.TargetEndpoint()

	if len(args) > 0 {
		return cli.RunOnce(ctx, ep, []byte(password), strings.Join(args, " "), cmd.OutOrStdout(), opts...)
	}

	sess := session.New(ep, []byte(password), opts...)
	return cli.NewConsole(sess, rt.store, cmd.InOrStdin(), cmd.OutOrStdout()).Run(ctx)
}

// clientRuntime is the event bus and optional audit log behind one client
// run.
type clientRuntime struct {
	bus   *events.EventBus
	store *history.Store
}

func newClientRuntime() *clientRuntime {
	bus := events.NewEventBus()
	return &clientRuntime{bus: bus, store: openHistory(bus)}
}

// Close stops the bus before closing the store so pending audit writes
// land.
func (r *clientRuntime) Close() {
	r.bus.Stop()
	if r.store != nil {
		r.store.Close()
	}
}

// openHistory opens the audit log and attaches it to the bus. Failures are
// logged; the client works without history.
func openHistory(eventBus *events.EventBus) *history.Store {
	if !cfg.History.Enabled {
		return nil
	}

	store, err := history.Open(cfg.History.Path)
	if err != nil {
		log.Warn().Err(err).Str("path", cfg.History.Path).Msg("command history unavailable")
		return nil
	}
	store.Attach(eventBus)
	return store
}

// startWithRetry retries startFn, for listeners whose port may still be
// held by a previous process.
func startWithRetry(ctx context.Context, name string, startFn func(context.Context) error, maxRetries int, delay time.Duration) error {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if ctx.Err() != nil {
			return nil
		}
		lastErr = startFn(ctx)
		if lastErr == nil || errors.Is(lastErr, context.Canceled) {
			return nil
		}
		if i < maxRetries {
			log.Warn().Err(lastErr).Str("component", name).Int("retry", i+1).Int("max", maxRetries).Msg("bind failed, retrying")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(delay):
			}
		}
	}
	return lastErr
}
