package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/energizer-project/rcon/internal/cli"
	"github.com/energizer-project/rcon/internal/host"
	"github.com/energizer-project/rcon/internal/protocol"
)

var hostCmd = &cobra.Command{
	Use:   "host",
	Short: "Run a loopback rcon host with a small built-in command set",
	Long: `host answers the rcon protocol with the built-in commands status, echo,
version, uptime and help. It is meant for smoke tests of clients and the
gateway.`,
	Args:        cobra.NoArgs,
	Annotations: map[string]string{"daemon": "true"},
	RunE:        runHost,
}

func init() {
	hostCmd.Flags().String("listen", fmt.Sprintf("127.0.0.1:%d", protocol.DefaultPort), "UDP listen address")
	hostCmd.Flags().String("secret", "", "shared secret (default: target.password)")
}

func runHost(cmd *cobra.Command, _ []string) error {
	listen, _ := cmd.Flags().GetString("listen")
	secret, _ := cmd.Flags().GetString("secret")
	if secret == "" {
		secret = cfg.Target.Password
	}
	if secret == "" {
		return &cli.UsageError{Err: fmt.Errorf("a secret is required: use --secret or target.password")}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	h := host.New([]byte(secret), host.NewCommandSet(AppVersion).Handle)
	go func() {
		<-ctx.Done()
		h.Close()
	}()

	return h.ListenAndServe(ctx, listen)
}
