package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/energizer-project/rcon/internal/api"
	"github.com/energizer-project/rcon/internal/events"
	"github.com/energizer-project/rcon/internal/health"
	"github.com/energizer-project/rcon/internal/scheduler"
	"github.com/energizer-project/rcon/internal/telemetry"
	"github.com/energizer-project/rcon/internal/util"
)

var serveCmd = &cobra.Command{
	Use:         "serve",
	Short:       "Run the HTTP remote-command gateway",
	Args:        cobra.NoArgs,
	Annotations: map[string]string{"daemon": "true"},
	RunE:        runServe,
}

func init() {
	serveCmd.Flags().String("listen", "", "gateway listen address (overrides api.listen)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
		cfg.API.Listen = listen
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sysInfo := util.GetSystemInfo()
	log.Info().
		Str("version", AppVersion).
		Str("hostname", sysInfo.Hostname).
		Str("os", sysInfo.OS).
		Int("cores", sysInfo.CPUCores).
		Uint64("memory_mb", sysInfo.TotalMemory).
		Msg("starting rcon gateway")

	rt := newClientRuntime()
	defer rt.Close()
	eventBus, store := rt.bus, rt.store

	apiServer := api.NewServer(cfg, eventBus, store, AppVersion)
	healthMgr := health.NewManager(cfg, eventBus)
	apiServer.SetDependencies(healthMgr)

	var mqttHandler *telemetry.MQTTHandler
	if cfg.MQTT.Enabled {
		var err error
		mqttHandler, err = telemetry.NewMQTTHandler(cfg.MQTT, eventBus, AppVersion)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize MQTT, telemetry disabled")
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return startWithRetry(gctx, "gateway", apiServer.Start, 5, 3*time.Second)
	})

	g.Go(func() error {
		healthMgr.Start(gctx)
		return nil
	})

	if store != nil {
		sched := scheduler.NewScheduler(cfg.History, store)
		g.Go(func() error {
			sched.Start(gctx)
			return nil
		})
	}

	// Telemetry failures are not fatal to the gateway.
	if mqttHandler != nil {
		g.Go(func() error {
			if err := mqttHandler.Start(gctx); err != nil {
				log.Warn().Err(err).Msg("MQTT telemetry failed")
			}
			return nil
		})
	}

	err := g.Wait()

	eventBus.Emit(context.Background(), events.Event{
		Type:   events.EventShutdown,
		Source: "serve",
	})

	if err != nil {
		log.Error().Err(err).Msg("gateway stopped with error")
		return err
	}
	log.Info().Msg("rcon gateway stopped")
	return nil
}
