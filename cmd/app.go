package cmd

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/pairpad/pairpad/config"
	"github.com/pairpad/pairpad/executor"
	"github.com/pairpad/pairpad/metric"
	"github.com/pairpad/pairpad/relay"
	httpServer "github.com/pairpad/pairpad/server/http"
	websocketServer "github.com/pairpad/pairpad/server/websocket"
	"github.com/pairpad/pairpad/service"
	store "github.com/pairpad/pairpad/storage/memory"
)

func runApp(cmd *cobra.Command) {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.New()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to parse configuration")
	}
	applyFlagOverrides(cmd, cfg)

	lvl, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to parse loglevel")
	}
	logger = logger.Level(lvl)

	var runner executor.Runner = executor.NopRunner{}
	if cfg.ExecutorURL != "" {
		runner = executor.NewHTTPRunner(cfg.ExecutorURL, cfg.ExecutorTimeout, &logger)
	}

	svc := service.New(service.Config{
		Store: store.NewStore(store.Config{
			RoomTTL:         cfg.RoomTTL,
			MaxParticipants: cfg.MaxParticipants,
		}),
		Presence:   store.NewPresenceTracker(),
		Relay:      relay.New(&logger),
		Runner:     runner,
		Logger:     &logger,
		WireBuffer: cfg.WireBuffer,
	})

	apiSrv := httpServer.NewServer(httpServer.Config{
		Logger:       &logger,
		Service:      svc,
		WebsocketURL: websocketURL(cfg.WSListenAddr),
		ListenAddr:   cfg.APIListenAddr,
	})
	wsSrv := websocketServer.NewServer(websocketServer.Config{
		Logger:     &logger,
		Service:    svc,
		ListenAddr: cfg.WSListenAddr,
	})
	metricsSrv := metric.NewServer()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go svc.RunJanitor(ctx, cfg.JanitorInterval)

	var (
		wg   = &sync.WaitGroup{}
		errc = make(chan error, 3)
	)
	wg.Add(2)
	go apiSrv.Run(ctx, wg, errc)
	go wsSrv.Run(ctx, wg, errc)
	go func() {
		errc <- metricsSrv.Start(cfg.MetricsListenAddr)
	}()

	select {
	case err = <-errc:
		logger.Error().Err(err).Msg("unexpected server error, shutting down")
	case <-ctx.Done():
		logger.Warn().Msg("interrupted")
	}
	cancel()
	_ = metricsSrv.Close()
	wg.Wait()
}

func applyFlagOverrides(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("api-listen-addr") {
		cfg.APIListenAddr, _ = cmd.Flags().GetString("api-listen-addr")
	}
	if cmd.Flags().Changed("ws-listen-addr") {
		cfg.WSListenAddr, _ = cmd.Flags().GetString("ws-listen-addr")
	}
	if cmd.Flags().Changed("metrics-listen-addr") {
		cfg.MetricsListenAddr, _ = cmd.Flags().GetString("metrics-listen-addr")
	}
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel, _ = cmd.Flags().GetString("log-level")
	}
}

// websocketURL derives the externally advertised room websocket base from
// the listen address. Deployments behind a proxy override it via
// WS_LISTEN_ADDR anyway; this covers the local case.
func websocketURL(listenAddr string) string {
	host := listenAddr
	if strings.HasPrefix(host, ":") {
		host = "localhost" + host
	}
	return "ws://" + host + "/ws/rooms"
}
