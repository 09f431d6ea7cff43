package main

import (
	"log/slog"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/chriscow/turnkit/internal/bridge"
	"github.com/chriscow/turnkit/pkg/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the engine over websockets",
	Long: `Run the engine behind a websocket bridge. Clients connect to /ws and send
user_turn, asr, interrupt and playback events; every client receives the
engine's update, turn and state frames. /healthz, /state, /metrics and
/debug/vars are served alongside.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := slog.Default()
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
			cfg.Server.Addr = addr
		}

		eng, err := buildEngine(cfg, logger)
		if err != nil {
			return err
		}
		defer eng.Close()
		eng.orch.Metrics().Publish("turnkit")

		srv, err := bridge.New(bridge.Config{
			Engine:          eng.orch,
			Segmenter:       eng.gate,
			Observer:        eng.metrics,
			EventsPerSecond: cfg.Server.EventsPerSecond,
			EventBurst:      cfg.Server.EventBurst,
			Logger:          logger,
		})
		if err != nil {
			return err
		}

		logger.Info("Starting turnkit",
			slog.String("version", version.Version),
			slog.String("commit", version.GitCommit),
			slog.String("addr", cfg.Server.Addr))

		ctx, cancel := signalContext()
		defer cancel()

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return eng.orch.Run(gctx) })
		g.Go(func() error { return srv.Pump(gctx, eng.orch.Updates(), eng.orch.Results()) })
		g.Go(func() error { return srv.Serve(gctx, cfg.Server.Addr) })

		err = ignoreCanceled(g.Wait())
		logger.Info("turnkit stopped")
		return err
	},
}

func init() {
	serveCmd.Flags().String("addr", "", "Listen address (overrides server.addr)")
}
