// Command rwsim-server hosts the random-walk simulation engine behind a
// Unix domain socket, accepting one session per client connection.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"rwsim/internal/config"
	"rwsim/internal/metrics"
	"rwsim/internal/server"
	"rwsim/internal/walkpool"
	"rwsim/internal/world"
)

func createRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "rwsim-server",
		Short: "Random-walk Monte Carlo simulation server",
		Long:  "rwsim-server runs the random-walk simulation engine and serves client sessions over a Unix domain socket.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServer(cmd)
		},
	}

	config.RegisterFlags(rootCmd.Flags())

	return rootCmd
}

func main() {
	if err := createRootCmd().Execute(); err != nil {
		log.Fatal(err)
	}
}

func worldKindFromString(s string) (world.Kind, error) {
	switch s {
	case "wrap":
		return world.Wrap, nil
	case "obstacles":
		return world.Obstacles, nil
	default:
		return 0, fmt.Errorf("unknown world kind %q (want wrap or obstacles)", s)
	}
}

// obstacleDensityPercent and obstacleSeed mirror the fixed defaults the
// server's own CREATE_SIM handler uses when a client asks for an
// obstacles world without supplying a mask.
const (
	obstacleDensityPercent = 10
	obstacleSeed           = 12345
)

func buildInitialConfig(cfg config.Config) (server.Config, *world.World, error) {
	kind, err := worldKindFromString(cfg.WorldKind)
	if err != nil {
		return server.Config{}, nil, err
	}

	size := world.Size{Width: cfg.WorldWidth, Height: cfg.WorldHeight}

	w, err := world.New(kind, size)
	if err != nil {
		return server.Config{}, nil, fmt.Errorf("world init: %w", err)
	}

	if kind == world.Obstacles {
		w.GenerateObstacles(obstacleDensityPercent, obstacleSeed)
	}

	return server.Config{
		Kind: kind,
		Size: size,
		Probs: walkpool.Probs{
			Up:    cfg.ProbUp,
			Down:  cfg.ProbDown,
			Left:  cfg.ProbLeft,
			Right: cfg.ProbRight,
		},
		KMaxSteps: cfg.KMaxSteps,
		TotalReps: cfg.TotalReps,
	}, w, nil
}

func runServer(cmd *cobra.Command) error {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := slog.New(slog.NewTextHandler(os.Stderr, nil))

	srvCfg, w, err := buildInitialConfig(cfg)
	if err != nil {
		return fmt.Errorf("build initial config: %w", err)
	}

	var sessionMetrics server.SessionMetrics
	var metricsSrv *metrics.Server
	if cfg.MetricsAddr != "" {
		reg := metrics.New(prometheus.DefaultRegisterer)
		sessionMetrics = reg
		metricsSrv = metrics.NewServer(cfg.MetricsAddr)
	}

	srv := server.NewServer(log, sessionMetrics)
	srv.Ctx.SetConfig(srvCfg, w, world.NewResults(srvCfg.Size))
	srv.Ctx.SetMultiUser(cfg.MultiUser)
	srv.SetWorkerPoolSize(cfg.Workers, cfg.QueueCapacity)

	ln, err := server.Listen(cfg.SocketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.SocketPath, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("listening", "socket", cfg.SocketPath, "workers", cfg.Workers)
		return srv.Serve(gctx, ln)
	})

	if metricsSrv != nil {
		g.Go(func() error {
			log.Info("serving metrics", "addr", cfg.MetricsAddr)
			return metricsSrv.Serve()
		})

		g.Go(func() error {
			<-gctx.Done()
			return metricsSrv.Shutdown(context.Background())
		})
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("rwsim-server: %w", err)
	}

	return nil
}
