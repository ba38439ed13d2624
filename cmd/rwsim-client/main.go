// Command rwsim-client is an interactive REPL for driving an rwsim-server
// session over its Unix domain socket.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"rwsim/internal/client"
	"rwsim/internal/protocol"
)

type cliConfig struct {
	socketPath string
	pid        uint32
}

func createRootCmd() *cobra.Command {
	cfg := &cliConfig{socketPath: "/tmp/rwsim.sock"}

	rootCmd := &cobra.Command{
		Use:   "rwsim-client",
		Short: "Interactive REPL for an rwsim-server session",
		Long:  "rwsim-client connects to an rwsim-server Unix domain socket and drives it with a line-oriented command REPL.",
		RunE: func(_ *cobra.Command, _ []string) error {
			return run(cfg)
		},
	}

	rootCmd.Flags().StringVarP(&cfg.socketPath, "socket", "s", cfg.socketPath, "Unix domain socket path")
	rootCmd.Flags().Uint32Var(&cfg.pid, "pid", uint32(os.Getpid()), "process id reported in JOIN")

	return rootCmd
}

func main() {
	if err := createRootCmd().Execute(); err != nil {
		log.Fatal(err)
	}
}

func run(cfg *cliConfig) error {
	sessionID := uuid.NewString()
	log := slog.New(slog.NewTextHandler(os.Stderr, nil)).With("session", sessionID)

	events := make(chan client.Event, 64)

	c, welcome, err := client.Dial(cfg.socketPath, cfg.pid, log, events)
	if err != nil {
		return fmt.Errorf("dial %s: %w", cfg.socketPath, err)
	}
	defer c.Close()

	fmt.Printf("connected: mode=%v world=%dx%d reps=%d/%d\n",
		welcome.Mode, welcome.Size.Width, welcome.Size.Height,
		welcome.CurrentRep, welcome.TotalReps)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var g errgroup.Group
	g.Go(func() error {
		return watchEvents(ctx, events)
	})
	g.Go(func() error {
		defer stop()
		return client.RunREPL(c, os.Stdin, os.Stdout)
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("rwsim-client: %w", err)
	}

	return nil
}

func watchEvents(ctx context.Context, events <-chan client.Event) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			printEvent(ev)
		}
	}
}

func printEvent(ev client.Event) {
	switch ev.Type {
	case protocol.MsgProgress:
		fmt.Printf("[progress] rep %d/%d\n", ev.Progress.CurrentRep, ev.Progress.TotalReps)
	case protocol.MsgEnd:
		fmt.Printf("[end] reason=%d\n", ev.End.Reason)
	case protocol.MsgGlobalModeChanged:
		fmt.Printf("[mode] now %v\n", ev.ModeChanged.NewMode)
	case protocol.MsgSnapshotEnd:
		fmt.Println(client.RenderSummary(*ev.Snapshot))
	}
}
