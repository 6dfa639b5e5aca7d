// Command wellenbrecher runs the pixelflut canvas server: it parses
// configuration, opens or creates the shared canvas region, and serves
// client connections across one worker shard per configured thread
// until it receives a shutdown signal.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bits0rcerer/wellenbrecher/internal/canvas"
	"github.com/bits0rcerer/wellenbrecher/internal/config"
	"github.com/bits0rcerer/wellenbrecher/internal/logging"
	"github.com/bits0rcerer/wellenbrecher/internal/supervisor"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "wellenbrecher",
		Short:         "A high-throughput pixelflut canvas server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd)
		},
	}
	config.RegisterFlags(cmd.Flags())
	return cmd
}

func run(cmd *cobra.Command) error {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return fmt.Errorf("wellenbrecher: %w", err)
	}

	log := logging.New(cfg.LogLevel, cfg.LogFormat)

	if cfg.RemoveCanvas {
		if err := canvas.Unlink(cfg.CanvasFileLink); err != nil {
			return fmt.Errorf("wellenbrecher: %w", err)
		}
		log.Info("removed canvas region at " + cfg.CanvasFileLink)
		return nil
	}

	sup, err := supervisor.New(cfg, log)
	if err != nil {
		return fmt.Errorf("wellenbrecher: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return sup.Run(ctx)
}
