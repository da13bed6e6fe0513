// cmd/enfd/run.go
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"accessorycard-go/bus"
	"accessorycard-go/services/accessory"
	"accessorycard-go/services/config"

	"github.com/spf13/cobra"
)

func newRunCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Attach accessory cards and serve until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}
			logger := newLogger(cmd.ErrOrStderr(), cfg)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			b := bus.NewBus(cfg.BusQueueLen)
			if err := config.NewConfigService(cfg).Start(ctx, b.NewConnection("config")); err != nil {
				return err
			}
			svc, err := accessory.New(b.NewConnection("accessory"), cfg, accessory.Options{Logger: logger})
			if err != nil {
				logger.Error("startup failed", "err", err)
				return err
			}
			defer svc.Close()

			logger.Info("starting", "version", Version, "board", cfg.Board, "platform", cfg.Platform, "slots", len(cfg.Slots))
			if err := svc.Run(ctx); err != nil {
				logger.Error("stopped", "err", err)
				return err
			}
			logger.Info("stopped")
			return nil
		},
	}
}

// withService runs the accessory service in the background for the duration
// of fn, which talks to it over conn once it has attached.
func withService(cmd *cobra.Command, g *globals, fn func(ctx context.Context, conn *bus.Connection) error) error {
	cfg, err := g.load()
	if err != nil {
		return err
	}
	logger := newLogger(cmd.ErrOrStderr(), cfg)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	b := bus.NewBus(cfg.BusQueueLen)
	client := b.NewConnection("cli")
	svc, err := accessory.New(b.NewConnection("accessory"), cfg, accessory.Options{Logger: logger})
	if err != nil {
		return err
	}
	defer svc.Close()

	stateSub := client.Subscribe(accessory.StateTopic())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	if err := waitReady(ctx, stateSub, done); err != nil {
		return err
	}
	client.Unsubscribe(stateSub)

	ferr := fn(ctx, client)
	cancel()
	if err := <-done; err != nil && ferr == nil {
		ferr = err
	}
	return ferr
}
