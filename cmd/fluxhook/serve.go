package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"fluxhook/internal/app"
	"fluxhook/internal/config"
)

func newServeCmd(g *globalFlags) *cobra.Command {
	var drainTimeout time.Duration
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook receiver",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := app.New(config.NewManager(g.configPath))
			if err != nil {
				return err
			}
			if err := a.Start(ctx); err != nil {
				return fmt.Errorf("start: %w", err)
			}

			select {
			case <-ctx.Done():
			case <-a.Done():
			}

			stopCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
			defer cancel()
			stopErr := a.Stop(stopCtx)
			if err := a.Err(); err != nil {
				return err
			}
			return stopErr
		},
	}
	cmd.Flags().DurationVar(&drainTimeout, "drain-timeout", 30*time.Second, "how long to keep delivering queued batches on shutdown")
	return cmd
}
