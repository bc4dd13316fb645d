package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"fluxhook/internal/config"
)

// newCheckCmd validates the configuration without starting anything.
func newCheckCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the configuration and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.NewManager(g.configPath).Load()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "listen:     %s:%d\n", cfg.Server.Host, cfg.Server.Port)
			fmt.Fprintf(out, "miniflux:   %s\n", cfg.Miniflux.BaseURL)
			fmt.Fprintf(out, "link mode:  %s\n", orDefault(cfg.Notification.LinkMode, "unread"))
			fmt.Fprintf(out, "interval:   %s (strict=%t)\n", orDefault(cfg.Delivery.MinInterval, "0s"), cfg.Delivery.Strict)
			fmt.Fprintln(out, "configuration ok")
			return nil
		},
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
