package main

import (
	"github.com/spf13/cobra"

	"fluxhook/internal/config"
)

type globalFlags struct {
	configPath string
	envFile    string
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:   "fluxhook",
		Short: "Relay Miniflux new-entry webhooks to Discord",
		Long: `fluxhook receives signed Miniflux webhooks, enriches new entries with feed
metadata and icons, and posts them to a Discord webhook in batches of up to
ten embeds.

Settings come from an optional JSON/YAML file (--config) overridden by
environment variables; a .env file is loaded first when present.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// An explicitly given env file must exist; the default is optional.
			return config.LoadEnvFile(g.envFile, cmd.Flags().Changed("env-file"))
		},
	}
	root.PersistentFlags().StringVarP(&g.configPath, "config", "c", "", "path to a JSON or YAML config file (hot reloaded)")
	root.PersistentFlags().StringVar(&g.envFile, "env-file", ".env", "dotenv file loaded before reading the environment")

	serve := newServeCmd(g)
	root.AddCommand(serve, newSignCmd(), newCheckCmd(g))
	// Running the bare binary serves.
	root.RunE = serve.RunE
	root.Flags().AddFlagSet(serve.Flags())
	return root
}
