package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"fluxhook/internal/config"
	"fluxhook/internal/signature"
)

// newSignCmd prints the X-Miniflux-Signature value for a body, which is
// handy for replaying payloads with curl.
func newSignCmd() *cobra.Command {
	var secret string
	cmd := &cobra.Command{
		Use:   "sign [file]",
		Short: "Compute the webhook signature of a request body",
		Long: `Compute the hex HMAC-SHA256 that Miniflux sends in X-Miniflux-Signature.

The body is read from the given file, or from stdin when no file is given.
The secret defaults to $MINIFLUX_WEBHOOK_SECRET.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				secret = os.Getenv(config.EnvMinifluxWebhookSecret)
			}
			if secret == "" {
				return errors.New("no secret: pass --secret or set " + config.EnvMinifluxWebhookSecret)
			}

			var (
				body []byte
				err  error
			)
			if len(args) == 1 {
				body, err = os.ReadFile(args[0])
			} else {
				body, err = io.ReadAll(cmd.InOrStdin())
			}
			if err != nil {
				return fmt.Errorf("read body: %w", err)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), signature.Sign([]byte(secret), body))
			return err
		},
	}
	cmd.Flags().StringVar(&secret, "secret", "", "webhook secret")
	return cmd
}
