package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"msgbox/internal/config"
	"msgbox/internal/security"
)

var signSecret string

var signCmd = &cobra.Command{
	Use:   "sign [file]",
	Short: "Compute the X-Signature header for a webhook body",
	Long: `Print the hex HMAC-SHA256 signature of a request body.

The body is read from file, or from stdin when no file (or "-") is given.
The bytes are signed exactly as read, including any trailing newline.
The secret comes from --secret, or from the same sources 'serve' uses.`,
	Example: `  msgbox sign payload.json
  printf '%s' '{"message_id":"m1",...}' | msgbox sign --secret "$WEBHOOK_SECRET"`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSign,
}

func init() {
	signCmd.Flags().StringVar(&signSecret, "secret", "", "Webhook secret (default: WEBHOOK_SECRET)")
}

func runSign(cmd *cobra.Command, args []string) error {
	secret := signSecret
	if secret == "" {
		cfg, err := config.Load(config.FindConfigFile())
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		secret = cfg.WebhookSecret
	}
	if secret == "" {
		return config.ErrMissingSecret
	}

	var body []byte
	var err error
	if len(args) == 1 && args[0] != "-" {
		body, err = os.ReadFile(args[0])
	} else {
		body, err = io.ReadAll(cmd.InOrStdin())
	}
	if err != nil {
		return fmt.Errorf("failed to read body: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), security.Sign(body, secret))
	return nil
}
