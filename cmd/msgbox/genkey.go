package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"msgbox/internal/security"
)

var genkeyCmd = &cobra.Command{
	Use:   "genkey",
	Short: "Generate a random webhook secret",
	Long:  `Print a new 64-character hex secret suitable for WEBHOOK_SECRET.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		secret, err := security.GenerateSecret()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), secret)
		return nil
	},
}
