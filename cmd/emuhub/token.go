package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tomyedwab/emuhub/api/middleware"
)

func newTokenCmd() *cobra.Command {
	var subject string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Print a bearer token for the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			secret, err := middleware.LoadSecret(a.cfg.SecretPath())
			if err != nil {
				return err
			}
			token, err := middleware.NewToken(secret, subject, a.cfg.Auth.TokenTTL.Duration)
			if err != nil {
				return fmt.Errorf("signing token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "cli", "subject claim of the token")
	return cmd
}
