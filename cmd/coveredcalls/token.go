package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gregtusar/coveredcalls/api"
)

func newTokenCmd() *cobra.Command {
	var role string

	cmd := &cobra.Command{
		Use:   "token SUBJECT",
		Short: "Issue a bearer token for the order endpoints",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			auth := api.NewAuth(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
			if !auth.Enabled() {
				return errors.New("auth.jwt_secret is not set")
			}

			token, err := auth.GenerateToken(args[0], role)
			if err != nil {
				return err
			}
			if jsonMode {
				return printJSON(cmd.OutOrStdout(), map[string]string{"token": token})
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&role, "role", "trader", "role claim")
	return cmd
}
