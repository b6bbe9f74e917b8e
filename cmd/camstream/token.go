package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"camstream/internal/core/domain"
	"camstream/internal/core/services"
	"camstream/pkg/validation"
)

func newTokenCommand(a *app) *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "token <session-code>",
		Short: "Issue a signaling bearer token for one session and role",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validation.ValidateSessionCode(args[0]); err != nil {
				return err
			}
			r := domain.Role(role)
			if !r.Valid() {
				return fmt.Errorf("role must be %q or %q", domain.RoleBroadcaster, domain.RoleViewer)
			}

			auth := services.NewAuthService(a.cfg.Auth.JWTSecret, a.cfg.Auth.TokenTTL)
			token, err := auth.GenerateToken(domain.SessionCode(args[0]), r)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&role, "role", string(domain.RoleBroadcaster), "broadcaster or viewer")
	return cmd
}
