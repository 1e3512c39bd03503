package cmd

import (
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newLoginCommand(), newLogoutCommand())
}

func newLoginCommand() *cobra.Command {
	var force bool

	loginCmd := &cobra.Command{
		Use:   "login",
		Short: "Establish a session from the stored refresh token or an interactive login",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd)
			if err != nil {
				return err
			}

			if force {
				if err := a.manager.Logout(cmd.Context()); err != nil {
					return err
				}
			}

			s, err := a.manager.Bootstrap(cmd.Context())
			if err != nil {
				return err
			}

			cmd.Printf("Session established (token type %s, expires %s)\n", s.TokenType, s.Expiry.Format("15:04:05"))
			return nil
		},
	}

	loginCmd.Flags().BoolVar(&force, "force", false, "Discard the stored refresh token and log in interactively.")

	return loginCmd
}

func newLogoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Delete the stored refresh token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd)
			if err != nil {
				return err
			}

			if err := a.manager.Logout(cmd.Context()); err != nil {
				return err
			}

			cmd.Println("Logged out.")
			return nil
		},
	}
}
