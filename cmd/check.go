package cmd

import (
	"errors"
	"io"

	"github.com/fatih/color"
	derrors "github.com/mickaelvieira/dpop-oidc-client-go/internal/errors"
	"github.com/spf13/cobra"
)

var errUnauthorized = errors.New("user is not authorized")

func init() {
	rootCmd.AddCommand(newCheckCommand())
}

func printIndicator(w io.Writer, authorized bool) {
	if authorized {
		color.New(color.FgGreen, color.Bold).Fprintln(w, "Authorized")
		return
	}
	color.New(color.FgRed, color.Bold).Fprintln(w, "Unauthorized")
}

func newCheckCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Refresh the session and check the verified claim",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd)
			if err != nil {
				return err
			}

			ok, err := a.manager.CheckAuthorized(cmd.Context())
			printIndicator(cmd.OutOrStdout(), ok && err == nil)

			if err != nil {
				if code, found := derrors.CodeOf(err); found {
					cmd.PrintErrf("%s: %v\n", code, err)
				}
				return err
			}

			if !ok {
				return errUnauthorized
			}
			return nil
		},
	}
}
