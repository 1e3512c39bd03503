package cmd

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newCallCommand())
}

func newCallCommand() *cobra.Command {
	var (
		method string
		data   string
	)

	callCmd := &cobra.Command{
		Use:   "call [url]",
		Short: "Call a protected API with the DPoP-bound access token",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd)
			if err != nil {
				return err
			}

			target := a.cfg.Provider.APIURL
			if len(args) == 1 {
				target = args[0]
			}
			if target == "" {
				return fmt.Errorf("no URL given and provider.api_url is not set")
			}

			if _, err := a.manager.Bootstrap(cmd.Context()); err != nil {
				return err
			}

			var body io.Reader
			if data != "" {
				body = strings.NewReader(data)
			}

			req, err := http.NewRequestWithContext(cmd.Context(), strings.ToUpper(method), target, body)
			if err != nil {
				return err
			}
			if data != "" {
				req.Header.Set("Content-Type", "application/json")
			}

			res, err := a.api.Client().Do(req)
			if err != nil {
				return err
			}
			defer res.Body.Close()

			cmd.PrintErrf("%s %s\n", res.Proto, res.Status)

			if _, err := io.Copy(cmd.OutOrStdout(), res.Body); err != nil {
				return err
			}

			if res.StatusCode >= http.StatusBadRequest {
				return fmt.Errorf("request failed with status %d", res.StatusCode)
			}
			return nil
		},
	}

	callCmd.Flags().StringVarP(&method, "request", "X", http.MethodGet, "HTTP method.")
	callCmd.Flags().StringVarP(&data, "data", "d", "", "JSON request body.")

	return callCmd
}
