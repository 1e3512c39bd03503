package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/mickaelvieira/dpop-oidc-client-go/internal/status"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newServeCommand())
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Poll the authorization state and serve the status page",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd)
			if err != nil {
				return err
			}

			if a.cfg.Server.SessionSecret == "" {
				return fmt.Errorf("server.session_secret is required, set DPOP_CLIENT_SESSION_SECRET")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cell := &status.Cell{}
			poller := status.NewPoller(a.manager, cell, a.cfg.Server.CheckInterval, a.logger)

			h := status.New(status.NewCookieStore([]byte(a.cfg.Server.SessionSecret)), cell, poller, a.manager, a.key)

			server := &http.Server{
				Handler:      status.NewRouter(h),
				Addr:         fmt.Sprintf("%s:%d", a.cfg.Server.Host, a.cfg.Server.Port),
				WriteTimeout: 60 * time.Second,
				ReadTimeout:  60 * time.Second,
			}

			go poller.Start(ctx)

			errs := make(chan error, 1)
			go func() {
				a.logger.Info(fmt.Sprintf("Server listening on %s", server.Addr))
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					errs <- err
				}
			}()

			select {
			case err := <-errs:
				return err
			case <-ctx.Done():
			}

			shutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			if err := server.Shutdown(shutdown); err != nil {
				a.logger.Error("an error occurred while shutting down the server", "error", err)
			}

			a.logger.Info("server was successfully shutdown")
			return nil
		},
	}
}
