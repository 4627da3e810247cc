package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Sternrassler/dataaccess/pkg/credential"
	"github.com/Sternrassler/dataaccess/pkg/logging"
	"github.com/spf13/cobra"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve records, the OAuth flow and on-demand syncs over HTTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := opts.cfg
			if addr != "" {
				cfg.Server.Addr = addr
			}
			logger := logging.NewLogger("server")

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, true)
			if err != nil {
				return err
			}
			defer func() {
				closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := a.Close(closeCtx); err != nil {
					logger.Error().Err(err).Msg("Shutdown incomplete")
				}
			}()

			srv := &server{
				records:    a.records,
				sync:       a.syncer,
				auth:       a.tokens,
				cookies:    credential.CookieConfig{Prefix: "da_", Domain: cfg.Server.CookieDomain, Secure: cfg.Server.SecureCookies},
				collection: a.collectionURL,
				ready: map[string]func(context.Context) error{
					"database": a.backend.Ping,
					"redis":    func(ctx context.Context) error { return a.redis.Ping(ctx).Err() },
				},
				timeout: 30 * time.Second,
				logger:  logger,
			}

			httpServer := &http.Server{
				Addr:              cfg.Server.Addr,
				Handler:           srv.routes(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				logger.Info().Str("addr", cfg.Server.Addr).Str("environment", cfg.Environment).Msg("Starting server")
				errCh <- httpServer.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			case <-ctx.Done():
			}

			logger.Info().Msg("Shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			return httpServer.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}
