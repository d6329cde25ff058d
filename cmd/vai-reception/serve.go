package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/vango-go/vai-reception/pkg/gateway/config"
)

// cancelGrace is how long cancelled calls get to write their final records.
const cancelGrace = 5 * time.Second

func newServeCmd(deps cliDeps) *cobra.Command {
	var seedPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook and media-stream server",
		Long: `Run the HTTP server that answers the carrier's voice webhook and
hosts the media-stream websocket.

Without RECEPTION_DATABASE_URL the server uses an in-memory store, which
--seed can preload from a JSON file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := deps.loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := cfg.ValidateServe(); err != nil {
				return fmt.Errorf("config: %w", err)
			}
			logger := newLogger(deps.stderr, cfg)
			slog.SetDefault(logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := deps.build(ctx, cfg, logger, buildOptions{SeedPath: seedPath})
			if err != nil {
				return err
			}
			defer a.Close()
			return runServer(ctx, cfg, logger, a)
		},
	}
	cmd.Flags().StringVar(&seedPath, "seed", "", "JSON file of businesses to load into the in-memory store")
	return cmd
}

func buildHTTPServer(cfg config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
	}
}

// runServer serves until ctx ends, then drains: readiness fails, new
// streams are refused, the listener closes and live calls get the grace
// period to finish before they are cancelled.
func runServer(ctx context.Context, cfg config.Config, logger *slog.Logger, a *app) error {
	httpSrv := buildHTTPServer(cfg, a.server.Handler())
	logger.Info("starting reception", "addr", cfg.Addr, "public_host", cfg.PublicHost)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		a.server.SetDraining()
		a.server.WarnCallsDraining(context.Background())

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
		defer cancel()
		err := httpSrv.Shutdown(shutdownCtx)
		if err != nil {
			err = fmt.Errorf("shutdown http server: %w", err)
		}

		// Media streams are hijacked, so Shutdown does not wait for them.
		if !a.server.WaitCalls(shutdownCtx) {
			a.server.CancelCalls()
			waitCtx, waitCancel := context.WithTimeout(context.Background(), cancelGrace)
			defer waitCancel()
			if !a.server.WaitCalls(waitCtx) {
				logger.Warn("calls still running after cancel")
			}
		}
		return err
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("reception stopped")
	return nil
}
