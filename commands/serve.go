package commands

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"quantlab/core"
)

func serveCmd(ctx context.Context, a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the http api, and the scheduled price sync when QUANTLAB_SYNC_SCHEDULE is set",
		RunE: func(cmd *cobra.Command, args []string) error {
			sc, cleanup, err := a.serviceContext(ctx, false)
			if err != nil {
				return err
			}
			defer cleanup()

			if a.cfg.Sync.Schedule != "" && sc.Store != nil && sc.Market != nil {
				stop, err := sc.StartSyncSchedule(ctx, a.cfg.Sync.Schedule, splitSymbols(a.cfg.Sync.Symbols))
				if err != nil {
					return err
				}
				defer stop()
			}

			s := core.GetHttpServer(sc, a.cfg.Server)

			errs := make(chan error, 1)
			go func() {
				a.log.Infof("starting quantlab server on %s", s.Addr)
				if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errs <- err
				}
				close(errs)
			}()

			select {
			case err := <-errs:
				return err
			case <-ctx.Done():
			}
			a.log.Info("received shutdown signal, shutting down gracefully")

			timeout := a.cfg.Server.ShutdownTimeout
			if timeout <= 0 {
				timeout = 10 * time.Second
			}
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), timeout)
			defer shutdownCancel()

			if err := s.Shutdown(shutdownCtx); err != nil {
				a.log.WithError(err).Error("server shutdown error")
				return err
			}

			a.log.Info("server stopped successfully")
			return nil
		},
	}
}
