package commands

import (
	"context"
	"errors"

	"github.com/spf13/cobra"
)

func syncCmd(ctx context.Context, a *app) *cobra.Command {
	var symbols []string

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Pull daily bars from alpha vantage into the database",
		RunE: func(cmd *cobra.Command, args []string) error {
			sc, cleanup, err := a.serviceContext(ctx, true)
			if err != nil {
				return err
			}
			defer cleanup()
			if sc.Market == nil {
				return errors.New("sync needs an alpha vantage api key")
			}

			list := splitSymbols(symbols)
			if len(list) == 0 {
				list = splitSymbols(a.cfg.Sync.Symbols)
			}
			if len(list) == 0 {
				return errors.New("no symbols given, use --symbols or QUANTLAB_SYNC_SYMBOLS")
			}

			results, err := sc.SyncSymbols(ctx, list)
			if werr := writeJSON(cmd.OutOrStdout(), results); werr != nil {
				return werr
			}
			return err
		},
	}
	cmd.Flags().StringSliceVar(&symbols, "symbols", nil, "symbols to sync, comma separated")
	return cmd
}

func migrateCmd(ctx context.Context, a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the database tables when missing",
		RunE: func(cmd *cobra.Command, args []string) error {
			pg, err := a.postgres(ctx)
			if err != nil {
				return err
			}
			defer pg.Close()

			if err := pg.EnsureSchema(ctx); err != nil {
				return err
			}
			a.log.Info("schema is up to date")
			return nil
		},
	}
}
