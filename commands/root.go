package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	c "quantlab/api"
	av "quantlab/api/alpha_vantage"
	"quantlab/config"
	"quantlab/core"
	r "quantlab/data/repos"
	"quantlab/logger"
)

const (
	sourceDatabase = "db"
	sourceLive     = "live"
)

// app is what every command shares once the persistent pre-run has loaded config
type app struct {
	envFile string
	source  string
	cfg     *config.Config
	log     *logger.Logger
}

func Execute(ctx context.Context) error {
	return newRootCmd(ctx).ExecuteContext(ctx)
}

func newRootCmd(ctx context.Context) *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "quantlab",
		Short:         "Return, risk and allocation analytics over daily prices",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load()
		},
	}
	root.PersistentFlags().StringVar(&a.envFile, "env-file", "", "env file to load before the environment (defaults to ./.env when present)")
	root.PersistentFlags().StringVar(&a.source, "source", sourceDatabase, "where prices come from: db or live")

	root.AddCommand(
		serveCmd(ctx, a),
		syncCmd(ctx, a),
		migrateCmd(ctx, a),
		analyzeCmd(ctx, a),
		allocateCmd(ctx, a),
		signalCmd(ctx, a),
		reportCmd(ctx, a),
	)
	return root
}

func (a *app) load() error {
	var files []string
	if a.envFile != "" {
		files = append(files, a.envFile)
	}

	cfg, err := config.Load(files...)
	if err != nil {
		return err
	}
	if a.source != sourceDatabase && a.source != sourceLive {
		return fmt.Errorf("unknown price source %q, use %s or %s", a.source, sourceDatabase, sourceLive)
	}

	a.cfg = cfg
	a.log = logger.New(cfg.Log, cfg.Env)
	return nil
}

func (a *app) postgres(ctx context.Context) (*r.Postgres, error) {
	if a.cfg.Database.URL == "" {
		return nil, errors.New("no database configured, set QUANTLAB_DATABASE_URL or DATABASE_URL")
	}
	pg, err := r.GetPostgresConnection(ctx, a.cfg.Database.URL, r.PoolSettings{
		MaxConns: a.cfg.Database.MaxConns,
		MinConns: a.cfg.Database.MinConns,
	})
	if err != nil {
		return nil, err
	}
	if err := pg.Ping(ctx); err != nil {
		pg.Close()
		return nil, fmt.Errorf("database is not reachable: %w", err)
	}
	return pg, nil
}

func (a *app) alphaVantage() *av.AlphaVantageClient {
	if a.cfg.AlphaVantage.APIKey == "" {
		return nil
	}
	return av.GetClient(c.ClientSettings{
		Host:              a.cfg.AlphaVantage.Host,
		ApiKey:            a.cfg.AlphaVantage.APIKey,
		Timeout:           a.cfg.AlphaVantage.Timeout,
		RequestsPerMinute: a.cfg.AlphaVantage.RequestsPerMinute,
	})
}

// serviceContext wires the store, provider and run history the command needs.
// The returned func releases the database pool.
func (a *app) serviceContext(ctx context.Context, needDatabase bool) (*core.ServiceContext, func(), error) {
	sc := &core.ServiceContext{
		Logger:       a.log,
		Telemetry:    core.NewTelemetry(),
		Settings:     core.SettingsFromConfig(a.cfg.Analytics),
		RefreshAfter: a.cfg.AlphaVantage.RefreshAfter,
	}
	cleanup := func() {}

	if client := a.alphaVantage(); client != nil {
		sc.Market = client
		if a.source == sourceLive {
			sc.Prices = client
		}
	} else if a.source == sourceLive {
		return nil, cleanup, errors.New("live prices need QUANTLAB_ALPHAVANTAGE_API_KEY or ALPHAVANTAGE_API_KEY")
	}

	if needDatabase || a.source == sourceDatabase {
		pg, err := a.postgres(ctx)
		if err != nil {
			return nil, cleanup, err
		}
		cleanup = pg.Close
		sc.Store = pg
		sc.Runs = pg
		if a.source == sourceDatabase {
			sc.Prices = pg
		}
	}

	return sc, cleanup, nil
}

func splitSymbols(raw []string) []string {
	var res []string
	for _, s := range raw {
		for _, part := range strings.Split(s, ",") {
			if part = strings.ToUpper(strings.TrimSpace(part)); part != "" {
				res = append(res, part)
			}
		}
	}
	return res
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
