package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/cobra"
	"quantlab/core"
	sm "quantlab/models"
)

type analyticsFlags struct {
	symbols        []string
	benchmark      string
	method         string
	lookbackDays   int
	periodsPerYear int
	rollingWindow  int
}

func (f *analyticsFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringSliceVar(&f.symbols, "symbols", nil, "symbols, comma separated")
	cmd.Flags().IntVar(&f.lookbackDays, "lookback-days", 0, "calendar days of history (defaults to QUANTLAB_ANALYTICS_LOOKBACK_DAYS)")
	cmd.Flags().IntVar(&f.periodsPerYear, "periods-per-year", 0, "sampling frequency: 252, 52, 12, 4 or 1")
	cmd.MarkFlagRequired("symbols")
}

func validate(v any) error {
	if err := core.NewValidator().Struct(v); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok {
			return fmt.Errorf("invalid arguments: %s", verrs.Error())
		}
		return err
	}
	return nil
}

func analyzeCmd(ctx context.Context, a *app) *cobra.Command {
	var f analyticsFlags

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Performance metrics, equity curve and drawdown per symbol",
		RunE: func(cmd *cobra.Command, args []string) error {
			req := f.performanceRequest()
			if err := validate(req); err != nil {
				return err
			}

			sc, cleanup, err := a.serviceContext(ctx, false)
			if err != nil {
				return err
			}
			defer cleanup()

			res, err := sc.RunPerformanceAnalysis(ctx, req)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), res)
		},
	}
	f.register(cmd)
	cmd.Flags().StringVar(&f.benchmark, "benchmark", "", "benchmark symbol for alpha and beta")
	cmd.Flags().IntVar(&f.rollingWindow, "rolling-window", 0, "rolling sharpe window in periods")
	return cmd
}

func (f *analyticsFlags) performanceRequest() sm.PerformanceRequest {
	return sm.PerformanceRequest{
		Symbols:        splitSymbols(f.symbols),
		Benchmark:      firstOrEmpty(splitSymbols([]string{f.benchmark})),
		LookbackDays:   f.lookbackDays,
		PeriodsPerYear: f.periodsPerYear,
		RollingWindow:  f.rollingWindow,
	}
}

func (f *analyticsFlags) allocationRequest() sm.AllocationRequest {
	return sm.AllocationRequest{
		Symbols:        splitSymbols(f.symbols),
		Method:         f.method,
		LookbackDays:   f.lookbackDays,
		PeriodsPerYear: f.periodsPerYear,
	}
}

func firstOrEmpty(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

func allocateCmd(ctx context.Context, a *app) *cobra.Command {
	var f analyticsFlags

	cmd := &cobra.Command{
		Use:   "allocate",
		Short: "Long only portfolio weights by minimum variance or hierarchical risk parity",
		RunE: func(cmd *cobra.Command, args []string) error {
			req := f.allocationRequest()
			if err := validate(req); err != nil {
				return err
			}

			sc, cleanup, err := a.serviceContext(ctx, false)
			if err != nil {
				return err
			}
			defer cleanup()

			res, err := sc.RunAllocation(ctx, req)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), res)
		},
	}
	f.register(cmd)
	cmd.Flags().StringVar(&f.method, "method", string(core.MinVariance), "min_variance or risk_parity")
	return cmd
}

func signalCmd(ctx context.Context, a *app) *cobra.Command {
	var f analyticsFlags

	cmd := &cobra.Command{
		Use:   "signal",
		Short: "Momentum and mean reversion signals on the latest bar",
		RunE: func(cmd *cobra.Command, args []string) error {
			req := sm.SignalRequest{Symbols: splitSymbols(f.symbols), LookbackDays: f.lookbackDays}
			if err := validate(req); err != nil {
				return err
			}

			sc, cleanup, err := a.serviceContext(ctx, false)
			if err != nil {
				return err
			}
			defer cleanup()

			res, err := sc.RunSignals(ctx, req)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), res)
		},
	}
	f.register(cmd)
	return cmd
}

func reportCmd(ctx context.Context, a *app) *cobra.Command {
	var (
		f   analyticsFlags
		out string
	)

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Write an xlsx workbook with metrics, equity curves and an allocation",
		RunE: func(cmd *cobra.Command, args []string) error {
			perfReq := f.performanceRequest()
			if err := validate(perfReq); err != nil {
				return err
			}

			sc, cleanup, err := a.serviceContext(ctx, false)
			if err != nil {
				return err
			}
			defer cleanup()

			perf, err := sc.RunPerformanceAnalysis(ctx, perfReq)
			if err != nil {
				return err
			}

			report := core.Report{Performance: perf}
			if allocReq := f.allocationRequest(); len(allocReq.Symbols) >= 2 {
				if err := validate(allocReq); err != nil {
					return err
				}
				if report.Allocation, err = sc.RunAllocation(ctx, allocReq); err != nil {
					return err
				}
			}

			file, err := os.Create(out)
			if err != nil {
				return fmt.Errorf("failed to create %s: %w", out, err)
			}
			defer file.Close()

			if err := core.WriteReport(file, report); err != nil {
				return err
			}
			a.log.WithField("path", out).Info("report written")
			return file.Close()
		},
	}
	f.register(cmd)
	cmd.Flags().StringVar(&f.benchmark, "benchmark", "", "benchmark symbol for alpha and beta")
	cmd.Flags().StringVar(&f.method, "method", string(core.MinVariance), "allocation method for the Allocation sheet")
	cmd.Flags().StringVarP(&out, "out", "o", "quantlab-report.xlsx", "output path")
	return cmd
}
