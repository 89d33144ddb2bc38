package core

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
	ex "quantlab/data/extensions"
	dm "quantlab/data/models"
	"quantlab/logger"
	sm "quantlab/models"
)

// concentratedWeight flags an allocation that put (nearly) everything in one asset
const concentratedWeight = 0.999

const defaultLookback = 730 * 24 * time.Hour

// resolve applies the request overrides on top of the server defaults
func (s AnalyticsSettings) resolve(periodsPerYear int, riskFreeRate *float64, rollingWindow int, cvarAlpha float64, lookbackDays int) AnalyticsSettings {
	if periodsPerYear > 0 {
		s.PeriodsPerYear = periodsPerYear
	}
	if riskFreeRate != nil {
		s.RiskFreeRate = *riskFreeRate
	}
	if rollingWindow > 0 {
		s.RollingWindow = rollingWindow
	}
	if cvarAlpha > 0 {
		s.CVaRAlpha = cvarAlpha
	}
	if lookbackDays > 0 {
		s.Lookback = time.Duration(lookbackDays) * 24 * time.Hour
	}
	if s.PeriodsPerYear <= 0 {
		s.PeriodsPerYear = sm.Daily
	}
	if s.RollingWindow < 2 {
		s.RollingWindow = 63
	}
	if s.Workers < 1 {
		s.Workers = 1
	}
	if s.Lookback <= 0 {
		s.Lookback = defaultLookback
	}
	return s
}

func (s AnalyticsSettings) metricsEngine() *MetricsEngine {
	return NewMetricsEngine(
		WithPeriodsPerYear(s.PeriodsPerYear),
		WithRiskFreeRate(s.RiskFreeRate),
		WithCVaRAlpha(s.CVaRAlpha),
	)
}

func performanceSymbols(req sm.PerformanceRequest) []string {
	symbols := ex.Unique(req.Symbols)
	if req.Benchmark != "" {
		symbols = ex.Unique(append(symbols, req.Benchmark))
	}
	return symbols
}

// BuildPerformanceAnalysis computes the full performance payload for every requested symbol.
// Symbols are processed in parallel, one failing symbol fails the whole analysis.
func BuildPerformanceAnalysis(ctx context.Context, table *dm.PriceTable, req sm.PerformanceRequest, settings AnalyticsSettings) (*sm.PerformanceResponse, error) {
	settings = settings.resolve(req.PeriodsPerYear, req.RiskFreeRate, req.RollingWindow, req.CVaRAlpha, req.LookbackDays)
	engine := settings.metricsEngine()

	var benchmark *ReturnSeries
	if req.Benchmark != "" {
		b, err := ReturnsFromTable(table, req.Benchmark)
		if err != nil {
			return nil, fmt.Errorf("benchmark %s: %w", req.Benchmark, err)
		}
		benchmark = &b
	}

	symbols := ex.Unique(req.Symbols)
	results := make([]sm.SymbolPerformance, len(symbols))

	jobsChannel := make(chan int, len(symbols))
	for i := range symbols {
		jobsChannel <- i
	}
	close(jobsChannel)

	g, ctx := errgroup.WithContext(ctx)
	for range ex.Min(settings.Workers, len(symbols)) {
		g.Go(func() error {
			for i := range jobsChannel {
				select {
				case <-ctx.Done():
					return ctx.Err()
				default:
				}

				res, err := analyzeSymbol(engine, table, symbols[i], benchmark, settings.RollingWindow)
				if err != nil {
					return fmt.Errorf("%s: %w", symbols[i], err)
				}
				results[i] = *res
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &sm.PerformanceResponse{
		Benchmark:      req.Benchmark,
		PeriodsPerYear: settings.PeriodsPerYear,
		Frequency:      sm.ConvertFrequencyToString(settings.PeriodsPerYear),
		RiskFreeRate:   settings.RiskFreeRate,
		Results:        results,
	}, nil
}

func analyzeSymbol(engine *MetricsEngine, table *dm.PriceTable, symbol string, benchmark *ReturnSeries, window int) (*sm.SymbolPerformance, error) {
	returns, err := ReturnsFromTable(table, symbol)
	if err != nil {
		return nil, err
	}

	bundle, err := engine.Bundle(returns, benchmark)
	if err != nil {
		return nil, err
	}

	summary, err := engine.Summary(returns)
	if err != nil {
		return nil, err
	}

	rolling, err := engine.RollingSharpe(returns, window)
	if err != nil {
		return nil, err
	}

	curve := ComputeEquityCurve(returns)
	drawdown := ComputeDrawdown(curve)

	return &sm.SymbolPerformance{
		Symbol: symbol,
		Metrics: sm.MetricsBundle{
			Sharpe:      sm.SentinelFloat(bundle.Sharpe),
			Sortino:     sm.SentinelFloat(bundle.Sortino),
			MaxDrawdown: sm.SentinelFloat(bundle.MaxDrawdown),
			Alpha:       sm.SentinelFloat(bundle.Alpha),
			Beta:        sm.SentinelFloat(bundle.Beta),
			CVaR:        sm.SentinelFloat(bundle.CVaR),
		},
		Summary: sm.PerformanceSummary{
			Observations:         summary.Observations,
			TotalReturn:          sm.SentinelFloat(summary.TotalReturn),
			AnnualizedReturn:     sm.SentinelFloat(summary.AnnualizedReturn),
			AnnualizedVolatility: sm.SentinelFloat(summary.AnnualizedVolatility),
			WinRate:              sm.SentinelFloat(summary.WinRate),
			ValueAtRisk:          sm.SentinelFloat(summary.ValueAtRisk),
			ParametricVaR:        sm.SentinelFloat(summary.ParametricVaR),
		},
		EquityCurve:   sm.NewChartSeries(curve.Dates, curve.Values),
		Drawdown:      sm.NewChartSeries(drawdown.Dates, drawdown.Values),
		RollingSharpe: sm.NewChartSeries(returns.Dates, rolling),
	}, nil
}

// BuildSymbolCurves is the equity curve and drawdown of one symbol, what the chart endpoints draw
func BuildSymbolCurves(table *dm.PriceTable, symbol string) (EquityCurve, DrawdownSeries, error) {
	returns, err := ReturnsFromTable(table, symbol)
	if err != nil {
		return EquityCurve{}, DrawdownSeries{}, err
	}
	if returns.ValidCount() < 1 {
		return EquityCurve{}, DrawdownSeries{}, fmt.Errorf("%w: %s has no valid returns", ErrInsufficientData, symbol)
	}

	curve := ComputeEquityCurve(returns)
	return curve, ComputeDrawdown(curve), nil
}

// BuildAllocation runs the allocator over the returns of every requested symbol
func BuildAllocation(table *dm.PriceTable, req sm.AllocationRequest, settings AnalyticsSettings, log *logger.Logger) (*sm.AllocationResponse, error) {
	settings = settings.resolve(req.PeriodsPerYear, nil, 0, 0, req.LookbackDays)

	method, err := ParseAllocationMethod(req.Method)
	if err != nil {
		return nil, err
	}

	returns := make(map[string]ReturnSeries, len(req.Symbols))
	for _, s := range ex.Unique(req.Symbols) {
		rs, err := ReturnsFromTable(table, s)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", s, err)
		}
		returns[s] = rs
	}

	allocator := NewAllocator(log,
		WithAllocatorPeriodsPerYear(settings.PeriodsPerYear),
		WithRidgeFactor(settings.RidgeFactor),
		WithMaxIterations(settings.MaxIterations),
	)

	res, err := allocator.Allocate(returns, method)
	if err != nil {
		return nil, err
	}

	return allocationResponse(res), nil
}

func allocationResponse(res *AllocationResult) *sm.AllocationResponse {
	resp := &sm.AllocationResponse{
		Method:          string(res.Method),
		Weights:         res.Weights,
		ExpectedReturns: res.ExpectedReturns,
		ExpectedReturn:  sm.SentinelFloat(res.ExpectedReturn),
		Volatility:      sm.SentinelFloat(res.Volatility),
		Dropped:         make([]sm.DroppedAsset, len(res.Dropped)),
		Regularized:     res.Regularized,
	}
	for i, d := range res.Dropped {
		resp.Dropped[i] = sm.DroppedAsset{Symbol: d.Symbol, Reason: d.Reason}
	}
	for _, w := range res.Weights {
		if w >= concentratedWeight {
			resp.Concentrated = true
		}
	}
	return resp
}

// BuildSignals runs every producer on the latest bar of each symbol
func BuildSignals(table *dm.PriceTable, req sm.SignalRequest, producers []SignalProducer) (*sm.SignalResponse, error) {
	if table.Len() == 0 {
		return nil, fmt.Errorf("%w: price table is empty", ErrInsufficientData)
	}
	asOf := ex.FmtShort(table.Index[table.Len()-1])

	resp := &sm.SignalResponse{Results: make([]sm.SymbolSignals, 0, len(req.Symbols))}
	for _, s := range ex.Unique(req.Symbols) {
		features, err := FeaturesFromTable(table, s)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", s, err)
		}

		symbolSignals := sm.SymbolSignals{
			Symbol:    s,
			AsOf:      asOf,
			Features:  sm.SentinelMap(features.Snapshot()),
			Decisions: make([]sm.SignalDecision, 0, len(producers)),
		}

		for _, p := range producers {
			d, err := p.ProduceSignal(features)
			if err != nil {
				return nil, fmt.Errorf("%s %s: %w", s, p.Name(), err)
			}
			symbolSignals.Decisions = append(symbolSignals.Decisions, sm.SignalDecision{
				Producer:   p.Name(),
				Action:     string(d.Action),
				Strength:   sm.SentinelFloat(d.Strength),
				Reason:     d.Reason,
				Indicators: sm.SentinelMap(d.Indicators),
			})
		}

		resp.Results = append(resp.Results, symbolSignals)
	}

	return resp, nil
}

// execute loads the prices for a run, builds the result and records the outcome in the run history.
// A nil RunRecorder skips the history.
func execute[T any](ctx context.Context, sc *ServiceContext, kind string, symbols []string, lookback time.Duration, build func(context.Context, *dm.PriceTable) (*T, error)) (*T, *dm.AnalyticsRun, error) {
	start := time.Now()
	log := sc.log().WithFields(map[string]any{"kind": kind, "symbols": symbols})
	run := dm.NewAnalyticsRun(kind, symbols)

	if sc.Runs != nil {
		if err := sc.Runs.InsertAnalyticsRun(ctx, run); err != nil {
			log.WithError(err).Error("error inserting analytics run")
			return nil, nil, err
		}
	}

	fail := func(err error) (*T, *dm.AnalyticsRun, error) {
		log.WithError(err).WithField("run", run.Id).Error("analytics run failed")
		sc.Telemetry.CountRun(kind, dm.RunStatusFailure)
		if sc.Runs != nil {
			if uerr := sc.Runs.UpdateAnalyticsRunAsFailure(ctx, run.Id, err.Error()); uerr != nil {
				log.WithError(uerr).Error("error marking analytics run as failed")
			}
		}
		return nil, run, err
	}

	if sc.Prices == nil {
		return fail(fmt.Errorf("no price source configured"))
	}

	step := time.Now()
	table, err := sc.Prices.GetPriceTable(ctx, symbols, lookback)
	if err != nil {
		return fail(fmt.Errorf("loading prices: %w", err))
	}
	sc.Telemetry.ObserveStep(kind, "load_prices", step)
	log.Elapsed("load prices", step)

	step = time.Now()
	res, err := build(ctx, table)
	if err != nil {
		return fail(err)
	}
	sc.Telemetry.ObserveStep(kind, "compute", step)
	log.Elapsed("compute", step)

	if sc.Runs != nil {
		// not marking as failure here, if we cant update it to success we most likely cant update it to failure either
		if err := sc.Runs.UpdateAnalyticsRunAsSuccess(ctx, run.Id); err != nil {
			log.WithError(err).Error("error marking analytics run as success")
			return nil, run, err
		}
	}

	sc.Telemetry.CountRun(kind, dm.RunStatusSuccess)
	log.Elapsed(kind+" run", start)
	return res, run, nil
}

func (sc *ServiceContext) RunPerformanceAnalysis(ctx context.Context, req sm.PerformanceRequest) (*sm.PerformanceResponse, error) {
	settings := sc.Settings.resolve(req.PeriodsPerYear, req.RiskFreeRate, req.RollingWindow, req.CVaRAlpha, req.LookbackDays)
	res, run, err := execute(ctx, sc, dm.RunKindPerformance, performanceSymbols(req), settings.Lookback,
		func(ctx context.Context, table *dm.PriceTable) (*sm.PerformanceResponse, error) {
			return BuildPerformanceAnalysis(ctx, table, req, sc.Settings)
		})
	if err != nil {
		return nil, err
	}
	res.RunId = run.Id.String()
	return res, nil
}

func (sc *ServiceContext) RunAllocation(ctx context.Context, req sm.AllocationRequest) (*sm.AllocationResponse, error) {
	settings := sc.Settings.resolve(req.PeriodsPerYear, nil, 0, 0, req.LookbackDays)
	res, run, err := execute(ctx, sc, dm.RunKindAllocation, ex.Unique(req.Symbols), settings.Lookback,
		func(_ context.Context, table *dm.PriceTable) (*sm.AllocationResponse, error) {
			res, err := BuildAllocation(table, req, sc.Settings, sc.log())
			if err == nil {
				sc.Telemetry.CountDropped(len(res.Dropped))
			}
			return res, err
		})
	if err != nil {
		return nil, err
	}
	res.RunId = run.Id.String()
	return res, nil
}

func (sc *ServiceContext) RunSignals(ctx context.Context, req sm.SignalRequest) (*sm.SignalResponse, error) {
	settings := sc.Settings.resolve(0, nil, 0, 0, req.LookbackDays)
	res, run, err := execute(ctx, sc, dm.RunKindSignals, ex.Unique(req.Symbols), settings.Lookback,
		func(_ context.Context, table *dm.PriceTable) (*sm.SignalResponse, error) {
			return BuildSignals(table, req, DefaultSignalProducers())
		})
	if err != nil {
		return nil, err
	}
	res.RunId = run.Id.String()
	return res, nil
}

// LoadSymbolCurves fetches one symbol and returns its equity curve and drawdown
func (sc *ServiceContext) LoadSymbolCurves(ctx context.Context, symbol string, lookbackDays int) (EquityCurve, DrawdownSeries, error) {
	if sc.Prices == nil {
		return EquityCurve{}, DrawdownSeries{}, fmt.Errorf("no price source configured")
	}
	settings := sc.Settings.resolve(0, nil, 0, 0, lookbackDays)
	table, err := sc.Prices.GetPriceTable(ctx, []string{symbol}, settings.Lookback)
	if err != nil {
		return EquityCurve{}, DrawdownSeries{}, fmt.Errorf("loading prices: %w", err)
	}
	return BuildSymbolCurves(table, symbol)
}
