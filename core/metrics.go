package core

import (
	"fmt"
	"math"
	"slices"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
	ex "quantlab/data/extensions"
	sm "quantlab/models"
)

// MetricsEngine computes risk adjusted statistics for return series sampled PeriodsPerYear times a year.
// RiskFreeRate is annual and is spread evenly over the periods.
type MetricsEngine struct {
	PeriodsPerYear int
	RiskFreeRate   float64
	CVaRAlpha      float64
}

type MetricsOption func(*MetricsEngine)

func WithPeriodsPerYear(n int) MetricsOption {
	return func(e *MetricsEngine) { e.PeriodsPerYear = n }
}

func WithRiskFreeRate(rate float64) MetricsOption {
	return func(e *MetricsEngine) { e.RiskFreeRate = rate }
}

func WithCVaRAlpha(alpha float64) MetricsOption {
	return func(e *MetricsEngine) { e.CVaRAlpha = alpha }
}

func NewMetricsEngine(opts ...MetricsOption) *MetricsEngine {
	e := &MetricsEngine{PeriodsPerYear: sm.Daily, CVaRAlpha: 0.05}
	for _, opt := range opts {
		opt(e)
	}
	if e.PeriodsPerYear <= 0 {
		e.PeriodsPerYear = sm.Daily
	}
	if e.CVaRAlpha <= 0 || e.CVaRAlpha >= 1 {
		e.CVaRAlpha = 0.05
	}
	return e
}

// MetricsBundle is the headline statistics of one series. Alpha and Beta are NaN without a benchmark.
type MetricsBundle struct {
	Sharpe      float64
	Sortino     float64
	MaxDrawdown float64
	Alpha       float64
	Beta        float64
	CVaR        float64
}

type PerformanceSummary struct {
	Observations         int
	TotalReturn          float64
	AnnualizedReturn     float64
	AnnualizedVolatility float64
	WinRate              float64
	ValueAtRisk          float64
	ParametricVaR        float64
}

func (e *MetricsEngine) periodRiskFree() float64 {
	return e.RiskFreeRate / float64(e.PeriodsPerYear)
}

func (e *MetricsEngine) annualizer() float64 {
	return math.Sqrt(float64(e.PeriodsPerYear))
}

func requireValid(returns ReturnSeries) ([]float64, error) {
	valid := returns.Valid()
	if len(valid) < 2 {
		return nil, fmt.Errorf("%w: %d valid observations, need at least 2", ErrInsufficientData, len(valid))
	}
	return valid, nil
}

func (e *MetricsEngine) excess(returns ReturnSeries) ([]float64, error) {
	valid, err := requireValid(returns)
	if err != nil {
		return nil, err
	}

	rf := e.periodRiskFree()
	res := make([]float64, len(valid))
	for i, r := range valid {
		res[i] = r - rf
	}
	return res, nil
}

// Sharpe is mean excess return over its sample standard deviation, annualized
func (e *MetricsEngine) Sharpe(returns ReturnSeries) (float64, error) {
	x, err := e.excess(returns)
	if err != nil {
		return nan, err
	}

	mean, std := stat.MeanStdDev(x, nil)
	if std < zeroStdDev {
		return nan, fmt.Errorf("%w: zero variance in excess returns, sharpe is undefined", ErrInsufficientData)
	}

	return mean / std * e.annualizer(), nil
}

// Sortino uses the downside deviation around the risk free target over every observation.
// A series that never falls below the target has an infinite ratio.
func (e *MetricsEngine) Sortino(returns ReturnSeries) (float64, error) {
	x, err := e.excess(returns)
	if err != nil {
		return nan, err
	}

	var sumSq float64
	below := 0
	for _, v := range x {
		if v < 0 {
			sumSq += v * v
			below++
		}
	}

	if below == 0 {
		return math.Inf(1), nil
	}

	downside := math.Sqrt(sumSq / float64(len(x)))
	return stat.Mean(x, nil) / downside * e.annualizer(), nil
}

// MaxDrawdown is the worst peak to trough decline, the 1.0 starting capital counts as the first peak
func (e *MetricsEngine) MaxDrawdown(returns ReturnSeries) (float64, error) {
	if _, err := requireValid(returns); err != nil {
		return nan, err
	}

	curve := ComputeEquityCurve(returns)
	seeded := EquityCurve{Values: append([]float64{1.0}, curve.Values...)}
	return floats.Min(ComputeDrawdown(seeded).Values), nil
}

// AlphaBeta regresses asset excess returns on benchmark excess returns.
// Alpha is annualized by compounding the per period intercept.
func (e *MetricsEngine) AlphaBeta(returns, benchmark ReturnSeries) (alpha, beta float64, err error) {
	if err := checkAligned(returns, benchmark); err != nil {
		return nan, nan, err
	}

	rf := e.periodRiskFree()
	x := make([]float64, 0, returns.Len())
	y := make([]float64, 0, returns.Len())
	for i, r := range returns.Values {
		b := benchmark.Values[i]
		if !ex.IsFinite(r) || !ex.IsFinite(b) {
			continue
		}
		x = append(x, b-rf)
		y = append(y, r-rf)
	}

	if len(x) < 2 {
		return nan, nan, fmt.Errorf("%w: %d overlapping observations with the benchmark, need at least 2", ErrInsufficientData, len(x))
	}
	if stat.StdDev(x, nil) < zeroStdDev {
		return nan, nan, fmt.Errorf("%w: benchmark has zero variance, beta is undefined", ErrInsufficientData)
	}

	intercept, slope := stat.LinearRegression(x, y, nil, false)
	return math.Pow(1+intercept, float64(e.PeriodsPerYear)) - 1, slope, nil
}

func checkAligned(a, b ReturnSeries) error {
	if a.Len() != b.Len() {
		return fmt.Errorf("%w: %d returns against %d benchmark returns", ErrAlignment, a.Len(), b.Len())
	}
	if a.Dated() && b.Dated() {
		for i := range a.Dates {
			if !a.Dates[i].Equal(b.Dates[i]) {
				return fmt.Errorf("%w: timestamps differ at position %d (%s vs %s)", ErrAlignment, i, ex.FmtShort(a.Dates[i]), ex.FmtShort(b.Dates[i]))
			}
		}
	}
	return nil
}

func checkAlpha(alpha float64) error {
	if alpha <= 0 || alpha >= 1 || math.IsNaN(alpha) {
		return fmt.Errorf("%w: tail probability must be in (0, 1), got %v", ErrInvalidParameter, alpha)
	}
	return nil
}

func sortedValid(returns ReturnSeries) ([]float64, error) {
	valid, err := requireValid(returns)
	if err != nil {
		return nil, err
	}
	sorted := slices.Clone(valid)
	slices.Sort(sorted)
	return sorted, nil
}

// ValueAtRisk is the empirical alpha quantile of the returns, losses are negative
func (e *MetricsEngine) ValueAtRisk(returns ReturnSeries, alpha float64) (float64, error) {
	if err := checkAlpha(alpha); err != nil {
		return nan, err
	}
	sorted, err := sortedValid(returns)
	if err != nil {
		return nan, err
	}
	return stat.Quantile(alpha, stat.Empirical, sorted, nil), nil
}

// CVaR is the mean of the returns at or below the empirical alpha quantile
func (e *MetricsEngine) CVaR(returns ReturnSeries, alpha float64) (float64, error) {
	if err := checkAlpha(alpha); err != nil {
		return nan, err
	}
	sorted, err := sortedValid(returns)
	if err != nil {
		return nan, err
	}

	cutoff := stat.Quantile(alpha, stat.Empirical, sorted, nil)
	tail := ex.FilterMultiple(sorted, func(r float64) bool { return r <= cutoff })
	return stat.Mean(tail, nil), nil
}

// ParametricVaR assumes normally distributed returns with the sample mean and deviation
func (e *MetricsEngine) ParametricVaR(returns ReturnSeries, alpha float64) (float64, error) {
	if err := checkAlpha(alpha); err != nil {
		return nan, err
	}
	valid, err := requireValid(returns)
	if err != nil {
		return nan, err
	}

	mean, std := stat.MeanStdDev(valid, nil)
	if std < zeroStdDev {
		return mean, nil
	}
	return distuv.Normal{Mu: mean, Sigma: std}.Quantile(alpha), nil
}

// RollingSharpe has one value per input period. The first window-1 positions, and any
// window where the ratio is undefined, are NaN.
func (e *MetricsEngine) RollingSharpe(returns ReturnSeries, window int) ([]float64, error) {
	if window < 2 {
		return nil, fmt.Errorf("%w: rolling window must be at least 2, got %d", ErrInvalidParameter, window)
	}
	if _, err := requireValid(returns); err != nil {
		return nil, err
	}

	n := returns.Len()
	res := make([]float64, n)
	for i := range res {
		res[i] = nan
	}

	for end := window - 1; end < n; end++ {
		slice := ReturnSeries{Values: returns.Values[end-window+1 : end+1]}
		if s, err := e.Sharpe(slice); err == nil {
			res[end] = s
		}
	}

	return res, nil
}

// Bundle computes the headline statistics, alpha and beta only when a benchmark is given
func (e *MetricsEngine) Bundle(returns ReturnSeries, benchmark *ReturnSeries) (MetricsBundle, error) {
	var err error
	b := MetricsBundle{Alpha: nan, Beta: nan}

	if b.Sharpe, err = e.Sharpe(returns); err != nil {
		return b, fmt.Errorf("sharpe: %w", err)
	}
	if b.Sortino, err = e.Sortino(returns); err != nil {
		return b, fmt.Errorf("sortino: %w", err)
	}
	if b.MaxDrawdown, err = e.MaxDrawdown(returns); err != nil {
		return b, fmt.Errorf("max drawdown: %w", err)
	}
	if b.CVaR, err = e.CVaR(returns, e.CVaRAlpha); err != nil {
		return b, fmt.Errorf("cvar: %w", err)
	}
	if benchmark != nil {
		if b.Alpha, b.Beta, err = e.AlphaBeta(returns, *benchmark); err != nil {
			return b, fmt.Errorf("alpha/beta: %w", err)
		}
	}

	return b, nil
}

// Summary mirrors a backtest report: total and geometric annual return, volatility, hit rate and VaR
func (e *MetricsEngine) Summary(returns ReturnSeries) (PerformanceSummary, error) {
	valid, err := requireValid(returns)
	if err != nil {
		return PerformanceSummary{}, err
	}

	curve := ComputeEquityCurve(returns)
	total := curve.Values[len(curve.Values)-1] - 1

	wins := 0
	for _, r := range valid {
		if r > 0 {
			wins++
		}
	}

	s := PerformanceSummary{
		Observations:         len(valid),
		TotalReturn:          total,
		AnnualizedReturn:     math.Pow(1+total, float64(e.PeriodsPerYear)/float64(len(valid))) - 1,
		AnnualizedVolatility: stat.StdDev(valid, nil) * e.annualizer(),
		WinRate:              float64(wins) / float64(len(valid)),
	}

	if s.ValueAtRisk, err = e.ValueAtRisk(returns, e.CVaRAlpha); err != nil {
		return s, err
	}
	if s.ParametricVaR, err = e.ParametricVaR(returns, e.CVaRAlpha); err != nil {
		return s, err
	}

	return s, nil
}
