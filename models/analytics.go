package models

type PerformanceRequest struct {
	Symbols        []string `json:"symbols" validate:"required,min=1,max=50,dive,ticker"`
	Benchmark      string   `json:"benchmark" validate:"omitempty,ticker"`
	LookbackDays   int      `json:"lookbackDays" validate:"omitempty,min=2,max=20000"`
	RiskFreeRate   *float64 `json:"riskFreeRate" validate:"omitempty,gte=-1,lte=1"`
	PeriodsPerYear int      `json:"periodsPerYear" validate:"omitempty,oneof=1 4 12 52 252"`
	RollingWindow  int      `json:"rollingWindow" validate:"omitempty,min=2,max=2520"`
	CVaRAlpha      float64  `json:"cvarAlpha" validate:"omitempty,gt=0,lt=1"`
}

type AllocationRequest struct {
	Symbols        []string `json:"symbols" validate:"required,min=2,max=50,dive,ticker"`
	Method         string   `json:"method" validate:"omitempty,oneof=min_variance risk_parity mv hrp"`
	LookbackDays   int      `json:"lookbackDays" validate:"omitempty,min=2,max=20000"`
	PeriodsPerYear int      `json:"periodsPerYear" validate:"omitempty,oneof=1 4 12 52 252"`
}

type SignalRequest struct {
	Symbols      []string `json:"symbols" validate:"required,min=1,max=50,dive,ticker"`
	LookbackDays int      `json:"lookbackDays" validate:"omitempty,min=30,max=20000"`
}

type MetricsBundle struct {
	Sharpe      SentinelFloat `json:"sharpe"`
	Sortino     SentinelFloat `json:"sortino"`
	MaxDrawdown SentinelFloat `json:"maxDrawdown"`
	Alpha       SentinelFloat `json:"alpha"`
	Beta        SentinelFloat `json:"beta"`
	CVaR        SentinelFloat `json:"cvar"`
}

type PerformanceSummary struct {
	Observations         int           `json:"observations"`
	TotalReturn          SentinelFloat `json:"totalReturn"`
	AnnualizedReturn     SentinelFloat `json:"annualizedReturn"`
	AnnualizedVolatility SentinelFloat `json:"annualizedVolatility"`
	WinRate              SentinelFloat `json:"winRate"`
	ValueAtRisk          SentinelFloat `json:"valueAtRisk"`
	ParametricVaR        SentinelFloat `json:"parametricVaR"`
}

type SymbolPerformance struct {
	Symbol        string             `json:"symbol"`
	Metrics       MetricsBundle      `json:"metrics"`
	Summary       PerformanceSummary `json:"summary"`
	EquityCurve   ChartSeries        `json:"equityCurve"`
	Drawdown      ChartSeries        `json:"drawdown"`
	RollingSharpe ChartSeries        `json:"rollingSharpe"`
}

type PerformanceResponse struct {
	RunId          string              `json:"runId,omitempty"`
	Benchmark      string              `json:"benchmark,omitempty"`
	PeriodsPerYear int                 `json:"periodsPerYear"`
	Frequency      string              `json:"frequency"`
	RiskFreeRate   float64             `json:"riskFreeRate"`
	Results        []SymbolPerformance `json:"results"`
}

type DroppedAsset struct {
	Symbol string `json:"symbol"`
	Reason string `json:"reason"`
}

type AllocationResponse struct {
	RunId           string             `json:"runId,omitempty"`
	Method          string             `json:"method"`
	Weights         map[string]float64 `json:"weights"`
	ExpectedReturns map[string]float64 `json:"expectedReturns"`
	ExpectedReturn  SentinelFloat      `json:"expectedReturn"`
	Volatility      SentinelFloat      `json:"volatility"`
	Dropped         []DroppedAsset     `json:"dropped"`
	Regularized     bool               `json:"regularized"`
	Concentrated    bool               `json:"concentrated"`
}

type SignalDecision struct {
	Producer   string                   `json:"producer"`
	Action     string                   `json:"action"`
	Strength   SentinelFloat            `json:"strength"`
	Reason     string                   `json:"reason"`
	Indicators map[string]SentinelFloat `json:"indicators"`
}

type SymbolSignals struct {
	Symbol    string                   `json:"symbol"`
	AsOf      string                   `json:"asOf"`
	Features  map[string]SentinelFloat `json:"features"`
	Decisions []SignalDecision         `json:"decisions"`
}

type SignalResponse struct {
	RunId   string          `json:"runId,omitempty"`
	Results []SymbolSignals `json:"results"`
}

func SentinelMap(values map[string]float64) map[string]SentinelFloat {
	res := make(map[string]SentinelFloat, len(values))
	for k, v := range values {
		res[k] = SentinelFloat(v)
	}
	return res
}
