package core

import (
	"context"
	"time"

	"github.com/google/uuid"
	"quantlab/config"
	dm "quantlab/data/models"
	"quantlab/logger"
)

// PriceSource loads an aligned price table, the database and the market data client both satisfy it
type PriceSource interface {
	GetPriceTable(ctx context.Context, symbols []string, lookback time.Duration) (*dm.PriceTable, error)
}

// RunRecorder keeps the history of analytics runs
type RunRecorder interface {
	InsertAnalyticsRun(ctx context.Context, run *dm.AnalyticsRun) error
	UpdateAnalyticsRunAsSuccess(ctx context.Context, id uuid.UUID) error
	UpdateAnalyticsRunAsFailure(ctx context.Context, id uuid.UUID, errorMessage string) error
}

// AnalyticsSettings are the server side defaults a request may override
type AnalyticsSettings struct {
	PeriodsPerYear int
	RiskFreeRate   float64
	RollingWindow  int
	CVaRAlpha      float64
	RidgeFactor    float64
	MaxIterations  int
	Workers        int
	Lookback       time.Duration
}

func SettingsFromConfig(cfg config.AnalyticsConfig) AnalyticsSettings {
	return AnalyticsSettings{
		PeriodsPerYear: cfg.PeriodsPerYear,
		RiskFreeRate:   cfg.RiskFreeRate,
		RollingWindow:  cfg.RollingWindow,
		CVaRAlpha:      cfg.CVaRAlpha,
		RidgeFactor:    cfg.RidgeFactor,
		MaxIterations:  cfg.MaxIterations,
		Workers:        cfg.Workers,
		Lookback:       cfg.Lookback(),
	}
}

type ServiceContext struct {
	Prices    PriceSource
	Runs      RunRecorder
	Store     PriceStore
	Market    MarketData
	Logger    *logger.Logger
	Telemetry *Telemetry
	Settings  AnalyticsSettings

	// RefreshAfter is how old a symbol's last refresh must be before a sync calls the provider again
	RefreshAfter time.Duration
}

func (sc *ServiceContext) log() *logger.Logger {
	if sc.Logger == nil {
		return logger.Nop()
	}
	return sc.Logger
}
