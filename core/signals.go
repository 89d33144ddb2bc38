package core

import (
	"fmt"
	"math"
	"time"

	"github.com/guregu/null/v6"
	ex "quantlab/data/extensions"
	dm "quantlab/data/models"
)

type Action string

const (
	ActionBuy  Action = "buy"
	ActionSell Action = "sell"
	ActionHold Action = "hold"
)

// FeatureSet is the aligned price history a signal producer reads
type FeatureSet struct {
	Symbol string
	Dates  []time.Time
	High   []float64
	Low    []float64
	Close  []float64
}

// Decision is what a producer wants to do with the latest bar. Strength is in [0, 1].
type Decision struct {
	Action     Action
	Strength   float64
	Reason     string
	Indicators map[string]float64
}

type SignalProducer interface {
	Name() string
	ProduceSignal(features FeatureSet) (Decision, error)
}

func FeaturesFromTable(table *dm.PriceTable, symbol string) (FeatureSet, error) {
	closes, err := table.Closes(symbol)
	if err != nil {
		return FeatureSet{}, err
	}
	high, err := table.Column(symbol, func(b dm.Bar) null.Float { return b.High })
	if err != nil {
		return FeatureSet{}, err
	}
	low, err := table.Column(symbol, func(b dm.Bar) null.Float { return b.Low })
	if err != nil {
		return FeatureSet{}, err
	}

	return FeatureSet{Symbol: symbol, Dates: table.Index, High: high, Low: low, Close: closes}, nil
}

// Snapshot is the latest value of the standard indicator set
func (f FeatureSet) Snapshot() map[string]float64 {
	snapshot := map[string]float64{
		"close":          last(f.Close),
		"ema_12":         last(EMA(f.Close, 12)),
		"ema_26":         last(EMA(f.Close, 26)),
		"rolling_ret_21": last(RollingReturn(f.Close, 21)),
		"zscore_20":      last(ZScore(f.Close, 20)),
		"rsi_14":         last(RSI(f.Close, 14)),
	}
	if atr, err := ATR(f.High, f.Low, f.Close, 14); err == nil {
		snapshot["atr_14"] = last(atr)
	}
	return snapshot
}

func (f FeatureSet) requireHistory(n int) error {
	valid := len(ex.FilterMultiple(f.Close, ex.IsFinite))
	if valid < n {
		return fmt.Errorf("%w: %s has %d valid closes, need %d", ErrInsufficientData, f.Symbol, valid, n)
	}
	return nil
}

// MomentumSignal buys when the fast EMA is above the slow one and sells when below
type MomentumSignal struct {
	FastPeriod int
	SlowPeriod int
}

func NewMomentumSignal() MomentumSignal {
	return MomentumSignal{FastPeriod: 12, SlowPeriod: 26}
}

func (m MomentumSignal) Name() string {
	return fmt.Sprintf("momentum_ema_%d_%d", m.FastPeriod, m.SlowPeriod)
}

func (m MomentumSignal) ProduceSignal(features FeatureSet) (Decision, error) {
	if m.FastPeriod < 1 || m.FastPeriod >= m.SlowPeriod {
		return Decision{}, fmt.Errorf("%w: fast period %d must be positive and below slow period %d", ErrInvalidParameter, m.FastPeriod, m.SlowPeriod)
	}
	if err := features.requireHistory(m.SlowPeriod); err != nil {
		return Decision{}, err
	}

	fast := last(EMA(features.Close, m.FastPeriod))
	slow := last(EMA(features.Close, m.SlowPeriod))
	indicators := map[string]float64{"ema_fast": fast, "ema_slow": slow}
	if !ex.IsFinite(fast) || !ex.IsFinite(slow) || slow == 0 {
		return Decision{}, fmt.Errorf("%w: %s has a gap inside the ema window", ErrInsufficientData, features.Symbol)
	}

	spread := fast/slow - 1
	strength := math.Min(1, math.Abs(spread)*20)
	switch {
	case spread > 0:
		return Decision{Action: ActionBuy, Strength: strength, Reason: fmt.Sprintf("fast ema above slow by %.2f%%", spread*100), Indicators: indicators}, nil
	case spread < 0:
		return Decision{Action: ActionSell, Strength: strength, Reason: fmt.Sprintf("fast ema below slow by %.2f%%", -spread*100), Indicators: indicators}, nil
	default:
		return Decision{Action: ActionHold, Reason: "emas are level", Indicators: indicators}, nil
	}
}

// MeanReversionSignal buys a close stretched below its rolling mean and sells one stretched above
type MeanReversionSignal struct {
	Window int
	EntryZ float64
}

func NewMeanReversionSignal() MeanReversionSignal {
	return MeanReversionSignal{Window: 20, EntryZ: 2}
}

func (m MeanReversionSignal) Name() string {
	return fmt.Sprintf("mean_reversion_z_%d", m.Window)
}

func (m MeanReversionSignal) ProduceSignal(features FeatureSet) (Decision, error) {
	if m.Window < 2 || m.EntryZ <= 0 {
		return Decision{}, fmt.Errorf("%w: window %d and entry z %v must be positive", ErrInvalidParameter, m.Window, m.EntryZ)
	}
	if err := features.requireHistory(m.Window); err != nil {
		return Decision{}, err
	}

	z := last(ZScore(features.Close, m.Window))
	indicators := map[string]float64{"zscore": z}
	if !ex.IsFinite(z) {
		return Decision{}, fmt.Errorf("%w: z-score for %s is undefined over the last %d closes", ErrInsufficientData, features.Symbol, m.Window)
	}

	strength := math.Min(1, math.Abs(z)/(2*m.EntryZ))
	switch {
	case z <= -m.EntryZ:
		return Decision{Action: ActionBuy, Strength: strength, Reason: fmt.Sprintf("close is %.2f deviations below its mean", -z), Indicators: indicators}, nil
	case z >= m.EntryZ:
		return Decision{Action: ActionSell, Strength: strength, Reason: fmt.Sprintf("close is %.2f deviations above its mean", z), Indicators: indicators}, nil
	default:
		return Decision{Action: ActionHold, Strength: strength, Reason: "close is inside the bands", Indicators: indicators}, nil
	}
}

// DefaultSignalProducers is the set run by the signals endpoint
func DefaultSignalProducers() []SignalProducer {
	return []SignalProducer{NewMomentumSignal(), NewMeanReversionSignal()}
}
