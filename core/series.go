package core

import (
	"fmt"
	"time"

	ex "quantlab/data/extensions"
	dm "quantlab/data/models"
)

// ReturnSeries holds simple period returns. Dates, when present, line up with Values
// and mark the end of each period. Non-finite values are gaps.
type ReturnSeries struct {
	Dates  []time.Time
	Values []float64
}

func (rs ReturnSeries) Len() int {
	return len(rs.Values)
}

func (rs ReturnSeries) Dated() bool {
	return rs.Dates != nil && len(rs.Dates) == len(rs.Values)
}

// Valid returns the finite values in order
func (rs ReturnSeries) Valid() []float64 {
	return ex.FilterMultiple(rs.Values, ex.IsFinite)
}

func (rs ReturnSeries) ValidCount() int {
	n := 0
	for _, v := range rs.Values {
		if ex.IsFinite(v) {
			n++
		}
	}
	return n
}

// EquityCurve is the growth of one unit of capital, one point per finite return
type EquityCurve struct {
	Dates  []time.Time
	Values []float64
}

// DrawdownSeries is the fractional decline from the running peak, always <= 0
type DrawdownSeries struct {
	Dates  []time.Time
	Values []float64
}

// ComputeReturns turns T prices into T-1 simple returns. A missing or non-finite price,
// or a zero prior price, makes that return a gap.
func ComputeReturns(prices []float64) ReturnSeries {
	if len(prices) < 2 {
		return ReturnSeries{Values: []float64{}}
	}

	values := make([]float64, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		values[i-1] = simpleReturn(prices[i-1], prices[i])
	}

	return ReturnSeries{Values: values}
}

// ComputeDatedReturns is ComputeReturns keeping the date of each period end
func ComputeDatedReturns(dates []time.Time, prices []float64) (ReturnSeries, error) {
	if len(dates) != len(prices) {
		return ReturnSeries{}, fmt.Errorf("%w: %d dates for %d prices", ErrAlignment, len(dates), len(prices))
	}
	for i := 1; i < len(dates); i++ {
		if !dates[i].After(dates[i-1]) {
			return ReturnSeries{}, fmt.Errorf("%w: dates are not strictly increasing at %s", ErrAlignment, ex.FmtShort(dates[i]))
		}
	}

	res := ComputeReturns(prices)
	if len(prices) >= 2 {
		res.Dates = dates[1:]
	}
	return res, nil
}

func simpleReturn(prev, cur float64) float64 {
	if !ex.IsFinite(prev) || !ex.IsFinite(cur) || prev == 0 {
		return nan
	}
	return cur/prev - 1
}

// ComputeEquityCurve compounds the finite returns in order. Gaps are skipped, not zero filled.
// With no finite return the curve is the single base point 1.0.
func ComputeEquityCurve(returns ReturnSeries) EquityCurve {
	dated := returns.Dated()
	curve := EquityCurve{Values: make([]float64, 0, len(returns.Values))}
	if dated {
		curve.Dates = make([]time.Time, 0, len(returns.Values))
	}

	equity := 1.0
	for i, r := range returns.Values {
		if !ex.IsFinite(r) {
			continue
		}
		equity *= 1 + r
		curve.Values = append(curve.Values, equity)
		if dated {
			curve.Dates = append(curve.Dates, returns.Dates[i])
		}
	}

	if len(curve.Values) == 0 {
		return EquityCurve{Values: []float64{1.0}}
	}

	return curve
}

// ComputeDrawdown walks the curve once keeping the running peak
func ComputeDrawdown(equity EquityCurve) DrawdownSeries {
	dd := DrawdownSeries{Dates: equity.Dates, Values: make([]float64, len(equity.Values))}

	peak := 0.0
	for i, v := range equity.Values {
		if i == 0 || v >= peak {
			peak = v
			dd.Values[i] = 0
			continue
		}
		if peak <= 0 {
			dd.Values[i] = 0
			continue
		}
		dd.Values[i] = v/peak - 1
	}

	return dd
}

// ReturnsFromTable builds the dated return series of one symbol
func ReturnsFromTable(table *dm.PriceTable, symbol string) (ReturnSeries, error) {
	closes, err := table.Closes(symbol)
	if err != nil {
		return ReturnSeries{}, err
	}
	return ComputeDatedReturns(table.Index, closes)
}
