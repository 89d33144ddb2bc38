package core

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
	ex "quantlab/data/extensions"
)

// Every indicator returns a slice the same length as its input with NaN until enough
// history exists. A gap inside a window makes that window NaN.

func nanSlice(n int) []float64 {
	res := make([]float64, n)
	for i := range res {
		res[i] = nan
	}
	return res
}

func windowIsFinite(values []float64) bool {
	for _, v := range values {
		if !ex.IsFinite(v) {
			return false
		}
	}
	return true
}

// EMA is seeded with the simple average of the first period values, then smoothed with 2/(period+1).
// A gap restarts the seeding.
func EMA(values []float64, period int) []float64 {
	res := nanSlice(len(values))
	if period < 1 {
		return res
	}

	alpha := 2 / float64(period+1)
	run := 0
	var sum, prev float64
	for i, v := range values {
		if !ex.IsFinite(v) {
			run, sum = 0, 0
			continue
		}
		run++
		if run < period {
			sum += v
			continue
		}
		if run == period {
			prev = (sum + v) / float64(period)
		} else {
			prev = alpha*v + (1-alpha)*prev
		}
		res[i] = prev
	}
	return res
}

// RollingReturn is the simple return over the last period observations
func RollingReturn(values []float64, period int) []float64 {
	res := nanSlice(len(values))
	for i := period; i < len(values) && period > 0; i++ {
		res[i] = simpleReturn(values[i-period], values[i])
	}
	return res
}

// ZScore is how many sample deviations the latest value sits from its window mean
func ZScore(values []float64, window int) []float64 {
	res := nanSlice(len(values))
	if window < 2 {
		return res
	}
	for end := window - 1; end < len(values); end++ {
		w := values[end-window+1 : end+1]
		if !windowIsFinite(w) {
			continue
		}
		mean, std := stat.MeanStdDev(w, nil)
		if std < zeroStdDev {
			continue
		}
		res[end] = (values[end] - mean) / std
	}
	return res
}

// ATR averages the true range over period bars. The first bar has no prior close so its range is high-low.
func ATR(high, low, close []float64, period int) ([]float64, error) {
	if len(high) != len(low) || len(low) != len(close) {
		return nil, fmt.Errorf("%w: high, low and close lengths differ (%d, %d, %d)", ErrAlignment, len(high), len(low), len(close))
	}

	tr := make([]float64, len(close))
	for i := range close {
		tr[i] = high[i] - low[i]
		if i > 0 && ex.IsFinite(close[i-1]) {
			tr[i] = math.Max(tr[i], math.Max(math.Abs(high[i]-close[i-1]), math.Abs(low[i]-close[i-1])))
		}
	}

	return rollingMean(tr, period), nil
}

// RSI uses simple averages of gains and losses over the period. All gains reads 100.
func RSI(values []float64, period int) []float64 {
	n := len(values)
	gains := nanSlice(n)
	losses := nanSlice(n)
	for i := 1; i < n; i++ {
		delta := values[i] - values[i-1]
		if !ex.IsFinite(delta) {
			continue
		}
		gains[i] = math.Max(delta, 0)
		losses[i] = math.Max(-delta, 0)
	}

	avgGain := rollingMean(gains, period)
	avgLoss := rollingMean(losses, period)

	res := nanSlice(n)
	for i := range n {
		g, l := avgGain[i], avgLoss[i]
		switch {
		case !ex.IsFinite(g) || !ex.IsFinite(l):
		case l == 0 && g == 0:
			res[i] = 50
		case l == 0:
			res[i] = 100
		default:
			res[i] = 100 - 100/(1+g/l)
		}
	}
	return res
}

func rollingMean(values []float64, window int) []float64 {
	res := nanSlice(len(values))
	if window < 1 {
		return res
	}
	for end := window - 1; end < len(values); end++ {
		w := values[end-window+1 : end+1]
		if windowIsFinite(w) {
			res[end] = stat.Mean(w, nil)
		}
	}
	return res
}

// last returns the final value of a slice or NaN when empty
func last(values []float64) float64 {
	if len(values) == 0 {
		return nan
	}
	return values[len(values)-1]
}
