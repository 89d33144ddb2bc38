package extensions

import (
	"math"
	"time"
)

// BusinessDays builds n weekday timestamps starting at (or after) start, for test fixtures and synthetic tables
func BusinessDays(start time.Time, n int) []time.Time {
	res := make([]time.Time, 0, n)
	day := start
	for len(res) < n {
		if wd := day.Weekday(); wd != time.Saturday && wd != time.Sunday {
			res = append(res, day)
		}
		day = day.AddDate(0, 0, 1)
	}
	return res
}

// CompoundPrices turns a list of simple returns into a price path starting at start.
// A NaN return leaves a gap (NaN price) and the path continues from the last good price.
func CompoundPrices(start float64, returns []float64) []float64 {
	prices := make([]float64, len(returns)+1)
	prices[0] = start
	last := start
	for i, r := range returns {
		if math.IsNaN(r) {
			prices[i+1] = math.NaN()
			continue
		}
		last *= 1 + r
		prices[i+1] = last
	}
	return prices
}
