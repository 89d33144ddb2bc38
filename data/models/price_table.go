package models

import (
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/guregu/null/v6"
	ex "quantlab/data/extensions"
)

// Bar is one row of a PriceTable, the zero value is a gap
type Bar struct {
	TimeSeriesOHLCV
	AdjustedClose null.Float
}

// Price is the adjusted close when present, the close otherwise and NaN for a gap
func (b Bar) Price() float64 {
	if b.AdjustedClose.Valid {
		return b.AdjustedClose.Float64
	}
	if b.Close.Valid {
		return b.Close.Float64
	}
	return math.NaN()
}

// PriceTable holds bars for several symbols aligned to one shared, strictly increasing index
type PriceTable struct {
	Index []time.Time
	Bars  map[string][]Bar
}

// NewPriceTable outer joins the rows of every symbol on timestamp.
// A symbol without a bar at some index position gets an empty Bar there.
func NewPriceTable(rows map[string][]*TimeSeriesData) (*PriceTable, error) {
	stamps := make(map[int64]time.Time)
	for _, data := range rows {
		for _, d := range data {
			stamps[d.Timestamp.UnixNano()] = d.Timestamp
		}
	}

	keys := ex.SortedKeys(stamps)
	position := make(map[int64]int, len(keys))
	table := &PriceTable{
		Index: make([]time.Time, len(keys)),
		Bars:  make(map[string][]Bar, len(rows)),
	}
	for i, k := range keys {
		table.Index[i] = stamps[k]
		position[k] = i
	}

	for symbol, data := range rows {
		bars := make([]Bar, len(keys))
		seen := make([]bool, len(keys))
		for _, d := range data {
			i := position[d.Timestamp.UnixNano()]
			if seen[i] {
				return nil, fmt.Errorf("duplicate bar for %s at %s", symbol, ex.FmtShort(d.Timestamp))
			}
			seen[i] = true
			bars[i] = Bar{TimeSeriesOHLCV: d.TimeSeriesOHLCV, AdjustedClose: d.AdjustedClose}
		}
		table.Bars[symbol] = bars
	}

	return table, nil
}

func (pt *PriceTable) Len() int {
	return len(pt.Index)
}

func (pt *PriceTable) Symbols() []string {
	return ex.SortedKeys(pt.Bars)
}

func (pt *PriceTable) HasSymbol(symbol string) bool {
	_, ok := pt.Bars[symbol]
	return ok
}

// Closes returns the price series for a symbol with NaN at gaps
func (pt *PriceTable) Closes(symbol string) ([]float64, error) {
	bars, ok := pt.Bars[symbol]
	if !ok {
		return nil, fmt.Errorf("symbol %s is not in the price table", symbol)
	}

	res := make([]float64, len(bars))
	for i, b := range bars {
		res[i] = b.Price()
	}
	return res, nil
}

// Column extracts a single OHLCV field for a symbol with NaN at gaps
func (pt *PriceTable) Column(symbol string, field func(Bar) null.Float) ([]float64, error) {
	bars, ok := pt.Bars[symbol]
	if !ok {
		return nil, fmt.Errorf("symbol %s is not in the price table", symbol)
	}

	res := make([]float64, len(bars))
	for i, b := range bars {
		if v := field(b); v.Valid {
			res[i] = v.Float64
		} else {
			res[i] = math.NaN()
		}
	}
	return res, nil
}

// Validate checks the index is strictly increasing and every symbol is aligned to it
func (pt *PriceTable) Validate() error {
	for i := 1; i < len(pt.Index); i++ {
		if !pt.Index[i].After(pt.Index[i-1]) {
			return fmt.Errorf("price table index is not strictly increasing at position %d", i)
		}
	}

	for _, symbol := range pt.Symbols() {
		if len(pt.Bars[symbol]) != len(pt.Index) {
			return fmt.Errorf("symbol %s has %d bars, index has %d", symbol, len(pt.Bars[symbol]), len(pt.Index))
		}
	}

	return nil
}

// Subset returns a table restricted to the given symbols, sharing the bar slices
func (pt *PriceTable) Subset(symbols []string) (*PriceTable, error) {
	res := &PriceTable{Index: pt.Index, Bars: make(map[string][]Bar, len(symbols))}
	for _, s := range symbols {
		bars, ok := pt.Bars[s]
		if !ok {
			return nil, fmt.Errorf("symbol %s is not in the price table", s)
		}
		res.Bars[s] = bars
	}
	return res, nil
}

// Since drops every index position before the cutoff
func (pt *PriceTable) Since(cutoff time.Time) *PriceTable {
	start, _ := slices.BinarySearchFunc(pt.Index, cutoff, func(t, c time.Time) int { return t.Compare(c) })
	res := &PriceTable{Index: pt.Index[start:], Bars: make(map[string][]Bar, len(pt.Bars))}
	for s, bars := range pt.Bars {
		res.Bars[s] = bars[start:]
	}
	return res
}
