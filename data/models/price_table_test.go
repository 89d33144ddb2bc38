package models

import (
	"math"
	"testing"
	"time"

	"github.com/guregu/null/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bar(ts time.Time, close float64) *TimeSeriesData {
	return &TimeSeriesData{
		Timestamp:       ts,
		TimeSeriesOHLCV: TimeSeriesOHLCV{Close: null.FloatFrom(close)},
		AdjustedClose:   null.FloatFrom(close),
	}
}

func TestNewPriceTable_OuterJoinLeavesGaps(t *testing.T) {
	d1 := time.Date(2025, time.January, 2, 0, 0, 0, 0, time.UTC)
	d2 := d1.AddDate(0, 0, 1)
	d3 := d1.AddDate(0, 0, 2)

	table, err := NewPriceTable(map[string][]*TimeSeriesData{
		"AAA": {bar(d3, 103), bar(d1, 101)},
		"BBB": {bar(d1, 50), bar(d2, 51), bar(d3, 52)},
	})
	require.NoError(t, err)
	require.NoError(t, table.Validate())

	assert.Equal(t, []time.Time{d1, d2, d3}, table.Index)
	assert.Equal(t, []string{"AAA", "BBB"}, table.Symbols())

	closes, err := table.Closes("AAA")
	require.NoError(t, err)
	assert.Equal(t, 101.0, closes[0])
	assert.True(t, math.IsNaN(closes[1]), "missing bar must be a gap, not zero")
	assert.Equal(t, 103.0, closes[2])

	_, err = table.Closes("ZZZ")
	assert.Error(t, err)
}

func TestNewPriceTable_RejectsDuplicateTimestamps(t *testing.T) {
	d1 := time.Date(2025, time.January, 2, 0, 0, 0, 0, time.UTC)
	_, err := NewPriceTable(map[string][]*TimeSeriesData{"AAA": {bar(d1, 1), bar(d1, 2)}})
	assert.Error(t, err)
}

func TestBarPrice_FallsBackToClose(t *testing.T) {
	b := Bar{TimeSeriesOHLCV: TimeSeriesOHLCV{Close: null.FloatFrom(10)}}
	assert.Equal(t, 10.0, b.Price())

	b.AdjustedClose = null.FloatFrom(9.5)
	assert.Equal(t, 9.5, b.Price())

	assert.True(t, math.IsNaN(Bar{}.Price()))
}

func TestPriceTable_SinceAndSubset(t *testing.T) {
	d1 := time.Date(2025, time.January, 2, 0, 0, 0, 0, time.UTC)
	rows := map[string][]*TimeSeriesData{
		"AAA": {bar(d1, 1), bar(d1.AddDate(0, 0, 1), 2), bar(d1.AddDate(0, 0, 2), 3)},
		"BBB": {bar(d1, 4), bar(d1.AddDate(0, 0, 1), 5), bar(d1.AddDate(0, 0, 2), 6)},
	}
	table, err := NewPriceTable(rows)
	require.NoError(t, err)

	recent := table.Since(d1.AddDate(0, 0, 1))
	assert.Equal(t, 2, recent.Len())
	closes, _ := recent.Closes("BBB")
	assert.Equal(t, []float64{5, 6}, closes)

	sub, err := table.Subset([]string{"BBB"})
	require.NoError(t, err)
	assert.Equal(t, []string{"BBB"}, sub.Symbols())

	_, err = table.Subset([]string{"CCC"})
	assert.Error(t, err)
}
