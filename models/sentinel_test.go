package models

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSentinelFloat_Marshal(t *testing.T) {
	bundle := MetricsBundle{
		Sharpe:      1.5,
		Sortino:     SentinelFloat(math.Inf(1)),
		MaxDrawdown: -0.25,
		Alpha:       SentinelFloat(math.NaN()),
		Beta:        SentinelFloat(math.NaN()),
		CVaR:        SentinelFloat(math.Inf(-1)),
	}

	data, err := json.Marshal(bundle)
	require.NoError(t, err)
	assert.JSONEq(t, `{"sharpe":1.5,"sortino":"inf","maxDrawdown":-0.25,"alpha":null,"beta":null,"cvar":"-inf"}`, string(data))

	var back MetricsBundle
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, math.IsInf(float64(back.Sortino), 1))
	assert.True(t, math.IsInf(float64(back.CVaR), -1))
	assert.True(t, math.IsNaN(float64(back.Alpha)))
	assert.Equal(t, SentinelFloat(1.5), back.Sharpe)
}

func TestSentinelFloat_UnmarshalRejectsGarbage(t *testing.T) {
	var f SentinelFloat
	assert.Error(t, json.Unmarshal([]byte(`"infinity"`), &f))
}

func TestNewChartSeries(t *testing.T) {
	dates := []time.Time{
		time.Date(2025, time.March, 3, 0, 0, 0, 0, time.UTC),
		time.Date(2025, time.March, 4, 0, 0, 0, 0, time.UTC),
	}
	series := NewChartSeries(dates, []float64{1.1, math.NaN()})

	data, err := json.Marshal(series)
	require.NoError(t, err)
	assert.JSONEq(t, `{"x":["2025-03-03","2025-03-04"],"y":[1.1,null]}`, string(data))

	undated := NewChartSeries(nil, []float64{1})
	assert.Equal(t, []string{"0"}, undated.X)
}

func TestConvertFrequencyToString(t *testing.T) {
	assert.Equal(t, "days", ConvertFrequencyToString(Daily))
	assert.Equal(t, "weeks", ConvertFrequencyToString(Weekly))
	assert.Equal(t, "", ConvertFrequencyToString(365))
}
