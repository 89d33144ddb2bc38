package models

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/guregu/null/v6"
)

// SentinelFloat keeps IEEE specials out of JSON: +Inf is "inf", -Inf is "-inf" and NaN is null
type SentinelFloat float64

func (f SentinelFloat) MarshalJSON() ([]byte, error) {
	v := float64(f)
	switch {
	case math.IsNaN(v):
		return []byte("null"), nil
	case math.IsInf(v, 1):
		return []byte(`"inf"`), nil
	case math.IsInf(v, -1):
		return []byte(`"-inf"`), nil
	}
	return json.Marshal(v)
}

func (f *SentinelFloat) UnmarshalJSON(data []byte) error {
	switch string(data) {
	case "null":
		*f = SentinelFloat(math.NaN())
		return nil
	case `"inf"`:
		*f = SentinelFloat(math.Inf(1))
		return nil
	case `"-inf"`:
		*f = SentinelFloat(math.Inf(-1))
		return nil
	}

	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("invalid sentinel float %s: %w", data, err)
	}
	*f = SentinelFloat(v)
	return nil
}

// NullableFloats maps non-finite values to JSON null
func NullableFloats(values []float64) []null.Float {
	res := make([]null.Float, len(values))
	for i, v := range values {
		res[i] = null.NewFloat(v, !math.IsNaN(v) && !math.IsInf(v, 0))
	}
	return res
}

// ChartSeries is an x/y pair of arrays, the shape the dashboard charts consume
type ChartSeries struct {
	X []string     `json:"x"`
	Y []null.Float `json:"y"`
}

func NewChartSeries(dates []time.Time, values []float64) ChartSeries {
	x := make([]string, len(values))
	for i := range values {
		if i < len(dates) {
			x[i] = dates[i].Format(time.DateOnly)
		} else {
			x[i] = fmt.Sprint(i)
		}
	}
	return ChartSeries{X: x, Y: NullableFloats(values)}
}
