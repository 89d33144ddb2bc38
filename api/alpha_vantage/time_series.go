package alpha_vantage

import (
	"strings"
	"time"
)

type TimeSeries uint8

// TimeSeries specifies a frequency to query for stock data.
const (
	TimeSeriesDailyAdjusted TimeSeries = iota
	TimeSeriesWeeklyAdjusted
)

func (t TimeSeries) Name() string {
	switch t {
	case TimeSeriesDailyAdjusted:
		return "TimeSeriesDailyAdjusted"
	case TimeSeriesWeeklyAdjusted:
		return "TimeSeriesWeeklyAdjusted"
	default:
		return ""
	}
}

func (t TimeSeries) Function() string {
	switch t {
	case TimeSeriesDailyAdjusted:
		return "TIME_SERIES_DAILY_ADJUSTED"
	case TimeSeriesWeeklyAdjusted:
		return "TIME_SERIES_WEEKLY_ADJUSTED"
	default:
		return ""
	}
}

// TimeSeriesKey is the top level json object holding the bars
func (t TimeSeries) TimeSeriesKey() string {
	switch t {
	case TimeSeriesDailyAdjusted:
		return "Time Series (Daily)"
	case TimeSeriesWeeklyAdjusted:
		return "Weekly Adjusted Time Series"
	default:
		return ""
	}
}

func (t TimeSeries) IsAdjusted() bool {
	return strings.HasSuffix(t.Function(), "_ADJUSTED")
}

// BarSpacing is the nominal distance between two bars, used to decide how much history to request
func (t TimeSeries) BarSpacing() time.Duration {
	switch t {
	case TimeSeriesWeeklyAdjusted:
		return 7 * 24 * time.Hour
	default:
		return 24 * time.Hour
	}
}
