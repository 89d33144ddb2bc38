package core

import (
	"fmt"
	"math"
	"time"

	"github.com/vicanso/go-charts/v2"
	ex "quantlab/data/extensions"
)

const (
	chartWidth  = 1000
	chartHeight = 500
)

// RenderLineChartPNG draws one dated series as a png line chart. Non-finite points are skipped.
func RenderLineChartPNG(title, subtitle string, dates []time.Time, values []float64) ([]byte, error) {
	labels := make([]string, 0, len(values))
	points := make([]float64, 0, len(values))
	for i, v := range values {
		if !ex.IsFinite(v) {
			continue
		}
		if i < len(dates) {
			labels = append(labels, ex.FmtShort(dates[i]))
		} else {
			labels = append(labels, fmt.Sprint(i))
		}
		points = append(points, v)
	}

	if len(points) < 2 {
		return nil, fmt.Errorf("%w: need at least 2 finite points to draw %s", ErrInsufficientData, title)
	}

	yMin, yMax := points[0], points[0]
	for _, v := range points {
		yMin = math.Min(yMin, v)
		yMax = math.Max(yMax, v)
	}
	pad := (yMax - yMin) * 0.05
	if pad == 0 {
		pad = math.Max(math.Abs(yMax)*0.05, 0.01)
	}
	yMin -= pad
	yMax += pad

	split := len(labels) / 8
	if split < 1 {
		split = 1
	}

	p, err := charts.LineRender(
		[][]float64{points},
		charts.TitleTextOptionFunc(title, subtitle),
		charts.XAxisOptionFunc(charts.XAxisOption{
			Data:        labels,
			SplitNumber: split,
			BoundaryGap: charts.FalseFlag(),
		}),
		charts.YAxisOptionFunc(charts.YAxisOption{
			Min:         &yMin,
			Max:         &yMax,
			DivideCount: 5,
		}),
		charts.ThemeOptionFunc(charts.ThemeLight),
		charts.WidthOptionFunc(chartWidth),
		charts.HeightOptionFunc(chartHeight),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to render chart: %w", err)
	}

	buf, err := p.Bytes()
	if err != nil {
		return nil, fmt.Errorf("failed to generate chart bytes: %w", err)
	}
	return buf, nil
}

func RenderEquityCurvePNG(symbol string, curve EquityCurve) ([]byte, error) {
	return RenderLineChartPNG(symbol+" equity curve", "growth of 1.0", curve.Dates, curve.Values)
}

func RenderDrawdownPNG(symbol string, drawdown DrawdownSeries) ([]byte, error) {
	return RenderLineChartPNG(symbol+" drawdown", "decline from running peak", drawdown.Dates, drawdown.Values)
}
