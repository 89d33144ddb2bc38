package core

import (
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/xuri/excelize/v2"
	ex "quantlab/data/extensions"
	sm "quantlab/models"
)

const (
	metricsSheet    = "Metrics"
	equitySheet     = "Equity"
	allocationSheet = "Allocation"
)

// Report is what the workbook export writes, either part may be nil
type Report struct {
	Performance *sm.PerformanceResponse
	Allocation  *sm.AllocationResponse
}

// WriteReport writes an xlsx workbook with Metrics, Equity and Allocation sheets
func WriteReport(w io.Writer, report Report) error {
	if report.Performance == nil && report.Allocation == nil {
		return errors.New("report has nothing to write")
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", metricsSheet); err != nil {
		return err
	}
	for _, name := range []string{equitySheet, allocationSheet} {
		if _, err := f.NewSheet(name); err != nil {
			return fmt.Errorf("failed to add sheet %s: %w", name, err)
		}
	}

	if err := writeMetricsSheet(f, report.Performance); err != nil {
		return err
	}
	if err := writeEquitySheet(f, report.Performance); err != nil {
		return err
	}
	if err := writeAllocationSheet(f, report.Allocation); err != nil {
		return err
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

func writeRows(f *excelize.File, sheet string, rows [][]any) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write %s row %d: %w", sheet, i+1, err)
		}
	}
	return nil
}

// cellValue keeps numbers numeric and spells out the non-finite ones
func cellValue(v float64) any {
	switch {
	case math.IsNaN(v):
		return ""
	case math.IsInf(v, 1):
		return "inf"
	case math.IsInf(v, -1):
		return "-inf"
	}
	return v
}

func writeMetricsSheet(f *excelize.File, perf *sm.PerformanceResponse) error {
	rows := [][]any{{
		"Symbol", "Sharpe", "Sortino", "Max Drawdown", "Alpha", "Beta", "CVaR",
		"Observations", "Total Return", "Annualized Return", "Annualized Volatility", "Win Rate", "VaR", "Parametric VaR",
	}}
	if perf != nil {
		for _, r := range perf.Results {
			m, s := r.Metrics, r.Summary
			rows = append(rows, []any{
				r.Symbol,
				cellValue(float64(m.Sharpe)), cellValue(float64(m.Sortino)), cellValue(float64(m.MaxDrawdown)),
				cellValue(float64(m.Alpha)), cellValue(float64(m.Beta)), cellValue(float64(m.CVaR)),
				s.Observations,
				cellValue(float64(s.TotalReturn)), cellValue(float64(s.AnnualizedReturn)), cellValue(float64(s.AnnualizedVolatility)),
				cellValue(float64(s.WinRate)), cellValue(float64(s.ValueAtRisk)), cellValue(float64(s.ParametricVaR)),
			})
		}
	}
	return writeRows(f, metricsSheet, rows)
}

// writeEquitySheet is long format, the curves of different symbols skip different gaps
func writeEquitySheet(f *excelize.File, perf *sm.PerformanceResponse) error {
	rows := [][]any{{"Symbol", "Date", "Equity", "Drawdown"}}
	if perf != nil {
		for _, r := range perf.Results {
			for i, x := range r.EquityCurve.X {
				row := []any{r.Symbol, x, "", ""}
				if y := r.EquityCurve.Y[i]; y.Valid {
					row[2] = y.Float64
				}
				if i < len(r.Drawdown.Y) && r.Drawdown.Y[i].Valid {
					row[3] = r.Drawdown.Y[i].Float64
				}
				rows = append(rows, row)
			}
		}
	}
	return writeRows(f, equitySheet, rows)
}

func writeAllocationSheet(f *excelize.File, alloc *sm.AllocationResponse) error {
	rows := [][]any{{"Symbol", "Weight", "Expected Return", "Note"}}
	if alloc != nil {
		for _, s := range ex.SortedKeys(alloc.Weights) {
			rows = append(rows, []any{s, alloc.Weights[s], cellValue(alloc.ExpectedReturns[s]), ""})
		}
		for _, d := range alloc.Dropped {
			rows = append(rows, []any{d.Symbol, 0.0, "", "dropped: " + d.Reason})
		}
		rows = append(rows,
			[]any{},
			[]any{"Method", alloc.Method},
			[]any{"Portfolio Expected Return", cellValue(float64(alloc.ExpectedReturn))},
			[]any{"Portfolio Volatility", cellValue(float64(alloc.Volatility))},
			[]any{"Regularized", alloc.Regularized},
		)
	}
	return writeRows(f, allocationSheet, rows)
}
