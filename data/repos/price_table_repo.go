package repos

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	m "quantlab/data/models"
	q "quantlab/data/queries"
)

// GetPriceTable loads the stored bars of every symbol within the lookback window and aligns them.
// A requested symbol with no stored data is an error, not an empty column.
func (pg *Postgres) GetPriceTable(ctx context.Context, symbols []string, lookback time.Duration) (*m.PriceTable, error) {
	args := pgx.NamedArgs{
		"symbols": symbols,
		"cutoff":  time.Now().Add(-lookback),
	}

	rows, err := Query[m.SymbolTimeSeriesData](ctx, pg, q.Get(q.QueryHelper.Select.PriceTable), args)
	if err != nil {
		return nil, fmt.Errorf("unable to query price table for %v: %w", symbols, err)
	}

	grouped := make(map[string][]*m.TimeSeriesData, len(symbols))
	for _, row := range rows {
		grouped[row.Symbol] = append(grouped[row.Symbol], &row.TimeSeriesData)
	}

	for _, s := range symbols {
		if len(grouped[s]) == 0 {
			return nil, fmt.Errorf("no stored prices for %s in the last %s", s, lookback)
		}
	}

	return m.NewPriceTable(grouped)
}
