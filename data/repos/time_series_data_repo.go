package repos

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	m "quantlab/data/models"
	q "quantlab/data/queries"
)

func (pg *Postgres) GetTimeSeriesData(ctx context.Context, symbol string) ([]*m.TimeSeriesData, error) {
	args := pgx.NamedArgs{
		"symbol": symbol,
	}

	res, err := Query[m.TimeSeriesData](ctx, pg, q.Get(q.QueryHelper.Select.TimeSeriesData), args)
	if err != nil {
		return nil, fmt.Errorf("unable to query data by symbol (%s): %w", symbol, err)
	}
	return res, nil
}

// GetMostRecentTimestampForSymbol returns the zero time when nothing is stored for the symbol
func (pg *Postgres) GetMostRecentTimestampForSymbol(ctx context.Context, symbol string) (time.Time, error) {
	args := pgx.NamedArgs{
		"symbol": symbol,
	}

	var ts *time.Time
	if err := pg.db.QueryRow(ctx, q.Get(q.QueryHelper.Select.MostRecentTimestampBySymbol), args).Scan(&ts); err != nil {
		return time.Time{}, fmt.Errorf("unable to query most recent timestamp for %s: %w", symbol, err)
	}

	if ts == nil {
		return time.Time{}, nil
	}
	return *ts, nil
}

func (pg *Postgres) InsertTimeSeriesData(ctx context.Context, data []*m.TimeSeriesData, tx *pgx.Tx) (int64, error) {
	columns := []string{
		"source_id", "timestamp", "open", "high", "low",
		"close", "volume", "adjusted_close", "dividend_amount",
	}

	entries := make([][]any, len(data))
	for i, ent := range data {
		entries[i] = []any{
			ent.SourceId, ent.Timestamp, ent.Open, ent.High, ent.Low,
			ent.Close, ent.Volume, ent.AdjustedClose, ent.DividendAmount,
		}
	}

	return pg.BulkInsert(ctx, "av_time_series_data", columns, entries, tx)
}
