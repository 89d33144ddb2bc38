package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	ex "quantlab/data/extensions"
	m "quantlab/data/models"
)

// ErrRecentlyRefreshed means a sync was skipped because the stored data is still fresh
var ErrRecentlyRefreshed = errors.New("symbol was refreshed recently")

// PriceStore is the slice of the postgres repos a sync writes through
type PriceStore interface {
	GetMetaDataBySymbol(ctx context.Context, symbol string) (*m.TimeSeriesMetadata, error)
	InsertNewMetaData(ctx context.Context, metadata *m.TimeSeriesMetadata, tx *pgx.Tx) error
	GetMostRecentTimestampForSymbol(ctx context.Context, symbol string) (time.Time, error)
	GetTransaction(ctx context.Context) (pgx.Tx, error)
	InsertTimeSeriesData(ctx context.Context, data []*m.TimeSeriesData, tx *pgx.Tx) (int64, error)
	UpdateLastRefreshedDate(ctx context.Context, symbol string, lastRefreshed time.Time, tx *pgx.Tx) error
}

// MarketData is the provider a sync pulls daily bars from
type MarketData interface {
	GetStockDailyAdjustedMetrics(ctx context.Context, ticker string, full bool) (*m.TimeSeriesResult, error)
}

type SyncResult struct {
	Symbol        string
	LastRefreshed time.Time
	Received      int
	Inserted      int64
	Skipped       bool
}

// SyncSymbolTimeSeriesData pulls the provider's daily bars for a symbol and stores the ones newer than what we have
func (sc *ServiceContext) SyncSymbolTimeSeriesData(ctx context.Context, symbol string) (*SyncResult, error) {
	if sc.Store == nil || sc.Market == nil {
		return nil, errors.New("sync needs both a price store and a market data client")
	}
	log := sc.log().WithField("symbol", symbol)

	md, err := sc.Store.GetMetaDataBySymbol(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("error determining if meta data exists in sync data: %w", err)
	}

	if md == nil {
		log.Info("adding new symbol to db")
		md = &m.TimeSeriesMetadata{
			Symbol:        symbol,
			LastRefreshed: time.Date(1900, 1, 1, 0, 0, 0, 0, time.UTC),
		}

		if err := sc.Store.InsertNewMetaData(ctx, md, nil); err != nil {
			return nil, fmt.Errorf("error adding %s to db: %w", symbol, err)
		}
	}

	refreshAfter := sc.RefreshAfter
	if refreshAfter <= 0 {
		refreshAfter = 24 * time.Hour
	}
	if md.LastRefreshed.After(time.Now().Add(-refreshAfter)) {
		return &SyncResult{Symbol: symbol, LastRefreshed: md.LastRefreshed, Skipped: true},
			fmt.Errorf("%w: %s was refreshed at %s", ErrRecentlyRefreshed, symbol, ex.FmtShort(md.LastRefreshed))
	}

	mrd, err := sc.Store.GetMostRecentTimestampForSymbol(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("error getting most recent time series date for symbol %s: %w", symbol, err)
	}

	// a symbol with no bars, or a gap longer than a compact response covers, needs the full history
	full := mrd.IsZero() || time.Since(mrd) > 100*24*time.Hour
	tsr, err := sc.Market.GetStockDailyAdjustedMetrics(ctx, symbol, full)
	if err != nil {
		return nil, err
	}

	toInsert := ex.FilterMultiplePtr(tsr.TimeSeries, func(t *m.TimeSeriesData) bool {
		return mrd.IsZero() || t.Timestamp.After(mrd)
	})
	for _, d := range toInsert {
		d.SourceId = md.Id
	}

	tx, err := sc.Store.GetTransaction(ctx)
	if err != nil {
		return nil, fmt.Errorf("error beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx) // no-op once committed

	var ra int64
	if len(toInsert) > 0 {
		ra, err = sc.Store.InsertTimeSeriesData(ctx, toInsert, &tx)
		if err != nil {
			return nil, fmt.Errorf("error inserting time series data: %w", err)
		}
	}

	if err := sc.Store.UpdateLastRefreshedDate(ctx, symbol, tsr.Metadata.LastRefreshed, &tx); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("error committing transaction to sync symbol %s: %w", symbol, err)
	}

	sc.Telemetry.CountSyncedBars(symbol, ra)
	log.WithFields(map[string]any{"received": len(tsr.TimeSeries), "inserted": ra}).Info("symbol synced")

	return &SyncResult{
		Symbol:        symbol,
		LastRefreshed: tsr.Metadata.LastRefreshed,
		Received:      len(tsr.TimeSeries),
		Inserted:      ra,
	}, nil
}

// SyncSymbols syncs one symbol at a time, the provider quota is the bottleneck anyway.
// Fresh symbols are skipped, any other failure is collected and the rest still run.
func (sc *ServiceContext) SyncSymbols(ctx context.Context, symbols []string) ([]*SyncResult, error) {
	start := time.Now()
	defer sc.log().Elapsed("sync", start)

	var errs []error
	results := make([]*SyncResult, 0, len(symbols))
	for _, symbol := range ex.Unique(symbols) {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		res, err := sc.SyncSymbolTimeSeriesData(ctx, symbol)
		switch {
		case errors.Is(err, ErrRecentlyRefreshed):
			sc.log().WithField("symbol", symbol).Debug(err.Error())
			results = append(results, res)
		case err != nil:
			sc.log().WithField("symbol", symbol).WithError(err).Error("sync failed")
			errs = append(errs, fmt.Errorf("%s: %w", symbol, err))
		default:
			results = append(results, res)
		}
	}

	return results, errors.Join(errs...)
}
