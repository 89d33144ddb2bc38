package models

import (
	"time"

	"github.com/guregu/null/v6"
)

type TimeSeriesResult struct {
	Metadata   *TimeSeriesMetadata
	TimeSeries []*TimeSeriesData
}

type TimeSeriesMetadata struct {
	Id            int32     `db:"id"`
	Symbol        string    `db:"symbol"`
	LastRefreshed time.Time `db:"last_refreshed"`
}

// TimeSeriesOHLCV is shared between stored rows and the in memory bars of a PriceTable.
// An invalid field is a missing observation, never a zero.
type TimeSeriesOHLCV struct {
	Open   null.Float `db:"open"`
	High   null.Float `db:"high"`
	Low    null.Float `db:"low"`
	Close  null.Float `db:"close"`
	Volume null.Float `db:"volume"`
}

type TimeSeriesData struct {
	SourceId  int32     `db:"source_id"`
	Timestamp time.Time `db:"timestamp"`
	TimeSeriesOHLCV
	AdjustedClose  null.Float `db:"adjusted_close"`
	DividendAmount null.Float `db:"dividend_amount"`
}

// SymbolTimeSeriesData is a bar joined with the symbol it belongs to
type SymbolTimeSeriesData struct {
	Symbol string `db:"symbol"`
	TimeSeriesData
}
