package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/guregu/null/v6"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	ex "quantlab/data/extensions"
	m "quantlab/data/models"
	"quantlab/logger"
)

type fakeTx struct {
	pgx.Tx
	committed  bool
	rolledBack bool
}

func (f *fakeTx) Commit(ctx context.Context) error {
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback(ctx context.Context) error {
	if !f.committed {
		f.rolledBack = true
	}
	return nil
}

type fakePriceStore struct {
	mu           sync.Mutex
	metadata     map[string]*m.TimeSeriesMetadata
	mostRecent   map[string]time.Time
	inserted     []*m.TimeSeriesData
	refreshed    map[string]time.Time
	tx           *fakeTx
	failOnInsert bool
}

func newFakePriceStore() *fakePriceStore {
	return &fakePriceStore{
		metadata:   make(map[string]*m.TimeSeriesMetadata),
		mostRecent: make(map[string]time.Time),
		refreshed:  make(map[string]time.Time),
	}
}

func (f *fakePriceStore) GetMetaDataBySymbol(ctx context.Context, symbol string) (*m.TimeSeriesMetadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.metadata[symbol], nil
}

func (f *fakePriceStore) InsertNewMetaData(ctx context.Context, metadata *m.TimeSeriesMetadata, tx *pgx.Tx) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	metadata.Id = int32(len(f.metadata) + 1)
	f.metadata[metadata.Symbol] = metadata
	return nil
}

func (f *fakePriceStore) GetMostRecentTimestampForSymbol(ctx context.Context, symbol string) (time.Time, error) {
	return f.mostRecent[symbol], nil
}

func (f *fakePriceStore) GetTransaction(ctx context.Context) (pgx.Tx, error) {
	f.tx = &fakeTx{}
	return f.tx, nil
}

func (f *fakePriceStore) InsertTimeSeriesData(ctx context.Context, data []*m.TimeSeriesData, tx *pgx.Tx) (int64, error) {
	if f.failOnInsert {
		return 0, errors.New("insert failed")
	}
	f.inserted = append(f.inserted, data...)
	return int64(len(data)), nil
}

func (f *fakePriceStore) UpdateLastRefreshedDate(ctx context.Context, symbol string, lastRefreshed time.Time, tx *pgx.Tx) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshed[symbol] = lastRefreshed
	return nil
}

func (f *fakePriceStore) refreshedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.refreshed)
}

type fakeMarketData struct {
	bars  []time.Time
	calls map[string]bool
}

func (f *fakeMarketData) GetStockDailyAdjustedMetrics(ctx context.Context, ticker string, full bool) (*m.TimeSeriesResult, error) {
	if f.calls == nil {
		f.calls = make(map[string]bool)
	}
	f.calls[ticker] = full

	data := make([]*m.TimeSeriesData, len(f.bars))
	for i, ts := range f.bars {
		data[i] = &m.TimeSeriesData{
			Timestamp:       ts,
			TimeSeriesOHLCV: m.TimeSeriesOHLCV{Close: null.FloatFrom(100 + float64(i))},
		}
	}
	return &m.TimeSeriesResult{
		Metadata:   &m.TimeSeriesMetadata{Symbol: ticker, LastRefreshed: f.bars[len(f.bars)-1]},
		TimeSeries: data,
	}, nil
}

func syncContext(store PriceStore, market MarketData) *ServiceContext {
	return &ServiceContext{Store: store, Market: market, Logger: logger.Nop(), RefreshAfter: 24 * time.Hour}
}

func TestSyncSymbolTimeSeriesData_NewSymbolGetsFullHistory(t *testing.T) {
	store := newFakePriceStore()
	market := &fakeMarketData{bars: ex.BusinessDays(testStart, 5)}
	sc := syncContext(store, market)

	res, err := sc.SyncSymbolTimeSeriesData(context.Background(), "AAA")
	require.NoError(t, err)

	assert.True(t, market.calls["AAA"], "no stored bars means a full request")
	assert.EqualValues(t, 5, res.Inserted)
	assert.Equal(t, 5, res.Received)
	require.Contains(t, store.metadata, "AAA")
	for _, d := range store.inserted {
		assert.Equal(t, store.metadata["AAA"].Id, d.SourceId)
	}
	assert.True(t, store.tx.committed)
	assert.Equal(t, market.bars[4], store.refreshed["AAA"])
}

func TestSyncSymbolTimeSeriesData_OnlyInsertsNewerBars(t *testing.T) {
	days := ex.BusinessDays(time.Now().AddDate(0, 0, -10), 6)
	store := newFakePriceStore()
	store.metadata["AAA"] = &m.TimeSeriesMetadata{Id: 7, Symbol: "AAA", LastRefreshed: days[2]}
	store.mostRecent["AAA"] = days[2]
	market := &fakeMarketData{bars: days}
	sc := syncContext(store, market)

	res, err := sc.SyncSymbolTimeSeriesData(context.Background(), "AAA")
	require.NoError(t, err)

	assert.False(t, market.calls["AAA"], "a recent gap is covered by a compact request")
	assert.EqualValues(t, 3, res.Inserted)
	for _, d := range store.inserted {
		assert.True(t, d.Timestamp.After(days[2]))
		assert.EqualValues(t, 7, d.SourceId)
	}
}

func TestSyncSymbolTimeSeriesData_SkipsFreshSymbols(t *testing.T) {
	store := newFakePriceStore()
	store.metadata["AAA"] = &m.TimeSeriesMetadata{Id: 1, Symbol: "AAA", LastRefreshed: time.Now().Add(-time.Hour)}
	market := &fakeMarketData{bars: ex.BusinessDays(testStart, 3)}
	sc := syncContext(store, market)

	res, err := sc.SyncSymbolTimeSeriesData(context.Background(), "AAA")
	assert.ErrorIs(t, err, ErrRecentlyRefreshed)
	assert.True(t, res.Skipped)
	assert.Empty(t, market.calls)
}

func TestSyncSymbolTimeSeriesData_RollsBackOnInsertFailure(t *testing.T) {
	store := newFakePriceStore()
	store.failOnInsert = true
	sc := syncContext(store, &fakeMarketData{bars: ex.BusinessDays(testStart, 3)})

	_, err := sc.SyncSymbolTimeSeriesData(context.Background(), "AAA")
	require.Error(t, err)
	assert.True(t, store.tx.rolledBack)
	assert.False(t, store.tx.committed)
	assert.NotContains(t, store.refreshed, "AAA")
}

func TestSyncSymbols_SkipsFreshAndCollectsFailures(t *testing.T) {
	store := newFakePriceStore()
	store.metadata["FRESH"] = &m.TimeSeriesMetadata{Id: 1, Symbol: "FRESH", LastRefreshed: time.Now()}
	sc := syncContext(store, &fakeMarketData{bars: ex.BusinessDays(testStart, 3)})

	results, err := sc.SyncSymbols(context.Background(), []string{"FRESH", "AAA", "AAA"})
	require.NoError(t, err)
	require.Len(t, results, 2, "duplicates are synced once")
	assert.True(t, results[0].Skipped)
	assert.EqualValues(t, 3, results[1].Inserted)

	store.failOnInsert = true
	_, err = sc.SyncSymbols(context.Background(), []string{"BBB"})
	assert.ErrorContains(t, err, "BBB")
}
