package alpha_vantage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/guregu/null/v6"
	"golang.org/x/sync/errgroup"

	c "quantlab/api"
	e "quantlab/data/extensions"
	m "quantlab/data/models"
)

// public
const (
	HostDefault = "www.alphavantage.co"
)

// private
const (
	outputSizeCompact = "compact"
	outputSizeFull    = "full"
	defaultDataType   = "json"

	// compact responses carry the latest 100 bars
	compactBars = 100

	// api request elements
	query      = "query"
	symbol     = "symbol"
	function   = "function"
	outputSize = "outputsize"
)

var (
	// ErrProvider is returned when alpha vantage answers 200 with an error or throttling note instead of data
	ErrProvider = errors.New("alpha vantage rejected the request")

	timeSeriesDateFormats = []string{
		time.DateOnly,
		time.DateTime,
	}

	providerMessageKeys = []string{"Error Message", "Note", "Information"}
)

type ohlcvField struct {
	suffix string
	set    func(*m.TimeSeriesOHLCV, null.Float)
}

var ohlcvResultKeys = []ohlcvField{
	{". open", func(o *m.TimeSeriesOHLCV, v null.Float) { o.Open = v }},
	{". high", func(o *m.TimeSeriesOHLCV, v null.Float) { o.High = v }},
	{". low", func(o *m.TimeSeriesOHLCV, v null.Float) { o.Low = v }},
	{". close", func(o *m.TimeSeriesOHLCV, v null.Float) { o.Close = v }},
	{". volume", func(o *m.TimeSeriesOHLCV, v null.Float) { o.Volume = v }},
}

type AlphaVantageClient struct {
	*c.Client
	Concurrency int
}

func GetClient(settings c.ClientSettings) *AlphaVantageClient {
	if settings.Host == "" {
		settings.Host = HostDefault
	}
	return &AlphaVantageClient{
		Client:      c.ClientFactory(settings),
		Concurrency: 2,
	}
}

// https://www.alphavantage.co/documentation/#dailyadj
func (avc *AlphaVantageClient) GetStockDailyAdjustedMetrics(ctx context.Context, ticker string, full bool) (*m.TimeSeriesResult, error) {
	return avc.getTimeSeries(ctx, TimeSeriesDailyAdjusted, ticker, full)
}

// https://www.alphavantage.co/documentation/#weeklyadj
func (avc *AlphaVantageClient) GetStockWeeklyAdjustedMetrics(ctx context.Context, ticker string) (*m.TimeSeriesResult, error) {
	// the weekly endpoint always returns the full history
	return avc.getTimeSeries(ctx, TimeSeriesWeeklyAdjusted, ticker, true)
}

// GetPriceTable pulls daily adjusted bars for every symbol straight from the provider and
// outer joins them, keeping only bars inside the lookback.
func (avc *AlphaVantageClient) GetPriceTable(ctx context.Context, symbols []string, lookback time.Duration) (*m.PriceTable, error) {
	full := lookback > compactBars*TimeSeriesDailyAdjusted.BarSpacing()
	results := make([]*m.TimeSeriesResult, len(symbols))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(avc.Concurrency, 1))
	for i, s := range symbols {
		g.Go(func() error {
			res, err := avc.GetStockDailyAdjustedMetrics(ctx, s, full)
			if err != nil {
				return fmt.Errorf("error getting daily bars for %s: %w", s, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	rows := make(map[string][]*m.TimeSeriesData, len(symbols))
	for i, s := range symbols {
		rows[s] = results[i].TimeSeries
	}

	table, err := m.NewPriceTable(rows)
	if err != nil {
		return nil, err
	}

	if lookback > 0 {
		table = table.Since(time.Now().Add(-lookback))
	}
	return table, nil
}

func (avc *AlphaVantageClient) getTimeSeries(ctx context.Context, ts TimeSeries, ticker string, full bool) (*m.TimeSeriesResult, error) {
	if avc == nil || avc.Client == nil {
		return nil, errors.New("alpha vantage client has not been set")
	}

	size := outputSizeCompact
	if full {
		size = outputSizeFull
	}

	endpoint := avc.buildRequestPath(map[string]string{
		function:   ts.Function(),
		symbol:     ticker,
		outputSize: size,
	})

	response, err := avc.Client.Connection.Request(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	defer response.Body.Close()

	return parseTimeSeriesResponse(response.Body, ts)
}

func (avc *AlphaVantageClient) buildRequestPath(params map[string]string) *url.URL {
	endpoint := &url.URL{}
	endpoint.Path = query

	query := endpoint.Query()
	query.Set("apikey", avc.Client.ApiKey)
	query.Set("datatype", defaultDataType)

	for key, value := range params {
		query.Set(key, value)
	}

	endpoint.RawQuery = query.Encode()

	return endpoint
}

func parseTimeSeriesResponse(body io.Reader, ts TimeSeries) (*m.TimeSeriesResult, error) {
	raw, err := parseRawJson(body)
	if err != nil {
		return nil, err
	}

	if err := providerError(raw); err != nil {
		return nil, err
	}

	metaData, timeZone, err := parseMetaData(raw)
	if err != nil {
		return nil, err
	}

	timeSeriesData, err := parseTimeSeriesDataResult(raw, ts.TimeSeriesKey(), timeZone)
	if err != nil {
		return nil, err
	}

	return &m.TimeSeriesResult{
		Metadata:   metaData,
		TimeSeries: timeSeriesData,
	}, nil
}

func parseRawJson(reader io.Reader) (raw map[string]json.RawMessage, err error) {
	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("error reading response body: %w", err)
	}

	// converting to a <string, raw message> map
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("error unmarshaling response: %w", err)
	}

	return
}

func providerError(raw map[string]json.RawMessage) error {
	for _, key := range providerMessageKeys {
		msg, ok := raw[key]
		if !ok {
			continue
		}
		var text string
		if err := json.Unmarshal(msg, &text); err != nil {
			text = string(msg)
		}
		return fmt.Errorf("%w: %s", ErrProvider, text)
	}
	return nil
}

func parseMetaData(raw map[string]json.RawMessage) (*m.TimeSeriesMetadata, *time.Location, error) {
	var metadataElements map[string]string
	if err := json.Unmarshal(raw["Meta Data"], &metadataElements); err != nil {
		return nil, nil, fmt.Errorf("error unmarshaling meta data: %w", err)
	}

	metaDataKeys := slices.Collect(maps.Keys(metadataElements))
	find := func(suffix string) (string, error) {
		return e.FilterSingle(metaDataKeys, func(s string) bool { return strings.HasSuffix(s, suffix) })
	}

	symbolKey, err := find(". Symbol")
	if err != nil {
		return nil, nil, fmt.Errorf("error extracting symbol for meta data")
	}

	timeZoneKey, err := find(". Time Zone")
	if err != nil {
		return nil, nil, fmt.Errorf("error extracting time zone for meta data")
	}

	timeZone, err := getTimeZone(metadataElements[timeZoneKey])
	if err != nil {
		return nil, nil, fmt.Errorf("error converting time zone key %s, to time.Location: %w", metadataElements[timeZoneKey], err)
	}

	lastRefreshedKey, err := find(". Last Refreshed")
	if err != nil {
		return nil, nil, fmt.Errorf("error extracting last refreshed date")
	}

	lastRefreshed, err := parseDate(metadataElements[lastRefreshedKey], timeZone)
	if err != nil {
		return nil, nil, fmt.Errorf("error parsing last refreshed date: %w", err)
	}

	res := m.TimeSeriesMetadata{
		Symbol:        metadataElements[symbolKey],
		LastRefreshed: lastRefreshed,
	}

	return &res, timeZone, nil
}

// parseTimeSeriesDataResult returns the bars in ascending timestamp order
func parseTimeSeriesDataResult(raw map[string]json.RawMessage, key string, location *time.Location) ([]*m.TimeSeriesData, error) {
	body, ok := raw[key]
	if !ok {
		return nil, fmt.Errorf("error finding %q in response", key)
	}

	var timeSeriesElements map[string]map[string]string
	if err := json.Unmarshal(body, &timeSeriesElements); err != nil {
		return nil, fmt.Errorf("error unmarshaling time series: %w", err)
	}

	timeSeries := make([]*m.TimeSeriesData, 0, len(timeSeriesElements))
	for timeSeriesKey, timeSeriesValue := range timeSeriesElements {
		timestamp, err := parseDate(timeSeriesKey, location)
		if err != nil {
			return nil, fmt.Errorf("error converting TIMESTAMP from string to time.Time: %w", err)
		}

		ohlcv, err := parseOHLCV(timeSeriesValue)
		if err != nil {
			return nil, fmt.Errorf("error parsing OHLCV for %s: %w", timeSeriesKey, err)
		}

		timeSeries = append(timeSeries, &m.TimeSeriesData{
			Timestamp:       timestamp,
			TimeSeriesOHLCV: ohlcv,
			AdjustedClose:   parseFloat(valueBySuffix(timeSeriesValue, ". adjusted close")),
			DividendAmount:  parseFloat(valueBySuffix(timeSeriesValue, ". dividend amount")),
		})
	}

	slices.SortFunc(timeSeries, func(a, b *m.TimeSeriesData) int {
		return a.Timestamp.Compare(b.Timestamp)
	})

	return timeSeries, nil
}

func parseOHLCV(value map[string]string) (res m.TimeSeriesOHLCV, err error) {
	found := 0
	for _, field := range ohlcvResultKeys {
		raw := valueBySuffix(value, field.suffix)
		if raw == "" {
			continue
		}
		found++
		field.set(&res, parseFloat(raw))
	}

	if found == 0 {
		return res, fmt.Errorf("no OHLCV fields in bar, available headers: %v", e.SortedKeys(value))
	}
	return
}

// valueBySuffix matches the numbered headers ("4. close") case insensitively. "close" must not
// pick up "adjusted close", so a header only matches when the suffix starts right after the number.
func valueBySuffix(values map[string]string, suffix string) string {
	suffix = strings.ToLower(suffix)
	for key, v := range values {
		k := strings.ToLower(key)
		idx := strings.Index(k, ". ")
		if idx < 0 {
			continue
		}
		if k[idx:] == suffix {
			return v
		}
	}
	return ""
}

func getTimeZone(location string) (*time.Location, error) {
	var loc string
	switch strings.ToUpper(location) {
	case "US/EASTERN":
		loc = "America/New_York"
	case "", "UTC":
		return time.UTC, nil
	default:
		loc = location
	}

	res, err := time.LoadLocation(loc)
	if err != nil {
		return nil, fmt.Errorf("error parsing time zone %s in time.LoadLocation", loc)
	}

	return res, nil
}

func parseDate(dateString string, location *time.Location) (time.Time, error) {
	for _, format := range timeSeriesDateFormats {
		t, err := time.ParseInLocation(format, dateString, location)
		if err != nil {
			continue
		}
		return t, nil
	}
	return time.Time{}, fmt.Errorf("error converting date %s to time.Time", dateString)
}

// parseFloat leaves blank or malformed values as a gap instead of a zero
func parseFloat(val string) null.Float {
	if val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return null.FloatFrom(f)
		}
	}
	return null.Float{}
}
