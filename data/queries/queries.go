package queries

import (
	"embed"
	"fmt"
)

//go:embed insert/*.sql schema/*.sql select/*.sql update/*.sql
var Files embed.FS

// ^^^ the go:embed directive is used to embed the files in the queries package
// meaning on compile time it will convert the files to binary data and embed it in the queries package

type InsertQueries struct {
	AnalyticsRun string
	Metadata     string
}

type SchemaQueries struct {
	Tables string
}

type SelectQueries struct {
	AllMetaData                 string
	AnalyticsRunById            string
	MetaDataBySymbol            string
	MostRecentTimestampBySymbol string
	PriceTable                  string
	TimeSeriesData              string
}

type UpdateQueries struct {
	AnalyticsRun      string
	LastRefreshedDate string
}

type QueryHelperStruct struct {
	Insert InsertQueries
	Schema SchemaQueries
	Select SelectQueries
	Update UpdateQueries
}

var QueryHelper = QueryHelperStruct{
	Insert: InsertQueries{
		AnalyticsRun: "insert/analytics_run.sql",
		Metadata:     "insert/metadata.sql",
	},
	Schema: SchemaQueries{
		Tables: "schema/tables.sql",
	},
	Select: SelectQueries{
		AllMetaData:                 "select/all_meta_data.sql",
		AnalyticsRunById:            "select/analytics_run_by_id.sql",
		MetaDataBySymbol:            "select/meta_data_by_symbol.sql",
		MostRecentTimestampBySymbol: "select/most_recent_timestamp_by_symbol.sql",
		PriceTable:                  "select/price_table.sql",
		TimeSeriesData:              "select/time_series_data.sql",
	},
	Update: UpdateQueries{
		AnalyticsRun:      "update/analytics_run.sql",
		LastRefreshedDate: "update/last_refreshed_date.sql",
	},
}

func Get(path string) string {
	content, err := Files.ReadFile(path)
	if err != nil {
		panic(fmt.Errorf("error reading query file: %w", err))
	}

	return string(content)
}
