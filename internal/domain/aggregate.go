package domain

import "time"

// StoreDailyAggregate is the base gold projection: one row per store per day.
type StoreDailyAggregate struct {
	Day          time.Time `json:"day"`
	StoreID      string    `json:"store_id"`
	TxnCount     int64     `json:"txn_count"`
	GrossRevenue float64   `json:"gross_revenue"`
	AvgTicket    float64   `json:"avg_ticket"`
}

// ProductDailyAggregate is one row per resolved product per day.
type ProductDailyAggregate struct {
	Day       time.Time `json:"day"`
	ProductID string    `json:"product_id"`
	Units     float64   `json:"units"`
	Revenue   float64   `json:"revenue"`
	LineCount int64     `json:"line_count"`
}

// DailySummary is derived from StoreDailyAggregate, which is why the refresh
// order is fixed: base aggregates before aggregates-of-aggregates.
type DailySummary struct {
	Day          time.Time `json:"day"`
	StoreCount   int64     `json:"store_count"`
	TxnCount     int64     `json:"txn_count"`
	GrossRevenue float64   `json:"gross_revenue"`
}

// RefreshState tracks aggregate freshness. Watermark is the newest silver
// processed_at covered by the current snapshots; LastRefreshedAt is exposed
// on every read surface so consumers can detect staleness. Both are
// monotonically non-decreasing.
type RefreshState struct {
	LastRefreshedAt time.Time `json:"last_refreshed_at"`
	Watermark       time.Time `json:"watermark"`
}
