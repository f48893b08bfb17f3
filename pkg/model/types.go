package model

import "time"

// Candle represents a single candlestick (OHLCV data)
type Candle struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume int64     `json:"volume"`
}

// Stock represents basic stock information
type Stock struct {
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	Exchange string `json:"exchange"` // XSTO
}

// IntradayData represents one trading day's intraday candles
type IntradayData struct {
	Ticker   string   `json:"ticker"`
	Date     string   `json:"date"` // YYYY-MM-DD
	Interval int      `json:"interval"` // minutes
	Candles  []Candle `json:"candles"`
}

// Quote is the latest observed price for a ticker
type Quote struct {
	Ticker string    `json:"ticker"`
	Price  float64   `json:"price"`
	AsOf   time.Time `json:"as_of"`
}

// Snapshot is a point-in-time observation for one ticker, derived from
// the session's intraday bars. Immutable once produced.
type Snapshot struct {
	Ticker         string    `json:"ticker" db:"ticker"`
	Date           string    `json:"date" db:"date"` // YYYY-MM-DD
	Timestamp      time.Time `json:"timestamp" db:"timestamp"`
	OpenPrice      float64   `json:"open_price" db:"open_price"`
	CurrentPrice   float64   `json:"current_price" db:"current_price"`
	High           float64   `json:"high" db:"high"`
	Low            float64   `json:"low" db:"low"`
	Volume         int64     `json:"volume" db:"volume"`
	VWAP           float64   `json:"vwap" db:"vwap"`
	Avg5Min        float64   `json:"avg_5min" db:"avg_5min"` // 0 when unavailable
	DataAgeSeconds int       `json:"data_age_seconds" db:"data_age_seconds"`
}

// Signal is produced when all entry predicates hold inside the signal
// window. At most one per ticker per day; the first qualifying snapshot wins.
type Signal struct {
	ID               string    `json:"id" db:"id"`
	Ticker           string    `json:"ticker" db:"ticker"`
	Date             string    `json:"date" db:"date"`
	SignalTime       time.Time `json:"signal_time" db:"signal_time"`
	EntryPrice       float64   `json:"entry_price" db:"entry_price"`
	OpenPrice        float64   `json:"open_price" db:"open_price"`
	VWAP             float64   `json:"vwap" db:"vwap"`
	YesterdayClose   float64   `json:"yesterday_close" db:"yesterday_close"`
	PctFromYesterday float64   `json:"pct_from_yesterday" db:"pct_from_yesterday"`
	VWAPDistancePct  float64   `json:"vwap_distance_pct" db:"vwap_distance_pct"`
	OpenDistancePct  float64   `json:"open_distance_pct" db:"open_distance_pct"`
	Confidence       float64   `json:"confidence" db:"confidence"` // 0-100, advisory
	DataAgeSeconds   int       `json:"data_age_seconds" db:"data_age_seconds"`
	Executed         bool      `json:"executed" db:"executed"`
}

// Exit reasons for a closed Trade.
const (
	ExitStopLoss     = "stop_loss"
	ExitTrailingStop = "trailing_stop"
	ExitEndOfDay     = "end_of_day"
	ExitManual       = "manual"
)

// Trade is a paper trade created from a Signal. Lifecycle open -> closed;
// mutated exactly once at close. One Trade per (ticker, date).
type Trade struct {
	ID         string     `json:"id" db:"id"`
	SignalID   string     `json:"signal_id" db:"signal_id"`
	Ticker     string     `json:"ticker" db:"ticker"`
	Date       string     `json:"date" db:"date"`
	EntryTime  time.Time  `json:"entry_time" db:"entry_time"`
	EntryPrice float64    `json:"entry_price" db:"entry_price"`
	ExitTime   *time.Time `json:"exit_time,omitempty" db:"exit_time"`
	ExitPrice  *float64   `json:"exit_price,omitempty" db:"exit_price"`
	ExitReason string     `json:"exit_reason,omitempty" db:"exit_reason"`
	PnLPct     *float64   `json:"pnl_pct,omitempty" db:"pnl_pct"`
	Notes      string     `json:"notes,omitempty" db:"notes"`
}

// IsClosed reports whether the trade has been closed.
func (t *Trade) IsClosed() bool {
	return t.ExitTime != nil
}

// EarningsRecord is read-only reference data for one earnings event.
type EarningsRecord struct {
	Ticker       string   `json:"ticker" db:"ticker"`
	CompanyName  string   `json:"company_name" db:"company_name"`
	ReportDate   string   `json:"report_date" db:"report_date"` // YYYY-MM-DD
	ReportTime   string   `json:"report_time,omitempty" db:"report_time"`
	EstimatedEPS *float64 `json:"estimated_eps,omitempty" db:"estimated_eps"`
	ReportedEPS  *float64 `json:"reported_eps,omitempty" db:"reported_eps"`
}

// SurprisePasses reports whether the earnings-surprise gate passes:
// reported EPS strictly above the estimate, both values present.
func (e *EarningsRecord) SurprisePasses() bool {
	return e.EstimatedEPS != nil && e.ReportedEPS != nil && *e.ReportedEPS > *e.EstimatedEPS
}

// WatchlistEntry is a screened stock for one trading day.
type WatchlistEntry struct {
	Ticker         string  `json:"ticker" db:"ticker"`
	Name           string  `json:"name" db:"name"`
	Date           string  `json:"date" db:"date"`
	ReportTime     string  `json:"report_time" db:"report_time"`
	TrendScore     float64 `json:"trend_score" db:"trend_score"`
	SMA200         float64 `json:"sma_200" db:"sma_200"`
	CurrentPrice   float64 `json:"current_price" db:"current_price"`
	YesterdayClose float64 `json:"yesterday_close" db:"yesterday_close"`
	Return3M       float64 `json:"return_3m" db:"return_3m"`
	Return1Y       float64 `json:"return_1y" db:"return_1y"`
	AboveSMA200    bool    `json:"above_sma_200" db:"above_sma_200"`
}
