package backtest

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"svea/internal/config"
	"svea/internal/indicator"
	"svea/internal/market"
	"svea/internal/provider"
	"svea/internal/screener"
	"svea/internal/simulator"
	"svea/pkg/model"
)

// Stages at which a backtest candidate can drop out.
const (
	StageMomentum = "momentum"
	StageSurprise = "surprise"
	StageData     = "data"
	StageSignal   = "signal"
	StageTraded   = "traded"
)

// Trade is one backtested earnings-day candidate. Stage records how far
// the candidate got; only StageTraded rows carry entry and exit fields.
type Trade struct {
	Ticker     string    `json:"ticker"`
	Date       string    `json:"date"`
	Stage      string    `json:"stage"`
	SkipReason string    `json:"skip_reason,omitempty"`
	TrendScore float64   `json:"trend_score,omitempty"`
	EntryTime  time.Time `json:"entry_time,omitempty"`
	EntryPrice float64   `json:"entry_price,omitempty"`
	ExitTime   time.Time `json:"exit_time,omitempty"`
	ExitPrice  float64   `json:"exit_price,omitempty"`
	ExitReason string    `json:"exit_reason,omitempty"`
	PnLPct     float64   `json:"pnl_pct,omitempty"`
}

// Result holds every evaluated candidate plus aggregate metrics.
type Result struct {
	From    string  `json:"from"`
	To      string  `json:"to"`
	Trades  []Trade `json:"trades"`
	Metrics Metrics `json:"metrics"`
}

// Progress is called after each candidate is evaluated.
type Progress func(done, total int)

// maxHourlyRangeDays caps range-based hourly requests; Yahoo serves
// hourly bars roughly two years back.
const maxHourlyRangeDays = 720

// Engine replays the screen-and-signal pipeline over historical earnings
// dates using hourly bars. Hourly bars cannot resolve the 5-minute
// trailing average, so the falling-knife check degrades to requiring a
// bullish entry bar (close at or above open).
type Engine struct {
	provider provider.Provider
	schedule *market.Schedule
	cfg      *config.Config
	log      *zap.SugaredLogger
	clock    market.Clock

	hourlyCache map[string]map[string][]model.Candle // ticker -> date -> bars
}

// NewEngine creates a backtest engine.
func NewEngine(p provider.Provider, schedule *market.Schedule, cfg *config.Config, log *zap.SugaredLogger) *Engine {
	return &Engine{
		provider:    p,
		schedule:    schedule,
		cfg:         cfg,
		log:         log,
		clock:       time.Now,
		hourlyCache: make(map[string]map[string][]model.Candle),
	}
}

// Run evaluates every earnings record, oldest report date first.
func (e *Engine) Run(ctx context.Context, records []model.EarningsRecord, progress Progress) (*Result, error) {
	sorted := make([]model.EarningsRecord, len(records))
	copy(sorted, records)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].ReportDate != sorted[j].ReportDate {
			return sorted[i].ReportDate < sorted[j].ReportDate
		}
		return sorted[i].Ticker < sorted[j].Ticker
	})

	res := &Result{}
	if len(sorted) > 0 {
		res.From = sorted[0].ReportDate
		res.To = sorted[len(sorted)-1].ReportDate
	}

	for i, rec := range sorted {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res.Trades = append(res.Trades, e.evaluate(ctx, rec))
		if progress != nil {
			progress(i+1, len(sorted))
		}
	}

	res.Metrics = ComputeMetrics(res.Trades)
	return res, nil
}

func (e *Engine) evaluate(ctx context.Context, rec model.EarningsRecord) Trade {
	t := Trade{Ticker: rec.Ticker, Date: rec.ReportDate}

	reportDate, err := time.ParseInLocation("2006-01-02", rec.ReportDate, e.schedule.Location)
	if err != nil {
		t.Stage = StageData
		t.SkipReason = fmt.Sprintf("bad report date: %v", err)
		return t
	}

	daily, err := e.provider.GetDailyCandles(ctx, rec.Ticker, e.cfg.Screening.HistoryDays)
	if err != nil {
		t.Stage = StageData
		t.SkipReason = fmt.Sprintf("daily data: %v", err)
		return t
	}

	// The filter must only see candles known before the report day.
	history := candlesBefore(daily, reportDate)
	momentum := screener.EvaluateMomentum(history, e.cfg.Screening)
	t.TrendScore = momentum.TrendScore
	if !momentum.Passed {
		t.Stage = StageMomentum
		t.SkipReason = momentum.Reason
		return t
	}

	if e.cfg.Trading.EarningsSurprise && !rec.SurprisePasses() {
		t.Stage = StageSurprise
		t.SkipReason = "no positive earnings surprise"
		return t
	}

	yesterdayClose := momentum.CurrentPrice // last close before report day
	if yesterdayClose <= 0 {
		t.Stage = StageData
		t.SkipReason = "no close before report date"
		return t
	}

	bars, err := e.intradayFor(ctx, rec.Ticker, reportDate)
	if err != nil {
		t.Stage = StageData
		t.SkipReason = fmt.Sprintf("intraday data: %v", err)
		return t
	}

	entryIdx, entry := e.findEntry(bars, yesterdayClose)
	if entryIdx < 0 {
		t.Stage = StageSignal
		t.SkipReason = "no entry conditions met in signal window"
		return t
	}

	t.Stage = StageTraded
	t.EntryTime = entry.Time
	t.EntryPrice = entry.Close

	exit := simulator.Simulate(t.EntryPrice, t.EntryTime, bars[entryIdx+1:], simulator.Options{
		StopLossPct:         e.cfg.Trading.StopLossPct,
		TrailingStop:        e.cfg.Trading.TrailingStop,
		TrailPct:            e.cfg.Trading.TrailPct,
		BreakevenTriggerPct: e.cfg.Trading.BreakevenTriggerPct,
		TrailTriggerPct:     e.cfg.Trading.TrailTriggerPct,
	})
	t.ExitTime = exit.Time
	t.ExitPrice = exit.Price
	t.ExitReason = exit.Reason
	t.PnLPct = simulator.PnLPct(t.EntryPrice, exit.Price)
	return t
}

// intradayFor returns the report day's hourly bars. The first request for
// a ticker fetches its whole range in one batch; later report dates for
// the same ticker are served from the cache. A date the batch does not
// cover falls back to a single-day fetch.
func (e *Engine) intradayFor(ctx context.Context, ticker string, date time.Time) ([]model.Candle, error) {
	key := e.schedule.DateKey(date)
	byDate, ok := e.hourlyCache[ticker]
	if !ok {
		byDate = make(map[string][]model.Candle)
		e.hourlyCache[ticker] = byDate

		days := int(e.clock().Sub(date).Hours()/24) + 2
		if days > maxHourlyRangeDays {
			days = maxHourlyRangeDays
		}
		if days >= 1 {
			batch, err := e.provider.GetMultiDayIntraday(ctx, ticker, days, 60)
			if err != nil {
				e.log.Debugw("batch intraday fetch failed, using per-day fetches",
					"ticker", ticker, "error", err)
			}
			for _, d := range batch {
				byDate[d.Date] = d.Candles
			}
		}
	}
	if bars, ok := byDate[key]; ok {
		return bars, nil
	}

	data, err := e.provider.GetIntradayData(ctx, ticker, date, 60)
	if err != nil {
		return nil, err
	}
	byDate[key] = data.Candles
	return data.Candles, nil
}

// findEntry scans the session's bars for the first one inside the signal
// window meeting all entry conditions. Returns -1 when none qualifies.
func (e *Engine) findEntry(bars []model.Candle, yesterdayClose float64) (int, model.Candle) {
	if len(bars) == 0 {
		return -1, model.Candle{}
	}

	dayOpen := bars[0].Open
	vwap := indicator.VWAPSeries(bars)
	gapFloor := yesterdayClose * (1 + e.cfg.Screening.MinGapPct/100)

	for i, bar := range bars {
		if !e.schedule.SignalWindowOverlapsAt(bar.Time, time.Hour) {
			continue
		}
		if vwap[i] <= 0 {
			continue
		}
		if bar.Close <= vwap[i] || bar.Close <= dayOpen || bar.Close <= gapFloor {
			continue
		}
		if bar.Close < bar.Open {
			continue // bearish bar, still falling
		}
		return i, bar
	}
	return -1, model.Candle{}
}

// candlesBefore returns the candles strictly before midnight of day.
func candlesBefore(candles []model.Candle, day time.Time) []model.Candle {
	cutoff := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	out := make([]model.Candle, 0, len(candles))
	for _, c := range candles {
		if c.Time.Before(cutoff) {
			out = append(out, c)
		}
	}
	return out
}
