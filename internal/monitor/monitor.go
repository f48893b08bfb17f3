package monitor

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"svea/internal/config"
	"svea/internal/detector"
	"svea/internal/indicator"
	"svea/internal/market"
	"svea/internal/provider"
	"svea/internal/store"
	"svea/pkg/model"
)

// Monitor polls intraday data for the day's watchlist, persists snapshots
// and turns detector signals into paper trades.
type Monitor struct {
	provider provider.Provider
	store    *store.Store
	detector *detector.Detector
	schedule *market.Schedule
	clock    market.Clock
	cfg      config.MonitoringConfig
	log      *zap.SugaredLogger

	closes map[string]float64 // yesterday-close cache, per ticker
}

// New creates a monitor. A nil clock defaults to time.Now.
func New(p provider.Provider, st *store.Store, det *detector.Detector, schedule *market.Schedule, clock market.Clock, cfg config.MonitoringConfig, log *zap.SugaredLogger) *Monitor {
	if clock == nil {
		clock = time.Now
	}
	return &Monitor{
		provider: p,
		store:    st,
		detector: det,
		schedule: schedule,
		clock:    clock,
		cfg:      cfg,
		log:      log,
		closes:   make(map[string]float64),
	}
}

// Run polls until ctx is cancelled or until (when non-zero) passes. Each
// cycle runs immediately on start and then every poll interval.
func (m *Monitor) Run(ctx context.Context, until time.Time) error {
	m.seedSignaled()

	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for {
		now := m.clock()
		if !until.IsZero() && now.After(until) {
			m.log.Infow("monitor window ended", "until", until)
			return nil
		}

		if m.schedule.IsOpenAt(now) {
			m.Poll(ctx)
		} else {
			m.log.Debugw("market closed, skipping poll", "reason", m.schedule.StatusAt(now).Reason)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// seedSignaled reloads today's persisted signals so a restart does not
// fire a second signal for the same ticker.
func (m *Monitor) seedSignaled() {
	date := m.schedule.DateKey(m.clock())
	sigs, err := m.store.Signals(date)
	if err != nil {
		m.log.Warnw("loading existing signals", "error", err)
		return
	}
	for _, sig := range sigs {
		m.detector.MarkSignaled(sig.Ticker, sig.Date)
	}
	if len(sigs) > 0 {
		m.log.Infow("restored signal state", "count", len(sigs))
	}
}

// Poll runs one monitoring cycle over the day's watchlist.
func (m *Monitor) Poll(ctx context.Context) {
	now := m.clock()
	date := m.schedule.DateKey(now)

	watchlist, err := m.store.Watchlist(date)
	if err != nil {
		m.log.Errorw("loading watchlist", "error", err)
		return
	}
	if len(watchlist) == 0 {
		m.log.Debugw("watchlist empty", "date", date)
		return
	}

	inWindow := m.schedule.InSignalWindowAt(now)
	for _, entry := range watchlist {
		if ctx.Err() != nil {
			return
		}
		m.pollTicker(ctx, entry, date, now, inWindow)
	}
}

func (m *Monitor) pollTicker(ctx context.Context, entry model.WatchlistEntry, date string, now time.Time, inWindow bool) {
	data, err := m.provider.GetIntradayData(ctx, entry.Ticker, now, 1)
	if err != nil {
		m.log.Warnw("intraday fetch failed", "ticker", entry.Ticker, "error", err)
		return
	}

	metrics, ok := indicator.ComputeSessionMetrics(data.Candles)
	if !ok {
		m.log.Debugw("no session bars yet", "ticker", entry.Ticker)
		return
	}

	lastBar := data.Candles[len(data.Candles)-1]
	age := int(now.Sub(lastBar.Time).Seconds())
	if age < 0 {
		age = 0
	}

	snap := model.Snapshot{
		Ticker:         entry.Ticker,
		Date:           date,
		Timestamp:      now,
		OpenPrice:      metrics.Open,
		CurrentPrice:   metrics.Close,
		High:           metrics.High,
		Low:            metrics.Low,
		Volume:         metrics.Volume,
		VWAP:           metrics.VWAP,
		Avg5Min:        metrics.Avg5Min,
		DataAgeSeconds: age,
	}
	if err := m.store.SaveSnapshot(snap); err != nil {
		m.log.Warnw("saving snapshot", "ticker", entry.Ticker, "error", err)
	}

	if !inWindow {
		return
	}

	yClose, err := m.yesterdayClose(ctx, entry, now)
	if err != nil {
		m.log.Warnw("yesterday close unavailable", "ticker", entry.Ticker, "error", err)
		return
	}

	sig := m.detector.Evaluate(snap, yClose)
	if sig == nil {
		return
	}
	m.record(sig)
}

// record persists a signal and opens the matching paper trade.
func (m *Monitor) record(sig *model.Signal) {
	if err := m.store.SaveSignal(*sig); err != nil {
		m.log.Errorw("saving signal", "ticker", sig.Ticker, "error", err)
		return
	}

	trade := model.Trade{
		ID:         uuid.NewString(),
		SignalID:   sig.ID,
		Ticker:     sig.Ticker,
		Date:       sig.Date,
		EntryTime:  sig.SignalTime,
		EntryPrice: sig.EntryPrice,
	}
	err := m.store.CreateTrade(trade)
	if errors.Is(err, store.ErrDuplicateTrade) {
		m.log.Infow("trade already open", "ticker", sig.Ticker)
		return
	}
	if err != nil {
		m.log.Errorw("creating paper trade", "ticker", sig.Ticker, "error", err)
		return
	}
	m.log.Infow("paper trade opened",
		"ticker", sig.Ticker,
		"entry_price", sig.EntryPrice,
		"confidence", sig.Confidence,
	)
}

// yesterdayClose returns the last daily close before today, preferring the
// value captured at screening time.
func (m *Monitor) yesterdayClose(ctx context.Context, entry model.WatchlistEntry, now time.Time) (float64, error) {
	if c, ok := m.closes[entry.Ticker]; ok {
		return c, nil
	}
	if entry.YesterdayClose > 0 {
		m.closes[entry.Ticker] = entry.YesterdayClose
		return entry.YesterdayClose, nil
	}

	candles, err := m.provider.GetDailyCandles(ctx, entry.Ticker, 10)
	if err != nil {
		return 0, err
	}
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, m.schedule.Location)
	for i := len(candles) - 1; i >= 0; i-- {
		if candles[i].Time.Before(today) {
			m.closes[entry.Ticker] = candles[i].Close
			return candles[i].Close, nil
		}
	}
	return 0, errors.New("no prior daily close")
}

// CloseOpenTrades closes every open trade at its latest known price with
// the end-of-day reason. Called by the scheduler at the close.
func (m *Monitor) CloseOpenTrades(ctx context.Context) error {
	open, err := m.store.OpenTrades()
	if err != nil {
		return err
	}

	now := m.clock()
	for _, t := range open {
		price, err := m.lastPrice(ctx, t.Ticker, now)
		if err != nil {
			m.log.Warnw("no closing price, leaving trade open", "ticker", t.Ticker, "error", err)
			continue
		}
		if err := m.store.CloseTrade(t.ID, now, price, model.ExitEndOfDay); err != nil {
			m.log.Errorw("closing trade", "ticker", t.Ticker, "error", err)
			continue
		}
		m.log.Infow("trade closed at end of day",
			"ticker", t.Ticker,
			"exit_price", price,
			"pnl_pct", (price-t.EntryPrice)/t.EntryPrice*100,
		)
	}
	return nil
}

// lastPrice prefers the provider's live quote and falls back to the last
// intraday bar when no quote is available.
func (m *Monitor) lastPrice(ctx context.Context, ticker string, now time.Time) (float64, error) {
	if quote, err := m.provider.GetQuote(ctx, ticker); err == nil && quote.Price > 0 {
		return quote.Price, nil
	}
	data, err := m.provider.GetIntradayData(ctx, ticker, now, 1)
	if err != nil {
		return 0, err
	}
	if len(data.Candles) == 0 {
		return 0, errors.New("no bars")
	}
	return data.Candles[len(data.Candles)-1].Close, nil
}
