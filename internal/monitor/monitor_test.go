package monitor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"svea/internal/config"
	"svea/internal/detector"
	"svea/internal/logging"
	"svea/internal/market"
	"svea/internal/store"
	"svea/pkg/model"
)

var stockholm, _ = time.LoadLocation("Europe/Stockholm")

type fakeProvider struct {
	intraday map[string][]model.Candle
	daily    map[string][]model.Candle
}

func (f *fakeProvider) Name() string      { return "fake" }
func (f *fakeProvider) IsAvailable() bool { return true }
func (f *fakeProvider) RateLimit() int    { return 1000 }

func (f *fakeProvider) GetIntradayData(ctx context.Context, symbol string, date time.Time, interval int) (*model.IntradayData, error) {
	c, ok := f.intraday[symbol]
	if !ok {
		return nil, errors.New("no intraday data")
	}
	return &model.IntradayData{Ticker: symbol, Date: date.Format("2006-01-02"), Interval: interval, Candles: c}, nil
}

func (f *fakeProvider) GetMultiDayIntraday(ctx context.Context, symbol string, days int, interval int) ([]model.IntradayData, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeProvider) GetDailyCandles(ctx context.Context, symbol string, days int) ([]model.Candle, error) {
	c, ok := f.daily[symbol]
	if !ok {
		return nil, errors.New("no daily data")
	}
	return c, nil
}

func (f *fakeProvider) GetQuote(ctx context.Context, symbol string) (*model.Quote, error) {
	c, ok := f.intraday[symbol]
	if !ok || len(c) == 0 {
		return nil, errors.New("no quote")
	}
	last := c[len(c)-1]
	return &model.Quote{Ticker: symbol, Price: last.Close, AsOf: last.Time}, nil
}

// bars builds minute bars ending just before at, all with the same price.
func bars(at time.Time, n int, open, close float64) []model.Candle {
	out := make([]model.Candle, n)
	step := (close - open) / float64(n)
	for i := range out {
		p := open + step*float64(i+1)
		out[i] = model.Candle{
			Time:   at.Add(time.Duration(i-n) * time.Minute),
			Open:   p - step,
			High:   p + 0.1,
			Low:    p - step - 0.1,
			Close:  p,
			Volume: 1000,
		}
	}
	return out
}

type fixture struct {
	monitor *Monitor
	store   *store.Store
	now     time.Time
}

func newFixture(t *testing.T, prov *fakeProvider, now time.Time) *fixture {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	schedule := market.DefaultSchedule()
	clock := func() time.Time { return now }
	det := detector.New(detector.DefaultConfig(), schedule, clock, logging.Nop())

	cfg := config.DefaultConfig().Monitoring
	m := New(prov, st, det, schedule, clock, cfg, logging.Nop())
	return &fixture{monitor: m, store: st, now: now}
}

func watch(t *testing.T, st *store.Store, date string, yClose float64, tickers ...string) {
	t.Helper()
	entries := make([]model.WatchlistEntry, len(tickers))
	for i, tk := range tickers {
		entries[i] = model.WatchlistEntry{Ticker: tk, Date: date, YesterdayClose: yClose}
	}
	require.NoError(t, st.ReplaceWatchlist(date, entries))
}

func TestPollSavesSnapshot(t *testing.T) {
	// 09:25 Monday, inside the signal window.
	now := time.Date(2025, 3, 10, 9, 25, 0, 0, stockholm)
	prov := &fakeProvider{intraday: map[string][]model.Candle{
		"VOLV-B.ST": bars(now, 20, 100, 103),
	}}
	f := newFixture(t, prov, now)
	watch(t, f.store, "2025-03-10", 100, "VOLV-B.ST")

	f.monitor.Poll(context.Background())

	snaps, err := f.store.Snapshots("VOLV-B.ST", "2025-03-10")
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, 103.0, snaps[0].CurrentPrice)
	assert.Greater(t, snaps[0].VWAP, 0.0)
}

func TestPollOpensPaperTradeOnSignal(t *testing.T) {
	now := time.Date(2025, 3, 10, 9, 25, 0, 0, stockholm)
	// Rising from 100 to 103: above open, above VWAP, gap over 2% vs
	// yesterday's close of 100.
	prov := &fakeProvider{intraday: map[string][]model.Candle{
		"VOLV-B.ST": bars(now, 20, 100, 103),
	}}
	f := newFixture(t, prov, now)
	watch(t, f.store, "2025-03-10", 100, "VOLV-B.ST")

	f.monitor.Poll(context.Background())

	sigs, err := f.store.Signals("2025-03-10")
	require.NoError(t, err)
	require.Len(t, sigs, 1)
	assert.Equal(t, 103.0, sigs[0].EntryPrice)

	trades, err := f.store.Trades("2025-03-10")
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, sigs[0].ID, trades[0].SignalID)
	assert.False(t, trades[0].IsClosed())
}

func TestPollSignalsOncePerDay(t *testing.T) {
	now := time.Date(2025, 3, 10, 9, 25, 0, 0, stockholm)
	prov := &fakeProvider{intraday: map[string][]model.Candle{
		"VOLV-B.ST": bars(now, 20, 100, 103),
	}}
	f := newFixture(t, prov, now)
	watch(t, f.store, "2025-03-10", 100, "VOLV-B.ST")

	f.monitor.Poll(context.Background())
	f.monitor.Poll(context.Background())

	sigs, err := f.store.Signals("2025-03-10")
	require.NoError(t, err)
	assert.Len(t, sigs, 1, "detector must fire at most once per ticker per day")

	snaps, err := f.store.Snapshots("VOLV-B.ST", "2025-03-10")
	require.NoError(t, err)
	assert.Len(t, snaps, 2, "snapshots continue past the signal")
}

func TestPollOutsideWindowNoSignal(t *testing.T) {
	// 11:00 is well past the window, still market hours.
	now := time.Date(2025, 3, 10, 11, 0, 0, 0, stockholm)
	prov := &fakeProvider{intraday: map[string][]model.Candle{
		"VOLV-B.ST": bars(now, 20, 100, 103),
	}}
	f := newFixture(t, prov, now)
	watch(t, f.store, "2025-03-10", 100, "VOLV-B.ST")

	f.monitor.Poll(context.Background())

	sigs, err := f.store.Signals("2025-03-10")
	require.NoError(t, err)
	assert.Empty(t, sigs)

	snaps, err := f.store.Snapshots("VOLV-B.ST", "2025-03-10")
	require.NoError(t, err)
	assert.Len(t, snaps, 1, "snapshots are taken all session")
}

func TestPollSkipsFailedTicker(t *testing.T) {
	now := time.Date(2025, 3, 10, 9, 25, 0, 0, stockholm)
	prov := &fakeProvider{intraday: map[string][]model.Candle{
		"VOLV-B.ST": bars(now, 20, 100, 103),
		// ERIC-B.ST has no data
	}}
	f := newFixture(t, prov, now)
	watch(t, f.store, "2025-03-10", 100, "ERIC-B.ST", "VOLV-B.ST")

	f.monitor.Poll(context.Background())

	snaps, err := f.store.Snapshots("VOLV-B.ST", "2025-03-10")
	require.NoError(t, err)
	assert.Len(t, snaps, 1, "failure on one ticker must not stop the cycle")
}

func TestSeedSignaledPreventsDuplicateAfterRestart(t *testing.T) {
	now := time.Date(2025, 3, 10, 9, 25, 0, 0, stockholm)
	prov := &fakeProvider{intraday: map[string][]model.Candle{
		"VOLV-B.ST": bars(now, 20, 100, 103),
	}}
	f := newFixture(t, prov, now)
	watch(t, f.store, "2025-03-10", 100, "VOLV-B.ST")

	f.monitor.Poll(context.Background())

	// Fresh monitor over the same store simulates a process restart.
	schedule := market.DefaultSchedule()
	clock := func() time.Time { return now }
	det := detector.New(detector.DefaultConfig(), schedule, clock, logging.Nop())
	m2 := New(prov, f.store, det, schedule, clock, config.DefaultConfig().Monitoring, logging.Nop())
	m2.seedSignaled()
	m2.Poll(context.Background())

	sigs, err := f.store.Signals("2025-03-10")
	require.NoError(t, err)
	assert.Len(t, sigs, 1)
}

func TestYesterdayCloseFallsBackToDaily(t *testing.T) {
	now := time.Date(2025, 3, 10, 9, 25, 0, 0, stockholm)
	prov := &fakeProvider{
		intraday: map[string][]model.Candle{"VOLV-B.ST": bars(now, 20, 100, 103)},
		daily: map[string][]model.Candle{"VOLV-B.ST": {
			{Time: time.Date(2025, 3, 6, 17, 30, 0, 0, stockholm), Close: 98},
			{Time: time.Date(2025, 3, 7, 17, 30, 0, 0, stockholm), Close: 100},
			{Time: time.Date(2025, 3, 10, 9, 20, 0, 0, stockholm), Close: 103},
		}},
	}
	f := newFixture(t, prov, now)
	// Watchlist entry without a captured close forces the daily lookup.
	watch(t, f.store, "2025-03-10", 0, "VOLV-B.ST")

	entry := model.WatchlistEntry{Ticker: "VOLV-B.ST", Date: "2025-03-10"}
	c, err := f.monitor.yesterdayClose(context.Background(), entry, now)
	require.NoError(t, err)
	assert.Equal(t, 100.0, c, "latest close strictly before today")
}

func TestCloseOpenTrades(t *testing.T) {
	now := time.Date(2025, 3, 10, 17, 0, 0, 0, stockholm)
	prov := &fakeProvider{intraday: map[string][]model.Candle{
		"VOLV-B.ST": bars(now, 20, 100, 104),
	}}
	f := newFixture(t, prov, now)

	require.NoError(t, f.store.CreateTrade(model.Trade{
		ID: "t1", SignalID: "s1", Ticker: "VOLV-B.ST", Date: "2025-03-10",
		EntryTime: now.Add(-7 * time.Hour), EntryPrice: 100,
	}))

	require.NoError(t, f.monitor.CloseOpenTrades(context.Background()))

	got, err := f.store.Trade("t1")
	require.NoError(t, err)
	require.True(t, got.IsClosed())
	assert.Equal(t, model.ExitEndOfDay, got.ExitReason)
	require.NotNil(t, got.PnLPct)
	assert.InDelta(t, 4.0, *got.PnLPct, 0.001)
}

func TestCloseOpenTradesKeepsUnpriced(t *testing.T) {
	now := time.Date(2025, 3, 10, 17, 0, 0, 0, stockholm)
	f := newFixture(t, &fakeProvider{}, now)

	require.NoError(t, f.store.CreateTrade(model.Trade{
		ID: "t1", SignalID: "s1", Ticker: "GHOST.ST", Date: "2025-03-10",
		EntryTime: now.Add(-7 * time.Hour), EntryPrice: 100,
	}))

	require.NoError(t, f.monitor.CloseOpenTrades(context.Background()))

	got, err := f.store.Trade("t1")
	require.NoError(t, err)
	assert.False(t, got.IsClosed(), "trade without a price stays open")
}

func TestRunStopsAtDeadline(t *testing.T) {
	now := time.Date(2025, 3, 10, 10, 31, 0, 0, stockholm)
	f := newFixture(t, &fakeProvider{}, now)

	err := f.monitor.Run(context.Background(), now.Add(-time.Minute))
	require.NoError(t, err, "deadline in the past returns immediately")
}

func TestRunStopsOnContextCancel(t *testing.T) {
	now := time.Date(2025, 3, 10, 9, 25, 0, 0, stockholm)
	f := newFixture(t, &fakeProvider{}, now)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := f.monitor.Run(ctx, time.Time{})
	assert.ErrorIs(t, err, context.Canceled)
}
