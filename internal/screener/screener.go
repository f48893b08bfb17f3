package screener

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"svea/internal/config"
	"svea/internal/indicator"
	"svea/internal/provider"
	"svea/internal/store"
	"svea/pkg/model"
)

// EarningsSource yields the companies reporting on a given date.
type EarningsSource interface {
	ForDate(date string) ([]model.EarningsRecord, error)
}

// MomentumResult is the outcome of the pre-filter for one stock.
type MomentumResult struct {
	Passed         bool
	Reason         string // set when Passed is false
	TrendScore     float64
	SMA200         float64
	CurrentPrice   float64
	YesterdayClose float64
	Return3M       float64
	Return1Y       float64
	AboveSMA200    bool
}

// EvaluateMomentum applies the momentum pre-filter to daily candles,
// oldest first. A stock passes when it trades above its long SMA and both
// the 3-month and 1-year returns are positive.
func EvaluateMomentum(candles []model.Candle, cfg config.ScreeningConfig) MomentumResult {
	res := MomentumResult{}

	if len(candles) < cfg.Lookback1Y+1 {
		res.Reason = fmt.Sprintf("insufficient history: %d bars, need %d", len(candles), cfg.Lookback1Y+1)
		return res
	}

	last := candles[len(candles)-1]
	res.CurrentPrice = last.Close
	if len(candles) >= 2 {
		res.YesterdayClose = candles[len(candles)-2].Close
	}

	res.SMA200 = indicator.SMA(candles, cfg.SMAPeriod)
	if res.SMA200 == 0 {
		res.Reason = fmt.Sprintf("insufficient history for SMA%d", cfg.SMAPeriod)
		return res
	}
	res.AboveSMA200 = last.Close > res.SMA200

	ref3M := candles[len(candles)-1-cfg.Lookback3M].Close
	ref1Y := candles[len(candles)-1-cfg.Lookback1Y].Close
	res.Return3M = indicator.PriceChangePct(last.Close, ref3M)
	res.Return1Y = indicator.PriceChangePct(last.Close, ref1Y)

	switch {
	case !res.AboveSMA200:
		res.Reason = fmt.Sprintf("below SMA%d", cfg.SMAPeriod)
	case res.Return3M <= 0:
		res.Reason = fmt.Sprintf("negative 3-month return (%.1f%%)", res.Return3M)
	case res.Return1Y <= 0:
		res.Reason = fmt.Sprintf("negative 1-year return (%.1f%%)", res.Return1Y)
	default:
		res.Passed = true
		res.TrendScore = trendScore(res)
	}
	return res
}

// trendScore grades a passing stock from 60 to 100. The floor is what a
// stock earns for barely clearing all three filter legs.
func trendScore(res MomentumResult) float64 {
	score := 30.0 // above long SMA

	switch {
	case res.Return3M > 10:
		score += 40
	case res.Return3M > 5:
		score += 30
	default:
		score += 20
	}

	switch {
	case res.Return1Y > 20:
		score += 30
	case res.Return1Y > 10:
		score += 20
	default:
		score += 10
	}
	return score
}

// Screener builds the daily watchlist from the earnings calendar.
type Screener struct {
	provider provider.Provider
	store    *store.Store
	earnings EarningsSource
	cfg      config.ScreeningConfig
	log      *zap.SugaredLogger
}

// New creates a screener.
func New(p provider.Provider, st *store.Store, src EarningsSource, cfg config.ScreeningConfig, log *zap.SugaredLogger) *Screener {
	return &Screener{provider: p, store: st, earnings: src, cfg: cfg, log: log}
}

// Run screens the companies reporting on date (YYYY-MM-DD) and persists
// the resulting watchlist. A stock whose data cannot be fetched is skipped
// and logged; it never aborts the run.
func (s *Screener) Run(ctx context.Context, date string) ([]model.WatchlistEntry, error) {
	records, err := s.earnings.ForDate(date)
	if err != nil {
		return nil, fmt.Errorf("loading earnings calendar: %w", err)
	}
	if len(records) == 0 {
		s.log.Infow("no earnings reports scheduled", "date", date)
		return nil, s.store.ReplaceWatchlist(date, nil)
	}
	s.log.Infow("screening earnings reporters", "date", date, "candidates", len(records))

	if err := s.store.SaveEarnings(records); err != nil {
		s.log.Warnw("saving earnings records", "error", err)
	}

	var entries []model.WatchlistEntry
	for _, rec := range records {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		candles, err := s.provider.GetDailyCandles(ctx, rec.Ticker, s.cfg.HistoryDays)
		if err != nil {
			s.log.Warnw("skipping ticker, data fetch failed", "ticker", rec.Ticker, "error", err)
			continue
		}

		res := EvaluateMomentum(candles, s.cfg)
		if !res.Passed {
			s.log.Infow("filtered out", "ticker", rec.Ticker, "reason", res.Reason)
			continue
		}

		entries = append(entries, model.WatchlistEntry{
			Ticker:         rec.Ticker,
			Name:           rec.CompanyName,
			Date:           date,
			ReportTime:     rec.ReportTime,
			TrendScore:     res.TrendScore,
			SMA200:         res.SMA200,
			CurrentPrice:   res.CurrentPrice,
			YesterdayClose: res.YesterdayClose,
			Return3M:       res.Return3M,
			Return1Y:       res.Return1Y,
			AboveSMA200:    res.AboveSMA200,
		})
		s.log.Infow("added to watchlist", "ticker", rec.Ticker, "trend_score", res.TrendScore)
	}

	if err := s.store.ReplaceWatchlist(date, entries); err != nil {
		return nil, fmt.Errorf("saving watchlist: %w", err)
	}
	s.log.Infow("screening complete", "date", date, "watchlist", len(entries))
	return entries, nil
}
