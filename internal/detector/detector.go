package detector

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"svea/internal/indicator"
	"svea/internal/market"
	"svea/pkg/model"
)

// Config holds detector thresholds.
type Config struct {
	// GapThresholdPct is the minimum percent above yesterday's close.
	GapThresholdPct float64
	// StaleAfter is the data age beyond which confidence is penalized.
	StaleAfter time.Duration
}

// DefaultConfig returns the production thresholds.
func DefaultConfig() Config {
	return Config{
		GapThresholdPct: 2.0,
		StaleAfter:      2 * time.Minute,
	}
}

// Detector evaluates entry predicates against snapshots inside the signal
// window. Per (ticker, day) it fires at most once; the first qualifying
// snapshot wins and later ones are ignored.
type Detector struct {
	config   Config
	schedule *market.Schedule
	clock    market.Clock
	log      *zap.SugaredLogger

	mu       sync.Mutex
	signaled map[string]struct{} // "ticker|date"
}

// New creates a detector. A nil clock defaults to time.Now.
func New(cfg Config, schedule *market.Schedule, clock market.Clock, log *zap.SugaredLogger) *Detector {
	if clock == nil {
		clock = time.Now
	}
	return &Detector{
		config:   cfg,
		schedule: schedule,
		clock:    clock,
		log:      log,
		signaled: make(map[string]struct{}),
	}
}

// Evaluate checks the entry conditions for one snapshot. It returns a Signal
// when all predicates hold inside the signal window, nil otherwise. Invalid
// input degrades to "no signal" rather than an error.
func (d *Detector) Evaluate(snap model.Snapshot, yesterdayClose float64) *model.Signal {
	now := d.clock()

	if !d.schedule.InSignalWindowAt(now) {
		return nil
	}
	if d.alreadySignaled(snap.Ticker, snap.Date) {
		return nil
	}
	if snap.CurrentPrice <= 0 || snap.OpenPrice <= 0 || snap.VWAP <= 0 || yesterdayClose <= 0 {
		d.log.Debugw("snapshot missing required data", "ticker", snap.Ticker)
		return nil
	}

	aboveVWAP := snap.CurrentPrice > snap.VWAP
	aboveOpen := snap.CurrentPrice > snap.OpenPrice
	pctFromYesterday := indicator.PriceChangePct(snap.CurrentPrice, yesterdayClose)
	aboveYesterday := pctFromYesterday > d.config.GapThresholdPct

	// No falling knife: price must be above the short trailing average.
	// Skipped when the average is unavailable.
	aboveTrailing := snap.Avg5Min == 0 || snap.CurrentPrice > snap.Avg5Min

	if !(aboveVWAP && aboveOpen && aboveYesterday && aboveTrailing) {
		d.log.Debugw("entry conditions not met",
			"ticker", snap.Ticker,
			"above_vwap", aboveVWAP,
			"above_open", aboveOpen,
			"above_yesterday", aboveYesterday,
			"pct_from_yesterday", pctFromYesterday,
			"above_trailing", aboveTrailing,
		)
		return nil
	}

	vwapDist := indicator.PriceChangePct(snap.CurrentPrice, snap.VWAP)
	openDist := indicator.PriceChangePct(snap.CurrentPrice, snap.OpenPrice)

	sig := &model.Signal{
		ID:               uuid.NewString(),
		Ticker:           snap.Ticker,
		Date:             snap.Date,
		SignalTime:       now,
		EntryPrice:       snap.CurrentPrice,
		OpenPrice:        snap.OpenPrice,
		VWAP:             snap.VWAP,
		YesterdayClose:   yesterdayClose,
		PctFromYesterday: pctFromYesterday,
		VWAPDistancePct:  vwapDist,
		OpenDistancePct:  openDist,
		Confidence:       d.confidence(vwapDist, openDist, snap.DataAgeSeconds),
		DataAgeSeconds:   snap.DataAgeSeconds,
	}

	d.markSignaled(snap.Ticker, snap.Date)

	d.log.Infow("signal detected",
		"ticker", sig.Ticker,
		"entry_price", sig.EntryPrice,
		"vwap", sig.VWAP,
		"open", sig.OpenPrice,
		"confidence", sig.Confidence,
	)
	return sig
}

// confidence computes the advisory score: base 50, bonuses for distance
// above VWAP and open (capped at +20 each), penalty for stale data
// (capped at -30), clamped to [0, 100].
func (d *Detector) confidence(vwapDistPct, openDistPct float64, ageSeconds int) float64 {
	score := 50.0

	if vwapDistPct > 0 {
		score += min(vwapDistPct*50, 20)
	}
	if openDistPct > 0 {
		score += min(openDistPct*50, 20)
	}

	staleAfter := int(d.config.StaleAfter.Seconds())
	if staleAfter > 0 && ageSeconds > staleAfter {
		score -= min(float64(ageSeconds-staleAfter)/6, 30)
	}

	return max(0, min(100, score))
}

func (d *Detector) alreadySignaled(ticker, date string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.signaled[ticker+"|"+date]
	return ok
}

func (d *Detector) markSignaled(ticker, date string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.signaled[ticker+"|"+date] = struct{}{}
}

// MarkSignaled records an externally persisted signal so restarts keep the
// first-wins invariant.
func (d *Detector) MarkSignaled(ticker, date string) {
	d.markSignaled(ticker, date)
}

// ResetDay clears signal state for the given date key.
func (d *Detector) ResetDay(date string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for key := range d.signaled {
		if len(key) > len(date) && key[len(key)-len(date):] == date {
			delete(d.signaled, key)
		}
	}
}
