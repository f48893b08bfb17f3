package simulator

import (
	"time"

	"svea/pkg/model"
)

// Options holds the exit-rule parameters.
type Options struct {
	StopLossPct         float64 // fixed stop distance below entry, percent
	TrailingStop        bool    // enable the trailing-stop ladder
	TrailPct            float64 // trail distance below the highest price, percent
	BreakevenTriggerPct float64 // unrealized gain that moves the stop to entry
	TrailTriggerPct     float64 // unrealized gain that starts trailing
}

// DefaultOptions returns the production exit rules with trailing disabled.
func DefaultOptions() Options {
	return Options{
		StopLossPct:         2.5,
		TrailingStop:        false,
		TrailPct:            2.0,
		BreakevenTriggerPct: 2.0,
		TrailTriggerPct:     5.0,
	}
}

// Exit describes how a simulated trade ended.
type Exit struct {
	Price  float64
	Time   time.Time
	Reason string
}

// Simulate walks the bars after entry and applies the exit rules: the fixed
// stop, the optional trailing stop, and the end-of-day close. An exact touch
// of the stop level counts as a hit. With no forward bars the trade closes
// at entry as end-of-day.
func Simulate(entryPrice float64, entryTime time.Time, bars []model.Candle, opts Options) Exit {
	if len(bars) == 0 {
		return Exit{Price: entryPrice, Time: entryTime, Reason: model.ExitEndOfDay}
	}

	initialStop := entryPrice * (1 - opts.StopLossPct/100)
	stop := initialStop
	highest := entryPrice

	for _, bar := range bars {
		if bar.High > highest {
			highest = bar.High
		}

		if opts.TrailingStop {
			gainPct := (highest - entryPrice) / entryPrice * 100
			switch {
			case gainPct >= opts.TrailTriggerPct:
				if trailed := highest * (1 - opts.TrailPct/100); trailed > stop {
					stop = trailed
				}
			case gainPct >= opts.BreakevenTriggerPct:
				if entryPrice > stop {
					stop = entryPrice
				}
			}
		}

		if bar.Low <= stop {
			reason := model.ExitStopLoss
			if opts.TrailingStop && stop > initialStop {
				reason = model.ExitTrailingStop
			}
			return Exit{Price: stop, Time: bar.Time, Reason: reason}
		}
	}

	last := bars[len(bars)-1]
	return Exit{Price: last.Close, Time: last.Time, Reason: model.ExitEndOfDay}
}

// PnLPct returns the trade return in percent, not annualized.
func PnLPct(entry, exit float64) float64 {
	if entry == 0 {
		return 0
	}
	return (exit - entry) / entry * 100
}
