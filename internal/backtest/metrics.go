package backtest

import "math"

// Metrics aggregates a backtest run. All rates are percentages.
type Metrics struct {
	Candidates     int            `json:"candidates"`
	PassedMomentum int            `json:"passed_momentum"`
	Signals        int            `json:"signals"`
	Wins           int            `json:"wins"`
	Losses         int            `json:"losses"`
	WinRate        float64        `json:"win_rate"`
	AvgPnLPct      float64        `json:"avg_pnl_pct"`
	TotalPnLPct    float64        `json:"total_pnl_pct"`
	AvgWinPct      float64        `json:"avg_win_pct"`
	AvgLossPct     float64        `json:"avg_loss_pct"`
	Expectancy     float64        `json:"expectancy"`
	BestPnLPct     float64        `json:"best_pnl_pct"`
	WorstPnLPct    float64        `json:"worst_pnl_pct"`
	ProfitFactor   float64        `json:"profit_factor"`
	ExitBreakdown  map[string]int `json:"exit_breakdown"`
	SkipBreakdown  map[string]int `json:"skip_breakdown"`
}

// ComputeMetrics aggregates evaluated candidates. Safe on an empty or
// all-skipped run; every rate is zero when no trades were taken.
func ComputeMetrics(trades []Trade) Metrics {
	m := Metrics{
		Candidates:    len(trades),
		ExitBreakdown: make(map[string]int),
		SkipBreakdown: make(map[string]int),
	}

	grossWin, grossLoss := 0.0, 0.0
	for _, t := range trades {
		switch t.Stage {
		case StageSurprise, StageSignal, StageTraded:
			m.PassedMomentum++
		case StageData:
			// A trend score is only set once the filter has run.
			if t.TrendScore > 0 {
				m.PassedMomentum++
			}
		}
		if t.Stage != StageTraded {
			m.SkipBreakdown[t.Stage]++
			continue
		}

		m.Signals++
		m.ExitBreakdown[t.ExitReason]++
		m.TotalPnLPct += t.PnLPct

		if m.Signals == 1 || t.PnLPct > m.BestPnLPct {
			m.BestPnLPct = t.PnLPct
		}
		if m.Signals == 1 || t.PnLPct < m.WorstPnLPct {
			m.WorstPnLPct = t.PnLPct
		}

		if t.PnLPct > 0 {
			m.Wins++
			grossWin += t.PnLPct
		} else {
			m.Losses++
			grossLoss += -t.PnLPct
		}
	}

	if m.Signals > 0 {
		m.WinRate = float64(m.Wins) / float64(m.Signals) * 100
		m.AvgPnLPct = m.TotalPnLPct / float64(m.Signals)
	}
	if m.Wins > 0 {
		m.AvgWinPct = grossWin / float64(m.Wins)
	}
	if m.Losses > 0 {
		m.AvgLossPct = -grossLoss / float64(m.Losses)
	}
	if m.Signals > 0 {
		winP := float64(m.Wins) / float64(m.Signals)
		m.Expectancy = winP*m.AvgWinPct + (1-winP)*m.AvgLossPct
	}
	switch {
	case grossLoss > 0:
		m.ProfitFactor = grossWin / grossLoss
	case grossWin > 0:
		m.ProfitFactor = math.Inf(1)
	}
	return m
}
