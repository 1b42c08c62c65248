package logger

import (
	"fmt"
	"math"
	"time"
)

// TradeOutcome one completed round trip (open matched with close)
type TradeOutcome struct {
	Symbol        string  `json:"symbol"`
	Side          string  `json:"side"`
	Quantity      float64 `json:"quantity"`
	Leverage      int     `json:"leverage"`
	OpenPrice     float64 `json:"open_price"`
	ClosePrice    float64 `json:"close_price"`
	PositionValue float64 `json:"position_value"`
	PnL           float64 `json:"pn_l"`
	PnLPct        float64 `json:"pn_l_pct"`
	Duration      string  `json:"duration"`
	OpenTime      string  `json:"open_time"`
	CloseTime     string  `json:"close_time"`
}

// SymbolPerformance per-symbol aggregate
type SymbolPerformance struct {
	Symbol   string  `json:"symbol"`
	Trades   int     `json:"trades"`
	Wins     int     `json:"wins"`
	Losses   int     `json:"losses"`
	TotalPnL float64 `json:"total_pnl"`
	WinRate  float64 `json:"win_rate"`
}

// PerformanceAnalysis trading performance summary fed back into the AI prompt
type PerformanceAnalysis struct {
	TotalTrades   int                           `json:"total_trades"`
	WinningTrades int                           `json:"winning_trades"`
	LosingTrades  int                           `json:"losing_trades"`
	WinRate       float64                       `json:"win_rate"`
	AvgWin        float64                       `json:"avg_win"`
	AvgLoss       float64                       `json:"avg_loss"`
	ProfitFactor  float64                       `json:"profit_factor"`
	SharpeRatio   float64                       `json:"sharpe_ratio"`
	RecentTrades  []TradeOutcome                `json:"recent_trades"`
	SymbolStats   map[string]*SymbolPerformance `json:"symbol_stats"`
	BestSymbol    string                        `json:"best_symbol"`
	WorstSymbol   string                        `json:"worst_symbol"`
}

// openDescriptor tracks an open position awaiting its close
type openDescriptor struct {
	openPrice float64
	quantity  float64
	leverage  int
	openTime  string
}

// AnalyzePerformance replays the decision log chronologically, matches open
// and close orders into round trips and computes aggregate statistics.
// lookbackCycles <= 0 analyzes the whole log.
func (l *DecisionLogger) AnalyzePerformance(lookbackCycles int) (*PerformanceAnalysis, error) {
	var records []*DecisionRecord
	var err error
	if lookbackCycles <= 0 {
		records, err = l.GetAllRecords()
	} else {
		records, err = l.GetLatestRecords(lookbackCycles)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read decision log: %w", err)
	}

	// One position per symbol+side, so a single descriptor per key
	openPositions := make(map[string]*openDescriptor)
	var trades []TradeOutcome
	var equities []float64

	for _, r := range records {
		if r.AccountState.TotalEquity > 0 {
			equities = append(equities, r.AccountState.TotalEquity)
		}
		for _, d := range r.Decisions {
			if !d.Success {
				continue
			}
			switch d.Action {
			case "open_long", "open_short":
				side := "long"
				if d.Action == "open_short" {
					side = "short"
				}
				openPositions[d.Symbol+"_"+side] = &openDescriptor{
					openPrice: d.Price,
					quantity:  d.Quantity,
					leverage:  d.Leverage,
					openTime:  d.Timestamp,
				}
			case "close_long", "close_short":
				side := "long"
				if d.Action == "close_short" {
					side = "short"
				}
				key := d.Symbol + "_" + side
				open, ok := openPositions[key]
				if !ok || open.openPrice <= 0 {
					continue
				}
				trades = append(trades, buildOutcome(d.Symbol, side, open, d.Price, d.Timestamp))
				delete(openPositions, key)
			}
		}
	}

	analysis := summarize(trades)
	analysis.SharpeRatio = calculateSharpeRatio(equities)
	return analysis, nil
}

func buildOutcome(symbol, side string, open *openDescriptor, closePrice float64, closeTime string) TradeOutcome {
	var pnlPct float64
	if side == "long" {
		pnlPct = (closePrice - open.openPrice) / open.openPrice * 100
	} else {
		pnlPct = (open.openPrice - closePrice) / open.openPrice * 100
	}
	pnl := open.quantity * open.openPrice * (pnlPct / 100) * float64(open.leverage)

	return TradeOutcome{
		Symbol:        symbol,
		Side:          side,
		Quantity:      open.quantity,
		Leverage:      open.leverage,
		OpenPrice:     open.openPrice,
		ClosePrice:    closePrice,
		PositionValue: open.quantity * open.openPrice,
		PnL:           pnl,
		PnLPct:        pnlPct,
		Duration:      formatDuration(open.openTime, closeTime),
		OpenTime:      open.openTime,
		CloseTime:     closeTime,
	}
}

func summarize(trades []TradeOutcome) *PerformanceAnalysis {
	analysis := &PerformanceAnalysis{
		SymbolStats: make(map[string]*SymbolPerformance),
	}

	// Flat trades count toward the total but are neither wins nor losses
	var winSum, lossSum float64
	for _, t := range trades {
		analysis.TotalTrades++
		if t.PnL > 0 {
			analysis.WinningTrades++
			winSum += t.PnL
		} else if t.PnL < 0 {
			analysis.LosingTrades++
			lossSum += t.PnL
		}

		stat, ok := analysis.SymbolStats[t.Symbol]
		if !ok {
			stat = &SymbolPerformance{Symbol: t.Symbol}
			analysis.SymbolStats[t.Symbol] = stat
		}
		stat.Trades++
		stat.TotalPnL += t.PnL
		if t.PnL > 0 {
			stat.Wins++
		} else if t.PnL < 0 {
			stat.Losses++
		}
	}

	if analysis.TotalTrades > 0 {
		analysis.WinRate = float64(analysis.WinningTrades) / float64(analysis.TotalTrades) * 100
	}
	if analysis.WinningTrades > 0 {
		analysis.AvgWin = winSum / float64(analysis.WinningTrades)
	}
	if analysis.LosingTrades > 0 {
		analysis.AvgLoss = lossSum / float64(analysis.LosingTrades)
	}
	if lossSum < 0 {
		analysis.ProfitFactor = winSum / math.Abs(lossSum)
	}
	// No losses means profit factor 0, never a sentinel

	bestPnL := math.Inf(-1)
	worstPnL := math.Inf(1)
	for symbol, stat := range analysis.SymbolStats {
		if stat.Trades > 0 {
			stat.WinRate = float64(stat.Wins) / float64(stat.Trades) * 100
		}
		if stat.TotalPnL > bestPnL {
			bestPnL = stat.TotalPnL
			analysis.BestSymbol = symbol
		}
		if stat.TotalPnL < worstPnL {
			worstPnL = stat.TotalPnL
			analysis.WorstSymbol = symbol
		}
	}

	// Newest first, capped at 10 for the prompt
	recent := make([]TradeOutcome, 0, 10)
	for i := len(trades) - 1; i >= 0 && len(recent) < 10; i-- {
		recent = append(recent, trades[i])
	}
	analysis.RecentTrades = recent

	return analysis
}

// calculateSharpeRatio computes a simplified Sharpe ratio over per-cycle
// equity returns. Zero-variance histories return the ±999 sentinel so a
// flawless (or flawlessly bad) run is still distinguishable.
func calculateSharpeRatio(equities []float64) float64 {
	var valid []float64
	for _, e := range equities {
		if e > 0 {
			valid = append(valid, e)
		}
	}

	var returns []float64
	for i := 1; i < len(valid); i++ {
		returns = append(returns, (valid[i]-valid[i-1])/valid[i-1])
	}
	if len(returns) < 2 {
		return 0
	}

	var sum float64
	for _, r := range returns {
		sum += r
	}
	mean := sum / float64(len(returns))

	var variance float64
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns))
	stdDev := math.Sqrt(variance)

	if stdDev == 0 {
		if mean > 0 {
			return 999
		}
		if mean < 0 {
			return -999
		}
		return 0
	}
	return mean / stdDev
}

func formatDuration(openTime, closeTime string) string {
	open, err1 := time.Parse(time.RFC3339, openTime)
	close_, err2 := time.Parse(time.RFC3339, closeTime)
	if err1 != nil || err2 != nil {
		return "unknown"
	}
	d := close_.Sub(open)
	if d < 0 {
		d = 0
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}
