// Command summarize prints an offline performance report for every trader
// found in a decision log directory, ranked by Sharpe ratio.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"atlas/logger"
)

type traderReport struct {
	traderID string
	stats    *logger.Statistics
	analysis *logger.PerformanceAnalysis
	equity   []logger.EquityPoint
}

func main() {
	logDir := "decision_logs"
	if len(os.Args) > 1 {
		logDir = os.Args[1]
	}

	matches, err := filepath.Glob(filepath.Join(logDir, "*.jsonl"))
	if err != nil || len(matches) == 0 {
		fmt.Printf("No decision logs found in %s\n", logDir)
		os.Exit(1)
	}

	var reports []traderReport
	for _, path := range matches {
		traderID := strings.TrimSuffix(filepath.Base(path), ".jsonl")
		l, err := logger.NewDecisionLogger(logDir, traderID)
		if err != nil {
			fmt.Printf("⚠️  %s: failed to open log: %v\n", traderID, err)
			continue
		}

		stats, err := l.GetStatistics()
		if err != nil {
			fmt.Printf("⚠️  %s: failed to read statistics: %v\n", traderID, err)
			continue
		}
		analysis, err := l.AnalyzePerformance(0)
		if err != nil {
			fmt.Printf("⚠️  %s: failed to analyze performance: %v\n", traderID, err)
			continue
		}
		equity, _ := l.GetEquityHistory()

		reports = append(reports, traderReport{
			traderID: traderID,
			stats:    stats,
			analysis: analysis,
			equity:   equity,
		})
	}

	sort.Slice(reports, func(i, j int) bool {
		return reports[i].analysis.SharpeRatio > reports[j].analysis.SharpeRatio
	})

	fmt.Println(strings.Repeat("=", 100))
	fmt.Printf("📊 TRADER PERFORMANCE SUMMARY (%d trader(s), ranked by Sharpe)\n", len(reports))
	fmt.Println(strings.Repeat("=", 100))
	fmt.Println()

	fmt.Printf("%-4s %-24s %8s %8s %8s %10s %10s %10s %8s\n",
		"Rank", "Trader", "Cycles", "Trades", "Win%", "AvgWin", "AvgLoss", "PF", "Sharpe")
	fmt.Println(strings.Repeat("-", 100))
	for i, r := range reports {
		fmt.Printf("%-4d %-24s %8d %8d %7.1f%% %10.2f %10.2f %10.2f %8.2f\n",
			i+1, r.traderID,
			r.stats.TotalCycles, r.analysis.TotalTrades, r.analysis.WinRate,
			r.analysis.AvgWin, r.analysis.AvgLoss,
			r.analysis.ProfitFactor, r.analysis.SharpeRatio)
	}
	fmt.Println()

	for _, r := range reports {
		fmt.Println(strings.Repeat("-", 100))
		fmt.Printf("📈 %s\n", r.traderID)
		fmt.Printf("   Cycles: %d total (%d ok, %d failed) | Opens: %d | Closes: %d\n",
			r.stats.TotalCycles, r.stats.SuccessfulCycles, r.stats.FailedCycles,
			r.stats.TotalOpenPositions, r.stats.TotalClosePositions)
		if len(r.equity) > 0 {
			first := r.equity[0].Equity
			last := r.equity[len(r.equity)-1].Equity
			fmt.Printf("   Equity: %.2f → %.2f (%+.2f%%)\n", first, last, (last-first)/first*100)
		}
		if r.analysis.BestSymbol != "" {
			fmt.Printf("   Best symbol: %s | Worst symbol: %s\n", r.analysis.BestSymbol, r.analysis.WorstSymbol)
		}
		if len(r.analysis.RecentTrades) > 0 {
			fmt.Println("   Recent trades:")
			for _, t := range r.analysis.RecentTrades {
				fmt.Printf("     %s %s %.0f @ %.2f → %.2f: %+.2f USD (%+.2f%%) in %s\n",
					t.Symbol, t.Side, t.Quantity, t.OpenPrice, t.ClosePrice, t.PnL, t.PnLPct, t.Duration)
			}
		}
	}
	fmt.Println(strings.Repeat("=", 100))
}
