package decision

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

func nowUnixMilli() int64 { return time.Now().UnixMilli() }

// BuildSystemPrompt builds the system prompt (role, hard constraints, output format)
func BuildSystemPrompt(accountEquity float64, largeCapLeverage, otherLeverage int) string {
	var sb strings.Builder

	sb.WriteString("You are a professional stock trading AI managing a leveraged account. ")
	sb.WriteString("You autonomously analyze technical indicators and decide to open, close, or hold positions each cycle.\n\n")

	sb.WriteString("# 🎯 Core Objective\n\n")
	sb.WriteString("**Maximize risk-adjusted returns (Sharpe ratio), not raw returns.**\n\n")
	sb.WriteString("The Sharpe ratio rewards steady equity growth and punishes volatility and drawdowns. ")
	sb.WriteString("Frequent small losses and oversized swings both destroy it. It is better to wait than to force a mediocre trade.\n\n")

	sb.WriteString("# ⚖️ Hard Constraints (violations are rejected)\n\n")
	largeCapValue := accountEquity * largeCapValueCeiling
	otherValue := accountEquity * otherValueCeiling
	sb.WriteString(fmt.Sprintf("1. **Leverage**: large-cap stocks (AAPL/MSFT/GOOGL/AMZN/META/NVDA) max %dx, all others max %dx\n", largeCapLeverage, otherLeverage))
	sb.WriteString(fmt.Sprintf("2. **Position value**: large-cap max %.0f USD, others max %.0f USD (notional, per position)\n", largeCapValue, otherValue))
	sb.WriteString("3. **Stop loss / take profit**: every open decision MUST set both, on the correct side of entry\n")
	sb.WriteString(fmt.Sprintf("4. **Risk-reward**: minimum %.0f:1 measured from stop loss to take profit\n", minRiskRewardRatio))
	sb.WriteString("5. **One position per symbol-side**: never open a symbol+direction that is already open\n\n")

	sb.WriteString("# 📈 Long/Short Balance\n\n")
	sb.WriteString("You can profit in both directions. Evaluate longs AND shorts every cycle; ")
	sb.WriteString("a weakening symbol below its EMAs with falling MACD is a short candidate, not just \"no trade\".\n\n")

	sb.WriteString("# 📤 Output Format\n\n")
	sb.WriteString("First write your chain-of-thought analysis as plain text. ")
	sb.WriteString("Then output a single JSON array of decision objects. Example:\n\n")
	sb.WriteString("```json\n")
	sb.WriteString(`[
  {
    "symbol": "AAPL",
    "action": "open_long",
    "leverage": 10,
    "position_size_usd": 800,
    "stop_loss": 150.0,
    "take_profit": 180.0,
    "confidence": 75,
    "risk_usd": 30,
    "reasoning": "Price above EMA12/EMA26 with MACD expanding"
  },
  {
    "symbol": "TSLA",
    "action": "close_short",
    "reasoning": "Take profit, momentum fading"
  }
]
`)
	sb.WriteString("```\n\n")
	sb.WriteString("Field notes:\n")
	sb.WriteString("- action: open_long / open_short / close_long / close_short / hold / wait\n")
	sb.WriteString("- leverage, position_size_usd, stop_loss, take_profit: required for open actions only\n")
	sb.WriteString("- confidence: 0-100 integer\n")
	sb.WriteString("- If no trade is justified, output [{\"symbol\": \"ALL\", \"action\": \"wait\", \"reasoning\": \"...\"}]\n")

	return sb.String()
}

// BuildUserPrompt builds the user prompt (current state snapshot)
func BuildUserPrompt(ctx *Context) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Time: %s | Cycle: #%d | Runtime: %d minutes\n\n",
		ctx.CurrentTime, ctx.CallCount, ctx.RuntimeMinutes))

	sb.WriteString(fmt.Sprintf("【Account】Equity %.2f USD | Available %.2f | PnL %+.2f (%.2f%%) | Margin used %.1f%% | %d positions\n\n",
		ctx.Account.TotalEquity, ctx.Account.AvailableBalance,
		ctx.Account.TotalPnL, ctx.Account.TotalPnLPct,
		ctx.Account.MarginUsedPct, ctx.Account.PositionCount))

	if len(ctx.Positions) > 0 {
		sb.WriteString("【Current Positions】\n")
		for _, pos := range ctx.Positions {
			sb.WriteString(fmt.Sprintf("- %s %s %dx | entry %.2f mark %.2f | qty %.2f | PnL %+.2f USD (%+.2f%%)",
				pos.Symbol, strings.ToUpper(pos.Side), pos.Leverage,
				pos.EntryPrice, pos.MarkPrice, pos.Quantity,
				pos.UnrealizedPnL, pos.UnrealizedPnLPct))
			if pos.FirstSeenTime > 0 {
				sb.WriteString(fmt.Sprintf(" | held %s", formatHoldingDuration(pos.FirstSeenTime)))
			}
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	} else {
		sb.WriteString("【Current Positions】none\n\n")
	}

	if len(ctx.CandidateStocks) > 0 {
		sb.WriteString("【Candidate Stocks】\n")
		for _, stock := range ctx.CandidateStocks {
			sb.WriteString(fmt.Sprintf("- %s (%s)\n", stock.Symbol, strings.Join(stock.Sources, ",")))
		}
		sb.WriteString("\n")
	}

	if len(ctx.MarketDataMap) > 0 {
		sb.WriteString("【Market Data】\n")
		writeMarketSection(&sb, ctx)
		sb.WriteString("\n")
	}

	writePerformanceSection(&sb, ctx.Performance)

	sb.WriteString("Analyze the data above, then output your decision JSON array.\n")
	sb.WriteString("REQUIRED OUTPUT FORMAT: chain-of-thought text first, then exactly one JSON array of decision objects.\n")

	return sb.String()
}

func writeMarketSection(sb *strings.Builder, ctx *Context) {
	// Positions first, then candidates, skipping duplicates
	written := make(map[string]bool)
	writeOne := func(symbol string) {
		if written[symbol] {
			return
		}
		data, ok := ctx.MarketDataMap[symbol]
		if !ok {
			return
		}
		written[symbol] = true
		sb.WriteString(fmt.Sprintf("- %s: price %.2f | EMA12 %.2f EMA26 %.2f | MACD %.4f | RSI14 %.1f\n",
			symbol, data.CurrentPrice, data.CurrentEMA12, data.CurrentEMA26,
			data.CurrentMACD, data.CurrentRSI14))
	}
	for _, pos := range ctx.Positions {
		writeOne(pos.Symbol)
	}
	for _, stock := range ctx.CandidateStocks {
		writeOne(stock.Symbol)
	}
}

// writePerformanceSection extracts historical performance via JSON round-trip
// (Performance is interface{} to avoid importing the logger package)
func writePerformanceSection(sb *strings.Builder, performance interface{}) {
	if performance == nil {
		return
	}

	jsonData, err := json.Marshal(performance)
	if err != nil {
		return
	}

	var perf struct {
		TotalTrades  int     `json:"total_trades"`
		WinRate      float64 `json:"win_rate"`
		AvgWin       float64 `json:"avg_win"`
		AvgLoss      float64 `json:"avg_loss"`
		ProfitFactor float64 `json:"profit_factor"`
		SharpeRatio  float64 `json:"sharpe_ratio"`
		RecentTrades []struct {
			Symbol string  `json:"symbol"`
			Side   string  `json:"side"`
			PnL    float64 `json:"pn_l"`
			PnLPct float64 `json:"pn_l_pct"`
		} `json:"recent_trades"`
	}
	if err := json.Unmarshal(jsonData, &perf); err != nil || perf.TotalTrades == 0 {
		return
	}

	sb.WriteString("【Historical Performance】\n")
	sb.WriteString(fmt.Sprintf("Trades: %d | Win rate: %.1f%% | Avg win: %+.2f | Avg loss: %+.2f | Profit factor: %.2f | Sharpe: %.2f\n",
		perf.TotalTrades, perf.WinRate, perf.AvgWin, perf.AvgLoss,
		perf.ProfitFactor, perf.SharpeRatio))

	// Losses first so recent mistakes are front of mind
	var losses, wins []string
	for _, t := range perf.RecentTrades {
		line := fmt.Sprintf("%s %s %+.2f USD (%+.2f%%)", t.Symbol, t.Side, t.PnL, t.PnLPct)
		if t.PnL < 0 {
			losses = append(losses, line)
		} else {
			wins = append(wins, line)
		}
	}
	if len(losses) > 0 {
		sb.WriteString("Recent losses (learn from these): " + strings.Join(losses, "; ") + "\n")
	}
	if len(wins) > 0 {
		sb.WriteString("Recent wins: " + strings.Join(wins, "; ") + "\n")
	}
	sb.WriteString("\n")
}

func formatHoldingDuration(firstSeenMs int64) string {
	minutes := (nowUnixMilli() - firstSeenMs) / 1000 / 60
	if minutes < 0 {
		minutes = 0
	}
	if minutes < 60 {
		return fmt.Sprintf("%dm", minutes)
	}
	return fmt.Sprintf("%dh%dm", minutes/60, minutes%60)
}
