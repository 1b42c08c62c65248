package decision

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"atlas/market"
	"atlas/mcp"
)

// Validation constants. Ceilings are notional multiples of account equity;
// the leverage caps themselves come from configuration.
const (
	largeCapValueCeiling  = 15.0
	otherValueCeiling     = 1.5
	positionSizeTolerance = 1.01
	minRiskRewardRatio    = 3.0
	entryOffsetFraction   = 0.2
)

// largeCapSymbols use the higher leverage tier and the wider position ceiling
var largeCapSymbols = map[string]bool{
	"AAPL":  true,
	"MSFT":  true,
	"GOOGL": true,
	"AMZN":  true,
	"META":  true,
	"NVDA":  true,
}

// IsLargeCap reports whether a symbol belongs to the large-cap tier
func IsLargeCap(symbol string) bool {
	return largeCapSymbols[symbol]
}

// ErrMalformedResponse no balanced JSON array could be located in the response
var ErrMalformedResponse = errors.New("no balanced JSON array in AI response")

// DecisionParseError the extracted array substring is not valid JSON.
// Recoverable: callers treat it as "no decisions this cycle".
type DecisionParseError struct {
	Snippet string
	Err     error
}

func (e *DecisionParseError) Error() string {
	return fmt.Sprintf("failed to parse decision JSON: %v (content: %s)", e.Err, truncateString(e.Snippet, 200))
}

func (e *DecisionParseError) Unwrap() error { return e.Err }

// InvalidDecisionError a decision violates a hard validation constraint
type InvalidDecisionError struct {
	Reason string
}

func (e *InvalidDecisionError) Error() string { return e.Reason }

// PositionInfo position information
type PositionInfo struct {
	Symbol           string  `json:"symbol"`
	Side             string  `json:"side"` // "long" or "short"
	EntryPrice       float64 `json:"entry_price"`
	MarkPrice        float64 `json:"mark_price"`
	Quantity         float64 `json:"quantity"`
	Leverage         int     `json:"leverage"`
	UnrealizedPnL    float64 `json:"unrealized_pnl"`
	UnrealizedPnLPct float64 `json:"unrealized_pnl_pct"`
	LiquidationPrice float64 `json:"liquidation_price"`
	MarginUsed       float64 `json:"margin_used"`
	FirstSeenTime    int64   `json:"first_seen_time_ms"` // milliseconds, tracked across cycles
}

// AccountInfo account snapshot, recomputed every cycle from broker state
type AccountInfo struct {
	TotalEquity      float64 `json:"total_equity"`
	AvailableBalance float64 `json:"available_balance"`
	TotalPnL         float64 `json:"total_pnl"`
	TotalPnLPct      float64 `json:"total_pnl_pct"`
	MarginUsed       float64 `json:"margin_used"`
	MarginUsedPct    float64 `json:"margin_used_pct"`
	PositionCount    int     `json:"position_count"`
}

// CandidateStock candidate symbol (from stock pool)
type CandidateStock struct {
	Symbol  string   `json:"symbol"`
	Sources []string `json:"sources"` // "default" and/or "pool_api"
}

// Context trading context (complete information passed to AI)
type Context struct {
	CurrentTime      string                  `json:"current_time"`
	RuntimeMinutes   int                     `json:"runtime_minutes"`
	CallCount        int                     `json:"call_count"`
	Account          AccountInfo             `json:"account"`
	Positions        []PositionInfo          `json:"positions"`
	CandidateStocks  []CandidateStock        `json:"candidate_stocks"`
	MarketDataMap    map[string]*market.Data `json:"-"`
	Performance      interface{}             `json:"-"` // logger.PerformanceAnalysis, extracted via JSON round-trip
	LargeCapLeverage int                     `json:"-"`
	OtherLeverage    int                     `json:"-"`
}

// Decision AI trading decision. Immutable once parsed.
type Decision struct {
	Symbol          string  `json:"symbol"`
	Action          string  `json:"action"` // "open_long", "open_short", "close_long", "close_short", "hold", "wait"
	Leverage        int     `json:"leverage,omitempty"`
	PositionSizeUSD float64 `json:"position_size_usd,omitempty"`
	StopLoss        float64 `json:"stop_loss,omitempty"`
	TakeProfit      float64 `json:"take_profit,omitempty"`
	Confidence      int     `json:"confidence,omitempty"` // 0-100
	RiskUSD         float64 `json:"risk_usd,omitempty"`
	Reasoning       string  `json:"reasoning"`
}

// FullDecision AI complete decision (including chain of thought)
type FullDecision struct {
	UserPrompt  string     `json:"user_prompt"`
	CoTTrace    string     `json:"cot_trace"`
	Decisions   []Decision `json:"decisions"`
	RawResponse string     `json:"raw_response"`
	Timestamp   time.Time  `json:"timestamp"`
}

var validActions = map[string]bool{
	"open_long":   true,
	"open_short":  true,
	"close_long":  true,
	"close_short": true,
	"hold":        true,
	"wait":        true,
}

// GetFullDecision gets the AI's complete trading decision for one cycle.
// Never returns a nil decision: on AI or parse failure it degrades to a
// single "wait" decision so the cycle can continue.
func GetFullDecision(ctx *Context, client *mcp.Client) (*FullDecision, error) {
	if err := fetchMarketDataForContext(ctx); err != nil {
		log.Printf("⚠️  Failed to fetch market data: %v - using fallback 'wait' decision", err)
		return fallbackDecision(fmt.Sprintf("Market data unavailable: %v", err), ""), nil
	}

	systemPrompt := BuildSystemPrompt(ctx.Account.TotalEquity, ctx.LargeCapLeverage, ctx.OtherLeverage)
	userPrompt := BuildUserPrompt(ctx)

	aiResponse, err := client.CallWithMessages(systemPrompt, userPrompt)
	if err != nil {
		log.Printf("⚠️  Failed to call AI API: %v - using fallback 'wait' decision", err)
		fd := fallbackDecision(fmt.Sprintf("AI API unavailable: %v", err), "")
		fd.UserPrompt = userPrompt
		return fd, nil
	}

	trace, decisions, err := ParseDecisionResponse(aiResponse)
	if err != nil {
		log.Printf("⚠️  Failed to parse AI response: %v - using fallback 'wait' decision", err)
		fd := fallbackDecision(firstWords(trace, aiResponse), trace)
		fd.UserPrompt = userPrompt
		fd.RawResponse = aiResponse
		return fd, nil
	}

	if len(decisions) == 0 {
		// Trace-only response: the AI analyzed but issued no JSON array
		decisions = []Decision{{
			Symbol:    "ALL",
			Action:    "wait",
			Reasoning: "No decision array in response - waiting for next cycle",
		}}
	}

	return &FullDecision{
		UserPrompt:  userPrompt,
		CoTTrace:    trace,
		Decisions:   decisions,
		RawResponse: aiResponse,
		Timestamp:   time.Now(),
	}, nil
}

func fallbackDecision(reason, trace string) *FullDecision {
	if trace == "" {
		trace = reason
	}
	return &FullDecision{
		CoTTrace: trace,
		Decisions: []Decision{{
			Symbol:    "ALL",
			Action:    "wait",
			Reasoning: reason,
		}},
		Timestamp: time.Now(),
	}
}

// firstWords picks a short reasoning string from the trace, falling back to
// the raw response head.
func firstWords(trace, raw string) string {
	s := trace
	if s == "" {
		s = raw
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "No trades - awaiting better opportunities"
	}
	if idx := strings.Index(s, "\n"); idx > 0 && idx < 200 {
		return strings.TrimSpace(s[:idx])
	}
	return truncateString(s, 200)
}

// fetchMarketDataForContext fetches indicator snapshots for position symbols
// and candidates. Single-symbol failure is skipped, not fatal.
func fetchMarketDataForContext(ctx *Context) error {
	ctx.MarketDataMap = make(map[string]*market.Data)

	symbolSet := make(map[string]bool)
	for _, pos := range ctx.Positions {
		symbolSet[pos.Symbol] = true
	}
	for _, stock := range ctx.CandidateStocks {
		symbolSet[stock.Symbol] = true
	}

	for symbol := range symbolSet {
		data, err := market.Get(symbol)
		if err != nil {
			log.Printf("⚠️  Failed to fetch market data for %s: %v", symbol, err)
			continue
		}
		ctx.MarketDataMap[symbol] = data
	}

	if len(ctx.MarketDataMap) == 0 && len(symbolSet) > 0 {
		return fmt.Errorf("no market data available for any of %d symbols", len(symbolSet))
	}
	return nil
}

// ParseDecisionResponse splits raw model output into a reasoning trace and a
// decision list. The trace is everything before the decision array. A
// response without any array yields an empty decision list and no error.
func ParseDecisionResponse(raw string) (string, []Decision, error) {
	normalized := normalizeQuotes(raw)

	start := findJSONArrayStart(normalized)
	if start == -1 {
		return strings.TrimSpace(normalized), nil, nil
	}

	trace := strings.TrimSpace(normalized[:start])
	trace = strings.TrimSpace(strings.TrimSuffix(trace, "```json"))
	end := findMatchingBracket(normalized, start)
	if end == -1 {
		return trace, nil, ErrMalformedResponse
	}

	snippet := strings.TrimSpace(normalized[start : end+1])
	snippet = fixTrailingCommas(snippet)

	var decisions []Decision
	if err := json.Unmarshal([]byte(snippet), &decisions); err != nil {
		return trace, nil, &DecisionParseError{Snippet: snippet, Err: err}
	}

	for i := range decisions {
		if decisions[i].Action == "" {
			decisions[i].Action = "hold"
		}
	}
	return trace, decisions, nil
}

// findJSONArrayStart locates the opening bracket of the decision array.
// Prefers a ```json code block, then the first '[' whose next significant
// character is '{'. Plain numeric arrays in the reasoning are never matched.
func findJSONArrayStart(response string) int {
	if blockStart := strings.Index(response, "```json"); blockStart != -1 {
		contentStart := blockStart + len("```json")
		if inner := findObjectArray(response[contentStart:]); inner != -1 {
			return contentStart + inner
		}
	}
	return findObjectArray(response)
}

// findObjectArray finds the first '[' followed (after whitespace) by '{' or ']'
func findObjectArray(text string) int {
	searchPos := 0
	for {
		openBracket := strings.Index(text[searchPos:], "[")
		if openBracket == -1 {
			return -1
		}
		openBracket += searchPos

		after := openBracket + 1
		for after < len(text) && isSpace(text[after]) {
			after++
		}
		if after < len(text) && (text[after] == '{' || text[after] == ']') {
			return openBracket
		}

		searchPos = openBracket + 1
		if searchPos >= len(text) {
			return -1
		}
	}
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\n' || c == '\r' || c == '\t'
}

// findMatchingBracket scans forward from an opening '[' tracking nesting
// depth and returns the index of the bracket that closes it, or -1.
func findMatchingBracket(s string, start int) int {
	if start >= len(s) || s[start] != '[' {
		return -1
	}
	depth := 0
	for i := start; i < len(s); i++ {
		switch s[i] {
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// normalizeQuotes replaces typographic quotes with plain equivalents
// (input-method artifacts break json.Unmarshal)
func normalizeQuotes(s string) string {
	s = strings.ReplaceAll(s, "“", "\"")
	s = strings.ReplaceAll(s, "”", "\"")
	s = strings.ReplaceAll(s, "‘", "'")
	s = strings.ReplaceAll(s, "’", "'")
	return s
}

// fixTrailingCommas removes trailing commas before closing braces/brackets.
// Valid JSON is unaffected.
func fixTrailingCommas(jsonStr string) string {
	for {
		original := jsonStr
		jsonStr = strings.ReplaceAll(jsonStr, ",}", "}")
		jsonStr = strings.ReplaceAll(jsonStr, ", }", " }")
		jsonStr = strings.ReplaceAll(jsonStr, ",]", "]")
		jsonStr = strings.ReplaceAll(jsonStr, ", ]", " ]")
		if jsonStr == original {
			return jsonStr
		}
	}
}

// truncateString truncates string to specified length
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// ValidateDecision validates a single decision against the hard risk
// constraints. Numeric checks apply only to opening actions. A failure is
// per-decision: the caller drops the decision and records the reason.
func ValidateDecision(d *Decision, accountEquity float64, largeCapLeverage, otherLeverage int) error {
	if !validActions[d.Action] {
		return &InvalidDecisionError{Reason: fmt.Sprintf("invalid action: %q", d.Action)}
	}

	if d.Action != "open_long" && d.Action != "open_short" {
		return nil
	}

	maxLeverage := otherLeverage
	valueCeiling := accountEquity * otherValueCeiling
	if IsLargeCap(d.Symbol) {
		maxLeverage = largeCapLeverage
		valueCeiling = accountEquity * largeCapValueCeiling
	}

	if d.Leverage <= 0 || d.Leverage > maxLeverage {
		return &InvalidDecisionError{Reason: fmt.Sprintf(
			"leverage must be between 1-%d (%s, current config limit %dx): %d",
			maxLeverage, d.Symbol, maxLeverage, d.Leverage)}
	}
	if d.PositionSizeUSD <= 0 {
		return &InvalidDecisionError{Reason: fmt.Sprintf("position size must be greater than 0: %.2f", d.PositionSizeUSD)}
	}
	if d.PositionSizeUSD > valueCeiling*positionSizeTolerance {
		return &InvalidDecisionError{Reason: fmt.Sprintf(
			"position size %.0f USD exceeds limit %.0f USD for %s",
			d.PositionSizeUSD, valueCeiling, d.Symbol)}
	}
	if d.StopLoss <= 0 || d.TakeProfit <= 0 {
		return &InvalidDecisionError{Reason: "stop loss and take profit must be greater than 0"}
	}

	if d.Action == "open_long" {
		if d.StopLoss >= d.TakeProfit {
			return &InvalidDecisionError{Reason: "for long positions, stop loss must be less than take profit"}
		}
	} else {
		if d.StopLoss <= d.TakeProfit {
			return &InvalidDecisionError{Reason: "for short positions, stop loss must be greater than take profit"}
		}
	}

	// Assume entry already moved 20% of the way from stop toward target,
	// then require reward/risk of at least 3:1 from that entry
	var assumedEntryPrice float64
	if d.Action == "open_long" {
		assumedEntryPrice = d.StopLoss + (d.TakeProfit-d.StopLoss)*entryOffsetFraction
	} else {
		assumedEntryPrice = d.StopLoss - (d.StopLoss-d.TakeProfit)*entryOffsetFraction
	}

	var riskPercent, rewardPercent, riskRewardRatio float64
	if d.Action == "open_long" {
		riskPercent = (assumedEntryPrice - d.StopLoss) / assumedEntryPrice * 100
		rewardPercent = (d.TakeProfit - assumedEntryPrice) / assumedEntryPrice * 100
	} else {
		riskPercent = (d.StopLoss - assumedEntryPrice) / assumedEntryPrice * 100
		rewardPercent = (assumedEntryPrice - d.TakeProfit) / assumedEntryPrice * 100
	}
	if riskPercent > 0 {
		riskRewardRatio = rewardPercent / riskPercent
	}

	if riskRewardRatio < minRiskRewardRatio {
		return &InvalidDecisionError{Reason: fmt.Sprintf(
			"risk-reward ratio too low (%.2f:1), must be ≥%.1f:1 [risk:%.2f%% reward:%.2f%%] [stop loss:%.2f take profit:%.2f]",
			riskRewardRatio, minRiskRewardRatio, riskPercent, rewardPercent, d.StopLoss, d.TakeProfit)}
	}

	return nil
}

// actionPriority close actions settle before opens so margin is freed and
// exposure never doubles transiently
func actionPriority(action string) int {
	switch action {
	case "close_long", "close_short":
		return 1
	case "open_long", "open_short":
		return 2
	case "hold", "wait":
		return 3
	default:
		return 999
	}
}

// SortByPriority orders decisions close-first, then opens, then hold/wait,
// preserving relative order within each group. The input slice is untouched.
func SortByPriority(decisions []Decision) []Decision {
	sorted := append([]Decision(nil), decisions...)

	// Stable insertion sort keeps relative order within equal priorities
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && actionPriority(sorted[j].Action) < actionPriority(sorted[j-1].Action); j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}
	return sorted
}
