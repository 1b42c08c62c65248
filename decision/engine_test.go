package decision

import (
	"errors"
	"strings"
	"testing"
)

func TestParseDecisionResponseExtractsTraceAndDecisions(t *testing.T) {
	raw := `Market looks strong. AAPL is above both EMAs with expanding MACD.

` + "```json" + `
[
  {"symbol": "AAPL", "action": "open_long", "leverage": 10, "position_size_usd": 800, "stop_loss": 150.0, "take_profit": 180.0, "confidence": 75, "reasoning": "momentum"}
]
` + "```"

	trace, decisions, err := ParseDecisionResponse(raw)
	if err != nil {
		t.Fatalf("ParseDecisionResponse failed: %v", err)
	}
	if !strings.Contains(trace, "AAPL is above both EMAs") {
		t.Errorf("trace missing analysis text: %q", trace)
	}
	if strings.Contains(trace, "open_long") {
		t.Errorf("trace contains decision JSON: %q", trace)
	}
	if len(decisions) != 1 {
		t.Fatalf("expected 1 decision, got %d", len(decisions))
	}
	d := decisions[0]
	if d.Symbol != "AAPL" || d.Action != "open_long" || d.Leverage != 10 {
		t.Errorf("unexpected decision: %+v", d)
	}
	if d.StopLoss != 150.0 || d.TakeProfit != 180.0 || d.Confidence != 75 {
		t.Errorf("unexpected numeric fields: %+v", d)
	}
}

func TestParseDecisionResponseTraceExcludesCodeFence(t *testing.T) {
	raw := "NVDA momentum is fading, taking profit.\n\n```json\n[{\"symbol\": \"NVDA\", \"action\": \"close_long\", \"reasoning\": \"take profit\"}]\n```"

	trace, decisions, err := ParseDecisionResponse(raw)
	if err != nil {
		t.Fatalf("ParseDecisionResponse failed: %v", err)
	}
	if strings.Contains(trace, "```") {
		t.Errorf("trace must not carry the code fence: %q", trace)
	}
	if trace != "NVDA momentum is fading, taking profit." {
		t.Errorf("unexpected trace: %q", trace)
	}
	if len(decisions) != 1 || decisions[0].Symbol != "NVDA" {
		t.Fatalf("unexpected decisions: %+v", decisions)
	}
}

func TestParseDecisionResponseSkipsNumericArraysInProse(t *testing.T) {
	raw := `My targets are [150, 160, 170] for the next week.

[{"symbol": "MSFT", "action": "hold", "reasoning": "ranging"}]`

	trace, decisions, err := ParseDecisionResponse(raw)
	if err != nil {
		t.Fatalf("ParseDecisionResponse failed: %v", err)
	}
	if !strings.Contains(trace, "[150, 160, 170]") {
		t.Errorf("numeric array should stay in trace: %q", trace)
	}
	if len(decisions) != 1 || decisions[0].Symbol != "MSFT" {
		t.Fatalf("expected MSFT hold, got %+v", decisions)
	}
}

func TestParseDecisionResponseNormalizesCurlyQuotes(t *testing.T) {
	raw := "[{“symbol”: “NVDA”, “action”: “close_long”, “reasoning”: “take profit”}]"

	_, decisions, err := ParseDecisionResponse(raw)
	if err != nil {
		t.Fatalf("ParseDecisionResponse failed: %v", err)
	}
	if len(decisions) != 1 || decisions[0].Symbol != "NVDA" || decisions[0].Action != "close_long" {
		t.Fatalf("unexpected decisions: %+v", decisions)
	}
}

func TestParseDecisionResponseRepairsTrailingCommas(t *testing.T) {
	raw := `[{"symbol": "AMZN", "action": "hold", "reasoning": "wait",}]`

	_, decisions, err := ParseDecisionResponse(raw)
	if err != nil {
		t.Fatalf("ParseDecisionResponse failed: %v", err)
	}
	if len(decisions) != 1 || decisions[0].Symbol != "AMZN" {
		t.Fatalf("unexpected decisions: %+v", decisions)
	}
}

func TestParseDecisionResponseNoArrayIsTraceOnly(t *testing.T) {
	raw := "The market is too choppy today. I will not trade this cycle."

	trace, decisions, err := ParseDecisionResponse(raw)
	if err != nil {
		t.Fatalf("expected no error for trace-only response, got %v", err)
	}
	if trace != raw {
		t.Errorf("trace should be the whole text, got %q", trace)
	}
	if len(decisions) != 0 {
		t.Errorf("expected no decisions, got %+v", decisions)
	}
}

func TestParseDecisionResponseUnbalancedArray(t *testing.T) {
	raw := `Analysis done.
[{"symbol": "META", "action": "open_short"`

	_, _, err := ParseDecisionResponse(raw)
	if !errors.Is(err, ErrMalformedResponse) {
		t.Fatalf("expected ErrMalformedResponse, got %v", err)
	}
}

func TestParseDecisionResponseBadJSONIsParseError(t *testing.T) {
	raw := `[{"symbol": "META", "action": open_short}]`

	_, _, err := ParseDecisionResponse(raw)
	var parseErr *DecisionParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("expected DecisionParseError, got %v", err)
	}
	if !strings.Contains(parseErr.Snippet, "META") {
		t.Errorf("parse error should carry the offending snippet: %q", parseErr.Snippet)
	}
}

func TestParseDecisionResponseDefaultsMissingAction(t *testing.T) {
	raw := `[{"symbol": "GOOGL", "reasoning": "no strong signal"}]`

	_, decisions, err := ParseDecisionResponse(raw)
	if err != nil {
		t.Fatalf("ParseDecisionResponse failed: %v", err)
	}
	if decisions[0].Action != "hold" {
		t.Errorf("missing action should default to hold, got %q", decisions[0].Action)
	}
	if decisions[0].Leverage != 0 || decisions[0].PositionSizeUSD != 0 {
		t.Errorf("missing numerics should be zero: %+v", decisions[0])
	}
}

func TestParseDecisionResponseEmptyArray(t *testing.T) {
	_, decisions, err := ParseDecisionResponse("Nothing to do. []")
	if err != nil {
		t.Fatalf("ParseDecisionResponse failed: %v", err)
	}
	if len(decisions) != 0 {
		t.Errorf("expected empty decision list, got %+v", decisions)
	}
}

func validOpenLong() Decision {
	return Decision{
		Symbol:          "AAPL",
		Action:          "open_long",
		Leverage:        10,
		PositionSizeUSD: 800,
		StopLoss:        150,
		TakeProfit:      180,
		Reasoning:       "test",
	}
}

func TestValidateDecisionAcceptsWellFormedLong(t *testing.T) {
	d := validOpenLong()
	if err := ValidateDecision(&d, 10000, 10, 5); err != nil {
		t.Fatalf("expected accept, got %v", err)
	}
}

func TestValidateDecisionAcceptsWellFormedShort(t *testing.T) {
	d := Decision{
		Symbol:          "NVDA",
		Action:          "open_short",
		Leverage:        10,
		PositionSizeUSD: 500,
		StopLoss:        200,
		TakeProfit:      140,
	}
	if err := ValidateDecision(&d, 10000, 10, 5); err != nil {
		t.Fatalf("expected accept, got %v", err)
	}
}

func TestValidateDecisionRejectsExcessLeverage(t *testing.T) {
	d := validOpenLong()
	d.Leverage = 11
	if err := ValidateDecision(&d, 10000, 10, 5); err == nil {
		t.Fatal("expected leverage rejection")
	}

	// Non-large-cap uses the lower cap
	d = validOpenLong()
	d.Symbol = "TSLA"
	d.Leverage = 6
	d.PositionSizeUSD = 500
	if err := ValidateDecision(&d, 10000, 10, 5); err == nil {
		t.Fatal("expected leverage rejection for non-large-cap")
	}
	d.Leverage = 5
	if err := ValidateDecision(&d, 10000, 10, 5); err != nil {
		t.Fatalf("leverage at cap should pass: %v", err)
	}
}

func TestValidateDecisionRejectsZeroLeverage(t *testing.T) {
	d := validOpenLong()
	d.Leverage = 0
	if err := ValidateDecision(&d, 10000, 10, 5); err == nil {
		t.Fatal("expected rejection for zero leverage")
	}
}

func TestValidateDecisionPositionCeilingWithTolerance(t *testing.T) {
	// Large-cap ceiling is 15x equity with 1% tolerance
	d := validOpenLong()
	d.PositionSizeUSD = 10000 * largeCapValueCeiling * 1.005
	if err := ValidateDecision(&d, 10000, 10, 5); err != nil {
		t.Fatalf("size inside tolerance should pass: %v", err)
	}

	d.PositionSizeUSD = 10000 * largeCapValueCeiling * 1.02
	if err := ValidateDecision(&d, 10000, 10, 5); err == nil {
		t.Fatal("size beyond tolerance should be rejected")
	}

	// Non-large-cap ceiling is 1.5x equity
	d = validOpenLong()
	d.Symbol = "TSLA"
	d.Leverage = 5
	d.PositionSizeUSD = 10000 * otherValueCeiling * 1.02
	if err := ValidateDecision(&d, 10000, 10, 5); err == nil {
		t.Fatal("non-large-cap size beyond ceiling should be rejected")
	}
}

func TestValidateDecisionRejectsMisorderedStops(t *testing.T) {
	d := validOpenLong()
	d.StopLoss, d.TakeProfit = 180, 150
	if err := ValidateDecision(&d, 10000, 10, 5); err == nil {
		t.Fatal("long with SL above TP must be rejected")
	}

	short := Decision{
		Symbol:          "AAPL",
		Action:          "open_short",
		Leverage:        10,
		PositionSizeUSD: 500,
		StopLoss:        140,
		TakeProfit:      200,
	}
	if err := ValidateDecision(&short, 10000, 10, 5); err == nil {
		t.Fatal("short with SL below TP must be rejected")
	}
}

func TestValidateDecisionRejectsMissingStops(t *testing.T) {
	d := validOpenLong()
	d.StopLoss = 0
	if err := ValidateDecision(&d, 10000, 10, 5); err == nil {
		t.Fatal("expected rejection for missing stop loss")
	}
}

func TestValidateDecisionRejectsUnknownAction(t *testing.T) {
	d := Decision{Symbol: "AAPL", Action: "liquidate_everything"}
	if err := ValidateDecision(&d, 10000, 10, 5); err == nil {
		t.Fatal("expected rejection for unknown action")
	}
}

func TestValidateDecisionSkipsNumericChecksOnClose(t *testing.T) {
	d := Decision{Symbol: "AAPL", Action: "close_long"}
	if err := ValidateDecision(&d, 10000, 10, 5); err != nil {
		t.Fatalf("close should not run numeric checks: %v", err)
	}
	d = Decision{Symbol: "ALL", Action: "wait"}
	if err := ValidateDecision(&d, 10000, 10, 5); err != nil {
		t.Fatalf("wait should not run numeric checks: %v", err)
	}
}

func TestValidateDecisionRiskRewardArithmetic(t *testing.T) {
	// SL 150, TP 180 long: assumed entry 156, risk 3.85%, reward 15.38%
	d := validOpenLong()
	entry := d.StopLoss + (d.TakeProfit-d.StopLoss)*entryOffsetFraction
	if entry != 156 {
		t.Fatalf("assumed entry should be 156, got %.2f", entry)
	}
	if err := ValidateDecision(&d, 10000, 10, 5); err != nil {
		t.Fatalf("4:1 reward/risk should pass the 3:1 floor: %v", err)
	}
}

func TestSortByPriorityClosesBeforeOpens(t *testing.T) {
	decisions := []Decision{
		{Symbol: "AAPL", Action: "open_long"},
		{Symbol: "MSFT", Action: "hold"},
		{Symbol: "NVDA", Action: "close_short"},
		{Symbol: "GOOGL", Action: "open_short"},
		{Symbol: "AMZN", Action: "close_long"},
		{Symbol: "ALL", Action: "wait"},
	}

	sorted := SortByPriority(decisions)

	want := []string{"NVDA", "AMZN", "AAPL", "GOOGL", "MSFT", "ALL"}
	for i, symbol := range want {
		if sorted[i].Symbol != symbol {
			t.Fatalf("position %d: want %s, got %s (full order: %+v)", i, symbol, sorted[i].Symbol, sorted)
		}
	}

	// Input slice is untouched
	if decisions[0].Symbol != "AAPL" {
		t.Errorf("input slice was mutated: %+v", decisions)
	}
}

func TestSortByPriorityUnknownActionsLast(t *testing.T) {
	decisions := []Decision{
		{Symbol: "X", Action: "mystery"},
		{Symbol: "AAPL", Action: "open_long"},
		{Symbol: "ALL", Action: "wait"},
	}
	sorted := SortByPriority(decisions)
	if sorted[len(sorted)-1].Symbol != "X" {
		t.Fatalf("unknown action should sort last: %+v", sorted)
	}
}

func TestIsLargeCap(t *testing.T) {
	for _, symbol := range []string{"AAPL", "MSFT", "GOOGL", "AMZN", "META", "NVDA"} {
		if !IsLargeCap(symbol) {
			t.Errorf("%s should be large-cap", symbol)
		}
	}
	if IsLargeCap("TSLA") {
		t.Error("TSLA should not be large-cap")
	}
}
