package trader

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"
	"time"

	decisionPkg "atlas/decision"
	"atlas/logger"
	"atlas/market"
)

func newTestTrader(t *testing.T) *AutoTrader {
	t.Helper()
	at, err := NewAutoTrader(AutoTraderConfig{
		ID:               "test_trader",
		Name:             "Test Trader",
		InitialBalance:   10000,
		LargeCapLeverage: 10,
		OtherLeverage:    5,
		LogDir:           t.TempDir(),
	})
	if err != nil {
		t.Fatalf("NewAutoTrader failed: %v", err)
	}
	return at
}

func TestNewAutoTraderRejectsZeroBalance(t *testing.T) {
	_, err := NewAutoTrader(AutoTraderConfig{ID: "x", LogDir: t.TempDir()})
	if err == nil {
		t.Fatal("expected error for zero initial balance")
	}
}

func TestExecuteOpenComputesWholeShareQuantity(t *testing.T) {
	at := newTestTrader(t)

	data, err := market.Get("AAPL")
	if err != nil {
		t.Fatalf("market.Get failed: %v", err)
	}
	size := data.CurrentPrice*5 + data.CurrentPrice/2 // 5.5 shares worth

	d := &decisionPkg.Decision{
		Symbol:          "AAPL",
		Action:          "open_long",
		Leverage:        10,
		PositionSizeUSD: size,
	}
	actionRecord := &logger.DecisionAction{}
	if err := at.executeDecision(d, actionRecord); err != nil {
		t.Fatalf("executeDecision failed: %v", err)
	}

	if actionRecord.Quantity != 5 {
		t.Errorf("quantity should floor to whole shares: want 5, got %f", actionRecord.Quantity)
	}
	if actionRecord.OrderID == "" {
		t.Error("order ID should be recorded")
	}
	if math.Abs(actionRecord.Price-data.CurrentPrice) > 1e-9 {
		t.Errorf("fill price mismatch: want %f, got %f", data.CurrentPrice, actionRecord.Price)
	}
}

func TestExecuteOpenRejectsSubShareSize(t *testing.T) {
	at := newTestTrader(t)

	d := &decisionPkg.Decision{
		Symbol:          "AAPL",
		Action:          "open_long",
		Leverage:        10,
		PositionSizeUSD: 1, // far below one share
	}
	err := at.executeDecision(d, &logger.DecisionAction{})
	if err == nil {
		t.Fatal("expected rejection for sub-share position size")
	}
	if !strings.Contains(err.Error(), "less than one share") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestExecuteOpenRejectsDuplicatePosition(t *testing.T) {
	at := newTestTrader(t)

	d := &decisionPkg.Decision{
		Symbol:          "MSFT",
		Action:          "open_long",
		Leverage:        10,
		PositionSizeUSD: 2000,
	}
	if err := at.executeDecision(d, &logger.DecisionAction{}); err != nil {
		t.Fatalf("first open failed: %v", err)
	}

	err := at.executeDecision(d, &logger.DecisionAction{})
	if err == nil {
		t.Fatal("second open of same symbol+side must be rejected")
	}
	var conflict *PositionConflictError
	if !errors.As(err, &conflict) {
		t.Errorf("expected PositionConflictError, got %v", err)
	} else if conflict.Symbol != "MSFT" || conflict.Side != "long" {
		t.Errorf("conflict details wrong: %+v", conflict)
	}

	// Opposite direction is a different position and must pass
	short := &decisionPkg.Decision{
		Symbol:          "MSFT",
		Action:          "open_short",
		Leverage:        10,
		PositionSizeUSD: 2000,
	}
	if err := at.executeDecision(short, &logger.DecisionAction{}); err != nil {
		t.Fatalf("short on same symbol should be allowed: %v", err)
	}
}

func TestExecuteCloseRemovesFirstSeenTracking(t *testing.T) {
	at := newTestTrader(t)

	open := &decisionPkg.Decision{
		Symbol:          "NVDA",
		Action:          "open_long",
		Leverage:        10,
		PositionSizeUSD: 2000,
	}
	if err := at.executeDecision(open, &logger.DecisionAction{}); err != nil {
		t.Fatalf("open failed: %v", err)
	}
	at.mu.RLock()
	_, tracked := at.positionFirstSeenTime["NVDA_long"]
	at.mu.RUnlock()
	if !tracked {
		t.Fatal("open should record first-seen time")
	}

	closeDec := &decisionPkg.Decision{Symbol: "NVDA", Action: "close_long"}
	record := &logger.DecisionAction{}
	if err := at.executeDecision(closeDec, record); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if record.Quantity == 0 {
		t.Error("close should record the filled quantity")
	}
	at.mu.RLock()
	_, tracked = at.positionFirstSeenTime["NVDA_long"]
	at.mu.RUnlock()
	if tracked {
		t.Error("close should drop first-seen tracking")
	}
}

func TestExecuteHoldAndWaitAreNoOps(t *testing.T) {
	at := newTestTrader(t)
	for _, action := range []string{"hold", "wait"} {
		d := &decisionPkg.Decision{Symbol: "ALL", Action: action}
		if err := at.executeDecision(d, &logger.DecisionAction{}); err != nil {
			t.Errorf("%s should be a no-op: %v", action, err)
		}
	}
}

func TestExecuteUnknownActionErrors(t *testing.T) {
	at := newTestTrader(t)
	d := &decisionPkg.Decision{Symbol: "AAPL", Action: "nuke"}
	if err := at.executeDecision(d, &logger.DecisionAction{}); err == nil {
		t.Fatal("unknown action must error")
	}
}

func TestRunCycleSkipsDuringCooldown(t *testing.T) {
	at := newTestTrader(t)
	at.SetCooldown(time.Hour)

	if err := at.runCycle(); err != nil {
		t.Fatalf("cooldown cycle should not error: %v", err)
	}

	records, err := at.decisionLogger.GetAllRecords()
	if err != nil {
		t.Fatalf("GetAllRecords failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("skipped cycle must still be recorded, got %d records", len(records))
	}
	rec := records[0]
	if rec.Success {
		t.Error("cooldown cycle should be recorded as failed")
	}
	if !strings.Contains(rec.ErrorMessage, "Risk control pause active") {
		t.Errorf("missing cooldown reason: %q", rec.ErrorMessage)
	}
	if !strings.Contains(rec.ErrorMessage, "remaining") {
		t.Errorf("cooldown record should mention the remaining duration: %q", rec.ErrorMessage)
	}
}

func TestCheckDailyLossTriggersCooldown(t *testing.T) {
	at := newTestTrader(t)
	at.config.MaxDailyLoss = 5
	at.config.StopTradingTime = 30 * time.Minute

	at.checkDailyLoss(9600) // -4%, under the limit
	if at.GetStatus().InCooldown {
		t.Fatal("loss under the limit must not pause trading")
	}

	at.checkDailyLoss(9400) // -6%, over the limit
	if !at.GetStatus().InCooldown {
		t.Fatal("loss over the limit must pause trading")
	}
}

func TestSnapshotPositionsTracksFirstSeen(t *testing.T) {
	at := newTestTrader(t)

	at.broker.SetLeverage("AAPL", 10)
	if _, err := at.broker.PlaceOrder("AAPL", SideBuy, 2, "market"); err != nil {
		t.Fatalf("open failed: %v", err)
	}

	infos, err := at.snapshotPositions()
	if err != nil {
		t.Fatalf("snapshotPositions failed: %v", err)
	}
	if len(infos) != 1 || infos[0].FirstSeenTime == 0 {
		t.Fatalf("first-seen time should be set: %+v", infos)
	}
	firstSeen := infos[0].FirstSeenTime

	// Second snapshot keeps the original timestamp
	infos, _ = at.snapshotPositions()
	if infos[0].FirstSeenTime != firstSeen {
		t.Error("first-seen time must be stable across snapshots")
	}

	// Position gone, tracking entry gone too
	if _, err := at.broker.PlaceOrder("AAPL", SideSell, 0, "market"); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if _, err := at.snapshotPositions(); err != nil {
		t.Fatalf("snapshotPositions failed: %v", err)
	}
	at.mu.RLock()
	_, tracked := at.positionFirstSeenTime["AAPL_long"]
	at.mu.RUnlock()
	if tracked {
		t.Error("closed position should be dropped from tracking")
	}
}

func TestBuildTradingContextUsesConfiguredWatchlist(t *testing.T) {
	at, err := NewAutoTrader(AutoTraderConfig{
		ID:               "watchlist_trader",
		Name:             "Watchlist Trader",
		InitialBalance:   10000,
		LargeCapLeverage: 10,
		OtherLeverage:    5,
		LogDir:           t.TempDir(),
		Stocks:           []string{"AMD", "INTC"},
	})
	if err != nil {
		t.Fatalf("NewAutoTrader failed: %v", err)
	}

	ctx, err := at.buildTradingContext()
	if err != nil {
		t.Fatalf("buildTradingContext failed: %v", err)
	}
	if len(ctx.CandidateStocks) != 2 {
		t.Fatalf("watchlist should replace the shared pool: %+v", ctx.CandidateStocks)
	}
	for i, want := range []string{"AMD", "INTC"} {
		c := ctx.CandidateStocks[i]
		if c.Symbol != want {
			t.Errorf("candidate %d: want %s, got %s", i, want, c.Symbol)
		}
		if len(c.Sources) != 1 || c.Sources[0] != "config" {
			t.Errorf("%s should be tagged config: %v", c.Symbol, c.Sources)
		}
	}

	// No watchlist falls back to the shared pool
	def := newTestTrader(t)
	ctx, err = def.buildTradingContext()
	if err != nil {
		t.Fatalf("buildTradingContext failed: %v", err)
	}
	if len(ctx.CandidateStocks) == 0 {
		t.Fatal("default trader should get the shared pool")
	}
	for _, c := range ctx.CandidateStocks {
		for _, source := range c.Sources {
			if source == "config" {
				t.Errorf("pool candidate wrongly tagged config: %+v", c)
			}
		}
	}
}

func TestDecisionPipelineEndToEnd(t *testing.T) {
	at := newTestTrader(t)

	// An existing long the model decides to rotate out of
	at.broker.SetLeverage("MSFT", 10)
	if _, err := at.broker.PlaceOrder("MSFT", SideBuy, 2, "market"); err != nil {
		t.Fatalf("seed position failed: %v", err)
	}

	data, err := market.Get("AAPL")
	if err != nil {
		t.Fatalf("market.Get failed: %v", err)
	}
	size := data.CurrentPrice * 5.5

	raw := fmt.Sprintf("Rotating out of MSFT into AAPL momentum.\n\n```json\n"+
		`[
  {"symbol": "AAPL", "action": "open_long", "leverage": 10, "position_size_usd": %.2f, "stop_loss": 150.0, "take_profit": 180.0, "confidence": 80, "reasoning": "momentum"},
  {"symbol": "MSFT", "action": "close_long", "reasoning": "target reached"}
]`+"\n```", size)

	trace, decisions, err := decisionPkg.ParseDecisionResponse(raw)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if !strings.Contains(trace, "Rotating out of MSFT") {
		t.Errorf("unexpected trace: %q", trace)
	}
	if len(decisions) != 2 {
		t.Fatalf("expected 2 decisions, got %+v", decisions)
	}

	sorted := decisionPkg.SortByPriority(decisions)
	if sorted[0].Action != "close_long" || sorted[0].Symbol != "MSFT" {
		t.Fatalf("close must run before open: %+v", sorted)
	}

	for i := range sorted {
		d := sorted[i]
		if verr := decisionPkg.ValidateDecision(&d, 10000, 10, 5); verr != nil {
			t.Fatalf("validation rejected %s %s: %v", d.Symbol, d.Action, verr)
		}
		record := &logger.DecisionAction{}
		if err := at.executeDecision(&d, record); err != nil {
			t.Fatalf("execution failed for %s %s: %v", d.Symbol, d.Action, err)
		}
		if d.Symbol == "AAPL" && record.Quantity != 5 {
			t.Errorf("AAPL quantity should floor to 5, got %f", record.Quantity)
		}
	}

	positions, err := at.broker.GetPositions()
	if err != nil {
		t.Fatalf("GetPositions failed: %v", err)
	}
	if len(positions) != 1 || positions[0].Symbol != "AAPL" || positions[0].Quantity != 5 {
		t.Fatalf("expected a single AAPL position of 5 shares: %+v", positions)
	}
}

func TestGetAccountInfoPnL(t *testing.T) {
	at := newTestTrader(t)
	account, err := at.GetAccountInfo()
	if err != nil {
		t.Fatalf("GetAccountInfo failed: %v", err)
	}
	if account.TotalEquity != 10000 || account.TotalPnL != 0 {
		t.Errorf("fresh trader should have zero PnL: %+v", account)
	}
	if account.InitialBalance != 10000 {
		t.Errorf("initial balance mismatch: %+v", account)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	at := newTestTrader(t)
	at.Stop()
	at.Stop() // must not panic
}
