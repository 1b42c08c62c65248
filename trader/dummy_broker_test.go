package trader

import (
	"math"
	"strings"
	"testing"

	"atlas/market"
)

func init() {
	// Deterministic synthetic prices, no network
	market.SetLiveQuotes(false)
}

func TestDummyBrokerOpenAndCloseLong(t *testing.T) {
	b := NewDummyBroker(10000)
	if err := b.SetLeverage("AAPL", 10); err != nil {
		t.Fatalf("SetLeverage failed: %v", err)
	}

	order, err := b.PlaceOrder("AAPL", SideBuy, 5, "market")
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if order.Status != "filled" || order.Price <= 0 {
		t.Fatalf("unexpected order: %+v", order)
	}
	if !strings.HasPrefix(order.OrderID, "ord_") {
		t.Errorf("order IDs should be sequential ord_N: %s", order.OrderID)
	}

	positions, err := b.GetPositions()
	if err != nil {
		t.Fatalf("GetPositions failed: %v", err)
	}
	if len(positions) != 1 {
		t.Fatalf("expected 1 position, got %d", len(positions))
	}
	pos := positions[0]
	if pos.Symbol != "AAPL" || pos.Side != "long" || pos.Quantity != 5 || pos.Leverage != 10 {
		t.Errorf("unexpected position: %+v", pos)
	}

	// Margin is notional over leverage, floored to cents
	wantMargin := math.Floor(5*order.Price/10*100) / 100
	if math.Abs(pos.MarginUsed-wantMargin) > 1e-9 {
		t.Errorf("margin: want %.2f, got %.2f", wantMargin, pos.MarginUsed)
	}

	// Quantity 0 closes the whole position
	if _, err := b.PlaceOrder("AAPL", SideSell, 0, "market"); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	positions, _ = b.GetPositions()
	if len(positions) != 0 {
		t.Fatalf("position should be gone, got %+v", positions)
	}
}

func TestDummyBrokerShortAndCover(t *testing.T) {
	b := NewDummyBroker(10000)
	b.SetLeverage("TSLA", 5)

	if _, err := b.PlaceOrder("TSLA", SideShort, 3, "market"); err != nil {
		t.Fatalf("short failed: %v", err)
	}
	positions, _ := b.GetPositions()
	if len(positions) != 1 || positions[0].Side != "short" {
		t.Fatalf("expected one short position: %+v", positions)
	}
	if _, err := b.PlaceOrder("TSLA", SideCover, 0, "market"); err != nil {
		t.Fatalf("cover failed: %v", err)
	}
	positions, _ = b.GetPositions()
	if len(positions) != 0 {
		t.Fatalf("short should be closed: %+v", positions)
	}
}

func TestDummyBrokerLongAndShortCoexist(t *testing.T) {
	b := NewDummyBroker(100000)
	b.SetLeverage("AAPL", 10)

	if _, err := b.PlaceOrder("AAPL", SideBuy, 2, "market"); err != nil {
		t.Fatalf("open long failed: %v", err)
	}
	if _, err := b.PlaceOrder("AAPL", SideShort, 2, "market"); err != nil {
		t.Fatalf("open short failed: %v", err)
	}
	positions, _ := b.GetPositions()
	if len(positions) != 2 {
		t.Fatalf("long and short are distinct positions: %+v", positions)
	}
}

func TestDummyBrokerInsufficientMargin(t *testing.T) {
	b := NewDummyBroker(100)
	b.SetLeverage("AAPL", 1)

	_, err := b.PlaceOrder("AAPL", SideBuy, 10000, "market")
	if err == nil {
		t.Fatal("expected insufficient balance error")
	}
	if !strings.Contains(err.Error(), "insufficient") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestDummyBrokerCloseWithoutPosition(t *testing.T) {
	b := NewDummyBroker(10000)
	if _, err := b.PlaceOrder("AAPL", SideSell, 0, "market"); err == nil {
		t.Fatal("closing a missing position must error")
	}
}

func TestDummyBrokerRejectsUnknownSide(t *testing.T) {
	b := NewDummyBroker(10000)
	if _, err := b.PlaceOrder("AAPL", "yolo", 1, "market"); err == nil {
		t.Fatal("expected error for unknown side")
	}
}

func TestDummyBrokerAccountEquity(t *testing.T) {
	b := NewDummyBroker(10000)
	account, err := b.GetAccount()
	if err != nil {
		t.Fatalf("GetAccount failed: %v", err)
	}
	if account.TotalEquity != 10000 || account.AvailableBalance != 10000 {
		t.Errorf("fresh account should equal initial balance: %+v", account)
	}
	if account.PositionCount != 0 {
		t.Errorf("fresh account has no positions: %+v", account)
	}

	b.SetLeverage("MSFT", 10)
	if _, err := b.PlaceOrder("MSFT", SideBuy, 2, "market"); err != nil {
		t.Fatalf("open failed: %v", err)
	}
	account, _ = b.GetAccount()
	if account.PositionCount != 1 {
		t.Errorf("position count should be 1: %+v", account)
	}
	if account.AvailableBalance >= account.TotalEquity {
		t.Errorf("margin must reduce available balance: %+v", account)
	}
}
