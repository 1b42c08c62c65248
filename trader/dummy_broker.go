package trader

import (
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"atlas/market"
)

// availableBalanceTolerance absorbs float drift between the margin quote and
// the balance check
var availableBalanceTolerance = decimal.NewFromFloat(0.1)

// DummyBroker in-process brokerage simulator. Holds no connection to any
// real exchange; fills every order at the current market price.
type DummyBroker struct {
	mu sync.RWMutex

	initialBalance decimal.Decimal
	cash           decimal.Decimal

	positions map[string]*dummyPosition // keyed symbol_side
	leverage  map[string]int
	orderSeq  int
}

type dummyPosition struct {
	symbol     string
	side       string // "long" or "short"
	entryPrice float64
	quantity   float64
	leverage   int
	marginUsed decimal.Decimal
	entryTime  time.Time
}

// NewDummyBroker creates a simulator with the given starting cash
func NewDummyBroker(initialBalance float64) *DummyBroker {
	return &DummyBroker{
		initialBalance: decimal.NewFromFloat(initialBalance),
		cash:           decimal.NewFromFloat(initialBalance),
		positions:      make(map[string]*dummyPosition),
		leverage:       make(map[string]int),
	}
}

func positionKey(symbol, side string) string {
	return symbol + "_" + strings.ToLower(side)
}

// GetAccount recomputes equity and margin from live marks
func (b *DummyBroker) GetAccount() (*Account, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	unrealized := 0.0
	marginUsed := decimal.Zero
	for _, pos := range b.positions {
		unrealized += b.unrealizedPnL(pos)
		marginUsed = marginUsed.Add(pos.marginUsed)
	}

	cash, _ := b.cash.Float64()
	margin, _ := marginUsed.Float64()
	equity := cash + unrealized
	available := equity - margin
	if available < 0 {
		available = 0
	}

	return &Account{
		TotalEquity:      equity,
		CashBalance:      cash,
		AvailableBalance: available,
		UnrealizedPnL:    unrealized,
		MarginUsed:       margin,
		PositionCount:    len(b.positions),
	}, nil
}

// GetPositions returns all open positions with live marks
func (b *DummyBroker) GetPositions() ([]Position, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var result []Position
	for _, pos := range b.positions {
		markPrice := b.markPrice(pos)
		pnl := b.unrealizedPnL(pos)

		var pnlPct float64
		if pos.side == "long" {
			pnlPct = (markPrice - pos.entryPrice) / pos.entryPrice * 100
		} else {
			pnlPct = (pos.entryPrice - markPrice) / pos.entryPrice * 100
		}

		// Simplified liquidation: entry ±20%
		liquidation := pos.entryPrice * 0.8
		if pos.side == "short" {
			liquidation = pos.entryPrice * 1.2
		}

		margin, _ := pos.marginUsed.Float64()
		result = append(result, Position{
			Symbol:           pos.symbol,
			Side:             pos.side,
			EntryPrice:       pos.entryPrice,
			MarkPrice:        markPrice,
			Quantity:         pos.quantity,
			Leverage:         pos.leverage,
			UnrealizedPnL:    pnl,
			UnrealizedPnLPct: pnlPct,
			LiquidationPrice: liquidation,
			MarginUsed:       margin,
		})
	}
	return result, nil
}

// PlaceOrder fills immediately at market price. Side semantics:
// buy opens long, sell closes long, short opens short, cover closes short.
func (b *DummyBroker) PlaceOrder(symbol, side string, quantity float64, orderType string) (*Order, error) {
	switch side {
	case SideBuy:
		return b.open(symbol, "long", quantity)
	case SideShort:
		return b.open(symbol, "short", quantity)
	case SideSell:
		return b.close(symbol, "long", quantity, side)
	case SideCover:
		return b.close(symbol, "short", quantity, side)
	default:
		return nil, fmt.Errorf("unknown order side: %q", side)
	}
}

func (b *DummyBroker) open(symbol, posSide string, quantity float64) (*Order, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("quantity must be positive for open orders: %f", quantity)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	price, err := b.fillPrice(symbol, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to get market price for %s: %w", symbol, err)
	}

	lev := b.leverage[symbol]
	if lev <= 0 {
		lev = 1
	}

	// Margin rounds down to cents so the check is conservative
	margin := decimal.NewFromFloat(quantity * price).
		Div(decimal.NewFromInt(int64(lev))).
		RoundFloor(2)

	available := b.availableLocked()
	if margin.GreaterThan(available.Add(availableBalanceTolerance)) {
		return nil, fmt.Errorf("insufficient available balance: need %s, available %s",
			margin.StringFixed(2), available.StringFixed(2))
	}

	b.positions[positionKey(symbol, posSide)] = &dummyPosition{
		symbol:     symbol,
		side:       posSide,
		entryPrice: price,
		quantity:   quantity,
		leverage:   lev,
		marginUsed: margin,
		entryTime:  time.Now(),
	}

	orderSide := SideBuy
	emoji := "📈"
	if posSide == "short" {
		orderSide = SideShort
		emoji = "📉"
	}
	log.Printf("%s [Dummy] Open %s: %s %.0f @ %.2f (%dx, margin %s)",
		emoji, posSide, symbol, quantity, price, lev, margin.StringFixed(2))

	return b.fillOrder(symbol, orderSide, quantity, price), nil
}

func (b *DummyBroker) close(symbol, posSide string, quantity float64, orderSide string) (*Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := positionKey(symbol, posSide)
	pos, exists := b.positions[key]
	if !exists {
		return nil, fmt.Errorf("no %s position for %s", posSide, symbol)
	}

	price, err := b.fillPrice(symbol, pos.entryPrice)
	if err != nil {
		price = pos.entryPrice
	}

	var priceChange float64
	if posSide == "long" {
		priceChange = (price - pos.entryPrice) / pos.entryPrice
	} else {
		priceChange = (pos.entryPrice - price) / pos.entryPrice
	}
	realized := priceChange * pos.quantity * pos.entryPrice * float64(pos.leverage)

	if quantity == 0 || quantity >= pos.quantity {
		// Full close
		b.cash = b.cash.Add(decimal.NewFromFloat(realized))
		delete(b.positions, key)
		log.Printf("📤 [Dummy] Close %s: %s (all) @ %.2f, PnL=%.2f", posSide, symbol, price, realized)
		return b.fillOrder(symbol, orderSide, pos.quantity, price), nil
	}

	// Partial close, reduce proportionally
	ratio := quantity / pos.quantity
	b.cash = b.cash.Add(decimal.NewFromFloat(realized * ratio))
	pos.quantity -= quantity
	pos.marginUsed = pos.marginUsed.Mul(decimal.NewFromFloat(1 - ratio)).RoundFloor(2)
	log.Printf("📤 [Dummy] Close %s: %s (partial %.0f) @ %.2f, PnL=%.2f", posSide, symbol, quantity, price, realized*ratio)
	return b.fillOrder(symbol, orderSide, quantity, price), nil
}

// CancelOrder is a no-op: every order fills instantly
func (b *DummyBroker) CancelOrder(orderID string) error {
	return nil
}

// SetLeverage records the leverage applied to the next open on a symbol
func (b *DummyBroker) SetLeverage(symbol string, leverage int) error {
	if leverage <= 0 {
		return fmt.Errorf("leverage must be positive: %d", leverage)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.leverage[symbol] = leverage
	return nil
}

func (b *DummyBroker) fillOrder(symbol, side string, quantity, price float64) *Order {
	b.orderSeq++
	return &Order{
		OrderID:  fmt.Sprintf("ord_%d", b.orderSeq),
		Symbol:   symbol,
		Side:     side,
		Quantity: quantity,
		Price:    price,
		Status:   "filled",
	}
}

// availableLocked computes available balance, caller holds the lock
func (b *DummyBroker) availableLocked() decimal.Decimal {
	unrealized := 0.0
	marginUsed := decimal.Zero
	for _, pos := range b.positions {
		unrealized += b.unrealizedPnL(pos)
		marginUsed = marginUsed.Add(pos.marginUsed)
	}
	available := b.cash.Add(decimal.NewFromFloat(unrealized)).Sub(marginUsed)
	if available.IsNegative() {
		return decimal.Zero
	}
	return available
}

func (b *DummyBroker) unrealizedPnL(pos *dummyPosition) float64 {
	markPrice := b.markPrice(pos)
	var priceChange float64
	if pos.side == "long" {
		priceChange = (markPrice - pos.entryPrice) / pos.entryPrice
	} else {
		priceChange = (pos.entryPrice - markPrice) / pos.entryPrice
	}
	return priceChange * pos.quantity * pos.entryPrice * float64(pos.leverage)
}

func (b *DummyBroker) markPrice(pos *dummyPosition) float64 {
	price, err := b.fillPrice(pos.symbol, pos.entryPrice)
	if err != nil {
		return pos.entryPrice
	}
	return price
}

func (b *DummyBroker) fillPrice(symbol string, fallback float64) (float64, error) {
	data, err := market.Get(symbol)
	if err != nil {
		if fallback > 0 {
			return fallback, nil
		}
		return 0, err
	}
	return data.CurrentPrice, nil
}
