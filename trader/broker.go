package trader

import "fmt"

// Order sides understood by every Broker implementation
const (
	SideBuy   = "buy"   // open long
	SideSell  = "sell"  // close long
	SideShort = "short" // open short
	SideCover = "cover" // close short
)

// Account brokerage account snapshot
type Account struct {
	TotalEquity      float64 `json:"total_equity"`
	CashBalance      float64 `json:"cash_balance"`
	AvailableBalance float64 `json:"available_balance"`
	UnrealizedPnL    float64 `json:"unrealized_pnl"`
	MarginUsed       float64 `json:"margin_used"`
	PositionCount    int     `json:"position_count"`
}

// Position one open position as reported by the brokerage
type Position struct {
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
}

// Order result of a placed order
type Order struct {
	OrderID  string  `json:"order_id"`
	Symbol   string  `json:"symbol"`
	Side     string  `json:"side"`
	Quantity float64 `json:"quantity"`
	Price    float64 `json:"price"`
	Status   string  `json:"status"`
}

// PositionConflictError an open was attempted while the same symbol and
// direction already holds a position. Recoverable: the outcome is marked
// failed and the remaining decisions still execute.
type PositionConflictError struct {
	Symbol string
	Side   string
}

func (e *PositionConflictError) Error() string {
	return fmt.Sprintf("position already open: %s %s", e.Symbol, e.Side)
}

// Broker minimal brokerage capability required by the trading loop.
// A quantity of 0 on sell/cover closes the whole position.
type Broker interface {
	GetAccount() (*Account, error)
	GetPositions() ([]Position, error)
	PlaceOrder(symbol, side string, quantity float64, orderType string) (*Order, error)
	CancelOrder(orderID string) error
	SetLeverage(symbol string, leverage int) error
}
