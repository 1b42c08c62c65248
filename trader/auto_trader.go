package trader

import (
	"encoding/json"
	"fmt"
	"log"
	"math"
	"strings"
	"sync"
	"time"

	decisionPkg "atlas/decision"
	"atlas/logger"
	"atlas/market"
	"atlas/mcp"
	"atlas/pool"
)

const (
	// settleDelay lets the broker state settle before the next order
	settleDelay = 1 * time.Second

	// lastResortPrice is used only when both the market feed and the price
	// cache have nothing for a symbol
	lastResortPrice = 100.0

	candidateLimit = 20
)

// AutoTraderConfig auto trader configuration
type AutoTraderConfig struct {
	ID      string // unique identifier (log file name, API lookups)
	Name    string // display name
	AIModel string // "groq", "qwen", "deepseek", or "custom"

	// AI configuration
	DeepSeekKey string
	QwenKey     string
	GroqKey     string
	GroqModel   string

	// Custom AI API configuration
	CustomAPIURL    string
	CustomAPIKey    string
	CustomModelName string

	StockPoolAPIURL string

	// Symbols this trader watches; empty means the shared stock pool
	Stocks []string

	ScanInterval   time.Duration
	InitialBalance float64

	// Leverage caps passed through to validation and the AI prompt
	LargeCapLeverage int
	OtherLeverage    int

	// Risk control
	MaxDailyLoss    float64       // daily loss percentage that triggers a pause
	MaxDrawdown     float64       // hint only, surfaced to the AI
	StopTradingTime time.Duration // pause duration once risk control triggers

	LogDir string
}

// Status trader status snapshot
type Status struct {
	ID                string  `json:"id"`
	Name              string  `json:"name"`
	AIModel           string  `json:"ai_model"`
	Running           bool    `json:"running"`
	CycleCount        int     `json:"cycle_count"`
	RuntimeMinutes    int     `json:"runtime_minutes"`
	InitialBalance    float64 `json:"initial_balance"`
	ScanIntervalMins  float64 `json:"scan_interval_minutes"`
	InCooldown        bool    `json:"in_cooldown"`
	CooldownRemaining string  `json:"cooldown_remaining,omitempty"`
}

// AccountSummary account view exposed over the API
type AccountSummary struct {
	TotalEquity      float64 `json:"total_equity"`
	AvailableBalance float64 `json:"available_balance"`
	TotalPnL         float64 `json:"total_pnl"`
	TotalPnLPct      float64 `json:"total_pnl_pct"`
	MarginUsed       float64 `json:"margin_used"`
	MarginUsedPct    float64 `json:"margin_used_pct"`
	PositionCount    int     `json:"position_count"`
	DailyPnL         float64 `json:"daily_pnl"`
	InitialBalance   float64 `json:"initial_balance"`
}

// AutoTrader runs the full decision pipeline on a fixed interval
type AutoTrader struct {
	id      string
	name    string
	aiModel string
	config  AutoTraderConfig

	broker         Broker
	mcpClient      *mcp.Client
	decisionLogger *logger.DecisionLogger

	mu                    sync.RWMutex
	initialBalance        float64
	dailyStartEquity      float64
	lastResetTime         time.Time
	stopUntil             time.Time
	isRunning             bool
	startTime             time.Time
	callCount             int
	positionFirstSeenTime map[string]int64 // symbol_side -> first seen, ms
	lastPrices            map[string]float64

	stopChan chan struct{}
	stopOnce sync.Once
}

// NewAutoTrader creates an auto trader backed by the dummy brokerage
func NewAutoTrader(config AutoTraderConfig) (*AutoTrader, error) {
	if config.ID == "" {
		config.ID = "default_trader"
	}
	if config.Name == "" {
		config.Name = "Default Trader"
	}
	if config.InitialBalance <= 0 {
		return nil, fmt.Errorf("initial balance must be greater than 0, got %.2f", config.InitialBalance)
	}
	if config.ScanInterval <= 0 {
		config.ScanInterval = 3 * time.Minute
	}
	if config.LogDir == "" {
		config.LogDir = "decision_logs"
	}

	mcpClient := mcp.New()
	switch config.AIModel {
	case "custom":
		mcpClient.SetCustomAPI(config.CustomAPIURL, config.CustomAPIKey, config.CustomModelName)
		log.Printf("🤖 [%s] Using custom AI API: %s (model: %s)", config.Name, config.CustomAPIURL, config.CustomModelName)
	case "qwen":
		mcpClient.SetQwenAPIKey(config.QwenKey)
		log.Printf("🤖 [%s] Using Qwen AI", config.Name)
	case "deepseek":
		mcpClient.SetDeepSeekAPIKey(config.DeepSeekKey)
		log.Printf("🤖 [%s] Using DeepSeek AI", config.Name)
	default:
		config.AIModel = "groq"
		mcpClient.SetGroqAPIKey(config.GroqKey, config.GroqModel)
		if config.GroqKey == "" {
			log.Printf("⚠️  [%s] AI API key not configured, please set groq_key", config.Name)
		} else {
			log.Printf("🤖 [%s] Using Groq AI (model: %s)", config.Name, mcpClient.Model)
		}
	}

	if config.StockPoolAPIURL != "" {
		pool.SetStockPoolAPI(config.StockPoolAPIURL)
	}

	decisionLogger, err := logger.NewDecisionLogger(config.LogDir, config.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to create decision logger: %w", err)
	}

	log.Printf("📊 [%s] Using dummy brokerage (simulated fills)", config.Name)

	return &AutoTrader{
		id:                    config.ID,
		name:                  config.Name,
		aiModel:               config.AIModel,
		config:                config,
		broker:                NewDummyBroker(config.InitialBalance),
		mcpClient:             mcpClient,
		decisionLogger:        decisionLogger,
		initialBalance:        config.InitialBalance,
		dailyStartEquity:      config.InitialBalance,
		lastResetTime:         time.Now(),
		startTime:             time.Now(),
		positionFirstSeenTime: make(map[string]int64),
		lastPrices:            make(map[string]float64),
		stopChan:              make(chan struct{}),
	}, nil
}

// Run starts the trading loop. Blocks until Stop is called.
func (at *AutoTrader) Run() error {
	at.mu.Lock()
	at.isRunning = true
	at.mu.Unlock()

	log.Printf("[%s] 🚀 AI-driven trading loop started", at.name)
	log.Printf("[%s] 💰 Initial balance: %.2f USD", at.name, at.initialBalance)
	log.Printf("[%s] ⚙️  Scan interval: %v", at.name, at.config.ScanInterval)

	ticker := time.NewTicker(at.config.ScanInterval)
	defer ticker.Stop()

	// First cycle runs immediately, errors never kill the loop
	if err := at.runCycle(); err != nil {
		log.Printf("[%s] ❌ First cycle failed: %v", at.name, err)
	}

	for {
		select {
		case <-ticker.C:
			if err := at.runCycle(); err != nil {
				log.Printf("[%s] ❌ Cycle failed: %v", at.name, err)
			}
		case <-at.stopChan:
			at.mu.Lock()
			at.isRunning = false
			at.mu.Unlock()
			log.Printf("[%s] ⏹ Trading loop stopped", at.name)
			return nil
		}
	}
}

// Stop signals the trading loop to exit. Safe to call more than once.
func (at *AutoTrader) Stop() {
	at.stopOnce.Do(func() { close(at.stopChan) })
}

// SetCooldown pauses trading until now+d
func (at *AutoTrader) SetCooldown(d time.Duration) {
	at.mu.Lock()
	at.stopUntil = time.Now().Add(d)
	at.mu.Unlock()
	log.Printf("[%s] ⏸ Risk control: trading paused for %v", at.name, d)
}

// runCycle runs one decision cycle. A cycle is always recorded, even when it
// fails before reaching the AI.
func (at *AutoTrader) runCycle() error {
	at.mu.Lock()
	at.callCount++
	cycle := at.callCount
	stopUntil := at.stopUntil
	at.mu.Unlock()

	log.Printf("\n[%s] %s", at.name, strings.Repeat("=", 70))
	log.Printf("[%s] ⏰ %s - AI Decision Cycle #%d", at.name, time.Now().Format("2006-01-02 15:04:05"), cycle)
	log.Printf("[%s] %s", at.name, strings.Repeat("=", 70))

	record := &logger.DecisionRecord{
		CycleNumber:  at.decisionLogger.NextCycleNumber(),
		ExecutionLog: []string{},
		Success:      true,
	}

	// 1. Risk control pause
	if time.Now().Before(stopUntil) {
		remaining := time.Until(stopUntil)
		log.Printf("[%s] ⏸ Risk control active, resuming in %.0f minutes", at.name, remaining.Minutes())
		record.Success = false
		record.ErrorMessage = fmt.Sprintf("Risk control pause active, remaining %.0f minutes", remaining.Minutes())
		at.decisionLogger.LogDecision(record)
		return nil
	}

	// 2. Daily reset
	at.mu.Lock()
	if time.Since(at.lastResetTime) > 24*time.Hour {
		at.lastResetTime = time.Now()
		if acct, err := at.broker.GetAccount(); err == nil {
			at.dailyStartEquity = acct.TotalEquity
		}
		log.Printf("[%s] 📅 Daily PnL baseline reset", at.name)
	}
	at.mu.Unlock()

	// 3. Build trading context
	ctx, err := at.buildTradingContext()
	if err != nil {
		record.Success = false
		record.ErrorMessage = fmt.Sprintf("Failed to build trading context: %v", err)
		at.decisionLogger.LogDecision(record)
		return fmt.Errorf("failed to build trading context: %w", err)
	}

	record.AccountState = logger.AccountSnapshot{
		TotalEquity:           ctx.Account.TotalEquity,
		AvailableBalance:      ctx.Account.AvailableBalance,
		TotalUnrealizedProfit: ctx.Account.TotalPnL,
		PositionCount:         ctx.Account.PositionCount,
		MarginUsedPct:         ctx.Account.MarginUsedPct,
	}
	for _, pos := range ctx.Positions {
		record.Positions = append(record.Positions, logger.PositionSnapshot{
			Symbol:        pos.Symbol,
			Side:          pos.Side,
			EntryPrice:    pos.EntryPrice,
			MarkPrice:     pos.MarkPrice,
			Quantity:      pos.Quantity,
			Leverage:      pos.Leverage,
			UnrealizedPnL: pos.UnrealizedPnL,
		})
	}
	for _, stock := range ctx.CandidateStocks {
		record.CandidateStocks = append(record.CandidateStocks, stock.Symbol)
	}

	log.Printf("[%s] 📊 Equity: %.2f USD | Available: %.2f | Margin used: %.1f%% | Positions: %d",
		at.name, ctx.Account.TotalEquity, ctx.Account.AvailableBalance,
		ctx.Account.MarginUsedPct, ctx.Account.PositionCount)

	// 4. Ask the AI
	log.Printf("[%s] 🤖 Requesting AI analysis and decision...", at.name)
	decision, err := decisionPkg.GetFullDecision(ctx, at.mcpClient)
	if err != nil || decision == nil {
		record.Success = false
		record.ErrorMessage = fmt.Sprintf("Failed to get AI decision: %v", err)
		at.decisionLogger.LogDecision(record)
		return fmt.Errorf("failed to get AI decision: %w", err)
	}

	record.InputPrompt = decision.UserPrompt
	record.CoTTrace = decision.CoTTrace
	record.RawResponse = decision.RawResponse

	log.Printf("\n%s", strings.Repeat("-", 70))
	log.Printf("💭 AI Chain of Thought:")
	log.Println(decision.CoTTrace)
	log.Printf("%s\n", strings.Repeat("-", 70))

	log.Printf("[%s] 📋 AI decision list (%d items):", at.name, len(decision.Decisions))
	for i, d := range decision.Decisions {
		log.Printf("  [%d] %s: %s - %s", i+1, d.Symbol, d.Action, d.Reasoning)
		if d.Action == "open_long" || d.Action == "open_short" {
			log.Printf("      Leverage: %dx | Size: %.2f USD | SL: %.2f | TP: %.2f",
				d.Leverage, d.PositionSizeUSD, d.StopLoss, d.TakeProfit)
		}
	}

	// 5. Close before open so freed margin is usable in the same cycle
	sorted := decisionPkg.SortByPriority(decision.Decisions)

	// 6. Validate and execute one decision at a time, failures stay isolated
	for _, d := range sorted {
		actionRecord := logger.DecisionAction{
			Action:    d.Action,
			Symbol:    d.Symbol,
			Leverage:  d.Leverage,
			Timestamp: time.Now().Format(time.RFC3339),
		}

		if verr := decisionPkg.ValidateDecision(&d, ctx.Account.TotalEquity, at.config.LargeCapLeverage, at.config.OtherLeverage); verr != nil {
			log.Printf("[%s] ⏭ Dropping invalid decision (%s %s): %v", at.name, d.Symbol, d.Action, verr)
			actionRecord.Error = verr.Error()
			record.ExecutionLog = append(record.ExecutionLog, fmt.Sprintf("⏭ %s %s dropped: %v", d.Symbol, d.Action, verr))
			record.Decisions = append(record.Decisions, actionRecord)
			continue
		}

		if err := at.executeDecision(&d, &actionRecord); err != nil {
			log.Printf("[%s] ❌ Failed to execute %s %s: %v", at.name, d.Symbol, d.Action, err)
			actionRecord.Error = err.Error()
			record.ExecutionLog = append(record.ExecutionLog, fmt.Sprintf("❌ %s %s failed: %v", d.Symbol, d.Action, err))
		} else {
			actionRecord.Success = true
			record.ExecutionLog = append(record.ExecutionLog, fmt.Sprintf("✓ %s %s succeeded", d.Symbol, d.Action))
			if d.Action != "hold" && d.Action != "wait" {
				time.Sleep(settleDelay)
			}
		}
		record.Decisions = append(record.Decisions, actionRecord)
	}

	// 7. Refresh account and positions so the record reflects this cycle's fills
	if acct, err := at.broker.GetAccount(); err == nil {
		record.AccountState.TotalEquity = acct.TotalEquity
		record.AccountState.AvailableBalance = acct.AvailableBalance
		record.AccountState.TotalUnrealizedProfit = acct.UnrealizedPnL
		at.checkDailyLoss(acct.TotalEquity)
	}
	if positions, err := at.broker.GetPositions(); err == nil {
		record.Positions = record.Positions[:0]
		for _, pos := range positions {
			record.Positions = append(record.Positions, logger.PositionSnapshot{
				Symbol:        pos.Symbol,
				Side:          pos.Side,
				EntryPrice:    pos.EntryPrice,
				MarkPrice:     pos.MarkPrice,
				Quantity:      pos.Quantity,
				Leverage:      pos.Leverage,
				UnrealizedPnL: pos.UnrealizedPnL,
			})
		}
		record.AccountState.PositionCount = len(record.Positions)
	}

	if err := at.decisionLogger.LogDecision(record); err != nil {
		log.Printf("[%s] ⚠️  Failed to save decision record: %v", at.name, err)
	}
	return nil
}

// checkDailyLoss pauses trading when the daily loss limit is breached
func (at *AutoTrader) checkDailyLoss(equity float64) {
	if at.config.MaxDailyLoss <= 0 || at.config.StopTradingTime <= 0 {
		return
	}
	at.mu.RLock()
	baseline := at.dailyStartEquity
	at.mu.RUnlock()
	if baseline <= 0 {
		return
	}
	lossPct := (baseline - equity) / baseline * 100
	if lossPct >= at.config.MaxDailyLoss {
		log.Printf("[%s] 🚨 Daily loss %.2f%% exceeds limit %.2f%%", at.name, lossPct, at.config.MaxDailyLoss)
		at.SetCooldown(at.config.StopTradingTime)
	}
}

// buildTradingContext assembles the full context for one AI call
func (at *AutoTrader) buildTradingContext() (*decisionPkg.Context, error) {
	account, err := at.broker.GetAccount()
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}

	positionInfos, err := at.snapshotPositions()
	if err != nil {
		return nil, err
	}

	// A configured watchlist overrides the shared pool for this trader
	var candidates []decisionPkg.CandidateStock
	if len(at.config.Stocks) > 0 {
		for _, symbol := range at.config.Stocks {
			candidates = append(candidates, decisionPkg.CandidateStock{
				Symbol:  symbol,
				Sources: []string{"config"},
			})
		}
	} else {
		stockPool, err := pool.GetStockPool(candidateLimit)
		if err != nil {
			return nil, fmt.Errorf("failed to get stock pool: %w", err)
		}
		for _, symbol := range stockPool.AllSymbols {
			candidates = append(candidates, decisionPkg.CandidateStock{
				Symbol:  symbol,
				Sources: stockPool.SymbolSources[symbol],
			})
		}
	}
	log.Printf("[%s] 📋 Candidate pool: %d symbols", at.name, len(candidates))

	totalPnL := account.TotalEquity - at.initialBalance
	totalPnLPct := 0.0
	if at.initialBalance > 0 {
		totalPnLPct = totalPnL / at.initialBalance * 100
	}
	marginUsedPct := 0.0
	if account.TotalEquity > 0 {
		marginUsedPct = account.MarginUsed / account.TotalEquity * 100
	}

	performance, err := at.decisionLogger.AnalyzePerformance(100)
	if err != nil {
		log.Printf("[%s] ⚠️  Failed to analyze performance: %v", at.name, err)
		performance = nil
	}

	at.mu.RLock()
	callCount := at.callCount
	startTime := at.startTime
	at.mu.RUnlock()

	ctx := &decisionPkg.Context{
		CurrentTime:      time.Now().Format("2006-01-02 15:04:05"),
		RuntimeMinutes:   int(time.Since(startTime).Minutes()),
		CallCount:        callCount,
		LargeCapLeverage: at.config.LargeCapLeverage,
		OtherLeverage:    at.config.OtherLeverage,
		Account: decisionPkg.AccountInfo{
			TotalEquity:      account.TotalEquity,
			AvailableBalance: account.AvailableBalance,
			TotalPnL:         totalPnL,
			TotalPnLPct:      totalPnLPct,
			MarginUsed:       account.MarginUsed,
			MarginUsedPct:    marginUsedPct,
			PositionCount:    len(positionInfos),
		},
		Positions:       positionInfos,
		CandidateStocks: candidates,
	}
	if performance != nil {
		ctx.Performance = performance
	}
	return ctx, nil
}

// snapshotPositions converts broker positions and maintains the first-seen
// tracking map: entries appear on first observation and vanish with the
// position.
func (at *AutoTrader) snapshotPositions() ([]decisionPkg.PositionInfo, error) {
	positions, err := at.broker.GetPositions()
	if err != nil {
		return nil, fmt.Errorf("failed to get positions: %w", err)
	}

	at.mu.Lock()
	defer at.mu.Unlock()

	currentKeys := make(map[string]bool)
	var infos []decisionPkg.PositionInfo
	for _, pos := range positions {
		key := pos.Symbol + "_" + pos.Side
		currentKeys[key] = true
		if _, exists := at.positionFirstSeenTime[key]; !exists {
			at.positionFirstSeenTime[key] = time.Now().UnixMilli()
		}

		infos = append(infos, decisionPkg.PositionInfo{
			Symbol:           pos.Symbol,
			Side:             pos.Side,
			EntryPrice:       pos.EntryPrice,
			MarkPrice:        pos.MarkPrice,
			Quantity:         pos.Quantity,
			Leverage:         pos.Leverage,
			UnrealizedPnL:    pos.UnrealizedPnL,
			UnrealizedPnLPct: pos.UnrealizedPnLPct,
			LiquidationPrice: pos.LiquidationPrice,
			MarginUsed:       pos.MarginUsed,
			FirstSeenTime:    at.positionFirstSeenTime[key],
		})

		if pos.MarkPrice > 0 {
			at.lastPrices[pos.Symbol] = pos.MarkPrice
		}
	}

	for key := range at.positionFirstSeenTime {
		if !currentKeys[key] {
			delete(at.positionFirstSeenTime, key)
		}
	}
	return infos, nil
}

// executeDecision routes one validated decision to the broker
func (at *AutoTrader) executeDecision(d *decisionPkg.Decision, actionRecord *logger.DecisionAction) error {
	switch d.Action {
	case "open_long":
		return at.executeOpen(d, "long", SideBuy, actionRecord)
	case "open_short":
		return at.executeOpen(d, "short", SideShort, actionRecord)
	case "close_long":
		return at.executeClose(d, "long", SideSell, actionRecord)
	case "close_short":
		return at.executeClose(d, "short", SideCover, actionRecord)
	case "hold", "wait":
		return nil
	default:
		return fmt.Errorf("unknown action: %s", d.Action)
	}
}

func (at *AutoTrader) executeOpen(d *decisionPkg.Decision, side, orderSide string, actionRecord *logger.DecisionAction) error {
	log.Printf("  📈 Opening %s position: %s", side, d.Symbol)

	// One position per symbol and direction
	positions, err := at.broker.GetPositions()
	if err != nil {
		return fmt.Errorf("failed to check existing positions: %w", err)
	}
	for _, pos := range positions {
		if pos.Symbol == d.Symbol && pos.Side == side {
			return &PositionConflictError{Symbol: d.Symbol, Side: side}
		}
	}

	price := at.resolvePrice(d.Symbol)

	// Whole shares only
	quantity := math.Floor(d.PositionSizeUSD / price)
	if quantity < 1 {
		return fmt.Errorf("position size %.2f USD buys less than one share at %.2f", d.PositionSizeUSD, price)
	}
	actionRecord.Quantity = quantity
	actionRecord.Price = price

	if err := at.broker.SetLeverage(d.Symbol, d.Leverage); err != nil {
		return fmt.Errorf("failed to set leverage: %w", err)
	}

	order, err := at.broker.PlaceOrder(d.Symbol, orderSide, quantity, "market")
	if err != nil {
		return err
	}
	actionRecord.OrderID = order.OrderID
	actionRecord.Price = order.Price
	log.Printf("  ✓ Position opened, order %s, quantity %.0f @ %.2f", order.OrderID, quantity, order.Price)

	at.mu.Lock()
	at.positionFirstSeenTime[d.Symbol+"_"+side] = time.Now().UnixMilli()
	at.mu.Unlock()
	return nil
}

func (at *AutoTrader) executeClose(d *decisionPkg.Decision, side, orderSide string, actionRecord *logger.DecisionAction) error {
	log.Printf("  📤 Closing %s position: %s", side, d.Symbol)

	// Quantity 0 closes the whole position
	order, err := at.broker.PlaceOrder(d.Symbol, orderSide, 0, "market")
	if err != nil {
		return err
	}
	actionRecord.OrderID = order.OrderID
	actionRecord.Quantity = order.Quantity
	actionRecord.Price = order.Price
	log.Printf("  ✓ Position closed, order %s @ %.2f", order.OrderID, order.Price)

	at.mu.Lock()
	delete(at.positionFirstSeenTime, d.Symbol+"_"+side)
	at.mu.Unlock()
	return nil
}

// resolvePrice returns the best known price for a symbol: live feed, then
// the last cached price, then a fixed last resort
func (at *AutoTrader) resolvePrice(symbol string) float64 {
	if data, err := market.Get(symbol); err == nil && data.CurrentPrice > 0 {
		at.mu.Lock()
		at.lastPrices[symbol] = data.CurrentPrice
		at.mu.Unlock()
		return data.CurrentPrice
	}
	at.mu.RLock()
	cached := at.lastPrices[symbol]
	at.mu.RUnlock()
	if cached > 0 {
		log.Printf("  ⚠️  Market data unavailable for %s, using last known price %.2f", symbol, cached)
		return cached
	}
	log.Printf("  ⚠️  No price history for %s, using last resort price %.2f", symbol, lastResortPrice)
	return lastResortPrice
}

// GetID returns trader ID
func (at *AutoTrader) GetID() string { return at.id }

// GetName returns trader name
func (at *AutoTrader) GetName() string { return at.name }

// GetAIModel returns the configured AI model
func (at *AutoTrader) GetAIModel() string { return at.aiModel }

// GetDecisionLogger returns the decision logger
func (at *AutoTrader) GetDecisionLogger() *logger.DecisionLogger { return at.decisionLogger }

// GetInitialBalance returns the configured initial balance
func (at *AutoTrader) GetInitialBalance() float64 { return at.initialBalance }

// GetStatus returns the current status snapshot
func (at *AutoTrader) GetStatus() Status {
	at.mu.RLock()
	defer at.mu.RUnlock()

	status := Status{
		ID:               at.id,
		Name:             at.name,
		AIModel:          at.aiModel,
		Running:          at.isRunning,
		CycleCount:       at.callCount,
		RuntimeMinutes:   int(time.Since(at.startTime).Minutes()),
		InitialBalance:   at.initialBalance,
		ScanIntervalMins: at.config.ScanInterval.Minutes(),
	}
	if time.Now().Before(at.stopUntil) {
		status.InCooldown = true
		status.CooldownRemaining = time.Until(at.stopUntil).Round(time.Second).String()
	}
	return status
}

// GetAccountInfo returns the account summary including lifetime PnL
func (at *AutoTrader) GetAccountInfo() (*AccountSummary, error) {
	account, err := at.broker.GetAccount()
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}

	at.mu.RLock()
	baseline := at.dailyStartEquity
	at.mu.RUnlock()

	totalPnL := account.TotalEquity - at.initialBalance
	totalPnLPct := 0.0
	if at.initialBalance > 0 {
		totalPnLPct = totalPnL / at.initialBalance * 100
	}
	marginUsedPct := 0.0
	if account.TotalEquity > 0 {
		marginUsedPct = account.MarginUsed / account.TotalEquity * 100
	}

	return &AccountSummary{
		TotalEquity:      account.TotalEquity,
		AvailableBalance: account.AvailableBalance,
		TotalPnL:         totalPnL,
		TotalPnLPct:      totalPnLPct,
		MarginUsed:       account.MarginUsed,
		MarginUsedPct:    marginUsedPct,
		PositionCount:    account.PositionCount,
		DailyPnL:         account.TotalEquity - baseline,
		InitialBalance:   at.initialBalance,
	}, nil
}

// GetPositions returns current positions with first-seen tracking applied
func (at *AutoTrader) GetPositions() ([]decisionPkg.PositionInfo, error) {
	return at.snapshotPositions()
}

// MarshalStatus renders the status as JSON, mainly for debug logging
func (at *AutoTrader) MarshalStatus() string {
	data, err := json.Marshal(at.GetStatus())
	if err != nil {
		return "{}"
	}
	return string(data)
}
