package manager

import (
	"fmt"
	"log"
	"runtime"
	"sync"
	"time"

	"atlas/config"
	"atlas/trader"
)

// TraderManager manages multiple independent trader instances
type TraderManager struct {
	traders map[string]*trader.AutoTrader
	mu      sync.RWMutex
}

// TraderSummary one trader's row in the comparison view
type TraderSummary struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	AIModel     string  `json:"ai_model"`
	TotalEquity float64 `json:"total_equity"`
	TotalPnL    float64 `json:"total_pnl"`
	TotalPnLPct float64 `json:"total_pnl_pct"`
	Positions   int     `json:"positions"`
	Running     bool    `json:"running"`
}

// ComparisonData cross-trader comparison for the competition view
type ComparisonData struct {
	Traders   []TraderSummary `json:"traders"`
	Count     int             `json:"count"`
	Timestamp string          `json:"timestamp"`
}

// NewTraderManager creates an empty manager
func NewTraderManager() *TraderManager {
	return &TraderManager{
		traders: make(map[string]*trader.AutoTrader),
	}
}

// AddTrader creates and registers a trader from configuration
func (tm *TraderManager) AddTrader(cfg config.TraderConfig, globalCfg *config.Config) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	if _, exists := tm.traders[cfg.ID]; exists {
		return fmt.Errorf("trader already exists: %s", cfg.ID)
	}

	traderCfg := trader.AutoTraderConfig{
		ID:               cfg.ID,
		Name:             cfg.Name,
		AIModel:          cfg.AIModel,
		DeepSeekKey:      cfg.DeepSeekKey,
		QwenKey:          cfg.QwenKey,
		GroqKey:          cfg.GroqKey,
		GroqModel:        cfg.GroqModel,
		CustomAPIURL:     cfg.CustomAPIURL,
		CustomAPIKey:     cfg.CustomAPIKey,
		CustomModelName:  cfg.CustomModelName,
		StockPoolAPIURL:  globalCfg.StockPoolAPIURL,
		Stocks:           cfg.Stocks,
		ScanInterval:     time.Duration(cfg.ScanIntervalMinutes * float64(time.Minute)),
		InitialBalance:   cfg.InitialBalance,
		LargeCapLeverage: globalCfg.Leverage.LargeCapLeverage,
		OtherLeverage:    globalCfg.Leverage.OtherLeverage,
		MaxDailyLoss:     globalCfg.MaxDailyLoss,
		MaxDrawdown:      globalCfg.MaxDrawdown,
		StopTradingTime:  time.Duration(globalCfg.StopTradingMinutes) * time.Minute,
		LogDir:           globalCfg.LogDir,
	}

	at, err := trader.NewAutoTrader(traderCfg)
	if err != nil {
		return fmt.Errorf("failed to create trader %s: %w", cfg.ID, err)
	}

	tm.traders[cfg.ID] = at
	log.Printf("✓ Trader registered: %s (%s, model: %s)", cfg.Name, cfg.ID, at.GetAIModel())
	return nil
}

// GetTrader looks up a trader by ID
func (tm *TraderManager) GetTrader(id string) (*trader.AutoTrader, error) {
	tm.mu.RLock()
	defer tm.mu.RUnlock()

	at, exists := tm.traders[id]
	if !exists {
		return nil, fmt.Errorf("trader not found: %s", id)
	}
	return at, nil
}

// GetAllTraders returns a copy of the trader map
func (tm *TraderManager) GetAllTraders() map[string]*trader.AutoTrader {
	tm.mu.RLock()
	defer tm.mu.RUnlock()

	result := make(map[string]*trader.AutoTrader, len(tm.traders))
	for id, at := range tm.traders {
		result[id] = at
	}
	return result
}

// GetTraderIDs returns all registered trader IDs
func (tm *TraderManager) GetTraderIDs() []string {
	tm.mu.RLock()
	defer tm.mu.RUnlock()

	ids := make([]string, 0, len(tm.traders))
	for id := range tm.traders {
		ids = append(ids, id)
	}
	return ids
}

// StartAll starts every trader in its own goroutine. A panicking trader is
// restarted after a short delay instead of taking the process down.
func (tm *TraderManager) StartAll() {
	tm.mu.RLock()
	defer tm.mu.RUnlock()

	for id, at := range tm.traders {
		go tm.runWithRecovery(id, at)
	}
	log.Printf("🚀 Started %d trader(s)", len(tm.traders))
}

func (tm *TraderManager) runWithRecovery(id string, at *trader.AutoTrader) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("🚨 Trader %s panicked: %v\n%s", id, r, stackTrace())
			log.Printf("🔄 Restarting trader %s in 30 seconds...", id)
			time.Sleep(30 * time.Second)
			go tm.runWithRecovery(id, at)
		}
	}()

	if err := at.Run(); err != nil {
		log.Printf("❌ Trader %s exited with error: %v", id, err)
	}
}

// StopAll stops every trader
func (tm *TraderManager) StopAll() {
	tm.mu.RLock()
	defer tm.mu.RUnlock()

	for id, at := range tm.traders {
		at.Stop()
		log.Printf("⏹ Trader stopped: %s", id)
	}
}

// GetComparisonData builds the cross-trader comparison. Per-trader failures
// degrade that row instead of failing the whole view.
func (tm *TraderManager) GetComparisonData() *ComparisonData {
	tm.mu.RLock()
	defer tm.mu.RUnlock()

	data := &ComparisonData{
		Timestamp: time.Now().Format(time.RFC3339),
	}
	for _, at := range tm.traders {
		status := at.GetStatus()
		summary := TraderSummary{
			ID:      status.ID,
			Name:    status.Name,
			AIModel: status.AIModel,
			Running: status.Running,
		}
		if account, err := at.GetAccountInfo(); err == nil {
			summary.TotalEquity = account.TotalEquity
			summary.TotalPnL = account.TotalPnL
			summary.TotalPnLPct = account.TotalPnLPct
			summary.Positions = account.PositionCount
		} else {
			log.Printf("⚠️  Failed to get account for %s: %v", status.ID, err)
		}
		data.Traders = append(data.Traders, summary)
	}
	data.Count = len(data.Traders)
	return data
}

func stackTrace() string {
	buf := make([]byte, 4096)
	n := runtime.Stack(buf, false)
	return string(buf[:n])
}
