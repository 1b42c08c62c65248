package pool

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
)

// StockPool merged candidate universe with per-symbol source tags
type StockPool struct {
	AllSymbols    []string
	SymbolSources map[string][]string // "default" and/or "pool_api"
}

var (
	mu               sync.RWMutex
	defaultStocks    = []string{"AAPL", "MSFT", "GOOGL", "TSLA", "NVDA"}
	useDefaultStocks = true
	poolAPIURL       string

	httpClient = resty.New().
			SetTimeout(10 * time.Second).
			SetRetryCount(2).
			SetRetryWaitTime(2 * time.Second)
)

// SetDefaultStocks sets the fallback universe
func SetDefaultStocks(symbols []string) {
	mu.Lock()
	defer mu.Unlock()
	if len(symbols) > 0 {
		defaultStocks = append([]string(nil), symbols...)
	}
}

// SetUseDefaultStocks toggles whether the default list is merged in
func SetUseDefaultStocks(use bool) {
	mu.Lock()
	defer mu.Unlock()
	useDefaultStocks = use
}

// SetStockPoolAPI configures a remote screener endpoint returning
// {"symbols": ["AAPL", ...]}
func SetStockPoolAPI(url string) {
	mu.Lock()
	defer mu.Unlock()
	poolAPIURL = url
}

type poolAPIResponse struct {
	Symbols []string `json:"symbols"`
}

// GetStockPool returns the merged candidate pool, remote symbols capped at limit.
// Remote fetch failure degrades to the default list rather than failing the cycle.
func GetStockPool(limit int) (*StockPool, error) {
	mu.RLock()
	useDefaults := useDefaultStocks
	defaults := append([]string(nil), defaultStocks...)
	apiURL := poolAPIURL
	mu.RUnlock()

	pool := &StockPool{SymbolSources: make(map[string][]string)}

	add := func(symbol, source string) {
		if _, seen := pool.SymbolSources[symbol]; !seen {
			pool.AllSymbols = append(pool.AllSymbols, symbol)
		}
		pool.SymbolSources[symbol] = append(pool.SymbolSources[symbol], source)
	}

	if useDefaults {
		for _, s := range defaults {
			add(s, "default")
		}
	}

	if apiURL != "" {
		remote, err := fetchRemoteSymbols(apiURL, limit)
		if err != nil {
			log.Printf("⚠️  Stock pool API unavailable, using default list: %v", err)
		} else {
			for _, s := range remote {
				add(s, "pool_api")
			}
		}
	}

	if len(pool.AllSymbols) == 0 {
		return nil, fmt.Errorf("candidate stock pool is empty")
	}
	return pool, nil
}

func fetchRemoteSymbols(url string, limit int) ([]string, error) {
	var body poolAPIResponse
	resp, err := httpClient.R().SetResult(&body).Get(url)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch stock pool: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("stock pool API returned status %d", resp.StatusCode())
	}
	if limit > 0 && len(body.Symbols) > limit {
		body.Symbols = body.Symbols[:limit]
	}
	return body.Symbols, nil
}
