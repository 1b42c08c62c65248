package market

import (
	"fmt"
	"hash/fnv"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/piquette/finance-go/quote"
)

// Kline one OHLCV bar
type Kline struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    int64     `json:"volume"`
}

// Data snapshot of one symbol with the indicator set the prompt needs
type Data struct {
	Symbol       string
	CurrentPrice float64
	CurrentEMA12 float64
	CurrentEMA26 float64
	CurrentMACD  float64
	CurrentRSI14 float64

	// Tail of the intraday series, oldest first
	MidPrices  []float64
	EMA12Line  []float64
	MACDLine   []float64
	RSI14Line  []float64
}

const seriesTail = 50

var (
	liveMu     sync.RWMutex
	liveQuotes = true
)

// SetLiveQuotes toggles the Yahoo quote lookup. When disabled (offline mode,
// tests) prices come from the deterministic synthetic series only.
func SetLiveQuotes(enabled bool) {
	liveMu.Lock()
	defer liveMu.Unlock()
	liveQuotes = enabled
}

func liveQuotesEnabled() bool {
	liveMu.RLock()
	defer liveMu.RUnlock()
	return liveQuotes
}

// Get fetches the indicator snapshot for one symbol.
// The bar series is synthetic and seeded per symbol; the current price is
// replaced by the live Yahoo quote when available.
func Get(symbol string) (*Data, error) {
	klines, err := FetchOHLC(symbol, "1min", 120)
	if err != nil {
		return nil, err
	}

	closes := make([]float64, len(klines))
	for i, k := range klines {
		closes[i] = k.Close
	}

	ema12 := ema(closes, 12)
	ema26 := ema(closes, 26)
	macd := make([]float64, len(closes))
	for i := range closes {
		macd[i] = ema12[i] - ema26[i]
	}
	rsi14 := rsi(closes, 14)

	data := &Data{
		Symbol:       symbol,
		CurrentPrice: closes[len(closes)-1],
		CurrentEMA12: ema12[len(ema12)-1],
		CurrentEMA26: ema26[len(ema26)-1],
		CurrentMACD:  macd[len(macd)-1],
		CurrentRSI14: rsi14[len(rsi14)-1],
		MidPrices:    tail(closes, seriesTail),
		EMA12Line:    tail(ema12, seriesTail),
		MACDLine:     tail(macd, seriesTail),
		RSI14Line:    tail(rsi14, seriesTail),
	}

	if liveQuotesEnabled() {
		if price, err := fetchQuotePrice(symbol); err == nil && price > 0 {
			data.CurrentPrice = price
		}
	}

	return data, nil
}

// fetchQuotePrice pulls the regular-market price from Yahoo Finance
func fetchQuotePrice(symbol string) (float64, error) {
	q, err := quote.Get(symbol)
	if err != nil {
		return 0, fmt.Errorf("failed to get quote for %s: %w", symbol, err)
	}
	if q == nil {
		return 0, fmt.Errorf("empty quote for %s", symbol)
	}
	return q.RegularMarketPrice, nil
}

// FetchOHLC generates a deterministic synthetic bar series for a symbol.
// Same symbol always yields the same series, which keeps paper fills and
// tests reproducible without a market-data subscription.
func FetchOHLC(symbol, interval string, limit int) ([]Kline, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive")
	}

	step := map[string]time.Duration{
		"1min": time.Minute,
		"5min": 5 * time.Minute,
		"1day": 24 * time.Hour,
	}[interval]
	if step == 0 {
		step = time.Minute
	}

	h := symbolHash(symbol)
	rng := rand.New(rand.NewSource(int64(h & 0xFFFF)))
	base := 100.0 + float64(h%50)
	trend := []float64{-0.03, 0.0, 0.03}[rng.Intn(3)]
	volBase := 100000 + int64(h%50000)

	now := time.Now().UTC().Truncate(step)
	klines := make([]Kline, 0, limit)
	price := base
	for i := limit - 1; i >= 0; i-- {
		t := now.Add(-step * time.Duration(i))
		noise := math.Sin(float64(i)/5)*0.5 + (rng.Float64()*0.6 - 0.3)
		drift := trend * float64(limit-i) / float64(limit)
		change := noise + drift

		open := math.Max(1.0, price)
		close := math.Max(1.0, open*(1+change/100))
		high := math.Max(open, close) * (1 + rng.Float64()*0.005)
		low := math.Min(open, close) * (1 - rng.Float64()*0.005)
		volume := int64(float64(volBase) * (1 + (rng.Float64()*0.4 - 0.2)))

		klines = append(klines, Kline{
			Timestamp: t,
			Open:      open,
			High:      high,
			Low:       low,
			Close:     close,
			Volume:    volume,
		})
		price = close
	}
	return klines, nil
}

func symbolHash(symbol string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(symbol))
	return h.Sum32()
}

// ema exponential moving average, adjust=false seeding from the first value
func ema(values []float64, span int) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 {
		return out
	}
	alpha := 2.0 / (float64(span) + 1.0)
	out[0] = values[0]
	for i := 1; i < len(values); i++ {
		out[i] = alpha*values[i] + (1-alpha)*out[i-1]
	}
	return out
}

// rsi Wilder-less simple rolling RSI, neutral 50 until the window fills
func rsi(values []float64, window int) []float64 {
	out := make([]float64, len(values))
	for i := range out {
		out[i] = 50.0
	}
	if len(values) <= window {
		return out
	}

	for i := window; i < len(values); i++ {
		gain, loss := 0.0, 0.0
		for j := i - window + 1; j <= i; j++ {
			change := values[j] - values[j-1]
			if change > 0 {
				gain += change
			} else {
				loss -= change
			}
		}
		if loss == 0 {
			if gain == 0 {
				continue
			}
			out[i] = 100.0
			continue
		}
		rs := gain / loss
		out[i] = 100.0 - 100.0/(1.0+rs)
	}
	return out
}

func tail(values []float64, n int) []float64 {
	if len(values) <= n {
		return append([]float64(nil), values...)
	}
	return append([]float64(nil), values[len(values)-n:]...)
}
