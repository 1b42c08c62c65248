package logger

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// DecisionRecord complete record of one trading cycle
type DecisionRecord struct {
	Timestamp       string             `json:"timestamp"`
	CycleNumber     int                `json:"cycle_number"`
	InputPrompt     string             `json:"input_prompt"`
	CoTTrace        string             `json:"cot_trace"`
	RawResponse     string             `json:"raw_response"`
	AccountState    AccountSnapshot    `json:"account_state"`
	Positions       []PositionSnapshot `json:"positions"`
	CandidateStocks []string           `json:"candidate_stocks"`
	Decisions       []DecisionAction   `json:"decisions"`
	ExecutionLog    []string           `json:"execution_log"`
	Success         bool               `json:"success"`
	ErrorMessage    string             `json:"error_message,omitempty"`
}

// AccountSnapshot account state at decision time
type AccountSnapshot struct {
	TotalEquity           float64 `json:"total_equity"`
	AvailableBalance      float64 `json:"available_balance"`
	TotalUnrealizedProfit float64 `json:"total_unrealized_profit"`
	PositionCount         int     `json:"position_count"`
	MarginUsedPct         float64 `json:"margin_used_pct"`
}

// PositionSnapshot position state at decision time
type PositionSnapshot struct {
	Symbol        string  `json:"symbol"`
	Side          string  `json:"side"`
	EntryPrice    float64 `json:"entry_price"`
	MarkPrice     float64 `json:"mark_price"`
	Quantity      float64 `json:"quantity"`
	Leverage      int     `json:"leverage"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
}

// DecisionAction one executed (or attempted) decision
type DecisionAction struct {
	Action    string  `json:"action"`
	Symbol    string  `json:"symbol"`
	Quantity  float64 `json:"quantity"`
	Leverage  int     `json:"leverage"`
	Price     float64 `json:"price"`
	OrderID   string  `json:"order_id,omitempty"`
	Timestamp string  `json:"timestamp"`
	Success   bool    `json:"success"`
	Error     string  `json:"error,omitempty"`
}

// Statistics aggregate cycle statistics
type Statistics struct {
	TotalCycles         int `json:"total_cycles"`
	SuccessfulCycles    int `json:"successful_cycles"`
	FailedCycles        int `json:"failed_cycles"`
	TotalOpenPositions  int `json:"total_open_positions"`
	TotalClosePositions int `json:"total_close_positions"`
}

// EquityPoint one point of the equity curve
type EquityPoint struct {
	Timestamp string  `json:"timestamp"`
	Equity    float64 `json:"equity"`
}

// DecisionLogger append-only JSONL log, one file per trader
type DecisionLogger struct {
	mu          sync.Mutex
	filePath    string
	cycleNumber int
}

// NewDecisionLogger creates a logger writing to <logDir>/<traderID>.jsonl.
// The cycle counter resumes from the last record in an existing file.
func NewDecisionLogger(logDir, traderID string) (*DecisionLogger, error) {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	l := &DecisionLogger{
		filePath: filepath.Join(logDir, traderID+".jsonl"),
	}
	l.cycleNumber = l.restoreCycleNumber()
	return l, nil
}

// restoreCycleNumber scans the existing log for the highest cycle number
func (l *DecisionLogger) restoreCycleNumber() int {
	records, err := l.GetAllRecords()
	if err != nil || len(records) == 0 {
		return 0
	}
	highest := 0
	for _, r := range records {
		if r.CycleNumber > highest {
			highest = r.CycleNumber
		}
	}
	return highest
}

// NextCycleNumber increments and returns the cycle counter
func (l *DecisionLogger) NextCycleNumber() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cycleNumber++
	return l.cycleNumber
}

// LogDecision appends one record as a single JSON line
func (l *DecisionLogger) LogDecision(record *DecisionRecord) error {
	if record.Timestamp == "" {
		record.Timestamp = time.Now().Format(time.RFC3339)
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal decision record: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open decision log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write decision record: %w", err)
	}
	return nil
}

// GetAllRecords reads every record in write order. Malformed lines are
// skipped so one corrupt write cannot poison history.
func (l *DecisionLogger) GetAllRecords() ([]*DecisionRecord, error) {
	f, err := os.Open(l.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open decision log: %w", err)
	}
	defer f.Close()

	var records []*DecisionRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 1024*1024), 16*1024*1024)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var record DecisionRecord
		if err := json.Unmarshal(line, &record); err != nil {
			log.Printf("⚠️  Skipping malformed record at %s:%d: %v", l.filePath, lineNum, err)
			continue
		}
		records = append(records, &record)
	}
	if err := scanner.Err(); err != nil {
		return records, fmt.Errorf("failed to scan decision log: %w", err)
	}
	return records, nil
}

// GetLatestRecords returns the newest n records, oldest first
func (l *DecisionLogger) GetLatestRecords(n int) ([]*DecisionRecord, error) {
	records, err := l.GetAllRecords()
	if err != nil {
		return nil, err
	}
	if n <= 0 || n >= len(records) {
		return records, nil
	}
	return records[len(records)-n:], nil
}

// GetStatistics aggregates cycle and order counts across the whole log
func (l *DecisionLogger) GetStatistics() (*Statistics, error) {
	records, err := l.GetAllRecords()
	if err != nil {
		return nil, err
	}

	stats := &Statistics{}
	for _, r := range records {
		stats.TotalCycles++
		if r.Success {
			stats.SuccessfulCycles++
		} else {
			stats.FailedCycles++
		}
		for _, d := range r.Decisions {
			if !d.Success {
				continue
			}
			switch d.Action {
			case "open_long", "open_short":
				stats.TotalOpenPositions++
			case "close_long", "close_short":
				stats.TotalClosePositions++
			}
		}
	}
	return stats, nil
}

// GetEquityHistory extracts the equity curve from recorded account states
func (l *DecisionLogger) GetEquityHistory() ([]EquityPoint, error) {
	records, err := l.GetAllRecords()
	if err != nil {
		return nil, err
	}

	points := make([]EquityPoint, 0, len(records))
	for _, r := range records {
		if r.AccountState.TotalEquity <= 0 {
			continue
		}
		points = append(points, EquityPoint{
			Timestamp: r.Timestamp,
			Equity:    r.AccountState.TotalEquity,
		})
	}
	return points, nil
}
