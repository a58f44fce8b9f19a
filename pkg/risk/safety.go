package risk

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

type TradingMode string

const (
	ModeDemo  TradingMode = "DEMO"
	ModePaper TradingMode = "PAPER"
	ModeLive  TradingMode = "LIVE"
)

func ParseTradingMode(s string) (TradingMode, error) {
	switch mode := TradingMode(strings.ToUpper(strings.TrimSpace(s))); mode {
	case ModeDemo, ModePaper, ModeLive:
		return mode, nil
	}
	return "", fmt.Errorf("unknown trading mode %q", s)
}

type TradingLimits struct {
	MaxTradesPerDay      int     `mapstructure:"max_trades_per_day" json:"max_trades_per_day"`
	MaxContractsPerTrade int     `mapstructure:"max_contracts_per_trade" json:"max_contracts_per_trade"`
	MinDTE               int     `mapstructure:"min_dte" json:"min_dte"`
	MaxDTE               int     `mapstructure:"max_dte" json:"max_dte"`
	MinDelta             float64 `mapstructure:"min_delta" json:"min_delta"`
	MaxDelta             float64 `mapstructure:"max_delta" json:"max_delta"`
	MinPremium           float64 `mapstructure:"min_premium" json:"min_premium"`
}

func DefaultTradingLimits() TradingLimits {
	return TradingLimits{
		MaxTradesPerDay:      5,
		MaxContractsPerTrade: 10,
		MinDTE:               21,
		MaxDTE:               45,
		MinDelta:             0.15,
		MaxDelta:             0.40,
		MinPremium:           0.50,
	}
}

// TradeRequest is the pre-trade view of an order. Premium is per share.
type TradeRequest struct {
	Symbol    string  `json:"symbol"`
	Contracts int     `json:"contracts"`
	Delta     float64 `json:"delta"`
	DTE       int     `json:"dte"`
	Premium   float64 `json:"premium"`
	Strike    float64 `json:"strike"`
}

type SafetySummary struct {
	Mode            TradingMode   `json:"mode"`
	TodaysTrades    int           `json:"todays_trades"`
	TradesRemaining int           `json:"trades_remaining"`
	Limits          TradingLimits `json:"limits"`
}

// SafetyManager enforces per-trade and per-day limits. Safe for concurrent use.
type SafetyManager struct {
	mode   TradingMode
	limits TradingLimits

	mu           sync.Mutex
	todaysTrades int
	day          time.Time
	now          func() time.Time
}

func NewSafetyManager(mode TradingMode, limits TradingLimits) *SafetyManager {
	return NewSafetyManagerWithClock(mode, limits, time.Now)
}

func NewSafetyManagerWithClock(mode TradingMode, limits TradingLimits, now func() time.Time) *SafetyManager {
	return &SafetyManager{
		mode:   mode,
		limits: limits,
		day:    truncateDay(now()),
		now:    now,
	}
}

func (s *SafetyManager) Mode() TradingMode {
	return s.mode
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// rollDay must be called with mu held.
func (s *SafetyManager) rollDay() {
	if today := truncateDay(s.now()); today.After(s.day) {
		s.day = today
		s.todaysTrades = 0
	}
}

// PreTradeValidation runs every limit and returns the verdict with one message
// per check. A delta above the limit is reported but does not block.
func (s *SafetyManager) PreTradeValidation(req TradeRequest) (bool, []string) {
	s.mu.Lock()
	s.rollDay()
	trades := s.todaysTrades
	s.mu.Unlock()

	l := s.limits
	approved := true
	messages := []string{s.modeBanner()}
	fail := func(format string, args ...interface{}) {
		approved = false
		messages = append(messages, "BLOCKED: "+fmt.Sprintf(format, args...))
	}
	pass := func(format string, args ...interface{}) {
		messages = append(messages, "OK: "+fmt.Sprintf(format, args...))
	}

	if trades >= l.MaxTradesPerDay {
		fail("Daily trade limit reached (%d)", l.MaxTradesPerDay)
	} else {
		pass("Daily trades: %d/%d", trades, l.MaxTradesPerDay)
	}

	if req.Contracts > l.MaxContractsPerTrade {
		fail("Too many contracts (%d > %d)", req.Contracts, l.MaxContractsPerTrade)
	} else {
		pass("Contracts: %d", req.Contracts)
	}

	switch {
	case req.DTE < l.MinDTE:
		fail("Expiration too soon (%d < %d days)", req.DTE, l.MinDTE)
	case req.DTE > l.MaxDTE:
		fail("Expiration too far (%d > %d days)", req.DTE, l.MaxDTE)
	default:
		pass("DTE: %d days", req.DTE)
	}

	switch {
	case req.Delta < l.MinDelta:
		fail("Delta too low (%.3f < %.2f)", req.Delta, l.MinDelta)
	case req.Delta > l.MaxDelta:
		messages = append(messages, fmt.Sprintf("WARNING: High delta (%.3f > %.2f)", req.Delta, l.MaxDelta))
	default:
		pass("Delta: %.3f", req.Delta)
	}

	if req.Premium < l.MinPremium {
		fail("Premium too low ($%.2f < $%.2f)", req.Premium, l.MinPremium)
	} else {
		pass("Premium: $%.2f/share", req.Premium)
	}

	if req.Symbol == "" || len(req.Symbol) > 5 {
		fail("Invalid symbol: %q", req.Symbol)
	} else {
		pass("Symbol: %s", req.Symbol)
	}

	if req.Strike <= 0 {
		fail("Invalid strike price: $%.2f", req.Strike)
	} else {
		pass("Strike: $%.2f", req.Strike)
	}

	return approved, messages
}

func (s *SafetyManager) modeBanner() string {
	switch s.mode {
	case ModeLive:
		return "LIVE TRADING MODE - Real money at risk"
	case ModePaper:
		return "Paper trading mode - Simulated execution"
	default:
		return "Demo mode - No real execution"
	}
}

// RecordExecution counts a completed trade toward today's limit.
func (s *SafetyManager) RecordExecution() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rollDay()
	s.todaysTrades++
}

func (s *SafetyManager) Summary() SafetySummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rollDay()
	return SafetySummary{
		Mode:            s.mode,
		TodaysTrades:    s.todaysTrades,
		TradesRemaining: s.limits.MaxTradesPerDay - s.todaysTrades,
		Limits:          s.limits,
	}
}
