// Package risk checks portfolio concentration, covered-call exposure and
// assignment risk, and validates individual trades before they are sent.
package risk

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/gregtusar/coveredcalls/pkg/models"
)

var (
	ErrInsufficientShares  = errors.New("not enough shares to cover the calls")
	ErrInvalidAccountValue = errors.New("account value must be positive")
)

type Level string

const (
	LevelLow      Level = "LOW"
	LevelMedium   Level = "MEDIUM"
	LevelHigh     Level = "HIGH"
	LevelCritical Level = "CRITICAL"
)

type Alert struct {
	Level          Level     `json:"level"`
	Title          string    `json:"title"`
	Message        string    `json:"message"`
	Recommendation string    `json:"recommendation"`
	Timestamp      time.Time `json:"timestamp"`
}

// Holding is one stock line of the account, optionally with a short call.
type Holding struct {
	Symbol         string  `json:"symbol"`
	Shares         int     `json:"shares"`
	Price          float64 `json:"price"`
	HasCoveredCall bool    `json:"has_covered_call"`
	OptionDelta    float64 `json:"option_delta"`
	DaysToExpiry   int     `json:"days_to_expiry"`
}

func (h Holding) Value() float64 {
	return float64(h.Shares) * h.Price
}

type Limits struct {
	MaxPositionPct float64 `mapstructure:"max_position_pct"`
	MaxCoveredPct  float64 `mapstructure:"max_covered_pct"`
	MinCashReserve float64 `mapstructure:"min_cash_reserve"`
	MaxDelta       float64 `mapstructure:"max_delta"`
	MinDTEWarning  int     `mapstructure:"min_dte_warning"`
}

func DefaultLimits() Limits {
	return Limits{
		MaxPositionPct: 0.25,
		MaxCoveredPct:  0.70,
		MinCashReserve: 0.10,
		MaxDelta:       0.75,
		MinDTEWarning:  7,
	}
}

type Concentration struct {
	Status          string             `json:"status"`
	LargestPosition string             `json:"largest_position,omitempty"`
	LargestPct      float64            `json:"largest_pct"`
	Breakdown       map[string]float64 `json:"positions_breakdown,omitempty"`
}

type CashReserve struct {
	Status      string  `json:"status"`
	CashPct     float64 `json:"cash_pct"`
	RequiredPct float64 `json:"required_pct"`
	CashAmount  float64 `json:"cash_amount"`
}

type CoveredExposure struct {
	Status       string  `json:"status"`
	ExposurePct  float64 `json:"exposure_pct"`
	NumPositions int     `json:"num_positions"`
	TotalValue   float64 `json:"total_value"`
}

type AssignmentRisk struct {
	Symbol    string  `json:"symbol"`
	Delta     float64 `json:"delta"`
	DTE       int     `json:"dte"`
	RiskScore float64 `json:"risk_score"`
}

type Diversification struct {
	Status     string `json:"status"`
	NumSymbols int    `json:"num_symbols"`
}

type Analysis struct {
	OverallRisk     Level            `json:"overall_risk"`
	Concentration   Concentration    `json:"concentration"`
	CashReserve     CashReserve      `json:"cash_reserve"`
	CoveredExposure CoveredExposure  `json:"cc_exposure"`
	AssignmentRisk  []AssignmentRisk `json:"assignment_risk"`
	Diversification Diversification  `json:"diversification"`
	Alerts          []Alert          `json:"alerts"`
	Recommendations []string         `json:"recommendations"`
}

type Manager struct {
	limits Limits
	now    func() time.Time
}

func NewManager(limits Limits) *Manager {
	return &Manager{limits: limits, now: time.Now}
}

func (m *Manager) Limits() Limits {
	return m.limits
}

func (m *Manager) AnalyzePortfolio(accountValue, cash float64, holdings []Holding) (Analysis, error) {
	if !(accountValue > 0) {
		return Analysis{}, fmt.Errorf("%w: %v", ErrInvalidAccountValue, accountValue)
	}

	var alerts []Alert
	alert := func(level Level, title, message, recommendation string) {
		alerts = append(alerts, Alert{Level: level, Title: title, Message: message, Recommendation: recommendation, Timestamp: m.now()})
	}

	a := Analysis{
		Concentration:   m.concentration(accountValue, holdings, alert),
		CashReserve:     m.cashReserve(accountValue, cash, alert),
		CoveredExposure: m.coveredExposure(accountValue, holdings, alert),
		AssignmentRisk:  m.assignmentRisk(holdings, alert),
		Diversification: m.diversification(holdings, alert),
	}
	a.Alerts = alerts
	a.OverallRisk = overallRisk(alerts)
	a.Recommendations = recommendations(alerts)
	return a, nil
}

type alertFunc func(level Level, title, message, recommendation string)

func (m *Manager) concentration(accountValue float64, holdings []Holding, alert alertFunc) Concentration {
	if len(holdings) == 0 {
		return Concentration{Status: "OK"}
	}

	values := make(map[string]float64)
	for _, h := range holdings {
		values[h.Symbol] += h.Value()
	}

	symbols := make([]string, 0, len(values))
	for s := range values {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)

	largest := symbols[0]
	for _, s := range symbols[1:] {
		if values[s] > values[largest] {
			largest = s
		}
	}
	pct := values[largest] / accountValue * 100

	c := Concentration{Status: "OK", LargestPosition: largest, LargestPct: pct, Breakdown: values}
	if pct > m.limits.MaxPositionPct*100 {
		c.Status = "WARNING"
		alert(LevelHigh,
			fmt.Sprintf("High concentration in %s", largest),
			fmt.Sprintf("%s is %.1f%% of the portfolio", largest, pct),
			fmt.Sprintf("Consider reducing %s below %.0f%%", largest, m.limits.MaxPositionPct*100))
	}
	return c
}

func (m *Manager) cashReserve(accountValue, cash float64, alert alertFunc) CashReserve {
	c := CashReserve{
		Status:      "OK",
		CashPct:     cash / accountValue * 100,
		RequiredPct: m.limits.MinCashReserve * 100,
		CashAmount:  cash,
	}
	if c.CashPct < c.RequiredPct {
		c.Status = "LOW"
		alert(LevelMedium,
			"Low cash",
			fmt.Sprintf("Only %.1f%% cash (required %.0f%%)", c.CashPct, c.RequiredPct),
			"Keep more cash for emergencies or opportunities")
	}
	return c
}

func (m *Manager) coveredExposure(accountValue float64, holdings []Holding, alert alertFunc) CoveredExposure {
	var e CoveredExposure
	for _, h := range holdings {
		if h.HasCoveredCall {
			e.NumPositions++
			e.TotalValue += h.Value()
		}
	}
	e.ExposurePct = e.TotalValue / accountValue * 100

	switch {
	case e.ExposurePct > m.limits.MaxCoveredPct*100:
		e.Status = "HIGH"
		alert(LevelHigh,
			"High covered call exposure",
			fmt.Sprintf("%.1f%% of the portfolio under covered calls (max %.0f%%)", e.ExposurePct, m.limits.MaxCoveredPct*100),
			"Do not sell more covered calls until existing positions close")
	case e.ExposurePct > m.limits.MaxCoveredPct*0.8*100:
		e.Status = "MEDIUM"
	default:
		e.Status = "OK"
	}
	return e
}

func (m *Manager) assignmentRisk(holdings []Holding, alert alertFunc) []AssignmentRisk {
	out := []AssignmentRisk{}
	for _, h := range holdings {
		if !h.HasCoveredCall {
			continue
		}
		if h.OptionDelta > m.limits.MaxDelta && h.DaysToExpiry < m.limits.MinDTEWarning {
			out = append(out, AssignmentRisk{
				Symbol:    h.Symbol,
				Delta:     h.OptionDelta,
				DTE:       h.DaysToExpiry,
				RiskScore: h.OptionDelta * (1 - float64(h.DaysToExpiry)/30),
			})
			alert(LevelHigh,
				fmt.Sprintf("High assignment risk - %s", h.Symbol),
				fmt.Sprintf("Delta: %.2f, DTE: %d", h.OptionDelta, h.DaysToExpiry),
				"Consider rolling or closing the position")
		}
	}
	return out
}

func (m *Manager) diversification(holdings []Holding, alert alertFunc) Diversification {
	if len(holdings) == 0 {
		return Diversification{Status: "N/A"}
	}

	symbols := make(map[string]struct{})
	for _, h := range holdings {
		symbols[h.Symbol] = struct{}{}
	}
	d := Diversification{NumSymbols: len(symbols)}

	switch {
	case d.NumSymbols < 3:
		d.Status = "LOW"
		alert(LevelMedium,
			"Low diversification",
			fmt.Sprintf("Only %d different stocks", d.NumSymbols),
			"Consider adding 2-3 more stocks")
	case d.NumSymbols < 5:
		d.Status = "MEDIUM"
	default:
		d.Status = "GOOD"
	}
	return d
}

func overallRisk(alerts []Alert) Level {
	counts := make(map[Level]int)
	for _, a := range alerts {
		counts[a.Level]++
	}
	switch {
	case counts[LevelCritical] > 0 || counts[LevelHigh] >= 3:
		return LevelCritical
	case counts[LevelHigh] >= 1 || counts[LevelMedium] >= 3:
		return LevelHigh
	case counts[LevelMedium] >= 1:
		return LevelMedium
	default:
		return LevelLow
	}
}

func recommendations(alerts []Alert) []string {
	if len(alerts) == 0 {
		return []string{"Portfolio looks balanced"}
	}
	out := make([]string, 0, len(alerts))
	for _, a := range alerts {
		if a.Recommendation != "" {
			out = append(out, a.Recommendation)
		}
	}
	return out
}

// ValidateNewPosition checks a proposed sale of contracts calls on symbol
// against the position and covered-exposure limits.
func (m *Manager) ValidateNewPosition(symbol string, contracts int, currentPrice, accountValue float64, existing []Holding) (bool, string) {
	if !(accountValue > 0) {
		return false, ErrInvalidAccountValue.Error()
	}

	positionValue := float64(contracts*models.SharesPerContract) * currentPrice
	positionPct := positionValue / accountValue
	if positionPct > m.limits.MaxPositionPct {
		return false, fmt.Sprintf("Position too large: %.1f%% (max %.0f%%)", positionPct*100, m.limits.MaxPositionPct*100)
	}

	covered := positionValue
	for _, h := range existing {
		if h.HasCoveredCall {
			covered += h.Value()
		}
	}
	if pct := covered / accountValue; pct > m.limits.MaxCoveredPct {
		return false, fmt.Sprintf("Too much covered call exposure: %.1f%% (max %.0f%%)", pct*100, m.limits.MaxCoveredPct*100)
	}

	symbolValue := 0.0
	found := false
	for _, h := range existing {
		if h.Symbol == symbol {
			symbolValue += h.Value()
			found = true
		}
	}
	if found {
		if pct := (symbolValue + positionValue) / accountValue; pct > m.limits.MaxPositionPct {
			return false, fmt.Sprintf("Too much exposure to %s: %.1f%% (max %.0f%%)", symbol, pct*100, m.limits.MaxPositionPct*100)
		}
	}

	return true, fmt.Sprintf("Position approved (%.1f%% of portfolio)", positionPct*100)
}

// CalculatePositionSize returns the contract count allowed by both the
// position limit and riskPerTrade, never below one. A zero price yields zero.
func (m *Manager) CalculatePositionSize(accountValue, riskPerTrade, stockPrice float64) int {
	if stockPrice <= 0 {
		return 0
	}
	lot := stockPrice * models.SharesPerContract
	maxContracts := int(accountValue * m.limits.MaxPositionPct / lot)
	riskContracts := int(accountValue * riskPerTrade / lot)
	return max(1, min(maxContracts, riskContracts))
}

// ValidateCoverage enforces shares >= 100 x contracts.
func ValidateCoverage(stock models.StockPosition, contracts int) error {
	if contracts <= 0 {
		return fmt.Errorf("contracts must be positive: %d", contracts)
	}
	if need := contracts * models.SharesPerContract; stock.Shares < need {
		return fmt.Errorf("%w: %s has %d shares, %d contracts need %d", ErrInsufficientShares, stock.Symbol, stock.Shares, contracts, need)
	}
	return nil
}
