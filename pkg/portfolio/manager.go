// Package portfolio tracks open and closed covered-call positions and derives
// portfolio-wide metrics and alerts from them.
package portfolio

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gregtusar/coveredcalls/pkg/models"
)

var (
	ErrPositionNotFound  = errors.New("position not found")
	ErrInvalidStatus     = errors.New("invalid closing status")
	ErrDuplicatePosition = errors.New("position already exists")
)

type Metrics struct {
	TotalPositions          int     `json:"total_positions"`
	TotalStockValue         float64 `json:"total_stock_value"`
	TotalPremiumCollected   float64 `json:"total_premium_collected"`
	TotalMaxProfit          float64 `json:"total_max_profit"`
	AvgDaysToExpiration     float64 `json:"avg_days_to_expiration"`
	AvgDelta                float64 `json:"avg_delta"`
	ReturnIfAssignedPercent float64 `json:"portfolio_return_if_assigned"`
	TotalTheta              float64 `json:"total_theta"`
	TotalDelta              float64 `json:"total_delta"`
}

// Manager is safe for concurrent use.
type Manager struct {
	mu     sync.RWMutex
	open   []models.CoveredCall
	closed []models.CoveredCall
	logger *logrus.Logger
}

func NewManager(logger *logrus.Logger) *Manager {
	return &Manager{logger: logger}
}

func (m *Manager) Add(position models.CoveredCall) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.indexOf(position.ID) >= 0 {
		return fmt.Errorf("%w: %s", ErrDuplicatePosition, position.ID)
	}
	if position.Status == "" {
		position.Status = models.PositionStatusOpen
	}
	m.open = append(m.open, position)

	m.logger.WithFields(logrus.Fields{
		"id":        position.ID,
		"symbol":    position.Stock.Symbol,
		"strike":    position.Option.Strike,
		"contracts": position.Contracts,
	}).Info("Added position")
	return nil
}

// indexOf must be called with mu held.
func (m *Manager) indexOf(id string) int {
	for i, p := range m.open {
		if p.ID == id {
			return i
		}
	}
	return -1
}

// Close moves an open position to the closed collection with a terminal status.
func (m *Manager) Close(id string, status models.PositionStatus, closePrice float64, at time.Time) (models.CoveredCall, error) {
	if !status.IsTerminal() {
		return models.CoveredCall{}, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	i := m.indexOf(id)
	if i < 0 {
		return models.CoveredCall{}, fmt.Errorf("%w: %s", ErrPositionNotFound, id)
	}

	position := m.open[i]
	position.Status = status
	position.ClosePrice = closePrice
	position.ClosedAt = &at

	m.open = append(m.open[:i], m.open[i+1:]...)
	m.closed = append(m.closed, position)

	m.logger.WithFields(logrus.Fields{
		"id":     id,
		"symbol": position.Stock.Symbol,
		"status": status,
	}).Info("Closed position")
	return position, nil
}

func (m *Manager) Get(id string) (models.CoveredCall, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if i := m.indexOf(id); i >= 0 {
		return m.open[i], true
	}
	return models.CoveredCall{}, false
}

// UpdatePrice refreshes the stock price of every open position on symbol and
// returns how many were touched.
func (m *Manager) UpdatePrice(symbol string, price float64) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for i := range m.open {
		if m.open[i].Stock.Symbol == symbol {
			m.open[i].Stock.CurrentPrice = price
			n++
		}
	}
	return n
}

// UpdateOption replaces the quoted option of an open position.
func (m *Manager) UpdateOption(id string, option models.OptionContract) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	i := m.indexOf(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrPositionNotFound, id)
	}
	m.open[i].Option = option
	return nil
}

func (m *Manager) Open() []models.CoveredCall {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.CoveredCall(nil), m.open...)
}

func (m *Manager) Closed() []models.CoveredCall {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.CoveredCall(nil), m.closed...)
}

// Symbols returns the distinct underlyings of open positions, sorted.
func (m *Manager) Symbols() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[string]struct{})
	var out []string
	for _, p := range m.open {
		if _, ok := seen[p.Stock.Symbol]; !ok {
			seen[p.Stock.Symbol] = struct{}{}
			out = append(out, p.Stock.Symbol)
		}
	}
	sort.Strings(out)
	return out
}

// Metrics weights DTE and delta by the stock market value of each position.
// The zero value is returned when nothing is open.
func (m *Manager) Metrics(now time.Time) Metrics {
	positions := m.Open()
	if len(positions) == 0 {
		return Metrics{}
	}

	var out Metrics
	var weightedDTE, weightedDelta float64
	for _, p := range positions {
		value := p.Stock.MarketValue()
		out.TotalStockValue += value
		out.TotalPremiumCollected += p.NetPremium()
		out.TotalMaxProfit += p.MaxProfit()
		weightedDTE += float64(p.Option.DaysToExpirationAt(now)) * value
		weightedDelta += math.Abs(p.Option.Delta) * value
	}
	out.TotalPositions = len(positions)
	if out.TotalStockValue > 0 {
		out.AvgDaysToExpiration = weightedDTE / out.TotalStockValue
		out.AvgDelta = weightedDelta / out.TotalStockValue
		out.ReturnIfAssignedPercent = out.TotalMaxProfit / out.TotalStockValue * 100
	}
	out.TotalTheta = totalTheta(positions)
	out.TotalDelta = totalDelta(positions)
	return out
}

// ExpirationCalendar groups open positions by expiration date (YYYY-MM-DD).
func (m *Manager) ExpirationCalendar() map[string][]models.CoveredCall {
	calendar := make(map[string][]models.CoveredCall)
	for _, p := range m.Open() {
		key := p.Option.Expiration.Format("2006-01-02")
		calendar[key] = append(calendar[key], p)
	}
	return calendar
}

// AtRisk returns positions whose stock trades within thresholdPct of the strike or above it.
func (m *Manager) AtRisk(thresholdPct float64) []models.CoveredCall {
	var out []models.CoveredCall
	for _, p := range m.Open() {
		if p.Stock.CurrentPrice >= p.Option.Strike*(1-thresholdPct/100) {
			out = append(out, p)
		}
	}
	return out
}

func (m *Manager) TotalTheta() float64 {
	return totalTheta(m.Open())
}

func (m *Manager) TotalDelta() float64 {
	return totalDelta(m.Open())
}

func totalTheta(positions []models.CoveredCall) float64 {
	var theta float64
	for _, p := range positions {
		theta += p.Option.Theta * float64(p.SharesCovered())
	}
	return theta
}

// totalDelta counts each share as +1 and each short call as -delta per share.
func totalDelta(positions []models.CoveredCall) float64 {
	var delta float64
	for _, p := range positions {
		delta += float64(p.Stock.Shares) - p.Option.Delta*float64(p.SharesCovered())
	}
	return delta
}

type positionView struct {
	ID               string                `json:"id"`
	Symbol           string                `json:"symbol"`
	Contracts        int                   `json:"contracts"`
	Strike           float64               `json:"strike"`
	Expiration       time.Time             `json:"expiration"`
	Premium          float64               `json:"premium"`
	Status           models.PositionStatus `json:"status"`
	MaxProfit        float64               `json:"max_profit"`
	ReturnIfAssigned float64               `json:"return_if_assigned"`
	AnnualizedReturn float64               `json:"annualized_return"`
}

func newPositionView(p models.CoveredCall, now time.Time) positionView {
	return positionView{
		ID:               p.ID,
		Symbol:           p.Stock.Symbol,
		Contracts:        p.Contracts,
		Strike:           p.Option.Strike,
		Expiration:       p.Option.Expiration,
		Premium:          p.PremiumCollected,
		Status:           p.Status,
		MaxProfit:        p.MaxProfit(),
		ReturnIfAssigned: p.ReturnIfAssigned(),
		AnnualizedReturn: p.AnnualizedReturnAt(now),
	}
}

// ExportJSON writes open positions, closed positions and metrics as indented JSON.
func (m *Manager) ExportJSON(w io.Writer, now time.Time) error {
	open, closed := m.Open(), m.Closed()

	doc := struct {
		Positions       []positionView `json:"positions"`
		ClosedPositions []positionView `json:"closed_positions"`
		Metrics         Metrics        `json:"metrics"`
	}{
		Positions:       make([]positionView, 0, len(open)),
		ClosedPositions: make([]positionView, 0, len(closed)),
		Metrics:         m.Metrics(now),
	}
	for _, p := range open {
		doc.Positions = append(doc.Positions, newPositionView(p, now))
	}
	for _, p := range closed {
		doc.ClosedPositions = append(doc.ClosedPositions, newPositionView(p, now))
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("failed to export portfolio: %w", err)
	}
	return nil
}
