package trader

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/gregtusar/coveredcalls/pkg/models"
	"github.com/gregtusar/coveredcalls/pkg/portfolio"
)

const rollCandidates = 3

// Refresh reprices open positions, settles expired ones, suggests rolls and
// recomputes alerts. Broker failures for one symbol leave its positions at
// their previous marks.
func (e *Engine) Refresh(ctx context.Context) {
	chains := make(map[string][]models.OptionContract)
	prices := make(map[string]float64)

	for _, symbol := range e.portfolio.Symbols() {
		price, err := e.broker.StockPrice(ctx, symbol)
		if err != nil {
			e.logger.WithError(err).WithField("symbol", symbol).Error("Failed to get stock price")
			continue
		}
		prices[symbol] = price
		e.portfolio.UpdatePrice(symbol, price)

		chain, err := e.broker.OptionChain(ctx, symbol, e.cfg.MaxDTE)
		if err != nil {
			e.logger.WithError(err).WithField("symbol", symbol).Error("Failed to get option chain")
			continue
		}
		chains[symbol] = chain
	}

	for _, p := range e.portfolio.Open() {
		for _, o := range chains[p.Stock.Symbol] {
			if o.ContractID == p.Option.ContractID {
				if err := e.portfolio.UpdateOption(p.ID, o); err != nil {
					e.logger.WithError(err).WithField("position_id", p.ID).Debug("Failed to update option")
				}
				break
			}
		}
	}

	now := e.now()
	for _, p := range e.portfolio.Open() {
		price, priced := prices[p.Stock.Symbol]
		if p.Option.DaysToExpirationAt(now) < 0 {
			if !priced {
				e.logger.WithFields(logrus.Fields{
					"position_id": p.ID,
					"symbol":      p.Stock.Symbol,
				}).Warn("No current price, expiry settlement deferred")
				continue
			}
			e.settleExpired(ctx, p, price)
			continue
		}
		if priced {
			e.checkRoll(p, price, chains[p.Stock.Symbol])
		}
	}

	e.updateAlerts()
}

// settleExpired marks an expired call as assigned when the stock price just
// fetched is at or above the strike, otherwise as expired worthless.
func (e *Engine) settleExpired(ctx context.Context, p models.CoveredCall, price float64) {
	defer e.lockSymbol(p.Stock.Symbol)()
	p, err := e.openPosition(p.ID)
	if err != nil {
		return
	}

	status := models.PositionStatusExpired
	if price >= p.Option.Strike {
		status = models.PositionStatusAssigned
	}
	if _, err := e.settle(ctx, p, status, 0); err != nil {
		e.logger.WithError(err).WithField("position_id", p.ID).Error("Failed to settle expired position")
	}
}

func (e *Engine) checkRoll(p models.CoveredCall, price float64, chain []models.OptionContract) {
	e.mu.RLock()
	done := e.suggested[p.ID]
	e.mu.RUnlock()
	if done {
		return
	}

	suggestion, ok := e.suggestRoll(p, price, chain)
	if !ok {
		return
	}

	e.mu.Lock()
	e.suggested[p.ID] = true
	e.mu.Unlock()

	e.logger.WithFields(logrus.Fields{
		"position_id": p.ID,
		"symbol":      p.Stock.Symbol,
		"reason":      suggestion.Decision.Reason,
		"candidates":  len(suggestion.Candidates),
	}).Info("Roll suggested")

	e.publish(TopicRollSuggested, suggestion)
}

func (e *Engine) suggestRoll(p models.CoveredCall, price float64, chain []models.OptionContract) (RollSuggestion, bool) {
	s, err := e.strategy(e.cfg.RiskLevel)
	if err != nil {
		return RollSuggestion{}, false
	}
	decision, err := s.EvaluateRoll(p, price, e.cfg.RollThresholdPct)
	if err != nil || !decision.Roll {
		return RollSuggestion{}, false
	}

	candidates, err := s.RollCandidates(p, chain, price, rollCandidates)
	if err != nil {
		e.logger.WithError(err).WithField("position_id", p.ID).Warn("Failed to rank roll candidates")
	}
	return RollSuggestion{Position: p, Decision: decision, Candidates: candidates}, true
}

// RollSuggestions evaluates every open position against live prices and
// returns the ones that should roll. Nothing is published.
func (e *Engine) RollSuggestions(ctx context.Context) ([]RollSuggestion, error) {
	var out []RollSuggestion
	for _, symbol := range e.portfolio.Symbols() {
		price, err := e.broker.StockPrice(ctx, symbol)
		if err != nil {
			return nil, fmt.Errorf("failed to get price for %s: %w", symbol, err)
		}
		chain, err := e.broker.OptionChain(ctx, symbol, e.cfg.MaxDTE)
		if err != nil {
			return nil, fmt.Errorf("failed to get option chain for %s: %w", symbol, err)
		}
		for _, p := range e.portfolio.Open() {
			if p.Stock.Symbol != symbol {
				continue
			}
			p.Stock.CurrentPrice = price
			if suggestion, ok := e.suggestRoll(p, price, chain); ok {
				out = append(out, suggestion)
			}
		}
	}
	return out, nil
}

func alertKey(a portfolio.Alert) string {
	return string(a.Type) + "|" + a.PositionID
}

// updateAlerts stores the current alerts and publishes the ones that were
// not raised by the previous refresh.
func (e *Engine) updateAlerts() {
	current := portfolio.CheckAlerts(e.portfolio.Open(), e.now())

	e.mu.Lock()
	previous := make(map[string]bool, len(e.alerts))
	for _, a := range e.alerts {
		previous[alertKey(a)] = true
	}
	e.alerts = current
	e.mu.Unlock()

	for _, a := range current {
		if !previous[alertKey(a)] {
			e.publish(TopicAlert, a)
		}
	}
}
