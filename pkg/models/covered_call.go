package models

import (
	"time"
)

const SharesPerContract = 100

type PositionStatus string

const (
	PositionStatusOpen     PositionStatus = "OPEN"
	PositionStatusClosed   PositionStatus = "CLOSED"
	PositionStatusAssigned PositionStatus = "ASSIGNED"
	PositionStatusExpired  PositionStatus = "EXPIRED"
	PositionStatusRolled   PositionStatus = "ROLLED"
)

func (s PositionStatus) IsTerminal() bool {
	switch s {
	case PositionStatusClosed, PositionStatusAssigned, PositionStatusExpired, PositionStatusRolled:
		return true
	}
	return false
}

// CoveredCall pairs a stock holding with one short call. PremiumCollected and
// Commission are totals in dollars, not per share.
type CoveredCall struct {
	ID               string         `json:"id"`
	Stock            StockPosition  `json:"stock"`
	Option           OptionContract `json:"option"`
	Contracts        int            `json:"contracts"`
	EntryDate        time.Time      `json:"entry_date"`
	Status           PositionStatus `json:"status"`
	PremiumCollected float64        `json:"premium_collected"`
	Commission       float64        `json:"commission"`
	ClosedAt         *time.Time     `json:"closed_at,omitempty"`
	ClosePrice       float64        `json:"close_price,omitempty"`
	Notes            string         `json:"notes,omitempty"`
}

func (c CoveredCall) SharesCovered() int {
	return c.Contracts * SharesPerContract
}

func (c CoveredCall) NetPremium() float64 {
	return c.PremiumCollected - c.Commission
}

func (c CoveredCall) MaxProfit() float64 {
	stockGain := (c.Option.Strike - c.Stock.AverageCost) * float64(c.SharesCovered())
	return stockGain + c.NetPremium()
}

func (c CoveredCall) ReturnIfAssigned() float64 {
	basis := c.Stock.AverageCost * float64(c.SharesCovered())
	if basis == 0 {
		return 0
	}
	return c.MaxProfit() / basis * 100
}

func (c CoveredCall) AnnualizedReturnAt(now time.Time) float64 {
	dte := c.Option.DaysToExpirationAt(now)
	if dte <= 0 {
		return 0
	}
	return c.ReturnIfAssigned() * 365 / float64(dte)
}

func (c CoveredCall) BreakevenPrice() float64 {
	shares := c.SharesCovered()
	if shares == 0 {
		return c.Stock.AverageCost
	}
	return c.Stock.AverageCost - c.NetPremium()/float64(shares)
}

func (c CoveredCall) DownsideProtection() float64 {
	value := c.Stock.CurrentPrice * float64(c.SharesCovered())
	if value == 0 {
		return 0
	}
	return c.NetPremium() / value * 100
}

// RealizedPnL is the premium kept minus the cost of buying the call back.
func (c CoveredCall) RealizedPnL(closePrice float64) float64 {
	return c.NetPremium() - closePrice*float64(c.SharesCovered())
}

// TradeOutcome is the closed-trade summary consumed by sizing and optimization.
type TradeOutcome struct {
	Symbol           string    `json:"symbol"`
	DTEAtOpen        int       `json:"dte_at_open"`
	EntryDelta       float64   `json:"entry_delta"`
	ProfitLoss       float64   `json:"profit_loss"`
	AnnualizedReturn float64   `json:"annualized_return"`
	ClosedAt         time.Time `json:"closed_at"`
}
