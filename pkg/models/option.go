package models

import (
	"math"
	"time"
)

type OptionType string

const (
	OptionTypeCall OptionType = "CALL"
	OptionTypePut  OptionType = "PUT"
)

// Liquidity thresholds used by IsLiquid.
const (
	LiquidMinVolume       = 100
	LiquidMinOpenInterest = 500
)

// OptionContract is a single listed option. ImpliedVolatility is expressed in
// percent (25.0 means 25%).
type OptionContract struct {
	Symbol            string     `json:"symbol"`
	ContractID        string     `json:"contract_id,omitempty"`
	Strike            float64    `json:"strike"`
	Expiration        time.Time  `json:"expiration"`
	Type              OptionType `json:"option_type"`
	Premium           float64    `json:"premium"`
	ImpliedVolatility float64    `json:"implied_volatility"`
	Delta             float64    `json:"delta"`
	Gamma             float64    `json:"gamma"`
	Theta             float64    `json:"theta"`
	Vega              float64    `json:"vega"`
	Volume            int64      `json:"volume"`
	OpenInterest      int64      `json:"open_interest"`
	Bid               float64    `json:"bid"`
	Ask               float64    `json:"ask"`
}

func (o OptionContract) MidPrice() float64 {
	return (o.Bid + o.Ask) / 2
}

// DaysToExpirationAt returns whole days until expiration, floored. Expired
// contracts yield negative values.
func (o OptionContract) DaysToExpirationAt(now time.Time) int {
	return int(math.Floor(o.Expiration.Sub(now).Hours() / 24))
}

func (o OptionContract) DaysToExpiration() int {
	return o.DaysToExpirationAt(time.Now())
}

func (o OptionContract) IsLiquid() bool {
	return o.Volume > LiquidMinVolume && o.OpenInterest > LiquidMinOpenInterest
}

// BidAskSpreadPercent is the spread relative to the mid price. A contract
// without a usable mid reports 100.
func (o OptionContract) BidAskSpreadPercent() float64 {
	mid := o.MidPrice()
	if mid <= 0 {
		return 100
	}
	return (o.Ask - o.Bid) / mid * 100
}

// PercentOTM is the distance of the strike above the given underlying price.
func (o OptionContract) PercentOTM(underlyingPrice float64) float64 {
	if underlyingPrice <= 0 {
		return 0
	}
	return (o.Strike - underlyingPrice) / underlyingPrice * 100
}
