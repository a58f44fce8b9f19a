package models

import (
	"time"
)

type Quote struct {
	Symbol    string    `json:"symbol"`
	Bid       float64   `json:"bid"`
	Ask       float64   `json:"ask"`
	Last      float64   `json:"last"`
	Volume    int64     `json:"volume"`
	Timestamp time.Time `json:"timestamp"`
}

type PriceBar struct {
	Date   time.Time `json:"date"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume int64     `json:"volume"`
}

type AccountSummary struct {
	AccountID      string    `json:"account_id"`
	NetLiquidation float64   `json:"net_liquidation"`
	TotalCash      float64   `json:"total_cash"`
	BuyingPower    float64   `json:"buying_power"`
	UnrealizedPnL  float64   `json:"unrealized_pnl"`
	RealizedPnL    float64   `json:"realized_pnl"`
	UpdatedAt      time.Time `json:"updated_at"`
}
