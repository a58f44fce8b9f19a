package models

type StockPosition struct {
	Symbol       string  `json:"symbol"`
	Shares       int     `json:"shares"`
	AverageCost  float64 `json:"average_cost"`
	CurrentPrice float64 `json:"current_price"`
}

func (s StockPosition) MarketValue() float64 {
	return float64(s.Shares) * s.CurrentPrice
}

func (s StockPosition) CostBasis() float64 {
	return float64(s.Shares) * s.AverageCost
}

func (s StockPosition) UnrealizedPnL() float64 {
	return s.MarketValue() - s.CostBasis()
}

func (s StockPosition) UnrealizedPnLPercent() float64 {
	if s.AverageCost == 0 {
		return 0
	}
	return (s.CurrentPrice - s.AverageCost) / s.AverageCost * 100
}

// AvailableContracts is the number of calls the share count can cover.
func (s StockPosition) AvailableContracts() int {
	if s.Shares <= 0 {
		return 0
	}
	return s.Shares / SharesPerContract
}
