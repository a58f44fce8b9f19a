package ledger

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/gregtusar/coveredcalls/pkg/models"
)

const (
	TradeTypeCoveredCall = "COVERED_CALL"

	ActionSell = "SELL"
	ActionBuy  = "BUY"
)

// Trade is one covered-call sale as stored in the ledger. Money columns are
// decimals; Greeks and ratios are plain floats.
type Trade struct {
	gorm.Model
	Symbol     string          `gorm:"column:symbol;size:10;not null;index:idx_trade_symbol"`
	TradeType  string          `gorm:"column:trade_type;size:20;default:COVERED_CALL"`
	Action     string          `gorm:"column:action;size:10;not null"`
	Contracts  int             `gorm:"column:contracts;not null"`
	Strike     decimal.Decimal `gorm:"column:strike;type:numeric"`
	Expiration time.Time       `gorm:"column:expiration"`
	ContractID string          `gorm:"column:contract_id;size:64"`
	PositionID string          `gorm:"column:position_id;size:36;index:idx_trade_position"`

	Premium     decimal.Decimal `gorm:"column:premium_received;type:numeric"`
	Commission  decimal.Decimal `gorm:"column:commission;type:numeric"`
	TotalCredit decimal.Decimal `gorm:"column:total_credit;type:numeric"`

	Status     models.PositionStatus `gorm:"column:status;size:20;default:OPEN;index:idx_trade_status"`
	CloseDate  *time.Time            `gorm:"column:close_date"`
	ClosePrice decimal.NullDecimal   `gorm:"column:close_price;type:numeric"`
	ProfitLoss decimal.NullDecimal   `gorm:"column:profit_loss;type:numeric"`

	EntryDelta float64 `gorm:"column:entry_delta"`
	EntryGamma float64 `gorm:"column:entry_gamma"`
	EntryTheta float64 `gorm:"column:entry_theta"`
	EntryVega  float64 `gorm:"column:entry_vega"`
	EntryIV    float64 `gorm:"column:entry_iv"`

	RiskLevel        models.RiskLevel `gorm:"column:risk_level;size:20"`
	DTEAtOpen        int              `gorm:"column:dte_at_open"`
	PercentOTM       float64          `gorm:"column:percent_otm"`
	StockPriceAtOpen decimal.Decimal  `gorm:"column:stock_price_at_open;type:numeric"`
	AnnualizedReturn float64          `gorm:"column:annualized_return"`

	// underlying holding at open, needed to rebuild cost basis and coverage
	AverageCost decimal.Decimal `gorm:"column:average_cost;type:numeric"`
	SharesHeld  int             `gorm:"column:shares_held"`

	TradingMode string `gorm:"column:trading_mode;size:20;default:PAPER"`
	AccountID   string `gorm:"column:account_id;size:50"`
	RollFromID  *uint  `gorm:"column:roll_from_id"`
	Notes       string `gorm:"column:notes"`
}

func (Trade) TableName() string {
	return "trades"
}

// NewTrade builds the ledger row for a freshly opened position.
func NewTrade(p models.CoveredCall, level models.RiskLevel, mode string, now time.Time) *Trade {
	premium := decimal.NewFromFloat(p.PremiumCollected)
	commission := decimal.NewFromFloat(p.Commission)

	return &Trade{
		Symbol:           p.Stock.Symbol,
		TradeType:        TradeTypeCoveredCall,
		Action:           ActionSell,
		Contracts:        p.Contracts,
		Strike:           decimal.NewFromFloat(p.Option.Strike),
		Expiration:       p.Option.Expiration.UTC(),
		ContractID:       p.Option.ContractID,
		PositionID:       p.ID,
		Premium:          premium,
		Commission:       commission,
		TotalCredit:      premium.Sub(commission),
		Status:           models.PositionStatusOpen,
		EntryDelta:       p.Option.Delta,
		EntryGamma:       p.Option.Gamma,
		EntryTheta:       p.Option.Theta,
		EntryVega:        p.Option.Vega,
		EntryIV:          p.Option.ImpliedVolatility,
		RiskLevel:        level,
		DTEAtOpen:        p.Option.DaysToExpirationAt(now),
		PercentOTM:       p.Option.PercentOTM(p.Stock.CurrentPrice),
		StockPriceAtOpen: decimal.NewFromFloat(p.Stock.CurrentPrice),
		AnnualizedReturn: p.AnnualizedReturnAt(now),
		AverageCost:      decimal.NewFromFloat(p.Stock.AverageCost),
		SharesHeld:       p.Stock.Shares,
		TradingMode:      mode,
		Notes:            p.Notes,
	}
}

// Outcome converts a closed trade for sizing and optimization. ok is false
// while the trade has no realized P&L.
func (t Trade) Outcome() (models.TradeOutcome, bool) {
	if !t.ProfitLoss.Valid {
		return models.TradeOutcome{}, false
	}
	out := models.TradeOutcome{
		Symbol:           t.Symbol,
		DTEAtOpen:        t.DTEAtOpen,
		EntryDelta:       t.EntryDelta,
		ProfitLoss:       t.ProfitLoss.Decimal.InexactFloat64(),
		AnnualizedReturn: t.AnnualizedReturn,
	}
	if t.CloseDate != nil {
		out.ClosedAt = *t.CloseDate
	}
	return out, true
}

// CoveredCall rebuilds the portfolio position an open trade was recorded
// from. Stock prices are those at open until the next refresh. Rows written
// before the holding was stored fall back to the covered shares and the
// price at open.
func (t Trade) CoveredCall() models.CoveredCall {
	price := t.StockPriceAtOpen.InexactFloat64()
	covered := t.Contracts * models.SharesPerContract

	perShare := 0.0
	if covered > 0 {
		perShare = t.Premium.InexactFloat64() / float64(covered)
	}

	shares := t.SharesHeld
	if shares < covered {
		shares = covered
	}
	cost := price
	if t.AverageCost.IsPositive() {
		cost = t.AverageCost.InexactFloat64()
	}

	return models.CoveredCall{
		ID: t.PositionID,
		Stock: models.StockPosition{
			Symbol:       t.Symbol,
			Shares:       shares,
			AverageCost:  cost,
			CurrentPrice: price,
		},
		Option: models.OptionContract{
			Symbol:            t.Symbol,
			ContractID:        t.ContractID,
			Strike:            t.Strike.InexactFloat64(),
			Expiration:        t.Expiration,
			Type:              models.OptionTypeCall,
			Premium:           perShare,
			ImpliedVolatility: t.EntryIV,
			Delta:             t.EntryDelta,
			Gamma:             t.EntryGamma,
			Theta:             t.EntryTheta,
			Vega:              t.EntryVega,
		},
		Contracts:        t.Contracts,
		EntryDate:        t.CreatedAt,
		Status:           t.Status,
		PremiumCollected: t.Premium.InexactFloat64(),
		Commission:       t.Commission.InexactFloat64(),
		Notes:            t.Notes,
	}
}
