// Package backtest replays covered-call strategies over historical closes.
package backtest

import (
	"errors"
	"fmt"
	"math"

	"github.com/montanaflynn/stats"
	"github.com/sirupsen/logrus"

	"github.com/gregtusar/coveredcalls/pkg/greeks"
	"github.com/gregtusar/coveredcalls/pkg/models"
)

var (
	ErrInvalidParams = errors.New("invalid backtest parameters")
	ErrTooFewShares  = errors.New("at least one round lot of shares is required")
	ErrNotEnoughData = errors.New("not enough bars for a single trade")
)

const (
	tradingDaysPerYear = 252
	minPremium         = 0.10

	DefaultRate = 0.05
)

type Params struct {
	Name      string  `json:"name"`
	StrikePct float64 `json:"strike_pct"`
	Days      int     `json:"days"`
}

// Presets are the strategies compared by Compare, from far OTM and long
// dated to at the money and short dated.
var Presets = []Params{
	{Name: "Very Conservative (10% OTM, 45 days)", StrikePct: 0.10, Days: 45},
	{Name: "Conservative (5% OTM, 30 days)", StrikePct: 0.05, Days: 30},
	{Name: "Moderate (3% OTM, 30 days)", StrikePct: 0.03, Days: 30},
	{Name: "Aggressive (2% OTM, 21 days)", StrikePct: 0.02, Days: 21},
	{Name: "Very Aggressive (ATM, 14 days)", StrikePct: 0.00, Days: 14},
}

// Trade is one simulated call sale held to expiry.
type Trade struct {
	EntryDate    string  `json:"entry_date"`
	EntryPrice   float64 `json:"entry_price"`
	Strike       float64 `json:"strike"`
	Premium      float64 `json:"premium"`
	PremiumTotal float64 `json:"premium_total"`
	ExpiryDate   string  `json:"expiry_date"`
	ExpiryPrice  float64 `json:"expiry_price"`
	Assigned     bool    `json:"assigned"`
	StockGain    float64 `json:"stock_gain"`
	MissedGain   float64 `json:"missed_gain"`
	TotalProfit  float64 `json:"total_profit"`
}

type Result struct {
	Params              Params  `json:"params"`
	Trades              []Trade `json:"trades"`
	NumTrades           int     `json:"num_trades"`
	NumAssigned         int     `json:"num_assigned"`
	WinRate             float64 `json:"win_rate"`
	TotalPremium        float64 `json:"total_premium"`
	TotalStockGains     float64 `json:"total_stock_gains"`
	TotalMissedGains    float64 `json:"total_missed_gains"`
	AvgPremiumPerTrade  float64 `json:"avg_premium_per_trade"`
	TotalReturn         float64 `json:"total_return"`
	TotalReturnPct      float64 `json:"total_return_pct"`
	AnnualizedReturnPct float64 `json:"annualized_return_pct"`
}

type Backtester struct {
	symbol     string
	bars       []models.PriceBar
	shares     int
	rate       float64
	volatility float64
	logger     *logrus.Logger
}

// New prepares a backtest over bars for a holding of shares. Only whole
// contracts are covered, so shares beyond the last round lot are ignored.
func New(symbol string, bars []models.PriceBar, shares int, logger *logrus.Logger) (*Backtester, error) {
	if shares < models.SharesPerContract {
		return nil, ErrTooFewShares
	}
	if len(bars) < 2 {
		return nil, ErrNotEnoughData
	}

	vol, err := HistoricalVolatility(bars)
	if err != nil {
		return nil, err
	}

	return &Backtester{
		symbol:     symbol,
		bars:       bars,
		shares:     shares,
		rate:       DefaultRate,
		volatility: vol,
		logger:     logger,
	}, nil
}

func (b *Backtester) WithRate(rate float64) *Backtester {
	b.rate = rate
	return b
}

func (b *Backtester) Volatility() float64 {
	return b.volatility
}

func (b *Backtester) Contracts() int {
	return b.shares / models.SharesPerContract
}

// HistoricalVolatility is the annualized sample deviation of daily returns.
func HistoricalVolatility(bars []models.PriceBar) (float64, error) {
	returns := make([]float64, 0, len(bars)-1)
	for i := 1; i < len(bars); i++ {
		if bars[i-1].Close <= 0 {
			continue
		}
		returns = append(returns, bars[i].Close/bars[i-1].Close-1)
	}
	if len(returns) < 2 {
		return 0, ErrNotEnoughData
	}

	sd, err := stats.StandardDeviationSample(returns)
	if err != nil {
		return 0, fmt.Errorf("failed to compute volatility: %w", err)
	}
	return sd * math.Sqrt(tradingDaysPerYear), nil
}

// premium prices the call with Black-Scholes, floored at ten cents.
func (b *Backtester) premium(spot, strike float64, years float64) float64 {
	price, err := greeks.Price(greeks.Inputs{
		Spot:       spot,
		Strike:     strike,
		Years:      years,
		Rate:       b.rate,
		Volatility: b.volatility,
		Type:       models.OptionTypeCall,
	})
	if err != nil || price < minPremium {
		return minPremium
	}
	return price
}

// Run sells a call every cycle, holds it for p.Days bars and settles against
// the close on the expiry bar. Assignment resets the cost basis to the
// strike, as if the shares were bought back.
func (b *Backtester) Run(p Params) (Result, error) {
	if p.Days <= 0 || p.StrikePct < 0 {
		return Result{}, fmt.Errorf("%w: days=%d strike_pct=%.4f", ErrInvalidParams, p.Days, p.StrikePct)
	}

	quantity := float64(b.Contracts() * models.SharesPerContract)
	result := Result{Params: p}
	startPrice := b.bars[0].Close
	entryPrice := startPrice

	for i := 0; i+p.Days < len(b.bars); i = i + p.Days + 1 {
		entry := b.bars[i]
		expiry := b.bars[i+p.Days]

		strike := entry.Close * (1 + p.StrikePct)
		premium := b.premium(entry.Close, strike, greeks.YearsUntil(expiry.Date, entry.Date))
		premiumTotal := premium * quantity

		trade := Trade{
			EntryDate:    entry.Date.Format("2006-01-02"),
			EntryPrice:   round2(entry.Close),
			Strike:       round2(strike),
			Premium:      round2(premium),
			PremiumTotal: round2(premiumTotal),
			ExpiryDate:   expiry.Date.Format("2006-01-02"),
			ExpiryPrice:  round2(expiry.Close),
			Assigned:     expiry.Close >= strike,
		}

		stockGain := 0.0
		if trade.Assigned {
			stockGain = (strike - entryPrice) * quantity
			trade.MissedGain = round2(math.Max(0, (expiry.Close-strike)*quantity))
			entryPrice = strike
			result.NumAssigned++
			result.TotalMissedGains += math.Max(0, (expiry.Close-strike)*quantity)
		}
		trade.StockGain = round2(stockGain)
		trade.TotalProfit = round2(premiumTotal + stockGain)

		result.Trades = append(result.Trades, trade)
		result.NumTrades++
		result.TotalPremium += premiumTotal
		result.TotalStockGains += stockGain
	}

	if result.NumTrades == 0 {
		return result, ErrNotEnoughData
	}

	result.WinRate = float64(result.NumTrades-result.NumAssigned) / float64(result.NumTrades)
	result.AvgPremiumPerTrade = result.TotalPremium / float64(result.NumTrades)
	result.TotalReturn = result.TotalPremium + result.TotalStockGains
	result.TotalReturnPct = result.TotalReturn / (startPrice * quantity) * 100

	days := b.bars[len(b.bars)-1].Date.Sub(b.bars[0].Date).Hours() / 24
	if days > 0 {
		result.AnnualizedReturnPct = result.TotalReturnPct * 365 / days
	}

	b.logger.WithFields(logrus.Fields{
		"symbol":   b.symbol,
		"strategy": p.Name,
		"trades":   result.NumTrades,
		"assigned": result.NumAssigned,
		"return":   fmt.Sprintf("%.2f%%", result.TotalReturnPct),
	}).Info("Backtest complete")

	return result, nil
}

// Compare runs every preset. Presets that cannot complete a single trade are
// skipped.
func (b *Backtester) Compare() ([]Result, error) {
	var results []Result
	for _, p := range Presets {
		r, err := b.Run(p)
		if errors.Is(err, ErrNotEnoughData) {
			b.logger.WithField("strategy", p.Name).Warn("Not enough data for strategy")
			continue
		}
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	if len(results) == 0 {
		return nil, ErrNotEnoughData
	}
	return results, nil
}

// Best returns the results with the highest total return and win rate.
func Best(results []Result) (byReturn, byWinRate Result) {
	for i, r := range results {
		if i == 0 || r.TotalReturn > byReturn.TotalReturn {
			byReturn = r
		}
		if i == 0 || r.WinRate > byWinRate.WinRate {
			byWinRate = r
		}
	}
	return byReturn, byWinRate
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
