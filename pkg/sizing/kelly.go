// Package sizing turns realized trade history into Kelly-criterion position
// sizes.
package sizing

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/montanaflynn/stats"
)

var (
	ErrInvalidPortfolioValue = errors.New("portfolio value must be positive")
	ErrInvalidCalculator     = errors.New("invalid kelly settings")
)

type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

const (
	DefaultFraction  = 0.25
	DefaultCap       = 0.30
	DefaultKelly     = 0.10
	DefaultMinTrades = 20

	// MaxCap bounds every sized position regardless of configuration.
	MaxCap = 0.30

	// positions smaller than this are left out of an allocation
	minAllocationKelly = 0.05
	// notional per contract assumed when no stock price is known
	genericContractNotional = 10000.0
	contractHeadroom        = 2
)

type Calculator struct {
	Fraction  float64 `mapstructure:"fraction"`
	Cap       float64 `mapstructure:"cap"`
	Default   float64 `mapstructure:"default"`
	MinTrades int     `mapstructure:"min_trades"`
}

func NewCalculator() Calculator {
	return Calculator{
		Fraction:  DefaultFraction,
		Cap:       DefaultCap,
		Default:   DefaultKelly,
		MinTrades: DefaultMinTrades,
	}
}

// Validate rejects settings that would size positions above MaxCap or from
// a negative fraction.
func (c Calculator) Validate() error {
	var errs []error
	if c.Fraction <= 0 || c.Fraction > 1 {
		errs = append(errs, fmt.Errorf("fraction must be in (0, 1], got %v", c.Fraction))
	}
	if c.Cap <= 0 || c.Cap > MaxCap {
		errs = append(errs, fmt.Errorf("cap must be in (0, %v], got %v", MaxCap, c.Cap))
	}
	if c.Default < 0 || c.Default > MaxCap {
		errs = append(errs, fmt.Errorf("default must be in [0, %v], got %v", MaxCap, c.Default))
	}
	if c.MinTrades < 0 {
		errs = append(errs, fmt.Errorf("min trades must not be negative, got %d", c.MinTrades))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidCalculator, errors.Join(errs...))
	}
	return nil
}

func (c Calculator) limit() float64 {
	if c.Cap <= 0 {
		return MaxCap
	}
	return math.Min(c.Cap, MaxCap)
}

type Result struct {
	FullKelly       float64    `json:"kelly_fraction"`
	SafeKelly       float64    `json:"safe_kelly"`
	WinProbability  float64    `json:"win_probability"`
	LossProbability float64    `json:"loss_probability"`
	AvgWin          float64    `json:"avg_win"`
	AvgLoss         float64    `json:"avg_loss"`
	OddsRatio       float64    `json:"odds_ratio"`
	SampleSize      int        `json:"sample_size"`
	Confidence      Confidence `json:"confidence"`
	Recommendation  string     `json:"recommendation"`
}

// Calculate estimates the Kelly fraction from a list of realized P&L values.
// Trades that broke even count toward the sample but neither wins nor losses.
func (c Calculator) Calculate(profits []float64) Result {
	if len(profits) < c.MinTrades {
		def := math.Max(0, math.Min(c.Default, c.limit()))
		return Result{
			FullKelly:      def,
			SafeKelly:      def,
			SampleSize:     len(profits),
			Confidence:     ConfidenceLow,
			Recommendation: recommendation(def, ConfidenceLow),
		}
	}

	var wins, losses stats.Float64Data
	for _, pnl := range profits {
		switch {
		case pnl > 0:
			wins = append(wins, pnl)
		case pnl < 0:
			losses = append(losses, pnl)
		}
	}

	p := float64(len(wins)) / float64(len(profits))
	q := 1 - p

	avgWin := 0.0
	if len(wins) > 0 {
		avgWin, _ = stats.Mean(wins)
	}
	avgLoss := 1.0
	if len(losses) > 0 {
		m, _ := stats.Mean(losses)
		avgLoss = math.Abs(m)
	}

	b := 1.0
	if avgLoss > 0 {
		b = avgWin / avgLoss
	}

	full := 0.0
	if b > 0 {
		full = (b*p - q) / b
	}
	safe := math.Max(0, math.Min(full*c.Fraction, c.limit()))
	confidence := confidenceFor(len(profits))

	return Result{
		FullKelly:       full,
		SafeKelly:       safe,
		WinProbability:  p,
		LossProbability: q,
		AvgWin:          avgWin,
		AvgLoss:         avgLoss,
		OddsRatio:       b,
		SampleSize:      len(profits),
		Confidence:      confidence,
		Recommendation:  recommendation(safe, confidence),
	}
}

func confidenceFor(sampleSize int) Confidence {
	switch {
	case sampleSize >= 50:
		return ConfidenceHigh
	case sampleSize >= 30:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

func recommendation(kelly float64, confidence Confidence) string {
	switch {
	case confidence == ConfidenceLow:
		return "Conservative: Limited data - use minimum position sizes"
	case kelly < 0.10:
		return "Conservative: Low Kelly suggests small positions"
	case kelly < 0.20:
		return "Moderate: Reasonable position sizes"
	case kelly < 0.30:
		return "Aggressive: Large positions - monitor closely"
	default:
		return "Very Aggressive: Maximum positions - high risk"
	}
}

type Size struct {
	Symbol       string     `json:"symbol,omitempty"`
	Kelly        float64    `json:"kelly_fraction"`
	Dollars      float64    `json:"position_size_usd"`
	Contracts    int        `json:"contracts"`
	MaxContracts int        `json:"max_contracts"`
	Confidence   Confidence `json:"confidence"`
	WinRate      float64    `json:"win_probability"`
	Advice       string     `json:"recommendation"`
}

// PositionSize converts the safe Kelly fraction into dollars and contracts.
// With stockPrice <= 0 a generic notional per contract is assumed.
func (c Calculator) PositionSize(profits []float64, portfolioValue, stockPrice float64) (Size, error) {
	if !(portfolioValue > 0) {
		return Size{}, fmt.Errorf("%w: %v", ErrInvalidPortfolioValue, portfolioValue)
	}

	r := c.Calculate(profits)
	dollars := portfolioValue * r.SafeKelly

	var contracts int
	if stockPrice > 0 {
		shares := int(dollars / stockPrice)
		contracts = shares / 100
	} else {
		contracts = int(dollars / genericContractNotional)
	}

	return Size{
		Kelly:        r.SafeKelly,
		Dollars:      dollars,
		Contracts:    max(1, contracts),
		MaxContracts: contracts + contractHeadroom,
		Confidence:   r.Confidence,
		WinRate:      r.WinProbability,
		Advice:       r.Recommendation,
	}, nil
}

type Allocation struct {
	Symbol     string     `json:"symbol"`
	Kelly      float64    `json:"kelly"`
	Dollars    float64    `json:"position_size_usd"`
	Percent    float64    `json:"position_pct"`
	Confidence Confidence `json:"confidence"`
	WinRate    float64    `json:"win_rate"`
	Normalized bool       `json:"normalized"`
}

// Allocate spreads the portfolio across symbols by their safe Kelly fraction.
// Symbols at or below 5% are skipped; if the total exceeds 100% every share is
// scaled down proportionally.
func (c Calculator) Allocate(histories map[string][]float64, portfolioValue float64, maxPositions int) ([]Allocation, error) {
	if !(portfolioValue > 0) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPortfolioValue, portfolioValue)
	}

	symbols := make([]string, 0, len(histories))
	for symbol := range histories {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	allocations := make([]Allocation, 0, len(symbols))
	total := 0.0
	for _, symbol := range symbols {
		r := c.Calculate(histories[symbol])
		if r.SafeKelly <= minAllocationKelly {
			continue
		}
		allocations = append(allocations, Allocation{
			Symbol:     symbol,
			Kelly:      r.SafeKelly,
			Confidence: r.Confidence,
			WinRate:    r.WinProbability,
		})
		total += r.SafeKelly
	}

	normalize := total > 1.0
	for i := range allocations {
		if normalize {
			allocations[i].Kelly /= total
			allocations[i].Normalized = true
		}
		allocations[i].Dollars = portfolioValue * allocations[i].Kelly
		allocations[i].Percent = allocations[i].Kelly * 100
	}

	sort.SliceStable(allocations, func(i, j int) bool {
		return allocations[i].Dollars > allocations[j].Dollars
	})
	if maxPositions > 0 && len(allocations) > maxPositions {
		allocations = allocations[:maxPositions]
	}
	return allocations, nil
}
