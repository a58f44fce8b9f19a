// Package optimizer tunes covered-call entry parameters from closed trades.
package optimizer

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/gregtusar/coveredcalls/pkg/models"
	"github.com/montanaflynn/stats"
	"github.com/sirupsen/logrus"
)

var ErrInsufficientData = errors.New("not enough closed trades to optimize")

const (
	MinTrades          = 10
	minTradesPerSymbol = 3
	bestSymbolsLimit   = 5

	defaultDTE             = 30
	defaultMinAnnualReturn = 20.0
	minAnnualReturnFloor   = 15.0
	winnerReturnHaircut    = 0.85

	DefaultAdjustmentRate = 0.3
)

type bucket struct {
	lo, hi float64
}

func (b bucket) contains(v float64) bool {
	return v > b.lo && v <= b.hi
}

var dteBuckets = []struct {
	bucket
	midpoint int
}{
	{bucket{0, 15}, 12},
	{bucket{15, 25}, 21},
	{bucket{25, 35}, 30},
	{bucket{35, 45}, 40},
	{bucket{45, 60}, 52},
	{bucket{60, 90}, 75},
}

var deltaBuckets = []struct {
	bucket
	target float64
	rng    DeltaRange
}{
	{bucket{0, 0.15}, 0.10, DeltaRange{0.10, 0.15}},
	{bucket{0.15, 0.25}, 0.20, DeltaRange{0.15, 0.25}},
	{bucket{0.25, 0.35}, 0.30, DeltaRange{0.25, 0.35}},
	{bucket{0.35, 0.45}, 0.40, DeltaRange{0.35, 0.45}},
	{bucket{0.45, 0.60}, 0.52, DeltaRange{0.45, 0.60}},
	{bucket{0.60, 1.0}, 0.70, DeltaRange{0.60, 0.80}},
}

var defaultDelta = struct {
	target float64
	rng    DeltaRange
}{0.30, DeltaRange{0.25, 0.35}}

type DeltaRange struct {
	Low  float64 `json:"low"`
	High float64 `json:"high"`
}

type SymbolPerformance struct {
	Symbol          string  `json:"symbol"`
	AvgProfit       float64 `json:"avg_profit"`
	TotalProfit     float64 `json:"total_profit"`
	Trades          int     `json:"trades"`
	AvgAnnualReturn float64 `json:"avg_annual_return"`
}

type Result struct {
	OptimalDTE        int                 `json:"optimal_dte"`
	OptimalDelta      float64             `json:"optimal_delta"`
	OptimalDeltaRange DeltaRange          `json:"optimal_delta_range"`
	MinAnnualReturn   float64             `json:"min_annual_return"`
	WinRate           float64             `json:"win_rate"`
	AvgReturn         float64             `json:"avg_return"`
	AvgProfitPerTrade float64             `json:"avg_profit_per_trade"`
	BestSymbols       []SymbolPerformance `json:"best_symbols"`
	SampleSize        int                 `json:"sample_size"`
	Confidence        string              `json:"confidence"`
}

// Params are the tunable entry parameters of the trading loop.
type Params struct {
	TargetDTE       int     `json:"target_dte" mapstructure:"target_dte"`
	TargetDelta     float64 `json:"target_delta" mapstructure:"target_delta"`
	MinDelta        float64 `json:"min_delta" mapstructure:"min_delta"`
	MaxDelta        float64 `json:"max_delta" mapstructure:"max_delta"`
	MinAnnualReturn float64 `json:"min_annual_return" mapstructure:"min_annual_return"`
}

func DefaultParams() Params {
	return Params{
		TargetDTE:       30,
		TargetDelta:     0.30,
		MinDelta:        0.20,
		MaxDelta:        0.40,
		MinAnnualReturn: 20,
	}
}

type Optimizer struct {
	logger *logrus.Logger
}

func New(logger *logrus.Logger) *Optimizer {
	return &Optimizer{logger: logger}
}

func (o *Optimizer) FindOptimalParameters(trades []models.TradeOutcome) (*Result, error) {
	if len(trades) < MinTrades {
		return nil, fmt.Errorf("%w: %d of %d", ErrInsufficientData, len(trades), MinTrades)
	}

	profits := make(stats.Float64Data, len(trades))
	returns := make(stats.Float64Data, len(trades))
	wins := 0
	for i, t := range trades {
		profits[i] = t.ProfitLoss
		returns[i] = t.AnnualizedReturn
		if t.ProfitLoss > 0 {
			wins++
		}
	}
	avgProfit, _ := stats.Mean(profits)
	avgReturn, _ := stats.Mean(returns)

	delta, deltaRange := optimalDelta(trades)
	result := &Result{
		OptimalDTE:        optimalDTE(trades),
		OptimalDelta:      delta,
		OptimalDeltaRange: deltaRange,
		MinAnnualReturn:   minReturnThreshold(trades),
		WinRate:           float64(wins) / float64(len(trades)) * 100,
		AvgReturn:         avgReturn,
		AvgProfitPerTrade: avgProfit,
		BestSymbols:       bestSymbols(trades, bestSymbolsLimit),
		SampleSize:        len(trades),
		Confidence:        confidenceFor(len(trades)),
	}

	o.logger.WithFields(logrus.Fields{
		"sample_size":   result.SampleSize,
		"optimal_dte":   result.OptimalDTE,
		"optimal_delta": result.OptimalDelta,
		"win_rate":      result.WinRate,
		"confidence":    result.Confidence,
	}).Info("Optimized strategy parameters")

	return result, nil
}

// bestBucket returns the index of the bucket with the highest mean P&L, or -1
// when no trade falls in any bucket. Ties go to the earlier bucket.
func bestBucket(n int, member func(i int, t models.TradeOutcome) bool, trades []models.TradeOutcome) int {
	best, bestMean := -1, math.Inf(-1)
	for i := 0; i < n; i++ {
		var pnl stats.Float64Data
		for _, t := range trades {
			if member(i, t) {
				pnl = append(pnl, t.ProfitLoss)
			}
		}
		if len(pnl) == 0 {
			continue
		}
		if m, _ := stats.Mean(pnl); m > bestMean {
			best, bestMean = i, m
		}
	}
	return best
}

func optimalDTE(trades []models.TradeOutcome) int {
	i := bestBucket(len(dteBuckets), func(i int, t models.TradeOutcome) bool {
		return dteBuckets[i].contains(float64(t.DTEAtOpen))
	}, trades)
	if i < 0 {
		return defaultDTE
	}
	return dteBuckets[i].midpoint
}

func optimalDelta(trades []models.TradeOutcome) (float64, DeltaRange) {
	i := bestBucket(len(deltaBuckets), func(i int, t models.TradeOutcome) bool {
		return deltaBuckets[i].contains(math.Abs(t.EntryDelta))
	}, trades)
	if i < 0 {
		return defaultDelta.target, defaultDelta.rng
	}
	return deltaBuckets[i].target, deltaBuckets[i].rng
}

func bestSymbols(trades []models.TradeOutcome, limit int) []SymbolPerformance {
	bySymbol := make(map[string][]models.TradeOutcome)
	for _, t := range trades {
		bySymbol[t.Symbol] = append(bySymbol[t.Symbol], t)
	}

	out := make([]SymbolPerformance, 0, len(bySymbol))
	for symbol, ts := range bySymbol {
		if len(ts) < minTradesPerSymbol {
			continue
		}
		var pnl, ret stats.Float64Data
		for _, t := range ts {
			pnl = append(pnl, t.ProfitLoss)
			ret = append(ret, t.AnnualizedReturn)
		}
		sum, _ := stats.Sum(pnl)
		mean, _ := stats.Mean(pnl)
		annual, _ := stats.Mean(ret)
		out = append(out, SymbolPerformance{
			Symbol:          symbol,
			AvgProfit:       round(mean, 2),
			TotalProfit:     round(sum, 2),
			Trades:          len(ts),
			AvgAnnualReturn: round(annual, 2),
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].AvgProfit != out[j].AvgProfit {
			return out[i].AvgProfit > out[j].AvgProfit
		}
		return out[i].Symbol < out[j].Symbol
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func minReturnThreshold(trades []models.TradeOutcome) float64 {
	var winners stats.Float64Data
	for _, t := range trades {
		if t.ProfitLoss > 0 {
			winners = append(winners, t.AnnualizedReturn)
		}
	}
	if len(winners) == 0 {
		return defaultMinAnnualReturn
	}
	median, err := stats.Median(winners)
	if err != nil {
		return defaultMinAnnualReturn
	}
	return math.Max(minAnnualReturnFloor, median*winnerReturnHaircut)
}

func confidenceFor(sampleSize int) string {
	switch {
	case sampleSize >= 50:
		return "high"
	case sampleSize >= 20:
		return "medium"
	default:
		return "low"
	}
}

// AutoAdjust moves current a fraction rate of the way toward the optimum.
func AutoAdjust(current Params, result *Result, rate float64) Params {
	if result == nil {
		return current
	}
	blend := func(cur, opt float64) float64 {
		return (1-rate)*cur + rate*opt
	}
	return Params{
		TargetDTE:       int(blend(float64(current.TargetDTE), float64(result.OptimalDTE))),
		TargetDelta:     round(blend(current.TargetDelta, result.OptimalDelta), 2),
		MinDelta:        round(blend(current.MinDelta, result.OptimalDeltaRange.Low), 2),
		MaxDelta:        round(blend(current.MaxDelta, result.OptimalDeltaRange.High), 2),
		MinAnnualReturn: round(blend(current.MinAnnualReturn, result.MinAnnualReturn), 1),
	}
}

func round(v float64, places int) float64 {
	r, err := stats.Round(v, places)
	if err != nil {
		return v
	}
	return r
}
