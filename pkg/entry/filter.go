// Package entry gates new covered-call trades on volatility, earnings,
// liquidity, spread and strike placement.
package entry

import (
	"context"
	"fmt"
	"time"

	"github.com/gregtusar/coveredcalls/pkg/earnings"
	"github.com/gregtusar/coveredcalls/pkg/models"
	"github.com/sirupsen/logrus"
)

const (
	DefaultMinScore = 80.0
	ivHistoryDays   = 252
	minIVHistory    = 30
	neutralIVRank   = 50.0

	minIVRank       = 50.0
	minVolume       = 10
	minOpenInterest = 100
	maxSpreadPct    = 10.0
	minPctOTM       = 2.0
	maxPctOTM       = 10.0
	checkCount      = 5
)

type IVHistorySource interface {
	IVHistory(ctx context.Context, symbol string, days int) ([]float64, error)
}

type EarningsChecker interface {
	CheckBeforeTrade(ctx context.Context, symbol string, dte int) earnings.Check
}

type Checks struct {
	IVRank         bool `json:"iv_rank"`
	NoEarnings     bool `json:"no_earnings"`
	Liquidity      bool `json:"liquidity"`
	Spread         bool `json:"spread"`
	StrikeDistance bool `json:"strike_distance"`
}

func (c Checks) passed() int {
	n := 0
	for _, ok := range []bool{c.IVRank, c.NoEarnings, c.Liquidity, c.Spread, c.StrikeDistance} {
		if ok {
			n++
		}
	}
	return n
}

type Decision struct {
	ShouldTrade    bool     `json:"should_trade"`
	Score          float64  `json:"score"`
	Checks         Checks   `json:"checks"`
	IVRank         float64  `json:"iv_rank"`
	IVPercentile   string   `json:"iv_percentile"`
	EarningsRisk   bool     `json:"earnings_risk"`
	Reasons        []string `json:"reasons"`
	Recommendation string   `json:"recommendation"`
}

type Timing struct {
	Symbol         string     `json:"symbol"`
	Quality        string     `json:"timing_quality"`
	IVRank         float64    `json:"iv_rank"`
	CurrentIV      float64    `json:"current_iv"`
	NextEarnings   *time.Time `json:"next_earnings,omitempty"`
	ShouldWait     bool       `json:"should_wait"`
	Recommendation string     `json:"recommendation"`
}

type Filter struct {
	iv       IVHistorySource
	earnings EarningsChecker
	minScore float64
	logger   *logrus.Logger
	now      func() time.Time
}

func NewFilter(iv IVHistorySource, earnings EarningsChecker, minScore float64, logger *logrus.Logger) *Filter {
	if minScore <= 0 {
		minScore = DefaultMinScore
	}
	return &Filter{
		iv:       iv,
		earnings: earnings,
		minScore: minScore,
		logger:   logger,
		now:      time.Now,
	}
}

func (f *Filter) WithClock(now func() time.Time) *Filter {
	f.now = now
	return f
}

// IVRank places current within the range of history on a 0-100 scale. Short
// or flat histories rank as 50.
func IVRank(history []float64, current float64) float64 {
	if len(history) < minIVHistory {
		return neutralIVRank
	}
	lo, hi := history[0], history[0]
	for _, v := range history[1:] {
		lo = min(lo, v)
		hi = max(hi, v)
	}
	if hi == lo {
		return neutralIVRank
	}
	rank := (current - lo) / (hi - lo) * 100
	return max(0, min(100, rank))
}

func (f *Filter) ivRank(ctx context.Context, symbol string, current float64) float64 {
	history, err := f.iv.IVHistory(ctx, symbol, ivHistoryDays)
	if err != nil {
		f.logger.WithError(err).WithField("symbol", symbol).Warn("IV history unavailable, using neutral rank")
		return neutralIVRank
	}
	return IVRank(history, current)
}

func (f *Filter) Evaluate(ctx context.Context, option models.OptionContract, stockPrice float64) (Decision, error) {
	if !(stockPrice > 0) {
		return Decision{}, fmt.Errorf("stock price must be positive: %v", stockPrice)
	}

	var d Decision
	var reasons []string

	d.IVRank = f.ivRank(ctx, option.Symbol, option.ImpliedVolatility)
	if d.IVRank >= minIVRank {
		d.Checks.IVRank = true
	} else {
		reasons = append(reasons, fmt.Sprintf("IV Rank too low (%.1f%% < 50%%)", d.IVRank))
	}

	dte := option.DaysToExpirationAt(f.now())
	check := f.earnings.CheckBeforeTrade(ctx, option.Symbol, dte)
	if check.Safe {
		d.Checks.NoEarnings = true
	} else if check.DaysToEarnings != nil {
		reasons = append(reasons, fmt.Sprintf("Earnings in %d days", *check.DaysToEarnings))
	} else {
		reasons = append(reasons, "Earnings in unknown days")
	}

	if option.Volume >= minVolume && option.OpenInterest >= minOpenInterest {
		d.Checks.Liquidity = true
	} else {
		reasons = append(reasons, fmt.Sprintf("Low liquidity (vol: %d, OI: %d)", option.Volume, option.OpenInterest))
	}

	if spread := option.BidAskSpreadPercent(); spread < maxSpreadPct {
		d.Checks.Spread = true
	} else {
		reasons = append(reasons, fmt.Sprintf("Wide spread (%.1f%%)", spread))
	}

	pctOTM := option.PercentOTM(stockPrice)
	switch {
	case pctOTM >= minPctOTM && pctOTM <= maxPctOTM:
		d.Checks.StrikeDistance = true
	case pctOTM > maxPctOTM:
		reasons = append(reasons, fmt.Sprintf("Strike too far (%.1f%% OTM)", pctOTM))
	default:
		reasons = append(reasons, fmt.Sprintf("Strike too close (%.1f%% OTM)", pctOTM))
	}

	d.Score = float64(d.Checks.passed()) / checkCount * 100
	d.ShouldTrade = d.Score >= f.minScore
	d.IVPercentile = ivPercentile(d.IVRank)
	d.EarningsRisk = !d.Checks.NoEarnings
	d.Recommendation = recommendation(d.Score, d.IVRank)
	d.Reasons = []string{}
	if !d.ShouldTrade {
		d.Reasons = reasons
	}

	f.logger.WithFields(logrus.Fields{
		"symbol":   option.Symbol,
		"strike":   option.Strike,
		"score":    d.Score,
		"iv_rank":  d.IVRank,
		"decision": d.ShouldTrade,
	}).Debug("Evaluated entry quality")

	return d, nil
}

// EntryTiming judges whether now is a good moment to sell premium on symbol.
func (f *Filter) EntryTiming(ctx context.Context, symbol string, currentIV float64, dte int) Timing {
	rank := f.ivRank(ctx, symbol, currentIV)
	check := f.earnings.CheckBeforeTrade(ctx, symbol, dte)

	quality := "very_poor"
	switch {
	case rank >= 70:
		quality = "excellent"
	case rank >= 50:
		quality = "good"
	case rank >= 30:
		quality = "poor"
	}

	var advice string
	switch {
	case !check.Safe:
		advice = "WAIT - Earnings too close"
	case rank >= 70:
		advice = "ENTER NOW - Excellent IV conditions"
	case rank >= 50:
		advice = "GOOD TIME - Above average IV"
	case rank >= 30:
		advice = "WAIT - IV too low, be patient"
	default:
		advice = "AVOID - Very poor IV environment"
	}

	return Timing{
		Symbol:         symbol,
		Quality:        quality,
		IVRank:         rank,
		CurrentIV:      currentIV,
		NextEarnings:   check.EarningsDate,
		ShouldWait:     rank < minIVRank || !check.Safe,
		Recommendation: advice,
	}
}

func ivPercentile(rank float64) string {
	switch {
	case rank >= 90:
		return "Extremely High (Top 10%)"
	case rank >= 70:
		return "Very High (Top 30%)"
	case rank >= 50:
		return "Above Average"
	case rank >= 30:
		return "Below Average"
	default:
		return "Very Low (Bottom 30%)"
	}
}

func recommendation(score, ivRank float64) string {
	switch {
	case score >= 90 && ivRank >= 70:
		return "EXCELLENT - Strong entry opportunity"
	case score >= 80 && ivRank >= 50:
		return "GOOD - Acceptable entry"
	case score >= 70:
		return "FAIR - Consider waiting for better setup"
	default:
		return "POOR - Wait for better conditions"
	}
}
