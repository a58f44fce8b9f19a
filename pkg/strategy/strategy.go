// Package strategy selects covered-call strikes. It scores option contracts
// against a risk profile, ranks candidate chains and decides when an open
// position should be rolled.
package strategy

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/gregtusar/coveredcalls/pkg/models"
)

var (
	ErrInvalidUnderlyingPrice = errors.New("underlying price must be positive")
	ErrInvalidPremium         = errors.New("premium must not be negative")
)

type Strategy struct {
	profile models.RiskProfile
	policy  ScoringPolicy
	now     func() time.Time
}

type Option func(*Strategy)

func WithPolicy(p ScoringPolicy) Option {
	return func(s *Strategy) {
		s.policy = p.withDefaults()
	}
}

// WithClock fixes the time used for days-to-expiration.
func WithClock(now func() time.Time) Option {
	return func(s *Strategy) {
		s.now = now
	}
}

func New(level models.RiskLevel, opts ...Option) (*Strategy, error) {
	profile, err := models.ProfileFor(level)
	if err != nil {
		return nil, err
	}

	s := &Strategy{
		profile: profile,
		policy:  DefaultPolicy(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Strategy) Profile() models.RiskProfile {
	return s.profile
}

func (s *Strategy) Policy() ScoringPolicy {
	return s.policy
}

// Breakdown is a score split into its components.
type Breakdown struct {
	AnnualizedYield float64 `json:"annualized_yield"`
	Premium         float64 `json:"premium"`
	Delta           float64 `json:"delta"`
	Liquidity       float64 `json:"liquidity"`
	Volatility      float64 `json:"volatility"`
	Time            float64 `json:"time"`
	Total           float64 `json:"total"`
}

type ScoredOption struct {
	Option    models.OptionContract `json:"option"`
	Score     float64               `json:"score"`
	DTE       int                   `json:"dte"`
	Breakdown Breakdown             `json:"breakdown"`
}

func validPrice(v float64) bool {
	return v > 0 && !math.IsInf(v, 0)
}

func (s *Strategy) Score(option models.OptionContract, underlyingPrice float64) (float64, error) {
	b, err := s.Explain(option, underlyingPrice)
	if err != nil {
		return 0, err
	}
	return b.Total, nil
}

// Explain scores an option and returns the contribution of every component.
func (s *Strategy) Explain(option models.OptionContract, underlyingPrice float64) (Breakdown, error) {
	if !validPrice(underlyingPrice) {
		return Breakdown{}, fmt.Errorf("%w: %v", ErrInvalidUnderlyingPrice, underlyingPrice)
	}
	if option.Premium < 0 || math.IsNaN(option.Premium) || math.IsInf(option.Premium, 0) {
		return Breakdown{}, fmt.Errorf("%w: %s %.2f premium %v", ErrInvalidPremium, option.Symbol, option.Strike, option.Premium)
	}

	p := s.policy
	dte := option.DaysToExpirationAt(s.now())
	var b Breakdown

	days := math.Max(float64(dte), 1)
	b.AnnualizedYield = (option.Premium / underlyingPrice) * (365 / days) * 100
	b.Premium = math.Min(b.AnnualizedYield/p.PremiumDivisor, p.PremiumCap)

	absDelta := math.Abs(option.Delta)
	switch {
	case s.profile.DeltaInRange(absDelta):
		b.Delta = p.DeltaInRange
	case absDelta < s.profile.TargetDeltaLow:
		b.Delta = p.DeltaBelow
	default:
		b.Delta = p.DeltaAbove
	}

	if option.IsLiquid() {
		b.Liquidity = p.Liquidity
		if option.BidAskSpreadPercent() < p.SpreadBonusMaxPct {
			b.Liquidity += p.SpreadBonus
		}
	}

	switch iv := option.ImpliedVolatility; {
	case iv >= p.IVBandLow && iv <= p.IVBandHigh:
		b.Volatility = p.IVInBand
	case iv > p.IVBandHigh:
		b.Volatility = p.IVRich
	default:
		b.Volatility = p.IVThin
	}

	switch {
	case dte >= p.TimeWindowMinDTE && dte <= s.profile.MaxDTE:
		b.Time = p.TimeInWindow
	case dte < p.TimeWindowMinDTE:
		b.Time = p.TimeShort
	}

	b.Total = math.Min(b.Premium+b.Delta+b.Liquidity+b.Volatility+b.Time, p.MaxScore)
	return b, nil
}

// Rank keeps the calls expiring within the profile window, scores them and
// returns at most topN in descending score order. Equal scores keep their
// input order.
func (s *Strategy) Rank(options []models.OptionContract, underlyingPrice float64, topN int) ([]ScoredOption, error) {
	if !validPrice(underlyingPrice) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidUnderlyingPrice, underlyingPrice)
	}
	if topN <= 0 {
		return []ScoredOption{}, nil
	}

	now := s.now()
	scored := make([]ScoredOption, 0, len(options))
	for _, o := range options {
		if o.Type != models.OptionTypeCall {
			continue
		}
		dte := o.DaysToExpirationAt(now)
		if dte < s.policy.MinRankDTE || dte > s.profile.MaxDTE {
			continue
		}

		b, err := s.Explain(o, underlyingPrice)
		if err != nil {
			return nil, err
		}
		scored = append(scored, ScoredOption{Option: o, Score: b.Total, DTE: dte, Breakdown: b})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})

	if len(scored) > topN {
		scored = scored[:topN]
	}
	return scored, nil
}

// FindBestStrike ranks a chain for the underlying's current price.
func (s *Strategy) FindBestStrike(stock models.StockPosition, chain []models.OptionContract, topN int) ([]ScoredOption, error) {
	return s.Rank(chain, stock.CurrentPrice, topN)
}
