package strategy

import (
	"fmt"
	"sort"

	"github.com/gregtusar/coveredcalls/pkg/models"
)

const (
	DefaultRollThresholdPct = 5.0

	rollMaxDTE       = 21
	rollUrgentDTE    = 7
	deepITMThreshold = 1.05
)

type RollDecision struct {
	Roll             bool    `json:"roll"`
	Reason           string  `json:"reason"`
	DTE              int     `json:"dte"`
	DistanceToStrike float64 `json:"distance_to_strike_pct"`
}

// EvaluateRoll applies the roll rules in order: far from expiration, far from
// the strike, close to expiration, deep in the money.
func (s *Strategy) EvaluateRoll(position models.CoveredCall, currentPrice, thresholdPct float64) (RollDecision, error) {
	if !validPrice(currentPrice) {
		return RollDecision{}, fmt.Errorf("%w: %v", ErrInvalidUnderlyingPrice, currentPrice)
	}

	strike := position.Option.Strike
	d := RollDecision{
		DTE:              position.Option.DaysToExpirationAt(s.now()),
		DistanceToStrike: (strike/currentPrice - 1) * 100,
	}

	switch {
	case d.DTE > rollMaxDTE:
		d.Reason = "more than 21 days to expiration"
	case d.DistanceToStrike > thresholdPct:
		d.Reason = fmt.Sprintf("strike %.1f%% above price", d.DistanceToStrike)
	case d.DTE <= rollUrgentDTE:
		d.Roll = true
		d.Reason = "near expiration and near strike"
	case currentPrice > strike*deepITMThreshold:
		d.Roll = true
		d.Reason = "deep in the money"
	default:
		d.Reason = "no roll condition met"
	}
	return d, nil
}

func (s *Strategy) ShouldRoll(position models.CoveredCall, currentPrice, thresholdPct float64) (bool, error) {
	d, err := s.EvaluateRoll(position, currentPrice, thresholdPct)
	if err != nil {
		return false, err
	}
	return d.Roll, nil
}

// RollCredit is the net cash of buying back old at the ask and selling next at
// the bid. Negative values are debits.
func RollCredit(old, next models.OptionContract, contracts int) float64 {
	qty := float64(contracts * models.SharesPerContract)
	return next.Bid*qty - old.Ask*qty
}

type RollCandidate struct {
	ScoredOption
	NetCredit float64 `json:"net_credit"`
}

// RollCandidates ranks later-dated calls at or above the current strike as
// replacements for position, then orders them by net credit.
func (s *Strategy) RollCandidates(position models.CoveredCall, chain []models.OptionContract, currentPrice float64, topN int) ([]RollCandidate, error) {
	eligible := make([]models.OptionContract, 0, len(chain))
	for _, o := range chain {
		if o.Expiration.After(position.Option.Expiration) && o.Strike >= position.Option.Strike {
			eligible = append(eligible, o)
		}
	}

	ranked, err := s.Rank(eligible, currentPrice, topN)
	if err != nil {
		return nil, err
	}

	candidates := make([]RollCandidate, 0, len(ranked))
	for _, r := range ranked {
		candidates = append(candidates, RollCandidate{
			ScoredOption: r,
			NetCredit:    RollCredit(position.Option, r.Option, position.Contracts),
		})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].NetCredit > candidates[j].NetCredit
	})
	return candidates, nil
}
