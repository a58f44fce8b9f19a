package models

import (
	"errors"
	"fmt"
	"strings"
)

var ErrUnknownRiskLevel = errors.New("unknown risk level")

type RiskLevel string

const (
	RiskConservative RiskLevel = "CONSERVATIVE"
	RiskModerate     RiskLevel = "MODERATE"
	RiskAggressive   RiskLevel = "AGGRESSIVE"
)

type RiskProfile struct {
	Level           RiskLevel `json:"level"`
	MinPremiumPct   float64   `json:"min_premium_pct"`
	MaxDTE          int       `json:"max_dte"`
	TargetDeltaLow  float64   `json:"target_delta_low"`
	TargetDeltaHigh float64   `json:"target_delta_high"`
}

var riskProfiles = map[RiskLevel]RiskProfile{
	RiskConservative: {Level: RiskConservative, MinPremiumPct: 0.5, MaxDTE: 60, TargetDeltaLow: 0.15, TargetDeltaHigh: 0.25},
	RiskModerate:     {Level: RiskModerate, MinPremiumPct: 1.0, MaxDTE: 45, TargetDeltaLow: 0.25, TargetDeltaHigh: 0.35},
	RiskAggressive:   {Level: RiskAggressive, MinPremiumPct: 1.5, MaxDTE: 30, TargetDeltaLow: 0.35, TargetDeltaHigh: 0.50},
}

func ParseRiskLevel(s string) (RiskLevel, error) {
	level := RiskLevel(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := riskProfiles[level]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownRiskLevel, s)
	}
	return level, nil
}

func ProfileFor(level RiskLevel) (RiskProfile, error) {
	p, ok := riskProfiles[level]
	if !ok {
		return RiskProfile{}, fmt.Errorf("%w: %q", ErrUnknownRiskLevel, level)
	}
	return p, nil
}

// DeltaInRange reports whether |delta| sits inside the profile's target band.
func (p RiskProfile) DeltaInRange(absDelta float64) bool {
	return absDelta >= p.TargetDeltaLow && absDelta <= p.TargetDeltaHigh
}
