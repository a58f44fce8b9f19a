package strategy

// ScoringPolicy holds the weights and thresholds of the option score. The
// defaults reproduce the 30/25/20/15/10 weighting with a 5 point spread bonus.
type ScoringPolicy struct {
	PremiumCap     float64 `mapstructure:"premium_cap"`
	PremiumDivisor float64 `mapstructure:"premium_divisor"`

	DeltaInRange float64 `mapstructure:"delta_in_range"`
	DeltaBelow   float64 `mapstructure:"delta_below"`
	DeltaAbove   float64 `mapstructure:"delta_above"`

	Liquidity         float64 `mapstructure:"liquidity"`
	SpreadBonus       float64 `mapstructure:"spread_bonus"`
	SpreadBonusMaxPct float64 `mapstructure:"spread_bonus_max_pct"`

	IVBandLow  float64 `mapstructure:"iv_band_low"`
	IVBandHigh float64 `mapstructure:"iv_band_high"`
	IVInBand   float64 `mapstructure:"iv_in_band"`
	IVRich     float64 `mapstructure:"iv_rich"`
	IVThin     float64 `mapstructure:"iv_thin"`

	TimeWindowMinDTE int     `mapstructure:"time_window_min_dte"`
	TimeInWindow     float64 `mapstructure:"time_in_window"`
	TimeShort        float64 `mapstructure:"time_short"`

	MinRankDTE int     `mapstructure:"min_rank_dte"`
	MaxScore   float64 `mapstructure:"max_score"`
}

func DefaultPolicy() ScoringPolicy {
	return ScoringPolicy{
		PremiumCap:        30,
		PremiumDivisor:    2,
		DeltaInRange:      25,
		DeltaBelow:        15,
		DeltaAbove:        10,
		Liquidity:         20,
		SpreadBonus:       5,
		SpreadBonusMaxPct: 5,
		IVBandLow:         20,
		IVBandHigh:        60,
		IVInBand:          15,
		IVRich:            10,
		IVThin:            5,
		TimeWindowMinDTE:  20,
		TimeInWindow:      10,
		TimeShort:         5,
		MinRankDTE:        7,
		MaxScore:          100,
	}
}

// withDefaults maps the zero policy to DefaultPolicy. Any other policy is
// taken as configured, so a zero weight really scores zero points; only the
// premium divisor and the score ceiling fall back when not positive.
func (p ScoringPolicy) withDefaults() ScoringPolicy {
	d := DefaultPolicy()
	if p == (ScoringPolicy{}) {
		return d
	}
	if p.PremiumDivisor <= 0 {
		p.PremiumDivisor = d.PremiumDivisor
	}
	if p.MaxScore <= 0 {
		p.MaxScore = d.MaxScore
	}
	return p
}
