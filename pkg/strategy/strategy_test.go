package strategy

import (
	"testing"
	"time"

	"github.com/gregtusar/coveredcalls/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2024, 3, 1, 15, 0, 0, 0, time.UTC)

func newTestStrategy(t *testing.T, level models.RiskLevel) *Strategy {
	s, err := New(level, WithClock(func() time.Time { return testNow }))
	require.NoError(t, err)
	return s
}

func testOption(strike, premium, delta, iv float64, dte int) models.OptionContract {
	return models.OptionContract{
		Symbol:            "AAPL",
		Strike:            strike,
		Expiration:        testNow.AddDate(0, 0, dte),
		Type:              models.OptionTypeCall,
		Premium:           premium,
		ImpliedVolatility: iv,
		Delta:             delta,
		Gamma:             0.015,
		Theta:             -0.05,
		Vega:              0.12,
		Volume:            5000,
		OpenInterest:      10000,
		Bid:               premium - 0.05,
		Ask:               premium + 0.05,
	}
}

func TestScore(t *testing.T) {
	s := newTestStrategy(t, models.RiskModerate)

	t.Run("component breakdown", func(t *testing.T) {
		b, err := s.Explain(testOption(190, 3.50, 0.30, 25, 30), 185)
		require.NoError(t, err)

		assert.InDelta(t, 23.018, b.AnnualizedYield, 1e-3)
		assert.InDelta(t, 11.509, b.Premium, 1e-3)
		assert.Equal(t, 25.0, b.Delta)
		assert.Equal(t, 25.0, b.Liquidity)
		assert.Equal(t, 15.0, b.Volatility)
		assert.Equal(t, 10.0, b.Time)
		assert.InDelta(t, 86.509, b.Total, 1e-3)
	})

	t.Run("non premium components reach 70 for a well placed option", func(t *testing.T) {
		o := testOption(190, 0, 0.30, 25, 30)
		o.Bid, o.Ask = 1.0, 1.2
		score, err := s.Score(o, 185)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, score, 70.0)
	})

	t.Run("monotone in premium and saturates", func(t *testing.T) {
		prev := -1.0
		for _, premium := range []float64{0, 0.5, 1, 2, 4, 8, 16, 32} {
			score, err := s.Score(testOption(190, premium, 0.30, 25, 30), 185)
			require.NoError(t, err)
			assert.GreaterOrEqual(t, score, prev)
			prev = score
		}

		// 60% annualized saturates the premium component
		premium := 0.60 * 185 * 30 / 365
		atCap, err := s.Explain(testOption(190, premium, 0.30, 25, 30), 185)
		require.NoError(t, err)
		above, err := s.Explain(testOption(190, premium*3, 0.30, 25, 30), 185)
		require.NoError(t, err)
		assert.InDelta(t, 30.0, atCap.Premium, 1e-9)
		assert.Equal(t, 30.0, above.Premium)
	})

	t.Run("delta fit", func(t *testing.T) {
		below, _ := s.Explain(testOption(200, 1, 0.10, 25, 30), 185)
		above, _ := s.Explain(testOption(185, 1, 0.50, 25, 30), 185)
		edge, _ := s.Explain(testOption(190, 1, -0.35, 25, 30), 185)
		assert.Equal(t, 15.0, below.Delta)
		assert.Equal(t, 10.0, above.Delta)
		assert.Equal(t, 25.0, edge.Delta)
	})

	t.Run("illiquid loses liquidity points", func(t *testing.T) {
		o := testOption(190, 3.50, 0.30, 25, 30)
		o.Volume, o.OpenInterest = 50, 100
		b, err := s.Explain(o, 185)
		require.NoError(t, err)
		assert.Equal(t, 0.0, b.Liquidity)
		assert.Less(t, b.Total, 80.0)
	})

	t.Run("volatility bands", func(t *testing.T) {
		rich, _ := s.Explain(testOption(190, 5, 0.30, 80, 30), 185)
		thin, _ := s.Explain(testOption(190, 5, 0.30, 12, 30), 185)
		assert.Equal(t, 10.0, rich.Volatility)
		assert.Equal(t, 5.0, thin.Volatility)
	})

	t.Run("time bands", func(t *testing.T) {
		short, _ := s.Explain(testOption(190, 1, 0.30, 25, 10), 185)
		long, _ := s.Explain(testOption(190, 1, 0.30, 25, 50), 185)
		assert.Equal(t, 5.0, short.Time)
		assert.Equal(t, 0.0, long.Time)
	})

	t.Run("clamped to 100", func(t *testing.T) {
		p := DefaultPolicy()
		p.Liquidity = 60
		rich, err := New(models.RiskModerate, WithPolicy(p), WithClock(func() time.Time { return testNow }))
		require.NoError(t, err)
		score, err := rich.Score(testOption(190, 20, 0.30, 25, 30), 185)
		require.NoError(t, err)
		assert.Equal(t, 100.0, score)
	})

	t.Run("expired option does not divide by zero", func(t *testing.T) {
		b, err := s.Explain(testOption(190, 1, 0.30, 25, 0), 185)
		require.NoError(t, err)
		assert.InDelta(t, 1.0/185*365*100, b.AnnualizedYield, 1e-9)
	})

	t.Run("invalid input", func(t *testing.T) {
		_, err := s.Score(testOption(190, 1, 0.30, 25, 30), 0)
		assert.ErrorIs(t, err, ErrInvalidUnderlyingPrice)

		_, err = s.Score(testOption(190, -1, 0.30, 25, 30), 185)
		assert.ErrorIs(t, err, ErrInvalidPremium)
	})
}

func TestRank(t *testing.T) {
	s := newTestStrategy(t, models.RiskModerate)

	chain := []models.OptionContract{
		testOption(185, 5.00, 0.50, 30, 30),
		testOption(190, 3.50, 0.30, 25, 30),
		testOption(195, 2.00, 0.20, 22, 30),
		testOption(200, 1.00, 0.10, 20, 30),
	}

	t.Run("best strike is the in-range delta", func(t *testing.T) {
		best, err := s.Rank(chain, 185, 3)
		require.NoError(t, err)
		require.Len(t, best, 3)

		assert.Equal(t, 190.0, best[0].Option.Strike)
		assert.Equal(t, 185.0, best[1].Option.Strike)
		assert.Equal(t, 195.0, best[2].Option.Strike)
		for i := 0; i < len(best)-1; i++ {
			assert.GreaterOrEqual(t, best[i].Score, best[i+1].Score)
		}
	})

	t.Run("filters by type and expiration window", func(t *testing.T) {
		put := testOption(180, 3, -0.3, 25, 30)
		put.Type = models.OptionTypePut
		mixed := append([]models.OptionContract{
			testOption(190, 3.5, 0.30, 25, 5),
			testOption(190, 3.5, 0.30, 25, 60),
			put,
		}, chain...)

		ranked, err := s.Rank(mixed, 185, 10)
		require.NoError(t, err)
		assert.Len(t, ranked, 4)
		for _, r := range ranked {
			assert.Equal(t, models.OptionTypeCall, r.Option.Type)
			assert.GreaterOrEqual(t, r.DTE, 7)
			assert.LessOrEqual(t, r.DTE, 45)
		}
	})

	t.Run("ties keep input order", func(t *testing.T) {
		a := testOption(190, 3.5, 0.30, 25, 30)
		b := a
		a.ContractID, b.ContractID = "first", "second"
		ranked, err := s.Rank([]models.OptionContract{a, b}, 185, 2)
		require.NoError(t, err)
		assert.Equal(t, "first", ranked[0].Option.ContractID)
		assert.Equal(t, "second", ranked[1].Option.ContractID)
	})

	t.Run("non positive topN", func(t *testing.T) {
		ranked, err := s.Rank(chain, 185, 0)
		require.NoError(t, err)
		assert.Empty(t, ranked)
	})

	t.Run("risk level changes the window", func(t *testing.T) {
		aggressive := newTestStrategy(t, models.RiskAggressive)
		ranked, err := aggressive.Rank([]models.OptionContract{testOption(190, 3.5, 0.40, 25, 40)}, 185, 5)
		require.NoError(t, err)
		assert.Empty(t, ranked)
	})

	t.Run("invalid price", func(t *testing.T) {
		_, err := s.Rank(chain, -5, 3)
		assert.ErrorIs(t, err, ErrInvalidUnderlyingPrice)
	})
}

func TestNew(t *testing.T) {
	_, err := New(models.RiskLevel("YOLO"))
	assert.ErrorIs(t, err, models.ErrUnknownRiskLevel)

	s, err := New(models.RiskConservative)
	require.NoError(t, err)
	assert.Equal(t, 60, s.Profile().MaxDTE)
	assert.Equal(t, DefaultPolicy(), s.Policy())
}

func TestWithPolicy(t *testing.T) {
	clock := WithClock(func() time.Time { return testNow })

	t.Run("zero policy means the defaults", func(t *testing.T) {
		s, err := New(models.RiskModerate, WithPolicy(ScoringPolicy{}))
		require.NoError(t, err)
		assert.Equal(t, DefaultPolicy(), s.Policy())
	})

	t.Run("explicit zero weight is kept", func(t *testing.T) {
		p := DefaultPolicy()
		p.DeltaAbove = 0
		s, err := New(models.RiskModerate, WithPolicy(p), clock)
		require.NoError(t, err)
		assert.Equal(t, 0.0, s.Policy().DeltaAbove)

		b, err := s.Explain(testOption(185, 1, 0.50, 25, 30), 185)
		require.NoError(t, err)
		assert.Equal(t, 0.0, b.Delta)
	})

	t.Run("partial policy is not back filled", func(t *testing.T) {
		s, err := New(models.RiskModerate, WithPolicy(ScoringPolicy{DeltaInRange: 40}), clock)
		require.NoError(t, err)
		assert.Equal(t, 40.0, s.Policy().DeltaInRange)
		assert.Equal(t, 0.0, s.Policy().Liquidity)
		assert.Equal(t, 0.0, s.Policy().PremiumCap)

		b, err := s.Explain(testOption(190, 3.50, 0.30, 25, 30), 185)
		require.NoError(t, err)
		assert.Equal(t, 0.0, b.Liquidity)
		assert.Equal(t, 40.0, b.Total)
	})

	t.Run("divisor and ceiling stay positive", func(t *testing.T) {
		s, err := New(models.RiskModerate, WithPolicy(ScoringPolicy{PremiumCap: 30}))
		require.NoError(t, err)
		assert.Equal(t, 2.0, s.Policy().PremiumDivisor)
		assert.Equal(t, 100.0, s.Policy().MaxScore)
	})
}
