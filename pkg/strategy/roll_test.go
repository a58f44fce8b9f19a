package strategy

import (
	"testing"

	"github.com/gregtusar/coveredcalls/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPosition(strike float64, dte int) models.CoveredCall {
	return models.CoveredCall{
		ID:               "pos-1",
		Stock:            models.StockPosition{Symbol: "AAPL", Shares: 100, AverageCost: 180, CurrentPrice: 189},
		Option:           testOption(strike, 2.5, 0.45, 25, dte),
		Contracts:        1,
		EntryDate:        testNow.AddDate(0, 0, -20),
		Status:           models.PositionStatusOpen,
		PremiumCollected: 250,
		Commission:       0.65,
	}
}

func TestShouldRoll(t *testing.T) {
	s := newTestStrategy(t, models.RiskModerate)

	cases := []struct {
		name   string
		strike float64
		dte    int
		price  float64
		want   bool
	}{
		{"far from expiration", 190, 30, 200, false},
		{"far from strike", 210, 5, 189, false},
		{"near expiration near strike", 190, 5, 189, true},
		{"expiration day in the money", 190, 0, 195, true},
		{"deep in the money", 190, 14, 200, true},
		{"mid window near strike", 190, 14, 189, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			roll, err := s.ShouldRoll(testPosition(tc.strike, tc.dte), tc.price, DefaultRollThresholdPct)
			require.NoError(t, err)
			assert.Equal(t, tc.want, roll)
		})
	}

	t.Run("never rolls beyond 21 days", func(t *testing.T) {
		for _, price := range []float64{50, 150, 189, 190, 250, 1000} {
			for _, dte := range []int{22, 30, 60} {
				roll, err := s.ShouldRoll(testPosition(190, dte), price, DefaultRollThresholdPct)
				require.NoError(t, err)
				assert.False(t, roll)
			}
		}
	})

	t.Run("always rolls inside a week when strike is close", func(t *testing.T) {
		for _, strike := range []float64{180, 185, 189, 190, 194} {
			for dte := 0; dte <= 7; dte++ {
				roll, err := s.ShouldRoll(testPosition(strike, dte), 185, DefaultRollThresholdPct)
				require.NoError(t, err)
				assert.True(t, roll, "strike %.0f dte %d", strike, dte)
			}
		}
	})

	t.Run("invalid price", func(t *testing.T) {
		_, err := s.ShouldRoll(testPosition(190, 5), 0, DefaultRollThresholdPct)
		assert.ErrorIs(t, err, ErrInvalidUnderlyingPrice)
	})
}

func TestRollCredit(t *testing.T) {
	old := models.OptionContract{Bid: 1.90, Ask: 2.00}
	next := models.OptionContract{Bid: 3.10, Ask: 3.20}

	assert.InDelta(t, 220.0, RollCredit(old, next, 2), 1e-9)
	assert.InDelta(t, -90.0, RollCredit(next, models.OptionContract{Bid: 2.30}, 1), 1e-9)
}

func TestRollCandidates(t *testing.T) {
	s := newTestStrategy(t, models.RiskModerate)
	pos := testPosition(190, 5)

	chain := []models.OptionContract{
		testOption(185, 6.0, 0.55, 25, 33),
		testOption(190, 4.0, 0.40, 25, 33),
		testOption(195, 2.5, 0.30, 25, 33),
		testOption(195, 1.0, 0.30, 25, 3),
	}

	candidates, err := s.RollCandidates(pos, chain, 189, 5)
	require.NoError(t, err)
	require.Len(t, candidates, 2)

	assert.Equal(t, 190.0, candidates[0].Option.Strike)
	assert.InDelta(t, (3.95-2.55)*100, candidates[0].NetCredit, 1e-9)
	assert.GreaterOrEqual(t, candidates[0].NetCredit, candidates[1].NetCredit)
}
