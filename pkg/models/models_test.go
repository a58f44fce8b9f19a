package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func testCoveredCall() CoveredCall {
	return CoveredCall{
		ID:    "cc-1",
		Stock: StockPosition{Symbol: "AAPL", Shares: 100, AverageCost: 180, CurrentPrice: 185},
		Option: OptionContract{
			Symbol:     "AAPL",
			Strike:     190,
			Expiration: now.AddDate(0, 0, 30),
			Type:       OptionTypeCall,
			Premium:    3.50,
			Bid:        3.45,
			Ask:        3.55,
		},
		Contracts:        1,
		EntryDate:        now,
		Status:           PositionStatusOpen,
		PremiumCollected: 350,
		Commission:       1,
	}
}

func TestStockPosition(t *testing.T) {
	s := StockPosition{Symbol: "AAPL", Shares: 250, AverageCost: 180, CurrentPrice: 185}

	assert.Equal(t, 46250.0, s.MarketValue())
	assert.Equal(t, 1250.0, s.UnrealizedPnL())
	assert.InDelta(t, (185.0/180.0-1)*100, s.UnrealizedPnLPercent(), 1e-9)
	assert.Equal(t, 2, s.AvailableContracts())

	assert.Equal(t, 0.0, StockPosition{Shares: 10}.UnrealizedPnLPercent())
}

func TestOptionContract(t *testing.T) {
	o := testCoveredCall().Option

	t.Run("mid and spread", func(t *testing.T) {
		assert.InDelta(t, 3.50, o.MidPrice(), 1e-9)
		assert.InDelta(t, 0.10/3.50*100, o.BidAskSpreadPercent(), 1e-9)
		assert.Equal(t, 100.0, OptionContract{}.BidAskSpreadPercent())
	})

	t.Run("days to expiration floors", func(t *testing.T) {
		assert.Equal(t, 30, o.DaysToExpirationAt(now))
		assert.Equal(t, 29, o.DaysToExpirationAt(now.Add(time.Hour)))
		assert.Equal(t, -1, o.DaysToExpirationAt(o.Expiration.Add(time.Hour)))
	})

	t.Run("liquidity", func(t *testing.T) {
		assert.False(t, o.IsLiquid())
		o.Volume, o.OpenInterest = 101, 501
		assert.True(t, o.IsLiquid())
		o.Volume = 100
		assert.False(t, o.IsLiquid())
	})

	t.Run("percent otm", func(t *testing.T) {
		assert.InDelta(t, 10.0, OptionContract{Strike: 110}.PercentOTM(100), 1e-9)
		assert.Equal(t, 0.0, OptionContract{Strike: 110}.PercentOTM(0))
	})
}

func TestCoveredCallMetrics(t *testing.T) {
	c := testCoveredCall()

	assert.Equal(t, 100, c.SharesCovered())
	assert.Equal(t, 349.0, c.NetPremium())
	assert.Equal(t, 1349.0, c.MaxProfit())
	assert.InDelta(t, 1349.0/18000*100, c.ReturnIfAssigned(), 1e-9)
	assert.InDelta(t, 180-3.49, c.BreakevenPrice(), 1e-9)
	assert.InDelta(t, 349.0/18500*100, c.DownsideProtection(), 1e-9)
	assert.InDelta(t, c.ReturnIfAssigned()*365/30, c.AnnualizedReturnAt(now), 1e-9)
	assert.Equal(t, 0.0, c.AnnualizedReturnAt(c.Option.Expiration))
	assert.InDelta(t, 349.0-120, c.RealizedPnL(1.20), 1e-9)
}

func TestPositionStatus(t *testing.T) {
	assert.False(t, PositionStatusOpen.IsTerminal())
	for _, s := range []PositionStatus{PositionStatusClosed, PositionStatusAssigned, PositionStatusExpired, PositionStatusRolled} {
		assert.True(t, s.IsTerminal())
	}
}

func TestRiskProfiles(t *testing.T) {
	level, err := ParseRiskLevel(" moderate ")
	require.NoError(t, err)
	assert.Equal(t, RiskModerate, level)

	_, err = ParseRiskLevel("reckless")
	assert.ErrorIs(t, err, ErrUnknownRiskLevel)

	p, err := ProfileFor(RiskConservative)
	require.NoError(t, err)
	assert.Equal(t, 0.5, p.MinPremiumPct)
	assert.Equal(t, 60, p.MaxDTE)
	assert.True(t, p.DeltaInRange(0.15))
	assert.True(t, p.DeltaInRange(0.25))
	assert.False(t, p.DeltaInRange(0.26))

	p, err = ProfileFor(RiskAggressive)
	require.NoError(t, err)
	assert.Equal(t, 30, p.MaxDTE)
	assert.Equal(t, 0.50, p.TargetDeltaHigh)
}
