package optimizer

import (
	"io"
	"strings"
	"testing"

	"github.com/gregtusar/coveredcalls/pkg/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func repeat(n int, t models.TradeOutcome) []models.TradeOutcome {
	out := make([]models.TradeOutcome, n)
	for i := range out {
		out[i] = t
	}
	return out
}

func sampleTrades() []models.TradeOutcome {
	var trades []models.TradeOutcome
	trades = append(trades, repeat(4, models.TradeOutcome{Symbol: "AAPL", DTEAtOpen: 30, EntryDelta: 0.30, ProfitLoss: 200, AnnualizedReturn: 40})...)
	trades = append(trades, repeat(4, models.TradeOutcome{Symbol: "MSFT", DTEAtOpen: 12, EntryDelta: 0.10, ProfitLoss: 50, AnnualizedReturn: 20})...)
	trades = append(trades, repeat(3, models.TradeOutcome{Symbol: "TSLA", DTEAtOpen: 50, EntryDelta: 0.50, ProfitLoss: -100, AnnualizedReturn: -30})...)
	trades = append(trades, models.TradeOutcome{Symbol: "NVDA", DTEAtOpen: 40, EntryDelta: 0.40, ProfitLoss: 300, AnnualizedReturn: 60})
	return trades
}

func TestFindOptimalParameters(t *testing.T) {
	o := New(quietLogger())

	t.Run("insufficient data", func(t *testing.T) {
		_, err := o.FindOptimalParameters(sampleTrades()[:9])
		assert.ErrorIs(t, err, ErrInsufficientData)
	})

	t.Run("buckets and symbols", func(t *testing.T) {
		r, err := o.FindOptimalParameters(sampleTrades())
		require.NoError(t, err)

		assert.Equal(t, 40, r.OptimalDTE)
		assert.Equal(t, 0.40, r.OptimalDelta)
		assert.Equal(t, DeltaRange{0.35, 0.45}, r.OptimalDeltaRange)
		assert.InDelta(t, 75.0, r.WinRate, 1e-9)
		assert.InDelta(t, 34.0, r.MinAnnualReturn, 1e-9)
		assert.Equal(t, 12, r.SampleSize)
		assert.Equal(t, "low", r.Confidence)

		require.Len(t, r.BestSymbols, 3)
		assert.Equal(t, "AAPL", r.BestSymbols[0].Symbol)
		assert.Equal(t, 800.0, r.BestSymbols[0].TotalProfit)
		assert.Equal(t, "MSFT", r.BestSymbols[1].Symbol)
		assert.Equal(t, "TSLA", r.BestSymbols[2].Symbol)
	})

	t.Run("threshold floor and defaults", func(t *testing.T) {
		losers := repeat(10, models.TradeOutcome{Symbol: "X", DTEAtOpen: 120, EntryDelta: 0, ProfitLoss: -10, AnnualizedReturn: -5})
		r, err := o.FindOptimalParameters(losers)
		require.NoError(t, err)
		assert.Equal(t, 30, r.OptimalDTE)
		assert.Equal(t, 0.30, r.OptimalDelta)
		assert.Equal(t, 20.0, r.MinAnnualReturn)
		assert.Equal(t, 0.0, r.WinRate)

		thin := repeat(10, models.TradeOutcome{Symbol: "X", DTEAtOpen: 30, EntryDelta: 0.3, ProfitLoss: 10, AnnualizedReturn: 8})
		r, err = o.FindOptimalParameters(thin)
		require.NoError(t, err)
		assert.Equal(t, 15.0, r.MinAnnualReturn)
	})
}

func TestAutoAdjust(t *testing.T) {
	r, err := New(quietLogger()).FindOptimalParameters(sampleTrades())
	require.NoError(t, err)

	adjusted := AutoAdjust(DefaultParams(), r, 0.5)
	assert.Equal(t, 35, adjusted.TargetDTE)
	assert.InDelta(t, 0.35, adjusted.TargetDelta, 1e-9)
	assert.InDelta(t, 0.275, adjusted.MinDelta, 0.006)
	assert.InDelta(t, 0.425, adjusted.MaxDelta, 0.006)
	assert.InDelta(t, 27.0, adjusted.MinAnnualReturn, 1e-9)

	assert.Equal(t, DefaultParams(), AutoAdjust(DefaultParams(), nil, 0.3))
}

func TestReport(t *testing.T) {
	r, err := New(quietLogger()).FindOptimalParameters(sampleTrades())
	require.NoError(t, err)

	var b strings.Builder
	require.NoError(t, Report(&b, r))
	out := b.String()
	assert.Contains(t, out, "40 days")
	assert.Contains(t, out, "AAPL")
	assert.Contains(t, out, "$800.00")

	b.Reset()
	require.NoError(t, Report(&b, nil))
	assert.Equal(t, "Insufficient data for optimization report\n", b.String())
}
