package entry

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/gregtusar/coveredcalls/pkg/earnings"
	"github.com/gregtusar/coveredcalls/pkg/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

type fakeIV struct {
	history []float64
	err     error
}

func (f fakeIV) IVHistory(context.Context, string, int) ([]float64, error) {
	return f.history, f.err
}

func linearHistory(lo, hi float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = lo + (hi-lo)*float64(i)/float64(n-1)
	}
	return out
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newFilter(iv IVHistorySource, dates earnings.StaticProvider) *Filter {
	cal := earnings.NewCalendar(dates, time.Hour, quietLogger()).WithClock(func() time.Time { return testNow })
	return NewFilter(iv, cal, 0, quietLogger()).WithClock(func() time.Time { return testNow })
}

func goodOption() models.OptionContract {
	return models.OptionContract{
		Symbol:            "AAPL",
		Strike:            190,
		Expiration:        testNow.AddDate(0, 0, 30),
		Type:              models.OptionTypeCall,
		Premium:           3.5,
		ImpliedVolatility: 35,
		Volume:            500,
		OpenInterest:      2000,
		Bid:               3.45,
		Ask:               3.55,
	}
}

func TestIVRank(t *testing.T) {
	history := linearHistory(20, 40, 60)

	assert.InDelta(t, 50.0, IVRank(history, 30), 1e-9)
	assert.Equal(t, 100.0, IVRank(history, 55))
	assert.Equal(t, 0.0, IVRank(history, 10))
	assert.Equal(t, 50.0, IVRank(history[:29], 39))
	assert.Equal(t, 50.0, IVRank(make([]float64, 40), 39))
}

func TestEvaluate(t *testing.T) {
	ctx := context.Background()
	history := fakeIV{history: linearHistory(20, 40, 60)}

	t.Run("all checks pass", func(t *testing.T) {
		f := newFilter(history, earnings.StaticProvider{"AAPL": testNow.AddDate(0, 0, 60)})
		d, err := f.Evaluate(ctx, goodOption(), 185)
		require.NoError(t, err)

		assert.True(t, d.ShouldTrade)
		assert.Equal(t, 100.0, d.Score)
		assert.InDelta(t, 75.0, d.IVRank, 1e-9)
		assert.Empty(t, d.Reasons)
		assert.False(t, d.EarningsRisk)
		assert.Equal(t, "Very High (Top 30%)", d.IVPercentile)
		assert.Equal(t, "EXCELLENT - Strong entry opportunity", d.Recommendation)
	})

	t.Run("earnings before expiration blocks at 80 minimum", func(t *testing.T) {
		f := newFilter(history, earnings.StaticProvider{"AAPL": testNow.AddDate(0, 0, 10)})
		o := goodOption()
		o.Strike = 186
		d, err := f.Evaluate(ctx, o, 185)
		require.NoError(t, err)

		assert.False(t, d.ShouldTrade)
		assert.Equal(t, 60.0, d.Score)
		assert.True(t, d.EarningsRisk)
		assert.Contains(t, d.Reasons, "Earnings in 10 days")
		assert.Len(t, d.Reasons, 2)
	})

	t.Run("low rank and illiquid", func(t *testing.T) {
		f := newFilter(history, earnings.StaticProvider{})
		o := goodOption()
		o.ImpliedVolatility = 22
		o.Volume = 3
		o.Bid, o.Ask = 1.0, 1.5
		o.Strike = 220
		d, err := f.Evaluate(ctx, o, 185)
		require.NoError(t, err)

		assert.Equal(t, 20.0, d.Score)
		assert.False(t, d.Checks.IVRank)
		assert.True(t, d.Checks.NoEarnings)
		assert.False(t, d.Checks.Liquidity)
		assert.False(t, d.Checks.Spread)
		assert.False(t, d.Checks.StrikeDistance)
		assert.Len(t, d.Reasons, 4)
		assert.Equal(t, "POOR - Wait for better conditions", d.Recommendation)
	})

	t.Run("history failure uses neutral rank", func(t *testing.T) {
		f := newFilter(fakeIV{err: errors.New("gateway down")}, earnings.StaticProvider{})
		d, err := f.Evaluate(ctx, goodOption(), 185)
		require.NoError(t, err)
		assert.Equal(t, 50.0, d.IVRank)
		assert.True(t, d.ShouldTrade)
		assert.Equal(t, "GOOD - Acceptable entry", d.Recommendation)
	})

	t.Run("invalid price", func(t *testing.T) {
		f := newFilter(history, earnings.StaticProvider{})
		_, err := f.Evaluate(ctx, goodOption(), 0)
		assert.Error(t, err)
	})
}

func TestEntryTiming(t *testing.T) {
	ctx := context.Background()
	history := fakeIV{history: linearHistory(20, 40, 60)}

	f := newFilter(history, earnings.StaticProvider{"AAPL": testNow.AddDate(0, 0, 20)})
	timing := f.EntryTiming(ctx, "AAPL", 38, 45)
	assert.Equal(t, "excellent", timing.Quality)
	assert.True(t, timing.ShouldWait)
	assert.Equal(t, "WAIT - Earnings too close", timing.Recommendation)
	require.NotNil(t, timing.NextEarnings)

	timing = f.EntryTiming(ctx, "MSFT", 24, 45)
	assert.Equal(t, "very_poor", timing.Quality)
	assert.Equal(t, "AVOID - Very poor IV environment", timing.Recommendation)
}
