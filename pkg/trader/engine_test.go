package trader

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gregtusar/coveredcalls/pkg/broker"
	"github.com/gregtusar/coveredcalls/pkg/earnings"
	"github.com/gregtusar/coveredcalls/pkg/entry"
	"github.com/gregtusar/coveredcalls/pkg/ledger"
	"github.com/gregtusar/coveredcalls/pkg/models"
	"github.com/gregtusar/coveredcalls/pkg/portfolio"
	"github.com/gregtusar/coveredcalls/pkg/risk"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fixture struct {
	engine *Engine
	demo   *broker.Demo
	ledger *ledger.Ledger
	clock  *testClock
	logger *logrus.Logger
}

func newFixture(t *testing.T, cfg Config, opts ...Option) *fixture {
	t.Helper()
	return newFixtureWith(t, cfg, nil, opts...)
}

// newFixtureWith lets wrap put a broker in front of the demo one.
func newFixtureWith(t *testing.T, cfg Config, wrap func(*broker.Demo) broker.Broker, opts ...Option) *fixture {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	l, err := ledger.Open(ledger.Options{Driver: ledger.DriverSQLite, DSN: ":memory:"}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })

	clock := &testClock{t: time.Date(2024, 6, 3, 14, 0, 0, 0, time.UTC)}
	demo := broker.NewDemo(clock.Now)

	if cfg.CommissionPerContract == 0 {
		cfg.CommissionPerContract = 0.65
	}
	base := []Option{
		WithLedger(l),
		WithClock(clock.Now),
		WithSafetyManager(risk.NewSafetyManagerWithClock(risk.ModeDemo, risk.DefaultTradingLimits(), clock.Now)),
	}
	var b broker.Broker = demo
	if wrap != nil {
		b = wrap(demo)
	}
	e := New(b, cfg, logger, append(base, opts...)...)
	return &fixture{engine: e, demo: demo, ledger: l, clock: clock, logger: logger}
}

// contract picks the demo call with the given strike and days to expiration.
func (f *fixture) contract(t *testing.T, symbol string, strike float64, dte int) models.OptionContract {
	t.Helper()
	chain, err := f.demo.OptionChain(context.Background(), symbol, 60)
	require.NoError(t, err)
	for _, o := range chain {
		if o.Strike == strike && o.DaysToExpirationAt(f.clock.Now()) == dte {
			return o
		}
	}
	t.Fatalf("no %s %.0f call at %d days", symbol, strike, dte)
	return models.OptionContract{}
}

func subscribe(t *testing.T, e *Engine, topic string) <-chan Event {
	t.Helper()
	ch := make(chan Event, 16)
	require.NoError(t, e.Bus().SubscribeAsync(topic, func(ev Event) { ch <- ev }, false))
	return ch
}

func waitEvent(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestRecommend(t *testing.T) {
	f := newFixture(t, Config{})

	rec, err := f.engine.Recommend(context.Background(), "aapl", models.RiskModerate, 3)
	require.NoError(t, err)

	assert.Equal(t, "AAPL", rec.Symbol)
	assert.Equal(t, 182.30, rec.StockPrice)
	assert.Equal(t, models.RiskModerate, rec.RiskLevel)
	require.Len(t, rec.Options, 3)
	for i, o := range rec.Options {
		assert.GreaterOrEqual(t, o.DTE, 7)
		assert.LessOrEqual(t, o.DTE, 45)
		if i > 0 {
			assert.GreaterOrEqual(t, rec.Options[i-1].Score, o.Score)
		}
	}

	_, err = f.engine.Recommend(context.Background(), "AAPL", models.RiskLevel("YOLO"), 3)
	assert.ErrorIs(t, err, models.ErrUnknownRiskLevel)

	_, err = f.engine.Recommend(context.Background(), "ZZZZ", models.RiskModerate, 3)
	assert.ErrorIs(t, err, broker.ErrSymbolNotFound)
}

func TestSellCoveredCall(t *testing.T) {
	ctx := context.Background()

	t.Run("opens and records position", func(t *testing.T) {
		f := newFixture(t, Config{})
		opened := subscribe(t, f.engine, TopicPositionOpened)
		option := f.contract(t, "AAPL", 190, 30)

		p, err := f.engine.SellCoveredCall(ctx, SellRequest{Symbol: "AAPL", ContractID: option.ContractID, Contracts: 1})
		require.NoError(t, err)

		assert.NotEmpty(t, p.ID)
		assert.Equal(t, models.PositionStatusOpen, p.Status)
		assert.Equal(t, 1, p.Contracts)
		assert.InDelta(t, option.MidPrice()*100, p.PremiumCollected, 1)
		assert.InDelta(t, 0.65, p.Commission, 1e-9)
		assert.Len(t, f.engine.Positions(), 1)

		trades, err := f.ledger.OpenTrades(ctx)
		require.NoError(t, err)
		require.Len(t, trades, 1)
		assert.Equal(t, p.ID, trades[0].PositionID)
		assert.Equal(t, "DEMO", trades[0].TradingMode)
		assert.Equal(t, 30, trades[0].DTEAtOpen)

		ev := waitEvent(t, opened)
		assert.Equal(t, TopicPositionOpened, ev.Type)
		assert.Equal(t, p.ID, ev.Data.(models.CoveredCall).ID)

		assert.Equal(t, 1, f.engine.Safety().TodaysTrades)
	})

	t.Run("explicit option and limit", func(t *testing.T) {
		f := newFixture(t, Config{})
		option := f.contract(t, "AAPL", 195, 45)

		p, err := f.engine.SellCoveredCall(ctx, SellRequest{Symbol: "AAPL", Option: &option, Contracts: 1, LimitPrice: 3.456})
		require.NoError(t, err)
		assert.InDelta(t, 346.0, p.PremiumCollected, 1e-6)

		_, err = f.engine.SellCoveredCall(ctx, SellRequest{Symbol: "AAPL", Option: &option, Contracts: 2})
		assert.ErrorIs(t, err, risk.ErrInsufficientShares)
	})

	t.Run("coverage", func(t *testing.T) {
		f := newFixture(t, Config{})
		option := f.contract(t, "AAPL", 190, 30)

		_, err := f.engine.SellCoveredCall(ctx, SellRequest{Symbol: "AAPL", Option: &option, Contracts: 3})
		assert.ErrorIs(t, err, risk.ErrInsufficientShares)

		_, err = f.engine.SellCoveredCall(ctx, SellRequest{Symbol: "AAPL", Option: &option, Contracts: 1})
		require.NoError(t, err)

		_, err = f.engine.SellCoveredCall(ctx, SellRequest{Symbol: "AAPL", Option: &option, Contracts: 2})
		assert.ErrorIs(t, err, risk.ErrInsufficientShares)
	})

	t.Run("safety blocks short expirations", func(t *testing.T) {
		f := newFixture(t, Config{})
		option := f.contract(t, "AAPL", 190, 15)

		_, err := f.engine.SellCoveredCall(ctx, SellRequest{Symbol: "AAPL", Option: &option, Contracts: 1})
		assert.ErrorIs(t, err, ErrTradeBlocked)
		assert.Contains(t, err.Error(), "Expiration too soon")
		assert.Empty(t, f.engine.Positions())
	})

	t.Run("risk limits", func(t *testing.T) {
		f := newFixture(t, Config{})
		option := f.contract(t, "MSFT", 405, 30)

		_, err := f.engine.SellCoveredCall(ctx, SellRequest{Symbol: "MSFT", Option: &option, Contracts: 1})
		assert.ErrorIs(t, err, ErrRiskRejected)
	})

	t.Run("lookup failures", func(t *testing.T) {
		f := newFixture(t, Config{})

		_, err := f.engine.SellCoveredCall(ctx, SellRequest{Symbol: "AAPL", ContractID: "nope", Contracts: 1})
		assert.ErrorIs(t, err, ErrContractUnknown)

		option := f.contract(t, "NVDA", 900, 30)
		_, err = f.engine.SellCoveredCall(ctx, SellRequest{Symbol: "NVDA", Option: &option, Contracts: 1})
		assert.ErrorIs(t, err, ErrNoStockPosition)
	})
}

func TestClosePosition(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})
	closedEvents := subscribe(t, f.engine, TopicPositionClosed)
	option := f.contract(t, "AAPL", 190, 30)

	p, err := f.engine.SellCoveredCall(ctx, SellRequest{Symbol: "AAPL", Option: &option, Contracts: 1})
	require.NoError(t, err)

	_, err = f.engine.ClosePosition(ctx, p.ID, models.PositionStatusOpen, 1)
	assert.ErrorIs(t, err, portfolio.ErrInvalidStatus)

	_, err = f.engine.ClosePosition(ctx, "missing", models.PositionStatusClosed, 1)
	assert.ErrorIs(t, err, portfolio.ErrPositionNotFound)

	_, err = f.engine.ClosePosition(ctx, p.ID, models.PositionStatusClosed, 0)
	assert.ErrorIs(t, err, broker.ErrInvalidOrder)

	closed, err := f.engine.ClosePosition(ctx, p.ID, models.PositionStatusClosed, 1.00)
	require.NoError(t, err)
	assert.Equal(t, models.PositionStatusClosed, closed.Status)
	assert.Empty(t, f.engine.Positions())
	assert.Len(t, f.engine.ClosedPositions(), 1)

	trade, err := f.ledger.TradeByPosition(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PositionStatusClosed, trade.Status)
	require.True(t, trade.ProfitLoss.Valid)
	assert.InDelta(t, p.NetPremium()-100, trade.ProfitLoss.Decimal.InexactFloat64(), 0.01)

	ev := waitEvent(t, closedEvents)
	assert.InDelta(t, p.NetPremium()-100, ev.Data.(ClosedPosition).ProfitLoss, 1e-9)
}

func TestProfitLoss(t *testing.T) {
	p := models.CoveredCall{
		Stock:            models.StockPosition{Symbol: "AAPL", AverageCost: 180},
		Option:           models.OptionContract{Strike: 190},
		Contracts:        1,
		PremiumCollected: 300,
		Commission:       1,
	}
	assert.InDelta(t, 299.0, profitLoss(p, models.PositionStatusExpired, 0), 1e-9)
	assert.InDelta(t, 1299.0, profitLoss(p, models.PositionStatusAssigned, 0), 1e-9)
	assert.InDelta(t, 199.0, profitLoss(p, models.PositionStatusClosed, 1), 1e-9)
}

func TestRollPosition(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})
	old := f.contract(t, "AAPL", 190, 30)
	next := f.contract(t, "AAPL", 195, 45)

	p, err := f.engine.SellCoveredCall(ctx, SellRequest{Symbol: "AAPL", Option: &old, Contracts: 1})
	require.NoError(t, err)

	rolled, err := f.engine.RollPosition(ctx, p.ID, next)
	require.NoError(t, err)

	assert.NotEqual(t, p.ID, rolled.ID)
	assert.Equal(t, 195.0, rolled.Option.Strike)
	assert.Equal(t, 1, rolled.Contracts)
	assert.Contains(t, rolled.Notes, p.ID)

	require.Len(t, f.engine.ClosedPositions(), 1)
	assert.Equal(t, models.PositionStatusRolled, f.engine.ClosedPositions()[0].Status)
	require.Len(t, f.engine.Positions(), 1)

	oldTrade, err := f.ledger.TradeByPosition(ctx, p.ID)
	require.NoError(t, err)
	newTrade, err := f.ledger.TradeByPosition(ctx, rolled.ID)
	require.NoError(t, err)
	require.NotNil(t, newTrade.RollFromID)
	assert.Equal(t, oldTrade.ID, *newTrade.RollFromID)
	assert.Equal(t, models.PositionStatusRolled, oldTrade.Status)

	_, err = f.engine.RollPosition(ctx, "missing", next)
	assert.ErrorIs(t, err, portfolio.ErrPositionNotFound)

	short := f.contract(t, "AAPL", 195, 15)
	_, err = f.engine.RollPosition(ctx, rolled.ID, short)
	assert.ErrorIs(t, err, ErrTradeBlocked)
	assert.Len(t, f.engine.Positions(), 1)
}

func TestScanAndTrade(t *testing.T) {
	ctx := context.Background()

	t.Run("opens within limits", func(t *testing.T) {
		f := newFixture(t, Config{Symbols: []string{"AAPL", "MSFT", "TSLA"}, TopN: 30})

		opened, err := f.engine.ScanAndTrade(ctx)
		assert.ErrorIs(t, err, ErrRiskRejected)
		require.Len(t, opened, 2)

		symbols := map[string]bool{}
		for _, p := range opened {
			symbols[p.Stock.Symbol] = true
			assert.Equal(t, 1, p.Contracts)
			dte := p.Option.DaysToExpirationAt(f.clock.Now())
			assert.GreaterOrEqual(t, dte, 21)
		}
		assert.True(t, symbols["AAPL"])
		assert.True(t, symbols["TSLA"])
	})

	t.Run("respects symbol list and position cap", func(t *testing.T) {
		f := newFixture(t, Config{Symbols: []string{"AAPL", "TSLA"}, TopN: 30, MaxPositions: 1})

		opened, err := f.engine.ScanAndTrade(ctx)
		require.NoError(t, err)
		require.Len(t, opened, 1)
	})

	t.Run("entry filter can decline", func(t *testing.T) {
		f := newFixture(t, Config{Symbols: []string{"AAPL"}, TopN: 30})
		cal := earnings.NewCalendar(earnings.StaticProvider{}, time.Hour, f.logger).WithClock(f.clock.Now)
		f.engine.entry = entry.NewFilter(f.demo, cal, 101, f.logger).WithClock(f.clock.Now)

		opened, err := f.engine.ScanAndTrade(ctx)
		require.NoError(t, err)
		assert.Empty(t, opened)
	})
}

func TestRefresh(t *testing.T) {
	ctx := context.Background()

	t.Run("suggests roll near expiration", func(t *testing.T) {
		f := newFixture(t, Config{})
		rolls := subscribe(t, f.engine, TopicRollSuggested)
		alerts := subscribe(t, f.engine, TopicAlert)
		option := f.contract(t, "AAPL", 190, 30)

		p, err := f.engine.SellCoveredCall(ctx, SellRequest{Symbol: "AAPL", Option: &option, Contracts: 1})
		require.NoError(t, err)

		f.clock.Advance(25 * 24 * time.Hour)
		f.engine.Refresh(ctx)

		ev := waitEvent(t, rolls)
		suggestion := ev.Data.(RollSuggestion)
		assert.Equal(t, p.ID, suggestion.Position.ID)
		assert.True(t, suggestion.Decision.Roll)

		alert := waitEvent(t, alerts)
		assert.Equal(t, portfolio.AlertExpirationSoon, alert.Data.(portfolio.Alert).Type)
		require.NotEmpty(t, f.engine.Alerts())

		f.engine.Refresh(ctx)
		select {
		case <-rolls:
			t.Fatal("roll suggested twice")
		case <-time.After(100 * time.Millisecond):
		}
	})

	t.Run("settles expired positions", func(t *testing.T) {
		f := newFixture(t, Config{})
		option := f.contract(t, "AAPL", 190, 30)

		p, err := f.engine.SellCoveredCall(ctx, SellRequest{Symbol: "AAPL", Option: &option, Contracts: 1})
		require.NoError(t, err)

		f.clock.Advance(32 * 24 * time.Hour)
		f.engine.Refresh(ctx)

		assert.Empty(t, f.engine.Positions())
		closed := f.engine.ClosedPositions()
		require.Len(t, closed, 1)
		assert.Equal(t, models.PositionStatusExpired, closed[0].Status)

		trade, err := f.ledger.TradeByPosition(ctx, p.ID)
		require.NoError(t, err)
		assert.InDelta(t, p.NetPremium(), trade.ProfitLoss.Decimal.InexactFloat64(), 0.01)
	})
}

func TestRollSuggestions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})
	option := f.contract(t, "AAPL", 190, 30)

	p, err := f.engine.SellCoveredCall(ctx, SellRequest{Symbol: "AAPL", Option: &option, Contracts: 1})
	require.NoError(t, err)

	suggestions, err := f.engine.RollSuggestions(ctx)
	require.NoError(t, err)
	assert.Empty(t, suggestions)

	f.clock.Advance(25 * 24 * time.Hour)
	suggestions, err = f.engine.RollSuggestions(ctx)
	require.NoError(t, err)
	require.Len(t, suggestions, 1)
	assert.Equal(t, p.ID, suggestions[0].Position.ID)
	require.NotEmpty(t, suggestions[0].Candidates)
	for _, c := range suggestions[0].Candidates {
		assert.True(t, c.Option.Expiration.After(option.Expiration))
		assert.GreaterOrEqual(t, c.Option.Strike, 190.0)
	}

	again, err := f.engine.RollSuggestions(ctx)
	require.NoError(t, err)
	assert.Len(t, again, 1)
}

func TestStartRestoresPositions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})
	option := f.contract(t, "AAPL", 190, 30)

	p, err := f.engine.SellCoveredCall(ctx, SellRequest{Symbol: "AAPL", Option: &option, Contracts: 1})
	require.NoError(t, err)

	restarted := New(f.demo, Config{}, f.logger, WithLedger(f.ledger), WithClock(f.clock.Now))
	require.NoError(t, restarted.Start(ctx))
	defer restarted.Stop()

	positions := restarted.Positions()
	require.Len(t, positions, 1)
	assert.Equal(t, p.ID, positions[0].ID)
	assert.Equal(t, 190.0, positions[0].Option.Strike)
	assert.Equal(t, 200, positions[0].Stock.Shares)
	assert.Equal(t, p.Stock.AverageCost, positions[0].Stock.AverageCost)
	assert.InDelta(t, p.MaxProfit(), positions[0].MaxProfit(), 1e-6)
}

func TestKellyAndRisk(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})

	size, err := f.engine.Kelly(ctx, "aapl", 100000, 0)
	require.NoError(t, err)
	assert.Equal(t, "AAPL", size.Symbol)
	assert.Equal(t, 0.10, size.Kelly)
	assert.GreaterOrEqual(t, size.Contracts, 1)

	size, err = f.engine.Kelly(ctx, "AAPL", 0, 0)
	require.NoError(t, err)
	assert.InDelta(t, 12575.05, size.Dollars, 0.01)

	analysis, err := f.engine.RiskAnalysis(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, analysis.OverallRisk)
}
