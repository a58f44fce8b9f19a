package broker

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gregtusar/coveredcalls/pkg/models"
)

var demoNow = time.Date(2024, 6, 3, 15, 0, 0, 0, time.UTC)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestValidateOrder(t *testing.T) {
	valid := models.OrderRequest{ContractID: "1", Side: models.OrderSideSell, Type: models.OrderTypeLimit, Price: 2.5, Quantity: 1}
	assert.NoError(t, ValidateOrder(&valid))

	tests := []struct {
		name   string
		mutate func(*models.OrderRequest)
	}{
		{"zero quantity", func(r *models.OrderRequest) { r.Quantity = 0 }},
		{"bad side", func(r *models.OrderRequest) { r.Side = "HOLD" }},
		{"limit without price", func(r *models.OrderRequest) { r.Price = 0 }},
		{"no instrument", func(r *models.OrderRequest) { r.ContractID = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid
			tt.mutate(&req)
			assert.ErrorIs(t, ValidateOrder(&req), ErrInvalidOrder)
		})
	}
	assert.ErrorIs(t, ValidateOrder(nil), ErrInvalidOrder)
}

func TestDemoChain(t *testing.T) {
	ctx := context.Background()
	d := NewDemo(func() time.Time { return demoNow })

	chain, err := d.OptionChain(ctx, "aapl", 30)
	require.NoError(t, err)
	assert.Len(t, chain, 20)

	for _, o := range chain {
		assert.Equal(t, "AAPL", o.Symbol)
		assert.Equal(t, models.OptionTypeCall, o.Type)
		assert.LessOrEqual(t, o.DaysToExpirationAt(demoNow), 30)
		assert.Greater(t, o.Ask, o.Bid)
		assert.True(t, o.IsLiquid())
		assert.Greater(t, o.Delta, 0.0)
		assert.Less(t, o.Delta, 1.0)
	}

	_, err = d.OptionChain(ctx, "ZZZZ", 45)
	assert.ErrorIs(t, err, ErrSymbolNotFound)

	history, err := d.IVHistory(ctx, "AAPL", 60)
	require.NoError(t, err)
	assert.Len(t, history, 60)
}

func TestDemoOrders(t *testing.T) {
	ctx := context.Background()
	d := NewDemo(nil)

	order, err := d.PlaceOrder(ctx, &models.OrderRequest{Symbol: "AAPL", Side: models.OrderSideSell, Type: models.OrderTypeLimit, Price: 3, Quantity: 1})
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusFilled, order.Status)

	got, err := d.GetOrder(ctx, order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, order.OrderID, got.OrderID)

	assert.ErrorIs(t, d.CancelOrder(ctx, order.OrderID), ErrOrderDone)
	assert.ErrorIs(t, d.CancelOrder(ctx, "nope"), ErrOrderNotFound)
}

func TestPaper(t *testing.T) {
	ctx := context.Background()
	p := NewPaper(NewDemo(func() time.Time { return demoNow }), quietLogger())

	before, err := p.AccountSummary(ctx)
	require.NoError(t, err)

	sell, err := p.PlaceOrder(ctx, &models.OrderRequest{
		ContractID: "AAPL-C-190", Symbol: "AAPL",
		Side: models.OrderSideSell, Type: models.OrderTypeLimit, Price: 3.50, Quantity: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusFilled, sell.Status)
	assert.Equal(t, 2, sell.FilledQuantity)

	after, err := p.AccountSummary(ctx)
	require.NoError(t, err)
	assert.InDelta(t, before.TotalCash+700, after.TotalCash, 1e-9)

	mkt, err := p.PlaceOrder(ctx, &models.OrderRequest{
		Symbol: "AAPL", Side: models.OrderSideBuy, Type: models.OrderTypeMarket, Quantity: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusRejected, mkt.Status)

	got, err := p.GetOrder(ctx, sell.OrderID)
	require.NoError(t, err)
	assert.Equal(t, sell.OrderID, got.OrderID)

	assert.ErrorIs(t, p.CancelOrder(ctx, sell.OrderID), ErrOrderDone)
	assert.ErrorIs(t, p.CancelOrder(ctx, "missing"), ErrOrderNotFound)

	price, err := p.StockPrice(ctx, "MSFT")
	require.NoError(t, err)
	assert.Equal(t, 392.15, price)
}

type countingBroker struct {
	Broker
	chains int
	iv     int
}

func (c *countingBroker) OptionChain(ctx context.Context, symbol string, maxDTE int) ([]models.OptionContract, error) {
	c.chains++
	return c.Broker.OptionChain(ctx, symbol, maxDTE)
}

func (c *countingBroker) IVHistory(ctx context.Context, symbol string, days int) ([]float64, error) {
	c.iv++
	return c.Broker.IVHistory(ctx, symbol, days)
}

func TestCached(t *testing.T) {
	ctx := context.Background()
	upstream := &countingBroker{Broker: NewDemo(func() time.Time { return demoNow })}
	c := NewCached(upstream, time.Minute)

	first, err := c.OptionChain(ctx, "AAPL", 45)
	require.NoError(t, err)
	first[0].Strike = -1

	second, err := c.OptionChain(ctx, "aapl", 45)
	require.NoError(t, err)
	assert.Equal(t, 1, upstream.chains)
	assert.NotEqual(t, -1.0, second[0].Strike)

	_, err = c.OptionChain(ctx, "AAPL", 30)
	require.NoError(t, err)
	assert.Equal(t, 2, upstream.chains)

	_, err = c.OptionChain(ctx, "ZZZZ", 45)
	assert.ErrorIs(t, err, ErrSymbolNotFound)
	_, err = c.OptionChain(ctx, "ZZZZ", 45)
	assert.ErrorIs(t, err, ErrSymbolNotFound)
	assert.Equal(t, 4, upstream.chains)

	for i := 0; i < 3; i++ {
		_, err = c.IVHistory(ctx, "AAPL", 252)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, upstream.iv)

	c.Flush()
	_, err = c.OptionChain(ctx, "AAPL", 45)
	require.NoError(t, err)
	assert.Equal(t, 5, upstream.chains)

	price, err := c.StockPrice(ctx, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, 182.30, price)
}
