package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/gregtusar/coveredcalls/pkg/models"
)

// Paper routes market data to an upstream broker and simulates execution in
// memory. Limit orders fill immediately at their limit price; market orders
// fill at the request price when one is given and are rejected otherwise.
type Paper struct {
	upstream Broker
	logger   *logrus.Logger
	now      func() time.Time

	mu     sync.RWMutex
	orders map[string]*models.Order
	credit float64
}

func NewPaper(upstream Broker, logger *logrus.Logger) *Paper {
	return &Paper{
		upstream: upstream,
		logger:   logger,
		now:      time.Now,
		orders:   make(map[string]*models.Order),
	}
}

// AccountSummary adds the net premium of simulated fills to upstream cash.
func (p *Paper) AccountSummary(ctx context.Context) (*models.AccountSummary, error) {
	summary, err := p.upstream.AccountSummary(ctx)
	if err != nil {
		return nil, err
	}

	p.mu.RLock()
	credit := p.credit
	p.mu.RUnlock()

	out := *summary
	out.TotalCash += credit
	out.NetLiquidation += credit
	return &out, nil
}

func (p *Paper) StockPositions(ctx context.Context) ([]models.StockPosition, error) {
	return p.upstream.StockPositions(ctx)
}

func (p *Paper) StockPrice(ctx context.Context, symbol string) (float64, error) {
	return p.upstream.StockPrice(ctx, symbol)
}

func (p *Paper) OptionChain(ctx context.Context, symbol string, maxDTE int) ([]models.OptionContract, error) {
	return p.upstream.OptionChain(ctx, symbol, maxDTE)
}

func (p *Paper) IVHistory(ctx context.Context, symbol string, days int) ([]float64, error) {
	return p.upstream.IVHistory(ctx, symbol, days)
}

func (p *Paper) PlaceOrder(_ context.Context, req *models.OrderRequest) (*models.Order, error) {
	if err := ValidateOrder(req); err != nil {
		return nil, err
	}

	now := p.now()
	order := &models.Order{
		OrderID:     uuid.NewString(),
		ContractID:  req.ContractID,
		Symbol:      req.Symbol,
		Side:        req.Side,
		Type:        req.Type,
		Price:       req.Price,
		Quantity:    req.Quantity,
		TimeInForce: req.TimeInForce,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if req.Price > 0 {
		order.Status = models.OrderStatusFilled
		order.FilledQuantity = req.Quantity
		order.AvgFillPrice = req.Price
	} else {
		order.Status = models.OrderStatusRejected
	}

	p.mu.Lock()
	p.orders[order.OrderID] = order
	if order.Status == models.OrderStatusFilled {
		notional := order.AvgFillPrice * float64(order.FilledQuantity*models.SharesPerContract)
		if order.Side == models.OrderSideSell {
			p.credit += notional
		} else {
			p.credit -= notional
		}
	}
	p.mu.Unlock()

	p.logger.WithFields(logrus.Fields{
		"order_id": order.OrderID,
		"symbol":   order.Symbol,
		"side":     order.Side,
		"price":    order.Price,
		"quantity": order.Quantity,
		"status":   order.Status,
	}).Info("Paper order")

	copied := *order
	return &copied, nil
}

func (p *Paper) CancelOrder(_ context.Context, orderID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	order, ok := p.orders[orderID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	if order.Status.IsDone() {
		return fmt.Errorf("%w: %s", ErrOrderDone, orderID)
	}
	order.Status = models.OrderStatusCancelled
	order.UpdatedAt = p.now()
	return nil
}

func (p *Paper) GetOrder(_ context.Context, orderID string) (*models.Order, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	order, ok := p.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	copied := *order
	return &copied, nil
}
