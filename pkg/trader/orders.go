package trader

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gregtusar/coveredcalls/pkg/broker"
	"github.com/gregtusar/coveredcalls/pkg/models"
)

// cancelTimeout bounds the cancel and final status check of an order whose
// wait ran out.
const cancelTimeout = 10 * time.Second

// lockSymbol serializes trading on one underlying. Coverage is checked and
// the filled position added to the portfolio under the same lock.
func (e *Engine) lockSymbol(symbol string) func() {
	symbol = strings.ToUpper(symbol)

	e.mu.Lock()
	l, ok := e.symbolLocks[symbol]
	if !ok {
		l = &sync.Mutex{}
		e.symbolLocks[symbol] = l
	}
	e.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// awaitFill polls a working order until it is done or the order timeout
// passes, then cancels it. The returned order has a positive FilledQuantity;
// a fill that lands before the cancel is kept.
func (e *Engine) awaitFill(ctx context.Context, order *models.Order) (*models.Order, error) {
	if order.Status == models.OrderStatusFilled {
		return order, nil
	}
	if order.Status.IsDone() {
		return nil, fmt.Errorf("%w: %s is %s", ErrOrderRejected, order.OrderID, order.Status)
	}

	waitCtx, cancel := context.WithTimeout(ctx, e.cfg.OrderTimeout)
	defer cancel()
	ticker := time.NewTicker(e.cfg.OrderPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-waitCtx.Done():
			return e.cancelWorking(ctx, order)
		case <-ticker.C:
		}

		current, err := e.broker.GetOrder(waitCtx, order.OrderID)
		if err != nil {
			e.logger.WithError(err).WithField("order_id", order.OrderID).Warn("Failed to poll order")
			continue
		}
		order = current

		switch {
		case order.Status == models.OrderStatusFilled:
			return order, nil
		case order.Status.IsDone() && order.FilledQuantity > 0:
			return order, nil
		case order.Status.IsDone():
			return nil, fmt.Errorf("%w: %s is %s", ErrOrderRejected, order.OrderID, order.Status)
		}
	}
}

// cancelWorking cancels an order that did not fill in time and reads its
// final state. It runs detached from ctx so a cancelled caller still pulls
// its order.
func (e *Engine) cancelWorking(ctx context.Context, order *models.Order) (*models.Order, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cancelTimeout)
	defer cancel()

	fields := logrus.Fields{
		"order_id": order.OrderID,
		"symbol":   order.Symbol,
		"side":     order.Side,
		"timeout":  e.cfg.OrderTimeout,
	}

	if err := e.broker.CancelOrder(ctx, order.OrderID); err != nil && !errors.Is(err, broker.ErrOrderDone) {
		e.logger.WithError(err).WithFields(fields).Error("Failed to cancel unfilled order, it may still be working")
		return nil, fmt.Errorf("%w: cancel of %s failed: %w", ErrOrderTimeout, order.OrderID, err)
	}

	final, err := e.broker.GetOrder(ctx, order.OrderID)
	if err != nil {
		e.logger.WithError(err).WithFields(fields).Error("Failed to read cancelled order")
		return nil, fmt.Errorf("%w: %s: %w", ErrOrderTimeout, order.OrderID, err)
	}
	if final.FilledQuantity > 0 {
		fields["filled"] = final.FilledQuantity
		fields["quantity"] = final.Quantity
		e.logger.WithFields(fields).Warn("Order filled before cancel")
		return final, nil
	}

	e.logger.WithFields(fields).Warn("Cancelled unfilled order")
	return nil, fmt.Errorf("%w: %s cancelled after %s", ErrOrderTimeout, order.OrderID, e.cfg.OrderTimeout)
}
