// Package broker defines the brokerage surface the engine trades through and
// provides the demo and paper implementations.
package broker

import (
	"context"
	"errors"

	"github.com/gregtusar/coveredcalls/pkg/models"
)

var (
	ErrSymbolNotFound = errors.New("symbol not found")
	ErrOrderNotFound  = errors.New("order not found")
	ErrOrderDone      = errors.New("order already completed")
	ErrInvalidOrder   = errors.New("invalid order")
)

type Broker interface {
	AccountSummary(ctx context.Context) (*models.AccountSummary, error)
	StockPositions(ctx context.Context) ([]models.StockPosition, error)
	StockPrice(ctx context.Context, symbol string) (float64, error)
	// OptionChain returns calls on symbol expiring within maxDTE days.
	OptionChain(ctx context.Context, symbol string, maxDTE int) ([]models.OptionContract, error)
	// IVHistory returns daily implied (or realized) volatility in percent, oldest first.
	IVHistory(ctx context.Context, symbol string, days int) ([]float64, error)
	PlaceOrder(ctx context.Context, order *models.OrderRequest) (*models.Order, error)
	CancelOrder(ctx context.Context, orderID string) error
	GetOrder(ctx context.Context, orderID string) (*models.Order, error)
}

// ValidateOrder rejects requests no venue would accept.
func ValidateOrder(order *models.OrderRequest) error {
	switch {
	case order == nil:
		return ErrInvalidOrder
	case order.Quantity <= 0:
		return errors.Join(ErrInvalidOrder, errors.New("quantity must be positive"))
	case order.Side != models.OrderSideBuy && order.Side != models.OrderSideSell:
		return errors.Join(ErrInvalidOrder, errors.New("unknown side"))
	case order.Type == models.OrderTypeLimit && order.Price <= 0:
		return errors.Join(ErrInvalidOrder, errors.New("limit price must be positive"))
	case order.ContractID == "" && order.Symbol == "":
		return errors.Join(ErrInvalidOrder, errors.New("contract or symbol required"))
	}
	return nil
}
