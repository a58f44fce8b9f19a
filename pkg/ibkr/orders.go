package ibkr

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gregtusar/coveredcalls/pkg/broker"
	"github.com/gregtusar/coveredcalls/pkg/models"
)

// maxReplies bounds how many precautionary questions are confirmed for one order.
const maxReplies = 5

func (c *Client) PlaceOrder(ctx context.Context, req *models.OrderRequest) (*models.Order, error) {
	if err := broker.ValidateOrder(req); err != nil {
		return nil, err
	}
	if req.ContractID == "" {
		return nil, fmt.Errorf("%w: contract id required", broker.ErrInvalidOrder)
	}
	conid, err := parseConID(req.ContractID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", broker.ErrInvalidOrder, err)
	}

	id, err := c.Account(ctx)
	if err != nil {
		return nil, err
	}

	tif := req.TimeInForce
	if tif == "" {
		tif = "DAY"
	}
	body := orderBody{Orders: []orderTicket{{
		ConID:     conid,
		OrderType: string(req.Type),
		Price:     req.Price,
		Side:      string(req.Side),
		Quantity:  req.Quantity,
		TIF:       tif,
	}}}

	var replies []orderReply
	if err := c.doRequest(ctx, http.MethodPost, "/iserver/account/"+id+"/orders", body, &replies); err != nil {
		return nil, err
	}

	for i := 0; i < maxReplies; i++ {
		if len(replies) == 0 {
			return nil, fmt.Errorf("%w: empty order response", ErrAPI)
		}
		if replies[0].OrderID != "" {
			break
		}
		c.logger.WithFields(logrus.Fields{
			"reply_id": replies[0].ReplyID,
			"message":  strings.Join(replies[0].Message, " "),
		}).Info("Confirming order warning")

		var next []orderReply
		confirm := map[string]bool{"confirmed": true}
		if err := c.doRequest(ctx, http.MethodPost, "/iserver/reply/"+replies[0].ReplyID, confirm, &next); err != nil {
			return nil, err
		}
		replies = next
	}
	if len(replies) == 0 || replies[0].OrderID == "" {
		return nil, fmt.Errorf("%w: order was not acknowledged", ErrAPI)
	}

	now := c.now()
	order := &models.Order{
		OrderID:     replies[0].OrderID,
		ContractID:  req.ContractID,
		Symbol:      req.Symbol,
		Side:        req.Side,
		Type:        req.Type,
		Price:       req.Price,
		Quantity:    req.Quantity,
		Status:      mapStatus(replies[0].OrderStatus),
		TimeInForce: tif,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	c.logger.WithFields(logrus.Fields{
		"order_id": order.OrderID,
		"symbol":   order.Symbol,
		"side":     order.Side,
		"price":    order.Price,
		"quantity": order.Quantity,
	}).Info("Order placed")
	return order, nil
}

func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	id, err := c.Account(ctx)
	if err != nil {
		return err
	}
	return c.doRequest(ctx, http.MethodDelete, "/iserver/account/"+id+"/order/"+orderID, nil, nil)
}

func (c *Client) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	var s orderStatus
	if err := c.doRequest(ctx, http.MethodGet, "/iserver/account/order/status/"+orderID, nil, &s); err != nil {
		return nil, err
	}
	if s.OrderID == "" {
		return nil, fmt.Errorf("%w: %s", broker.ErrOrderNotFound, orderID)
	}

	return &models.Order{
		OrderID:        s.OrderID,
		ContractID:     fmt.Sprintf("%d", s.ConID),
		Symbol:         s.Symbol,
		Side:           models.OrderSide(strings.ToUpper(s.Side)),
		Type:           models.OrderType(strings.ToUpper(s.OrderType)),
		Price:          parseFieldValue(s.LimitPrice),
		Quantity:       int(parseFieldValue(s.TotalSize)),
		FilledQuantity: int(parseFieldValue(s.CumFill)),
		AvgFillPrice:   parseFieldValue(s.AveragePrice),
		Status:         mapStatus(s.OrderStatus),
		TimeInForce:    s.TimeInForce,
		UpdatedAt:      c.now(),
	}, nil
}

func mapStatus(raw string) models.OrderStatus {
	switch strings.ToLower(raw) {
	case "filled":
		return models.OrderStatusFilled
	case "cancelled", "pendingcancel", "apicancelled":
		return models.OrderStatusCancelled
	case "inactive", "rejected":
		return models.OrderStatusRejected
	case "partiallyfilled":
		return models.OrderStatusPartiallyFilled
	default:
		return models.OrderStatusSubmitted
	}
}

// Tickle keeps the gateway session alive.
func (c *Client) Tickle(ctx context.Context) error {
	return c.doRequest(ctx, http.MethodPost, "/tickle", nil, nil)
}

// KeepAlive tickles the session every interval until ctx is done.
func (c *Client) KeepAlive(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Tickle(ctx); err != nil {
				c.logger.WithError(err).Warn("Gateway keepalive failed")
			}
		}
	}
}
