package models

import (
	"time"
)

type Order struct {
	OrderID        string      `json:"order_id"`
	ContractID     string      `json:"contract_id"`
	Symbol         string      `json:"symbol"`
	Side           OrderSide   `json:"side"`
	Type           OrderType   `json:"type"`
	Price          float64     `json:"price"`
	Quantity       int         `json:"quantity"`
	FilledQuantity int         `json:"filled_quantity"`
	AvgFillPrice   float64     `json:"avg_fill_price"`
	Status         OrderStatus `json:"status"`
	TimeInForce    string      `json:"time_in_force"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

type OrderType string

const (
	OrderTypeMarket OrderType = "MKT"
	OrderTypeLimit  OrderType = "LMT"
)

type OrderStatus string

const (
	OrderStatusSubmitted       OrderStatus = "submitted"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusCancelled       OrderStatus = "cancelled"
	OrderStatusRejected        OrderStatus = "rejected"
)

func (s OrderStatus) IsDone() bool {
	return s == OrderStatusFilled || s == OrderStatusCancelled || s == OrderStatusRejected
}

// OrderRequest quantities are in contracts.
type OrderRequest struct {
	ContractID  string    `json:"contract_id"`
	Symbol      string    `json:"symbol"`
	Side        OrderSide `json:"side"`
	Type        OrderType `json:"type"`
	Price       float64   `json:"price"`
	Quantity    int       `json:"quantity"`
	TimeInForce string    `json:"time_in_force"`
}
