package common

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side denotes order side.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the closing side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Sign is +1 for buys and -1 for sells.
func (s Side) Sign() decimal.Decimal {
	if s == SideSell {
		return decimal.NewFromInt(-1)
	}
	return decimal.NewFromInt(1)
}

// Valid reports whether s is a known side.
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// OrderType denotes the order types the core can route.
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
	OrderTypeStop   OrderType = "STOP"
)

// Valid reports whether t is a known order type.
func (t OrderType) Valid() bool {
	switch t {
	case OrderTypeMarket, OrderTypeLimit, OrderTypeStop:
		return true
	default:
		return false
	}
}

// TimeInForce captures TIF semantics.
type TimeInForce string

const (
	TIFGTC TimeInForce = "GTC" // Good Till Cancelled
	TIFIOC TimeInForce = "IOC" // Immediate Or Cancel
	TIFFOK TimeInForce = "FOK" // Fill Or Kill
)

// OrderRequest captures an order intent to be sent to a venue.
type OrderRequest struct {
	ClientID    string
	Symbol      string
	Side        Side
	Type        OrderType
	Qty         decimal.Decimal
	Price       decimal.Decimal // required for LIMIT
	StopPrice   decimal.Decimal // required for STOP
	TimeInForce TimeInForce
}

// Ack is the venue acknowledgement of a placed order.
type Ack struct {
	ClientID     string
	VenueOrderID string
	AcceptedAt   time.Time
}

// Fill is an asynchronous execution report keyed by client order id.
// Seq numbers fills per order starting at 1; zero means the venue does not sequence.
// Final marks the last fill the venue will send; an unfilled remainder has
// expired, as for IOC orders.
type Fill struct {
	ID      string
	OrderID string
	Seq     uint64
	Qty     decimal.Decimal
	Price   decimal.Decimal
	Fee     decimal.Decimal
	Time    time.Time
	Final   bool
}
