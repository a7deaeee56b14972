package order

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"execution-core/pkg/exchanges/common"
)

// Status is the lifecycle state of a venue order.
type Status string

const (
	StatusCreated         Status = "CREATED"
	StatusSubmitted       Status = "SUBMITTED"
	StatusPartiallyFilled Status = "PARTIALLY_FILLED"
	StatusFilled          Status = "FILLED"
	StatusCancelled       Status = "CANCELLED"
	StatusRejected        Status = "REJECTED"
	StatusFailed          Status = "FAILED"
)

// IsTerminal reports whether no further transitions are possible.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusFilled, StatusCancelled, StatusRejected, StatusFailed:
		return true
	default:
		return false
	}
}

// Live reports whether the order may still receive fills as part of normal flow.
func (s Status) Live() bool {
	return s == StatusSubmitted || s == StatusPartiallyFilled
}

// Order is a point-in-time copy of one venue order. The manager owns the live state.
type Order struct {
	ID              string             `json:"id"`
	ParentID        string             `json:"parent_id,omitempty"`
	Symbol          string             `json:"symbol"`
	StrategyID      string             `json:"strategy_id"`
	Side            common.Side        `json:"side"`
	Type            common.OrderType   `json:"type"`
	Qty             decimal.Decimal    `json:"qty"`
	FilledQty       decimal.Decimal    `json:"filled_qty"`
	AvgPrice        decimal.Decimal    `json:"avg_price"`
	Price           decimal.Decimal    `json:"price"`
	StopPrice       decimal.Decimal    `json:"stop_price"`
	TimeInForce     common.TimeInForce `json:"tif"`
	Status          Status             `json:"status"`
	Retries         int                `json:"retries"`
	VenueOrderID    string             `json:"venue_order_id,omitempty"`
	Reason          string             `json:"reason,omitempty"`
	CancelRequested bool               `json:"cancel_requested"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
}

// RemainingQty returns the unfilled quantity.
func (o Order) RemainingQty() decimal.Decimal {
	return o.Qty.Sub(o.FilledQty)
}

// Request describes a venue order to create.
type Request struct {
	Symbol      string
	StrategyID  string
	Side        common.Side
	Type        common.OrderType
	Qty         decimal.Decimal
	Price       decimal.Decimal
	StopPrice   decimal.Decimal
	TimeInForce common.TimeInForce
}

// Validate checks the request shape before an order is created.
func (r Request) Validate() error {
	switch {
	case r.Symbol == "":
		return fmt.Errorf("%w: empty symbol", ErrInvalidRequest)
	case !r.Side.Valid():
		return fmt.Errorf("%w: unknown side %s", ErrInvalidRequest, r.Side)
	case !r.Type.Valid():
		return fmt.Errorf("%w: unknown order type %s", ErrInvalidRequest, r.Type)
	case !r.Qty.IsPositive():
		return fmt.Errorf("%w: quantity must be positive", ErrInvalidRequest)
	}
	switch r.Type {
	case common.OrderTypeLimit:
		if !r.Price.IsPositive() {
			return fmt.Errorf("%w: limit order without price", ErrInvalidRequest)
		}
	case common.OrderTypeStop:
		if !r.StopPrice.IsPositive() {
			return fmt.Errorf("%w: stop order without stop price", ErrInvalidRequest)
		}
	}
	return nil
}

func (r Request) venueRequest(clientID string) common.OrderRequest {
	tif := r.TimeInForce
	if tif == "" {
		tif = common.TIFGTC
	}
	return common.OrderRequest{
		ClientID:    clientID,
		Symbol:      r.Symbol,
		Side:        r.Side,
		Type:        r.Type,
		Qty:         r.Qty,
		Price:       r.Price,
		StopPrice:   r.StopPrice,
		TimeInForce: tif,
	}
}

// Fill is a venue fill enriched with the order attributes downstream consumers need.
type Fill struct {
	ID         string          `json:"id"`
	OrderID    string          `json:"order_id"`
	ParentID   string          `json:"parent_id,omitempty"`
	Seq        uint64          `json:"seq"`
	Symbol     string          `json:"symbol"`
	StrategyID string          `json:"strategy_id"`
	Side       common.Side     `json:"side"`
	Qty        decimal.Decimal `json:"qty"`
	Price      decimal.Decimal `json:"price"`
	Fee        decimal.Decimal `json:"fee"`
	Time       time.Time       `json:"time"`
}

// SignedQty is positive for buys and negative for sells.
func (f Fill) SignedQty() decimal.Decimal {
	return f.Qty.Mul(f.Side.Sign())
}
