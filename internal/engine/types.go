package engine

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"execution-core/internal/monitor"
	"execution-core/internal/order"
	"execution-core/pkg/exchanges/common"
)

var (
	ErrInsufficientCapital = errors.New("insufficient capital")
	ErrSizing              = errors.New("cannot size order")
	ErrInvalidSignal       = errors.New("invalid signal")
	ErrInvalidMark         = errors.New("invalid mark")
)

// Signal is a strategy's request to trade.
//
// Quantity wins over Notional; when both are zero the order is sized to the full
// capital the strategy may use. A Close signal flattens the (Symbol, StrategyID)
// position and defaults to its net quantity.
type Signal struct {
	ID             string              `json:"id"`
	Symbol         string              `json:"symbol"`
	StrategyID     string              `json:"strategy_id"`
	Direction      common.Side         `json:"direction"`
	OrderType      common.OrderType    `json:"order_type"`
	Quantity       decimal.Decimal     `json:"quantity"`
	Notional       decimal.Decimal     `json:"notional"`
	LimitPrice     decimal.Decimal     `json:"limit_price"`
	StopPrice      decimal.Decimal     `json:"stop_price"`
	TimeInForce    common.TimeInForce  `json:"tif"`
	StopLoss       decimal.NullDecimal `json:"stop_loss"`
	TakeProfit     decimal.NullDecimal `json:"take_profit"`
	TrailingOffset decimal.NullDecimal `json:"trailing_offset"`
	Schedule       order.Schedule      `json:"schedule"`
	Close          bool                `json:"close"`
	CloseReason    string              `json:"close_reason,omitempty"`
}

// Reason explains an Outcome.
type Reason string

const (
	ReasonAccepted            Reason = "accepted"
	ReasonHaltActive          Reason = "halt_active"
	ReasonInstrumentHalted    Reason = "instrument_halted"
	ReasonInsufficientCapital Reason = "insufficient_capital"
	ReasonSizingError         Reason = "sizing_error"
	ReasonInvalidSignal       Reason = "invalid_signal"
	ReasonVenueRejection      Reason = "venue_rejection"
	ReasonFailed              Reason = "failed"
)

// Outcome is the engine's answer to a Signal.
type Outcome struct {
	SignalID string          `json:"signal_id"`
	Accepted bool            `json:"accepted"`
	Reason   Reason          `json:"reason"`
	Detail   string          `json:"detail,omitempty"`
	OrderID  string          `json:"order_id,omitempty"`
	Qty      decimal.Decimal `json:"qty"`
	Price    decimal.Decimal `json:"price"`
	Status   order.Status    `json:"status,omitempty"`
	Children []string        `json:"children,omitempty"`
}

// Mark is a reference price pushed by the market-data collaborator.
type Mark struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
}

// OrderView is either a logical order or a single venue order.
type OrderView struct {
	Logical *order.Parent `json:"logical,omitempty"`
	Order   *order.Order  `json:"order,omitempty"`
}

// SystemStatus summarises the running core.
type SystemStatus struct {
	Node          string           `json:"node"`
	Mode          string           `json:"mode"`
	Version       string           `json:"version"`
	StartedAt     time.Time        `json:"started_at"`
	Halted        bool             `json:"halted"`
	HaltReason    string           `json:"halt_reason,omitempty"`
	OpenPositions int              `json:"open_positions"`
	Equity        decimal.Decimal  `json:"equity"`
	Metrics       monitor.Snapshot `json:"metrics"`
}

// Config holds the sizing and routing settings of a session.
type Config struct {
	MaxOrderNotional  decimal.Decimal            // single-order ceiling; larger orders are split
	Step              decimal.Decimal            // quantity increment
	Allocations       map[string]decimal.Decimal // fraction of available capital per strategy
	DefaultAllocation decimal.Decimal            // used for strategies without an allocation
	TWAPInterval      time.Duration              // default for schedules that set none
	VWAPCurve         []decimal.Decimal          // default reference volume curve
}
