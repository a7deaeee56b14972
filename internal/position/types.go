package position

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"execution-core/internal/order"
	"execution-core/pkg/exchanges/common"
)

var (
	ErrDuplicateFill = errors.New("duplicate fill")
	ErrInvalidFill   = errors.New("invalid fill")
	ErrNotFound      = errors.New("position not found")
)

// Key identifies a position slot.
type Key struct {
	Symbol   string `json:"symbol"`
	Strategy string `json:"strategy"`
}

// Protection holds the exit levels attached to a position.
// Unset levels are not evaluated.
type Protection struct {
	StopLoss       decimal.NullDecimal `json:"stop_loss"`
	TakeProfit     decimal.NullDecimal `json:"take_profit"`
	TrailingOffset decimal.NullDecimal `json:"trailing_offset"`
}

// Position is a snapshot of net exposure for one (instrument, strategy) pair.
type Position struct {
	Symbol         string              `json:"symbol"`
	Strategy       string              `json:"strategy"`
	NetQty         decimal.Decimal     `json:"net_qty"`
	AvgPrice       decimal.Decimal     `json:"avg_price"`
	RealizedPnL    decimal.Decimal     `json:"realized_pnl"`
	Fees           decimal.Decimal     `json:"fees"`
	Mark           decimal.Decimal     `json:"mark"`
	UnrealizedPnL  decimal.Decimal     `json:"unrealized_pnl"`
	Protection     Protection          `json:"protection"`
	TrailExtreme   decimal.NullDecimal `json:"trail_extreme"`
	TrailThreshold decimal.NullDecimal `json:"trail_threshold"`
	Closing        bool                `json:"closing"`
	FillCount      int                 `json:"fill_count"`
	OpenedAt       time.Time           `json:"opened_at"`
	UpdatedAt      time.Time           `json:"updated_at"`
	ClosedAt       time.Time           `json:"closed_at,omitempty"`
}

// Key returns the slot key of p.
func (p Position) Key() Key {
	return Key{Symbol: p.Symbol, Strategy: p.Strategy}
}

// Side is the direction of the open position.
func (p Position) Side() common.Side {
	if p.NetQty.IsNegative() {
		return common.SideSell
	}
	return common.SideBuy
}

// Exposure is the absolute notional at the mark, or at the entry price before any mark.
func (p Position) Exposure() decimal.Decimal {
	price := p.Mark
	if !price.IsPositive() {
		price = p.AvgPrice
	}
	return p.NetQty.Abs().Mul(price)
}

// CloseReason names the exit level that fired.
type CloseReason string

const (
	ReasonStopLoss   CloseReason = "stop_loss"
	ReasonTakeProfit CloseReason = "take_profit"
	ReasonTrailing   CloseReason = "trailing_stop"
)

// CloseSignal asks the engine to flatten a position with one opposite order.
type CloseSignal struct {
	Symbol   string          `json:"symbol"`
	Strategy string          `json:"strategy"`
	Side     common.Side     `json:"side"`
	Qty      decimal.Decimal `json:"qty"`
	Mark     decimal.Decimal `json:"mark"`
	Reason   CloseReason     `json:"reason"`
}

// Applied is one fill applied to a position, with the P&L it realised.
type Applied struct {
	Fill          order.Fill      `json:"fill"`
	RealizedDelta decimal.Decimal `json:"realized_delta"`
}

// Result reports the effect of ApplyFill. A buffered fill has no Applied entries
// yet; it is applied once the fills before it in sequence arrive.
type Result struct {
	Key      Key           `json:"key"`
	Snapshot Position      `json:"snapshot"`
	Applied  []Applied     `json:"applied"`
	Closed   []Position    `json:"closed"`
	Signals  []CloseSignal `json:"signals"`
	Buffered bool          `json:"buffered"`
}

// RealizedDelta sums realised P&L across applied fills.
func (r Result) RealizedDelta() decimal.Decimal {
	total := decimal.Zero
	for _, a := range r.Applied {
		total = total.Add(a.RealizedDelta)
	}
	return total
}

// Fees sums fees across applied fills.
func (r Result) Fees() decimal.Decimal {
	total := decimal.Zero
	for _, a := range r.Applied {
		total = total.Add(a.Fill.Fee)
	}
	return total
}

// Archiver stores positions that returned to zero.
type Archiver interface {
	ArchivePosition(Position)
}
