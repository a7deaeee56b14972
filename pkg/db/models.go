package db

import (
	"time"

	"github.com/shopspring/decimal"
)

// Decimal columns are stored as TEXT so values round-trip without float loss.

// Order mirrors a row of the orders table.
type Order struct {
	ID           string
	ParentID     string
	Symbol       string
	StrategyID   string
	Side         string
	Type         string
	Qty          decimal.Decimal
	FilledQty    decimal.Decimal
	AvgPrice     decimal.Decimal
	Price        decimal.Decimal
	StopPrice    decimal.Decimal
	TimeInForce  string
	Status       string
	Retries      int
	VenueOrderID string
	Reason       string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Fill mirrors a row of the fills table.
type Fill struct {
	ID         string
	OrderID    string
	ParentID   string
	Seq        int64
	Symbol     string
	StrategyID string
	Side       string
	Qty        decimal.Decimal
	Price      decimal.Decimal
	Fee        decimal.Decimal
	FilledAt   time.Time
}

// ClosedPosition is a position archived when its quantity returned to zero.
type ClosedPosition struct {
	ID          int64
	Symbol      string
	StrategyID  string
	RealizedPnL decimal.Decimal
	Fees        decimal.Decimal
	FillCount   int
	OpenedAt    time.Time
	ClosedAt    time.Time
}

// AuditEvent mirrors a row of audit_events; Fields holds the JSON-encoded field map.
type AuditEvent struct {
	Seq      int64
	Time     time.Time
	Node     string
	Kind     string
	Symbol   string
	Strategy string
	OrderID  string
	Operator string
	Reason   string
	Fields   string
}

// EquitySnapshot is a persisted equity baseline.
type EquitySnapshot struct {
	Node       string
	Equity     decimal.Decimal
	Peak       decimal.Decimal
	RecordedAt time.Time
}

// Operator is an account allowed to issue operator commands.
type Operator struct {
	Username     string
	PasswordHash string
	Role         string
	CreatedAt    time.Time
}

const (
	// UpsertOrderSQL keeps the row with the highest version so late snapshots never roll an order back.
	UpsertOrderSQL = `
INSERT INTO orders (id, parent_id, symbol, strategy_id, side, type, qty, filled_qty, avg_price, price, stop_price, tif, status, retries, venue_order_id, reason, version, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    filled_qty = excluded.filled_qty,
    avg_price = excluded.avg_price,
    status = excluded.status,
    retries = excluded.retries,
    venue_order_id = excluded.venue_order_id,
    reason = excluded.reason,
    version = excluded.version,
    updated_at = excluded.updated_at
WHERE excluded.version >= orders.version`

	InsertFillSQL = `
INSERT OR IGNORE INTO fills (id, order_id, parent_id, seq, symbol, strategy_id, side, qty, price, fee, filled_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	InsertClosedPositionSQL = `
INSERT INTO closed_positions (symbol, strategy_id, realized_pnl, fees, fill_count, opened_at, closed_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`

	InsertAuditEventSQL = `
INSERT OR IGNORE INTO audit_events (seq, time, node, kind, symbol, strategy_id, order_id, operator, reason, fields)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
)

// Args returns the UpsertOrderSQL arguments for o.
func (o Order) Args() []any {
	return []any{
		o.ID, o.ParentID, o.Symbol, o.StrategyID, o.Side, o.Type,
		o.Qty, o.FilledQty, o.AvgPrice, o.Price, o.StopPrice,
		o.TimeInForce, o.Status, o.Retries, o.VenueOrderID, o.Reason,
		o.UpdatedAt.UnixNano(), o.CreatedAt, o.UpdatedAt,
	}
}

// Args returns the InsertFillSQL arguments for f.
func (f Fill) Args() []any {
	return []any{
		f.ID, f.OrderID, f.ParentID, f.Seq, f.Symbol, f.StrategyID, f.Side,
		f.Qty, f.Price, f.Fee, f.FilledAt,
	}
}

// Args returns the InsertClosedPositionSQL arguments for p.
func (p ClosedPosition) Args() []any {
	return []any{p.Symbol, p.StrategyID, p.RealizedPnL, p.Fees, p.FillCount, p.OpenedAt, p.ClosedAt}
}

// Args returns the InsertAuditEventSQL arguments for e.
func (e AuditEvent) Args() []any {
	fields := e.Fields
	if fields == "" {
		fields = "{}"
	}
	return []any{e.Seq, e.Time, e.Node, e.Kind, e.Symbol, e.Strategy, e.OrderID, e.Operator, e.Reason, fields}
}
