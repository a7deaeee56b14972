// Package db provides the SQLite journal of orders, fills, closed positions,
// audit events and equity baselines.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

var ErrNotFound = errors.New("record not found")

// Queries provides read and write access to the journal tables.
type Queries struct {
	db *sql.DB
}

// NewQueries creates a new Queries instance.
func NewQueries(db *sql.DB) *Queries {
	return &Queries{db: db}
}

// Queries returns a query helper bound to d.
func (d *Database) Queries() *Queries {
	return NewQueries(d.DB)
}

// ----------------------------------------
// Order Queries
// ----------------------------------------

// SaveOrder upserts an order row.
func (q *Queries) SaveOrder(ctx context.Context, o Order) error {
	if _, err := q.db.ExecContext(ctx, UpsertOrderSQL, o.Args()...); err != nil {
		return fmt.Errorf("save order %s: %w", o.ID, err)
	}
	return nil
}

const orderColumns = `id, parent_id, symbol, strategy_id, side, type, qty, filled_qty, avg_price, price, stop_price, tif, status, retries, venue_order_id, reason, created_at, updated_at`

func scanOrder(s interface{ Scan(...any) error }) (Order, error) {
	var o Order
	err := s.Scan(&o.ID, &o.ParentID, &o.Symbol, &o.StrategyID, &o.Side, &o.Type,
		&o.Qty, &o.FilledQty, &o.AvgPrice, &o.Price, &o.StopPrice,
		&o.TimeInForce, &o.Status, &o.Retries, &o.VenueOrderID, &o.Reason,
		&o.CreatedAt, &o.UpdatedAt)
	return o, err
}

// GetOrder returns one order by id.
func (q *Queries) GetOrder(ctx context.Context, id string) (Order, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, id)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Order{}, ErrNotFound
	}
	if err != nil {
		return Order{}, fmt.Errorf("get order %s: %w", id, err)
	}
	return o, nil
}

// ListOrders returns the most recent orders, optionally filtered by status.
func (q *Queries) ListOrders(ctx context.Context, status string, limit int) ([]Order, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := q.db.QueryContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE (? = '' OR status = ?)
		ORDER BY created_at DESC, id
		LIMIT ?
	`, status, status, limit)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	var orders []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// ----------------------------------------
// Fill Queries
// ----------------------------------------

// SaveFill records a fill; a fill id seen before is ignored.
func (q *Queries) SaveFill(ctx context.Context, f Fill) error {
	if _, err := q.db.ExecContext(ctx, InsertFillSQL, f.Args()...); err != nil {
		return fmt.Errorf("save fill %s: %w", f.ID, err)
	}
	return nil
}

// ListFills returns the fills of an order in sequence order.
func (q *Queries) ListFills(ctx context.Context, orderID string) ([]Fill, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, order_id, parent_id, seq, symbol, strategy_id, side, qty, price, fee, filled_at
		FROM fills
		WHERE order_id = ?
		ORDER BY seq ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("query fills: %w", err)
	}
	defer rows.Close()

	var fills []Fill
	for rows.Next() {
		var f Fill
		if err := rows.Scan(&f.ID, &f.OrderID, &f.ParentID, &f.Seq, &f.Symbol, &f.StrategyID, &f.Side,
			&f.Qty, &f.Price, &f.Fee, &f.FilledAt); err != nil {
			return nil, fmt.Errorf("scan fill: %w", err)
		}
		fills = append(fills, f)
	}
	return fills, rows.Err()
}

// ----------------------------------------
// Closed Position Queries
// ----------------------------------------

// SaveClosedPosition archives a flat position.
func (q *Queries) SaveClosedPosition(ctx context.Context, p ClosedPosition) error {
	if _, err := q.db.ExecContext(ctx, InsertClosedPositionSQL, p.Args()...); err != nil {
		return fmt.Errorf("save closed position %s/%s: %w", p.Symbol, p.StrategyID, err)
	}
	return nil
}

// ListClosedPositions returns the most recently closed positions first.
func (q *Queries) ListClosedPositions(ctx context.Context, limit int) ([]ClosedPosition, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, symbol, strategy_id, realized_pnl, fees, fill_count, opened_at, closed_at
		FROM closed_positions
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query closed positions: %w", err)
	}
	defer rows.Close()

	var out []ClosedPosition
	for rows.Next() {
		var p ClosedPosition
		if err := rows.Scan(&p.ID, &p.Symbol, &p.StrategyID, &p.RealizedPnL, &p.Fees, &p.FillCount, &p.OpenedAt, &p.ClosedAt); err != nil {
			return nil, fmt.Errorf("scan closed position: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ----------------------------------------
// Audit Queries
// ----------------------------------------

// InsertAuditEvent stores one audit event; replays of a sequence number are ignored.
func (q *Queries) InsertAuditEvent(ctx context.Context, e AuditEvent) error {
	if _, err := q.db.ExecContext(ctx, InsertAuditEventSQL, e.Args()...); err != nil {
		return fmt.Errorf("insert audit event %d: %w", e.Seq, err)
	}
	return nil
}

// ListAuditEvents returns up to limit events with seq greater than after, oldest first.
func (q *Queries) ListAuditEvents(ctx context.Context, after int64, limit int) ([]AuditEvent, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := q.db.QueryContext(ctx, `
		SELECT seq, time, node, kind, symbol, strategy_id, order_id, operator, reason, fields
		FROM audit_events
		WHERE seq > ?
		ORDER BY seq ASC
		LIMIT ?
	`, after, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var out []AuditEvent
	for rows.Next() {
		var e AuditEvent
		if err := rows.Scan(&e.Seq, &e.Time, &e.Node, &e.Kind, &e.Symbol, &e.Strategy, &e.OrderID, &e.Operator, &e.Reason, &e.Fields); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// MaxAuditSeq returns the highest persisted sequence number, zero for an empty log.
func (q *Queries) MaxAuditSeq(ctx context.Context) (int64, error) {
	var seq int64
	if err := q.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM audit_events`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("max audit seq: %w", err)
	}
	return seq, nil
}

// ----------------------------------------
// Equity Queries
// ----------------------------------------

// SaveEquity appends an equity baseline snapshot.
func (q *Queries) SaveEquity(ctx context.Context, s EquitySnapshot) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO equity_baseline (node, equity, peak, recorded_at)
		VALUES (?, ?, ?, ?)
	`, s.Node, s.Equity, s.Peak, s.RecordedAt)
	if err != nil {
		return fmt.Errorf("save equity: %w", err)
	}
	return nil
}

// LatestEquity returns the most recent baseline recorded for node.
func (q *Queries) LatestEquity(ctx context.Context, node string) (EquitySnapshot, error) {
	var s EquitySnapshot
	err := q.db.QueryRowContext(ctx, `
		SELECT node, equity, peak, recorded_at
		FROM equity_baseline
		WHERE node = ?
		ORDER BY id DESC
		LIMIT 1
	`, node).Scan(&s.Node, &s.Equity, &s.Peak, &s.RecordedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return EquitySnapshot{}, ErrNotFound
	}
	if err != nil {
		return EquitySnapshot{}, fmt.Errorf("latest equity: %w", err)
	}
	return s, nil
}

// ----------------------------------------
// Operator Queries
// ----------------------------------------

// GetOperator returns the operator account for username.
func (q *Queries) GetOperator(ctx context.Context, username string) (Operator, error) {
	var op Operator
	err := q.db.QueryRowContext(ctx, `
		SELECT username, password_hash, role, created_at
		FROM operators
		WHERE username = ?
	`, username).Scan(&op.Username, &op.PasswordHash, &op.Role, &op.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Operator{}, ErrNotFound
	}
	if err != nil {
		return Operator{}, fmt.Errorf("get operator: %w", err)
	}
	return op, nil
}

// UpsertOperator creates an operator or replaces its password hash and role.
func (q *Queries) UpsertOperator(ctx context.Context, op Operator) error {
	if op.Username == "" {
		return errors.New("operator username is required")
	}
	if op.Role == "" {
		op.Role = "operator"
	}
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO operators (username, password_hash, role)
		VALUES (?, ?, ?)
		ON CONFLICT(username) DO UPDATE SET
			password_hash = excluded.password_hash,
			role = excluded.role
	`, op.Username, op.PasswordHash, op.Role)
	return err
}
