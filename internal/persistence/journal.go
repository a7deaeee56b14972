package persistence

import (
	"encoding/json"
	"fmt"

	"execution-core/internal/audit"
	"execution-core/internal/order"
	"execution-core/internal/position"
	"execution-core/pkg/db"
)

// Journal persists order snapshots, fills, closed positions and audit events
// through a BatchWriter. It never blocks the caller on SQLite.
type Journal struct {
	w *BatchWriter
}

var (
	_ order.Store       = (*Journal)(nil)
	_ position.Archiver = (*Journal)(nil)
	_ audit.Sink        = (*Journal)(nil)
)

// NewJournal creates a journal writing through w.
func NewJournal(w *BatchWriter) *Journal {
	return &Journal{w: w}
}

// SaveOrder buffers an upsert of the order snapshot.
func (j *Journal) SaveOrder(o order.Order) {
	row := db.Order{
		ID:           o.ID,
		ParentID:     o.ParentID,
		Symbol:       o.Symbol,
		StrategyID:   o.StrategyID,
		Side:         string(o.Side),
		Type:         string(o.Type),
		Qty:          o.Qty,
		FilledQty:    o.FilledQty,
		AvgPrice:     o.AvgPrice,
		Price:        o.Price,
		StopPrice:    o.StopPrice,
		TimeInForce:  string(o.TimeInForce),
		Status:       string(o.Status),
		Retries:      o.Retries,
		VenueOrderID: o.VenueOrderID,
		Reason:       o.Reason,
		CreatedAt:    o.CreatedAt,
		UpdatedAt:    o.UpdatedAt,
	}
	j.w.WriteQuery("orders", db.UpsertOrderSQL, row.Args()...)
}

// SaveFill buffers an insert of an applied or recorded fill.
func (j *Journal) SaveFill(f order.Fill) {
	row := db.Fill{
		ID:         f.ID,
		OrderID:    f.OrderID,
		ParentID:   f.ParentID,
		Seq:        int64(f.Seq),
		Symbol:     f.Symbol,
		StrategyID: f.StrategyID,
		Side:       string(f.Side),
		Qty:        f.Qty,
		Price:      f.Price,
		Fee:        f.Fee,
		FilledAt:   f.Time,
	}
	j.w.WriteQuery("fills", db.InsertFillSQL, row.Args()...)
}

// ArchivePosition buffers the record of a position that returned to zero.
func (j *Journal) ArchivePosition(p position.Position) {
	row := db.ClosedPosition{
		Symbol:      p.Symbol,
		StrategyID:  p.Strategy,
		RealizedPnL: p.RealizedPnL,
		Fees:        p.Fees,
		FillCount:   p.FillCount,
		OpenedAt:    p.OpenedAt,
		ClosedAt:    p.ClosedAt,
	}
	j.w.WriteQuery("closed_positions", db.InsertClosedPositionSQL, row.Args()...)
}

// Write implements audit.Sink.
func (j *Journal) Write(e audit.Event) error {
	fields := "{}"
	if len(e.Fields) > 0 {
		b, err := json.Marshal(e.Fields)
		if err != nil {
			return fmt.Errorf("encode audit fields %d: %w", e.Seq, err)
		}
		fields = string(b)
	}
	row := db.AuditEvent{
		Seq:      int64(e.Seq),
		Time:     e.Time,
		Node:     e.Node,
		Kind:     string(e.Kind),
		Symbol:   e.Symbol,
		Strategy: e.Strategy,
		OrderID:  e.OrderID,
		Operator: e.Operator,
		Reason:   e.Reason,
		Fields:   fields,
	}
	j.w.WriteQuery("audit_events", db.InsertAuditEventSQL, row.Args()...)
	return nil
}

// DecodeAudit turns a stored audit row back into an event.
func DecodeAudit(row db.AuditEvent) (audit.Event, error) {
	e := audit.Event{
		Seq:      uint64(row.Seq),
		Time:     row.Time,
		Node:     row.Node,
		Kind:     audit.Kind(row.Kind),
		Symbol:   row.Symbol,
		Strategy: row.Strategy,
		OrderID:  row.OrderID,
		Operator: row.Operator,
		Reason:   row.Reason,
	}
	if row.Fields != "" && row.Fields != "{}" {
		if err := json.Unmarshal([]byte(row.Fields), &e.Fields); err != nil {
			return audit.Event{}, fmt.Errorf("decode audit fields %d: %w", row.Seq, err)
		}
	}
	return e, nil
}

// Flush writes everything buffered so far.
func (j *Journal) Flush() error {
	return j.w.Flush()
}
