// Package engine orchestrates signal admission, order routing, position tracking
// and risk halts. The API and signal RPC layers talk to it only through Service.
package engine

import (
	"context"

	"github.com/shopspring/decimal"

	"execution-core/internal/balance"
	"execution-core/internal/monitor"
	"execution-core/internal/position"
	"execution-core/internal/risk"
)

// Service defines the operations exposed to the control surfaces.
type Service interface {
	// Signal intake
	SubmitSignal(ctx context.Context, sig Signal) Outcome
	PushMarks(ctx context.Context, marks []Mark) error
	UpdateRiskEstimate(ctx context.Context, valueAtRisk, cvar decimal.Decimal) error

	// Operator commands, each audited with the operator identity
	Halt(ctx context.Context, operator, detail string) (risk.Decision, error)
	ClearHalt(ctx context.Context, operator string) error
	ClearInstrument(ctx context.Context, symbol, operator string) error
	CancelOrder(ctx context.Context, id, operator string) error
	QueryPosition(ctx context.Context, key position.Key, operator string) (position.Position, error)

	// Queries
	Order(ctx context.Context, id string) (OrderView, error)
	Positions(ctx context.Context) []position.Position
	Risk(ctx context.Context) risk.State
	Balance(ctx context.Context) balance.Balance
	Metrics(ctx context.Context) monitor.Snapshot
	Status(ctx context.Context) SystemStatus
}

var _ Service = (*Engine)(nil)
