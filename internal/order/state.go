package order

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownOrder      = errors.New("order not found")
	ErrInvalidTransition = errors.New("invalid order state transition")
	ErrInvalidRequest    = errors.New("invalid order request")
	ErrTerminal          = errors.New("order already terminal")
	ErrNotAdmitted       = errors.New("order not admitted")
	ErrRetriesExhausted  = errors.New("venue retries exhausted")
	ErrSplit             = errors.New("cannot split order")
	ErrClosed            = errors.New("order manager closed")
)

// transitions lists the allowed edges of the order state machine.
// Created may end directly in Rejected or Failed when the venue never accepted the
// order, and in Cancelled when a cancel lands while dispatch is backing off.
var transitions = map[Status][]Status{
	StatusCreated:         {StatusSubmitted, StatusRejected, StatusFailed, StatusCancelled},
	StatusSubmitted:       {StatusPartiallyFilled, StatusFilled, StatusRejected, StatusCancelled, StatusFailed},
	StatusPartiallyFilled: {StatusPartiallyFilled, StatusFilled, StatusCancelled},
}

// CanTransition reports whether from → to is a legal edge.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func transition(o *Order, to Status) error {
	if !CanTransition(o.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, to)
	}
	o.Status = to
	return nil
}

// ViolationKind classifies a dropped venue event.
type ViolationKind string

const (
	ViolationUnknownOrder  ViolationKind = "unknown_order"
	ViolationDuplicateFill ViolationKind = "duplicate_fill"
	ViolationOverfill      ViolationKind = "overfill"
	ViolationAfterTerminal ViolationKind = "fill_after_terminal"
	ViolationInvalidFill   ViolationKind = "invalid_fill"
)

// InvariantViolation describes a venue event that would break an order invariant.
// The event is dropped; the engine halts the affected instrument.
type InvariantViolation struct {
	Kind       ViolationKind
	OrderID    string
	FillID     string
	Seq        uint64 // venue sequence number of the dropped fill, zero when unsequenced
	Symbol     string
	StrategyID string
	Detail     string
}

func (v *InvariantViolation) Error() string {
	return fmt.Sprintf("invariant violation %s: order=%s fill=%s: %s", v.Kind, v.OrderID, v.FillID, v.Detail)
}
