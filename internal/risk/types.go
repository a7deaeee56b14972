package risk

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrHalted           = errors.New("trading halted")
	ErrInstrumentHalted = errors.New("instrument halted")
	ErrNotHalted        = errors.New("no active halt")
	ErrNoOperator       = errors.New("operator identity required")
)

// Config holds the session limits. Zero disables a limit.
type Config struct {
	MaxDrawdown           decimal.Decimal // fraction of peak equity, e.g. 0.10
	MaxInstrumentExposure decimal.Decimal
	MaxGrossExposure      decimal.Decimal
	MaxVaR                decimal.Decimal
	MaxCVaR               decimal.Decimal
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{MaxDrawdown: decimal.RequireFromString("0.10")}
}

// Reason names what raised a halt.
type Reason string

const (
	ReasonNone               Reason = ""
	ReasonDrawdown           Reason = "drawdown"
	ReasonInstrumentExposure Reason = "instrument_exposure"
	ReasonGrossExposure      Reason = "gross_exposure"
	ReasonVaR                Reason = "var"
	ReasonCVaR               Reason = "cvar"
	ReasonOperator           Reason = "operator"
	ReasonInvariant          Reason = "invariant_violation"
)

// Decision is the outcome of a risk check.
type Decision struct {
	Halt     bool      `json:"halt"`
	Reason   Reason    `json:"reason,omitempty"`
	Symbol   string    `json:"symbol,omitempty"`
	Detail   string    `json:"detail,omitempty"`
	Operator string    `json:"operator,omitempty"`
	At       time.Time `json:"at,omitempty"`
}

// OK reports whether trading may continue.
func (d Decision) OK() bool { return !d.Halt }

// AlertText describes the decision for operator alerts.
func (d Decision) AlertText() string {
	if !d.Halt {
		return fmt.Sprintf("trading halt cleared by %s", d.Operator)
	}
	if d.Symbol != "" {
		return fmt.Sprintf("HALT %s [%s]: %s", d.Reason, d.Symbol, d.Detail)
	}
	return fmt.Sprintf("HALT %s: %s", d.Reason, d.Detail)
}

// FillImpact is what the risk state needs from one applied fill.
type FillImpact struct {
	Symbol        string
	RealizedDelta decimal.Decimal
	Fee           decimal.Decimal
	Exposure      decimal.Decimal // instrument notional after the fill
	Unrealized    decimal.Decimal // instrument unrealised P&L after the fill
}

// Mark is the revaluation of one instrument at a new reference price.
type Mark struct {
	Symbol     string
	Price      decimal.Decimal
	Exposure   decimal.Decimal
	Unrealized decimal.Decimal
}

// InstrumentHalt records a per-instrument halt.
type InstrumentHalt struct {
	Symbol string    `json:"symbol"`
	Reason Reason    `json:"reason"`
	Detail string    `json:"detail"`
	At     time.Time `json:"at"`
}

// State is a consistent copy of the session RiskState.
type State struct {
	Baseline        decimal.Decimal            `json:"baseline"`
	Realized        decimal.Decimal            `json:"realized"`
	Fees            decimal.Decimal            `json:"fees"`
	Unrealized      decimal.Decimal            `json:"unrealized"`
	Equity          decimal.Decimal            `json:"equity"`
	Peak            decimal.Decimal            `json:"peak"`
	Drawdown        decimal.Decimal            `json:"drawdown"`
	Exposure        map[string]decimal.Decimal `json:"exposure"`
	GrossExposure   decimal.Decimal            `json:"gross_exposure"`
	VaR             decimal.Decimal            `json:"var"`
	CVaR            decimal.Decimal            `json:"cvar"`
	Halted          bool                       `json:"halted"`
	HaltReason      Reason                     `json:"halt_reason,omitempty"`
	HaltDetail      string                     `json:"halt_detail,omitempty"`
	HaltedAt        time.Time                  `json:"halted_at,omitempty"`
	HaltedBy        string                     `json:"halted_by,omitempty"`
	ClearedAt       time.Time                  `json:"cleared_at,omitempty"`
	ClearedBy       string                     `json:"cleared_by,omitempty"`
	InstrumentHalts []InstrumentHalt           `json:"instrument_halts"`
	UpdatedAt       time.Time                  `json:"updated_at"`
}
