package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"execution-core/internal/engine"
	"execution-core/internal/order"
	"execution-core/internal/position"
	"execution-core/internal/risk"
)

var ErrInvalidSession = errors.New("invalid session config")

// Session is the risk and execution configuration of one trading session.
// It is loaded once at startup and never changes while the session runs.
type Session struct {
	InitialEquity decimal.Decimal `yaml:"initial_equity"`
	QuantityStep  decimal.Decimal `yaml:"quantity_step"`
	Risk          RiskLimits      `yaml:"risk"`
	Orders        OrderPolicy     `yaml:"orders"`
	Positions     PositionPolicy  `yaml:"positions"`
	Execution     ExecutionPolicy `yaml:"execution"`
}

// RiskLimits are the session-level halt thresholds. Zero disables a limit.
type RiskLimits struct {
	MaxDrawdown           decimal.Decimal `yaml:"max_drawdown"`
	MaxInstrumentExposure decimal.Decimal `yaml:"max_instrument_exposure"`
	MaxGrossExposure      decimal.Decimal `yaml:"max_gross_exposure"`
	MaxVaR                decimal.Decimal `yaml:"max_var"`
	MaxCVaR               decimal.Decimal `yaml:"max_cvar"`
}

// OrderPolicy controls venue retries and cancellation.
type OrderPolicy struct {
	BaseDelay   time.Duration `yaml:"retry_base_delay"`
	Multiplier  float64       `yaml:"retry_multiplier"`
	MaxRetries  int           `yaml:"max_retries"`
	CancelGrace time.Duration `yaml:"cancel_grace"`
	Workers     int           `yaml:"workers"`
	FillShards  int           `yaml:"fill_shards"`
}

// PositionPolicy bounds the size of new positions.
type PositionPolicy struct {
	MaxFraction      decimal.Decimal            `yaml:"max_fraction"`
	InstrumentBudget decimal.Decimal            `yaml:"instrument_budget"`
	Budgets          map[string]decimal.Decimal `yaml:"budgets"`
}

// ExecutionPolicy controls sizing and splitting of logical orders.
type ExecutionPolicy struct {
	MaxOrderNotional  decimal.Decimal            `yaml:"max_order_notional"`
	Allocations       map[string]decimal.Decimal `yaml:"allocations"`
	DefaultAllocation decimal.Decimal            `yaml:"default_allocation"`
	TWAPInterval      time.Duration              `yaml:"twap_interval"`
	VWAPCurve         []decimal.Decimal          `yaml:"vwap_curve"`
}

// DefaultSession returns the documented defaults.
func DefaultSession() Session {
	return Session{
		InitialEquity: decimal.NewFromInt(10000),
		Risk: RiskLimits{
			MaxDrawdown: decimal.RequireFromString("0.10"),
		},
		Orders: OrderPolicy{
			BaseDelay:   100 * time.Millisecond,
			Multiplier:  2.0,
			MaxRetries:  3,
			CancelGrace: 5 * time.Second,
			Workers:     16,
			FillShards:  8,
		},
		Positions: PositionPolicy{
			MaxFraction: decimal.RequireFromString("0.2"),
		},
		Execution: ExecutionPolicy{
			DefaultAllocation: decimal.NewFromInt(1),
			TWAPInterval:      time.Minute,
		},
	}
}

// LoadSession reads a YAML session file over the defaults. An empty path
// yields the defaults.
func LoadSession(path string) (Session, error) {
	s := DefaultSession()
	if path == "" {
		return s, s.Validate()
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Session{}, fmt.Errorf("read session config: %w", err)
	}
	return ParseSession(raw)
}

// ParseSession decodes YAML over the defaults and validates the result.
func ParseSession(raw []byte) (Session, error) {
	s := DefaultSession()
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}
	if err := s.Validate(); err != nil {
		return Session{}, err
	}
	return s, nil
}

// Validate rejects settings the session cannot run with.
func (s Session) Validate() error {
	one := decimal.NewFromInt(1)
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: "+format, append([]any{ErrInvalidSession}, args...)...)
	}

	if !s.InitialEquity.IsPositive() {
		return invalid("initial_equity must be positive")
	}
	if s.QuantityStep.IsNegative() {
		return invalid("quantity_step must not be negative")
	}
	if !s.Risk.MaxDrawdown.IsPositive() || s.Risk.MaxDrawdown.GreaterThan(one) {
		return invalid("max_drawdown must be in (0, 1], got %s", s.Risk.MaxDrawdown)
	}
	for name, v := range map[string]decimal.Decimal{
		"max_instrument_exposure": s.Risk.MaxInstrumentExposure,
		"max_gross_exposure":      s.Risk.MaxGrossExposure,
		"max_var":                 s.Risk.MaxVaR,
		"max_cvar":                s.Risk.MaxCVaR,
		"max_order_notional":      s.Execution.MaxOrderNotional,
		"instrument_budget":       s.Positions.InstrumentBudget,
	} {
		if v.IsNegative() {
			return invalid("%s must not be negative", name)
		}
	}

	if s.Orders.BaseDelay <= 0 {
		return invalid("retry_base_delay must be positive")
	}
	if s.Orders.Multiplier < 1 {
		return invalid("retry_multiplier must be at least 1, got %v", s.Orders.Multiplier)
	}
	if s.Orders.MaxRetries < 0 {
		return invalid("max_retries must not be negative")
	}
	if s.Orders.CancelGrace < 0 {
		return invalid("cancel_grace must not be negative")
	}

	if !s.Positions.MaxFraction.IsPositive() || s.Positions.MaxFraction.GreaterThan(one) {
		return invalid("max_fraction must be in (0, 1], got %s", s.Positions.MaxFraction)
	}
	for symbol, b := range s.Positions.Budgets {
		if b.IsNegative() {
			return invalid("budget for %s must not be negative", symbol)
		}
	}

	if s.Execution.DefaultAllocation.IsNegative() || s.Execution.DefaultAllocation.GreaterThan(one) {
		return invalid("default_allocation must be in [0, 1]")
	}
	total := decimal.Zero
	for strategy, a := range s.Execution.Allocations {
		if a.IsNegative() || a.GreaterThan(one) {
			return invalid("allocation for %s must be in [0, 1]", strategy)
		}
		total = total.Add(a)
	}
	if total.GreaterThan(one) {
		return invalid("allocations sum to %s, above 1", total)
	}
	if s.Execution.TWAPInterval < 0 {
		return invalid("twap_interval must not be negative")
	}
	for i, w := range s.Execution.VWAPCurve {
		if w.IsNegative() {
			return invalid("vwap_curve[%d] must not be negative", i)
		}
	}
	return nil
}

// RiskConfig returns the risk monitor thresholds.
func (s Session) RiskConfig() risk.Config {
	return risk.Config{
		MaxDrawdown:           s.Risk.MaxDrawdown,
		MaxInstrumentExposure: s.Risk.MaxInstrumentExposure,
		MaxGrossExposure:      s.Risk.MaxGrossExposure,
		MaxVaR:                s.Risk.MaxVaR,
		MaxCVaR:               s.Risk.MaxCVaR,
	}
}

// OrderConfig returns the order manager retry and cancel settings.
func (s Session) OrderConfig() order.Config {
	return order.Config{
		BaseDelay:   s.Orders.BaseDelay,
		Multiplier:  s.Orders.Multiplier,
		MaxRetries:  s.Orders.MaxRetries,
		CancelGrace: s.Orders.CancelGrace,
		Workers:     s.Orders.Workers,
		FillShards:  s.Orders.FillShards,
	}
}

// PositionConfig returns the position sizing bounds.
func (s Session) PositionConfig() position.Config {
	return position.Config{
		MaxFraction:      s.Positions.MaxFraction,
		Step:             s.QuantityStep,
		InstrumentBudget: s.Positions.InstrumentBudget,
		Budgets:          s.Positions.Budgets,
	}
}

// EngineConfig returns the sizing and splitting settings.
func (s Session) EngineConfig() engine.Config {
	return engine.Config{
		MaxOrderNotional:  s.Execution.MaxOrderNotional,
		Step:              s.QuantityStep,
		Allocations:       s.Execution.Allocations,
		DefaultAllocation: s.Execution.DefaultAllocation,
		TWAPInterval:      s.Execution.TWAPInterval,
		VWAPCurve:         s.Execution.VWAPCurve,
	}
}
