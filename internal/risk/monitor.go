// Package risk keeps the session RiskState and decides when trading halts.
package risk

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"execution-core/internal/audit"
	"execution-core/internal/events"
	"execution-core/internal/monitor"
)

// Options wires a Monitor.
type Options struct {
	Config   Config
	Baseline decimal.Decimal // equity carried over from the previous session
	Audit    *audit.Log
	Bus      *events.Bus
	Metrics  *monitor.Metrics
	Logger   *zap.Logger
	Now      func() time.Time
}

// Monitor owns the RiskState. All mutations take the write lock, so a read after
// a write always observes it. A halt stays latched until an operator clears it.
type Monitor struct {
	cfg     Config
	audit   *audit.Log
	bus     *events.Bus
	metrics *monitor.Metrics
	logger  *zap.Logger
	now     func() time.Time

	mu          sync.RWMutex
	baseline    decimal.Decimal
	realized    decimal.Decimal
	fees        decimal.Decimal
	peak        decimal.Decimal
	valueAtRisk decimal.Decimal
	cvar        decimal.Decimal
	exposure    map[string]decimal.Decimal
	unrealized  map[string]decimal.Decimal
	halt        Decision
	clearedAt   time.Time
	clearedBy   string
	instHalts   map[string]InstrumentHalt
	updatedAt   time.Time
}

// NewMonitor creates a monitor whose peak starts at the baseline equity.
func NewMonitor(opts Options) *Monitor {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Metrics == nil {
		opts.Metrics = monitor.NewMetrics()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Monitor{
		cfg:        opts.Config,
		audit:      opts.Audit,
		bus:        opts.Bus,
		metrics:    opts.Metrics,
		logger:     opts.Logger.Named("risk"),
		now:        opts.Now,
		baseline:   opts.Baseline,
		peak:       opts.Baseline,
		exposure:   make(map[string]decimal.Decimal),
		unrealized: make(map[string]decimal.Decimal),
		instHalts:  make(map[string]InstrumentHalt),
		updatedAt:  opts.Now(),
	}
}

// equityLocked must be called with mu held.
func (m *Monitor) equityLocked() decimal.Decimal {
	eq := m.baseline.Add(m.realized).Sub(m.fees)
	for _, u := range m.unrealized {
		eq = eq.Add(u)
	}
	return eq
}

func (m *Monitor) drawdownLocked(equity decimal.Decimal) decimal.Decimal {
	if !m.peak.IsPositive() || equity.GreaterThanOrEqual(m.peak) {
		return decimal.Zero
	}
	return m.peak.Sub(equity).Div(m.peak)
}

func (m *Monitor) grossLocked() decimal.Decimal {
	gross := decimal.Zero
	for _, e := range m.exposure {
		gross = gross.Add(e)
	}
	return gross
}

// updatePeakLocked raises the running peak; it never lowers it.
func (m *Monitor) updatePeakLocked() decimal.Decimal {
	eq := m.equityLocked()
	if eq.GreaterThan(m.peak) {
		m.peak = eq
	}
	m.updatedAt = m.now()
	return eq
}

// OnFill folds an applied fill into the RiskState.
func (m *Monitor) OnFill(fi FillImpact) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.realized = m.realized.Add(fi.RealizedDelta)
	m.fees = m.fees.Add(fi.Fee)
	m.setInstrumentLocked(fi.Symbol, fi.Exposure, fi.Unrealized)
	eq := m.updatePeakLocked()

	m.audit.Append(audit.Event{
		Kind:   audit.KindRiskFillApplied,
		Symbol: fi.Symbol,
		Fields: map[string]string{
			"realized_delta": fi.RealizedDelta.String(),
			"fee":            fi.Fee.String(),
			"exposure":       fi.Exposure.String(),
			"equity":         eq.String(),
			"peak":           m.peak.String(),
			"drawdown":       m.drawdownLocked(eq).String(),
		},
	})
}

// OnMark revalues instruments at new reference prices.
func (m *Monitor) OnMark(marks []Mark) {
	if len(marks) == 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, mk := range marks {
		m.setInstrumentLocked(mk.Symbol, mk.Exposure, mk.Unrealized)
	}
	eq := m.updatePeakLocked()
	m.metrics.MarkApplied()

	for _, mk := range marks {
		m.audit.Append(audit.Event{
			Kind:   audit.KindMarkApplied,
			Symbol: mk.Symbol,
			Fields: map[string]string{
				"price":      mk.Price.String(),
				"exposure":   mk.Exposure.String(),
				"unrealized": mk.Unrealized.String(),
				"equity":     eq.String(),
			},
		})
	}
}

func (m *Monitor) setInstrumentLocked(symbol string, exposure, unrealized decimal.Decimal) {
	if symbol == "" {
		return
	}
	if exposure.IsZero() && unrealized.IsZero() {
		delete(m.exposure, symbol)
		delete(m.unrealized, symbol)
		return
	}
	m.exposure[symbol] = exposure
	m.unrealized[symbol] = unrealized
}

// SetEstimate stores the latest externally computed VaR and CVaR.
func (m *Monitor) SetEstimate(valueAtRisk, cvar decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.valueAtRisk = valueAtRisk
	m.cvar = cvar
	m.updatedAt = m.now()
	m.audit.Append(audit.Event{
		Kind:   audit.KindMarkApplied,
		Reason: "risk_estimate",
		Fields: map[string]string{"var": valueAtRisk.String(), "cvar": cvar.String()},
	})
}

// breachLocked returns the first limit breached by the current state.
func (m *Monitor) breachLocked() (Decision, bool) {
	eq := m.equityLocked()
	if m.cfg.MaxDrawdown.IsPositive() {
		if dd := m.drawdownLocked(eq); dd.GreaterThanOrEqual(m.cfg.MaxDrawdown) {
			return Decision{Halt: true, Reason: ReasonDrawdown,
				Detail: fmt.Sprintf("drawdown %s >= %s (equity %s, peak %s)", dd.StringFixed(4), m.cfg.MaxDrawdown, eq, m.peak)}, true
		}
	}
	if m.cfg.MaxInstrumentExposure.IsPositive() {
		symbols := make([]string, 0, len(m.exposure))
		for s := range m.exposure {
			symbols = append(symbols, s)
		}
		sort.Strings(symbols)
		for _, s := range symbols {
			if e := m.exposure[s]; e.GreaterThan(m.cfg.MaxInstrumentExposure) {
				return Decision{Halt: true, Reason: ReasonInstrumentExposure, Symbol: s,
					Detail: fmt.Sprintf("exposure %s > %s", e, m.cfg.MaxInstrumentExposure)}, true
			}
		}
	}
	if m.cfg.MaxGrossExposure.IsPositive() {
		if g := m.grossLocked(); g.GreaterThan(m.cfg.MaxGrossExposure) {
			return Decision{Halt: true, Reason: ReasonGrossExposure,
				Detail: fmt.Sprintf("gross exposure %s > %s", g, m.cfg.MaxGrossExposure)}, true
		}
	}
	if m.cfg.MaxVaR.IsPositive() && m.valueAtRisk.GreaterThan(m.cfg.MaxVaR) {
		return Decision{Halt: true, Reason: ReasonVaR,
			Detail: fmt.Sprintf("VaR %s > %s", m.valueAtRisk, m.cfg.MaxVaR)}, true
	}
	if m.cfg.MaxCVaR.IsPositive() && m.cvar.GreaterThan(m.cfg.MaxCVaR) {
		return Decision{Halt: true, Reason: ReasonCVaR,
			Detail: fmt.Sprintf("CVaR %s > %s", m.cvar, m.cfg.MaxCVaR)}, true
	}
	return Decision{}, false
}

// Evaluate reports the decision Check would take without latching anything.
func (m *Monitor) Evaluate() Decision {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.halt.Halt {
		return m.halt
	}
	d, _ := m.breachLocked()
	return d
}

// Check latches a halt when any limit is breached and returns the current decision.
func (m *Monitor) Check() Decision {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.halt.Halt {
		return m.halt
	}
	d, breached := m.breachLocked()
	if !breached {
		return Decision{}
	}
	d.Operator = "system"
	return m.raiseLocked(d)
}

// Halt raises an operator halt. An existing halt is kept as is.
func (m *Monitor) Halt(detail, operator string) (Decision, error) {
	if operator == "" {
		return Decision{}, ErrNoOperator
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.halt.Halt {
		return m.halt, nil
	}
	return m.raiseLocked(Decision{Halt: true, Reason: ReasonOperator, Detail: detail, Operator: operator}), nil
}

func (m *Monitor) raiseLocked(d Decision) Decision {
	d.At = m.now()
	m.halt = d
	m.metrics.HaltRaised()
	m.audit.Append(audit.Event{
		Kind:     audit.KindHaltRaised,
		Symbol:   d.Symbol,
		Operator: d.Operator,
		Reason:   string(d.Reason),
		Fields:   map[string]string{"detail": d.Detail},
	})
	m.logger.Error("trading halted", zap.String("reason", string(d.Reason)),
		zap.String("symbol", d.Symbol), zap.String("detail", d.Detail), zap.String("operator", d.Operator))
	if m.bus != nil {
		m.bus.Publish(events.EventRiskHalt, d)
	}
	return d
}

// Clear lifts the session halt. Only an explicit operator action clears it.
func (m *Monitor) Clear(operator string) error {
	if operator == "" {
		return ErrNoOperator
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.halt.Halt {
		return ErrNotHalted
	}
	prev := m.halt
	m.halt = Decision{}
	m.clearedAt = m.now()
	m.clearedBy = operator
	m.audit.Append(audit.Event{
		Kind:     audit.KindHaltCleared,
		Operator: operator,
		Reason:   string(prev.Reason),
	})
	m.logger.Warn("trading halt cleared", zap.String("operator", operator), zap.String("reason", string(prev.Reason)))
	if m.bus != nil {
		m.bus.Publish(events.EventRiskHalt, Decision{Operator: operator, At: m.clearedAt})
	}
	return nil
}

// Halted returns the active session halt, if any.
func (m *Monitor) Halted() (Decision, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.halt, m.halt.Halt
}

// CheckInstrument returns ErrHalted or ErrInstrumentHalted when new orders on
// symbol must not be submitted.
func (m *Monitor) CheckInstrument(symbol string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.halt.Halt {
		return fmt.Errorf("%w: %s", ErrHalted, m.halt.Reason)
	}
	if h, ok := m.instHalts[symbol]; ok {
		return fmt.Errorf("%w: %s %s", ErrInstrumentHalted, symbol, h.Reason)
	}
	return nil
}

// HaltInstrument stops new orders on one instrument. It reports whether the halt is new.
func (m *Monitor) HaltInstrument(symbol string, reason Reason, detail string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.instHalts[symbol]; ok {
		return false
	}
	h := InstrumentHalt{Symbol: symbol, Reason: reason, Detail: detail, At: m.now()}
	m.instHalts[symbol] = h
	m.metrics.InstrumentHalted()
	m.audit.Append(audit.Event{
		Kind:     audit.KindInstrumentHalted,
		Symbol:   symbol,
		Operator: "system",
		Reason:   string(reason),
		Fields:   map[string]string{"detail": detail},
	})
	m.logger.Error("instrument halted", zap.String("symbol", symbol),
		zap.String("reason", string(reason)), zap.String("detail", detail))
	if m.bus != nil {
		m.bus.Publish(events.EventRiskHalt, Decision{Halt: true, Reason: reason, Symbol: symbol, Detail: detail, At: h.At})
	}
	return true
}

// ClearInstrument lifts a per-instrument halt.
func (m *Monitor) ClearInstrument(symbol, operator string) error {
	if operator == "" {
		return ErrNoOperator
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.instHalts[symbol]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotHalted, symbol)
	}
	delete(m.instHalts, symbol)
	m.audit.Append(audit.Event{
		Kind:     audit.KindInstrumentCleared,
		Symbol:   symbol,
		Operator: operator,
		Reason:   string(h.Reason),
	})
	return nil
}

// Equity returns baseline + realised − fees + unrealised.
func (m *Monitor) Equity() decimal.Decimal {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.equityLocked()
}

// Snapshot returns a consistent copy of the RiskState.
func (m *Monitor) Snapshot() State {
	m.mu.RLock()
	defer m.mu.RUnlock()

	eq := m.equityLocked()
	unrealized := decimal.Zero
	for _, u := range m.unrealized {
		unrealized = unrealized.Add(u)
	}
	exposure := make(map[string]decimal.Decimal, len(m.exposure))
	for s, e := range m.exposure {
		exposure[s] = e
	}
	halts := make([]InstrumentHalt, 0, len(m.instHalts))
	for _, h := range m.instHalts {
		halts = append(halts, h)
	}
	sort.Slice(halts, func(i, j int) bool { return halts[i].Symbol < halts[j].Symbol })

	return State{
		Baseline:        m.baseline,
		Realized:        m.realized,
		Fees:            m.fees,
		Unrealized:      unrealized,
		Equity:          eq,
		Peak:            m.peak,
		Drawdown:        m.drawdownLocked(eq),
		Exposure:        exposure,
		GrossExposure:   m.grossLocked(),
		VaR:             m.valueAtRisk,
		CVaR:            m.cvar,
		Halted:          m.halt.Halt,
		HaltReason:      m.halt.Reason,
		HaltDetail:      m.halt.Detail,
		HaltedAt:        m.halt.At,
		HaltedBy:        m.halt.Operator,
		ClearedAt:       m.clearedAt,
		ClearedBy:       m.clearedBy,
		InstrumentHalts: halts,
		UpdatedAt:       m.updatedAt,
	}
}
