// Package position turns fills into per-(instrument, strategy) positions and
// watches their exit levels.
package position

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"execution-core/internal/audit"
	"execution-core/internal/events"
	"execution-core/internal/order"
)

// Config bounds position sizing.
type Config struct {
	MaxFraction      decimal.Decimal            // max share of equity per new position
	Step             decimal.Decimal            // quantity increment
	InstrumentBudget decimal.Decimal            // default exposure budget per instrument; zero is unbounded
	Budgets          map[string]decimal.Decimal // per-instrument overrides
}

// Options wires a Manager.
type Options struct {
	Config   Config
	Archiver Archiver
	Audit    *audit.Log
	Bus      *events.Bus
	Logger   *zap.Logger
	Now      func() time.Time
}

type slot struct {
	mu      sync.Mutex
	key     Key
	pos     *Position
	pending Protection // applied when the next position opens
}

type sequencer struct {
	next    uint64
	pending map[uint64]order.Fill
	skipped map[uint64]struct{} // sequence numbers dropped upstream
}

func newSequencer() *sequencer {
	return &sequencer{next: 1, pending: make(map[uint64]order.Fill), skipped: make(map[uint64]struct{})}
}

// drain advances past next and returns every buffered fill that became contiguous.
func (sq *sequencer) drain() []order.Fill {
	var ready []order.Fill
	for {
		if nf, ok := sq.pending[sq.next]; ok {
			delete(sq.pending, sq.next)
			ready = append(ready, nf)
		} else if _, ok := sq.skipped[sq.next]; ok {
			delete(sq.skipped, sq.next)
		} else {
			return ready
		}
		sq.next++
	}
}

// Manager owns all positions. Updates are serialised per slot; different slots
// proceed in parallel.
type Manager struct {
	cfg      Config
	archiver Archiver
	audit    *audit.Log
	bus      *events.Bus
	logger   *zap.Logger
	now      func() time.Time

	mu       sync.RWMutex
	slots    map[Key]*slot
	bySymbol map[string][]*slot

	seenMu sync.Mutex
	seen   map[string]struct{}

	seqMu sync.Mutex
	seqs  map[string]*sequencer

	marksMu sync.RWMutex
	marks   map[string]decimal.Decimal
}

// NewManager creates an empty position manager.
func NewManager(opts Options) *Manager {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Manager{
		cfg:      opts.Config,
		archiver: opts.Archiver,
		audit:    opts.Audit,
		bus:      opts.Bus,
		logger:   opts.Logger.Named("position"),
		now:      opts.Now,
		slots:    make(map[Key]*slot),
		bySymbol: make(map[string][]*slot),
		seen:     make(map[string]struct{}),
		seqs:     make(map[string]*sequencer),
		marks:    make(map[string]decimal.Decimal),
	}
}

func (m *Manager) slot(key Key) *slot {
	m.mu.RLock()
	s := m.slots[key]
	m.mu.RUnlock()
	if s != nil {
		return s
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if s = m.slots[key]; s == nil {
		s = &slot{key: key}
		m.slots[key] = s
		m.bySymbol[key.Symbol] = append(m.bySymbol[key.Symbol], s)
	}
	return s
}

// SetProtection attaches exit levels to the position of key, or to the next one
// opened there when the slot is flat.
func (m *Manager) SetProtection(key Key, p Protection) {
	if p.IsZero() {
		return
	}
	s := m.slot(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pos == nil {
		s.pending = s.pending.merge(p)
		return
	}
	trailChanged := p.TrailingOffset.Valid
	s.pos.Protection = s.pos.Protection.merge(p)
	if trailChanged {
		s.pos.resetTrail()
		if s.pos.Mark.IsPositive() {
			s.pos.ratchet(s.pos.Mark)
		}
	}
}

// ApplyFill updates the position of the fill's (instrument, strategy) pair.
// Fills carrying a sequence number are applied in sequence order per order;
// early ones are buffered. A fill id seen before is rejected with ErrDuplicateFill.
func (m *Manager) ApplyFill(f order.Fill) (Result, error) {
	if !f.Qty.IsPositive() || !f.Price.IsPositive() || !f.Side.Valid() {
		return Result{}, fmt.Errorf("%w: %s qty=%s price=%s side=%s", ErrInvalidFill, f.ID, f.Qty, f.Price, f.Side)
	}
	key := Key{Symbol: f.Symbol, Strategy: f.StrategyID}
	s := m.slot(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	m.seenMu.Lock()
	if _, dup := m.seen[f.ID]; dup {
		m.seenMu.Unlock()
		return Result{Key: key}, fmt.Errorf("%w: %s", ErrDuplicateFill, f.ID)
	}
	m.seen[f.ID] = struct{}{}
	m.seenMu.Unlock()

	ready, err := m.sequence(f)
	if err != nil {
		return Result{Key: key}, err
	}
	return m.applyReady(s, ready), nil
}

// Skip tells the sequencer of orderID that seq will never be applied, because
// the fill carrying it was dropped as an invariant violation. Fills buffered
// behind it are applied and returned.
func (m *Manager) Skip(key Key, orderID string, seq uint64) Result {
	if seq == 0 {
		return Result{Key: key}
	}
	s := m.slot(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	m.seqMu.Lock()
	sq := m.seqs[orderID]
	var ready []order.Fill
	switch {
	case sq == nil:
		// nothing was ever sequenced for the order; a later fill starts at next=1
		sq = newSequencer()
		m.seqs[orderID] = sq
		sq.skipped[seq] = struct{}{}
		ready = sq.drain()
	case seq < sq.next:
	default:
		if _, buffered := sq.pending[seq]; !buffered {
			sq.skipped[seq] = struct{}{}
		}
		ready = sq.drain()
	}
	m.seqMu.Unlock()

	if len(ready) > 0 {
		m.logger.Warn("sequence gap skipped",
			zap.String("order_id", orderID),
			zap.Uint64("seq", seq),
			zap.Int("released", len(ready)))
	}
	return m.applyReady(s, ready)
}

// applyReady applies contiguous fills to the slot and evaluates its exit levels.
// It must be called with s.mu held.
func (m *Manager) applyReady(s *slot, ready []order.Fill) Result {
	key := s.key
	res := Result{Key: key}
	if len(ready) == 0 {
		res.Buffered = true
		if s.pos != nil {
			res.Snapshot = *s.pos
		}
		return res
	}

	for _, rf := range ready {
		m.apply(s, rf, &res)
	}

	if s.pos != nil {
		mark, ok := m.Mark(key.Symbol)
		if !ok {
			mark = ready[len(ready)-1].Price
		}
		if sig := s.pos.evaluate(mark); sig != nil {
			res.Signals = append(res.Signals, *sig)
		}
		res.Snapshot = *s.pos
	} else {
		res.Snapshot = Position{Symbol: key.Symbol, Strategy: key.Strategy}
	}

	if m.bus != nil {
		m.bus.Publish(events.EventPositionChange, res.Snapshot)
	}
	return res
}

// sequence returns the fills ready to apply, in order. It must be called with the
// slot lock of f held; fills of one order always map to the same slot.
func (m *Manager) sequence(f order.Fill) ([]order.Fill, error) {
	if f.Seq == 0 {
		return []order.Fill{f}, nil
	}
	m.seqMu.Lock()
	defer m.seqMu.Unlock()

	sq := m.seqs[f.OrderID]
	if sq == nil {
		sq = newSequencer()
		m.seqs[f.OrderID] = sq
	}
	switch {
	case f.Seq < sq.next:
		return nil, fmt.Errorf("%w: order %s sequence %d already applied", ErrDuplicateFill, f.OrderID, f.Seq)
	case f.Seq > sq.next:
		if _, dup := sq.pending[f.Seq]; dup {
			return nil, fmt.Errorf("%w: order %s sequence %d already buffered", ErrDuplicateFill, f.OrderID, f.Seq)
		}
		sq.pending[f.Seq] = f
		return nil, nil
	}

	sq.next++
	return append([]order.Fill{f}, sq.drain()...), nil
}

// Forget drops sequencing state for a finished order once nothing is buffered.
// Callers must not forget an order that can still receive fills.
func (m *Manager) Forget(orderID string) {
	m.seqMu.Lock()
	defer m.seqMu.Unlock()
	if sq := m.seqs[orderID]; sq != nil && len(sq.pending) == 0 {
		delete(m.seqs, orderID)
	}
}

// Buffered returns the number of fills waiting for an earlier sequence number.
func (m *Manager) Buffered() int {
	m.seqMu.Lock()
	defer m.seqMu.Unlock()
	n := 0
	for _, sq := range m.seqs {
		n += len(sq.pending)
	}
	return n
}

// apply must be called with s.mu held.
func (m *Manager) apply(s *slot, f order.Fill, res *Result) {
	signed := f.SignedQty()
	at := f.Time
	if at.IsZero() {
		at = m.now()
	}

	if s.pos == nil {
		s.pos = m.open(s, f.Price, signed, f.Fee, at)
		res.Applied = append(res.Applied, Applied{Fill: f, RealizedDelta: decimal.Zero})
		return
	}

	pos := s.pos
	pos.UpdatedAt = at
	pos.FillCount++
	pos.Fees = pos.Fees.Add(f.Fee)

	if pos.NetQty.Sign() == signed.Sign() {
		absNet := pos.NetQty.Abs()
		pos.AvgPrice = pos.AvgPrice.Mul(absNet).Add(f.Price.Mul(f.Qty)).Div(absNet.Add(f.Qty))
		pos.NetQty = pos.NetQty.Add(signed)
		res.Applied = append(res.Applied, Applied{Fill: f, RealizedDelta: decimal.Zero})
		return
	}

	absNet := pos.NetQty.Abs()
	closeQty := decimal.Min(f.Qty, absNet)
	direction := decimal.NewFromInt(int64(pos.NetQty.Sign()))
	realized := f.Price.Sub(pos.AvgPrice).Mul(closeQty).Mul(direction)
	pos.RealizedPnL = pos.RealizedPnL.Add(realized)
	res.Applied = append(res.Applied, Applied{Fill: f, RealizedDelta: realized})

	remainder := f.Qty.Sub(absNet)
	if remainder.IsNegative() {
		pos.NetQty = pos.NetQty.Add(signed)
		return
	}

	// flat or crossed through zero: the old position ends here
	pos.NetQty = decimal.Zero
	pos.UnrealizedPnL = decimal.Zero
	pos.ClosedAt = at
	m.archive(*pos)
	res.Closed = append(res.Closed, *pos)
	s.pos = nil

	if remainder.IsPositive() {
		s.pos = m.open(s, f.Price, remainder.Mul(f.Side.Sign()), decimal.Zero, at)
	}
}

func (m *Manager) open(s *slot, price, signed, fee decimal.Decimal, at time.Time) *Position {
	pos := &Position{
		Symbol:     s.key.Symbol,
		Strategy:   s.key.Strategy,
		NetQty:     signed,
		AvgPrice:   price,
		Fees:       fee,
		Protection: s.pending,
		FillCount:  1,
		OpenedAt:   at,
		UpdatedAt:  at,
	}
	s.pending = Protection{}
	pos.resetTrail()
	return pos
}

func (m *Manager) archive(p Position) {
	if m.archiver != nil {
		m.archiver.ArchivePosition(p)
	}
	m.audit.Append(audit.Event{
		Kind:     audit.KindPositionClosed,
		Symbol:   p.Symbol,
		Strategy: p.Strategy,
		Fields: map[string]string{
			"realized_pnl": p.RealizedPnL.String(),
			"fees":         p.Fees.String(),
			"fills":        fmt.Sprint(p.FillCount),
		},
	})
	m.logger.Info("position closed", zap.String("symbol", p.Symbol), zap.String("strategy", p.Strategy),
		zap.String("realized_pnl", p.RealizedPnL.String()))
}

// Mark returns the last reference price recorded for symbol.
func (m *Manager) Mark(symbol string) (decimal.Decimal, bool) {
	m.marksMu.RLock()
	defer m.marksMu.RUnlock()
	p, ok := m.marks[symbol]
	return p, ok
}

// UpdateMark records the reference price of symbol, revalues its positions and
// returns the close signals that fired.
func (m *Manager) UpdateMark(symbol string, price decimal.Decimal) []CloseSignal {
	if !price.IsPositive() {
		return nil
	}
	m.marksMu.Lock()
	m.marks[symbol] = price
	m.marksMu.Unlock()

	m.mu.RLock()
	slots := append([]*slot(nil), m.bySymbol[symbol]...)
	m.mu.RUnlock()

	var signals []CloseSignal
	for _, s := range slots {
		s.mu.Lock()
		if s.pos != nil {
			if sig := s.pos.evaluate(price); sig != nil {
				signals = append(signals, *sig)
			}
		}
		s.mu.Unlock()
	}
	return signals
}

// ReleaseClosing re-arms the exit levels of key after a close attempt did not
// flatten the position.
func (m *Manager) ReleaseClosing(key Key) {
	m.mu.RLock()
	s := m.slots[key]
	m.mu.RUnlock()
	if s == nil {
		return
	}
	s.mu.Lock()
	if s.pos != nil {
		s.pos.Closing = false
	}
	s.mu.Unlock()
}

// Get returns the open position of key.
func (m *Manager) Get(key Key) (Position, bool) {
	m.mu.RLock()
	s := m.slots[key]
	m.mu.RUnlock()
	if s == nil {
		return Position{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pos == nil {
		return Position{}, false
	}
	return *s.pos, true
}

// List returns every open position ordered by symbol, then strategy.
func (m *Manager) List() []Position {
	m.mu.RLock()
	slots := make([]*slot, 0, len(m.slots))
	for _, s := range m.slots {
		slots = append(slots, s)
	}
	m.mu.RUnlock()

	var out []Position
	for _, s := range slots {
		s.mu.Lock()
		if s.pos != nil {
			out = append(out, *s.pos)
		}
		s.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Symbol != out[j].Symbol {
			return out[i].Symbol < out[j].Symbol
		}
		return out[i].Strategy < out[j].Strategy
	})
	return out
}

// Exposure returns the absolute notional and unrealised P&L of all positions in symbol.
func (m *Manager) Exposure(symbol string) (exposure, unrealized decimal.Decimal) {
	m.mu.RLock()
	slots := append([]*slot(nil), m.bySymbol[symbol]...)
	m.mu.RUnlock()

	for _, s := range slots {
		s.mu.Lock()
		if s.pos != nil {
			exposure = exposure.Add(s.pos.Exposure())
			unrealized = unrealized.Add(s.pos.UnrealizedPnL)
		}
		s.mu.Unlock()
	}
	return exposure, unrealized
}

// Size returns the largest quantity for a new position in symbol at price: bounded
// by MaxFraction of equity and by the instrument's remaining exposure budget,
// rounded down to Step.
func (m *Manager) Size(symbol string, price, equity decimal.Decimal) decimal.Decimal {
	if !price.IsPositive() || !equity.IsPositive() {
		return decimal.Zero
	}
	qty := equity.Div(price)
	if m.cfg.MaxFraction.IsPositive() {
		qty = equity.Mul(m.cfg.MaxFraction).Div(price)
	}

	budget := m.cfg.InstrumentBudget
	if b, ok := m.cfg.Budgets[symbol]; ok {
		budget = b
	}
	if budget.IsPositive() {
		used, _ := m.Exposure(symbol)
		remaining := budget.Sub(used)
		if !remaining.IsPositive() {
			return decimal.Zero
		}
		qty = decimal.Min(qty, remaining.Div(price))
	}
	return order.FloorStep(qty, m.cfg.Step)
}
