package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"execution-core/internal/audit"
	"execution-core/internal/balance"
	"execution-core/internal/events"
	"execution-core/internal/monitor"
	"execution-core/internal/order"
	"execution-core/internal/position"
	"execution-core/internal/risk"
	"execution-core/pkg/cache"
	"execution-core/pkg/exchanges/common"
)

// Options wires an Engine. Order carries the venue, store and dispatch settings;
// the engine supplies its gate, hooks and shared infrastructure.
type Options struct {
	Config    Config
	Order     order.Options
	Positions *position.Manager
	Risk      *risk.Monitor
	Balance   *balance.Manager
	Marks     *cache.MarkCache
	Audit     *audit.Log
	Bus       *events.Bus
	Metrics   *monitor.Metrics
	Logger    *zap.Logger
	Meta      SystemStatus
}

// Engine composes the order, position, risk and capital components.
type Engine struct {
	cfg       Config
	orders    *order.Manager
	positions *position.Manager
	risk      *risk.Monitor
	balance   *balance.Manager
	marks     *cache.MarkCache
	audit     *audit.Log
	metrics   *monitor.Metrics
	logger    *zap.Logger
	meta      SystemStatus

	// admission is read-held for every venue placement and write-held while a
	// halt is latched, so no order reaches Submitted after the halt.
	admission sync.RWMutex

	mu      sync.Mutex
	closing map[string]position.Key // logical order id -> position it flattens

	wg   sync.WaitGroup
	ctx  context.Context
	stop context.CancelFunc
}

// New creates an engine and the order manager it drives.
func New(opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Metrics == nil {
		opts.Metrics = monitor.NewMetrics()
	}
	if opts.Marks == nil {
		opts.Marks = cache.NewMarkCache()
	}
	if opts.Positions == nil {
		opts.Positions = position.NewManager(position.Options{Audit: opts.Audit, Bus: opts.Bus, Logger: opts.Logger})
	}
	if opts.Risk == nil {
		opts.Risk = risk.NewMonitor(risk.Options{Config: risk.DefaultConfig(), Audit: opts.Audit, Bus: opts.Bus, Metrics: opts.Metrics, Logger: opts.Logger})
	}
	if opts.Balance == nil {
		opts.Balance = balance.NewManager(opts.Risk.Equity(), opts.Risk, 0, opts.Logger)
	}
	if opts.Meta.StartedAt.IsZero() {
		opts.Meta.StartedAt = time.Now()
	}

	ctx, stop := context.WithCancel(context.Background())
	e := &Engine{
		cfg:       opts.Config,
		positions: opts.Positions,
		risk:      opts.Risk,
		balance:   opts.Balance,
		marks:     opts.Marks,
		audit:     opts.Audit,
		metrics:   opts.Metrics,
		logger:    opts.Logger.Named("engine"),
		meta:      opts.Meta,
		closing:   make(map[string]position.Key),
		ctx:       ctx,
		stop:      stop,
	}

	oo := opts.Order
	oo.Gate = e
	oo.Audit = opts.Audit
	oo.Bus = opts.Bus
	oo.Metrics = opts.Metrics
	oo.Logger = opts.Logger
	oo.Hooks = order.Hooks{
		OnFill:       e.onFill,
		OnTerminal:   e.onTerminal,
		OnViolation:  e.onViolation,
		OnParentDone: e.onParentDone,
	}
	e.orders = order.NewManager(oo)
	return e
}

// Admit implements order.Gate. A breached limit that is not latched yet still
// refuses admission; the next enforceLimits latches it.
func (e *Engine) Admit(symbol string) (func(), error) {
	e.admission.RLock()
	if d := e.risk.Evaluate(); d.Halt {
		e.admission.RUnlock()
		return nil, fmt.Errorf("%w: %s", risk.ErrHalted, d.Reason)
	}
	if err := e.risk.CheckInstrument(symbol); err != nil {
		e.admission.RUnlock()
		return nil, err
	}
	return e.admission.RUnlock, nil
}

// Run consumes venue fills until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	return e.orders.Run(ctx)
}

// Close stops closing-signal submissions and the order manager.
func (e *Engine) Close() {
	e.stop()
	e.wg.Wait()
	e.orders.Close()
}

// Wait blocks until in-flight closing signals and order schedules have finished.
func (e *Engine) Wait() {
	e.wg.Wait()
	e.orders.Wait()
}

// --- Signal intake ---

// SubmitSignal admits, sizes and routes one signal. Every signal is audited as
// received and then as accepted or rejected with its reason.
func (e *Engine) SubmitSignal(ctx context.Context, sig Signal) Outcome {
	timer := monitor.NewTimer(e.metrics.SignalLatency)
	defer timer.Stop()

	if sig.ID == "" {
		sig.ID = uuid.NewString()
	}
	e.metrics.SignalReceived()
	e.audit.Append(audit.Event{
		Kind:     audit.KindSignalReceived,
		Symbol:   sig.Symbol,
		Strategy: sig.StrategyID,
		Fields: map[string]string{
			"signal_id":  sig.ID,
			"direction":  string(sig.Direction),
			"order_type": string(sig.OrderType),
			"quantity":   sig.Quantity.String(),
			"notional":   sig.Notional.String(),
			"close":      fmt.Sprint(sig.Close),
		},
	})

	out := e.submit(ctx, sig)
	out.SignalID = sig.ID

	fields := map[string]string{
		"signal_id": sig.ID,
		"qty":       out.Qty.String(),
		"price":     out.Price.String(),
	}
	if out.Detail != "" {
		fields["detail"] = out.Detail
	}
	kind := audit.KindSignalAccepted
	if !out.Accepted {
		kind = audit.KindSignalRejected
		e.metrics.SignalRejected()
		e.logger.Warn("signal rejected",
			zap.String("signal_id", sig.ID),
			zap.String("symbol", sig.Symbol),
			zap.String("strategy", sig.StrategyID),
			zap.String("reason", string(out.Reason)),
			zap.String("detail", out.Detail))
	}
	e.audit.Append(audit.Event{
		Kind:     kind,
		Symbol:   sig.Symbol,
		Strategy: sig.StrategyID,
		OrderID:  out.OrderID,
		Reason:   string(out.Reason),
		Fields:   fields,
	})
	return out
}

func rejected(reason Reason, err error) Outcome {
	return Outcome{Reason: reason, Detail: err.Error()}
}

func (e *Engine) submit(ctx context.Context, sig Signal) Outcome {
	if err := validate(sig); err != nil {
		return rejected(ReasonInvalidSignal, err)
	}
	// limits are re-checked on every signal, so a halt cleared while a limit
	// is still breached latches again here
	e.enforceLimits()
	if err := e.risk.CheckInstrument(sig.Symbol); err != nil {
		return rejected(haltReason(err), err)
	}
	price, err := e.referencePrice(sig)
	if err != nil {
		return rejected(ReasonSizingError, err)
	}

	key := position.Key{Symbol: sig.Symbol, Strategy: sig.StrategyID}
	var qty decimal.Decimal
	if sig.Close {
		qty, err = e.closeQty(key, sig)
	} else {
		qty, err = e.size(sig, price)
	}
	if err != nil {
		out := rejected(ReasonSizingError, err)
		switch {
		case errors.Is(err, ErrInsufficientCapital):
			out.Reason = ReasonInsufficientCapital
		case errors.Is(err, ErrInvalidSignal):
			out.Reason = ReasonInvalidSignal
		}
		out.Price = price
		return out
	}

	id := uuid.NewString()
	if sig.Close {
		e.mu.Lock()
		e.closing[id] = key
		e.mu.Unlock()
	} else {
		if err := e.balance.Reserve(id, qty.Mul(price)); err != nil {
			out := rejected(ReasonInsufficientCapital, fmt.Errorf("%w: %w", ErrInsufficientCapital, err))
			out.Qty, out.Price = qty, price
			return out
		}
		e.positions.SetProtection(key, position.Protection{
			StopLoss:       sig.StopLoss,
			TakeProfit:     sig.TakeProfit,
			TrailingOffset: sig.TrailingOffset,
		})
	}

	p, err := e.orders.SubmitParent(ctx, order.ParentRequest{
		ID: id,
		Request: order.Request{
			Symbol:      sig.Symbol,
			StrategyID:  sig.StrategyID,
			Side:        sig.Direction,
			Type:        sig.OrderType,
			Qty:         qty,
			Price:       sig.LimitPrice,
			StopPrice:   sig.StopPrice,
			TimeInForce: sig.TimeInForce,
		},
		RefPrice: price,
		Ceiling:  e.cfg.MaxOrderNotional,
		Step:     e.cfg.Step,
		Schedule: e.schedule(sig.Schedule),
	})
	if err != nil && p.ID == "" {
		// never planned, so no completion hook will release these
		e.balance.Release(id)
		e.mu.Lock()
		delete(e.closing, id)
		e.mu.Unlock()
	}

	out := Outcome{
		Accepted: err == nil,
		Reason:   ReasonAccepted,
		OrderID:  p.ID,
		Qty:      qty,
		Price:    price,
		Status:   p.Status,
		Children: p.Children,
	}
	if err != nil {
		out.Reason = failureReason(err)
		out.Detail = err.Error()
		return out
	}
	e.logger.Info("signal accepted",
		zap.String("signal_id", sig.ID),
		zap.String("order_id", p.ID),
		zap.String("symbol", sig.Symbol),
		zap.String("strategy", sig.StrategyID),
		zap.String("qty", qty.String()),
		zap.Int("children", len(p.Children)))
	return out
}

func validate(sig Signal) error {
	switch {
	case sig.Symbol == "":
		return fmt.Errorf("%w: empty symbol", ErrInvalidSignal)
	case sig.StrategyID == "":
		return fmt.Errorf("%w: empty strategy", ErrInvalidSignal)
	case !sig.Direction.Valid():
		return fmt.Errorf("%w: unknown direction %q", ErrInvalidSignal, sig.Direction)
	case !sig.OrderType.Valid():
		return fmt.Errorf("%w: unknown order type %q", ErrInvalidSignal, sig.OrderType)
	case sig.Quantity.IsNegative() || sig.Notional.IsNegative():
		return fmt.Errorf("%w: negative size", ErrInvalidSignal)
	case sig.OrderType == common.OrderTypeLimit && !sig.LimitPrice.IsPositive():
		return fmt.Errorf("%w: limit order without limit price", ErrInvalidSignal)
	case sig.OrderType == common.OrderTypeStop && !sig.StopPrice.IsPositive():
		return fmt.Errorf("%w: stop order without stop price", ErrInvalidSignal)
	}
	return nil
}

func haltReason(err error) Reason {
	if errors.Is(err, risk.ErrHalted) {
		return ReasonHaltActive
	}
	return ReasonInstrumentHalted
}

func failureReason(err error) Reason {
	switch {
	case errors.Is(err, risk.ErrHalted):
		return ReasonHaltActive
	case errors.Is(err, risk.ErrInstrumentHalted):
		return ReasonInstrumentHalted
	case common.IsRejection(err):
		return ReasonVenueRejection
	case errors.Is(err, order.ErrSplit):
		return ReasonSizingError
	case errors.Is(err, order.ErrInvalidRequest):
		return ReasonInvalidSignal
	default:
		return ReasonFailed
	}
}

// referencePrice is the limit or stop price when set, otherwise the latest mark.
func (e *Engine) referencePrice(sig Signal) (decimal.Decimal, error) {
	switch sig.OrderType {
	case common.OrderTypeLimit:
		return sig.LimitPrice, nil
	case common.OrderTypeStop:
		return sig.StopPrice, nil
	}
	if p, ok := e.marks.Get(sig.Symbol); ok && p.IsPositive() {
		return p, nil
	}
	if p, ok := e.positions.Mark(sig.Symbol); ok && p.IsPositive() {
		return p, nil
	}
	return decimal.Zero, fmt.Errorf("%w: no reference price for %s", ErrSizing, sig.Symbol)
}

func (e *Engine) allocation(strategy string) decimal.Decimal {
	if a, ok := e.cfg.Allocations[strategy]; ok {
		return a
	}
	if e.cfg.DefaultAllocation.IsPositive() {
		return e.cfg.DefaultAllocation
	}
	return decimal.NewFromInt(1)
}

// size bounds the requested quantity by the strategy's share of available capital
// and by the position sizing limits.
func (e *Engine) size(sig Signal, price decimal.Decimal) (decimal.Decimal, error) {
	if !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: non-positive price %s", ErrSizing, price)
	}
	available := e.balance.Available()
	alloc := e.allocation(sig.StrategyID)
	limit := decimal.Min(
		available.Mul(alloc).Div(price),
		e.positions.Size(sig.Symbol, price, e.risk.Equity()),
	)

	desired := sig.Quantity
	if !desired.IsPositive() && sig.Notional.IsPositive() {
		desired = sig.Notional.Div(price)
	}
	qty := limit
	if desired.IsPositive() {
		qty = decimal.Min(desired, limit)
	}
	qty = order.FloorStep(qty, e.cfg.Step)
	if !qty.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: available %s, allocation %s, limit %s at %s",
			ErrInsufficientCapital, available, alloc, limit, price)
	}
	return qty, nil
}

func (e *Engine) closeQty(key position.Key, sig Signal) (decimal.Decimal, error) {
	pos, ok := e.positions.Get(key)
	if !ok || pos.NetQty.IsZero() {
		return decimal.Zero, fmt.Errorf("%w: no open position %s/%s", ErrSizing, key.Symbol, key.Strategy)
	}
	if sig.Direction != pos.Side().Opposite() {
		return decimal.Zero, fmt.Errorf("%w: close direction %s does not oppose position", ErrInvalidSignal, sig.Direction)
	}
	qty := pos.NetQty.Abs()
	if sig.Quantity.IsPositive() && sig.Quantity.LessThan(qty) {
		qty = sig.Quantity
	}
	return qty, nil
}

func (e *Engine) schedule(s order.Schedule) order.Schedule {
	if s.Policy == order.PolicyTWAP || s.Policy == order.PolicyVWAP {
		if s.Interval <= 0 {
			s.Interval = e.cfg.TWAPInterval
		}
	}
	if s.Policy == order.PolicyVWAP && len(s.Curve) == 0 {
		s.Curve = e.cfg.VWAPCurve
	}
	return s
}

// --- Fill, mark and risk handling ---

func (e *Engine) onFill(f order.Fill) {
	res, err := e.positions.ApplyFill(f)
	if err != nil {
		e.risk.HaltInstrument(f.Symbol, risk.ReasonInvariant, err.Error())
		return
	}
	e.afterApply(f.Symbol, res)
}

// afterApply books the fills a position update applied and re-evaluates risk.
func (e *Engine) afterApply(symbol string, res position.Result) {
	for _, a := range res.Applied {
		e.balance.Consume(a.Fill.ParentID, a.Fill.Qty.Mul(a.Fill.Price))
		e.audit.Append(audit.Event{
			Kind:     audit.KindFillApplied,
			Symbol:   a.Fill.Symbol,
			Strategy: a.Fill.StrategyID,
			OrderID:  a.Fill.OrderID,
			Fields: map[string]string{
				"fill_id":        a.Fill.ID,
				"seq":            fmt.Sprint(a.Fill.Seq),
				"side":           string(a.Fill.Side),
				"qty":            a.Fill.Qty.String(),
				"price":          a.Fill.Price.String(),
				"fee":            a.Fill.Fee.String(),
				"realized_delta": a.RealizedDelta.String(),
				"net_qty":        res.Snapshot.NetQty.String(),
			},
		})
	}
	if len(res.Applied) == 0 {
		return
	}

	exposure, unrealized := e.positions.Exposure(symbol)
	e.risk.OnFill(risk.FillImpact{
		Symbol:        symbol,
		RealizedDelta: res.RealizedDelta(),
		Fee:           res.Fees(),
		Exposure:      exposure,
		Unrealized:    unrealized,
	})
	e.balance.SetExposure(symbol, exposure)
	e.balance.SetEquity(e.risk.Equity())

	e.dispatchCloses(res.Signals)
	e.enforceLimits()
}

// PushMarks revalues positions at new reference prices, fires exit levels and
// re-evaluates the risk limits.
func (e *Engine) PushMarks(ctx context.Context, marks []Mark) error {
	var errs []error
	var signals []position.CloseSignal
	seen := make(map[string]decimal.Decimal)
	for _, mk := range marks {
		if mk.Symbol == "" || !mk.Price.IsPositive() {
			errs = append(errs, fmt.Errorf("%w: %s at %s", ErrInvalidMark, mk.Symbol, mk.Price))
			continue
		}
		e.marks.Set(mk.Symbol, mk.Price)
		signals = append(signals, e.positions.UpdateMark(mk.Symbol, mk.Price)...)
		seen[mk.Symbol] = mk.Price
	}

	if len(seen) > 0 {
		revalued := make([]risk.Mark, 0, len(seen))
		for symbol, price := range seen {
			exposure, unrealized := e.positions.Exposure(symbol)
			revalued = append(revalued, risk.Mark{Symbol: symbol, Price: price, Exposure: exposure, Unrealized: unrealized})
			e.balance.SetExposure(symbol, exposure)
		}
		e.risk.OnMark(revalued)
		e.balance.SetEquity(e.risk.Equity())
		e.dispatchCloses(signals)
		e.enforceLimits()
	}
	return errors.Join(errs...)
}

// UpdateRiskEstimate stores externally computed VaR and CVaR and re-evaluates limits.
func (e *Engine) UpdateRiskEstimate(ctx context.Context, valueAtRisk, cvar decimal.Decimal) error {
	if valueAtRisk.IsNegative() || cvar.IsNegative() {
		return fmt.Errorf("%w: negative risk estimate", ErrInvalidSignal)
	}
	e.risk.SetEstimate(valueAtRisk, cvar)
	e.enforceLimits()
	return nil
}

// enforceLimits latches a halt when a limit is breached. The admission lock waits
// for in-flight placements, so once it returns no further order reaches the venue.
func (e *Engine) enforceLimits() {
	if _, halted := e.risk.Halted(); halted {
		return
	}
	if !e.risk.Evaluate().Halt {
		return
	}
	e.admission.Lock()
	e.risk.Check()
	e.admission.Unlock()
}

// dispatchCloses submits closing signals as ordinary signals; they obey the halt.
func (e *Engine) dispatchCloses(signals []position.CloseSignal) {
	for _, cs := range signals {
		sig := Signal{
			Symbol:      cs.Symbol,
			StrategyID:  cs.Strategy,
			Direction:   cs.Side,
			OrderType:   common.OrderTypeMarket,
			Quantity:    cs.Qty,
			Close:       true,
			CloseReason: string(cs.Reason),
		}
		e.logger.Info("exit level fired",
			zap.String("symbol", cs.Symbol),
			zap.String("strategy", cs.Strategy),
			zap.String("reason", string(cs.Reason)),
			zap.String("mark", cs.Mark.String()))
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.SubmitSignal(e.ctx, sig)
		}()
	}
}

func (e *Engine) onViolation(v *order.InvariantViolation) {
	if v.Kind == order.ViolationUnknownOrder || v.Symbol == "" {
		// nothing to attribute it to; the drop is already audited for review
		e.logger.Warn("venue event for unknown order", zap.String("order_id", v.OrderID), zap.String("fill_id", v.FillID))
		return
	}
	e.risk.HaltInstrument(v.Symbol, risk.ReasonInvariant, v.Error())

	// A dropped sequenced fill never reaches the position sequencer; release
	// the fills queued behind its sequence number.
	if v.Seq > 0 && v.Kind != order.ViolationDuplicateFill {
		res := e.positions.Skip(position.Key{Symbol: v.Symbol, Strategy: v.StrategyID}, v.OrderID, v.Seq)
		e.afterApply(v.Symbol, res)
		if v.Kind == order.ViolationAfterTerminal {
			e.positions.Forget(v.OrderID)
		}
	}
}

func (e *Engine) onParentDone(p order.Parent) {
	e.balance.Release(p.ID)
	e.mu.Lock()
	key, closing := e.closing[p.ID]
	delete(e.closing, p.ID)
	e.mu.Unlock()
	if closing {
		e.positions.ReleaseClosing(key)
	}
}

func (e *Engine) onTerminal(o order.Order) {
	if o.Status == order.StatusCancelled {
		// fills still in transit are honoured during the cancel grace window
		time.AfterFunc(e.orders.CancelGrace(), func() { e.positions.Forget(o.ID) })
		return
	}
	e.positions.Forget(o.ID)
}

// --- Operator commands ---

func (e *Engine) command(operator, name string, fields map[string]string, err error) {
	if fields == nil {
		fields = make(map[string]string)
	}
	fields["command"] = name
	fields["result"] = "ok"
	if err != nil {
		fields["result"] = err.Error()
	}
	e.audit.Append(audit.Event{Kind: audit.KindOperatorCommand, Operator: operator, Symbol: fields["symbol"], OrderID: fields["order_id"], Fields: fields})
	e.logger.Info("operator command", zap.String("operator", operator), zap.String("command", name), zap.String("result", fields["result"]))
}

// Halt stops all new order submission until ClearHalt.
func (e *Engine) Halt(ctx context.Context, operator, detail string) (risk.Decision, error) {
	e.admission.Lock()
	d, err := e.risk.Halt(detail, operator)
	e.admission.Unlock()
	e.command(operator, "halt", map[string]string{"detail": detail}, err)
	return d, err
}

// ClearHalt lifts the session halt and re-arms exit levels whose close was refused.
func (e *Engine) ClearHalt(ctx context.Context, operator string) error {
	err := e.risk.Clear(operator)
	e.command(operator, "clear_halt", nil, err)
	if err == nil {
		e.rearmCloses()
	}
	return err
}

// ClearInstrument lifts a per-instrument halt.
func (e *Engine) ClearInstrument(ctx context.Context, symbol, operator string) error {
	err := e.risk.ClearInstrument(symbol, operator)
	e.command(operator, "clear_instrument", map[string]string{"symbol": symbol}, err)
	if err == nil {
		e.rearmCloses()
	}
	return err
}

func (e *Engine) rearmCloses() {
	e.mu.Lock()
	working := make(map[position.Key]struct{}, len(e.closing))
	for _, k := range e.closing {
		working[k] = struct{}{}
	}
	e.mu.Unlock()
	for _, p := range e.positions.List() {
		if _, ok := working[p.Key()]; p.Closing && !ok {
			e.positions.ReleaseClosing(p.Key())
		}
	}
}

// CancelOrder cancels a logical order with all its children, or a single venue order.
func (e *Engine) CancelOrder(ctx context.Context, id, operator string) error {
	var err error
	if e.orders.IsParent(id) {
		err = e.orders.CancelParent(ctx, id)
	} else {
		err = e.orders.Cancel(ctx, id)
	}
	e.command(operator, "cancel_order", map[string]string{"order_id": id}, err)
	return err
}

// QueryPosition returns the open position of key.
func (e *Engine) QueryPosition(ctx context.Context, key position.Key, operator string) (position.Position, error) {
	p, ok := e.positions.Get(key)
	var err error
	if !ok {
		err = fmt.Errorf("%w: %s/%s", position.ErrNotFound, key.Symbol, key.Strategy)
	}
	e.command(operator, "query_position", map[string]string{"symbol": key.Symbol, "strategy": key.Strategy}, err)
	return p, err
}

// --- Queries ---

func (e *Engine) Order(ctx context.Context, id string) (OrderView, error) {
	if p, ok := e.orders.Parent(id); ok {
		return OrderView{Logical: &p}, nil
	}
	if o, ok := e.orders.Get(id); ok {
		return OrderView{Order: &o}, nil
	}
	return OrderView{}, fmt.Errorf("%w: %s", order.ErrUnknownOrder, id)
}

func (e *Engine) Positions(ctx context.Context) []position.Position {
	return e.positions.List()
}

func (e *Engine) Risk(ctx context.Context) risk.State {
	return e.risk.Snapshot()
}

func (e *Engine) Balance(ctx context.Context) balance.Balance {
	return e.balance.GetBalance()
}

func (e *Engine) Metrics(ctx context.Context) monitor.Snapshot {
	return e.metrics.GetSnapshot()
}

func (e *Engine) Status(ctx context.Context) SystemStatus {
	s := e.meta
	d, halted := e.risk.Halted()
	s.Halted = halted
	s.HaltReason = string(d.Reason)
	s.OpenPositions = len(e.positions.List())
	s.Equity = e.risk.Equity()
	s.Metrics = e.metrics.GetSnapshot()
	return s
}
