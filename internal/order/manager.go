package order

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"execution-core/internal/audit"
	"execution-core/internal/events"
	"execution-core/internal/monitor"
	"execution-core/pkg/cache"
	"execution-core/pkg/exchanges/common"
)

// Config tunes dispatch and fill handling.
type Config struct {
	BaseDelay   time.Duration // first retry delay
	Multiplier  float64       // backoff growth per retry
	MaxRetries  int           // retries after the first attempt
	CancelGrace time.Duration // how long fills are honoured after a cancel ack
	Workers     int           // concurrent venue calls
	FillShards  int           // fill intake goroutines, keyed by instrument
}

func (c Config) withDefaults() Config {
	if c.BaseDelay <= 0 {
		c.BaseDelay = 100 * time.Millisecond
	}
	if c.Multiplier < 1 {
		c.Multiplier = 2
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.CancelGrace <= 0 {
		c.CancelGrace = 5 * time.Second
	}
	if c.Workers <= 0 {
		c.Workers = 16
	}
	if c.FillShards <= 0 {
		c.FillShards = 4
	}
	return c
}

// Gate admits orders onto the venue. The returned release func is called once the
// placement outcome has been recorded, so a halt cannot slip between admission and
// the order reaching Submitted.
type Gate interface {
	Admit(symbol string) (release func(), err error)
}

// Store persists order snapshots and applied fills.
type Store interface {
	SaveOrder(Order)
	SaveFill(Fill)
}

// Hooks are invoked outside the manager's locks.
type Hooks struct {
	OnFill       func(Fill)
	OnTerminal   func(Order)
	OnViolation  func(*InvariantViolation)
	OnParentDone func(Parent)
}

// Options wires a Manager.
type Options struct {
	Config  Config
	Venue   common.Venue
	Gate    Gate
	Audit   *audit.Log
	Store   Store
	Bus     *events.Bus
	Metrics *monitor.Metrics
	Logger  *zap.Logger
	Hooks   Hooks
	Now     func() time.Time
	Sleep   func(ctx context.Context, d time.Duration) error
}

type entry struct {
	mu          sync.Mutex
	o           Order
	fillIDs     map[string]struct{}
	inFlight    bool
	ctx         context.Context
	abort       context.CancelFunc
	cancelAckAt time.Time
}

func (e *entry) snapshot() Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.o
}

// Manager owns the lifecycle of every order routed by the core.
type Manager struct {
	cfg     Config
	venue   common.Venue
	gate    Gate
	audit   *audit.Log
	store   Store
	bus     *events.Bus
	metrics *monitor.Metrics
	logger  *zap.Logger
	hooks   Hooks
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error

	mu      sync.RWMutex
	orders  map[string]*entry
	parents map[string]*parent

	sem    chan struct{}
	wg     sync.WaitGroup
	ctx    context.Context
	stop   context.CancelFunc
	closed atomic.Bool
}

// NewManager creates an order manager bound to a venue.
func NewManager(opts Options) *Manager {
	cfg := opts.Config.withDefaults()
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Metrics == nil {
		opts.Metrics = monitor.NewMetrics()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepCtx
	}
	ctx, stop := context.WithCancel(context.Background())
	return &Manager{
		cfg:     cfg,
		venue:   opts.Venue,
		gate:    opts.Gate,
		audit:   opts.Audit,
		store:   opts.Store,
		bus:     opts.Bus,
		metrics: opts.Metrics,
		logger:  opts.Logger.Named("order"),
		hooks:   opts.Hooks,
		now:     opts.Now,
		sleep:   opts.Sleep,
		orders:  make(map[string]*entry),
		parents: make(map[string]*parent),
		sem:     make(chan struct{}, cfg.Workers),
		ctx:     ctx,
		stop:    stop,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SetHooks replaces the callbacks. It must be called before orders are submitted.
func (m *Manager) SetHooks(h Hooks) {
	m.hooks = h
}

// Get returns a snapshot of an order.
func (m *Manager) Get(id string) (Order, bool) {
	e := m.entry(id)
	if e == nil {
		return Order{}, false
	}
	return e.snapshot(), true
}

// Orders returns snapshots of every tracked order.
func (m *Manager) Orders() []Order {
	m.mu.RLock()
	entries := make([]*entry, 0, len(m.orders))
	for _, e := range m.orders {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	out := make([]Order, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.snapshot())
	}
	return out
}

func (m *Manager) entry(id string) *entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.orders[id]
}

// Submit creates a standalone order and dispatches it. It returns once the venue
// has acknowledged the order or dispatch has ended in a terminal state.
func (m *Manager) Submit(ctx context.Context, req Request) (Order, error) {
	if err := req.Validate(); err != nil {
		return Order{}, err
	}
	if err := ctx.Err(); err != nil {
		return Order{}, err
	}
	e, err := m.create("", req)
	if err != nil {
		return Order{}, err
	}
	err = m.dispatch(e)
	return e.snapshot(), err
}

func (m *Manager) create(parentID string, req Request) (*entry, error) {
	if m.closed.Load() {
		return nil, ErrClosed
	}
	now := m.now()
	tif := req.TimeInForce
	if tif == "" {
		tif = common.TIFGTC
	}
	ctx, abort := context.WithCancel(m.ctx)
	e := &entry{
		o: Order{
			ID:          uuid.NewString(),
			ParentID:    parentID,
			Symbol:      req.Symbol,
			StrategyID:  req.StrategyID,
			Side:        req.Side,
			Type:        req.Type,
			Qty:         req.Qty,
			Price:       req.Price,
			StopPrice:   req.StopPrice,
			TimeInForce: tif,
			Status:      StatusCreated,
			CreatedAt:   now,
			UpdatedAt:   now,
		},
		fillIDs: make(map[string]struct{}),
		ctx:     ctx,
		abort:   abort,
	}
	m.mu.Lock()
	m.orders[e.o.ID] = e
	m.mu.Unlock()

	m.record(e.o, "")
	return e, nil
}

// dispatch places the order, retrying transport errors with exponential backoff.
func (m *Manager) dispatch(e *entry) error {
	defer e.abort()
	delay := m.cfg.BaseDelay

	for attempt := 0; ; attempt++ {
		e.mu.Lock()
		status, cancelRequested := e.o.Status, e.o.CancelRequested
		e.mu.Unlock()
		if status != StatusCreated {
			// a fill already acknowledged the order implicitly
			return nil
		}
		if e.ctx.Err() != nil {
			if cancelRequested {
				m.finishCreated(e, StatusCancelled, "cancelled before submission")
				return nil
			}
			m.finishCreated(e, StatusFailed, "order manager closed")
			return ErrClosed
		}

		err := m.attempt(e)
		if err == nil {
			return nil
		}
		switch {
		case errors.Is(err, ErrNotAdmitted):
			m.finishCreated(e, StatusRejected, err.Error())
			return err
		case common.IsRejection(err):
			m.finishCreated(e, StatusRejected, err.Error())
			return err
		case e.ctx.Err() != nil:
			continue
		}

		if attempt >= m.cfg.MaxRetries {
			m.metrics.OrderFailed()
			m.finishCreated(e, StatusFailed, err.Error())
			return fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, attempt+1, err)
		}

		e.mu.Lock()
		e.o.Retries++
		e.o.UpdatedAt = m.now()
		retries := e.o.Retries
		e.mu.Unlock()
		m.metrics.PlaceRetried()
		m.logger.Warn("place failed, backing off",
			zap.String("order_id", e.o.ID),
			zap.Int("retry", retries),
			zap.Duration("delay", delay),
			zap.Error(err))

		if err := m.sleep(e.ctx, delay); err != nil {
			continue
		}
		delay = time.Duration(float64(delay) * m.cfg.Multiplier)
	}
}

// attempt runs one venue placement under a worker slot and the admission gate.
func (m *Manager) attempt(e *entry) error {
	select {
	case m.sem <- struct{}{}:
	case <-e.ctx.Done():
		return e.ctx.Err()
	}
	defer func() { <-m.sem }()

	release := func() {}
	if m.gate != nil {
		r, err := m.gate.Admit(e.o.Symbol)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrNotAdmitted, err)
		}
		release = r
	}
	defer release()

	e.mu.Lock()
	if e.o.CancelRequested {
		e.mu.Unlock()
		e.abort()
		return context.Canceled
	}
	e.inFlight = true
	req := Request{
		Symbol:      e.o.Symbol,
		StrategyID:  e.o.StrategyID,
		Side:        e.o.Side,
		Type:        e.o.Type,
		Qty:         e.o.Qty,
		Price:       e.o.Price,
		StopPrice:   e.o.StopPrice,
		TimeInForce: e.o.TimeInForce,
	}.venueRequest(e.o.ID)
	e.mu.Unlock()

	timer := monitor.NewTimer(m.metrics.PlaceLatency)
	ack, err := m.venue.Place(e.ctx, req)
	timer.Stop()

	e.mu.Lock()
	e.inFlight = false
	if err != nil {
		e.mu.Unlock()
		return err
	}
	from := e.o.Status
	e.o.VenueOrderID = ack.VenueOrderID
	if from == StatusCreated {
		_ = transition(&e.o, StatusSubmitted)
		e.o.UpdatedAt = m.now()
	}
	snap := e.o
	e.mu.Unlock()

	m.metrics.OrderPlaced()
	if from == StatusCreated {
		m.record(snap, from)
	}
	if snap.CancelRequested && !snap.Status.IsTerminal() {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			if err := m.cancelAtVenue(m.ctx, e); err != nil {
				m.logger.Warn("deferred cancel failed", zap.String("order_id", snap.ID), zap.Error(err))
			}
		}()
	}
	return nil
}

func (m *Manager) finishCreated(e *entry, to Status, reason string) {
	e.mu.Lock()
	if e.o.Status != StatusCreated {
		e.mu.Unlock()
		return
	}
	_ = transition(&e.o, to)
	e.o.Reason = reason
	e.o.UpdatedAt = m.now()
	snap := e.o
	e.mu.Unlock()

	m.record(snap, StatusCreated)
	m.terminal(snap)
}

// Cancel cancels a non-terminal order. An order still waiting for submission is
// cancelled locally; a live order is cancelled at the venue with transport retries.
func (m *Manager) Cancel(ctx context.Context, id string) error {
	e := m.entry(id)
	if e == nil {
		return fmt.Errorf("%w: %s", ErrUnknownOrder, id)
	}
	e.mu.Lock()
	if e.o.Status.IsTerminal() {
		status := e.o.Status
		e.mu.Unlock()
		return fmt.Errorf("%w: %s is %s", ErrTerminal, id, status)
	}
	e.o.CancelRequested = true
	if e.o.Status == StatusCreated {
		inFlight := e.inFlight
		e.mu.Unlock()
		if !inFlight {
			e.abort()
		}
		return nil
	}
	e.mu.Unlock()
	return m.cancelAtVenue(ctx, e)
}

func (m *Manager) cancelAtVenue(ctx context.Context, e *entry) error {
	delay := m.cfg.BaseDelay
	for attempt := 0; ; attempt++ {
		e.mu.Lock()
		status := e.o.Status
		e.mu.Unlock()
		switch {
		case status == StatusFilled:
			return fmt.Errorf("%w: %s is %s", ErrTerminal, e.o.ID, status)
		case status.IsTerminal():
			return nil
		}

		timer := monitor.NewTimer(m.metrics.CancelLatency)
		err := m.venue.Cancel(ctx, e.o.ID)
		timer.Stop()
		if err == nil {
			m.markCancelled(e)
			return nil
		}
		if common.IsRejection(err) {
			return err
		}
		if attempt >= m.cfg.MaxRetries {
			return fmt.Errorf("cancel %s: %w: %w", e.o.ID, ErrRetriesExhausted, err)
		}
		if err := m.sleep(ctx, delay); err != nil {
			return err
		}
		delay = time.Duration(float64(delay) * m.cfg.Multiplier)
	}
}

func (m *Manager) markCancelled(e *entry) {
	e.mu.Lock()
	if !e.o.Status.Live() {
		e.mu.Unlock()
		return
	}
	from := e.o.Status
	_ = transition(&e.o, StatusCancelled)
	now := m.now()
	e.cancelAckAt = now
	e.o.UpdatedAt = now
	snap := e.o
	e.mu.Unlock()

	m.record(snap, from)
	m.terminal(snap)
}

// Run consumes the venue fill stream until ctx is cancelled or the stream closes.
// Fills are sharded by instrument so each instrument is processed in arrival order.
func (m *Manager) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	shards := make([]chan common.Fill, m.cfg.FillShards)
	for i := range shards {
		ch := make(chan common.Fill, 256)
		shards[i] = ch
		g.Go(func() error {
			for f := range ch {
				m.HandleFill(f)
			}
			return nil
		})
	}
	g.Go(func() error {
		defer func() {
			for _, ch := range shards {
				close(ch)
			}
		}()
		fills := m.venue.Fills()
		for {
			select {
			case <-gctx.Done():
				return nil
			case f, ok := <-fills:
				if !ok {
					return nil
				}
				shards[m.shardFor(f.OrderID)] <- f
			}
		}
	})
	return g.Wait()
}

func (m *Manager) shardFor(orderID string) int {
	e := m.entry(orderID)
	if e == nil {
		return 0
	}
	// symbol never changes after creation
	return cache.ShardIndex(e.o.Symbol, m.cfg.FillShards)
}

// CancelGrace returns how long fills are honoured after a cancel ack.
func (m *Manager) CancelGrace() time.Duration { return m.cfg.CancelGrace }

// HandleFill applies one venue fill to its order. Fills that would break an order
// invariant are dropped and reported through OnViolation.
func (m *Manager) HandleFill(vf common.Fill) {
	e := m.entry(vf.OrderID)
	if e == nil {
		m.violation(&InvariantViolation{Kind: ViolationUnknownOrder, OrderID: vf.OrderID, FillID: vf.ID, Seq: vf.Seq, Detail: "fill for unknown order"})
		return
	}

	e.mu.Lock()
	v := m.checkFill(e, vf)
	if v != nil {
		e.mu.Unlock()
		m.violation(v)
		return
	}

	from := e.o.Status
	if from == StatusCreated {
		_ = transition(&e.o, StatusSubmitted)
	}
	prevFilled := e.o.FilledQty
	e.o.FilledQty = prevFilled.Add(vf.Qty)
	e.o.AvgPrice = e.o.AvgPrice.Mul(prevFilled).Add(vf.Price.Mul(vf.Qty)).Div(e.o.FilledQty)
	now := m.now()
	if !e.o.Status.IsTerminal() {
		switch {
		case e.o.FilledQty.Equal(e.o.Qty):
			_ = transition(&e.o, StatusFilled)
		case vf.Final:
			// the venue expired the remainder; earlier fills still in transit
			// are honoured for the cancel grace window
			_ = transition(&e.o, StatusCancelled)
			e.o.Reason = "remainder expired (" + string(e.o.TimeInForce) + ")"
			e.cancelAckAt = now
		default:
			_ = transition(&e.o, StatusPartiallyFilled)
		}
	}
	e.fillIDs[vf.ID] = struct{}{}
	e.o.UpdatedAt = now
	snap := e.o
	e.mu.Unlock()

	fill := Fill{
		ID:         vf.ID,
		OrderID:    snap.ID,
		ParentID:   snap.ParentID,
		Seq:        vf.Seq,
		Symbol:     snap.Symbol,
		StrategyID: snap.StrategyID,
		Side:       snap.Side,
		Qty:        vf.Qty,
		Price:      vf.Price,
		Fee:        vf.Fee,
		Time:       vf.Time,
	}
	if fill.Time.IsZero() {
		fill.Time = snap.UpdatedAt
	}
	if m.store != nil {
		m.store.SaveFill(fill)
	}
	m.metrics.FillApplied()
	if from != snap.Status {
		m.record(snap, from)
	}
	if m.hooks.OnFill != nil {
		m.hooks.OnFill(fill)
	}
	if !from.IsTerminal() && snap.Status.IsTerminal() {
		m.terminal(snap)
	}
}

// checkFill must be called with e.mu held.
func (m *Manager) checkFill(e *entry, vf common.Fill) *InvariantViolation {
	v := &InvariantViolation{OrderID: e.o.ID, FillID: vf.ID, Seq: vf.Seq, Symbol: e.o.Symbol, StrategyID: e.o.StrategyID}
	if _, dup := e.fillIDs[vf.ID]; dup {
		v.Kind, v.Detail = ViolationDuplicateFill, "fill id already applied"
		return v
	}
	if !vf.Qty.IsPositive() || !vf.Price.IsPositive() {
		v.Kind, v.Detail = ViolationInvalidFill, "non-positive quantity or price"
		return v
	}
	switch e.o.Status {
	case StatusFilled, StatusRejected, StatusFailed:
		v.Kind, v.Detail = ViolationAfterTerminal, "fill on "+string(e.o.Status)+" order"
		return v
	case StatusCancelled:
		if e.cancelAckAt.IsZero() || m.now().Sub(e.cancelAckAt) > m.cfg.CancelGrace {
			v.Kind, v.Detail = ViolationAfterTerminal, "fill outside cancel grace window"
			return v
		}
	}
	if e.o.FilledQty.Add(vf.Qty).GreaterThan(e.o.Qty) {
		v.Kind = ViolationOverfill
		v.Detail = fmt.Sprintf("filled %s + %s exceeds %s", e.o.FilledQty, vf.Qty, e.o.Qty)
		return v
	}
	return nil
}

func (m *Manager) violation(v *InvariantViolation) {
	m.metrics.FillDropped()
	m.logger.Error("fill dropped", zap.String("kind", string(v.Kind)),
		zap.String("order_id", v.OrderID), zap.String("fill_id", v.FillID),
		zap.String("symbol", v.Symbol), zap.String("detail", v.Detail))
	m.audit.Append(audit.Event{
		Kind:    audit.KindFillDropped,
		Symbol:  v.Symbol,
		OrderID: v.OrderID,
		Reason:  string(v.Kind),
		Fields:  map[string]string{"fill_id": v.FillID, "detail": v.Detail},
	})
	if m.hooks.OnViolation != nil {
		m.hooks.OnViolation(v)
	}
}

// record persists, audits and publishes a transition. from is empty for creation.
func (m *Manager) record(o Order, from Status) {
	if m.store != nil {
		m.store.SaveOrder(o)
	}
	fields := map[string]string{
		"from":       string(from),
		"to":         string(o.Status),
		"qty":        o.Qty.String(),
		"filled_qty": o.FilledQty.String(),
	}
	if o.ParentID != "" {
		fields["parent_id"] = o.ParentID
	}
	m.audit.Append(audit.Event{
		Kind:     audit.KindOrderTransition,
		Symbol:   o.Symbol,
		Strategy: o.StrategyID,
		OrderID:  o.ID,
		Reason:   o.Reason,
		Fields:   fields,
	})
	if m.bus != nil {
		m.bus.Publish(events.EventOrderUpdate, o)
	}
	m.logger.Debug("order transition", zap.String("order_id", o.ID),
		zap.String("symbol", o.Symbol), zap.String("from", string(from)), zap.String("to", string(o.Status)))
}

func (m *Manager) terminal(o Order) {
	if m.hooks.OnTerminal != nil {
		m.hooks.OnTerminal(o)
	}
	if o.ParentID != "" {
		m.childTerminal(o.ParentID, o.ID)
	}
}

// Wait blocks until background schedules and deferred cancels have finished.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// Close stops schedules and pending dispatches. Orders still waiting to be
// submitted end Failed.
func (m *Manager) Close() {
	if m.closed.Swap(true) {
		return
	}
	m.stop()
	m.wg.Wait()
}
