package order

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"execution-core/internal/audit"
	"execution-core/pkg/exchanges/common"
)

// ParentRequest describes a logical order that may be split into children.
type ParentRequest struct {
	Request
	ID       string          // optional; generated when empty
	RefPrice decimal.Decimal // notional reference when no limit price is set
	Ceiling  decimal.Decimal // max notional per child; zero disables splitting
	Step     decimal.Decimal // quantity increment; zero means no rounding
	Schedule Schedule
}

// Parent is a snapshot of a logical order.
type Parent struct {
	ID         string          `json:"id"`
	Symbol     string          `json:"symbol"`
	StrategyID string          `json:"strategy_id"`
	Side       common.Side     `json:"side"`
	Qty        decimal.Decimal `json:"qty"`
	FilledQty  decimal.Decimal `json:"filled_qty"`
	Policy     Policy          `json:"policy"`
	Children   []string        `json:"children"`
	Live       int             `json:"live"`
	Pending    int             `json:"pending"`
	Status     Status          `json:"status"`
	CreatedAt  time.Time       `json:"created_at"`
}

// parent is arena-stored in Manager.parents; children reference it by id only.
type parent struct {
	mu        sync.Mutex
	id        string
	req       ParentRequest
	children  []string
	live      map[string]struct{}
	pending   int
	stopped   bool
	done      bool
	cancel    context.CancelFunc
	createdAt time.Time
}

// SubmitParent plans a logical order, releases its first batch of children and
// schedules the rest. When no child of the first batch reaches the venue the
// schedule is dropped and the first dispatch error is returned.
func (m *Manager) SubmitParent(ctx context.Context, req ParentRequest) (Parent, error) {
	if err := req.Validate(); err != nil {
		return Parent{}, err
	}
	if err := ctx.Err(); err != nil {
		return Parent{}, err
	}
	if m.closed.Load() {
		return Parent{}, ErrClosed
	}
	plan, err := Plan(req)
	if err != nil {
		return Parent{}, err
	}

	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}
	pctx, cancel := context.WithCancel(m.ctx)
	p := &parent{
		id:        id,
		req:       req,
		live:      make(map[string]struct{}),
		cancel:    cancel,
		createdAt: m.now(),
	}
	for _, batch := range plan {
		p.pending += len(batch)
	}
	m.mu.Lock()
	if _, dup := m.parents[p.id]; dup {
		m.mu.Unlock()
		cancel()
		return Parent{}, fmt.Errorf("%w: duplicate order id %s", ErrInvalidRequest, p.id)
	}
	m.parents[p.id] = p
	m.mu.Unlock()

	m.logger.Info("logical order planned",
		zap.String("order_id", p.id),
		zap.String("symbol", req.Symbol),
		zap.String("policy", string(req.Schedule.policy())),
		zap.Int("batches", len(plan)),
		zap.Int("children", p.pending))

	firstErr := m.releaseBatch(pctx, p, plan[0])
	if firstErr != nil {
		m.stopSchedule(p)
	}

	if len(plan) > 1 && !m.isStopped(p) {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			defer cancel()
			m.runSchedule(pctx, p, plan[1:], req.Schedule.interval())
		}()
	} else {
		cancel()
		m.stopSchedule(p)
	}

	snap, _ := m.Parent(p.id)
	return snap, firstErr
}

func (m *Manager) runSchedule(ctx context.Context, p *parent, batches [][]decimal.Decimal, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	defer m.stopSchedule(p)

	for _, batch := range batches {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if err := m.releaseBatch(ctx, p, batch); err != nil {
			m.logger.Warn("scheduled batch not accepted", zap.String("order_id", p.id), zap.Error(err))
			if errors.Is(err, ErrNotAdmitted) {
				return
			}
		}
	}
}

// releaseBatch creates one child per quantity and dispatches them concurrently.
// It returns nil when at least one child reached the venue.
func (m *Manager) releaseBatch(ctx context.Context, p *parent, qtys []decimal.Decimal) error {
	var children []*entry
	for _, q := range qtys {
		if ctx.Err() != nil {
			break
		}
		p.mu.Lock()
		if p.stopped {
			p.mu.Unlock()
			break
		}
		req := p.req.Request
		req.Qty = q
		e, err := m.create(p.id, req)
		if err != nil {
			p.mu.Unlock()
			return err
		}
		p.children = append(p.children, e.o.ID)
		p.live[e.o.ID] = struct{}{}
		p.pending--
		p.mu.Unlock()
		children = append(children, e)
	}
	if len(children) == 0 {
		return context.Canceled
	}

	errs := make([]error, len(children))
	var g errgroup.Group
	for i, e := range children {
		g.Go(func() error {
			errs[i] = m.dispatch(e)
			return nil
		})
	}
	_ = g.Wait()

	for _, e := range children {
		if s := e.snapshot().Status; s != StatusRejected && s != StatusFailed {
			return nil
		}
	}
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) isStopped(p *parent) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopped
}

// stopSchedule drops unreleased children and settles the parent if nothing is live.
func (m *Manager) stopSchedule(p *parent) {
	p.mu.Lock()
	p.stopped = true
	p.pending = 0
	p.mu.Unlock()
	m.settle(p)
}

func (m *Manager) childTerminal(parentID, childID string) {
	m.mu.RLock()
	p := m.parents[parentID]
	m.mu.RUnlock()
	if p == nil {
		return
	}
	p.mu.Lock()
	delete(p.live, childID)
	p.mu.Unlock()
	m.settle(p)
}

// settle marks the parent done once no child is live and nothing remains to release.
func (m *Manager) settle(p *parent) {
	p.mu.Lock()
	if p.done || len(p.live) > 0 || p.pending > 0 || !p.stopped {
		p.mu.Unlock()
		return
	}
	p.done = true
	p.mu.Unlock()

	snap, _ := m.Parent(p.id)
	m.audit.Append(audit.Event{
		Kind:     audit.KindOrderTransition,
		Symbol:   snap.Symbol,
		Strategy: snap.StrategyID,
		OrderID:  snap.ID,
		Fields: map[string]string{
			"to":         string(snap.Status),
			"logical":    "true",
			"children":   fmt.Sprint(len(snap.Children)),
			"filled_qty": snap.FilledQty.String(),
		},
	})
	if m.hooks.OnParentDone != nil {
		m.hooks.OnParentDone(snap)
	}
}

// Parent returns a snapshot of a logical order with its derived status.
func (m *Manager) Parent(id string) (Parent, bool) {
	m.mu.RLock()
	p := m.parents[id]
	m.mu.RUnlock()
	if p == nil {
		return Parent{}, false
	}

	p.mu.Lock()
	snap := Parent{
		ID:         p.id,
		Symbol:     p.req.Symbol,
		StrategyID: p.req.StrategyID,
		Side:       p.req.Side,
		Qty:        p.req.Qty,
		Policy:     p.req.Schedule.policy(),
		Children:   append([]string(nil), p.children...),
		Live:       len(p.live),
		Pending:    p.pending,
		CreatedAt:  p.createdAt,
	}
	settled := p.stopped && len(p.live) == 0 && p.pending == 0
	p.mu.Unlock()

	var anyFilled, anyBad, allRejected bool
	allRejected = len(snap.Children) > 0
	for _, id := range snap.Children {
		child, ok := m.Get(id)
		if !ok {
			continue
		}
		snap.FilledQty = snap.FilledQty.Add(child.FilledQty)
		if child.FilledQty.IsPositive() {
			anyFilled = true
		}
		switch child.Status {
		case StatusRejected:
			anyBad = true
		case StatusFailed:
			anyBad = true
			allRejected = false
		default:
			allRejected = false
		}
	}
	snap.Status = parentStatus(settled, anyFilled, anyBad, allRejected)
	return snap, true
}

// parentStatus derives the logical order status from its children.
// While anything is live or unreleased the parent is working; once settled it is
// Filled when children only ended Filled or Cancelled with some quantity done,
// Cancelled when nothing filled, Rejected when every child was rejected and
// Failed when any child was rejected or failed.
func parentStatus(settled, anyFilled, anyBad, allRejected bool) Status {
	switch {
	case !settled && anyFilled:
		return StatusPartiallyFilled
	case !settled:
		return StatusSubmitted
	case allRejected:
		return StatusRejected
	case anyBad:
		return StatusFailed
	case anyFilled:
		return StatusFilled
	default:
		return StatusCancelled
	}
}

// CancelParent stops the schedule of a logical order and cancels its live children.
// Children not yet released are never created.
func (m *Manager) CancelParent(ctx context.Context, id string) error {
	m.mu.RLock()
	p := m.parents[id]
	m.mu.RUnlock()
	if p == nil {
		return fmt.Errorf("%w: %s", ErrUnknownOrder, id)
	}

	p.mu.Lock()
	if p.done {
		p.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrTerminal, id)
	}
	p.cancel()
	p.stopped = true
	p.pending = 0
	live := make([]string, 0, len(p.live))
	for cid := range p.live {
		live = append(live, cid)
	}
	p.mu.Unlock()

	var errs []error
	for _, cid := range live {
		if err := m.Cancel(ctx, cid); err != nil && !errors.Is(err, ErrTerminal) {
			errs = append(errs, err)
		}
	}
	m.settle(p)
	return errors.Join(errs...)
}

// IsParent reports whether id names a logical order.
func (m *Manager) IsParent(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.parents[id]
	return ok
}
