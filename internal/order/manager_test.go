package order

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"execution-core/internal/audit"
	"execution-core/pkg/exchanges/common"
)

// scriptedVenue returns queued Place errors in call order and records every call.
type scriptedVenue struct {
	mu        sync.Mutex
	placeErrs []error
	cancelErr error
	placed    []common.OrderRequest
	cancelled []string
	onPlace   func(common.OrderRequest)
	fills     chan common.Fill
}

func newScriptedVenue(errs ...error) *scriptedVenue {
	return &scriptedVenue{placeErrs: errs, fills: make(chan common.Fill, 16)}
}

func (v *scriptedVenue) Place(ctx context.Context, req common.OrderRequest) (common.Ack, error) {
	v.mu.Lock()
	v.placed = append(v.placed, req)
	var err error
	if len(v.placeErrs) > 0 {
		err, v.placeErrs = v.placeErrs[0], v.placeErrs[1:]
	}
	hook := v.onPlace
	v.mu.Unlock()
	if hook != nil {
		hook(req)
	}
	if err != nil {
		return common.Ack{}, err
	}
	return common.Ack{ClientID: req.ClientID, VenueOrderID: "v-" + req.ClientID}, nil
}

func (v *scriptedVenue) Cancel(ctx context.Context, orderID string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.cancelled = append(v.cancelled, orderID)
	return v.cancelErr
}

func (v *scriptedVenue) Fills() <-chan common.Fill { return v.fills }

func (v *scriptedVenue) placeCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.placed)
}

func (v *scriptedVenue) placedQtys() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]string, len(v.placed))
	for i, r := range v.placed {
		out[i] = r.Qty.String()
	}
	return out
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(dur time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(dur)
	c.mu.Unlock()
}

type denyGate struct{ err error }

func (g denyGate) Admit(string) (func(), error) { return nil, g.err }

type recorder struct {
	mu         sync.Mutex
	fills      []Fill
	terminal   []Order
	violations []*InvariantViolation
	parents    []Parent
}

func (r *recorder) hooks() Hooks {
	return Hooks{
		OnFill: func(f Fill) {
			r.mu.Lock()
			r.fills = append(r.fills, f)
			r.mu.Unlock()
		},
		OnTerminal: func(o Order) {
			r.mu.Lock()
			r.terminal = append(r.terminal, o)
			r.mu.Unlock()
		},
		OnViolation: func(v *InvariantViolation) {
			r.mu.Lock()
			r.violations = append(r.violations, v)
			r.mu.Unlock()
		},
		OnParentDone: func(p Parent) {
			r.mu.Lock()
			r.parents = append(r.parents, p)
			r.mu.Unlock()
		},
	}
}

func (r *recorder) violationKinds() []ViolationKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ViolationKind, len(r.violations))
	for i, v := range r.violations {
		out[i] = v.Kind
	}
	return out
}

func newTestManager(t *testing.T, v common.Venue, opts Options) (*Manager, *audit.Memory) {
	t.Helper()
	mem := audit.NewMemory(512)
	opts.Venue = v
	opts.Audit = audit.NewLog(audit.Options{}, mem)
	if opts.Sleep == nil {
		opts.Sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	}
	m := NewManager(opts)
	t.Cleanup(m.Close)
	return m, mem
}

func marketBuy(qty string) Request {
	return Request{Symbol: "BTCUSDT", StrategyID: "alpha", Side: common.SideBuy, Type: common.OrderTypeMarket, Qty: d(qty)}
}

func venueFill(id, orderID, qty, price string) common.Fill {
	return common.Fill{ID: id, OrderID: orderID, Qty: d(qty), Price: d(price)}
}

func TestTransitions(t *testing.T) {
	tests := []struct {
		from, to Status
		ok       bool
	}{
		{StatusCreated, StatusSubmitted, true},
		{StatusCreated, StatusRejected, true},
		{StatusCreated, StatusFailed, true},
		{StatusCreated, StatusFilled, false},
		{StatusSubmitted, StatusPartiallyFilled, true},
		{StatusSubmitted, StatusFilled, true},
		{StatusSubmitted, StatusCancelled, true},
		{StatusPartiallyFilled, StatusPartiallyFilled, true},
		{StatusPartiallyFilled, StatusFilled, true},
		{StatusPartiallyFilled, StatusRejected, false},
		{StatusFilled, StatusCancelled, false},
		{StatusCancelled, StatusFilled, false},
		{StatusRejected, StatusSubmitted, false},
		{StatusFailed, StatusSubmitted, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.ok, CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}

	o := Order{Status: StatusFilled}
	require.ErrorIs(t, transition(&o, StatusCancelled), ErrInvalidTransition)
	assert.Equal(t, StatusFilled, o.Status)
}

func TestSubmitRetriesTransportErrors(t *testing.T) {
	transient := &common.TransportError{Op: "place", Err: errors.New("connection reset")}
	v := newScriptedVenue(transient, transient)

	var delays []time.Duration
	m, _ := newTestManager(t, v, Options{
		Config: Config{BaseDelay: 10 * time.Millisecond, Multiplier: 2, MaxRetries: 3},
		Sleep: func(_ context.Context, dur time.Duration) error {
			delays = append(delays, dur)
			return nil
		},
	})

	o, err := m.Submit(context.Background(), marketBuy("1"))
	require.NoError(t, err)
	assert.Equal(t, StatusSubmitted, o.Status)
	assert.Equal(t, 2, o.Retries)
	assert.Equal(t, "v-"+o.ID, o.VenueOrderID)
	assert.Equal(t, 3, v.placeCount())
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}, delays)
}

func TestSubmitFailsAfterRetriesExhausted(t *testing.T) {
	transient := &common.TransportError{Op: "place", Err: errors.New("timeout")}
	v := newScriptedVenue(transient, transient, transient, transient)
	rec := &recorder{}
	m, mem := newTestManager(t, v, Options{
		Config: Config{MaxRetries: 2},
		Hooks:  rec.hooks(),
		Sleep:  func(context.Context, time.Duration) error { return nil },
	})

	o, err := m.Submit(context.Background(), marketBuy("1"))
	require.ErrorIs(t, err, ErrRetriesExhausted)
	assert.Equal(t, StatusFailed, o.Status)
	assert.Equal(t, 3, v.placeCount())
	assert.Len(t, rec.terminal, 1)

	transitions := mem.Filter(audit.KindOrderTransition)
	require.Len(t, transitions, 2)
	assert.Equal(t, "CREATED", transitions[0].Fields["to"])
	assert.Equal(t, "FAILED", transitions[1].Fields["to"])
}

func TestRejectionIsNotRetried(t *testing.T) {
	v := newScriptedVenue(&common.RejectionError{Reason: "insufficient margin"})
	m, _ := newTestManager(t, v, Options{Config: Config{MaxRetries: 5}})

	o, err := m.Submit(context.Background(), marketBuy("1"))
	require.Error(t, err)
	assert.True(t, common.IsRejection(err))
	assert.Equal(t, StatusRejected, o.Status)
	assert.Contains(t, o.Reason, "insufficient margin")
	assert.Equal(t, 1, v.placeCount())
}

func TestUnclassifiedErrorIsRetried(t *testing.T) {
	v := newScriptedVenue(errors.New("502 bad gateway"))
	m, _ := newTestManager(t, v, Options{
		Config: Config{MaxRetries: 1},
		Sleep:  func(context.Context, time.Duration) error { return nil },
	})

	o, err := m.Submit(context.Background(), marketBuy("1"))
	require.NoError(t, err)
	assert.Equal(t, StatusSubmitted, o.Status)
	assert.Equal(t, 2, v.placeCount())
}

func TestGateRejectionNeverReachesVenue(t *testing.T) {
	v := newScriptedVenue()
	m, _ := newTestManager(t, v, Options{Gate: denyGate{err: errors.New("trading halted")}})

	o, err := m.Submit(context.Background(), marketBuy("1"))
	require.ErrorIs(t, err, ErrNotAdmitted)
	assert.Equal(t, StatusRejected, o.Status)
	assert.Zero(t, v.placeCount())
}

func TestInvalidRequest(t *testing.T) {
	m, _ := newTestManager(t, newScriptedVenue(), Options{})
	tests := []Request{
		{Side: common.SideBuy, Type: common.OrderTypeMarket, Qty: d("1")},
		{Symbol: "BTCUSDT", Side: "HOLD", Type: common.OrderTypeMarket, Qty: d("1")},
		{Symbol: "BTCUSDT", Side: common.SideBuy, Type: common.OrderTypeMarket, Qty: d("0")},
		{Symbol: "BTCUSDT", Side: common.SideBuy, Type: common.OrderTypeLimit, Qty: d("1")},
		{Symbol: "BTCUSDT", Side: common.SideBuy, Type: common.OrderTypeStop, Qty: d("1")},
	}
	for _, req := range tests {
		_, err := m.Submit(context.Background(), req)
		require.ErrorIs(t, err, ErrInvalidRequest)
	}
	assert.Empty(t, m.Orders())
}

func TestFillsDriveOrderStatus(t *testing.T) {
	rec := &recorder{}
	m, mem := newTestManager(t, newScriptedVenue(), Options{Hooks: rec.hooks()})
	o, err := m.Submit(context.Background(), marketBuy("2"))
	require.NoError(t, err)

	m.HandleFill(venueFill("f1", o.ID, "0.5", "100"))
	got, _ := m.Get(o.ID)
	assert.Equal(t, StatusPartiallyFilled, got.Status)

	m.HandleFill(venueFill("f2", o.ID, "1.5", "104"))
	got, _ = m.Get(o.ID)
	assert.Equal(t, StatusFilled, got.Status)
	assert.True(t, got.FilledQty.Equal(d("2")))
	assert.True(t, got.AvgPrice.Equal(d("103")))

	require.Len(t, rec.fills, 2)
	assert.Equal(t, "alpha", rec.fills[0].StrategyID)
	assert.Equal(t, common.SideBuy, rec.fills[1].Side)
	require.Len(t, rec.terminal, 1)
	assert.Equal(t, StatusFilled, rec.terminal[0].Status)
	assert.Empty(t, rec.violations)
	assert.Len(t, mem.Filter(audit.KindOrderTransition), 4)
}

func TestFillViolationsAreDropped(t *testing.T) {
	rec := &recorder{}
	m, mem := newTestManager(t, newScriptedVenue(), Options{Hooks: rec.hooks()})
	o, err := m.Submit(context.Background(), marketBuy("1"))
	require.NoError(t, err)

	m.HandleFill(venueFill("f1", o.ID, "0.6", "100"))
	m.HandleFill(venueFill("f1", o.ID, "0.1", "100"))
	m.HandleFill(venueFill("f2", o.ID, "0.6", "100"))
	m.HandleFill(venueFill("f3", o.ID, "0", "100"))
	m.HandleFill(venueFill("f4", "missing", "0.1", "100"))

	got, _ := m.Get(o.ID)
	assert.True(t, got.FilledQty.Equal(d("0.6")))
	assert.Equal(t, StatusPartiallyFilled, got.Status)
	assert.Equal(t, []ViolationKind{
		ViolationDuplicateFill, ViolationOverfill, ViolationInvalidFill, ViolationUnknownOrder,
	}, rec.violationKinds())
	assert.Len(t, rec.fills, 1)
	assert.Len(t, mem.Filter(audit.KindFillDropped), 4)

	m.HandleFill(venueFill("f5", o.ID, "0.4", "100"))
	m.HandleFill(venueFill("f6", o.ID, "0.1", "100"))
	assert.Equal(t, ViolationAfterTerminal, rec.violationKinds()[4])
}

func TestFillBeforeAckImpliesSubmission(t *testing.T) {
	v := newScriptedVenue()
	m, _ := newTestManager(t, v, Options{})
	v.onPlace = func(req common.OrderRequest) {
		m.HandleFill(venueFill("early", req.ClientID, "0.5", "100"))
	}

	o, err := m.Submit(context.Background(), marketBuy("1"))
	require.NoError(t, err)
	assert.Equal(t, StatusPartiallyFilled, o.Status)
	assert.True(t, o.FilledQty.Equal(d("0.5")))
	assert.NotEmpty(t, o.VenueOrderID)
}

func TestCancelGraceWindow(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	rec := &recorder{}
	v := newScriptedVenue()
	m, _ := newTestManager(t, v, Options{
		Config: Config{CancelGrace: 2 * time.Second},
		Hooks:  rec.hooks(),
		Now:    clock.Now,
	})
	o, err := m.Submit(context.Background(), marketBuy("1"))
	require.NoError(t, err)
	m.HandleFill(venueFill("f1", o.ID, "0.25", "100"))

	require.NoError(t, m.Cancel(context.Background(), o.ID))
	got, _ := m.Get(o.ID)
	require.Equal(t, StatusCancelled, got.Status)
	assert.Equal(t, []string{o.ID}, v.cancelled)

	clock.Advance(time.Second)
	m.HandleFill(venueFill("f2", o.ID, "0.25", "101"))
	got, _ = m.Get(o.ID)
	assert.Equal(t, StatusCancelled, got.Status, "late fill keeps the cancelled status")
	assert.True(t, got.FilledQty.Equal(d("0.5")))

	clock.Advance(2 * time.Second)
	m.HandleFill(venueFill("f3", o.ID, "0.25", "102"))
	got, _ = m.Get(o.ID)
	assert.True(t, got.FilledQty.Equal(d("0.5")))
	assert.Equal(t, []ViolationKind{ViolationAfterTerminal}, rec.violationKinds())

	require.ErrorIs(t, m.Cancel(context.Background(), o.ID), ErrTerminal)
	require.ErrorIs(t, m.Cancel(context.Background(), "nope"), ErrUnknownOrder)
}

func TestSequencedFillsInsideCancelGrace(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	rec := &recorder{}
	m, _ := newTestManager(t, newScriptedVenue(), Options{Hooks: rec.hooks(), Now: clock.Now})
	o, err := m.Submit(context.Background(), Request{
		Symbol: "ETHUSDT", StrategyID: "alpha", Side: common.SideBuy, Type: common.OrderTypeLimit, Qty: d("10"), Price: d("100"),
	})
	require.NoError(t, err)

	for i, qty := range []string{"3", "3"} {
		f := venueFill(fmt.Sprintf("f%d", i+1), o.ID, qty, "100")
		f.Seq = uint64(i + 1)
		m.HandleFill(f)
	}
	require.NoError(t, m.Cancel(context.Background(), o.ID))
	require.Len(t, rec.terminal, 1)

	clock.Advance(time.Second)
	late := venueFill("f3", o.ID, "2", "100")
	late.Seq = 3
	m.HandleFill(late)

	got, _ := m.Get(o.ID)
	assert.Equal(t, StatusCancelled, got.Status)
	assert.True(t, got.FilledQty.Equal(d("8")))
	require.Len(t, rec.fills, 3)
	assert.Equal(t, uint64(3), rec.fills[2].Seq)
	assert.Len(t, rec.terminal, 1, "a late fill does not end the order twice")
	assert.Empty(t, rec.violations)
}

func TestDroppedFillCarriesSequence(t *testing.T) {
	rec := &recorder{}
	m, _ := newTestManager(t, newScriptedVenue(), Options{Hooks: rec.hooks()})
	o, err := m.Submit(context.Background(), marketBuy("1"))
	require.NoError(t, err)

	f := venueFill("f1", o.ID, "2", "100")
	f.Seq = 1
	m.HandleFill(f)

	require.Len(t, rec.violations, 1)
	v := rec.violations[0]
	assert.Equal(t, ViolationOverfill, v.Kind)
	assert.Equal(t, uint64(1), v.Seq)
	assert.Equal(t, "alpha", v.StrategyID)
	assert.Equal(t, "BTCUSDT", v.Symbol)
}

func TestFinalFillExpiresRemainder(t *testing.T) {
	rec := &recorder{}
	m, _ := newTestManager(t, newScriptedVenue(), Options{Hooks: rec.hooks()})
	req := marketBuy("4")
	req.TimeInForce = common.TIFIOC
	o, err := m.Submit(context.Background(), req)
	require.NoError(t, err)

	f := venueFill("f1", o.ID, "1", "100")
	f.Final = true
	m.HandleFill(f)

	got, _ := m.Get(o.ID)
	assert.Equal(t, StatusCancelled, got.Status)
	assert.True(t, got.FilledQty.Equal(d("1")))
	assert.Contains(t, got.Reason, "IOC")
	require.Len(t, rec.terminal, 1)
	assert.Equal(t, StatusCancelled, rec.terminal[0].Status)

	full := marketBuy("1")
	full.TimeInForce = common.TIFFOK
	o2, err := m.Submit(context.Background(), full)
	require.NoError(t, err)
	f = venueFill("f2", o2.ID, "1", "100")
	f.Final = true
	m.HandleFill(f)
	got, _ = m.Get(o2.ID)
	assert.Equal(t, StatusFilled, got.Status, "a final fill that completes the order fills it")
}

func TestCancelDuringPlacement(t *testing.T) {
	v := newScriptedVenue()
	placing := make(chan string)
	release := make(chan struct{})
	v.onPlace = func(req common.OrderRequest) {
		placing <- req.ClientID
		<-release
	}
	m, _ := newTestManager(t, v, Options{})

	done := make(chan Order)
	go func() {
		o, _ := m.Submit(context.Background(), marketBuy("1"))
		done <- o
	}()
	id := <-placing
	require.NoError(t, m.Cancel(context.Background(), id))
	close(release)
	<-done
	m.Wait()

	got, _ := m.Get(id)
	assert.Equal(t, StatusCancelled, got.Status)
	assert.True(t, got.CancelRequested)
	assert.Equal(t, []string{id}, v.cancelled)
}

func TestCancelDuringBackoff(t *testing.T) {
	v := newScriptedVenue(&common.TransportError{Op: "place", Err: errors.New("timeout")})
	sleeping := make(chan struct{})
	m, _ := newTestManager(t, v, Options{
		Config: Config{MaxRetries: 3},
		Sleep: func(ctx context.Context, _ time.Duration) error {
			close(sleeping)
			<-ctx.Done()
			return ctx.Err()
		},
	})

	done := make(chan Order)
	go func() {
		o, _ := m.Submit(context.Background(), marketBuy("1"))
		done <- o
	}()
	<-sleeping
	id := m.Orders()[0].ID
	require.NoError(t, m.Cancel(context.Background(), id))

	o := <-done
	assert.Equal(t, StatusCancelled, o.Status)
	assert.Equal(t, 1, v.placeCount())
	assert.Empty(t, v.cancelled, "nothing reached the venue")
}

func TestCancelRejectedByVenue(t *testing.T) {
	v := newScriptedVenue()
	v.cancelErr = &common.RejectionError{Reason: "order already filled"}
	m, _ := newTestManager(t, v, Options{})
	o, err := m.Submit(context.Background(), marketBuy("1"))
	require.NoError(t, err)

	err = m.Cancel(context.Background(), o.ID)
	assert.True(t, common.IsRejection(err))
	got, _ := m.Get(o.ID)
	assert.Equal(t, StatusSubmitted, got.Status)
}

func TestSubmitParentSplitsByCeiling(t *testing.T) {
	v := newScriptedVenue()
	rec := &recorder{}
	m, _ := newTestManager(t, v, Options{Hooks: rec.hooks()})

	req := ParentRequest{
		Request: Request{Symbol: "XRPUSDT", StrategyID: "alpha", Side: common.SideBuy, Type: common.OrderTypeLimit, Qty: d("1000"), Price: d("1")},
		Ceiling: d("300"),
	}
	p, err := m.SubmitParent(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, p.Children, 4)
	assert.Equal(t, StatusSubmitted, p.Status)
	assert.ElementsMatch(t, []string{"300", "300", "300", "100"}, v.placedQtys())
	assert.True(t, m.IsParent(p.ID))

	for i, cid := range p.Children {
		child, ok := m.Get(cid)
		require.True(t, ok)
		assert.Equal(t, p.ID, child.ParentID)
		m.HandleFill(venueFill("f"+string(rune('a'+i)), cid, child.Qty.String(), "1"))
		if i == 0 {
			mid, _ := m.Parent(p.ID)
			assert.Equal(t, StatusPartiallyFilled, mid.Status)
		}
	}

	p, _ = m.Parent(p.ID)
	assert.Equal(t, StatusFilled, p.Status)
	assert.True(t, p.FilledQty.Equal(d("1000")))
	require.Len(t, rec.parents, 1)
	assert.Equal(t, StatusFilled, rec.parents[0].Status)
}

func TestSubmitParentAllChildrenRejected(t *testing.T) {
	v := newScriptedVenue(&common.RejectionError{Reason: "bad"}, &common.RejectionError{Reason: "bad"})
	rec := &recorder{}
	m, _ := newTestManager(t, v, Options{Hooks: rec.hooks()})

	req := ParentRequest{Request: marketBuy("2"), RefPrice: d("100"), Ceiling: d("100")}
	p, err := m.SubmitParent(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, StatusRejected, p.Status)
	require.Len(t, rec.parents, 1)
}

func TestCancelParentStopsTWAPSchedule(t *testing.T) {
	v := newScriptedVenue()
	rec := &recorder{}
	m, _ := newTestManager(t, v, Options{Hooks: rec.hooks()})

	req := ParentRequest{
		Request:  marketBuy("3"),
		Schedule: Schedule{Policy: PolicyTWAP, Slices: 3, Interval: time.Hour},
	}
	p, err := m.SubmitParent(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, p.Children, 1)
	assert.Equal(t, 2, p.Pending)

	m.HandleFill(venueFill("f1", p.Children[0], "0.5", "100"))
	require.NoError(t, m.CancelParent(context.Background(), p.ID))
	m.Wait()

	p, _ = m.Parent(p.ID)
	assert.Equal(t, StatusFilled, p.Status, "cancelled with some quantity done")
	assert.Equal(t, 0, p.Pending)
	assert.Len(t, p.Children, 1)
	assert.Equal(t, 1, v.placeCount())
	require.Len(t, rec.parents, 1)

	require.ErrorIs(t, m.CancelParent(context.Background(), p.ID), ErrTerminal)
	require.ErrorIs(t, m.CancelParent(context.Background(), "nope"), ErrUnknownOrder)
}

func TestParentStatus(t *testing.T) {
	tests := []struct {
		name                                    string
		settled, anyFilled, anyBad, allRejected bool
		want                                    Status
	}{
		{"working", false, false, false, false, StatusSubmitted},
		{"working with fills", false, true, false, false, StatusPartiallyFilled},
		{"all rejected", true, false, true, true, StatusRejected},
		{"some failed", true, true, true, false, StatusFailed},
		{"done with fills", true, true, false, false, StatusFilled},
		{"cancelled empty", true, false, false, false, StatusCancelled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parentStatus(tt.settled, tt.anyFilled, tt.anyBad, tt.allRejected))
		})
	}
}

func TestRunRoutesVenueFills(t *testing.T) {
	v := newScriptedVenue()
	rec := &recorder{}
	m, _ := newTestManager(t, v, Options{Config: Config{FillShards: 3}, Hooks: rec.hooks()})
	o, err := m.Submit(context.Background(), marketBuy("1"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- m.Run(ctx) }()

	v.fills <- venueFill("f1", o.ID, "0.4", "100")
	v.fills <- venueFill("f2", o.ID, "0.6", "100")
	require.Eventually(t, func() bool {
		got, _ := m.Get(o.ID)
		return got.Status == StatusFilled
	}, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-errc)
}

func TestClosedManagerRefusesOrders(t *testing.T) {
	m, _ := newTestManager(t, newScriptedVenue(), Options{})
	m.Close()
	_, err := m.Submit(context.Background(), marketBuy("1"))
	require.ErrorIs(t, err, ErrClosed)
}
