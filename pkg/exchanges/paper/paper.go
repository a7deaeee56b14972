// Package paper is a simulated venue for dry-run sessions.
//
// It accepts orders after a configurable gateway latency, prices them from the
// limit price or the cached mark with random slippage, and streams fills in
// chunks with per-order sequence numbers. FOK orders fill in one piece; IOC
// orders take the first chunk and the remainder expires with it.
package paper

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"execution-core/pkg/cache"
	"execution-core/pkg/exchanges/common"
)

var errInjected = errors.New("injected transport failure")

// Config controls the simulation.
type Config struct {
	FeeRate      decimal.Decimal // e.g. 0.0004 = 4 bps
	SlippageBps  decimal.Decimal // max adverse slippage in basis points
	LatencyMin   time.Duration
	LatencyMax   time.Duration
	FillChunks   int           // fills per order
	FillInterval time.Duration // delay between fills, also the stop trigger poll period
	FailFirst    int           // first N Place calls fail with a transport error
	FillBuffer   int
}

// Venue is an in-memory common.Venue.
type Venue struct {
	cfg    Config
	marks  *cache.MarkCache
	fills  chan common.Fill
	logger *zap.Logger

	rngMu sync.Mutex
	rng   *rand.Rand

	mu         sync.Mutex
	orders     map[string]*paperOrder
	placeCalls int
	closed     bool
	done       chan struct{}
	wg         sync.WaitGroup
}

type paperOrder struct {
	req       common.OrderRequest
	venueID   string
	filled    decimal.Decimal
	seq       uint64
	cancelled bool
	stop      chan struct{}
}

// New creates a paper venue pricing market and stop orders from marks.
func New(cfg Config, marks *cache.MarkCache, logger *zap.Logger) *Venue {
	if cfg.FillChunks <= 0 {
		cfg.FillChunks = 1
	}
	if cfg.FillInterval <= 0 {
		cfg.FillInterval = 50 * time.Millisecond
	}
	if cfg.FillBuffer <= 0 {
		cfg.FillBuffer = 1024
	}
	if cfg.LatencyMax > 0 && cfg.LatencyMin > cfg.LatencyMax {
		cfg.LatencyMin, cfg.LatencyMax = cfg.LatencyMax, cfg.LatencyMin
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Venue{
		cfg:    cfg,
		marks:  marks,
		fills:  make(chan common.Fill, cfg.FillBuffer),
		logger: logger.Named("paper"),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		orders: make(map[string]*paperOrder),
		done:   make(chan struct{}),
	}
}

func (v *Venue) Fills() <-chan common.Fill {
	return v.fills
}

// Place simulates gateway latency, then accepts the order and starts its fill stream.
func (v *Venue) Place(ctx context.Context, req common.OrderRequest) (common.Ack, error) {
	if delay := v.latency(); delay > 0 {
		t := time.NewTimer(delay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return common.Ack{}, &common.TransportError{Op: "place", Err: ctx.Err()}
		}
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return common.Ack{}, &common.TransportError{Op: "place", Err: errors.New("venue closed")}
	}
	v.placeCalls++
	if v.placeCalls <= v.cfg.FailFirst {
		return common.Ack{}, &common.TransportError{Op: "place", Err: errInjected}
	}
	if _, dup := v.orders[req.ClientID]; dup {
		return common.Ack{}, &common.RejectionError{Reason: "duplicate client order id"}
	}
	if !req.Qty.IsPositive() {
		return common.Ack{}, &common.RejectionError{Reason: "quantity must be positive"}
	}
	if req.Type == common.OrderTypeMarket {
		if _, ok := v.marks.Get(req.Symbol); !ok {
			return common.Ack{}, &common.RejectionError{Reason: "no market price for " + req.Symbol}
		}
	}

	o := &paperOrder{
		req:     req,
		venueID: uuid.NewString(),
		stop:    make(chan struct{}),
	}
	v.orders[req.ClientID] = o
	v.wg.Add(1)
	go v.run(o)

	v.logger.Debug("order accepted", zap.String("order_id", req.ClientID), zap.String("symbol", req.Symbol),
		zap.String("side", string(req.Side)), zap.String("qty", req.Qty.String()))
	return common.Ack{ClientID: req.ClientID, VenueOrderID: o.venueID, AcceptedAt: time.Now()}, nil
}

// Cancel stops further fills for an order. Fills already emitted stay in the stream.
func (v *Venue) Cancel(ctx context.Context, orderID string) error {
	if err := ctx.Err(); err != nil {
		return &common.TransportError{Op: "cancel", Err: err}
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	o, ok := v.orders[orderID]
	if !ok {
		return &common.RejectionError{Reason: "unknown order " + orderID}
	}
	if o.filled.Equal(o.req.Qty) {
		return &common.RejectionError{Reason: "order already filled"}
	}
	if !o.cancelled {
		o.cancelled = true
		close(o.stop)
	}
	return nil
}

// Close stops all fill streams and closes the fill channel.
func (v *Venue) Close() {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.closed = true
	close(v.done)
	v.mu.Unlock()
	v.wg.Wait()
	close(v.fills)
}

func (v *Venue) latency() time.Duration {
	if v.cfg.LatencyMax <= 0 {
		return v.cfg.LatencyMin
	}
	span := int64(v.cfg.LatencyMax - v.cfg.LatencyMin)
	if span <= 0 {
		return v.cfg.LatencyMin
	}
	v.rngMu.Lock()
	defer v.rngMu.Unlock()
	return v.cfg.LatencyMin + time.Duration(v.rng.Int63n(span+1))
}

func (v *Venue) run(o *paperOrder) {
	defer v.wg.Done()
	ticker := time.NewTicker(v.cfg.FillInterval)
	defer ticker.Stop()

	wait := func() bool {
		select {
		case <-ticker.C:
			return true
		case <-o.stop:
			return false
		case <-v.done:
			return false
		}
	}

	if o.req.Type == common.OrderTypeStop {
		for !v.triggered(o.req) {
			if !wait() {
				return
			}
		}
	}

	chunks := v.chunks(o.req.Qty)
	switch o.req.TimeInForce {
	case common.TIFFOK:
		chunks = []decimal.Decimal{o.req.Qty}
	case common.TIFIOC:
		chunks = chunks[:1]
	}
	for i, qty := range chunks {
		if i > 0 && !wait() {
			return
		}
		price, ok := v.fillPrice(o.req)
		if !ok {
			v.logger.Warn("no price for fill, stopping", zap.String("order_id", o.req.ClientID))
			return
		}

		v.mu.Lock()
		if o.cancelled || v.closed {
			v.mu.Unlock()
			return
		}
		o.seq++
		o.filled = o.filled.Add(qty)
		f := common.Fill{
			ID:      uuid.NewString(),
			OrderID: o.req.ClientID,
			Seq:     o.seq,
			Qty:     qty,
			Price:   price,
			Fee:     price.Mul(qty).Mul(v.cfg.FeeRate),
			Time:    time.Now(),
			Final:   i == len(chunks)-1,
		}
		v.mu.Unlock()

		select {
		case v.fills <- f:
		case <-v.done:
			return
		}
	}
}

func (v *Venue) chunks(qty decimal.Decimal) []decimal.Decimal {
	n := v.cfg.FillChunks
	if n <= 1 {
		return []decimal.Decimal{qty}
	}
	part := qty.Div(decimal.NewFromInt(int64(n))).Truncate(8)
	if !part.IsPositive() {
		return []decimal.Decimal{qty}
	}
	out := make([]decimal.Decimal, 0, n)
	used := decimal.Zero
	for i := 0; i < n-1; i++ {
		out = append(out, part)
		used = used.Add(part)
	}
	return append(out, qty.Sub(used))
}

func (v *Venue) triggered(req common.OrderRequest) bool {
	mark, ok := v.marks.Get(req.Symbol)
	if !ok {
		return false
	}
	if req.Side == common.SideBuy {
		return mark.GreaterThanOrEqual(req.StopPrice)
	}
	return mark.LessThanOrEqual(req.StopPrice)
}

// fillPrice is the limit price for limit orders, otherwise the mark moved
// against the taker by up to SlippageBps.
func (v *Venue) fillPrice(req common.OrderRequest) (decimal.Decimal, bool) {
	if req.Type == common.OrderTypeLimit && req.Price.IsPositive() {
		return req.Price, true
	}
	mark, ok := v.marks.Get(req.Symbol)
	if !ok || !mark.IsPositive() {
		return decimal.Zero, false
	}
	if !v.cfg.SlippageBps.IsPositive() {
		return mark, true
	}
	v.rngMu.Lock()
	noise := decimal.NewFromFloat(v.rng.Float64())
	v.rngMu.Unlock()
	frac := v.cfg.SlippageBps.Div(decimal.NewFromInt(10000)).Mul(noise)
	if req.Side == common.SideBuy {
		return mark.Mul(decimal.NewFromInt(1).Add(frac)), true
	}
	return mark.Mul(decimal.NewFromInt(1).Sub(frac)), true
}
