// Package audit is the append-only event log of the execution core.
//
// Every state change that matters for post-trade review (signals, order
// transitions, fills, marks, halts and operator commands) is appended here with a
// monotonic sequence number and fanned out to the configured sinks.
package audit

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Kind classifies an audit event.
type Kind string

const (
	KindSignalReceived    Kind = "signal.received"
	KindSignalAccepted    Kind = "signal.accepted"
	KindSignalRejected    Kind = "signal.rejected"
	KindOrderTransition   Kind = "order.transition"
	KindFillApplied       Kind = "fill.applied"
	KindFillDropped       Kind = "fill.dropped"
	KindMarkApplied       Kind = "mark.applied"
	KindRiskFillApplied   Kind = "risk.fill_applied"
	KindHaltRaised        Kind = "risk.halt_raised"
	KindHaltCleared       Kind = "risk.halt_cleared"
	KindInstrumentHalted  Kind = "instrument.halted"
	KindInstrumentCleared Kind = "instrument.cleared"
	KindOperatorCommand   Kind = "operator.command"
	KindPositionClosed    Kind = "position.closed"
)

// Event is one immutable audit record.
type Event struct {
	Seq      uint64            `json:"seq"`
	Time     time.Time         `json:"time"`
	Node     string            `json:"node,omitempty"`
	Kind     Kind              `json:"kind"`
	Symbol   string            `json:"symbol,omitempty"`
	Strategy string            `json:"strategy,omitempty"`
	OrderID  string            `json:"order_id,omitempty"`
	Operator string            `json:"operator,omitempty"`
	Reason   string            `json:"reason,omitempty"`
	Fields   map[string]string `json:"fields,omitempty"`
}

// Sink receives every appended event in sequence order.
type Sink interface {
	Write(Event) error
}

// Options configures a Log.
type Options struct {
	Node     string
	StartSeq uint64 // last sequence already persisted; the next event gets StartSeq+1
	Now      func() time.Time
	Logger   *zap.Logger
}

// Log assigns sequence numbers and timestamps and forwards events to sinks.
type Log struct {
	mu     sync.Mutex
	seq    uint64
	node   string
	now    func() time.Time
	sinks  []Sink
	logger *zap.Logger
}

// NewLog creates an audit log with the given sinks.
func NewLog(opts Options, sinks ...Sink) *Log {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Log{
		seq:    opts.StartSeq,
		node:   opts.Node,
		now:    opts.Now,
		sinks:  sinks,
		logger: opts.Logger.Named("audit"),
	}
}

// AddSink registers an additional sink. Events appended earlier are not replayed.
func (l *Log) AddSink(s Sink) {
	l.mu.Lock()
	l.sinks = append(l.sinks, s)
	l.mu.Unlock()
}

// Append stamps e and delivers it to every sink. Sink failures are logged and
// never block the caller's state change.
func (l *Log) Append(e Event) Event {
	if l == nil {
		return e
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	l.seq++
	e.Seq = l.seq
	e.Time = l.now()
	if e.Node == "" {
		e.Node = l.node
	}
	for _, s := range l.sinks {
		if err := s.Write(e); err != nil {
			l.logger.Warn("audit sink write failed",
				zap.Uint64("seq", e.Seq),
				zap.String("kind", string(e.Kind)),
				zap.Error(err))
		}
	}
	return e
}

// Seq returns the last assigned sequence number.
func (l *Log) Seq() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.seq
}
