package monitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"execution-core/internal/events"
)

func TestLatencyHistogramStats(t *testing.T) {
	h := NewLatencyHistogram(4)
	for _, v := range []float64{10, 20, 30, 40, 50} {
		h.Record(v)
	}
	s := h.Stats()
	require.Equal(t, 4, s.Count)
	assert.Equal(t, 20.0, s.Min)
	assert.Equal(t, 50.0, s.Max)
	assert.Equal(t, 35.0, s.Avg)

	h.RecordDuration(5 * time.Millisecond)
	assert.Equal(t, 5.0, h.Stats().Min)
}

func TestMetricsSnapshotCounters(t *testing.T) {
	m := NewMetrics()
	m.SignalReceived()
	m.SignalReceived()
	m.SignalRejected()
	m.FillApplied()
	m.HaltRaised()
	NewTimer(m.PlaceLatency).Stop()

	s := m.GetSnapshot()
	assert.Equal(t, uint64(2), s.SignalsReceived)
	assert.Equal(t, uint64(1), s.SignalsRejected)
	assert.Equal(t, uint64(1), s.FillsApplied)
	assert.Equal(t, uint64(1), s.HaltsRaised)
	assert.Equal(t, 1, s.PlaceLatency.Count)
}

type recordingSink struct {
	mu   sync.Mutex
	msgs []string
}

func (r *recordingSink) Send(m string) error {
	r.mu.Lock()
	r.msgs = append(r.msgs, m)
	r.mu.Unlock()
	return nil
}

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

func TestMonitorForwardsHaltAlerts(t *testing.T) {
	bus := events.NewBus()
	sink := &recordingSink{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	(&Monitor{Bus: bus, Sink: sink}).Start(ctx)
	bus.Publish(events.EventRiskHalt, "drawdown breached")

	require.Eventually(t, func() bool { return sink.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "drawdown breached", sink.msgs[0])
}
