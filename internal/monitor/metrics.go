package monitor

import (
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Metrics tracks execution-core throughput and latency.
type Metrics struct {
	PlaceLatency  *LatencyHistogram
	CancelLatency *LatencyHistogram
	SignalLatency *LatencyHistogram

	signalsReceived uint64
	signalsRejected uint64
	ordersPlaced    uint64
	placeRetries    uint64
	ordersFailed    uint64
	fillsApplied    uint64
	fillsDropped    uint64
	marksApplied    uint64
	haltsRaised     uint64
	instrumentHalts uint64
}

// LatencyHistogram tracks latency samples with sliding window.
// Stats are computed lazily and cached until the next Record.
type LatencyHistogram struct {
	mu          sync.Mutex
	samples     []float64
	maxSize     int
	dirty       bool
	cachedStats LatencyStats
}

// NewMetrics creates a new metrics instance.
func NewMetrics() *Metrics {
	return &Metrics{
		PlaceLatency:  NewLatencyHistogram(1000),
		CancelLatency: NewLatencyHistogram(1000),
		SignalLatency: NewLatencyHistogram(1000),
	}
}

// NewLatencyHistogram creates a sliding window histogram.
func NewLatencyHistogram(size int) *LatencyHistogram {
	if size <= 0 {
		size = 1000
	}
	return &LatencyHistogram{
		samples: make([]float64, 0, size),
		maxSize: size,
		dirty:   true,
	}
}

// Record adds a latency sample in milliseconds.
func (h *LatencyHistogram) Record(latencyMs float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.samples) >= h.maxSize {
		h.samples = h.samples[1:]
	}
	h.samples = append(h.samples, latencyMs)
	h.dirty = true
}

// RecordDuration converts duration to ms and records.
func (h *LatencyHistogram) RecordDuration(d time.Duration) {
	h.Record(float64(d.Nanoseconds()) / 1e6)
}

// Stats returns min, max, avg, p50, p95, p99.
func (h *LatencyHistogram) Stats() LatencyStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.dirty && h.cachedStats.Count > 0 {
		return h.cachedStats
	}

	n := len(h.samples)
	if n == 0 {
		return LatencyStats{}
	}

	sorted := make([]float64, n)
	copy(sorted, h.samples)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}

	h.cachedStats = LatencyStats{
		Min:   sorted[0],
		Max:   sorted[n-1],
		Avg:   sum / float64(n),
		P50:   sorted[n/2],
		P95:   sorted[int(float64(n)*0.95)],
		P99:   sorted[int(float64(n)*0.99)],
		Count: n,
	}
	h.dirty = false

	return h.cachedStats
}

// LatencyStats holds computed latency statistics.
type LatencyStats struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
	Count int     `json:"count"`
}

func (m *Metrics) SignalReceived() { atomic.AddUint64(&m.signalsReceived, 1) }
func (m *Metrics) SignalRejected() { atomic.AddUint64(&m.signalsRejected, 1) }
func (m *Metrics) OrderPlaced() { atomic.AddUint64(&m.ordersPlaced, 1) }
func (m *Metrics) PlaceRetried() { atomic.AddUint64(&m.placeRetries, 1) }
func (m *Metrics) OrderFailed() { atomic.AddUint64(&m.ordersFailed, 1) }
func (m *Metrics) FillApplied() { atomic.AddUint64(&m.fillsApplied, 1) }
func (m *Metrics) FillDropped() { atomic.AddUint64(&m.fillsDropped, 1) }
func (m *Metrics) MarkApplied() { atomic.AddUint64(&m.marksApplied, 1) }
func (m *Metrics) HaltRaised() { atomic.AddUint64(&m.haltsRaised, 1) }
func (m *Metrics) InstrumentHalted() { atomic.AddUint64(&m.instrumentHalts, 1) }

// Snapshot is a point-in-time view of Metrics.
type Snapshot struct {
	PlaceLatency    LatencyStats `json:"place_latency"`
	CancelLatency   LatencyStats `json:"cancel_latency"`
	SignalLatency   LatencyStats `json:"signal_latency"`
	SignalsReceived uint64       `json:"signals_received"`
	SignalsRejected uint64       `json:"signals_rejected"`
	OrdersPlaced    uint64       `json:"orders_placed"`
	PlaceRetries    uint64       `json:"place_retries"`
	OrdersFailed    uint64       `json:"orders_failed"`
	FillsApplied    uint64       `json:"fills_applied"`
	FillsDropped    uint64       `json:"fills_dropped"`
	MarksApplied    uint64       `json:"marks_applied"`
	HaltsRaised     uint64       `json:"halts_raised"`
	InstrumentHalts uint64       `json:"instrument_halts"`
	GoroutineCount  int          `json:"goroutine_count"`
	HeapAlloc       uint64       `json:"heap_alloc_bytes"`
	Timestamp       time.Time    `json:"timestamp"`
}

// GetSnapshot returns a point-in-time metrics snapshot.
func (m *Metrics) GetSnapshot() Snapshot {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	return Snapshot{
		PlaceLatency:    m.PlaceLatency.Stats(),
		CancelLatency:   m.CancelLatency.Stats(),
		SignalLatency:   m.SignalLatency.Stats(),
		SignalsReceived: atomic.LoadUint64(&m.signalsReceived),
		SignalsRejected: atomic.LoadUint64(&m.signalsRejected),
		OrdersPlaced:    atomic.LoadUint64(&m.ordersPlaced),
		PlaceRetries:    atomic.LoadUint64(&m.placeRetries),
		OrdersFailed:    atomic.LoadUint64(&m.ordersFailed),
		FillsApplied:    atomic.LoadUint64(&m.fillsApplied),
		FillsDropped:    atomic.LoadUint64(&m.fillsDropped),
		MarksApplied:    atomic.LoadUint64(&m.marksApplied),
		HaltsRaised:     atomic.LoadUint64(&m.haltsRaised),
		InstrumentHalts: atomic.LoadUint64(&m.instrumentHalts),
		GoroutineCount:  runtime.NumGoroutine(),
		HeapAlloc:       memStats.HeapAlloc,
		Timestamp:       time.Now(),
	}
}

// Timer helps measure operation duration.
type Timer struct {
	start     time.Time
	histogram *LatencyHistogram
}

// NewTimer creates a timer that records to the given histogram.
func NewTimer(h *LatencyHistogram) *Timer {
	return &Timer{
		start:     time.Now(),
		histogram: h,
	}
}

// Stop records elapsed time to histogram.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	if t.histogram != nil {
		t.histogram.RecordDuration(elapsed)
	}
	return elapsed
}
