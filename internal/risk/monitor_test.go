package risk

import (
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"execution-core/internal/audit"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newMonitor(cfg Config, baseline string) (*Monitor, *audit.Memory) {
	mem := audit.NewMemory(256)
	return NewMonitor(Options{Config: cfg, Baseline: d(baseline), Audit: audit.NewLog(audit.Options{}, mem)}), mem
}

func TestDrawdownThresholdIsInclusive(t *testing.T) {
	tests := []struct {
		name     string
		loss     string
		wantHalt bool
	}{
		{name: "below threshold", loss: "-9.99", wantHalt: false},
		{name: "exactly at threshold", loss: "-10", wantHalt: true},
		{name: "above threshold", loss: "-15", wantHalt: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _ := newMonitor(Config{MaxDrawdown: d("0.10")}, "100")
			m.OnFill(FillImpact{Symbol: "BTCUSDT", RealizedDelta: d(tt.loss)})
			got := m.Check()
			if got.Halt != tt.wantHalt {
				t.Fatalf("Check().Halt=%v, expected %v (%s)", got.Halt, tt.wantHalt, got.Detail)
			}
			if tt.wantHalt {
				assert.Equal(t, ReasonDrawdown, got.Reason)
			}
		})
	}
}

func TestPeakIsMonotonic(t *testing.T) {
	m, _ := newMonitor(Config{}, "1000")
	m.OnMark([]Mark{{Symbol: "BTCUSDT", Price: d("1"), Exposure: d("500"), Unrealized: d("200")}})
	assert.True(t, m.Snapshot().Peak.Equal(d("1200")))

	m.OnMark([]Mark{{Symbol: "BTCUSDT", Price: d("1"), Exposure: d("500"), Unrealized: d("-100")}})
	s := m.Snapshot()
	assert.True(t, s.Peak.Equal(d("1200")), "peak must not drop")
	assert.True(t, s.Equity.Equal(d("900")))
	assert.True(t, s.Drawdown.Equal(d("0.25")))
}

func TestEquityIncludesFees(t *testing.T) {
	m, _ := newMonitor(Config{}, "1000")
	m.OnFill(FillImpact{Symbol: "ETHUSDT", RealizedDelta: d("50"), Fee: d("2"), Exposure: d("300"), Unrealized: d("5")})
	assert.True(t, m.Equity().Equal(d("1053")))
}

func TestExposureLimits(t *testing.T) {
	m, _ := newMonitor(Config{MaxInstrumentExposure: d("1000"), MaxGrossExposure: d("1500")}, "10000")

	m.OnMark([]Mark{{Symbol: "BTCUSDT", Exposure: d("1000")}})
	assert.False(t, m.Check().Halt, "at the ceiling is allowed")

	m.OnMark([]Mark{{Symbol: "ETHUSDT", Exposure: d("600")}})
	got := m.Check()
	require.True(t, got.Halt)
	assert.Equal(t, ReasonGrossExposure, got.Reason)

	m2, _ := newMonitor(Config{MaxInstrumentExposure: d("1000")}, "10000")
	m2.OnFill(FillImpact{Symbol: "SOLUSDT", Exposure: d("1000.01")})
	got = m2.Check()
	require.True(t, got.Halt)
	assert.Equal(t, ReasonInstrumentExposure, got.Reason)
	assert.Equal(t, "SOLUSDT", got.Symbol)
}

func TestVaRAndCVaRBounds(t *testing.T) {
	m, _ := newMonitor(Config{MaxVaR: d("100"), MaxCVaR: d("150")}, "10000")
	m.SetEstimate(d("100"), d("120"))
	assert.False(t, m.Check().Halt)

	m.SetEstimate(d("90"), d("151"))
	got := m.Check()
	require.True(t, got.Halt)
	assert.Equal(t, ReasonCVaR, got.Reason)
}

func TestHaltPersistsUntilOperatorClear(t *testing.T) {
	m, mem := newMonitor(Config{MaxDrawdown: d("0.10")}, "100")
	m.OnFill(FillImpact{Symbol: "BTCUSDT", RealizedDelta: d("-20")})
	require.True(t, m.Check().Halt)

	// recovery does not lift the halt
	m.OnFill(FillImpact{Symbol: "BTCUSDT", RealizedDelta: d("30")})
	assert.True(t, m.Check().Halt)
	require.ErrorIs(t, m.CheckInstrument("ETHUSDT"), ErrHalted)

	require.ErrorIs(t, m.Clear(""), ErrNoOperator)
	require.NoError(t, m.Clear("alice"))
	require.ErrorIs(t, m.Clear("alice"), ErrNotHalted)

	s := m.Snapshot()
	assert.False(t, s.Halted)
	assert.Equal(t, "alice", s.ClearedBy)
	assert.False(t, s.ClearedAt.IsZero())
	require.NoError(t, m.CheckInstrument("ETHUSDT"))

	assert.Len(t, mem.Filter(audit.KindHaltRaised), 1)
	cleared := mem.Filter(audit.KindHaltCleared)
	require.Len(t, cleared, 1)
	assert.Equal(t, "alice", cleared[0].Operator)
	assert.Len(t, mem.Filter(audit.KindRiskFillApplied), 2)
}

func TestOperatorHaltAndInstrumentHalts(t *testing.T) {
	m, _ := newMonitor(Config{}, "100")

	d1, err := m.Halt("manual stop", "bob")
	require.NoError(t, err)
	assert.Equal(t, ReasonOperator, d1.Reason)
	d2, err := m.Halt("again", "carol")
	require.NoError(t, err)
	assert.Equal(t, "bob", d2.Operator, "existing halt is kept")
	require.NoError(t, m.Clear("bob"))

	assert.True(t, m.HaltInstrument("BTCUSDT", ReasonInvariant, "overfill"))
	assert.False(t, m.HaltInstrument("BTCUSDT", ReasonInvariant, "overfill"))
	require.ErrorIs(t, m.CheckInstrument("BTCUSDT"), ErrInstrumentHalted)
	require.NoError(t, m.CheckInstrument("ETHUSDT"))
	require.Len(t, m.Snapshot().InstrumentHalts, 1)

	require.NoError(t, m.ClearInstrument("BTCUSDT", "bob"))
	require.ErrorIs(t, m.ClearInstrument("BTCUSDT", "bob"), ErrNotHalted)
	require.NoError(t, m.CheckInstrument("BTCUSDT"))
}

func TestEvaluateDoesNotLatch(t *testing.T) {
	m, _ := newMonitor(Config{MaxDrawdown: d("0.10")}, "100")
	m.OnFill(FillImpact{Symbol: "BTCUSDT", RealizedDelta: d("-50")})
	assert.True(t, m.Evaluate().Halt)
	_, halted := m.Halted()
	assert.False(t, halted)
}

func TestConcurrentReadsSeeWrites(t *testing.T) {
	m, _ := newMonitor(Config{}, "0")
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			m.OnFill(FillImpact{Symbol: "BTCUSDT", RealizedDelta: d("1")})
		}()
		go func() {
			defer wg.Done()
			_ = m.Snapshot()
		}()
	}
	wg.Wait()
	assert.True(t, m.Snapshot().Realized.Equal(d("50")))
}
