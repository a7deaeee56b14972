package paper

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"execution-core/pkg/cache"
	"execution-core/pkg/exchanges/common"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func collect(t *testing.T, v *Venue, n int) []common.Fill {
	t.Helper()
	var out []common.Fill
	timeout := time.After(2 * time.Second)
	for len(out) < n {
		select {
		case f := <-v.Fills():
			out = append(out, f)
		case <-timeout:
			t.Fatalf("got %d fills, want %d", len(out), n)
		}
	}
	return out
}

func TestPaperMarketOrderChunkedFills(t *testing.T) {
	marks := cache.NewMarkCache()
	marks.Set("BTCUSDT", d("100"))
	v := New(Config{FeeRate: d("0.001"), FillChunks: 3, FillInterval: time.Millisecond}, marks, nil)
	defer v.Close()

	ack, err := v.Place(context.Background(), common.OrderRequest{
		ClientID: "o1", Symbol: "BTCUSDT", Side: common.SideBuy, Type: common.OrderTypeMarket, Qty: d("1"),
	})
	require.NoError(t, err)
	assert.Equal(t, "o1", ack.ClientID)
	assert.NotEmpty(t, ack.VenueOrderID)

	fills := collect(t, v, 3)
	total := decimal.Zero
	for i, f := range fills {
		assert.Equal(t, uint64(i+1), f.Seq)
		assert.Equal(t, "o1", f.OrderID)
		assert.True(t, f.Price.Equal(d("100")))
		assert.True(t, f.Fee.Equal(f.Qty.Mul(d("0.1"))))
		total = total.Add(f.Qty)
	}
	assert.True(t, total.Equal(d("1")), "fills sum to %s", total)
	assert.False(t, fills[0].Final)
	assert.True(t, fills[2].Final)
}

func TestPaperTimeInForce(t *testing.T) {
	marks := cache.NewMarkCache()
	marks.Set("BTCUSDT", d("100"))
	v := New(Config{FillChunks: 4, FillInterval: time.Millisecond}, marks, nil)
	defer v.Close()

	_, err := v.Place(context.Background(), common.OrderRequest{
		ClientID: "ioc", Symbol: "BTCUSDT", Side: common.SideBuy, Type: common.OrderTypeMarket, Qty: d("4"), TimeInForce: common.TIFIOC,
	})
	require.NoError(t, err)
	fills := collect(t, v, 1)
	assert.True(t, fills[0].Qty.Equal(d("1")))
	assert.True(t, fills[0].Final, "IOC remainder expires with the first fill")

	select {
	case f := <-v.Fills():
		t.Fatalf("unexpected fill after IOC expiry: %+v", f)
	case <-time.After(50 * time.Millisecond):
	}

	_, err = v.Place(context.Background(), common.OrderRequest{
		ClientID: "fok", Symbol: "BTCUSDT", Side: common.SideSell, Type: common.OrderTypeMarket, Qty: d("4"), TimeInForce: common.TIFFOK,
	})
	require.NoError(t, err)
	fills = collect(t, v, 1)
	assert.True(t, fills[0].Qty.Equal(d("4")), "FOK fills in one piece")
	assert.True(t, fills[0].Final)
}

func TestPaperRejectsWithoutPrice(t *testing.T) {
	v := New(Config{}, cache.NewMarkCache(), nil)
	defer v.Close()

	_, err := v.Place(context.Background(), common.OrderRequest{
		ClientID: "o1", Symbol: "ETHUSDT", Side: common.SideSell, Type: common.OrderTypeMarket, Qty: d("1"),
	})
	require.Error(t, err)
	assert.True(t, common.IsRejection(err))
}

func TestPaperInjectedTransportFailures(t *testing.T) {
	marks := cache.NewMarkCache()
	marks.Set("BTCUSDT", d("100"))
	v := New(Config{FailFirst: 2}, marks, nil)
	defer v.Close()

	req := common.OrderRequest{ClientID: "o1", Symbol: "BTCUSDT", Side: common.SideBuy, Type: common.OrderTypeLimit, Qty: d("2"), Price: d("99")}
	for i := 0; i < 2; i++ {
		_, err := v.Place(context.Background(), req)
		require.Error(t, err)
		assert.True(t, common.IsTransport(err))
	}
	_, err := v.Place(context.Background(), req)
	require.NoError(t, err)

	f := collect(t, v, 1)[0]
	assert.True(t, f.Price.Equal(d("99")))
	assert.True(t, f.Qty.Equal(d("2")))

	_, err = v.Place(context.Background(), req)
	assert.True(t, common.IsRejection(err), "duplicate client id")
}

func TestPaperCancelStopsFills(t *testing.T) {
	marks := cache.NewMarkCache()
	marks.Set("BTCUSDT", d("100"))
	v := New(Config{FillChunks: 4, FillInterval: 50 * time.Millisecond}, marks, nil)
	defer v.Close()

	_, err := v.Place(context.Background(), common.OrderRequest{
		ClientID: "o1", Symbol: "BTCUSDT", Side: common.SideBuy, Type: common.OrderTypeMarket, Qty: d("4"),
	})
	require.NoError(t, err)
	collect(t, v, 1)
	require.NoError(t, v.Cancel(context.Background(), "o1"))

	select {
	case f := <-v.Fills():
		t.Fatalf("unexpected fill after cancel: %+v", f)
	case <-time.After(150 * time.Millisecond):
	}

	err = v.Cancel(context.Background(), "missing")
	assert.True(t, common.IsRejection(err))
}

func TestPaperStopOrderWaitsForTrigger(t *testing.T) {
	marks := cache.NewMarkCache()
	marks.Set("BTCUSDT", d("100"))
	v := New(Config{FillInterval: 5 * time.Millisecond}, marks, nil)
	defer v.Close()

	_, err := v.Place(context.Background(), common.OrderRequest{
		ClientID: "s1", Symbol: "BTCUSDT", Side: common.SideSell, Type: common.OrderTypeStop, Qty: d("1"), StopPrice: d("95"),
	})
	require.NoError(t, err)

	select {
	case f := <-v.Fills():
		t.Fatalf("stop filled before trigger: %+v", f)
	case <-time.After(30 * time.Millisecond):
	}

	marks.Set("BTCUSDT", d("94"))
	f := collect(t, v, 1)[0]
	assert.True(t, f.Price.Equal(d("94")))
}

func TestPaperPlaceHonoursContext(t *testing.T) {
	v := New(Config{LatencyMin: time.Second}, cache.NewMarkCache(), nil)
	defer v.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := v.Place(ctx, common.OrderRequest{ClientID: "o1", Symbol: "X", Side: common.SideBuy, Type: common.OrderTypeLimit, Qty: d("1"), Price: d("1")})
	assert.True(t, common.IsTransport(err))
}
