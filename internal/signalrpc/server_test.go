package signalrpc

import (
	"context"
	"fmt"
	"net"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"execution-core/internal/engine"
	"execution-core/pkg/exchanges/common"
)

// stubEngine embeds the interface so only the intake methods need bodies.
type stubEngine struct {
	engine.Service

	mu      sync.Mutex
	signals []engine.Signal
	marks   []engine.Mark
}

func (s *stubEngine) SubmitSignal(_ context.Context, sig engine.Signal) engine.Outcome {
	s.mu.Lock()
	s.signals = append(s.signals, sig)
	s.mu.Unlock()
	if sig.Symbol == "HALTED" {
		return engine.Outcome{SignalID: sig.ID, Reason: engine.ReasonInstrumentHalted}
	}
	return engine.Outcome{
		SignalID: sig.ID,
		Accepted: true,
		Reason:   engine.ReasonAccepted,
		OrderID:  "p-1",
		Qty:      sig.Quantity,
		Children: []string{"c-1", "c-2"},
	}
}

func (s *stubEngine) PushMarks(_ context.Context, marks []engine.Mark) error {
	for _, m := range marks {
		if !m.Price.IsPositive() {
			return fmt.Errorf("%w: %s", engine.ErrInvalidMark, m.Symbol)
		}
	}
	s.mu.Lock()
	s.marks = append(s.marks, marks...)
	s.mu.Unlock()
	return nil
}

func dial(t *testing.T, svc engine.Service, token string) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := NewGRPCServer(svc, token, nil)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestSubmitSignalRoundTrip(t *testing.T) {
	svc := &stubEngine{}
	client := NewClient(dial(t, svc, ""), "")

	out, err := client.SubmitSignal(context.Background(), engine.Signal{
		ID:         "sig-1",
		Symbol:     "BTCUSDT",
		StrategyID: "s1",
		Direction:  common.SideBuy,
		OrderType:  common.OrderTypeMarket,
		Quantity:   decimal.RequireFromString("0.25"),
		StopLoss:   decimal.NewNullDecimal(decimal.NewFromInt(95)),
	})
	require.NoError(t, err)
	assert.True(t, out.Accepted)
	assert.Equal(t, "sig-1", out.SignalID)
	assert.Equal(t, "0.25", out.Qty.String())
	assert.Equal(t, []string{"c-1", "c-2"}, out.Children)

	require.Len(t, svc.signals, 1)
	got := svc.signals[0]
	assert.Equal(t, common.SideBuy, got.Direction)
	assert.True(t, got.StopLoss.Valid)
	assert.Equal(t, "95", got.StopLoss.Decimal.String())
	assert.False(t, got.TakeProfit.Valid)
}

func TestSubmitSignalRejectionIsNotAnRPCError(t *testing.T) {
	client := NewClient(dial(t, &stubEngine{}, ""), "")

	out, err := client.SubmitSignal(context.Background(), engine.Signal{Symbol: "HALTED", Quantity: decimal.NewFromInt(1)})
	require.NoError(t, err)
	assert.False(t, out.Accepted)
	assert.Equal(t, engine.ReasonInstrumentHalted, out.Reason)
}

func TestPushMarks(t *testing.T) {
	svc := &stubEngine{}
	client := NewClient(dial(t, svc, ""), "")
	ctx := context.Background()

	require.NoError(t, client.PushMarks(ctx, []engine.Mark{{Symbol: "ETHUSDT", Price: decimal.RequireFromString("2000.5")}}))
	require.Len(t, svc.marks, 1)
	assert.Equal(t, "2000.5", svc.marks[0].Price.String())

	err := client.PushMarks(ctx, []engine.Mark{{Symbol: "ETHUSDT", Price: decimal.Zero}})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	err = client.PushMarks(ctx, nil)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestTokenInterceptor(t *testing.T) {
	conn := dial(t, &stubEngine{}, "s3cret")
	ctx := context.Background()
	sig := engine.Signal{Symbol: "BTCUSDT", Quantity: decimal.NewFromInt(1)}

	_, err := NewClient(conn, "").SubmitSignal(ctx, sig)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	_, err = NewClient(conn, "wrong").SubmitSignal(ctx, sig)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	out, err := NewClient(conn, "s3cret").SubmitSignal(ctx, sig)
	require.NoError(t, err)
	assert.True(t, out.Accepted)
}
