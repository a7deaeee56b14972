package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"execution-core/internal/engine"
	"execution-core/internal/signalrpc"
	"execution-core/pkg/exchanges/common"
	"execution-core/pkg/logging"
)

// signal_check pushes one mark and submits one signal to a running core over
// the gRPC signal service, then prints the outcome.
//
// Usage:
//
//	go run ./scripts/signal_check -addr localhost:50051 -symbol BTCUSDT -price 30000 -notional 100
//
// SIGNAL_TOKEN is sent when set, the same variable the core checks.

func main() {
	addr := flag.String("addr", "localhost:50051", "gRPC signal service address")
	symbol := flag.String("symbol", "BTCUSDT", "instrument")
	price := flag.String("price", "30000", "mark pushed before the signal")
	notional := flag.String("notional", "100", "signal notional")
	side := flag.String("side", "BUY", "BUY or SELL")
	flag.Parse()

	logger, err := logging.New("info", "console")
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	mark, err := decimal.NewFromString(*price)
	if err != nil {
		logger.Fatal("invalid price", zap.Error(err))
	}
	amount, err := decimal.NewFromString(*notional)
	if err != nil {
		logger.Fatal("invalid notional", zap.Error(err))
	}

	conn, err := grpc.NewClient(*addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		logger.Fatal("dial", zap.Error(err))
	}
	defer conn.Close()
	client := signalrpc.NewClient(conn, os.Getenv("SIGNAL_TOKEN"))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := client.PushMarks(ctx, []engine.Mark{{Symbol: *symbol, Price: mark}}); err != nil {
		logger.Fatal("push marks", zap.Error(err))
	}
	out, err := client.SubmitSignal(ctx, engine.Signal{
		ID:         uuid.NewString(),
		Symbol:     *symbol,
		StrategyID: "signal-check",
		Direction:  common.Side(*side),
		OrderType:  common.OrderTypeMarket,
		Notional:   amount,
	})
	if err != nil {
		logger.Fatal("submit signal", zap.Error(err))
	}
	logger.Info("signal outcome",
		zap.String("signal_id", out.SignalID),
		zap.Bool("accepted", out.Accepted),
		zap.String("reason", string(out.Reason)),
		zap.String("detail", out.Detail),
		zap.String("order_id", out.OrderID),
		zap.String("qty", out.Qty.String()),
		zap.String("price", out.Price.String()))
	if !out.Accepted {
		os.Exit(2)
	}
}
