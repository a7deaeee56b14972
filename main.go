package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"execution-core/internal/api"
	"execution-core/internal/audit"
	"execution-core/internal/balance"
	"execution-core/internal/engine"
	"execution-core/internal/events"
	"execution-core/internal/monitor"
	"execution-core/internal/order"
	"execution-core/internal/persistence"
	"execution-core/internal/position"
	"execution-core/internal/risk"
	"execution-core/internal/signalrpc"
	"execution-core/pkg/cache"
	"execution-core/pkg/config"
	"execution-core/pkg/db"
	"execution-core/pkg/exchanges/common"
	"execution-core/pkg/exchanges/paper"
	"execution-core/pkg/logging"
	"execution-core/pkg/node"
)

// buildVersion is overridden at link time with -ldflags "-X main.buildVersion=...".
var buildVersion = "dev"

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Error("execution core stopped with error", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	nodeID := node.ID(cfg.NodeID)
	logger = logger.With(zap.String("node", nodeID))
	logger.Info("starting execution core", zap.String("env", cfg.Env), zap.String("version", buildVersion))

	session, err := config.LoadSession(cfg.RiskConfigPath)
	if err != nil {
		return err
	}

	// Storage
	database, err := db.New(cfg.DBPath)
	if err != nil {
		return err
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	queries := database.Queries()

	if cfg.OperatorPassword != "" {
		if err := api.SeedOperator(ctx, queries, cfg.OperatorUser, cfg.OperatorPassword); err != nil {
			return fmt.Errorf("seed operator: %w", err)
		}
	}

	baseline := session.InitialEquity
	if snap, err := queries.LatestEquity(ctx, nodeID); err == nil {
		baseline = snap.Equity
		logger.Info("equity baseline restored", zap.String("equity", snap.Equity.String()), zap.Time("recorded_at", snap.RecordedAt))
	} else if !errors.Is(err, db.ErrNotFound) {
		return fmt.Errorf("load equity baseline: %w", err)
	}
	lastSeq, err := queries.MaxAuditSeq(ctx)
	if err != nil {
		return fmt.Errorf("load audit sequence: %w", err)
	}

	writer := persistence.NewBatchWriter(database.DB, cfg.BatchSize, cfg.BatchInterval, logger)
	journal := persistence.NewJournal(writer)

	// Audit trail
	bus := events.NewBus()
	memory := audit.NewMemory(cfg.AuditBuffer)
	sinks := []audit.Sink{memory, audit.BusSink{Bus: bus}, journal}
	var kafkaSink *audit.KafkaSink
	if len(cfg.KafkaBrokers) > 0 {
		kafkaSink, err = audit.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
		if err != nil {
			return err
		}
		sinks = append(sinks, kafkaSink)
	}
	auditLog := audit.NewLog(audit.Options{Node: nodeID, StartSeq: uint64(lastSeq), Logger: logger}, sinks...)

	// Core components
	metrics := monitor.NewMetrics()
	marks := cache.NewMarkCache()
	positions := position.NewManager(position.Options{
		Config:   session.PositionConfig(),
		Archiver: journal,
		Audit:    auditLog,
		Bus:      bus,
		Logger:   logger,
	})
	riskMonitor := risk.NewMonitor(risk.Options{
		Config:   session.RiskConfig(),
		Baseline: baseline,
		Audit:    auditLog,
		Bus:      bus,
		Metrics:  metrics,
		Logger:   logger,
	})
	ledger := balance.NewManager(riskMonitor.Equity(), riskMonitor, 0, logger)
	ledger.Start(ctx)

	venue := paper.New(paper.Config{
		FeeRate:      cfg.Paper.FeeRate,
		SlippageBps:  cfg.Paper.SlippageBps,
		LatencyMin:   cfg.Paper.LatencyMin,
		LatencyMax:   cfg.Paper.LatencyMax,
		FillChunks:   cfg.Paper.FillChunks,
		FillInterval: cfg.Paper.FillInterval,
	}, marks, logger)
	defer venue.Close()

	eng := engine.New(engine.Options{
		Config: session.EngineConfig(),
		Order: order.Options{
			Config: session.OrderConfig(),
			Venue:  common.NewRateLimited(venue, cfg.Paper.RateLimit, cfg.Paper.RateBurst),
			Store:  journal,
		},
		Positions: positions,
		Risk:      riskMonitor,
		Balance:   ledger,
		Marks:     marks,
		Audit:     auditLog,
		Bus:       bus,
		Metrics:   metrics,
		Logger:    logger,
		Meta: engine.SystemStatus{
			Node:      nodeID,
			Mode:      "PAPER",
			Version:   buildVersion,
			StartedAt: time.Now(),
		},
	})

	alerts := &monitor.Monitor{Bus: bus, Sink: monitor.LogSink{Logger: logger}, Metrics: metrics, Logger: logger}
	alerts.Start(ctx)

	// Surfaces
	server := api.NewServer(api.Options{
		Engine:    eng,
		Bus:       bus,
		DB:        database,
		Audit:     memory,
		JWTSecret: cfg.JWTSecret,
		TokenTTL:  cfg.TokenTTL,
		RateLimit: cfg.APIRateLimit,
		RateBurst: cfg.APIRateBurst,
		Logger:    logger,
	})
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.Router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	grpcServer := signalrpc.NewGRPCServer(eng, cfg.SignalToken, logger)
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return eng.Run(gctx)
	})
	g.Go(func() error {
		logger.Info("http api listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		logger.Info("grpc signal service listening", zap.String("addr", cfg.GRPCAddr))
		return grpcServer.Serve(lis)
	})
	g.Go(func() error {
		saveEquityLoop(gctx, queries, nodeID, eng, cfg.EquitySaveInterval, logger)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown", zap.Error(err))
		}
		grpcServer.GracefulStop()
		return nil
	})

	runErr := g.Wait()
	if errors.Is(runErr, context.Canceled) {
		runErr = nil
	}

	eng.Close()
	saveEquity(context.Background(), queries, nodeID, eng, logger)
	if err := writer.Close(); err != nil {
		logger.Error("flush journal", zap.Error(err))
	}
	if kafkaSink != nil {
		if err := kafkaSink.Close(); err != nil {
			logger.Warn("close kafka sink", zap.Error(err))
		}
	}
	bus.Close()
	logger.Info("execution core stopped")
	return runErr
}

// saveEquityLoop persists the equity baseline so the next session's drawdown
// starts from where this one ended.
func saveEquityLoop(ctx context.Context, q *db.Queries, nodeID string, svc engine.Service, interval time.Duration, logger *zap.Logger) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			saveEquity(ctx, q, nodeID, svc, logger)
		}
	}
}

func saveEquity(ctx context.Context, q *db.Queries, nodeID string, svc engine.Service, logger *zap.Logger) {
	state := svc.Risk(ctx)
	if !state.Equity.IsPositive() {
		return
	}
	err := q.SaveEquity(ctx, db.EquitySnapshot{
		Node:       nodeID,
		Equity:     state.Equity,
		Peak:       decimal.Max(state.Peak, state.Equity),
		RecordedAt: time.Now(),
	})
	if err != nil {
		logger.Warn("save equity baseline", zap.Error(err))
	}
}
