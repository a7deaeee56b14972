package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config holds environment-driven process settings.
type Config struct {
	Env       string `env:"APP_ENV" envDefault:"development"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"console"` // console or json
	NodeID    string `env:"NODE_ID"`                         // overrides the machine id

	HTTPAddr    string `env:"HTTP_ADDR" envDefault:":8080"`
	GRPCAddr    string `env:"GRPC_ADDR" envDefault:":50051"`
	SignalToken string `env:"SIGNAL_TOKEN"` // shared secret for gRPC signal producers; empty disables the check

	// API rate limit per client IP
	APIRateLimit float64 `env:"API_RATE_LIMIT" envDefault:"20"`
	APIRateBurst int     `env:"API_RATE_BURST" envDefault:"40"`

	// Database
	DBPath             string        `env:"DB_PATH" envDefault:"./data/execution.db"`
	BatchSize          int           `env:"DB_BATCH_SIZE" envDefault:"50"`
	BatchInterval      time.Duration `env:"DB_BATCH_INTERVAL" envDefault:"500ms"`
	EquitySaveInterval time.Duration `env:"EQUITY_SAVE_INTERVAL" envDefault:"30s"`

	// Session risk configuration (YAML)
	RiskConfigPath string `env:"RISK_CONFIG_PATH"`

	// Auth
	JWTSecret        string        `env:"JWT_SECRET" envDefault:"dev-secret"`
	TokenTTL         time.Duration `env:"TOKEN_TTL" envDefault:"12h"`
	OperatorUser     string        `env:"OPERATOR_USER" envDefault:"admin"`
	OperatorPassword string        `env:"OPERATOR_PASSWORD"`

	// Audit
	AuditBuffer  int      `env:"AUDIT_BUFFER" envDefault:"4096"`
	KafkaBrokers []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic   string   `env:"KAFKA_TOPIC" envDefault:"execution.audit"`

	Paper Paper `envPrefix:"PAPER_"`
}

// Paper configures the simulated venue used for dry-run sessions.
type Paper struct {
	FeeRate      decimal.Decimal `env:"FEE_RATE" envDefault:"0.0004"`
	SlippageBps  decimal.Decimal `env:"SLIPPAGE_BPS" envDefault:"2"`
	LatencyMin   time.Duration   `env:"LATENCY_MIN" envDefault:"0s"`
	LatencyMax   time.Duration   `env:"LATENCY_MAX" envDefault:"0s"`
	FillChunks   int             `env:"FILL_CHUNKS" envDefault:"1"`
	FillInterval time.Duration   `env:"FILL_INTERVAL" envDefault:"50ms"`
	RateLimit    float64         `env:"RATE_LIMIT" envDefault:"20"` // venue requests per second
	RateBurst    int             `env:"RATE_BURST" envDefault:"10"`
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if cfg.OperatorPassword == "" && cfg.Env == "production" {
		return nil, fmt.Errorf("OPERATOR_PASSWORD is required in production")
	}
	return cfg, nil
}
