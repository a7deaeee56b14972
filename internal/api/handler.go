// Package api exposes the operator control surface over HTTP.
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"execution-core/internal/audit"
	"execution-core/internal/engine"
	"execution-core/internal/events"
	"execution-core/pkg/db"
)

// Options wires a Server.
type Options struct {
	Engine    engine.Service
	Bus       *events.Bus
	DB        *db.Database  // operators, order history and audit replay
	Audit     *audit.Memory // replay fallback when no database is configured
	JWTSecret string
	TokenTTL  time.Duration
	RateLimit float64 // requests per second per client IP
	RateBurst int
	Logger    *zap.Logger
}

// Server wires HTTP endpoints around the engine service.
type Server struct {
	Router    *gin.Engine
	Engine    engine.Service
	Bus       *events.Bus
	Queries   *db.Queries
	Audit     *audit.Memory
	JWTSecret string
	TokenTTL  time.Duration
	logger    *zap.Logger
}

func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = 12 * time.Hour
	}
	logger := opts.Logger.Named("api")

	r := gin.New()

	// Middleware stack (order matters!)
	r.Use(gin.Recovery())                                                    // Panic recovery (first)
	r.Use(RequestIDMiddleware())                                             // Request ID tracking
	r.Use(RequestLogger(logger))                                             // Request logging (after ID is set)
	r.Use(RateLimitMiddleware(newIPLimiter(opts.RateLimit, opts.RateBurst))) // Rate limiting
	r.Use(TimeoutMiddleware(30 * time.Second))                               // Request deadline
	r.Use(CORSMiddleware())                                                  // CORS (last before routes)

	s := &Server{
		Router:    r,
		Engine:    opts.Engine,
		Bus:       opts.Bus,
		Audit:     opts.Audit,
		JWTSecret: opts.JWTSecret,
		TokenTTL:  opts.TokenTTL,
		logger:    logger,
	}
	if opts.DB != nil {
		s.Queries = opts.DB.Queries()
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/ws", s.websocket)

	api := s.Router.Group("/api")
	{
		// Auth endpoints (no auth required)
		api.POST("/auth/login", s.login)

		// Protected API
		protected := api.Group("")
		protected.Use(AuthMiddleware(s.JWTSecret))
		{
			protected.GET("/system/status", s.getSystemStatus)
			protected.GET("/metrics", s.getMetrics)
			protected.GET("/balance", s.getBalance)
			protected.GET("/risk", s.getRisk)
			protected.GET("/audit", s.getAudit)

			// Intake
			protected.POST("/signals", s.submitSignal)
			protected.POST("/marks", s.pushMarks)
			protected.POST("/risk/estimate", s.updateRiskEstimate)

			// Orders and positions
			protected.GET("/orders/:id", s.getOrder)
			protected.DELETE("/orders/:id", s.cancelOrder)
			protected.GET("/positions", s.getPositions)
			protected.GET("/positions/:symbol/:strategy", s.getPosition)

			// Operator actions
			protected.POST("/operator/halt", s.halt)
			protected.POST("/operator/clear", s.clearHalt)
			protected.POST("/operator/instruments/:symbol/clear", s.clearInstrument)
		}
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
